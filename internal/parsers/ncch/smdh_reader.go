package ncch

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// smdhReader implements the SMDHReader interface
type smdhReader struct {
	smdh   *types.SMDH
	endian binary.ByteOrder
}

// NewSMDHReader parses an icon resource window and validates its magic tag.
func NewSMDHReader(data []byte, endian binary.ByteOrder) (interfaces.SMDHReader, error) {
	if len(data) < types.SMDHSize {
		return nil, fmt.Errorf("%w: data too small for SMDH: %d bytes", types.ErrInvalidFormat, len(data))
	}

	if string(data[0:4]) != types.SMDHMagic {
		return nil, fmt.Errorf("%w: invalid SMDH magic: got %q, want %q",
			types.ErrInvalidFormat, data[0:4], types.SMDHMagic)
	}

	smdh := &types.SMDH{}
	copy(smdh.Magic[:], data[0:4])
	smdh.Version = endian.Uint16(data[4:6])
	smdh.RegionLockout = endian.Uint32(data[types.SMDHRegionLockoutOffset : types.SMDHRegionLockoutOffset+4])
	smdh.MatchMakerID = endian.Uint32(data[types.SMDHRegionLockoutOffset+4 : types.SMDHRegionLockoutOffset+8])

	return &smdhReader{smdh: smdh, endian: endian}, nil
}

// SMDH returns the parsed structure
func (r *smdhReader) SMDH() *types.SMDH {
	return r.smdh
}

// RegionLockout returns the raw region lockout bitmask
func (r *smdhReader) RegionLockout() uint32 {
	return r.smdh.RegionLockout
}
