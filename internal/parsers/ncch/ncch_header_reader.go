// Package ncch implements parsers for the fixed-layout binary headers of
// the NCCH container format. Parsers are pure functions over byte windows
// and never perform I/O; endianness is supplied by the caller so the
// documented conversion is applied in exactly one place per reader.
package ncch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// ncchHeaderReader implements the NCCHHeaderReader interface
type ncchHeaderReader struct {
	header *types.NCCHHeader
	endian binary.ByteOrder
}

// NewNCCHHeaderReader parses a 0x200-byte partition header window and
// validates its magic tag.
func NewNCCHHeaderReader(data []byte, endian binary.ByteOrder) (interfaces.NCCHHeaderReader, error) {
	if len(data) < types.NCCHHeaderSize {
		return nil, fmt.Errorf("%w: data too small for NCCH header: %d bytes", types.ErrInvalidFormat, len(data))
	}

	header := parseNCCHHeader(data, endian)

	if string(header.Magic[:]) != types.NCCHMagic {
		return nil, fmt.Errorf("%w: invalid NCCH magic: got %q, want %q",
			types.ErrInvalidFormat, header.Magic[:], types.NCCHMagic)
	}

	return &ncchHeaderReader{header: header, endian: endian}, nil
}

// IsDiscContainer reports whether a header window carries the outer disc
// container tag instead of a partition tag. The loader re-reads at the fixed
// inner-partition offset when this fires.
func IsDiscContainer(data []byte) bool {
	if len(data) < types.NCCHSignatureSize+4 {
		return false
	}
	return bytes.Equal(data[types.NCCHSignatureSize:types.NCCHSignatureSize+4], []byte(types.NCSDMagic))
}

// parseNCCHHeader parses raw bytes into an NCCHHeader structure
func parseNCCHHeader(data []byte, endian binary.ByteOrder) *types.NCCHHeader {
	h := &types.NCCHHeader{}

	copy(h.Signature[:], data[0x000:0x100])
	copy(h.Magic[:], data[0x100:0x104])
	h.ContentSize = endian.Uint32(data[0x104:0x108])
	copy(h.PartitionID[:], data[0x108:0x110])
	h.MakerCode = endian.Uint16(data[0x110:0x112])
	h.Version = endian.Uint16(data[0x112:0x114])
	h.ProgramID = endian.Uint64(data[0x118:0x120])
	copy(h.ProductCode[:], data[0x150:0x160])
	h.ExtendedHeaderSize = endian.Uint32(data[0x180:0x184])
	copy(h.Flags[:], data[0x188:0x190])

	h.PlainOffset = endian.Uint32(data[0x190:0x194])
	h.PlainSize = endian.Uint32(data[0x194:0x198])
	h.LogoOffset = endian.Uint32(data[0x198:0x19C])
	h.LogoSize = endian.Uint32(data[0x19C:0x1A0])
	h.ExeFSOffset = endian.Uint32(data[0x1A0:0x1A4])
	h.ExeFSSize = endian.Uint32(data[0x1A4:0x1A8])
	h.RomFSOffset = endian.Uint32(data[0x1B0:0x1B4])
	h.RomFSSize = endian.Uint32(data[0x1B4:0x1B8])

	return h
}

// Header returns the raw header structure
func (r *ncchHeaderReader) Header() *types.NCCHHeader {
	return r.header
}

// ProgramID returns the title identifier of the partition
func (r *ncchHeaderReader) ProgramID() uint64 {
	return r.header.ProgramID
}

// PartitionID returns the raw 8-byte partition identifier
func (r *ncchHeaderReader) PartitionID() [8]byte {
	return r.header.PartitionID
}

// Version returns the container format version
func (r *ncchHeaderReader) Version() uint16 {
	return r.header.Version
}

// KeySeed returns the leading 16 signature bytes used as KeyY material
func (r *ncchHeaderReader) KeySeed() [16]byte {
	var seed [16]byte
	copy(seed[:], r.header.Signature[:16])
	return seed
}

// ExeFSRegion returns the internal filesystem byte offset and size. Block
// counts scale in 64 bits so hostile values cannot wrap the byte offset.
func (r *ncchHeaderReader) ExeFSRegion() (offset, size uint64) {
	return uint64(r.header.ExeFSOffset) * types.NCCHBlockSize, uint64(r.header.ExeFSSize) * types.NCCHBlockSize
}

// RomFSRegion returns the embedded archive byte offset and size
func (r *ncchHeaderReader) RomFSRegion() (offset, size uint64) {
	return uint64(r.header.RomFSOffset) * types.NCCHBlockSize, uint64(r.header.RomFSSize) * types.NCCHBlockSize
}
