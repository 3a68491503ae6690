package ncch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// Extended header field offsets. The system control info occupies the first
// 0x200 bytes, the access control info the rest.
const (
	exhFlagsOffset      = 0x00D
	exhTextOffset       = 0x010
	exhStackSizeOffset  = 0x01C
	exhROOffset         = 0x020
	exhDataOffset       = 0x030
	exhBSSSizeOffset    = 0x03C
	exhLocalCapsOffset  = 0x200
	exhResLimitCategory = 0x36F
	exhKernelCapsOffset = 0x370
)

// exHeaderReader implements the ExHeaderReader interface
type exHeaderReader struct {
	exheader *types.ExHeader
	endian   binary.ByteOrder
}

// NewExHeaderReader parses a 0x800-byte extended header window. The window
// must already be decrypted; the embedded program id is the caller's oracle
// for that.
func NewExHeaderReader(data []byte, endian binary.ByteOrder) (interfaces.ExHeaderReader, error) {
	if len(data) < types.ExHeaderSize {
		return nil, fmt.Errorf("%w: data too small for extended header: %d bytes", types.ErrInvalidFormat, len(data))
	}

	return &exHeaderReader{exheader: parseExHeader(data, endian), endian: endian}, nil
}

// EmbeddedProgramID extracts only the access control info program id from a
// raw extended header window. Used to decide whether the window needs
// decryption before full parsing.
func EmbeddedProgramID(data []byte, endian binary.ByteOrder) (uint64, error) {
	if len(data) < types.ExHeaderSize {
		return 0, fmt.Errorf("%w: data too small for extended header: %d bytes", types.ErrInvalidFormat, len(data))
	}
	return endian.Uint64(data[exhLocalCapsOffset : exhLocalCapsOffset+8]), nil
}

func parseSegment(data []byte, endian binary.ByteOrder) types.CodeSegmentInfo {
	return types.CodeSegmentInfo{
		Address:  endian.Uint32(data[0:4]),
		NumPages: endian.Uint32(data[4:8]),
		Size:     endian.Uint32(data[8:12]),
	}
}

// parseExHeader parses raw bytes into an ExHeader structure
func parseExHeader(data []byte, endian binary.ByteOrder) *types.ExHeader {
	exh := &types.ExHeader{}

	copy(exh.CodeSet.Name[:], data[0x000:0x008])
	exh.CodeSet.Flags = data[exhFlagsOffset]
	exh.CodeSet.Text = parseSegment(data[exhTextOffset:], endian)
	exh.CodeSet.StackSize = endian.Uint32(data[exhStackSizeOffset : exhStackSizeOffset+4])
	exh.CodeSet.RO = parseSegment(data[exhROOffset:], endian)
	exh.CodeSet.Data = parseSegment(data[exhDataOffset:], endian)
	exh.CodeSet.BSSSize = endian.Uint32(data[exhBSSSizeOffset : exhBSSSizeOffset+4])

	caps := data[exhLocalCapsOffset:]
	exh.LocalCaps.ProgramID = endian.Uint64(caps[0:8])
	exh.LocalCaps.CoreVersion = endian.Uint32(caps[8:12])
	exh.LocalCaps.Flag0 = caps[0xE]
	exh.LocalCaps.Priority = caps[0xF]
	exh.LocalCaps.ResourceLimitCategory = data[exhResLimitCategory]

	for i := 0; i < types.KernelCapabilityCount; i++ {
		off := exhKernelCapsOffset + i*4
		exh.KernelCaps[i] = endian.Uint32(data[off : off+4])
	}

	return exh
}

// ExHeader returns the parsed structure
func (r *exHeaderReader) ExHeader() *types.ExHeader {
	return r.exheader
}

// ProcessName returns the NUL-trimmed process name
func (r *exHeaderReader) ProcessName() string {
	return string(bytes.TrimRight(r.exheader.CodeSet.Name[:], "\x00"))
}

// EntryPoint returns the text segment address
func (r *exHeaderReader) EntryPoint() uint32 {
	return r.exheader.CodeSet.Text.Address
}
