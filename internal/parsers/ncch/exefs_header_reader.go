package ncch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// exeFSHeaderReader implements the ExeFSHeaderReader interface
type exeFSHeaderReader struct {
	header *types.ExeFSHeader
	endian binary.ByteOrder
}

// NewExeFSHeaderReader parses a 0x200-byte ExeFS header window and rejects
// duplicate section names, which would make lookups ambiguous.
func NewExeFSHeaderReader(data []byte, endian binary.ByteOrder) (interfaces.ExeFSHeaderReader, error) {
	if len(data) < types.ExeFSHeaderSize {
		return nil, fmt.Errorf("%w: data too small for ExeFS header: %d bytes", types.ErrInvalidFormat, len(data))
	}

	header := parseExeFSHeader(data, endian)

	seen := make(map[string]struct{}, types.ExeFSMaxSections)
	for _, section := range header.Sections {
		name := sectionName(section)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate ExeFS section name %q", types.ErrInvalidFormat, name)
		}
		seen[name] = struct{}{}
	}

	return &exeFSHeaderReader{header: header, endian: endian}, nil
}

// parseExeFSHeader parses raw bytes into an ExeFSHeader structure
func parseExeFSHeader(data []byte, endian binary.ByteOrder) *types.ExeFSHeader {
	h := &types.ExeFSHeader{}

	for i := 0; i < types.ExeFSMaxSections; i++ {
		entry := data[i*0x10 : (i+1)*0x10]
		copy(h.Sections[i].Name[:], entry[0:types.ExeFSSectionNameLen])
		h.Sections[i].Offset = endian.Uint32(entry[0x8:0xC])
		h.Sections[i].Size = endian.Uint32(entry[0xC:0x10])
	}

	// Hashes are stored in reverse slot order at the end of the header.
	for i := 0; i < types.ExeFSMaxSections; i++ {
		off := types.ExeFSHeaderSize - (i+1)*0x20
		copy(h.Hashes[i][:], data[off:off+0x20])
	}

	return h
}

func sectionName(s types.ExeFSSection) string {
	return string(bytes.TrimRight(s.Name[:], "\x00"))
}

// Header returns the raw header structure
func (r *exeFSHeaderReader) Header() *types.ExeFSHeader {
	return r.header
}

// Sections returns the populated section descriptors in slot order
func (r *exeFSHeaderReader) Sections() []types.ExeFSSection {
	var populated []types.ExeFSSection
	for _, section := range r.header.Sections {
		if sectionName(section) == "" && section.Size == 0 {
			continue
		}
		populated = append(populated, section)
	}
	return populated
}

// FindSection looks up a section descriptor by exact name
func (r *exeFSHeaderReader) FindSection(name string) (types.ExeFSSection, bool) {
	for _, section := range r.header.Sections {
		if sectionName(section) == name && name != "" {
			return section, true
		}
	}
	return types.ExeFSSection{}, false
}
