package types

const (
	// ExeFSHeaderSize is the fixed size of the ExeFS header in bytes.
	ExeFSHeaderSize = 0x200
	// ExeFSMaxSections is the number of section descriptor slots.
	ExeFSMaxSections = 8
	// ExeFSSectionNameLen is the fixed width of a section name field.
	ExeFSSectionNameLen = 8
)

// Well-known ExeFS section names. Only CodeSectionName is mandatory.
const (
	CodeSectionName   = ".code"
	IconSectionName   = "icon"
	BannerSectionName = "banner"
	LogoSectionName   = "logo"
)

// ExeFSSection is one named section descriptor. Offset is relative to the
// end of the ExeFS header; Size is in bytes. An all-zero descriptor marks an
// empty slot.
type ExeFSSection struct {
	Name   [ExeFSSectionNameLen]byte
	Offset uint32
	Size   uint32
}

// ExeFSHeader mirrors the 0x200-byte ExeFS header: eight section
// descriptors followed by reserved bytes and per-section hashes.
type ExeFSHeader struct {
	Sections [ExeFSMaxSections]ExeFSSection
	Hashes   [ExeFSMaxSections][0x20]byte
}
