package types

const (
	// ExHeaderSize is the fixed size of the extended header in bytes. The
	// whole region is decrypted as one run starting at file offset 0x200.
	ExHeaderSize = 0x800
	// ExHeaderFileOffset is the fixed byte offset of the extended header
	// inside the partition, used directly as the version-1 counter offset.
	ExHeaderFileOffset = 0x200
	// KernelCapabilityCount is the number of ARM11 kernel capability
	// descriptor words.
	KernelCapabilityCount = 28
	// PageSize is the memory page granularity used for segment sizing.
	PageSize = 0x1000
)

// CodeSegmentInfo describes one region of the code set (text, ro or data).
type CodeSegmentInfo struct {
	Address  uint32
	NumPages uint32
	Size     uint32
}

// CodeSetInfo mirrors the system control info block at the start of the
// extended header.
type CodeSetInfo struct {
	// Name is the fixed-width, NUL-padded process name.
	Name [8]byte
	// Flags bit 0 marks the ExeFS .code section as compressed.
	Flags     uint8
	Text      CodeSegmentInfo
	StackSize uint32
	RO        CodeSegmentInfo
	Data      CodeSegmentInfo
	BSSSize   uint32
}

// IsCodeCompressed reports whether the .code section is LZSS compressed.
func (c *CodeSetInfo) IsCodeCompressed() bool {
	return c.Flags&1 == 1
}

// SystemLocalCaps mirrors the ARM11 local system capabilities block at
// offset 0x200 of the extended header.
type SystemLocalCaps struct {
	// ProgramID must equal NCCHHeader.ProgramID once the extended header is
	// decrypted; inequality is the signal that decryption is still needed,
	// or that it failed.
	ProgramID   uint64
	CoreVersion uint32
	// Flag0 packs ideal processor (bits 0-1), affinity mask (bits 2-3) and
	// system mode (bits 4-7).
	Flag0                 uint8
	Priority              uint8
	ResourceLimitCategory uint8
}

// IdealProcessor returns the preferred execution core for the main thread.
func (c *SystemLocalCaps) IdealProcessor() uint8 {
	return c.Flag0 & 0x3
}

// AffinityMask returns the allowed-core bitmask.
func (c *SystemLocalCaps) AffinityMask() uint8 {
	return (c.Flag0 >> 2) & 0x3
}

// SystemMode returns the memory-layout mode nibble.
func (c *SystemLocalCaps) SystemMode() uint8 {
	return (c.Flag0 >> 4) & 0xF
}

// ExHeader mirrors the fields of the 0x800-byte extended header consumed by
// the loader. Dependency lists, storage info and the service access control
// table are not modeled.
type ExHeader struct {
	CodeSet   CodeSetInfo
	LocalCaps SystemLocalCaps
	// KernelCaps holds the raw ARM11 kernel capability descriptors, handed
	// to the process builder unparsed.
	KernelCaps [KernelCapabilityCount]uint32
}
