package interfaces

// CodeSegment describes one mapped region of a process image.
type CodeSegment struct {
	// Offset is the segment's byte offset inside the memory image.
	Offset uint32
	// Address is the virtual address the segment maps to.
	Address uint32
	// Size is the page-aligned segment size in bytes.
	Size uint32
}

// CodeSet is the decoded process image handed to the execution host.
type CodeSet struct {
	Name      string
	ProgramID uint64

	Text   CodeSegment
	RO     CodeSegment
	Data   CodeSegment
	Memory []byte

	EntryPoint            uint32
	StackSize             uint32
	Priority              uint8
	IdealProcessor        uint8
	ResourceLimitCategory uint8
	KernelCaps            []uint32
}

// ProcessBuilder abstracts the execution host's process construction. The
// loader calls Build exactly once per successful terminal load.
type ProcessBuilder interface {
	// Build constructs and schedules a process from the code set
	Build(codeSet CodeSet) error
}
