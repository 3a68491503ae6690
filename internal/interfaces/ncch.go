package interfaces

import (
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// NCCHHeaderReader provides methods for reading a parsed partition header
type NCCHHeaderReader interface {
	// Header returns the raw header structure
	Header() *types.NCCHHeader

	// ProgramID returns the title identifier of the partition
	ProgramID() uint64

	// PartitionID returns the raw 8-byte partition identifier
	PartitionID() [8]byte

	// Version returns the container format version
	Version() uint16

	// KeySeed returns the leading 16 signature bytes used as KeyY material
	KeySeed() [16]byte

	// ExeFSRegion returns the internal filesystem byte offset and size
	ExeFSRegion() (offset, size uint64)

	// RomFSRegion returns the embedded archive byte offset and size
	RomFSRegion() (offset, size uint64)
}

// ExHeaderReader provides methods for reading a parsed extended header
type ExHeaderReader interface {
	// ExHeader returns the parsed structure
	ExHeader() *types.ExHeader

	// ProcessName returns the NUL-trimmed process name
	ProcessName() string

	// EntryPoint returns the text segment address
	EntryPoint() uint32
}

// ExeFSHeaderReader provides methods for reading a parsed ExeFS header
type ExeFSHeaderReader interface {
	// Header returns the raw header structure
	Header() *types.ExeFSHeader

	// Sections returns the populated section descriptors in slot order
	Sections() []types.ExeFSSection

	// FindSection looks up a section descriptor by exact name
	FindSection(name string) (types.ExeFSSection, bool)
}

// SMDHReader provides methods for reading a parsed icon resource
type SMDHReader interface {
	// SMDH returns the parsed structure
	SMDH() *types.SMDH

	// RegionLockout returns the raw region lockout bitmask
	RegionLockout() uint32
}
