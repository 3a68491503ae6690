package interfaces

import "io"

// ArchiveID is the registry key for an archive factory.
type ArchiveID uint32

// ArchiveIDSelfNCCH keys the factory exposing the loaded container's own
// embedded archive region.
const ArchiveIDSelfNCCH ArchiveID = 0x2345678A

// ArchiveFactory produces independent readers over one archive region. Each
// Open call must return a handle whose read cursor is decoupled from every
// other handle.
type ArchiveFactory interface {
	// Open returns a reader positioned at the start of the archive region,
	// together with the region size in bytes. The caller owns the handle.
	Open() (reader io.ReadSeekCloser, size uint64, err error)
}

// ArchiveRegistry collects archive factories exposed by a loaded container.
type ArchiveRegistry interface {
	// Register installs a factory under the given identifier, replacing any
	// previous registration for it
	Register(id ArchiveID, factory ArchiveFactory)
}

// RegionConfigurator receives the region lockout decision derived from the
// icon resource.
type RegionConfigurator interface {
	// SetPreferredRegion records the region the loaded title permits
	SetPreferredRegion(region uint32)
}
