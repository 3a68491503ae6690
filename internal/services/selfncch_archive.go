package services

import (
	"fmt"
	"io"

	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
)

// romFSInnerHeaderSize is the fixed IVFC wrapper skipped at the start of
// the embedded archive region.
const romFSInnerHeaderSize = 0x1000

// selfArchiveFactory exposes the loaded container's own embedded archive
// region. Every Open reopens the image so the region's read cursor is
// decoupled from the loader's handle and from other consumers.
type selfArchiveFactory struct {
	fs     afero.Fs
	path   string
	offset uint64
	size   uint64
}

// NewSelfArchiveFactory creates an archive factory over the given byte
// region of the container file.
func NewSelfArchiveFactory(fs afero.Fs, path string, offset, size uint64) interfaces.ArchiveFactory {
	return &selfArchiveFactory{fs: fs, path: path, offset: offset, size: size}
}

// Open returns an independent reader over the archive region.
func (f *selfArchiveFactory) Open() (io.ReadSeekCloser, uint64, error) {
	file, err := f.fs.Open(f.path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reopen container for archive access: %w", err)
	}
	return &sectionHandle{
		SectionReader: io.NewSectionReader(file, int64(f.offset), int64(f.size)),
		file:          file,
	}, f.size, nil
}

// sectionHandle bounds a reopened file handle to the archive region.
type sectionHandle struct {
	*io.SectionReader
	file afero.File
}

func (h *sectionHandle) Close() error {
	return h.file.Close()
}

// ArchiveRegistry is a map-backed implementation of the registry consumed
// by the loader. The zero value is ready to use.
type ArchiveRegistry struct {
	factories map[interfaces.ArchiveID]interfaces.ArchiveFactory
}

// NewArchiveRegistry creates an empty archive registry
func NewArchiveRegistry() *ArchiveRegistry {
	return &ArchiveRegistry{factories: make(map[interfaces.ArchiveID]interfaces.ArchiveFactory)}
}

// Register installs a factory under the given identifier, replacing any
// previous registration for it
func (r *ArchiveRegistry) Register(id interfaces.ArchiveID, factory interfaces.ArchiveFactory) {
	if r.factories == nil {
		r.factories = make(map[interfaces.ArchiveID]interfaces.ArchiveFactory)
	}
	r.factories[id] = factory
}

// Lookup returns the factory registered under id, if any
func (r *ArchiveRegistry) Lookup(id interfaces.ArchiveID) (interfaces.ArchiveFactory, bool) {
	factory, ok := r.factories[id]
	return factory, ok
}

// RegionPreferences is a minimal RegionConfigurator recording the lockout
// decision for later inspection.
type RegionPreferences struct {
	region uint32
	set    bool
}

// SetPreferredRegion records the region the loaded title permits
func (p *RegionPreferences) SetPreferredRegion(region uint32) {
	p.region = region
	p.set = true
}

// PreferredRegion returns the recorded region, if one was set
func (p *RegionPreferences) PreferredRegion() (uint32, bool) {
	return p.region, p.set
}
