// Package services implements the high-level NCCH loading pipeline on top
// of the parser, crypto and compression packages: a monotonic state machine
// that owns one open file handle and the contexts derived for it.
package services

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/deploymenttheory/go-ncch/internal/compression"
	"github.com/deploymenttheory/go-ncch/internal/crypto"
	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/parsers/ncch"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// LoadState tracks the loader's monotonic progress. Transitions only move
// forward; reaching a state twice is a no-op except for the terminal load.
type LoadState int

const (
	// LoadStateNotStarted means no header has been read yet.
	LoadStateNotStarted LoadState = iota
	// LoadStateExeFSLoaded means headers are parsed, decrypted and
	// verified; sections can be read.
	LoadStateExeFSLoaded
	// LoadStateLoaded means the terminal load ran: the process image was
	// built and collaborators registered.
	LoadStateLoaded
)

// DefaultMaxSectionSize caps single-section buffers. Declared sizes above
// it fail with an allocation error instead of being trusted.
const DefaultMaxSectionSize = 64 << 20

// LoaderConfig carries the loader's collaborators. Fs defaults to the OS
// filesystem and Logger to slog.Default; the rest are optional and the
// corresponding step is skipped when absent, except Keys, whose absence
// makes every encrypted container fail with a key error.
type LoaderConfig struct {
	Fs              afero.Fs
	Keys            interfaces.KeySlotProvider
	ProcessBuilder  interfaces.ProcessBuilder
	ArchiveRegistry interfaces.ArchiveRegistry
	Regions         interfaces.RegionConfigurator
	Logger          *slog.Logger
	MaxSectionSize  uint32
}

// Loader loads one NCCH partition container. It exclusively owns the open
// file handle and every context derived during the load; it must not be
// driven from multiple goroutines.
type Loader struct {
	fs       afero.Fs
	path     string
	file     afero.File
	fileSize int64
	logger   *slog.Logger

	keys     interfaces.KeySlotProvider
	process  interfaces.ProcessBuilder
	archives interfaces.ArchiveRegistry
	regions  interfaces.RegionConfigurator

	maxSectionSize uint32
	endian         binary.ByteOrder

	state      LoadState
	ncchOffset int64
	header     interfaces.NCCHHeaderReader
	exheader   interfaces.ExHeaderReader
	exefs      interfaces.ExeFSHeaderReader
	// contexts is nil for unencrypted containers; key derivation never ran.
	contexts *crypto.ContextSet
}

// NewLoader opens the container file and returns a loader in the
// NotStarted state. No bytes are parsed until the first operation.
func NewLoader(path string, config LoaderConfig) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("container file path cannot be empty")
	}
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxSectionSize == 0 {
		config.MaxSectionSize = DefaultMaxSectionSize
	}

	file, err := config.Fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat container file: %w", err)
	}

	return &Loader{
		fs:             config.Fs,
		path:           path,
		file:           file,
		fileSize:       info.Size(),
		logger:         config.Logger,
		keys:           config.Keys,
		process:        config.ProcessBuilder,
		archives:       config.ArchiveRegistry,
		regions:        config.Regions,
		maxSectionSize: config.MaxSectionSize,
		endian:         binary.LittleEndian,
		state:          LoadStateNotStarted,
	}, nil
}

// Close releases the loader's file handle. Archive factory handles opened
// through the registry are independent and unaffected.
func (l *Loader) Close() error {
	return l.file.Close()
}

// State returns the loader's current load state.
func (l *Loader) State() LoadState {
	return l.state
}

// readAt fills buf from the container file, mapping short reads onto the
// loader's i/o error kind.
func (l *Loader) readAt(buf []byte, offset int64) error {
	n, err := l.file.ReadAt(buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return fmt.Errorf("%w: read of %d bytes at 0x%X: %v", types.ErrIO, len(buf), offset, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read at 0x%X: got %d bytes, want %d", types.ErrIO, offset, n, len(buf))
	}
	return nil
}

// EnsureExeFSLoaded parses the partition headers, derives keys and
// decrypts the extended and ExeFS headers if the container is encrypted.
// Idempotent: once ExeFSLoaded (or beyond) is reached it returns
// immediately without re-reading.
func (l *Loader) EnsureExeFSLoaded() error {
	if l.state >= LoadStateExeFSLoaded {
		return nil
	}

	headerData := make([]byte, types.NCCHHeaderSize)
	if err := l.readAt(headerData, 0); err != nil {
		return err
	}

	// A disc container wraps partitions: reinterpret the stream at the
	// fixed bootable-partition offset and read the NCCH header there.
	if ncch.IsDiscContainer(headerData) {
		l.logger.Debug("disc container: loading first bootable partition only",
			"offset", types.NCSDFirstPartitionOffset)
		l.ncchOffset = types.NCSDFirstPartitionOffset
		if err := l.readAt(headerData, l.ncchOffset); err != nil {
			return err
		}
	}

	header, err := ncch.NewNCCHHeaderReader(headerData, l.endian)
	if err != nil {
		return err
	}
	l.header = header

	exheaderData := make([]byte, types.ExHeaderSize)
	if err := l.readAt(exheaderData, l.ncchOffset+types.ExHeaderFileOffset); err != nil {
		return err
	}

	embeddedID, err := ncch.EmbeddedProgramID(exheaderData, l.endian)
	if err != nil {
		return err
	}

	// Identifier mismatch is the format's "is this encrypted" oracle.
	if embeddedID != header.ProgramID() {
		l.logger.Info("container appears encrypted, deriving keys",
			"program_id", fmt.Sprintf("%016X", header.ProgramID()),
			"version", header.Version())

		if err := l.decryptExHeader(header, exheaderData); err != nil {
			return err
		}
	}

	exheader, err := ncch.NewExHeaderReader(exheaderData, l.endian)
	if err != nil {
		return err
	}
	l.exheader = exheader

	exefsOffset, _ := header.ExeFSRegion()
	exefsData := make([]byte, types.ExeFSHeaderSize)
	if err := l.readAt(exefsData, l.ncchOffset+int64(exefsOffset)); err != nil {
		return err
	}
	if l.contexts != nil {
		if err := l.contexts.ExeFS.Decrypt(0, exefsData); err != nil {
			return err
		}
	}

	exefs, err := ncch.NewExeFSHeaderReader(exefsData, l.endian)
	if err != nil {
		return err
	}
	l.exefs = exefs

	l.state = LoadStateExeFSLoaded
	l.logger.Debug("ExeFS loaded",
		"name", exheader.ProcessName(),
		"program_id", fmt.Sprintf("%016X", header.ProgramID()),
		"compressed", exheader.ExHeader().CodeSet.IsCodeCompressed(),
		"entry_point", fmt.Sprintf("0x%08X", exheader.EntryPoint()),
		"exefs_offset", fmt.Sprintf("0x%08X", exefsOffset),
		"sections", len(exefs.Sections()))
	return nil
}

// decryptExHeader derives the context set and decrypts the extended header
// in place, verifying the embedded program id afterwards. A surviving
// mismatch means the derivation was wrong; the load must not proceed with a
// silently corrupt header.
func (l *Loader) decryptExHeader(header interfaces.NCCHHeaderReader, exheaderData []byte) error {
	keys := l.keys
	if keys == nil {
		keys = emptyKeyProvider{}
	}

	contexts, err := crypto.DeriveContexts(header, keys)
	if err != nil {
		return err
	}

	if err := contexts.ExHeader.Decrypt(0, exheaderData); err != nil {
		return err
	}

	embeddedID, err := ncch.EmbeddedProgramID(exheaderData, l.endian)
	if err != nil {
		return err
	}
	if embeddedID != header.ProgramID() {
		return fmt.Errorf("%w: program id mismatch after decryption", types.ErrDecryptionFailed)
	}

	l.contexts = contexts
	return nil
}

// ReadSection returns the decrypted (and for .code, decompressed) bytes of
// a named ExeFS section. A name miss returns ErrSectionNotPresent, which
// callers treat as a normal branch for optional sections.
func (l *Loader) ReadSection(name string) ([]byte, error) {
	if err := l.EnsureExeFSLoaded(); err != nil {
		return nil, err
	}

	section, found := l.exefs.FindSection(name)
	if !found {
		return nil, fmt.Errorf("%w: %q", types.ErrSectionNotPresent, name)
	}

	if section.Size > l.maxSectionSize {
		return nil, fmt.Errorf("%w: section %q declares %d bytes, cap is %d",
			types.ErrAllocationFailed, name, section.Size, l.maxSectionSize)
	}

	exefsOffset, _ := l.header.ExeFSRegion()
	buffer := make([]byte, section.Size)
	offset := l.ncchOffset + int64(exefsOffset) + types.ExeFSHeaderSize + int64(section.Offset)
	if err := l.readAt(buffer, offset); err != nil {
		return nil, err
	}

	if l.contexts != nil {
		// Sections share the region context; the stream offset accounts
		// for the header preceding them.
		context := l.contexts.ExeFS
		if name == types.CodeSectionName {
			context = l.contexts.ExeFSCode
		}
		streamOffset := uint64(section.Offset) + types.ExeFSHeaderSize
		if err := context.Decrypt(streamOffset, buffer); err != nil {
			return nil, err
		}
	}

	if name == types.CodeSectionName && l.exheader.ExHeader().CodeSet.IsCodeCompressed() {
		// The decoded size comes from the stream's own trailing length
		// field, so it gets the same cap as the declared section size.
		decodedSize, err := compression.DecompressedSize(buffer)
		if err != nil {
			return nil, err
		}
		if uint64(decodedSize) > uint64(l.maxSectionSize) {
			return nil, fmt.Errorf("%w: section %q decompresses to %d bytes, cap is %d",
				types.ErrAllocationFailed, name, decodedSize, l.maxSectionSize)
		}
		decompressed, err := compression.Decompress(buffer)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("decompressed code section",
			"compressed", len(buffer), "decompressed", len(decompressed))
		return decompressed, nil
	}

	return buffer, nil
}

// ReadCode returns the decoded .code section.
func (l *Loader) ReadCode() ([]byte, error) {
	return l.ReadSection(types.CodeSectionName)
}

// ReadIcon returns the icon (SMDH) section.
func (l *Loader) ReadIcon() ([]byte, error) {
	return l.ReadSection(types.IconSectionName)
}

// ReadBanner returns the banner section.
func (l *Loader) ReadBanner() ([]byte, error) {
	return l.ReadSection(types.BannerSectionName)
}

// ReadLogo returns the logo section.
func (l *Loader) ReadLogo() ([]byte, error) {
	return l.ReadSection(types.LogoSectionName)
}

// ProgramID returns the container's title identifier.
func (l *Loader) ProgramID() (uint64, error) {
	if err := l.EnsureExeFSLoaded(); err != nil {
		return 0, err
	}
	return l.header.ProgramID(), nil
}

// KernelSystemMode returns the memory layout mode requested by the
// extended header.
func (l *Loader) KernelSystemMode() (uint8, error) {
	if err := l.EnsureExeFSLoaded(); err != nil {
		return 0, err
	}
	return l.exheader.ExHeader().LocalCaps.SystemMode(), nil
}

// Load performs the terminal load: decode the code image, hand it to the
// process builder, register the self archive and apply region lockout.
// A second call fails with ErrAlreadyLoaded.
func (l *Loader) Load() error {
	if l.state == LoadStateLoaded {
		return types.ErrAlreadyLoaded
	}

	if err := l.EnsureExeFSLoaded(); err != nil {
		return err
	}
	l.state = LoadStateLoaded

	if err := l.buildProcess(); err != nil {
		return err
	}

	l.registerSelfArchive()
	l.applyRegionLockout()
	return nil
}

// buildProcess assembles the process code set from the decoded code bytes
// and the extended header's layout descriptor.
func (l *Loader) buildProcess() error {
	if l.process == nil {
		l.logger.Debug("no process builder configured, skipping code set construction")
		return nil
	}

	code, err := l.ReadCode()
	if err != nil {
		return err
	}

	exh := l.exheader.ExHeader()
	codeSet := interfaces.CodeSet{
		Name:                  l.exheader.ProcessName(),
		ProgramID:             l.header.ProgramID(),
		EntryPoint:            exh.CodeSet.Text.Address,
		StackSize:             exh.CodeSet.StackSize,
		Priority:              exh.LocalCaps.Priority,
		IdealProcessor:        exh.LocalCaps.IdealProcessor(),
		ResourceLimitCategory: exh.LocalCaps.ResourceLimitCategory,
		KernelCaps:            exh.KernelCaps[:],
	}

	codeSet.Text = interfaces.CodeSegment{
		Offset:  0,
		Address: exh.CodeSet.Text.Address,
		Size:    exh.CodeSet.Text.NumPages * types.PageSize,
	}
	codeSet.RO = interfaces.CodeSegment{
		Offset:  codeSet.Text.Offset + codeSet.Text.Size,
		Address: exh.CodeSet.RO.Address,
		Size:    exh.CodeSet.RO.NumPages * types.PageSize,
	}

	// Uninitialized data is zero-filled and page aligned; the padding goes
	// into both the memory image and the data segment size.
	bssPageSize := (exh.CodeSet.BSSSize + types.PageSize - 1) &^ uint32(types.PageSize-1)
	code = append(code, make([]byte, bssPageSize)...)

	codeSet.Data = interfaces.CodeSegment{
		Offset:  codeSet.RO.Offset + codeSet.RO.Size,
		Address: exh.CodeSet.Data.Address,
		Size:    exh.CodeSet.Data.NumPages*types.PageSize + bssPageSize,
	}
	codeSet.Memory = code

	return l.process.Build(codeSet)
}

// registerSelfArchive exposes this container's embedded archive region
// through the registry, when both exist.
func (l *Loader) registerSelfArchive() {
	if l.archives == nil {
		return
	}
	offset, size, err := l.RomFS()
	if err != nil {
		if errors.Is(err, types.ErrSectionNotPresent) {
			l.logger.Debug("container has no embedded archive region")
		} else {
			l.logger.Warn("embedded archive region unusable", "error", err)
		}
		return
	}
	l.archives.Register(interfaces.ArchiveIDSelfNCCH, NewSelfArchiveFactory(l.fs, l.path, offset, size))
}

// applyRegionLockout reads the icon's region lockout bitmask and records
// the first permitted region, in defined-region order. Missing or
// malformed icons are ignored.
func (l *Loader) applyRegionLockout() {
	if l.regions == nil {
		return
	}
	iconData, err := l.ReadIcon()
	if err != nil {
		return
	}
	icon, err := ncch.NewSMDHReader(iconData, l.endian)
	if err != nil {
		return
	}
	if region, ok := icon.SMDH().FirstPermittedRegion(); ok {
		l.logger.Debug("applying region lockout", "region", region.String())
		l.regions.SetPreferredRegion(uint32(region))
	}
}

// RomFS locates the embedded archive region: its byte offset within the
// file and its size, past the fixed 0x1000-byte inner header. The declared
// region must fit inside the file.
func (l *Loader) RomFS() (offset, size uint64, err error) {
	if err := l.EnsureExeFSLoaded(); err != nil {
		return 0, 0, err
	}

	romfsOffset, romfsSize := l.header.RomFSRegion()
	if romfsOffset == 0 || romfsSize == 0 {
		return 0, 0, fmt.Errorf("%w: container has no embedded archive", types.ErrSectionNotPresent)
	}
	if romfsSize <= romFSInnerHeaderSize {
		return 0, 0, fmt.Errorf("%w: embedded archive region smaller than its inner header", types.ErrInvalidFormat)
	}

	offset = uint64(l.ncchOffset) + romfsOffset + romFSInnerHeaderSize
	size = romfsSize - romFSInnerHeaderSize

	if offset+size > uint64(l.fileSize) {
		return 0, 0, fmt.Errorf("%w: embedded archive region [0x%X, 0x%X) exceeds file size %d",
			types.ErrIO, offset, offset+size, l.fileSize)
	}
	return offset, size, nil
}

// emptyKeyProvider satisfies KeySlotProvider with no material at all, so
// loads without a configured key store fail with the key error kind rather
// than a nil dereference.
type emptyKeyProvider struct{}

func (emptyKeyProvider) SetKeyY(interfaces.KeySlot, [16]byte)        {}
func (emptyKeyProvider) IsNormalKeyAvailable(interfaces.KeySlot) bool { return false }
func (emptyKeyProvider) NormalKey(interfaces.KeySlot) ([16]byte, bool) {
	return [16]byte{}, false
}
