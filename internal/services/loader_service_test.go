package services

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ncch/internal/crypto"
	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/keystore"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

const (
	testProgramID       = uint64(0x000400000FEED001)
	testExeFSOffsetBlks = 8 // 0x1000 bytes
)

var testPartitionID = [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

// containerParams drives the synthetic container builder. Zero values give
// an unencrypted version-2 container with only a .code section.
type containerParams struct {
	programID      uint64
	embeddedID     uint64 // defaults to programID
	version        uint16
	methodByte     uint8
	bitmaskFlags   uint8
	keySeed        [16]byte
	processName    string
	code           []byte
	codeCompressed bool
	icon           []byte
	banner         []byte
	romfs          []byte // raw region content, padded to blocks by the builder
	bssSize        uint32
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// buildContainer assembles a partition image: header, extended header,
// ExeFS region at a fixed block offset, then the optional archive region.
func buildContainer(t *testing.T, p containerParams) []byte {
	t.Helper()
	le := binary.LittleEndian

	if p.programID == 0 {
		p.programID = testProgramID
	}
	if p.embeddedID == 0 {
		p.embeddedID = p.programID
	}
	if p.processName == "" {
		p.processName = "testproc"
	}
	if p.version == 0 {
		p.version = 2
	}

	// ExeFS region: header plus concatenated section payloads.
	exefsData := make([]byte, types.ExeFSHeaderSize)
	sections := []struct {
		name string
		data []byte
	}{
		{types.CodeSectionName, p.code},
		{types.IconSectionName, p.icon},
		{types.BannerSectionName, p.banner},
	}
	slot := 0
	for _, s := range sections {
		if s.data == nil {
			continue
		}
		entry := exefsData[slot*0x10 : (slot+1)*0x10]
		copy(entry[0:8], s.name)
		le.PutUint32(entry[8:12], uint32(len(exefsData)-types.ExeFSHeaderSize))
		le.PutUint32(entry[12:16], uint32(len(s.data)))
		exefsData = append(exefsData, s.data...)
		exefsData = append(exefsData, make([]byte, alignUp(len(exefsData), 0x10)-len(exefsData))...)
		slot++
	}
	exefsBlocks := alignUp(len(exefsData), types.NCCHBlockSize) / types.NCCHBlockSize

	// Extended header.
	exh := make([]byte, types.ExHeaderSize)
	copy(exh[0:8], p.processName)
	if p.codeCompressed {
		exh[0xD] |= 1
	}
	le.PutUint32(exh[0x10:], 0x00100000) // text address
	le.PutUint32(exh[0x14:], 2)          // text pages
	le.PutUint32(exh[0x18:], uint32(len(p.code)))
	le.PutUint32(exh[0x1C:], 0x4000) // stack size
	le.PutUint32(exh[0x20:], 0x00102000)
	le.PutUint32(exh[0x24:], 1)
	le.PutUint32(exh[0x30:], 0x00103000)
	le.PutUint32(exh[0x34:], 1)
	le.PutUint32(exh[0x3C:], p.bssSize)
	le.PutUint64(exh[0x200:], p.embeddedID)
	le.PutUint32(exh[0x208:], 0x02) // core version
	exh[0x20E] = 0x12               // ideal processor 2, system mode 1
	exh[0x20F] = 0x30               // priority
	exh[0x36F] = 0x01               // resource limit category
	for i := 0; i < types.KernelCapabilityCount; i++ {
		le.PutUint32(exh[0x370+i*4:], 0xFF000000|uint32(i))
	}

	header := make([]byte, types.NCCHHeaderSize)
	copy(header[:16], p.keySeed[:])
	copy(header[0x100:], types.NCCHMagic)
	copy(header[0x108:], testPartitionID[:])
	le.PutUint16(header[0x112:], p.version)
	le.PutUint64(header[0x118:], p.programID)
	header[0x188+types.FlagCryptoMethod] = p.methodByte
	header[0x188+types.FlagBitmasks] = p.bitmaskFlags
	le.PutUint32(header[0x1A0:], testExeFSOffsetBlks)
	le.PutUint32(header[0x1A4:], uint32(exefsBlocks))

	romfsBlocks := alignUp(len(p.romfs), types.NCCHBlockSize) / types.NCCHBlockSize
	romfsOffsetBlocks := testExeFSOffsetBlks + exefsBlocks
	if p.romfs != nil {
		le.PutUint32(header[0x1B0:], uint32(romfsOffsetBlocks))
		le.PutUint32(header[0x1B4:], uint32(romfsBlocks))
	}

	image := make([]byte, (romfsOffsetBlocks+romfsBlocks)*types.NCCHBlockSize)
	copy(image, header)
	copy(image[types.ExHeaderFileOffset:], exh)
	copy(image[testExeFSOffsetBlks*types.NCCHBlockSize:], exefsData)
	copy(image[romfsOffsetBlocks*types.NCCHBlockSize:], p.romfs)
	return image
}

// encryptContainer applies the version-0/2 region contexts in place, built
// here from first principles rather than through the derivation package.
func encryptContainer(t *testing.T, image []byte, key [16]byte) {
	t.Helper()

	var base [16]byte
	for i := 0; i < 8; i++ {
		base[i] = testPartitionID[7-i]
	}
	exhCTR, exefsCTR := base, base
	exhCTR[8] = 1
	exefsCTR[8] = 2

	exhCtx := crypto.Context{Key: key, CTR: exhCTR}
	require.NoError(t, exhCtx.Decrypt(0, image[types.ExHeaderFileOffset:types.ExHeaderFileOffset+types.ExHeaderSize]))

	le := binary.LittleEndian
	exefsOffset := int(le.Uint32(image[0x1A0:])) * types.NCCHBlockSize
	exefsSize := int(le.Uint32(image[0x1A4:])) * types.NCCHBlockSize
	exefsCtx := crypto.Context{Key: key, CTR: exefsCTR}
	require.NoError(t, exefsCtx.Decrypt(0, image[exefsOffset:exefsOffset+exefsSize]))
}

func writeImage(t *testing.T, image []byte) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/game.app", image, 0o644))
	return fs, "/game.app"
}

func newTestLoader(t *testing.T, image []byte, config LoaderConfig) *Loader {
	t.Helper()
	config.Fs, _ = writeImage(t, image)
	loader, err := NewLoader("/game.app", config)
	require.NoError(t, err)
	t.Cleanup(func() { loader.Close() })
	return loader
}

// failingKeys fails the test on any access: unencrypted containers must
// never reach key derivation.
type failingKeys struct{ t *testing.T }

func (k failingKeys) SetKeyY(interfaces.KeySlot, [16]byte) {
	k.t.Fatal("key store touched for an unencrypted container")
}
func (k failingKeys) IsNormalKeyAvailable(interfaces.KeySlot) bool {
	k.t.Fatal("key store touched for an unencrypted container")
	return false
}
func (k failingKeys) NormalKey(interfaces.KeySlot) ([16]byte, bool) {
	k.t.Fatal("key store touched for an unencrypted container")
	return [16]byte{}, false
}

type recordingBuilder struct {
	codeSets []interfaces.CodeSet
}

func (b *recordingBuilder) Build(codeSet interfaces.CodeSet) error {
	b.codeSets = append(b.codeSets, codeSet)
	return nil
}

func testCode() []byte {
	code := make([]byte, 0x300)
	for i := range code {
		code[i] = byte(i * 7)
	}
	return code
}

func testIcon(lockout uint32) []byte {
	icon := make([]byte, types.SMDHSize)
	copy(icon, types.SMDHMagic)
	binary.LittleEndian.PutUint32(icon[types.SMDHRegionLockoutOffset:], lockout)
	return icon
}

func TestLoaderUnencrypted(t *testing.T) {
	code := testCode()
	image := buildContainer(t, containerParams{code: code, icon: testIcon(1)})
	loader := newTestLoader(t, image, LoaderConfig{Keys: failingKeys{t}})

	assert.Equal(t, LoadStateNotStarted, loader.State())
	require.NoError(t, loader.EnsureExeFSLoaded())
	assert.Equal(t, LoadStateExeFSLoaded, loader.State())

	// Idempotent.
	require.NoError(t, loader.EnsureExeFSLoaded())

	got, err := loader.ReadCode()
	require.NoError(t, err)
	assert.Equal(t, code, got)

	icon, err := loader.ReadIcon()
	require.NoError(t, err)
	assert.Equal(t, testIcon(1), icon)

	_, err = loader.ReadBanner()
	assert.ErrorIs(t, err, types.ErrSectionNotPresent)

	id, err := loader.ProgramID()
	require.NoError(t, err)
	assert.Equal(t, testProgramID, id)

	mode, err := loader.KernelSystemMode()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), mode)
}

func TestLoaderCompressedCode(t *testing.T) {
	// Minimal stream: empty walk, the output is the stream itself padded
	// with zeros to the decoded size.
	compressed := make([]byte, 8)
	binary.LittleEndian.PutUint32(compressed[0:], 8|8<<24)
	binary.LittleEndian.PutUint32(compressed[4:], 8)

	image := buildContainer(t, containerParams{code: compressed, codeCompressed: true})
	loader := newTestLoader(t, image, LoaderConfig{})

	code, err := loader.ReadCode()
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte(nil), compressed...), make([]byte, 8)...), code)
}

func TestLoaderCompressedCodeSizeCap(t *testing.T) {
	// The trailing length field is attacker controlled: a tiny compressed
	// section declaring a huge decoded size must hit the allocation cap
	// before any buffer is made.
	compressed := make([]byte, 16)
	binary.LittleEndian.PutUint32(compressed[8:], 16|8<<24)
	binary.LittleEndian.PutUint32(compressed[12:], 512<<20)

	image := buildContainer(t, containerParams{code: compressed, codeCompressed: true})
	loader := newTestLoader(t, image, LoaderConfig{MaxSectionSize: 1 << 20})

	_, err := loader.ReadCode()
	assert.ErrorIs(t, err, types.ErrAllocationFailed)
}

func TestLoaderSectionSizeCap(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode()})
	loader := newTestLoader(t, image, LoaderConfig{MaxSectionSize: 0x100})

	_, err := loader.ReadCode()
	assert.ErrorIs(t, err, types.ErrAllocationFailed)
}

func TestLoaderInvalidMagic(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode()})
	copy(image[0x100:], "JUNK")
	loader := newTestLoader(t, image, LoaderConfig{})

	assert.ErrorIs(t, loader.EnsureExeFSLoaded(), types.ErrInvalidFormat)
	assert.Equal(t, LoadStateNotStarted, loader.State())
}

func TestLoaderFixedKeyEncrypted(t *testing.T) {
	code := testCode()
	image := buildContainer(t, containerParams{
		code:         code,
		bitmaskFlags: types.FlagFixedCryptoKey,
	})
	encryptContainer(t, image, [16]byte{}) // documented all-zero key

	loader := newTestLoader(t, image, LoaderConfig{Keys: failingKeys{t}})
	require.NoError(t, loader.EnsureExeFSLoaded())

	got, err := loader.ReadCode()
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestLoaderEncryptedWithKeyStore(t *testing.T) {
	keyX := [16]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF}
	keySeed := [16]byte{0x5E, 0xED, 0x00, 0x01}

	// The real normal key, computed through a throwaway store.
	ref := keystore.NewStore()
	ref.SetKeyX(interfaces.KeySlotNCCH, keyX)
	ref.SetKeyY(interfaces.KeySlotNCCH, keySeed)
	normalKey, ok := ref.NormalKey(interfaces.KeySlotNCCH)
	require.True(t, ok)

	code := testCode()
	image := buildContainer(t, containerParams{code: code, keySeed: keySeed})
	encryptContainer(t, image, normalKey)

	store := keystore.NewStore()
	store.SetKeyX(interfaces.KeySlotNCCH, keyX)
	loader := newTestLoader(t, image, LoaderConfig{Keys: store})

	got, err := loader.ReadCode()
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestLoaderEncryptedKeyUnavailable(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode(), keySeed: [16]byte{1}})
	encryptContainer(t, image, [16]byte{0xBB})

	t.Run("empty store", func(t *testing.T) {
		loader := newTestLoader(t, image, LoaderConfig{Keys: keystore.NewStore()})
		assert.ErrorIs(t, loader.EnsureExeFSLoaded(), types.ErrKeyUnavailable)
	})

	t.Run("no store at all", func(t *testing.T) {
		loader := newTestLoader(t, image, LoaderConfig{})
		assert.ErrorIs(t, loader.EnsureExeFSLoaded(), types.ErrKeyUnavailable)
	})
}

func TestLoaderWrongKeyDetected(t *testing.T) {
	keySeed := [16]byte{0x5E, 0xED}
	image := buildContainer(t, containerParams{code: testCode(), keySeed: keySeed})
	encryptContainer(t, image, [16]byte{0xCC}) // not the key the store derives

	store := keystore.NewStore()
	store.SetKeyX(interfaces.KeySlotNCCH, [16]byte{0xDD})
	loader := newTestLoader(t, image, LoaderConfig{Keys: store})

	assert.ErrorIs(t, loader.EnsureExeFSLoaded(), types.ErrDecryptionFailed)
}

func TestLoaderSeedCryptoRejected(t *testing.T) {
	image := buildContainer(t, containerParams{
		code: testCode(),
		// Scramble the embedded id so the oracle forces key derivation.
		embeddedID:   ^testProgramID,
		bitmaskFlags: types.FlagSeedCrypto,
	})
	loader := newTestLoader(t, image, LoaderConfig{Keys: keystore.NewStore()})

	assert.ErrorIs(t, loader.EnsureExeFSLoaded(), types.ErrUnsupportedCrypto)
}

func TestLoaderDiscContainer(t *testing.T) {
	code := testCode()
	romfs := make([]byte, 0x1400)
	for i := range romfs {
		romfs[i] = byte(i)
	}
	partition := buildContainer(t, containerParams{code: code, romfs: romfs})

	image := make([]byte, types.NCSDFirstPartitionOffset+len(partition))
	copy(image[0x100:], types.NCSDMagic)
	copy(image[types.NCSDFirstPartitionOffset:], partition)

	loader := newTestLoader(t, image, LoaderConfig{})

	got, err := loader.ReadCode()
	require.NoError(t, err)
	assert.Equal(t, code, got)

	id, err := loader.ProgramID()
	require.NoError(t, err)
	assert.Equal(t, testProgramID, id)

	// Archive offsets are absolute within the disc image.
	offset, size, err := loader.RomFS()
	require.NoError(t, err)
	le := binary.LittleEndian
	romfsOffset := uint64(le.Uint32(partition[0x1B0:])) * types.NCCHBlockSize
	assert.Equal(t, types.NCSDFirstPartitionOffset+romfsOffset+romFSInnerHeaderSize, offset)
	assert.Equal(t, uint64(len(romfs))-romFSInnerHeaderSize, size)
}

func TestLoaderLoad(t *testing.T) {
	code := testCode()
	romfs := make([]byte, 0x1400)
	for i := range romfs {
		romfs[i] = byte(0xA5 ^ i)
	}
	image := buildContainer(t, containerParams{
		code:    code,
		icon:    testIcon(1 << uint32(types.RegionEurope)),
		romfs:   romfs,
		bssSize: 0x123,
	})

	builder := &recordingBuilder{}
	registry := NewArchiveRegistry()
	regions := &RegionPreferences{}
	loader := newTestLoader(t, image, LoaderConfig{
		ProcessBuilder:  builder,
		ArchiveRegistry: registry,
		Regions:         regions,
	})

	require.NoError(t, loader.Load())
	assert.Equal(t, LoadStateLoaded, loader.State())
	assert.ErrorIs(t, loader.Load(), types.ErrAlreadyLoaded)

	require.Len(t, builder.codeSets, 1)
	cs := builder.codeSets[0]
	assert.Equal(t, "testproc", cs.Name)
	assert.Equal(t, testProgramID, cs.ProgramID)
	assert.Equal(t, uint32(0x00100000), cs.EntryPoint)
	assert.Equal(t, uint32(0x4000), cs.StackSize)
	assert.Equal(t, uint8(0x30), cs.Priority)
	assert.Equal(t, uint8(2), cs.IdealProcessor)
	assert.Equal(t, uint8(1), cs.ResourceLimitCategory)
	require.Len(t, cs.KernelCaps, types.KernelCapabilityCount)
	assert.Equal(t, uint32(0xFF000000), cs.KernelCaps[0])

	assert.Equal(t, uint32(0), cs.Text.Offset)
	assert.Equal(t, uint32(2*types.PageSize), cs.Text.Size)
	assert.Equal(t, uint32(2*types.PageSize), cs.RO.Offset)
	assert.Equal(t, uint32(types.PageSize), cs.RO.Size)
	assert.Equal(t, uint32(3*types.PageSize), cs.Data.Offset)

	// Uninitialized data rounds up to a page, added to both the data
	// segment and the memory image.
	assert.Equal(t, uint32(types.PageSize+types.PageSize), cs.Data.Size)
	assert.Equal(t, len(code)+types.PageSize, len(cs.Memory))
	assert.Equal(t, code, cs.Memory[:len(code)])

	region, ok := regions.PreferredRegion()
	require.True(t, ok)
	assert.Equal(t, uint32(types.RegionEurope), region)

	factory, ok := registry.Lookup(interfaces.ArchiveIDSelfNCCH)
	require.True(t, ok)
	reader, size, err := factory.Open()
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, uint64(len(romfs))-romFSInnerHeaderSize, size)

	payload, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, romfs[romFSInnerHeaderSize:], payload)
}

func TestLoaderLoadWithoutCollaborators(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode()})
	loader := newTestLoader(t, image, LoaderConfig{})

	require.NoError(t, loader.Load())
	assert.Equal(t, LoadStateLoaded, loader.State())
}

func TestLoaderRomFSMissing(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode()})
	registry := NewArchiveRegistry()
	loader := newTestLoader(t, image, LoaderConfig{ArchiveRegistry: registry})

	_, _, err := loader.RomFS()
	assert.ErrorIs(t, err, types.ErrSectionNotPresent)

	// The terminal load tolerates the missing region and registers nothing.
	require.NoError(t, loader.Load())
	_, ok := registry.Lookup(interfaces.ArchiveIDSelfNCCH)
	assert.False(t, ok)
}

func TestLoaderRomFSTooSmall(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode(), romfs: make([]byte, 0x800)})
	loader := newTestLoader(t, image, LoaderConfig{})

	_, _, err := loader.RomFS()
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
}

func TestLoaderRomFSExceedsFile(t *testing.T) {
	image := buildContainer(t, containerParams{code: testCode(), romfs: make([]byte, 0x1400)})
	// Drop the tail of the archive region.
	loader := newTestLoader(t, image[:len(image)-0x200], LoaderConfig{})

	_, _, err := loader.RomFS()
	assert.ErrorIs(t, err, types.ErrIO)
}
