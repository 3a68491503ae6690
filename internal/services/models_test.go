package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ncch/internal/types"
)

func TestLoaderInfo(t *testing.T) {
	image := buildContainer(t, containerParams{
		code:    testCode(),
		icon:    testIcon(1),
		romfs:   make([]byte, 0x1400),
		bssSize: 0x80,
	})
	loader := newTestLoader(t, image, LoaderConfig{Keys: failingKeys{t}})

	info, err := loader.Info()
	require.NoError(t, err)

	assert.Equal(t, "000400000FEED001", info.ProgramID)
	assert.Equal(t, "8877665544332211", info.PartitionID)
	assert.Equal(t, uint16(2), info.Version)
	assert.False(t, info.Encrypted)
	assert.False(t, info.FixedKey)
	assert.Equal(t, "testproc", info.ProcessName)
	assert.Equal(t, "0x00100000", info.EntryPoint)
	assert.False(t, info.CodeCompressed)
	assert.Equal(t, uint32(0x4000), info.StackSize)
	assert.Equal(t, uint32(0x80), info.BSSSize)
	assert.Equal(t, uint8(1), info.SystemMode)
	assert.True(t, info.HasRomFS)

	require.Len(t, info.Sections, 2)
	assert.Equal(t, types.CodeSectionName, info.Sections[0].Name)
	assert.Equal(t, uint32(len(testCode())), info.Sections[0].Size)
	assert.Equal(t, types.IconSectionName, info.Sections[1].Name)
}

func TestLoaderInfoEncrypted(t *testing.T) {
	image := buildContainer(t, containerParams{
		code:         testCode(),
		bitmaskFlags: types.FlagFixedCryptoKey,
	})
	encryptContainer(t, image, [16]byte{})

	loader := newTestLoader(t, image, LoaderConfig{})
	info, err := loader.Info()
	require.NoError(t, err)

	assert.True(t, info.Encrypted)
	assert.True(t, info.FixedKey)
	assert.Equal(t, "testproc", info.ProcessName)
}
