package keystore

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
)

// DefaultConfigName is the key material file looked up when no explicit
// path is given.
const DefaultConfigName = "ncch-keys.yaml"

// LoadConfig populates a store from a key material file. The file carries
// hex-encoded 16-byte values per slot:
//
//	key_x:
//	  "0x2C": "0123456789ABCDEF0123456789ABCDEF"
//	  "0x25": "..."
//
// Slots without KeyX material simply stay unavailable; the loader surfaces
// that as a key error only when a container actually needs the slot.
func LoadConfig(fs afero.Fs, path string) (*Store, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read key config %s: %w", path, err)
	}

	store := NewStore()
	for slotName, keyHex := range v.GetStringMapString("key_x") {
		slot, err := parseSlotName(slotName)
		if err != nil {
			return nil, err
		}
		key, err := parseKeyHex(keyHex)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", slotName, err)
		}
		store.SetKeyX(slot, key)
	}

	return store, nil
}

func parseSlotName(name string) (interfaces.KeySlot, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "0x")
	value, err := strconv.ParseUint(trimmed, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid key slot %q: %w", name, err)
	}
	return interfaces.KeySlot(value), nil
}

func parseKeyHex(keyHex string) (key [16]byte, err error) {
	raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return key, fmt.Errorf("invalid key material: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("invalid key material length: got %d bytes, want %d", len(raw), len(key))
	}
	copy(key[:], raw)
	return key, nil
}
