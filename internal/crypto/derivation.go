package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// Region tags written into byte 8 of the version-0/2 counter layout.
const (
	regionTagExHeader = 1
	regionTagExeFS    = 2
	regionTagRomFS    = 3
)

// ContextSet holds the per-region decryption contexts live during one load.
// ExeFSCode may equal ExeFS or be distinct, depending on version and crypto
// method.
type ContextSet struct {
	ExHeader  Context
	ExeFS     Context
	ExeFSCode Context
	RomFS     Context
}

// DeriveContexts computes the (key, counter) pair for every encrypted
// region of the partition. It is invoked only once the embedded program id
// of the raw extended header has failed to match the outer one.
//
// Counter layout depends on the container version; key material selection
// is evaluated in a strict order: fixed-key short-circuits everything, seed
// crypto always fails, then the base slot and the method slot are consulted
// in turn. A missing slot is an error, never a default key.
func DeriveContexts(header interfaces.NCCHHeaderReader, keys interfaces.KeySlotProvider) (*ContextSet, error) {
	set, err := deriveCounters(header)
	if err != nil {
		return nil, err
	}

	if header.Header().IsFixedKey() {
		// Documented weak mode: every region uses the all-zero key, which
		// the zero-valued contexts already carry.
		return set, nil
	}

	if header.Header().IsSeedCrypto() {
		return nil, fmt.Errorf("%w: seed crypto", types.ErrUnsupportedCrypto)
	}

	// Validate the method byte before any key store access so undocumented
	// bytes never program the hardware slots.
	method, err := MethodFromByte(header.Header().CryptoMethod())
	if err != nil {
		return nil, err
	}

	keySeed := header.KeySeed()
	keys.SetKeyY(interfaces.KeySlotNCCH, keySeed)
	baseKey, ok := keys.NormalKey(interfaces.KeySlotNCCH)
	if !ok {
		return nil, fmt.Errorf("%w: slot 0x%02X", types.ErrKeyUnavailable, uint8(interfaces.KeySlotNCCH))
	}
	set.ExHeader.Key = baseKey
	set.ExeFS.Key = baseKey

	codeKey := baseKey
	if slot := method.Slot(); slot != interfaces.KeySlotNCCH {
		keys.SetKeyY(slot, keySeed)
		codeKey, ok = keys.NormalKey(slot)
		if !ok {
			return nil, fmt.Errorf("%w: slot 0x%02X", types.ErrKeyUnavailable, uint8(slot))
		}
	}
	set.ExeFSCode.Key = codeKey
	set.RomFS.Key = codeKey

	if header.Version() == 1 {
		// Version 1 has no distinct code-section context.
		set.ExeFSCode = set.ExeFS
	}

	return set, nil
}

// deriveCounters fills in the initial counter of every context according to
// the container version.
func deriveCounters(header interfaces.NCCHHeaderReader) (*ContextSet, error) {
	partitionID := header.PartitionID()
	set := &ContextSet{}

	switch header.Version() {
	case 0, 2:
		// Byte-reversed partition id, zero padding, region tag at byte 8.
		var base [16]byte
		for i := 0; i < 8; i++ {
			base[i] = partitionID[7-i]
		}
		set.ExHeader.CTR = base
		set.ExHeader.CTR[8] = regionTagExHeader
		set.ExeFS.CTR = base
		set.ExeFS.CTR[8] = regionTagExeFS
		set.RomFS.CTR = base
		set.RomFS.CTR[8] = regionTagRomFS
		set.ExeFSCode.CTR = set.ExeFS.CTR

	case 1:
		// Natural-order partition id with the region's big-endian byte
		// offset in the last 4 counter bytes. The offsets are taken from
		// the still-encrypted header, which the format requires.
		var base [16]byte
		copy(base[:8], partitionID[:])

		exefsOffset, _ := header.ExeFSRegion()
		romfsOffset, _ := header.RomFSRegion()

		set.ExHeader.CTR = base
		binary.BigEndian.PutUint32(set.ExHeader.CTR[12:], types.ExHeaderFileOffset)
		set.ExeFS.CTR = base
		binary.BigEndian.PutUint32(set.ExeFS.CTR[12:], uint32(exefsOffset))
		set.RomFS.CTR = base
		binary.BigEndian.PutUint32(set.RomFS.CTR[12:], uint32(romfsOffset))
		set.ExeFSCode.CTR = set.ExeFS.CTR

	default:
		return nil, fmt.Errorf("%w: unknown container version %d", types.ErrUnsupportedCrypto, header.Version())
	}

	return set, nil
}
