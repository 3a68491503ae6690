// Package keystore implements the console key generator consumed by the
// NCCH crypto path: persistent per-slot KeyX material combined with
// per-title KeyY material to produce AES normal keys. KeyX values are not
// derivable from the container and must be supplied externally.
package keystore

import (
	"github.com/deploymenttheory/go-ncch/internal/interfaces"
)

// generatorConstant is the additive constant of the hardware key scrambler.
var generatorConstant = [16]byte{
	0x1F, 0xF9, 0xE9, 0xAA, 0xC5, 0xFE, 0x04, 0x08,
	0x02, 0x45, 0x91, 0xDC, 0x5D, 0x52, 0x76, 0x8A,
}

type slotState struct {
	keyX    [16]byte
	keyY    [16]byte
	hasKeyX bool
	hasKeyY bool
}

// Store is an in-memory key slot table implementing
// interfaces.KeySlotProvider. The zero value is an empty store with no slot
// material.
type Store struct {
	slots map[interfaces.KeySlot]*slotState
}

// NewStore creates an empty key store
func NewStore() *Store {
	return &Store{slots: make(map[interfaces.KeySlot]*slotState)}
}

func (s *Store) slot(id interfaces.KeySlot) *slotState {
	if s.slots == nil {
		s.slots = make(map[interfaces.KeySlot]*slotState)
	}
	state, ok := s.slots[id]
	if !ok {
		state = &slotState{}
		s.slots[id] = state
	}
	return state
}

// SetKeyX programs persistent KeyX material into a slot
func (s *Store) SetKeyX(id interfaces.KeySlot, keyX [16]byte) {
	state := s.slot(id)
	state.keyX = keyX
	state.hasKeyX = true
}

// SetKeyY programs per-title KeyY material into a slot
func (s *Store) SetKeyY(id interfaces.KeySlot, keyY [16]byte) {
	state := s.slot(id)
	state.keyY = keyY
	state.hasKeyY = true
}

// HasKeyX reports whether the slot has persistent KeyX material
func (s *Store) HasKeyX(id interfaces.KeySlot) bool {
	state, ok := s.slots[id]
	return ok && state.hasKeyX
}

// IsNormalKeyAvailable reports whether the slot can produce a normal key
func (s *Store) IsNormalKeyAvailable(id interfaces.KeySlot) bool {
	state, ok := s.slots[id]
	return ok && state.hasKeyX && state.hasKeyY
}

// NormalKey returns the derived 16-byte normal key for the slot. ok is
// false when required material is missing.
func (s *Store) NormalKey(id interfaces.KeySlot) (key [16]byte, ok bool) {
	if !s.IsNormalKeyAvailable(id) {
		return key, false
	}
	state := s.slots[id]
	return scramble(state.keyX, state.keyY), true
}

// scramble implements the hardware key generator:
// normal = rol(rol(keyX, 2) xor keyY + C, 87), all operations over the key
// as one 128-bit big-endian integer.
func scramble(keyX, keyY [16]byte) [16]byte {
	k := rol128(keyX, 2)
	for i := range k {
		k[i] ^= keyY[i]
	}
	return rol128(add128(k, generatorConstant), 87)
}

// rol128 rotates a 128-bit big-endian value left by n bits.
func rol128(v [16]byte, n uint) [16]byte {
	n %= 128
	byteShift := int(n / 8)
	bitShift := n % 8

	var out [16]byte
	for i := 0; i < 16; i++ {
		cur := v[(i+byteShift)%16]
		next := v[(i+byteShift+1)%16]
		out[i] = cur << bitShift
		if bitShift > 0 {
			out[i] |= next >> (8 - bitShift)
		}
	}
	return out
}

// add128 adds two 128-bit big-endian values modulo 2^128.
func add128(a, b [16]byte) [16]byte {
	var out [16]byte
	var carry uint16
	for i := 15; i >= 0; i-- {
		sum := uint16(a[i]) + uint16(b[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}
