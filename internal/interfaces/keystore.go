package interfaces

// KeySlot identifies a hardware-backed key storage location.
type KeySlot uint8

// Key slots consumed by the NCCH crypto path.
const (
	// KeySlotNCCH is the base slot for extended-header and ExeFS-header
	// decryption.
	KeySlotNCCH KeySlot = 0x2C
	// KeySlotNCCH7x is the alternate code-section slot for crypto method 1.
	KeySlotNCCH7x KeySlot = 0x25
	// KeySlotNCCHSec3 is the alternate code-section slot for crypto
	// method 0x0A.
	KeySlotNCCHSec3 KeySlot = 0x18
	// KeySlotNCCHSec4 is the alternate code-section slot for crypto
	// method 0x0B.
	KeySlotNCCHSec4 KeySlot = 0x1B
)

// KeySlotProvider abstracts the console's hardware key generator. A slot
// holds persistent KeyX material; combining it with per-title KeyY material
// yields the normal key used for AES-CTR.
type KeySlotProvider interface {
	// SetKeyY programs per-title KeyY material into a slot
	SetKeyY(slot KeySlot, keyY [16]byte)

	// IsNormalKeyAvailable reports whether the slot can produce a normal
	// key, i.e. both KeyX and KeyY material is present
	IsNormalKeyAvailable(slot KeySlot) bool

	// NormalKey returns the derived 16-byte normal key for the slot. ok is
	// false when required material is missing.
	NormalKey(slot KeySlot) (key [16]byte, ok bool)
}
