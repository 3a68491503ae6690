package crypto

import (
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/interfaces"
	"github.com/deploymenttheory/go-ncch/internal/types"
)

// Method is the closed set of documented crypto methods selecting the
// code-section and embedded-archive key slot.
type Method uint8

// Documented crypto-method bytes.
const (
	MethodStandard Method = 0x00
	Method7x       Method = 0x01
	MethodSecure3  Method = 0x0A
	MethodSecure4  Method = 0x0B
)

// MethodFromByte maps the header's crypto-method byte onto the closed
// variant set. Undocumented bytes are rejected before any key store access.
func MethodFromByte(b uint8) (Method, error) {
	switch m := Method(b); m {
	case MethodStandard, Method7x, MethodSecure3, MethodSecure4:
		return m, nil
	default:
		return 0, fmt.Errorf("%w: unknown crypto method 0x%02X", types.ErrUnsupportedCrypto, b)
	}
}

// Slot returns the key slot this method decrypts the code section with.
func (m Method) Slot() interfaces.KeySlot {
	switch m {
	case Method7x:
		return interfaces.KeySlotNCCH7x
	case MethodSecure3:
		return interfaces.KeySlotNCCHSec3
	case MethodSecure4:
		return interfaces.KeySlotNCCHSec4
	default:
		return interfaces.KeySlotNCCH
	}
}

func (m Method) String() string {
	switch m {
	case MethodStandard:
		return "Standard"
	case Method7x:
		return "7x"
	case MethodSecure3:
		return "Secure3"
	case MethodSecure4:
		return "Secure4"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(m))
	}
}
