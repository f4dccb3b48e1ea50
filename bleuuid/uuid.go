// Package bleuuid represents GATT/GAP UUIDs as the 2, 4, or 16-byte
// values the Bluetooth Core Spec actually defines, instead of plain
// strings.
package bleuuid

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is the 128-bit base that every 16/32-bit "short"
// UUID expands into: 0000xxxx-0000-1000-8000-00805F9B34FB.
var bluetoothBaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

// UUID is a GATT/GAP UUID. Zero value is not valid; use Nil to test
// for it explicitly.
type UUID struct {
	short uint32 // valid when width is 2 or 4
	long  uuid.UUID
	width int // 2, 4, or 16
}

// Nil is the invalid/unset UUID.
var Nil = UUID{}

// From16 builds a 16-bit ("short") UUID, e.g. 0x2902 for the CCCD.
func From16(v uint16) UUID {
	return UUID{short: uint32(v), width: 2}
}

// From32 builds a 32-bit UUID.
func From32(v uint32) UUID {
	return UUID{short: v, width: 4}
}

// From128 builds a UUID from a full 16-byte value.
func From128(b [16]byte) UUID {
	return UUID{long: uuid.UUID(b), width: 16}
}

// Parse accepts a 4-hex-digit short form ("2902"), an 8-hex-digit
// 32-bit form, or a full RFC 4122 string ("0000180d-0000-1000-8000-00805f9b34fb") the way
// BLE profile documents write UUIDs. 128-bit parsing is delegated to
// google/uuid rather than hand-scanned, since that dependency is
// already part of this module.
func Parse(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return Nil, fmt.Errorf("bleuuid: invalid short uuid %q: %w", s, err)
		}
		return From16(uint16(b[0])<<8 | uint16(b[1])), nil
	}
	if len(s) == 8 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return Nil, fmt.Errorf("bleuuid: invalid 32-bit uuid %q: %w", s, err)
		}
		return From32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("bleuuid: invalid uuid %q: %w", s, err)
	}
	return From128([16]byte(u)), nil
}

// MustParse is Parse but panics on error, for constant-like UUID
// tables built at package init time.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Width reports whether this is a 2, 4, or 16 byte UUID. 0 for Nil.
func (u UUID) Width() int { return u.width }

// IsNil reports whether this is the unset UUID.
func (u UUID) IsNil() bool { return u.width == 0 }

// Full expands any UUID to its 128-bit canonical form, the way a
// central compares advertised short UUIDs against a service filter
// expressed in full form.
func (u UUID) Full() uuid.UUID {
	switch u.width {
	case 16:
		return u.long
	case 2, 4:
		full := bluetoothBaseUUID
		full[0] = byte(u.short >> 24)
		full[1] = byte(u.short >> 16)
		full[2] = byte(u.short >> 8)
		full[3] = byte(u.short)
		return full
	default:
		return uuid.UUID{}
	}
}

// String renders short UUIDs as 4 or 8 hex digits and long UUIDs in
// RFC 4122 form, matching how BLE profile tables and the teacher's
// advertising JSON both print UUIDs.
func (u UUID) String() string {
	switch u.width {
	case 2:
		return fmt.Sprintf("%04X", uint16(u.short))
	case 4:
		return fmt.Sprintf("%08X", u.short)
	case 16:
		return strings.ToUpper(u.long.String())
	default:
		return ""
	}
}

// Equal compares two UUIDs by their expanded 128-bit form, so a
// 16-bit UUID and its 128-bit expansion compare equal.
func (u UUID) Equal(other UUID) bool {
	if u.IsNil() || other.IsNil() {
		return u.IsNil() == other.IsNil()
	}
	return u.Full() == other.Full()
}

// Bytes returns the wire-format bytes (little-endian, as BLE
// transmits UUIDs), 2, 4, or 16 bytes long.
func (u UUID) Bytes() []byte {
	switch u.width {
	case 2:
		return []byte{byte(u.short), byte(u.short >> 8)}
	case 4:
		return []byte{byte(u.short), byte(u.short >> 8), byte(u.short >> 16), byte(u.short >> 24)}
	case 16:
		b := u.long
		out := make([]byte, 16)
		for i := 0; i < 16; i++ {
			out[i] = b[15-i]
		}
		return out
	default:
		return nil
	}
}
