package protocol

import (
	"fmt"
)

// TagAmount marks a 4-byte packed BCD amount field.
const TagAmount byte = 0x04

const (
	amountDigits = 8
	amountBytes  = amountDigits / 2

	// MaxAmount is the largest amount representable in 8 BCD digits.
	MaxAmount int64 = 99999999
)

// EncodeAmount formats minorUnits as 8 zero-padded decimal digits, packs each
// digit pair into one BCD byte (high nibble first digit), and wraps the four
// bytes under TagAmount with an explicit length byte.
func EncodeAmount(minorUnits int64) ([]byte, error) {
	if minorUnits < 0 || minorUnits > MaxAmount {
		return nil, fmt.Errorf("amount out of range: %d", minorUnits)
	}

	digits := fmt.Sprintf("%0*d", amountDigits, minorUnits)
	out := make([]byte, 2+amountBytes)
	out[0] = TagAmount
	out[1] = amountBytes
	for i := 0; i < amountBytes; i++ {
		hi := digits[2*i] - '0'
		lo := digits[2*i+1] - '0'
		out[2+i] = hi<<4 | lo
	}

	return out, nil
}

// DecodeBCDAmount unpacks a 4-byte BCD amount payload (without the tag and
// length prefix) back into minor units.
func DecodeBCDAmount(raw []byte) (int64, error) {
	if len(raw) != amountBytes {
		return 0, fmt.Errorf("bcd amount must be %d bytes, got %d", amountBytes, len(raw))
	}

	var v int64
	for _, b := range raw {
		hi := int64(b >> 4)
		lo := int64(b & 0x0F)
		if hi > 9 || lo > 9 {
			return 0, fmt.Errorf("invalid bcd nibble in %02x", b)
		}
		v = v*100 + hi*10 + lo
	}

	return v, nil
}
