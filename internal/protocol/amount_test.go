package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeAmountLayout(t *testing.T) {
	raw, err := EncodeAmount(1234)
	if err != nil {
		t.Fatalf("encode amount: %v", err)
	}
	// 1234 minor units -> "00001234" -> 00 00 12 34 under tag 0x04.
	want := []byte{0x04, 0x04, 0x00, 0x00, 0x12, 0x34}
	if !bytes.Equal(raw, want) {
		t.Fatalf("amount mismatch: got %x want %x", raw, want)
	}
}

func TestEncodeAmountRange(t *testing.T) {
	for _, amount := range []int64{-1, MaxAmount + 1} {
		if _, err := EncodeAmount(amount); err == nil {
			t.Fatalf("expected range error for %d", amount)
		}
	}
}

func TestAmountRoundTrip(t *testing.T) {
	amounts := []int64{0, 1, 9, 10, 99, 100, 1234, 98765432, MaxAmount}
	// Sweep a coarse grid across the whole domain as well.
	for a := int64(0); a <= MaxAmount; a += 999983 {
		amounts = append(amounts, a)
	}

	for _, amount := range amounts {
		raw, err := EncodeAmount(amount)
		if err != nil {
			t.Fatalf("encode %d: %v", amount, err)
		}
		if raw[0] != TagAmount || raw[1] != 4 {
			t.Fatalf("encode %d: bad field header %x", amount, raw[:2])
		}
		got, err := DecodeBCDAmount(raw[2:])
		if err != nil {
			t.Fatalf("decode %d: %v", amount, err)
		}
		if got != amount {
			t.Fatalf("round trip mismatch: got %d want %d", got, amount)
		}
	}
}

func TestDecodeBCDAmountRejectsBadInput(t *testing.T) {
	if _, err := DecodeBCDAmount([]byte{0x00, 0x00, 0x12}); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := DecodeBCDAmount([]byte{0x00, 0x00, 0x0A, 0x00}); err == nil {
		t.Fatalf("expected nibble error")
	}
}
