package address

import (
	"crypto/rand"
	"errors"
	"fmt"

	sdk_types_bech32 "github.com/cosmos/cosmos-sdk/types/bech32"
)

var ErrInvalidAddress = errors.New("invalid address")

// Length is the byte length of an account address.
const Length = 20

// Validate checks that addr is a bech32 account address with the given human
// readable prefix. An empty prefix disables validation.
func Validate(prefix, addr string) error {
	if prefix == "" {
		if addr == "" {
			return fmt.Errorf("empty: %w", ErrInvalidAddress)
		}
		return nil
	}

	hrp, b, err := sdk_types_bech32.DecodeAndConvert(addr)
	if err != nil {
		return fmt.Errorf("%q: %v: %w", addr, err, ErrInvalidAddress)
	}
	if hrp != prefix {
		return fmt.Errorf("%q: prefix %q, want %q: %w", addr, hrp, prefix, ErrInvalidAddress)
	}
	if len(b) != Length {
		return fmt.Errorf("%q: %d bytes, want %d: %w", addr, len(b), Length, ErrInvalidAddress)
	}
	return nil
}

func FromBytes(prefix string, b []byte) (string, error) {
	return sdk_types_bech32.ConvertAndEncode(prefix, b)
}

// Random produces a fresh address, used for the escrow account when none is
// configured.
func Random(prefix string) (string, error) {
	return FromBytes(prefix, RandomBytes(Length))
}

func RandomBytes(n int) []byte {
	b := make([]byte, n)
	nn, err := rand.Read(b)
	if err != nil {
		panic(fmt.Errorf("get random bytes: %v", err))
	}
	if nn != n {
		panic(fmt.Errorf("short read: %d < %d", nn, n))
	}
	return b
}
