package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// KeyLength is the size of an on-chain invoice identifier.
const KeyLength = 32

// Key is an opaque 32-byte identifier shared with on-chain state. Invoices
// are keyed by the bytes32 value the registry contract emits.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type Key [KeyLength]byte

// NilKey is the zero-value Key.
var NilKey Key

// ParseKey parses a 0x-prefixed hex string of at most 32 bytes. Shorter
// values are left-padded with zeros, as a uint256 would be.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return NilKey, fmt.Errorf("id: parse key %q: empty string", s)
	}

	raw, err := hexutil.Decode(s)
	if err != nil {
		return NilKey, fmt.Errorf("id: parse key %q: %w", s, err)
	}

	if len(raw) > KeyLength {
		return NilKey, fmt.Errorf("id: parse key %q: %d bytes exceeds %d", s, len(raw), KeyLength)
	}

	var k Key
	copy(k[KeyLength-len(raw):], raw)

	return k, nil
}

// MustParseKey is like ParseKey but panics on error.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}

	return k
}

// KeyFromBytes right-pads b into a Key, matching Solidity's bytes32(bytes)
// conversion. It fails when b is longer than 32 bytes.
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) > KeyLength {
		return NilKey, fmt.Errorf("id: key from %d bytes exceeds %d", len(b), KeyLength)
	}

	var k Key
	copy(k[:], b)

	return k, nil
}

// KeyFromString encodes a human-readable reference such as "INV-2024-001"
// as a Key. It panics if s is longer than 32 bytes.
func KeyFromString(s string) Key {
	k, err := KeyFromBytes([]byte(s))
	if err != nil {
		panic(err)
	}

	return k
}

// String returns the 0x-prefixed 64 character hex form.
func (k Key) String() string {
	return hexutil.Encode(k[:])
}

// Bytes returns a copy of the raw bytes.
func (k Key) Bytes() []byte {
	out := make([]byte, KeyLength)
	copy(out, k[:])

	return out
}

// IsZero reports whether every byte is zero.
func (k Key) IsZero() bool {
	return k == NilKey
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*k = NilKey

		return nil
	}

	parsed, err := ParseKey(strings.TrimSpace(string(data)))
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}

// Value implements driver.Valuer.
func (k Key) Value() (driver.Value, error) {
	return k.String(), nil
}

// Scan implements sql.Scanner.
func (k *Key) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*k = NilKey

		return nil
	case string:
		return k.UnmarshalText([]byte(v))
	case []byte:
		return k.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into Key", src)
	}
}
