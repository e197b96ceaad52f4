package core

import (
	"encoding/hex"
	"fmt"
)

// KeySize is the size in bytes of content and encoding keys.
const KeySize = 16

// TruncatedKeySize is the number of leading key bytes local indexes store.
const TruncatedKeySize = 9

// BucketCount is the number of local index buckets a store is split into.
const BucketCount = 16

// Key is a content key (CKey) or an encoding key (EKey). Both are MD5 sized
// identifiers and are handled identically by the read path.
type Key [KeySize]byte

// ParseKey parses a key from its 32 digit hexadecimal form.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != 2*KeySize {
		return k, fmt.Errorf("invalid key %q: want %d hex digits, got %d", s, 2*KeySize, len(s))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return k, nil
}

// MustParseKey is like ParseKey but panics on malformed input.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// KeyFromBytes copies up to KeySize bytes of b into a Key. Shorter inputs
// leave the remaining bytes zero.
func KeyFromBytes(b []byte) Key {
	var k Key
	copy(k[:], b)
	return k
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether every byte of the key is zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Truncate keeps the first n bytes of the key and zeroes the rest.
func (k Key) Truncate(n int) Key {
	if n >= KeySize {
		return k
	}
	var t Key
	if n > 0 {
		copy(t[:n], k[:n])
	}
	return t
}

// BucketOf returns the local index bucket a key belongs to: the XOR of the
// truncated key bytes folded down to a nibble.
func BucketOf(k Key) uint8 {
	var x uint8
	for _, b := range k[:TruncatedKeySize] {
		x ^= b
	}
	return (x ^ (x >> 4)) & 0x0F
}
