// Package checksum implements the hash primitives used by the store: Bob
// Jenkins' lookup3 (hashlittle/hashlittle2) for index blocks and record
// headers, and MD5 for content addressing and chunk verification.
package checksum

import (
	"encoding/binary"
	"math/bits"
)

// Hashlittle returns lookup3's hashlittle of data with the given seed.
func Hashlittle(data []byte, seed uint32) uint32 {
	c, _ := Hashlittle2(data, seed, 0)
	return c
}

// Hashlittle2 returns the two 32-bit results of lookup3's hashlittle2. pc and
// pb are the primary and secondary seeds; the returned c is identical to
// Hashlittle(data, pc) when pb is zero.
//
// Words are always read little-endian so the result does not depend on the
// host byte order.
func Hashlittle2(data []byte, pc, pb uint32) (c, b uint32) {
	a := 0xdeadbeef + uint32(len(data)) + pc
	b = a
	c = a + pb

	for len(data) > 12 {
		a += binary.LittleEndian.Uint32(data[0:])
		b += binary.LittleEndian.Uint32(data[4:])
		c += binary.LittleEndian.Uint32(data[8:])
		a, b, c = mix(a, b, c)
		data = data[12:]
	}
	if len(data) == 0 {
		return c, b
	}

	// Zero padding the tail is equivalent to lookup3's byte switch.
	var tail [12]byte
	copy(tail[:], data)
	a += binary.LittleEndian.Uint32(tail[0:])
	b += binary.LittleEndian.Uint32(tail[4:])
	c += binary.LittleEndian.Uint32(tail[8:])
	a, b, c = final(a, b, c)
	return c, b
}

func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= bits.RotateLeft32(c, 4)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 6)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 8)
	b += a
	a -= c
	a ^= bits.RotateLeft32(c, 16)
	c += b
	b -= a
	b ^= bits.RotateLeft32(a, 19)
	a += c
	c -= b
	c ^= bits.RotateLeft32(b, 4)
	b += a
	return a, b, c
}

func final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= bits.RotateLeft32(b, 14)
	a ^= c
	a -= bits.RotateLeft32(c, 11)
	b ^= a
	b -= bits.RotateLeft32(a, 25)
	c ^= b
	c -= bits.RotateLeft32(b, 16)
	a ^= c
	a -= bits.RotateLeft32(c, 4)
	b ^= a
	b -= bits.RotateLeft32(a, 14)
	c ^= b
	c -= bits.RotateLeft32(b, 24)
	return a, b, c
}
