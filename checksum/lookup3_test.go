package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Reference values from the driver in Bob Jenkins' lookup3.c.
func TestHashlittle2_EmptyInput(t *testing.T) {
	testCases := []struct {
		pc, pb       uint32
		wantC, wantB uint32
	}{
		{0, 0, 0xdeadbeef, 0xdeadbeef},
		{0, 0xdeadbeef, 0xbd5b7dde, 0xdeadbeef},
		{0xdeadbeef, 0xdeadbeef, 0x9c093ccd, 0xbd5b7dde},
	}
	for _, tc := range testCases {
		c, b := Hashlittle2(nil, tc.pc, tc.pb)
		assert.Equal(t, tc.wantC, c, "c for pc=%#x pb=%#x", tc.pc, tc.pb)
		assert.Equal(t, tc.wantB, b, "b for pc=%#x pb=%#x", tc.pc, tc.pb)
	}
}

func TestHashlittle_KnownVectors(t *testing.T) {
	data := []byte("Four score and seven years ago")
	assert.Equal(t, uint32(0x17770551), Hashlittle(data, 0))
	assert.Equal(t, uint32(0xcd628161), Hashlittle(data, 1))
}

func TestHashlittle_MatchesHashlittle2(t *testing.T) {
	data := make([]byte, 0, 40)
	for i := 0; i < 40; i++ {
		data = append(data, byte(i*7+3))
		c, _ := Hashlittle2(data, 0x3D6BE971, 0)
		assert.Equal(t, c, Hashlittle(data, 0x3D6BE971), "length %d", len(data))
	}
}

func TestHashlittle_SensitiveToEveryByte(t *testing.T) {
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	base := Hashlittle(data, 0)
	for i := range data {
		mutated := append([]byte(nil), data...)
		mutated[i] ^= 0x01
		assert.NotEqual(t, base, Hashlittle(mutated, 0), "flipping byte %d", i)
	}
}

func TestMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5(nil).String())
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", MD5([]byte("hello")).String())
}
