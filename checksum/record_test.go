package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeOffset(t *testing.T) {
	assert.Equal(t, uint32(0x00000010), EncodeOffset(0, 0x10))
	assert.Equal(t, uint32(0x40000010), EncodeOffset(1, 0x10))
	assert.Equal(t, uint32(0xC0000010), EncodeOffset(7, 0x10))
	// Bits above the 30-bit offset field are dropped.
	assert.Equal(t, uint32(0x00000001), EncodeOffset(0, 0x40000001))
}

func TestRecordChecksum_ZeroHeader(t *testing.T) {
	// With an all-zero header the accumulator is zero and the checksum is the
	// rotated table mask: table[(26+4)&0xF] ^ 30 = 0xD5757E24, rotated so the
	// lane of the byte after the header comes first.
	header := make([]byte, 26)
	assert.Equal(t, uint32(0x7E24D575), RecordChecksum(header, 0, 0))
}

func TestRecordChecksum_DependsOnPosition(t *testing.T) {
	header := []byte("0123456789abcdefghijklmnop")
	base := RecordChecksum(header, 0, 0)
	assert.NotEqual(t, base, RecordChecksum(header, 1, 0), "file number must change the checksum")
	assert.NotEqual(t, base, RecordChecksum(header, 0, 4), "offset must change the checksum")

	mutated := append([]byte(nil), header...)
	mutated[5] ^= 0x80
	assert.NotEqual(t, base, RecordChecksum(mutated, 0, 0))
}
