package checksum

import "encoding/binary"

// RecordHeaderSeed seeds the lookup3 hash stored in data-file record headers.
const RecordHeaderSeed = 0x3D6BE971

// offsetEncodeTable obfuscates record checksums by their position on disk.
var offsetEncodeTable = [16]uint32{
	0x049396B8, 0x72A82A9B, 0xEE626CCA, 0x9917754F, 0x15DE40B1, 0xF5A8A9B6, 0x421EAC7E, 0xA9D55C9A,
	0x317FD40C, 0x04FAF80D, 0x3D6BE971, 0x52933CFD, 0x27F64B7D, 0xC6F5C11B, 0xD5757E3A, 0x6C388745,
}

// EncodeOffset packs the low two bits of a data file number above the low 30
// bits of a byte offset, the way record checksums address positions.
func EncodeOffset(file uint32, offset uint64) uint32 {
	return uint32(offset&0x3FFFFFFF) | (file&3)<<30
}

// RecordChecksum computes the obfuscated checksum of a record header. header
// holds every byte from the start of the record up to, not including, the
// checksum field; offset is the record's position inside data file file.
//
// The header bytes are XOR-folded into four accumulator lanes selected by
// their encoded position, then masked with a table value chosen by the
// encoded position of the byte after the checksum.
func RecordChecksum(header []byte, file uint32, offset uint64) uint32 {
	start := EncodeOffset(file, offset)
	end := EncodeOffset(file, offset+uint64(len(header)))

	var acc [4]byte
	for i, b := range header {
		acc[(start+uint32(i))&3] ^= b
	}

	next := end + 4
	var mask [4]byte
	binary.LittleEndian.PutUint32(mask[:], offsetEncodeTable[next&0xF]^next)

	var sum [4]byte
	for i := range sum {
		j := (uint32(i) + end) & 3
		sum[i] = acc[j] ^ mask[j]
	}
	return binary.LittleEndian.Uint32(sum[:])
}
