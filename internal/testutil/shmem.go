package testutil

import (
	"bytes"
	"encoding/binary"
)

// BuildSharedMemory returns a shared-memory control file with the given block
// tag, data path, number of (zeroed) free-list pairs and per-bucket index
// generations.
func BuildSharedMemory(tag uint32, path string, freeListPairs int, generations []uint32) []byte {
	var buf bytes.Buffer
	blockSize := 4 + 4 + 0x100 + 8*freeListPairs + 4*len(generations)
	binary.Write(&buf, binary.LittleEndian, tag)
	binary.Write(&buf, binary.LittleEndian, uint32(blockSize))
	pathField := make([]byte, 0x100)
	copy(pathField, path)
	buf.Write(pathField)
	buf.Write(make([]byte, 8*freeListPairs))
	for _, g := range generations {
		binary.Write(&buf, binary.LittleEndian, g)
	}
	return buf.Bytes()
}
