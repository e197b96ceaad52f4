package testutil

import (
	"encoding/binary"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
)

// RecordHeaderSize is the size of the header in front of every stored
// container.
const RecordHeaderSize = 30

// BuildRecord returns a data-file record for container, valid when written at
// offset inside data file file.
func BuildRecord(key core.Key, file uint32, offset uint64, container []byte) []byte {
	rec := make([]byte, RecordHeaderSize, RecordHeaderSize+len(container))
	copy(rec[:core.KeySize], key[:])
	binary.LittleEndian.PutUint32(rec[16:], uint32(RecordHeaderSize+len(container)))
	binary.LittleEndian.PutUint32(rec[22:], checksum.Hashlittle(rec[:22], checksum.RecordHeaderSeed))
	binary.LittleEndian.PutUint32(rec[26:], checksum.RecordChecksum(rec[:26], file, offset))
	return append(rec, container...)
}
