package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/index"
)

// RecordHeaderSize is the size of the header in front of every record in a
// data file.
const RecordHeaderSize = 30

const (
	recordHashedSize  = 22 // key, length and flags
	recordSummedSize  = 26 // everything but the trailing checksum
	recordLengthField = 16
)

// RecordHeader is the header of one stored record.
type RecordHeader struct {
	Key        core.Key
	Length     uint32 // whole record, header included
	Flags      uint16
	HeaderHash uint32
	Checksum   uint32
}

// ParseRecordHeader decodes a raw record header. raw must hold at least
// RecordHeaderSize bytes.
func ParseRecordHeader(raw []byte) RecordHeader {
	return RecordHeader{
		Key:        core.KeyFromBytes(raw[0:core.KeySize]),
		Length:     binary.LittleEndian.Uint32(raw[recordLengthField:]),
		Flags:      binary.LittleEndian.Uint16(raw[20:]),
		HeaderHash: binary.LittleEndian.Uint32(raw[recordHashedSize:]),
		Checksum:   binary.LittleEndian.Uint32(raw[recordSummedSize:]),
	}
}

// verifyRecordHeader checks a raw header read at the location e points to.
// The length, the header hash and the location-bound checksum are separate
// checks; the stored key is not compared since the hash covers it.
func verifyRecordHeader(raw []byte, e index.Entry) (RecordHeader, error) {
	hdr := ParseRecordHeader(raw)
	where := fmt.Sprintf("record data.%03d@%d", e.File, e.Offset)

	if hdr.Length != e.Length {
		return hdr, core.Integrityf(where+" length", e.Length, hdr.Length)
	}
	if got := checksum.Hashlittle(raw[:recordHashedSize], checksum.RecordHeaderSeed); got != hdr.HeaderHash {
		return hdr, core.Integrityf(where+" header hash", fmt.Sprintf("%08x", hdr.HeaderHash), fmt.Sprintf("%08x", got))
	}
	if got := checksum.RecordChecksum(raw[:recordSummedSize], e.File, e.Offset); got != hdr.Checksum {
		return hdr, core.Integrityf(where+" checksum", fmt.Sprintf("%08x", hdr.Checksum), fmt.Sprintf("%08x", got))
	}
	return hdr, nil
}
