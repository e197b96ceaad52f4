package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
)

// IndexLayout is the header of a local index file.
type IndexLayout struct {
	Version       uint16
	Bucket        uint16
	LengthWidth   uint8
	LocationWidth uint8
	KeyWidth      uint8
	SegmentBits   uint8
	Limit         uint64

	// ChainedEntriesHash stores the entries hash as a hashlittle2 chain over
	// each entry instead of one hash over the whole block.
	ChainedEntriesHash bool
}

// DefaultIndexLayout is the layout shipped by current clients: 4-byte
// lengths, 5-byte locations with 30 offset bits and 9-byte keys.
func DefaultIndexLayout(bucket uint8) IndexLayout {
	return IndexLayout{
		Version:       7,
		Bucket:        uint16(bucket),
		LengthWidth:   4,
		LocationWidth: 5,
		KeyWidth:      9,
		SegmentBits:   30,
		Limit:         0x4000000000,
	}
}

// IndexEntry is one entry of a local index file.
type IndexEntry struct {
	Key    core.Key
	File   uint32
	Offset uint64
	Length uint32
}

// EncodeIndexEntry packs e the way the layout describes.
func EncodeIndexEntry(layout IndexLayout, e IndexEntry) []byte {
	out := make([]byte, 0, int(layout.KeyWidth)+int(layout.LocationWidth)+int(layout.LengthWidth))
	out = append(out, e.Key[:layout.KeyWidth]...)

	location := uint64(e.File)<<layout.SegmentBits | e.Offset
	for i := int(layout.LocationWidth) - 1; i >= 0; i-- {
		out = append(out, byte(location>>(8*uint(i))))
	}
	for i := 0; i < int(layout.LengthWidth); i++ {
		out = append(out, byte(e.Length>>(8*uint(i))))
	}
	return out
}

// IndexHeaderBytes returns the raw header block of the layout.
func IndexHeaderBytes(layout IndexLayout) []byte {
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint16(hdr[0:], layout.Version)
	binary.LittleEndian.PutUint16(hdr[2:], layout.Bucket)
	hdr[4] = layout.LengthWidth
	hdr[5] = layout.LocationWidth
	hdr[6] = layout.KeyWidth
	hdr[7] = layout.SegmentBits
	binary.LittleEndian.PutUint64(hdr[8:], layout.Limit)
	return hdr
}

// BuildIndexFile returns a complete local index file.
func BuildIndexFile(layout IndexLayout, entries []IndexEntry) []byte {
	var buf bytes.Buffer
	hdr := IndexHeaderBytes(layout)
	binary.Write(&buf, binary.LittleEndian, uint32(len(hdr)))
	binary.Write(&buf, binary.LittleEndian, checksum.Hashlittle(hdr, 0))
	buf.Write(hdr)
	for buf.Len()%16 != 0 {
		buf.WriteByte(0)
	}

	var block []byte
	var pc, pb uint32
	for _, e := range entries {
		raw := EncodeIndexEntry(layout, e)
		pc, pb = checksum.Hashlittle2(raw, pc, pb)
		block = append(block, raw...)
	}
	hash := checksum.Hashlittle(block, 0)
	if layout.ChainedEntriesHash {
		hash = pc
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(block)))
	binary.Write(&buf, binary.LittleEndian, hash)
	buf.Write(block)
	return buf.Bytes()
}
