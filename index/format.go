package index

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/INLOpen/casc/core"
)

// Version is the only local index format version understood.
const Version = 7

// headerSize is the size of the fields Header is decoded from. Longer header
// blocks are accepted; the trailing bytes are covered by the hash only.
const headerSize = 16

// maxHeaderBlock bounds the declared header length before anything is
// allocated for it.
const maxHeaderBlock = 0x1000

// Header describes how the entries of an index file are packed.
type Header struct {
	Version       uint16
	Bucket        uint16
	LengthWidth   uint8 // bytes of the little-endian record length
	LocationWidth uint8 // bytes of the big-endian file number + offset
	KeyWidth      uint8 // bytes of truncated key
	SegmentBits   uint8 // low bits of the location holding the offset
	Limit         uint64
}

// EntrySize is the width of one packed entry.
func (h Header) EntrySize() int {
	return int(h.KeyWidth) + int(h.LocationWidth) + int(h.LengthWidth)
}

func (h Header) offsetBytes() int {
	return (int(h.SegmentBits) + 7) / 8
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, core.Formatf("index header", "header block of %d bytes, want at least %d", len(b), headerSize)
	}
	h := Header{
		Version:       binary.LittleEndian.Uint16(b[0:2]),
		Bucket:        binary.LittleEndian.Uint16(b[2:4]),
		LengthWidth:   b[4],
		LocationWidth: b[5],
		KeyWidth:      b[6],
		SegmentBits:   b[7],
		Limit:         binary.LittleEndian.Uint64(b[8:16]),
	}
	if h.Version != Version {
		return Header{}, core.Formatf("index header", "version %d, want %d", h.Version, Version)
	}
	switch {
	case h.KeyWidth == 0 || h.KeyWidth > core.KeySize:
		return Header{}, core.Formatf("index header", "key width %d", h.KeyWidth)
	case h.LocationWidth == 0 || h.LocationWidth > 8:
		return Header{}, core.Formatf("index header", "location width %d", h.LocationWidth)
	case h.LengthWidth > 4:
		return Header{}, core.Formatf("index header", "length width %d", h.LengthWidth)
	case h.SegmentBits == 0 || h.offsetBytes() > int(h.LocationWidth):
		return Header{}, core.Formatf("index header", "%d segment bits do not fit a %d byte location", h.SegmentBits, h.LocationWidth)
	}
	return h, nil
}

// Entry locates one record inside the numbered data files.
type Entry struct {
	Key    core.Key // truncated to the index key width
	File   uint32
	Offset uint64
	Length uint32
}

func (e Entry) String() string {
	return fmt.Sprintf("%s data.%03d@%d+%d", e.Key, e.File, e.Offset, e.Length)
}

// decodeEntry unpacks one entry. raw must be exactly h.EntrySize() bytes.
//
// The location field is split into a file part (high bytes) and an offset
// part (low ceil(SegmentBits/8) bytes). Offset bits above SegmentBits belong
// to the file number.
func decodeEntry(h Header, raw []byte) Entry {
	var e Entry
	copy(e.Key[:h.KeyWidth], raw[:h.KeyWidth])
	raw = raw[h.KeyWidth:]

	offBytes := h.offsetBytes()
	fileBytes := int(h.LocationWidth) - offBytes
	file := readUintBE(raw[:fileBytes])
	offset := readUintBE(raw[fileBytes:h.LocationWidth])
	raw = raw[h.LocationWidth:]

	extra := uint(offBytes*8) - uint(h.SegmentBits)
	file = file<<extra | offset>>h.SegmentBits
	offset &= 1<<h.SegmentBits - 1

	e.File = uint32(file)
	e.Offset = offset
	e.Length = uint32(readUintLE(raw[:h.LengthWidth]))
	return e
}

func readUintBE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// VerifyMode selects how the entries block hash is checked.
type VerifyMode int

const (
	// VerifyWarn logs a mismatching entries hash and keeps the entries.
	VerifyWarn VerifyMode = iota
	// VerifyOff skips the entries hash.
	VerifyOff
	// VerifyStrict fails the parse on a mismatching entries hash.
	VerifyStrict
)

func (m VerifyMode) String() string {
	switch m {
	case VerifyOff:
		return "off"
	case VerifyStrict:
		return "strict"
	default:
		return "warn"
	}
}

// ParseVerifyMode maps a configuration value onto a VerifyMode.
func ParseVerifyMode(s string) (VerifyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return VerifyWarn, nil
	case "off", "none":
		return VerifyOff, nil
	case "strict":
		return VerifyStrict, nil
	default:
		return VerifyWarn, fmt.Errorf("invalid entries hash verification mode %q", s)
	}
}
