// Package blte decodes BLTE containers: a header listing chunks by encoded
// size, content size and MD5, followed by the chunk payloads. Every chunk is
// stored raw, zlib compressed or Salsa20 encrypted.
package blte

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/casc/core"
)

// Magic is the four byte signature every container starts with.
const Magic = "BLTE"

const (
	headerFixedSize = 4 + 4 + 1 + 3
	chunkInfoSize   = 4 + 4 + core.KeySize

	// chunkedFlags is the only table flag byte the decoder understands.
	chunkedFlags = 0x0F

	// maxPrealloc caps the up-front output allocation. A container may still
	// decode to more than this, the output just grows as chunks arrive.
	maxPrealloc = 64 << 20
)

// Chunk encoding modes, stored as the first byte of each chunk payload.
const (
	ModeRaw       byte = 'N'
	ModeZlib      byte = 'Z'
	ModeEncrypted byte = 'E'
)

// EncryptionSalsa20 is the only supported sub-mode of encrypted chunks.
const EncryptionSalsa20 byte = 'S'

// ChunkInfo is one row of the chunk table.
type ChunkInfo struct {
	EncodedSize uint32
	ContentSize uint32
	Digest      core.Key // MD5 of the encoded payload, mode byte included
}

// Header is the parsed container header.
type Header struct {
	HeaderSize uint32
	Flags      uint8
	Chunks     []ChunkInfo
}

// ContentSize returns the sum of the declared content sizes.
func (h *Header) ContentSize() uint64 {
	var n uint64
	for _, c := range h.Chunks {
		n += uint64(c.ContentSize)
	}
	return n
}

// EncodedSize returns the total container size: header plus every payload.
func (h *Header) EncodedSize() uint64 {
	n := uint64(h.HeaderSize)
	for _, c := range h.Chunks {
		n += uint64(c.EncodedSize)
	}
	return n
}

// ReadHeader reads and validates the container header and chunk table,
// leaving r positioned at the first chunk payload.
func ReadHeader(r io.Reader) (*Header, error) {
	var fixed [headerFixedSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, &core.FormatError{Structure: "blte header", Detail: "short read", Err: err}
	}
	if string(fixed[0:4]) != Magic {
		return nil, core.Formatf("blte header", "bad magic %q", fixed[0:4])
	}
	h := &Header{
		HeaderSize: binary.BigEndian.Uint32(fixed[4:8]),
		Flags:      fixed[8],
	}
	if h.Flags != chunkedFlags {
		return nil, core.Formatf("blte header", "unexpected flags %#02x", h.Flags)
	}
	count := uint32(fixed[9])<<16 | uint32(fixed[10])<<8 | uint32(fixed[11])
	if want := uint64(headerFixedSize) + uint64(count)*chunkInfoSize; uint64(h.HeaderSize) != want {
		return nil, core.Formatf("blte header", "header size %d does not match %d chunks (want %d)", h.HeaderSize, count, want)
	}

	h.Chunks = make([]ChunkInfo, 0, min(count, 4096))
	var raw [chunkInfoSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return nil, &core.FormatError{Structure: "blte chunk table", Detail: fmt.Sprintf("short read at chunk %d", i), Err: err}
		}
		h.Chunks = append(h.Chunks, ChunkInfo{
			EncodedSize: binary.BigEndian.Uint32(raw[0:4]),
			ContentSize: binary.BigEndian.Uint32(raw[4:8]),
			Digest:      core.KeyFromBytes(raw[8:]),
		})
	}
	return h, nil
}
