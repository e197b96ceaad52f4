package blte

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/salsa20"
)

// Decode reads one container from r and returns its content. Either the full
// content is returned or an error, never a prefix of it. The container length
// is not known up front, so chunk buffers grow with the bytes actually read.
func Decode(r io.Reader, keys KeyResolver) ([]byte, error) {
	return decode(r, -1, keys)
}

// DecodeSized is like Decode for a container known to occupy at most size
// bytes of r. Chunk sizes beyond what is left are rejected before any
// buffer is allocated for them.
func DecodeSized(r io.Reader, size int64, keys KeyResolver) ([]byte, error) {
	return decode(r, size, keys)
}

func decode(r io.Reader, size int64, keys KeyResolver) ([]byte, error) {
	if keys == nil {
		keys = NoKeys
	}
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	chunks := newChunkReader(r, size, h)

	out := make([]byte, 0, min(h.ContentSize(), maxPrealloc))
	for i, info := range h.Chunks {
		encoded, err := chunks.next(i, info)
		if err != nil {
			return nil, err
		}
		if err := verifyChunk(i, info, encoded); err != nil {
			return nil, err
		}
		before := len(out)
		out, err = decodeChunk(i, info, encoded, keys, out)
		if err != nil {
			return nil, err
		}
		if got := len(out) - before; got != int(info.ContentSize) {
			return nil, core.Integrityf(fmt.Sprintf("blte chunk %d content size", i), info.ContentSize, got)
		}
	}
	return out, nil
}

// DecodeBytes decodes a container held in memory. Trailing bytes after the
// last chunk are ignored.
func DecodeBytes(data []byte, keys KeyResolver) ([]byte, error) {
	return decode(bytes.NewReader(data), int64(len(data)), keys)
}

// Verify checks the header and the MD5 of every chunk without decoding any
// payload.
func Verify(r io.Reader) (*Header, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	chunks := newChunkReader(r, -1, h)
	for i, info := range h.Chunks {
		encoded, err := chunks.next(i, info)
		if err != nil {
			return nil, err
		}
		if err := verifyChunk(i, info, encoded); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// chunkReader hands out chunk payloads in table order, reusing one buffer.
type chunkReader struct {
	r       io.Reader
	left    int64 // bytes left after the header, -1 when unknown
	encoded []byte
}

func newChunkReader(r io.Reader, size int64, h *Header) *chunkReader {
	c := &chunkReader{r: r, left: -1}
	if size >= 0 {
		c.left = max(size-int64(h.HeaderSize), 0)
	}
	return c
}

func (c *chunkReader) next(i int, info ChunkInfo) ([]byte, error) {
	n := int64(info.EncodedSize)
	if c.left >= 0 {
		if n > c.left {
			return nil, &core.FormatError{
				Structure: "blte chunk",
				Detail:    fmt.Sprintf("chunk %d declares %d bytes, %d left", i, n, c.left),
				Err:       io.ErrUnexpectedEOF,
			}
		}
		c.left -= n
	} else if n > maxPrealloc {
		// Unknown length: grow with what is actually there.
		data, err := io.ReadAll(io.LimitReader(c.r, n))
		if err != nil {
			return nil, fmt.Errorf("blte chunk %d: reading %d bytes: %w", i, n, err)
		}
		if int64(len(data)) < n {
			return nil, fmt.Errorf("blte chunk %d: reading %d bytes: %w", i, n, io.ErrUnexpectedEOF)
		}
		return data, nil
	}
	if int64(cap(c.encoded)) < n {
		c.encoded = make([]byte, n)
	}
	c.encoded = c.encoded[:n]
	if _, err := io.ReadFull(c.r, c.encoded); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("blte chunk %d: reading %d bytes: %w", i, n, err)
	}
	return c.encoded, nil
}

func verifyChunk(i int, info ChunkInfo, encoded []byte) error {
	if got := checksum.MD5(encoded); got != info.Digest {
		return core.Integrityf(fmt.Sprintf("blte chunk %d", i), info.Digest, got)
	}
	return nil
}

// decodeChunk appends the content of one verified chunk to out.
func decodeChunk(i int, info ChunkInfo, encoded []byte, keys KeyResolver, out []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, core.Formatf("blte chunk", "chunk %d is empty", i)
	}
	mode, payload := encoded[0], encoded[1:]
	switch mode {
	case ModeRaw:
		return append(out, payload...), nil
	case ModeZlib:
		return inflate(i, info, payload, out)
	case ModeEncrypted:
		return decrypt(i, payload, keys, out)
	default:
		return nil, core.Formatf("blte chunk", "chunk %d has unknown encoding mode %q", i, mode)
	}
}

func inflate(i int, info ChunkInfo, payload []byte, out []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, &core.FormatError{Structure: "blte chunk", Detail: fmt.Sprintf("chunk %d zlib header", i), Err: err}
	}
	defer zr.Close()

	buf := bytes.NewBuffer(out)
	// One byte of slack lets the size check catch streams longer than
	// declared without reading them to the end.
	if _, err := io.Copy(buf, io.LimitReader(zr, int64(info.ContentSize)+1)); err != nil {
		return nil, &core.FormatError{Structure: "blte chunk", Detail: fmt.Sprintf("chunk %d inflate", i), Err: err}
	}
	return buf.Bytes(), nil
}

func decrypt(i int, payload []byte, keys KeyResolver, out []byte) ([]byte, error) {
	name, rest, ok := lengthPrefixed(payload)
	if !ok {
		return nil, core.Formatf("blte chunk", "chunk %d: truncated key name", i)
	}
	iv, rest, ok := lengthPrefixed(rest)
	if !ok {
		return nil, core.Formatf("blte chunk", "chunk %d: truncated iv", i)
	}
	if len(rest) == 0 {
		return nil, core.Formatf("blte chunk", "chunk %d: missing encryption type", i)
	}
	kind, ciphertext := rest[0], rest[1:]
	if kind != EncryptionSalsa20 {
		return nil, core.Formatf("blte chunk", "chunk %d has unknown encryption mode %q", i, kind)
	}
	if len(iv) > 8 {
		return nil, core.Formatf("blte chunk", "chunk %d: iv of %d bytes, want at most 8", i, len(iv))
	}

	key, ok := keys.ResolveKey(name)
	if !ok {
		return nil, &core.KeyNotFoundError{Name: append([]byte(nil), name...)}
	}
	if len(key) != 32 {
		return nil, core.Formatf("blte chunk", "chunk %d: salsa20 key %x is %d bytes, want 32", i, name, len(key))
	}
	var k [32]byte
	copy(k[:], key)
	var nonce [8]byte
	copy(nonce[:], iv)

	start := len(out)
	out = append(out, ciphertext...)
	salsa20.XORKeyStream(out[start:], out[start:], nonce[:], &k)
	return out, nil
}

// lengthPrefixed splits a u8 length prefixed field off b.
func lengthPrefixed(b []byte) (field, rest []byte, ok bool) {
	if len(b) == 0 {
		return nil, nil, false
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, nil, false
	}
	return b[1 : 1+n], b[1+n:], true
}
