package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/INLOpen/casc/checksum"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/salsa20"
)

// Chunk describes one BLTE chunk to encode.
type Chunk struct {
	Mode    byte
	Content []byte

	// Encrypted chunks only.
	KeyName []byte
	IV      []byte
	Key     []byte
}

func RawChunk(content []byte) Chunk { return Chunk{Mode: 'N', Content: content} }

func ZlibChunk(content []byte) Chunk { return Chunk{Mode: 'Z', Content: content} }

// EncryptedChunk encrypts content with Salsa20 under key (32 bytes) and iv.
func EncryptedChunk(keyName, iv, key, content []byte) Chunk {
	return Chunk{Mode: 'E', Content: content, KeyName: keyName, IV: iv, Key: key}
}

// EncodeChunk returns the encoded payload of c, mode byte included.
func EncodeChunk(c Chunk) []byte {
	var buf bytes.Buffer
	buf.WriteByte(c.Mode)
	switch c.Mode {
	case 'Z':
		zw := zlib.NewWriter(&buf)
		zw.Write(c.Content)
		zw.Close()
	case 'E':
		buf.WriteByte(byte(len(c.KeyName)))
		buf.Write(c.KeyName)
		buf.WriteByte(byte(len(c.IV)))
		buf.Write(c.IV)
		buf.WriteByte('S')
		var key [32]byte
		copy(key[:], c.Key)
		var nonce [8]byte
		copy(nonce[:], c.IV)
		ciphertext := make([]byte, len(c.Content))
		salsa20.XORKeyStream(ciphertext, c.Content, nonce[:], &key)
		buf.Write(ciphertext)
	default:
		buf.Write(c.Content)
	}
	return buf.Bytes()
}

// BuildContainer encodes chunks into a complete BLTE container.
func BuildContainer(chunks ...Chunk) []byte {
	payloads := make([][]byte, len(chunks))
	for i, c := range chunks {
		payloads[i] = EncodeChunk(c)
	}
	return BuildContainerFromPayloads(payloads, func(i int) uint32 { return uint32(len(chunks[i].Content)) })
}

// BuildContainerFromPayloads assembles a container from already encoded
// payloads; contentSize reports the declared content size of chunk i.
func BuildContainerFromPayloads(payloads [][]byte, contentSize func(i int) uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("BLTE")
	binary.Write(&buf, binary.BigEndian, uint32(12+24*len(payloads)))
	buf.WriteByte(0x0F)
	n := len(payloads)
	buf.Write([]byte{byte(n >> 16), byte(n >> 8), byte(n)})
	for i, p := range payloads {
		binary.Write(&buf, binary.BigEndian, uint32(len(p)))
		binary.Write(&buf, binary.BigEndian, contentSize(i))
		digest := checksum.MD5(p)
		buf.Write(digest[:])
	}
	for _, p := range payloads {
		buf.Write(p)
	}
	return buf.Bytes()
}
