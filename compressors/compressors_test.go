package compressors

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/casc/core"
)

func TestCompressorsRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	payloads := map[string][]byte{
		"simple string":   []byte("hello world, this is a test of the content cache codecs"),
		"repetitive data": bytes.Repeat([]byte("a"), 64*1024),
		"random data":     random,
		"single byte":     {0x42},
	}

	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		c, err := ForType(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, c.Type())

		for name, data := range payloads {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				compressed, err := c.Compress(data)
				require.NoError(t, err)

				got, err := c.Decompress(compressed, len(data))
				require.NoError(t, err)
				assert.Equal(t, data, got)

				// Without a size hint the codecs still recover the input.
				got, err = c.Decompress(compressed, 0)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			})
		}
	}
}

func TestRepetitiveDataShrinks(t *testing.T) {
	data := bytes.Repeat([]byte("casc"), 4096)
	for _, name := range []string{"snappy", "lz4", "zstd"} {
		c, err := ByName(name)
		require.NoError(t, err)
		compressed, err := c.Compress(data)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(data)/4, name)
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, core.CompressionNone, c.Type())

	c, err = ByName("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, core.CompressionZSTD, c.Type())

	_, err = ByName("brotli")
	assert.Error(t, err)

	_, err = ForType(core.CompressionType(99))
	assert.Error(t, err)
}

func TestCorruptInput(t *testing.T) {
	garbage := []byte{0xFF, 0xFE, 0xFD, 0xFC, 0xFB}
	for _, name := range []string{"snappy", "zstd"} {
		c, err := ByName(name)
		require.NoError(t, err)
		_, err = c.Decompress(garbage, 0)
		assert.Error(t, err, name)
	}

	_, err := NewLz4Compressor().Decompress(nil, 0)
	assert.Error(t, err)
}

func BenchmarkZstdCompress(b *testing.B) {
	compressor := NewZstdCompressor()
	data := bytes.Repeat([]byte(`{"ekey":"0354005609a6edf3faf02aa305b58e44","size":4096}`), 64)

	b.ResetTimer()
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := compressor.Compress(data); err != nil {
			b.Fatalf("Compress() error: %v", err)
		}
	}
}
