// Package compressors provides the codecs the content cache stores values
// with.
package compressors

import (
	"fmt"

	"github.com/INLOpen/casc/core"
)

// ForType returns a new compressor for t.
func ForType(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("unsupported compression type %d", t)
	}
}

// ByName returns a compressor for a configuration name such as "zstd".
func ByName(name string) (core.Compressor, error) {
	t, ok := core.ParseCompressionType(name)
	if !ok {
		return nil, fmt.Errorf("unknown compression %q", name)
	}
	return ForType(t)
}
