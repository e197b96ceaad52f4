package compressors

import (
	"errors"
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/INLOpen/casc/core"
)

// maxLZ4Buffer bounds the destination buffer grown when no size hint is
// given.
const maxLZ4Buffer = 256 << 20

// LZ4Compressor implements the Compressor interface using LZ4 blocks.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	// Incompressible input makes CompressBlock return 0; store it raw behind
	// a zero marker byte so Decompress can tell the two apart.
	if n == 0 {
		return append([]byte{0}, data...), nil
	}
	return append([]byte{1}, dst[:n]...), nil
}

// Decompress decodes a block produced by Compress. The block format does not
// record the decoded size, so without a hint the buffer grows until it fits.
func (c *LZ4Compressor) Decompress(data []byte, sizeHint int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("lz4 decompress error: empty block")
	}
	if data[0] == 0 {
		return append([]byte(nil), data[1:]...), nil
	}
	data = data[1:]

	dstSize := sizeHint
	if dstSize <= 0 {
		dstSize = max(len(data)*3, 1024)
	}
	dst := make([]byte, dstSize)
	for {
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return dst[:n], nil
		}
		if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) && len(dst) < maxLZ4Buffer {
			dst = make([]byte, len(dst)*2)
			continue
		}
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
