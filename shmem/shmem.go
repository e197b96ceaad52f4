// Package shmem reads the store's shared-memory control file, which names
// the active index file generation of every bucket.
package shmem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/sys"
)

// FileName is the name of the control file inside a store directory.
const FileName = "shmem"

const (
	blockTypeV4 = 4
	blockTypeV5 = 5

	pathFieldSize  = 0x100
	blockFixedSize = 4 + 4 + pathFieldSize
	freeListPair   = 4 + 4
)

// SharedMemory is the parsed header block of the control file. Free-space
// bookkeeping that follows it is not read.
type SharedMemory struct {
	BlockType   uint32
	BlockSize   uint32
	Path        string
	Generations []uint32
}

// Parse reads the header block for bucketCount buckets.
func Parse(r io.Reader, bucketCount int) (*SharedMemory, error) {
	var fixed [blockFixedSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, &core.FormatError{Structure: "shared memory header", Detail: "short read", Err: err}
	}
	shm := &SharedMemory{
		BlockType: binary.LittleEndian.Uint32(fixed[0:4]),
		BlockSize: binary.LittleEndian.Uint32(fixed[4:8]),
	}
	if shm.BlockType != blockTypeV4 && shm.BlockType != blockTypeV5 {
		return nil, core.Formatf("shared memory header", "unexpected block type %d", shm.BlockType)
	}

	path := fixed[8:blockFixedSize]
	if i := bytes.IndexByte(path, 0); i >= 0 {
		path = path[:i]
	}
	shm.Path = string(path)

	generationsSize := uint64(bucketCount) * 4
	if uint64(shm.BlockSize) < blockFixedSize+generationsSize {
		return nil, core.Formatf("shared memory header", "block size %d too small for %d buckets", shm.BlockSize, bucketCount)
	}
	// Free-list pairs sit between the path and the generation numbers.
	pairs := (uint64(shm.BlockSize) - blockFixedSize - generationsSize) / freeListPair
	if _, err := io.CopyN(io.Discard, r, int64(pairs*freeListPair)); err != nil {
		return nil, &core.FormatError{Structure: "shared memory header", Detail: "short free list", Err: err}
	}

	raw := make([]byte, generationsSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, &core.FormatError{Structure: "shared memory header", Detail: "short generation table", Err: err}
	}
	shm.Generations = make([]uint32, bucketCount)
	for i := range shm.Generations {
		shm.Generations[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return shm, nil
}

// Load opens and parses the control file at path, holding a shared lock on it
// while reading when the platform supports one.
func Load(path string, bucketCount int, logger *slog.Logger) (*SharedMemory, error) {
	if logger == nil {
		logger = slog.Default().With("component", "shmem")
	}
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory file %s: %w", path, err)
	}
	defer f.Close()

	unlock, err := sys.LockShared(f, sys.DefaultLockTimeout)
	if err != nil {
		logger.Warn("Reading shared memory file without a lock", "path", path, "error", err)
	} else {
		defer unlock()
	}

	shm, err := Parse(f, bucketCount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shared memory file %s: %w", path, err)
	}
	logger.Debug("Loaded shared memory file", "path", path, "block_type", shm.BlockType, "data_path", shm.Path)
	return shm, nil
}

// Generation returns the active index generation of bucket.
func (s *SharedMemory) Generation(bucket int) uint32 {
	return s.Generations[bucket]
}

// IndexFileName returns the name of bucket's active index file.
func (s *SharedMemory) IndexFileName(bucket int) string {
	return IndexFileName(bucket, s.Generations[bucket])
}

// IndexFileName formats the file name of a bucket's index generation.
func IndexFileName(bucket int, generation uint32) string {
	return fmt.Sprintf("%02x%08x.idx", bucket, generation)
}
