package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/INLOpen/casc/core"
)

// StoreBuilder lays out a complete store directory: data files, one index
// file per bucket and the shared-memory control file. Like the index
// section writers of the storage engine it is meant for tests and tooling.
type StoreBuilder struct {
	Dir         string
	Generations [core.BucketCount]uint32
	Layouts     [core.BucketCount]IndexLayout

	data    map[uint32][]byte
	entries [core.BucketCount][]IndexEntry
}

// NewStoreBuilder returns a builder writing into dir with default layouts
// and generation 1 for every bucket.
func NewStoreBuilder(dir string) *StoreBuilder {
	b := &StoreBuilder{Dir: dir, data: make(map[uint32][]byte)}
	for i := range b.Layouts {
		b.Layouts[i] = DefaultIndexLayout(uint8(i))
		b.Generations[i] = 1
	}
	return b
}

// Add appends a record holding container to data file file and indexes it
// under key. It returns the index entry that was recorded.
func (b *StoreBuilder) Add(key core.Key, file uint32, container []byte) IndexEntry {
	offset := uint64(len(b.data[file]))
	rec := BuildRecord(key, file, offset, container)
	b.data[file] = append(b.data[file], rec...)
	e := IndexEntry{Key: key, File: file, Offset: offset, Length: uint32(len(rec))}
	bucket := core.BucketOf(key)
	b.entries[bucket] = append(b.entries[bucket], e)
	return e
}

// AddEntry indexes an entry without writing any record, for entries that
// point at bytes placed with AppendData.
func (b *StoreBuilder) AddEntry(bucket uint8, e IndexEntry) {
	b.entries[bucket] = append(b.entries[bucket], e)
}

// AppendData appends raw bytes to a data file and returns their offset.
func (b *StoreBuilder) AppendData(file uint32, raw []byte) uint64 {
	offset := uint64(len(b.data[file]))
	b.data[file] = append(b.data[file], raw...)
	return offset
}

// Write writes every file into Dir.
func (b *StoreBuilder) Write() error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return err
	}
	files := make([]uint32, 0, len(b.data))
	for f := range b.data {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(b.Dir, fmt.Sprintf("data.%03d", f)), b.data[f], 0o644); err != nil {
			return err
		}
	}
	for bucket := range b.entries {
		name := fmt.Sprintf("%02x%08x.idx", bucket, b.Generations[bucket])
		raw := BuildIndexFile(b.Layouts[bucket], b.entries[bucket])
		if err := os.WriteFile(filepath.Join(b.Dir, name), raw, 0o644); err != nil {
			return err
		}
	}
	shm := BuildSharedMemory(5, b.Dir, 0, b.Generations[:])
	return os.WriteFile(filepath.Join(b.Dir, "shmem"), shm, 0o644)
}
