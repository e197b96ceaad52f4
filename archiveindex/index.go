// Package archiveindex parses archive index files, which locate encoding keys
// inside one packed archive. The file is a run of fixed-size blocks of sorted
// entries, followed by a table of contents and a footer:
//
//	blocks  n x 4096 bytes, each holding [ekey][u32 offset][u32 size] entries
//	toc     n x last ekey of the block, then n x u64 block checksum
//	footer  u64 toc checksum, u8 version, u8 0, u8 0, u8 block_kb,
//	        u8 offset_bytes, u8 size_bytes, u8 key_bytes, u8 checksum_bytes,
//	        u32 LE entry_count, u64 footer checksum
package archiveindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
)

const (
	BlockSize  = 4096
	FooterSize = 8 + 8 + 4 + 8
	Version    = 1

	entrySize    = core.KeySize + 4 + 4
	tocEntrySize = core.KeySize + 8

	// maxPreallocEntries caps slice capacity taken from the footer count.
	maxPreallocEntries = 1 << 16
)

// Footer is the fixed trailer of an archive index.
type Footer struct {
	TOCChecksum   uint64
	Version       uint8
	BlockKB       uint8
	OffsetBytes   uint8
	SizeBytes     uint8
	KeyBytes      uint8
	ChecksumBytes uint8
	EntryCount    uint32
}

// Entry locates one encoded file inside the archive.
type Entry struct {
	EKey   core.Key
	Offset uint32
	Size   uint32
}

// Index is a parsed archive index. It is immutable and safe for concurrent
// use.
type Index struct {
	footer  Footer
	entries []Entry
	byKey   map[core.Key]int

	// lastKeys holds the table of contents, one key per block.
	lastKeys []core.Key
}

// Parse reads an archive index of size bytes from r.
func Parse(r io.ReaderAt, size int64) (*Index, error) {
	if size < FooterSize || (size-FooterSize)%(BlockSize+tocEntrySize) != 0 {
		return nil, core.Formatf("archive index", "size %d is not blocks plus table of contents plus footer", size)
	}
	blocks := (size - FooterSize) / (BlockSize + tocEntrySize)

	var raw [FooterSize]byte
	if _, err := r.ReadAt(raw[:], size-FooterSize); err != nil {
		return nil, fmt.Errorf("failed to read archive index footer: %w", err)
	}
	f := Footer{
		TOCChecksum:   binary.BigEndian.Uint64(raw[0:8]),
		Version:       raw[8],
		BlockKB:       raw[11],
		OffsetBytes:   raw[12],
		SizeBytes:     raw[13],
		KeyBytes:      raw[14],
		ChecksumBytes: raw[15],
		EntryCount:    binary.LittleEndian.Uint32(raw[16:20]),
	}
	switch {
	case f.Version != Version:
		return nil, core.Formatf("archive index footer", "version %d, want %d", f.Version, Version)
	case raw[9] != 0 || raw[10] != 0:
		return nil, core.Formatf("archive index footer", "reserved bytes %#x %#x", raw[9], raw[10])
	case int(f.BlockKB)*1024 != BlockSize:
		return nil, core.Formatf("archive index footer", "block size %d KiB", f.BlockKB)
	case f.OffsetBytes != 4 || f.SizeBytes != 4:
		return nil, core.Formatf("archive index footer", "offset/size widths %d/%d", f.OffsetBytes, f.SizeBytes)
	case f.KeyBytes != core.KeySize:
		return nil, core.Formatf("archive index footer", "key size %d", f.KeyBytes)
	case f.ChecksumBytes != 8:
		return nil, core.Formatf("archive index footer", "checksum size %d", f.ChecksumBytes)
	}

	toc := make([]byte, blocks*tocEntrySize)
	if _, err := r.ReadAt(toc, blocks*BlockSize); err != nil {
		return nil, fmt.Errorf("failed to read archive index table of contents: %w", err)
	}
	digest := checksum.MD5(toc)
	if got := binary.BigEndian.Uint64(digest[8:]); got != f.TOCChecksum {
		return nil, core.Integrityf("archive index table of contents", fmt.Sprintf("%016x", f.TOCChecksum), fmt.Sprintf("%016x", got))
	}

	x := &Index{
		footer:   f,
		entries:  make([]Entry, 0, min(f.EntryCount, maxPreallocEntries)),
		byKey:    make(map[core.Key]int),
		lastKeys: make([]core.Key, blocks),
	}
	for i := range x.lastKeys {
		x.lastKeys[i] = core.KeyFromBytes(toc[i*core.KeySize : (i+1)*core.KeySize])
	}

	block := make([]byte, BlockSize)
	for b := int64(0); b < blocks; b++ {
		if _, err := r.ReadAt(block, b*BlockSize); err != nil {
			return nil, fmt.Errorf("failed to read archive index block %d: %w", b, err)
		}
		if err := x.parseBlock(int(b), block); err != nil {
			return nil, err
		}
	}
	if uint32(len(x.entries)) != f.EntryCount {
		return nil, core.Formatf("archive index", "footer counts %d entries, blocks hold %d", f.EntryCount, len(x.entries))
	}
	return x, nil
}

// ParseBytes parses an archive index held in memory.
func ParseBytes(data []byte) (*Index, error) {
	return Parse(bytes.NewReader(data), int64(len(data)))
}

// parseBlock appends the entries of one block. A zero key starts the block's
// padding; the last entry must match the block's table of contents key.
func (x *Index) parseBlock(n int, block []byte) error {
	var last core.Key
	for pos := 0; pos+entrySize <= len(block); pos += entrySize {
		key := core.KeyFromBytes(block[pos : pos+core.KeySize])
		if key.IsZero() {
			break
		}
		x.byKey[key] = len(x.entries)
		x.entries = append(x.entries, Entry{
			EKey:   key,
			Offset: binary.BigEndian.Uint32(block[pos+core.KeySize:]),
			Size:   binary.BigEndian.Uint32(block[pos+core.KeySize+4:]),
		})
		last = key
	}
	if last != x.lastKeys[n] {
		return core.Integrityf(fmt.Sprintf("archive index block %d last key", n), x.lastKeys[n], last)
	}
	return nil
}

// Footer returns the parsed footer.
func (x *Index) Footer() Footer { return x.footer }

// Len returns the number of entries.
func (x *Index) Len() int { return len(x.entries) }

// Entries returns the entries in file order.
func (x *Index) Entries() []Entry { return x.entries }

// Lookup returns the entry for ekey.
func (x *Index) Lookup(ekey core.Key) (Entry, bool) {
	i, ok := x.byKey[ekey]
	if !ok {
		return Entry{}, false
	}
	return x.entries[i], true
}

// Block returns the index of the block whose key range covers ekey, using the
// table of contents only.
func (x *Index) Block(ekey core.Key) (int, bool) {
	lo, hi := 0, len(x.lastKeys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(x.lastKeys[mid][:], ekey[:]) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(x.lastKeys)
}
