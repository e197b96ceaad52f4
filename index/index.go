// Package index reads the local index files that map truncated encoding keys
// to record locations inside the numbered data files.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/sys"
)

// Options configures parsing of an index file.
type Options struct {
	// CheckBucket makes the parser require the header to name Bucket and
	// drop entries whose key hashes to another bucket.
	CheckBucket bool
	Bucket      int
	Verify      VerifyMode
	Logger      *slog.Logger
}

// Index is one parsed local index file.
type Index struct {
	header    Header
	entries   map[core.Key]Entry
	truncated bool
	skipped   int
}

// Parse reads a complete index file from r.
//
// An entries block that ends before its declared length is not an error: the
// complete entries read so far are kept and Truncated reports true. Other
// read errors are returned.
func Parse(r io.Reader, opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "index")
	}

	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, &core.FormatError{Structure: "index header", Detail: "short read", Err: err}
	}
	headerLen := binary.LittleEndian.Uint32(prefix[0:4])
	headerHash := binary.LittleEndian.Uint32(prefix[4:8])
	if headerLen < headerSize || headerLen > maxHeaderBlock {
		return nil, core.Formatf("index header", "header length %d", headerLen)
	}
	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, &core.FormatError{Structure: "index header", Detail: "short read", Err: err}
	}
	if got := checksum.Hashlittle(raw, 0); got != headerHash {
		return nil, core.Integrityf("index header", fmt.Sprintf("%08x", headerHash), fmt.Sprintf("%08x", got))
	}
	h, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if opts.CheckBucket {
		if int(h.Bucket) != opts.Bucket {
			return nil, core.Formatf("index header", "bucket %d in file for bucket %d", h.Bucket, opts.Bucket)
		}
		// The bucket of a key depends on its first TruncatedKeySize bytes.
		if h.KeyWidth < core.TruncatedKeySize {
			return nil, core.Formatf("index header", "key width %d too short to check buckets (need %d)", h.KeyWidth, core.TruncatedKeySize)
		}
	}

	// The entries block starts on the next 16 byte boundary.
	if pad := (16 - (8+int64(headerLen))%16) % 16; pad > 0 {
		if _, err := io.CopyN(io.Discard, r, pad); err != nil {
			return nil, &core.FormatError{Structure: "index header", Detail: "short padding", Err: err}
		}
	}
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, &core.FormatError{Structure: "index entries", Detail: "short read", Err: err}
	}
	entriesLen := binary.LittleEndian.Uint32(prefix[0:4])
	entriesHash := binary.LittleEndian.Uint32(prefix[4:8])

	// ReadAll grows with the bytes actually present, so a bogus length does
	// not turn into a huge allocation.
	block, err := io.ReadAll(io.LimitReader(r, int64(entriesLen)))
	if err != nil {
		return nil, fmt.Errorf("failed to read index entries: %w", err)
	}
	idx := &Index{header: h}
	if uint32(len(block)) < entriesLen {
		idx.truncated = true
		logger.Debug("Index entries block is truncated", "bucket", h.Bucket, "declared", entriesLen, "read", len(block))
	} else if err := verifyEntries(h, block, entriesHash, opts.Verify, logger); err != nil {
		return nil, err
	}

	width := h.EntrySize()
	count := len(block) / width
	idx.entries = make(map[core.Key]Entry, count)
	for i := 0; i < count; i++ {
		e := decodeEntry(h, block[i*width:(i+1)*width])
		if opts.CheckBucket && int(core.BucketOf(e.Key)) != opts.Bucket {
			idx.skipped++
			logger.Debug("Skipping index entry outside its bucket", "key", e.Key, "bucket", opts.Bucket)
			continue
		}
		idx.entries[e.Key] = e
	}
	return idx, nil
}

// verifyEntries accepts either a single hash over the whole block or the
// hashlittle2 chain over each entry. Both variants are found in the wild.
func verifyEntries(h Header, block []byte, want uint32, mode VerifyMode, logger *slog.Logger) error {
	if mode == VerifyOff {
		return nil
	}
	if checksum.Hashlittle(block, 0) == want {
		return nil
	}
	width := h.EntrySize()
	var pc, pb uint32
	for off := 0; off+width <= len(block); off += width {
		pc, pb = checksum.Hashlittle2(block[off:off+width], pc, pb)
	}
	if pc == want {
		return nil
	}
	if mode == VerifyStrict {
		return core.Integrityf("index entries", fmt.Sprintf("%08x", want), fmt.Sprintf("%08x", pc))
	}
	logger.Warn("Index entries hash mismatch", "bucket", h.Bucket, "stored", fmt.Sprintf("%08x", want))
	return nil
}

// ParseBytes parses an index file held in memory.
func ParseBytes(data []byte, opts Options) (*Index, error) {
	return Parse(bytes.NewReader(data), opts)
}

// Load opens and parses the index file at path.
func Load(path string, opts Options) (*Index, error) {
	f, err := sys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file %s: %w", path, err)
	}
	defer f.Close()

	idx, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index file %s: %w", path, err)
	}
	return idx, nil
}

// Lookup finds the entry for key. Only the first KeyWidth bytes of key are
// significant.
func (x *Index) Lookup(key core.Key) (Entry, bool) {
	e, ok := x.entries[key.Truncate(int(x.header.KeyWidth))]
	return e, ok
}

// Header returns the parsed file header.
func (x *Index) Header() Header { return x.header }

// Len returns the number of distinct entries.
func (x *Index) Len() int { return len(x.entries) }

// Truncated reports whether the entries block ended early.
func (x *Index) Truncated() bool { return x.truncated }

// Skipped returns the number of entries dropped for sitting in another bucket.
func (x *Index) Skipped() int { return x.skipped }

// Entries returns every entry ordered by key.
func (x *Index) Entries() []Entry {
	out := make([]Entry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key[:], out[j].Key[:]) < 0
	})
	return out
}

// Range calls fn for every entry in no particular order until fn returns
// false.
func (x *Index) Range(fn func(Entry) bool) {
	for _, e := range x.entries {
		if !fn(e) {
			return
		}
	}
}
