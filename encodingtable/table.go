// Package encodingtable parses the encoding table, which maps content keys to
// the encoding keys stored locally and encoding keys to their encoding spec.
package encodingtable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
)

const (
	magic   = "EN"
	Version = 1

	headerSize = 22
	// maxPreallocPages caps slice capacity taken from untrusted page counts.
	maxPreallocPages = 1 << 12
)

// Header is the fixed part of an encoding table.
type Header struct {
	Version        uint8
	CKeySize       uint8
	EKeySize       uint8
	ContentPageKB  uint16
	EncodingPageKB uint16
	ContentPages   uint32
	EncodingPages  uint32
}

// ContentEntry lists the encoding keys one content key is stored under.
type ContentEntry struct {
	CKey  core.Key
	Size  uint64 // decoded content size
	EKeys []core.Key
}

// EncodingEntry describes how one encoding key was encoded.
type EncodingEntry struct {
	EKey core.Key
	Spec string
	Size uint64 // encoded size
}

// Table is a parsed encoding table. It is immutable and safe for concurrent
// use.
type Table struct {
	header   Header
	specs    []string
	content  map[core.Key]ContentEntry
	encoding map[core.Key]EncodingEntry
}

type pageInfo struct {
	first  core.Key
	digest core.Key
}

// Parse reads a complete encoding table from r.
func Parse(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)

	var raw [headerSize]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, &core.FormatError{Structure: "encoding header", Detail: "short read", Err: err}
	}
	if string(raw[0:2]) != magic {
		return nil, core.Formatf("encoding header", "bad magic %q", raw[0:2])
	}
	h := Header{
		Version:        raw[2],
		CKeySize:       raw[3],
		EKeySize:       raw[4],
		ContentPageKB:  binary.BigEndian.Uint16(raw[5:7]),
		EncodingPageKB: binary.BigEndian.Uint16(raw[7:9]),
		ContentPages:   binary.BigEndian.Uint32(raw[9:13]),
		EncodingPages:  binary.BigEndian.Uint32(raw[13:17]),
	}
	switch {
	case h.Version != Version:
		return nil, core.Formatf("encoding header", "version %d, want %d", h.Version, Version)
	case h.CKeySize == 0 || h.CKeySize > core.KeySize:
		return nil, core.Formatf("encoding header", "content key size %d", h.CKeySize)
	case h.EKeySize == 0 || h.EKeySize > core.KeySize:
		return nil, core.Formatf("encoding header", "encoding key size %d", h.EKeySize)
	case raw[17] != 0:
		return nil, core.Formatf("encoding header", "unexpected flags %#x", raw[17])
	}

	specLen := binary.BigEndian.Uint32(raw[18:22])
	specBlock, err := io.ReadAll(io.LimitReader(br, int64(specLen)))
	if err != nil {
		return nil, fmt.Errorf("failed to read encoding spec block: %w", err)
	}
	if uint32(len(specBlock)) < specLen {
		return nil, &core.FormatError{Structure: "encoding spec block", Detail: "short read", Err: io.ErrUnexpectedEOF}
	}

	t := &Table{
		header:   h,
		specs:    splitSpecs(specBlock),
		content:  make(map[core.Key]ContentEntry),
		encoding: make(map[core.Key]EncodingEntry),
	}

	ceIndex, err := readPageIndex(br, h.ContentPages, int(h.CKeySize), "content page index")
	if err != nil {
		return nil, err
	}
	err = readPages(br, ceIndex, int(h.ContentPageKB)*1024, "content page", func(i int, page []byte, first core.Key) error {
		return t.parseContentPage(i, page, first)
	})
	if err != nil {
		return nil, err
	}

	ekIndex, err := readPageIndex(br, h.EncodingPages, int(h.EKeySize), "encoding page index")
	if err != nil {
		return nil, err
	}
	err = readPages(br, ekIndex, int(h.EncodingPageKB)*1024, "encoding page", func(i int, page []byte, first core.Key) error {
		return t.parseEncodingPage(i, page, first)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ParseBytes parses an encoding table held in memory.
func ParseBytes(data []byte) (*Table, error) {
	return Parse(bytes.NewReader(data))
}

// splitSpecs splits the NUL terminated spec strings. Trailing bytes without a
// terminator are ignored.
func splitSpecs(block []byte) []string {
	var specs []string
	for {
		i := bytes.IndexByte(block, 0)
		if i < 0 {
			return specs
		}
		specs = append(specs, string(block[:i]))
		block = block[i+1:]
	}
}

// readPageIndex reads count [first key][md5] rows.
func readPageIndex(r io.Reader, count uint32, keySize int, structure string) ([]pageInfo, error) {
	pages := make([]pageInfo, 0, min(count, maxPreallocPages))
	raw := make([]byte, keySize+core.KeySize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, &core.FormatError{Structure: structure, Detail: fmt.Sprintf("short read at page %d", i), Err: err}
		}
		pages = append(pages, pageInfo{
			first:  core.KeyFromBytes(raw[:keySize]),
			digest: core.KeyFromBytes(raw[keySize:]),
		})
	}
	return pages, nil
}

func readPages(r io.Reader, pages []pageInfo, size int, structure string, parse func(int, []byte, core.Key) error) error {
	if len(pages) == 0 {
		return nil
	}
	buf := make([]byte, size)
	for i, p := range pages {
		if _, err := io.ReadFull(r, buf); err != nil {
			return &core.FormatError{Structure: structure, Detail: fmt.Sprintf("short read at page %d", i), Err: err}
		}
		if got := checksum.MD5(buf); got != p.digest {
			return core.Integrityf(fmt.Sprintf("%s %d", structure, i), p.digest, got)
		}
		if err := parse(i, buf, p.first); err != nil {
			return err
		}
	}
	return nil
}

// parseContentPage reads [u8 count][u40 size][ckey][count x ekey] entries
// until the page is exhausted or padding starts.
func (t *Table) parseContentPage(n int, page []byte, first core.Key) error {
	ck, ek := int(t.header.CKeySize), int(t.header.EKeySize)
	for pos := 0; pos+1+5+ck <= len(page); {
		count := int(page[pos])
		if count == 0 {
			break
		}
		end := pos + 1 + 5 + ck + count*ek
		if end > len(page) {
			break
		}
		e := ContentEntry{
			Size:  readUint40(page[pos+1:]),
			CKey:  core.KeyFromBytes(page[pos+6 : pos+6+ck]),
			EKeys: make([]core.Key, count),
		}
		for i := range e.EKeys {
			off := pos + 6 + ck + i*ek
			e.EKeys[i] = core.KeyFromBytes(page[off : off+ek])
		}
		if pos == 0 && e.CKey != first {
			return core.Integrityf(fmt.Sprintf("content page %d first key", n), first, e.CKey)
		}
		t.content[e.CKey] = e
		pos = end
	}
	return nil
}

// parseEncodingPage reads [ekey][u32 spec index][u40 size] entries until the
// page is exhausted or a zero key starts the padding.
func (t *Table) parseEncodingPage(n int, page []byte, first core.Key) error {
	ek := int(t.header.EKeySize)
	width := ek + 4 + 5
	for pos := 0; pos+width <= len(page); pos += width {
		key := core.KeyFromBytes(page[pos : pos+ek])
		if key.IsZero() {
			break
		}
		if pos == 0 && key != first {
			return core.Integrityf(fmt.Sprintf("encoding page %d first key", n), first, key)
		}
		spec := ""
		if idx := binary.BigEndian.Uint32(page[pos+ek:]); uint64(idx) < uint64(len(t.specs)) {
			spec = t.specs[idx]
		}
		t.encoding[key] = EncodingEntry{EKey: key, Spec: spec, Size: readUint40(page[pos+ek+4:])}
	}
	return nil
}

func readUint40(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}

// Header returns the parsed table header.
func (t *Table) Header() Header { return t.header }

// Resolve returns the first encoding key of ckey.
func (t *Table) Resolve(ckey core.Key) (core.Key, bool) {
	e, ok := t.content[ckey.Truncate(int(t.header.CKeySize))]
	if !ok || len(e.EKeys) == 0 {
		return core.Key{}, false
	}
	return e.EKeys[0], true
}

// EncodingKeys returns every encoding key of ckey, or nil when it is unknown.
func (t *Table) EncodingKeys(ckey core.Key) []core.Key {
	e, ok := t.content[ckey.Truncate(int(t.header.CKeySize))]
	if !ok {
		return nil
	}
	return append([]core.Key(nil), e.EKeys...)
}

// ContentSize returns the decoded size of ckey.
func (t *Table) ContentSize(ckey core.Key) (uint64, bool) {
	e, ok := t.content[ckey.Truncate(int(t.header.CKeySize))]
	return e.Size, ok
}

// Spec returns the encoding spec string of ekey.
func (t *Table) Spec(ekey core.Key) (string, bool) {
	e, ok := t.encoding[ekey.Truncate(int(t.header.EKeySize))]
	return e.Spec, ok
}

// EncodedSize returns the encoded size of ekey.
func (t *Table) EncodedSize(ekey core.Key) (uint64, bool) {
	e, ok := t.encoding[ekey.Truncate(int(t.header.EKeySize))]
	return e.Size, ok
}

// Specs returns the spec strings in table order.
func (t *Table) Specs() []string {
	return append([]string(nil), t.specs...)
}

// ContentKeyCount returns the number of distinct content keys.
func (t *Table) ContentKeyCount() int { return len(t.content) }

// EncodingKeyCount returns the number of distinct encoding keys.
func (t *Table) EncodingKeyCount() int { return len(t.encoding) }
