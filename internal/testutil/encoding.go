package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
)

// ContentEntry maps a content key to its encoding keys.
type ContentEntry struct {
	CKey  core.Key
	Size  uint64
	EKeys []core.Key
}

// EncodingEntry maps an encoding key to a spec string index.
type EncodingEntry struct {
	EKey      core.Key
	SpecIndex uint32
	Size      uint64
}

// EncodingFile describes an encoding table to build. Entries are laid out in
// the given order, PerPage entries per page (all on one page when zero).
type EncodingFile struct {
	ContentPageKB  uint16
	EncodingPageKB uint16
	Specs          []string
	Content        []ContentEntry
	Encoding       []EncodingEntry
	PerPage        int
}

// Build returns the encoded table.
func (f EncodingFile) Build() []byte {
	ceKB, ekKB := f.ContentPageKB, f.EncodingPageKB
	if ceKB == 0 {
		ceKB = 1
	}
	if ekKB == 0 {
		ekKB = 1
	}

	var cePages, ekPages [][]byte
	var ceFirst, ekFirst []core.Key
	for _, group := range paginate(len(f.Content), f.PerPage) {
		var page []byte
		for _, e := range f.Content[group[0]:group[1]] {
			page = append(page, byte(len(e.EKeys)))
			page = appendUint40(page, e.Size)
			page = append(page, e.CKey[:]...)
			for _, ek := range e.EKeys {
				page = append(page, ek[:]...)
			}
		}
		cePages = append(cePages, padPage(page, ceKB))
		ceFirst = append(ceFirst, f.Content[group[0]].CKey)
	}
	for _, group := range paginate(len(f.Encoding), f.PerPage) {
		var page []byte
		for _, e := range f.Encoding[group[0]:group[1]] {
			page = append(page, e.EKey[:]...)
			page = binary.BigEndian.AppendUint32(page, e.SpecIndex)
			page = appendUint40(page, e.Size)
		}
		ekPages = append(ekPages, padPage(page, ekKB))
		ekFirst = append(ekFirst, f.Encoding[group[0]].EKey)
	}

	var specBlock []byte
	for _, s := range f.Specs {
		specBlock = append(specBlock, s...)
		specBlock = append(specBlock, 0)
	}

	var buf bytes.Buffer
	buf.WriteString("EN")
	buf.WriteByte(1)
	buf.WriteByte(core.KeySize)
	buf.WriteByte(core.KeySize)
	binary.Write(&buf, binary.BigEndian, ceKB)
	binary.Write(&buf, binary.BigEndian, ekKB)
	binary.Write(&buf, binary.BigEndian, uint32(len(cePages)))
	binary.Write(&buf, binary.BigEndian, uint32(len(ekPages)))
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint32(len(specBlock)))
	buf.Write(specBlock)
	writePages(&buf, ceFirst, cePages)
	writePages(&buf, ekFirst, ekPages)
	return buf.Bytes()
}

func writePages(buf *bytes.Buffer, first []core.Key, pages [][]byte) {
	for i, p := range pages {
		buf.Write(first[i][:])
		digest := checksum.MD5(p)
		buf.Write(digest[:])
	}
	for _, p := range pages {
		buf.Write(p)
	}
}

func paginate(n, perPage int) [][2]int {
	if n == 0 {
		return nil
	}
	if perPage <= 0 {
		perPage = n
	}
	var groups [][2]int
	for start := 0; start < n; start += perPage {
		groups = append(groups, [2]int{start, min(start+perPage, n)})
	}
	return groups
}

func padPage(page []byte, kb uint16) []byte {
	size := int(kb) * 1024
	if len(page) > size {
		panic("testutil: encoding page overflow")
	}
	return append(page, make([]byte, size-len(page))...)
}

func appendUint40(b []byte, v uint64) []byte {
	return append(b, byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
