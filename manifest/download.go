package manifest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/INLOpen/casc/core"
)

const (
	downloadMagic      = "DL"
	downloadHeaderSize = 11
)

// DownloadFile is one file to fetch, in download order.
type DownloadFile struct {
	EKey     core.Key
	Size     uint64 // encoded size
	Priority int8   // lower first
	Checksum uint32 // zero when the manifest carries none
}

// Download is a parsed download manifest.
type Download struct {
	HasChecksums bool
	Files        []DownloadFile
	Tags         []Tag
}

// ParseDownload reads a download manifest:
//
//	"DL" u8 version u8 ekey_size u8 has_checksum u32 file_count u16 tag_count
//	file_count x { ekey u40 size i8 priority [u32 checksum] }
//	tag_count x { name\0 u16 type mask }
//
// All integers are big-endian.
func ParseDownload(r io.Reader) (*Download, error) {
	br := bufio.NewReader(r)
	var raw [downloadHeaderSize]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, &core.FormatError{Structure: "download header", Detail: "short read", Err: err}
	}
	switch {
	case string(raw[0:2]) != downloadMagic:
		return nil, core.Formatf("download header", "bad magic %q", raw[0:2])
	case raw[2] != Version:
		return nil, core.Formatf("download header", "version %d, want %d", raw[2], Version)
	case raw[3] != core.KeySize:
		return nil, core.Formatf("download header", "key size %d, want %d", raw[3], core.KeySize)
	case raw[4] > 1:
		return nil, core.Formatf("download header", "checksum flag %d", raw[4])
	}
	d := &Download{HasChecksums: raw[4] == 1}
	fileCount := binary.BigEndian.Uint32(raw[5:9])
	tagCount := binary.BigEndian.Uint16(raw[9:11])

	width := core.KeySize + 5 + 1
	if d.HasChecksums {
		width += 4
	}
	entry := make([]byte, width)
	d.Files = make([]DownloadFile, 0, min(fileCount, maxPrealloc))
	for i := uint32(0); i < fileCount; i++ {
		if _, err := io.ReadFull(br, entry); err != nil {
			return nil, &core.FormatError{Structure: "download file", Detail: fmt.Sprintf("short read at file %d", i), Err: err}
		}
		f := DownloadFile{
			EKey:     core.KeyFromBytes(entry[:core.KeySize]),
			Size:     readUint40(entry[core.KeySize:]),
			Priority: int8(entry[core.KeySize+5]),
		}
		if d.HasChecksums {
			f.Checksum = binary.BigEndian.Uint32(entry[core.KeySize+6:])
		}
		d.Files = append(d.Files, f)
	}

	tags, err := readTags(br, tagCount, fileCount, "download tag")
	if err != nil {
		return nil, err
	}
	d.Tags = tags
	return d, nil
}

// ParseDownloadBytes parses a download manifest held in memory.
func ParseDownloadBytes(data []byte) (*Download, error) {
	return ParseDownload(bytes.NewReader(data))
}

// Select returns the files carrying every one of the named tags, ordered by
// priority and then manifest order.
func (d *Download) Select(tags ...string) ([]DownloadFile, error) {
	sel, err := selectTags(d.Tags, len(d.Files), tags)
	if err != nil {
		return nil, err
	}
	out := make([]DownloadFile, 0, sel.GetCardinality())
	it := sel.Iterator()
	for it.HasNext() {
		out = append(out, d.Files[it.Next()])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// TotalSize sums the encoded sizes of files.
func TotalSize(files []DownloadFile) uint64 {
	var n uint64
	for _, f := range files {
		n += f.Size
	}
	return n
}
