// Package manifest parses the install ("IN") and download ("DL") manifests.
// Both list files by key and attach named tags, each tag selecting a subset of
// the files through a bitmask.
package manifest

import (
	"bufio"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring"

	"github.com/INLOpen/casc/core"
)

const (
	// Version is the only manifest version understood.
	Version     = 1
	// maxPrealloc caps slice capacity taken from untrusted counts.
	maxPrealloc = 1 << 16
	// maxNameLen bounds a NUL terminated name.
	maxNameLen  = 1 << 12
)

// Tag is a named subset of a manifest's files, such as a platform, a locale
// or an architecture.
type Tag struct {
	Name string
	Type uint16

	// Files holds the indexes of the tagged files.
	Files *roaring.Bitmap
}

// Has reports whether the file at index i carries the tag.
func (t Tag) Has(i int) bool {
	return i >= 0 && t.Files.Contains(uint32(i))
}

// selectTags intersects the file sets of the named tags. No names selects
// every one of n files.
func selectTags(tags []Tag, n int, names []string) (*roaring.Bitmap, error) {
	sel := roaring.New()
	sel.AddRange(0, uint64(n))
	for _, name := range names {
		found := false
		for _, t := range tags {
			if t.Name == name {
				sel.And(t.Files)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown tag %q", name)
		}
	}
	return sel, nil
}

// readTags reads count [name\0][u16 type][mask] rows. The mask has one bit per
// file, most significant bit first.
func readTags(br *bufio.Reader, count uint16, files uint32, structure string) ([]Tag, error) {
	tags := make([]Tag, 0, count)
	maskLen := (int64(files) + 7) / 8
	for i := 0; i < int(count); i++ {
		name, err := readName(br, structure)
		if err != nil {
			return nil, err
		}
		var raw [2]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			return nil, &core.FormatError{Structure: structure, Detail: fmt.Sprintf("short read in tag %d", i), Err: err}
		}
		mask, err := io.ReadAll(io.LimitReader(br, maskLen))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s tag %d: %w", structure, i, err)
		}
		if int64(len(mask)) < maskLen {
			return nil, &core.FormatError{Structure: structure, Detail: fmt.Sprintf("tag %q mask cut short", name), Err: io.ErrUnexpectedEOF}
		}
		tags = append(tags, Tag{
			Name:  name,
			Type:  uint16(raw[0])<<8 | uint16(raw[1]),
			Files: maskToBitmap(mask, files),
		})
	}
	return tags, nil
}

func maskToBitmap(mask []byte, files uint32) *roaring.Bitmap {
	bm := roaring.New()
	for i, b := range mask {
		for bit := 0; b != 0 && bit < 8; bit++ {
			idx := uint32(i)*8 + uint32(bit)
			if b&(0x80>>bit) != 0 && idx < files {
				bm.Add(idx)
			}
		}
	}
	return bm
}

// readName reads a NUL terminated string.
func readName(br *bufio.Reader, structure string) (string, error) {
	var name []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", &core.FormatError{Structure: structure, Detail: "unterminated name", Err: io.ErrUnexpectedEOF}
		}
		if c == 0 {
			return string(name), nil
		}
		if len(name) == maxNameLen {
			return "", core.Formatf(structure, "name longer than %d bytes", maxNameLen)
		}
		name = append(name, c)
	}
}

func readUint40(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}
