package manifest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/casc/core"
)

const (
	installMagic      = "IN"
	installHeaderSize = 10
)

// InstallFile is one file laid out on disk by an installation.
type InstallFile struct {
	Name string
	CKey core.Key
	Size uint32
}

// Install is a parsed install manifest.
type Install struct {
	Tags  []Tag
	Files []InstallFile
}

// ParseInstall reads an install manifest:
//
//	"IN" u8 version u8 hash_size u16 tag_count u32 file_count
//	tag_count x { name\0 u16 type mask }
//	file_count x { name\0 ckey u32 size }
//
// All integers are big-endian.
func ParseInstall(r io.Reader) (*Install, error) {
	br := bufio.NewReader(r)
	var raw [installHeaderSize]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, &core.FormatError{Structure: "install header", Detail: "short read", Err: err}
	}
	switch {
	case string(raw[0:2]) != installMagic:
		return nil, core.Formatf("install header", "bad magic %q", raw[0:2])
	case raw[2] != Version:
		return nil, core.Formatf("install header", "version %d, want %d", raw[2], Version)
	case raw[3] != core.KeySize:
		return nil, core.Formatf("install header", "hash size %d, want %d", raw[3], core.KeySize)
	}
	tagCount := binary.BigEndian.Uint16(raw[4:6])
	fileCount := binary.BigEndian.Uint32(raw[6:10])

	tags, err := readTags(br, tagCount, fileCount, "install tag")
	if err != nil {
		return nil, err
	}
	files := make([]InstallFile, 0, min(fileCount, maxPrealloc))
	var fixed [core.KeySize + 4]byte
	for i := uint32(0); i < fileCount; i++ {
		name, err := readName(br, "install file")
		if err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(br, fixed[:]); err != nil {
			return nil, &core.FormatError{Structure: "install file", Detail: fmt.Sprintf("short read at file %d", i), Err: err}
		}
		files = append(files, InstallFile{
			Name: name,
			CKey: core.KeyFromBytes(fixed[:core.KeySize]),
			Size: binary.BigEndian.Uint32(fixed[core.KeySize:]),
		})
	}
	return &Install{Tags: tags, Files: files}, nil
}

// ParseInstallBytes parses an install manifest held in memory.
func ParseInstallBytes(data []byte) (*Install, error) {
	return ParseInstall(bytes.NewReader(data))
}

// Select returns the files carrying every one of the named tags, in manifest
// order. An unknown tag name is an error.
func (m *Install) Select(tags ...string) ([]InstallFile, error) {
	sel, err := selectTags(m.Tags, len(m.Files), tags)
	if err != nil {
		return nil, err
	}
	out := make([]InstallFile, 0, sel.GetCardinality())
	it := sel.Iterator()
	for it.HasNext() {
		out = append(out, m.Files[it.Next()])
	}
	return out, nil
}

// TagsOf returns the names of the tags carried by file i.
func (m *Install) TagsOf(i int) []string {
	var names []string
	for _, t := range m.Tags {
		if t.Has(i) {
			names = append(names, t.Name)
		}
	}
	return names
}
