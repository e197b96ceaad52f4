package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/INLOpen/casc/checksum"
	"github.com/INLOpen/casc/core"
)

// ManifestTag names a tag and the indexes of the files it selects.
type ManifestTag struct {
	Name  string
	Type  uint16
	Files []int
}

// InstallFile is one row of an install manifest.
type InstallFile struct {
	Name string
	CKey core.Key
	Size uint32
}

// InstallManifest describes an install manifest to build.
type InstallManifest struct {
	Tags  []ManifestTag
	Files []InstallFile
}

// Build returns the encoded manifest.
func (m InstallManifest) Build() []byte {
	var buf bytes.Buffer
	buf.WriteString("IN")
	buf.Write([]byte{1, core.KeySize})
	binary.Write(&buf, binary.BigEndian, uint16(len(m.Tags)))
	binary.Write(&buf, binary.BigEndian, uint32(len(m.Files)))
	writeTags(&buf, m.Tags, len(m.Files))
	for _, f := range m.Files {
		buf.WriteString(f.Name)
		buf.WriteByte(0)
		buf.Write(f.CKey[:])
		binary.Write(&buf, binary.BigEndian, f.Size)
	}
	return buf.Bytes()
}

// DownloadFile is one row of a download manifest.
type DownloadFile struct {
	EKey     core.Key
	Size     uint64
	Priority int8
	Checksum uint32
}

// DownloadManifest describes a download manifest to build.
type DownloadManifest struct {
	HasChecksums bool
	Files        []DownloadFile
	Tags         []ManifestTag
}

// Build returns the encoded manifest.
func (m DownloadManifest) Build() []byte {
	var buf bytes.Buffer
	buf.WriteString("DL")
	flag := byte(0)
	if m.HasChecksums {
		flag = 1
	}
	buf.Write([]byte{1, core.KeySize, flag})
	binary.Write(&buf, binary.BigEndian, uint32(len(m.Files)))
	binary.Write(&buf, binary.BigEndian, uint16(len(m.Tags)))
	for _, f := range m.Files {
		buf.Write(f.EKey[:])
		buf.Write(appendUint40(nil, f.Size))
		buf.WriteByte(byte(f.Priority))
		if m.HasChecksums {
			binary.Write(&buf, binary.BigEndian, f.Checksum)
		}
	}
	writeTags(&buf, m.Tags, len(m.Files))
	return buf.Bytes()
}

func writeTags(buf *bytes.Buffer, tags []ManifestTag, files int) {
	for _, t := range tags {
		buf.WriteString(t.Name)
		buf.WriteByte(0)
		binary.Write(buf, binary.BigEndian, t.Type)
		mask := make([]byte, (files+7)/8)
		for _, i := range t.Files {
			mask[i/8] |= 0x80 >> (i % 8)
		}
		buf.Write(mask)
	}
}

// ArchiveIndexEntry is one row of an archive index.
type ArchiveIndexEntry struct {
	EKey   core.Key
	Offset uint32
	Size   uint32
}

// BuildArchiveIndex lays entries out PerBlock to a 4 KiB block (as many as fit
// when perBlock is zero), then writes the table of contents and the footer.
func BuildArchiveIndex(entries []ArchiveIndexEntry, perBlock int) []byte {
	const blockSize, entrySize = 4096, core.KeySize + 8
	if perBlock <= 0 {
		perBlock = blockSize / entrySize
	}
	var blocks, lastKeys [][]byte
	for _, group := range paginate(len(entries), perBlock) {
		block := make([]byte, 0, blockSize)
		for _, e := range entries[group[0]:group[1]] {
			block = append(block, e.EKey[:]...)
			block = binary.BigEndian.AppendUint32(block, e.Offset)
			block = binary.BigEndian.AppendUint32(block, e.Size)
		}
		last := entries[group[1]-1].EKey
		lastKeys = append(lastKeys, last[:])
		blocks = append(blocks, append(block, make([]byte, blockSize-len(block))...))
	}

	var buf bytes.Buffer
	for _, b := range blocks {
		buf.Write(b)
	}
	var toc []byte
	for _, k := range lastKeys {
		toc = append(toc, k...)
	}
	for _, b := range blocks {
		digest := checksum.MD5(b)
		toc = append(toc, digest[:8]...)
	}
	buf.Write(toc)

	tocDigest := checksum.MD5(toc)
	footer := append([]byte(nil), tocDigest[8:]...)
	footer = append(footer, 1, 0, 0, 4, 4, 4, core.KeySize, 8)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(entries)))
	footerDigest := checksum.MD5(footer)
	footer = append(footer, footerDigest[:8]...)
	buf.Write(footer)
	return buf.Bytes()
}
