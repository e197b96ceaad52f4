package manifest

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/internal/testutil"
)

var (
	keyA = core.MustParseKey("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1")
	keyB = core.MustParseKey("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2")
	keyC = core.MustParseKey("ccccccccccccccccccccccccccccccc3")
)

func sampleInstall() testutil.InstallManifest {
	files := []testutil.InstallFile{
		{Name: "Game.exe", CKey: keyA, Size: 1 << 20},
		{Name: "Game-arm64", CKey: keyB, Size: 900},
		{Name: "Data/enUS/locale.mpq", CKey: keyC, Size: 42},
	}
	// Nine files so the masks span two bytes.
	for i := 3; i < 9; i++ {
		files = append(files, testutil.InstallFile{Name: string(rune('a' + i)), CKey: keyA, Size: uint32(i)})
	}
	return testutil.InstallManifest{
		Tags: []testutil.ManifestTag{
			{Name: "Windows", Type: 1, Files: []int{0, 2, 8}},
			{Name: "OSX", Type: 1, Files: []int{1, 2}},
			{Name: "enUS", Type: 3, Files: []int{2, 8}},
		},
		Files: files,
	}
}

func TestParseInstall(t *testing.T) {
	m, err := ParseInstallBytes(sampleInstall().Build())
	require.NoError(t, err)

	require.Len(t, m.Files, 9)
	assert.Equal(t, InstallFile{Name: "Game.exe", CKey: keyA, Size: 1 << 20}, m.Files[0])
	assert.Equal(t, "Data/enUS/locale.mpq", m.Files[2].Name)

	require.Len(t, m.Tags, 3)
	assert.Equal(t, "enUS", m.Tags[2].Name)
	assert.Equal(t, uint16(3), m.Tags[2].Type)
	assert.True(t, m.Tags[0].Has(8))
	assert.False(t, m.Tags[0].Has(1))
	assert.False(t, m.Tags[0].Has(-1))
	assert.Equal(t, []string{"Windows", "OSX", "enUS"}, m.TagsOf(2))
	assert.Nil(t, m.TagsOf(3))
}

func TestInstallSelect(t *testing.T) {
	m, err := ParseInstallBytes(sampleInstall().Build())
	require.NoError(t, err)

	all, err := m.Select()
	require.NoError(t, err)
	assert.Len(t, all, 9)

	win, err := m.Select("Windows", "enUS")
	require.NoError(t, err)
	require.Len(t, win, 2)
	assert.Equal(t, "Data/enUS/locale.mpq", win[0].Name)
	assert.Equal(t, "i", win[1].Name)

	_, err = m.Select("Linux")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown tag "Linux"`)
}

func TestParseInstallErrors(t *testing.T) {
	valid := sampleInstall().Build()

	testCases := []struct {
		name   string
		mutate func([]byte) []byte
		want   string
	}{
		{"BadMagic", func(b []byte) []byte { b[0] = 'X'; return b }, "bad magic"},
		{"Version", func(b []byte) []byte { b[2] = 2; return b }, "version 2"},
		{"HashSize", func(b []byte) []byte { b[3] = 9; return b }, "hash size 9"},
		{"ShortHeader", func(b []byte) []byte { return b[:5] }, "short read"},
		{"TruncatedFiles", func(b []byte) []byte { return b[:len(b)-3] }, "short read"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.mutate(append([]byte(nil), valid...))
			_, err := ParseInstallBytes(data)
			require.Error(t, err)
			assert.True(t, core.IsUnsupportedFormat(err), "got %v", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseInstallTruncatedMask(t *testing.T) {
	m := testutil.InstallManifest{
		Tags:  []testutil.ManifestTag{{Name: "Windows", Files: []int{0}}},
		Files: []testutil.InstallFile{{Name: "a", CKey: keyA}},
	}
	data := m.Build()
	// Header, "Windows\0", type, then the one byte mask is cut.
	cut := data[:10+8+2]
	_, err := ParseInstallBytes(cut)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "mask")
}

func TestParseInstallUnterminatedName(t *testing.T) {
	data := testutil.InstallManifest{}.Build()
	// Claim one file whose name never ends.
	data[9] = 1
	data = append(data, bytes.Repeat([]byte{'x'}, 8)...)
	_, err := ParseInstallBytes(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated name")
}

func sampleDownload(checksums bool) testutil.DownloadManifest {
	return testutil.DownloadManifest{
		HasChecksums: checksums,
		Files: []testutil.DownloadFile{
			{EKey: keyA, Size: 1 << 33, Priority: 2, Checksum: 0xdeadbeef},
			{EKey: keyB, Size: 10, Priority: -1, Checksum: 1},
			{EKey: keyC, Size: 20, Priority: 0, Checksum: 2},
		},
		Tags: []testutil.ManifestTag{
			{Name: "Windows", Type: 1, Files: []int{0, 1, 2}},
			{Name: "speech", Type: 4, Files: []int{0, 2}},
		},
	}
}

func TestParseDownload(t *testing.T) {
	for _, checksums := range []bool{false, true} {
		d, err := ParseDownloadBytes(sampleDownload(checksums).Build())
		require.NoError(t, err)
		assert.Equal(t, checksums, d.HasChecksums)
		require.Len(t, d.Files, 3)
		assert.Equal(t, keyA, d.Files[0].EKey)
		assert.Equal(t, uint64(1<<33), d.Files[0].Size)
		assert.Equal(t, int8(-1), d.Files[1].Priority)
		if checksums {
			assert.Equal(t, uint32(0xdeadbeef), d.Files[0].Checksum)
		} else {
			assert.Zero(t, d.Files[0].Checksum)
		}
		require.Len(t, d.Tags, 2)
		assert.Equal(t, "speech", d.Tags[1].Name)
		assert.Equal(t, uint64(2), d.Tags[1].Files.GetCardinality())
	}
}

func TestDownloadSelectOrdersByPriority(t *testing.T) {
	d, err := ParseDownloadBytes(sampleDownload(true).Build())
	require.NoError(t, err)

	files, err := d.Select("Windows")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []core.Key{keyB, keyC, keyA}, []core.Key{files[0].EKey, files[1].EKey, files[2].EKey})
	assert.Equal(t, uint64(1<<33+30), TotalSize(files))

	speech, err := d.Select("Windows", "speech")
	require.NoError(t, err)
	require.Len(t, speech, 2)
	assert.Equal(t, keyC, speech[0].EKey)
}

func TestParseDownloadErrors(t *testing.T) {
	valid := sampleDownload(false).Build()

	testCases := []struct {
		name   string
		mutate func([]byte) []byte
		want   string
	}{
		{"BadMagic", func(b []byte) []byte { b[1] = 'X'; return b }, "bad magic"},
		{"Version", func(b []byte) []byte { b[2] = 3; return b }, "version 3"},
		{"KeySize", func(b []byte) []byte { b[3] = 9; return b }, "key size 9"},
		{"ChecksumFlag", func(b []byte) []byte { b[4] = 7; return b }, "checksum flag 7"},
		{"TruncatedFiles", func(b []byte) []byte { return b[:11+22+5] }, "short read at file 1"},
		{"TruncatedTags", func(b []byte) []byte { return b[:len(b)-1] }, "mask"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.mutate(append([]byte(nil), valid...))
			_, err := ParseDownloadBytes(data)
			require.Error(t, err)
			assert.True(t, core.IsUnsupportedFormat(err), "got %v", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseDownloadHugeCountsFailFast(t *testing.T) {
	data := testutil.DownloadManifest{}.Build()
	// Four billion files and no bytes to back them.
	copy(data[5:9], []byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ParseDownloadBytes(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF))
}
