package archiveindex

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/internal/testutil"
)

// sortedEntries returns n entries in ascending key order.
func sortedEntries(n int) []testutil.ArchiveIndexEntry {
	entries := make([]testutil.ArchiveIndexEntry, n)
	for i := range entries {
		entries[i] = testutil.ArchiveIndexEntry{
			EKey:   core.MustParseKey(fmt.Sprintf("%08x000000000000000000000000", i+1)),
			Offset: uint32(i) * 100,
			Size:   uint32(i) + 7,
		}
	}
	return entries
}

func TestParseSingleBlock(t *testing.T) {
	entries := sortedEntries(5)
	x, err := ParseBytes(testutil.BuildArchiveIndex(entries, 0))
	require.NoError(t, err)

	assert.Equal(t, 5, x.Len())
	f := x.Footer()
	assert.Equal(t, uint8(Version), f.Version)
	assert.Equal(t, uint8(4), f.BlockKB)
	assert.Equal(t, uint32(5), f.EntryCount)

	e, ok := x.Lookup(entries[3].EKey)
	require.True(t, ok)
	assert.Equal(t, Entry{EKey: entries[3].EKey, Offset: 300, Size: 10}, e)

	_, ok = x.Lookup(core.MustParseKey("ffffffff000000000000000000000000"))
	assert.False(t, ok)
}

func TestParseManyBlocks(t *testing.T) {
	// 171 full blocks push the table of contents past one block.
	entries := sortedEntries(171 * 2)
	data := testutil.BuildArchiveIndex(entries, 2)
	require.Equal(t, 171*(BlockSize+tocEntrySize)+FooterSize, len(data))

	x, err := ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, len(entries), x.Len())
	assert.Equal(t, entries[341].EKey, x.Entries()[341].EKey)

	block, ok := x.Block(entries[5].EKey)
	require.True(t, ok)
	assert.Equal(t, 2, block)
	block, ok = x.Block(entries[4].EKey)
	require.True(t, ok)
	assert.Equal(t, 2, block)
	_, ok = x.Block(core.MustParseKey("ffffffff000000000000000000000000"))
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	valid := testutil.BuildArchiveIndex(sortedEntries(3), 0)
	footer := len(valid) - FooterSize

	testCases := []struct {
		name      string
		mutate    func([]byte) []byte
		want      string
		integrity bool
	}{
		{"BadSize", func(b []byte) []byte { return b[:len(b)-1] }, "not blocks plus", false},
		{"Version", func(b []byte) []byte { b[footer+8] = 2; return b }, "version 2", false},
		{"Reserved", func(b []byte) []byte { b[footer+10] = 1; return b }, "reserved", false},
		{"BlockSize", func(b []byte) []byte { b[footer+11] = 8; return b }, "block size 8", false},
		{"KeySize", func(b []byte) []byte { b[footer+14] = 9; return b }, "key size 9", false},
		{"ChecksumSize", func(b []byte) []byte { b[footer+15] = 16; return b }, "checksum size 16", false},
		{"EntryCount", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[footer+16:], 4)
			return b
		}, "footer counts 4 entries", false},
		{"TOCChecksum", func(b []byte) []byte { b[BlockSize] ^= 0xFF; return b }, "table of contents", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.mutate(append([]byte(nil), valid...))
			_, err := ParseBytes(data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Equal(t, tc.integrity, core.IsIntegrityError(err), "got %v", err)
			assert.Equal(t, !tc.integrity, core.IsUnsupportedFormat(err), "got %v", err)
		})
	}
}

func TestParseBlockDisagreesWithTOC(t *testing.T) {
	data := testutil.BuildArchiveIndex(sortedEntries(3), 0)
	// Drop the last entry from the block; the table of contents still names it.
	copy(data[2*entrySize:3*entrySize], make([]byte, entrySize))

	_, err := ParseBytes(data)
	require.Error(t, err)
	assert.True(t, core.IsIntegrityError(err))
	assert.Contains(t, err.Error(), "block 0 last key")
}
