package index

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/internal/testutil"
)

// keyInBucket returns a distinct key for every seed that hashes to bucket.
func keyInBucket(bucket uint8, seed byte) core.Key {
	var k core.Key
	k[0] = bucket
	k[1], k[2] = seed, seed
	k[12] = seed
	k[15] = 0xEE
	return k
}

// entriesHashOffset is the position of the stored entries hash for a 16 byte
// header block: 8 byte prefix, header, 8 bytes of padding to the 16 byte
// boundary, then entries_len.
const entriesHashOffset = 8 + 16 + 8 + 4

func sampleEntries() []testutil.IndexEntry {
	return []testutil.IndexEntry{
		{Key: keyInBucket(0, 3), File: 3, Offset: 0x12345, Length: 100},
		{Key: keyInBucket(0, 1), File: 0x2A5, Offset: 0x3FFFFFFF, Length: 0xDEADBEEF},
		{Key: keyInBucket(0, 2), File: 0, Offset: 0, Length: 30},
	}
}

func TestParseRoundTrip(t *testing.T) {
	layout := testutil.DefaultIndexLayout(0)
	raw := testutil.BuildIndexFile(layout, sampleEntries())

	idx, err := ParseBytes(raw, Options{Verify: VerifyStrict, CheckBucket: true})
	require.NoError(t, err)
	assert.False(t, idx.Truncated())
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, uint16(Version), idx.Header().Version)
	assert.Equal(t, 18, idx.Header().EntrySize())

	for _, want := range sampleEntries() {
		got, ok := idx.Lookup(want.Key)
		require.True(t, ok, "key %s", want.Key)
		assert.Equal(t, want.File, got.File)
		assert.Equal(t, want.Offset, got.Offset)
		assert.Equal(t, want.Length, got.Length)
		assert.Equal(t, want.Key.Truncate(core.TruncatedKeySize), got.Key)
	}

	_, ok := idx.Lookup(keyInBucket(0, 9))
	assert.False(t, ok)
}

func TestLookupIgnoresBytesPastKeyWidth(t *testing.T) {
	raw := testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries())
	idx, err := ParseBytes(raw, Options{})
	require.NoError(t, err)

	k := keyInBucket(0, 3)
	k[15] = 0x01
	k[10] = 0x77
	e, ok := idx.Lookup(k)
	require.True(t, ok)
	assert.Equal(t, uint32(3), e.File)
}

func TestEntriesAreSorted(t *testing.T) {
	raw := testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries())
	idx, err := ParseBytes(raw, Options{})
	require.NoError(t, err)

	entries := idx.Entries()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.Negative(t, bytes.Compare(entries[i-1].Key[:], entries[i].Key[:]))
	}
}

func TestRange(t *testing.T) {
	raw := testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries())
	idx, err := ParseBytes(raw, Options{})
	require.NoError(t, err)

	seen := 0
	idx.Range(func(e Entry) bool {
		got, ok := idx.Lookup(e.Key)
		assert.True(t, ok)
		assert.Equal(t, e, got)
		seen++
		return true
	})
	assert.Equal(t, idx.Len(), seen)

	seen = 0
	idx.Range(func(Entry) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)
}

func TestAlternateLayout(t *testing.T) {
	layout := testutil.DefaultIndexLayout(0)
	layout.LocationWidth = 4
	layout.SegmentBits = 24
	layout.LengthWidth = 2
	layout.KeyWidth = 16
	entries := []testutil.IndexEntry{
		{Key: keyInBucket(0, 1), File: 0xAB, Offset: 0xFFFFFF, Length: 0x1234},
	}
	idx, err := ParseBytes(testutil.BuildIndexFile(layout, entries), Options{Verify: VerifyStrict})
	require.NoError(t, err)

	e, ok := idx.Lookup(entries[0].Key)
	require.True(t, ok)
	assert.Equal(t, entries[0].Key, e.Key)
	assert.Equal(t, uint32(0xAB), e.File)
	assert.Equal(t, uint64(0xFFFFFF), e.Offset)
	assert.Equal(t, uint32(0x1234), e.Length)
}

func TestEntriesHashVariants(t *testing.T) {
	layout := testutil.DefaultIndexLayout(0)
	layout.ChainedEntriesHash = true
	raw := testutil.BuildIndexFile(layout, sampleEntries())

	idx, err := ParseBytes(raw, Options{Verify: VerifyStrict})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())
}

func TestEntriesHashMismatch(t *testing.T) {
	raw := testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries())
	stored := binary.LittleEndian.Uint32(raw[entriesHashOffset:])
	binary.LittleEndian.PutUint32(raw[entriesHashOffset:], stored^0xFFFF)

	tests := []struct {
		name    string
		mode    VerifyMode
		wantErr bool
	}{
		{name: "strict", mode: VerifyStrict, wantErr: true},
		{name: "warn", mode: VerifyWarn},
		{name: "off", mode: VerifyOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))
			idx, err := ParseBytes(raw, Options{Verify: tt.mode, Logger: logger})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsIntegrityError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, idx.Len())
			if tt.mode == VerifyWarn {
				assert.Contains(t, logs.String(), "Index entries hash mismatch")
			} else {
				assert.Empty(t, logs.String())
			}
		})
	}
}

func TestHeaderErrors(t *testing.T) {
	good := testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries())

	t.Run("header hash", func(t *testing.T) {
		raw := bytes.Clone(good)
		raw[8] ^= 0x01
		_, err := ParseBytes(raw, Options{})
		require.Error(t, err)
		assert.True(t, core.IsIntegrityError(err))
	})

	t.Run("version", func(t *testing.T) {
		layout := testutil.DefaultIndexLayout(0)
		layout.Version = 6
		_, err := ParseBytes(testutil.BuildIndexFile(layout, nil), Options{})
		require.Error(t, err)
		assert.True(t, core.IsUnsupportedFormat(err))
	})

	t.Run("segment bits wider than location", func(t *testing.T) {
		layout := testutil.DefaultIndexLayout(0)
		layout.LocationWidth = 3
		_, err := ParseBytes(testutil.BuildIndexFile(layout, nil), Options{})
		require.Error(t, err)
		assert.True(t, core.IsUnsupportedFormat(err))
	})

	t.Run("short header", func(t *testing.T) {
		_, err := ParseBytes(good[:12], Options{})
		require.Error(t, err)
		assert.True(t, core.IsUnsupportedFormat(err))
	})

	t.Run("missing entries prefix", func(t *testing.T) {
		_, err := ParseBytes(good[:32], Options{})
		require.Error(t, err)
		assert.True(t, core.IsUnsupportedFormat(err))
	})

	t.Run("absurd header length", func(t *testing.T) {
		raw := bytes.Clone(good)
		binary.LittleEndian.PutUint32(raw[0:], 1<<20)
		_, err := ParseBytes(raw, Options{})
		require.Error(t, err)
		assert.True(t, core.IsUnsupportedFormat(err))
	})
}

func TestTruncatedEntriesBlock(t *testing.T) {
	raw := testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries())
	// Cut into the middle of the last entry.
	raw = raw[:len(raw)-5]

	idx, err := ParseBytes(raw, Options{Verify: VerifyStrict})
	require.NoError(t, err)
	assert.True(t, idx.Truncated())
	assert.Equal(t, 2, idx.Len())

	_, ok := idx.Lookup(sampleEntries()[0].Key)
	assert.True(t, ok)
	_, ok = idx.Lookup(sampleEntries()[2].Key)
	assert.False(t, ok)
}

func TestBucketChecks(t *testing.T) {
	layout := testutil.DefaultIndexLayout(2)
	entries := []testutil.IndexEntry{
		{Key: keyInBucket(2, 1), File: 1, Offset: 10, Length: 40},
		{Key: keyInBucket(5, 1), File: 1, Offset: 50, Length: 40},
	}
	raw := testutil.BuildIndexFile(layout, entries)

	idx, err := ParseBytes(raw, Options{CheckBucket: true, Bucket: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, idx.Skipped())

	unchecked, err := ParseBytes(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, unchecked.Len())

	_, err = ParseBytes(raw, Options{CheckBucket: true, Bucket: 3})
	require.Error(t, err)
	assert.True(t, core.IsUnsupportedFormat(err))

	// Keys narrower than the bucket prefix cannot be assigned a bucket.
	short := layout
	short.KeyWidth = 8
	shortRaw := testutil.BuildIndexFile(short, entries[:1])
	_, err = ParseBytes(shortRaw, Options{CheckBucket: true, Bucket: 2})
	require.Error(t, err)
	assert.True(t, core.IsUnsupportedFormat(err))
	assert.Contains(t, err.Error(), "key width 8")

	idx, err = ParseBytes(shortRaw, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "0000000001.idx")
	require.NoError(t, os.WriteFile(path, testutil.BuildIndexFile(testutil.DefaultIndexLayout(0), sampleEntries()), 0o644))

	idx, err := Load(path, Options{CheckBucket: true})
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	_, err = Load(filepath.Join(dir, "missing.idx"), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseVerifyMode(t *testing.T) {
	tests := map[string]VerifyMode{
		"":       VerifyWarn,
		"warn":   VerifyWarn,
		"Strict": VerifyStrict,
		"off":    VerifyOff,
	}
	for in, want := range tests {
		got, err := ParseVerifyMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" {
			assert.Equal(t, want.String(), got.String())
		}
	}
	_, err := ParseVerifyMode("sometimes")
	assert.Error(t, err)
}
