package encodingtable

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/internal/testutil"
)

var (
	ckeyA = core.MustParseKey("1111111111111111111111111111111a")
	ckeyB = core.MustParseKey("2222222222222222222222222222222b")
	ckeyC = core.MustParseKey("3333333333333333333333333333333c")
	ekey1 = core.MustParseKey("a0000000000000000000000000000001")
	ekey2 = core.MustParseKey("b0000000000000000000000000000002")
	ekey3 = core.MustParseKey("c0000000000000000000000000000003")
)

func sampleFile() testutil.EncodingFile {
	return testutil.EncodingFile{
		Specs: []string{"n", "z", "b:{256K*=z}"},
		Content: []testutil.ContentEntry{
			{CKey: ckeyA, Size: 100, EKeys: []core.Key{ekey1}},
			{CKey: ckeyB, Size: 1 << 33, EKeys: []core.Key{ekey2, ekey3}},
		},
		Encoding: []testutil.EncodingEntry{
			{EKey: ekey1, SpecIndex: 1, Size: 40},
			{EKey: ekey2, SpecIndex: 2, Size: 1 << 32},
			{EKey: ekey3, SpecIndex: 99, Size: 7},
		},
		PerPage: 1,
	}
}

// specBlockLen is the length of the sample spec block.
const specBlockLen = len("n\x00z\x00b:{256K*=z}\x00")

func TestResolveAcrossPages(t *testing.T) {
	tbl, err := ParseBytes(sampleFile().Build())
	require.NoError(t, err)

	assert.Equal(t, uint32(2), tbl.Header().ContentPages)
	assert.Equal(t, uint32(3), tbl.Header().EncodingPages)
	assert.Equal(t, 2, tbl.ContentKeyCount())
	assert.Equal(t, 3, tbl.EncodingKeyCount())

	// ckeyB lives on the second content page.
	ek, ok := tbl.Resolve(ckeyB)
	require.True(t, ok)
	assert.Equal(t, ekey2, ek)
	assert.Equal(t, []core.Key{ekey2, ekey3}, tbl.EncodingKeys(ckeyB))

	ek, ok = tbl.Resolve(ckeyA)
	require.True(t, ok)
	assert.Equal(t, ekey1, ek)

	_, ok = tbl.Resolve(ckeyC)
	assert.False(t, ok)
	assert.Nil(t, tbl.EncodingKeys(ckeyC))
}

func TestSizesAndSpecs(t *testing.T) {
	tbl, err := ParseBytes(sampleFile().Build())
	require.NoError(t, err)

	size, ok := tbl.ContentSize(ckeyB)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<33), size)

	size, ok = tbl.EncodedSize(ekey2)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<32), size)

	spec, ok := tbl.Spec(ekey1)
	require.True(t, ok)
	assert.Equal(t, "z", spec)

	// An out of range spec index maps to the empty spec.
	spec, ok = tbl.Spec(ekey3)
	require.True(t, ok)
	assert.Equal(t, "", spec)

	_, ok = tbl.Spec(ckeyA)
	assert.False(t, ok)

	assert.Equal(t, []string{"n", "z", "b:{256K*=z}"}, tbl.Specs())
}

func TestSinglePage(t *testing.T) {
	f := sampleFile()
	f.PerPage = 0
	tbl, err := ParseBytes(f.Build())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tbl.Header().ContentPages)
	assert.Equal(t, 2, tbl.ContentKeyCount())
	assert.Equal(t, 3, tbl.EncodingKeyCount())
}

func TestEmptyTable(t *testing.T) {
	tbl, err := ParseBytes(testutil.EncodingFile{}.Build())
	require.NoError(t, err)
	assert.Zero(t, tbl.ContentKeyCount())
	assert.Zero(t, tbl.EncodingKeyCount())
	assert.Empty(t, tbl.Specs())
}

func TestIntegrityErrors(t *testing.T) {
	// Header, spec block, then two content page index rows.
	ceIndexStart := headerSize + specBlockLen
	cePagesStart := ceIndexStart + 2*32

	t.Run("page digest", func(t *testing.T) {
		raw := sampleFile().Build()
		raw[cePagesStart+1024+3] ^= 0xFF
		_, err := ParseBytes(raw)
		require.Error(t, err)
		assert.True(t, core.IsIntegrityError(err))
	})

	t.Run("padding byte", func(t *testing.T) {
		raw := sampleFile().Build()
		raw[cePagesStart+1000] = 0x01
		_, err := ParseBytes(raw)
		require.Error(t, err)
		assert.True(t, core.IsIntegrityError(err))
	})

	t.Run("first key", func(t *testing.T) {
		raw := sampleFile().Build()
		raw[ceIndexStart] ^= 0xFF
		_, err := ParseBytes(raw)
		require.Error(t, err)
		assert.True(t, core.IsIntegrityError(err))
	})
}

func TestFormatErrors(t *testing.T) {
	good := sampleFile().Build()
	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{name: "magic", mutate: func(b []byte) []byte { b[0] = 'X'; return b }},
		{name: "version", mutate: func(b []byte) []byte { b[2] = 2; return b }},
		{name: "ckey size", mutate: func(b []byte) []byte { b[3] = 0; return b }},
		{name: "ekey size", mutate: func(b []byte) []byte { b[4] = 17; return b }},
		{name: "flags", mutate: func(b []byte) []byte { b[17] = 1; return b }},
		{name: "short header", mutate: func(b []byte) []byte { return b[:10] }},
		{name: "short spec block", mutate: func(b []byte) []byte { return b[:headerSize+2] }},
		{name: "short page", mutate: func(b []byte) []byte { return b[:len(b)-1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes(tt.mutate(bytes.Clone(good)))
			require.Error(t, err)
			assert.True(t, core.IsUnsupportedFormat(err), "got %v", err)
		})
	}

	_, err := ParseBytes(good[:len(good)-1])
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSplitSpecs(t *testing.T) {
	assert.Equal(t, []string{"a", "", "bc"}, splitSpecs([]byte("a\x00\x00bc\x00dangling")))
	assert.Nil(t, splitSpecs(nil))
}
