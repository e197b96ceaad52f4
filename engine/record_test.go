package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/casc/core"
	"github.com/INLOpen/casc/index"
	"github.com/INLOpen/casc/internal/testutil"
)

func TestVerifyRecordHeader(t *testing.T) {
	key := core.MustParseKey("00112233445566778899aabbccddeeff")
	container := testutil.BuildContainer(testutil.RawChunk([]byte("hello")))
	const file, offset = 5, 0x12345678
	raw := testutil.BuildRecord(key, file, offset, container)
	e := index.Entry{Key: key.Truncate(9), File: file, Offset: offset, Length: uint32(len(raw))}

	hdr, err := verifyRecordHeader(raw[:RecordHeaderSize], e)
	require.NoError(t, err)
	assert.Equal(t, key, hdr.Key)
	assert.Equal(t, uint32(len(raw)), hdr.Length)

	t.Run("record moved to another offset", func(t *testing.T) {
		moved := e
		moved.Offset += 16
		_, err := verifyRecordHeader(raw[:RecordHeaderSize], moved)
		require.Error(t, err)
		assert.True(t, core.IsIntegrityError(err))
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("record moved to another file", func(t *testing.T) {
		moved := e
		moved.File = 6
		_, err := verifyRecordHeader(raw[:RecordHeaderSize], moved)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("length", func(t *testing.T) {
		short := e
		short.Length--
		_, err := verifyRecordHeader(raw[:RecordHeaderSize], short)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "length")
	})

	t.Run("header hash", func(t *testing.T) {
		bad := append([]byte(nil), raw[:RecordHeaderSize]...)
		bad[21] ^= 0x80
		_, err := verifyRecordHeader(bad, e)
		require.Error(t, err)
		assert.True(t, core.IsIntegrityError(err))
		assert.Contains(t, err.Error(), "header hash")
	})
}
