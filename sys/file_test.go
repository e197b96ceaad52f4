package sys

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.000")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4)
	_, err = f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf))

	_, err = f.Seek(8, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "89", string(rest))
	assert.Equal(t, path, f.Name())
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSetOpen_Restores(t *testing.T) {
	injected := errors.New("injected")
	restore := SetOpen(func(string) (FileHandle, error) { return nil, injected })
	_, err := Open("anything")
	assert.ErrorIs(t, err, injected)
	restore()

	_, err = Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLockShared_Compatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shmem")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	unlockA, err := LockShared(a, DefaultLockTimeout)
	require.NoError(t, err)
	unlockB, err := LockShared(b, DefaultLockTimeout)
	require.NoError(t, err, "shared locks must not conflict")
	assert.NoError(t, unlockB())
	assert.NoError(t, unlockA())
}
