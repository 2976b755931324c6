package streamalloc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathConventions(t *testing.T) {
	a := New("/archive/Data", 8)

	assert.Equal(t, filepath.Join("/archive/Data", "config", "da", "20", "da20cf2b7e65e2f2352397b6295e10c0"),
		a.ConfigPath("da20cf2b7e65e2f2352397b6295e10c0"))
	assert.Equal(t, filepath.Join("/archive/Data", "data", "data.000"), a.DataFilePath(0))
	assert.Equal(t, filepath.Join("/archive/Data", "data", "data.042"), a.DataFilePath(42))
	assert.Equal(t, filepath.Join("/archive/Data", "data", "09000000a3.idx"), a.IndexFilePath(9, 0xa3))
	assert.Equal(t, filepath.Join("/archive/Data", "data", "shmem"), a.ShmemPath())
}

func TestOpenMissingFileIsNotFound(t *testing.T) {
	a := New(t.TempDir(), 4)
	_, err := a.Open(filepath.Join(a.root, "data", "data.000"))
	require.Error(t, err)
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Contains(t, nfe.Path, "data.000")
}

func TestOpenAndCloseSharesHandle(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "data.000")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	a := New(tmp, 4)
	f1, err := a.Open(path)
	require.NoError(t, err)
	f2, err := a.Open(path)
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	require.NoError(t, a.Close(f1))
	require.NoError(t, a.Close(f2))
}

func TestSessionIDIsStable(t *testing.T) {
	a := New(t.TempDir(), 4)
	assert.Equal(t, a.SessionID(), a.SessionID())
}
