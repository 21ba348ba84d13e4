package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fsys FileSystem, name, data string) {
	t.Helper()
	w, err := fsys.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()

	_, err := m.Create("plots/nyquist.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	writeFile(t, m, "sweep.csv", "a,b\n")
	require.NoError(t, m.MkdirAll("plots/raw", 0o755))
	writeFile(t, m, "plots/raw/../bode.png", "png")

	got, err := m.ReadFile("sweep.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(got))

	assert.True(t, m.Exists("plots"))
	assert.True(t, m.Exists("plots/bode.png"))
	assert.False(t, m.Exists("missing.csv"))
	assert.Equal(t, []string{"plots/bode.png", "sweep.csv"}, m.Files())

	_, err = m.ReadFile("missing.csv")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestMemoryFileSystem_VisibleOnClose(t *testing.T) {
	m := NewMemoryFileSystem()
	w, err := m.Create("sweep.csv")
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	assert.False(t, m.Exists("sweep.csv"))

	require.NoError(t, w.Close())
	assert.True(t, m.Exists("sweep.csv"))
}

func TestOSFileSystem(t *testing.T) {
	var fsys OSFileSystem
	dir := filepath.Join(t.TempDir(), "out", "nested")

	require.NoError(t, fsys.MkdirAll(dir, 0o755))
	assert.True(t, fsys.Exists(dir))

	name := filepath.Join(dir, "sweep.csv")
	writeFile(t, fsys, name, "x\n")
	got, err := fsys.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(got))
}
