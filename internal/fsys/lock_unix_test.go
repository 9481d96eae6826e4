//go:build unix

package fsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLockingReadOnly(t *testing.T) {
	path := writeTemp(t, "locked.txt", "test content")

	f, err := NewReadLocking(NewReal()).OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 100)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "test content", string(buf[:n]))
}

func TestReadLockingPassesWritersThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.txt")

	f, err := NewReadLocking(NewReal()).OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestReadLockingMissingFile(t *testing.T) {
	_, err := NewReadLocking(NewReal()).OpenFile("/non/existent/file", os.O_RDONLY, 0)
	assert.Error(t, err)
}
