package filemap

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	poolerr "fdpool/internal/error"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCapacity(t *testing.T) {
	c := DefaultCapacity()
	assert.GreaterOrEqual(t, c, 2)
	assert.LessOrEqual(t, c, maxDefaultCapacity)
}

func TestDefaultPoolLifecycle(t *testing.T) {
	require.NoError(t, Shutdown())
	t.Cleanup(func() { _ = Shutdown() })

	p := Default()
	assert.Same(t, p, Default())
	assert.Equal(t, DefaultCapacity(), p.Capacity())

	path := filepath.Join(t.TempDir(), "default.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	h := OpenFile(path, os.O_RDONLY, 0)
	_, err := h.Materialize()
	require.NoError(t, err)
	assert.Equal(t, 1, p.OpenCount())

	require.NoError(t, Shutdown())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, p.OpenCount())
	_, err = h.Materialize()
	assert.True(t, errors.Is(err, poolerr.StaleHandle))

	// A second shutdown has nothing left to tear down.
	assert.NoError(t, Shutdown())

	fresh := Default()
	assert.NotSame(t, p, fresh)
	assert.Equal(t, 0, fresh.Len())
}
