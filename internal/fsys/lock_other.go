//go:build !unix

package fsys

import (
	"errors"
	"os"
)

var errNoReadLocks = errors.New("read locks are not supported on this platform")

// ReadLocking refuses read-only opens on platforms without fcntl locks.
type ReadLocking struct {
	fs FS
}

func NewReadLocking(fs FS) *ReadLocking {
	return &ReadLocking{fs: fs}
}

func (l *ReadLocking) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return l.fs.OpenFile(path, flag, perm)
	}
	return nil, &os.PathError{Op: "open", Path: path, Err: errNoReadLocks}
}

var _ FS = (*ReadLocking)(nil)
