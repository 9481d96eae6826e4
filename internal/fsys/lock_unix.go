//go:build unix

package fsys

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ReadLocking wraps an [FS] and takes a non-blocking shared fcntl lock on
// every file opened read-only. The lock lives as long as the descriptor, so
// a pooled handle drops it on eviction and takes it again when reopened.
// Files opened for writing are passed through untouched.
type ReadLocking struct {
	fs FS
}

func NewReadLocking(fs FS) *ReadLocking {
	return &ReadLocking{fs: fs}
}

func (l *ReadLocking) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := l.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return f, nil
	}

	lock := unix.Flock_t{
		Type:   unix.F_RDLCK,
		Whence: io.SeekStart,
		Start:  0,
		Len:    0,
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lock); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire read lock on %s: %w", path, err)
	}

	return f, nil
}

var _ FS = (*ReadLocking)(nil)
