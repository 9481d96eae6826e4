package fsys

import (
	"errors"
	iofs "io/fs"
	"os"
	"sync"
	"sync/atomic"
)

// Faulty wraps an [FS] for tests. It injects sticky per-path failures and
// counts every open, close and seek so tests can check how many real
// descriptors a caller holds at any point.
//
// Injected open failures are returned as *fs.PathError so os.IsNotExist,
// os.IsPermission and errors.Is keep working.
type Faulty struct {
	fs FS

	mu         sync.Mutex
	openErrs   map[string]error
	seekErrs   map[string]error
	live       map[*faultyFile]struct{}
	maxLive    int
	openedPath map[string]int

	opens        atomic.Int64
	openFails    atomic.Int64
	closes       atomic.Int64
	doubleCloses atomic.Int64
	seeks        atomic.Int64
	seekFails    atomic.Int64
}

// FaultyStats is a snapshot of the counters kept by [Faulty].
type FaultyStats struct {
	Opens        int64
	OpenFails    int64
	Closes       int64
	DoubleCloses int64
	Seeks        int64
	SeekFails    int64
	Live         int
	MaxLive      int
}

func NewFaulty(fs FS) *Faulty {
	return &Faulty{
		fs:         fs,
		openErrs:   make(map[string]error),
		seekErrs:   make(map[string]error),
		live:       make(map[*faultyFile]struct{}),
		openedPath: make(map[string]int),
	}
}

// FailOpen makes every later open of path fail with err until ClearOpen.
func (f *Faulty) FailOpen(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs[path] = err
}

func (f *Faulty) ClearOpen(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.openErrs, path)
}

// FailSeek makes every later seek on descriptors for path fail with err.
func (f *Faulty) FailSeek(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekErrs[path] = err
}

func (f *Faulty) ClearSeek(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seekErrs, path)
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f.mu.Lock()
	injected, ok := f.openErrs[path]
	f.mu.Unlock()
	if ok {
		f.openFails.Add(1)
		return nil, &iofs.PathError{Op: "open", Path: path, Err: injected}
	}

	inner, err := f.fs.OpenFile(path, flag, perm)
	if err != nil {
		f.openFails.Add(1)
		return nil, err
	}
	f.opens.Add(1)

	ff := &faultyFile{File: inner, owner: f, path: path}

	f.mu.Lock()
	f.live[ff] = struct{}{}
	f.openedPath[path]++
	if len(f.live) > f.maxLive {
		f.maxLive = len(f.live)
	}
	f.mu.Unlock()

	return ff, nil
}

// Opens returns how many times path was successfully opened.
func (f *Faulty) Opens(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openedPath[path]
}

// Live returns the number of descriptors currently open through f.
func (f *Faulty) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *Faulty) Stats() FaultyStats {
	f.mu.Lock()
	live, maxLive := len(f.live), f.maxLive
	f.mu.Unlock()

	return FaultyStats{
		Opens:        f.opens.Load(),
		OpenFails:    f.openFails.Load(),
		Closes:       f.closes.Load(),
		DoubleCloses: f.doubleCloses.Load(),
		Seeks:        f.seeks.Load(),
		SeekFails:    f.seekFails.Load(),
		Live:         live,
		MaxLive:      maxLive,
	}
}

type faultyFile struct {
	File
	owner  *Faulty
	path   string
	closed atomic.Bool
}

func (ff *faultyFile) Seek(offset int64, whence int) (int64, error) {
	ff.owner.seeks.Add(1)

	ff.owner.mu.Lock()
	injected, ok := ff.owner.seekErrs[ff.path]
	ff.owner.mu.Unlock()
	if ok {
		ff.owner.seekFails.Add(1)
		return 0, &iofs.PathError{Op: "seek", Path: ff.path, Err: injected}
	}

	return ff.File.Seek(offset, whence)
}

func (ff *faultyFile) Close() error {
	if !ff.closed.CompareAndSwap(false, true) {
		ff.owner.doubleCloses.Add(1)
		return &iofs.PathError{Op: "close", Path: ff.path, Err: os.ErrClosed}
	}
	ff.owner.closes.Add(1)

	ff.owner.mu.Lock()
	delete(ff.owner.live, ff)
	ff.owner.mu.Unlock()

	return ff.File.Close()
}

// IsDoubleClose reports whether err came from closing a descriptor twice.
func IsDoubleClose(err error) bool {
	var pathErr *iofs.PathError
	return errors.As(err, &pathErr) && pathErr.Op == "close" && errors.Is(pathErr.Err, os.ErrClosed)
}

var _ FS = (*Faulty)(nil)
