// Package fsys is the OS contract the descriptor pool is built on.
//
// The pool only needs three primitives from the operating system: open a
// path with flags and permissions, close a descriptor, and seek a
// descriptor. [FS] and [File] capture exactly that, with [os.File]
// satisfying [File] so callers can use the returned value with any io
// function.
//
// Implementations:
//   - [Real]: passthrough to [os.OpenFile]
//   - [ReadLocking]: takes a shared fcntl lock on every read-only open
//   - [Faulty]: test wrapper that injects failures and counts calls
package fsys

import (
	"io"
	"os"
)

// File is a real open descriptor.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the OS descriptor number. See [os.File.Fd].
	Fd() uintptr

	// Name returns the path the file was opened with.
	Name() string
}

// FS opens files.
type FS interface {
	// OpenFile mirrors [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)
}

// Real implements [FS] on the real filesystem.
type Real struct{}

func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [os.OpenFile].
func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		// Avoid returning a typed nil inside the interface.
		return nil, err
	}
	return f, nil
}

var (
	_ File = (*os.File)(nil)
	_ FS   = (*Real)(nil)
)
