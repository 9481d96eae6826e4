package filemap

import (
	"fmt"
	"os"

	poolerr "fdpool/internal/error"
	"fdpool/internal/fsys"
)

// ID identifies a handle inside its pool. IDs are never reused by a pool.
type ID uint64

// State is the lifecycle state of a handle.
type State uint8

const (
	// Closed handles hold no descriptor and remember the offset to resume at.
	Closed State = iota
	// Open handles hold a real OS descriptor.
	Open
	// Failed handles cache the error of their last OS open.
	Failed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// handleState is Closed{offset} | Open{file} | Failed{err}. Only the field
// belonging to kind is meaningful.
type handleState struct {
	kind   State
	offset int64
	file   fsys.File
	err    error
}

func closedAt(offset int64) handleState {
	return handleState{kind: Closed, offset: offset}
}

func openWith(f fsys.File) handleState {
	return handleState{kind: Open, file: f}
}

func failedWith(err error) handleState {
	return handleState{kind: Failed, err: err}
}

// Handle is a logical open file. It survives its OS descriptor being closed
// by the pool and reopened later at the same position.
//
// A Handle is created by [Pool.Open] and destroyed by [Pool.Close] or
// [Pool.Destroy]; it must not be used after that.
type Handle struct {
	id    ID
	pool  *Pool
	path  string
	flag  int
	perm  os.FileMode
	state handleState
}

func (h *Handle) ID() ID { return h.id }
func (h *Handle) Path() string { return h.path }
func (h *Handle) Flag() int { return h.flag }
func (h *Handle) Perm() os.FileMode { return h.perm }
func (h *Handle) State() State { return h.state.kind }
func (h *Handle) destroyed() bool { return h.pool == nil }

// SavedOffset returns the position the handle resumes at on its next
// materialization. It is only meaningful while the handle is Closed.
func (h *Handle) SavedOffset() int64 {
	return h.state.offset
}

// Err returns the cached open error of a Failed handle, nil otherwise.
func (h *Handle) Err() error {
	return h.state.err
}

// Materialize returns the real descriptor behind h, opening it through the
// pool if needed.
//
// An Open handle returns its cached descriptor without touching the pool.
// A Failed handle returns its cached error without retrying the open; close
// it and open a new handle to retry.
func (h *Handle) Materialize() (fsys.File, error) {
	if h.destroyed() {
		return nil, poolerr.New(poolerr.StaleHandle, fmt.Sprintf("handle %d for %s was closed", h.id, h.path))
	}

	switch h.state.kind {
	case Open:
		h.pool.recordHit()
		return h.state.file, nil
	case Failed:
		return nil, h.state.err
	default:
		return h.pool.materialize(h)
	}
}

// Fd materializes h and returns the OS descriptor number.
func (h *Handle) Fd() (uintptr, error) {
	f, err := h.Materialize()
	if err != nil {
		return 0, err
	}
	return f.Fd(), nil
}

// release closes the descriptor if h holds one and detaches h from its pool.
// It is the only place a handle is destroyed.
func (h *Handle) release() error {
	var err error
	if h.state.kind == Open {
		err = h.state.file.Close()
	}
	h.state = closedAt(0)
	h.pool = nil
	return err
}

func (h *Handle) String() string {
	return fmt.Sprintf("handle(%d %s %s)", h.id, h.path, h.state.kind)
}
