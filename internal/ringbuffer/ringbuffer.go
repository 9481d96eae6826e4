// Package ringbuffer holds a fixed number of the most recent values.
package ringbuffer

import (
	"sync"
)

// RingBuffer keeps the last size values appended to it. Older values are
// overwritten in place.
type RingBuffer[T any] struct {
	mu    sync.Mutex
	buf   []T
	next  int
	full  bool
	total uint64
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	return &RingBuffer[T]{buf: make([]T, max(size, 1))}
}

func (r *RingBuffer[T]) Append(d T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = d
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.total++
}

// Newest returns the value appended last.
func (r *RingBuffer[T]) Newest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countLocked() == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.indexLocked(0)], true
}

// Last appends up to n retained values to dst, newest first.
func (r *RingBuffer[T]) Last(n int, dst []T) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	n = min(n, r.countLocked())
	for i := 0; i < n; i++ {
		dst = append(dst, r.buf[r.indexLocked(i)])
	}
	return dst
}

// GetAll appends every retained value to dst, newest first.
func (r *RingBuffer[T]) GetAll(dst []T) []T {
	return r.Last(len(r.buf), dst)
}

func (r *RingBuffer[T]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked()
}

// Total is the number of values ever appended, including overwritten ones.
func (r *RingBuffer[T]) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Reset drops the retained values. Total keeps counting.
func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.next = 0
	r.full = false
}

func (r *RingBuffer[T]) countLocked() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// indexLocked maps the i-th newest value to its slot.
func (r *RingBuffer[T]) indexLocked(i int) int {
	return (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
}
