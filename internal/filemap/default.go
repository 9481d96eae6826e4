package filemap

import (
	"fmt"
	"os"
	"sync"
)

// maxDefaultCapacity bounds the default pool even when the descriptor limit
// is generous.
const maxDefaultCapacity = 35

var (
	defaultMu   sync.Mutex
	defaultPool *Pool
)

// DefaultCapacity returns the capacity of the pool built by Default: a
// quarter of the soft RLIMIT_NOFILE, capped at 35 and never below 2.
func DefaultCapacity() int {
	capacity := maxDefaultCapacity
	if limit := descriptorLimit(); limit > 0 && limit/4 < capacity {
		capacity = limit / 4
	}
	return max(capacity, 2)
}

// Default returns the process-wide pool, building it on first use.
//
// The default pool lives until Shutdown, which is the single teardown hook
// and should be deferred from main. Default may be called again after
// Shutdown; it then builds a fresh pool.
func Default() *Pool {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultPool == nil {
		p, err := NewPool(Config{Capacity: DefaultCapacity()})
		if err != nil {
			// DefaultCapacity never goes below the minimum.
			panic(fmt.Sprintf("filemap: building default pool: %v", err))
		}
		defaultPool = p
	}
	return defaultPool
}

// Shutdown destroys the default pool, closing every handle it still owns.
// It is a no-op when the default pool was never built.
func Shutdown() error {
	defaultMu.Lock()
	p := defaultPool
	defaultPool = nil
	defaultMu.Unlock()

	if p == nil {
		return nil
	}
	return p.Destroy()
}

// OpenFile registers path with the default pool.
func OpenFile(path string, flag int, perm os.FileMode) *Handle {
	return Default().Open(path, flag, perm)
}
