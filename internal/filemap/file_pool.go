package filemap

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	poolerr "fdpool/internal/error"
	"fdpool/internal/fsys"
	"fdpool/internal/metrics"
	"fdpool/internal/ringbuffer"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

const defaultEvictionHistory = 64

var validate = validator.New()

type Config struct {
	// Capacity is the most OS descriptors the pool keeps open at once.
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gte=2"`
	// StrictCapacity enforces Capacity over the whole registry instead of
	// only the prefix scanned ahead of the handle being materialized.
	StrictCapacity bool `mapstructure:"strict_capacity" yaml:"strict_capacity"`
	// EvictionHistory is how many recent evictions RecentEvictions reports.
	EvictionHistory int `mapstructure:"eviction_history" yaml:"eviction_history" validate:"gte=0"`
}

type Option func(*Pool)

// WithFS replaces the filesystem the pool opens files on.
func WithFS(fs fsys.FS) Option {
	return func(p *Pool) {
		p.fs = fs
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Eviction records one descriptor the pool closed to make room.
type Eviction struct {
	ID     ID
	Path   string
	Offset int64
	// For is the handle being materialized, 0 for Flush.
	For ID
	At  time.Time
}

type PoolStats struct {
	Hits             int
	Materializations int
	OpenFailures     int
	Evictions        int
}

// Pool keeps at most Capacity OS descriptors open for the handles it owns,
// closing and reopening them on demand.
//
// Registry order approximates recency: a handle moves to the front each time
// it is really opened. Materializing a handle only scans the handles ahead
// of it, evicting Open ones once the budget is spent; handles behind it are
// not inspected, so the number of Open handles can exceed Capacity until one
// of those is materialized in turn. Set Config.StrictCapacity for a global
// bound.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	capacity int
	strict   bool
	fs       fsys.FS
	logger   zerolog.Logger

	handles   map[ID]*Handle
	order     []ID
	nextID    ID
	openCount int

	evictions *ringbuffer.RingBuffer[Eviction]
	stats     PoolStats
}

func NewPool(cfg Config, opts ...Option) (*Pool, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	history := cfg.EvictionHistory
	if history == 0 {
		history = defaultEvictionHistory
	}

	p := &Pool{
		capacity:  cfg.Capacity,
		strict:    cfg.StrictCapacity,
		fs:        fsys.NewReal(),
		logger:    log.Logger.With().Str("component", "filemap").Logger(),
		handles:   make(map[ID]*Handle),
		order:     make([]ID, 0, cfg.Capacity),
		evictions: ringbuffer.NewRingBuffer[Eviction](history),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Open registers a new handle for path. No descriptor is opened until the
// handle is materialized. Unopened handles queue newest first, behind any
// open ones.
func (p *Pool) Open(path string, flag int, perm os.FileMode) *Handle {
	p.nextID++
	h := &Handle{
		id:    p.nextID,
		pool:  p,
		path:  path,
		flag:  flag,
		perm:  perm,
		state: closedAt(0),
	}
	p.handles[h.id] = h

	// Open handles stay contiguous at the front; a new one goes right
	// behind them.
	at := len(p.order)
	for i, id := range p.order {
		if p.handles[id].state.kind != Open {
			at = i
			break
		}
	}
	p.order = slices.Insert(p.order, at, h.id)

	metrics.RegisteredHandles.Inc()
	return h
}

// Close unregisters h and releases its descriptor. Closing nil, an already
// closed handle, or a handle of another pool is a no-op.
func (p *Pool) Close(h *Handle) error {
	if h == nil || h.pool != p {
		return nil
	}
	if cur, ok := p.handles[h.id]; !ok || cur != h {
		p.logger.Error().Uint64("handle", uint64(h.id)).Str("path", h.path).Msg("Handle claims pool but is not registered")
		return nil
	}

	if i := slices.Index(p.order, h.id); i >= 0 {
		p.order = slices.Delete(p.order, i, i+1)
	} else {
		p.logger.Error().Uint64("handle", uint64(h.id)).Str("path", h.path).Msg("Registered handle missing from registry order")
	}
	delete(p.handles, h.id)

	wasOpen := h.state.kind == Open
	err := h.release()
	if wasOpen {
		p.openCount--
		metrics.OpenDescriptors.Dec()
	}
	metrics.RegisteredHandles.Dec()

	if err != nil {
		return fmt.Errorf("failed to close %s: %w", h.path, err)
	}
	return nil
}

// materialize opens target, which must be Closed, evicting other handles as
// needed to stay within capacity.
func (p *Pool) materialize(target *Handle) (fsys.File, error) {
	start := time.Now()
	defer func() {
		metrics.MaterializeLatency.Observe(time.Since(start).Seconds())
	}()

	if p.strict {
		return p.materializeStrict(target)
	}

	at := slices.Index(p.order, target.id)
	if at < 0 || p.handles[target.id] != target {
		return nil, p.notFound(target)
	}

	// The target itself takes one slot.
	budget := 1
	for _, id := range p.order[:at] {
		h := p.handles[id]
		if h == nil {
			p.logger.Error().Uint64("handle", uint64(id)).Msg("Registry order references unknown handle")
			continue
		}
		if h.state.kind != Open {
			continue
		}
		budget++
		if budget > p.capacity {
			if err := p.evict(h, target.id); err != nil {
				p.logger.Warn().Err(err).Str("path", h.path).Msg("Eviction did not complete cleanly")
			}
		}
	}

	p.promote(at)
	return p.openHandle(target)
}

// materializeStrict evicts the least recent Open handles, scanning from the
// back of the registry, until target fits.
func (p *Pool) materializeStrict(target *Handle) (fsys.File, error) {
	i := slices.Index(p.order, target.id)
	if i < 0 || p.handles[target.id] != target {
		return nil, p.notFound(target)
	}

	for j := len(p.order) - 1; j >= 0 && p.openCount >= p.capacity; j-- {
		h := p.handles[p.order[j]]
		if h == nil || h == target || h.state.kind != Open {
			continue
		}
		if err := p.evict(h, target.id); err != nil {
			p.logger.Warn().Err(err).Str("path", h.path).Msg("Eviction did not complete cleanly")
		}
	}

	p.promote(i)
	return p.openHandle(target)
}

func (p *Pool) notFound(target *Handle) error {
	p.logger.Error().Uint64("handle", uint64(target.id)).Str("path", target.path).Msg("Materialize on handle missing from registry")
	return poolerr.New(poolerr.NotFound, fmt.Sprintf("handle %d for %s is not in the registry", target.id, target.path))
}

// promote moves the entry at index i to the front of the registry.
func (p *Pool) promote(i int) {
	if i == 0 {
		return
	}
	id := p.order[i]
	copy(p.order[1:i+1], p.order[:i])
	p.order[0] = id
}

func (p *Pool) openHandle(h *Handle) (fsys.File, error) {
	offset := h.state.offset

	f, err := p.fs.OpenFile(h.path, h.flag, h.perm)
	if err != nil {
		return nil, p.fail(h, err, "open "+h.path)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Str("path", h.path).Msg("Failed to close descriptor after seek error")
		}
		return nil, p.fail(h, err, fmt.Sprintf("seek %s to %d", h.path, offset))
	}

	h.state = openWith(f)
	p.openCount++
	p.stats.Materializations++
	metrics.OpenDescriptors.Inc()
	metrics.Materializations.WithLabelValues("ok").Inc()

	p.logger.Debug().
		Uint64("handle", uint64(h.id)).
		Str("path", h.path).
		Int64("offset", offset).
		Int("open", p.openCount).
		Msg("Materialized handle")

	return f, nil
}

func (p *Pool) fail(h *Handle, err error, message string) error {
	h.state = failedWith(poolerr.Wrap(poolerr.OpenFailure, err, message, map[string]any{
		"path": h.path,
		"flag": h.flag,
		"perm": h.perm,
	}))
	p.stats.OpenFailures++
	metrics.Materializations.WithLabelValues("error").Inc()

	p.logger.Warn().Err(err).Uint64("handle", uint64(h.id)).Str("path", h.path).Msg("Failed to materialize handle")

	return h.state.err
}

// evict closes the descriptor of the Open handle h, remembering its current
// position. h keeps its registry position.
func (p *Pool) evict(h *Handle, forID ID) error {
	f := h.state.file

	pos, seekErr := f.Seek(0, io.SeekCurrent)
	if seekErr != nil {
		pos = 0
		seekErr = fmt.Errorf("failed to query position of %s: %w", h.path, seekErr)
	}
	closeErr := f.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("failed to close %s: %w", h.path, closeErr)
	}

	h.state = closedAt(pos)
	p.openCount--
	p.stats.Evictions++
	metrics.OpenDescriptors.Dec()
	metrics.Evictions.Inc()
	p.evictions.Append(Eviction{
		ID:     h.id,
		Path:   h.path,
		Offset: pos,
		For:    forID,
		At:     time.Now(),
	})

	p.logger.Debug().
		Uint64("handle", uint64(h.id)).
		Uint64("for", uint64(forID)).
		Str("path", h.path).
		Int64("offset", pos).
		Msg("Evicted handle")

	return multierr.Append(seekErr, closeErr)
}

func (p *Pool) recordHit() {
	p.stats.Hits++
	metrics.CacheHits.Inc()
}

// Flush closes every open descriptor, saving positions. Handles stay
// registered and reopen on their next materialization.
func (p *Pool) Flush() error {
	var errs error
	for _, id := range p.order {
		h := p.handles[id]
		if h == nil || h.state.kind != Open {
			continue
		}
		errs = multierr.Append(errs, p.evict(h, 0))
	}
	return errs
}

// Destroy closes and releases every handle the pool owns. The pool stays
// usable and empty afterwards.
func (p *Pool) Destroy() error {
	var errs error
	for _, id := range p.order {
		h := p.handles[id]
		if h == nil {
			continue
		}
		if h.state.kind == Open {
			p.openCount--
			metrics.OpenDescriptors.Dec()
		}
		if err := h.release(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to close %s: %w", h.path, err))
		}
		metrics.RegisteredHandles.Dec()
	}

	p.logger.Debug().Int("handles", len(p.order)).Msg("Destroyed pool")

	p.handles = make(map[ID]*Handle)
	p.order = p.order[:0]
	p.openCount = 0
	return errs
}

func (p *Pool) Capacity() int { return p.capacity }

// Len returns the number of registered handles.
func (p *Pool) Len() int { return len(p.order) }

// OpenCount returns the number of handles currently holding a descriptor.
func (p *Pool) OpenCount() int { return p.openCount }

// Order returns the registry order, most recently opened first.
func (p *Pool) Order() []ID {
	return slices.Clone(p.order)
}

// Lookup returns the registered handle with the given id.
func (p *Pool) Lookup(id ID) (*Handle, bool) {
	h, ok := p.handles[id]
	return h, ok
}

// RecentEvictions returns the most recent evictions, newest first.
func (p *Pool) RecentEvictions() []Eviction {
	return p.evictions.GetAll(nil)
}

// LastEviction returns the eviction that happened most recently.
func (p *Pool) LastEviction() (Eviction, bool) {
	return p.evictions.Newest()
}

func (p *Pool) Stats() PoolStats {
	return p.stats
}
