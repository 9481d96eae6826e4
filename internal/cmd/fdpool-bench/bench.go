package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	poolerr "fdpool/internal/error"
	"fdpool/internal/filemap"
	"fdpool/internal/fsys"
	"fdpool/internal/lrucache"
	"fdpool/internal/metrics"

	"github.com/alitto/pond/v2"
	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"
)

const progressInterval = time.Second

// Progress is the live view of a running bench, shared by all workers.
type Progress struct {
	Reads      atomic.Int64
	Mismatches atomic.Int64
	Errors     atomic.Int64
	Reopens    atomic.Int64
}

type ProgressSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Runtime        string    `json:"runtime"`
	Reads          int64     `json:"reads"`
	Mismatches     int64     `json:"mismatches"`
	Errors         int64     `json:"errors"`
	Reopens        int64     `json:"reopens"`
	ReadsPerSecond float64   `json:"reads_per_second"`
}

func (p *Progress) Snapshot(startAt time.Time) *ProgressSnapshot {
	elapsed := time.Since(startAt)
	reads := p.Reads.Load()
	return &ProgressSnapshot{
		Timestamp:      time.Now(),
		Runtime:        elapsed.Round(time.Second).String(),
		Reads:          reads,
		Mismatches:     p.Mismatches.Load(),
		Errors:         p.Errors.Load(),
		Reopens:        p.Reopens.Load(),
		ReadsPerSecond: float64(reads) / elapsed.Seconds(),
	}
}

type workerResult struct {
	Worker     int
	Lats       []float64
	Reads      int
	Mismatches int
	ErrorDist  map[string]int
	Reopens    int
	Pool       filemap.PoolStats
	Index      lrucache.LRUCacheStats
	// LastEviction is the pool's final eviction, nil when it never evicted.
	LastEviction *filemap.Eviction
}

type worker struct {
	id       int
	cfg      *Config
	manifest *Manifest
	logger   zerolog.Logger
	progress *Progress

	pool    *filemap.Pool
	handles []*filemap.Handle
	indexes *lrucache.LRUCache[int, *filemap.LineIndex]
	buf     []byte
	rng     *rand.Rand

	res *workerResult
}

func performBench(ctx context.Context, cfg *Config) error {
	m, err := readManifest(cfg.CorpusDir)
	if err != nil {
		return err
	}
	logger.Info().Int("files", len(m.Files)).Msg("Manifest loaded")

	progress := &Progress{}
	startAt := time.Now()

	var metricsServer *MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = NewMetricsServer(cfg.Metrics.Addr)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("error starting metrics server: %w", err)
		}
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server started")

		go broadcastProgress(ctx, metricsServer, progress, startAt)
	}

	report, err := runBench(ctx, cfg, m, progress)
	if err != nil {
		return err
	}

	return writeReport(ctx, &cfg.Report, report)
}

func broadcastProgress(ctx context.Context, s *MetricsServer, progress *Progress, startAt time.Time) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastProgress(progress.Snapshot(startAt))
		}
	}
}

// runBench runs cfg.Workers workers in parallel, each with its own pool, and
// folds their results into a report.
func runBench(ctx context.Context, cfg *Config, m *Manifest, progress *Progress) (*Report, error) {
	startAt := time.Now()

	workerPool := pond.NewPool(cfg.Workers)
	defer workerPool.StopAndWait()

	results := make([]*workerResult, cfg.Workers)
	group := workerPool.NewGroup()
	for i := 0; i < cfg.Workers; i++ {
		group.SubmitErr(func() error {
			w, err := newWorker(i, cfg, m, progress)
			if err != nil {
				return err
			}
			res, err := w.run(ctx)
			results[i] = res
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("error running bench: %w", err)
	}

	return buildReport(cfg, m, startAt, results)
}

func newWorker(id int, cfg *Config, m *Manifest, progress *Progress) (*worker, error) {
	wlogger := logger.With().Int("worker", id).Logger()

	var fs fsys.FS = fsys.NewReal()
	if cfg.ReadLock {
		fs = fsys.NewReadLocking(fs)
	}

	pool, err := filemap.NewPool(cfg.Pool, filemap.WithFS(fs), filemap.WithLogger(wlogger))
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for worker %d: %w", id, err)
	}

	w := &worker{
		id:       id,
		cfg:      cfg,
		manifest: m,
		logger:   wlogger,
		progress: progress,
		pool:     pool,
		handles:  make([]*filemap.Handle, len(m.Files)),
		buf:      make([]byte, m.MaxLineLength),
		rng:      rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano()))),
		res: &workerResult{
			Worker:    id,
			Lats:      make([]float64, 0, cfg.Reads),
			ErrorDist: make(map[string]int),
		},
	}
	w.indexes = lrucache.New[int, *filemap.LineIndex](cfg.IndexCacheSize).
		OnEvict(func(file int, li *filemap.LineIndex) {
			wlogger.Debug().Int("file", file).Int("lines", li.Len()).Msg("Dropped line index")
		})

	for i := range m.Files {
		w.handles[i] = w.open(i)
	}
	return w, nil
}

func (w *worker) open(file int) *filemap.Handle {
	return w.pool.Open(filepath.Join(w.cfg.CorpusDir, w.manifest.Files[file].Name), os.O_RDONLY, 0)
}

func (w *worker) run(ctx context.Context) (*workerResult, error) {
	w.logger.Debug().Int("handles", w.pool.Len()).Int("capacity", w.pool.Capacity()).Msg("Worker started")

	var runErr error
	for i := 0; i < w.cfg.Reads; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		w.readOne()
	}

	w.res.Pool = w.pool.Stats()
	w.res.Index = w.indexes.Stats()
	if ev, ok := w.pool.LastEviction(); ok {
		w.res.LastEviction = &ev
	}

	if err := w.pool.Destroy(); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to release every descriptor")
	}

	w.logger.Debug().
		Int("reads", w.res.Reads).
		Int("mismatches", w.res.Mismatches).
		Int("evictions", w.res.Pool.Evictions).
		Msg("Worker finished")

	return w.res, runErr
}

// readOne reads a random line of a random file and checks it against the
// manifest.
func (w *worker) readOne() {
	file := w.rng.IntN(len(w.handles))
	h := w.handles[file]
	start := time.Now()

	li, _, err := w.indexes.GetOrSet(file, func() (*filemap.LineIndex, error) {
		return filemap.IndexLines(h)
	})
	if err != nil {
		w.recordError(file, err)
		return
	}

	line, n, err := li.PickRandom(h, w.buf)
	lat := time.Since(start)
	tooLong := errors.Is(err, filemap.ErrLineTooLong)
	if err != nil && !tooLong {
		w.recordError(file, err)
		return
	}

	w.res.Reads++
	w.res.Lats = append(w.res.Lats, float64(lat.Microseconds()))
	w.progress.Reads.Add(1)
	metrics.LineReadLatency.Observe(lat.Seconds())

	// A line longer than the manifest allows cannot match it.
	sums := w.manifest.Files[file].Sums
	if tooLong || line >= len(sums) || xxhash.Sum64(w.buf[:n]) != sums[line] {
		w.res.Mismatches++
		w.progress.Mismatches.Add(1)
		metrics.LineReads.WithLabelValues("mismatch").Inc()
		w.logger.Warn().
			Str("file", h.Path()).
			Int("line", line).
			Int("indexed_lines", li.Len()).
			Msg("Line does not match manifest")
		return
	}

	metrics.LineReads.WithLabelValues("ok").Inc()
}

// recordError counts err and replaces a handle stuck in the failed state
// with a fresh one, so a transient open failure costs one read.
func (w *worker) recordError(file int, err error) {
	key := err.Error()
	if kind := poolerr.KindOf(err); kind != 0 {
		key = kind.String()
	}
	w.res.ErrorDist[key]++
	w.progress.Errors.Add(1)
	metrics.LineReads.WithLabelValues("error").Inc()

	h := w.handles[file]
	w.logger.Debug().Err(err).Str("file", h.Path()).Msg("Line read failed")

	if !errors.Is(err, poolerr.OpenFailure) {
		return
	}
	if closeErr := w.pool.Close(h); closeErr != nil {
		w.logger.Warn().Err(closeErr).Str("file", h.Path()).Msg("Failed to close failed handle")
	}
	w.indexes.Remove(file)
	w.handles[file] = w.open(file)
	w.res.Reopens++
	w.progress.Reopens.Add(1)
}
