package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/DataDog/zstd"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
)

type LatencySummary struct {
	Fastest float64 `json:"fastest"`
	Slowest float64 `json:"slowest"`
	Average float64 `json:"average"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

type PoolSummary struct {
	Hits             int     `json:"hits"`
	Materializations int     `json:"materializations"`
	OpenFailures     int     `json:"open_failures"`
	Evictions        int     `json:"evictions"`
	HitRate          float64 `json:"hit_rate"`
}

type IndexCacheSummary struct {
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
}

type WorkerSummary struct {
	Worker     int `json:"worker"`
	Reads      int `json:"reads"`
	Mismatches int `json:"mismatches"`
	Errors     int `json:"errors"`
	Evictions  int `json:"evictions"`
	// LastEvictedPath is the file this worker's pool closed most recently.
	LastEvictedPath string `json:"last_evicted_path,omitempty"`
}

type Report struct {
	RunID          string        `json:"run_id"`
	StartAt        time.Time     `json:"start_at"`
	Total          time.Duration `json:"total"`
	Files          int           `json:"files"`
	Workers        int           `json:"workers"`
	PoolCapacity   int           `json:"pool_capacity"`
	StrictCapacity bool          `json:"strict_capacity"`
	ReadLock       bool          `json:"read_lock"`

	Reads          int            `json:"reads"`
	Mismatches     int            `json:"mismatches"`
	Errors         int            `json:"errors"`
	Reopens        int            `json:"reopens"`
	ErrorDist      map[string]int `json:"error_dist"`
	ReadsPerSecond float64        `json:"reads_per_second"`

	// Latency is in microseconds.
	Latency    LatencySummary    `json:"latency_us"`
	Pool       PoolSummary       `json:"pool"`
	IndexCache IndexCacheSummary `json:"index_cache"`
	PerWorker  []WorkerSummary   `json:"per_worker"`
}

func buildReport(cfg *Config, m *Manifest, startAt time.Time, results []*workerResult) (*Report, error) {
	r := &Report{
		RunID:          uuid.New().String(),
		StartAt:        startAt,
		Total:          time.Since(startAt),
		Files:          len(m.Files),
		Workers:        cfg.Workers,
		PoolCapacity:   cfg.Pool.Capacity,
		StrictCapacity: cfg.Pool.StrictCapacity,
		ReadLock:       cfg.ReadLock,
		ErrorDist:      make(map[string]int),
	}

	lats := make([]float64, 0, cfg.Workers*cfg.Reads)
	for _, res := range results {
		if res == nil {
			continue
		}
		errCount := 0
		for k, n := range res.ErrorDist {
			r.ErrorDist[k] += n
			errCount += n
		}

		r.Reads += res.Reads
		r.Mismatches += res.Mismatches
		r.Errors += errCount
		r.Reopens += res.Reopens
		lats = append(lats, res.Lats...)

		r.Pool.Hits += res.Pool.Hits
		r.Pool.Materializations += res.Pool.Materializations
		r.Pool.OpenFailures += res.Pool.OpenFailures
		r.Pool.Evictions += res.Pool.Evictions

		r.IndexCache.Hits += res.Index.HitsTotal
		r.IndexCache.Misses += res.Index.MissesTotal
		r.IndexCache.Evictions += res.Index.EvictionsTotal

		ws := WorkerSummary{
			Worker:     res.Worker,
			Reads:      res.Reads,
			Mismatches: res.Mismatches,
			Errors:     errCount,
			Evictions:  res.Pool.Evictions,
		}
		if res.LastEviction != nil {
			ws.LastEvictedPath = res.LastEviction.Path
		}
		r.PerWorker = append(r.PerWorker, ws)
	}
	sort.Slice(r.PerWorker, func(i, j int) bool { return r.PerWorker[i].Worker < r.PerWorker[j].Worker })

	if total := r.Pool.Hits + r.Pool.Materializations; total > 0 {
		r.Pool.HitRate = float64(r.Pool.Hits) / float64(total) * 100
	}
	if secs := r.Total.Seconds(); secs > 0 {
		r.ReadsPerSecond = float64(r.Reads) / secs
	}

	latency, err := summarizeLatencies(lats)
	if err != nil {
		return nil, err
	}
	r.Latency = latency

	return r, nil
}

func summarizeLatencies(lats []float64) (LatencySummary, error) {
	var s LatencySummary
	if len(lats) == 0 {
		return s, nil
	}

	var err error
	if s.Fastest, err = stats.Min(lats); err != nil {
		return s, fmt.Errorf("failed to compute fastest latency: %w", err)
	}
	if s.Slowest, err = stats.Max(lats); err != nil {
		return s, fmt.Errorf("failed to compute slowest latency: %w", err)
	}
	if s.Average, err = stats.Mean(lats); err != nil {
		return s, fmt.Errorf("failed to compute average latency: %w", err)
	}
	if s.P50, err = stats.Percentile(lats, 50); err != nil {
		return s, fmt.Errorf("failed to compute p50 latency: %w", err)
	}
	if s.P95, err = stats.Percentile(lats, 95); err != nil {
		return s, fmt.Errorf("failed to compute p95 latency: %w", err)
	}
	if s.P99, err = stats.Percentile(lats, 99); err != nil {
		return s, fmt.Errorf("failed to compute p99 latency: %w", err)
	}
	return s, nil
}

// writeReport prints r in the configured format, to stdout or OutFile, and
// stores it in MySQL when a DSN is set.
func writeReport(ctx context.Context, rc *ReportConfig, r *Report) (err error) {
	var w io.Writer = os.Stdout
	if rc.OutFile != "" {
		f, createErr := os.Create(rc.OutFile)
		if createErr != nil {
			return fmt.Errorf("failed to create report file: %w", createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close report file: %w", cerr)
			}
		}()
		w = f
	}

	if rc.Encoding == "zstd" {
		zw := zstd.NewWriter(w)
		if err := encodeReport(zw, rc.Format, r); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to flush compressed report: %w", err)
		}
	} else if err := encodeReport(w, rc.Format, r); err != nil {
		return err
	}

	if rc.DB.DSN != "" {
		if err := storeReport(ctx, &rc.DB, r); err != nil {
			return err
		}
		logger.Info().Msg("Report stored in database")
	}
	return nil
}

func encodeReport(w io.Writer, format string, r *Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	case "human", "":
		return printHuman(w, r)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func printHuman(w io.Writer, r *Report) error {
	_, err := fmt.Fprintf(w, `
Summary:
  Run:           %s
  Total:         %s
  Files:         %d
  Workers:       %d
  Pool capacity: %d (strict: %t, read lock: %t)
  Reads:         %d (%.1f/sec)
  Mismatches:    %d
  Errors:        %d
  Reopens:       %d

Latency (us):
  Fastest: %.0f
  Average: %.1f
  Slowest: %.0f
  p50:     %.0f
  p95:     %.0f
  p99:     %.0f

Pool:
  Hits:             %d (%.1f%%)
  Materializations: %d
  Open failures:    %d
  Evictions:        %d

Line index cache:
  Hits:      %d
  Misses:    %d
  Evictions: %d
`,
		r.RunID, r.Total.Round(time.Millisecond), r.Files, r.Workers,
		r.PoolCapacity, r.StrictCapacity, r.ReadLock,
		r.Reads, r.ReadsPerSecond, r.Mismatches, r.Errors, r.Reopens,
		r.Latency.Fastest, r.Latency.Average, r.Latency.Slowest,
		r.Latency.P50, r.Latency.P95, r.Latency.P99,
		r.Pool.Hits, r.Pool.HitRate, r.Pool.Materializations, r.Pool.OpenFailures, r.Pool.Evictions,
		r.IndexCache.Hits, r.IndexCache.Misses, r.IndexCache.Evictions,
	)
	if err != nil {
		return fmt.Errorf("failed to print report: %w", err)
	}

	if len(r.ErrorDist) > 0 {
		keys := make([]string, 0, len(r.ErrorDist))
		for k := range r.ErrorDist {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w, "\nError distribution:")
		for _, k := range keys {
			fmt.Fprintf(w, "  [%d]\t%s\n", r.ErrorDist[k], k)
		}
	}
	return nil
}
