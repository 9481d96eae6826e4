package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fdpool/internal/filemap"
	"fdpool/internal/lrucache"

	"github.com/DataDog/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() []*workerResult {
	lats := make([]float64, 100)
	for i := range lats {
		lats[i] = float64(i + 1)
	}
	return []*workerResult{
		{
			Worker:     1,
			Lats:       lats[50:],
			Reads:      50,
			Mismatches: 1,
			ErrorDist:  map[string]int{"open failure": 2},
			Reopens:    2,
			Pool:       filemap.PoolStats{Hits: 30, Materializations: 10, OpenFailures: 2, Evictions: 8},
			Index:      lrucache.LRUCacheStats{HitsTotal: 45, MissesTotal: 7, EvictionsTotal: 4},
		},
		{
			Worker:    0,
			Lats:      lats[:50],
			Reads:     50,
			ErrorDist: map[string]int{},
			Pool:      filemap.PoolStats{Hits: 10, Materializations: 10, Evictions: 9},
			Index:     lrucache.LRUCacheStats{HitsTotal: 40, MissesTotal: 10, EvictionsTotal: 7},
			LastEviction: &filemap.Eviction{ID: 3, Path: "/corpus/file-00002.txt"},
		},
		nil,
	}
}

func sampleReport(t *testing.T) *Report {
	t.Helper()
	cfg := &Config{Workers: 2, Reads: 52, Pool: filemap.Config{Capacity: 4}}
	m := &Manifest{Files: make([]ManifestFile, 10)}

	r, err := buildReport(cfg, m, time.Now().Add(-time.Second), sampleResults())
	require.NoError(t, err)
	return r
}

func TestBuildReport(t *testing.T) {
	r := sampleReport(t)

	assert.Len(t, r.RunID, 36)
	assert.Equal(t, 10, r.Files)
	assert.Equal(t, 4, r.PoolCapacity)
	assert.Equal(t, 100, r.Reads)
	assert.Equal(t, 1, r.Mismatches)
	assert.Equal(t, 2, r.Errors)
	assert.Equal(t, 2, r.Reopens)
	assert.Equal(t, map[string]int{"open failure": 2}, r.ErrorDist)

	assert.Equal(t, 40, r.Pool.Hits)
	assert.Equal(t, 20, r.Pool.Materializations)
	assert.Equal(t, 2, r.Pool.OpenFailures)
	assert.Equal(t, 17, r.Pool.Evictions)
	assert.InDelta(t, 66.67, r.Pool.HitRate, 0.01)
	assert.Equal(t, IndexCacheSummary{Hits: 85, Misses: 17, Evictions: 11}, r.IndexCache)

	require.Len(t, r.PerWorker, 2)
	assert.Equal(t, 0, r.PerWorker[0].Worker)
	assert.Equal(t, "/corpus/file-00002.txt", r.PerWorker[0].LastEvictedPath)
	assert.Equal(t, 1, r.PerWorker[1].Worker)
	assert.Equal(t, 2, r.PerWorker[1].Errors)
	assert.Empty(t, r.PerWorker[1].LastEvictedPath)

	assert.Equal(t, 1.0, r.Latency.Fastest)
	assert.Equal(t, 100.0, r.Latency.Slowest)
	assert.InDelta(t, 50.5, r.Latency.Average, 1e-9)
	assert.LessOrEqual(t, r.Latency.P50, r.Latency.P95)
	assert.LessOrEqual(t, r.Latency.P95, r.Latency.P99)
	assert.Positive(t, r.ReadsPerSecond)
}

func TestSummarizeLatenciesEmpty(t *testing.T) {
	s, err := summarizeLatencies(nil)
	require.NoError(t, err)
	assert.Equal(t, LatencySummary{}, s)
}

func TestWriteReportJSONZstd(t *testing.T) {
	r := sampleReport(t)
	out := filepath.Join(t.TempDir(), "report.json.zst")

	err := writeReport(context.Background(), &ReportConfig{OutFile: out, Format: "json", Encoding: "zstd"}, r)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	zr := zstd.NewReader(f)
	defer zr.Close()

	var got Report
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, r.RunID, got.RunID)
	assert.Equal(t, r.Reads, got.Reads)
	assert.Equal(t, r.Pool, got.Pool)
	assert.Equal(t, r.PerWorker, got.PerWorker)
	assert.Equal(t, r.Total, got.Total)
}

func TestWriteReportHuman(t *testing.T) {
	r := sampleReport(t)
	out := filepath.Join(t.TempDir(), "report.txt")

	require.NoError(t, writeReport(context.Background(), &ReportConfig{OutFile: out, Format: "human"}, r))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "Reads:         100")
	assert.Contains(t, text, "Evictions:        17")
	assert.Contains(t, text, "Error distribution:")
	assert.Contains(t, text, "[2]\topen failure")
}

func TestEncodeReportUnknownFormat(t *testing.T) {
	assert.Error(t, encodeReport(os.Stdout, "xml", sampleReport(t)))
}

func TestNewRunRow(t *testing.T) {
	r := sampleReport(t)
	row, err := newRunRow(r)
	require.NoError(t, err)

	assert.Equal(t, r.RunID, row.RunID)
	assert.Equal(t, 100, row.ReadCount)
	assert.Equal(t, 17, row.Evictions)
	assert.Equal(t, r.Total.Microseconds(), row.DurationUs)

	var decoded Report
	require.NoError(t, json.Unmarshal([]byte(row.Report), &decoded))
	assert.Equal(t, r.Mismatches, decoded.Mismatches)
}
