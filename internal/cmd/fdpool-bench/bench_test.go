package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fdpool/internal/filemap"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger = zerolog.Nop()
	os.Exit(m.Run())
}

func genTestCorpus(t *testing.T, files, lines int) (string, *Manifest) {
	t.Helper()
	dir := t.TempDir()
	m, err := generateCorpus(&GenConfig{
		Dir:           dir,
		Files:         files,
		LinesPerFile:  lines,
		MaxLineLength: 40,
		Concurrency:   3,
	})
	require.NoError(t, err)
	return dir, m
}

func benchConfig(dir string) *Config {
	return &Config{
		CorpusDir:      dir,
		Workers:        2,
		Reads:          200,
		IndexCacheSize: 3,
		Pool:           filemap.Config{Capacity: 2},
		Report:         ReportConfig{Format: "json"},
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config { return *benchConfig("/tmp/corpus") }

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing corpus dir", func(c *Config) { c.CorpusDir = "" }, true},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"no reads", func(c *Config) { c.Reads = 0 }, true},
		{"no index cache", func(c *Config) { c.IndexCacheSize = 0 }, true},
		{"unknown format", func(c *Config) { c.Report.Format = "xml" }, true},
		{"unknown encoding", func(c *Config) { c.Report.Encoding = "gzip" }, true},
		{"zstd encoding", func(c *Config) { c.Report.Encoding = "zstd" }, false},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true }, true},
		{"metrics with addr", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Addr: ":0"} }, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := validate.Struct(cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenConfigValidation(t *testing.T) {
	cfg := GenConfig{Dir: "x", Files: 1, LinesPerFile: 1, MaxLineLength: 1, Concurrency: 1}
	assert.NoError(t, validate.Struct(cfg))

	cfg.MaxLineLength = 1 << 20
	assert.Error(t, validate.Struct(cfg))
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &Manifest{
		MaxLineLength: 12,
		Files: []ManifestFile{
			{Name: "a.txt", Sums: []uint64{1, 2, 3}},
			{Name: "b.txt", Sums: []uint64{xxhash.Sum64String("hello")}},
		},
	}
	require.NoError(t, writeManifest(dir, want))

	got, err := readManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadManifestRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeManifest(dir, &Manifest{MaxLineLength: 1}))

	_, err := readManifest(dir)
	assert.Error(t, err)

	_, err = readManifest(t.TempDir())
	assert.Error(t, err)
}

func TestGenerateCorpusMatchesManifest(t *testing.T) {
	dir, m := genTestCorpus(t, 5, 20)

	loaded, err := readManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
	require.Len(t, loaded.Files, 5)

	for i, mf := range loaded.Files {
		assert.Equal(t, corpusFileName(i), mf.Name)

		f, err := os.Open(filepath.Join(dir, mf.Name))
		require.NoError(t, err)

		var sums []uint64
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Bytes()
			assert.LessOrEqual(t, len(line), 40)
			assert.NotEmpty(t, line)
			sums = append(sums, xxhash.Sum64(line))
		}
		require.NoError(t, scanner.Err())
		f.Close()

		assert.Equal(t, mf.Sums, sums, mf.Name)
	}
}

func TestRunBench(t *testing.T) {
	dir, m := genTestCorpus(t, 8, 30)
	cfg := benchConfig(dir)
	progress := &Progress{}

	report, err := runBench(context.Background(), cfg, m, progress)
	require.NoError(t, err)

	assert.Equal(t, 400, report.Reads)
	assert.Zero(t, report.Mismatches)
	assert.Zero(t, report.Errors)
	assert.Empty(t, report.ErrorDist)
	assert.Equal(t, 8, report.Files)
	assert.Len(t, report.PerWorker, 2)
	assert.Equal(t, int64(400), progress.Reads.Load())

	assert.Positive(t, report.Pool.Materializations)
	assert.Positive(t, report.Pool.Evictions)
	assert.Zero(t, report.Pool.OpenFailures)
	assert.Equal(t, 400, report.IndexCache.Hits+report.IndexCache.Misses)
	assert.Positive(t, report.IndexCache.Evictions)

	assert.LessOrEqual(t, report.Latency.Fastest, report.Latency.P50)
	assert.LessOrEqual(t, report.Latency.P99, report.Latency.Slowest)
}

func TestRunBenchStrictCapacity(t *testing.T) {
	dir, m := genTestCorpus(t, 6, 10)
	cfg := benchConfig(dir)
	cfg.Workers = 1
	cfg.Pool.StrictCapacity = true

	report, err := runBench(context.Background(), cfg, m, &Progress{})
	require.NoError(t, err)
	assert.Equal(t, 200, report.Reads)
	assert.Zero(t, report.Mismatches)
	assert.True(t, report.StrictCapacity)
}

func TestRunBenchDetectsCorruption(t *testing.T) {
	dir, m := genTestCorpus(t, 2, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, corpusFileName(0)), []byte("tampered\nlines\n"), 0o644))

	cfg := benchConfig(dir)
	cfg.Workers = 1

	report, err := runBench(context.Background(), cfg, m, &Progress{})
	require.NoError(t, err)
	assert.Positive(t, report.Mismatches)
}

// overlongLines has one line per corpus line, each past the test corpus's
// 40 byte limit.
func overlongLines(lines int) []byte {
	return []byte(strings.Repeat(strings.Repeat("z", 64)+"\n", lines))
}

func TestRunBenchCountsOverlongLinesAsMismatches(t *testing.T) {
	dir, m := genTestCorpus(t, 2, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, corpusFileName(0)), overlongLines(10), 0o644))

	cfg := benchConfig(dir)
	cfg.Workers = 1

	report, err := runBench(context.Background(), cfg, m, &Progress{})
	require.NoError(t, err)
	assert.Positive(t, report.Mismatches)
	assert.Zero(t, report.Errors)
	assert.Empty(t, report.ErrorDist)
	assert.Equal(t, 200, report.Reads)
}

func TestRunBenchCountsMissingFiles(t *testing.T) {
	dir, m := genTestCorpus(t, 3, 10)
	require.NoError(t, os.Remove(filepath.Join(dir, corpusFileName(1))))

	cfg := benchConfig(dir)
	cfg.Workers = 1

	report, err := runBench(context.Background(), cfg, m, &Progress{})
	require.NoError(t, err)

	assert.Positive(t, report.Errors)
	assert.Equal(t, report.Errors, report.ErrorDist["open failure"])
	assert.Equal(t, report.Errors, report.Reopens)
	assert.Equal(t, report.Errors, report.Pool.OpenFailures)
	assert.Equal(t, 200, report.Reads+report.Errors)
	assert.Zero(t, report.Mismatches)
}

func TestRunBenchStopsOnCancel(t *testing.T) {
	dir, m := genTestCorpus(t, 2, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runBench(ctx, benchConfig(dir), m, &Progress{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyCorpus(t *testing.T) {
	t.Cleanup(func() { assert.NoError(t, filemap.Shutdown()) })

	files := filemap.DefaultCapacity() + 5
	dir, _ := genTestCorpus(t, files, 8)

	res, err := verifyCorpus(dir)
	require.NoError(t, err)
	assert.Equal(t, files, res.Files)
	assert.Equal(t, files*8, res.Lines)
	assert.Zero(t, res.Mismatches)
	assert.Positive(t, res.Evictions)
	assert.Zero(t, filemap.Default().Len())
}

func TestVerifyCorpusReportsMismatch(t *testing.T) {
	t.Cleanup(func() { assert.NoError(t, filemap.Shutdown()) })

	dir, _ := genTestCorpus(t, 3, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, corpusFileName(2)), []byte("x\ny\nz\nw\n"), 0o644))

	res, err := verifyCorpus(dir)
	require.NoError(t, err)
	assert.Positive(t, res.Mismatches)
	assert.Equal(t, 12, res.Lines)
}

func TestVerifyCorpusCountsOverlongLines(t *testing.T) {
	t.Cleanup(func() { assert.NoError(t, filemap.Shutdown()) })

	dir, _ := genTestCorpus(t, 3, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, corpusFileName(1)), overlongLines(4), 0o644))

	res, err := verifyCorpus(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 12, res.Lines)
	assert.Equal(t, 4, res.Mismatches)
	assert.Zero(t, filemap.Default().Len())
}
