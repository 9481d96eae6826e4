package main

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash"
	"golang.org/x/sync/errgroup"
)

const lineAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 "

func corpusFileName(i int) string {
	return fmt.Sprintf("file-%05d.txt", i)
}

// generateCorpus writes cfg.Files files of random lines into cfg.Dir and a
// manifest with the checksum of every line.
func generateCorpus(cfg *GenConfig) (*Manifest, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create corpus dir: %w", err)
	}

	startTime := time.Now()
	m := &Manifest{
		MaxLineLength: cfg.MaxLineLength,
		Files:         make([]ManifestFile, cfg.Files),
	}

	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for i := 0; i < cfg.Files; i++ {
		g.Go(func() error {
			name := corpusFileName(i)
			sums, err := writeCorpusFile(filepath.Join(cfg.Dir, name), cfg.LinesPerFile, cfg.MaxLineLength, uint64(i))
			if err != nil {
				return err
			}
			m.Files[i] = ManifestFile{Name: name, Sums: sums}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := writeManifest(cfg.Dir, m); err != nil {
		return nil, err
	}

	logger.Info().
		Str("dir", cfg.Dir).
		Int("files", cfg.Files).
		Int("lines_per_file", cfg.LinesPerFile).
		Dur("duration", time.Since(startTime)).
		Msg("Corpus generated")

	return m, nil
}

func writeCorpusFile(path string, lines, maxLineLength int, seed uint64) (sums []uint64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	rng := rand.New(rand.NewPCG(seed, uint64(lines)))
	w := bufio.NewWriter(f)
	line := make([]byte, 0, maxLineLength+1)
	sums = make([]uint64, lines)

	for i := range sums {
		line = line[:0]
		n := 1 + rng.IntN(maxLineLength)
		for j := 0; j < n; j++ {
			line = append(line, lineAlphabet[rng.IntN(len(lineAlphabet))])
		}
		sums[i] = xxhash.Sum64(line)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return sums, nil
}
