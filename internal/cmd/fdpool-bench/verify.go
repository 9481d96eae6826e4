package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fdpool/internal/filemap"

	"github.com/cespare/xxhash"
	"go.uber.org/multierr"
)

type VerifyResult struct {
	Files      int
	Lines      int
	Mismatches int
	Evictions  int
}

// verifyCorpus checks every line of the corpus in dir against its manifest,
// going through the default pool. All files are registered up front so the
// pool has to cycle descriptors when the corpus is larger than its capacity.
func verifyCorpus(dir string) (res VerifyResult, err error) {
	m, err := readManifest(dir)
	if err != nil {
		return res, err
	}

	pool := filemap.Default()
	evictionsBefore := pool.Stats().Evictions
	startTime := time.Now()

	handles := make([]*filemap.Handle, len(m.Files))
	for i, f := range m.Files {
		handles[i] = filemap.OpenFile(filepath.Join(dir, f.Name), os.O_RDONLY, 0)
	}
	defer func() {
		for _, h := range handles {
			err = multierr.Append(err, pool.Close(h))
		}
	}()

	indexes := make([]*filemap.LineIndex, len(handles))
	for i, h := range handles {
		li, indexErr := filemap.IndexLines(h)
		if indexErr != nil {
			return res, fmt.Errorf("failed to index %s: %w", h.Path(), indexErr)
		}
		indexes[i] = li
	}

	buf := make([]byte, m.MaxLineLength)
	for i, h := range handles {
		sums := m.Files[i].Sums
		if indexes[i].Len() != len(sums) {
			logger.Warn().
				Str("file", h.Path()).
				Int("indexed", indexes[i].Len()).
				Int("expected", len(sums)).
				Msg("Line count does not match manifest")
			res.Mismatches++
		}

		for line := 0; line < indexes[i].Len() && line < len(sums); line++ {
			res.Lines++
			n, readErr := indexes[i].Line(h, buf, line)
			if errors.Is(readErr, filemap.ErrLineTooLong) {
				logger.Warn().Str("file", h.Path()).Int("line", line).Msg("Line longer than manifest allows")
				res.Mismatches++
				continue
			}
			if readErr != nil {
				return res, readErr
			}
			if xxhash.Sum64(buf[:n]) != sums[line] {
				res.Mismatches++
			}
		}
		res.Files++
	}

	res.Evictions = pool.Stats().Evictions - evictionsBefore

	logger.Info().
		Int("files", res.Files).
		Int("lines", res.Lines).
		Int("mismatches", res.Mismatches).
		Int("evictions", res.Evictions).
		Int("capacity", pool.Capacity()).
		Dur("duration", time.Since(startTime)).
		Msg("Corpus verified")

	return res, nil
}
