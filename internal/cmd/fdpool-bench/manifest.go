package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"
)

const manifestName = "manifest.json.zst"

// Manifest lists the files of a generated corpus and the xxhash of every
// line, so the bench can check each line it reads back.
type Manifest struct {
	MaxLineLength int            `json:"max_line_length"`
	Files         []ManifestFile `json:"files"`
}

type ManifestFile struct {
	Name string   `json:"name"`
	Sums []uint64 `json:"sums"`
}

func writeManifest(dir string, m *Manifest) (err error) {
	f, err := os.Create(filepath.Join(dir, manifestName))
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close manifest: %w", cerr)
		}
	}()

	zw := zstd.NewWriter(f)
	if err := json.NewEncoder(zw).Encode(m); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush manifest: %w", err)
	}
	return nil
}

func readManifest(dir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	zr := zstd.NewReader(f)
	defer zr.Close()

	var m Manifest
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("manifest in %s lists no files", dir)
	}
	return &m, nil
}
