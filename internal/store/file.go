package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Save atomically writes s to path. It writes to a .tmp file in the same
// directory, syncs it and renames it over path, so readers never see a
// partially written index.
func Save(path string, s *Storage, c Compression) error {
	data, err := Encode(s, c)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing index: %w", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncing index file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

// Load reads and verifies the index file at path.
func Load(path string) (*Storage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	s, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding index file %s: %w", path, err)
	}
	return s, nil
}
