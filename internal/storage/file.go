package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File names used by FileMedium.
const (
	DailyFileName   = "daily_fortune.json"
	HistoryFileName = "fortune_history.json"
)

// FileMedium stores each collection as a JSON document in a directory.
// Writes go to a temporary file that is renamed over the target.
type FileMedium struct {
	dir string
}

// OpenFile returns a FileMedium rooted at dir, creating it if needed.
func OpenFile(dir string) (*FileMedium, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileMedium{dir: dir}, nil
}

func (f *FileMedium) Close() error { return nil }

func (f *FileMedium) LoadDaily(_ context.Context) (DailyCache, error) {
	c := DailyCache{}
	if err := f.load(DailyFileName, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func (f *FileMedium) SaveDaily(_ context.Context, c DailyCache) error {
	return f.save(DailyFileName, c)
}

func (f *FileMedium) LoadHistory(_ context.Context) (History, error) {
	h := History{}
	if err := f.load(HistoryFileName, &h); err != nil {
		return nil, err
	}
	return h, nil
}

func (f *FileMedium) SaveHistory(_ context.Context, h History) error {
	return f.save(HistoryFileName, h)
}

func (f *FileMedium) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

func (f *FileMedium) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(f.dir, name)); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}
