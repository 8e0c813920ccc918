package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/streme-leaderboard/internal/domain"
)

// File keeps sessions as a JSON array on local disk, the same document shape
// the game client keeps in localStorage.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a file-backed store. The file is created on first Save.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &File{path: path}, nil
}

// Load reads the stored sessions. A missing file is an empty leaderboard.
func (f *File) Load(ctx context.Context) ([]domain.ScoreEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.ScoreEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	var entries []domain.ScoreEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding store file: %w", err)
	}
	return entries, nil
}

// Save writes the sessions atomically through a temp file and rename.
func (f *File) Save(ctx context.Context, entries []domain.ScoreEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(stripRanks(entries))
	if err != nil {
		return fmt.Errorf("encoding store file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".leaderboard-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}
	return nil
}

// Ping checks that the store directory is reachable
func (f *File) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("checking store directory: %w", err)
	}
	return nil
}
