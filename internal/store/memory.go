package store

import (
	"context"
	"sync"

	"github.com/streme-leaderboard/internal/domain"
)

// Memory keeps sessions in process memory. Useful for a single instance and tests.
type Memory struct {
	mu      sync.RWMutex
	entries []domain.ScoreEntry
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the stored sessions
func (m *Memory) Load(ctx context.Context) ([]domain.ScoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ScoreEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

// Save replaces the stored sessions
func (m *Memory) Save(ctx context.Context, entries []domain.ScoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = stripRanks(entries)
	return nil
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
