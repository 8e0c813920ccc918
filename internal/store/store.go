// Package store defines how retained game sessions are persisted and
// provides the in-process adapters.
package store

import (
	"context"

	"github.com/streme-leaderboard/internal/domain"
)

// Store persists the full set of retained sessions.
//
// Save replaces the stored set; implementations never store ranks.
type Store interface {
	Load(ctx context.Context) ([]domain.ScoreEntry, error)
	Save(ctx context.Context, entries []domain.ScoreEntry) error
	Ping(ctx context.Context) error
}

// stripRanks returns a copy of entries with Rank cleared.
func stripRanks(entries []domain.ScoreEntry) []domain.ScoreEntry {
	out := make([]domain.ScoreEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.WithoutRank()
	}
	return out
}
