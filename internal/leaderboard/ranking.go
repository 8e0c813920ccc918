package leaderboard

import (
	"sort"

	"github.com/streme-leaderboard/internal/domain"
)

// ranksAhead reports whether a is ordered before b: higher score first, then
// the earlier session, then the smaller id so the order is total.
func ranksAhead(a, b domain.ScoreEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}

// BestScores builds the best-score view: one entry per player, the session
// that ranks ahead of all the player's other sessions.
func BestScores(entries []domain.ScoreEntry) map[int64]domain.ScoreEntry {
	best := make(map[int64]domain.ScoreEntry, len(entries))
	for _, entry := range entries {
		current, ok := best[entry.PlayerID]
		if !ok || ranksAhead(entry, current) {
			best[entry.PlayerID] = entry
		}
	}
	return best
}

// Ranked returns the best-score view ordered for display with Rank set 1..N.
func Ranked(entries []domain.ScoreEntry) []domain.ScoreEntry {
	best := BestScores(entries)
	ranked := make([]domain.ScoreEntry, 0, len(best))
	for _, entry := range best {
		ranked = append(ranked, entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranksAhead(ranked[i], ranked[j])
	})
	for i := range ranked {
		ranked[i].Rank = int64(i + 1)
	}
	return ranked
}

// oldestFirst returns the indexes of entries ordered by submission time.
// Sessions with equal timestamps keep storage order.
func oldestFirst(entries []domain.ScoreEntry) []int {
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return entries[idx[i]].SubmittedAt.Before(entries[idx[j]].SubmittedAt)
	})
	return idx
}
