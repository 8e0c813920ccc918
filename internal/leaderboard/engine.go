// Package leaderboard implements the ranking and retention rules of the game
// leaderboard over an in-memory set of game sessions.
//
// An Engine is not safe for concurrent use. Callers that share one across
// goroutines serialize access themselves (see internal/service).
package leaderboard

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/streme-leaderboard/internal/domain"
)

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetained sets the retention cap. Values below 1 are ignored.
func WithMaxRetained(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetained = n
		}
	}
}

// WithPlayerIDPolicy replaces the default reserved-range check.
func WithPlayerIDPolicy(policy domain.PlayerIDPolicy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.eligible = policy
		}
	}
}

// WithIDSuffix sets the generator used to disambiguate two sessions of the
// same player submitted within one millisecond.
func WithIDSuffix(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.suffix = fn
		}
	}
}

// Engine owns the retained game sessions.
type Engine struct {
	entries     []domain.ScoreEntry
	ids         map[string]struct{}
	maxRetained int
	eligible    domain.PlayerIDPolicy
	suffix      func() string
}

// New creates an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		ids:         make(map[string]struct{}),
		maxRetained: domain.DefaultMaxRetained,
		eligible:    domain.ReservedRangePolicy(domain.DefaultReservedPlayerIDThreshold),
		suffix: func() string {
			return uuid.NewString()[:8]
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxRetained returns the retention cap.
func (e *Engine) MaxRetained() int {
	return e.maxRetained
}

// Len returns the number of retained sessions.
func (e *Engine) Len() int {
	return len(e.entries)
}

// Submit validates, normalizes and stores one game session.
func (e *Engine) Submit(in domain.ScoreInput, now time.Time) (domain.SubmitResult, error) {
	if err := in.Validate(); err != nil {
		return domain.SubmitResult{}, err
	}
	playerID := *in.PlayerID
	if !e.eligible(playerID) {
		return domain.SubmitResult{}, fmt.Errorf("fid %d: %w", playerID, domain.ErrIneligibleSubmitter)
	}

	submittedAt := now.UTC().Truncate(time.Millisecond)
	// A new session is never older than the sessions it joins; otherwise a
	// lagging clock would make it the first one evicted.
	if newest, ok := e.newestSubmission(); ok && submittedAt.Before(newest) {
		submittedAt = newest
	}
	entry := domain.ScoreEntry{
		ID:              e.newID(playerID, submittedAt),
		PlayerID:        playerID,
		Username:        *in.Username,
		DisplayName:     *in.DisplayName,
		AvatarURL:       in.AvatarURL,
		Score:           clamp(*in.Score, 0),
		TokensCollected: clamp(*in.TokensCollected, 0),
		Level:           clamp(*in.Level, 1),
		FavoriteToken:   in.FavoriteToken,
		TokenStats:      in.TokenStats,
		GameplayStats:   in.GameplayStats,
		SubmittedAt:     submittedAt,
	}

	previous, hadPrevious := e.PlayerBest(playerID)
	personalBest := !hadPrevious || entry.Score > previous.Score

	e.entries = append(e.entries, entry)
	e.ids[entry.ID] = struct{}{}
	evicted := e.evict()

	if best, ok := e.PlayerBest(playerID); ok {
		entry.Rank = best.Rank
	}

	return domain.SubmitResult{
		Entry:        entry,
		PersonalBest: personalBest,
		Evicted:      evicted,
	}, nil
}

// Leaderboard returns the ranked best-score view, truncated to limit when
// limit is positive.
func (e *Engine) Leaderboard(limit int) []domain.ScoreEntry {
	ranked := Ranked(e.entries)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Stats returns aggregate counters over the retained sessions.
func (e *Engine) Stats() domain.LeaderboardStats {
	best := BestScores(e.entries)
	stats := domain.LeaderboardStats{
		TotalPlayers:  int64(len(best)),
		TotalSessions: int64(len(e.entries)),
	}
	for _, entry := range best {
		if entry.Score > stats.HighestScore {
			stats.HighestScore = entry.Score
		}
	}
	return stats
}

// PlayerBest returns the player's best session ranked against the whole
// leaderboard. The boolean is false when the player has no sessions.
func (e *Engine) PlayerBest(playerID int64) (domain.ScoreEntry, bool) {
	for _, entry := range Ranked(e.entries) {
		if entry.PlayerID == playerID {
			return entry, true
		}
	}
	return domain.ScoreEntry{}, false
}

// Entries returns a copy of the retained sessions in storage order, without ranks.
func (e *Engine) Entries() []domain.ScoreEntry {
	out := make([]domain.ScoreEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Restore replaces the engine contents with sessions read from a backing
// store. Duplicate ids keep their first occurrence. It returns the number of
// sessions evicted to honour the retention cap.
func (e *Engine) Restore(entries []domain.ScoreEntry) int {
	e.entries = make([]domain.ScoreEntry, 0, len(entries))
	e.ids = make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := e.ids[entry.ID]; dup {
			continue
		}
		e.ids[entry.ID] = struct{}{}
		e.entries = append(e.entries, entry.WithoutRank())
	}
	return e.evict()
}

// Reset drops every retained session.
func (e *Engine) Reset() {
	e.entries = nil
	e.ids = make(map[string]struct{})
}

// evict removes the oldest sessions until the cap holds. Scores are not considered.
func (e *Engine) evict() int {
	excess := len(e.entries) - e.maxRetained
	if excess <= 0 {
		return 0
	}

	drop := make(map[int]struct{}, excess)
	for _, i := range oldestFirst(e.entries)[:excess] {
		drop[i] = struct{}{}
	}

	kept := make([]domain.ScoreEntry, 0, e.maxRetained)
	for i, entry := range e.entries {
		if _, ok := drop[i]; ok {
			delete(e.ids, entry.ID)
			continue
		}
		kept = append(kept, entry)
	}
	e.entries = kept
	return excess
}

func (e *Engine) newestSubmission() (time.Time, bool) {
	var newest time.Time
	for _, entry := range e.entries {
		if entry.SubmittedAt.After(newest) {
			newest = entry.SubmittedAt
		}
	}
	return newest, len(e.entries) > 0
}

func (e *Engine) newID(playerID int64, at time.Time) string {
	id := fmt.Sprintf("%d-%d", playerID, at.UnixMilli())
	for {
		if _, taken := e.ids[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%d-%d-%s", playerID, at.UnixMilli(), e.suffix())
	}
}

// clamp floors v and raises it to lower. NaN becomes lower.
func clamp(v float64, lower int64) int64 {
	f := math.Floor(v)
	if math.IsNaN(f) || f < float64(lower) {
		return lower
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}
