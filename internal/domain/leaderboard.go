package domain

import (
	"encoding/json"
	"time"
)

const (
	// DefaultMaxRetained is the number of game sessions kept before the
	// oldest ones are evicted.
	DefaultMaxRetained = 500

	// DefaultReservedPlayerIDThreshold is the first fid of the block the
	// client hands out to demo and anonymous sessions.
	DefaultReservedPlayerIDThreshold int64 = 888888
)

// PlayerIDPolicy reports whether a fid belongs to a real, connected account.
type PlayerIDPolicy func(playerID int64) bool

// ReservedRangePolicy accepts positive fids strictly below threshold.
func ReservedRangePolicy(threshold int64) PlayerIDPolicy {
	return func(playerID int64) bool {
		return playerID > 0 && playerID < threshold
	}
}

// ScoreEntry is one completed game session.
//
// Rank is never persisted; it is filled in by the engine on every read.
type ScoreEntry struct {
	ID              string                 `json:"id"`
	PlayerID        int64                  `json:"fid"`
	Username        string                 `json:"username"`
	DisplayName     string                 `json:"displayName"`
	AvatarURL       string                 `json:"pfpUrl"`
	Score           int64                  `json:"score"`
	TokensCollected int64                  `json:"tokensCollected"`
	Level           int64                  `json:"level"`
	FavoriteToken   map[string]interface{} `json:"favoriteToken,omitempty"`
	TokenStats      map[string]interface{} `json:"tokenStats,omitempty"`
	GameplayStats   map[string]interface{} `json:"gameplayStats,omitempty"`
	SubmittedAt     time.Time              `json:"-"`
	Rank            int64                  `json:"rank,omitempty"`
}

type scoreEntryFields ScoreEntry

// MarshalJSON encodes SubmittedAt as the unix-millisecond "timestamp" field
// the game client expects.
func (e ScoreEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		scoreEntryFields
		Timestamp int64 `json:"timestamp"`
	}{
		scoreEntryFields: scoreEntryFields(e),
		Timestamp:        e.SubmittedAt.UnixMilli(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *ScoreEntry) UnmarshalJSON(data []byte) error {
	aux := struct {
		*scoreEntryFields
		Timestamp int64 `json:"timestamp"`
	}{
		scoreEntryFields: (*scoreEntryFields)(e),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.SubmittedAt = time.UnixMilli(aux.Timestamp).UTC()
	return nil
}

// WithoutRank returns a copy of the entry suitable for persistence.
func (e ScoreEntry) WithoutRank() ScoreEntry {
	e.Rank = 0
	return e
}

// ScoreInput is a score submission as received from a caller. Pointer fields
// are required; nil means the caller omitted them or sent null.
type ScoreInput struct {
	PlayerID        *int64                 `json:"fid"`
	Username        *string                `json:"username"`
	DisplayName     *string                `json:"displayName"`
	AvatarURL       string                 `json:"pfpUrl,omitempty"`
	Score           *float64               `json:"score"`
	TokensCollected *float64               `json:"tokensCollected"`
	Level           *float64               `json:"level"`
	FavoriteToken   map[string]interface{} `json:"favoriteToken,omitempty"`
	TokenStats      map[string]interface{} `json:"tokenStats,omitempty"`
	GameplayStats   map[string]interface{} `json:"gameplayStats,omitempty"`
}

// Validate returns a *ValidationError naming the first missing required field.
func (in ScoreInput) Validate() error {
	switch {
	case in.PlayerID == nil:
		return &ValidationError{Field: "fid"}
	case in.Username == nil:
		return &ValidationError{Field: "username"}
	case in.DisplayName == nil:
		return &ValidationError{Field: "displayName"}
	case in.Score == nil:
		return &ValidationError{Field: "score"}
	case in.TokensCollected == nil:
		return &ValidationError{Field: "tokensCollected"}
	case in.Level == nil:
		return &ValidationError{Field: "level"}
	}
	return nil
}

// SubmitResult describes the outcome of an accepted submission.
type SubmitResult struct {
	Entry        ScoreEntry `json:"entry"`
	PersonalBest bool       `json:"personalBest"`
	Evicted      int        `json:"evicted"`
}

// LeaderboardStats contains aggregate statistics about the leaderboard
type LeaderboardStats struct {
	TotalPlayers  int64 `json:"totalPlayers"`
	TotalSessions int64 `json:"totalSessions"`
	HighestScore  int64 `json:"highestScore"`
}

// ItemResult is the per-submission outcome of a batch.
type ItemResult struct {
	Result SubmitResult
	Err    error
}
