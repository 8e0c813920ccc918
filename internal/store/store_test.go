package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/streme-leaderboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []domain.ScoreEntry {
	at := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	return []domain.ScoreEntry{
		{
			ID:              "42-1",
			PlayerID:        42,
			Username:        "alice",
			DisplayName:     "Alice",
			AvatarURL:       "https://example.com/alice.png",
			Score:           900,
			TokensCollected: 12,
			Level:           3,
			GameplayStats:   map[string]interface{}{"rocksHit": 2.0},
			SubmittedAt:     at,
			Rank:            1,
		},
		{
			ID:          "7-2",
			PlayerID:    7,
			Username:    "bob",
			DisplayName: "Bob",
			Score:       10,
			Level:       1,
			SubmittedAt: at.Add(time.Minute),
			Rank:        2,
		},
	}
}

func TestMemory_SaveLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	loaded, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, m.Save(ctx, sampleEntries()))
	loaded, err = m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Zero(t, loaded[0].Rank)
	assert.Equal(t, "42-1", loaded[0].ID)
	assert.NoError(t, m.Ping(ctx))
}

func TestFile_MissingFileIsEmpty(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "nested", "board.json"))
	require.NoError(t, err)

	loaded, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.NoError(t, f.Ping(context.Background()))
}

func TestFile_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "board.json")
	f, err := NewFile(path)
	require.NoError(t, err)

	want := sampleEntries()
	require.NoError(t, f.Save(ctx, want))

	got, err := f.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Score, got[i].Score)
		assert.True(t, want[i].SubmittedAt.Equal(got[i].SubmittedAt))
		assert.Zero(t, got[i].Rank)
	}
	assert.Equal(t, want[0].GameplayStats, got[0].GameplayStats)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 42.0, doc[0]["fid"])
	assert.Equal(t, float64(want[0].SubmittedAt.UnixMilli()), doc[0]["timestamp"])
	assert.NotContains(t, doc[0], "rank")
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	f, err := NewFile(path)
	require.NoError(t, err)

	_, err = f.Load(context.Background())
	assert.Error(t, err)
}

func TestNewFile_EmptyPath(t *testing.T) {
	_, err := NewFile("")
	assert.Error(t, err)
}
