package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/streme-leaderboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a miniredis instance and a store backed by it
func setupTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mr, NewStoreWithClient(client, "test", logger)
}

func entryAt(id string, fid, score int64, at time.Time) domain.ScoreEntry {
	return domain.ScoreEntry{
		ID:          id,
		PlayerID:    fid,
		Username:    "u",
		DisplayName: "U",
		Score:       score,
		Level:       1,
		SubmittedAt: at,
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	_, s := setupTestStore(t)

	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_SaveLoadKeepsTimeOrder(t *testing.T) {
	_, s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	saved := []domain.ScoreEntry{
		entryAt("3-c", 3, 30, base.Add(2*time.Second)),
		entryAt("1-a", 1, 10, base),
		entryAt("2-b", 2, 20, base.Add(time.Second)),
	}
	saved[0].Rank = 1
	saved[1].TokenStats = map[string]interface{}{"STREME": map[string]interface{}{"count": 3.0}}
	require.NoError(t, s.Save(ctx, saved))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, []string{"1-a", "2-b", "3-c"}, []string{loaded[0].ID, loaded[1].ID, loaded[2].ID})
	assert.Equal(t, saved[1].TokenStats, loaded[0].TokenStats)
	assert.Zero(t, loaded[2].Rank)
	assert.True(t, base.Equal(loaded[0].SubmittedAt))
}

func TestStore_SaveReplacesPreviousSet(t *testing.T) {
	mr, s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, []domain.ScoreEntry{
		entryAt("1-a", 1, 10, base),
		entryAt("2-b", 2, 20, base.Add(time.Second)),
	}))
	require.NoError(t, s.Save(ctx, []domain.ScoreEntry{
		entryAt("2-b", 2, 20, base.Add(time.Second)),
	}))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "2-b", loaded[0].ID)
	keys, err := mr.HKeys("leaderboard:test:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"2-b"}, keys)

	require.NoError(t, s.Save(ctx, nil))
	assert.False(t, mr.Exists("leaderboard:test:sessions"))
	assert.False(t, mr.Exists("leaderboard:test:timeline"))
}

func TestStore_PingFailsWhenServerDown(t *testing.T) {
	mr, s := setupTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
