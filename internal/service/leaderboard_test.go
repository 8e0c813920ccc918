package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/domain"
	lbredis "github.com/streme-leaderboard/internal/redis"
	"github.com/streme-leaderboard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

// flakyStore wraps a memory store and fails on demand
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failLoad bool
	failSave bool
	saves    int
}

func (f *flakyStore) Load(ctx context.Context) ([]domain.ScoreEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return nil, errBackend
	}
	return f.Memory.Load(ctx)
}

func (f *flakyStore) Save(ctx context.Context, entries []domain.ScoreEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errBackend
	}
	f.saves++
	return f.Memory.Save(ctx, entries)
}

type recordedBroadcast struct {
	top    []domain.ScoreEntry
	stats  domain.LeaderboardStats
	player []domain.ScoreEntry
}

type fakeHub struct {
	mu    sync.Mutex
	calls recordedBroadcast
	count int
}

func (h *fakeHub) BroadcastLeaderboardUpdate(entries []domain.ScoreEntry, stats domain.LeaderboardStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.calls.top = entries
	h.calls.stats = stats
}

func (h *fakeHub) BroadcastPlayerUpdate(entry domain.ScoreEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.player = append(h.calls.player, entry)
}

type fakeRecorder struct {
	sessions []domain.ScoreEntry
	err      error
}

func (r *fakeRecorder) RecordSession(ctx context.Context, entry domain.ScoreEntry) error {
	r.sessions = append(r.sessions, entry)
	return r.err
}

func testConfig() *config.LeaderboardConfig {
	return &config.LeaderboardConfig{
		MaxRetained:               500,
		ReservedPlayerIDThreshold: 888888,
		DefaultLimit:              100,
		MaxLimit:                  1000,
		CacheTTL:                  5 * time.Second,
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(time.Millisecond)
	return t
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, st store.Store, cfg *config.LeaderboardConfig) (*LeaderboardService, *testClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewLeaderboardService(st, cfg, logger)
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.Now
	return svc, clock
}

func ptr[T any](v T) *T {
	return &v
}

func scoreInput(fid int64, score float64) domain.ScoreInput {
	return domain.ScoreInput{
		PlayerID:        ptr(fid),
		Username:        ptr("player"),
		DisplayName:     ptr("Player"),
		Score:           ptr(score),
		TokensCollected: ptr(3.0),
		Level:           ptr(2.0),
	}
}

func TestSubmitScore_AppearsOnLeaderboard(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemory(), testConfig())
	ctx := context.Background()

	res, err := svc.SubmitScore(ctx, scoreInput(42, 1200))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Entry.Rank)
	assert.True(t, res.PersonalBest)

	_, err = svc.SubmitScore(ctx, scoreInput(7, 3000))
	require.NoError(t, err)

	entries, stats, err := svc.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(7), entries[0].PlayerID)
	assert.Equal(t, int64(42), entries[1].PlayerID)
	assert.Equal(t, int64(2), entries[1].Rank)
	assert.Equal(t, domain.LeaderboardStats{TotalPlayers: 2, TotalSessions: 2, HighestScore: 3000}, stats)
}

func TestSubmitScore_Rejections(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	svc, _ := newTestService(t, st, testConfig())
	ctx := context.Background()

	in := scoreInput(42, 10)
	in.Username = nil
	_, err := svc.SubmitScore(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "Missing required field: username", err.Error())

	_, err = svc.SubmitScore(ctx, scoreInput(888888, 10))
	assert.ErrorIs(t, err, domain.ErrIneligibleSubmitter)

	assert.Zero(t, st.saves)
}

func TestSubmitScore_RollsBackOnSaveFailure(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	svc, _ := newTestService(t, st, testConfig())
	ctx := context.Background()

	_, err := svc.SubmitScore(ctx, scoreInput(1, 100))
	require.NoError(t, err)

	st.failSave = true
	_, err = svc.SubmitScore(ctx, scoreInput(2, 900))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errBackend)

	entries, _, err := svc.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].PlayerID)

	st.failSave = false
	_, err = svc.SubmitScore(ctx, scoreInput(2, 900))
	require.NoError(t, err)

	entries, _, err = svc.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSubmitScore_ClockBehindStoredSessions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetained = 3
	svc, clock := newTestService(t, store.NewMemory(), cfg)
	ctx := context.Background()

	for fid := int64(1); fid <= 3; fid++ {
		_, err := svc.SubmitScore(ctx, scoreInput(fid, float64(fid)))
		require.NoError(t, err)
	}

	clock.Advance(-time.Hour)
	res, err := svc.SubmitScore(ctx, scoreInput(50, 1000))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, int64(1), res.Entry.Rank)

	best, err := svc.GetPlayerBest(ctx, 50)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, res.Entry.ID, best.ID)

	entries, _, err := svc.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(50), entries[0].PlayerID)
}

func TestSubmitScore_LoadFailure(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(), failLoad: true}
	svc, _ := newTestService(t, st, testConfig())

	_, err := svc.SubmitScore(context.Background(), scoreInput(1, 100))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestGetLeaderboard_ServesCachedStateWhenReloadFails(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	svc, clock := newTestService(t, st, testConfig())
	ctx := context.Background()

	_, err := svc.SubmitScore(ctx, scoreInput(1, 100))
	require.NoError(t, err)

	st.failLoad = true
	clock.Advance(time.Minute)

	entries, _, err := svc.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetLeaderboard_ColdLoadFailure(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(), failLoad: true}
	svc, _ := newTestService(t, st, testConfig())

	_, _, err := svc.GetLeaderboard(context.Background(), 10)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestGetLeaderboard_LimitBounds(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultLimit = 2
	cfg.MaxLimit = 3
	svc, _ := newTestService(t, store.NewMemory(), cfg)
	ctx := context.Background()

	for fid := int64(1); fid <= 5; fid++ {
		_, err := svc.SubmitScore(ctx, scoreInput(fid, float64(fid*100)))
		require.NoError(t, err)
	}

	entries, _, err := svc.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, _, err = svc.GetLeaderboard(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, int64(5), entries[0].PlayerID)
}

func TestGetPlayerBest(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemory(), testConfig())
	ctx := context.Background()

	best, err := svc.GetPlayerBest(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, best)

	_, err = svc.SubmitScore(ctx, scoreInput(42, 500))
	require.NoError(t, err)
	res, err := svc.SubmitScore(ctx, scoreInput(42, 100))
	require.NoError(t, err)
	assert.False(t, res.PersonalBest)
	assert.Equal(t, int64(1), res.Entry.Rank)

	best, err = svc.GetPlayerBest(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, int64(500), best.Score)
	assert.Equal(t, int64(1), best.Rank)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPlayers)
	assert.Equal(t, int64(2), stats.TotalSessions)
}

func TestSubmitScoreBatch(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	svc, _ := newTestService(t, st, testConfig())
	ctx := context.Background()

	missing := scoreInput(3, 50)
	missing.Level = nil

	results, err := svc.SubmitScoreBatch(ctx, []domain.ScoreInput{
		scoreInput(1, 100),
		missing,
		scoreInput(999999, 5000),
		scoreInput(2, 300),
	})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrValidation)
	assert.ErrorIs(t, results[2].Err, domain.ErrIneligibleSubmitter)
	assert.NoError(t, results[3].Err)
	assert.Equal(t, int64(1), results[3].Result.Entry.Rank)
	assert.Equal(t, 1, st.saves)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSessions)
}

func TestSubmitScoreBatch_SaveFailureRejectsBatch(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory(), failSave: true}
	svc, _ := newTestService(t, st, testConfig())
	ctx := context.Background()

	_, err := svc.SubmitScoreBatch(ctx, []domain.ScoreInput{scoreInput(1, 100), scoreInput(2, 200)})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	st.failSave = false
	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSessions)
}

func TestSubmitScore_NotifiesHubAndRecorder(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemory(), testConfig())
	hub := &fakeHub{}
	recorder := &fakeRecorder{err: errBackend}
	svc.SetHub(hub, 1)
	svc.SetRecorder(recorder)
	ctx := context.Background()

	_, err := svc.SubmitScore(ctx, scoreInput(1, 100))
	require.NoError(t, err)
	_, err = svc.SubmitScore(ctx, scoreInput(2, 200))
	require.NoError(t, err)

	assert.Equal(t, 2, hub.count)
	require.Len(t, hub.calls.top, 1)
	assert.Equal(t, int64(2), hub.calls.top[0].PlayerID)
	assert.Equal(t, int64(2), hub.calls.stats.TotalPlayers)
	require.Len(t, hub.calls.player, 2)
	assert.Equal(t, int64(1), hub.calls.player[1].Rank)

	// recorder failures never fail the submission
	assert.Len(t, recorder.sessions, 2)
}

func TestReset(t *testing.T) {
	cfg := testConfig()
	svc, _ := newTestService(t, store.NewMemory(), cfg)
	ctx := context.Background()

	_, err := svc.SubmitScore(ctx, scoreInput(1, 100))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Reset(ctx), domain.ErrResetDisabled)

	cfg.EnableReset = true
	require.NoError(t, svc.Reset(ctx))

	entries, stats, err := svc.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, stats.TotalSessions)
}

func TestSharedRedisStore_InstancesConverge(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, clockA := newTestService(t, lbredis.NewStoreWithClient(client, "test", logger), testConfig())
	b, clockB := newTestService(t, lbredis.NewStoreWithClient(client, "test", logger), testConfig())
	ctx := context.Background()

	_, err = a.SubmitScore(ctx, scoreInput(1, 100))
	require.NoError(t, err)

	entries, _, err := b.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	clockA.Advance(time.Second)
	_, err = a.SubmitScore(ctx, scoreInput(2, 900))
	require.NoError(t, err)

	// b still serves its cached view until the TTL elapses
	entries, _, err = b.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	clockB.Advance(10 * time.Second)
	entries, _, err = b.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].PlayerID)

	// writes always reload, so b keeps a's sessions
	_, err = b.SubmitScore(ctx, scoreInput(3, 50))
	require.NoError(t, err)
	stats, err := a.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSessions, "a reads from its cache")
	require.NoError(t, b.Ping(ctx))
}
