package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/domain"
	"github.com/streme-leaderboard/internal/leaderboard"
	"github.com/streme-leaderboard/internal/metrics"
	"github.com/streme-leaderboard/internal/store"
)

// Broadcaster pushes leaderboard changes to live clients
type Broadcaster interface {
	BroadcastLeaderboardUpdate(entries []domain.ScoreEntry, stats domain.LeaderboardStats)
	BroadcastPlayerUpdate(entry domain.ScoreEntry)
}

// SessionRecorder keeps an audit trail of accepted sessions
type SessionRecorder interface {
	RecordSession(ctx context.Context, entry domain.ScoreEntry) error
}

// LeaderboardService provides business logic for leaderboard operations.
//
// It serializes every engine call behind one mutex and keeps the engine in
// step with the backing store: reads reuse the loaded state for CacheTTL,
// writes always reload first and roll back when the save fails. Instances
// sharing a store converge within CacheTTL but concurrent writers on
// different instances are not linearizable.
type LeaderboardService struct {
	mu       sync.Mutex
	engine   *leaderboard.Engine
	store    store.Store
	config   *config.LeaderboardConfig
	logger   *slog.Logger
	now      func() time.Time
	loaded   bool
	loadedAt time.Time

	hub      Broadcaster
	topN     int
	recorder SessionRecorder
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(st store.Store, cfg *config.LeaderboardConfig, logger *slog.Logger) *LeaderboardService {
	engine := leaderboard.New(
		leaderboard.WithMaxRetained(cfg.MaxRetained),
		leaderboard.WithPlayerIDPolicy(domain.ReservedRangePolicy(cfg.ReservedPlayerIDThreshold)),
	)
	return &LeaderboardService{
		engine: engine,
		store:  st,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetHub sets the broadcaster notified after every accepted submission
func (s *LeaderboardService) SetHub(hub Broadcaster, topN int) {
	s.hub = hub
	s.topN = topN
}

// SetRecorder sets the audit log for accepted sessions
func (s *LeaderboardService) SetRecorder(recorder SessionRecorder) {
	s.recorder = recorder
}

// refresh reloads the engine from the store when forced or when the loaded
// state is older than the cache TTL. Callers hold s.mu.
func (s *LeaderboardService) refresh(ctx context.Context, force bool) error {
	if !force && s.loaded && s.now().Sub(s.loadedAt) < s.config.CacheTTL {
		return nil
	}

	entries, err := s.store.Load(ctx)
	if err != nil {
		metrics.ObserveStoreError("load")
		if !force && s.loaded {
			s.logger.Warn("failed to reload leaderboard, serving cached state", "error", err)
			return nil
		}
		return fmt.Errorf("loading sessions: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if evicted := s.engine.Restore(entries); evicted > 0 {
		s.logger.Info("trimmed stored sessions to retention cap",
			"evicted", evicted,
			"max_retained", s.engine.MaxRetained(),
		)
	}
	s.loaded = true
	s.loadedAt = s.now()
	return nil
}

// persist saves the engine state, restoring snapshot when the save fails.
// Callers hold s.mu.
func (s *LeaderboardService) persist(ctx context.Context, snapshot []domain.ScoreEntry) error {
	if err := s.store.Save(ctx, s.engine.Entries()); err != nil {
		metrics.ObserveStoreError("save")
		s.engine.Restore(snapshot)
		return fmt.Errorf("saving sessions: %w: %w", domain.ErrStoreUnavailable, err)
	}
	s.loadedAt = s.now()
	return nil
}

// SubmitScore validates and stores one game session and returns it ranked
func (s *LeaderboardService) SubmitScore(ctx context.Context, in domain.ScoreInput) (domain.SubmitResult, error) {
	s.mu.Lock()
	if err := s.refresh(ctx, true); err != nil {
		s.mu.Unlock()
		metrics.ObserveSubmission(metrics.OutcomeStoreFailed)
		return domain.SubmitResult{}, err
	}

	snapshot := s.engine.Entries()
	result, err := s.engine.Submit(in, s.now())
	if err != nil {
		s.mu.Unlock()
		observeRejection(err)
		return domain.SubmitResult{}, err
	}

	if err := s.persist(ctx, snapshot); err != nil {
		s.mu.Unlock()
		metrics.ObserveSubmission(metrics.OutcomeStoreFailed)
		return domain.SubmitResult{}, err
	}

	metrics.ObserveSubmission(metrics.OutcomeAccepted)
	metrics.ObserveRetention(result.Evicted, s.engine.Len())
	top, stats := s.broadcastState()
	s.mu.Unlock()

	s.logger.Info("score submitted",
		"fid", result.Entry.PlayerID,
		"score", result.Entry.Score,
		"rank", result.Entry.Rank,
		"personal_best", result.PersonalBest,
	)

	s.afterAccept(ctx, []domain.SubmitResult{result}, top, stats)
	return result, nil
}

// SubmitScoreBatch stores several sessions with a single load and save.
// Rejected items are reported per item; a failed save rejects the whole batch.
func (s *LeaderboardService) SubmitScoreBatch(ctx context.Context, inputs []domain.ScoreInput) ([]domain.ItemResult, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if err := s.refresh(ctx, true); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	snapshot := s.engine.Entries()
	results := make([]domain.ItemResult, len(inputs))
	accepted := make([]domain.SubmitResult, 0, len(inputs))
	evicted := 0
	for i, in := range inputs {
		res, err := s.engine.Submit(in, s.now())
		results[i] = domain.ItemResult{Result: res, Err: err}
		if err != nil {
			observeRejection(err)
			continue
		}
		accepted = append(accepted, res)
		evicted += res.Evicted
	}

	if len(accepted) == 0 {
		s.mu.Unlock()
		return results, nil
	}

	if err := s.persist(ctx, snapshot); err != nil {
		s.mu.Unlock()
		for range accepted {
			metrics.ObserveSubmission(metrics.OutcomeStoreFailed)
		}
		return nil, err
	}

	for range accepted {
		metrics.ObserveSubmission(metrics.OutcomeAccepted)
	}
	metrics.ObserveRetention(evicted, s.engine.Len())
	top, stats := s.broadcastState()
	s.mu.Unlock()

	s.logger.Info("score batch submitted", "received", len(inputs), "accepted", len(accepted))
	s.afterAccept(ctx, accepted, top, stats)
	return results, nil
}

// broadcastState captures what live clients receive. Callers hold s.mu.
func (s *LeaderboardService) broadcastState() ([]domain.ScoreEntry, domain.LeaderboardStats) {
	if s.hub == nil {
		return nil, domain.LeaderboardStats{}
	}
	return s.engine.Leaderboard(s.topN), s.engine.Stats()
}

func (s *LeaderboardService) afterAccept(ctx context.Context, accepted []domain.SubmitResult, top []domain.ScoreEntry, stats domain.LeaderboardStats) {
	if s.recorder != nil {
		for _, res := range accepted {
			if err := s.recorder.RecordSession(ctx, res.Entry); err != nil {
				// The session is already stored; the audit trail is best effort.
				s.logger.Warn("failed to record session", "id", res.Entry.ID, "error", err)
			}
		}
	}
	if s.hub != nil {
		s.hub.BroadcastLeaderboardUpdate(top, stats)
		for _, res := range accepted {
			s.hub.BroadcastPlayerUpdate(res.Entry)
		}
	}
}

// GetLeaderboard returns the top players and aggregate stats
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, limit int) ([]domain.ScoreEntry, domain.LeaderboardStats, error) {
	// Validate limit
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(ctx, false); err != nil {
		return nil, domain.LeaderboardStats{}, err
	}

	metrics.ObserveRead("leaderboard")
	return s.engine.Leaderboard(limit), s.engine.Stats(), nil
}

// GetStats returns statistics for the leaderboard
func (s *LeaderboardService) GetStats(ctx context.Context) (domain.LeaderboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(ctx, false); err != nil {
		return domain.LeaderboardStats{}, err
	}

	metrics.ObserveRead("stats")
	return s.engine.Stats(), nil
}

// GetPlayerBest returns a player's best session with its rank, or nil when
// the player has no retained sessions
func (s *LeaderboardService) GetPlayerBest(ctx context.Context, playerID int64) (*domain.ScoreEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(ctx, false); err != nil {
		return nil, err
	}

	metrics.ObserveRead("player_best")
	entry, ok := s.engine.PlayerBest(playerID)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// Reset clears all sessions. Intended for development deployments.
func (s *LeaderboardService) Reset(ctx context.Context) error {
	if !s.config.EnableReset {
		return domain.ErrResetDisabled
	}

	s.mu.Lock()
	if err := s.refresh(ctx, true); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.engine.Entries()
	s.engine.Reset()
	if err := s.persist(ctx, snapshot); err != nil {
		s.mu.Unlock()
		return err
	}
	metrics.ObserveRetention(0, 0)
	top, stats := s.broadcastState()
	s.mu.Unlock()

	s.logger.Warn("leaderboard reset", "cleared", len(snapshot))
	if s.hub != nil {
		s.hub.BroadcastLeaderboardUpdate(top, stats)
	}
	return nil
}

// Ping checks the backing store
func (s *LeaderboardService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func observeRejection(err error) {
	switch {
	case errors.Is(err, domain.ErrIneligibleSubmitter):
		metrics.ObserveSubmission(metrics.OutcomeIneligible)
	default:
		metrics.ObserveSubmission(metrics.OutcomeInvalid)
	}
}
