package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/domain"
)

// Store keeps retained sessions in Redis so several server instances can
// share one leaderboard.
//
// Sessions live in a hash keyed by entry id; a sorted set scored by
// submission time keeps their storage order.
type Store struct {
	client    *redis.Client
	namespace string
	logger    *slog.Logger
}

// NewStore connects to Redis and returns a session store
func NewStore(cfg *config.RedisConfig, namespace string, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreWithClient(client, namespace, logger), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, namespace string, logger *slog.Logger) *Store {
	if namespace == "" {
		namespace = "default"
	}
	return &Store{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// sessionsKey returns the Redis key for the session hash
func (s *Store) sessionsKey() string {
	return fmt.Sprintf("leaderboard:%s:sessions", s.namespace)
}

// timelineKey returns the Redis key for the submission-time sorted set
func (s *Store) timelineKey() string {
	return fmt.Sprintf("leaderboard:%s:timeline", s.namespace)
}

// Load returns all stored sessions, oldest first
func (s *Store) Load(ctx context.Context) ([]domain.ScoreEntry, error) {
	ids, err := s.client.ZRange(ctx, s.timelineKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading timeline: %w", err)
	}
	if len(ids) == 0 {
		return []domain.ScoreEntry{}, nil
	}

	values, err := s.client.HMGet(ctx, s.sessionsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}

	entries := make([]domain.ScoreEntry, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			s.logger.Warn("session missing from hash", "id", ids[i])
			continue
		}
		var entry domain.ScoreEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decoding session %s: %w", ids[i], err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Save replaces the stored sessions in a single transaction
func (s *Store) Save(ctx context.Context, entries []domain.ScoreEntry) error {
	fields := make(map[string]interface{}, len(entries))
	members := make([]redis.Z, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry.WithoutRank())
		if err != nil {
			return fmt.Errorf("encoding session %s: %w", entry.ID, err)
		}
		fields[entry.ID] = string(data)
		members = append(members, redis.Z{
			Score:  float64(entry.SubmittedAt.UnixMilli()),
			Member: entry.ID,
		})
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionsKey(), s.timelineKey())
	if len(entries) > 0 {
		pipe.HSet(ctx, s.sessionsKey(), fields)
		pipe.ZAdd(ctx, s.timelineKey(), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving sessions: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}
