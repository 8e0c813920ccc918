package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/domain"
)

// Repository provides PostgreSQL-based session storage. It serves both as a
// primary store and as the archive the snapshot worker copies into, and it
// keeps an append-only log of every accepted session.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS score_sessions (
			id VARCHAR(80) PRIMARY KEY,
			fid BIGINT NOT NULL,
			username VARCHAR(255) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			pfp_url TEXT NOT NULL DEFAULT '',
			score BIGINT NOT NULL,
			tokens_collected BIGINT NOT NULL,
			level BIGINT NOT NULL,
			favorite_token JSONB,
			token_stats JSONB,
			gameplay_stats JSONB,
			submitted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS score_events (
			id BIGSERIAL PRIMARY KEY,
			entry_id VARCHAR(80) NOT NULL,
			fid BIGINT NOT NULL,
			score BIGINT NOT NULL,
			payload JSONB NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_sessions_submitted ON score_sessions(submitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_score_sessions_fid_score ON score_sessions(fid, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_score_events_fid ON score_events(fid, submitted_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// Load returns all stored sessions, oldest first
func (r *Repository) Load(ctx context.Context) ([]domain.ScoreEntry, error) {
	query := `
		SELECT id, fid, username, display_name, pfp_url, score, tokens_collected, level,
			   favorite_token, token_stats, gameplay_stats, submitted_at
		FROM score_sessions
		ORDER BY submitted_at, id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	defer rows.Close()

	entries := []domain.ScoreEntry{}
	for rows.Next() {
		var entry domain.ScoreEntry
		var favoriteToken, tokenStats, gameplayStats []byte
		err := rows.Scan(
			&entry.ID,
			&entry.PlayerID,
			&entry.Username,
			&entry.DisplayName,
			&entry.AvatarURL,
			&entry.Score,
			&entry.TokensCollected,
			&entry.Level,
			&favoriteToken,
			&tokenStats,
			&gameplayStats,
			&entry.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if entry.FavoriteToken, err = decodeBlob(favoriteToken); err != nil {
			return nil, fmt.Errorf("decoding favorite_token of %s: %w", entry.ID, err)
		}
		if entry.TokenStats, err = decodeBlob(tokenStats); err != nil {
			return nil, fmt.Errorf("decoding token_stats of %s: %w", entry.ID, err)
		}
		if entry.GameplayStats, err = decodeBlob(gameplayStats); err != nil {
			return nil, fmt.Errorf("decoding gameplay_stats of %s: %w", entry.ID, err)
		}
		entry.SubmittedAt = entry.SubmittedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return entries, nil
}

// Save replaces the stored sessions in one transaction: rows that are no
// longer retained are deleted and the rest are upserted in a batch.
func (r *Repository) Save(ctx context.Context, entries []domain.ScoreEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}
	if _, err := tx.Exec(ctx, `DELETE FROM score_sessions WHERE NOT (id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("deleting evicted sessions: %w", err)
	}

	if len(entries) > 0 {
		batch := &pgx.Batch{}
		query := `
			INSERT INTO score_sessions (id, fid, username, display_name, pfp_url, score, tokens_collected,
				level, favorite_token, token_stats, gameplay_stats, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING
		`
		for _, entry := range entries {
			blobs, err := encodeBlobs(entry)
			if err != nil {
				return err
			}
			batch.Queue(query,
				entry.ID,
				entry.PlayerID,
				entry.Username,
				entry.DisplayName,
				entry.AvatarURL,
				entry.Score,
				entry.TokensCollected,
				entry.Level,
				blobs[0],
				blobs[1],
				blobs[2],
				entry.SubmittedAt,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range entries {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("batch inserting sessions: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("closing batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing sessions: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// RecordSession appends an accepted session to the audit log. The log is
// never trimmed, so it outlives retention eviction.
func (r *Repository) RecordSession(ctx context.Context, entry domain.ScoreEntry) error {
	payload, err := json.Marshal(entry.WithoutRank())
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	query := `
		INSERT INTO score_events (entry_id, fid, score, payload, submitted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.PlayerID,
		entry.Score,
		payload,
		entry.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	return nil
}

// encodeBlobs marshals the opaque stats of an entry, NULL when absent.
func encodeBlobs(entry domain.ScoreEntry) ([3][]byte, error) {
	var out [3][]byte
	for i, blob := range []map[string]interface{}{entry.FavoriteToken, entry.TokenStats, entry.GameplayStats} {
		if blob == nil {
			continue
		}
		data, err := json.Marshal(blob)
		if err != nil {
			return out, fmt.Errorf("marshaling stats of %s: %w", entry.ID, err)
		}
		out[i] = data
	}
	return out, nil
}

// decodeBlob unmarshals a nullable JSONB column.
func decodeBlob(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var blob map[string]interface{}
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}
