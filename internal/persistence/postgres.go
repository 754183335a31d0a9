package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"newsfeed/internal/core"
)

// PostgresDB implements the Database interface for PostgreSQL.
// Writes go to the primary; reads may be served by a replica.
type PostgresDB struct {
	primary     *sql.DB
	replica     *sql.DB
	preferences PreferenceRepository
	feedCache   FeedCacheRepository
}

// NewPostgresDB opens the primary and, when readURL differs, a read replica
func NewPostgresDB(ctx context.Context, url, readURL string) (*PostgresDB, error) {
	primary, err := openPostgres(ctx, url)
	if err != nil {
		return nil, err
	}

	replica := primary
	if readURL != "" && readURL != url {
		replica, err = openPostgres(ctx, readURL)
		if err != nil {
			primary.Close()
			return nil, fmt.Errorf("read replica: %w", err)
		}
	}

	pgDB := &PostgresDB{primary: primary, replica: replica}
	pgDB.preferences = &postgresPreferenceRepo{primary: primary, replica: replica}
	pgDB.feedCache = &postgresFeedCacheRepo{primary: primary, replica: replica}
	return pgDB, nil
}

func openPostgres(ctx context.Context, connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (p *PostgresDB) Preferences() PreferenceRepository { return p.preferences }
func (p *PostgresDB) FeedCache() FeedCacheRepository    { return p.feedCache }

func (p *PostgresDB) Close() error {
	var err error
	if p.replica != p.primary {
		err = p.replica.Close()
	}
	return errors.Join(err, p.primary.Close())
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	if err := p.primary.PingContext(ctx); err != nil {
		return err
	}
	if p.replica != p.primary {
		return p.replica.PingContext(ctx)
	}
	return nil
}

// postgresPreferenceRepo implements PreferenceRepository for PostgreSQL
type postgresPreferenceRepo struct {
	primary *sql.DB
	replica *sql.DB
}

func (r *postgresPreferenceRepo) Get(ctx context.Context, userID string) (*core.PreferenceRecord, error) {
	var raw []byte
	err := r.replica.QueryRowContext(ctx,
		`SELECT preferences_json FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	var record core.PreferenceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return &record, nil
}

func (r *postgresPreferenceRepo) Upsert(ctx context.Context, userID string, record core.PreferenceRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = r.primary.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, preferences_json, version, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			preferences_json = EXCLUDED.preferences_json,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`, userID, raw, record.Version())
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

func (r *postgresPreferenceRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.primary.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return nil
}

// postgresFeedCacheRepo implements FeedCacheRepository for PostgreSQL
type postgresFeedCacheRepo struct {
	primary *sql.DB
	replica *sql.DB
}

func (r *postgresFeedCacheRepo) Get(ctx context.Context, userID string) (*core.FeedCacheEntry, error) {
	var (
		raw   []byte
		entry core.FeedCacheEntry
	)
	err := r.replica.QueryRowContext(ctx, `
		SELECT user_id, articles_json, computed_at, preference_version
		FROM feed_cache WHERE user_id = $1
	`, userID).Scan(&entry.UserID, &raw, &entry.ComputedAt, &entry.PreferenceVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feed cache: %w", err)
	}

	if err := json.Unmarshal(raw, &entry.Articles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached articles: %w", err)
	}
	entry.ComputedAt = entry.ComputedAt.UTC()
	return &entry, nil
}

func (r *postgresFeedCacheRepo) Set(ctx context.Context, entry core.FeedCacheEntry) error {
	articles := entry.Articles
	if articles == nil {
		articles = []core.Article{}
	}
	raw, err := json.Marshal(articles)
	if err != nil {
		return fmt.Errorf("failed to marshal articles: %w", err)
	}

	_, err = r.primary.ExecContext(ctx, `
		INSERT INTO feed_cache (user_id, articles_json, computed_at, preference_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			articles_json = EXCLUDED.articles_json,
			computed_at = EXCLUDED.computed_at,
			preference_version = EXCLUDED.preference_version
	`, entry.UserID, raw, entry.ComputedAt.UTC(), entry.PreferenceVersion)
	if err != nil {
		return fmt.Errorf("failed to set feed cache: %w", err)
	}
	return nil
}

func (r *postgresFeedCacheRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.primary.ExecContext(ctx, `DELETE FROM feed_cache WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete feed cache: %w", err)
	}
	return nil
}

func (r *postgresFeedCacheRepo) DeleteComputedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.primary.ExecContext(ctx, `DELETE FROM feed_cache WHERE computed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge feed cache: %w", err)
	}
	return res.RowsAffected()
}
