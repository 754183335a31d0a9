// Package store is the single-file SQLite backend, used for local runs and
// tests in place of Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"newsfeed/internal/core"
	"newsfeed/internal/persistence"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Dialect is the SQLite migration dialect
var Dialect = persistence.Dialect{
	Name:  "sqlite",
	Files: migrationFiles,
	Dir:   "migrations",
	CreateTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`,
}

// Store represents the SQLite-backed database
type Store struct {
	db          *sql.DB
	path        string
	preferences *preferenceRepo
	feedCache   *feedCacheRepo
}

var _ persistence.Database = (*Store)(nil)

// NewStore opens (creating if needed) the database file at path and applies
// pending migrations.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:          db,
		path:        path,
		preferences: &preferenceRepo{db: db},
		feedCache:   &feedCacheRepo{db: db},
	}

	if _, err := s.Migrator().Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// Migrator returns a migration manager bound to this database
func (s *Store) Migrator() *persistence.MigrationManager {
	return persistence.NewDialectMigrationManager(s.db, Dialect)
}

// Path returns the database file location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Preferences() persistence.PreferenceRepository { return s.preferences }
func (s *Store) FeedCache() persistence.FeedCacheRepository    { return s.feedCache }

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type preferenceRepo struct {
	db *sql.DB
}

func (r *preferenceRepo) Get(ctx context.Context, userID string) (*core.PreferenceRecord, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT preferences_json FROM user_preferences WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan preferences: %w", err)
	}

	var record core.PreferenceRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	return &record, nil
}

func (r *preferenceRepo) Upsert(ctx context.Context, userID string, record core.PreferenceRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_preferences (user_id, preferences_json, version, updated_at)
		VALUES (?, ?, ?, ?)`,
		userID, string(raw), record.Version(), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

func (r *preferenceRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = ?`, userID)
	return err
}

type feedCacheRepo struct {
	db *sql.DB
}

func (r *feedCacheRepo) Get(ctx context.Context, userID string) (*core.FeedCacheEntry, error) {
	var (
		entry      core.FeedCacheEntry
		raw        string
		computedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, articles_json, computed_at, preference_version
		FROM feed_cache WHERE user_id = ?`, userID,
	).Scan(&entry.UserID, &raw, &computedAt, &entry.PreferenceVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feed cache: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &entry.Articles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached articles: %w", err)
	}
	entry.ComputedAt = time.Unix(0, computedAt).UTC()
	return &entry, nil
}

func (r *feedCacheRepo) Set(ctx context.Context, entry core.FeedCacheEntry) error {
	articles := entry.Articles
	if articles == nil {
		articles = []core.Article{}
	}
	raw, err := json.Marshal(articles)
	if err != nil {
		return fmt.Errorf("failed to marshal articles: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO feed_cache (user_id, articles_json, computed_at, preference_version)
		VALUES (?, ?, ?, ?)`,
		entry.UserID, string(raw), entry.ComputedAt.UTC().UnixNano(), entry.PreferenceVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to set feed cache: %w", err)
	}
	return nil
}

func (r *feedCacheRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feed_cache WHERE user_id = ?`, userID)
	return err
}

func (r *feedCacheRepo) DeleteComputedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feed_cache WHERE computed_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge feed cache: %w", err)
	}
	return res.RowsAffected()
}
