package handlers

import (
	"context"
	"fmt"

	"newsfeed/internal/config"
	"newsfeed/internal/persistence"
	"newsfeed/internal/store"
)

// openedDatabase pairs a backend with the migration manager for its dialect
type openedDatabase struct {
	persistence.Database
	migrator *persistence.MigrationManager
}

// getDatabase opens the configured backend. SQLite applies its migrations on
// open; Postgres expects 'newsfeed migrate up' to have been run.
func getDatabase(ctx context.Context) (*openedDatabase, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("database connection string not configured (set database.url in config or DATABASE_URL env var)")
		}
		db, err := persistence.NewPostgresDB(ctx, cfg.Database.URL, cfg.Database.ReadURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &openedDatabase{Database: db, migrator: persistence.NewMigrationManager(db)}, nil
	default:
		db, err := store.NewStore(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.SQLitePath, err)
		}
		return &openedDatabase{Database: db, migrator: db.Migrator()}, nil
	}
}
