package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Config selects and configures a backend for New.
type Config struct {
	Backend            string
	DataDir            string
	DatabaseURL        string
	FirestoreProjectID string
	Logger             zerolog.Logger
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"      - JSON files in DataDir (default)
//	"sqlite"    - SQLite database at DataDir/agentbench.db
//	"postgres"  - Postgres at DatabaseURL
//	"firestore" - Firestore project FirestoreProjectID
//	"memory"    - In-memory (ephemeral, for testing)
func New(ctx context.Context, cfg Config) (Store, error) {
	log := cfg.Logger.With().Str("backend", cfg.Backend).Logger()
	switch cfg.Backend {
	case "json", "":
		return NewJsonFileStore(cfg.DataDir, WithLogger(log))
	case "sqlite":
		dbPath := filepath.Join(cfg.DataDir, "agentbench.db")
		return NewSqliteStore(dbPath, WithLogger(log))
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend needs a database URL")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL, WithLogger(log))
	case "firestore":
		return NewFirestoreStore(ctx, cfg.FirestoreProjectID, log)
	case "memory":
		return NewMemoryStore(WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, postgres, firestore, memory)", cfg.Backend)
	}
}
