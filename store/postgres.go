package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{name: "pgx", blobType: "BYTEA", lockSuffix: " FOR UPDATE", numbered: true}

// PostgresStore stores all collections in one Postgres table. Batches run
// in a transaction that locks the rows it reads. Listeners only see commits
// made through this process.
type PostgresStore struct {
	*sqlStore
}

func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s, err := newSQLStore(ctx, db, postgresDialect, buildOptions(opts))
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}
