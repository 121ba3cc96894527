package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// dialect carries the differences between the SQL databases behind sqlStore.
type dialect struct {
	name       string
	blobType   string
	lockSuffix string
	numbered   bool
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore keeps every collection in one table, one CBOR-encoded row per document.
//
// Tables:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
type sqlStore struct {
	mu    sync.Mutex // serializes commits from this process
	db    *sql.DB
	d     dialect
	clock *clock
	hub   *hub
	log   zerolog.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, o options) (*sqlStore, error) {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data %s NOT NULL,
		PRIMARY KEY (collection, key)
	)`, d.blobType))
	if err != nil {
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	return &sqlStore{db: db, d: d, clock: newClock(o.now), hub: newHub(o.log), log: o.log}, nil
}

func (s *sqlStore) NewID(string) string {
	return newID()
}

func (s *sqlStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validatePath(collection, id); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		s.d.rebind("SELECT data FROM documents WHERE collection = ? AND key = ?"),
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := decodeCBOR(raw)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	return &Document{ID: id, Data: data}, nil
}

func (s *sqlStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		s.d.rebind("SELECT key, data FROM documents WHERE collection = ?"), q.Collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		data, err := decodeCBOR(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", q.Collection, key, err)
		}
		docs = append(docs, Document{ID: key, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runQuery(q, docs), nil
}

func (s *sqlStore) Commit(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	selectQ := s.d.rebind("SELECT data FROM documents WHERE collection = ? AND key = ?" + s.d.lockSuffix)
	load := func(collection, id string) (map[string]any, bool, error) {
		var raw []byte
		err := tx.QueryRowContext(ctx, selectQ, collection, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		data, err := decodeCBOR(raw)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}

	writes, err := resolveBatch(b, load, s.clock.next())
	if err != nil {
		return err
	}

	upsertQ := s.d.rebind(`INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data`)
	deleteQ := s.d.rebind("DELETE FROM documents WHERE collection = ? AND key = ?")
	for _, w := range writes {
		if w.data == nil {
			if _, err := tx.ExecContext(ctx, deleteQ, w.key.collection, w.key.id); err != nil {
				return err
			}
			continue
		}
		raw, err := encodeCBOR(w.data)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertQ, w.key.collection, w.key.id, raw); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug().Str("dialect", s.d.name).Int("writes", len(writes)).Msg("batch committed")
	s.hub.publish(changedKeys(writes))
	return nil
}

func (s *sqlStore) Watch(ctx context.Context, q Query, fn func([]Document, error)) CancelFunc {
	return s.hub.watchQuery(ctx, q, s.Query, fn)
}

func (s *sqlStore) WatchDocument(ctx context.Context, collection, id string, fn func(*Document, error)) CancelFunc {
	return s.hub.watchDocument(ctx, collection, id, s.Get, fn)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
