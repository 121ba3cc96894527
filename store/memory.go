package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	clock       *clock
	hub         *hub
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		clock:       newClock(o.now),
		hub:         newHub(o.log),
	}
}

func (m *MemoryStore) NewID(string) string {
	return newID()
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePath(collection, id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Data: cloneMap(doc)}, nil
}

func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	coll := m.collections[q.Collection]
	docs := make([]Document, 0, len(coll))
	for id, data := range coll {
		docs = append(docs, Document{ID: id, Data: cloneMap(data)})
	}
	m.mu.RUnlock()
	return runQuery(q, docs), nil
}

// load reads committed state; callers hold m.mu.
func (m *MemoryStore) load(collection, id string) (map[string]any, bool, error) {
	doc, ok := m.collections[collection][id]
	return doc, ok, nil
}

func (m *MemoryStore) Commit(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	m.mu.Lock()
	writes, err := resolveBatch(b, m.load, m.clock.next())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for _, w := range writes {
		if w.data == nil {
			delete(m.collections[w.key.collection], w.key.id)
			continue
		}
		coll, ok := m.collections[w.key.collection]
		if !ok {
			coll = make(map[string]map[string]any)
			m.collections[w.key.collection] = coll
		}
		coll[w.key.id] = w.data
	}
	m.mu.Unlock()
	m.hub.publish(changedKeys(writes))
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context, q Query, fn func([]Document, error)) CancelFunc {
	return m.hub.watchQuery(ctx, q, m.Query, fn)
}

func (m *MemoryStore) WatchDocument(ctx context.Context, collection, id string, fn func(*Document, error)) CancelFunc {
	return m.hub.watchDocument(ctx, collection, id, m.Get, fn)
}

func (m *MemoryStore) Close() error {
	return nil
}
