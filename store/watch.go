package store

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// hub fans commit notifications out to the listeners of a local backend.
// Each listener runs on its own goroutine and re-reads the store when a
// commit touches what it watches; notifications coalesce while it is busy.
type hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*listener
	log  zerolog.Logger
}

type listener struct {
	match  func(changed map[docKey]struct{}) bool
	notify chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func newHub(log zerolog.Logger) *hub {
	return &hub{subs: make(map[uint64]*listener), log: log}
}

// listen registers a listener and starts its goroutine. run is called once
// straight away and again after every matching commit; it gets a check that
// reports whether the listener is still live and returns false to stop.
func (h *hub) listen(ctx context.Context, match func(map[docKey]struct{}) bool, run func(live func() bool) bool) CancelFunc {
	l := &listener{
		match:  match,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = l
	h.mu.Unlock()

	stop := func() {
		l.once.Do(func() {
			l.closed.Store(true)
			close(l.done)
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	live := func() bool {
		return !l.closed.Load() && ctx.Err() == nil
	}

	go func() {
		defer stop()
		if !run(live) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case <-l.notify:
				if !live() || !run(live) {
					return
				}
			}
		}
	}()
	return stop
}

// publish wakes every listener interested in the changed documents.
func (h *hub) publish(changed map[docKey]struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.subs {
		if !l.match(changed) {
			continue
		}
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type queryFunc func(ctx context.Context, q Query) ([]Document, error)

type getFunc func(ctx context.Context, collection, id string) (*Document, error)

func (h *hub) watchQuery(ctx context.Context, q Query, query queryFunc, fn func([]Document, error)) CancelFunc {
	var (
		last  []Document
		first = true
	)
	match := func(changed map[docKey]struct{}) bool {
		for k := range changed {
			if k.collection == q.Collection {
				return true
			}
		}
		return false
	}
	return h.listen(ctx, match, func(live func() bool) bool {
		docs, err := query(ctx, q)
		if !live() {
			return false
		}
		if err != nil {
			h.log.Warn().Err(err).Str("collection", q.Collection).Msg("query listener failed")
			fn(nil, err)
			return false
		}
		if !first && reflect.DeepEqual(docs, last) {
			return true
		}
		first = false
		last = docs
		fn(cloneDocs(docs), nil)
		return true
	})
}

func (h *hub) watchDocument(ctx context.Context, collection, id string, get getFunc, fn func(*Document, error)) CancelFunc {
	key := docKey{collection: collection, id: id}
	match := func(changed map[docKey]struct{}) bool {
		_, ok := changed[key]
		return ok
	}
	return h.listen(ctx, match, func(live func() bool) bool {
		doc, err := get(ctx, collection, id)
		if !live() {
			return false
		}
		if err != nil {
			h.log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("document listener failed")
			fn(nil, err)
			return false
		}
		fn(doc, nil)
		return true
	})
}
