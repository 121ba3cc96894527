// Package store defines the document store interface and its backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxBatchWrites is the largest number of operations a single Batch may carry.
// It matches the per-commit write limit of the hosted store.
const MaxBatchWrites = 500

var (
	// ErrNotFound is returned when an update targets a document that does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrAlreadyExists is returned when a create targets an existing document.
	ErrAlreadyExists = errors.New("store: document already exists")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchWrites.
	ErrBatchTooLarge = errors.New("store: batch exceeds write limit")
	// ErrInvalidPath is returned for malformed collection paths or document IDs.
	ErrInvalidPath = errors.New("store: invalid path")
	// ErrInvalidQuery is returned for queries the store refuses to run.
	ErrInvalidQuery = errors.New("store: invalid query")
)

// Document is a stored record together with the ID it lives under.
type Document struct {
	ID   string
	Data map[string]any
}

// CancelFunc stops a listener. Calling it more than once is a no-op.
type CancelFunc func()

// Store is the interface that all document stores must implement.
// Collections are addressed by slash-separated paths; a nested collection
// lives under a parent document, e.g. "chats/{chatID}/messages".
type Store interface {
	// NewID allocates a fresh document ID in a collection. Nothing is written.
	NewID(collection string) string

	// Get returns a single document, or nil if not found.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Query returns the documents matching q, in the order q asks for.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Commit applies every operation in b atomically: either all of them
	// become visible or none do. Server timestamps in b resolve to the
	// same commit instant.
	Commit(ctx context.Context, b *Batch) error

	// Watch delivers the result of q now and again after every change to it,
	// until the returned CancelFunc is called or ctx is done. A failure is
	// delivered once as fn(nil, err) and ends the listener.
	Watch(ctx context.Context, q Query, fn func([]Document, error)) CancelFunc

	// WatchDocument is Watch for a single document. fn receives a nil
	// document while it does not exist.
	WatchDocument(ctx context.Context, collection, id string, fn func(*Document, error)) CancelFunc

	// Close releases the store's resources.
	Close() error
}

// Path joins collection and document segments into a store path.
//
//	Path("chats", chatID, "messages") == "chats/<chatID>/messages"
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// validateCollection checks that a collection path has an odd number of
// non-empty segments (collection[/doc/collection...]).
func validateCollection(collection string) error {
	segs := strings.Split(collection, "/")
	if len(segs)%2 == 0 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, collection)
	}
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidPath, collection)
		}
	}
	return nil
}

func validatePath(collection, id string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if id == "" || id == "." || id == ".." || strings.Contains(id, "/") {
		return fmt.Errorf("%w: bad document id %q", ErrInvalidPath, id)
	}
	return nil
}
