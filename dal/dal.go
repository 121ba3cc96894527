// Package dal is the data-access layer for agentbench: CRUD and queries
// over projects, models, agents, chats and users, the chat message tree and
// live subscriptions, on top of an injected store.Store.
package dal

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/stevemurr/agentbench/archive"
	"github.com/stevemurr/agentbench/schema"
	"github.com/stevemurr/agentbench/store"
)

// Collection names.
const (
	ProjectsCollection = "projects"
	ModelsCollection   = "models"
	AgentsCollection   = "agents"
	ChatsCollection    = "chats"
	UsersCollection    = "users"
	MessagesCollection = "messages" // under chats/{id}
	RunsCollection     = "runs"     // under agents/{id}
)

// MessagesPath is the collection path of a chat's messages.
func MessagesPath(chatID string) string {
	return store.Path(ChatsCollection, chatID, MessagesCollection)
}

// RunsPath is the collection path of an agent's legacy runs.
func RunsPath(agentID string) string {
	return store.Path(AgentsCollection, agentID, RunsCollection)
}

// Data is a caller-supplied set of document fields.
type Data map[string]any

// Unsubscribe cancels a subscription. Calling it more than once is harmless.
type Unsubscribe func()

// DAL is safe for concurrent use; all mutable state lives in the store.
type DAL struct {
	store      store.Store
	archive    archive.Store
	log        zerolog.Logger
	metrics    *metrics
	batchLimit int
	schemas    map[string]map[string]any

	projects *entitySet[Project]
	models   *entitySet[Model]
	agents   *entitySet[Agent]
	chats    *entitySet[Chat]
}

type Option func(*DAL)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(d *DAL) { d.log = l }
}

// WithRegisterer registers the DAL metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *DAL) { d.metrics = newMetrics(reg) }
}

// WithArchive enables agent export and archive import.
func WithArchive(a archive.Store) Option {
	return func(d *DAL) { d.archive = a }
}

// WithBatchLimit caps the number of writes per batch used by DeleteChat.
// Values outside 2..store.MaxBatchWrites are ignored.
func WithBatchLimit(n int) Option {
	return func(d *DAL) {
		if n >= 2 && n <= store.MaxBatchWrites {
			d.batchLimit = n
		}
	}
}

// WithSchema replaces the document schema for a collection ("messages" and
// "runs" name the nested collections). A nil schema disables validation.
func WithSchema(collection string, s map[string]any) Option {
	return func(d *DAL) { d.schemas[collection] = s }
}

func New(s store.Store, opts ...Option) *DAL {
	d := &DAL{
		store:      s,
		log:        zerolog.Nop(),
		batchLimit: store.MaxBatchWrites,
		schemas:    defaultSchemas(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = newMetrics(nil)
	}
	d.projects = &entitySet[Project]{
		d: d, collection: ProjectsCollection, kind: "project", ownerField: "ownerId",
		sortField: "createdAt", sortDir: store.Desc, decode: decodeProject,
	}
	d.models = &entitySet[Model]{
		d: d, collection: ModelsCollection, kind: "model", ownerField: "ownerId",
		sortField: "name", sortDir: store.Asc, decode: decodeModel,
	}
	d.agents = &entitySet[Agent]{
		d: d, collection: AgentsCollection, kind: "agent", ownerField: "userId",
		sortField: "name", sortDir: store.Asc, decode: decodeAgent,
	}
	d.chats = &entitySet[Chat]{
		d: d, collection: ChatsCollection, kind: "chat", ownerField: "ownerId",
		sortField: "lastInteractedAt", sortDir: store.Desc, decode: decodeChat,
	}
	return d
}

// prepare normalizes caller data and validates it against the collection
// schema. Partial data skips required-field checks.
func (d *DAL) prepare(collection string, data Data, partial bool) (map[string]any, error) {
	doc, _ := store.Normalize(map[string]any(data)).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}
	s := d.schemas[collection]
	validate := schema.Validate
	if partial {
		validate = schema.ValidatePartial
	}
	if err := validate(s, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return doc, nil
}

// commit applies b and wraps any failure in a WriteError.
func (d *DAL) commit(ctx context.Context, op string, b *store.Batch) error {
	if err := d.store.Commit(ctx, b); err != nil {
		return &WriteError{Op: op, Err: err}
	}
	return nil
}

// get reads one document, failing with a NotFoundError when it is absent.
func (d *DAL) get(ctx context.Context, collection, kind, id string) (*store.Document, error) {
	if id == "" {
		return nil, &NotFoundError{Kind: kind, ID: id}
	}
	doc, err := d.store.Get(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", kind, id, err)
	}
	if doc == nil {
		return nil, &NotFoundError{Kind: kind, ID: id}
	}
	return doc, nil
}

func (d *DAL) query(ctx context.Context, what string, q store.Query) ([]store.Document, error) {
	docs, err := d.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", what, err)
	}
	return docs, nil
}
