package dal

import (
	"context"
	"fmt"

	"github.com/stevemurr/agentbench/store"
)

// entitySet holds the CRUD pattern shared by projects, models, agents and chats.
type entitySet[T any] struct {
	d          *DAL
	collection string
	kind       string
	ownerField string
	sortField  string
	sortDir    store.Direction
	decode     func(store.Document) T
}

func (e *entitySet[T]) decodeAll(docs []store.Document) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		out = append(out, e.decode(doc))
	}
	return out
}

// insert creates a document under a fresh store-assigned ID.
func (e *entitySet[T]) insert(ctx context.Context, op string, doc map[string]any) (string, error) {
	id := e.d.store.NewID(e.collection)
	if err := e.d.commit(ctx, op, store.NewBatch().Create(e.collection, id, doc)); err != nil {
		return "", err
	}
	return id, nil
}

// create stamps caller data with its owner and creation times. The owner is
// applied last so caller data cannot claim another owner.
func (e *entitySet[T]) create(ctx context.Context, op, ownerID string, data Data) (string, error) {
	if ownerID == "" {
		return "", invalid("%s owner is required", e.kind)
	}
	doc, err := e.d.prepare(e.collection, data, false)
	if err != nil {
		return "", err
	}
	doc[e.ownerField] = ownerID
	doc["createdAt"] = store.ServerTimestamp
	doc["updatedAt"] = store.ServerTimestamp
	return e.insert(ctx, op, doc)
}

func (e *entitySet[T]) get(ctx context.Context, id string) (T, error) {
	doc, err := e.d.get(ctx, e.collection, e.kind, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return e.decode(*doc), nil
}

func (e *entitySet[T]) listMine(ctx context.Context, ownerID string) ([]T, error) {
	q := store.Collection(e.collection).
		Where(e.ownerField, store.Equal, ownerID).
		OrderBy(e.sortField, e.sortDir)
	docs, err := e.d.query(ctx, e.kind+"s of "+ownerID, q)
	if err != nil {
		return nil, err
	}
	return e.decodeAll(docs), nil
}

func (e *entitySet[T]) listAll(ctx context.Context) ([]T, error) {
	docs, err := e.d.query(ctx, e.kind+"s", store.Collection(e.collection).OrderBy(e.sortField, e.sortDir))
	if err != nil {
		return nil, err
	}
	return e.decodeAll(docs), nil
}

// listPublic drops the caller's own documents after the query; the store
// cannot combine the inequality with the isPublic equality filter.
func (e *entitySet[T]) listPublic(ctx context.Context, ownerID string) ([]T, error) {
	q := store.Collection(e.collection).
		Where("isPublic", store.Equal, true).
		OrderBy("name", store.Asc)
	docs, err := e.d.query(ctx, "public "+e.kind+"s", q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		if owner, _ := doc.Data[e.ownerField].(string); owner == ownerID {
			continue
		}
		out = append(out, e.decode(doc))
	}
	return out, nil
}

// listForProjects returns documents tagged with any of projectIDs. The IDs
// are queried in chunks of store.MaxDisjunction, then merged and sorted.
func (e *entitySet[T]) listForProjects(ctx context.Context, projectIDs []string) ([]T, error) {
	ids := uniqueNonEmpty(projectIDs)
	if len(ids) == 0 {
		return []T{}, nil
	}
	seen := make(map[string]struct{})
	var docs []store.Document
	for start := 0; start < len(ids); start += store.MaxDisjunction {
		end := min(start+store.MaxDisjunction, len(ids))
		q := store.Collection(e.collection).Where("projectIds", store.ArrayContainsAny, ids[start:end])
		chunk, err := e.d.query(ctx, fmt.Sprintf("%ss for projects", e.kind), q)
		if err != nil {
			return nil, err
		}
		for _, doc := range chunk {
			if _, dup := seen[doc.ID]; dup {
				continue
			}
			seen[doc.ID] = struct{}{}
			docs = append(docs, doc)
		}
	}
	store.Sort(docs, store.Order{Field: e.sortField, Direction: e.sortDir})
	return e.decodeAll(docs), nil
}

// update merges partial into the document and refreshes updatedAt.
func (e *entitySet[T]) update(ctx context.Context, op, id string, partial Data) error {
	if id == "" {
		return &NotFoundError{Kind: e.kind, ID: id}
	}
	fields, err := e.d.prepare(e.collection, partial, true)
	if err != nil {
		return err
	}
	fields["updatedAt"] = store.ServerTimestamp
	return e.d.commit(ctx, op, store.NewBatch().Update(e.collection, id, fields))
}

// remove deletes the document only; references held by other documents stay.
func (e *entitySet[T]) remove(ctx context.Context, op, id string) error {
	if id == "" {
		return &NotFoundError{Kind: e.kind, ID: id}
	}
	return e.d.commit(ctx, op, store.NewBatch().Delete(e.collection, id))
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
