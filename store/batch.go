package store

import (
	"fmt"
	"time"
)

// OpKind identifies the kind of write carried by an Op.
type OpKind int

const (
	// OpCreate writes a new document and fails if it already exists.
	OpCreate OpKind = iota + 1
	// OpSet writes a document, replacing any existing one.
	OpSet
	// OpUpdate merges top-level fields into an existing document and fails if it is missing.
	OpUpdate
	// OpDelete removes a document. Deleting a missing document is not an error.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one write inside a Batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Data       map[string]any
}

// Batch is an ordered set of writes committed atomically by Store.Commit.
// Later operations observe the effect of earlier ones on the same document.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Create adds a create operation.
func (b *Batch) Create(collection, id string, data map[string]any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpCreate, Collection: collection, ID: id, Data: data})
	return b
}

// Set adds an overwrite operation.
func (b *Batch) Set(collection, id string, data map[string]any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpSet, Collection: collection, ID: id, Data: data})
	return b
}

// Update adds a partial update of top-level fields.
func (b *Batch) Update(collection, id string, fields map[string]any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Collection: collection, ID: id, Data: fields})
	return b
}

// Delete adds a delete operation.
func (b *Batch) Delete(collection, id string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: collection, ID: id})
	return b
}

// Len returns the number of operations in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// Ops returns a copy of the batch operations.
func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	return append([]Op(nil), b.ops...)
}

func checkBatch(b *Batch) error {
	if b.Len() > MaxBatchWrites {
		return fmt.Errorf("%w: %d operations (max %d)", ErrBatchTooLarge, b.Len(), MaxBatchWrites)
	}
	for i, op := range b.ops {
		if err := validatePath(op.Collection, op.ID); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}

type docKey struct {
	collection string
	id         string
}

// write is a resolved batch operation; data is nil for deletes.
type write struct {
	key  docKey
	data map[string]any
}

// loadFunc reads the committed state of a document for resolveBatch.
type loadFunc func(collection, id string) (map[string]any, bool, error)

// resolveBatch turns a batch into the final document states it produces,
// one write per touched document in first-touch order. Sentinels are
// resolved against now. Any precondition failure rejects the whole batch.
func resolveBatch(b *Batch, load loadFunc, now time.Time) ([]write, error) {
	if err := checkBatch(b); err != nil {
		return nil, err
	}
	pending := make(map[docKey]map[string]any, b.Len())
	var order []docKey
	current := func(k docKey) (map[string]any, bool, error) {
		if data, ok := pending[k]; ok {
			return data, data != nil, nil
		}
		return load(k.collection, k.id)
	}

	for _, op := range b.ops {
		k := docKey{collection: op.Collection, id: op.ID}
		existing, exists, err := current(k)
		if err != nil {
			return nil, err
		}
		var next map[string]any
		switch op.Kind {
		case OpCreate:
			if exists {
				return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, op.Collection, op.ID)
			}
			next = resolveFields(op.Data, now)
		case OpSet:
			next = resolveFields(op.Data, now)
		case OpUpdate:
			if !exists {
				return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, op.Collection, op.ID)
			}
			next = cloneMap(existing)
			for field, v := range op.Data {
				next[field] = resolveValue(existing[field], v, now)
			}
		case OpDelete:
			next = nil
		default:
			return nil, fmt.Errorf("store: unknown operation %v", op.Kind)
		}
		if _, seen := pending[k]; !seen {
			order = append(order, k)
		}
		pending[k] = next
	}

	out := make([]write, 0, len(order))
	for _, k := range order {
		out = append(out, write{key: k, data: pending[k]})
	}
	return out, nil
}

func resolveFields(data map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(data))
	for field, v := range data {
		out[field] = resolveValue(nil, v, now)
	}
	return out
}

func resolveValue(existing, v any, now time.Time) any {
	switch x := normalizeValue(v).(type) {
	case serverTimestamp:
		return now
	case arrayUnion:
		base, _ := existing.([]any)
		out := cloneSlice(base)
		if out == nil {
			out = []any{}
		}
		for _, val := range x.values {
			if !containsValue(out, val) {
				out = append(out, cloneValue(val))
			}
		}
		return out
	case map[string]any:
		return resolveFields(x, now)
	default:
		return x
	}
}

func changedKeys(writes []write) map[docKey]struct{} {
	out := make(map[docKey]struct{}, len(writes))
	for _, w := range writes {
		out[w.key] = struct{}{}
	}
	return out
}
