package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is the hosted document store. Batches run as transactions
// with a single attempt, so a conflicting commit fails instead of retrying.
type FirestoreStore struct {
	client *firestore.Client
	log    zerolog.Logger
}

// NewFirestoreStore connects to Firestore. With FIRESTORE_EMULATOR_HOST set
// the client talks to the emulator.
func NewFirestoreStore(ctx context.Context, projectID string, log zerolog.Logger, opts ...option.ClientOption) (*FirestoreStore, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client, log: log}, nil
}

func (s *FirestoreStore) NewID(collection string) string {
	return s.client.Collection(collection).NewDoc().ID
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validatePath(collection, id); err != nil {
		return nil, err
	}
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshotDocument(snap), nil
}

func (s *FirestoreStore) buildQuery(q Query) (firestore.Query, error) {
	if err := validateQuery(q); err != nil {
		return firestore.Query{}, err
	}
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), toFirestoreValue(f.Value))
	}
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Direction == Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Field, dir)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
}

func (s *FirestoreStore) Query(ctx context.Context, q Query) ([]Document, error) {
	fq, err := s.buildQuery(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return snapshotDocuments(snaps), nil
}

func (s *FirestoreStore) Commit(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := checkBatch(b); err != nil {
		return err
	}
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, op := range b.ops {
			ref := s.client.Collection(op.Collection).Doc(op.ID)
			var err error
			switch op.Kind {
			case OpCreate:
				err = tx.Create(ref, toFirestoreMap(op.Data))
			case OpSet:
				err = tx.Set(ref, toFirestoreMap(op.Data))
			case OpUpdate:
				err = tx.Update(ref, toFirestoreUpdates(op.Data))
			case OpDelete:
				err = tx.Delete(ref)
			default:
				err = fmt.Errorf("store: unknown operation %v", op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}, firestore.MaxAttempts(1))
	return mapFirestoreError(err)
}

func (s *FirestoreStore) Watch(ctx context.Context, q Query, fn func([]Document, error)) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool
	stop := func() {
		if closed.CompareAndSwap(false, true) {
			cancel()
		}
	}
	fq, err := s.buildQuery(q)
	if err != nil {
		go func() {
			defer stop()
			fn(nil, err)
		}()
		return stop
	}

	it := fq.Snapshots(ctx)
	go func() {
		defer stop()
		defer it.Stop()
		for {
			snap, err := it.Next()
			if closed.Load() || ctx.Err() != nil || errors.Is(err, iterator.Done) {
				return
			}
			if err == nil {
				var snaps []*firestore.DocumentSnapshot
				snaps, err = snap.Documents.GetAll()
				if err == nil {
					fn(snapshotDocuments(snaps), nil)
					continue
				}
			}
			s.log.Warn().Err(err).Str("collection", q.Collection).Msg("query listener failed")
			fn(nil, err)
			return
		}
	}()
	return stop
}

func (s *FirestoreStore) WatchDocument(ctx context.Context, collection, id string, fn func(*Document, error)) CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool
	stop := func() {
		if closed.CompareAndSwap(false, true) {
			cancel()
		}
	}
	if err := validatePath(collection, id); err != nil {
		go func() {
			defer stop()
			fn(nil, err)
		}()
		return stop
	}

	it := s.client.Collection(collection).Doc(id).Snapshots(ctx)
	go func() {
		defer stop()
		defer it.Stop()
		for {
			snap, err := it.Next()
			if closed.Load() || ctx.Err() != nil || errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				s.log.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("document listener failed")
				fn(nil, err)
				return
			}
			if !snap.Exists() {
				fn(nil, nil)
				continue
			}
			fn(snapshotDocument(snap), nil)
		}
	}()
	return stop
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func mapFirestoreError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	return err
}

func snapshotDocument(snap *firestore.DocumentSnapshot) *Document {
	data, _ := fromFirestoreValue(snap.Data()).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return &Document{ID: snap.Ref.ID, Data: data}
}

func snapshotDocuments(snaps []*firestore.DocumentSnapshot) []Document {
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, *snapshotDocument(snap))
	}
	return docs
}

func toFirestoreValue(v any) any {
	switch x := normalizeValue(v).(type) {
	case serverTimestamp:
		return firestore.ServerTimestamp
	case arrayUnion:
		vals := make([]any, len(x.values))
		for i, e := range x.values {
			vals[i] = toFirestoreValue(e)
		}
		return firestore.ArrayUnion(vals...)
	case map[string]any:
		return toFirestoreMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = toFirestoreValue(e)
		}
		return out
	default:
		return x
	}
}

func toFirestoreMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

// toFirestoreUpdates addresses fields with FieldPath so keys containing dots
// stay top-level fields.
func toFirestoreUpdates(fields map[string]any) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: toFirestoreValue(v)})
	}
	return updates
}

func fromFirestoreValue(v any) any {
	switch x := v.(type) {
	case *firestore.DocumentRef:
		if x == nil {
			return nil
		}
		return x.Path
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = fromFirestoreValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromFirestoreValue(e)
		}
		return out
	}
	return normalizeValue(v)
}
