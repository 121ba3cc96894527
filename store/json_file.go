package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// JsonFileStore stores each collection as a separate JSON file on disk.
// Nested collections live in directories named after their parent path.
//
// Layout:
//
//	data_dir/
//	  chats.json                # "chats" collection
//	  chats/<chatID>/messages.json
//	  users.json
//
// A commit writes every touched collection to a temp file before renaming
// any of them into place, and puts back the previous files if a rename
// fails. A crash between two renames can still leave the batch partly
// applied on disk.
type JsonFileStore struct {
	mu    sync.RWMutex
	dir   string
	clock *clock
	hub   *hub

	writeTemp func(dir string, b []byte) (string, error)
	rename    func(oldpath, newpath string) error
}

func NewJsonFileStore(dir string, opts ...Option) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &JsonFileStore{
		dir:       dir,
		clock:     newClock(o.now),
		hub:       newHub(o.log),
		writeTemp: writeTemp,
		rename:    os.Rename,
	}, nil
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, filepath.FromSlash(collection)+".json")
}

func (s *JsonFileStore) loadCollection(collection string) (map[string]map[string]any, error) {
	path := s.collectionPath(collection)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]any{}, nil
		}
		return nil, err
	}
	docs, err := decodeJSONCollection(b)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return docs, nil
}

// writeTemp writes b to a new temp file in dir and returns its name.
func writeTemp(dir string, b []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// fileChange replaces or removes one collection file. prev holds the file
// as it was before the commit so the change can be undone.
type fileChange struct {
	collection string
	path       string
	tmp        string // empty when the file is removed
	prev       []byte
	existed    bool
}

// stageCollections reads the current files and writes the new contents to
// temp files. Nothing visible changes; on error every temp is removed.
func (s *JsonFileStore) stageCollections(collections []string, loaded map[string]map[string]map[string]any) ([]fileChange, error) {
	changes := make([]fileChange, 0, len(collections))
	fail := func(err error) ([]fileChange, error) {
		for _, c := range changes {
			if c.tmp != "" {
				os.Remove(c.tmp)
			}
		}
		return nil, err
	}
	for _, collection := range collections {
		c := fileChange{collection: collection, path: s.collectionPath(collection)}
		prev, err := os.ReadFile(c.path)
		switch {
		case err == nil:
			c.prev, c.existed = prev, true
		case !os.IsNotExist(err):
			return fail(fmt.Errorf("reading %s: %w", collection, err))
		}
		if docs := loaded[collection]; len(docs) > 0 {
			b, err := encodeJSONCollection(docs)
			if err != nil {
				return fail(fmt.Errorf("encoding %s: %w", collection, err))
			}
			if c.tmp, err = s.writeTemp(filepath.Dir(c.path), b); err != nil {
				return fail(fmt.Errorf("writing %s: %w", collection, err))
			}
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// applyChanges moves the staged files into place. If one fails, the files
// already changed are restored and the remaining temps removed.
func (s *JsonFileStore) applyChanges(changes []fileChange) error {
	for i, c := range changes {
		var err error
		if c.tmp != "" {
			err = s.rename(c.tmp, c.path)
		} else if rmErr := os.Remove(c.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = rmErr
		}
		if err == nil {
			continue
		}
		for _, rest := range changes[i:] {
			if rest.tmp != "" {
				os.Remove(rest.tmp)
			}
		}
		for _, done := range changes[:i] {
			if rbErr := s.restore(done); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("restoring %s: %w", done.collection, rbErr))
			}
		}
		return fmt.Errorf("writing %s: %w", c.collection, err)
	}
	for _, c := range changes {
		if c.tmp == "" {
			s.pruneDirs(filepath.Dir(c.path))
		}
	}
	return nil
}

func (s *JsonFileStore) restore(c fileChange) error {
	if !c.existed {
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		s.pruneDirs(filepath.Dir(c.path))
		return nil
	}
	tmp, err := s.writeTemp(filepath.Dir(c.path), c.prev)
	if err != nil {
		return err
	}
	if err := s.rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// pruneDirs removes dir and its parents up to the data directory while
// they are empty.
func (s *JsonFileStore) pruneDirs(dir string) {
	root := filepath.Clean(s.dir)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			return
		}
	}
}

func (s *JsonFileStore) NewID(string) string {
	return newID()
}

func (s *JsonFileStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validatePath(collection, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, err := s.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Data: doc}, nil
}

func (s *JsonFileStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	s.mu.RLock()
	coll, err := s.loadCollection(q.Collection)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(coll))
	for id, data := range coll {
		docs = append(docs, Document{ID: id, Data: data})
	}
	return runQuery(q, docs), nil
}

func (s *JsonFileStore) Commit(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := make(map[string]map[string]map[string]any)
	collectionOf := func(collection string) (map[string]map[string]any, error) {
		if docs, ok := loaded[collection]; ok {
			return docs, nil
		}
		docs, err := s.loadCollection(collection)
		if err != nil {
			return nil, err
		}
		loaded[collection] = docs
		return docs, nil
	}
	load := func(collection, id string) (map[string]any, bool, error) {
		docs, err := collectionOf(collection)
		if err != nil {
			return nil, false, err
		}
		doc, ok := docs[id]
		return doc, ok, nil
	}

	writes, err := resolveBatch(b, load, s.clock.next())
	if err != nil {
		return err
	}
	dirty := make(map[string]struct{})
	for _, w := range writes {
		docs, err := collectionOf(w.key.collection)
		if err != nil {
			return err
		}
		if w.data == nil {
			delete(docs, w.key.id)
		} else {
			docs[w.key.id] = w.data
		}
		dirty[w.key.collection] = struct{}{}
	}
	collections := make([]string, 0, len(dirty))
	for collection := range dirty {
		collections = append(collections, collection)
	}
	sort.Strings(collections)
	changes, err := s.stageCollections(collections, loaded)
	if err != nil {
		return err
	}
	if err := s.applyChanges(changes); err != nil {
		return err
	}
	s.hub.publish(changedKeys(writes))
	return nil
}

func (s *JsonFileStore) Watch(ctx context.Context, q Query, fn func([]Document, error)) CancelFunc {
	return s.hub.watchQuery(ctx, q, s.Query, fn)
}

func (s *JsonFileStore) WatchDocument(ctx context.Context, collection, id string, fn func(*Document, error)) CancelFunc {
	return s.hub.watchDocument(ctx, collection, id, s.Get, fn)
}

func (s *JsonFileStore) Close() error {
	return nil
}
