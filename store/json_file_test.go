package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChat(t *testing.T, s *JsonFileStore) {
	t.Helper()
	require.NoError(t, s.Commit(context.Background(), NewBatch().
		Create("chats", "c1", map[string]any{"title": "t"}).
		Create("chats/c1/messages", "m0", map[string]any{"text": "first"})))
}

func snapshotFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	require.NoError(t, filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[rel] = string(b)
		return nil
	}))
	return files
}

// addMessageBatch touches two collection files: the message and its chat.
func addMessageBatch() *Batch {
	return NewBatch().
		Create("chats/c1/messages", "m1", map[string]any{"text": "second"}).
		Update("chats", "c1", map[string]any{"lastInteractedAt": ServerTimestamp})
}

func TestJsonFileCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("file too large")

	tests := []struct {
		name  string
		setup func(s *JsonFileStore)
	}{
		{"second temp write fails", func(s *JsonFileStore) {
			calls := 0
			s.writeTemp = func(dir string, b []byte) (string, error) {
				calls++
				if calls == 2 {
					return "", diskFull
				}
				return writeTemp(dir, b)
			}
		}},
		{"second rename fails", func(s *JsonFileStore) {
			calls := 0
			s.rename = func(oldpath, newpath string) error {
				calls++
				if calls == 2 {
					return diskFull
				}
				return os.Rename(oldpath, newpath)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s, err := NewJsonFileStore(dir)
			require.NoError(t, err)
			seedChat(t, s)
			before := snapshotFiles(t, dir)

			updates := make(chan int, 4)
			cancel := s.Watch(ctx, Collection("chats/c1/messages"), func(docs []Document, err error) {
				updates <- len(docs)
			})
			defer cancel()
			assert.Equal(t, 1, recvT(t, updates))

			tt.setup(s)
			err = s.Commit(ctx, addMessageBatch())
			require.ErrorIs(t, err, diskFull)

			assert.Equal(t, before, snapshotFiles(t, dir), "no file may change and no temp may remain")
			got, err := s.Get(ctx, "chats/c1/messages", "m1")
			require.NoError(t, err)
			assert.Nil(t, got)
			chat, err := s.Get(ctx, "chats", "c1")
			require.NoError(t, err)
			assert.NotContains(t, chat.Data, "lastInteractedAt")

			// The store keeps working once writes succeed again.
			s.writeTemp, s.rename = writeTemp, os.Rename
			require.NoError(t, s.Commit(ctx, addMessageBatch()))
			assert.Equal(t, 2, recvT(t, updates))
			for name := range snapshotFiles(t, dir) {
				assert.False(t, strings.HasPrefix(filepath.Base(name), ".tmp-"), name)
			}
		})
	}
}

func TestJsonFileRemovesEmptyDirectories(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewJsonFileStore(dir)
	require.NoError(t, err)
	seedChat(t, s)
	require.DirExists(t, filepath.Join(dir, "chats", "c1"))

	require.NoError(t, s.Commit(ctx, NewBatch().
		Delete("chats/c1/messages", "m0").
		Delete("chats", "c1")))

	assert.NoFileExists(t, filepath.Join(dir, "chats.json"))
	assert.NoDirExists(t, filepath.Join(dir, "chats"))
	assert.DirExists(t, dir)
}

func recvT[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for listener")
	}
	var zero T
	return zero
}
