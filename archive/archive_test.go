package archive_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/agentbench/archive"
)

// fakeS3 serves the handful of S3 calls the archive makes, path-style.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	respond := func(status int, body []byte, header http.Header) *http.Response {
		if header == nil {
			header = http.Header{}
		}
		return &http.Response{
			StatusCode:    status,
			Body:          io.NopCloser(bytes.NewReader(body)),
			Header:        header,
			ContentLength: int64(len(body)),
			Request:       req,
		}
	}

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = body
		return respond(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case req.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`),
				http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(http.StatusOK, body, http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/json"},
		}), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

// decodeChunked unwraps a single-chunk aws-chunked body: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newTestS3(t *testing.T) (*archive.S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	s, err := archive.NewS3Store(context.Background(), archive.S3Config{
		Bucket:          "agentbench-test",
		Region:          "us-east-1",
		Endpoint:        "https://s3.mock.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	return s, fake
}

func runArchiveTests(t *testing.T, s archive.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Get missing", func(t *testing.T) {
		_, err := s.Get(ctx, archive.AgentKey("ghost"))
		assert.ErrorIs(t, err, archive.ErrNotFound)
	})

	t.Run("Put and Get", func(t *testing.T) {
		body := []byte(`{"id":"a1","name":"Planner"}`)
		require.NoError(t, s.Put(ctx, archive.AgentKey("a1"), body))
		got, err := s.Get(ctx, archive.AgentKey("a1"))
		require.NoError(t, err)
		assert.JSONEq(t, string(body), string(got))
	})

	t.Run("List by prefix", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, archive.AgentKey("a2"), []byte(`{}`)))
		require.NoError(t, s.Put(ctx, "other/x.json", []byte(`{}`)))
		keys, err := s.List(ctx, "agents/")
		require.NoError(t, err)
		assert.Equal(t, []string{"agents/a1.json", "agents/a2.json"}, keys)
	})
}

func TestMemoryStore(t *testing.T) {
	runArchiveTests(t, archive.NewMemoryStore())
}

func TestS3Store(t *testing.T) {
	s, fake := newTestS3(t)
	runArchiveTests(t, s)
	assert.Contains(t, fake.objects, "agents/a1.json")
}

func TestNewS3StoreNeedsBucket(t *testing.T) {
	_, err := archive.NewS3Store(context.Background(), archive.S3Config{})
	assert.Error(t, err)
}

func TestAgentKey(t *testing.T) {
	assert.Equal(t, "agents/abc.json", archive.AgentKey("abc"))
}
