package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/agentbench/archive"
	"github.com/stevemurr/agentbench/dal"
	"github.com/stevemurr/agentbench/handler"
	"github.com/stevemurr/agentbench/store"
)

func setup(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	d := dal.New(s, dal.WithRegisterer(reg), dal.WithArchive(archive.NewMemoryStore()))
	ts := httptest.NewServer(handler.New(d, handler.Config{Gatherer: reg}))
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts, s
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

func decodeJSONArray(t *testing.T, r io.Reader) []any {
	t.Helper()
	var v []any
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

// do sends a request as user (no header when empty) and returns the response.
func do(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(t, body))
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(handler.UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func create(t *testing.T, url, user string, body any) string {
	t.Helper()
	resp := do(t, http.MethodPost, url, user, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := decodeJSON(t, resp.Body)["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestRootAndHealth(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodGet, ts.URL+"/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON(t, resp.Body)["status"])

	resp = do(t, http.MethodGet, ts.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decodeJSON(t, resp.Body)["status"])

	resp = do(t, http.MethodGet, ts.URL+"/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectsCRUD(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodPost, ts.URL+"/projects", "", map[string]any{"name": "p"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	id := create(t, ts.URL+"/projects", "alice", map[string]any{"name": "bench"})

	resp = do(t, http.MethodGet, ts.URL+"/projects/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeJSON(t, resp.Body)
	assert.Equal(t, id, p["id"])
	assert.Equal(t, "bench", p["name"])
	assert.Equal(t, "alice", p["ownerId"])

	resp = do(t, http.MethodPatch, ts.URL+"/projects/"+id, "alice", map[string]any{"name": "renamed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/projects/mine", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decodeJSONArray(t, resp.Body)
	require.Len(t, mine, 1)
	assert.Equal(t, "renamed", mine[0].(map[string]any)["name"])

	resp = do(t, http.MethodGet, ts.URL+"/projects", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSONArray(t, resp.Body), 1)

	resp = do(t, http.MethodDelete, ts.URL+"/projects/"+id, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/projects/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decodeJSON(t, resp.Body)["detail"], "not found")
}

func TestErrorMapping(t *testing.T) {
	ts, _ := setup(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"invalid field type", http.MethodPost, "/models", "alice", map[string]any{"name": 3}, http.StatusBadRequest},
		{"update missing", http.MethodPatch, "/chats/ghost", "alice", map[string]any{"title": "x"}, http.StatusNotFound},
		{"message in missing chat", http.MethodPost, "/chats/ghost/messages", "alice", map[string]any{}, http.StatusNotFound},
		{"bad deployment status", http.MethodPut, "/agents/a1/deployment", "", map[string]any{"deploymentStatus": "up"}, http.StatusBadRequest},
		{"models need projectIds", http.MethodGet, "/models", "", nil, http.StatusBadRequest},
		{"permissions need object", http.MethodPut, "/users/u1/permissions", "", []string{"x"}, http.StatusBadRequest},
		{"method not allowed", http.MethodPut, "/projects", "alice", map[string]any{}, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestModelsVisibility(t *testing.T) {
	ts, _ := setup(t)

	create(t, ts.URL+"/models", "alice", map[string]any{"name": "a", "isPublic": true, "projectIds": []string{"p1"}})
	create(t, ts.URL+"/models", "bob", map[string]any{"name": "b", "isPublic": true, "projectIds": []string{"p2"}})
	create(t, ts.URL+"/models", "bob", map[string]any{"name": "c", "projectIds": []string{"p3"}})

	resp := do(t, http.MethodGet, ts.URL+"/models/public", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	public := decodeJSONArray(t, resp.Body)
	require.Len(t, public, 1)
	assert.Equal(t, "b", public[0].(map[string]any)["name"])

	resp = do(t, http.MethodGet, ts.URL+"/models?projectIds=p1,p3", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	byProject := decodeJSONArray(t, resp.Body)
	require.Len(t, byProject, 2)
	assert.Equal(t, "a", byProject[0].(map[string]any)["name"])
	assert.Equal(t, "c", byProject[1].(map[string]any)["name"])

	resp = do(t, http.MethodGet, ts.URL+"/models?projectIds=", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeJSONArray(t, resp.Body))
}

func TestChatMessages(t *testing.T) {
	ts, _ := setup(t)

	chatID := create(t, ts.URL+"/chats", "alice", map[string]any{"title": "t"})
	m1 := create(t, ts.URL+"/chats/"+chatID+"/messages", "alice", map[string]any{"content": "hi"})
	m2 := create(t, ts.URL+"/chats/"+chatID+"/messages", "alice", map[string]any{"content": "yo", "parentMessageId": m1})

	resp := do(t, http.MethodGet, ts.URL+"/chats/"+chatID+"/messages", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decodeJSONArray(t, resp.Body)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, m1, first["id"])
	assert.Equal(t, []any{m2}, first["childMessageIds"])

	resp = do(t, http.MethodPatch, ts.URL+"/chats/"+chatID+"/messages/"+m2, "", map[string]any{"content": "edited"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/chats/"+chatID+"/thread", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roots := decodeJSONArray(t, resp.Body)
	require.Len(t, roots, 1)
	root := roots[0].(map[string]any)
	children := root["children"].([]any)
	require.Len(t, children, 1)
	child := children[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "edited", child["content"])

	resp = do(t, http.MethodDelete, ts.URL+"/chats/"+chatID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/chats/"+chatID+"/messages", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeJSONArray(t, resp.Body))
}

func TestUsers(t *testing.T) {
	ts, _ := setup(t)

	resp := do(t, http.MethodPost, ts.URL+"/users/profile", "u1", map[string]any{"email": "u1@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decodeJSON(t, resp.Body)
	assert.Equal(t, "u1", profile["uid"])
	assert.NotContains(t, profile, "permissions")

	resp = do(t, http.MethodPost, ts.URL+"/users/profile", "u1", map[string]any{"uid": "u2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/users/pending", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSONArray(t, resp.Body), 1)

	resp = do(t, http.MethodPut, ts.URL+"/users/u1/permissions", "", map[string]any{"admin": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/users/pending", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeJSONArray(t, resp.Body))

	resp = do(t, http.MethodGet, ts.URL+"/users/u1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"admin": true}, decodeJSON(t, resp.Body)["permissions"])

	resp = do(t, http.MethodPut, ts.URL+"/users/ghost/permissions", "", map[string]any{"admin": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentDeploymentAndArchive(t *testing.T) {
	ts, _ := setup(t)

	id := create(t, ts.URL+"/agents", "alice", map[string]any{"name": "helper"})

	resp := do(t, http.MethodPut, ts.URL+"/agents/"+id+"/deployment", "", map[string]any{
		"deploymentStatus":     "deployed",
		"vertexAiResourceName": "engines/1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/agents/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	agent := decodeJSON(t, resp.Body)
	assert.Equal(t, "deployed", agent["deploymentStatus"])
	assert.Equal(t, "engines/1", agent["vertexAiResourceName"])
	assert.NotNil(t, agent["lastDeployedAt"])

	resp = do(t, http.MethodPost, ts.URL+"/agents/"+id+"/export", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	key := decodeJSON(t, resp.Body)["key"]
	assert.Equal(t, archive.AgentKey(id), key)

	resp = do(t, http.MethodGet, ts.URL+"/agents/archive", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{key}, decodeJSONArray(t, resp.Body))

	copyID := create(t, ts.URL+"/agents/archive/import", "bob", map[string]any{"key": key})
	assert.NotEqual(t, id, copyID)

	imported := create(t, ts.URL+"/agents/import", "bob", map[string]any{"id": "x", "name": "raw"})
	assert.NotEqual(t, "x", imported)

	resp = do(t, http.MethodGet, ts.URL+"/agents/mine", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSONArray(t, resp.Body), 2)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := setup(t)
	create(t, ts.URL+"/projects", "alice", map[string]any{"name": "p"})

	resp := do(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `agentbench_dal_operations_total{operation="createProject",status="ok"} 1`)
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f map[string]any
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWatchMessages(t *testing.T) {
	ts, _ := setup(t)
	chatID := create(t, ts.URL+"/chats", "alice", map[string]any{})

	conn := dial(t, ts, "/chats/"+chatID+"/messages/watch")
	f := readFrame(t, conn)
	assert.Equal(t, "messages", f["type"])
	assert.Equal(t, []any{}, f["messages"])

	id := create(t, ts.URL+"/chats/"+chatID+"/messages", "alice", map[string]any{"content": "hi"})
	f = readFrame(t, conn)
	require.Equal(t, "messages", f["type"])
	msgs := f["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].(map[string]any)["id"])
}

func TestWatchRun(t *testing.T) {
	ts, s := setup(t)
	ctx := context.Background()

	conn := dial(t, ts, "/agents/a1/runs/r1/watch")
	f := readFrame(t, conn)
	assert.Equal(t, "not_found", f["type"])

	require.NoError(t, s.Commit(ctx, store.NewBatch().Set(dal.RunsPath("a1"), "r1", map[string]any{
		"status":    "running",
		"timestamp": store.ServerTimestamp,
	})))
	f = readFrame(t, conn)
	require.Equal(t, "run", f["type"])
	run := f["run"].(map[string]any)
	assert.Equal(t, "r1", run["id"])
	assert.Equal(t, "running", run["status"])

	resp := do(t, http.MethodGet, ts.URL+"/agents/a1/runs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeJSONArray(t, resp.Body), 1)
}
