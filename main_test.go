package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/agentbench/dal"
)

func TestCorsMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"wildcard", []string{"*"}, http.MethodGet, "https://a.example", http.StatusTeapot, "*"},
		{"listed origin", []string{"https://a.example", " https://b.example"}, http.MethodGet, "https://b.example", http.StatusTeapot, "https://b.example"},
		{"unlisted origin", []string{"https://a.example"}, http.MethodGet, "https://c.example", http.StatusTeapot, ""},
		{"preflight", []string{"*"}, http.MethodOptions, "https://a.example", http.StatusNoContent, "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/projects", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			corsMiddleware(next, tt.origins).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-Id")
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "v", line["k"])
	assert.Contains(t, line, "time")

	_, err = newLogger(&buf, "loud", "json")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)

	log, err = newLogger(&buf, "", "console")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("ARCHIVE_PATH_STYLE", "true")

	cfg := defaultConfig()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Backend)
	assert.True(t, cfg.ArchivePathStyle)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, []string{"*"}, cfg.origins())

	a, err := cfg.openArchive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestUsersCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("STORE_BACKEND", "json")
	t.Setenv("LOG_LEVEL", "error")
	ctx := context.Background()

	cfg := defaultConfig()
	require.NoError(t, withDAL(ctx, cfg, func(ctx context.Context, d *dal.DAL) error {
		for _, uid := range []string{"u1", "u2"} {
			if _, err := d.EnsureProfile(ctx, &dal.AuthUser{UID: uid, Email: uid + "@example.com"}); err != nil {
				return err
			}
		}
		return nil
	}))

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	out, err := run("users", "grant", "u1", `{"admin":true}`)
	require.NoError(t, err)
	assert.Contains(t, out, "permissions updated for u1")

	out, err = run("users", "pending")
	require.NoError(t, err)
	var pending []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "u2", pending[0]["uid"])

	_, err = run("users", "grant", "u1", `[1,2]`)
	assert.Error(t, err)
	_, err = run("users", "grant", "ghost", `{}`)
	assert.ErrorIs(t, err, dal.ErrWriteFailure)
}
