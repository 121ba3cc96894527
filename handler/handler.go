// Package handler provides the HTTP and websocket surface of agentbench.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stevemurr/agentbench/dal"
	"github.com/stevemurr/agentbench/store"
)

// UserHeader carries the authenticated caller's uid. Authentication itself
// happens in front of this server.
const UserHeader = "X-User-Id"

// Config holds the optional dependencies of a Handler.
type Config struct {
	Logger zerolog.Logger
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// AllowedOrigins restricts websocket upgrades. Empty or "*" allows any origin.
	AllowedOrigins []string
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	dal      *dal.DAL
	log      zerolog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates a Handler and wires up all routes.
func New(d *dal.DAL, cfg Config) *Handler {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{
		dal:    d,
		log:    cfg.Logger,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	h.routes(cfg.Gatherer)
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes(g prometheus.Gatherer) {
	r := h.router

	// Health / status
	r.HandleFunc("/", h.root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	h.entityRoutes(r.PathPrefix("/projects").Subrouter(), entityOps{
		create: h.dal.CreateProject,
		all:    listAll(h.dal.ListProjects),
		mine:   list(h.dal.ListMyProjects),
		public: list(h.dal.ListPublicProjects),
		get:    one(h.dal.GetProject),
		update: h.dal.UpdateProject,
		remove: h.dal.DeleteProject,
	})
	h.entityRoutes(r.PathPrefix("/models").Subrouter(), entityOps{
		create:      h.dal.CreateModel,
		mine:        list(h.dal.ListMyModels),
		public:      list(h.dal.ListPublicModels),
		forProjects: listFor(h.dal.ListModelsForProjects),
		get:         one(h.dal.GetModel),
		update:      h.dal.UpdateModel,
		remove:      h.dal.DeleteModel,
	})

	agents := r.PathPrefix("/agents").Subrouter()
	agents.HandleFunc("/import", h.importAgent).Methods(http.MethodPost)
	agents.HandleFunc("/archive", h.listArchivedAgents).Methods(http.MethodGet)
	agents.HandleFunc("/archive/import", h.importArchivedAgent).Methods(http.MethodPost)
	agents.HandleFunc("/{id}/deployment", h.updateDeployment).Methods(http.MethodPut)
	agents.HandleFunc("/{id}/export", h.exportAgent).Methods(http.MethodPost)
	agents.HandleFunc("/{id}/runs", h.listRuns).Methods(http.MethodGet)
	agents.HandleFunc("/{id}/runs/{runID}/watch", h.watchRun).Methods(http.MethodGet)
	h.entityRoutes(agents, entityOps{
		create:      h.dal.CreateAgent,
		mine:        list(h.dal.ListMyAgents),
		public:      list(h.dal.ListPublicAgents),
		forProjects: listFor(h.dal.ListAgentsForProjects),
		get:         one(h.dal.GetAgent),
		update:      h.dal.UpdateAgent,
		remove:      h.dal.DeleteAgent,
	})

	chats := r.PathPrefix("/chats").Subrouter()
	chats.HandleFunc("/{id}/messages", h.listMessages).Methods(http.MethodGet)
	chats.HandleFunc("/{id}/messages", h.addMessage).Methods(http.MethodPost)
	chats.HandleFunc("/{id}/messages/watch", h.watchMessages).Methods(http.MethodGet)
	chats.HandleFunc("/{id}/messages/{messageID}", h.updateMessage).Methods(http.MethodPatch)
	chats.HandleFunc("/{id}/thread", h.thread).Methods(http.MethodGet)
	h.entityRoutes(chats, entityOps{
		create:      h.dal.CreateChat,
		mine:        list(h.dal.ListMyChats),
		forProjects: listFor(h.dal.ListChatsForProjects),
		get:         one(h.dal.GetChat),
		update:      h.dal.UpdateChat,
		remove:      h.dal.DeleteChat,
	})

	users := r.PathPrefix("/users").Subrouter()
	users.HandleFunc("/profile", h.ensureProfile).Methods(http.MethodPost)
	users.HandleFunc("/pending", h.listPendingReview).Methods(http.MethodGet)
	users.HandleFunc("/{uid}", h.getUser).Methods(http.MethodGet)
	users.HandleFunc("/{uid}/permissions", h.setPermissions).Methods(http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps DAL and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dal.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dal.ErrInvalidData), errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, store.ErrInvalidQuery), errors.Is(err, store.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, dal.ErrNoArchive):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

// caller returns the uid from UserHeader, answering 401 when it is missing.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := strings.TrimSpace(r.Header.Get(UserHeader))
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return "", false
	}
	return uid, true
}

// projectIDs reads ?projectIds=a,b&projectIds=c.
func projectIDs(r *http.Request) ([]string, bool) {
	raw, ok := r.URL.Query()["projectIds"]
	if !ok {
		return nil, false
	}
	var ids []string
	for _, v := range raw {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, true
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || (len(allowed) == 1 && strings.TrimSpace(allowed[0]) == "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.TrimSpace(o) == origin {
				return true
			}
		}
		return false
	}
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "agentbench",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
