package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stevemurr/agentbench/dal"
)

// entityOps are the DAL calls behind the CRUD routes of one entity kind.
// Nil operations get no route.
type entityOps struct {
	create      func(ctx context.Context, ownerID string, data dal.Data) (string, error)
	all         func(ctx context.Context) (any, error)
	mine        func(ctx context.Context, ownerID string) (any, error)
	public      func(ctx context.Context, ownerID string) (any, error)
	forProjects func(ctx context.Context, projectIDs []string) (any, error)
	get         func(ctx context.Context, id string) (any, error)
	update      func(ctx context.Context, id string, partial dal.Data) error
	remove      func(ctx context.Context, id string) error
}

func list[T any](f func(context.Context, string) ([]T, error)) func(context.Context, string) (any, error) {
	return func(ctx context.Context, s string) (any, error) { return f(ctx, s) }
}

func listAll[T any](f func(context.Context) ([]T, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) { return f(ctx) }
}

func listFor[T any](f func(context.Context, []string) ([]T, error)) func(context.Context, []string) (any, error) {
	return func(ctx context.Context, ids []string) (any, error) { return f(ctx, ids) }
}

func one[T any](f func(context.Context, string) (T, error)) func(context.Context, string) (any, error) {
	return func(ctx context.Context, id string) (any, error) { return f(ctx, id) }
}

// entityRoutes registers, relative to r:
//
//	POST   ""        create, owned by the caller
//	GET    ""        list by ?projectIds=, else every document when supported
//	GET    "/mine"   the caller's documents
//	GET    "/public" public documents the caller does not own
//	GET    "/{id}"   one document
//	PATCH  "/{id}"   partial update
//	DELETE "/{id}"   delete
func (h *Handler) entityRoutes(r *mux.Router, ops entityOps) {
	r.HandleFunc("", func(w http.ResponseWriter, req *http.Request) {
		owner, ok := caller(w, req)
		if !ok {
			return
		}
		var data dal.Data
		if err := readJSON(req, &data); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		id, err := ops.create(req.Context(), owner, data)
		if err != nil {
			h.fail(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}).Methods(http.MethodPost)

	r.HandleFunc("", func(w http.ResponseWriter, req *http.Request) {
		if ids, ok := projectIDs(req); ok && ops.forProjects != nil {
			h.reply(w, req, http.StatusOK)(ops.forProjects(req.Context(), ids))
			return
		}
		if ops.all == nil {
			writeError(w, http.StatusBadRequest, "projectIds query parameter is required")
			return
		}
		h.reply(w, req, http.StatusOK)(ops.all(req.Context()))
	}).Methods(http.MethodGet)

	r.HandleFunc("/mine", h.ownerList(ops.mine)).Methods(http.MethodGet)
	if ops.public != nil {
		r.HandleFunc("/public", h.ownerList(ops.public)).Methods(http.MethodGet)
	}

	r.HandleFunc("/{id}", func(w http.ResponseWriter, req *http.Request) {
		h.reply(w, req, http.StatusOK)(ops.get(req.Context(), mux.Vars(req)["id"]))
	}).Methods(http.MethodGet)

	r.HandleFunc("/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		var partial dal.Data
		if err := readJSON(req, &partial); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if err := ops.update(req.Context(), id, partial); err != nil {
			h.fail(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": id})
	}).Methods(http.MethodPatch)

	r.HandleFunc("/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		if err := ops.remove(req.Context(), id); err != nil {
			h.fail(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	}).Methods(http.MethodDelete)
}

func (h *Handler) ownerList(f func(context.Context, string) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := caller(w, r)
		if !ok {
			return
		}
		h.reply(w, r, http.StatusOK)(f(r.Context(), owner))
	}
}

// reply writes v with status, or the error mapped by statusFor.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int) func(v any, err error) {
	return func(v any, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, status, v)
	}
}
