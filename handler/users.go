package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stevemurr/agentbench/dal"
)

// ensureProfile upserts the caller's profile from the identity in the body.
// The uid defaults to the UserHeader value and must match it when both are set.
func (h *Handler) ensureProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := caller(w, r)
	if !ok {
		return
	}
	var user dal.AuthUser
	if err := readJSON(r, &user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if user.UID == "" {
		user.UID = uid
	}
	if user.UID != uid {
		writeError(w, http.StatusForbidden, "uid does not match "+UserHeader)
		return
	}
	p, err := h.dal.EnsureProfile(r.Context(), &user)
	h.reply(w, r, http.StatusOK)(p, err)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.dal.GetUser(r.Context(), mux.Vars(r)["uid"])
	h.reply(w, r, http.StatusOK)(p, err)
}

func (h *Handler) listPendingReview(w http.ResponseWriter, r *http.Request) {
	users, err := h.dal.ListPendingReview(r.Context())
	h.reply(w, r, http.StatusOK)(users, err)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var perms map[string]any
	if err := readJSON(r, &perms); err != nil || perms == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if err := h.dal.SetPermissions(r.Context(), uid, perms); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "uid": uid})
}
