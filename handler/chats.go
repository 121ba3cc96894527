package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stevemurr/agentbench/dal"
)

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.dal.ListMessages(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, http.StatusOK)(msgs, err)
}

func (h *Handler) addMessage(w http.ResponseWriter, r *http.Request) {
	var data dal.Data
	if err := readJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id, err := h.dal.AddMessage(r.Context(), mux.Vars(r)["id"], data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) updateMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var partial dal.Data
	if err := readJSON(r, &partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.dal.UpdateMessage(r.Context(), vars["id"], vars["messageID"], partial); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": vars["messageID"]})
}

type threadNode struct {
	Message  dal.Message   `json:"message"`
	Children []*threadNode `json:"children"`
}

func toThread(nodes []*dal.ThreadNode) []*threadNode {
	out := make([]*threadNode, len(nodes))
	for i, n := range nodes {
		out[i] = &threadNode{Message: n.Message, Children: toThread(n.Children)}
	}
	return out
}

// thread returns the chat's messages as a reply tree.
func (h *Handler) thread(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.dal.ListMessages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toThread(dal.BuildThread(msgs)))
}

// watchMessages streams the chat's full message list over a websocket as
// {"type":"messages","messages":[...]} on every change. A listener failure
// sends {"type":"error"} and closes the socket.
func (h *Handler) watchMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	h.stream(w, r, func(s *subscriber) dal.Unsubscribe {
		return h.dal.SubscribeToMessages(s.ctx, chatID, func(msgs []dal.Message, err error) {
			if err != nil {
				s.send(frame{"type": "error", "error": err.Error(), "messages": msgs}, true)
				return
			}
			s.send(frame{"type": "messages", "messages": msgs}, false)
		})
	})
}
