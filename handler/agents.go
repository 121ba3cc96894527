package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stevemurr/agentbench/dal"
)

func (h *Handler) importAgent(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var data dal.Data
	if err := readJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	id, err := h.dal.ImportAgent(r.Context(), owner, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type deploymentRequest struct {
	Status                  dal.DeploymentStatus `json:"deploymentStatus"`
	VertexAIResourceName    *string              `json:"vertexAiResourceName"`
	LastDeployedAt          *time.Time           `json:"lastDeployedAt"`
	LastDeploymentAttemptAt *time.Time           `json:"lastDeploymentAttemptAt"`
	Error                   *string              `json:"deploymentError"`
}

func (h *Handler) updateDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req deploymentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	err := h.dal.UpdateAgentDeployment(r.Context(), id, dal.DeploymentState{
		Status:                  req.Status,
		VertexAIResourceName:    req.VertexAIResourceName,
		LastDeployedAt:          req.LastDeployedAt,
		LastDeploymentAttemptAt: req.LastDeploymentAttemptAt,
		Error:                   req.Error,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "id": id})
}

func (h *Handler) exportAgent(w http.ResponseWriter, r *http.Request) {
	key, err := h.dal.ExportAgent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *Handler) listArchivedAgents(w http.ResponseWriter, r *http.Request) {
	keys, err := h.dal.ListArchivedAgents(r.Context())
	h.reply(w, r, http.StatusOK)(keys, err)
}

func (h *Handler) importArchivedAgent(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if err := readJSON(r, &req); err != nil || req.Key == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"key\": \"...\"}")
		return
	}
	id, err := h.dal.ImportAgentFromArchive(r.Context(), owner, req.Key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.dal.ListRuns(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, http.StatusOK)(runs, err)
}

// watchRun streams one run over a websocket. Frames are
// {"type":"run","run":{...}} and {"type":"not_found"} while the run is
// absent; a listener failure sends {"type":"error"} and closes the socket.
func (h *Handler) watchRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	agentID, runID := vars["id"], vars["runID"]
	h.stream(w, r, func(s *subscriber) dal.Unsubscribe {
		return h.dal.SubscribeToRun(s.ctx, agentID, runID, func(run *dal.Run, err error) {
			switch {
			case run != nil:
				s.send(frame{"type": "run", "run": run}, false)
			case isNotFound(err):
				s.send(frame{"type": "not_found", "id": runID}, false)
			default:
				s.send(frame{"type": "error", "error": err.Error()}, true)
			}
		})
	})
}
