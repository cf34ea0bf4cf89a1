package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/variable"
)

type claimRequest struct {
	UserID *string `json:"userId"`
}

type completeRequest struct {
	Variables map[string]any `json:"variables"`
}

func taskIDParam(r *http.Request) (id.TaskID, error) {
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		return id.TaskID{}, fmt.Errorf("%w: invalid task id: %w", bpmcore.ErrValidation, err)
	}
	return taskID, nil
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.engine.Tasks().Get(r.Context(), taskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	assignee := ""
	if req.UserID != nil {
		assignee = *req.UserID
	}
	if err := s.engine.Tasks().Claim(r.Context(), taskID, assignee); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnclaimTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.Tasks().Unclaim(r.Context(), taskID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := taskIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	vars, err := variable.OfMap(req.Variables)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", bpmcore.ErrValidation, err))
		return
	}
	if err := s.engine.Tasks().Complete(r.Context(), taskID, vars); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
