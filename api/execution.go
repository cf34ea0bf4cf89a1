package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/query"
)

func executionIDParam(r *http.Request) (id.ExecutionID, error) {
	execID, err := id.ParseExecutionID(chi.URLParam(r, "id"))
	if err != nil {
		return id.ExecutionID{}, fmt.Errorf("%w: invalid execution id: %w", bpmcore.ErrValidation, err)
	}
	return execID, nil
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.listExecutions(w, r, q)
}

func (s *Server) handleQueryExecutions(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.listExecutions(w, r, q)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request, q query.Query) {
	page, err := pageFromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	execs, err := s.engine.Query().List(r.Context(), q, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if execs == nil {
		execs = []*execution.Execution{}
	}
	s.writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleCountExecutions(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.countExecutions(w, r, q)
}

func (s *Server) handleQueryExecutionCount(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.countExecutions(w, r, q)
}

func (s *Server) countExecutions(w http.ResponseWriter, r *http.Request, q query.Query) {
	n, err := s.engine.Query().Count(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func queryFromBody(w http.ResponseWriter, r *http.Request) (query.Query, error) {
	var req executionQueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		return query.Query{}, err
	}
	return req.build()
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execID, err := executionIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.engine.Executions().Get(r.Context(), execID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGetLocalVariables(w http.ResponseWriter, r *http.Request) {
	execID, err := executionIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vars, err := s.engine.GetLocalVariables(r.Context(), execID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vars)
}

func (s *Server) handleTransitionExecution(w http.ResponseWriter, r *http.Request) {
	execID, err := executionIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	svc := s.engine.Executions()
	var transition func(context.Context, id.ExecutionID) error
	switch name := chi.URLParam(r, "transition"); name {
	case "enable":
		transition = svc.Enable
	case "disable":
		transition = svc.Disable
	case "reenable":
		transition = svc.Reenable
	case "manual-start":
		transition = svc.ManualStart
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown transition %q", bpmcore.ErrNotFound, name))
		return
	}

	if err := transition(r.Context(), execID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
