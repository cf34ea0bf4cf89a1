package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/incident"
	"github.com/xraph/bpmcore/job"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type retriesRequest struct {
	Retries *int `json:"retries"`
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		return id.JobID{}, fmt.Errorf("%w: invalid job id: %w", bpmcore.ErrValidation, err)
	}
	return jobID, nil
}

// jobFilter reads executionId plus either state or failed=true.
func jobFilter(v url.Values) (job.CountOpts, error) {
	var opts job.CountOpts
	if s := v.Get("executionId"); s != "" {
		execID, err := id.ParseExecutionID(s)
		if err != nil {
			return opts, fmt.Errorf("%w: executionId: %w", bpmcore.ErrValidation, err)
		}
		opts.ExecutionID = execID
	}
	switch st := job.State(v.Get("state")); st {
	case "":
	case job.StatePending, job.StateFailed:
		opts.State = st
	default:
		return opts, fmt.Errorf("%w: unknown job state %q", bpmcore.ErrValidation, st)
	}
	failed, err := boolParam(v, "failed")
	if err != nil {
		return opts, err
	}
	if failed {
		opts.State = job.StateFailed
	}
	return opts, nil
}

// paging reads firstResult and maxResults, bounding the page size.
func paging(v url.Values) (offset, limit int, err error) {
	page, err := pageFromValues(v)
	if err != nil {
		return 0, 0, err
	}
	if page.FirstResult < 0 || page.MaxResults < 0 {
		return 0, 0, fmt.Errorf("%w: firstResult and maxResults must not be negative", bpmcore.ErrValidation)
	}
	limit = page.MaxResults
	if limit == 0 {
		limit = defaultListLimit
	}
	return page.FirstResult, min(limit, maxListLimit), nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := jobFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, limit, err := paging(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := s.engine.ListJobs(r.Context(), job.ListOpts{
		Limit:       limit,
		Offset:      offset,
		State:       filter.State,
		ExecutionID: filter.ExecutionID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCountJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := jobFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.engine.CountJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	j, err := s.engine.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleSetJobRetries(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req retriesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Retries == nil {
		s.writeError(w, r, fmt.Errorf("%w: retries is required", bpmcore.ErrValidation))
		return
	}
	if err := s.engine.Incidents().Retry(r.Context(), jobID, *req.Retries); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.CancelJob(r.Context(), jobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter, err := jobFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, limit, err := paging(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	incidents, err := s.engine.Incidents().List(r.Context(), incident.ListOpts{
		Limit:       limit,
		Offset:      offset,
		ExecutionID: filter.ExecutionID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if incidents == nil {
		incidents = []*incident.Incident{}
	}
	s.writeJSON(w, http.StatusOK, incidents)
}
