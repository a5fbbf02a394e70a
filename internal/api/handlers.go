package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foldworks/designd/internal/design"
	"github.com/foldworks/designd/internal/manager"
)

type submitJobRequest struct {
	Kind       string          `json:"kind"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	spec, err := specForKind(req.Kind, req.Parameters)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.orch.Submit(r.Context(), spec, req.Name)
	if err != nil {
		if design.IsInvalidParameters(err) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var filter design.JobState
	if raw := r.URL.Query().Get("state"); raw != "" {
		parsed, err := design.ParseJobState(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = parsed
	}
	jobs, err := s.orch.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	summaries := make([]design.JobStatus, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, design.JobStatus{
			ID:         job.ID,
			Kind:       job.Kind,
			Name:       job.Name,
			State:      job.State,
			CreatedAt:  job.CreatedAt,
			StartedAt:  job.StartedAt,
			FinishedAt: job.FinishedAt,
			ExitCode:   job.ExitCode,
			ErrorText:  job.ErrorText,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": summaries})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	status, err := s.orch.Status(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	result, err := s.orch.Result(r.Context(), jobID)
	if err != nil {
		var failed *manager.JobFailedError
		if errors.As(err, &failed) {
			s.writeJSON(w, http.StatusConflict, map[string]string{
				"job_id": jobID,
				"state":  string(design.JobStateFailed),
				"error":  failed.Reason,
			})
			return
		}
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getJobLog(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	tail := s.cfg.Jobs.LogTailDefault
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "tail must be an integer")
			return
		}
		tail = parsed
	}
	text, err := s.orch.Log(r.Context(), jobID, tail)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "log": text})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.orch.Cancel(r.Context(), jobID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	status, err := s.orch.Status(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"state":  string(status.State),
	})
}

// writeDomainError maps orchestrator errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, design.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, design.ErrNotReady):
		s.writeError(w, http.StatusConflict, "job not ready")
	case errors.Is(err, design.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err.Error())
	case design.IsInvalidParameters(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// specForKind decodes the kind-specific parameter payload.
func specForKind(rawKind string, params json.RawMessage) (design.JobSpec, error) {
	kind, err := design.ParseKind(rawKind)
	if err != nil {
		return nil, err
	}
	var spec design.JobSpec
	switch kind {
	case design.KindPrediction:
		spec = &design.PredictionSpec{}
	case design.KindScaffolding:
		spec = &design.ScaffoldingSpec{}
	case design.KindBinder:
		spec = &design.BinderSpec{}
	case design.KindBatchPrediction:
		spec = &design.BatchPredictionSpec{}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, spec); err != nil {
			return nil, fmt.Errorf("invalid parameters for kind %q: %w", kind, err)
		}
	}
	return spec, nil
}
