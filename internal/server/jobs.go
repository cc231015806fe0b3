package server

import (
	"net/http"
	"strings"

	"github.com/operantlabs/operant/internal/jobs"
	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/pkg/models"
)

// handleJobs serves the job collection: list and enqueue.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := jobs.Filter{
			AgentID: r.URL.Query().Get("agent_id"),
			Status:  models.JobStatus(r.URL.Query().Get("status")),
			Limit:   parseIntParam(r, "limit", 0),
		}
		list, err := s.manager.List(r.Context(), filter)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Jobs retrieved successfully", list)
	case http.MethodPost:
		s.enqueueChat(w, r, "")
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleJobByID serves /v1/jobs/{id}, /v1/jobs/{id}/cancel, and
// /v1/jobs/{id}/events.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		job, err := s.manager.Get(r.Context(), id)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Job retrieved successfully", job)
	case "cancel":
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		job, err := s.manager.Cancel(r.Context(), id)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Job cancelled successfully", job)
	case "events":
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if _, err := s.manager.Get(r.Context(), id); err != nil {
			respondEngineError(w, err)
			return
		}
		events, err := s.events.GetByRunID(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respond(w, http.StatusOK, "Job events retrieved successfully", observability.BuildTimeline(events))
	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}
