package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/operantlabs/operant/internal/agent"
	"github.com/operantlabs/operant/internal/jobs"
	"github.com/operantlabs/operant/pkg/models"
)

// asyncChatRequest is a chat submission destined for the job queue. The
// optional client id binds streaming updates to one websocket client.
type asyncChatRequest struct {
	models.ChatRequest
	AgentID  string `json:"agent_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// handleChat serves POST /v1/chat: a synchronous ad-hoc turn, streamed
// over SSE when the request asks for it.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.serveChat(w, r, "")
}

// handleAgentChat serves POST /v1/chat/agents/{id} and its async form.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/chat/agents/")
	id, mode, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch mode {
	case "":
		s.serveChat(w, r, id)
	case "async":
		s.enqueueChat(w, r, id)
	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}

// handleChatAsync serves POST /v1/chat/async: enqueue a chat job.
func (s *Server) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.enqueueChat(w, r, "")
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, agentID string) {
	var req models.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	job := ChatJob{
		AgentID: agentID,
		Prompt:  req.Prompt,
		Hosting: req.Hosting,
		Model:   req.Model,
		Options: req.Options,
		Context: req.Context,
		Persist: req.Persist,
	}

	if req.Stream {
		s.streamChat(w, r, job)
		return
	}

	result, err := s.engine.Run(r.Context(), job)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(chatResponse(result)) //nolint:errcheck
}

// streamChat runs the turn while relaying executor events as SSE frames.
// The stream ends with a complete frame carrying the full response, or an
// error frame.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, job ChatJob) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	job.OnEvent = func(ev agent.Event) {
		update, ok := eventUpdate(job, ev)
		if !ok {
			return
		}
		data, err := json.Marshal(update)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: message_update\ndata: %s\n\n", data)
		flusher.Flush()
	}

	result, err := s.engine.Run(r.Context(), job)
	if err != nil {
		data, _ := json.Marshal(map[string]string{"message": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}

	data, err := json.Marshal(chatResponse(result))
	if err != nil {
		data, _ = json.Marshal(map[string]string{"message": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
		return
	}
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
	flusher.Flush()
}

// enqueueChat registers a job for the worker pool and replies with its
// pending snapshot.
func (s *Server) enqueueChat(w http.ResponseWriter, r *http.Request, agentID string) {
	var req asyncChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if agentID == "" {
		agentID = req.AgentID
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if agentID != "" {
		if _, err := s.registry.Get(agentID); err != nil {
			respondEngineError(w, err)
			return
		}
	}

	job := s.manager.Create(jobs.CreateParams{
		AgentID: agentID,
		Prompt:  req.Prompt,
		Hosting: req.Hosting,
		Model:   req.Model,
		Options: req.Options,
		Persist: req.Persist,
	})
	if req.ClientID != "" {
		s.hub.BindJob(job.ID, req.ClientID)
	}

	if err := s.processor.EnqueueFrom(r.Context(), job.ID); err != nil {
		if _, failErr := s.manager.Fail(r.Context(), job.ID, err); failErr != nil {
			s.log.Warn("failed to mark unqueued job failed", "job_id", job.ID, "error", failErr)
		}
		respondEngineError(w, err)
		return
	}

	respond(w, http.StatusCreated, "Chat request accepted", job)
}

// chatResponse shapes an engine result for the synchronous chat reply.
func chatResponse(result *models.JobResult) models.ChatResponse {
	resp := models.ChatResponse{
		Response: result.Response,
		Context:  result.Context,
	}
	if result.Stats != nil {
		resp.Stats = *result.Stats
	}
	return resp
}
