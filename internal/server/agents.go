package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/operantlabs/operant/internal/registry"
	"github.com/operantlabs/operant/pkg/models"
)

// maxImportBytes caps agent archive uploads.
const maxImportBytes = 50 << 20

type agentConversationResult struct {
	AgentID              string                      `json:"agent_id"`
	FirstMessageDatetime time.Time                   `json:"first_message_datetime"`
	LastMessageDatetime  time.Time                   `json:"last_message_datetime"`
	Messages             []models.ConversationRecord `json:"messages"`
	Page                 int                         `json:"page"`
	PerPage              int                         `json:"per_page"`
	Total                int                         `json:"total"`
	Count                int                         `json:"count"`
}

type agentHistoryResult struct {
	AgentID                string                   `json:"agent_id"`
	FirstExecutionDatetime time.Time                `json:"first_execution_datetime"`
	LastExecutionDatetime  time.Time                `json:"last_execution_datetime"`
	History                []models.ExecutionResult `json:"history"`
	Page                   int                      `json:"page"`
	PerPage                int                      `json:"per_page"`
	Total                  int                      `json:"total"`
	Count                  int                      `json:"count"`
}

type systemPromptResult struct {
	Content      string     `json:"content"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

type agentImportResult struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// handleAgents serves the agent collection: list and create.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleAgentList(w, r)
	case http.MethodPost:
		s.handleAgentCreate(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleAgentSubroutes routes /v1/agents/{id} and its nested resources.
func (s *Server) handleAgentSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if rest == "" {
		s.handleAgents(w, r)
		return
	}
	if rest == "import" {
		s.handleAgentImport(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		s.handleAgentByID(w, r, id)
	case "conversation":
		s.handleAgentConversation(w, r, id)
	case "history":
		s.handleAgentHistory(w, r, id)
	case "system-prompt":
		s.handleAgentSystemPrompt(w, r, id)
	case "clone":
		s.handleAgentClone(w, r, id)
	case "export":
		s.handleAgentExport(w, r, id)
	default:
		respondError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	opts := registry.ListOptions{
		Page:      parseIntParam(r, "page", 1),
		PerPage:   parseIntParam(r, "per_page", registry.DefaultPerPage),
		Name:      r.URL.Query().Get("name"),
		Sort:      models.AgentSortField(r.URL.Query().Get("sort")),
		Ascending: strings.EqualFold(r.URL.Query().Get("order"), "asc"),
	}
	respond(w, http.StatusOK, "Agents retrieved successfully", s.registry.List(opts))
}

func (s *Server) handleAgentCreate(w http.ResponseWriter, r *http.Request) {
	var fields models.AgentEditFields
	if err := decodeJSON(r, &fields); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	agent, err := s.registry.Create(fields)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusCreated, "Agent created successfully", agent)
}

func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		agent, err := s.registry.Get(id)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Agent retrieved successfully", agent)
	case http.MethodPatch, http.MethodPut:
		var fields models.AgentEditFields
		if err := decodeJSON(r, &fields); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		agent, err := s.registry.Update(id, fields)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Agent updated successfully", agent)
	case http.MethodDelete:
		if err := s.registry.Delete(id); err != nil {
			respondEngineError(w, err)
			return
		}
		s.scheduler.DropSchedules(id)
		respond(w, http.StatusOK, "Agent deleted successfully", nil)
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleAgentConversation(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		page, perPage := pageParams(r)
		state, err := s.registry.LoadState(id)
		if err != nil {
			respondEngineError(w, err)
			return
		}

		records := state.Conversation
		total := len(records)
		start, end, ok := pageBounds(page, perPage, total)
		if !ok {
			respondError(w, http.StatusBadRequest, outOfBoundsMessage(page, perPage, total))
			return
		}

		times := make([]time.Time, len(records))
		for i, rec := range records {
			times[i] = rec.Timestamp
		}
		first, last := timeRange(times)

		// Pages move backward through history: page 1 is the most recent
		// slice, records inside a page stay in order.
		messages := []models.ConversationRecord{}
		if total > 0 {
			messages = records[total-end : total-start]
		}

		respond(w, http.StatusOK, "Agent conversation retrieved successfully", agentConversationResult{
			AgentID:              id,
			FirstMessageDatetime: first,
			LastMessageDatetime:  last,
			Messages:             messages,
			Page:                 page,
			PerPage:              perPage,
			Total:                total,
			Count:                len(messages),
		})
	case http.MethodDelete:
		if err := s.registry.ClearConversation(id); err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Agent conversation cleared successfully", nil)
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	page, perPage := pageParams(r)
	state, err := s.registry.LoadState(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	history := state.ExecutionHistory
	total := len(history)
	start, end, ok := pageBounds(page, perPage, total)
	if !ok {
		respondError(w, http.StatusBadRequest, outOfBoundsMessage(page, perPage, total))
		return
	}

	times := make([]time.Time, len(history))
	for i, rec := range history {
		times[i] = rec.Timestamp
	}
	first, last := timeRange(times)

	executions := []models.ExecutionResult{}
	if total > 0 {
		executions = history[total-end : total-start]
	}

	respond(w, http.StatusOK, "Agent execution history retrieved successfully", agentHistoryResult{
		AgentID:                id,
		FirstExecutionDatetime: first,
		LastExecutionDatetime:  last,
		History:                executions,
		Page:                   page,
		PerPage:                perPage,
		Total:                  total,
		Count:                  len(executions),
	})
}

func (s *Server) handleAgentSystemPrompt(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		content, err := s.registry.SystemPrompt(id)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		result := systemPromptResult{Content: content}
		if modified, err := s.registry.SystemPromptModified(id); err == nil && !modified.IsZero() {
			result.LastModified = &modified
		}
		respond(w, http.StatusOK, "Agent system prompt retrieved successfully", result)
	case http.MethodPut, http.MethodPatch:
		var update struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(r, &update); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		if err := s.registry.SetSystemPrompt(id, update.Content); err != nil {
			respondEngineError(w, err)
			return
		}
		respond(w, http.StatusOK, "Agent system prompt updated successfully", nil)
	default:
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleAgentClone(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	agent, err := s.registry.Clone(id, body.Name)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	s.syncAgentSchedules(agent.ID)
	respond(w, http.StatusCreated, "Agent cloned successfully", agent)
}

func (s *Server) handleAgentExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var buf bytes.Buffer
	filename, err := s.registry.Export(id, &buf)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes()) //nolint:errcheck
}

func (s *Server) handleAgentImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	data, err := readImportArchive(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := s.registry.Import(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to import agent: "+err.Error())
		return
	}
	s.syncAgentSchedules(agent.ID)

	respond(w, http.StatusCreated, "Agent imported successfully", agentImportResult{
		AgentID: agent.ID,
		Name:    agent.Name,
	})
}

// readImportArchive accepts the agent zip as a multipart "file" field or
// as a raw request body.
func readImportArchive(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			return nil, fmt.Errorf("invalid multipart form: %w", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxImportBytes))
	}
	return io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
}

// syncAgentSchedules registers any schedules carried in the agent's state.
func (s *Server) syncAgentSchedules(id string) {
	state, err := s.registry.LoadState(id)
	if err != nil {
		s.log.Warn("failed to load agent state for schedules", "agent_id", id, "error", err)
		return
	}
	if len(state.Schedules) > 0 {
		s.scheduler.SyncSchedules(id, state.Schedules)
	}
}

// pageParams reads and clamps pagination query parameters.
func pageParams(r *http.Request) (page, perPage int) {
	page = parseIntParam(r, "page", 1)
	perPage = parseIntParam(r, "per_page", 10)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}
	return page, perPage
}

// pageBounds computes the [start, end) window for one page. ok is false
// when the page starts past the end of a non-empty collection.
func pageBounds(page, perPage, total int) (start, end int, ok bool) {
	start = (page - 1) * perPage
	end = start + perPage
	if end > total {
		end = total
	}
	if start >= total && total > 0 {
		return 0, 0, false
	}
	return start, end, true
}

func outOfBoundsMessage(page, perPage, total int) string {
	totalPages := (total + perPage - 1) / perPage
	return fmt.Sprintf("Page %d is out of bounds. Total pages: %d", page, totalPages)
}

// timeRange returns the earliest and latest non-zero timestamps, falling
// back to the current time when none exist.
func timeRange(times []time.Time) (first, last time.Time) {
	now := time.Now().UTC()
	first, last = now, now
	seen := false
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if !seen {
			first, last = t, t
			seen = true
			continue
		}
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return first, last
}
