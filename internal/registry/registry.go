// Package registry persists named agents under the state home. Each agent
// owns one directory holding its metadata (agent.yml) and durable state
// files; the directory is the unit of export, import, and clone.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/operantlabs/operant/internal/config"
	"github.com/operantlabs/operant/pkg/models"
)

const (
	agentsDirName = "agents"

	metadataFile     = "agent.yml"
	conversationFile = "conversation.json"
	historyFile      = "execution_history.json"
	learningsFile    = "learnings.json"
	schedulesFile    = "schedules.json"
	systemPromptFile = "system_prompt.md"
	envFile          = "context.env"
)

// DefaultPerPage bounds List when the caller does not pick a page size.
const DefaultPerPage = 10

// lastMessageMax caps the stored last-message preview.
const lastMessageMax = 300

// ErrNotFound is returned when an agent id does not exist.
var ErrNotFound = errors.New("agent not found")

// Registry manages the on-disk agent store with an in-memory index loaded
// at startup. Metadata mutations write through to agent.yml immediately.
type Registry struct {
	basePath string
	version  string
	log      *slog.Logger

	mu     sync.RWMutex
	agents map[string]*models.Agent
}

// Option configures a Registry.
type Option func(*Registry)

// WithBasePath overrides the agents directory (default: state home/agents).
func WithBasePath(path string) Option {
	return func(r *Registry) {
		r.basePath = path
	}
}

// WithVersion sets the runtime version stamped onto created agents.
func WithVersion(version string) Option {
	return func(r *Registry) {
		r.version = version
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.log = logger
	}
}

// New opens the agent store, creating the directory when missing, and loads
// every agent directory that carries valid metadata.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		version: "dev",
		log:     slog.Default().With("component", "registry"),
		agents:  make(map[string]*models.Agent),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.basePath == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, err
		}
		r.basePath = filepath.Join(dir, agentsDirName)
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create agents directory: %w", err)
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

// BasePath returns the store's base directory.
func (r *Registry) BasePath() string {
	return r.basePath
}

// AgentDir returns the directory owned by an agent.
func (r *Registry) AgentDir(id string) string {
	return filepath.Join(r.basePath, sanitizeID(id))
}

// EnvFilePath returns the agent's persistent sandbox environment file. The
// sandbox creates it on first run.
func (r *Registry) EnvFilePath(id string) string {
	return filepath.Join(r.AgentDir(id), envFile)
}

// loadAll scans the base directory for agent metadata. Directories without
// a parseable agent.yml are skipped with a warning rather than failing the
// whole store.
func (r *Registry) loadAll() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return fmt.Errorf("failed to read agents directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.basePath, entry.Name(), metadataFile)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			r.log.Warn("skipping agent directory without metadata", "dir", entry.Name())
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read agent metadata: %w", err)
		}

		var agent models.Agent
		if err := yaml.Unmarshal(data, &agent); err != nil {
			r.log.Warn("skipping agent with corrupt metadata", "dir", entry.Name(), "error", err)
			continue
		}
		// The directory name wins so path math stays consistent with ids.
		if agent.ID != entry.Name() {
			r.log.Warn("agent metadata id does not match its directory", "dir", entry.Name(), "id", agent.ID)
			agent.ID = entry.Name()
		}
		r.agents[agent.ID] = &agent
	}

	r.log.Debug("loaded agent store", "agents", len(r.agents), "path", r.basePath)
	return nil
}

// Create registers a new agent. Name is required; every other field falls
// back to its zero value and is resolved against runtime defaults at chat
// time.
func (r *Registry) Create(fields models.AgentEditFields) (*models.Agent, error) {
	if fields.Name == nil || strings.TrimSpace(*fields.Name) == "" {
		return nil, errors.New("agent name is required")
	}

	agent := &models.Agent{
		ID:      uuid.NewString(),
		Created: time.Now().UTC(),
		Version: r.version,
	}
	applyEdits(agent, fields)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.AgentDir(agent.ID), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create agent directory: %w", err)
	}
	if err := r.writeMetadata(agent); err != nil {
		return nil, err
	}
	r.agents[agent.ID] = agent
	return cloneAgent(agent), nil
}

// Get returns a copy of the agent's metadata.
func (r *Registry) Get(id string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneAgent(agent), nil
}

// Update applies the non-nil edit fields and persists the result.
func (r *Registry) Update(id string, fields models.AgentEditFields) (*models.Agent, error) {
	if fields.Name != nil && strings.TrimSpace(*fields.Name) == "" {
		return nil, errors.New("agent name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := cloneAgent(agent)
	applyEdits(updated, fields)
	if err := r.writeMetadata(updated); err != nil {
		return nil, err
	}
	r.agents[id] = updated
	return cloneAgent(updated), nil
}

// Delete removes the agent and its directory.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(r.AgentDir(id)); err != nil {
		return fmt.Errorf("failed to remove agent directory: %w", err)
	}
	delete(r.agents, id)
	return nil
}

// RecordMessage stamps the agent's last-message preview and activity time,
// used by list sorting and displays.
func (r *Registry) RecordMessage(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	agent.LastMessage = truncateMessage(message)
	agent.LastMessageDatetime = time.Now().UTC()
	return r.writeMetadata(agent)
}

// ListOptions control filtering, ordering, and pagination of List.
type ListOptions struct {
	// Page is 1-based; values below 1 read as 1.
	Page int
	// PerPage defaults to DefaultPerPage when unset.
	PerPage int
	// Name filters case-insensitively on substring match.
	Name string
	// Sort selects the ordering; unknown values fall back to last
	// message time.
	Sort models.AgentSortField
	// Ascending flips the default descending order.
	Ascending bool
}

// ListResult is one page of agents plus the paging echo.
type ListResult struct {
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
	Agents  []models.Agent `json:"agents"`
}

// List returns a sorted, filtered page of agents. Pages past the end come
// back empty rather than erroring.
func (r *Registry) List(opts ListOptions) ListResult {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = DefaultPerPage
	}

	filter := strings.ToLower(opts.Name)

	r.mu.RLock()
	agents := make([]models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		if filter != "" && !strings.Contains(strings.ToLower(agent.Name), filter) {
			continue
		}
		agents = append(agents, *cloneAgent(agent))
	}
	r.mu.RUnlock()

	sortAgents(agents, opts.Sort, opts.Ascending)

	total := len(agents)
	start := (opts.Page - 1) * opts.PerPage
	if start > total {
		start = total
	}
	end := start + opts.PerPage
	if end > total {
		end = total
	}

	return ListResult{
		Total:   total,
		Page:    opts.Page,
		PerPage: opts.PerPage,
		Agents:  agents[start:end],
	}
}

func sortAgents(agents []models.Agent, field models.AgentSortField, ascending bool) {
	// Agents that never chatted sort by creation time in the activity
	// ordering.
	lastActivity := func(a models.Agent) time.Time {
		if !a.LastMessageDatetime.IsZero() {
			return a.LastMessageDatetime
		}
		return a.Created
	}

	var less func(a, b models.Agent) bool
	switch field {
	case models.SortByName:
		less = func(a, b models.Agent) bool {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
	case models.SortByCreated:
		less = func(a, b models.Agent) bool {
			return a.Created.Before(b.Created)
		}
	default:
		less = func(a, b models.Agent) bool {
			return lastActivity(a).Before(lastActivity(b))
		}
	}

	sort.SliceStable(agents, func(i, j int) bool {
		if ascending {
			return less(agents[i], agents[j])
		}
		return less(agents[j], agents[i])
	})
}

// writeMetadata persists agent.yml. Callers hold the write lock.
func (r *Registry) writeMetadata(agent *models.Agent) error {
	data, err := yaml.Marshal(agent)
	if err != nil {
		return fmt.Errorf("failed to serialize agent metadata: %w", err)
	}
	path := filepath.Join(r.AgentDir(agent.ID), metadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write agent metadata: %w", err)
	}
	return nil
}

func applyEdits(agent *models.Agent, fields models.AgentEditFields) {
	if fields.Name != nil {
		agent.Name = strings.TrimSpace(*fields.Name)
	}
	if fields.Hosting != nil {
		agent.Hosting = *fields.Hosting
	}
	if fields.Model != nil {
		agent.Model = *fields.Model
	}
	if fields.Description != nil {
		agent.Description = *fields.Description
	}
	if fields.SecurityPrompt != nil {
		agent.SecurityPrompt = *fields.SecurityPrompt
	}
	if fields.Temperature != nil {
		agent.Temperature = clonePtr(fields.Temperature)
	}
	if fields.TopP != nil {
		agent.TopP = clonePtr(fields.TopP)
	}
	if fields.TopK != nil {
		agent.TopK = clonePtr(fields.TopK)
	}
	if fields.MaxTokens != nil {
		agent.MaxTokens = clonePtr(fields.MaxTokens)
	}
	if fields.Stop != nil {
		agent.Stop = append([]string(nil), (*fields.Stop)...)
	}
	if fields.FrequencyPenalty != nil {
		agent.FrequencyPenalty = clonePtr(fields.FrequencyPenalty)
	}
	if fields.PresencePenalty != nil {
		agent.PresencePenalty = clonePtr(fields.PresencePenalty)
	}
	if fields.Seed != nil {
		agent.Seed = clonePtr(fields.Seed)
	}
	if fields.CurrentWorkingDirectory != nil {
		agent.CurrentWorkingDirectory = *fields.CurrentWorkingDirectory
	}
}

func cloneAgent(a *models.Agent) *models.Agent {
	cp := *a
	cp.Temperature = clonePtr(a.Temperature)
	cp.TopP = clonePtr(a.TopP)
	cp.TopK = clonePtr(a.TopK)
	cp.MaxTokens = clonePtr(a.MaxTokens)
	cp.FrequencyPenalty = clonePtr(a.FrequencyPenalty)
	cp.PresencePenalty = clonePtr(a.PresencePenalty)
	cp.Seed = clonePtr(a.Seed)
	if a.Stop != nil {
		cp.Stop = append([]string(nil), a.Stop...)
	}
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func truncateMessage(s string) string {
	runes := []rune(s)
	if len(runes) <= lastMessageMax {
		return s
	}
	return string(runes[:lastMessageMax]) + "..."
}

// sanitizeID keeps agent ids usable as directory names.
func sanitizeID(id string) string {
	safe := filepath.Base(filepath.Clean(id))
	if safe == "." || safe == ".." || safe == "" || safe == string(filepath.Separator) {
		return "_invalid_"
	}
	return safe
}
