// Package jobs tracks asynchronous agent executions. Live jobs are held
// in memory; terminal jobs are copied to a SQLite archive so history
// survives restarts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/operantlabs/operant/pkg/models"
)

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when a transition targets a finished job.
	ErrTerminal = errors.New("job already finished")
)

// Publisher receives a snapshot every time a job changes state. The
// websocket hub implements it; a nil publisher disables broadcasting.
type Publisher interface {
	PublishJob(job *models.Job)
}

// Manager owns the in-memory job table. All mutations go through status
// transition methods so every change is archived and published exactly
// once.
type Manager struct {
	archive   *Archive
	publisher Publisher
	log       *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*models.Job
	keys    []string
	cancels map[string]context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchive attaches the terminal-job archive.
func WithArchive(archive *Archive) Option {
	return func(m *Manager) {
		m.archive = archive
	}
}

// WithPublisher sets the state-change broadcaster.
func WithPublisher(publisher Publisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// NewManager builds an empty job table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		log:     slog.Default().With("component", "jobs"),
		jobs:    make(map[string]*models.Job),
		keys:    make([]string, 0),
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateParams describe a job to register.
type CreateParams struct {
	AgentID string
	Prompt  string
	Hosting string
	Model   string
	Options *models.ChatOptions
	// Persist forces a conversation save after the run even when
	// auto-save is off.
	Persist bool
}

// Create registers a pending job and returns its snapshot.
func (m *Manager) Create(params CreateParams) *models.Job {
	job := &models.Job{
		ID:        uuid.NewString(),
		AgentID:   params.AgentID,
		Prompt:    params.Prompt,
		Hosting:   params.Hosting,
		Model:     params.Model,
		Options:   cloneOptions(params.Options),
		Persist:   params.Persist,
		Status:    models.JobPending,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.keys = append(m.keys, job.ID)
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.publish(snapshot)
	return snapshot
}

// Get returns a job by id, falling back to the archive for jobs that
// finished before the last restart.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	if job, ok := m.jobs[id]; ok {
		snapshot := cloneJob(job)
		m.mu.RUnlock()
		return snapshot, nil
	}
	m.mu.RUnlock()

	if m.archive != nil {
		job, err := m.archive.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read archived job: %w", err)
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	AgentID string
	Status  models.JobStatus
	Limit   int
}

func (f Filter) matches(job *models.Job) bool {
	if f.AgentID != "" && job.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}

// List returns matching jobs, newest first. In-memory jobs come before
// archived history; a job present in both appears once.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*models.Job, error) {
	m.mu.RLock()
	out := make([]*models.Job, 0, len(m.keys))
	seen := make(map[string]struct{}, len(m.keys))
	for i := len(m.keys) - 1; i >= 0; i-- {
		job := m.jobs[m.keys[i]]
		seen[job.ID] = struct{}{}
		if filter.matches(job) {
			out = append(out, cloneJob(job))
		}
	}
	m.mu.RUnlock()

	if m.archive != nil {
		archived, err := m.archive.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list archived jobs: %w", err)
		}
		for _, job := range archived {
			if _, ok := seen[job.ID]; !ok {
				out = append(out, job)
			}
		}
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkProcessing moves a pending job into the processing state.
func (m *Manager) MarkProcessing(id string) (*models.Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if job.Status != models.JobPending {
		status := job.Status
		m.mu.Unlock()
		if status.Terminal() {
			return nil, ErrTerminal
		}
		return nil, fmt.Errorf("job %s is already %s", id, status)
	}
	now := time.Now().UTC()
	job.Status = models.JobProcessing
	job.StartedAt = &now
	snapshot := cloneJob(job)
	m.mu.Unlock()

	m.publish(snapshot)
	return snapshot, nil
}

// SetCancelFunc registers the cancel handle for a job's execution
// context. If the job already finished the handle is invoked at once so
// the context is not leaked.
func (m *Manager) SetCancelFunc(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancels[id] = cancel
	m.mu.Unlock()
}

// Complete records a successful result.
func (m *Manager) Complete(ctx context.Context, id string, result *models.JobResult) (*models.Job, error) {
	return m.finish(ctx, id, models.JobCompleted, result)
}

// Fail records an execution error.
func (m *Manager) Fail(ctx context.Context, id string, jobErr error) (*models.Job, error) {
	result := &models.JobResult{}
	if jobErr != nil {
		result.Error = jobErr.Error()
	}
	return m.finish(ctx, id, models.JobFailed, result)
}

// Cancel stops a pending or processing job: its execution context is
// cancelled and its status becomes cancelled. Finished jobs, including
// archived ones, report ErrTerminal.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := m.finish(ctx, id, models.JobCancelled, &models.JobResult{Error: "job cancelled"})
	if errors.Is(err, ErrNotFound) && m.archive != nil {
		archived, archiveErr := m.archive.Get(ctx, id)
		if archiveErr == nil && archived != nil {
			return nil, ErrTerminal
		}
	}
	return job, err
}

// Prune drops terminal jobs finished before the cutoff from memory and
// from the archive, returning how many store entries were removed.
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	removed := 0
	kept := m.keys[:0]
	for _, id := range m.keys {
		job := m.jobs[id]
		if job.Status.Terminal() && finishedAt(job).Before(cutoff) {
			delete(m.jobs, id)
			delete(m.cancels, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.keys = kept
	m.mu.Unlock()

	if m.archive != nil {
		archived, err := m.archive.Prune(ctx, cutoff)
		if err != nil {
			return removed, fmt.Errorf("failed to prune job archive: %w", err)
		}
		removed += int(archived)
	}
	return removed, nil
}

// finish applies a terminal transition, fires the cancel handle, writes
// the archive row, and publishes the final snapshot.
func (m *Manager) finish(ctx context.Context, id string, status models.JobStatus, result *models.JobResult) (*models.Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return nil, ErrTerminal
	}
	now := time.Now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.Result = result
	if cancel, ok := m.cancels[id]; ok {
		delete(m.cancels, id)
		cancel()
	}
	snapshot := cloneJob(job)
	m.mu.Unlock()

	if m.archive != nil {
		if err := m.archive.Insert(ctx, snapshot); err != nil {
			m.log.Warn("failed to archive job", "job_id", id, "error", err)
		}
	}
	m.publish(snapshot)
	return snapshot, nil
}

func (m *Manager) publish(job *models.Job) {
	if m.publisher != nil {
		m.publisher.PublishJob(job)
	}
}

func finishedAt(job *models.Job) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

func cloneJob(job *models.Job) *models.Job {
	clone := *job
	clone.StartedAt = clonePtr(job.StartedAt)
	clone.CompletedAt = clonePtr(job.CompletedAt)
	clone.Options = cloneOptions(job.Options)
	if job.Result != nil {
		result := *job.Result
		result.Context = append([]models.ConversationRecord(nil), job.Result.Context...)
		result.Stats = clonePtr(job.Result.Stats)
		clone.Result = &result
	}
	return &clone
}

func cloneOptions(o *models.ChatOptions) *models.ChatOptions {
	if o == nil {
		return nil
	}
	return &models.ChatOptions{
		Temperature:      clonePtr(o.Temperature),
		TopP:             clonePtr(o.TopP),
		TopK:             clonePtr(o.TopK),
		MaxTokens:        clonePtr(o.MaxTokens),
		Stop:             append([]string(nil), o.Stop...),
		FrequencyPenalty: clonePtr(o.FrequencyPenalty),
		PresencePenalty:  clonePtr(o.PresencePenalty),
		Seed:             clonePtr(o.Seed),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
