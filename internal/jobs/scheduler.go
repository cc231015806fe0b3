package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/pkg/models"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// EnqueueFunc submits a scheduled prompt as a new job for the agent.
type EnqueueFunc func(agentID, prompt string) error

// SchedulerConfig tunes the maintenance scheduler.
type SchedulerConfig struct {
	// PruneSchedule is the cron expression for the prune tick
	// (default "@hourly").
	PruneSchedule string
	// Retention is how long terminal jobs are kept (default 24h).
	// A negative retention disables pruning.
	Retention time.Duration
	// Logger for scheduler events.
	Logger *slog.Logger
	// Tracer records a span per prune pass. Optional.
	Tracer *observability.Tracer
}

// Scheduler drives job maintenance and per-agent scheduled prompts on
// one cron runner. Agent schedules are registered with SyncSchedules
// whenever an agent's state changes.
type Scheduler struct {
	cron      *cron.Cron
	manager   *Manager
	enqueue   EnqueueFunc
	log       *slog.Logger
	tracer    *observability.Tracer
	retention time.Duration
	pruneSpec string

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

// NewScheduler builds a stopped scheduler with the prune tick
// registered.
func NewScheduler(manager *Manager, enqueue EnqueueFunc, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "@hourly"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		cron:      cron.New(cron.WithParser(cronParser)),
		manager:   manager,
		enqueue:   enqueue,
		log:       cfg.Logger.With("component", "jobs"),
		tracer:    cfg.Tracer,
		retention: cfg.Retention,
		pruneSpec: cfg.PruneSchedule,
		entries:   make(map[string][]cron.EntryID),
	}
	if s.retention > 0 {
		if _, err := s.cron.AddFunc(s.pruneSpec, s.prune); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", s.pruneSpec, err)
		}
	}
	return s, nil
}

// Start begins cron dispatch.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("job scheduler started", "prune_schedule", s.pruneSpec, "retention", s.retention)
}

// Stop halts dispatch and waits for in-flight entries, up to the
// context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("job scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job scheduler shutdown timed out: %w", ctx.Err())
	}
}

// SyncSchedules replaces the agent's registered scheduled prompts with
// the given set and returns how many entries were registered. Disabled
// schedules and invalid expressions are skipped.
func (s *Scheduler) SyncSchedules(agentID string, schedules []models.Schedule) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries[agentID] {
		s.cron.Remove(entry)
	}
	delete(s.entries, agentID)

	registered := 0
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		prompt := sched.Prompt
		scheduleID := sched.ID
		entry, err := s.cron.AddFunc(sched.Expression, func() {
			if err := s.enqueue(agentID, prompt); err != nil {
				s.log.Warn("failed to enqueue scheduled prompt",
					"agent_id", agentID, "schedule_id", scheduleID, "error", err)
			}
		})
		if err != nil {
			s.log.Warn("skipping invalid schedule",
				"agent_id", agentID, "schedule_id", scheduleID, "error", err)
			continue
		}
		s.entries[agentID] = append(s.entries[agentID], entry)
		registered++
	}
	return registered
}

// DropSchedules removes every scheduled prompt for an agent.
func (s *Scheduler) DropSchedules(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries[agentID] {
		s.cron.Remove(entry)
	}
	delete(s.entries, agentID)
}

func (s *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.retention)
	err := observability.WithSpan(ctx, s.tracer, "jobs.prune", func(ctx context.Context, span trace.Span) error {
		removed, err := s.manager.Prune(ctx, cutoff)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("jobs.pruned", removed))
		if removed > 0 {
			s.log.Info("pruned finished jobs", "removed", removed, "cutoff", cutoff)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("job prune failed", "error", err)
	}
}
