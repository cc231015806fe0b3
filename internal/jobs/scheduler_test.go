package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/operantlabs/operant/pkg/models"
)

func TestSchedulerSyncSchedules(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	s, err := NewScheduler(m, func(agentID, prompt string) error { return nil },
		SchedulerConfig{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	schedules := []models.Schedule{
		{ID: "s1", Expression: "0 9 * * *", Prompt: "morning report", Enabled: true},
		{ID: "s2", Expression: "not a cron line", Prompt: "skipped", Enabled: true},
		{ID: "s3", Expression: "*/5 * * * *", Prompt: "disabled", Enabled: false},
	}
	if got := s.SyncSchedules("agent-1", schedules); got != 1 {
		t.Errorf("SyncSchedules registered %d entries, want 1", got)
	}

	// Re-sync replaces the previous set instead of appending.
	if got := s.SyncSchedules("agent-1", schedules[:1]); got != 1 {
		t.Errorf("re-sync registered %d entries, want 1", got)
	}
	if len(s.entries["agent-1"]) != 1 {
		t.Errorf("agent holds %d entries, want 1", len(s.entries["agent-1"]))
	}

	s.DropSchedules("agent-1")
	if len(s.entries["agent-1"]) != 0 {
		t.Error("DropSchedules left entries behind")
	}
}

func TestSchedulerRunsScheduledPrompt(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	fired := make(chan string, 4)
	s, err := NewScheduler(m, func(agentID, prompt string) error {
		select {
		case fired <- agentID + ":" + prompt:
		default:
		}
		return nil
	}, SchedulerConfig{Retention: -1, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	s.SyncSchedules("agent-1", []models.Schedule{
		{ID: "s1", Expression: "@every 50ms", Prompt: "check the feeds", Enabled: true},
	})
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	select {
	case got := <-fired:
		if got != "agent-1:check the feeds" {
			t.Errorf("scheduled enqueue = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled prompt never fired")
	}
}

func TestSchedulerPrunesFinishedJobs(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	ctx := context.Background()

	job := m.Create(CreateParams{Prompt: "old job"})
	if _, err := m.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := m.Complete(ctx, job.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	s, err := NewScheduler(m, nil, SchedulerConfig{Retention: time.Nanosecond, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	s.prune()

	if _, err := m.Get(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("finished job survived prune: %v", err)
	}
}

func TestSchedulerRejectsBadPruneSchedule(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	_, err := NewScheduler(m, nil, SchedulerConfig{PruneSchedule: "nonsense", Logger: discardLogger()})
	if err == nil {
		t.Error("expected error for an invalid prune schedule")
	}
}
