package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/operantlabs/operant/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatPtr(f float64) *float64 { return &f }

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (p *recordingPublisher) PublishJob(job *models.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
}

func (p *recordingPublisher) statuses() []models.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.JobStatus, len(p.jobs))
	for i, job := range p.jobs {
		out[i] = job.Status
	}
	return out
}

func TestManagerLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(WithPublisher(pub), WithLogger(discardLogger()))
	ctx := context.Background()

	job := m.Create(CreateParams{
		AgentID: "agent-1",
		Prompt:  "summarize the logs",
		Hosting: "anthropic",
		Model:   "claude-sonnet-4-0",
	})
	if job.ID == "" || job.Status != models.JobPending {
		t.Fatalf("unexpected new job: %+v", job)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}

	started, err := m.MarkProcessing(job.ID)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if started.Status != models.JobProcessing || started.StartedAt == nil {
		t.Fatalf("unexpected processing job: %+v", started)
	}
	if _, err := m.MarkProcessing(job.ID); err == nil {
		t.Error("expected error marking a processing job again")
	}

	result := &models.JobResult{Response: "done", Stats: &models.ChatStats{TotalTokens: 42}}
	finished, err := m.Complete(ctx, job.ID, result)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if finished.Status != models.JobCompleted || finished.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %+v", finished)
	}
	if finished.Result.Response != "done" {
		t.Errorf("Result.Response = %q, want %q", finished.Result.Response, "done")
	}

	if _, err := m.Complete(ctx, job.ID, nil); !errors.Is(err, ErrTerminal) {
		t.Errorf("Complete on finished job = %v, want ErrTerminal", err)
	}

	want := []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted}
	got := pub.statuses()
	if len(got) != len(want) {
		t.Fatalf("published %d snapshots, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot %d status = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManagerGetReturnsCopies(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	ctx := context.Background()

	job := m.Create(CreateParams{
		Prompt:  "original prompt",
		Options: &models.ChatOptions{Temperature: floatPtr(0.2)},
	})

	got, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Prompt = "mutated"
	*got.Options.Temperature = 9.9

	again, err := m.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Prompt != "original prompt" {
		t.Errorf("Prompt = %q, mutation leaked into the store", again.Prompt)
	}
	if *again.Options.Temperature != 0.2 {
		t.Errorf("Temperature = %v, mutation leaked into the store", *again.Options.Temperature)
	}
}

func TestManagerGetNotFound(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestManagerListFilters(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	ctx := context.Background()

	a := m.Create(CreateParams{AgentID: "agent-a", Prompt: "one"})
	b := m.Create(CreateParams{AgentID: "agent-b", Prompt: "two"})
	c := m.Create(CreateParams{AgentID: "agent-a", Prompt: "three"})

	if _, err := m.MarkProcessing(b.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	all, err := m.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d jobs, want 3", len(all))
	}
	if all[0].ID != c.ID || all[2].ID != a.ID {
		t.Error("expected newest-first ordering")
	}

	byAgent, err := m.List(ctx, Filter{AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byAgent) != 2 {
		t.Errorf("agent filter returned %d jobs, want 2", len(byAgent))
	}

	pending, err := m.List(ctx, Filter{Status: models.JobPending})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("status filter returned %d jobs, want 2", len(pending))
	}

	limited, err := m.List(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != c.ID {
		t.Errorf("limit returned %d jobs, want just the newest", len(limited))
	}
}

func TestManagerCancel(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	ctx := context.Background()

	job := m.Create(CreateParams{Prompt: "long task"})
	if _, err := m.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}

	execCtx, cancel := context.WithCancel(context.Background())
	m.SetCancelFunc(job.ID, cancel)

	cancelled, err := m.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.JobCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("unexpected cancelled job: %+v", cancelled)
	}
	select {
	case <-execCtx.Done():
	default:
		t.Error("execution context was not cancelled")
	}

	if _, err := m.Cancel(ctx, job.ID); !errors.Is(err, ErrTerminal) {
		t.Errorf("Cancel on finished job = %v, want ErrTerminal", err)
	}
	if _, err := m.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel on unknown job = %v, want ErrNotFound", err)
	}
}

func TestManagerSetCancelFuncOnFinishedJob(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	ctx := context.Background()

	job := m.Create(CreateParams{Prompt: "quick"})
	if _, err := m.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := m.Complete(ctx, job.ID, &models.JobResult{Response: "ok"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	execCtx, cancel := context.WithCancel(context.Background())
	m.SetCancelFunc(job.ID, cancel)
	select {
	case <-execCtx.Done():
	default:
		t.Error("cancel handle for a finished job should fire immediately")
	}
}

func TestManagerPrune(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	ctx := context.Background()

	old := m.Create(CreateParams{Prompt: "old"})
	if _, err := m.MarkProcessing(old.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := m.Complete(ctx, old.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	live := m.Create(CreateParams{Prompt: "live"})

	removed, err := m.Prune(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}

	if _, err := m.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned job still present: %v", err)
	}
	if _, err := m.Get(ctx, live.ID); err != nil {
		t.Errorf("pending job was pruned: %v", err)
	}
}

func TestManagerArchiveFallback(t *testing.T) {
	archive, err := OpenArchive(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer archive.Close()

	ctx := context.Background()
	first := NewManager(WithArchive(archive), WithLogger(discardLogger()))

	job := first.Create(CreateParams{AgentID: "agent-1", Prompt: "persist me"})
	if _, err := first.MarkProcessing(job.ID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := first.Complete(ctx, job.ID, &models.JobResult{Response: "saved"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// No duplicates while the job is still in the live table.
	both, err := first.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(both) != 1 {
		t.Errorf("List returned %d jobs, want 1", len(both))
	}

	// A fresh manager sharing the archive still sees the finished job.
	second := NewManager(WithArchive(archive), WithLogger(discardLogger()))
	got, err := second.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.Status != models.JobCompleted || got.Result == nil || got.Result.Response != "saved" {
		t.Fatalf("unexpected archived job: %+v", got)
	}

	listed, err := second.List(ctx, Filter{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("List returned %d archived jobs, want 1", len(listed))
	}

	if _, err := second.Cancel(ctx, job.ID); !errors.Is(err, ErrTerminal) {
		t.Errorf("Cancel on archived job = %v, want ErrTerminal", err)
	}
}
