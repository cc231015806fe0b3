package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/pkg/models"
)

func waitForStatus(t *testing.T, m *Manager, id string, want models.JobStatus) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func stopProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestProcessorRunsJobs(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		return &models.JobResult{Response: "ran " + job.Prompt}, nil
	}
	p := NewProcessor(m, runner, ProcessorConfig{Workers: 2, QueueSize: 4, Logger: discardLogger()})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopProcessor(t, p)

	job := m.Create(CreateParams{Prompt: "hello"})
	if err := p.Enqueue(job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := waitForStatus(t, m, job.ID, models.JobCompleted)
	if done.Result == nil || done.Result.Response != "ran hello" {
		t.Fatalf("unexpected result: %+v", done.Result)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("timestamps not stamped")
	}
}

func TestProcessorRecordsFailure(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		return nil, errors.New("model exploded")
	}
	p := NewProcessor(m, runner, ProcessorConfig{Workers: 1, Logger: discardLogger()})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopProcessor(t, p)

	job := m.Create(CreateParams{Prompt: "doomed"})
	if err := p.Enqueue(job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	failed := waitForStatus(t, m, job.ID, models.JobFailed)
	if failed.Result == nil || failed.Result.Error != "model exploded" {
		t.Fatalf("unexpected result: %+v", failed.Result)
	}
}

func TestProcessorCancelStopsJob(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	started := make(chan struct{})
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p := NewProcessor(m, runner, ProcessorConfig{Workers: 1, Logger: discardLogger()})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopProcessor(t, p)

	job := m.Create(CreateParams{Prompt: "run forever"})
	if err := p.Enqueue(job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	if _, err := m.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got := waitForStatus(t, m, job.ID, models.JobCancelled)
	if got.Result == nil || got.Result.Error != "job cancelled" {
		t.Errorf("unexpected cancel result: %+v", got.Result)
	}

	// The runner's late error must not overwrite the cancelled status.
	time.Sleep(50 * time.Millisecond)
	again, err := m.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Status != models.JobCancelled {
		t.Errorf("status overwritten after cancel: %s", again.Status)
	}
}

func TestProcessorSkipsCancelledJob(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	var ran atomic.Bool
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		ran.Store(true)
		return &models.JobResult{}, nil
	}
	p := NewProcessor(m, runner, ProcessorConfig{Workers: 1, Logger: discardLogger()})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopProcessor(t, p)

	job := m.Create(CreateParams{Prompt: "never mind"})
	if _, err := m.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := p.Enqueue(job.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Error("runner executed a cancelled job")
	}
	got, err := m.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.JobCancelled || got.StartedAt != nil {
		t.Errorf("cancelled job was claimed: %+v", got)
	}
}

func TestProcessorEnqueueLimits(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	block := make(chan struct{})
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		<-block
		return &models.JobResult{}, nil
	}
	p := NewProcessor(m, runner, ProcessorConfig{Workers: 1, QueueSize: 1, Logger: discardLogger()})

	if err := p.Enqueue("early"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Enqueue before Start = %v, want ErrNotRunning", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(block)
		stopProcessor(t, p)
	}()

	first := m.Create(CreateParams{Prompt: "first"})
	if err := p.Enqueue(first.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForStatus(t, m, first.ID, models.JobProcessing)

	second := m.Create(CreateParams{Prompt: "second"})
	if err := p.Enqueue(second.ID); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	third := m.Create(CreateParams{Prompt: "third"})
	if err := p.Enqueue(third.ID); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue over capacity = %v, want ErrQueueFull", err)
	}
}

func TestProcessorCarriesTraceAcrossQueue(t *testing.T) {
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "test-service",
		Endpoint:       "localhost:4317",
		EnableInsecure: true,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	m := NewManager(WithLogger(discardLogger()))
	traceIDs := make(chan string, 1)
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		traceIDs <- observability.GetTraceID(ctx)
		return &models.JobResult{}, nil
	}
	p := NewProcessor(m, runner, ProcessorConfig{Workers: 1, Logger: discardLogger(), Tracer: tracer})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopProcessor(t, p)

	ctx, span := tracer.TraceHTTPRequest(context.Background(), "POST", "/v1/chat/async")
	defer span.End()
	want := observability.GetTraceID(ctx)
	if want == "" {
		t.Fatal("submitting context has no trace id")
	}

	job := m.Create(CreateParams{Prompt: "traced"})
	if err := p.EnqueueFrom(ctx, job.ID); err != nil {
		t.Fatalf("EnqueueFrom: %v", err)
	}
	waitForStatus(t, m, job.ID, models.JobCompleted)

	if got := <-traceIDs; got != want {
		t.Errorf("worker trace id = %q, want %q", got, want)
	}
}

func TestProcessorStartStop(t *testing.T) {
	m := NewManager(WithLogger(discardLogger()))
	runner := func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		return &models.JobResult{}, nil
	}
	p := NewProcessor(m, runner, ProcessorConfig{Logger: discardLogger()})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}

	stopProcessor(t, p)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := p.Enqueue("late"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Enqueue after Stop = %v, want ErrNotRunning", err)
	}
}
