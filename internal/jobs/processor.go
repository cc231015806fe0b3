package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/pkg/models"
)

var (
	// ErrQueueFull is returned when the queue cannot take another job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrNotRunning is returned when enqueueing before Start.
	ErrNotRunning = errors.New("job processor is not running")
)

// finishTimeout bounds the terminal bookkeeping write after a run, so a
// cancelled job context cannot block archiving.
const finishTimeout = 5 * time.Second

// Runner executes one job and returns its result. The context is
// cancelled when the job is cancelled or the processor shuts down.
type Runner func(ctx context.Context, job *models.Job) (*models.JobResult, error)

// ProcessorConfig tunes the worker pool.
type ProcessorConfig struct {
	// Workers is the number of concurrent job executions (default 4).
	Workers int
	// QueueSize bounds the backlog of accepted jobs (default 100).
	QueueSize int
	// Logger for processor events.
	Logger *slog.Logger
	// Tracer links worker spans back to the submitting request. Nil
	// disables the handoff.
	Tracer *observability.Tracer
}

// Processor drains the job queue with a fixed worker pool. Each worker
// claims a pending job, binds a cancellable context to it through the
// manager, and runs the executor.
type Processor struct {
	manager *Manager
	runner  Runner
	queue   chan string
	workers int
	log     *slog.Logger
	tracer  *observability.Tracer

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	carriers map[string]observability.MapCarrier
}

// NewProcessor builds a stopped worker pool around the manager.
func NewProcessor(manager *Manager, runner Runner, cfg ProcessorConfig) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		manager:  manager,
		runner:   runner,
		queue:    make(chan string, cfg.QueueSize),
		workers:  cfg.Workers,
		log:      cfg.Logger.With("component", "jobs"),
		tracer:   cfg.Tracer,
		carriers: make(map[string]observability.MapCarrier),
	}
}

// Start launches the workers. It returns an error when already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("job processor is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(runCtx)
	}
	p.log.Info("job processor started", "workers", p.workers, "queue_size", cap(p.queue))
	return nil
}

// Stop cancels running jobs and waits for the workers to drain, up to
// the context deadline.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("job processor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job processor shutdown timed out: %w", ctx.Err())
	}
}

// Enqueue hands a registered job id to the worker pool.
func (p *Processor) Enqueue(id string) error {
	return p.EnqueueFrom(context.Background(), id)
}

// EnqueueFrom is Enqueue with the submitter's context: any active trace
// is carried across the queue so the worker span joins the submitting
// request's trace.
func (p *Processor) EnqueueFrom(ctx context.Context, id string) error {
	p.mu.Lock()
	running := p.running
	if running && p.tracer != nil {
		carrier := observability.MapCarrier{}
		p.tracer.InjectContext(ctx, carrier)
		if len(carrier) > 0 {
			p.carriers[id] = carrier
		}
	}
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case p.queue <- id:
		return nil
	default:
		p.mu.Lock()
		delete(p.carriers, id)
		p.mu.Unlock()
		return ErrQueueFull
	}
}

func (p *Processor) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.run(ctx, id)
		}
	}
}

func (p *Processor) run(ctx context.Context, id string) {
	p.mu.Lock()
	carrier, hasCarrier := p.carriers[id]
	delete(p.carriers, id)
	p.mu.Unlock()
	if hasCarrier && p.tracer != nil {
		ctx = p.tracer.ExtractContext(ctx, carrier)
	}

	job, err := p.manager.MarkProcessing(id)
	if err != nil {
		// Cancelled while queued, or pruned before a worker got to it.
		p.log.Debug("skipping queued job", "job_id", id, "error", err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.manager.SetCancelFunc(id, cancel)

	p.log.Info("job started", "job_id", id, "agent_id", job.AgentID)
	result, runErr := p.runner(jobCtx, job)

	// Terminal bookkeeping runs on its own context: jobCtx may already
	// be cancelled, and the archive write must still land.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), finishTimeout)
	defer finishCancel()

	// A job cancelled through the API is already terminal; the manager
	// reports ErrTerminal and the late write is dropped.
	if runErr != nil {
		if _, err := p.manager.Fail(finishCtx, id, runErr); err != nil && !errors.Is(err, ErrTerminal) {
			p.log.Warn("failed to record job failure", "job_id", id, "error", err)
		}
		p.log.Warn("job failed", "job_id", id, "error", runErr)
		return
	}
	if _, err := p.manager.Complete(finishCtx, id, result); err != nil && !errors.Is(err, ErrTerminal) {
		p.log.Warn("failed to record job completion", "job_id", id, "error", err)
	}
	p.log.Info("job completed", "job_id", id)
}
