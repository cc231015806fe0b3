package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/operantlabs/operant/internal/agent"
	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/internal/config"
	"github.com/operantlabs/operant/internal/conversation"
	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/internal/registry"
	"github.com/operantlabs/operant/internal/sandbox"
	"github.com/operantlabs/operant/internal/safety"
	"github.com/operantlabs/operant/internal/tools"
	"github.com/operantlabs/operant/internal/usage"
	"github.com/operantlabs/operant/pkg/models"
)

// MessageUpdate is one streaming update from a running turn, fanned out
// to websocket subscribers.
type MessageUpdate struct {
	JobID         string                 `json:"job_id,omitempty"`
	AgentID       string                 `json:"agent_id,omitempty"`
	MessageID     string                 `json:"message_id,omitempty"`
	ExecutionType models.ExecutionType   `json:"execution_type"`
	Delta         string                 `json:"delta,omitempty"`
	Content       string                 `json:"content,omitempty"`
	Status        models.ExecutionStatus `json:"status,omitempty"`
	IsComplete    bool                   `json:"is_complete"`
}

// messageSink receives updates from running turns. The websocket hub
// implements it.
type messageSink interface {
	PublishMessage(update MessageUpdate)
}

// ChatJob is one resolved unit of work for the engine: a prompt, the
// agent it runs against (optional), and provider overrides.
type ChatJob struct {
	JobID   string
	AgentID string
	Prompt  string
	Hosting string
	Model   string
	Options *models.ChatOptions
	// Context seeds the conversation in place of stored history.
	Context []models.ConversationRecord
	// Persist forces a state save even when auto-save is off. Ignored
	// without an agent.
	Persist bool
	// OnEvent, when set, receives every executor event. Used by the SSE
	// streaming handler.
	OnEvent func(agent.Event)
}

type engineConfig struct {
	Snapshot func() config.Config
	Creds    *config.Credentials
	Registry *registry.Registry
	Tracker  *usage.Tracker
	Ledger   *usage.Ledger
	Prices   *usage.PriceTable
	Sink     messageSink
	Metrics  *observability.Metrics
	Recorder *observability.EventRecorder
	Tracer   *observability.Tracer
	Logger   *slog.Logger
	// NewProvider overrides provider construction. Nil uses providers.New.
	NewProvider func(hosting string, creds *config.Credentials) (providers.Provider, error)
}

// engine assembles an executor per request and runs the turn. Each agent
// runs one turn at a time; concurrent requests for the same agent queue
// on its lock.
type engine struct {
	snapshot func() config.Config
	creds    *config.Credentials
	registry *registry.Registry
	tracker  *usage.Tracker
	ledger   *usage.Ledger
	prices   *usage.PriceTable
	sink     messageSink
	metrics  *observability.Metrics
	recorder *observability.EventRecorder
	tracer   *observability.Tracer
	log      *slog.Logger

	newProvider func(hosting string, creds *config.Credentials) (providers.Provider, error)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEngine(cfg engineConfig) *engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	newProvider := cfg.NewProvider
	if newProvider == nil {
		newProvider = providers.New
	}
	return &engine{
		snapshot:    cfg.Snapshot,
		creds:       cfg.Creds,
		registry:    cfg.Registry,
		tracker:     cfg.Tracker,
		ledger:      cfg.Ledger,
		prices:      cfg.Prices,
		sink:        cfg.Sink,
		metrics:     cfg.Metrics,
		recorder:    cfg.Recorder,
		tracer:      cfg.Tracer,
		log:         log.With("component", "engine"),
		newProvider: newProvider,
	}
}

// traceRun opens the root span for one turn. Without a tracer the span
// from the incoming context is returned, which is a no-op when none is
// present.
func (e *engine) traceRun(ctx context.Context, runID, agentID string) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.TraceRun(ctx, runID, agentID)
}

// lockAgent serializes turns per agent id and returns the unlock func.
func (e *engine) lockAgent(id string) func() {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// RunJob adapts Run to the job processor's runner signature.
func (e *engine) RunJob(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	return e.Run(ctx, ChatJob{
		JobID:   job.ID,
		AgentID: job.AgentID,
		Prompt:  job.Prompt,
		Hosting: job.Hosting,
		Model:   job.Model,
		Options: job.Options,
		Persist: job.Persist,
	})
}

// Run executes one turn: resolve the provider, hydrate agent state, run
// the executor loop, fan events out to subscribers, and account usage.
func (e *engine) Run(ctx context.Context, job ChatJob) (*models.JobResult, error) {
	cfg := e.snapshot()

	var agentMeta *models.Agent
	if job.AgentID != "" {
		meta, err := e.registry.Get(job.AgentID)
		if err != nil {
			return nil, err
		}
		agentMeta = meta
		unlock := e.lockAgent(job.AgentID)
		defer unlock()
	}

	hosting := firstNonEmpty(job.Hosting, agentValue(agentMeta, func(a *models.Agent) string { return a.Hosting }), cfg.Runtime.Hosting)
	model := firstNonEmpty(job.Model, agentValue(agentMeta, func(a *models.Agent) string { return a.Model }), cfg.Runtime.Model)

	provider, err := e.newProvider(hosting, e.creds)
	if err != nil {
		return nil, err
	}

	store := conversation.NewStore(cfg.Runtime.MaxLearningsHistory)

	var state *models.AgentState
	if agentMeta != nil {
		state, err = e.registry.LoadState(agentMeta.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent state: %w", err)
		}
	}

	var workDir, envFile string
	if agentMeta != nil {
		workDir = agentMeta.CurrentWorkingDirectory
		envFile = e.registry.EnvFilePath(agentMeta.ID)
	}
	session := sandbox.NewSession(sandbox.Config{
		Shell:     cfg.Sandbox.Shell,
		Timeout:   cfg.Sandbox.Timeout,
		MaxOutput: cfg.Sandbox.MaxOutput,
		WorkDir:   workDir,
		EnvFile:   envFile,
	})

	toolReg := tools.NewRegistry()
	builtin := tools.BuiltinConfig{
		SerpAPIKey:   e.creds.Get(config.CredSerpAPI),
		TavilyAPIKey: e.creds.Get(config.CredTavily),
		WSLPath:      tools.LookupWSL(),
		WorkDir:      session.WorkDir,
	}
	if renderer, ok := provider.(tools.ImageRenderer); ok {
		builtin.Images = renderer
	}
	if err := tools.RegisterBuiltins(toolReg, builtin); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	if e.tracer != nil {
		toolReg.SetTracer(e.tracer)
		// Wrap after the ImageRenderer assertion; the wrapper's method
		// set would hide the renderer.
		provider = tracedProvider{Provider: provider, tracer: e.tracer}
	}

	var securityPrompt string
	if agentMeta != nil {
		securityPrompt = agentMeta.SecurityPrompt
	}
	auditor, err := safety.NewAuditor(safety.Config{
		Provider:       provider,
		Model:          model,
		SecurityPrompt: securityPrompt,
	})
	if err != nil {
		return nil, err
	}

	runTracker := usage.NewTracker(usage.DefaultTrackerConfig())

	execCfg := agent.Config{
		Provider:       provider,
		Model:          model,
		Hosting:        hosting,
		Store:          store,
		Sandbox:        session,
		Tools:          toolReg,
		Auditor:        auditor,
		Tracker:        runTracker,
		Prices:         e.prices,
		Logger:         e.log,
		Options:        mergeOptions(job.Options, agentMeta),
		MaxSteps:       cfg.Runtime.MaxIterations,
		MaxCodeRetries: cfg.Runtime.MaxCodeRetries,
		MaxWindow:      cfg.Runtime.MaxConversationHistory,
		DetailWindow:   cfg.Runtime.DetailConversationLength,
	}

	persist := agentMeta != nil && (job.Persist || cfg.Runtime.AutoSaveConversation)
	if agentMeta != nil {
		execCfg.AgentID = agentMeta.ID
		execCfg.EnvFile = envFile
		if state != nil {
			execCfg.AgentInstructions = state.AgentSystemPrompt
		}
		if persist {
			agentID := agentMeta.ID
			// Executor snapshots do not carry schedules; reattach the
			// ones loaded at run start so a save cannot drop them.
			var schedules []models.Schedule
			if state != nil {
				schedules = state.Schedules
			}
			execCfg.Persist = func(ctx context.Context, snapshot models.AgentState) error {
				snapshot.Schedules = schedules
				return e.registry.SaveState(agentID, snapshot)
			}
		}
	}

	executor, err := agent.New(execCfg)
	if err != nil {
		return nil, err
	}
	if state != nil {
		executor.RestoreState(*state)
	}
	if len(job.Context) > 0 {
		store.SetHistory(job.Context)
	}

	if agentMeta != nil {
		if err := e.registry.RecordMessage(agentMeta.ID, job.Prompt); err != nil {
			e.log.Warn("failed to record message", "agent_id", agentMeta.ID, "error", err)
		}
	}

	runID := job.JobID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = observability.AddRunID(ctx, runID)
	if job.AgentID != "" {
		ctx = observability.AddAgentID(ctx, job.AgentID)
	}
	ctx, span := e.traceRun(ctx, runID, job.AgentID)
	defer span.End()

	start := time.Now()
	e.metrics.RunStarted()
	defer func() {
		e.metrics.RunFinished(hosting, model, time.Since(start))
	}()

	runAttrs := map[string]any{
		"hosting": hosting,
		"model":   model,
	}
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		runAttrs["trace_id"] = traceID
	}
	_ = e.recorder.RecordRunStart(ctx, runID, runAttrs)

	events, err := executor.Run(ctx, job.Prompt)
	if err != nil {
		_ = e.recorder.RecordRunEnd(ctx, time.Since(start), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var final *models.ExecutionResult
	var runErr error
	for ev := range events {
		if job.OnEvent != nil {
			job.OnEvent(ev)
		}
		e.publishEvent(job, ev)
		switch {
		case ev.Err != nil:
			runErr = ev.Err
		case ev.Result != nil:
			if ev.Result.IsComplete {
				_ = e.recorder.RecordPhase(ctx, string(ev.Result.ExecutionType), map[string]any{
					"status":     string(ev.Result.Status),
					"message_id": ev.Result.ID,
				})
			}
			if ev.Result.ExecutionType == models.ExecutionResponse || final == nil {
				final = ev.Result
			}
		}
	}

	stats := e.collectUsage(ctx, runTracker, job.AgentID)
	_ = e.recorder.RecordRunEnd(ctx, time.Since(start), runErr)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		var turnErr *agent.TurnError
		if errors.As(runErr, &turnErr) {
			e.metrics.RecordError("engine", string(turnErr.Kind))
		} else {
			e.metrics.RecordError("engine", "internal")
		}
		return nil, runErr
	}
	if final == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New("turn produced no result")
	}

	if agentMeta != nil {
		if wd := session.WorkDir(); wd != "" && wd != agentMeta.CurrentWorkingDirectory {
			if _, err := e.registry.Update(agentMeta.ID, models.AgentEditFields{CurrentWorkingDirectory: &wd}); err != nil {
				e.log.Warn("failed to update working directory", "agent_id", agentMeta.ID, "error", err)
			}
		}
	}

	return &models.JobResult{
		Response: final.Content,
		Context:  store.History(),
		Stats:    stats,
	}, nil
}

// publishEvent forwards one executor event to websocket subscribers.
func (e *engine) publishEvent(job ChatJob, ev agent.Event) {
	if e.sink == nil {
		return
	}
	update, ok := eventUpdate(job, ev)
	if !ok {
		return
	}
	e.sink.PublishMessage(update)
}

// eventUpdate converts one executor event into a transport update. ok is
// false for events that carry nothing to publish.
func eventUpdate(job ChatJob, ev agent.Event) (MessageUpdate, bool) {
	update := MessageUpdate{
		JobID:   job.JobID,
		AgentID: job.AgentID,
	}
	switch {
	case ev.Err != nil:
		update.ExecutionType = models.ExecutionSystem
		update.Content = ev.Err.Error()
		update.Status = models.StatusError
		update.IsComplete = true
	case ev.Result != nil:
		update.MessageID = ev.Result.ID
		update.ExecutionType = ev.Result.ExecutionType
		update.Content = resultContent(ev.Result)
		update.Status = ev.Result.Status
		update.IsComplete = ev.Result.IsComplete
	case ev.Delta != "":
		update.ExecutionType = ev.Type
		update.Delta = ev.Delta
	default:
		return MessageUpdate{}, false
	}
	return update, true
}

// collectUsage folds the per-run tracker into response stats, the shared
// tracker, and the durable ledger.
func (e *engine) collectUsage(ctx context.Context, runTracker *usage.Tracker, agentID string) *models.ChatStats {
	records := runTracker.Recent(0)
	if len(records) == 0 {
		return &models.ChatStats{}
	}

	stats := &models.ChatStats{}
	ledgerCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		stats.Add(int(rec.Usage.InputTokens), int(rec.Usage.OutputTokens), rec.Cost)
		e.metrics.AddTokens(rec.Provider, rec.Usage.InputTokens, rec.Usage.OutputTokens)
		if e.tracker != nil {
			e.tracker.Record(rec)
		}
		if e.ledger != nil {
			if rec.ID == "" {
				rec.ID = uuid.NewString()
			}
			if rec.AgentID == "" {
				rec.AgentID = agentID
			}
			if err := e.ledger.Insert(ledgerCtx, rec); err != nil {
				e.log.Warn("failed to persist usage record", "error", err)
			}
		}
	}
	return stats
}

// resultContent picks the text a subscriber should render for a result.
func resultContent(result *models.ExecutionResult) string {
	if result.Message != "" {
		return result.Message
	}
	if result.FormattedPrint != "" {
		return result.FormattedPrint
	}
	return result.Stdout
}

// mergeOptions overlays request options on the agent's stored tuning.
func mergeOptions(req *models.ChatOptions, agentMeta *models.Agent) *models.ChatOptions {
	if agentMeta == nil {
		return req
	}
	merged := models.ChatOptions{
		Temperature:      agentMeta.Temperature,
		TopP:             agentMeta.TopP,
		TopK:             agentMeta.TopK,
		MaxTokens:        agentMeta.MaxTokens,
		Stop:             agentMeta.Stop,
		FrequencyPenalty: agentMeta.FrequencyPenalty,
		PresencePenalty:  agentMeta.PresencePenalty,
		Seed:             agentMeta.Seed,
	}
	if req != nil {
		if req.Temperature != nil {
			merged.Temperature = req.Temperature
		}
		if req.TopP != nil {
			merged.TopP = req.TopP
		}
		if req.TopK != nil {
			merged.TopK = req.TopK
		}
		if req.MaxTokens != nil {
			merged.MaxTokens = req.MaxTokens
		}
		if len(req.Stop) > 0 {
			merged.Stop = req.Stop
		}
		if req.FrequencyPenalty != nil {
			merged.FrequencyPenalty = req.FrequencyPenalty
		}
		if req.PresencePenalty != nil {
			merged.PresencePenalty = req.PresencePenalty
		}
		if req.Seed != nil {
			merged.Seed = req.Seed
		}
	}
	return &merged
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func agentValue(agentMeta *models.Agent, pick func(*models.Agent) string) string {
	if agentMeta == nil {
		return ""
	}
	return pick(agentMeta)
}

// tracedProvider spans every model call. Stream spans stay open until
// the chunk channel drains.
type tracedProvider struct {
	providers.Provider
	tracer *observability.Tracer
}

func (p tracedProvider) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	ctx, span := p.tracer.TraceLLMRequest(ctx, p.Provider.Name(), req.Model)
	defer span.End()
	resp, err := p.Provider.Complete(ctx, req)
	if err != nil {
		p.tracer.RecordError(span, err)
		return nil, err
	}
	p.tracer.SetAttributes(span,
		"llm.prompt_tokens", resp.Usage.PromptTokens,
		"llm.completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp, nil
}

func (p tracedProvider) Stream(ctx context.Context, req providers.Request) (<-chan providers.Chunk, error) {
	ctx, span := p.tracer.TraceLLMRequest(ctx, p.Provider.Name(), req.Model)
	chunks, err := p.Provider.Stream(ctx, req)
	if err != nil {
		p.tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	out := make(chan providers.Chunk)
	go func() {
		defer close(out)
		defer span.End()
		for chunk := range chunks {
			if chunk.Error != nil {
				p.tracer.RecordError(span, chunk.Error)
			}
			out <- chunk
		}
	}()
	return out, nil
}
