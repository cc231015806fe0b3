// Package agent implements the executor loop that turns user messages
// into model calls and dispatched actions: classify the request, plan
// when warranted, then alternate action and reflection turns until the
// model marks the task done and a final response is produced.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/internal/conversation"
	"github.com/operantlabs/operant/internal/retry"
	"github.com/operantlabs/operant/internal/sandbox"
	"github.com/operantlabs/operant/internal/safety"
	"github.com/operantlabs/operant/internal/tools"
	"github.com/operantlabs/operant/internal/usage"
	"github.com/operantlabs/operant/pkg/models"
)

// Phase names one stage of the executor loop, for error reporting.
type Phase string

const (
	PhaseClassification Phase = "classification"
	PhasePlan           Phase = "plan"
	PhaseAction         Phase = "action"
	PhaseExecution      Phase = "execution"
	PhaseReflection     Phase = "reflection"
	PhaseResponse       Phase = "response"
	PhaseSummarization  Phase = "summarization"
)

const (
	// DefaultMaxSteps caps action iterations per turn.
	DefaultMaxSteps = 25
	// DefaultMaxCodeRetries is how many corrected-code retries a failed
	// CODE action gets.
	DefaultMaxCodeRetries = 1
	// DefaultMaxWindow is the conversation length that triggers trimming.
	DefaultMaxWindow = 100
	// DefaultDetailWindow is how many trailing records keep full detail;
	// older eligible records are rewritten to one-line summaries.
	DefaultDetailWindow = 15

	eventBuffer = 64
)

// PersistFunc receives the durable agent state after every loop step.
type PersistFunc func(ctx context.Context, state models.AgentState) error

// Config assembles an Executor.
type Config struct {
	Provider providers.Provider
	// Model is the model identifier sent with every call. Empty picks the
	// first entry of the provider's catalog.
	Model string
	// Hosting names the provider for usage attribution. Empty uses the
	// provider's own name.
	Hosting string
	Store   *conversation.Store
	Sandbox *sandbox.Session
	Tools   *tools.Registry
	// Auditor reviews mutating actions before dispatch. Nil disables
	// auditing.
	Auditor *safety.Auditor
	// Confirm resolves unsafe verdicts when an operator is present. Nil
	// switches unsafe verdicts to conversation-level confirmation.
	Confirm safety.ConfirmFunc
	Tracker *usage.Tracker
	Prices  *usage.PriceTable
	Logger  *slog.Logger
	Options *models.ChatOptions

	AgentID string
	// AgentInstructions and UserNotes feed the system prompt.
	AgentInstructions string
	UserNotes         string
	// EnvFile is the sandbox's persistent environment file, read when
	// rendering the heads-up display.
	EnvFile string

	MaxSteps int
	// MaxCodeRetries < 0 disables corrected-code retries; 0 takes the
	// default.
	MaxCodeRetries int
	MaxWindow      int
	// DetailWindow == -1 disables summarization; 0 takes the default.
	DetailWindow int

	// Persist, when set, is called with a state snapshot after every loop
	// step so the agent survives restarts mid-task.
	Persist PersistFunc
}

// Event is one update from a running turn. Streamable phases deliver
// incremental Deltas; every completed phase delivers a Result; a fatal
// failure delivers Err and ends the stream.
type Event struct {
	Delta  string
	Type   models.ExecutionType
	Result *models.ExecutionResult
	Err    error
}

// Executor drives one agent's conversation. A single turn runs at a time.
type Executor struct {
	provider providers.Provider
	model    string
	hosting  string
	store    *conversation.Store
	sandbox  *sandbox.Session
	tools    *tools.Registry
	auditor  *safety.Auditor
	confirm  safety.ConfirmFunc
	tracker  *usage.Tracker
	prices   *usage.PriceTable
	log      *slog.Logger
	options  *models.ChatOptions
	persist  PersistFunc

	agentID           string
	agentInstructions string
	userNotes         string
	envFile           string

	maxSteps       int
	maxCodeRetries int
	maxWindow      int
	detailWindow   int

	interrupted atomic.Bool

	mu             sync.Mutex
	running        bool
	ended          bool
	plan           string
	instructions   string
	classification models.Classification
	execHistory    []models.ExecutionResult
}

// New validates the configuration and builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Sandbox == nil {
		return nil, errors.New("a sandbox session is required")
	}
	if cfg.Model == "" {
		catalog := cfg.Provider.Models()
		if len(catalog) == 0 {
			return nil, errors.New("a model is required")
		}
		cfg.Model = catalog[0].ID
	}
	if cfg.Hosting == "" {
		cfg.Hosting = cfg.Provider.Name()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxCodeRetries == 0 {
		cfg.MaxCodeRetries = DefaultMaxCodeRetries
	} else if cfg.MaxCodeRetries < 0 {
		cfg.MaxCodeRetries = 0
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMaxWindow
	}
	if cfg.DetailWindow == 0 {
		cfg.DetailWindow = DefaultDetailWindow
	}

	return &Executor{
		provider:          cfg.Provider,
		model:             cfg.Model,
		hosting:           cfg.Hosting,
		store:             cfg.Store,
		sandbox:           cfg.Sandbox,
		tools:             cfg.Tools,
		auditor:           cfg.Auditor,
		confirm:           cfg.Confirm,
		tracker:           cfg.Tracker,
		prices:            cfg.Prices,
		log:               cfg.Logger,
		options:           cfg.Options,
		persist:           cfg.Persist,
		agentID:           cfg.AgentID,
		agentInstructions: cfg.AgentInstructions,
		userNotes:         cfg.UserNotes,
		envFile:           cfg.EnvFile,
		maxSteps:          cfg.MaxSteps,
		maxCodeRetries:    cfg.MaxCodeRetries,
		maxWindow:         cfg.MaxWindow,
		detailWindow:      cfg.DetailWindow,
	}, nil
}

// Run starts one turn for the given user message. Events stream on the
// returned channel until the turn completes; the channel is closed after
// the final Result or Err event.
func (e *Executor) Run(ctx context.Context, message string) (<-chan Event, error) {
	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return nil, ErrSessionEnded
	}
	if e.running {
		e.mu.Unlock()
		return nil, ErrTurnActive
	}
	e.running = true
	e.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		defer func() {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
		}()

		em := &emitter{ctx: ctx, ch: ch}
		if _, err := e.turn(ctx, message, em); err != nil {
			e.log.Error("turn failed", "agent_id", e.agentID, "error", err)
			em.send(Event{Err: err})
		}
	}()
	return ch, nil
}

// RunSync runs one turn to completion and returns its final result.
func (e *Executor) RunSync(ctx context.Context, message string) (*models.ExecutionResult, error) {
	events, err := e.Run(ctx, message)
	if err != nil {
		return nil, err
	}

	var last *models.ExecutionResult
	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Result != nil {
			last = ev.Result
		}
	}
	if last == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New("turn produced no result")
	}
	return last, nil
}

// Interrupt flags the running turn to stop at its next loop check.
func (e *Executor) Interrupt() {
	e.interrupted.Store(true)
}

// Running reports whether a turn is in flight.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Classification returns the triage of the most recent turn.
func (e *Executor) Classification() models.Classification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classification
}

// CurrentPlan returns the active plan text, empty when none is set.
func (e *Executor) CurrentPlan() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// ExecutionHistory returns a copy of the execution trace.
func (e *Executor) ExecutionHistory() []models.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ExecutionResult, len(e.execHistory))
	copy(out, e.execHistory)
	return out
}

// State snapshots the durable agent state.
func (e *Executor) State() models.AgentState {
	e.mu.Lock()
	hist := make([]models.ExecutionResult, len(e.execHistory))
	copy(hist, e.execHistory)
	plan := e.plan
	instructions := e.instructions
	e.mu.Unlock()

	return models.AgentState{
		Conversation:       e.store.History(),
		ExecutionHistory:   hist,
		Learnings:          e.store.Learnings(),
		CurrentPlan:        plan,
		InstructionDetails: instructions,
		AgentSystemPrompt:  e.agentInstructions,
	}
}

// RestoreState loads a previously persisted state into the executor and
// its conversation store.
func (e *Executor) RestoreState(state models.AgentState) {
	e.store.SetHistory(state.Conversation)
	e.store.SetLearnings(state.Learnings)

	e.mu.Lock()
	e.execHistory = append([]models.ExecutionResult(nil), state.ExecutionHistory...)
	e.plan = state.CurrentPlan
	e.instructions = state.InstructionDetails
	e.mu.Unlock()
}

// turn runs the full phase machine for one user message.
func (e *Executor) turn(ctx context.Context, message string, em *emitter) (*models.ExecutionResult, error) {
	e.ensureSystemPrompt()

	userRec := models.NewRecord(models.RoleUser, message)
	userRec.ShouldSummarize = true
	e.store.Append(userRec)

	cls, err := e.classify(ctx, message)
	if err != nil {
		return nil, err
	}
	e.setClassification(cls)
	if cls.SubjectChange {
		e.setPlan("")
	}

	if cls.PlanningRequired {
		if err := e.planPhase(ctx, em); err != nil {
			return nil, err
		}
	}

	for step := 1; step <= e.maxSteps; step++ {
		if e.interrupted.CompareAndSwap(true, false) {
			rec := models.NewRecord(models.RoleUser, interruptNotice)
			rec.ShouldSummarize = true
			e.store.Append(rec)

			result := e.newResult(models.ActionNone, models.ExecutionSystem, models.StatusInterrupted)
			result.Message = interruptMessage
			e.record(result, em)
			e.persistState(ctx)
			return result, nil
		}

		e.refreshContext()

		action, err := e.actionCall(ctx, step, em)
		if err != nil {
			return nil, err
		}
		if action == nil {
			// Tool calls or envelope feedback consumed the step.
			e.sweep(ctx)
			e.persistState(ctx)
			continue
		}
		if action.Learnings != "" {
			e.store.AddLearning(action.Learnings)
		}

		result, signal, err := e.dispatch(ctx, step, action, em)
		if err != nil {
			return nil, err
		}

		switch signal {
		case signalStop:
			e.persistState(ctx)
			return result, nil

		case signalRespond:
			final, err := e.finalResponse(ctx, step, action, em)
			if err != nil {
				return nil, err
			}
			e.sweep(ctx)
			e.persistState(ctx)
			return final, nil
		}

		if e.shouldReflect() {
			if err := e.reflect(ctx, step, em); err != nil {
				return nil, err
			}
		}
		e.sweep(ctx)
		e.persistState(ctx)
	}

	return nil, turnError(KindInterrupted, PhaseAction, e.maxSteps, "turn exceeded the action step budget", ErrMaxSteps)
}

// ensureSystemPrompt seeds an empty conversation with the lead system
// prompt.
func (e *Executor) ensureSystemPrompt() {
	if e.store.Len() > 0 {
		return
	}
	prompt := models.NewSystemPrompt(buildSystemPrompt(systemPromptParams{
		SystemDetails:     systemDetails(),
		ToolsList:         e.toolsList(),
		UserNotes:         orPlaceholder(e.userNotes, "[No additional user notes]"),
		AgentInstructions: orPlaceholder(e.agentInstructions, "[No agent instructions]"),
	}))
	prompt.ShouldCache = true
	e.store.Append(prompt)
}

func (e *Executor) toolsList() string {
	if e.tools == nil {
		return "No tools are currently available."
	}
	return e.tools.Describe()
}

// classify triages the incoming message against the conversation history.
func (e *Executor) classify(ctx context.Context, message string) (models.Classification, error) {
	system := models.NewSystemPrompt(classificationSystemPrompt())
	system.ShouldCache = true

	history := e.store.History()
	records := make([]models.ConversationRecord, 0, len(history)+2)
	records = append(records, system)
	if len(history) > 1 {
		records = append(records, history[1:]...)
	}
	records = append(records, models.NewRecord(models.RoleUser, classificationUserPrompt(message)))

	resp, err := e.invoke(ctx, PhaseClassification, 0, records, false)
	if err != nil {
		return models.Classification{}, err
	}

	cls := ParseClassification(resp.Content)
	e.log.Debug("request classified",
		"type", cls.Type,
		"planning_required", cls.PlanningRequired,
		"effort", cls.RelativeEffort,
		"subject_change", cls.SubjectChange)
	return cls, nil
}

// planPhase streams a plan and pins it into the heads-up display.
func (e *Executor) planPhase(ctx context.Context, em *emitter) error {
	e.refreshContext()

	prompt := models.NewRecord(models.RoleUser, planUserPrompt)
	prompt.ShouldSummarize = true
	e.store.Append(prompt)

	raw, err := e.invokeStream(ctx, PhasePlan, 0, models.ExecutionPlan, em)
	if err != nil {
		return err
	}

	plan := StripThinkTags(raw)
	e.setPlan(plan)

	assistant := models.NewRecord(models.RoleAssistant, plan)
	assistant.ShouldSummarize = true
	e.store.Append(assistant)

	result := e.newResult(models.ActionNone, models.ExecutionPlan, models.StatusSuccess)
	result.Content = plan
	e.record(result, em)
	e.persistState(ctx)
	return nil
}

// actionCall requests the next action envelope. A nil response with nil
// error means the step was consumed by tool calls or by feedback for a
// malformed envelope; the loop proceeds to the next step either way.
func (e *Executor) actionCall(ctx context.Context, step int, em *emitter) (*models.ActionResponse, error) {
	resp, err := e.invoke(ctx, PhaseAction, step, e.store.History(), true)
	if err != nil {
		return nil, err
	}

	if len(resp.ToolCalls) > 0 {
		e.handleToolCalls(ctx, resp, em)
		return nil, nil
	}

	assistant := models.NewRecord(models.RoleAssistant, resp.Content)
	assistant.ShouldSummarize = true
	e.store.Append(assistant)

	action, perr := ParseActionResponse(resp.Content)
	if perr != nil {
		feedback := models.NewRecord(models.RoleUser, actionErrorFeedback(perr))
		feedback.ShouldSummarize = true
		e.store.Append(feedback)

		result := e.newResult(models.ActionNone, models.ExecutionAction, models.StatusError)
		result.Message = perr.Error()
		e.record(result, em)
		e.log.Warn("action envelope rejected", "step", step, "error", perr)
		return nil, nil
	}
	return action, nil
}

// finalResponse produces the user-facing answer after a DONE or ASK
// action. The envelope's response text is used directly when present;
// otherwise a streamed response call is made.
func (e *Executor) finalResponse(ctx context.Context, step int, action *models.ActionResponse, em *emitter) (*models.ExecutionResult, error) {
	content := strings.TrimSpace(action.Response)
	if content == "" {
		e.refreshContext()

		prompt := models.NewRecord(models.RoleUser, finalResponseInstructions)
		prompt.ShouldSummarize = true
		e.store.Append(prompt)

		raw, err := e.invokeStream(ctx, PhaseResponse, step, models.ExecutionResponse, em)
		if err != nil {
			return nil, err
		}
		content = cleanPlainText(raw)
	} else {
		em.delta(models.ExecutionResponse, content)
	}

	assistant := models.NewRecord(models.RoleAssistant, content)
	assistant.ShouldSummarize = true
	e.store.Append(assistant)

	result := e.newResult(action.Action, models.ExecutionResponse, models.StatusSuccess)
	result.Content = content
	result.Files = append([]string(nil), action.MentionedFiles...)
	e.record(result, em)
	return result, nil
}

// reflect streams a short self-assessment after an executed action.
func (e *Executor) reflect(ctx context.Context, step int, em *emitter) error {
	e.refreshContext()

	prompt := models.NewRecord(models.RoleUser, reflectionUserPrompt)
	prompt.ShouldSummarize = true
	e.store.Append(prompt)

	raw, err := e.invokeStream(ctx, PhaseReflection, step, models.ExecutionReflection, em)
	if err != nil {
		return err
	}

	reflection := cleanPlainText(raw)
	assistant := models.NewRecord(models.RoleAssistant, reflection)
	assistant.ShouldSummarize = true
	e.store.Append(assistant)

	result := e.newResult(models.ActionNone, models.ExecutionReflection, models.StatusSuccess)
	result.Content = reflection
	e.record(result, em)
	return nil
}

// shouldReflect skips reflection for turns where it adds a model call
// without adding signal.
func (e *Executor) shouldReflect() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.classification.RelativeEffort == models.EffortLow {
		return false
	}
	if e.classification.Type == models.RequestConversation {
		return false
	}
	return true
}

// refreshContext re-pins the heads-up display at the end of the history
// and refreshes the prompt-cache hints. Runs before every model call that
// sees the conversation.
func (e *Executor) refreshContext() {
	learnings := e.store.Learnings()
	notepad := "[No learnings recorded yet]"
	if len(learnings) > 0 {
		notepad = "- " + strings.Join(learnings, "\n- ")
	}

	e.store.AppendEphemeral(buildHUD(hudParams{
		EnvironmentDetails: environmentDetails(e.sandbox.WorkDir(), e.envFile),
		LearningDetails:    notepad,
		CurrentPlan:        orPlaceholder(e.CurrentPlan(), "[No plan has been set]"),
		InstructionDetails: orPlaceholder(e.currentInstructions(), "[No task instructions]"),
	}))
	e.store.MarkCacheHints()
}

// sweep ages the conversation: older records are summarized, then the
// window is trimmed. Sweep failures degrade the context instead of the
// turn.
func (e *Executor) sweep(ctx context.Context) {
	if err := e.store.Summarize(ctx, e.detailWindow, e.summarizeRecord); err != nil {
		e.log.Warn("conversation summarization failed", "error", err)
	}
	e.store.Trim(e.maxWindow)
}

// summarizeRecord condenses one conversation record with a model call. It
// is the Summarizer the store's sweep runs.
func (e *Executor) summarizeRecord(ctx context.Context, content string) (string, error) {
	system := models.NewSystemPrompt(summarizerSystemPrompt)
	system.ShouldCache = true

	records := []models.ConversationRecord{
		system,
		models.NewRecord(models.RoleUser, "Please summarize the following conversation step:\n"+content),
	}

	resp, err := e.invoke(ctx, PhaseSummarization, 0, records, false)
	if err != nil {
		return "", err
	}

	// The store prepends its own prefix; strip the one the prompt asks for.
	out := StripThinkTags(resp.Content)
	out = strings.TrimPrefix(out, strings.TrimSpace(conversation.SummaryPrefix))
	return strings.TrimSpace(out), nil
}

// invoke runs one non-streamed model call with the standard retry
// discipline and usage accounting.
func (e *Executor) invoke(ctx context.Context, phase Phase, step int, records []models.ConversationRecord, withTools bool) (*providers.Response, error) {
	req := providers.Request{
		Model:    e.model,
		Messages: normalizeRoles(records),
		Options:  e.options,
	}
	if withTools && e.tools != nil {
		req.Tools = toolSpecs(e.tools)
	}

	var resp *providers.Response
	res := retry.Do(ctx, retry.DefaultConfig(), func() error {
		r, err := e.provider.Complete(ctx, req)
		if err != nil {
			return providers.ForRetry(err)
		}
		resp = r
		return nil
	})
	if res.Err != nil {
		return nil, turnError(providerKind(res.Err), phase, step, "model call failed", res.Err)
	}

	e.recordUsage(resp.Usage)
	return resp, nil
}

// invokeStream runs one streamed model call over the current history,
// emitting deltas as they arrive. Retries apply until the first delta is
// emitted; a failure after partial output cannot be retried without
// duplicating what subscribers already saw.
func (e *Executor) invokeStream(ctx context.Context, phase Phase, step int, execType models.ExecutionType, em *emitter) (string, error) {
	req := providers.Request{
		Model:    e.model,
		Messages: normalizeRoles(e.store.History()),
		Options:  e.options,
	}

	var content string
	res := retry.Do(ctx, retry.DefaultConfig(), func() error {
		stream, err := e.provider.Stream(ctx, req)
		if err != nil {
			return providers.ForRetry(err)
		}

		var sb strings.Builder
		for chunk := range stream {
			if chunk.Error != nil {
				if sb.Len() > 0 {
					return retry.Permanent(chunk.Error)
				}
				return providers.ForRetry(chunk.Error)
			}
			if chunk.Content != "" {
				sb.WriteString(chunk.Content)
				em.delta(execType, chunk.Content)
			}
			if chunk.Usage != nil {
				e.recordUsage(*chunk.Usage)
			}
			if chunk.Done {
				break
			}
		}
		content = sb.String()
		return nil
	})
	if res.Err != nil {
		return "", turnError(providerKind(res.Err), phase, step, "model call failed", res.Err)
	}
	return content, nil
}

// recordUsage attributes one call's token spend to the agent.
func (e *Executor) recordUsage(u providers.Usage) {
	if e.tracker == nil {
		return
	}
	rec := usage.Record{
		ID:       uuid.NewString(),
		AgentID:  e.agentID,
		Provider: e.hosting,
		Model:    e.model,
		Usage: usage.Usage{
			InputTokens:      int64(u.PromptTokens),
			OutputTokens:     int64(u.CompletionTokens),
			CacheReadTokens:  int64(u.CacheReadTokens),
			CacheWriteTokens: int64(u.CacheWriteTokens),
		},
		Timestamp: time.Now().UTC(),
	}
	if e.prices != nil {
		rec.Cost = e.prices.Estimate(e.hosting, e.model, &rec.Usage)
	}
	e.tracker.Record(rec)
}

// persistState pushes a state snapshot through the persist callback.
func (e *Executor) persistState(ctx context.Context) {
	if e.persist == nil {
		return
	}
	if err := e.persist(ctx, e.State()); err != nil {
		e.log.Warn("failed to persist agent state", "agent_id", e.agentID, "error", err)
	}
}

// record appends a result to the execution trace and emits it.
func (e *Executor) record(result *models.ExecutionResult, em *emitter) {
	e.mu.Lock()
	e.execHistory = append(e.execHistory, *result)
	e.mu.Unlock()
	em.send(Event{Type: result.ExecutionType, Result: result})
}

// newResult builds a trace entry stamped with the current classification.
func (e *Executor) newResult(action models.Action, execType models.ExecutionType, status models.ExecutionStatus) *models.ExecutionResult {
	return &models.ExecutionResult{
		ID:                 uuid.NewString(),
		Action:             action,
		ExecutionType:      execType,
		Status:             status,
		TaskClassification: e.Classification().Type,
		Timestamp:          time.Now().UTC(),
		IsStreamable:       execType.Streamable(),
		IsComplete:         status.Complete(),
	}
}

func (e *Executor) setClassification(cls models.Classification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.classification = cls
	e.instructions = taskInstructions(cls)
}

func (e *Executor) setPlan(plan string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plan = plan
}

func (e *Executor) currentInstructions() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instructions
}

func (e *Executor) endSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = true
}

// emitter delivers events without outliving the turn's context.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func (em *emitter) send(ev Event) {
	select {
	case em.ch <- ev:
	case <-em.ctx.Done():
	}
}

func (em *emitter) delta(t models.ExecutionType, text string) {
	if text == "" {
		return
	}
	em.send(Event{Type: t, Delta: text})
}

// normalizeRoles rewrites mid-conversation system records (truncation
// markers) to the user role; providers accept system content only in the
// lead position.
func normalizeRoles(records []models.ConversationRecord) []models.ConversationRecord {
	for i := range records {
		if i > 0 && records[i].Role == models.RoleSystem && !records[i].IsSystemPrompt {
			records[i].Role = models.RoleUser
		}
	}
	return records
}

func toolSpecs(reg *tools.Registry) []providers.ToolSpec {
	list := reg.List()
	if len(list) == 0 {
		return nil
	}
	specs := make([]providers.ToolSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, providers.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return specs
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
