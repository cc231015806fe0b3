package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Context keys for run correlation.
const (
	// RunIDKey is the context key for run IDs. A run is one executed
	// turn; queued turns use the job ID as the run ID.
	RunIDKey ContextKey = "run_id"

	// ToolCallIDKey is the context key for tool call IDs.
	ToolCallIDKey ContextKey = "tool_call_id"

	// AgentIDKey is the context key for agent IDs.
	AgentIDKey ContextKey = "agent_id"

	// MessageIDKey is the context key for message IDs.
	MessageIDKey ContextKey = "message_id"
)

// AddRunID adds a run ID to the context.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// AddAgentID adds an agent ID to the context.
func AddAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// GetAgentID retrieves the agent ID from the context.
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(AgentIDKey).(string); ok {
		return id
	}
	return ""
}

// AddMessageID adds a message ID to the context.
func AddMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// GetMessageID retrieves the message ID from the context.
func GetMessageID(ctx context.Context) string {
	if id, ok := ctx.Value(MessageIDKey).(string); ok {
		return id
	}
	return ""
}

// EventType categorizes timeline events for filtering and display.
type EventType string

const (
	EventTypeRunStart  EventType = "run.start"
	EventTypeRunEnd    EventType = "run.end"
	EventTypeRunError  EventType = "run.error"
	EventTypePhase     EventType = "phase"
	EventTypeToolStart EventType = "tool.start"
	EventTypeToolEnd   EventType = "tool.end"
	EventTypeToolError EventType = "tool.error"
	EventTypeCustom    EventType = "custom"
)

// Event is one entry in a run's execution timeline.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"run_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
	Error      string         `json:"error,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// EventStore stores and retrieves timeline events.
type EventStore interface {
	// Record stores an event, assigning an ID and timestamp if unset.
	Record(event *Event) error

	// GetByRunID returns all events for a run, sorted by timestamp.
	GetByRunID(runID string) ([]*Event, error)

	// GetByAgentID returns all events for an agent, sorted by timestamp.
	GetByAgentID(agentID string) ([]*Event, error)

	// GetByType returns the most recent events of one type.
	GetByType(eventType EventType, limit int) ([]*Event, error)

	// Delete removes events older than the given age and reports how
	// many were removed.
	Delete(olderThan time.Duration) (int, error)
}

// MemoryEventStore is a bounded in-memory EventStore. When full it
// evicts the oldest tenth of its events.
type MemoryEventStore struct {
	mu      sync.RWMutex
	events  map[string]*Event
	byRunID map[string][]string
	byAgent map[string][]string
	maxSize int
}

// NewMemoryEventStore creates an in-memory event store holding at most
// maxSize events. Non-positive sizes default to 10000.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:  make(map[string]*Event),
		byRunID: make(map[string][]string),
		byAgent: make(map[string][]string),
		maxSize: maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event
	if event.RunID != "" {
		s.byRunID[event.RunID] = append(s.byRunID[event.RunID], event.ID)
	}
	if event.AgentID != "" {
		s.byAgent[event.AgentID] = append(s.byAgent[event.AgentID], event.ID)
	}
	return nil
}

func (s *MemoryEventStore) GetByRunID(runID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byRunID[runID]), nil
}

func (s *MemoryEventStore) GetByAgentID(agentID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byAgent[agentID]), nil
}

func (s *MemoryEventStore) GetByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryEventStore) Delete(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	s.byRunID = pruneIndex(s.byRunID, s.events)
	s.byAgent = pruneIndex(s.byAgent, s.events)
	return deleted, nil
}

// collect resolves event IDs in timestamp order. Callers hold the lock.
func (s *MemoryEventStore) collect(ids []string) []*Event {
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

func pruneIndex(index map[string][]string, events map[string]*Event) map[string][]string {
	pruned := make(map[string][]string, len(index))
	for key, ids := range index {
		var remaining []string
		for _, id := range ids {
			if _, ok := events[id]; ok {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) > 0 {
			pruned[key] = remaining
		}
	}
	return pruned
}

func (s *MemoryEventStore) evictOldest() {
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	var events []*Event
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// EventRecorder writes correlated events to a store. A nil recorder
// discards everything, so callers can record unconditionally.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder creates an event recorder. The logger is optional.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger}
}

// Record records an event, pulling correlation IDs from the context.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]any) error {
	if r == nil || r.store == nil {
		return nil
	}
	event := r.build(ctx, eventType, name, data)
	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
		)
	}
	return r.store.Record(event)
}

// RecordError records an error event.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]any) error {
	if r == nil || r.store == nil {
		return nil
	}
	if data == nil {
		data = make(map[string]any)
	}
	data["error"] = err.Error()

	event := r.build(ctx, eventType, name, data)
	event.Error = err.Error()
	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded",
			"event_type", string(eventType),
			"event_name", name,
			"event_id", event.ID,
			"error", err,
		)
	}
	return r.store.Record(event)
}

func (r *EventRecorder) build(ctx context.Context, eventType EventType, name string, data map[string]any) *Event {
	return &Event{
		ID:         generateEventID(),
		Type:       eventType,
		Timestamp:  time.Now(),
		RunID:      GetRunID(ctx),
		AgentID:    GetAgentID(ctx),
		ToolCallID: GetToolCallID(ctx),
		MessageID:  GetMessageID(ctx),
		Name:       name,
		Data:       data,
		TraceID:    GetTraceID(ctx),
		SpanID:     GetSpanID(ctx),
	}
}

// RecordToolStart records a tool execution start event.
func (r *EventRecorder) RecordToolStart(ctx context.Context, toolName string, input any) error {
	data := map[string]any{"tool_name": toolName}
	if input != nil {
		if b, err := json.Marshal(input); err == nil {
			data["input"] = string(b)
		}
	}
	return r.Record(ctx, EventTypeToolStart, toolName, data)
}

// RecordToolEnd records a tool execution end event. A non-nil err
// turns the event into a tool error.
func (r *EventRecorder) RecordToolEnd(ctx context.Context, toolName string, duration time.Duration, err error) error {
	data := map[string]any{
		"tool_name":   toolName,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		return r.RecordError(ctx, EventTypeToolError, toolName, err, data)
	}
	return r.Record(ctx, EventTypeToolEnd, toolName, data)
}

// RecordRunStart records a run start event.
func (r *EventRecorder) RecordRunStart(ctx context.Context, runID string, data map[string]any) error {
	ctx = AddRunID(ctx, runID)
	return r.Record(ctx, EventTypeRunStart, "run_start", data)
}

// RecordRunEnd records a run end event, or a run error when err is set.
func (r *EventRecorder) RecordRunEnd(ctx context.Context, duration time.Duration, err error) error {
	data := map[string]any{"duration_ms": duration.Milliseconds()}
	if err != nil {
		return r.RecordError(ctx, EventTypeRunError, "run_error", err, data)
	}
	return r.Record(ctx, EventTypeRunEnd, "run_end", data)
}

// RecordPhase records one executor phase result.
func (r *EventRecorder) RecordPhase(ctx context.Context, phase string, data map[string]any) error {
	return r.Record(ctx, EventTypePhase, phase, data)
}

// Timeline is the ordered event sequence of one run.
type Timeline struct {
	RunID     string           `json:"run_id"`
	AgentID   string           `json:"agent_id,omitempty"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Events    []*Event         `json:"events"`
	Summary   *TimelineSummary `json:"summary"`
}

// TimelineSummary aggregates a timeline's events.
type TimelineSummary struct {
	TotalEvents   int           `json:"total_events"`
	ErrorCount    int           `json:"error_count"`
	ToolCalls     int           `json:"tool_calls"`
	Phases        int           `json:"phases"`
	TotalDuration time.Duration `json:"total_duration"`
}

// BuildTimeline orders events by timestamp and computes the summary.
func BuildTimeline(events []*Event) *Timeline {
	if len(events) == 0 {
		return &Timeline{Events: []*Event{}, Summary: &TimelineSummary{}}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	timeline := &Timeline{
		Events:    events,
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		Duration:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp),
		Summary:   &TimelineSummary{TotalEvents: len(events)},
	}

	for _, e := range events {
		if timeline.RunID == "" && e.RunID != "" {
			timeline.RunID = e.RunID
		}
		if timeline.AgentID == "" && e.AgentID != "" {
			timeline.AgentID = e.AgentID
		}
		if e.Error != "" {
			timeline.Summary.ErrorCount++
		}
		switch e.Type {
		case EventTypeToolStart:
			timeline.Summary.ToolCalls++
		case EventTypePhase:
			timeline.Summary.Phases++
		}
		timeline.Summary.TotalDuration += e.Duration
	}
	return timeline
}

var (
	eventIDMu      sync.Mutex
	eventIDCounter int64
)

func generateEventID() string {
	eventIDMu.Lock()
	defer eventIDMu.Unlock()
	eventIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter)
}
