package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	ctx = AddRunID(ctx, "run-123")
	ctx = AddToolCallID(ctx, "tool-456")
	ctx = AddAgentID(ctx, "agent-abc")
	ctx = AddMessageID(ctx, "msg-def")

	if got := GetRunID(ctx); got != "run-123" {
		t.Errorf("GetRunID = %q, want run-123", got)
	}
	if got := GetToolCallID(ctx); got != "tool-456" {
		t.Errorf("GetToolCallID = %q, want tool-456", got)
	}
	if got := GetAgentID(ctx); got != "agent-abc" {
		t.Errorf("GetAgentID = %q, want agent-abc", got)
	}
	if got := GetMessageID(ctx); got != "msg-def" {
		t.Errorf("GetMessageID = %q, want msg-def", got)
	}
	if got := GetRunID(context.Background()); got != "" {
		t.Errorf("GetRunID on empty context = %q, want empty", got)
	}
}

func TestMemoryEventStoreRecordAndQuery(t *testing.T) {
	store := NewMemoryEventStore(100)

	event := &Event{Type: EventTypeRunStart, RunID: "run-1", AgentID: "agent-1", Name: "run_start"}
	if err := store.Record(event); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if event.ID == "" {
		t.Error("expected ID to be generated")
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	for i := 0; i < 4; i++ {
		if err := store.Record(&Event{Type: EventTypeToolStart, RunID: "run-1", Name: "tool"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byRun, err := store.GetByRunID("run-1")
	if err != nil {
		t.Fatalf("GetByRunID: %v", err)
	}
	if len(byRun) != 5 {
		t.Errorf("GetByRunID returned %d events, want 5", len(byRun))
	}
	if byRun[0].Type != EventTypeRunStart {
		t.Errorf("first event type = %s, want run.start", byRun[0].Type)
	}

	byAgent, err := store.GetByAgentID("agent-1")
	if err != nil {
		t.Fatalf("GetByAgentID: %v", err)
	}
	if len(byAgent) != 1 {
		t.Errorf("GetByAgentID returned %d events, want 1", len(byAgent))
	}

	byType, err := store.GetByType(EventTypeToolStart, 2)
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("GetByType returned %d events, want 2", len(byType))
	}

	if err := store.Record(nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestMemoryEventStoreDelete(t *testing.T) {
	store := NewMemoryEventStore(100)

	old := &Event{Type: EventTypeRunEnd, RunID: "run-old", Timestamp: time.Now().Add(-2 * time.Hour)}
	if err := store.Record(old); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(&Event{Type: EventTypeRunStart, RunID: "run-new"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	deleted, err := store.Delete(time.Hour)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d events, want 1", deleted)
	}

	stale, _ := store.GetByRunID("run-old")
	if len(stale) != 0 {
		t.Errorf("expected old run's events to be gone, got %d", len(stale))
	}
	fresh, _ := store.GetByRunID("run-new")
	if len(fresh) != 1 {
		t.Errorf("expected new run's event to survive, got %d", len(fresh))
	}
}

func TestMemoryEventStoreEviction(t *testing.T) {
	store := NewMemoryEventStore(10)
	for i := 0; i < 15; i++ {
		if err := store.Record(&Event{Type: EventTypeCustom, Name: "overflow"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if len(store.events) > 10 {
		t.Errorf("store holds %d events, want at most 10", len(store.events))
	}
}

func TestEventRecorder(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	ctx := AddRunID(context.Background(), "run-recorder")
	ctx = AddAgentID(ctx, "agent-recorder")

	if err := recorder.Record(ctx, EventTypeCustom, "custom_event", map[string]any{"key": "value"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	events, _ := store.GetByRunID("run-recorder")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].AgentID != "agent-recorder" {
		t.Errorf("agent ID = %q, want agent-recorder", events[0].AgentID)
	}

	testErr := errors.New("something went wrong")
	if err := recorder.RecordError(ctx, EventTypeRunError, "error_event", testErr, nil); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	events, _ = store.GetByRunID("run-recorder")
	if got := events[len(events)-1].Error; got != "something went wrong" {
		t.Errorf("error = %q, want %q", got, "something went wrong")
	}
}

func TestEventRecorderToolEvents(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)
	ctx := AddRunID(context.Background(), "run-tool")

	if err := recorder.RecordToolStart(ctx, "web_search", map[string]string{"query": "test"}); err != nil {
		t.Fatalf("RecordToolStart: %v", err)
	}
	if err := recorder.RecordToolEnd(ctx, "web_search", 100*time.Millisecond, nil); err != nil {
		t.Fatalf("RecordToolEnd: %v", err)
	}
	if err := recorder.RecordToolEnd(ctx, "web_search", 50*time.Millisecond, errors.New("tool failed")); err != nil {
		t.Fatalf("RecordToolEnd with error: %v", err)
	}

	events, _ := store.GetByRunID("run-tool")
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventTypeToolStart {
		t.Errorf("first type = %s, want tool.start", events[0].Type)
	}
	if events[1].Type != EventTypeToolEnd {
		t.Errorf("second type = %s, want tool.end", events[1].Type)
	}
	if events[2].Type != EventTypeToolError {
		t.Errorf("third type = %s, want tool.error", events[2].Type)
	}
	if events[2].Error != "tool failed" {
		t.Errorf("error = %q, want %q", events[2].Error, "tool failed")
	}
}

func TestEventRecorderRunLifecycle(t *testing.T) {
	store := NewMemoryEventStore(100)
	recorder := NewEventRecorder(store, nil)

	if err := recorder.RecordRunStart(context.Background(), "run-lifecycle", map[string]any{"prompt_len": 12}); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	ctx := AddRunID(context.Background(), "run-lifecycle")
	if err := recorder.RecordPhase(ctx, "response", nil); err != nil {
		t.Fatalf("RecordPhase: %v", err)
	}
	if err := recorder.RecordRunEnd(ctx, 500*time.Millisecond, nil); err != nil {
		t.Fatalf("RecordRunEnd: %v", err)
	}

	events, _ := store.GetByRunID("run-lifecycle")
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[1].Type != EventTypePhase || events[1].Name != "response" {
		t.Errorf("middle event = %s/%s, want phase/response", events[1].Type, events[1].Name)
	}
}

func TestNilEventRecorder(t *testing.T) {
	var recorder *EventRecorder
	ctx := context.Background()

	if err := recorder.Record(ctx, EventTypeCustom, "noop", nil); err != nil {
		t.Errorf("nil recorder Record: %v", err)
	}
	if err := recorder.RecordRunStart(ctx, "run-x", nil); err != nil {
		t.Errorf("nil recorder RecordRunStart: %v", err)
	}
	if err := recorder.RecordRunEnd(ctx, time.Second, errors.New("boom")); err != nil {
		t.Errorf("nil recorder RecordRunEnd: %v", err)
	}
}

func TestBuildTimeline(t *testing.T) {
	base := time.Now()
	events := []*Event{
		{ID: "3", Type: EventTypeToolEnd, Timestamp: base.Add(-60 * time.Millisecond), RunID: "run-tl", Duration: 20 * time.Millisecond},
		{ID: "1", Type: EventTypeRunStart, Timestamp: base.Add(-100 * time.Millisecond), RunID: "run-tl", AgentID: "agent-tl"},
		{ID: "2", Type: EventTypeToolStart, Timestamp: base.Add(-80 * time.Millisecond), RunID: "run-tl"},
		{ID: "4", Type: EventTypePhase, Timestamp: base.Add(-40 * time.Millisecond), RunID: "run-tl", Name: "reflection"},
		{ID: "5", Type: EventTypeRunError, Timestamp: base, RunID: "run-tl", Error: "rate limited"},
	}

	timeline := BuildTimeline(events)
	if timeline.RunID != "run-tl" {
		t.Errorf("run ID = %q, want run-tl", timeline.RunID)
	}
	if timeline.AgentID != "agent-tl" {
		t.Errorf("agent ID = %q, want agent-tl", timeline.AgentID)
	}
	if timeline.Events[0].ID != "1" {
		t.Errorf("first event = %s, want 1", timeline.Events[0].ID)
	}
	if timeline.Summary.TotalEvents != 5 {
		t.Errorf("total events = %d, want 5", timeline.Summary.TotalEvents)
	}
	if timeline.Summary.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", timeline.Summary.ErrorCount)
	}
	if timeline.Summary.ToolCalls != 1 {
		t.Errorf("tool calls = %d, want 1", timeline.Summary.ToolCalls)
	}
	if timeline.Summary.Phases != 1 {
		t.Errorf("phases = %d, want 1", timeline.Summary.Phases)
	}
}

func TestBuildTimelineEmpty(t *testing.T) {
	timeline := BuildTimeline(nil)
	if timeline.Summary == nil {
		t.Fatal("expected non-nil summary")
	}
	if timeline.Summary.TotalEvents != 0 {
		t.Errorf("total events = %d, want 0", timeline.Summary.TotalEvents)
	}
	if timeline.Events == nil {
		t.Error("expected non-nil events slice")
	}
}
