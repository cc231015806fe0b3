package registry

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/operantlabs/operant/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(
		WithBasePath(t.TempDir()),
		WithVersion("1.2.3"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return reg
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func createAgent(t *testing.T, reg *Registry, name string) *models.Agent {
	t.Helper()
	agent, err := reg.Create(models.AgentEditFields{Name: strPtr(name)})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	return agent
}

func TestCreateAndGet(t *testing.T) {
	reg := newTestRegistry(t)

	agent, err := reg.Create(models.AgentEditFields{
		Name:        strPtr("Research Assistant"),
		Hosting:     strPtr("anthropic"),
		Model:       strPtr("claude-sonnet-4-20250514"),
		Temperature: floatPtr(0.4),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if agent.ID == "" {
		t.Error("Create() returned an empty id")
	}
	if agent.Created.IsZero() {
		t.Error("Create() did not stamp a creation time")
	}
	if agent.Version != "1.2.3" {
		t.Errorf("Create() version = %q, want 1.2.3", agent.Version)
	}

	if _, err := os.Stat(filepath.Join(reg.AgentDir(agent.ID), "agent.yml")); err != nil {
		t.Errorf("agent.yml not written: %v", err)
	}

	got, err := reg.Get(agent.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Research Assistant" || got.Hosting != "anthropic" {
		t.Errorf("Get() = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.4 {
		t.Errorf("Get() temperature = %v, want 0.4", got.Temperature)
	}

	// Mutating a returned copy must not touch the stored agent.
	*got.Temperature = 9.9
	got.Name = "mutated"
	again, err := reg.Get(agent.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.Name != "Research Assistant" || *again.Temperature != 0.4 {
		t.Errorf("stored agent mutated through a copy: %+v", again)
	}

	if _, err := reg.Get("no-such-agent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestCreateRequiresName(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.Create(models.AgentEditFields{}); err == nil {
		t.Error("Create() accepted a missing name")
	}
	if _, err := reg.Create(models.AgentEditFields{Name: strPtr("   ")}); err == nil {
		t.Error("Create() accepted a blank name")
	}
}

func TestUpdate(t *testing.T) {
	reg := newTestRegistry(t)
	agent := createAgent(t, reg, "Helper")

	updated, err := reg.Update(agent.ID, models.AgentEditFields{
		Model:       strPtr("gpt-4o"),
		Description: strPtr("general purpose helper"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Model != "gpt-4o" || updated.Description != "general purpose helper" {
		t.Errorf("Update() = %+v", updated)
	}
	if updated.Name != "Helper" {
		t.Errorf("Update() changed an untouched field: name = %q", updated.Name)
	}

	if _, err := reg.Update(agent.ID, models.AgentEditFields{Name: strPtr("  ")}); err == nil {
		t.Error("Update() accepted a blank name")
	}
	if _, err := reg.Update("missing", models.AgentEditFields{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	reg := newTestRegistry(t)
	agent := createAgent(t, reg, "Ephemeral")

	if err := reg.Delete(agent.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(reg.AgentDir(agent.ID)); !os.IsNotExist(err) {
		t.Errorf("agent directory still exists after Delete: %v", err)
	}
	if _, err := reg.Get(agent.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
	if err := reg.Delete(agent.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestListPaginationAndSort(t *testing.T) {
	reg := newTestRegistry(t)
	createAgent(t, reg, "bravo")
	createAgent(t, reg, "Alpha")
	charlie := createAgent(t, reg, "charlie")

	result := reg.List(ListOptions{Sort: models.SortByName, Ascending: true})
	if result.Total != 3 {
		t.Fatalf("List() total = %d, want 3", result.Total)
	}
	var names []string
	for _, a := range result.Agents {
		names = append(names, a.Name)
	}
	if strings.Join(names, ",") != "Alpha,bravo,charlie" {
		t.Errorf("List() name asc order = %v", names)
	}

	// Last activity ordering: a recorded message beats creation time.
	if err := reg.RecordMessage(charlie.ID, "done with the report"); err != nil {
		t.Fatalf("RecordMessage() error = %v", err)
	}
	result = reg.List(ListOptions{})
	if len(result.Agents) == 0 || result.Agents[0].Name != "charlie" {
		t.Errorf("List() default order did not lead with latest activity: %+v", result.Agents)
	}

	// Case-insensitive substring filter.
	result = reg.List(ListOptions{Name: "AL"})
	if result.Total != 1 || result.Agents[0].Name != "Alpha" {
		t.Errorf("List(name=AL) = %+v", result)
	}

	// Pagination.
	page1 := reg.List(ListOptions{Page: 1, PerPage: 2, Sort: models.SortByName, Ascending: true})
	page2 := reg.List(ListOptions{Page: 2, PerPage: 2, Sort: models.SortByName, Ascending: true})
	if len(page1.Agents) != 2 || len(page2.Agents) != 1 {
		t.Errorf("pagination sizes = %d, %d, want 2, 1", len(page1.Agents), len(page2.Agents))
	}
	if page2.Agents[0].Name != "charlie" {
		t.Errorf("page 2 = %+v", page2.Agents)
	}
	empty := reg.List(ListOptions{Page: 5, PerPage: 2})
	if len(empty.Agents) != 0 || empty.Total != 3 {
		t.Errorf("out-of-range page = %+v", empty)
	}
}

func TestReloadFromDisk(t *testing.T) {
	base := t.TempDir()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := New(WithBasePath(base), WithLogger(quiet))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first := createAgent(t, reg, "first")
	createAgent(t, reg, "second")

	// Directories the loader must tolerate: no metadata, corrupt metadata,
	// and metadata whose id disagrees with the directory name.
	if err := os.MkdirAll(filepath.Join(base, "empty-dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(base, "corrupt-dir")
	if err := os.MkdirAll(corrupt, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "agent.yml"), []byte("{invalid"), 0o644); err != nil {
		t.Fatal(err)
	}
	renamed := filepath.Join(base, "custom-dir")
	if err := os.MkdirAll(renamed, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(renamed, "agent.yml"), []byte("id: other-id\nname: renamed\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded, err := New(WithBasePath(base), WithLogger(quiet))
	if err != nil {
		t.Fatalf("New() reload error = %v", err)
	}

	if got := reloaded.List(ListOptions{}).Total; got != 3 {
		t.Errorf("reloaded total = %d, want 3", got)
	}
	if _, err := reloaded.Get(first.ID); err != nil {
		t.Errorf("Get() after reload error = %v", err)
	}
	// The directory name is authoritative for the id.
	if _, err := reloaded.Get("custom-dir"); err != nil {
		t.Errorf("Get(custom-dir) error = %v", err)
	}
	if _, err := reloaded.Get("other-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(other-id) error = %v, want ErrNotFound", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	agent := createAgent(t, reg, "stateful")

	fresh, err := reg.LoadState(agent.ID)
	if err != nil {
		t.Fatalf("LoadState() on fresh agent error = %v", err)
	}
	if len(fresh.Conversation) != 0 || len(fresh.ExecutionHistory) != 0 {
		t.Errorf("fresh state not empty: %+v", fresh)
	}
	if fresh.Version != "1.2.3" {
		t.Errorf("fresh state version = %q, want 1.2.3", fresh.Version)
	}

	state := models.AgentState{
		Version: "1.2.3",
		Conversation: []models.ConversationRecord{
			models.NewSystemPrompt("you are stateful"),
			models.NewRecord(models.RoleUser, "hello"),
			models.NewRecord(models.RoleAssistant, "hi there"),
		},
		ExecutionHistory: []models.ExecutionResult{
			{ID: "exec-1", Action: models.ActionCode, Status: models.StatusSuccess, Code: "echo hi"},
		},
		Learnings:          []string{"the user prefers short answers"},
		CurrentPlan:        "1. greet",
		InstructionDetails: "keep responses brief",
		Schedules: []models.Schedule{
			{ID: "sched-1", Expression: "0 9 * * *", Prompt: "daily summary", Enabled: true},
		},
	}
	if err := reg.SaveState(agent.ID, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	loaded, err := reg.LoadState(agent.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(loaded.Conversation) != 3 {
		t.Errorf("loaded conversation length = %d, want 3", len(loaded.Conversation))
	}
	if !loaded.Conversation[0].IsSystemPrompt {
		t.Error("lead record lost its system prompt flag")
	}
	if len(loaded.ExecutionHistory) != 1 || loaded.ExecutionHistory[0].Code != "echo hi" {
		t.Errorf("loaded history = %+v", loaded.ExecutionHistory)
	}
	if len(loaded.Learnings) != 1 || loaded.Learnings[0] != "the user prefers short answers" {
		t.Errorf("loaded learnings = %v", loaded.Learnings)
	}
	if loaded.CurrentPlan != "1. greet" || loaded.InstructionDetails != "keep responses brief" {
		t.Errorf("loaded plan/instructions = %q / %q", loaded.CurrentPlan, loaded.InstructionDetails)
	}
	if len(loaded.Schedules) != 1 || loaded.Schedules[0].Expression != "0 9 * * *" {
		t.Errorf("loaded schedules = %+v", loaded.Schedules)
	}

	if err := reg.SaveState("missing", state); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveState(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := reg.LoadState("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadState(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSystemPrompt(t *testing.T) {
	reg := newTestRegistry(t)
	agent := createAgent(t, reg, "prompted")

	prompt, err := reg.SystemPrompt(agent.ID)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	if prompt != "" {
		t.Errorf("SystemPrompt() on fresh agent = %q, want empty", prompt)
	}

	if err := reg.SetSystemPrompt(agent.ID, "Always answer in haiku."); err != nil {
		t.Fatalf("SetSystemPrompt() error = %v", err)
	}
	prompt, err = reg.SystemPrompt(agent.ID)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	if prompt != "Always answer in haiku." {
		t.Errorf("SystemPrompt() = %q", prompt)
	}

	state, err := reg.LoadState(agent.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if state.AgentSystemPrompt != "Always answer in haiku." {
		t.Errorf("LoadState() system prompt = %q", state.AgentSystemPrompt)
	}

	if err := reg.SetSystemPrompt(agent.ID, ""); err != nil {
		t.Fatalf("SetSystemPrompt(empty) error = %v", err)
	}
	prompt, err = reg.SystemPrompt(agent.ID)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	if prompt != "" {
		t.Errorf("SystemPrompt() after clear = %q, want empty", prompt)
	}
}

func TestClearConversation(t *testing.T) {
	reg := newTestRegistry(t)
	agent := createAgent(t, reg, "busy")

	state := models.AgentState{
		Conversation:     []models.ConversationRecord{models.NewRecord(models.RoleUser, "hello")},
		ExecutionHistory: []models.ExecutionResult{{ID: "exec-1", Status: models.StatusSuccess}},
		Learnings:        []string{"something"},
		CurrentPlan:      "a plan",
	}
	if err := reg.SaveState(agent.ID, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if err := reg.SetSystemPrompt(agent.ID, "keep this"); err != nil {
		t.Fatalf("SetSystemPrompt() error = %v", err)
	}
	if err := os.WriteFile(reg.EnvFilePath(agent.ID), []byte("export FOO=bar\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := reg.ClearConversation(agent.ID); err != nil {
		t.Fatalf("ClearConversation() error = %v", err)
	}

	loaded, err := reg.LoadState(agent.ID)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(loaded.Conversation) != 0 || len(loaded.ExecutionHistory) != 0 || len(loaded.Learnings) != 0 {
		t.Errorf("state not cleared: %+v", loaded)
	}
	if loaded.CurrentPlan != "" {
		t.Errorf("plan survived clear: %q", loaded.CurrentPlan)
	}
	if _, err := os.Stat(reg.EnvFilePath(agent.ID)); !os.IsNotExist(err) {
		t.Errorf("environment file survived clear: %v", err)
	}
	// The custom system prompt is configuration, not conversation.
	if loaded.AgentSystemPrompt != "keep this" {
		t.Errorf("system prompt lost on clear: %q", loaded.AgentSystemPrompt)
	}
}

func TestRecordMessageTruncates(t *testing.T) {
	reg := newTestRegistry(t)
	agent := createAgent(t, reg, "chatty")

	long := strings.Repeat("x", 400)
	if err := reg.RecordMessage(agent.ID, long); err != nil {
		t.Fatalf("RecordMessage() error = %v", err)
	}

	got, err := reg.Get(agent.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.LastMessage) != lastMessageMax+3 || !strings.HasSuffix(got.LastMessage, "...") {
		t.Errorf("last message length = %d, want %d with ellipsis", len(got.LastMessage), lastMessageMax+3)
	}
	if got.LastMessageDatetime.IsZero() {
		t.Error("RecordMessage() did not stamp the activity time")
	}
}
