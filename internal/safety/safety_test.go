package safety

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/pkg/models"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Verdict
	}{
		{"empty", "", VerdictSafe},
		{"safe code", "No risks detected. [SAFE]", VerdictSafe},
		{"no code at all", "This looks reasonable to me.", VerdictSafe},
		{"bare word without brackets", "this is unsafe", VerdictSafe},
		{"unsafe", "[UNSAFE] deletes system files", VerdictUnsafe},
		{"unsafe lowercase", "risky network call [unsafe]", VerdictUnsafe},
		{"override", "Allowed by security details. [OVERRIDE]", VerdictOverride},
		{"override outranks unsafe", "This would be [UNSAFE] normally, but [OVERRIDE] applies.", VerdictOverride},
		{"mixed case", "[Override]", VerdictOverride},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseVerdict(tt.content); got != tt.want {
				t.Errorf("ParseVerdict(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestStripVerdictCodes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[UNSAFE] deletes /etc/ssl", "deletes /etc/ssl"},
		{"deletes /etc/ssl [unsafe]", "deletes /etc/ssl"},
		{"fine [SAFE]", "fine"},
		{"[OVERRIDE]\nuser allows force pushes", "user allows force pushes"},
		{"no codes here", "no codes here"},
	}
	for _, tt := range tests {
		if got := stripVerdictCodes(tt.in); got != tt.want {
			t.Errorf("stripVerdictCodes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewAuditorRequiresProvider(t *testing.T) {
	if _, err := NewAuditor(Config{}); err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestAuditor_CheckResponse(t *testing.T) {
	mock := providers.NewMock().EnqueueResponse(providers.MockResponse{
		Content: "The command deletes system files. [UNSAFE]",
		Usage:   providers.Usage{PromptTokens: 40, CompletionTokens: 9},
	})
	auditor, err := NewAuditor(Config{
		Provider:       mock,
		Model:          "mock-model",
		SecurityPrompt: "never touch /etc",
	})
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}

	decision, err := auditor.CheckResponse(context.Background(), `{"action":"CODE","code":"rm -rf /etc/ssl"}`)
	if err != nil {
		t.Fatalf("CheckResponse: %v", err)
	}
	if decision.Verdict != VerdictUnsafe {
		t.Errorf("Verdict = %q, want %q", decision.Verdict, VerdictUnsafe)
	}
	if !decision.Blocks() {
		t.Error("expected decision to block execution")
	}
	if decision.Analysis != "The command deletes system files." {
		t.Errorf("Analysis = %q", decision.Analysis)
	}
	if decision.Usage.PromptTokens != 40 || decision.Usage.CompletionTokens != 9 {
		t.Errorf("Usage = %+v", decision.Usage)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	msgs := reqs[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	system := msgs[0]
	if system.Role != models.RoleSystem || !system.IsSystemPrompt || !system.ShouldCache {
		t.Errorf("system record flags = %+v", system)
	}
	if !strings.Contains(system.Content, "never touch /etc") {
		t.Error("system prompt missing security details")
	}
	if !strings.Contains(system.Content, "[UNSAFE] | [SAFE] | [OVERRIDE]") {
		t.Error("system prompt missing verdict codes")
	}
	if !strings.Contains(msgs[1].Content, "<agent_generated_json_response>") {
		t.Errorf("request wrapper = %q", msgs[1].Content)
	}
	if !strings.Contains(msgs[1].Content, `rm -rf /etc/ssl`) {
		t.Error("request wrapper missing payload")
	}
}

func TestAuditor_CheckConversation(t *testing.T) {
	mock := providers.NewMock().Enqueue("User already approved this in the last turn. [OVERRIDE]")
	auditor, err := NewAuditor(Config{Provider: mock, Model: "mock-model"})
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}

	history := []models.ConversationRecord{
		models.NewSystemPrompt("agent system prompt"),
		models.NewRecord(models.RoleUser, "delete my temp files"),
		models.NewRecord(models.RoleAssistant, "running rm on the temp dir"),
	}

	decision, err := auditor.CheckConversation(context.Background(), history, `{"action":"CODE"}`)
	if err != nil {
		t.Fatalf("CheckConversation: %v", err)
	}
	if decision.Verdict != VerdictOverride {
		t.Errorf("Verdict = %q, want %q", decision.Verdict, VerdictOverride)
	}

	msgs := mock.Requests()[0].Messages
	// Reviewer system prompt, two history turns (agent system prompt
	// dropped), audit request.
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if !strings.Contains(msgs[0].Content, "## How to Respond") {
		t.Error("expected conversation audit system prompt")
	}
	if msgs[1].Content != "delete my temp files" {
		t.Errorf("first history record = %q", msgs[1].Content)
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleUser || !strings.Contains(last.Content, "<agent_generated_response>") {
		t.Errorf("audit request = %+v", last)
	}
}

func TestAuditor_CheckConversationTruncatesWindow(t *testing.T) {
	mock := providers.NewMock().Enqueue("[SAFE]")
	auditor, err := NewAuditor(Config{Provider: mock, Model: "mock-model", Window: 4})
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}

	history := []models.ConversationRecord{models.NewSystemPrompt("agent system prompt")}
	for i := 0; i < 10; i++ {
		history = append(history, models.NewRecord(models.RoleUser, "turn"))
	}

	if _, err := auditor.CheckConversation(context.Background(), history, "{}"); err != nil {
		t.Fatalf("CheckConversation: %v", err)
	}

	msgs := mock.Requests()[0].Messages
	// System prompt, truncation notice, 4 trailing turns, audit request.
	if len(msgs) != 7 {
		t.Fatalf("messages = %d, want 7", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "Conversation truncated") {
		t.Errorf("expected truncation notice, got %q", msgs[1].Content)
	}
}

func TestAuditor_CheckResponseError(t *testing.T) {
	wantErr := errors.New("provider down")
	mock := providers.NewMock().EnqueueError(wantErr)
	auditor, err := NewAuditor(Config{Provider: mock, Model: "mock-model"})
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}

	if _, err := auditor.CheckResponse(context.Background(), "{}"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestTerminalConfirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes short", "y\n", true},
		{"yes long", "yes\n", true},
		{"uppercase", "Y\n", true},
		{"no", "n\n", false},
		{"empty line", "\n", false},
		{"eof", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			confirm := TerminalConfirm(strings.NewReader(tt.input), &out)
			if got := confirm("force push detected"); got != tt.want {
				t.Errorf("confirm = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "force push detected") {
				t.Error("analysis not shown to operator")
			}
			if !strings.Contains(out.String(), "Potentially dangerous operation") {
				t.Error("warning not shown to operator")
			}
		})
	}
}

func TestDenialFeedback(t *testing.T) {
	msg := DenialFeedback("deletes certificates")
	if !strings.Contains(msg, "deletes certificates") {
		t.Error("feedback missing analysis")
	}
	if !strings.Contains(msg, "denied by the AI security auditor") {
		t.Error("feedback missing denial preamble")
	}
}
