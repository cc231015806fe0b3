// Package safety audits agent-generated actions with a reviewer model
// before the executor lets them run.
package safety

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/pkg/models"
)

// Verdict is the outcome of one audit.
type Verdict string

const (
	// VerdictSafe clears the action for execution.
	VerdictSafe Verdict = "safe"
	// VerdictUnsafe blocks the action pending operator confirmation.
	VerdictUnsafe Verdict = "unsafe"
	// VerdictOverride clears an otherwise unsafe action because the
	// user's security details explicitly allow it.
	VerdictOverride Verdict = "override"
)

// DefaultWindow is how many trailing conversation records ship with a
// conversation-mode audit.
const DefaultWindow = 8

var verdictCodes = regexp.MustCompile(`(?i)\[(unsafe|safe|override)\]`)

// ParseVerdict extracts the verdict code from free-form reviewer output.
// Override outranks unsafe so a response that discusses both honors the
// user's explicit permission. Output without a recognized code is safe.
func ParseVerdict(content string) Verdict {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "[override]"):
		return VerdictOverride
	case strings.Contains(lower, "[unsafe]"):
		return VerdictUnsafe
	default:
		return VerdictSafe
	}
}

// Decision is one audit outcome.
type Decision struct {
	Verdict Verdict
	// Analysis is the reviewer's reasoning with verdict codes stripped.
	Analysis string
	// Raw is the unmodified reviewer output.
	Raw string
	// Usage is the token spend of the audit call.
	Usage providers.Usage
}

// Blocks reports whether the decision stops execution.
func (d Decision) Blocks() bool {
	return d.Verdict == VerdictUnsafe
}

// Config configures an Auditor.
type Config struct {
	Provider providers.Provider
	Model    string
	// SecurityPrompt carries the agent's custom security details into the
	// reviewer's <security_details> block. Empty leaves only the default
	// audit instructions in force.
	SecurityPrompt string
	// Window caps how many trailing conversation records ship with a
	// conversation-mode audit. Zero uses DefaultWindow.
	Window int
}

// Auditor runs reviewer model calls over agent actions.
type Auditor struct {
	provider       providers.Provider
	model          string
	securityPrompt string
	window         int
}

// NewAuditor returns an Auditor backed by the given provider.
func NewAuditor(cfg Config) (*Auditor, error) {
	if cfg.Provider == nil {
		return nil, errors.New("safety: provider is required")
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Auditor{
		provider:       cfg.Provider,
		model:          cfg.Model,
		securityPrompt: cfg.SecurityPrompt,
		window:         window,
	}, nil
}

// CheckResponse runs a dedicated audit of one serialized action envelope.
// Used when an operator is present to confirm an unsafe verdict.
func (a *Auditor) CheckResponse(ctx context.Context, payload string) (Decision, error) {
	system := models.NewSystemPrompt(codeAuditPrompt(a.securityPrompt))
	system.ShouldCache = true

	history := []models.ConversationRecord{
		system,
		models.NewRecord(models.RoleUser, codeAuditRequest(payload)),
	}
	return a.invoke(ctx, history)
}

// CheckConversation audits the envelope against recent conversation turns.
// Used headless, where the only confirmation channel is the conversation
// itself: a prior operator acknowledgement in the window can turn an
// unsafe verdict into an override.
func (a *Auditor) CheckConversation(ctx context.Context, history []models.ConversationRecord, payload string) (Decision, error) {
	system := models.NewSystemPrompt(conversationAuditPrompt(a.securityPrompt))
	system.ShouldCache = true

	records := make([]models.ConversationRecord, 0, a.window+3)
	records = append(records, system)

	if len(history)+1 > a.window {
		records = append(records, models.NewRecord(models.RoleUser, truncationNotice))
		records = append(records, models.CloneConversation(history[len(history)-a.window:])...)
	} else if len(history) > 1 {
		// Skip the agent's own system prompt; the reviewer has its own.
		records = append(records, models.CloneConversation(history[1:])...)
	}

	records = append(records, models.NewRecord(models.RoleUser, conversationAuditRequest(payload)))
	return a.invoke(ctx, records)
}

func (a *Auditor) invoke(ctx context.Context, records []models.ConversationRecord) (Decision, error) {
	resp, err := a.provider.Complete(ctx, providers.Request{
		Model:    a.model,
		Messages: records,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("safety: audit call failed: %w", err)
	}
	return Decision{
		Verdict:  ParseVerdict(resp.Content),
		Analysis: stripVerdictCodes(resp.Content),
		Raw:      resp.Content,
		Usage:    resp.Usage,
	}, nil
}

// stripVerdictCodes removes bracketed verdict codes so the remaining
// analysis reads as plain prose.
func stripVerdictCodes(content string) string {
	return strings.TrimSpace(verdictCodes.ReplaceAllString(content, ""))
}

// DeclinedGuidance is fed back to the agent when the operator refuses an
// unsafe action. It steers the next turn toward a clean stop.
const DeclinedGuidance = "I've identified that this is a dangerous operation. " +
	"Let's stop the current task, I will provide further instructions shortly. " +
	"Please await further instructions and use action DONE."

// DenialFeedback is fed back to the agent when a conversation-mode audit
// blocks an action, so the agent can relay the risk to the user in its
// own voice.
func DenialFeedback(analysis string) string {
	return "Your action was denied by the AI security auditor because it was deemed unsafe. " +
		"Here is an analysis of the code risk by the security auditor AI agent:\n\n" +
		analysis + "\n\n" +
		"Please re-summarize the security risk in natural language and not JSON format. " +
		"Don't acknowledge this message directly but instead pretend that you are responding " +
		"as the AI security auditor directly to the user's request."
}
