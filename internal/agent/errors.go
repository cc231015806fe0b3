package agent

import (
	"errors"
	"fmt"

	"github.com/operantlabs/operant/internal/agent/providers"
)

// Kind categorizes executor failures so callers can map them to retry
// decisions, job transitions, and HTTP statuses.
type Kind string

const (
	// KindExecutorInit indicates the executor could not be constructed
	// (missing provider, bad configuration). Fatal at startup.
	KindExecutorInit Kind = "executor_init"

	// KindCodeExecution indicates a sandbox payload failed. Recorded with
	// annotated source and retried up to the correction cap.
	KindCodeExecution Kind = "code_execution"

	// KindValidation indicates the model's output could not be coerced to
	// the action envelope. The model is re-prompted to fix it.
	KindValidation Kind = "validation"

	// KindSafetyDenied indicates the auditor blocked an action. Surfaces
	// as cancelled or confirmation_required; never retried silently.
	KindSafetyDenied Kind = "safety_denied"

	// KindProviderTransient indicates a retryable model call failure
	// (rate limit, 5xx, timeout).
	KindProviderTransient Kind = "provider_transient"

	// KindProviderFatal indicates a model call failure that retrying
	// cannot fix (auth, invalid request).
	KindProviderFatal Kind = "provider_fatal"

	// KindFileIO indicates a READ/WRITE/EDIT failure (file too large,
	// find string missing). Fed back to the model as a user turn.
	KindFileIO Kind = "file_io"

	// KindInterrupted indicates the user interrupted the turn.
	KindInterrupted Kind = "interrupted"
)

// Sentinel conditions surfaced by the executor.
var (
	// ErrNoProvider is returned by New when no provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrNoStore is returned by New when no conversation store is configured.
	ErrNoStore = errors.New("no conversation store configured")

	// ErrMaxSteps is returned when a turn exhausts its action step budget.
	ErrMaxSteps = errors.New("maximum action steps reached")

	// ErrTurnActive is returned by Run while another turn is in flight.
	ErrTurnActive = errors.New("a turn is already running")

	// ErrSessionEnded is returned by Run after a BYE action closed the session.
	ErrSessionEnded = errors.New("session ended")
)

// TurnError is a structured executor failure. It records which phase and
// step failed so transports can report precisely and jobs can decide
// between failed and cancelled.
type TurnError struct {
	Kind    Kind
	Phase   Phase
	Step    int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error in phase %s (step %d): %s: %v", e.Kind, e.Phase, e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error in phase %s (step %d): %s", e.Kind, e.Phase, e.Step, e.Message)
}

// Unwrap returns the underlying cause.
func (e *TurnError) Unwrap() error {
	return e.Cause
}

// turnError builds a TurnError for the given phase and step.
func turnError(kind Kind, phase Phase, step int, message string, cause error) *TurnError {
	return &TurnError{Kind: kind, Phase: phase, Step: step, Message: message, Cause: cause}
}

// GetTurnError extracts a TurnError from an error chain.
func GetTurnError(err error) (*TurnError, bool) {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr, true
	}
	return nil, false
}

// KindOf reports the failure kind of an error chain. Provider errors that
// never passed through the executor are classified directly; everything
// else is provider_fatal.
func KindOf(err error) Kind {
	if turnErr, ok := GetTurnError(err); ok {
		return turnErr.Kind
	}
	return providerKind(err)
}

// providerKind splits a model call failure into transient vs fatal using
// the provider error taxonomy.
func providerKind(err error) Kind {
	if providers.IsRetryable(err) {
		return KindProviderTransient
	}
	return KindProviderFatal
}
