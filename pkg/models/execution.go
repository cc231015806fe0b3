package models

import "time"

// Action is the operation requested by one model turn.
type Action string

const (
	ActionCode  Action = "CODE"
	ActionRead  Action = "READ"
	ActionWrite Action = "WRITE"
	ActionEdit  Action = "EDIT"
	ActionDone  Action = "DONE"
	ActionAsk   Action = "ASK"
	ActionBye   Action = "BYE"
	ActionNone  Action = ""
)

// Mutating reports whether the action touches the filesystem or runs code
// and therefore requires a safety audit before dispatch.
func (a Action) Mutating() bool {
	switch a {
	case ActionCode, ActionWrite, ActionEdit, ActionRead:
		return true
	}
	return false
}

// ExecutionType labels which executor phase produced a result.
type ExecutionType string

const (
	ExecutionAction        ExecutionType = "action"
	ExecutionSecurityCheck ExecutionType = "security_check"
	ExecutionPlan          ExecutionType = "plan"
	ExecutionReflection    ExecutionType = "reflection"
	ExecutionResponse      ExecutionType = "response"
	ExecutionSystem        ExecutionType = "system"
)

// Streamable reports whether results of this type carry incremental
// text deltas to transport subscribers.
func (t ExecutionType) Streamable() bool {
	switch t {
	case ExecutionPlan, ExecutionReflection, ExecutionResponse:
		return true
	}
	return false
}

// ExecutionStatus is the outcome of one executor phase.
type ExecutionStatus string

const (
	StatusNone                 ExecutionStatus = "none"
	StatusInProgress           ExecutionStatus = "in_progress"
	StatusSuccess              ExecutionStatus = "success"
	StatusError                ExecutionStatus = "error"
	StatusCancelled            ExecutionStatus = "cancelled"
	StatusConfirmationRequired ExecutionStatus = "confirmation_required"
	StatusInterrupted          ExecutionStatus = "interrupted"
)

// Complete reports whether the status marks a finished phase.
func (s ExecutionStatus) Complete() bool {
	return s != StatusInProgress && s != StatusNone
}

// Replacement is one find/replace pair applied by an EDIT action.
// Only the first occurrence of Find is replaced.
type Replacement struct {
	Find    string `json:"find" yaml:"find"`
	Replace string `json:"replace" yaml:"replace"`
}

// ActionResponse is the structured envelope every model turn must be
// coerced into before dispatch.
type ActionResponse struct {
	Action         Action        `json:"action"`
	Response       string        `json:"response"`
	Code           string        `json:"code"`
	Content        string        `json:"content"`
	FilePath       string        `json:"file_path"`
	Replacements   []Replacement `json:"replacements,omitempty"`
	MentionedFiles []string      `json:"mentioned_files,omitempty"`
	Learnings      string        `json:"learnings"`
}

// ExecutionResult is the trace of one executor phase.
type ExecutionResult struct {
	ID                 string          `json:"id" yaml:"id"`
	Action             Action          `json:"action" yaml:"action"`
	ExecutionType      ExecutionType   `json:"execution_type" yaml:"execution_type"`
	Status             ExecutionStatus `json:"status" yaml:"status"`
	Code               string          `json:"code,omitempty" yaml:"code,omitempty"`
	Content            string          `json:"content,omitempty" yaml:"content,omitempty"`
	FilePath           string          `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	Replacements       []Replacement   `json:"replacements,omitempty" yaml:"replacements,omitempty"`
	Stdout             string          `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr             string          `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Logging            string          `json:"logging,omitempty" yaml:"logging,omitempty"`
	FormattedPrint     string          `json:"formatted_print,omitempty" yaml:"formatted_print,omitempty"`
	Message            string          `json:"message,omitempty" yaml:"message,omitempty"`
	Files              []string        `json:"files,omitempty" yaml:"files,omitempty"`
	TaskClassification RequestType     `json:"task_classification,omitempty" yaml:"task_classification,omitempty"`
	Timestamp          time.Time       `json:"timestamp" yaml:"timestamp"`
	IsStreamable       bool            `json:"is_streamable" yaml:"is_streamable"`
	IsComplete         bool            `json:"is_complete" yaml:"is_complete"`
}
