package models

import "time"

// JobStatus tracks the lifecycle of an asynchronous chat job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s != JobPending && s != JobProcessing
}

// JobResult carries the outcome of a finished job.
type JobResult struct {
	Response string               `json:"response"`
	Context  []ConversationRecord `json:"context,omitempty"`
	Stats    *ChatStats           `json:"stats,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Job is one queued chat execution.
type Job struct {
	ID          string       `json:"id"`
	AgentID     string       `json:"agent_id,omitempty"`
	Prompt      string       `json:"prompt"`
	Hosting     string       `json:"hosting"`
	Model       string       `json:"model"`
	Options     *ChatOptions `json:"options,omitempty"`
	Persist     bool         `json:"persist_conversation,omitempty"`
	Status      JobStatus    `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Result      *JobResult   `json:"result,omitempty"`
}

// IsComplete mirrors Terminal for transport payloads.
func (j *Job) IsComplete() bool {
	return j.Status.Terminal()
}
