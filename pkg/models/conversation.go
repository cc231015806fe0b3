package models

import "time"

// Role indicates the conversation record author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationRecord is one entry in an agent's turn log.
type ConversationRecord struct {
	Role            Role           `json:"role" yaml:"role"`
	Content         string         `json:"content" yaml:"content"`
	Timestamp       time.Time      `json:"timestamp" yaml:"timestamp"`
	ShouldSummarize bool           `json:"should_summarize" yaml:"should_summarize"`
	Summarized      bool           `json:"summarized" yaml:"summarized"`
	IsSystemPrompt  bool           `json:"is_system_prompt" yaml:"is_system_prompt"`
	ShouldCache     bool           `json:"should_cache" yaml:"should_cache"`
	Ephemeral       bool           `json:"ephemeral" yaml:"ephemeral"`
	Files           []string       `json:"files,omitempty" yaml:"files,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewRecord returns a record stamped with the current time.
func NewRecord(role Role, content string) ConversationRecord {
	return ConversationRecord{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewSystemPrompt returns the lead record that anchors a conversation.
// It is never summarized, trimmed, or purged.
func NewSystemPrompt(content string) ConversationRecord {
	rec := NewRecord(RoleSystem, content)
	rec.IsSystemPrompt = true
	return rec
}

// Clone returns a deep copy of the record.
func (r ConversationRecord) Clone() ConversationRecord {
	out := r
	if r.Files != nil {
		out.Files = append([]string(nil), r.Files...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CloneConversation deep-copies a record slice.
func CloneConversation(records []ConversationRecord) []ConversationRecord {
	if records == nil {
		return nil
	}
	out := make([]ConversationRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
