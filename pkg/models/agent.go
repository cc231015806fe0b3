package models

import "time"

// Agent is the durable metadata for one registered agent.
type Agent struct {
	ID                      string    `json:"id" yaml:"id"`
	Name                    string    `json:"name" yaml:"name"`
	Created                 time.Time `json:"created" yaml:"created"`
	Version                 string    `json:"version" yaml:"version"`
	Hosting                 string    `json:"hosting" yaml:"hosting"`
	Model                   string    `json:"model" yaml:"model"`
	Description             string    `json:"description,omitempty" yaml:"description,omitempty"`
	SecurityPrompt          string    `json:"security_prompt,omitempty" yaml:"security_prompt,omitempty"`
	LastMessage             string    `json:"last_message,omitempty" yaml:"last_message,omitempty"`
	LastMessageDatetime     time.Time `json:"last_message_datetime,omitempty" yaml:"last_message_datetime,omitempty"`
	Temperature             *float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP                    *float64  `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK                    *int      `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MaxTokens               *int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Stop                    []string  `json:"stop,omitempty" yaml:"stop,omitempty"`
	FrequencyPenalty        *float64  `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty"`
	PresencePenalty         *float64  `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty"`
	Seed                    *int      `json:"seed,omitempty" yaml:"seed,omitempty"`
	CurrentWorkingDirectory string    `json:"current_working_directory,omitempty" yaml:"current_working_directory,omitempty"`
}

// AgentEditFields are the mutable fields accepted by an agent update.
// Nil pointers leave the stored value untouched.
type AgentEditFields struct {
	Name                    *string   `json:"name,omitempty"`
	Hosting                 *string   `json:"hosting,omitempty"`
	Model                   *string   `json:"model,omitempty"`
	Description             *string   `json:"description,omitempty"`
	SecurityPrompt          *string   `json:"security_prompt,omitempty"`
	Temperature             *float64  `json:"temperature,omitempty"`
	TopP                    *float64  `json:"top_p,omitempty"`
	TopK                    *int      `json:"top_k,omitempty"`
	MaxTokens               *int      `json:"max_tokens,omitempty"`
	Stop                    *[]string `json:"stop,omitempty"`
	FrequencyPenalty        *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty         *float64  `json:"presence_penalty,omitempty"`
	Seed                    *int      `json:"seed,omitempty"`
	CurrentWorkingDirectory *string   `json:"current_working_directory,omitempty"`
}

// Schedule is a recurring prompt run against an agent on a cron expression.
type Schedule struct {
	ID         string `json:"id" yaml:"id"`
	Expression string `json:"expression" yaml:"expression"`
	Prompt     string `json:"prompt" yaml:"prompt"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`
}

// AgentState is the per-agent durable root mutated by the executor loop.
type AgentState struct {
	Version            string               `json:"version" yaml:"version"`
	Conversation       []ConversationRecord `json:"conversation" yaml:"conversation"`
	ExecutionHistory   []ExecutionResult    `json:"execution_history" yaml:"execution_history"`
	Learnings          []string             `json:"learnings" yaml:"learnings"`
	CurrentPlan        string               `json:"current_plan,omitempty" yaml:"current_plan,omitempty"`
	InstructionDetails string               `json:"instruction_details,omitempty" yaml:"instruction_details,omitempty"`
	AgentSystemPrompt  string               `json:"agent_system_prompt,omitempty" yaml:"agent_system_prompt,omitempty"`
	Schedules          []Schedule           `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// AgentSortField names the orderings the registry list operation accepts.
type AgentSortField string

const (
	SortByName        AgentSortField = "name"
	SortByCreated     AgentSortField = "created_date"
	SortByLastMessage AgentSortField = "last_message_datetime"
)
