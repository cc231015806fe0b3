package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/operantlabs/operant/pkg/models"
)

// conversationSnapshot is the durable form of conversation.json. The plan
// and instruction details travel with the conversation they describe.
type conversationSnapshot struct {
	Version            string                      `json:"version"`
	CurrentPlan        string                      `json:"current_plan,omitempty"`
	InstructionDetails string                      `json:"instruction_details,omitempty"`
	Conversation       []models.ConversationRecord `json:"conversation"`
}

// LoadState assembles the agent's durable state from its directory. Missing
// state files read as empty; a fresh agent loads a zero state.
func (r *Registry) LoadState(id string) (*models.AgentState, error) {
	r.mu.RLock()
	_, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	dir := r.AgentDir(id)
	state := &models.AgentState{Version: r.version}

	var snapshot conversationSnapshot
	if err := readJSON(filepath.Join(dir, conversationFile), &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Version != "" {
		state.Version = snapshot.Version
	}
	state.Conversation = snapshot.Conversation
	state.CurrentPlan = snapshot.CurrentPlan
	state.InstructionDetails = snapshot.InstructionDetails

	if err := readJSON(filepath.Join(dir, historyFile), &state.ExecutionHistory); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, learningsFile), &state.Learnings); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, schedulesFile), &state.Schedules); err != nil {
		return nil, err
	}

	prompt, err := readOptionalFile(filepath.Join(dir, systemPromptFile))
	if err != nil {
		return nil, err
	}
	state.AgentSystemPrompt = prompt

	return state, nil
}

// SaveState writes the agent's durable state files. The system prompt is
// owned by SetSystemPrompt and left untouched here, so an older executor
// snapshot cannot clobber an operator edit.
func (r *Registry) SaveState(id string, state models.AgentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	dir := r.AgentDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create agent directory: %w", err)
	}

	snapshot := conversationSnapshot{
		Version:            state.Version,
		CurrentPlan:        state.CurrentPlan,
		InstructionDetails: state.InstructionDetails,
		Conversation:       state.Conversation,
	}
	if snapshot.Version == "" {
		snapshot.Version = r.version
	}
	if snapshot.Conversation == nil {
		snapshot.Conversation = []models.ConversationRecord{}
	}
	if err := writeJSON(filepath.Join(dir, conversationFile), snapshot); err != nil {
		return err
	}

	history := state.ExecutionHistory
	if history == nil {
		history = []models.ExecutionResult{}
	}
	if err := writeJSON(filepath.Join(dir, historyFile), history); err != nil {
		return err
	}

	learnings := state.Learnings
	if learnings == nil {
		learnings = []string{}
	}
	if err := writeJSON(filepath.Join(dir, learningsFile), learnings); err != nil {
		return err
	}

	schedules := state.Schedules
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	return writeJSON(filepath.Join(dir, schedulesFile), schedules)
}

// ClearConversation resets the agent to a blank state: conversation,
// execution history, learnings, plan, and the sandbox environment file.
func (r *Registry) ClearConversation(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	dir := r.AgentDir(id)
	snapshot := conversationSnapshot{
		Version:      r.version,
		Conversation: []models.ConversationRecord{},
	}
	if err := writeJSON(filepath.Join(dir, conversationFile), snapshot); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, historyFile), []models.ExecutionResult{}); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, learningsFile), []string{}); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, envFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset environment file: %w", err)
	}
	return nil
}

// SystemPrompt reads the agent's custom system prompt. Missing file means
// no custom prompt.
func (r *Registry) SystemPrompt(id string) (string, error) {
	r.mu.RLock()
	_, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return readOptionalFile(filepath.Join(r.AgentDir(id), systemPromptFile))
}

// SystemPromptModified returns when the agent's system prompt file last
// changed. A missing file reports the zero time.
func (r *Registry) SystemPromptModified(id string) (time.Time, error) {
	r.mu.RLock()
	_, ok := r.agents[id]
	r.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	info, err := os.Stat(filepath.Join(r.AgentDir(id), systemPromptFile))
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat system prompt: %w", err)
	}
	return info.ModTime(), nil
}

// SetSystemPrompt replaces the agent's custom system prompt. An empty
// prompt removes the file.
func (r *Registry) SetSystemPrompt(id, prompt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(r.AgentDir(id), systemPromptFile)
	if prompt == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove system prompt: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("failed to write system prompt: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readOptionalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return string(data), nil
}
