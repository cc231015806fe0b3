// Package providers implements model provider integrations for the agent
// executor. Every provider speaks the same streaming contract: Stream returns
// a channel of chunks, Complete drains that channel into a single response.
// Errors are wrapped into ProviderError so the executor can decide between
// retrying, backing off, or failing the request.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/operantlabs/operant/internal/config"
	"github.com/operantlabs/operant/pkg/models"
)

// Usage reports token consumption for a single model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// ToolSpec describes a callable tool exposed to providers that support
// native function calling.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Request carries one model invocation: the conversation window, generation
// options, and optional tool specs.
type Request struct {
	Model    string
	Messages []models.ConversationRecord
	Options  *models.ChatOptions
	Tools    []ToolSpec
}

// Response is a fully assembled completion.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Chunk is one streaming increment. Exactly one of Content, ToolCall, or
// Error is meaningful per chunk; the final chunk has Done set and carries
// the accumulated usage when the provider reports it.
type Chunk struct {
	Content  string
	ToolCall *ToolCall
	Usage    *Usage
	Done     bool
	Error    error
}

// Model describes one entry in a provider's catalog.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size,omitempty"`
}

// Provider is a single model hosting backend.
type Provider interface {
	// Name returns the stable lowercase hosting identifier.
	Name() string

	// Models returns the provider's model catalog.
	Models() []Model

	// Complete runs one call to completion and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream runs one call and delivers incremental chunks. The channel is
	// closed after the Done or Error chunk.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Collect drains a provider stream into a single response. It is the shared
// implementation behind every provider's Complete.
func Collect(ctx context.Context, p Provider, req Request) (*Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	resp := &Response{}
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	resp.Content = sb.String()
	return resp, nil
}

// Hosting identifiers accepted by New.
const (
	HostingAnthropic  = "anthropic"
	HostingOpenAI     = "openai"
	HostingOpenRouter = "openrouter"
	HostingOllama     = "ollama"
	HostingGoogle     = "google"
	HostingMock       = "mock"
)

// ErrUnsupportedHosting is returned by New for an unknown hosting name.
var ErrUnsupportedHosting = errors.New("unsupported hosting")

// ErrMissingCredential is returned by New when the hosting's API key is not
// configured.
var ErrMissingCredential = errors.New("missing credential")

// New builds the provider for a hosting name, resolving API keys from the
// credential store.
func New(hosting string, creds *config.Credentials) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(hosting)) {
	case HostingAnthropic:
		key := creds.Get(config.CredAnthropic)
		if key == "" {
			return nil, fmt.Errorf("hosting %s: %w: %s", hosting, ErrMissingCredential, config.CredAnthropic)
		}
		return NewAnthropic(key), nil

	case HostingOpenAI:
		key := creds.Get(config.CredOpenAI)
		if key == "" {
			return nil, fmt.Errorf("hosting %s: %w: %s", hosting, ErrMissingCredential, config.CredOpenAI)
		}
		return NewOpenAI(key), nil

	case HostingOpenRouter:
		key := creds.Get(config.CredOpenRouter)
		if key == "" {
			return nil, fmt.Errorf("hosting %s: %w: %s", hosting, ErrMissingCredential, config.CredOpenRouter)
		}
		return NewOpenRouter(key), nil

	case HostingOllama:
		// Local runtime, no key required.
		return NewOllama(creds.Get(config.CredOllamaHost)), nil

	case HostingGoogle, "gemini":
		key := creds.Get(config.CredGoogle)
		if key == "" {
			return nil, fmt.Errorf("hosting %s: %w: %s", hosting, ErrMissingCredential, config.CredGoogle)
		}
		return NewGoogle(key)

	case HostingMock, "test":
		return NewMock(), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHosting, hosting)
	}
}
