package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/operantlabs/operant/pkg/models"
)

const defaultOllamaHost = "http://localhost:11434"

// OpenAIProvider talks to any OpenAI-compatible chat completion API. It
// backs the openai, openrouter, and ollama hostings, differing only in base
// URL, credentials, and model catalog.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	catalog      []Model
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAI creates a provider for the OpenAI API.
func NewOpenAI(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		name:         HostingOpenAI,
		defaultModel: "gpt-4o",
		catalog:      openAICatalog,
	}
}

// NewOpenRouter creates a provider for the OpenRouter aggregation API.
func NewOpenRouter(apiKey string) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = "https://openrouter.ai/api/v1"
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         HostingOpenRouter,
		defaultModel: "openai/gpt-4o",
		catalog:      openRouterCatalog,
	}
}

// NewOllama creates a provider for a local Ollama runtime through its
// OpenAI-compatible endpoint. An empty host falls back to localhost.
func NewOllama(host string) *OpenAIProvider {
	base := strings.TrimRight(strings.TrimSpace(host), "/")
	if base == "" {
		base = defaultOllamaHost
	}
	// Ollama ignores the bearer token but go-openai requires one.
	clientConfig := openai.DefaultConfig("ollama")
	clientConfig.BaseURL = base + "/v1"
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         HostingOllama,
		defaultModel: "llama3.2",
		catalog:      ollamaCatalog,
	}
}

var (
	openAICatalog = []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385},
	}

	openRouterCatalog = []Model{
		{ID: "openai/gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		{ID: "anthropic/claude-sonnet-4", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", ContextSize: 1000000},
		{ID: "meta-llama/llama-3.1-70b-instruct", Name: "Llama 3.1 70B", ContextSize: 131072},
	}

	ollamaCatalog = []Model{
		{ID: "llama3.2", Name: "Llama 3.2"},
		{ID: "qwen2.5-coder", Name: "Qwen 2.5 Coder"},
	}
)

// Name returns the hosting identifier this instance was built for.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Models returns the hosting's model catalog.
func (p *OpenAIProvider) Models() []Model {
	return cloneModels(p.catalog)
}

// Complete runs one call to completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return Collect(ctx, p, req)
}

// Stream sends the request and delivers chunks as the model generates them.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	chatReq := p.buildRequest(req)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, chatReq.Model)
	}

	chunks := make(chan Chunk)
	go p.pump(ctx, stream, chunks, chatReq.Model)
	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, rec := range req.Messages {
		if rec.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch {
		case rec.Role == models.RoleSystem || rec.IsSystemPrompt:
			role = openai.ChatMessageRoleSystem
		case rec.Role == models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: rec.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	if opts := req.Options; opts != nil {
		if opts.Temperature != nil {
			chatReq.Temperature = float32(*opts.Temperature)
		}
		if opts.TopP != nil {
			chatReq.TopP = float32(*opts.TopP)
		}
		if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
			chatReq.MaxTokens = *opts.MaxTokens
		}
		if len(opts.Stop) > 0 {
			chatReq.Stop = opts.Stop
		}
		if opts.FrequencyPenalty != nil {
			chatReq.FrequencyPenalty = float32(*opts.FrequencyPenalty)
		}
		if opts.PresencePenalty != nil {
			chatReq.PresencePenalty = float32(*opts.PresencePenalty)
		}
		if opts.Seed != nil {
			chatReq.Seed = opts.Seed
		}
	}

	for _, spec := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}

	return chatReq
}

func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls arrive fragmented across deltas, keyed by index.
	pending := make(map[int]*ToolCall)
	pendingArgs := make(map[int]*strings.Builder)
	var order []int
	var usage Usage

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Error: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			chunks <- Chunk{Done: true, Usage: &usage}
			return
		}
		if err != nil {
			chunks <- Chunk{Error: p.wrapError(err, model)}
			return
		}

		if resp.Usage != nil {
			usage.PromptTokens = resp.Usage.PromptTokens
			usage.CompletionTokens = resp.Usage.CompletionTokens
			if details := resp.Usage.PromptTokensDetails; details != nil {
				usage.CacheReadTokens = details.CachedTokens
			}
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				chunks <- Chunk{Content: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				call, ok := pending[idx]
				if !ok {
					call = &ToolCall{}
					pending[idx] = call
					pendingArgs[idx] = &strings.Builder{}
					order = append(order, idx)
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					pendingArgs[idx].WriteString(tc.Function.Arguments)
				}
			}

			if choice.FinishReason == openai.FinishReasonToolCalls {
				for _, idx := range order {
					call := pending[idx]
					call.Input = json.RawMessage(pendingArgs[idx].String())
					chunks <- Chunk{ToolCall: call}
				}
				pending = make(map[int]*ToolCall)
				pendingArgs = make(map[int]*strings.Builder)
				order = nil
			}
		}
	}
}

// GenerateImage renders an image through the Images API and returns its URL.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt, size string) (string, error) {
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", p.wrapError(err, openai.CreateImageModelDallE3)
	}
	if len(resp.Data) == 0 {
		return "", NewProviderError(p.name, openai.CreateImageModelDallE3, errors.New("image response contained no data"))
	}
	return resp.Data[0].URL, nil
}

// AlterImage edits an existing image through the Images API and returns
// the result URL. The edits endpoint only accepts DALL-E 2.
func (p *OpenAIProvider) AlterImage(ctx context.Context, imagePath, prompt, size string) (string, error) {
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to open source image: %w", err)
	}
	defer f.Close()

	resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          f,
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE2,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", p.wrapError(err, openai.CreateImageModelDallE2)
	}
	if len(resp.Data) == 0 {
		return "", NewProviderError(p.name, openai.CreateImageModelDallE2, errors.New("image response contained no data"))
	}
	return resp.Data[0].URL, nil
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: p.name,
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode).WithMessage(apiErr.Message)
		if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return NewProviderError(p.name, model, err)
}
