package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/operantlabs/operant/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// defaultMaxTokens bounds generation when the request carries no limit.
const defaultMaxTokens = 4096

// maxEmptyStreamEvents is the maximum number of consecutive empty events
// before treating the stream as malformed.
const maxEmptyStreamEvents = 300

// maxCacheBreakpoints is the most cache_control markers the Messages API
// accepts per request; a fifth gets the whole request rejected.
const maxCacheBreakpoints = 4

// AnthropicProvider talks to the Anthropic Messages API. System records are
// hoisted into system blocks, and records flagged ShouldCache get ephemeral
// cache_control markers so stable prefixes hit the prompt cache.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: defaultAnthropicModel,
	}
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return HostingAnthropic
}

// Models returns the Claude model catalog.
func (p *AnthropicProvider) Models() []Model {
	return cloneModels(anthropicCatalog)
}

var anthropicCatalog = []Model{
	{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
	{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
	{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000},
}

// Complete runs one call to completion.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return Collect(ctx, p, req)
}

// Stream sends the request and delivers chunks as the model generates them.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.pump(stream, chunks, string(params.Model))
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
	}

	// Cache markers are applied after assembly: together the system and
	// history hints can exceed the API's breakpoint limit, and the excess
	// must be dropped oldest-first in wire order (system blocks precede
	// history).
	type blockRef struct{ msg, block int }
	var cachedSystem []int
	var cachedBlocks []blockRef

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, rec := range req.Messages {
		if rec.Role == models.RoleSystem || rec.IsSystemPrompt {
			if rec.ShouldCache {
				cachedSystem = append(cachedSystem, len(system))
			}
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: rec.Content})
			continue
		}
		if rec.Content == "" {
			continue
		}

		block := anthropic.NewTextBlock(rec.Content)

		role := anthropic.MessageParamRoleUser
		if rec.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		// The API requires alternating roles; adjacent records from the same
		// side collapse into one message with multiple blocks.
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			if rec.ShouldCache {
				cachedBlocks = append(cachedBlocks, blockRef{n - 1, len(messages[n-1].Content)})
			}
			messages[n-1].Content = append(messages[n-1].Content, block)
			continue
		}
		if rec.ShouldCache {
			cachedBlocks = append(cachedBlocks, blockRef{len(messages), 0})
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{block},
		})
	}

	drop := len(cachedSystem) + len(cachedBlocks) - maxCacheBreakpoints
	for _, i := range cachedSystem {
		if drop > 0 {
			drop--
			continue
		}
		system[i].CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	for _, ref := range cachedBlocks {
		if drop > 0 {
			drop--
			continue
		}
		if text := messages[ref.msg].Content[ref.block].OfText; text != nil {
			text.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
	}

	params.System = system
	params.Messages = messages

	if opts := req.Options; opts != nil {
		if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
			params.MaxTokens = int64(*opts.MaxTokens)
		}
		if opts.Temperature != nil {
			params.Temperature = anthropic.Float(*opts.Temperature)
		}
		if opts.TopP != nil {
			params.TopP = anthropic.Float(*opts.TopP)
		}
		if opts.TopK != nil {
			params.TopK = anthropic.Int(int64(*opts.TopK))
		}
		if len(opts.Stop) > 0 {
			params.StopSequences = opts.Stop
		}
	}

	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *AnthropicProvider) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk, model string) {
	var currentTool *ToolCall
	var toolInput strings.Builder
	var usage Usage
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(start.Message.Usage.CacheReadInputTokens)
			usage.CacheWriteTokens = int(start.Message.Usage.CacheCreationInputTokens)
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentTool = &ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- Chunk{Content: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				currentTool.Input = json.RawMessage(toolInput.String())
				chunks <- Chunk{ToolCall: currentTool}
				currentTool = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- Chunk{Done: true, Usage: &usage}
			return

		case "error":
			chunks <- Chunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		// Malformed stream protection: bail out when the stream floods
		// events that carry nothing.
		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- Chunk{Error: p.wrapError(
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents),
					model,
				)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- Chunk{Error: p.wrapError(err, model)}
		return
	}
	chunks <- Chunk{Done: true, Usage: &usage}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: HostingAnthropic,
			Model:    model,
			Cause:    err,
			Reason:   ReasonUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				message = payload.Error.Message
				code = payload.Error.Type
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError(HostingAnthropic, model, err)
}

func convertAnthropicTools(specs []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}

		tool := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", spec.Name)
		}
		tool.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, tool)
	}
	return result, nil
}
