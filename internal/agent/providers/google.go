package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/operantlabs/operant/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleProvider talks to the Gemini API through the Gen AI SDK.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

var _ Provider = (*GoogleProvider)(nil)

// NewGoogle creates a Gemini provider.
func NewGoogle(apiKey string) (*GoogleProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &GoogleProvider{
		client:       client,
		defaultModel: defaultGoogleModel,
	}, nil
}

// Name returns "google".
func (p *GoogleProvider) Name() string {
	return HostingGoogle
}

// Models returns the Gemini model catalog.
func (p *GoogleProvider) Models() []Model {
	return cloneModels(googleCatalog)
}

var googleCatalog = []Model{
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000},
	{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000},
	{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000},
}

// Complete runs one call to completion.
func (p *GoogleProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return Collect(ctx, p, req)
}

// Stream sends the request and delivers chunks as the model generates them.
func (p *GoogleProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents, config := p.buildRequest(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var usage Usage
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			select {
			case <-ctx.Done():
				chunks <- Chunk{Error: ctx.Err()}
				return
			default:
			}

			if err != nil {
				chunks <- Chunk{Error: p.wrapError(err, model)}
				return
			}
			if resp == nil {
				continue
			}

			if meta := resp.UsageMetadata; meta != nil {
				usage.PromptTokens = int(meta.PromptTokenCount)
				usage.CompletionTokens = int(meta.CandidatesTokenCount)
				usage.CacheReadTokens = int(meta.CachedContentTokenCount)
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunks <- Chunk{Content: part.Text}
					}
					if part.FunctionCall != nil {
						args, jsonErr := json.Marshal(part.FunctionCall.Args)
						if jsonErr != nil {
							args = []byte("{}")
						}
						chunks <- Chunk{ToolCall: &ToolCall{
							ID:    fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, time.Now().UnixNano()),
							Name:  part.FunctionCall.Name,
							Input: args,
						}}
					}
				}
			}
		}

		chunks <- Chunk{Done: true, Usage: &usage}
	}()

	return chunks, nil
}

func (p *GoogleProvider) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}

	var systemParts []*genai.Part
	var contents []*genai.Content
	for _, rec := range req.Messages {
		if rec.Content == "" {
			continue
		}
		if rec.Role == models.RoleSystem || rec.IsSystemPrompt {
			systemParts = append(systemParts, &genai.Part{Text: rec.Content})
			continue
		}

		role := genai.RoleUser
		if rec.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rec.Content}},
		})
	}
	if len(systemParts) > 0 {
		config.SystemInstruction = &genai.Content{Parts: systemParts}
	}

	if opts := req.Options; opts != nil {
		if opts.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*opts.Temperature))
		}
		if opts.TopP != nil {
			config.TopP = genai.Ptr(float32(*opts.TopP))
		}
		if opts.TopK != nil {
			config.TopK = genai.Ptr(float32(*opts.TopK))
		}
		if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
			config.MaxOutputTokens = int32(min(*opts.MaxTokens, 1<<31-1))
		}
		if len(opts.Stop) > 0 {
			config.StopSequences = opts.Stop
		}
	}

	if len(req.Tools) > 0 {
		config.Tools = toGeminiTools(req.Tools)
	}

	return contents, config
}

func toGeminiTools(specs []ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}

	return schema
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	providerErr := NewProviderError(HostingGoogle, model, err)

	// The SDK surfaces gRPC-style statuses in the error text.
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404") || strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}
