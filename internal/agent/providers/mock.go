package providers

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by a scripted MockProvider once every
// queued response has been consumed.
var ErrScriptExhausted = errors.New("mock provider: script exhausted")

// MockResponse is one scripted reply.
type MockResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
	Err       error
}

// MockProvider replays scripted responses in order. With no script it
// answers every call with a canned response, which makes the "mock" hosting
// usable for smoke testing without credentials.
type MockProvider struct {
	mu       sync.Mutex
	queue    []MockResponse
	scripted bool
	requests []Request
}

var _ Provider = (*MockProvider)(nil)

// NewMock creates a mock provider, optionally pre-scripted with responses.
func NewMock(script ...string) *MockProvider {
	m := &MockProvider{}
	for _, content := range script {
		m.queue = append(m.queue, MockResponse{Content: content})
	}
	m.scripted = len(script) > 0
	return m
}

// Enqueue appends a scripted text response.
func (m *MockProvider) Enqueue(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, MockResponse{Content: content})
	m.scripted = true
	return m
}

// EnqueueError appends a scripted failure.
func (m *MockProvider) EnqueueError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, MockResponse{Err: err})
	m.scripted = true
	return m
}

// EnqueueResponse appends a fully specified scripted reply.
func (m *MockProvider) EnqueueResponse(resp MockResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
	m.scripted = true
	return m
}

// Requests returns a copy of every request the mock has received.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Name returns "mock".
func (m *MockProvider) Name() string {
	return HostingMock
}

// Models returns a single synthetic model.
func (m *MockProvider) Models() []Model {
	return []Model{{ID: "mock-model", Name: "Mock Model", ContextSize: 128000}}
}

// Complete runs one call to completion.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	return Collect(ctx, m, req)
}

// Stream replays the next scripted response as a short chunk sequence.
func (m *MockProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	next, err := m.next(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, len(next.ToolCalls)+2)
	go func() {
		defer close(chunks)
		if next.Content != "" {
			select {
			case chunks <- Chunk{Content: next.Content}:
			case <-ctx.Done():
				chunks <- Chunk{Error: ctx.Err()}
				return
			}
		}
		for i := range next.ToolCalls {
			call := next.ToolCalls[i]
			select {
			case chunks <- Chunk{ToolCall: &call}:
			case <-ctx.Done():
				chunks <- Chunk{Error: ctx.Err()}
				return
			}
		}
		usage := next.Usage
		if usage == (Usage{}) {
			usage = mockUsage(req, next.Content)
		}
		chunks <- Chunk{Done: true, Usage: &usage}
	}()
	return chunks, nil
}

func (m *MockProvider) next(req Request) (MockResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		if next.Err != nil {
			return MockResponse{}, next.Err
		}
		return next, nil
	}
	if m.scripted {
		return MockResponse{}, ErrScriptExhausted
	}
	return MockResponse{Content: "mock response"}, nil
}

func mockUsage(req Request, content string) Usage {
	prompt := 0
	for _, rec := range req.Messages {
		prompt += (len(rec.Content) + 3) / 4
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: (len(content) + 3) / 4,
	}
}
