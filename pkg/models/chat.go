package models

// ChatOptions tune one model invocation. Nil fields take provider defaults.
type ChatOptions struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
}

// ChatStats is cumulative token and cost accounting for one request.
type ChatStats struct {
	TotalTokens      int     `json:"total_tokens"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// Add accumulates another call's usage into the stats.
func (s *ChatStats) Add(prompt, completion int, cost float64) {
	s.PromptTokens += prompt
	s.CompletionTokens += completion
	s.TotalTokens += prompt + completion
	s.Cost += cost
}

// ChatRequest is the body of a chat submission.
type ChatRequest struct {
	Hosting     string               `json:"hosting"`
	Model       string               `json:"model"`
	Prompt      string               `json:"prompt"`
	Stream      bool                 `json:"stream,omitempty"`
	Context     []ConversationRecord `json:"context,omitempty"`
	Options     *ChatOptions         `json:"options,omitempty"`
	Attachments []string             `json:"attachments,omitempty"`
	Persist     bool                 `json:"persist_conversation,omitempty"`
}

// ChatResponse is the reply to a synchronous chat request.
type ChatResponse struct {
	Response string               `json:"response"`
	Context  []ConversationRecord `json:"context"`
	Stats    ChatStats            `json:"stats"`
}

// CRUDResponse wraps every management endpoint reply.
type CRUDResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
}
