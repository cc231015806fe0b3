package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func serpTestServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/search.json" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("api_key") == "" {
			http.Error(w, "missing api key", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"organic_results": [
				{"title": "Go", "link": "https://go.dev", "snippet": "The Go programming language"},
				{"title": "Go spec", "link": "https://go.dev/ref/spec", "snippet": "Language specification"}
			]
		}`))
	}))
}

func tavilyTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req["api_key"] == "" {
			http.Error(w, "missing api key", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"answer": "Go is a programming language.",
			"results": [
				{"title": "Go", "url": "https://go.dev", "content": "The Go programming language", "score": 0.92}
			]
		}`))
	}))
}

func TestSearchToolSerp(t *testing.T) {
	server := serpTestServer(t, nil)
	defer server.Close()

	tool := NewSearchTool(SearchConfig{
		SerpAPIKey:  "test-key",
		SerpBaseURL: server.URL,
	})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, `"provider": "serpapi"`) {
		t.Errorf("provider missing from output: %s", result.Content)
	}
	if !strings.Contains(result.Content, "https://go.dev") {
		t.Errorf("results missing from output: %s", result.Content)
	}
}

func TestSearchToolTavilyOnly(t *testing.T) {
	server := tavilyTestServer(t)
	defer server.Close()

	tool := NewSearchTool(SearchConfig{
		TavilyAPIKey:  "test-key",
		TavilyBaseURL: server.URL,
	})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if !strings.Contains(result.Content, `"provider": "tavily"`) {
		t.Errorf("provider missing from output: %s", result.Content)
	}
	if !strings.Contains(result.Content, "Go is a programming language.") {
		t.Errorf("answer missing from output: %s", result.Content)
	}
}

func TestSearchToolSerpFallsBackToTavily(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer failing.Close()

	tavily := tavilyTestServer(t)
	defer tavily.Close()

	tool := NewSearchTool(SearchConfig{
		SerpAPIKey:    "test-key",
		SerpBaseURL:   failing.URL,
		TavilyAPIKey:  "test-key",
		TavilyBaseURL: tavily.URL,
	})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("fallback did not engage: %s", result.Content)
	}
	if !strings.Contains(result.Content, `"provider": "tavily"`) {
		t.Errorf("expected tavily fallback, got: %s", result.Content)
	}
}

func TestSearchToolCachesRepeats(t *testing.T) {
	var hits atomic.Int32
	server := serpTestServer(t, &hits)
	defer server.Close()

	tool := NewSearchTool(SearchConfig{
		SerpAPIKey:  "test-key",
		SerpBaseURL: server.URL,
		CacheTTL:    time.Minute,
	})

	params := json.RawMessage(`{"query": "golang"}`)
	for i := 0; i < 3; i++ {
		if _, err := tool.Execute(context.Background(), params); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("backend hits = %d, want 1 (cached repeats)", got)
	}
}

func TestSearchToolErrors(t *testing.T) {
	tool := NewSearchTool(SearchConfig{})

	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"invalid json", `{bad}`, "Invalid parameters"},
		{"missing query", `{}`, "Query parameter is required"},
		{"no provider", `{"query": "golang"}`, "no search API provider is configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected an error result")
			}
			if !strings.Contains(result.Content, tt.want) {
				t.Errorf("Content = %q, want substring %q", result.Content, tt.want)
			}
		})
	}
}

func TestSearchToolSchema(t *testing.T) {
	tool := NewSearchTool(SearchConfig{})

	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatal("schema has no properties")
	}
	if _, ok := props["query"]; !ok {
		t.Error("schema missing query property")
	}

	required, ok := schema["required"].([]any)
	if !ok || len(required) == 0 {
		t.Fatal("schema has no required fields")
	}
	if required[0] != "query" {
		t.Errorf("required[0] = %v, want query", required[0])
	}
}

func TestSearchToolConfigured(t *testing.T) {
	if NewSearchTool(SearchConfig{}).Configured() {
		t.Error("empty config should not report configured")
	}
	if !NewSearchTool(SearchConfig{TavilyAPIKey: "k"}).Configured() {
		t.Error("tavily key should report configured")
	}
}
