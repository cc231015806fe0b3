package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSerpBaseURL   = "https://serpapi.com"
	defaultTavilyBaseURL = "https://api.tavily.com"

	// searchCacheMax caps cached queries so repeated research loops do not
	// grow memory without bound.
	searchCacheMax     = 256
	defaultSearchTTL   = 5 * time.Minute
	defaultMaxResults  = 20
	searchBodyReadCap  = 1 << 20
	searchErrorBodyCap = 1024
)

// SearchConfig configures the search_web tool. Keys decide which provider
// serves a query: SERP when its key is present, Tavily otherwise; a SERP
// failure falls back to Tavily when both are configured.
type SearchConfig struct {
	SerpAPIKey   string
	TavilyAPIKey string

	// Base URL overrides for tests. Empty uses the public endpoints.
	SerpBaseURL   string
	TavilyBaseURL string

	// MaxResults caps results per query. Zero uses the default.
	MaxResults int
	// CacheTTL bounds how long a query's results are replayed from cache.
	CacheTTL time.Duration

	HTTPClient *http.Client
}

// SearchResult is one hit, normalized across providers.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// searchOutcome is the payload rendered back to the model.
type searchOutcome struct {
	Query       string         `json:"query"`
	Engine      string         `json:"engine,omitempty"`
	Provider    string         `json:"provider"`
	Answer      string         `json:"answer,omitempty"`
	ResultCount int            `json:"result_count"`
	Results     []SearchResult `json:"results"`
}

type searchCacheEntry struct {
	outcome   *searchOutcome
	expiresAt time.Time
}

// SearchTool implements search_web over the SERP and Tavily REST APIs.
type SearchTool struct {
	cfg    SearchConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]searchCacheEntry
}

// NewSearchTool creates the search tool with defaults applied.
func NewSearchTool(cfg SearchConfig) *SearchTool {
	if cfg.SerpBaseURL == "" {
		cfg.SerpBaseURL = defaultSerpBaseURL
	}
	if cfg.TavilyBaseURL == "" {
		cfg.TavilyBaseURL = defaultTavilyBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultSearchTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SearchTool{
		cfg:    cfg,
		client: client,
		cache:  make(map[string]searchCacheEntry),
	}
}

// Configured reports whether at least one search provider has a key.
func (t *SearchTool) Configured() bool {
	return t.cfg.SerpAPIKey != "" || t.cfg.TavilyAPIKey != ""
}

func (t *SearchTool) Name() string { return "search_web" }

func (t *SearchTool) Description() string {
	return "Search the web using the SERP API and return the results. If the SERP API fails or is not configured, the Tavily API is used instead. Print the results to the console so they are visible."
}

type searchParams struct {
	Query        string `json:"query" jsonschema:"description=The search query string"`
	SearchEngine string `json:"search_engine,omitempty" jsonschema:"description=Search engine to use with the SERP API (e.g. google or bing). Defaults to google."`
	MaxResults   int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results to return. Defaults to 20."`
}

func (t *SearchTool) Schema() json.RawMessage {
	return schemaOf(searchParams{})
}

// Execute runs the query against the configured providers, serving repeats
// from cache within the TTL.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(p.Query) == "" {
		return Errorf("Query parameter is required"), nil
	}
	if p.SearchEngine == "" {
		p.SearchEngine = "google"
	}
	if p.MaxResults <= 0 || p.MaxResults > t.cfg.MaxResults {
		p.MaxResults = t.cfg.MaxResults
	}

	key := fmt.Sprintf("%s:%d:%s", p.SearchEngine, p.MaxResults, p.Query)
	if outcome := t.cached(key); outcome != nil {
		return formatSearchOutcome(outcome), nil
	}

	outcome, err := t.search(ctx, p)
	if err != nil {
		return Errorf("Search failed: %v", err), nil
	}

	t.store(key, outcome)
	return formatSearchOutcome(outcome), nil
}

func (t *SearchTool) search(ctx context.Context, p searchParams) (*searchOutcome, error) {
	if t.cfg.SerpAPIKey != "" {
		outcome, err := t.searchSerp(ctx, p)
		if err == nil {
			return outcome, nil
		}
		if t.cfg.TavilyAPIKey == "" {
			return nil, err
		}
	}
	if t.cfg.TavilyAPIKey != "" {
		return t.searchTavily(ctx, p)
	}
	return nil, fmt.Errorf("no search API provider is configured")
}

// searchSerp queries the SERP API's JSON endpoint.
func (t *SearchTool) searchSerp(ctx context.Context, p searchParams) (*searchOutcome, error) {
	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("engine", p.SearchEngine)
	q.Set("num", strconv.Itoa(p.MaxResults))
	q.Set("api_key", t.cfg.SerpAPIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.SerpBaseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := t.doJSON(req, &payload, "serpapi"); err != nil {
		return nil, err
	}

	outcome := &searchOutcome{Query: p.Query, Engine: p.SearchEngine, Provider: "serpapi"}
	for _, r := range payload.Organic {
		if len(outcome.Results) >= p.MaxResults {
			break
		}
		outcome.Results = append(outcome.Results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	outcome.ResultCount = len(outcome.Results)
	return outcome, nil
}

// searchTavily queries the Tavily search endpoint.
func (t *SearchTool) searchTavily(ctx context.Context, p searchParams) (*searchOutcome, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":     t.cfg.TavilyAPIKey,
		"query":       p.Query,
		"max_results": p.MaxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TavilyBaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var payload struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := t.doJSON(req, &payload, "tavily"); err != nil {
		return nil, err
	}

	outcome := &searchOutcome{Query: p.Query, Provider: "tavily", Answer: payload.Answer}
	for _, r := range payload.Results {
		if len(outcome.Results) >= p.MaxResults {
			break
		}
		outcome.Results = append(outcome.Results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	outcome.ResultCount = len(outcome.Results)
	return outcome, nil
}

func (t *SearchTool) doJSON(req *http.Request, out any, provider string) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, searchErrorBodyCap))
		return fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(io.LimitReader(resp.Body, searchBodyReadCap)).Decode(out)
}

func (t *SearchTool) cached(key string) *searchOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.outcome
}

func (t *SearchTool) store(key string, outcome *searchOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	// Evict the soonest-expiring entries when still at capacity.
	for len(t.cache) >= searchCacheMax {
		var oldest string
		var oldestAt time.Time
		for k, v := range t.cache {
			if oldest == "" || v.expiresAt.Before(oldestAt) {
				oldest = k
				oldestAt = v.expiresAt
			}
		}
		delete(t.cache, oldest)
	}

	t.cache[key] = searchCacheEntry{outcome: outcome, expiresAt: now.Add(t.cfg.CacheTTL)}
}

func formatSearchOutcome(outcome *searchOutcome) *Result {
	payload, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return Errorf("Failed to format search results: %v", err)
	}
	return &Result{Content: string(payload)}
}
