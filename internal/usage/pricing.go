package usage

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Cost represents pricing for a model in USD per million tokens.
type Cost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// Estimate calculates the estimated cost for the given usage.
func (c *Cost) Estimate(usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	total := float64(usage.InputTokens)*c.Input +
		float64(usage.OutputTokens)*c.Output +
		float64(usage.CacheReadTokens)*c.CacheRead +
		float64(usage.CacheWriteTokens)*c.CacheWrite
	return total / 1_000_000
}

// PriceTable resolves per-model pricing. Keys are "provider:model"; a
// "provider:*" entry is the provider fallback. It reloads from its yaml
// source without interrupting readers.
type PriceTable struct {
	mu     sync.RWMutex
	path   string
	prices map[string]Cost
}

// DefaultPrices is the built-in pricing table, used when no pricing file
// is configured. Values are USD per million tokens.
func DefaultPrices() map[string]Cost {
	return map[string]Cost{
		"anthropic:claude-3-5-sonnet-latest": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		"anthropic:claude-3-5-haiku-latest":  {Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1},
		"anthropic:*":                        {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		"openai:gpt-4o":                      {Input: 2.5, Output: 10},
		"openai:gpt-4o-mini":                 {Input: 0.15, Output: 0.6},
		"openai:*":                           {Input: 2.5, Output: 10},
		"openrouter:*":                       {Input: 1, Output: 3},
		"google:gemini-2.0-flash":            {Input: 0.1, Output: 0.4},
		"google:*":                           {Input: 0.1, Output: 0.4},
		"ollama:*":                           {},
	}
}

// NewPriceTable creates a table backed by the yaml file at path. An empty
// path yields the built-in defaults with reload as a no-op.
func NewPriceTable(path string) (*PriceTable, error) {
	t := &PriceTable{
		path:   path,
		prices: DefaultPrices(),
	}
	if path != "" {
		if err := t.Reload(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Reload re-reads the pricing file. A missing file keeps the current
// table. Entries in the file are merged over the defaults.
func (t *PriceTable) Reload() error {
	if t.path == "" {
		return nil
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read pricing file: %w", err)
	}

	var loaded map[string]Cost
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse pricing file: %w", err)
	}

	merged := DefaultPrices()
	for k, v := range loaded {
		merged[k] = v
	}

	t.mu.Lock()
	t.prices = merged
	t.mu.Unlock()
	return nil
}

// Lookup returns the cost entry for provider/model, falling back to the
// provider wildcard. The second return reports whether any entry matched.
func (t *PriceTable) Lookup(provider, model string) (Cost, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	provider = strings.ToLower(provider)
	if c, ok := t.prices[provider+":"+model]; ok {
		return c, true
	}
	if c, ok := t.prices[provider+":*"]; ok {
		return c, true
	}
	return Cost{}, false
}

// Estimate computes the cost of a call, zero when the model is unpriced.
func (t *PriceTable) Estimate(provider, model string, u *Usage) float64 {
	cost, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	return cost.Estimate(u)
}
