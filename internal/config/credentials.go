package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Credential keys recognized by the runtime. Arbitrary keys may be stored;
// these are the ones builtin components consult.
const (
	CredAnthropic  = "ANTHROPIC_API_KEY"
	CredOpenAI     = "OPENAI_API_KEY"
	CredOpenRouter = "OPENROUTER_API_KEY"
	CredGoogle     = "GOOGLE_API_KEY"
	CredSerpAPI    = "SERP_API_KEY"
	CredTavily     = "TAVILY_API_KEY"
	CredOllamaHost = "OLLAMA_HOST"
)

// Credentials maps provider names to API keys. It is persisted in its own
// file so the main config can be shared without leaking secrets. Lookups
// fall back to the process environment.
type Credentials struct {
	mu   sync.RWMutex
	path string
	keys map[string]string
}

// CredentialsPath returns the default credentials file location.
func CredentialsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.yml"), nil
}

// LoadCredentials reads the credential store. A missing file yields an
// empty store.
func LoadCredentials(path string) (*Credentials, error) {
	c := &Credentials{path: path, keys: map[string]string{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.keys); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if c.keys == nil {
		c.keys = map[string]string{}
	}
	return c, nil
}

// Get returns the stored value for name, or the environment variable of the
// same name when the store has no entry.
func (c *Credentials) Get(name string) string {
	c.mu.RLock()
	value := c.keys[name]
	c.mu.RUnlock()
	if value != "" {
		return value
	}
	return os.Getenv(name)
}

// Has reports whether a non-empty credential is available for name.
func (c *Credentials) Has(name string) bool {
	return c.Get(name) != ""
}

// Set stores a credential and persists the store. An empty value removes
// the entry.
func (c *Credentials) Set(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value == "" {
		delete(c.keys, name)
	} else {
		c.keys[name] = value
	}
	return c.save()
}

// Keys returns the stored credential names, sorted. Values are never
// exposed through this method.
func (c *Credentials) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.keys))
	for name := range c.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Credentials) save() error {
	if c.path == "" {
		return nil
	}
	data, err := yaml.Marshal(c.keys)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}
