package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Operant.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`
	Jobs    JobsConfig    `yaml:"jobs" json:"jobs"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Usage   UsageConfig   `yaml:"usage" json:"usage"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AuthConfig struct {
	// Secret enables JWT bearer auth on the management surface when set.
	Secret      string        `yaml:"secret" json:"secret"`
	TokenExpiry time.Duration `yaml:"token_expiry" json:"token_expiry"`
}

type RuntimeConfig struct {
	Hosting                  string `yaml:"hosting" json:"hosting"`
	Model                    string `yaml:"model" json:"model"`
	MaxConversationHistory   int    `yaml:"max_conversation_history" json:"max_conversation_history"`
	DetailConversationLength int    `yaml:"detail_conversation_length" json:"detail_conversation_length"`
	MaxLearningsHistory      int    `yaml:"max_learnings_history" json:"max_learnings_history"`
	MaxIterations            int    `yaml:"max_iterations" json:"max_iterations"`
	MaxCodeRetries           int    `yaml:"max_code_retries" json:"max_code_retries"`
	AutoSaveConversation     bool   `yaml:"auto_save_conversation" json:"auto_save_conversation"`
	CanPromptUser            bool   `yaml:"can_prompt_user" json:"can_prompt_user"`
}

type SandboxConfig struct {
	Shell     string        `yaml:"shell" json:"shell"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	MaxOutput int           `yaml:"max_output" json:"max_output"`
}

type JobsConfig struct {
	QueueSize int           `yaml:"queue_size" json:"queue_size"`
	Workers   int           `yaml:"workers" json:"workers"`
	Retention time.Duration `yaml:"retention" json:"retention"`
	// PruneSchedule is a cron expression; terminal jobs older than
	// Retention are archived on each tick.
	PruneSchedule string `yaml:"prune_schedule" json:"prune_schedule"`
	ArchivePath   string `yaml:"archive_path" json:"archive_path"`
}

type SearchConfig struct {
	// Provider selects the primary web search backend: serpapi or tavily.
	Provider string `yaml:"provider" json:"provider"`
	// Fallback is consulted when the primary provider fails.
	Fallback   string `yaml:"fallback" json:"fallback"`
	MaxResults int    `yaml:"max_results" json:"max_results"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Environment string `yaml:"environment" json:"environment"`
}

type UsageConfig struct {
	// PricingPath points to a yaml table of per-million token prices.
	PricingPath string `yaml:"pricing_path" json:"pricing_path"`
	LedgerPath  string `yaml:"ledger_path" json:"ledger_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Dir returns the state home, honoring OPERANT_HOME.
func Dir() (string, error) {
	if dir := os.Getenv("OPERANT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".operant"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Load reads and parses the configuration file. A missing file yields the
// defaults rather than an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		// Expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to disk.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Runtime.MaxConversationHistory < 2 {
		return fmt.Errorf("max_conversation_history must be at least 2, got %d", c.Runtime.MaxConversationHistory)
	}
	if c.Runtime.DetailConversationLength < -1 {
		return fmt.Errorf("detail_conversation_length must be -1 or non-negative, got %d", c.Runtime.DetailConversationLength)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs workers must be positive, got %d", c.Jobs.Workers)
	}
	switch c.Search.Provider {
	case "", "serpapi", "tavily":
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 1111
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Runtime.Hosting == "" {
		cfg.Runtime.Hosting = "anthropic"
	}
	if cfg.Runtime.MaxConversationHistory == 0 {
		cfg.Runtime.MaxConversationHistory = 100
	}
	if cfg.Runtime.DetailConversationLength == 0 {
		cfg.Runtime.DetailConversationLength = 35
	}
	if cfg.Runtime.MaxLearningsHistory == 0 {
		cfg.Runtime.MaxLearningsHistory = 50
	}
	if cfg.Runtime.MaxIterations == 0 {
		cfg.Runtime.MaxIterations = 25
	}
	if cfg.Runtime.MaxCodeRetries == 0 {
		cfg.Runtime.MaxCodeRetries = 1
	}
	if cfg.Sandbox.Shell == "" {
		cfg.Sandbox.Shell = "/bin/sh"
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 120 * time.Second
	}
	if cfg.Sandbox.MaxOutput == 0 {
		cfg.Sandbox.MaxOutput = 64000
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = 100
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = 4
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneSchedule == "" {
		cfg.Jobs.PruneSchedule = "@hourly"
	}
	if cfg.Search.Provider == "" {
		cfg.Search.Provider = "serpapi"
	}
	if cfg.Search.Fallback == "" {
		cfg.Search.Fallback = "tavily"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 20
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = "development"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
