// Package config loads the runtime configuration from YAML with
// environment variable expansion and sensible defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kenes-ai/kenes/internal/tenant"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2h" as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the main configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Planner   PlannerConfig   `yaml:"planner"`
	Storage   StorageConfig   `yaml:"storage"`
	Loop      LoopConfig      `yaml:"loop"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Reminders RemindersConfig `yaml:"reminders"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Tenants   []tenant.Tenant `yaml:"tenants"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// PlannerConfig selects and configures the reasoning backend behind
// classification and agent decisions.
type PlannerConfig struct {
	// Backend is "openai", "anthropic" or "scripted" (dev only).
	Backend   string                `yaml:"backend"`
	OpenAI    PlannerProviderConfig `yaml:"openai"`
	Anthropic PlannerProviderConfig `yaml:"anthropic"`
}

type PlannerProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// StorageConfig selects the persistence backend for traces, dedupe
// records and reminder occurrences.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type LoopConfig struct {
	MaxHops         int      `yaml:"max_hops"`
	ToolTimeout     Duration `yaml:"tool_timeout"`
	ThinkTimeout    Duration `yaml:"think_timeout"`
	ClassifyTimeout Duration `yaml:"classify_timeout"`
}

type DedupeConfig struct {
	TTL Duration `yaml:"ttl"`
}

type RemindersConfig struct {
	Enabled   bool       `yaml:"enabled"`
	Tick      Duration   `yaml:"tick"`
	Lookahead Duration   `yaml:"lookahead"`
	Offsets   []Duration `yaml:"offsets"`
}

// KnowledgeConfig configures the retrieval backend for deep search.
type KnowledgeConfig struct {
	// Provider is "memory" or "qdrant".
	Provider       string `yaml:"provider"`
	QdrantURL      string `yaml:"qdrant_url"`
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embedding_model"`
	OpenAIAPIKey   string `yaml:"openai_api_key"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// Load reads and parses the configuration file. Environment variables in
// the file (e.g. ${OPENAI_API_KEY}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: in-memory
// storage, scripted planner, everything local.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Planner.Backend == "" {
		cfg.Planner.Backend = "openai"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "kenes.db"
	}
	if cfg.Loop.MaxHops == 0 {
		cfg.Loop.MaxHops = 10
	}
	if cfg.Loop.ToolTimeout == 0 {
		cfg.Loop.ToolTimeout = Duration(30 * time.Second)
	}
	if cfg.Loop.ThinkTimeout == 0 {
		cfg.Loop.ThinkTimeout = Duration(30 * time.Second)
	}
	if cfg.Loop.ClassifyTimeout == 0 {
		cfg.Loop.ClassifyTimeout = Duration(10 * time.Second)
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = Duration(24 * time.Hour)
	}
	if cfg.Reminders.Tick == 0 {
		cfg.Reminders.Tick = Duration(time.Minute)
	}
	if cfg.Reminders.Lookahead == 0 {
		cfg.Reminders.Lookahead = Duration(2 * time.Hour)
	}
	if len(cfg.Reminders.Offsets) == 0 {
		cfg.Reminders.Offsets = []Duration{Duration(60 * time.Minute), Duration(15 * time.Minute)}
	}
	if cfg.Knowledge.Provider == "" {
		cfg.Knowledge.Provider = "memory"
	}
	if cfg.Knowledge.Collection == "" {
		cfg.Knowledge.Collection = "knowledge"
	}
}

// Validate rejects configurations that cannot be wired.
func (c *Config) Validate() error {
	switch c.Planner.Backend {
	case "openai", "anthropic", "scripted":
	default:
		return fmt.Errorf("unknown planner backend %q", c.Planner.Backend)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage driver postgres requires postgres_dsn")
	}
	switch c.Knowledge.Provider {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("unknown knowledge provider %q", c.Knowledge.Provider)
	}
	if c.Knowledge.Provider == "qdrant" && c.Knowledge.QdrantURL == "" {
		return fmt.Errorf("knowledge provider qdrant requires qdrant_url")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram requires bot_token")
	}
	if c.Loop.MaxHops < 1 {
		return fmt.Errorf("loop max_hops must be positive")
	}
	return nil
}

// ReminderOffsets converts the configured offsets to standard durations.
func (c *Config) ReminderOffsets() []time.Duration {
	out := make([]time.Duration, len(c.Reminders.Offsets))
	for i, d := range c.Reminders.Offsets {
		out[i] = d.Std()
	}
	return out
}
