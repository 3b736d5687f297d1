// Package config loads the YAML configuration that drives cmd/nexus serve:
// provider credentials, channel tokens, and the tuning knobs for the
// session store, scheduler, and subagent manager.
//
// Grounded on internal/config/config.go's Load function (os.ExpandEnv for
// environment interpolation, yaml.Decoder with KnownFields(true), a second
// Decode call to reject multi-document files) and its per-section
// applyDefaults pattern, trimmed to the sections this runtime's subsystems
// actually consume.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level nexus.yaml structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Subagent  SubagentConfig  `yaml:"subagent"`
	Channels  ChannelsConfig  `yaml:"channels"`
	LLM       LLMConfig       `yaml:"llm"`
	Identity  IdentityConfig  `yaml:"identity"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener exposing health and metrics.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the session store's backing SQL database.
// A blank URL keeps the in-memory persister instead.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig tunes the Session Store's memory window and compaction.
type SessionConfig struct {
	MemoryWindow        int     `yaml:"memory_window"`
	CompactionKeepRatio float64 `yaml:"compaction_keep_ratio"`
}

// SchedulerConfig tunes the Scheduler's per-session task quota.
type SchedulerConfig struct {
	MaxTasksPerSession int `yaml:"max_tasks_per_session"`
}

// SubagentConfig tunes the Subagent Manager's concurrency and timeouts.
type SubagentConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	MaxIterations    int           `yaml:"max_iterations"`
	Timeout          time.Duration `yaml:"timeout"`
	GCGracePeriod    time.Duration `yaml:"gc_grace_period"`
	BlacklistedTools []string      `yaml:"blacklisted_tools"`
}

// ChannelsConfig holds per-platform channel adapter credentials.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	AppToken      string `yaml:"app_token"`
	SigningSecret string `yaml:"signing_secret"`
}

// LLMConfig selects the default provider and holds every provider's
// credentials; only the configured provider's section needs to be filled in.
type LLMConfig struct {
	DefaultProvider string         `yaml:"default_provider"`
	MaxIterations   int            `yaml:"max_iterations"`
	MaxTokens       int            `yaml:"max_tokens"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Bedrock         BedrockConfig   `yaml:"bedrock"`
	Gemini          GeminiConfig    `yaml:"gemini"`
}

type AnthropicConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type BedrockConfig struct {
	Region       string `yaml:"region"`
	DefaultModel string `yaml:"default_model"`
}

type GeminiConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// IdentityConfig configures the pairing-code signer used to link a new
// channel identity to an existing user.
type IdentityConfig struct {
	PairingSecret string        `yaml:"pairing_secret"`
	PairingTTL    time.Duration `yaml:"pairing_ttl"`
}

// MetricsConfig toggles Prometheus collector registration.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures the OTLP exporter. A blank Endpoint yields a
// no-op tracer.
type TracingConfig struct {
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// LoggingConfig holds the logging level and format read from nexus.yaml.
// cmd/nexus does not apply it: serve always logs JSON to stderr, at info
// level or at debug level with --debug.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, and validates the configuration file at path.
//
// Environment variables referenced as $FOO or ${FOO} are expanded before
// parsing. A second Decode call guards against multi-document YAML files,
// mirroring the teacher's own single-document check.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s: expected a single YAML document", path)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if cfg.Session.MemoryWindow == 0 {
		cfg.Session.MemoryWindow = 50
	}
	if cfg.Session.CompactionKeepRatio == 0 {
		cfg.Session.CompactionKeepRatio = 0.6
	}

	if cfg.Scheduler.MaxTasksPerSession == 0 {
		cfg.Scheduler.MaxTasksPerSession = 10
	}

	if cfg.Subagent.MaxConcurrent == 0 {
		cfg.Subagent.MaxConcurrent = 5
	}
	if cfg.Subagent.MaxIterations == 0 {
		cfg.Subagent.MaxIterations = 6
	}
	if cfg.Subagent.Timeout == 0 {
		cfg.Subagent.Timeout = 5 * time.Minute
	}
	if cfg.Subagent.GCGracePeriod == 0 {
		cfg.Subagent.GCGracePeriod = time.Hour
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 10
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}

	if cfg.Identity.PairingTTL == 0 {
		cfg.Identity.PairingTTL = 10 * time.Minute
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "nexus"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	switch cfg.LLM.DefaultProvider {
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("config: llm.anthropic.api_key is required when default_provider is anthropic")
		}
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("config: llm.openai.api_key is required when default_provider is openai")
		}
	case "bedrock":
		if cfg.LLM.Bedrock.Region == "" {
			return fmt.Errorf("config: llm.bedrock.region is required when default_provider is bedrock")
		}
	case "gemini":
		if cfg.LLM.Gemini.APIKey == "" {
			return fmt.Errorf("config: llm.gemini.api_key is required when default_provider is gemini")
		}
	default:
		return fmt.Errorf("config: unknown llm.default_provider %q", cfg.LLM.DefaultProvider)
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("config: channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		return fmt.Errorf("config: channels.discord.token is required when discord is enabled")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		return fmt.Errorf("config: channels.slack.bot_token and app_token are required when slack is enabled")
	}

	if cfg.Session.CompactionKeepRatio <= 0 || cfg.Session.CompactionKeepRatio >= 1 {
		return fmt.Errorf("config: session.compaction_keep_ratio must be in (0, 1)")
	}

	return nil
}
