package agentloop

import "log/slog"

// LoopConfig configures the Agent Loop's dispatch and iteration behavior.
//
// Grounded on internal/agent/loop.go's LoopConfig/DefaultLoopConfig/
// sanitizeLoopConfig defaulting pattern.
type LoopConfig struct {
	// MaxIterations caps tool-use round-trips within a single turn.
	MaxIterations int

	// MaxTokens is the default max tokens requested from the provider.
	MaxTokens int

	// MaxConcurrentMessages is the global semaphore size bounding how many
	// turns (across all sessions) may run at once.
	MaxConcurrentMessages int

	// MemoryWindow mirrors sessions.DefaultMemoryWindow; compaction fires
	// once a session's in-memory message count exceeds it.
	MemoryWindow int

	// CompactionKeepRatio is the fraction of MemoryWindow kept live when
	// compacting; the rest becomes eligible for summarisation. Default 0.6.
	CompactionKeepRatio float64

	// SystemPromptBase is the first, mandatory section of every assembled
	// system prompt.
	SystemPromptBase string

	// MandatorySecurityRules is appended immediately after SystemPromptBase,
	// before any dynamic section (memory, skills, space context).
	MandatorySecurityRules string

	Logger *slog.Logger
}

// DefaultLoopConfig returns sensible defaults.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations:         10,
		MaxTokens:             4096,
		MaxConcurrentMessages: 20,
		MemoryWindow:          50,
		CompactionKeepRatio:   0.6,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxConcurrentMessages <= 0 {
		cfg.MaxConcurrentMessages = defaults.MaxConcurrentMessages
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = defaults.MemoryWindow
	}
	if cfg.CompactionKeepRatio <= 0 || cfg.CompactionKeepRatio >= 1 {
		cfg.CompactionKeepRatio = defaults.CompactionKeepRatio
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "agentloop")
	}
	return &cfg
}
