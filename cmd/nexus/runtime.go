package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/internal/channels"
	"github.com/nexuscore/agentruntime/internal/commands"
	"github.com/nexuscore/agentruntime/internal/config"
	"github.com/nexuscore/agentruntime/internal/identity"
	"github.com/nexuscore/agentruntime/internal/metrics"
	"github.com/nexuscore/agentruntime/internal/providers"
	"github.com/nexuscore/agentruntime/internal/scheduler"
	"github.com/nexuscore/agentruntime/internal/sessions"
	"github.com/nexuscore/agentruntime/internal/subagent"
	"github.com/nexuscore/agentruntime/internal/tracing"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// runtime holds every subsystem wired together by the serve command, so
// Start/Stop (and the status HTTP handlers) have a single place to reach
// into the five core subsystems.
type runtime struct {
	cfg *config.Config

	bus       *bus.Bus
	sessions  *sessions.Store
	tools     *agentloop.Registry
	loop      *agentloop.Loop
	scheduler *scheduler.Scheduler
	subagents *subagent.Manager
	commands  *commands.Registry
	identity  identity.Store
	pairing   *identity.PairingCoder
	channels  *channels.Registry
	metrics   *metrics.Metrics
	tracer    *tracing.Tracer

	shutdownTracer func(context.Context) error
}

// buildRuntime wires the bus, session store, tool registry, agent loop,
// scheduler, subagent manager, command registry, and channel adapters
// together from cfg, grounded on the teacher's gateway wiring in
// handlers_serve.go (load config, then stand up one collaborator at a time
// before starting any of them).
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if cfg.Metrics.Enabled {
		rt.metrics = metrics.New()
	}

	tracer, shutdown := tracing.New(tracing.Config{
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Tracing.Environment,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	rt.tracer = tracer
	rt.shutdownTracer = shutdown

	rt.bus = bus.New(logger.With("component", "bus"))

	persister, err := buildPersister(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.sessions = sessions.New(persister,
		sessions.WithMemoryWindow(cfg.Session.MemoryWindow),
		sessions.WithLogger(logger.With("component", "sessions")),
	)
	if err := rt.sessions.Init(ctx); err != nil {
		return nil, fmt.Errorf("nexus: init session store: %w", err)
	}

	rt.tools = agentloop.NewRegistry(logger.With("component", "tools"))

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	rt.identity = identity.NewMemoryStore()
	rt.pairing = identity.NewPairingCoder([]byte(cfg.Identity.PairingSecret), cfg.Identity.PairingTTL)

	rt.loop = agentloop.New(provider, rt.tools, rt.sessions, rt.bus, rt.identity, &agentloop.LoopConfig{
		MaxIterations:         cfg.LLM.MaxIterations,
		MaxTokens:             cfg.LLM.MaxTokens,
		MaxConcurrentMessages: 20,
		MemoryWindow:          cfg.Session.MemoryWindow,
		CompactionKeepRatio:   cfg.Session.CompactionKeepRatio,
		Logger:                logger.With("component", "agentloop"),
	})

	rt.scheduler = scheduler.New(scheduler.NewMemoryStore(), rt.bus, scheduler.Config{
		MaxTasksPerSession: cfg.Scheduler.MaxTasksPerSession,
		Logger:             logger.With("component", "scheduler"),
	})

	rt.subagents = subagent.New(provider, rt.tools, rt.sessions, rt.bus, subagent.Config{
		MaxConcurrent:    cfg.Subagent.MaxConcurrent,
		MaxIterations:    cfg.Subagent.MaxIterations,
		Timeout:          cfg.Subagent.Timeout,
		GCGracePeriod:    cfg.Subagent.GCGracePeriod,
		BlacklistedTools: cfg.Subagent.BlacklistedTools,
	})

	rt.commands = commands.NewRegistry(logger.With("component", "commands"))
	commands.RegisterBuiltins(rt.commands, commands.Deps{
		Sessions: rt.sessions,
		Tools:    rt.tools,
		Bus:      rt.bus,
		Identity: rt.identity,
		Pairing:  rt.pairing,
	})

	rt.channels = channels.NewRegistry()
	if err := registerChannels(rt.channels, cfg); err != nil {
		return nil, err
	}

	return rt, nil
}

func buildPersister(ctx context.Context, cfg *config.Config) (sessions.Persister, error) {
	if cfg.Database.URL == "" {
		return sessions.NewMemoryPersister(), nil
	}
	driver := cfg.Database.Driver
	switch driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("nexus: unknown database.driver %q", driver)
	}
	return sessions.NewSQLPersister(ctx, driver, cfg.Database.URL)
}

func buildProvider(cfg *config.Config) (agentloop.LLMProvider, error) {
	switch cfg.LLM.DefaultProvider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.Anthropic.APIKey,
			DefaultModel: cfg.LLM.Anthropic.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.DefaultModel)
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       cfg.LLM.Bedrock.Region,
			DefaultModel: cfg.LLM.Bedrock.DefaultModel,
		})
	case "gemini":
		return providers.NewGeminiProvider(providers.GeminiConfig{
			APIKey:       cfg.LLM.Gemini.APIKey,
			DefaultModel: cfg.LLM.Gemini.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("nexus: unknown llm.default_provider %q", cfg.LLM.DefaultProvider)
	}
}

func registerChannels(registry *channels.Registry, cfg *config.Config) error {
	registry.Register(channels.NewTerminalAdapter("terminal", os.Stdin, os.Stdout))

	if cfg.Channels.Telegram.Enabled {
		adapter, err := channels.NewTelegramAdapter(channels.TelegramConfig{Token: cfg.Channels.Telegram.Token})
		if err != nil {
			return fmt.Errorf("nexus: telegram: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Channels.Discord.Enabled {
		adapter, err := channels.NewDiscordAdapter(channels.DiscordConfig{Token: cfg.Channels.Discord.Token})
		if err != nil {
			return fmt.Errorf("nexus: discord: %w", err)
		}
		registry.Register(adapter)
	}
	if cfg.Channels.Slack.Enabled {
		adapter, err := channels.NewSlackAdapter(channels.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
		})
		if err != nil {
			return fmt.Errorf("nexus: slack: %w", err)
		}
		registry.Register(adapter)
	}
	return nil
}

// Start brings up the channel adapters, wires their outbound delivery into
// the bus, begins fanning their inbound messages into the bus, and starts
// the scheduler.
func (rt *runtime) Start(ctx context.Context) error {
	for _, adapter := range rt.channels.All() {
		outbound, ok := adapter.(channels.OutboundAdapter)
		if !ok {
			continue
		}
		name := adapter.Type()
		rt.bus.RegisterOutboundHandler(name, outbound.Send)
	}

	if err := rt.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("nexus: start channels: %w", err)
	}
	if err := rt.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("nexus: start scheduler: %w", err)
	}

	rt.loop.Start(ctx)
	go rt.pumpInbound(ctx)

	return nil
}

// pumpInbound routes every channel-aggregated message through the command
// registry first; a recognised command is answered directly without ever
// reaching the agent loop, matching spec.md §6's "commands never enter the
// agent loop" rule. Everything else is handed to the bus for dispatch.
func (rt *runtime) pumpInbound(ctx context.Context) {
	for msg := range rt.channels.AggregateMessages(ctx) {
		user, err := rt.identity.ResolveOrCreate(ctx, msg.Channel, msg.Sender)
		userID := ""
		if err == nil {
			userID = user.ID
		}

		if result, ok := rt.commands.Dispatch(ctx, msg.Text, msg.SessionID, msg.Channel, userID, msg.Sender); ok {
			if !result.Suppress {
				rt.bus.PublishOutbound(ctx, &models.OutboundMessage{
					Channel:   msg.Channel,
					SessionID: msg.SessionID,
					Text:      result.Text,
				})
			}
			continue
		}

		rt.bus.PublishInbound(msg)
	}
}

// Stop shuts every collaborator down within the grace period implied by ctx.
func (rt *runtime) Stop(ctx context.Context) error {
	if err := rt.channels.StopAll(ctx); err != nil {
		return err
	}
	if err := rt.scheduler.Stop(ctx); err != nil {
		return err
	}
	rt.subagents.StopAll()
	rt.bus.Close()
	if rt.shutdownTracer != nil {
		return rt.shutdownTracer(ctx)
	}
	return nil
}
