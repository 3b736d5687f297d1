// Package subagent implements the Subagent Manager (spec.md §4.4):
// spawn-and-forget background agent runs with a restricted tool registry, a
// lower iteration ceiling, cooperative cancellation, and a templated
// completion announcement re-injected into the parent session via the
// Message Bus.
//
// Grounded on internal/tools/subagent/spawn.go (Manager.Spawn/runSubAgent
// lifecycle, concurrency-cap check, background goroutine shape),
// internal/tools/subagent/queue.go (map-of-slices-under-mutex index keyed
// by session), and internal/tools/subagent/announce.go (BuildSubagentSystemPrompt
// and the emoji-prefixed announcement convention, adapted here to a
// completion announcement instead of a spawn announcement since spec.md
// §4.4 re-injects the result, not the spawn notice).
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/internal/sessions"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// Config configures the Subagent Manager.
type Config struct {
	// MaxConcurrent caps background runs active at once, across all sessions.
	MaxConcurrent int

	// MaxIterations bounds a subagent's own tool-use loop. Per spec.md §9
	// this is ordinary configuration, not an invariant, and defaults lower
	// than agentloop.LoopConfig.MaxIterations since a subagent's task is
	// narrower than a full conversational turn.
	MaxIterations int

	// Timeout bounds how long a single subagent run may execute.
	Timeout time.Duration

	// GCGracePeriod is how long a completed task record is kept before
	// ListBySession stops returning it.
	GCGracePeriod time.Duration

	// BlacklistedTools are excluded from a subagent's registry — the
	// spawn-subagent tool itself (to bound recursion) and any messaging
	// tool (subagents never talk to the user directly, per spec.md §4.4).
	BlacklistedTools []string

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 5,
		MaxIterations: 6,
		Timeout:       3 * time.Minute,
		GCGracePeriod: 10 * time.Minute,
	}
}

func sanitizeConfig(c Config) Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.GCGracePeriod <= 0 {
		c.GCGracePeriod = d.GCGracePeriod
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "subagent")
	}
	return c
}

// Manager owns the lifecycle of background subagent runs.
type Manager struct {
	provider agentloop.LLMProvider
	registry *agentloop.Registry
	sessions *sessions.Store
	bus      *bus.Bus
	config   Config

	mu        sync.RWMutex
	tasks     map[string]*models.SubagentTask
	bySession map[string][]string
	cancels   map[string]context.CancelFunc
	active    int
}

// New creates a Manager. registry is the full, unrestricted Tool Registry;
// a per-run copy excluding Config.BlacklistedTools is built for each spawn.
func New(provider agentloop.LLMProvider, registry *agentloop.Registry, store *sessions.Store, b *bus.Bus, config Config) *Manager {
	return &Manager{
		provider:  provider,
		registry:  registry,
		sessions:  store,
		bus:       b,
		config:    sanitizeConfig(config),
		tasks:     make(map[string]*models.SubagentTask),
		bySession: make(map[string][]string),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// ErrCapacityExceeded is returned by Spawn when Config.MaxConcurrent
// background runs are already active.
var ErrCapacityExceeded = fmt.Errorf("subagent: capacity exceeded")

// Spawn starts a background subagent run and returns immediately with the
// task record; the run itself continues after Spawn returns.
func (m *Manager) Spawn(parentSession, channel, label, taskPrompt string) (*models.SubagentTask, error) {
	m.mu.Lock()
	if m.active >= m.config.MaxConcurrent {
		m.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	m.active++
	m.mu.Unlock()

	task := &models.SubagentTask{
		ID:            uuid.NewString(),
		ParentSession: parentSession,
		Channel:       channel,
		Label:         label,
		Status:        models.SubagentRunning,
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.bySession[parentSession] = append(m.bySession[parentSession], task.ID)
	runCtx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	m.cancels[task.ID] = cancel
	m.mu.Unlock()

	go m.run(runCtx, cancel, task, taskPrompt)

	return task, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, task *models.SubagentTask, taskPrompt string) {
	defer func() {
		cancel()
		m.mu.Lock()
		m.active--
		delete(m.cancels, task.ID)
		m.mu.Unlock()
		time.AfterFunc(m.config.GCGracePeriod, func() { m.gc(task.ID) })
	}()

	childSessionID := task.ParentSession + "-sub-" + task.ID[:8]
	childSession, err := m.sessions.GetOrCreate(ctx, childSessionID, task.Channel)
	if err != nil {
		m.finish(task, taskPrompt, models.SubagentFailed, "", fmt.Sprintf("failed to create child session: %v", err))
		return
	}

	systemPrompt := buildSystemPrompt(task, taskPrompt)
	if err := m.sessions.AddMessage(ctx, childSessionID, &models.Message{
		Role:    models.RoleUser,
		Content: taskPrompt,
	}); err != nil {
		m.finish(task, taskPrompt, models.SubagentFailed, "", fmt.Sprintf("failed to persist task prompt: %v", err))
		return
	}

	restricted := restrictedRegistry(m.registry, m.config.BlacklistedTools)
	result, err := m.iterate(ctx, restricted, childSession, systemPrompt)

	switch {
	case ctx.Err() != nil:
		m.finish(task, taskPrompt, models.SubagentCancelled, result, "")
	case err != nil:
		m.finish(task, taskPrompt, models.SubagentFailed, "", err.Error())
	default:
		m.finish(task, taskPrompt, models.SubagentCompleted, result, "")
	}
}

// iterate runs a bounded, non-bus-driven tool loop: it is the same LLM-tool
// iteration shape as agentloop.Loop.iterate, but a subagent never dispatches
// through the shared per-session FIFO (it already runs on its own
// goroutine, capped by Config.MaxConcurrent) and never publishes progress
// events (spec.md §4.4: subagents are silent until their single completion
// announcement).
func (m *Manager) iterate(ctx context.Context, registry *agentloop.Registry, session *models.Session, systemPrompt string) (string, error) {
	if m.provider == nil {
		return "", agentloop.ErrNoProvider
	}

	for i := 0; i < m.config.MaxIterations; i++ {
		if ctx.Err() != nil {
			return "", agentloop.ErrCancelled
		}

		history, err := m.sessions.GetHistory(ctx, session.ID)
		if err != nil {
			return "", err
		}

		resp, err := m.provider.Complete(ctx, &agentloop.CompletionRequest{
			System:   systemPrompt,
			Messages: history,
			Tools:    registry.Descriptors(),
		})
		if err != nil {
			return "", err
		}

		if ctx.Err() != nil {
			return "", agentloop.ErrCancelled
		}

		if resp.FinishReason != agentloop.FinishToolCalls || len(resp.ToolCalls) == 0 {
			_ = m.sessions.AddMessage(ctx, session.ID, &models.Message{Role: models.RoleAssistant, Content: resp.Content})
			return resp.Content, nil
		}

		if err := m.sessions.AddMessage(ctx, session.ID, &models.Message{
			Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls,
		}); err != nil {
			return "", err
		}

		if ctx.Err() != nil {
			return "", agentloop.ErrCancelled
		}

		for _, tc := range resp.ToolCalls {
			tctx := agentloop.ToolContext{SessionID: session.ID, Channel: session.Channel, UserID: session.UserID}
			result, execErr := registry.Execute(ctx, tctx, tc.Name, tc.Arguments)
			content := ""
			if execErr != nil {
				content = execErr.Error()
			} else {
				content = result.Content
			}
			if err := m.sessions.AddMessage(ctx, session.ID, &models.Message{
				Role: models.RoleTool, ToolCallID: tc.ID, ToolName: tc.Name, Content: content,
			}); err != nil {
				return "", err
			}
		}

		if ctx.Err() != nil {
			return "", agentloop.ErrCancelled
		}
	}
	return "", agentloop.ErrIterationLimit
}

// finish records the outcome and, unless the run was cancelled, publishes
// the completion announcement as a synthetic inbound message to the parent
// session. Per spec.md §4.4, a cancelled subagent does not publish a
// notification at all — the caller asked for it to stop, so there is
// nothing to report back.
func (m *Manager) finish(task *models.SubagentTask, taskPrompt string, status models.SubagentStatus, result, failureReason string) {
	now := time.Now()
	m.mu.Lock()
	task.Status = status
	task.CompletedAt = &now
	m.mu.Unlock()

	if status == models.SubagentCancelled {
		return
	}

	m.bus.PublishInbound(&models.InboundMessage{
		ID:        uuid.NewString(),
		Channel:   task.Channel,
		SessionID: task.ParentSession,
		Text:      buildAnnouncement(task, taskPrompt, status, result, failureReason),
		Sender:    "system:subagent",
		Timestamp: now,
		Metadata: map[string]any{
			"subagent_task_id": task.ID,
			"subagent_status":  string(status),
		},
	})
}

// buildAnnouncement renders the completion message re-injected into the
// parent session as a user turn, reproducing spec.md §4.4's template
// verbatim: a bracketed status header, the original task prompt, the
// result or failure text, and a trailing instruction telling the main loop
// to summarize naturally without surfacing subagent/task-id mechanics.
func buildAnnouncement(task *models.SubagentTask, taskPrompt string, status models.SubagentStatus, result, failureReason string) string {
	label := task.Label
	if label == "" {
		label = task.ID
	}

	outcome := "completed successfully"
	body := result
	if status == models.SubagentFailed {
		outcome = "failed"
		body = failureReason
	}

	return fmt.Sprintf(`[Subagent '%s' %s]

Task: %s

Result:
%s

Summarize this naturally for the user. Keep it brief (1-2 sentences).
Do not mention technical details like "subagent" or task IDs.`, label, outcome, taskPrompt, body)
}

// buildSystemPrompt renders the system prompt a subagent runs under,
// adapted from internal/tools/subagent/announce.go's BuildSubagentSystemPrompt
// template (same section headings and rule list; "conversing with the user"
// replaced by "messaging tools" since this runtime's subagents have their
// messaging tools stripped by restrictedRegistry rather than being told not
// to use them).
func buildSystemPrompt(task *models.SubagentTask, taskPrompt string) string {
	label := task.Label
	if label == "" {
		label = "(unlabeled)"
	}
	return fmt.Sprintf(`# Subagent Context

You are a subagent spawned by the main agent for a specific task.

## Your role
- You were created to handle: %s
- Complete this task. That is your entire purpose.
- You are NOT the main agent and do not converse with the user directly.

## Rules
1. Stay focused — do your assigned task, nothing else.
2. Complete the task — your final response is automatically reported back to the main agent.
3. Do not spawn further subagents or schedule recurring tasks.
4. Be ephemeral — you may be terminated at any point after completion.

## Session context
- Label: %s
- Parent session: %s
`, taskPrompt, label, task.ParentSession)
}

// CancelBySession cancels every active run spawned from parentSession.
func (m *Manager) CancelBySession(parentSession string) {
	m.mu.RLock()
	ids := append([]string(nil), m.bySession[parentSession]...)
	m.mu.RUnlock()
	for _, id := range ids {
		m.CancelByID(id)
	}
}

// CancelByID cancels a single active run by task ID. A no-op for a task
// that has already finished.
func (m *Manager) CancelByID(taskID string) {
	m.mu.RLock()
	cancel, ok := m.cancels[taskID]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every currently active run, for process shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.CancelByID(id)
	}
}

// ListBySession returns tasks for a session that are either still active or
// completed within Config.GCGracePeriod.
func (m *Manager) ListBySession(sessionID string) []*models.SubagentTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SubagentTask
	for _, id := range m.bySession[sessionID] {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) gc(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return
	}
	delete(m.tasks, taskID)
	ids := m.bySession[task.ParentSession]
	for i, id := range ids {
		if id == taskID {
			m.bySession[task.ParentSession] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// restrictedRegistry returns a fresh Registry containing every tool from
// base except those named in blacklist.
func restrictedRegistry(base *agentloop.Registry, blacklist []string) *agentloop.Registry {
	excluded := make(map[string]bool, len(blacklist))
	for _, name := range blacklist {
		excluded[name] = true
	}
	restricted := agentloop.NewRegistry(nil)
	for _, name := range base.Names() {
		if excluded[name] {
			continue
		}
		if tool, ok := base.Get(name); ok {
			_ = restricted.Register(tool)
		}
	}
	return restricted
}
