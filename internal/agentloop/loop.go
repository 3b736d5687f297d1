package agentloop

import (
	"context"
	"strings"
	"sync"

	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/internal/identity"
	"github.com/nexuscore/agentruntime/internal/sessions"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// PromptSectionFunc contributes one dynamic section (memory, skills, space
// context) to a session's assembled system prompt. A nil func or one that
// returns "" contributes nothing.
type PromptSectionFunc func(ctx context.Context, session *models.Session) string

// Loop is the Agent Loop (spec.md §4.5): it consumes the Message Bus's
// inbound queue, dispatches each message through the per-session FIFO under
// a global concurrency cap, runs the LLM-tool iteration loop, and triggers
// asynchronous compaction after each turn.
//
// Grounded on internal/agent/loop.go's AgenticLoop state machine, adapted
// from a single linear Run call into a long-lived consumer of the Message
// Bus's inbound channel (the teacher has no bus; transports call Run
// directly).
type Loop struct {
	provider LLMProvider
	registry *Registry
	sessions *sessions.Store
	bus      *bus.Bus
	identity identity.Store
	config   *LoopConfig

	dispatcher *dispatcher

	MemorySection       PromptSectionFunc
	SkillsSection       PromptSectionFunc
	SpaceContextSection PromptSectionFunc

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a Loop. identityStore resolves/creates the user bound to each
// inbound message's (channel, sender), per spec.md §4.5.2 step 2; it may be
// nil, in which case runTurn never binds a session to a user. Call Start to
// begin consuming the bus.
func New(provider LLMProvider, registry *Registry, store *sessions.Store, b *bus.Bus, identityStore identity.Store, config *LoopConfig) *Loop {
	config = sanitizeLoopConfig(config)
	l := &Loop{
		provider:   provider,
		registry:   registry,
		sessions:   store,
		bus:        b,
		identity:   identityStore,
		config:     config,
		dispatcher: newDispatcher(config.MaxConcurrentMessages),
		active:     make(map[string]context.CancelFunc),
	}
	b.OnSessionCancel(l.cancelSession)
	return l
}

func (l *Loop) cancelSession(sessionID string) {
	l.mu.Lock()
	cancel, ok := l.active[sessionID]
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

// Start launches the single consumer goroutine over the bus's inbound
// channel. It returns immediately; Stop (via ctx cancellation) ends the
// consumer once the channel closes or ctx is done.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-l.bus.InboundMessages():
				if !ok {
					return
				}
				l.dispatcher.submit(ctx, msg.SessionID, func(turnCtx context.Context) {
					l.runTurn(turnCtx, msg)
				})
			}
		}
	}()
}

// runTurn executes one full LLM-tool iteration cycle for a single inbound
// message. It is always invoked by the dispatcher, never directly, so it
// may assume it is the only turn currently running for msg.SessionID.
func (l *Loop) runTurn(parentCtx context.Context, msg *models.InboundMessage) {
	ctx, cancel := context.WithCancel(parentCtx)
	l.mu.Lock()
	l.active[msg.SessionID] = cancel
	l.mu.Unlock()
	defer func() {
		cancel()
		l.mu.Lock()
		delete(l.active, msg.SessionID)
		l.mu.Unlock()
	}()

	// Cancellation recheck point 1: before any work begins. This catches a
	// cancelled loop context. A session cancel (/stop) reaches only the turn
	// registered in l.active when it arrives, so a turn that was still queued
	// behind it gets a fresh context here and runs.
	if ctx.Err() != nil {
		return
	}

	session, err := l.sessions.GetOrCreate(ctx, msg.SessionID, msg.Channel)
	if err != nil {
		l.config.Logger.Error("failed to get or create session", "error", err, "session_id", msg.SessionID)
		return
	}
	session.UserID = l.resolveAndBindUser(ctx, msg)

	metadata := map[string]any{"sender": msg.Sender}
	if msg.MetaString("scheduled_task_id") != "" {
		metadata["source"] = "scheduler"
	}
	inbound := &models.Message{
		Role:     models.RoleUser,
		Content:  msg.Text,
		Metadata: metadata,
	}
	if err := l.sessions.AddMessage(ctx, msg.SessionID, inbound); err != nil {
		l.config.Logger.Error("failed to persist inbound message", "error", err, "session_id", msg.SessionID)
		return
	}

	systemPrompt := l.buildSystemPrompt(ctx, session)
	finalText, iterErr := l.iterate(ctx, session, systemPrompt)

	if iterErr != nil {
		l.config.Logger.Warn("turn ended without a final response", "error", iterErr, "session_id", msg.SessionID)
		if ctx.Err() != nil {
			return // cancelled: no outbound reply, no compaction spam.
		}
	}

	if finalText != "" {
		l.bus.PublishOutbound(parentCtx, &models.OutboundMessage{
			Channel:   msg.Channel,
			SessionID: msg.SessionID,
			Text:      finalText,
		})
	}

	// Compaction is triggered asynchronously and never blocks the reply.
	go l.maybeCompact(context.Background(), msg.SessionID)
}

// resolveAndBindUser implements spec.md §4.5.2 step 2: a scheduler-originated
// message restores the creator_user_id recorded when the task fired; any
// other message resolves (or creates) an identity from the channel/sender
// pair. Either way, the result is bound to the session so FindSessionsByUser
// and every ToolContext.UserID in this turn see it. Returns "" (no binding)
// if the message is missing a creator id, or no identity store is wired.
func (l *Loop) resolveAndBindUser(ctx context.Context, msg *models.InboundMessage) string {
	if msg.MetaString("scheduled_task_id") != "" {
		userID := msg.MetaString("creator_user_id")
		if userID != "" {
			l.sessions.SetSessionUser(ctx, msg.SessionID, userID)
		}
		return userID
	}

	if l.identity == nil {
		return ""
	}
	user, err := l.identity.ResolveOrCreate(ctx, msg.Channel, msg.Sender)
	if err != nil {
		l.config.Logger.Warn("failed to resolve identity", "error", err, "session_id", msg.SessionID)
		return ""
	}
	l.sessions.SetSessionUser(ctx, msg.SessionID, user.ID)
	return user.ID
}

// iterate runs the LLM-tool loop until the provider returns a final
// response or the iteration ceiling is reached.
func (l *Loop) iterate(ctx context.Context, session *models.Session, systemPrompt string) (string, error) {
	if l.provider == nil {
		return "", ErrNoProvider
	}

	for iteration := 0; iteration < l.config.MaxIterations; iteration++ {
		// Cancellation recheck point 2: top of every iteration.
		if ctx.Err() != nil {
			return "", ErrCancelled
		}

		history, err := l.sessions.GetHistory(ctx, session.ID)
		if err != nil {
			return "", &Error{Op: "get_history", SessionID: session.ID, Cause: err}
		}

		l.emitProgress(ctx, session, models.StepThinking, iteration, "", "", "")

		resp, err := l.provider.Complete(ctx, &CompletionRequest{
			System:    systemPrompt,
			Messages:  history,
			Tools:     l.registry.Descriptors(),
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			return "", &Error{Op: "provider_complete", SessionID: session.ID, Cause: err}
		}

		// Cancellation recheck point 3: after the (possibly slow) provider
		// call returns, before acting on its response.
		if ctx.Err() != nil {
			return "", ErrCancelled
		}

		if resp.FinishReason != FinishToolCalls || len(resp.ToolCalls) == 0 {
			assistantMsg := &models.Message{Role: models.RoleAssistant, Content: resp.Content}
			if err := l.sessions.AddMessage(ctx, session.ID, assistantMsg); err != nil {
				return "", &Error{Op: "persist_assistant", SessionID: session.ID, Cause: err}
			}
			l.emitProgress(ctx, session, models.StepLLMResponse, iteration, "", "", resp.Content)
			return resp.Content, nil
		}

		assistantMsg := &models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		if err := l.sessions.AddMessage(ctx, session.ID, assistantMsg); err != nil {
			return "", &Error{Op: "persist_assistant", SessionID: session.ID, Cause: err}
		}

		// Cancellation recheck point 4: before executing any tool calls —
		// tool execution may have side effects, so a /stop here must take
		// effect before the first one runs.
		if ctx.Err() != nil {
			return "", ErrCancelled
		}

		for _, tc := range resp.ToolCalls {
			l.emitProgress(ctx, session, models.StepToolCall, iteration, tc.Name, tc.ID, "")

			tctx := ToolContext{SessionID: session.ID, Channel: session.Channel, UserID: session.UserID}
			result, execErr := l.registry.Execute(ctx, tctx, tc.Name, tc.Arguments)

			var toolMsg *models.Message
			if execErr != nil {
				toolMsg = &models.Message{
					Role:       models.RoleTool,
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Content:    execErr.Error(),
				}
				l.emitProgress(ctx, session, models.StepToolResult, iteration, tc.Name, tc.ID, execErr.Error())
			} else {
				toolMsg = &models.Message{
					Role:       models.RoleTool,
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Content:    result.Content,
				}
				l.emitProgress(ctx, session, models.StepToolResult, iteration, tc.Name, tc.ID, result.Content)
			}
			if err := l.sessions.AddMessage(ctx, session.ID, toolMsg); err != nil {
				return "", &Error{Op: "persist_tool_result", SessionID: session.ID, Cause: err}
			}
		}

		// Cancellation recheck point 5: after tool execution, before
		// looping back for another LLM call.
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
	}

	return "", ErrIterationLimit
}

func (l *Loop) emitProgress(ctx context.Context, session *models.Session, step models.ProgressStep, iteration int, toolName, toolCallID, text string) {
	l.bus.PublishProgress(ctx, &models.ProgressMessage{
		Channel:    session.Channel,
		SessionID:  session.ID,
		Step:       step,
		Iteration:  iteration,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Text:       text,
	})
}

// buildSystemPrompt assembles the system prompt in the fixed order spec.md
// §4.5 requires: base, then mandatory security rules, then memory, skills,
// and space context — each only if non-empty.
func (l *Loop) buildSystemPrompt(ctx context.Context, session *models.Session) string {
	var parts []string
	if l.config.SystemPromptBase != "" {
		parts = append(parts, l.config.SystemPromptBase)
	}
	if l.config.MandatorySecurityRules != "" {
		parts = append(parts, l.config.MandatorySecurityRules)
	}
	for _, section := range []PromptSectionFunc{l.MemorySection, l.SkillsSection, l.SpaceContextSection} {
		if section == nil {
			continue
		}
		if s := section(ctx, session); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
