// Package models holds the shared data types passed between the message
// bus, the session store, the agent loop, the scheduler, and the subagent
// manager. Nothing in this package talks to a transport, a provider, or a
// database — it is pure data.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single function-call request emitted by the model inside an
// assistant message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is the unit of conversation persisted by the session store.
//
// Invariant (tool-call chain): an assistant message with N ToolCalls must be
// immediately followed by exactly N tool messages whose ToolCallID values are
// a permutation of those ToolCalls' IDs, with no other role in between. This
// chain is atomic for truncation and compaction.
type Message struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// HasToolCalls reports whether this is an assistant message carrying one or
// more tool calls.
func (m *Message) HasToolCalls() bool {
	return m != nil && m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// MetaString returns a string metadata value, or "" if absent.
func (m *Message) MetaString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	v, ok := m.Metadata[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Clone returns a deep copy safe to hand to a caller that may mutate it.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if len(m.ToolCalls) > 0 {
		clone.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// SessionSummary is a compressed prefix of a session's message log.
type SessionSummary struct {
	Content         string    `json:"content"`
	CompressedCount int       `json:"compressed_count"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Session is a single conversation thread, keyed by an opaque, transport-chosen ID.
type Session struct {
	ID          string            `json:"id"`
	Channel     string            `json:"channel"`
	UserID      string            `json:"user_id,omitempty"`
	ChannelData map[string]string `json:"channel_data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	MessageCount int              `json:"message_count"`
	Summary     *SessionSummary   `json:"summary,omitempty"`
}

// Clone returns a deep copy of the session meta (not its message log).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.ChannelData != nil {
		clone.ChannelData = make(map[string]string, len(s.ChannelData))
		for k, v := range s.ChannelData {
			clone.ChannelData[k] = v
		}
	}
	if s.Summary != nil {
		sum := *s.Summary
		clone.Summary = &sum
	}
	return &clone
}

// InboundMessage arrives from a transport and is published onto the bus.
type InboundMessage struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Sender    string         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MetaString returns a string metadata value, or "" if absent.
func (m *InboundMessage) MetaString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	v, _ := m.Metadata[key].(string)
	return v
}

// ProgressStep tags the phase a ProgressMessage reports on.
type ProgressStep string

const (
	StepThinking    ProgressStep = "thinking"
	StepLLMResponse ProgressStep = "llm_response"
	StepToolCall    ProgressStep = "tool_call"
	StepToolResult  ProgressStep = "tool_result"
)

// OutboundMessage is the final reply for a turn, routed to the originating
// channel/session.
type OutboundMessage struct {
	Channel   string    `json:"channel"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressMessage is a best-effort, fire-and-forget intermediate update.
type ProgressMessage struct {
	Channel    string       `json:"channel"`
	SessionID  string       `json:"session_id"`
	Step       ProgressStep `json:"step"`
	Iteration  int          `json:"iteration"`
	ToolName   string       `json:"tool_name,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Text       string       `json:"text,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// ScheduledTask is a cron-driven synthetic inbound message generator.
type ScheduledTask struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	Channel        string     `json:"channel"`
	CronExpression string     `json:"cron_expression"`
	Description    string     `json:"description"`
	TaskPrompt     string     `json:"task_prompt"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	RunCount       int        `json:"run_count"`
	CreatorUserID  string     `json:"creator_user_id,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *ScheduledTask) Clone() *ScheduledTask {
	if t == nil {
		return nil
	}
	clone := *t
	if t.LastRunAt != nil {
		last := *t.LastRunAt
		clone.LastRunAt = &last
	}
	return &clone
}

// SubagentStatus is the lifecycle state of a SubagentTask.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentFailed    SubagentStatus = "failed"
	SubagentCancelled SubagentStatus = "cancelled"
)

// SubagentTask tracks a single background agent run.
type SubagentTask struct {
	ID             string         `json:"id"`
	ParentSession  string         `json:"parent_session_id"`
	Channel        string         `json:"channel"`
	Label          string         `json:"label"`
	Status         SubagentStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}
