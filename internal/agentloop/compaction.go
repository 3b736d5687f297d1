package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// maybeCompact summarises the head of a session's message log once its
// in-memory size exceeds config.MemoryWindow. It is always invoked from a
// background goroutine after a turn's reply has already been sent, so it
// never adds latency to a user-visible response.
//
// keepRecent is floor(CompactionKeepRatio * MemoryWindow): the rest of the
// window is the candidate for summarisation, subject to
// sessions.Store.GetMessagesToCompress's chain-safety walk-back.
func (l *Loop) maybeCompact(ctx context.Context, sessionID string) {
	count := l.sessions.GetMessageCount(ctx, sessionID)
	if count <= l.config.MemoryWindow {
		return
	}

	keepRecent := int(float64(l.config.MemoryWindow) * l.config.CompactionKeepRatio)
	toCompress := l.sessions.GetMessagesToCompress(ctx, sessionID, keepRecent)
	if len(toCompress) == 0 {
		return
	}

	sess, ok := l.sessions.Get(sessionID)
	if !ok {
		return
	}
	existingCount := 0
	var existingSummary string
	if sess.Summary != nil {
		existingCount = sess.Summary.CompressedCount
		existingSummary = sess.Summary.Content
	}
	newCumulativeCount := existingCount + len(toCompress)

	summaryText := l.summarize(ctx, existingSummary, toCompress)

	if err := l.sessions.ApplyCompression(ctx, sessionID, summaryText, newCumulativeCount); err != nil {
		l.config.Logger.Error("failed to apply compression", "error", err, "session_id", sessionID)
	}
}

// summarize asks the provider to fold toCompress (plus any existing
// summary) into a new summary. If the provider is unavailable or errors, it
// falls back to a deterministic concatenation so compaction never blocks on
// LLM availability. The fallback is lossy: user and assistant text is cut to
// 200 bytes per message and tool output is reduced to the tool's name.
func (l *Loop) summarize(ctx context.Context, existingSummary string, toCompress []*models.Message) string {
	if l.provider != nil {
		req := &CompletionRequest{
			System:    "Summarise the following conversation history into a concise paragraph a future turn can use as context. Preserve names, decisions, and open commitments.",
			Messages:  toCompress,
			MaxTokens: l.config.MaxTokens,
		}
		if existingSummary != "" {
			req.Messages = append([]*models.Message{{Role: models.RoleSystem, Content: "Prior summary: " + existingSummary}}, toCompress...)
		}
		resp, err := l.provider.Complete(ctx, req)
		if err == nil && resp.Content != "" {
			return resp.Content
		}
		l.config.Logger.Warn("provider summarisation failed, falling back to deterministic summary", "error", err)
	}
	return deterministicSummary(existingSummary, toCompress)
}

// deterministicSummary never calls out to a provider: it is the fallback
// used when no LLMProvider is configured or summarisation fails, and by
// tests that need compaction behavior without a live provider.
func deterministicSummary(existingSummary string, toCompress []*models.Message) string {
	var b strings.Builder
	if existingSummary != "" {
		b.WriteString(existingSummary)
		b.WriteString(" ")
	}
	for _, m := range toCompress {
		switch m.Role {
		case models.RoleUser:
			fmt.Fprintf(&b, "User said: %s. ", truncate(m.Content, 200))
		case models.RoleAssistant:
			if m.HasToolCalls() {
				fmt.Fprintf(&b, "Assistant invoked %d tool(s). ", len(m.ToolCalls))
			} else {
				fmt.Fprintf(&b, "Assistant replied: %s. ", truncate(m.Content, 200))
			}
		case models.RoleTool:
			fmt.Fprintf(&b, "Tool %s returned a result. ", m.ToolName)
		}
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
