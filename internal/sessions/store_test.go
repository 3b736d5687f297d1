package sessions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexuscore/agentruntime/pkg/models"
)

func toolCallMsg(id string, toolCallIDs ...string) *models.Message {
	calls := make([]models.ToolCall, len(toolCallIDs))
	for i, tcid := range toolCallIDs {
		calls[i] = models.ToolCall{ID: tcid, Name: "noop", Arguments: json.RawMessage(`{}`)}
	}
	return &models.Message{ID: id, Role: models.RoleAssistant, Content: "", ToolCalls: calls}
}

func toolResultMsg(id, toolCallID string) *models.Message {
	return &models.Message{ID: id, Role: models.RoleTool, ToolCallID: toolCallID, Content: "ok"}
}

func userMsg(id string) *models.Message {
	return &models.Message{ID: id, Role: models.RoleUser, Content: "hi"}
}

func TestSafeSplitBoundaryNeverSplitsChain(t *testing.T) {
	log := []*models.Message{
		userMsg("1"),
		userMsg("2"),
		toolCallMsg("3", "a", "b"),
		toolResultMsg("4", "a"),
		toolResultMsg("5", "b"),
		userMsg("6"),
	}

	// Naive boundary 3 would land mid-chain (on the first tool result): it
	// walks back to the chain's assistant head, then one more step.
	boundary := safeSplitBoundary(log, 3)
	if boundary != 1 {
		t.Fatalf("expected boundary walked back to 1 (before chain start), got %d", boundary)
	}

	// Naive boundary 2 lands exactly on the chain-starting assistant message;
	// spec requires walking one more step left even then.
	boundary = safeSplitBoundary(log, 2)
	if boundary != 1 {
		t.Fatalf("expected boundary walked back to 1, got %d", boundary)
	}
}

func TestGetMessagesToCompressReturnsNilWhenNoSafeBoundary(t *testing.T) {
	log := []*models.Message{
		toolCallMsg("1", "a"),
		toolResultMsg("2", "a"),
		userMsg("3"),
	}
	store := New(NewMemoryPersister())
	ctx := context.Background()
	store.GetOrCreate(ctx, "s1", "test")
	for _, m := range log {
		if err := store.AddMessage(ctx, "s1", m); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	// keepRecent=3 means naive boundary is 0: nothing to compress.
	if out := store.GetMessagesToCompress(ctx, "s1", 3); out != nil {
		t.Fatalf("expected nil, got %d messages", len(out))
	}
}

func TestSanitizeStartDropsOrphanedToolMessages(t *testing.T) {
	in := []*models.Message{
		toolResultMsg("orphan", "missing"),
		toolCallMsg("head", "a", "b"),
		toolResultMsg("t1", "a"),
		// missing second tool result for "b" — partial chain, must be dropped
		userMsg("next"),
	}
	out := sanitizeStart(in)
	if len(out) != 1 || out[0].ID != "next" {
		t.Fatalf("expected sanitisation to leave only 'next', got %+v", out)
	}
}

func TestSanitizeStartKeepsCompleteChain(t *testing.T) {
	in := []*models.Message{
		toolCallMsg("head", "a", "b"),
		toolResultMsg("t1", "a"),
		toolResultMsg("t2", "b"),
		userMsg("next"),
	}
	out := sanitizeStart(in)
	if len(out) != 4 {
		t.Fatalf("expected complete chain preserved, got %d messages", len(out))
	}
}

func TestApplyCompressionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryPersister())
	store.GetOrCreate(ctx, "s1", "test")
	for i := 0; i < 5; i++ {
		if err := store.AddMessage(ctx, "s1", userMsg(string(rune('a'+i)))); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	if err := store.ApplyCompression(ctx, "s1", "summary v1", 3); err != nil {
		t.Fatalf("ApplyCompression: %v", err)
	}
	if got := store.GetMessageCount(ctx, "s1"); got != 2 {
		t.Fatalf("expected 2 messages remaining after compression, got %d", got)
	}

	// Calling again with the identical cumulative count must not drop
	// further messages nor error.
	if err := store.ApplyCompression(ctx, "s1", "summary v1", 3); err != nil {
		t.Fatalf("ApplyCompression (repeat): %v", err)
	}
	if got := store.GetMessageCount(ctx, "s1"); got != 2 {
		t.Fatalf("expected idempotent ApplyCompression to leave count at 2, got %d", got)
	}
}

func TestGetHistoryInjectsSummaryAndRespectsWindow(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryPersister(), WithMemoryWindow(3))
	store.GetOrCreate(ctx, "s1", "test")
	for i := 0; i < 5; i++ {
		if err := store.AddMessage(ctx, "s1", userMsg(string(rune('a'+i)))); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	if err := store.ApplyCompression(ctx, "s1", "earlier context", 2); err != nil {
		t.Fatalf("ApplyCompression: %v", err)
	}

	hist, err := store.GetHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if hist[0].Content != "earlier context" {
		t.Fatalf("expected synthetic summary message first, got %+v", hist[0])
	}
	// window=3 minus 1 reserved for summary leaves 2 tail messages.
	if len(hist) != 3 {
		t.Fatalf("expected summary + 2 tail messages, got %d", len(hist))
	}
}

func TestFindSessionsByUserWorksAfterInitWithoutMaterializingLog(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryPersister()
	persister.SaveSessionMeta(ctx, &models.Session{ID: "s1", Channel: "test", UserID: "u1"})

	store := New(persister)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	found := store.FindSessionsByUser(ctx, "u1")
	if len(found) != 1 || found[0].ID != "s1" {
		t.Fatalf("expected to find session s1 for user u1, got %+v", found)
	}
}
