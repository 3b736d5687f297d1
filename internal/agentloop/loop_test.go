package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/internal/identity"
	"github.com/nexuscore/agentruntime/internal/sessions"
	"github.com/nexuscore/agentruntime/pkg/models"
)

type fakeProvider struct {
	responses []*CompletionResponse
	calls     int
}

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if f.calls >= len(f.responses) {
		return &CompletionResponse{Content: "done", FinishReason: FinishStop}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}
func (f *fakeProvider) Name() string        { return "fake" }
func (f *fakeProvider) Models() []string    { return []string{"fake-model"} }
func (f *fakeProvider) SupportsTools() bool { return true }

type echoTool struct{ calls int }

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes its input" }
func (e *echoTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}
}
func (e *echoTool) Execute(ctx context.Context, tc ToolContext, args json.RawMessage) (*ToolResult, error) {
	e.calls++
	return &ToolResult{Content: "echo: " + string(args)}, nil
}

func newTestLoop(t *testing.T, provider LLMProvider) (*Loop, *bus.Bus, *sessions.Store) {
	t.Helper()
	b := bus.New(nil)
	store := sessions.New(sessions.NewMemoryPersister())
	registry := NewRegistry(nil)
	if err := registry.Register(&echoTool{}); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	loop := New(provider, registry, store, b, identity.NewMemoryStore(), DefaultLoopConfig())
	return loop, b, store
}

func TestIterateCompletesOnToolFreeResponse(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{Content: "hello there", FinishReason: FinishStop},
	}}
	loop, _, store := newTestLoop(t, provider)
	ctx := context.Background()

	session, _ := store.GetOrCreate(ctx, "s1", "test")
	text, err := loop.iterate(ctx, session, "system prompt")
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected final text, got %q", text)
	}
}

func TestIterateRunsToolCallThenCompletes(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{
			FinishReason: FinishToolCalls,
			ToolCalls:    []models.ToolCall{{ID: "tc1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}},
		},
		{Content: "final answer", FinishReason: FinishStop},
	}}
	loop, _, store := newTestLoop(t, provider)
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "s1", "test")

	text, err := loop.iterate(ctx, session, "system prompt")
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if text != "final answer" {
		t.Fatalf("expected final answer, got %q", text)
	}

	hist, _ := store.GetHistory(ctx, "s1")
	foundTool := false
	for _, m := range hist {
		if m.Role == models.RoleTool && m.ToolCallID == "tc1" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Fatal("expected persisted tool result message for tc1")
	}
}

func TestIterateHitsIterationLimit(t *testing.T) {
	// Provider always returns a tool call, never finishes.
	infiniteToolCalls := &fakeProvider{}
	for i := 0; i < 50; i++ {
		infiniteToolCalls.responses = append(infiniteToolCalls.responses, &CompletionResponse{
			FinishReason: FinishToolCalls,
			ToolCalls:    []models.ToolCall{{ID: "tc", Name: "echo", Arguments: json.RawMessage(`{}`)}},
		})
	}
	loop, _, store := newTestLoop(t, infiniteToolCalls)
	loop.config.MaxIterations = 3
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "s1", "test")

	_, err := loop.iterate(ctx, session, "system prompt")
	if err != ErrIterationLimit {
		t.Fatalf("expected ErrIterationLimit, got %v", err)
	}
}

func TestIterateRespondsToCancellation(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{Content: "should not be reached", FinishReason: FinishStop},
	}}
	loop, _, store := newTestLoop(t, provider)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session, _ := store.GetOrCreate(context.Background(), "s1", "test")

	_, err := loop.iterate(ctx, session, "system prompt")
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestUnknownToolIsRecordedAsToolMessage(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{
			FinishReason: FinishToolCalls,
			ToolCalls:    []models.ToolCall{{ID: "tc1", Name: "does-not-exist", Arguments: json.RawMessage(`{}`)}},
		},
		{Content: "recovered", FinishReason: FinishStop},
	}}
	loop, _, store := newTestLoop(t, provider)
	ctx := context.Background()
	session, _ := store.GetOrCreate(ctx, "s1", "test")

	text, err := loop.iterate(ctx, session, "system prompt")
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("expected loop to recover after tool error, got %q", text)
	}

	hist, _ := store.GetHistory(ctx, "s1")
	var sawError bool
	for _, m := range hist {
		if m.Role == models.RoleTool && m.ToolCallID == "tc1" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected a tool-role message recording the execution error")
	}
}

func TestEndToEndTurnViaBusPublishesOutbound(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{Content: "final reply", FinishReason: FinishStop},
	}}
	loop, b, _ := newTestLoop(t, provider)

	received := make(chan *models.OutboundMessage, 1)
	b.RegisterOutboundHandler("test", func(ctx context.Context, msg *models.OutboundMessage) error {
		received <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	b.PublishInbound(&models.InboundMessage{ID: "1", Channel: "test", SessionID: "s1", Text: "hi", Sender: "user"})

	select {
	case msg := <-received:
		if msg.Text != "final reply" {
			t.Fatalf("expected final reply text, got %q", msg.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound reply")
	}
}

func TestRunTurnBindsIdentityForOrdinaryMessage(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{Content: "hi there", FinishReason: FinishStop},
	}}
	loop, b, store := newTestLoop(t, provider)

	received := make(chan *models.OutboundMessage, 1)
	b.RegisterOutboundHandler("test", func(ctx context.Context, msg *models.OutboundMessage) error {
		received <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	b.PublishInbound(&models.InboundMessage{ID: "1", Channel: "test", SessionID: "s1", Text: "hi", Sender: "alice"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound reply")
	}

	sess, ok := store.Get("s1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if sess.UserID != "test:alice" {
		t.Fatalf("expected session bound to resolved identity %q, got %q", "test:alice", sess.UserID)
	}
}

func TestRunTurnRestoresCreatorUserIDForSchedulerOrigin(t *testing.T) {
	provider := &fakeProvider{responses: []*CompletionResponse{
		{Content: "heartbeat sent", FinishReason: FinishStop},
	}}
	loop, b, store := newTestLoop(t, provider)

	received := make(chan *models.OutboundMessage, 1)
	b.RegisterOutboundHandler("test", func(ctx context.Context, msg *models.OutboundMessage) error {
		received <- msg
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	b.PublishInbound(&models.InboundMessage{
		ID: "1", Channel: "test", SessionID: "s4", Text: "heartbeat", Sender: "scheduler",
		Metadata: map[string]any{"scheduled_task_id": "task-1", "creator_user_id": "u9"},
	})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound reply")
	}

	sess, ok := store.Get("s4")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if sess.UserID != "u9" {
		t.Fatalf("expected session bound to creator_user_id %q, got %q", "u9", sess.UserID)
	}

	hist, err := store.GetHistory(context.Background(), "s4")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	var sawSource bool
	for _, m := range hist {
		if m.Role == models.RoleUser && m.MetaString("source") == "scheduler" {
			sawSource = true
		}
	}
	if !sawSource {
		t.Fatal("expected persisted user message to carry source=scheduler metadata")
	}
}
