package commands

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscore/agentruntime/internal/agentloop"
	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/internal/identity"
	"github.com/nexuscore/agentruntime/internal/sessions"
	"github.com/nexuscore/agentruntime/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, Deps) {
	t.Helper()
	deps := Deps{
		Sessions: sessions.New(sessions.NewMemoryPersister()),
		Tools:    agentloop.NewRegistry(nil),
		Bus:      bus.New(nil),
		Identity: identity.NewMemoryStore(),
		Pairing:  identity.NewPairingCoder([]byte("test-secret"), time.Minute),
	}
	r := NewRegistry(nil)
	RegisterBuiltins(r, deps)
	return r, deps
}

func TestClearCommandClearsSessionHistory(t *testing.T) {
	r, deps := newTestRegistry(t)
	ctx := context.Background()

	if err := deps.Sessions.AddMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if n := deps.Sessions.GetMessageCount(ctx, "s1"); n != 1 {
		t.Fatalf("expected 1 seeded message, got %d", n)
	}

	result, ok := r.Dispatch(ctx, "/clear", "s1", "test", "u1", "u1")
	if !ok || result.Text == "" {
		t.Fatalf("expected a non-empty /clear result, got %+v (ok=%v)", result, ok)
	}
	if n := deps.Sessions.GetMessageCount(ctx, "s1"); n != 0 {
		t.Fatalf("expected session cleared, got %d messages", n)
	}
}

func TestWhoamiResolvesIdentity(t *testing.T) {
	r, _ := newTestRegistry(t)
	result, ok := r.Dispatch(context.Background(), "/whoami", "s1", "test", "u1", "u1")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if result.Text == "" {
		t.Fatal("expected a non-empty whoami result")
	}
}

func TestLinkWithValidCodeLinksPeer(t *testing.T) {
	r, deps := newTestRegistry(t)
	ctx := context.Background()

	primary, err := deps.Identity.ResolveOrCreate(ctx, "telegram", "123")
	if err != nil {
		t.Fatalf("resolve primary: %v", err)
	}
	code, err := deps.Pairing.Issue(primary.ID)
	if err != nil {
		t.Fatalf("issue pairing code: %v", err)
	}

	result, ok := r.Dispatch(ctx, "/link "+code, "s2", "discord", "456", "456")
	if !ok {
		t.Fatal("expected ok=true")
	}
	if result.Text == "" {
		t.Fatal("expected a confirmation message")
	}

	resolved, err := deps.Identity.ResolveByPeer(ctx, "discord", "456")
	if err != nil {
		t.Fatalf("resolve by peer: %v", err)
	}
	if resolved == nil || resolved.ID != primary.ID {
		t.Fatalf("expected discord:456 linked to %q, got %v", primary.ID, resolved)
	}
}

func TestLinkWithInvalidCodeDoesNotLink(t *testing.T) {
	r, _ := newTestRegistry(t)
	result, ok := r.Dispatch(context.Background(), "/link not-a-real-code", "s2", "discord", "456", "456")
	if !ok || result.Text == "" {
		t.Fatal("expected a non-empty rejection message")
	}
}

func TestStopCancelsSession(t *testing.T) {
	r, deps := newTestRegistry(t)
	cancelled := make(chan string, 1)
	deps.Bus.OnSessionCancel(func(sessionID string) { cancelled <- sessionID })

	result, ok := r.Dispatch(context.Background(), "/stop", "s1", "test", "u1", "u1")
	if !ok || result.Text != "[Session cancelled]" {
		t.Fatalf("unexpected /stop result: %+v (ok=%v)", result, ok)
	}

	select {
	case sid := <-cancelled:
		if sid != "s1" {
			t.Fatalf("expected cancellation for s1, got %q", sid)
		}
	default:
		t.Fatal("expected CancelSession to have been invoked synchronously")
	}
}
