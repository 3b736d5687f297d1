package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreResolveOrCreate(t *testing.T) {
	t.Run("creates a new user on first resolve", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		user, err := store.ResolveOrCreate(ctx, "telegram", "123")
		if err != nil {
			t.Fatalf("ResolveOrCreate error: %v", err)
		}
		if user.ID == "" {
			t.Fatal("expected a non-empty user ID")
		}
		if len(user.LinkedPeers) != 1 || user.LinkedPeers[0] != "telegram:123" {
			t.Fatalf("expected a single linked peer telegram:123, got %v", user.LinkedPeers)
		}
	})

	t.Run("resolves the same user on repeat calls", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		first, _ := store.ResolveOrCreate(ctx, "telegram", "123")
		second, err := store.ResolveOrCreate(ctx, "telegram", "123")
		if err != nil {
			t.Fatalf("ResolveOrCreate error: %v", err)
		}
		if first.ID != second.ID {
			t.Fatalf("expected same user ID across calls, got %q and %q", first.ID, second.ID)
		}
	})

	t.Run("distinct channels yield distinct users until linked", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		a, _ := store.ResolveOrCreate(ctx, "telegram", "123")
		b, _ := store.ResolveOrCreate(ctx, "discord", "123")
		if a.ID == b.ID {
			t.Fatal("expected distinct users for distinct channels prior to linking")
		}
	})
}

func TestMemoryStoreLinkAndUnlinkPeer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user, _ := store.ResolveOrCreate(ctx, "telegram", "123")

	if err := store.LinkPeer(ctx, user.ID, "discord", "456"); err != nil {
		t.Fatalf("LinkPeer error: %v", err)
	}

	resolved, err := store.ResolveByPeer(ctx, "discord", "456")
	if err != nil {
		t.Fatalf("ResolveByPeer error: %v", err)
	}
	if resolved == nil || resolved.ID != user.ID {
		t.Fatalf("expected discord:456 to resolve to %q, got %v", user.ID, resolved)
	}

	if err := store.UnlinkPeer(ctx, user.ID, "discord", "456"); err != nil {
		t.Fatalf("UnlinkPeer error: %v", err)
	}
	resolved, err = store.ResolveByPeer(ctx, "discord", "456")
	if err != nil {
		t.Fatalf("ResolveByPeer error: %v", err)
	}
	if resolved != nil {
		t.Fatal("expected discord:456 to no longer resolve after unlink")
	}
}

func TestMemoryStoreLinkPeerRejectsAlreadyLinkedElsewhere(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	userA, _ := store.ResolveOrCreate(ctx, "telegram", "123")
	userB, _ := store.ResolveOrCreate(ctx, "discord", "456")

	if err := store.LinkPeer(ctx, userA.ID, "discord", "456"); err == nil {
		t.Fatal("expected error linking a peer already bound to a different user")
	}
	_ = userB
}

func TestMemoryStoreUnlinkPeerRefusesLastPeer(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user, _ := store.ResolveOrCreate(ctx, "telegram", "123")

	err := store.UnlinkPeer(ctx, user.ID, "telegram", "123")
	if !errors.Is(err, ErrLastPeer) {
		t.Fatalf("expected ErrLastPeer, got %v", err)
	}
}

func TestMemoryStoreGetUnknownUserReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPairingCoderIssueAndVerify(t *testing.T) {
	coder := NewPairingCoder([]byte("test-secret"), time.Minute)

	code, err := coder.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	userID, err := coder.Verify(code)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %q", userID)
	}
}

func TestPairingCoderRejectsExpiredCode(t *testing.T) {
	coder := NewPairingCoder([]byte("test-secret"), -time.Minute)

	code, err := coder.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := coder.Verify(code); err == nil {
		t.Fatal("expected an expired pairing code to fail verification")
	}
}

func TestPairingCoderRejectsWrongSecret(t *testing.T) {
	issuer := NewPairingCoder([]byte("secret-a"), time.Minute)
	verifier := NewPairingCoder([]byte("secret-b"), time.Minute)

	code, err := issuer.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := verifier.Verify(code); err == nil {
		t.Fatal("expected verification to fail with a mismatched secret")
	}
}
