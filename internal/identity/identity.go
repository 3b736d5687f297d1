// Package identity implements the narrow user store backing spec.md §4.5.2
// step 2 and the `/whoami`, `/link`, `/unlink` command surface (§6): a
// cross-channel identity keyed by a canonical user ID, with platform peers
// ("channel:sender") linked to it, plus short-lived signed pairing codes so
// a user on one channel can prove ownership of an identity already linked on
// another.
//
// Grounded on internal/identity/store.go's canonical-ID + linked-peer-index
// Store/MemoryStore shape from the teacher repository; pairing codes are new
// (the teacher links peers administratively, with no in-band proof step).
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is a single cross-channel identity.
type User struct {
	ID          string
	DisplayName string
	LinkedPeers []string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.LinkedPeers = append([]string(nil), u.LinkedPeers...)
	if u.Metadata != nil {
		c.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Store is the narrow persistence contract the Agent Loop and the command
// surface depend on: resolve/create by (channel, sender), and link/unlink
// peers after a pairing code proves ownership.
type Store interface {
	ResolveOrCreate(ctx context.Context, channel, sender string) (*User, error)
	Get(ctx context.Context, userID string) (*User, error)
	LinkPeer(ctx context.Context, userID, channel, sender string) error
	UnlinkPeer(ctx context.Context, userID, channel, sender string) error
	ResolveByPeer(ctx context.Context, channel, sender string) (*User, error)
}

// MemoryStore is the default in-memory Store, grounded on the teacher's
// identity.MemoryStore.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*User
	peerIndex map[string]string // "channel:sender" -> userID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*User),
		peerIndex: make(map[string]string),
	}
}

func peerKey(channel, sender string) string {
	return channel + ":" + sender
}

// ResolveOrCreate returns the user already linked to (channel, sender), or
// creates a brand-new single-peer identity if none exists.
func (s *MemoryStore) ResolveOrCreate(ctx context.Context, channel, sender string) (*User, error) {
	key := peerKey(channel, sender)

	s.mu.Lock()
	defer s.mu.Unlock()

	if userID, ok := s.peerIndex[key]; ok {
		return s.users[userID].clone(), nil
	}

	now := time.Now()
	user := &User{
		ID:          key,
		LinkedPeers: []string{key},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.users[user.ID] = user
	s.peerIndex[key] = user.ID
	return user.clone(), nil
}

// Get returns a user by canonical ID.
func (s *MemoryStore) Get(ctx context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, &Error{Op: "get", UserID: userID, Cause: ErrNotFound}
	}
	return user.clone(), nil
}

// LinkPeer attaches (channel, sender) to userID. Returns an error if that
// peer is already linked to a different identity.
func (s *MemoryStore) LinkPeer(ctx context.Context, userID, channel, sender string) error {
	key := peerKey(channel, sender)

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return &Error{Op: "link_peer", UserID: userID, Cause: ErrNotFound}
	}
	if existing, ok := s.peerIndex[key]; ok && existing != userID {
		return &Error{Op: "link_peer", UserID: userID, Cause: fmt.Errorf("peer %s already linked to %s", key, existing)}
	}
	for _, p := range user.LinkedPeers {
		if p == key {
			return nil
		}
	}
	user.LinkedPeers = append(user.LinkedPeers, key)
	user.UpdatedAt = time.Now()
	s.peerIndex[key] = userID
	return nil
}

// UnlinkPeer detaches (channel, sender) from userID. A no-op if it was not
// linked to userID, and refuses to remove a user's last remaining peer so an
// identity can never end up with zero linked channels.
func (s *MemoryStore) UnlinkPeer(ctx context.Context, userID, channel, sender string) error {
	key := peerKey(channel, sender)

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return &Error{Op: "unlink_peer", UserID: userID, Cause: ErrNotFound}
	}
	linked := false
	for _, p := range user.LinkedPeers {
		if p == key {
			linked = true
			break
		}
	}
	if !linked {
		return nil
	}
	if len(user.LinkedPeers) <= 1 {
		return &Error{Op: "unlink_peer", UserID: userID, Cause: ErrLastPeer}
	}

	remaining := user.LinkedPeers[:0:0]
	for _, p := range user.LinkedPeers {
		if p != key {
			remaining = append(remaining, p)
		}
	}
	user.LinkedPeers = remaining
	user.UpdatedAt = time.Now()
	delete(s.peerIndex, key)
	return nil
}

// ResolveByPeer looks up the user linked to (channel, sender), if any.
func (s *MemoryStore) ResolveByPeer(ctx context.Context, channel, sender string) (*User, error) {
	key := peerKey(channel, sender)
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.peerIndex[key]
	if !ok {
		return nil, nil
	}
	return s.users[userID].clone(), nil
}

// pairingClaims is the payload of a /link code: a JWT naming the identity
// being offered for linking, scoped to a short lifetime so a leaked code is
// only briefly useful.
type pairingClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// PairingCoder issues and verifies the short-lived codes `/link <code>`
// accepts, signed with a server-held secret so codes cannot be forged or
// extended.
//
// Grounded on the teacher's use of golang-jwt/jwt/v5 for bearer tokens
// elsewhere in the stack; no teacher file issues pairing codes specifically
// since the teacher links peers administratively, not via an in-band code.
type PairingCoder struct {
	secret []byte
	ttl    time.Duration
}

// DefaultPairingTTL is how long a /link code remains valid.
const DefaultPairingTTL = 10 * time.Minute

// NewPairingCoder creates a coder signing with secret. ttl <= 0 uses
// DefaultPairingTTL.
func NewPairingCoder(secret []byte, ttl time.Duration) *PairingCoder {
	if ttl <= 0 {
		ttl = DefaultPairingTTL
	}
	return &PairingCoder{secret: secret, ttl: ttl}
}

// Issue mints a signed pairing code for userID, valid for the coder's TTL.
// jti is a random nonce included only to make two codes for the same user
// issued in the same second distinguishable; it carries no authorization
// weight on its own.
func (c *PairingCoder) Issue(userID string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("identity: generate pairing nonce: %w", err)
	}
	now := time.Now()
	claims := pairingClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(nonce),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify validates a pairing code and returns the user ID it was issued for.
func (c *PairingCoder) Verify(code string) (string, error) {
	var claims pairingClaims
	token, err := jwt.ParseWithClaims(code, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("identity: invalid pairing code: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("identity: invalid pairing code")
	}
	return claims.UserID, nil
}
