// Package sessions implements the Session Store: a durable, per-session
// ordered message log with a safe, tool-call-chain-aware windowing policy
// for building LLM prompts, plus summary-replay on cold start.
//
// Grounded on internal/sessions/memory.go (CRUD shape, deep-clone helpers,
// byKey-style indexing) and internal/sessions/compaction.go (the
// Compactor/CompactionConfig pattern) from the teacher repository; the
// chain-safe boundary walk and start-sanitisation are new, required by
// spec.md §4.2 but absent from the teacher (its compaction strategies
// truncate by raw count, not by tool-call-chain safety).
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// DefaultMemoryWindow is the number of recent messages (plus the summary
// slot, if a summary exists) handed to the provider as prompt context.
const DefaultMemoryWindow = 50

// Store is the Session Store described in spec.md §4.2. It owns ChatMessage,
// Session, and SessionSummary exclusively; callers hold only the references
// a single turn needs.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	persister    Persister
	memoryWindow int

	metas    map[string]*models.Session
	logs     map[string][]*models.Message
	hydrated map[string]bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMemoryWindow overrides DefaultMemoryWindow.
func WithMemoryWindow(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.memoryWindow = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store backed by the given Persister. Call Init once before
// serving traffic so findSessionsByUser works for sessions never
// materialised this run.
func New(persister Persister, opts ...Option) *Store {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	s := &Store{
		logger:       slog.Default().With("component", "sessions"),
		persister:    persister,
		memoryWindow: DefaultMemoryWindow,
		metas:        make(map[string]*models.Session),
		logs:         make(map[string][]*models.Message),
		hydrated:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init loads all session metas (a cheap index) without replaying message
// logs. After Init, FindSessionsByUser works for every known session even if
// GetOrCreate has not been called on it this run.
func (s *Store) Init(ctx context.Context) error {
	metas, err := s.persister.LoadAllSessionMetas(ctx)
	if err != nil {
		return &Error{Op: "init", Cause: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metas {
		s.metas[m.ID] = m
	}
	return nil
}

// GetOrCreate returns the session, creating and persisting minimal meta if
// absent. A session previously created with channel "unknown" is upgraded to
// the supplied channel.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, channel string) (*models.Session, error) {
	s.mu.Lock()
	sess, ok := s.metas[sessionID]
	if ok {
		upgraded := sess.Channel == "unknown" && channel != "" && channel != "unknown"
		if upgraded {
			sess.Channel = channel
			sess.UpdatedAt = time.Now()
		}
		clone := sess.Clone()
		s.mu.Unlock()
		if upgraded {
			s.persistMetaBestEffort(ctx, sess)
		}
		return clone, nil
	}

	now := time.Now()
	if channel == "" {
		channel = "unknown"
	}
	sess = &models.Session{
		ID:        sessionID,
		Channel:   channel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.metas[sessionID] = sess
	clone := sess.Clone()
	s.mu.Unlock()

	s.persistMetaBestEffort(ctx, sess)
	return clone, nil
}

func (s *Store) persistMetaBestEffort(ctx context.Context, sess *models.Session) {
	if err := s.persister.SaveSessionMeta(ctx, sess.Clone()); err != nil {
		s.logger.Warn("failed to persist session meta", "error", err, "session_id", sess.ID)
	}
}

// AddMessage assigns an ID if absent, appends to the in-memory log, and
// durably persists the append. Persistence errors are fatal for the turn and
// are surfaced to the caller.
func (s *Store) AddMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return &Error{Op: "add_message", SessionID: sessionID, Cause: fmt.Errorf("message is nil")}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if err := s.persister.AppendMessage(ctx, sessionID, msg.Clone()); err != nil {
		return &Error{Op: "add_message", SessionID: sessionID, Cause: err}
	}

	s.mu.Lock()
	s.ensureHydratedLocked(ctx, sessionID)
	s.logs[sessionID] = append(s.logs[sessionID], msg.Clone())
	if sess, ok := s.metas[sessionID]; ok {
		sess.MessageCount = len(s.logs[sessionID])
		sess.UpdatedAt = msg.CreatedAt
	}
	s.mu.Unlock()
	return nil
}

// ensureHydratedLocked loads a session's message log from the persister on
// first touch this run, honouring the summary's CompressedCount to skip the
// head of the on-disk log, then re-applies start-sanitisation so a
// slightly-off persisted count cannot expose a broken chain.
//
// Caller must hold s.mu.
func (s *Store) ensureHydratedLocked(ctx context.Context, sessionID string) {
	if s.hydrated[sessionID] {
		return
	}
	s.hydrated[sessionID] = true

	full, err := s.persister.LoadMessages(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to load persisted messages", "error", err, "session_id", sessionID)
		return
	}
	summary, err := s.persister.LoadSummary(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to load persisted summary", "error", err, "session_id", sessionID)
	}

	skip := 0
	if summary != nil {
		skip = summary.CompressedCount
		if skip > len(full) {
			skip = len(full)
		}
	}
	tail := sanitizeStart(full[skip:])
	s.logs[sessionID] = tail

	if sess, ok := s.metas[sessionID]; ok {
		sess.Summary = summary
		sess.MessageCount = len(tail)
	}
}

// GetHistory returns the prompt-ready view: a synthetic system message
// carrying the summary (if any), followed by the tail of the log up to
// memory_window (minus one slot reserved for the summary), sanitised so it
// never begins with a tool message or a truncated chain.
func (s *Store) GetHistory(ctx context.Context, sessionID string) ([]*models.Message, error) {
	s.mu.Lock()
	s.ensureHydratedLocked(ctx, sessionID)
	log := s.logs[sessionID]
	sess := s.metas[sessionID]
	s.mu.Unlock()

	var summary *models.SessionSummary
	if sess != nil {
		summary = sess.Summary
	}

	limit := s.memoryWindow
	if summary != nil {
		limit--
	}
	if limit < 0 {
		limit = 0
	}

	tail := log
	if len(tail) > limit {
		tail = tail[len(tail)-limit:]
	}
	tail = sanitizeStart(tail)

	out := make([]*models.Message, 0, len(tail)+1)
	if summary != nil && summary.Content != "" {
		out = append(out, &models.Message{
			ID:        "summary:" + sessionID,
			Role:      models.RoleSystem,
			Content:   summary.Content,
			CreatedAt: summary.LastUpdated,
			Metadata:  map[string]any{"synthetic": "summary"},
		})
	}
	for _, m := range tail {
		out = append(out, m.Clone())
	}
	return out, nil
}

// sanitizeStart drops any leading tool message (its assistant head was
// truncated) and, if the new head is an assistant-with-tool-calls message
// that is not followed by all of its tool results, drops the whole partial
// chain and retries. Never mutates its input slice.
func sanitizeStart(msgs []*models.Message) []*models.Message {
	i := 0
	for i < len(msgs) {
		head := msgs[i]
		if head.Role == models.RoleTool {
			i++
			continue
		}
		if head.HasToolCalls() {
			expected := len(head.ToolCalls)
			actual := 0
			for actual < expected && i+1+actual < len(msgs) && msgs[i+1+actual].Role == models.RoleTool {
				actual++
			}
			if actual < expected {
				i += 1 + actual
				continue
			}
		}
		break
	}
	return msgs[i:]
}

// GetMessageCount returns the number of messages currently held in memory
// for a session (i.e. excluding any head already folded into the summary).
func (s *Store) GetMessageCount(ctx context.Context, sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureHydratedLocked(ctx, sessionID)
	return len(s.logs[sessionID])
}

// GetMessagesToCompress returns the head slice of the in-memory log that can
// safely be summarised while keeping keepRecent messages live, or nil if no
// safe, non-empty boundary exists. The boundary is walked backward until it
// does not split a tool-call chain (spec.md §4.2).
func (s *Store) GetMessagesToCompress(ctx context.Context, sessionID string, keepRecent int) []*models.Message {
	s.mu.Lock()
	s.ensureHydratedLocked(ctx, sessionID)
	log := s.logs[sessionID]
	s.mu.Unlock()

	total := len(log)
	naive := total - keepRecent
	if naive <= 0 {
		return nil
	}
	boundary := safeSplitBoundary(log, naive)
	if boundary <= 0 {
		return nil
	}
	out := make([]*models.Message, boundary)
	for i := 0; i < boundary; i++ {
		out[i] = log[i].Clone()
	}
	return out
}

// safeSplitBoundary walks boundary backward so index boundary never falls
// inside a tool-call chain: a tool-role message at the boundary means its
// assistant head must move to the "kept" side too; an assistant-with-tool-
// calls message at the boundary is itself walked back one more step.
func safeSplitBoundary(log []*models.Message, boundary int) int {
	for boundary > 0 && boundary < len(log) {
		msg := log[boundary]
		if msg.Role == models.RoleTool {
			j := boundary - 1
			for j >= 0 && !log[j].HasToolCalls() {
				j--
			}
			if j < 0 {
				return 0
			}
			boundary = j
			continue
		}
		if msg.HasToolCalls() {
			boundary--
			continue
		}
		break
	}
	return boundary
}

// ApplyCompression replaces the session summary and drops the now-summarised
// head of the in-memory log.
//
// newCompressedCount is the CUMULATIVE count of head messages the new
// summary covers (matching SessionSummary.CompressedCount's definition in
// spec.md §3). Passing the same (summaryText, newCompressedCount) twice is a
// no-op the second time: the delta actually dropped is
// newCompressedCount-existingCompressedCount, clamped to zero, which is how
// ApplyCompression stays idempotent per spec.md §8 even though spec.md §4.2
// describes the caller-facing delta as something the store "accumulates".
func (s *Store) ApplyCompression(ctx context.Context, sessionID, summaryText string, newCompressedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureHydratedLocked(ctx, sessionID)

	sess, ok := s.metas[sessionID]
	if !ok {
		return &Error{Op: "apply_compression", SessionID: sessionID, Cause: fmt.Errorf("session not found")}
	}

	existingCount := 0
	if sess.Summary != nil {
		existingCount = sess.Summary.CompressedCount
	}
	delta := newCompressedCount - existingCount
	if delta < 0 {
		delta = 0
	}

	log := s.logs[sessionID]
	if delta > len(log) {
		delta = len(log)
	}
	s.logs[sessionID] = log[delta:]

	summary := &models.SessionSummary{
		Content:         summaryText,
		CompressedCount: newCompressedCount,
		LastUpdated:     time.Now(),
	}
	sess.Summary = summary
	sess.MessageCount = len(s.logs[sessionID])

	if err := s.persister.SaveSummary(ctx, sessionID, summary); err != nil {
		return &Error{Op: "apply_compression", SessionID: sessionID, Cause: err}
	}
	return nil
}

// ClearSession drops messages and the summary but preserves session meta
// (and, by omission, any on-disk workspace path associated with the
// session — the store never manages that path).
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrated[sessionID] = true
	s.logs[sessionID] = nil
	if sess, ok := s.metas[sessionID]; ok {
		sess.Summary = nil
		sess.MessageCount = 0
		sess.UpdatedAt = time.Now()
	}
	if err := s.persister.ClearMessages(ctx, sessionID); err != nil {
		return &Error{Op: "clear_session", SessionID: sessionID, Cause: err}
	}
	if err := s.persister.ClearSummary(ctx, sessionID); err != nil {
		return &Error{Op: "clear_session", SessionID: sessionID, Cause: err}
	}
	return nil
}

// SetSessionUser binds a session to a user ID. Best-effort: persistence
// failures are logged, not returned, since meta is an index, not truth.
func (s *Store) SetSessionUser(ctx context.Context, sessionID, userID string) {
	s.mu.Lock()
	sess, ok := s.metas[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.UserID = userID
	sess.UpdatedAt = time.Now()
	clone := sess.Clone()
	s.mu.Unlock()
	s.persistMetaBestEffort(ctx, clone)
}

// SetSessionChannelData merges key/value pairs into a session's
// channel-specific data bag. Best-effort persistence.
func (s *Store) SetSessionChannelData(ctx context.Context, sessionID string, kv map[string]string) {
	s.mu.Lock()
	sess, ok := s.metas[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if sess.ChannelData == nil {
		sess.ChannelData = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		sess.ChannelData[k] = v
	}
	sess.UpdatedAt = time.Now()
	clone := sess.Clone()
	s.mu.Unlock()
	s.persistMetaBestEffort(ctx, clone)
}

// MigrateSessionsUser reassigns every session bound to `from` to `to`.
// Best-effort persistence per session.
func (s *Store) MigrateSessionsUser(ctx context.Context, from, to string) {
	s.mu.Lock()
	var touched []*models.Session
	for _, sess := range s.metas {
		if sess.UserID == from {
			sess.UserID = to
			sess.UpdatedAt = time.Now()
			touched = append(touched, sess.Clone())
		}
	}
	s.mu.Unlock()
	for _, sess := range touched {
		s.persistMetaBestEffort(ctx, sess)
	}
}

// FindSessionsByUser returns every known session bound to userID. Works
// immediately after Init, even for sessions never materialised this run.
func (s *Store) FindSessionsByUser(ctx context.Context, userID string) []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.metas {
		if sess.UserID == userID {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// Get returns session meta without touching the message log.
func (s *Store) Get(sessionID string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.metas[sessionID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}
