package sessions

import (
	"context"
	"sync"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// Persister is the narrow durability contract the Store drives. A concrete
// backend (in-memory, SQL) satisfies this; the Store owns all chain-safety
// and windowing logic above it, so a backend only needs to get bytes in and
// out reliably.
type Persister interface {
	LoadAllSessionMetas(ctx context.Context) ([]*models.Session, error)
	SaveSessionMeta(ctx context.Context, s *models.Session) error

	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	LoadMessages(ctx context.Context, sessionID string) ([]*models.Message, error)
	ClearMessages(ctx context.Context, sessionID string) error

	LoadSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	SaveSummary(ctx context.Context, sessionID string, summary *models.SessionSummary) error
	ClearSummary(ctx context.Context, sessionID string) error
}

// MemoryPersister is the default Persister: process-local, thread-safe,
// grounded on internal/sessions/memory.go's MemoryStore.
type MemoryPersister struct {
	mu       sync.RWMutex
	metas    map[string]*models.Session
	messages map[string][]*models.Message
	summary  map[string]*models.SessionSummary
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{
		metas:    make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
		summary:  make(map[string]*models.SessionSummary),
	}
}

func (p *MemoryPersister) LoadAllSessionMetas(ctx context.Context) ([]*models.Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*models.Session, 0, len(p.metas))
	for _, s := range p.metas {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (p *MemoryPersister) SaveSessionMeta(ctx context.Context, s *models.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metas[s.ID] = s.Clone()
	return nil
}

func (p *MemoryPersister) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[sessionID] = append(p.messages[sessionID], msg.Clone())
	return nil
}

func (p *MemoryPersister) LoadMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.messages[sessionID]
	out := make([]*models.Message, len(src))
	for i, m := range src {
		out[i] = m.Clone()
	}
	return out, nil
}

func (p *MemoryPersister) ClearMessages(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, sessionID)
	return nil
}

func (p *MemoryPersister) LoadSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.summary[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *s
	return &clone, nil
}

func (p *MemoryPersister) SaveSummary(ctx context.Context, sessionID string, summary *models.SessionSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := *summary
	p.summary[sessionID] = &clone
	return nil
}

func (p *MemoryPersister) ClearSummary(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.summary, sessionID)
	return nil
}
