package scheduler

import (
	"context"
	"sync"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// Store persists ScheduledTask records. Grounded on internal/tasks/store.go's
// interface shape, narrowed to the CRUD + listing operations the cron-engine
// registration model needs (no due-task polling, no execution-lock bookkeeping).
type Store interface {
	Create(ctx context.Context, task *models.ScheduledTask) error
	Get(ctx context.Context, id string) (*models.ScheduledTask, error)
	Update(ctx context.Context, task *models.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.ScheduledTask, error)
	ListAllEnabled(ctx context.Context) ([]*models.ScheduledTask, error)
}

// MemoryStore is the default Store: in-memory, thread-safe.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.ScheduledTask
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.ScheduledTask)}
}

func (m *MemoryStore) Create(ctx context.Context, task *models.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, task *models.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]*models.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.ScheduledTask
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAllEnabled(ctx context.Context) ([]*models.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.ScheduledTask
	for _, t := range m.tasks {
		if t.Enabled {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}
