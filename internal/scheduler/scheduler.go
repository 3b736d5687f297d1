// Package scheduler implements the Scheduler (spec.md §4.3): per-session
// cron-driven tasks, created by tool calls rather than static config, that
// fire by publishing a synthetic inbound message onto the Message Bus.
//
// Grounded on internal/tasks/scheduler.go's SchedulerConfig/DefaultConfig
// defaulting pattern and slog-based logging from the teacher repository;
// Start/Stop here guard a running flag with a mutex. The execution model differs deliberately: the
// teacher polls a store for due tasks on a ticker and acquires executions
// under a distributed lock (internal/tasks/scheduler.go, internal/cron/scheduler.go);
// spec.md §4.3 instead describes registering every enabled task directly
// with a live cron engine and unregistering it on disable/delete, so this
// package drives github.com/robfig/cron/v3's Cron.Schedule/Remove rather
// than re-implementing the teacher's poll loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/pkg/models"
)

// cronParser accepts both the standard 5-field form and the 6-field form
// with a leading seconds field, matching the teacher's parser configuration.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config configures the Scheduler.
type Config struct {
	// MaxTasksPerSession caps how many scheduled tasks a single session may
	// hold. Zero means DefaultMaxTasksPerSession.
	MaxTasksPerSession int
	Logger             *slog.Logger
}

// DefaultMaxTasksPerSession bounds per-session schedule quota.
const DefaultMaxTasksPerSession = 10

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{MaxTasksPerSession: DefaultMaxTasksPerSession}
}

func sanitizeConfig(c Config) Config {
	if c.MaxTasksPerSession <= 0 {
		c.MaxTasksPerSession = DefaultMaxTasksPerSession
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "scheduler")
	}
	return c
}

// Scheduler owns the cron engine and the per-session task index. It never
// replays missed fires on restart: Start registers each enabled task's next
// natural occurrence only.
type Scheduler struct {
	store  Store
	bus    *bus.Bus
	config Config

	cronEngine *cron.Cron

	mu      sync.RWMutex
	entries map[string]cron.EntryID // task ID -> registered cron entry
	running bool
}

// New creates a Scheduler. Call Start to begin registering enabled tasks and
// firing them.
func New(store Store, b *bus.Bus, config Config) *Scheduler {
	return &Scheduler{
		store:      store,
		bus:        b,
		config:     sanitizeConfig(config),
		cronEngine: cron.New(cron.WithParser(cronParser)),
		entries:    make(map[string]cron.EntryID),
	}
}

// Start registers every currently-enabled task with the cron engine and
// starts it. Tasks whose next occurrence was missed while the process was
// down are not replayed — only the next future occurrence fires.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	tasks, err := s.store.ListAllEnabled(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list enabled tasks: %w", err)
	}
	for _, task := range tasks {
		if err := s.register(task); err != nil {
			s.config.Logger.Error("failed to register task on start, disabling",
				"task_id", task.ID, "error", err)
			task.Enabled = false
			_ = s.store.Update(ctx, task)
		}
	}

	s.cronEngine.Start()
	s.config.Logger.Info("scheduler started", "registered_tasks", len(s.entries))
	return nil
}

// Stop halts the cron engine, waiting for any in-flight fire callback to
// return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cronEngine.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.config.Logger.Info("scheduler stopped")
	return nil
}

// TaskInfo pairs a task with its next computed cron trigger time. NextRun is
// nil for a disabled task or one whose schedule has no future occurrence.
type TaskInfo struct {
	Task    *models.ScheduledTask
	NextRun *time.Time
}

// nextRun computes task's next trigger time from its cron expression. It
// returns nil for a disabled task.
func nextRun(task *models.ScheduledTask) *time.Time {
	if !task.Enabled {
		return nil
	}
	sched, err := cronParser.Parse(task.CronExpression)
	if err != nil {
		return nil
	}
	t := sched.Next(time.Now())
	if t.IsZero() {
		return nil
	}
	return &t
}

// CreateTask persists a new scheduled task (enforcing the per-session quota),
// registers it with the cron engine if enabled, and returns it alongside its
// next computed trigger time (spec.md §4.3 addTask).
func (s *Scheduler) CreateTask(ctx context.Context, task *models.ScheduledTask) (*TaskInfo, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	if _, err := cronParser.Parse(task.CronExpression); err != nil {
		return nil, &Error{Op: "create_task", TaskID: task.ID, Cause: fmt.Errorf("invalid cron expression %q: %w", task.CronExpression, err)}
	}

	existing, err := s.store.ListBySession(ctx, task.SessionID)
	if err != nil {
		return nil, &Error{Op: "create_task", TaskID: task.ID, Cause: err}
	}
	if len(existing) >= s.config.MaxTasksPerSession {
		return nil, &Error{Op: "create_task", TaskID: task.ID, Cause: ErrQuotaExceeded}
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, &Error{Op: "create_task", TaskID: task.ID, Cause: err}
	}

	if task.Enabled {
		if err := s.register(task); err != nil {
			return nil, &Error{Op: "create_task", TaskID: task.ID, Cause: err}
		}
	}
	return &TaskInfo{Task: task, NextRun: nextRun(task)}, nil
}

// register schedules task with the cron engine. Caller must not hold s.mu.
func (s *Scheduler) register(task *models.ScheduledTask) error {
	sched, err := cronParser.Parse(task.CronExpression)
	if err != nil {
		return fmt.Errorf("parse schedule: %w", err)
	}

	taskID := task.ID
	entryID := s.cronEngine.Schedule(sched, cron.FuncJob(func() {
		s.fire(context.Background(), taskID)
	}))

	s.mu.Lock()
	s.entries[task.ID] = entryID
	s.mu.Unlock()
	return nil
}

// fire loads the latest task state, constructs the synthetic inbound
// message, and publishes it. A task disabled or deleted between
// registration and fire time is silently skipped.
func (s *Scheduler) fire(ctx context.Context, taskID string) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil || task == nil || !task.Enabled {
		return
	}

	now := time.Now()
	msg := &models.InboundMessage{
		ID:        uuid.NewString(),
		Channel:   task.Channel,
		SessionID: task.SessionID,
		Text:      task.TaskPrompt,
		Sender:    "scheduler",
		Timestamp: now,
		Metadata: map[string]any{
			"scheduled_task_id": task.ID,
			"creator_user_id":   task.CreatorUserID,
		},
	}
	if !s.bus.PublishInbound(msg) {
		s.config.Logger.Warn("failed to publish scheduled task fire, bus closed", "task_id", task.ID)
		return
	}

	task.LastRunAt = &now
	task.RunCount++
	if err := s.store.Update(ctx, task); err != nil {
		s.config.Logger.Error("failed to persist task fire", "task_id", task.ID, "error", err)
	}
	s.config.Logger.Info("fired scheduled task", "task_id", task.ID, "session_id", task.SessionID, "run_count", task.RunCount)
}

// UpdateTask persists changes and re-registers (or unregisters) the task to
// match its new Enabled/CronExpression state.
func (s *Scheduler) UpdateTask(ctx context.Context, task *models.ScheduledTask) error {
	if _, err := cronParser.Parse(task.CronExpression); err != nil {
		return &Error{Op: "update_task", TaskID: task.ID, Cause: fmt.Errorf("invalid cron expression %q: %w", task.CronExpression, err)}
	}
	if err := s.store.Update(ctx, task); err != nil {
		return &Error{Op: "update_task", TaskID: task.ID, Cause: err}
	}

	s.unregister(task.ID)
	if task.Enabled {
		if err := s.register(task); err != nil {
			return &Error{Op: "update_task", TaskID: task.ID, Cause: err}
		}
	}
	return nil
}

// DeleteTask unregisters and removes a task, scoped to sessionID (spec.md
// §4.3 removeTask): a task belonging to a different session is rejected
// rather than deleted.
func (s *Scheduler) DeleteTask(ctx context.Context, taskID, sessionID string) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return &Error{Op: "delete_task", TaskID: taskID, Cause: err}
	}
	if task == nil {
		return &Error{Op: "delete_task", TaskID: taskID, Cause: ErrNotFound}
	}
	if task.SessionID != sessionID {
		return &Error{Op: "delete_task", TaskID: taskID, Cause: ErrForbidden}
	}

	s.unregister(taskID)
	if err := s.store.Delete(ctx, taskID); err != nil {
		return &Error{Op: "delete_task", TaskID: taskID, Cause: err}
	}
	return nil
}

// SetTaskEnabled idempotently enables or disables a task, scoped to
// sessionID, re-registering or unregistering it with the cron engine to
// match (spec.md §4.3 setTaskEnabled).
func (s *Scheduler) SetTaskEnabled(ctx context.Context, taskID, sessionID string, enabled bool) error {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return &Error{Op: "set_task_enabled", TaskID: taskID, Cause: err}
	}
	if task == nil {
		return &Error{Op: "set_task_enabled", TaskID: taskID, Cause: ErrNotFound}
	}
	if task.SessionID != sessionID {
		return &Error{Op: "set_task_enabled", TaskID: taskID, Cause: ErrForbidden}
	}
	if task.Enabled == enabled {
		return nil
	}

	task.Enabled = enabled
	if err := s.store.Update(ctx, task); err != nil {
		return &Error{Op: "set_task_enabled", TaskID: taskID, Cause: err}
	}

	s.unregister(taskID)
	if enabled {
		if err := s.register(task); err != nil {
			return &Error{Op: "set_task_enabled", TaskID: taskID, Cause: err}
		}
	}
	return nil
}

// GetTaskInfo returns a task together with its next computed trigger time
// (spec.md §4.3 getTaskInfo).
func (s *Scheduler) GetTaskInfo(ctx context.Context, taskID string) (*TaskInfo, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, &Error{Op: "get_task_info", TaskID: taskID, Cause: err}
	}
	if task == nil {
		return nil, &Error{Op: "get_task_info", TaskID: taskID, Cause: ErrNotFound}
	}
	return &TaskInfo{Task: task, NextRun: nextRun(task)}, nil
}

func (s *Scheduler) unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cronEngine.Remove(entryID)
		delete(s.entries, taskID)
	}
}

// ListBySession returns every scheduled task belonging to a session.
func (s *Scheduler) ListBySession(ctx context.Context, sessionID string) ([]*models.ScheduledTask, error) {
	return s.store.ListBySession(ctx, sessionID)
}
