package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nexuscore/agentruntime/internal/bus"
	"github.com/nexuscore/agentruntime/pkg/models"
)

func TestCreateTaskEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	s := New(NewMemoryStore(), b, Config{MaxTasksPerSession: 2})

	for i := 0; i < 2; i++ {
		_, err := s.CreateTask(ctx, &models.ScheduledTask{
			SessionID:      "s1",
			Channel:        "test",
			CronExpression: "@every 1h",
			TaskPrompt:     "do thing",
			Enabled:        true,
		})
		if err != nil {
			t.Fatalf("CreateTask %d: %v", i, err)
		}
	}

	_, err := s.CreateTask(ctx, &models.ScheduledTask{
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "one too many",
		Enabled:        true,
	})
	if err == nil {
		t.Fatal("expected quota error on third task for same session")
	}
}

func TestCreateTaskRejectsInvalidCron(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	s := New(NewMemoryStore(), b, DefaultConfig())

	_, err := s.CreateTask(ctx, &models.ScheduledTask{
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "not a cron expression",
		TaskPrompt:     "do thing",
		Enabled:        true,
	})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestFirePublishesSyntheticInboundMessage(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	store := NewMemoryStore()
	s := New(store, b, DefaultConfig())

	task := &models.ScheduledTask{
		ID:             "task-1",
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "check the weather",
		CreatorUserID:  "u1",
		Enabled:        true,
	}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	received := make(chan *models.InboundMessage, 1)
	go func() {
		received <- <-b.InboundMessages()
	}()

	s.fire(ctx, task.ID)

	select {
	case msg := <-received:
		if msg.Sender != "scheduler" {
			t.Fatalf("expected sender=scheduler, got %q", msg.Sender)
		}
		if msg.Text != "check the weather" {
			t.Fatalf("expected prompt text propagated, got %q", msg.Text)
		}
		if msg.MetaString("scheduled_task_id") != "task-1" {
			t.Fatalf("expected scheduled_task_id metadata, got %+v", msg.Metadata)
		}
		if msg.MetaString("creator_user_id") != "u1" {
			t.Fatalf("expected creator_user_id metadata, got %+v", msg.Metadata)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for synthetic inbound message")
	}

	updated, _ := store.Get(ctx, task.ID)
	if updated.RunCount != 1 {
		t.Fatalf("expected run count incremented to 1, got %d", updated.RunCount)
	}
}

func TestCreateTaskReturnsNextRun(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	s := New(NewMemoryStore(), b, DefaultConfig())

	info, err := s.CreateTask(ctx, &models.ScheduledTask{
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "do thing",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if info.NextRun == nil {
		t.Fatal("expected a computed next run time for an enabled task")
	}
	if !info.NextRun.After(time.Now()) {
		t.Fatalf("expected next run to be in the future, got %v", info.NextRun)
	}
}

func TestDeleteTaskRejectsWrongSession(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	store := NewMemoryStore()
	s := New(store, b, DefaultConfig())

	info, err := s.CreateTask(ctx, &models.ScheduledTask{
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "do thing",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.DeleteTask(ctx, info.Task.ID, "s2"); err == nil {
		t.Fatal("expected error deleting another session's task")
	}

	if err := s.DeleteTask(ctx, info.Task.ID, "s1"); err != nil {
		t.Fatalf("DeleteTask with matching session: %v", err)
	}
	if remaining, _ := store.Get(ctx, info.Task.ID); remaining != nil {
		t.Fatal("expected task to be removed from the store")
	}
}

func TestSetTaskEnabledTogglesRegistration(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	store := NewMemoryStore()
	s := New(store, b, DefaultConfig())

	info, err := s.CreateTask(ctx, &models.ScheduledTask{
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "do thing",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.SetTaskEnabled(ctx, info.Task.ID, "s2", false); err == nil {
		t.Fatal("expected error disabling another session's task")
	}

	if err := s.SetTaskEnabled(ctx, info.Task.ID, "s1", false); err != nil {
		t.Fatalf("SetTaskEnabled: %v", err)
	}
	updated, _ := store.Get(ctx, info.Task.ID)
	if updated.Enabled {
		t.Fatal("expected task to be disabled")
	}

	if err := s.SetTaskEnabled(ctx, info.Task.ID, "s1", false); err != nil {
		t.Fatalf("SetTaskEnabled is not idempotent: %v", err)
	}
}

func TestGetTaskInfoReturnsNextRunForEnabledTask(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	store := NewMemoryStore()
	s := New(store, b, DefaultConfig())

	info, err := s.CreateTask(ctx, &models.ScheduledTask{
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "do thing",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	fetched, err := s.GetTaskInfo(ctx, info.Task.ID)
	if err != nil {
		t.Fatalf("GetTaskInfo: %v", err)
	}
	if fetched.NextRun == nil {
		t.Fatal("expected a next run time")
	}

	if _, err := s.GetTaskInfo(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown task id")
	}
}

func TestFireSkipsDisabledTask(t *testing.T) {
	ctx := context.Background()
	b := bus.New(nil)
	store := NewMemoryStore()
	s := New(store, b, DefaultConfig())

	task := &models.ScheduledTask{
		ID:             "task-1",
		SessionID:      "s1",
		Channel:        "test",
		CronExpression: "@every 1h",
		TaskPrompt:     "should not fire",
		Enabled:        false,
	}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.fire(ctx, task.ID)

	select {
	case <-b.InboundMessages():
		t.Fatal("disabled task must not publish an inbound message")
	case <-time.After(50 * time.Millisecond):
	}
}
