package agentloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDispatcherRunsSameSessionInOrder(t *testing.T) {
	d := newDispatcher(10)
	ctx := context.Background()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		d.submit(ctx, "s1", func(ctx context.Context) {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected in-order execution for same session, got %v", order)
		}
	}
}

func TestDispatcherNeverExceedsGlobalConcurrency(t *testing.T) {
	const cap = 3
	d := newDispatcher(cap)
	ctx := context.Background()

	var mu sync.Mutex
	current, peak := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		sessionID := string(rune('a' + i%7)) // several distinct sessions so they can run concurrently
		d.submit(ctx, sessionID, func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		})
	}
	wg.Wait()

	if peak > cap {
		t.Fatalf("expected peak concurrency <= %d, got %d", cap, peak)
	}
}

func TestDispatcherDoesNotRunAfterContextCancelled(t *testing.T) {
	d := newDispatcher(1)
	ctx, cancel := context.WithCancel(context.Background())

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	d.submit(ctx, "s1", func(ctx context.Context) {
		defer wg.Done()
		<-block
	})

	ran := false
	var wg2 sync.WaitGroup
	wg2.Add(1)
	d.submit(ctx, "s1", func(ctx context.Context) {
		defer wg2.Done()
		ran = true
	})

	cancel()
	close(block)
	wg.Wait()
	wg2.Wait()

	if ran {
		t.Fatal("expected queued turn to be skipped after context cancellation")
	}
}
