package agentloop

import (
	"context"
	"sync"
)

// dispatcher is the per-session FIFO plus global concurrency cap described
// in spec.md §4.5 and required by §9's redesign flags to be an explicit,
// instance-owned structure rather than a module-level global or a
// per-caller concurrency assumption (the teacher has no equivalent; this is
// built fresh in the teacher's general idiom of a mutex-guarded map plus a
// counting semaphore, following internal/agent/tool_exec.go's executor
// semaphore shape).
//
// A turn for session S never starts until the previous turn submitted for
// S has finished, enforced by each submission atomically observing the
// current tail for S and replacing it with its own completion signal
// before releasing the lock — there is no window in which two submissions
// for the same session can both observe themselves as the tail.
type dispatcher struct {
	mu   sync.Mutex
	tail map[string]chan struct{}
	sem  chan struct{}
}

func newDispatcher(maxConcurrent int) *dispatcher {
	return &dispatcher{
		tail: make(map[string]chan struct{}),
		sem:  make(chan struct{}, maxConcurrent),
	}
}

// submit runs fn once both (a) any prior turn for sessionID has completed
// and (b) a global concurrency slot is available. It returns immediately;
// fn runs on its own goroutine. If ctx is cancelled before fn would start,
// fn never runs.
func (d *dispatcher) submit(ctx context.Context, sessionID string, fn func(context.Context)) {
	d.mu.Lock()
	predecessor := d.tail[sessionID]
	done := make(chan struct{})
	d.tail[sessionID] = done
	d.mu.Unlock()

	go func() {
		defer close(done)

		if predecessor != nil {
			select {
			case <-predecessor:
			case <-ctx.Done():
				return
			}
		}

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-d.sem }()

		fn(ctx)
	}()
}
