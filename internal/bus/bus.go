// Package bus decouples transports from the agent loop. A single unbounded
// inbound queue feeds the loop; outbound and progress delivery are routed
// back to the originating channel through handlers registered by transports.
//
// Grounded on the registration/replace-on-register pattern of
// internal/channels/channel.go's Registry in the teacher repository, adapted
// from a multi-capability adapter registry to a single-purpose message
// router.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// OutboundHandler delivers a final reply to its channel. Implementations
// must be tolerant of unknown session IDs and must not block indefinitely.
type OutboundHandler func(ctx context.Context, msg *models.OutboundMessage) error

// ProgressHandler delivers a best-effort intermediate update.
type ProgressHandler func(ctx context.Context, msg *models.ProgressMessage) error

// CancelFunc is invoked when a transport requests cancellation of a session
// through CancelSession; what it cancels is up to the registered hook.
type CancelFunc func(sessionID string)

// Bus is the single inbound queue plus per-channel outbound/progress routing
// described in spec.md §4.1. There is exactly one consumer of the inbound
// queue (the agent loop's dispatcher); any number of producers (transports).
type Bus struct {
	logger *slog.Logger

	inbound chan *models.InboundMessage

	mu        sync.RWMutex
	outbound  map[string]OutboundHandler
	progress  map[string]ProgressHandler
	onCancel  CancelFunc
	closeOnce sync.Once
	closed    bool
}

// defaultInboundBuffer sizes the inbound channel generously so publishInbound
// never blocks under normal load; it is not a backpressure mechanism.
const defaultInboundBuffer = 1024

// New creates a Bus ready for publishers and handler registration.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger.With("component", "bus"),
		inbound:  make(chan *models.InboundMessage, defaultInboundBuffer),
		outbound: make(map[string]OutboundHandler),
		progress: make(map[string]ProgressHandler),
	}
}

// PublishInbound enqueues a message for the loop to consume. Non-blocking
// under the default buffer; if the buffer is saturated this briefly blocks
// the producer rather than drop the message, since ordering per-producer
// must be preserved. Returns false if the bus has been closed.
func (b *Bus) PublishInbound(msg *models.InboundMessage) bool {
	if msg == nil {
		return false
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return false
	}
	defer func() {
		// The channel may have been closed by Close() racing with this
		// send; recover rather than panic the caller's goroutine.
		_ = recover()
	}()
	b.inbound <- msg
	return true
}

// InboundMessages returns the channel the agent loop ranges over. It is
// closed when Close is called.
func (b *Bus) InboundMessages() <-chan *models.InboundMessage {
	return b.inbound
}

// RegisterOutboundHandler installs the handler used to deliver replies for a
// channel. Re-registration replaces the previous handler.
func (b *Bus) RegisterOutboundHandler(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound[channel] = fn
}

// RegisterProgressHandler installs the handler used to deliver progress
// events for a channel. Re-registration replaces the previous handler.
func (b *Bus) RegisterProgressHandler(channel string, fn ProgressHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress[channel] = fn
}

// UnregisterChannel removes both handlers for a channel. Any deliveries
// already in flight are unaffected; future deliveries are silently dropped.
func (b *Bus) UnregisterChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.outbound, channel)
	delete(b.progress, channel)
}

// PublishOutbound synchronously invokes the channel's outbound handler.
// Handler errors are logged and swallowed: a misbehaving transport must
// never crash the loop.
func (b *Bus) PublishOutbound(ctx context.Context, msg *models.OutboundMessage) {
	if msg == nil {
		return
	}
	b.mu.RLock()
	handler := b.outbound[msg.Channel]
	b.mu.RUnlock()

	if handler == nil {
		b.logger.Warn("no outbound handler registered", "channel", msg.Channel, "session_id", msg.SessionID)
		return
	}
	b.safeCallOutbound(ctx, handler, msg)
}

func (b *Bus) safeCallOutbound(ctx context.Context, handler OutboundHandler, msg *models.OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound handler panicked", "panic", r, "channel", msg.Channel)
		}
	}()
	if err := handler(ctx, msg); err != nil {
		b.logger.Warn("outbound handler failed", "error", err, "channel", msg.Channel, "session_id", msg.SessionID)
	}
}

// PublishProgress is best-effort: delivery failures are swallowed and never
// propagate to the agent loop. Progress events for a single turn are
// produced one at a time by that turn's own goroutine, and PublishProgress
// calls the handler synchronously, so events for a given session are
// delivered to its progress handler in the order the turn produced them;
// "fire-and-forget" describes the error-handling contract (the caller never
// waits on delivery succeeding), not the scheduling (this is not spawned
// into its own goroutine, which would not preserve that order).
func (b *Bus) PublishProgress(ctx context.Context, msg *models.ProgressMessage) {
	if msg == nil {
		return
	}
	b.mu.RLock()
	handler := b.progress[msg.Channel]
	b.mu.RUnlock()
	if handler == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("progress handler panicked", "panic", r, "channel", msg.Channel)
			}
		}()
		if err := handler(ctx, msg); err != nil {
			b.logger.Debug("progress handler failed", "error", err, "channel", msg.Channel)
		}
	}()
}

// OnSessionCancel registers the single callback invoked by CancelSession.
// Re-registration replaces the previous callback.
func (b *Bus) OnSessionCancel(fn CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCancel = fn
}

// CancelSession invokes the registered cancellation hook. Idempotent: safe
// to call more than once for the same session, and a no-op if no hook is
// registered.
func (b *Bus) CancelSession(sessionID string) {
	b.mu.RLock()
	fn := b.onCancel
	b.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(sessionID)
}

// Close clears registered handlers, drops the cancel callback, and closes
// the inbound sequence so consumers observe end-of-stream. Close is safe to
// call more than once.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.onCancel = nil
		b.outbound = map[string]OutboundHandler{}
		b.progress = map[string]ProgressHandler{}
		b.mu.Unlock()
		close(b.inbound)
	})
}
