// Package channels connects external transports (Telegram, Discord, Slack,
// a local terminal) to the message bus. An Adapter turns transport-native
// events into models.InboundMessage and renders models.OutboundMessage back
// into the transport's own wire format.
//
// Grounded on internal/channels/channel.go's Adapter/Registry split.
package channels

import (
	"context"
	"sync"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// Adapter is the minimal contract every channel connector implements.
type Adapter interface {
	Type() string
}

// LifecycleAdapter represents adapters with an explicit start/stop.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter represents adapters that can deliver a reply.
type OutboundAdapter interface {
	Send(ctx context.Context, msg *models.OutboundMessage) error
}

// InboundAdapter represents adapters that emit inbound messages.
type InboundAdapter interface {
	Messages() <-chan *models.InboundMessage
}

// FullAdapter aggregates all adapter capabilities for convenience.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	OutboundAdapter
	InboundAdapter
}

// Registry tracks adapters by channel name and dispatches across them.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	inbound   map[string]InboundAdapter
	outbound  map[string]OutboundAdapter
	lifecycle map[string]LifecycleAdapter
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[string]Adapter),
		inbound:   make(map[string]InboundAdapter),
		outbound:  make(map[string]OutboundAdapter),
		lifecycle: make(map[string]LifecycleAdapter),
	}
}

// Register adds an adapter, indexing it under whichever optional interfaces
// it satisfies.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Type()
	r.adapters[name] = adapter

	if inbound, ok := adapter.(InboundAdapter); ok {
		r.inbound[name] = inbound
	}
	if outbound, ok := adapter.(OutboundAdapter); ok {
		r.outbound[name] = outbound
	}
	if lifecycle, ok := adapter.(LifecycleAdapter); ok {
		r.lifecycle[name] = lifecycle
	}
}

// Get returns the adapter registered for a channel name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// GetOutbound returns an adapter that can deliver replies for a channel.
func (r *Registry) GetOutbound(name string) (OutboundAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.outbound[name]
	return a, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// StartAll starts every adapter with a lifecycle, stopping early on the
// first error.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.lifecycle {
		if err := a.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every adapter with a lifecycle, continuing past errors and
// returning the last one seen.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lastErr error
	for _, a := range r.lifecycle {
		if err := a.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans every registered inbound adapter into a single
// channel, closed once ctx is cancelled or every adapter's channel closes.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *models.InboundMessage {
	r.mu.RLock()
	adapters := make([]InboundAdapter, 0, len(r.inbound))
	for _, a := range r.inbound {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	out := make(chan *models.InboundMessage)
	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a InboundAdapter) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(a)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
