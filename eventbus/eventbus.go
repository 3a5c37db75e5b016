// Package eventbus is a diagnostic sink (C9): a bounded, non-blocking
// queue of low-level events (frame dropped, timer fired, bus busy, ...)
// for anyone building tooling on top of this stack. No package in this
// module publishes to it; the transports, the client engine and the server
// dispatcher report only through their loggers.
package eventbus

import "sync"

// Enabled gates every Publish call. Set to false and recompile to strip
// the bus out of the hot path entirely; Publish becomes a single branch.
const Enabled = true

// Kind identifies the category of an Event. Producers define their own
// Kind values; the bus itself is agnostic to what they mean.
type Kind uint8

const (
	KindFrameDropped Kind = iota
	KindTimeout
	KindBusBusy
	KindTransportError
	KindDispatchError
)

// Event is one diagnostic record. Instance identifies the producer (a
// transport's device name, a server's listen address, ...) so a bus shared
// across multiple stack instances can still be filtered per-instance.
type Event struct {
	Kind     Kind
	Instance string
	Message  string
}

// Bus is a fixed-size, non-blocking diagnostic queue. A full bus drops the
// event and counts it rather than applying backpressure to the caller,
// which is always on a hot path (an RX callback, a dispatch goroutine).
type Bus struct {
	mu      sync.Mutex
	events  chan Event
	dropped uint64
}

// New creates a Bus holding up to capacity undelivered events.
func New(capacity int) *Bus {
	return &Bus{events: make(chan Event, capacity)}
}

// Publish enqueues evt, or counts it as dropped if the bus is full.
// No-ops entirely when Enabled is false.
func (b *Bus) Publish(evt Event) {
	if !Enabled {
		return
	}
	select {
	case b.events <- evt:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Events returns the channel to range or select over. The bus never closes
// it.
func (b *Bus) Events() <-chan Event {
	return b.events
}

// Dropped returns the number of events discarded because the bus was full.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Filter wraps Events with a predicate, typically matching on Instance, so
// a consumer interested in one transport among several doesn't have to
// re-implement the matching logic at every call site.
func Filter(events <-chan Event, keep func(Event) bool) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for evt := range events {
			if keep(evt) {
				out <- evt
			}
		}
	}()
	return out
}
