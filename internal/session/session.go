// Package session implements the Session Fan-out (spec.md §6, §9): an
// append-only registry of subscribed client sessions that every named
// controller event is broadcast to. It satisfies the engine.Broadcaster and
// dispatch.Broadcaster contracts so the Controller/Engine/Dispatcher need
// not know subscribers exist.
package session

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	encjson "github.com/segmentio/encoding/json"
)

// eventBuffer is the per-subscriber channel depth. A subscriber that falls
// this far behind has each new event dropped (the queued ones are kept)
// rather than blocking the controller's tick/read loops (spec.md §5
// "non-blocking").
const eventBuffer = 64

// Event is one broadcast item delivered to a subscriber. Data is the
// pre-marshaled JSON payload (segmentio/encoding/json, spec.md DOMAIN
// STACK), or nil for events with no payload (e.g. `sender:unload`).
type Event struct {
	Name string
	Data []byte
}

// subscriber holds one session's delivery channel. A removed subscriber is
// deleted from the registry map under the write lock before its channel is
// closed; Emit holds the read lock for its whole pass, so it never sends on
// a closed channel.
type subscriber struct {
	id string
	ch chan Event
}

// Registry is the append-only session registry. Safe for concurrent use.
// order records subscriber ids in subscription order, since a map gives no
// iteration-order guarantee and Emit must deliver in that order (spec.md
// §6 "delivered to each session in subscription-insertion order").
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	subs  map[string]*subscriber
	order []string
}

// NewRegistry creates an empty session registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		log:  log.With("component", "session"),
		subs: make(map[string]*subscriber, 4),
	}
}

// Subscribe registers a new session and returns its ID and event channel.
// The channel is closed by Unsubscribe; callers must keep draining it until
// then to avoid this subscriber's events being dropped under load.
func (r *Registry) Subscribe() (id string, events <-chan Event) {
	id = ulid.Make().String()
	ch := make(chan Event, eventBuffer)

	r.mu.Lock()
	r.subs[id] = &subscriber{id: id, ch: ch}
	r.order = append(r.order, id)
	r.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a session: deletes it from the map and the order
// slice under the write lock, then closes its channel. An Emit in progress
// holds the read lock, so the delete waits for it, and later Emits no longer
// see the subscriber (spec.md §9).
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
		r.removeFromOrder(id)
	}
	r.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// removeFromOrder drops id from the insertion-order slice. Called with mu
// held for writing.
func (r *Registry) removeFromOrder(id string) {
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)

			return
		}
	}
}

// Count reports the number of currently subscribed sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}

// Emit implements engine.Broadcaster and dispatch.Broadcaster: marshals
// payload once and fans the resulting event out to every subscriber in
// subscription-insertion order (spec.md §6), dropping (not blocking) on any
// subscriber whose channel is full.
func (r *Registry) Emit(event string, payload any) {
	var data []byte

	if payload != nil {
		encoded, err := encjson.Marshal(payload)
		if err != nil {
			r.log.Debug("marshal broadcast payload failed", "event", event, "error", err)
		} else {
			data = encoded
		}
	}

	evt := Event{Name: event, Data: data}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		sub, ok := r.subs[id]
		if !ok {
			continue
		}

		select {
		case sub.ch <- evt:
		default:
			r.log.Debug("dropping event for slow subscriber", "event", event, "subscriber", sub.id)
		}
	}
}
