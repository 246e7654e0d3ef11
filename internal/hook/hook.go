// Package hook provides the dispatcher's command-hook triggering: a small
// number of Command Dispatcher operations (spec.md §4.7) call out to an
// optional external hook before or after their effect, e.g. for the task
// runner that executes shell hooks (spec.md §1, out of scope as an
// implementation but in scope as a collaborator surface here).
package hook

// Event names a dispatcher command that can trigger a hook. These match the
// command names in spec.md §4.7 verbatim so a registered callback can be
// looked up by the same string the dispatcher uses internally.
type Event string

const (
	EventSenderLoad   Event = "sender:load"
	EventSenderUnload Event = "sender:unload"
	EventSenderStart  Event = "sender:start"
	EventSenderStop   Event = "sender:stop"
	EventSenderPause  Event = "sender:pause"
	EventSenderResume Event = "sender:resume"
	EventFeedhold     Event = "feedhold"
	EventCyclestart   Event = "cyclestart"
	EventHoming       Event = "homing"
)

// Callback is invoked when its Event fires. Input carries whatever context
// the dispatcher had at hand (program name, macro id, ...); callbacks must
// not block the controller's logical thread for long (spec.md §5).
type Callback func(event Event, input map[string]any)

// Registry maps dispatcher events to zero or more registered callbacks.
type Registry struct {
	callbacks map[Event][]Callback
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[Event][]Callback, len(allEvents))}
}

var allEvents = []Event{
	EventSenderLoad, EventSenderUnload, EventSenderStart, EventSenderStop,
	EventSenderPause, EventSenderResume, EventFeedhold, EventCyclestart, EventHoming,
}

// On registers a callback for the given event.
func (r *Registry) On(event Event, cb Callback) {
	r.callbacks[event] = append(r.callbacks[event], cb)
}

// Trigger invokes every callback registered for event, in registration order.
func (r *Registry) Trigger(event Event, input map[string]any) {
	for _, cb := range r.callbacks[event] {
		cb(event, input)
	}
}
