// Package feeder implements the ad-hoc command queue (spec.md §4.4): a
// FIFO of preprocessed lines fed outside the loaded program, running
// concurrently with the Sender but bypassing its flow-control accounting.
package feeder

import (
	"log/slog"
	"sync"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
)

// entry is one queued line awaiting preprocessing and transmission.
type entry struct {
	line string
	ctx  model.Context
}

// State is a read-only snapshot of the Feeder for status reporting
// (spec.md §3 FeederState).
type State struct {
	QueueLen   int
	Hold       bool
	HoldReason string
	Pending    bool
}

// Feeder transmits ad-hoc command lines one at a time, FIFO, independent of
// any loaded program.
type Feeder struct {
	log       *slog.Logger
	transport config.Transport
	pre       *preprocess.Preprocessor

	mu      sync.Mutex
	queue   []entry
	hold    bool
	reason  string
	pending bool
}

// New creates a Feeder writing to transport.
func New(log *slog.Logger, transport config.Transport, pre *preprocess.Preprocessor) *Feeder {
	if log == nil {
		log = slog.Default()
	}

	return &Feeder{
		log:       log.With("component", "feeder"),
		transport: transport,
		pre:       pre,
	}
}

// Feed appends lines (already split, blank-filtered by the caller) to the
// queue, each paired with ctx; all lines of one call share that same map,
// so an assignment in one line is visible to the next (spec.md §4.4 `feed`).
func (f *Feeder) Feed(lines []string, ctx model.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, line := range lines {
		f.queue = append(f.queue, entry{line: line, ctx: ctx})
	}
}

// Next attempts to transmit the head of the queue if not held and nothing
// is already in flight (spec.md §4.4 `next`). Unlike the Sender, an M0/M1/M6
// trigger holds the Feeder directly rather than being surfaced to a caller.
func (f *Feeder) Next() preprocess.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.hold || f.pending || len(f.queue) == 0 {
			return preprocess.TriggerNone
		}

		head := f.queue[0]
		result := f.pre.Process(head.line, head.ctx)

		if result.Line == "" {
			f.queue = f.queue[1:]

			continue
		}

		if err := f.transport.Write([]byte(result.Line + "\n")); err != nil {
			f.log.Debug("write failed", "error", err)

			return preprocess.TriggerNone
		}

		f.queue = f.queue[1:]
		f.pending = true

		switch result.Trigger {
		case preprocess.TriggerM0, preprocess.TriggerM1, preprocess.TriggerM6:
			f.hold = true
			f.reason = string(result.Trigger)
		}

		return result.Trigger
	}
}

// Ack clears the in-flight marker on an ok/error acknowledgement routed to
// the Feeder (spec.md §4.4). The caller is responsible for the interleaving
// rule deciding whether an ack is routed here at all.
func (f *Feeder) Ack() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = false
}

// Reset drops the queue and clears hold/pending (spec.md §4.4 `reset`), used
// on Workflow transitions and on alarm.
func (f *Feeder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queue = nil
	f.hold = false
	f.reason = ""
	f.pending = false
}

// Hold freezes the Feeder directly (spec.md §4.4 "Feeder triggers pause
// reasons via its own hold, not the Workflow").
func (f *Feeder) Hold(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hold = true
	f.reason = reason
}

// Unhold clears hold. The caller still invokes Next to resume.
func (f *Feeder) Unhold() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hold = false
	f.reason = ""
}

// IsHolding reports the current hold state.
func (f *Feeder) IsHolding() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hold
}

// HasWork reports whether the Feeder has a nonzero queue or is pending, the
// condition gating a `feeder:status` emission (spec.md §4.5 step 1).
func (f *Feeder) HasWork() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.queue) > 0 || f.pending
}

// Snapshot returns a copy of the current state for status reporting.
func (f *Feeder) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return State{
		QueueLen:   len(f.queue),
		Hold:       f.hold,
		HoldReason: f.reason,
		Pending:    f.pending,
	}
}
