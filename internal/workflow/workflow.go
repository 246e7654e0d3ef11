// Package workflow implements the job-lifecycle state machine (spec.md
// §4.2): idle/running/paused, driving the Sender and Feeder side effects of
// each transition. The Workflow never issues I/O directly.
package workflow

import (
	"log/slog"
	"sync"

	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
)

// sender is the subset of *sender.Sender the Workflow drives.
type sender interface {
	Rewind()
	Hold(reason string)
	Unhold()
	Next() preprocess.Trigger
}

// feeder is the subset of *feeder.Feeder the Workflow drives.
type feeder interface {
	Reset()
}

// Workflow is the idle/running/paused state machine gating program
// streaming (spec.md §4.2).
type Workflow struct {
	log    *slog.Logger
	sender sender
	feeder feeder

	mu    sync.Mutex
	state model.WorkflowState

	onChange func(model.WorkflowState)
}

// New creates a Workflow in the idle state.
func New(log *slog.Logger, sender sender, feeder feeder, onChange func(model.WorkflowState)) *Workflow {
	if log == nil {
		log = slog.Default()
	}

	return &Workflow{
		log:      log.With("component", "workflow"),
		sender:   sender,
		feeder:   feeder,
		state:    model.WorkflowIdle,
		onChange: onChange,
	}
}

// State reports the current workflow state.
func (w *Workflow) State() model.WorkflowState {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// Start transitions idle -> running. A duplicate call while already running
// is a no-op (spec.md §4.2 "Duplicate transitions are no-ops").
func (w *Workflow) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == model.WorkflowRunning {
		return
	}

	w.sender.Rewind()
	w.setLocked(model.WorkflowRunning)
}

// Pause transitions running -> paused, holding the Sender with reason.
func (w *Workflow) Pause(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != model.WorkflowRunning {
		return
	}

	w.sender.Hold(reason)
	w.setLocked(model.WorkflowPaused)
}

// Resume transitions paused -> running: resets the Feeder, unholds and
// advances the Sender.
func (w *Workflow) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != model.WorkflowPaused {
		return
	}

	w.feeder.Reset()
	w.sender.Unhold()
	w.sender.Next()
	w.setLocked(model.WorkflowRunning)
}

// Stop transitions any state to idle, rewinding the Sender. A duplicate
// call while already idle is a no-op.
func (w *Workflow) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == model.WorkflowIdle {
		return
	}

	w.sender.Rewind()
	w.setLocked(model.WorkflowIdle)
}

// setLocked assigns the new state and fires onChange. Caller must hold mu.
func (w *Workflow) setLocked(state model.WorkflowState) {
	w.state = state

	if w.onChange != nil {
		w.onChange(state)
	}
}
