package smoothie

import (
	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/session"
)

// Re-export domain types from the internal packages so callers never need
// to import internal/model, internal/session, or internal/config directly.

// Context carries substitution variables for the Line Preprocessor's
// bracket expressions and %wait/%name=expr directives (spec.md §4.4).
type Context = model.Context

// WorkflowState is one of the three job-lifecycle states.
type WorkflowState = model.WorkflowState

// The three WorkflowState values.
const (
	WorkflowIdle    = model.WorkflowIdle
	WorkflowRunning = model.WorkflowRunning
	WorkflowPaused  = model.WorkflowPaused
)

// Axes holds a six-axis machine position (X/Y/Z/A/B/C).
type Axes = model.Axes

// Modal holds the firmware's currently active modal G-code groups.
type Modal = model.Modal

// BufferInfo reports the firmware's planner/RX buffer occupancy.
type BufferInfo = model.BufferInfo

// MachineSnapshot is the latest parsed machine state (spec.md §4.1).
type MachineSnapshot = model.MachineSnapshot

// Macro is a stored, user-authored G-code snippet dispatchable by id via
// macro:run / macro:load.
type Macro = config.Macro

// Event is a named, JSON-encoded session broadcast (spec.md §6, §9).
type Event = session.Event
