// Package model holds the data types shared across the controller core —
// the Program a Sender streams, the machine's live snapshot, and the
// workflow states that gate streaming. See spec.md §3.
package model

import "time"

// Context is the mutable variable environment the Line Preprocessor
// evaluates `%name=expr` assignments and `[expr]` substitutions against
// (spec.md §4.1). It holds whatever a prior assignment in the same program
// left behind; the Engine refreshes the Sender's map with machine-snapshot
// keys (preprocess.PopulateContext) before each Sender.Next it issues from
// response dispatch. The first Next of a run (from sender:start or a
// resume) and Feeder contexts are not refreshed.
type Context map[string]any

// Clone returns a shallow copy of c.
func (c Context) Clone() Context {
	cp := make(Context, len(c))
	for k, v := range c {
		cp[k] = v
	}

	return cp
}

// Program is a loaded G-code job. Immutable once loaded until Unload/reload
// (spec.md §3).
type Program struct {
	Name  string
	Text  string
	Lines []string
}

// WorkflowState is one of the three job-lifecycle states (spec.md §4.2).
type WorkflowState string

const (
	WorkflowIdle    WorkflowState = "idle"
	WorkflowRunning WorkflowState = "running"
	WorkflowPaused  WorkflowState = "paused"
)

// Modal holds the firmware's currently active modal G-code groups, as
// reported by a parserstate ($G) event (spec.md §3, GLOSSARY).
type Modal struct {
	Motion   string
	WCS      string
	Plane    string
	Units    string
	Distance string
	Feedrate string
	Program  string
	Spindle  string
	Coolant  []string
}

// Axes holds a 6-axis position tuple.
type Axes struct {
	X, Y, Z, A, B, C float64
}

// BufferInfo carries the firmware's receive-buffer occupancy as reported in
// a status report, when present.
type BufferInfo struct {
	RX    int
	Known bool
}

// MachineSnapshot is the Response Parser's read-only (to the core)
// machine-state cache (spec.md §3). SettingsVersion/StateVersion are bumped
// by the Response Parser glue on every mutating event and compared by the
// controller tick instead of by reference identity — the Open Question
// resolution recorded in DESIGN.md.
type MachineSnapshot struct {
	MachineState string
	MPos         Axes
	WPos         Axes
	Modal        Modal
	OvF          int
	OvS          int
	Buf          BufferInfo

	SettingsVersion uint64
	StateVersion    uint64
}

// IsIdle reports whether the firmware's reported machine state is Idle.
func (s MachineSnapshot) IsIdle() bool {
	return s.MachineState == "Idle"
}

// ActionMask gates duplicate realtime queries (spec.md §3).
type ActionMask struct {
	QueryParserStateState bool
	QueryParserStateReply bool
	QueryStatusReport     bool
	ReplyParserState      bool
	ReplyStatusReport     bool
}

// ActionTime carries the timestamps masks are measured against.
type ActionTime struct {
	QueryParserState  time.Time
	QueryStatusReport time.Time
	SenderFinishTime  time.Time
}
