// Package config provides configuration types shared across the controller
// core: the Transport collaborator contract and the Options a Controller is
// constructed with.
package config

import (
	"log/slog"
	"time"
)

// Macro is a stored, user-authored G-code snippet dispatchable by id via
// macro:run / macro:load. Macro storage itself is an external collaborator
// (spec.md §1); Options carries the snapshot a Controller was constructed
// with.
type Macro struct {
	ID      string
	Name    string
	Content string
}

// MacroStore resolves a macro id to its stored definition for
// `macro:run`/`macro:load` (spec.md §4.7). The in-memory store below
// satisfies this from Options.Macros; a persistent-config-backed
// implementation is an external collaborator (spec.md §1).
type MacroStore interface {
	Lookup(id string) (Macro, bool)
}

// memoryMacroStore is a MacroStore backed by a fixed slice, keyed by ID.
type memoryMacroStore struct {
	byID map[string]Macro
}

// NewMacroStore builds a MacroStore from a macro slice, e.g. Options.Macros.
func NewMacroStore(macros []Macro) MacroStore {
	byID := make(map[string]Macro, len(macros))
	for _, m := range macros {
		byID[m.ID] = m
	}

	return &memoryMacroStore{byID: byID}
}

// Lookup implements MacroStore.
func (s *memoryMacroStore) Lookup(id string) (Macro, bool) {
	m, ok := s.byID[id]

	return m, ok
}

// FileReader resolves a watched-directory path to its G-code text for
// watchdir:load. An embedding program supplies this; the controller core
// does not read the filesystem itself.
type FileReader interface {
	ReadFile(path string) (string, error)
}

// Options configures a Controller instance.
type Options struct {
	// Logger receives debug/info/warn/error output. If nil, logging is
	// disabled (a discarding slog.TextHandler is used).
	Logger *slog.Logger

	// Ident identifies the connection (serial device path or host:port).
	// It is only stored here: the registry key and TransportOpenError take
	// the identity from the Transport itself.
	Ident string

	// Transport allows injecting a custom transport implementation, e.g. for
	// tests. If nil, the Controller is constructed with one by the caller
	// (the engine package does not itself choose socket vs. serial).
	Transport Transport `json:"-"`

	// IgnoreErrors mirrors state.controller.exception.ignoreErrors: when
	// true, a machine "error:" response during streaming does not pause the
	// Workflow.
	IgnoreErrors bool

	// Macros is the macro set available to macro:run / macro:load.
	Macros []Macro

	// Files resolves watchdir:load paths to G-code text. If nil,
	// watchdir:load always fails.
	Files FileReader `json:"-"`

	// BufferSize is the initial Sender receive-buffer budget, pre-adjusted
	// for the firmware's line-buffer safety margin. Defaults to 120 (128-8)
	// per spec.md §4.3 if zero.
	BufferSize int

	// TickInterval overrides the 250ms controller loop period. Zero means
	// the spec default.
	TickInterval time.Duration

	// ParserStateThrottle overrides the 500ms minimum interval between $G
	// queries, measured from the last $G sent; no trailing-edge query is
	// scheduled. Zero means the spec default.
	ParserStateThrottle time.Duration

	// StatusQueryTimeout overrides the 5s auto-clear on an unanswered `?`.
	// Zero means the spec default.
	StatusQueryTimeout time.Duration

	// ParserStateTimeout overrides the 10s auto-clear on an unanswered $G.
	// Zero means the spec default.
	ParserStateTimeout time.Duration

	// EndOfProgramIdleWindow overrides the 500ms idle-confirmation window
	// used for end-of-program detection. Zero means the spec default.
	EndOfProgramIdleWindow time.Duration
}
