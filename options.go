package smoothie

import (
	"log/slog"
	"time"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/engine"
)

// ControllerOptions configures a Controller instance. It embeds
// config.Options so the internal packages and the public API share one
// struct for every field they already pass among themselves, plus
// Registry: a root-only collaborator config.Options can't carry without an
// import cycle (internal/engine already imports internal/config).
type ControllerOptions struct {
	config.Options

	// Registry, if set, tracks this Controller's Engine by connection
	// identity across Open/Close, in place of process-wide global state
	// (spec.md §9 "Global mutable state"). Share one Registry across
	// Controllers managing multiple connections.
	Registry *engine.Registry
}

// Option configures ControllerOptions using the functional options pattern.
type Option func(*ControllerOptions)

// applyOptions applies functional options to a fresh ControllerOptions.
func applyOptions(opts []Option) *ControllerOptions {
	options := &ControllerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *ControllerOptions) {
		o.Logger = logger
	}
}

// WithIdent sets the connection identity (serial device path or host:port)
// on the options. The registry key and diagnostics use Transport.Ident()
// instead.
func WithIdent(ident string) Option {
	return func(o *ControllerOptions) {
		o.Ident = ident
	}
}

// WithTransport injects a custom transport implementation, e.g. for tests
// or an in-memory fake.
func WithTransport(transport config.Transport) Option {
	return func(o *ControllerOptions) {
		o.Transport = transport
	}
}

// WithIgnoreErrors controls whether a machine "error:" response during
// streaming pauses the Workflow (false, the default) or is merely surfaced
// and skipped over (true).
func WithIgnoreErrors(ignore bool) Option {
	return func(o *ControllerOptions) {
		o.IgnoreErrors = ignore
	}
}

// WithMacros registers the macro set available to macro:run / macro:load.
func WithMacros(macros ...config.Macro) Option {
	return func(o *ControllerOptions) {
		o.Macros = macros
	}
}

// WithFileReader supplies the collaborator watchdir:load resolves paths
// through. Without it, watchdir:load always fails.
func WithFileReader(files FileReader) Option {
	return func(o *ControllerOptions) {
		o.Files = files
	}
}

// WithBufferSize overrides the Sender's initial receive-buffer budget.
// Zero means the spec default (120).
func WithBufferSize(size int) Option {
	return func(o *ControllerOptions) {
		o.BufferSize = size
	}
}

// WithTickInterval overrides the controller loop period. Zero means the
// spec default (250ms).
func WithTickInterval(d time.Duration) Option {
	return func(o *ControllerOptions) {
		o.TickInterval = d
	}
}

// WithParserStateThrottle overrides the minimum interval between $G
// queries; no trailing-edge query is scheduled. Zero means the spec
// default (500ms).
func WithParserStateThrottle(d time.Duration) Option {
	return func(o *ControllerOptions) {
		o.ParserStateThrottle = d
	}
}

// WithStatusQueryTimeout overrides the auto-clear on an unanswered `?`.
// Zero means the spec default (5s).
func WithStatusQueryTimeout(d time.Duration) Option {
	return func(o *ControllerOptions) {
		o.StatusQueryTimeout = d
	}
}

// WithParserStateTimeout overrides the auto-clear on an unanswered $G.
// Zero means the spec default (10s).
func WithParserStateTimeout(d time.Duration) Option {
	return func(o *ControllerOptions) {
		o.ParserStateTimeout = d
	}
}

// WithEndOfProgramIdleWindow overrides the idle-confirmation window used
// for end-of-program detection. Zero means the spec default (500ms).
func WithEndOfProgramIdleWindow(d time.Duration) Option {
	return func(o *ControllerOptions) {
		o.EndOfProgramIdleWindow = d
	}
}

// WithRegistry shares a connection registry across every Controller
// constructed with it, so an embedding program managing several machines
// can look one up by identity instead of keeping its own map.
func WithRegistry(registry *engine.Registry) Option {
	return func(o *ControllerOptions) {
		o.Registry = registry
	}
}
