package smoothie

import (
	"context"
	"log/slog"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/dispatch"
	"github.com/cncjs/smoothie-controller/internal/engine"
	"github.com/cncjs/smoothie-controller/internal/feeder"
	"github.com/cncjs/smoothie-controller/internal/hook"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
	"github.com/cncjs/smoothie-controller/internal/response"
	"github.com/cncjs/smoothie-controller/internal/sender"
	"github.com/cncjs/smoothie-controller/internal/session"
	"github.com/cncjs/smoothie-controller/internal/workflow"
)

// FileReader resolves a watched-directory path to its G-code text for
// watchdir:load. An embedding program supplies this; smoothie itself does
// not read the filesystem.
type FileReader = dispatch.FileReader

// Controller is the public entry point: one instance owns one transport
// connection and the Sender/Feeder/Workflow/Engine stack driving it.
type Controller struct {
	log *slog.Logger

	transport config.Transport
	engine    *engine.Engine
	dispatch  *dispatch.Dispatcher
	sessions  *session.Registry
	hooks     *hook.Registry
	registry  *engine.Registry
}

// New constructs a Controller from functional options. The transport must
// be supplied via WithTransport; New does not choose socket vs. serial on
// the caller's behalf.
func New(opts ...Option) *Controller {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	sessions := session.NewRegistry(log)
	hooks := hook.NewRegistry()

	pre := preprocess.New(log)
	snd := sender.New(log, options.Transport, pre, options.BufferSize)
	fdr := feeder.New(log, options.Transport, pre)

	wf := workflow.New(log, snd, fdr, func(state model.WorkflowState) {
		sessions.Emit("workflow:state", state)
	})

	parser := response.New()

	eng := engine.New(
		log,
		options.Transport,
		parser,
		snd,
		fdr,
		wf,
		sessions,
		options.IgnoreErrors,
		engine.Timing{
			TickInterval:            options.TickInterval,
			StatusQueryTimeout:      options.StatusQueryTimeout,
			ParserStateQueryTimeout: options.ParserStateTimeout,
			ParserStateThrottle:     options.ParserStateThrottle,
			EndOfProgramIdleWindow:  options.EndOfProgramIdleWindow,
		},
	)

	macros := config.NewMacroStore(options.Macros)

	d := dispatch.New(log, options.Transport, eng, snd, fdr, wf, hooks, sessions, macros, options.Files)

	return &Controller{
		log:       log.With("component", "controller"),
		transport: options.Transport,
		engine:    eng,
		dispatch:  d,
		sessions:  sessions,
		hooks:     hooks,
		registry:  options.Registry,
	}
}

// Open opens the transport and starts the controller loop (spec.md §4.8).
// It returns once the transport is open; background loops run until ctx is
// cancelled or Close is called.
func (c *Controller) Open(ctx context.Context) error {
	if err := c.engine.Open(ctx); err != nil {
		return err
	}

	if c.registry != nil {
		c.registry.Put(c.transport.Ident(), c.engine)
	}

	return nil
}

// Close stops the controller loop and closes the transport.
func (c *Controller) Close() error {
	if c.registry != nil {
		c.registry.Remove(c.transport.Ident())
	}

	return c.engine.Close()
}

// Snapshot returns the controller's current machine state.
func (c *Controller) Snapshot() model.MachineSnapshot {
	return c.engine.Snapshot()
}

// IsReady reports whether the firmware handshake has completed.
func (c *Controller) IsReady() bool {
	return c.engine.IsReady()
}

// Hooks exposes the command-lifecycle hook registry so an embedder can
// observe sender/feedhold/cyclestart/homing events without polling
// Subscribe.
func (c *Controller) Hooks() *hook.Registry {
	return c.hooks
}

// Subscribe registers a new session and returns its id and event channel
// (spec.md §6, §9). Call Unsubscribe(id) when done to release the slot.
func (c *Controller) Subscribe() (id string, events <-chan session.Event) {
	return c.sessions.Subscribe()
}

// Unsubscribe releases a session registered via Subscribe.
func (c *Controller) Unsubscribe(id string) {
	c.sessions.Unsubscribe(id)
}

// SenderLoad loads a named program for character-counting streaming
// (spec.md §4.7 "sender:load").
func (c *Controller) SenderLoad(name, text string, ctx model.Context) error {
	return c.dispatch.SenderLoad(name, text, ctx)
}

// SenderUnload clears the loaded program (spec.md §4.7 "sender:unload").
func (c *Controller) SenderUnload() {
	c.dispatch.SenderUnload()
}

// SenderStart begins streaming the loaded program (spec.md §4.7 "sender:start").
func (c *Controller) SenderStart() {
	c.dispatch.SenderStart()
}

// SenderStop halts streaming and returns to idle (spec.md §4.7 "sender:stop").
func (c *Controller) SenderStop() {
	c.dispatch.SenderStop()
}

// SenderPause holds streaming in place (spec.md §4.7 "sender:pause").
func (c *Controller) SenderPause() {
	c.dispatch.SenderPause()
}

// SenderResume resumes streaming after a pause (spec.md §4.7 "sender:resume").
func (c *Controller) SenderResume() {
	c.dispatch.SenderResume()
}

// FeederStart releases any feedhold and advances the feeder queue
// (spec.md §4.7 "feeder:start"). running reports whether the Sender is
// already streaming, since a held Sender must not be cycle-started twice.
func (c *Controller) FeederStart(running bool) {
	c.dispatch.FeederStart(running)
}

// FeederStop discards any queued ad-hoc lines (spec.md §4.7 "feeder:stop").
func (c *Controller) FeederStop() {
	c.dispatch.FeederStop()
}

// Feedhold issues a realtime feed hold (spec.md §4.7 "feedhold").
func (c *Controller) Feedhold() {
	c.dispatch.Feedhold()
}

// Cyclestart issues a realtime cycle start / resume (spec.md §4.7 "cyclestart").
func (c *Controller) Cyclestart() {
	c.dispatch.Cyclestart()
}

// Homing issues the homing cycle (spec.md §4.7 "homing").
func (c *Controller) Homing() {
	c.dispatch.Homing()
}

// Unlock clears an alarm lock (spec.md §4.7 "unlock").
func (c *Controller) Unlock() {
	c.dispatch.Unlock()
}

// Reset issues a realtime soft reset and clears in-flight state (spec.md §4.7 "reset").
func (c *Controller) Reset() {
	c.dispatch.Reset()
}

// Sleep is a reserved no-op command slot (spec.md §4.7 "sleep").
func (c *Controller) Sleep() {
	c.dispatch.Sleep()
}

// OverrideFeed adjusts the feed-rate override by delta percentage points,
// clamped to [10,200]; delta 0 resets to 100% (spec.md §9).
func (c *Controller) OverrideFeed(delta int) error {
	return c.dispatch.OverrideFeed(delta)
}

// OverrideSpindle adjusts the spindle-speed override by delta percentage
// points, clamped to [10,200]; delta 0 resets to 100% (spec.md §9).
func (c *Controller) OverrideSpindle(delta int) error {
	return c.dispatch.OverrideSpindle(delta)
}

// OverrideRapid is a reserved no-op command slot (spec.md §4.7 "override:rapid").
func (c *Controller) OverrideRapid() {
	c.dispatch.OverrideRapid()
}

// Lasertest fires the laser at power (0-100) and, when durationMs > 0,
// dwells for durationMs then turns it off; with durationMs <= 0 the laser is
// left on. Power 0 turns the laser off (spec.md §4.7 "lasertest").
func (c *Controller) Lasertest(power, durationMs int) error {
	return c.dispatch.Lasertest(power, durationMs)
}

// Gcode feeds ad-hoc command lines through the Feeder (spec.md §4.7 "gcode").
func (c *Controller) Gcode(commands []string, ctx model.Context) {
	c.dispatch.Gcode(commands, ctx)
}

// MacroRun feeds a stored macro's content through the Feeder (spec.md §4.7 "macro:run").
func (c *Controller) MacroRun(id string, ctx model.Context) error {
	return c.dispatch.MacroRun(id, ctx)
}

// MacroLoad loads a stored macro's content as the Sender program (spec.md §4.7 "macro:load").
func (c *Controller) MacroLoad(id string, ctx model.Context) error {
	return c.dispatch.MacroLoad(id, ctx)
}

// WatchdirLoad reads path via the configured FileReader and loads it as the
// Sender program (spec.md §4.7 "watchdir:load").
func (c *Controller) WatchdirLoad(path string, ctx model.Context) error {
	return c.dispatch.WatchdirLoad(path, ctx)
}

// RequestStatusReport issues an immediate out-of-band `?` status query.
func (c *Controller) RequestStatusReport() error {
	return c.dispatch.RequestStatusReport()
}

// RequestParserState issues an immediate out-of-band $G parser-state query.
func (c *Controller) RequestParserState() error {
	return c.dispatch.RequestParserState()
}
