// Package dispatch implements the Command Dispatcher (spec.md §4.7): the
// public command surface translating named client commands into Sender,
// Feeder, Workflow, and realtime-byte effects, with hook triggering and
// argument schema validation at the boundary.
package dispatch

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/engine"
	"github.com/cncjs/smoothie-controller/internal/errors"
	"github.com/cncjs/smoothie-controller/internal/feeder"
	"github.com/cncjs/smoothie-controller/internal/hook"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/schema"
	"github.com/cncjs/smoothie-controller/internal/sender"
	"github.com/cncjs/smoothie-controller/internal/workflow"
)

// realtimeBytes are written to the transport without a trailing newline and
// never consume receive-buffer accounting (spec.md §6 "Realtime protocol
// bytes").
const (
	byteStatusQuery = "?"
	byteFeedHold    = "!"
	byteCycleStart  = "~"
	byteSoftReset   = "\x18"
)

var (
	gcodeSchema = schema.Object(map[string]*schema.Schema{
		"commands": schema.StringArray(),
	})
	loadSchema = schema.Object(map[string]*schema.Schema{
		"name": schema.String(),
		"text": schema.String(),
	})
	overrideSchema = schema.Object(map[string]*schema.Schema{
		"delta": schema.Integer(),
	})
	lasertestSchema = schema.Object(map[string]*schema.Schema{
		"power":      schema.Integer(),
		"durationMs": schema.Integer(),
	})
	macroSchema = schema.Object(map[string]*schema.Schema{
		"id": schema.String(),
	})
	fileSchema = schema.Object(map[string]*schema.Schema{
		"file": schema.String(),
	})
)

// FileReader reads a watched program file by path, an external collaborator
// (spec.md §4.7 "watchdir:load" — "external file service reads the file").
type FileReader = config.FileReader

// Broadcaster receives the named session events a dispatched command emits
// directly (as opposed to hook.Registry callbacks) — spec.md §6.
type Broadcaster interface {
	Emit(event string, payload any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Emit(string, any) {}

// Dispatcher is the public command surface of the controller core.
type Dispatcher struct {
	log         *slog.Logger
	transport   config.Transport
	eng         *engine.Engine
	sender      *sender.Sender
	feeder      *feeder.Feeder
	workflow    *workflow.Workflow
	hooks       *hook.Registry
	broadcaster Broadcaster
	macros      config.MacroStore
	files       FileReader
}

// New creates a Dispatcher. files may be nil if watchdir:load is unused.
func New(
	log *slog.Logger,
	transport config.Transport,
	eng *engine.Engine,
	snd *sender.Sender,
	fdr *feeder.Feeder,
	wf *workflow.Workflow,
	hooks *hook.Registry,
	broadcaster Broadcaster,
	macros config.MacroStore,
	files FileReader,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	if hooks == nil {
		hooks = hook.NewRegistry()
	}

	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}

	if macros == nil {
		macros = config.NewMacroStore(nil)
	}

	return &Dispatcher{
		log:         log.With("component", "dispatch"),
		transport:   transport,
		eng:         eng,
		sender:      snd,
		feeder:      fdr,
		workflow:    wf,
		hooks:       hooks,
		broadcaster: broadcaster,
		macros:      macros,
		files:       files,
	}
}

// writeRealtime writes a single realtime byte without a trailing newline.
func (d *Dispatcher) writeRealtime(b string) {
	if err := d.transport.Write([]byte(b)); err != nil {
		d.log.Debug("realtime write failed", "error", err)
	}
}

// writeTextual writes a textual command line with a trailing newline.
func (d *Dispatcher) writeTextual(line string) {
	if err := d.transport.Write([]byte(line + "\n")); err != nil {
		d.log.Debug("textual write failed", "error", err)
	}
}

// SenderLoad implements `sender:load(name, text, context)`.
func (d *Dispatcher) SenderLoad(name, text string, ctx model.Context) error {
	if err := schema.Validate(loadSchema, map[string]any{"name": name, "text": text}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	if err := d.sender.Load(name, text, ctx); err != nil {
		return err
	}

	d.broadcaster.Emit("sender:load", map[string]any{"name": name, "content": text, "context": ctx})
	d.hooks.Trigger(hook.EventSenderLoad, map[string]any{"name": name, "content": text})
	d.workflow.Stop()

	return nil
}

// SenderUnload implements `sender:unload`.
func (d *Dispatcher) SenderUnload() {
	d.workflow.Stop()
	d.sender.Unload()
	d.broadcaster.Emit("sender:unload", nil)
	d.hooks.Trigger(hook.EventSenderUnload, nil)
}

// SenderStart implements `sender:start`.
func (d *Dispatcher) SenderStart() {
	d.hooks.Trigger(hook.EventSenderStart, nil)
	d.workflow.Start()
	d.feeder.Reset()
	d.sender.Next()
}

// SenderStop implements `sender:stop`: stops the Workflow, and if the
// firmware is wedged in Hold state, nudges it with a cycle-start so it
// doesn't stay stuck (spec.md §4.7).
func (d *Dispatcher) SenderStop() {
	d.hooks.Trigger(hook.EventSenderStop, nil)
	d.workflow.Stop()

	if d.eng.MachineState() == "Hold" {
		d.writeRealtime(byteCycleStart)
	}
}

// SenderPause implements `sender:pause`.
func (d *Dispatcher) SenderPause() {
	d.hooks.Trigger(hook.EventSenderPause, nil)
	d.workflow.Pause("")
	d.writeRealtime(byteFeedHold)
}

// SenderResume implements `sender:resume`.
func (d *Dispatcher) SenderResume() {
	d.hooks.Trigger(hook.EventSenderResume, nil)
	d.writeRealtime(byteCycleStart)
	d.workflow.Resume()
}

// FeederStart implements `feeder:start`.
func (d *Dispatcher) FeederStart(running bool) {
	if !running {
		d.writeRealtime(byteCycleStart)
	}

	d.feeder.Unhold()
	d.feeder.Next()
}

// FeederStop implements `feeder:stop`.
func (d *Dispatcher) FeederStop() {
	d.feeder.Reset()
}

// Feedhold implements `feedhold`.
func (d *Dispatcher) Feedhold() {
	d.hooks.Trigger(hook.EventFeedhold, nil)
	d.writeRealtime(byteFeedHold)
}

// Cyclestart implements `cyclestart`.
func (d *Dispatcher) Cyclestart() {
	d.hooks.Trigger(hook.EventCyclestart, nil)
	d.writeRealtime(byteCycleStart)
}

// Homing implements `homing`.
func (d *Dispatcher) Homing() {
	d.hooks.Trigger(hook.EventHoming, nil)
	d.writeTextual("$H")
}

// Unlock implements `unlock`. Also releases a Feeder hold left over from an
// ALARM (spec.md §4.6): the firmware's alarm state and the Feeder's hold are
// otherwise independent, so a bare $X would clear the former while ad-hoc
// gcode() lines stayed stuck behind the latter.
func (d *Dispatcher) Unlock() {
	d.writeTextual("$X")
	d.feeder.Unhold()
}

// Reset implements `reset`.
func (d *Dispatcher) Reset() {
	d.workflow.Stop()
	d.feeder.Reset()
	d.writeRealtime(byteSoftReset)
}

// Sleep implements `sleep`: unsupported on Smoothie, a deliberate no-op
// (spec.md §4.7).
func (d *Dispatcher) Sleep() {}

// OverrideRapid implements `override:rapid`: unsupported on Smoothie, a
// deliberate no-op (spec.md §4.7).
func (d *Dispatcher) OverrideRapid() {}

const (
	overrideMin = 10
	overrideMax = 200
)

func clampOverride(v int) int {
	if v < overrideMin {
		return overrideMin
	}

	if v > overrideMax {
		return overrideMax
	}

	return v
}

// OverrideFeed implements `override:feed(delta)`.
func (d *Dispatcher) OverrideFeed(delta int) error {
	if err := schema.Validate(overrideSchema, map[string]any{"delta": delta}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	current := d.eng.OverrideFeed()

	next := current + delta
	if delta == 0 {
		next = 100
	}

	next = clampOverride(next)

	d.Gcode([]string{fmt.Sprintf("M220 S%d", next)}, model.Context{})
	d.eng.SetOverrideFeed(next)

	return nil
}

// OverrideSpindle implements `override:spindle(delta)`.
func (d *Dispatcher) OverrideSpindle(delta int) error {
	if err := schema.Validate(overrideSchema, map[string]any{"delta": delta}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	current := d.eng.OverrideSpindle()

	next := current + delta
	if delta == 0 {
		next = 100
	}

	next = clampOverride(next)

	d.Gcode([]string{fmt.Sprintf("M221 S%d", next)}, model.Context{})
	d.eng.SetOverrideSpindle(next)

	return nil
}

// Lasertest implements `lasertest(power, durationMs)`.
func (d *Dispatcher) Lasertest(power, durationMs int) error {
	if err := schema.Validate(lasertestSchema, map[string]any{"power": power, "durationMs": durationMs}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	var lines []string

	if power == 0 {
		lines = append(lines, "fire off", "M5")
	} else {
		lines = append(lines, "M3", fmt.Sprintf("fire %d", power))

		if durationMs > 0 {
			lines = append(lines,
				fmt.Sprintf("G4 P%g", float64(durationMs)/1000.0),
				"fire off",
				"M5",
			)
		}
	}

	d.Gcode(lines, model.Context{})

	return nil
}

// Gcode implements `gcode(commands, context)`: normalizes to lines, filters
// blanks, feeds them to the Feeder, and advances it if nothing is pending.
func (d *Dispatcher) Gcode(commands []string, ctx model.Context) {
	items := make([]any, len(commands))
	for i, c := range commands {
		items[i] = c
	}

	if err := schema.Validate(gcodeSchema, map[string]any{"commands": items}); err != nil {
		d.log.Debug("gcode commands failed validation", "error", err)
	}

	lines := make([]string, 0, len(commands))

	for _, raw := range commands {
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
	}

	if len(lines) == 0 {
		return
	}

	wasPending := d.feeder.Snapshot().Pending

	d.feeder.Feed(lines, ctx)

	if !wasPending {
		d.feeder.Next()
	}
}

// MacroRun implements `macro:run(id, context)`.
func (d *Dispatcher) MacroRun(id string, ctx model.Context) error {
	if err := schema.Validate(macroSchema, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	m, ok := d.macros.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrMacroNotFound, id)
	}

	d.Gcode(strings.Split(m.Content, "\n"), ctx)

	return nil
}

// MacroLoad implements `macro:load(id, context)`.
func (d *Dispatcher) MacroLoad(id string, ctx model.Context) error {
	if err := schema.Validate(macroSchema, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	m, ok := d.macros.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrMacroNotFound, id)
	}

	return d.SenderLoad(m.Name, m.Content, ctx)
}

// WatchdirLoad implements `watchdir:load(file)`.
func (d *Dispatcher) WatchdirLoad(path string, ctx model.Context) error {
	if err := schema.Validate(fileSchema, map[string]any{"file": path}); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	if d.files == nil {
		return fmt.Errorf("watchdir:load: %w", errors.ErrUnknownCommand)
	}

	text, err := d.files.ReadFile(path)
	if err != nil {
		return err
	}

	return d.SenderLoad(path, text, ctx)
}

// RequestStatusReport issues a user-originated realtime `?` status query.
func (d *Dispatcher) RequestStatusReport() error {
	return d.eng.RequestStatusReport()
}

// RequestParserState issues a user-originated `$G` parser-state query.
func (d *Dispatcher) RequestParserState() error {
	return d.eng.RequestParserState()
}
