// Package engine implements the periodic controller loop and connection
// lifecycle (spec.md §4.5, §4.8): it owns the transport read loop, the
// 250 ms tick, and the Response dispatch (§4.6) that reacts to classified
// inbound events by driving the Sender, Feeder, and Workflow.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/feeder"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
	"github.com/cncjs/smoothie-controller/internal/response"
	"github.com/cncjs/smoothie-controller/internal/sender"
	"github.com/cncjs/smoothie-controller/internal/workflow"
)

const (
	defaultTickInterval           = 250 * time.Millisecond
	defaultStatusQueryTimeout      = 5 * time.Second
	defaultParserStateQueryTimeout = 10 * time.Second
	defaultParserStateThrottle     = 500 * time.Millisecond
	defaultEndOfProgramIdleWindow  = 500 * time.Millisecond
	bootloaderDelay                = 1000 * time.Millisecond
	versionSettleDelay             = 50 * time.Millisecond
)

// Timing holds the tunable periods of the controller loop (spec.md §4.5),
// overridable via config.Options for tests and non-default firmware
// timeouts. A zero field takes the spec default.
type Timing struct {
	TickInterval           time.Duration
	StatusQueryTimeout      time.Duration
	ParserStateQueryTimeout time.Duration
	ParserStateThrottle     time.Duration
	EndOfProgramIdleWindow  time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.TickInterval == 0 {
		t.TickInterval = defaultTickInterval
	}

	if t.StatusQueryTimeout == 0 {
		t.StatusQueryTimeout = defaultStatusQueryTimeout
	}

	if t.ParserStateQueryTimeout == 0 {
		t.ParserStateQueryTimeout = defaultParserStateQueryTimeout
	}

	if t.ParserStateThrottle == 0 {
		t.ParserStateThrottle = defaultParserStateThrottle
	}

	if t.EndOfProgramIdleWindow == 0 {
		t.EndOfProgramIdleWindow = defaultEndOfProgramIdleWindow
	}

	return t
}

// Broadcaster fans out named session events (spec.md §6 "Sessions"). The
// session registry implements this; Engine is only a producer.
type Broadcaster interface {
	Emit(event string, payload any)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Emit(string, any) {}

// Engine owns one transport connection's lifecycle and logical thread: the
// periodic tick, the inbound line buffer, and the Response dispatch that
// reacts to classified events (spec.md §4.5, §4.6, §4.8).
type Engine struct {
	log          *slog.Logger
	transport    config.Transport
	parser       *response.Parser
	sender       *sender.Sender
	feeder       *feeder.Feeder
	workflow     *workflow.Workflow
	broadcaster  Broadcaster
	ignoreErrors bool
	timing       Timing

	mu       sync.Mutex
	snapshot model.MachineSnapshot
	mask     model.ActionMask
	times    model.ActionTime
	ready    bool
	lineBuf  bytes.Buffer
	lastWPos model.Axes

	prevSettingsVersion uint64
	prevStateVersion    uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. broadcaster may be nil (events are dropped), used
// by tests that don't care about session fan-out.
func New(
	log *slog.Logger,
	transport config.Transport,
	parser *response.Parser,
	snd *sender.Sender,
	fdr *feeder.Feeder,
	wf *workflow.Workflow,
	broadcaster Broadcaster,
	ignoreErrors bool,
	timing Timing,
) *Engine {
	if log == nil {
		log = slog.Default()
	}

	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}

	return &Engine{
		log:          log.With("component", "engine"),
		transport:    transport,
		parser:       parser,
		sender:       snd,
		feeder:       fdr,
		workflow:     wf,
		timing:       timing.withDefaults(),
		broadcaster:  broadcaster,
		ignoreErrors: ignoreErrors,
	}
}

// Snapshot returns a copy of the current machine snapshot.
func (e *Engine) Snapshot() model.MachineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshot
}

// refreshSenderContext refreshes the Sender's bracket-substitution
// variables from the latest machine snapshot before it sends another line
// (spec.md §4.1 "context is populated with bbox/mpos/pos/modal each call").
// Bounding-box extents are left at their zero default; the core doesn't
// compute a program's extents (spec.md §1 non-goal).
func (e *Engine) refreshSenderContext() {
	preprocess.PopulateContext(e.sender.Context(), e.Snapshot(), preprocess.BoundingBox{})
}

// IsReady reports whether initController has completed.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ready
}

// Open attaches the transport's event stream, opens it, and starts the
// tick and initController goroutines (spec.md §4.8 "open"). It returns once
// the transport is open; the background loops run until ctx is cancelled or
// Close is called.
func (e *Engine) Open(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.transport.Open(ctx); err != nil {
		cancel()

		e.broadcaster.Emit("connection:error", err)

		return err
	}

	e.broadcaster.Emit("connection:open", e.transport.Ident())
	e.broadcaster.Emit("connection:change", map[string]any{"ident": e.transport.Ident(), "open": true})

	e.workflow.Stop()
	e.clearActionValues()

	group, groupCtx := errgroup.WithContext(runCtx)

	e.wg.Add(1)
	group.Go(func() error {
		defer e.wg.Done()

		return e.readLoop(groupCtx)
	})

	e.wg.Add(1)
	group.Go(func() error {
		defer e.wg.Done()

		return e.tickLoop(groupCtx)
	})

	go e.initController(runCtx)

	go func() {
		if err := group.Wait(); err != nil {
			e.log.Debug("engine run loop exited", "error", err)
		}
	}()

	return nil
}

// Close clears ready, emits connection:close/change, and closes the
// transport (spec.md §4.8 "close").
func (e *Engine) Close() error {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}

	e.wg.Wait()

	e.broadcaster.Emit("connection:close", e.transport.Ident())
	e.broadcaster.Emit("connection:change", map[string]any{"ident": e.transport.Ident(), "open": false})

	return e.transport.Close()
}

// clearActionValues resets masks/times and unloads any loaded program, run
// on every (re)open (spec.md §4.8).
func (e *Engine) clearActionValues() {
	e.mu.Lock()
	e.mask = model.ActionMask{}
	e.times = model.ActionTime{}
	e.mu.Unlock()

	e.sender.Unload()
}

// initController waits for the bootloader, probes the firmware version,
// then marks the controller ready (spec.md §4.8).
func (e *Engine) initController(ctx context.Context) {
	select {
	case <-time.After(bootloaderDelay):
	case <-ctx.Done():
		return
	}

	if err := e.transport.Write([]byte("version\n")); err != nil {
		e.log.Debug("version probe failed", "error", err)
	}

	select {
	case <-time.After(versionSettleDelay):
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
}

// readLoop consumes transport events, buffering partial lines (spec.md §6
// "must tolerate partial lines and buffer until newline" — a Response
// Parser responsibility the transport deliberately does not take on).
func (e *Engine) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.transport.Events():
			if !ok {
				return nil
			}

			switch ev.Kind {
			case config.EventData:
				e.feedBytes(ev.Data)
			case config.EventClose:
				e.handleUnexpectedClose(ev.Err)

				return nil
			case config.EventError:
				e.handleUnexpectedClose(ev.Err)

				return ev.Err
			}
		}
	}
}

func (e *Engine) handleUnexpectedClose(err error) {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()

	e.broadcaster.Emit("connection:error", err)

	_ = e.transport.Close()
}

func (e *Engine) feedBytes(data []byte) {
	e.mu.Lock()
	e.lineBuf.Write(data)
	buffered := e.lineBuf.Bytes()

	var lines []string

	for {
		idx := bytes.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}

		lines = append(lines, string(buffered[:idx]))
		buffered = buffered[idx+1:]
	}

	remainder := append([]byte(nil), buffered...)
	e.lineBuf.Reset()
	e.lineBuf.Write(remainder)
	e.mu.Unlock()

	for _, line := range lines {
		e.handleLine(line)
	}
}

// handleLine classifies one inbound line and applies its effect (spec.md
// §4.6 "Response dispatch").
func (e *Engine) handleLine(raw string) {
	ev := e.parser.Classify(raw)

	switch ev.Kind {
	case response.KindStatus:
		e.onStatus(raw)
	case response.KindOK:
		e.onOK(raw)
	case response.KindError:
		e.onError(raw)
	case response.KindAlarm:
		e.broadcaster.Emit("connection:read", raw)
		e.feeder.Reset()
		e.feeder.Hold("alarm")
	case response.KindParserState:
		e.onParserState(raw)
	case response.KindParameters:
		e.mu.Lock()
		e.parser.ApplyParameters(&e.snapshot)
		e.mu.Unlock()
		e.broadcaster.Emit("connection:read", raw)
	case response.KindVersion:
		e.broadcaster.Emit("connection:read", raw)
	default:
		e.broadcaster.Emit("connection:read", raw)
	}
}

func (e *Engine) onStatus(raw string) {
	e.mu.Lock()
	e.mask.QueryStatusReport = false
	reply := e.mask.ReplyStatusReport
	e.mask.ReplyStatusReport = false
	buf := e.parser.ApplyStatus(&e.snapshot, raw)
	workflowIdle := e.workflow.State() == model.WorkflowIdle
	e.mu.Unlock()

	if reply {
		e.broadcaster.Emit("connection:read", raw)
	}

	if buf.Known {
		e.sender.TuneBufferSize(buf.RX, workflowIdle)
	}
}

func (e *Engine) onParserState(raw string) {
	e.mu.Lock()
	e.mask.QueryParserStateState = false
	e.mask.QueryParserStateReply = true
	e.parser.ApplyParserState(&e.snapshot, raw)
	reply := e.mask.ReplyParserState
	e.mu.Unlock()

	if reply {
		e.broadcaster.Emit("connection:read", raw)
	}
}

func (e *Engine) onOK(raw string) {
	e.mu.Lock()
	parserAck := e.mask.QueryParserStateReply
	if parserAck {
		e.mask.QueryParserStateReply = false
	}

	reply := e.mask.ReplyParserState
	e.mask.ReplyParserState = false
	state := e.workflow.State()
	e.mu.Unlock()

	if parserAck {
		if reply {
			e.broadcaster.Emit("connection:read", raw)
		}

		return
	}

	switch state {
	case model.WorkflowRunning:
		snap := e.sender.Snapshot()
		if snap.Hold && snap.Received+1 >= snap.Sent {
			e.sender.Unhold()
		}

		if ended := e.sender.Ack(); ended {
			e.mu.Lock()
			e.times.SenderFinishTime = time.Now()
			e.mu.Unlock()
		}

		e.refreshSenderContext()
		e.sender.Next()
	case model.WorkflowPaused:
		snap := e.sender.Snapshot()
		if snap.Received < snap.Sent {
			e.sender.Ack()
			e.refreshSenderContext()
			e.sender.Next()
		} else {
			e.broadcaster.Emit("connection:read", raw)
			e.feeder.Ack()
			e.feeder.Next()
		}
	default:
		e.broadcaster.Emit("connection:read", raw)
		e.feeder.Ack()
		e.feeder.Next()
	}
}

func (e *Engine) onError(raw string) {
	state := e.workflow.State()

	if state != model.WorkflowRunning {
		e.broadcaster.Emit("connection:read", raw)
		e.feeder.Ack()
		e.feeder.Next()

		return
	}

	if text, lineNo, ok := e.sender.HeadLineText(); ok {
		e.broadcaster.Emit("connection:read", fmt.Sprintf("> %s (line=%d)", text, lineNo))
	}

	e.broadcaster.Emit("connection:read", raw)

	if !e.ignoreErrors {
		e.workflow.Pause(fmt.Sprintf("err:%s", strings.TrimSpace(raw)))
	}

	e.sender.Ack()
	e.refreshSenderContext()
	e.sender.Next()
}

// tickLoop drives the 250 ms periodic tick (spec.md §4.5).
func (e *Engine) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.timing.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !e.transport.IsOpen() {
				continue
			}

			e.tick()
		}
	}
}

func (e *Engine) tick() {
	if e.feeder.HasWork() {
		e.broadcaster.Emit("feeder:status", e.feeder.Snapshot())
	}

	if e.sender.HasWork() {
		e.broadcaster.Emit("sender:status", e.sender.Snapshot())
	}

	e.mu.Lock()
	settingsVersion := e.snapshot.SettingsVersion
	stateVersion := e.snapshot.StateVersion
	settingsChanged := settingsVersion != e.prevSettingsVersion
	stateChanged := stateVersion != e.prevStateVersion
	e.prevSettingsVersion = settingsVersion
	e.prevStateVersion = stateVersion
	snap := e.snapshot
	ready := e.ready
	e.mu.Unlock()

	if settingsChanged {
		e.broadcaster.Emit("controller:settings", map[string]any{"type": "Smoothie", "settings": snap})
		e.broadcaster.Emit("Smoothie:settings", snap)
	}

	if stateChanged {
		e.broadcaster.Emit("controller:state", map[string]any{"type": "Smoothie", "state": snap})
		e.broadcaster.Emit("Smoothie:state", snap)
	}

	if !ready {
		return
	}

	e.queryStatusReport()
	e.queryParserState()
	e.detectEndOfProgram()
}

func (e *Engine) queryStatusReport() {
	now := time.Now()

	e.mu.Lock()
	if e.mask.QueryStatusReport {
		if now.Sub(e.times.QueryStatusReport) < e.timing.StatusQueryTimeout {
			e.mu.Unlock()

			return
		}

		e.mask.QueryStatusReport = false
	}

	e.mask.QueryStatusReport = true
	e.times.QueryStatusReport = now
	e.mu.Unlock()

	if err := e.transport.Write([]byte("?")); err != nil {
		e.log.Debug("status query write failed", "error", err)
	}
}

func (e *Engine) queryParserState() {
	now := time.Now()

	e.mu.Lock()
	workflowIdle := e.workflow.State() == model.WorkflowIdle
	controllerIdle := e.snapshot.IsIdle()

	if !workflowIdle || !controllerIdle {
		e.mu.Unlock()

		return
	}

	if e.mask.QueryParserStateState || e.mask.QueryParserStateReply {
		if now.Sub(e.times.QueryParserState) < e.timing.ParserStateQueryTimeout {
			e.mu.Unlock()

			return
		}

		e.mask.QueryParserStateState = false
		e.mask.QueryParserStateReply = false
	}

	if now.Sub(e.times.QueryParserState) < e.timing.ParserStateThrottle {
		e.mu.Unlock()

		return
	}

	e.mask.QueryParserStateState = true
	e.times.QueryParserState = now
	e.mu.Unlock()

	if err := e.transport.Write([]byte("$G\n")); err != nil {
		e.log.Debug("parser state query write failed", "error", err)
	}
}

// detectEndOfProgram implements spec.md §4.5 step 8: once the Sender has
// signalled end, wait for the machine to actually sit idle at a stable work
// position for 500 ms, then stop the Workflow. It calls Workflow.Stop
// directly; the sender:stop hook is not triggered from here.
func (e *Engine) detectEndOfProgram() {
	now := time.Now()

	e.mu.Lock()

	if e.times.SenderFinishTime.IsZero() {
		e.mu.Unlock()

		return
	}

	idle := e.snapshot.IsIdle()
	stable := e.snapshot.WPos == e.lastWPos
	e.lastWPos = e.snapshot.WPos

	if !idle || !stable {
		e.times.SenderFinishTime = now
		e.mu.Unlock()

		return
	}

	expired := now.Sub(e.times.SenderFinishTime) > e.timing.EndOfProgramIdleWindow
	if expired {
		e.times.SenderFinishTime = time.Time{}
	}

	e.mu.Unlock()

	if expired {
		e.workflow.Stop()
	}
}

// RequestStatusReport issues a user-originated `?` query, marking the reply
// for a one-time `connection:read` surface (spec.md §4.6 "status").
func (e *Engine) RequestStatusReport() error {
	e.mu.Lock()
	e.mask.ReplyStatusReport = true
	e.mu.Unlock()

	return e.transport.Write([]byte("?"))
}

// RequestParserState issues a user-originated `$G` query, marking the reply
// for a one-time `connection:read` surface (spec.md §4.6 "ok").
func (e *Engine) RequestParserState() error {
	e.mu.Lock()
	e.mask.ReplyParserState = true
	e.mu.Unlock()

	return e.transport.Write([]byte("$G\n"))
}

// OverrideFeed returns the cached feed-rate override percentage.
func (e *Engine) OverrideFeed() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshot.OvF
}

// SetOverrideFeed optimistically writes back the feed-rate override before
// the firmware confirms it (spec.md §9 "Optimistic override writeback");
// the next authoritative status report overwrites it cleanly.
func (e *Engine) SetOverrideFeed(v int) {
	e.mu.Lock()
	e.snapshot.OvF = v
	e.mu.Unlock()
}

// OverrideSpindle returns the cached spindle-speed override percentage.
func (e *Engine) OverrideSpindle() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshot.OvS
}

// SetOverrideSpindle optimistically writes back the spindle-speed override.
func (e *Engine) SetOverrideSpindle(v int) {
	e.mu.Lock()
	e.snapshot.OvS = v
	e.mu.Unlock()
}

// MachineState returns the firmware's last-reported machine state string
// (e.g. "Idle", "Run", "Hold"), used by sender:stop's Hold-recovery check.
func (e *Engine) MachineState() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshot.MachineState
}
