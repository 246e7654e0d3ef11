package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/feeder"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
	"github.com/cncjs/smoothie-controller/internal/response"
	"github.com/cncjs/smoothie-controller/internal/sender"
	"github.com/cncjs/smoothie-controller/internal/workflow"
)

type fakeTransport struct {
	mu     sync.Mutex
	writes []string
	open   bool
}

func (f *fakeTransport) Ident() string { return "fake" }

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.open = false

	return nil
}

func (f *fakeTransport) Open(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.open = true

	return nil
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes = append(f.writes, string(p))

	return nil
}

func (f *fakeTransport) Events() <-chan config.Event { return nil }

func (f *fakeTransport) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.writes...)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBroadcaster) Emit(event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
}

func (b *fakeBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0

	for _, e := range b.events {
		if e == event {
			n++
		}
	}

	return n
}

func newTestEngine(t *testing.T, ignoreErrors bool) (*Engine, *fakeTransport, *fakeBroadcaster, *sender.Sender, *feeder.Feeder, *workflow.Workflow) {
	t.Helper()

	tr := &fakeTransport{open: true}
	pre := preprocess.New(nil)
	snd := sender.New(nil, tr, pre, 1024)
	fdr := feeder.New(nil, tr, pre)
	bc := &fakeBroadcaster{}

	var wf *workflow.Workflow
	wf = workflow.New(nil, snd, fdr, func(model.WorkflowState) {})

	e := New(nil, tr, response.New(), snd, fdr, wf, bc, ignoreErrors, Timing{})
	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()

	return e, tr, bc, snd, fdr, wf
}

func TestEngine_OKWhileRunningUnholdsAndAdvances(t *testing.T) {
	e, _, _, snd, _, wf := newTestEngine(t, false)

	require.NoError(t, snd.Load("job.gcode", "G0 X1", model.Context{}))
	require.NoError(t, snd.Start())
	wf.Start()

	trig := snd.Next()
	require.Equal(t, preprocess.TriggerWait, trig)
	require.True(t, snd.IsHolding())
	require.Equal(t, 2, snd.Snapshot().Sent) // G0 X1 plus the appended %wait dwell

	e.onOK("ok") // acks the G0 X1 line; one line still outstanding (the dwell)
	require.True(t, snd.IsHolding())

	e.onOK("ok") // acks the dwell itself, the last outstanding line

	snap := snd.Snapshot()
	require.Equal(t, 2, snap.Received)
	require.False(t, snd.IsHolding(), "received+1>=sent boundary must clear the %wait self-hold")
}

func TestEngine_OKWhileIdleSurfacesAndAdvancesFeeder(t *testing.T) {
	e, tr, bc, _, fdr, _ := newTestEngine(t, false)

	fdr.Feed([]string{"G91"}, model.Context{})

	e.onOK("ok")

	require.Equal(t, []string{"G91\n"}, tr.written())
	require.Equal(t, 1, bc.count("connection:read"))
}

func TestEngine_ErrorWhileRunningPausesWorkflow(t *testing.T) {
	e, _, bc, snd, _, wf := newTestEngine(t, false)

	require.NoError(t, snd.Load("job.gcode", "G0 X1", model.Context{}))
	require.NoError(t, snd.Start())
	wf.Start()
	snd.Next()

	e.onError("error: Alarm lock")

	require.Equal(t, model.WorkflowPaused, wf.State())
	require.GreaterOrEqual(t, bc.count("connection:read"), 1)
}

func TestEngine_ErrorIgnoredWhenIgnoreErrorsSet(t *testing.T) {
	e, _, _, snd, _, wf := newTestEngine(t, true)

	require.NoError(t, snd.Load("job.gcode", "G0 X1", model.Context{}))
	require.NoError(t, snd.Start())
	wf.Start()
	snd.Next()

	e.onError("error: something")

	require.Equal(t, model.WorkflowRunning, wf.State())
}

func TestEngine_AlarmResetsAndHoldsFeeder(t *testing.T) {
	e, _, _, _, fdr, _ := newTestEngine(t, false)

	fdr.Feed([]string{"G91"}, model.Context{})

	e.handleLine("ALARM: Hard limit")

	require.True(t, fdr.IsHolding())
	require.Zero(t, fdr.Snapshot().QueueLen)
}

func TestEngine_StatusSelfTunesBuffer(t *testing.T) {
	tr := &fakeTransport{open: true}
	pre := preprocess.New(nil)
	snd := sender.New(nil, tr, pre, 64)
	fdr := feeder.New(nil, tr, pre)
	wf := workflow.New(nil, snd, fdr, nil)
	e := New(nil, tr, response.New(), snd, fdr, wf, nil, false, Timing{})

	e.onStatus("<Idle|MPos:0,0,0|Buf:200>")

	require.Equal(t, 192, snd.Snapshot().BufferSize)
}

func TestEngine_EndOfProgramDetectionStopsWorkflowAfterIdleWindow(t *testing.T) {
	e, _, _, _, _, wf := newTestEngine(t, false)

	wf.Start()

	e.mu.Lock()
	e.snapshot.MachineState = "Idle"
	e.times.SenderFinishTime = time.Now().Add(-time.Second)
	e.lastWPos = e.snapshot.WPos
	e.mu.Unlock()

	e.detectEndOfProgram()

	require.Equal(t, model.WorkflowIdle, wf.State())
}

func TestEngine_EndOfProgramSlidesForwardWhileNotIdle(t *testing.T) {
	e, _, _, _, _, wf := newTestEngine(t, false)

	wf.Start()

	e.mu.Lock()
	e.snapshot.MachineState = "Run"
	e.times.SenderFinishTime = time.Now().Add(-time.Second)
	e.mu.Unlock()

	e.detectEndOfProgram()

	e.mu.Lock()
	finish := e.times.SenderFinishTime
	e.mu.Unlock()

	require.False(t, finish.IsZero())
	require.Equal(t, model.WorkflowRunning, wf.State())
}

func TestEngine_OnOKRefreshesSenderContextBeforeNextLine(t *testing.T) {
	tr := &fakeTransport{open: true}
	pre := preprocess.New(nil)
	snd := sender.New(nil, tr, pre, 8) // room for "G0 X1" only, so line 2 waits for its ack
	fdr := feeder.New(nil, tr, pre)
	wf := workflow.New(nil, snd, fdr, nil)
	e := New(nil, tr, response.New(), snd, fdr, wf, nil, false, Timing{})

	require.NoError(t, snd.Load("job.gcode", "G0 X1\nG0 X[mposx]", model.Context{}))
	require.NoError(t, snd.Start())
	wf.Start()
	snd.Next() // sends "G0 X1\n" directly, as dispatch.SenderStart would

	e.mu.Lock()
	e.snapshot.MPos = model.Axes{X: 42}
	e.mu.Unlock()

	e.onOK("ok") // acks line 1, refreshes context, sends line 2 via the engine

	require.Contains(t, tr.written(), "G0 X42\n")
}

func TestEngine_RequestStatusReportMarksReplyMask(t *testing.T) {
	e, tr, _, _, _, _ := newTestEngine(t, false)

	require.NoError(t, e.RequestStatusReport())
	require.Equal(t, []string{"?"}, tr.written())

	e.mu.Lock()
	reply := e.mask.ReplyStatusReport
	e.mu.Unlock()
	require.True(t, reply)
}
