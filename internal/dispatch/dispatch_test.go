package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cncjs/smoothie-controller/internal/config"
	ctrlerrors "github.com/cncjs/smoothie-controller/internal/errors"
	"github.com/cncjs/smoothie-controller/internal/engine"
	"github.com/cncjs/smoothie-controller/internal/feeder"
	"github.com/cncjs/smoothie-controller/internal/hook"
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
func (f *fakeTransport) IsOpen() bool  { return f.open }
func (f *fakeTransport) Close() error  { f.open = false; return nil }

func (f *fakeTransport) Open(_ context.Context) error {
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

type fakeFileReader struct {
	content map[string]string
}

func (r *fakeFileReader) ReadFile(path string) (string, error) {
	text, ok := r.content[path]
	if !ok {
		return "", errors.New("not found")
	}

	return text, nil
}

func newTestDispatcher(t *testing.T, macros []config.Macro, files FileReader) (*Dispatcher, *fakeTransport, *sender.Sender, *feeder.Feeder, *workflow.Workflow, *engine.Engine) {
	t.Helper()

	tr := &fakeTransport{open: true}
	pre := preprocess.New(nil)
	snd := sender.New(nil, tr, pre, 1024)
	fdr := feeder.New(nil, tr, pre)
	wf := workflow.New(nil, snd, fdr, func(model.WorkflowState) {})
	eng := engine.New(nil, tr, response.New(), snd, fdr, wf, nil, false, engine.Timing{})

	d := New(nil, tr, eng, snd, fdr, wf, hook.NewRegistry(), nil, config.NewMacroStore(macros), files)

	return d, tr, snd, fdr, wf, eng
}

func TestDispatcher_GcodeFeedsAndAdvancesFeeder(t *testing.T) {
	d, tr, _, _, _, _ := newTestDispatcher(t, nil, nil)

	d.Gcode([]string{"G91\nG1 X1"}, model.Context{})

	require.Equal(t, []string{"G91\n"}, tr.written())
}

func TestDispatcher_GcodeIgnoresBlankLines(t *testing.T) {
	d, tr, _, _, _, _ := newTestDispatcher(t, nil, nil)

	d.Gcode([]string{"", "   ", "G91"}, model.Context{})

	require.Equal(t, []string{"G91\n"}, tr.written())
}

func TestDispatcher_SenderLoadAcceptsEmptyProgram(t *testing.T) {
	d, _, snd, _, _, _ := newTestDispatcher(t, nil, nil)

	err := d.SenderLoad("job.gcode", "", model.Context{})
	require.NoError(t, err)
	require.True(t, snd.Snapshot().Loaded)
}

type recordingBroadcaster struct {
	events []string
}

func (b *recordingBroadcaster) Emit(event string, _ any) {
	b.events = append(b.events, event)
}

func TestDispatcher_SenderLoadStopsWorkflowTriggersHookAndEmits(t *testing.T) {
	tr := &fakeTransport{open: true}
	pre := preprocess.New(nil)
	snd := sender.New(nil, tr, pre, 1024)
	fdr := feeder.New(nil, tr, pre)
	wf := workflow.New(nil, snd, fdr, func(model.WorkflowState) {})
	eng := engine.New(nil, tr, response.New(), snd, fdr, wf, nil, false, engine.Timing{})
	bc := &recordingBroadcaster{}
	d := New(nil, tr, eng, snd, fdr, wf, hook.NewRegistry(), bc, config.NewMacroStore(nil), nil)

	wf.Start()
	require.Equal(t, model.WorkflowRunning, wf.State())

	triggered := false
	d.hooks.On(hook.EventSenderLoad, func(hook.Event, map[string]any) { triggered = true })

	require.NoError(t, d.SenderLoad("job.gcode", "G0 X1", model.Context{}))
	require.True(t, triggered)
	require.Contains(t, bc.events, "sender:load")
	require.Equal(t, model.WorkflowIdle, wf.State())
	require.True(t, snd.Snapshot().Loaded)
}

func TestDispatcher_SenderStartRewindsAndSends(t *testing.T) {
	d, tr, snd, _, wf, _ := newTestDispatcher(t, nil, nil)

	require.NoError(t, snd.Load("job.gcode", "G0 X1", model.Context{}))

	d.SenderStart()

	require.Equal(t, model.WorkflowRunning, wf.State())
	require.NotEmpty(t, tr.written())
}

func TestDispatcher_SenderStopStopsWorkflow(t *testing.T) {
	d, _, _, _, wf, _ := newTestDispatcher(t, nil, nil)

	wf.Start()

	d.SenderStop()

	require.Equal(t, model.WorkflowIdle, wf.State())
}

func TestDispatcher_SenderPauseHoldsAndWritesFeedhold(t *testing.T) {
	d, tr, snd, _, wf, _ := newTestDispatcher(t, nil, nil)

	require.NoError(t, snd.Load("job.gcode", "G0 X1", model.Context{}))
	wf.Start()

	d.SenderPause()

	require.Equal(t, model.WorkflowPaused, wf.State())
	require.True(t, snd.IsHolding())
	require.Contains(t, tr.written(), byteFeedHold)
}

func TestDispatcher_FeedholdWritesRealtimeByte(t *testing.T) {
	d, tr, _, _, _, _ := newTestDispatcher(t, nil, nil)

	d.Feedhold()

	require.Equal(t, []string{byteFeedHold}, tr.written())
}

func TestDispatcher_HomingWritesTextualCommand(t *testing.T) {
	d, tr, _, _, _, _ := newTestDispatcher(t, nil, nil)

	d.Homing()

	require.Equal(t, []string{"$H\n"}, tr.written())
}

func TestDispatcher_UnlockWritesCommandAndReleasesFeederHold(t *testing.T) {
	d, tr, _, fdr, _, _ := newTestDispatcher(t, nil, nil)

	fdr.Hold("alarm")

	d.Unlock()

	require.Equal(t, []string{"$X\n"}, tr.written())
	require.False(t, fdr.IsHolding(), "unlock must release a Feeder hold left over from an alarm")
}

func TestDispatcher_ResetRewindsAndWritesSoftReset(t *testing.T) {
	d, tr, _, fdr, wf, _ := newTestDispatcher(t, nil, nil)

	wf.Start()
	fdr.Feed([]string{"G91"}, model.Context{})

	d.Reset()

	require.Equal(t, model.WorkflowIdle, wf.State())
	require.Zero(t, fdr.Snapshot().QueueLen)
	require.Contains(t, tr.written(), byteSoftReset)
}

func TestDispatcher_OverrideFeedClampsAndWritesGcode(t *testing.T) {
	d, tr, _, _, _, eng := newTestDispatcher(t, nil, nil)

	require.NoError(t, d.OverrideFeed(1000))
	require.Equal(t, overrideMax, eng.OverrideFeed())
	require.Contains(t, tr.written(), "M220 S200\n")
}

func TestDispatcher_OverrideFeedZeroResetsTo100(t *testing.T) {
	d, tr, _, _, _, eng := newTestDispatcher(t, nil, nil)

	require.NoError(t, d.OverrideFeed(0))
	require.Equal(t, 100, eng.OverrideFeed())
	require.Contains(t, tr.written(), "M220 S100\n")
}

func TestDispatcher_LasertestFireAndOff(t *testing.T) {
	d, tr, _, _, _, _ := newTestDispatcher(t, nil, nil)

	require.NoError(t, d.Lasertest(500, 0))
	require.Contains(t, tr.written(), "M3\n")
	require.Contains(t, tr.written(), "fire 500\n")

	require.NoError(t, d.Lasertest(0, 0))
	require.Contains(t, tr.written(), "fire off\n")
	require.Contains(t, tr.written(), "M5\n")
}

func TestDispatcher_MacroRunFeedsContent(t *testing.T) {
	macros := []config.Macro{{ID: "m1", Name: "probe", Content: "G38.2 Z-10\nG0 Z5"}}
	d, tr, _, _, _, _ := newTestDispatcher(t, macros, nil)

	require.NoError(t, d.MacroRun("m1", model.Context{}))
	require.Contains(t, tr.written(), "G38.2 Z-10\n")
}

func TestDispatcher_MacroRunUnknownID(t *testing.T) {
	d, _, _, _, _, _ := newTestDispatcher(t, nil, nil)

	err := d.MacroRun("missing", model.Context{})
	require.ErrorIs(t, err, ctrlerrors.ErrMacroNotFound)
}

func TestDispatcher_MacroLoadLoadsSender(t *testing.T) {
	macros := []config.Macro{{ID: "m1", Name: "probe.gcode", Content: "G38.2 Z-10"}}
	d, _, snd, _, _, _ := newTestDispatcher(t, macros, nil)

	require.NoError(t, d.MacroLoad("m1", model.Context{}))
	require.True(t, snd.Snapshot().Loaded)
}

func TestDispatcher_WatchdirLoadReadsFileAndLoadsSender(t *testing.T) {
	files := &fakeFileReader{content: map[string]string{"job.nc": "G0 X1"}}
	d, _, snd, _, _, _ := newTestDispatcher(t, nil, files)

	require.NoError(t, d.WatchdirLoad("job.nc", model.Context{}))
	require.True(t, snd.Snapshot().Loaded)
}

func TestDispatcher_WatchdirLoadWithoutFileReaderErrors(t *testing.T) {
	d, _, _, _, _, _ := newTestDispatcher(t, nil, nil)

	err := d.WatchdirLoad("job.nc", model.Context{})
	require.Error(t, err)
}

func TestDispatcher_SleepAndOverrideRapidAreNoops(t *testing.T) {
	d, tr, _, _, _, _ := newTestDispatcher(t, nil, nil)

	d.Sleep()
	d.OverrideRapid()

	require.Empty(t, tr.written())
}
