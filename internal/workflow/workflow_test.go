package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
)

type fakeSender struct {
	rewound    int
	held       int
	unheld     int
	nexted     int
	lastReason string
}

func (f *fakeSender) Rewind()             { f.rewound++ }
func (f *fakeSender) Hold(reason string)  { f.held++; f.lastReason = reason }
func (f *fakeSender) Unhold()             { f.unheld++ }
func (f *fakeSender) Next() preprocess.Trigger {
	f.nexted++
	return preprocess.TriggerNone
}

type fakeFeeder struct {
	resetCount int
}

func (f *fakeFeeder) Reset() { f.resetCount++ }

func TestWorkflow_StartRewindsSenderAndTransitions(t *testing.T) {
	s := &fakeSender{}
	states := []model.WorkflowState{}
	w := New(nil, s, &fakeFeeder{}, func(st model.WorkflowState) { states = append(states, st) })

	w.Start()

	require.Equal(t, model.WorkflowRunning, w.State())
	require.Equal(t, 1, s.rewound)
	require.Equal(t, []model.WorkflowState{model.WorkflowRunning}, states)
}

func TestWorkflow_StartIsNoopWhenAlreadyRunning(t *testing.T) {
	s := &fakeSender{}
	w := New(nil, s, &fakeFeeder{}, nil)

	w.Start()
	w.Start()

	require.Equal(t, 1, s.rewound)
}

func TestWorkflow_PauseHoldsSenderWithReason(t *testing.T) {
	s := &fakeSender{}
	w := New(nil, s, &fakeFeeder{}, nil)

	w.Start()
	w.Pause("M0")

	require.Equal(t, model.WorkflowPaused, w.State())
	require.Equal(t, 1, s.held)
	require.Equal(t, "M0", s.lastReason)
}

func TestWorkflow_PauseIsNoopWhenNotRunning(t *testing.T) {
	s := &fakeSender{}
	w := New(nil, s, &fakeFeeder{}, nil)

	w.Pause("M0")

	require.Equal(t, model.WorkflowIdle, w.State())
	require.Zero(t, s.held)
}

func TestWorkflow_ResumeResetsFeederAndUnholdsSender(t *testing.T) {
	s := &fakeSender{}
	fd := &fakeFeeder{}
	w := New(nil, s, fd, nil)

	w.Start()
	w.Pause("M0")
	w.Resume()

	require.Equal(t, model.WorkflowRunning, w.State())
	require.Equal(t, 1, fd.resetCount)
	require.Equal(t, 1, s.unheld)
	require.Equal(t, 1, s.nexted)
}

func TestWorkflow_StopRewindsFromAnyState(t *testing.T) {
	s := &fakeSender{}
	w := New(nil, s, &fakeFeeder{}, nil)

	w.Start()
	w.Pause("M0")
	w.Stop()

	require.Equal(t, model.WorkflowIdle, w.State())
	require.Equal(t, 2, s.rewound) // once on Start, once on Stop
}

func TestWorkflow_StopIsNoopWhenAlreadyIdle(t *testing.T) {
	s := &fakeSender{}
	w := New(nil, s, &fakeFeeder{}, nil)

	w.Stop()

	require.Zero(t, s.rewound)
}
