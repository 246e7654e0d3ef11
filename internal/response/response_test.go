package response

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cncjs/smoothie-controller/internal/model"
)

func TestClassify(t *testing.T) {
	p := New()

	cases := []struct {
		raw  string
		kind Kind
	}{
		{"ok", KindOK},
		{"error: Alarm lock", KindError},
		{"ALARM: Hard limit", KindAlarm},
		{"<Idle|MPos:0.000,0.000,0.000|WPos:0.000,0.000,0.000>", KindStatus},
		{"[GC:G0 G54 G17 G21 G90 G94 M0 M5 M9]", KindParserState},
		{"[G54:0.000,0.000,0.000]", KindParameters},
		{"Build version: edge-abc123", KindVersion},
		{"some banner text", KindOther},
	}

	for _, c := range cases {
		require.Equal(t, c.kind, p.Classify(c.raw).Kind, "line %q", c.raw)
	}
}

func TestApplyStatus_ParsesPositionsAndBumpsVersion(t *testing.T) {
	p := New()
	snap := &model.MachineSnapshot{}

	p.ApplyStatus(snap, "<Run|MPos:1.000,2.000,3.000|WPos:0.500,1.500,2.500|Ov:150,100>")

	require.Equal(t, "Run", snap.MachineState)
	require.InDelta(t, 1.0, snap.MPos.X, 0.0001)
	require.InDelta(t, 2.0, snap.MPos.Y, 0.0001)
	require.InDelta(t, 0.5, snap.WPos.X, 0.0001)
	require.Equal(t, 150, snap.OvF)
	require.Equal(t, 100, snap.OvS)
	require.EqualValues(t, 1, snap.StateVersion)
}

func TestApplyStatus_ReceiveBufferOccupancy(t *testing.T) {
	p := New()
	snap := &model.MachineSnapshot{}

	buf := p.ApplyStatus(snap, "<Idle|MPos:0,0,0|Buf:200>")

	require.True(t, buf.Known)
	require.Equal(t, 200, buf.RX)
}

func TestApplyStatus_MalformedLineLeavesSnapshotUntouched(t *testing.T) {
	p := New()
	snap := &model.MachineSnapshot{MachineState: "Idle"}

	p.ApplyStatus(snap, "not a status line")

	require.Equal(t, "Idle", snap.MachineState)
	require.Zero(t, snap.StateVersion)
}

func TestApplyParserState_PopulatesModalGroups(t *testing.T) {
	p := New()
	snap := &model.MachineSnapshot{}

	p.ApplyParserState(snap, "[GC:G1 G54 G17 G21 G90 G94 M3 M8]")

	require.Equal(t, "G1", snap.Modal.Motion)
	require.Equal(t, "G54", snap.Modal.WCS)
	require.Equal(t, "G17", snap.Modal.Plane)
	require.Equal(t, "G21", snap.Modal.Units)
	require.Equal(t, "G90", snap.Modal.Distance)
	require.Equal(t, "G94", snap.Modal.Feedrate)
	require.Equal(t, "M3", snap.Modal.Spindle)
	require.Equal(t, []string{"M8"}, snap.Modal.Coolant)
	require.EqualValues(t, 1, snap.StateVersion)
}

func TestApplyParameters_BumpsSettingsVersion(t *testing.T) {
	p := New()
	snap := &model.MachineSnapshot{}

	p.ApplyParameters(snap)
	p.ApplyParameters(snap)

	require.EqualValues(t, 2, snap.SettingsVersion)
}
