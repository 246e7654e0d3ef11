package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportOpenError(t *testing.T) {
	root := errors.New("dial failed")
	err := &TransportOpenError{Ident: "/dev/ttyUSB0", Err: root}

	require.Equal(t, `open transport "/dev/ttyUSB0": dial failed`, err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsControllerError())
}

func TestProgramLoadError(t *testing.T) {
	root := errors.New("empty program")
	err := &ProgramLoadError{Name: "job.gcode", Err: root}

	require.Equal(t, `load program "job.gcode": empty program`, err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsControllerError())
}

func TestMachineAlarmError(t *testing.T) {
	err := &MachineAlarmError{Raw: "ALARM: Hard limit"}

	require.Equal(t, "machine alarm: ALARM: Hard limit", err.Error())
	require.True(t, err.IsControllerError())
}

func TestMachineErrorResponse(t *testing.T) {
	err := &MachineErrorResponse{Raw: "error: Invalid gcode", Line: 12}

	require.Equal(t, "machine error on line 12: error: Invalid gcode", err.Error())
	require.True(t, err.IsControllerError())
}
