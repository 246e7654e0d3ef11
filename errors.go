package smoothie

import "github.com/cncjs/smoothie-controller/internal/errors"

// Re-export error types from the internal package.

// ControllerError is the base interface for all controller errors.
type ControllerError = errors.ControllerError

// TransportOpenError indicates the transport failed to open.
type TransportOpenError = errors.TransportOpenError

// ProgramLoadError indicates Sender.Load was rejected.
type ProgramLoadError = errors.ProgramLoadError

// MachineAlarmError carries the raw alarm line reported by the firmware.
type MachineAlarmError = errors.MachineAlarmError

// MachineErrorResponse carries a firmware "error:" line acknowledging a
// specific sent line number.
type MachineErrorResponse = errors.MachineErrorResponse

// Re-export sentinel errors from the internal package.
var (
	// ErrNotConnected indicates the controller has no open transport.
	ErrNotConnected = errors.ErrNotConnected

	// ErrAlreadyConnected indicates Open was called on an already-open controller.
	ErrAlreadyConnected = errors.ErrAlreadyConnected

	// ErrDestroyed indicates the controller was destroyed and cannot be reused.
	ErrDestroyed = errors.ErrDestroyed

	// ErrTransportNotOpen indicates a write was attempted on a closed transport.
	ErrTransportNotOpen = errors.ErrTransportNotOpen

	// ErrProgramNotLoaded indicates Start was called with no program loaded.
	ErrProgramNotLoaded = errors.ErrProgramNotLoaded

	// ErrUnknownCommand indicates Dispatch received an unrecognized command name.
	ErrUnknownCommand = errors.ErrUnknownCommand

	// ErrInvalidArguments indicates a command's arguments failed schema validation.
	ErrInvalidArguments = errors.ErrInvalidArguments

	// ErrMacroNotFound indicates macro:run/macro:load referenced an unknown macro id.
	ErrMacroNotFound = errors.ErrMacroNotFound
)
