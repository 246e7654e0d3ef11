//go:build linux

package smoothie

import (
	"log/slog"

	"github.com/cncjs/smoothie-controller/internal/transport"
)

// SerialTransport connects over a serial port (e.g. "/dev/ttyUSB0"), the
// common case for a Smoothieboard wired over USB. Linux-only.
type SerialTransport = transport.SerialTransport

// NewSerialTransport creates a transport over device at the given baud rate.
func NewSerialTransport(log *slog.Logger, device string, baud uint32) *SerialTransport {
	return transport.NewSerialTransport(log, device, baud)
}
