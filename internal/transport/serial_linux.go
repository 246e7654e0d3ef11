//go:build linux

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/daedaluz/goserial"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/errors"
)

// SerialTransport is the serial-port flavor of the byte-stream link
// collaborator (spec.md §6): the common case for a Smoothieboard wired over
// USB. Linux-only, following the source library's own scope.
type SerialTransport struct {
	*base
	device string
	baud   uint32
}

var _ config.Transport = (*SerialTransport)(nil)

// serialPort adapts *serial.Port (two-value Read/Write) to io.ReadWriteCloser.
type serialPort struct{ p *serial.Port }

func (s serialPort) Read(b []byte) (int, error)  { return s.p.Read(b) }
func (s serialPort) Write(b []byte) (int, error) { return s.p.Write(b) }
func (s serialPort) Close() error                { return s.p.Close() }

// NewSerialTransport creates a transport over device (e.g. "/dev/ttyUSB0")
// at the given baud rate.
func NewSerialTransport(log *slog.Logger, device string, baud uint32) *SerialTransport {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SerialTransport{
		base:   newBase(log, device),
		device: device,
		baud:   baud,
	}
}

// Open opens and configures the tty: 8N1, raw mode, no read deadline (the
// core reads via the attach() loop, not blocking calls on this goroutine).
func (t *SerialTransport) Open(_ context.Context) error {
	opts := serial.NewOptions().SetReadTimeout(-1)

	port, err := serial.Open(t.device, opts)
	if err != nil {
		return &errors.TransportOpenError{Ident: t.device, Err: fmt.Errorf("open tty: %w", err)}
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()

		return &errors.TransportOpenError{Ident: t.device, Err: fmt.Errorf("get attrs: %w", err)}
	}

	attrs.MakeRaw()
	attrs.SetCustomSpeed(t.baud)

	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()

		return &errors.TransportOpenError{Ident: t.device, Err: fmt.Errorf("set attrs: %w", err)}
	}

	t.attach(serialPort{p: port})

	return nil
}
