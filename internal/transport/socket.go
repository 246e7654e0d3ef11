package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/errors"
)

// SocketTransport is the TCP-socket flavor of the byte-stream link collaborator
// (spec.md §6): cncjs can talk to a Smoothieboard's WiFi/telnet bridge the
// same way it talks to a local serial port, via a raw TCP connection.
type SocketTransport struct {
	*base
	addr string
}

var _ config.Transport = (*SocketTransport)(nil)

// NewSocketTransport creates a transport that dials addr (host:port) on Open.
func NewSocketTransport(log *slog.Logger, addr string) *SocketTransport {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SocketTransport{
		base: newBase(log, addr),
		addr: addr,
	}
}

// Open dials the socket. No third-party library improves on net.Dial for a
// plain bidirectional TCP byte stream (DESIGN.md).
func (t *SocketTransport) Open(ctx context.Context) error {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return &errors.TransportOpenError{Ident: t.addr, Err: fmt.Errorf("dial: %w", err)}
	}

	t.attach(conn)

	return nil
}
