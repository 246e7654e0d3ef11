package smoothie

import (
	"log/slog"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/transport"
)

// Transport is the byte-stream link collaborator a Controller drives:
// a serial port, a TCP socket, or a test fake.
type Transport = config.Transport

// SocketTransport dials a TCP socket (e.g. a Smoothieboard's WiFi/telnet
// bridge) on Open.
type SocketTransport = transport.SocketTransport

// NewSocketTransport creates a transport that dials addr (host:port) on Open.
func NewSocketTransport(log *slog.Logger, addr string) *SocketTransport {
	return transport.NewSocketTransport(log, addr)
}
