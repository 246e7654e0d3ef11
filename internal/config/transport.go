package config

import "context"

// EventKind classifies a Transport event.
type EventKind int

const (
	// EventData carries a chunk of inbound bytes from the machine.
	EventData EventKind = iota
	// EventClose signals the link closed, Err set only on an unexpected close.
	EventClose
	// EventError signals a transport-level error distinct from a close.
	EventError
)

// Event is one item from a Transport's event stream. Events for a single
// Transport are delivered in arrival order (spec.md §5).
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Transport is the external collaborator providing a bidirectional
// byte-stream link to the machine (serial port or TCP socket); see
// spec.md §6. The core never parses transport-specific framing — it reads
// raw chunks and writes raw bytes, with or without a trailing newline as the
// caller specifies.
type Transport interface {
	// Ident identifies this connection (device path or host:port), used as
	// the registry key and in diagnostics.
	Ident() string

	// Open establishes the link. It is called once per Transport value;
	// SocketTransport and SerialTransport do not detect or reject a second
	// call.
	Open(ctx context.Context) error

	// Close tears the link down. Safe to call multiple times.
	Close() error

	// IsOpen reports whether the link is currently open.
	IsOpen() bool

	// Write sends bytes exactly as given — the core appends '\n' itself for
	// textual protocol lines and omits it for realtime bytes (spec.md §6).
	// Must be safe for concurrent use; never blocks on a closed link, and
	// never panics or returns to a caller expecting I/O errors to be fatal —
	// Write on a closed transport returns ErrTransportNotOpen.
	Write(p []byte) error

	// Events returns the channel of inbound events. Closed when the
	// transport is closed and fully drained.
	Events() <-chan Event
}
