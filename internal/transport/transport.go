// Package transport provides the byte-stream link collaborators consumed by
// the controller core: a TCP socket transport and (linux-only) a serial
// transport. Both satisfy config.Transport and share a read-loop that
// forwards raw, unframed chunks — the core's Response Parser glue is the one
// that buffers until newline (spec.md §6), never the transport.
package transport

import (
	"io"
	"log/slog"
	"sync"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/errors"
)

const readChunkSize = 4096

// base holds the plumbing shared by socketTransport and serialTransport:
// the event channel, the open/close bookkeeping, and the read-loop goroutine.
// Concrete transports embed it and supply the io.ReadWriteCloser.
type base struct {
	log   *slog.Logger
	ident string

	mu     sync.Mutex
	conn   io.ReadWriteCloser
	open   bool
	closed bool

	events chan config.Event
	wg     sync.WaitGroup
}

func newBase(log *slog.Logger, ident string) *base {
	return &base{
		log:    log.With("component", "transport", "ident", ident),
		ident:  ident,
		events: make(chan config.Event, 64),
	}
}

func (b *base) Ident() string { return b.ident }

func (b *base) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.open
}

func (b *base) Events() <-chan config.Event { return b.events }

// attach starts the read loop over conn and marks the transport open. Must
// be called at most once per transport lifetime (a fresh Controller/fresh
// transport is created per connection — spec.md §3 "Lifecycle").
func (b *base) attach(conn io.ReadWriteCloser) {
	b.mu.Lock()
	b.conn = conn
	b.open = true
	b.mu.Unlock()

	b.wg.Add(1)

	go b.readLoop()
}

func (b *base) readLoop() {
	defer b.wg.Done()

	buf := make([]byte, readChunkSize)

	for {
		n, err := b.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.emit(config.Event{Kind: config.EventData, Data: chunk})
		}

		if err != nil {
			b.mu.Lock()
			wasOpen := b.open
			b.open = false
			b.mu.Unlock()

			if err == io.EOF || !wasOpen {
				b.emit(config.Event{Kind: config.EventClose})
			} else {
				b.emit(config.Event{Kind: config.EventError, Err: err})
			}

			close(b.events)

			return
		}
	}
}

func (b *base) emit(ev config.Event) {
	b.log.Debug("transport event", "kind", ev.Kind)
	b.events <- ev
}

// Write sends p unmodified. Safe for concurrent use; a write after Close or
// before Open returns ErrTransportNotOpen rather than panicking.
func (b *base) Write(p []byte) error {
	b.mu.Lock()
	conn := b.conn
	open := b.open
	b.mu.Unlock()

	if !open || conn == nil {
		return errors.ErrTransportNotOpen
	}

	_, err := conn.Write(p)

	return err
}

// Close tears the link down. Safe to call multiple times.
func (b *base) Close() error {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true
	b.open = false
	conn := b.conn
	b.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	b.wg.Wait()

	return err
}
