// Package sender implements the character-counting streaming protocol
// (spec.md §4.3): it transmits a loaded Program's lines under a
// receive-buffer accounting discipline, matches acknowledgements in FIFO
// order, and exposes the hold/resume primitives the Workflow drives.
package sender

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cncjs/smoothie-controller/internal/config"
	"github.com/cncjs/smoothie-controller/internal/errors"
	"github.com/cncjs/smoothie-controller/internal/model"
	"github.com/cncjs/smoothie-controller/internal/preprocess"
)

// DefaultBufferSize is 128 minus the 8-byte safety margin spec.md §4.3 bakes
// into every implementation.
const DefaultBufferSize = 128 - 8

// QueueEntry is one in-flight line awaiting acknowledgement.
type QueueEntry struct {
	Index   int
	ByteLen int
}

// State is a read-only snapshot of the Sender for status reporting
// (spec.md §3 SenderState) and tests.
type State struct {
	Loaded     bool
	Total      int
	Sent       int
	Received   int
	Hold       bool
	HoldReason string
	BufferSize int
	DataLength int
	Queue      []QueueEntry
	StartedAt  time.Time
	FinishedAt time.Time
}

// Sender streams a loaded Program under character-counting flow control.
type Sender struct {
	log       *slog.Logger
	transport config.Transport
	pre       *preprocess.Preprocessor

	mu    sync.Mutex
	lines []string
	ctx   model.Context
	st    State
}

// New creates a Sender writing to transport. bufferSize of 0 uses
// DefaultBufferSize.
func New(log *slog.Logger, transport config.Transport, pre *preprocess.Preprocessor, bufferSize int) *Sender {
	if log == nil {
		log = slog.Default()
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Sender{
		log:       log.With("component", "sender"),
		transport: transport,
		pre:       pre,
		st:        State{BufferSize: bufferSize},
	}
}

// Context returns the Sender's program-scoped variable environment, for the
// caller to refresh via preprocess.PopulateContext before each Next call.
func (s *Sender) Context() model.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx
}

// Load assigns a program: appends the trailing %wait dwell (spec.md §4.3)
// and resets all counters. A program consisting of only blank/comment lines
// is accepted — it completes via the trailing %wait dwell and reaches end
// like any other program (spec.md §4.3).
func (s *Sender) Load(name, text string, ctx model.Context) error {
	trimmed := strings.TrimRight(text, "\r\n")

	full := trimmed + "\n%wait ; appended end-of-program sentinel"
	lines := strings.Split(strings.ReplaceAll(full, "\r\n", "\n"), "\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx == nil {
		ctx = model.Context{}
	}

	s.lines = lines
	s.ctx = ctx
	s.st = State{
		Loaded:     true,
		Total:      len(lines),
		BufferSize: s.st.BufferSize,
	}

	return nil
}

// Unload clears the loaded program entirely.
func (s *Sender) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = nil
	s.ctx = nil
	s.st = State{BufferSize: s.st.BufferSize}
}

// Rewind resets sent/received counters and empties the queue, preserving
// the loaded lines (spec.md §4.3 "Rewind").
func (s *Sender) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.Sent = 0
	s.st.Received = 0
	s.st.Hold = false
	s.st.HoldReason = ""
	s.st.DataLength = 0
	s.st.Queue = nil
	s.st.FinishedAt = time.Time{}
}

// Start captures StartedAt and marks the program unfinished.
func (s *Sender) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.st.Loaded {
		return errors.ErrProgramNotLoaded
	}

	s.st.StartedAt = time.Now()
	s.st.FinishedAt = time.Time{}

	return nil
}

// Hold freezes transmission without affecting acknowledgement accounting.
func (s *Sender) Hold(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.Hold = true
	s.st.HoldReason = reason
}

// Unhold clears hold. The caller must still invoke Next to resume sending.
func (s *Sender) Unhold() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.Hold = false
	s.st.HoldReason = ""
}

// IsHolding reports the current hold state.
func (s *Sender) IsHolding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st.Hold
}

// Snapshot returns a copy of the current state for status reporting.
func (s *Sender) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.st
	cp.Queue = append([]QueueEntry(nil), s.st.Queue...)

	return cp
}

// Ended reports whether the program has fully drained: every line has been
// sent (blank/comment lines are skipped straight past Sent without ever
// reaching the queue, so Sent rather than Received tracks exhaustion) and
// nothing is still outstanding in the queue.
func (s *Sender) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st.Sent >= s.st.Total && len(s.st.Queue) == 0 && s.st.Total > 0
}

// HasWork reports whether there is an active, unfinished program — the
// condition gating a `sender:status` tick emission (spec.md §4.5 step 2).
func (s *Sender) HasWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.st.Loaded && !(s.st.Sent >= s.st.Total && len(s.st.Queue) == 0)
}

// HeadLineText returns the preprocessed-source line at the head of the
// in-flight queue and its 1-based line number, for the error-echo annotation
// of spec.md §4.6 ("> <line> (line=<n>)").
func (s *Sender) HeadLineText() (text string, lineNo int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.st.Queue) == 0 {
		return "", 0, false
	}

	head := s.st.Queue[0]
	if head.Index < 0 || head.Index >= len(s.lines) {
		return "", 0, false
	}

	return s.lines[head.Index], head.Index + 1, true
}

// Next transmits as many queued lines as currently fit under the
// character-counting invariant (spec.md §4.3). It stops and returns the
// in-stream trigger as soon as one is found — M0/M1/M6 is surfaced for the
// caller to pause the Workflow; %wait is handled internally (the Sender
// form holds itself) and also returned for logging/visibility.
func (s *Sender) Next() preprocess.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.st.Hold || !s.st.Loaded || s.st.Sent >= s.st.Total {
			return preprocess.TriggerNone
		}

		raw := s.lines[s.st.Sent]
		result := s.pre.Process(raw, s.ctx)

		if result.Line == "" {
			s.st.Sent++

			continue
		}

		byteLen := len(result.Line)
		fits := s.st.DataLength+byteLen+1 <= s.st.BufferSize
		emptyQueue := len(s.st.Queue) == 0

		if !fits && !emptyQueue {
			return preprocess.TriggerNone
		}

		if err := s.transport.Write([]byte(result.Line + "\n")); err != nil {
			s.log.Debug("write failed", "error", err)

			return preprocess.TriggerNone
		}

		s.st.Queue = append(s.st.Queue, QueueEntry{Index: s.st.Sent, ByteLen: byteLen})
		s.st.DataLength += byteLen
		s.st.Sent++

		switch result.Trigger {
		case preprocess.TriggerWait:
			s.st.Hold = true
			s.st.HoldReason = string(preprocess.TriggerWait)

			return preprocess.TriggerWait
		case preprocess.TriggerM0, preprocess.TriggerM1, preprocess.TriggerM6:
			return result.Trigger
		}
	}
}

// Ack dequeues the head queue entry on an ok/error acknowledgement
// (spec.md §4.3 "Ack protocol"). Returns true if the program just ended.
func (s *Sender) Ack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.st.Queue) == 0 {
		return false
	}

	head := s.st.Queue[0]
	s.st.Queue = s.st.Queue[1:]
	s.st.DataLength -= head.ByteLen
	s.st.Received++

	// Sent, not Received, tracks exhaustion: blank/comment lines advance Sent
	// without ever being queued, so Received alone never reaches Total for a
	// program that skipped any of them.
	if s.st.Sent >= s.st.Total && len(s.st.Queue) == 0 {
		s.st.FinishedAt = time.Now()

		return true
	}

	return false
}

// TuneBufferSize applies the receive-buffer self-tuning rule (spec.md
// §4.3): only while the workflow is idle and the queue is empty, and only
// upward (monotonic increase).
func (s *Sender) TuneBufferSize(rx int, workflowIdle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !workflowIdle || len(s.st.Queue) != 0 {
		return
	}

	if candidate := rx - 8; candidate > s.st.BufferSize {
		s.st.BufferSize = candidate
	}
}
