// Package response implements the Response Parser glue (spec.md §4.6):
// classifying inbound firmware lines into typed events and applying their
// effect to the shared model.MachineSnapshot. Newline buffering is done by
// the engine's read loop before lines reach this package (the transport
// forwards raw chunks); this package classifies and applies one
// already-delimited line at a time.
package response

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cncjs/smoothie-controller/internal/model"
)

// Kind names the category of an inbound line (spec.md §4.6).
type Kind int

const (
	KindOther Kind = iota
	KindStatus
	KindOK
	KindError
	KindAlarm
	KindParserState
	KindParameters
	KindVersion
)

// Event is a classified inbound line, carrying the raw text for echoing to
// sessions.
type Event struct {
	Kind Kind
	Raw  string
}

var (
	statusLine = regexp.MustCompile(`^<([^|>]+)(\|[^>]*)?>$`)
	fieldSplit = regexp.MustCompile(`\|`)
)

// Parser classifies raw inbound lines and applies their effect to a
// model.MachineSnapshot.
type Parser struct{}

// New creates a Parser.
func New() *Parser { return &Parser{} }

// Classify determines the Kind of a single already-newline-delimited line.
func (p *Parser) Classify(raw string) Event {
	line := strings.TrimSpace(raw)

	switch {
	case line == "ok":
		return Event{Kind: KindOK, Raw: raw}
	case strings.HasPrefix(line, "error:"), strings.HasPrefix(line, "error "):
		return Event{Kind: KindError, Raw: raw}
	case strings.HasPrefix(line, "ALARM:"):
		return Event{Kind: KindAlarm, Raw: raw}
	case statusLine.MatchString(line):
		return Event{Kind: KindStatus, Raw: raw}
	case strings.HasPrefix(line, "[GC:"):
		return Event{Kind: KindParserState, Raw: raw}
	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		return Event{Kind: KindParameters, Raw: raw}
	case strings.HasPrefix(line, "Build version") || strings.HasPrefix(line, "Smoothie"):
		return Event{Kind: KindVersion, Raw: raw}
	default:
		return Event{Kind: KindOther, Raw: raw}
	}
}

// ApplyStatus parses a `<...>` status report into snap, bumping
// StateVersion (spec.md §9 "Structural sharing of state references" — this
// is the version-counter substitute for reference-equality change
// detection). Returns the reported receive-buffer occupancy if present.
func (p *Parser) ApplyStatus(snap *model.MachineSnapshot, raw string) model.BufferInfo {
	line := strings.TrimSpace(raw)
	m := statusLine.FindStringSubmatch(line)

	if m == nil {
		return snap.Buf
	}

	snap.MachineState = m[1]

	buf := model.BufferInfo{}

	for _, field := range fieldSplit.Split(strings.TrimPrefix(m[2], "|"), -1) {
		if field == "" {
			continue
		}

		colon := strings.IndexByte(field, ':')
		if colon < 0 {
			continue
		}

		key := field[:colon]
		values := strings.Split(field[colon+1:], ",")

		switch key {
		case "MPos":
			snap.MPos = parseAxes(values)
		case "WPos":
			snap.WPos = parseAxes(values)
		case "Ov":
			if len(values) >= 1 {
				if v, err := strconv.Atoi(strings.TrimSpace(values[0])); err == nil {
					snap.OvF = v
				}
			}

			if len(values) >= 2 {
				if v, err := strconv.Atoi(strings.TrimSpace(values[1])); err == nil {
					snap.OvS = v
				}
			}
		case "Buf", "RX":
			if len(values) >= 1 {
				if v, err := strconv.Atoi(strings.TrimSpace(values[0])); err == nil {
					buf = model.BufferInfo{RX: v, Known: true}
				}
			}
		}
	}

	if buf.Known {
		snap.Buf = buf
	}

	snap.StateVersion++

	return snap.Buf
}

// ApplyParserState parses a `[GC:...]` $G reply into snap's modal group,
// bumping StateVersion.
func (p *Parser) ApplyParserState(snap *model.MachineSnapshot, raw string) {
	line := strings.TrimSpace(raw)
	line = strings.TrimPrefix(line, "[GC:")
	line = strings.TrimSuffix(line, "]")

	for _, word := range strings.Fields(line) {
		switch {
		case word == "G0", word == "G1", word == "G2", word == "G3",
			strings.HasPrefix(word, "G38."):
			snap.Modal.Motion = word
		case word == "G17", word == "G18", word == "G19":
			snap.Modal.Plane = word
		case word >= "G54" && word <= "G59":
			snap.Modal.WCS = word
		case word == "G20", word == "G21":
			snap.Modal.Units = word
		case word == "G90", word == "G91":
			snap.Modal.Distance = word
		case word == "G93", word == "G94":
			snap.Modal.Feedrate = word
		case word == "M0", word == "M1", word == "M2", word == "M30":
			snap.Modal.Program = word
		case word == "M3", word == "M4", word == "M5":
			snap.Modal.Spindle = word
		case word == "M7", word == "M8", word == "M9":
			snap.Modal.Coolant = appendUnique(snap.Modal.Coolant, word)
		}
	}

	snap.StateVersion++
}

// ApplyParameters bumps SettingsVersion for a `[...]` WCS-offset or other
// settings-bearing reply; the raw line is surfaced as-is (spec.md §4.6), so
// there is nothing further to decode into the snapshot here.
func (p *Parser) ApplyParameters(snap *model.MachineSnapshot) {
	snap.SettingsVersion++
}

func parseAxes(values []string) model.Axes {
	var axes model.Axes

	fields := []*float64{&axes.X, &axes.Y, &axes.Z, &axes.A, &axes.B, &axes.C}
	for i, v := range values {
		if i >= len(fields) {
			break
		}

		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*fields[i] = f
		}
	}

	return axes
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}

	return append(list, v)
}
