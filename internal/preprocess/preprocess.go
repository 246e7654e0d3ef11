// Package preprocess implements the Line Preprocessor (spec.md §4.1):
// comment stripping, `%…` expression evaluation, `[expr]` substitution, and
// tool-change/pause-code interception. The restricted arithmetic grammar
// spec.md defers to "an external collaborator contract" is expr-lang/expr
// (see DESIGN.md) — used the same way ClusterCockpit-cc-backend and
// kedacore-keda use it: one-shot Eval against a map[string]any environment.
package preprocess

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/cncjs/smoothie-controller/internal/model"
)

// Trigger names an in-stream pause or dwell condition the preprocessor
// detected in a line (spec.md §4.1 step 2/4).
type Trigger string

const (
	TriggerNone Trigger = ""
	TriggerWait Trigger = "%wait"
	TriggerM0   Trigger = "M0"
	TriggerM1   Trigger = "M1"
	TriggerM6   Trigger = "M6"
)

// Result is the outcome of preprocessing one raw line.
type Result struct {
	// Line is the line to transmit. Empty means nothing is sent for this
	// line (an assignment or a comment-only line); the caller still advances
	// past it (spec.md §4.3 "silent advancement"). A failing `[expr]` only
	// empties that bracket; the rest of the line is kept.
	Line string

	// Trigger names the pause/dwell condition found, if any. Callers apply
	// it to the Sender (via Workflow) or the Feeder depending on which
	// pipeline is preprocessing (spec.md §4.1 final paragraph).
	Trigger Trigger
}

var bracketExpr = regexp.MustCompile(`\[([^\[\]]*)\]`)

// Preprocessor evaluates the restricted arithmetic grammar against a
// model.Context and applies the G-code line rules of spec.md §4.1.
type Preprocessor struct {
	log *slog.Logger
}

// New creates a Preprocessor. A nil logger discards diagnostics.
func New(log *slog.Logger) *Preprocessor {
	if log == nil {
		log = slog.Default()
	}

	return &Preprocessor{log: log.With("component", "preprocess")}
}

// Process applies the spec.md §4.1 rules to raw, mutating ctx in place for
// `%name=expr` assignments.
func (p *Preprocessor) Process(raw string, ctx model.Context) Result {
	line := stripComment(raw)
	if line == "" {
		return Result{}
	}

	if strings.HasPrefix(line, "%") {
		return p.processPercent(line, ctx)
	}

	substituted := p.substituteBrackets(line, ctx)

	return Result{Line: substituted, Trigger: detectTrigger(substituted)}
}

// stripComment removes a `;` comment and surrounding whitespace.
func stripComment(raw string) string {
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}

	return strings.TrimSpace(raw)
}

func (p *Preprocessor) processPercent(line string, ctx model.Context) Result {
	if line == "%wait" {
		return Result{Line: "G4 P0.5 (%wait)", Trigger: TriggerWait}
	}

	assignments := strings.Split(strings.TrimPrefix(line, "%"), ",")
	for _, assignment := range assignments {
		p.evalAssignment(assignment, ctx)
	}

	return Result{}
}

func (p *Preprocessor) evalAssignment(assignment string, ctx model.Context) {
	eq := strings.IndexByte(assignment, '=')
	if eq < 0 {
		return
	}

	name := strings.TrimSpace(assignment[:eq])
	rhs := strings.TrimSpace(assignment[eq+1:])

	if name == "" {
		return
	}

	value, err := expr.Eval(rhs, map[string]any(ctx))
	if err != nil {
		p.log.Debug("expression assignment failed", "name", name, "expr", rhs, "error", err)

		return
	}

	ctx[name] = value
}

// substituteBrackets replaces every `[expr]` with its evaluated numeric
// value; a failing expression is replaced with the empty string, logged,
// and does not abort the rest of the line (spec.md §7).
func (p *Preprocessor) substituteBrackets(line string, ctx model.Context) string {
	return bracketExpr.ReplaceAllStringFunc(line, func(match string) string {
		inner := bracketExpr.FindStringSubmatch(match)[1]

		value, err := expr.Eval(inner, map[string]any(ctx))
		if err != nil {
			p.log.Debug("expression substitution failed", "expr", inner, "error", err)

			return ""
		}

		return formatValue(value)
	})
}

func formatValue(value any) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// detectTrigger tokenizes line and reports a pause word if present
// (spec.md §4.1 step 4). Matching is whole-word so M100 never matches M1.
func detectTrigger(line string) Trigger {
	for _, word := range strings.Fields(line) {
		switch strings.ToUpper(word) {
		case "M0":
			return TriggerM0
		case "M1":
			return TriggerM1
		case "M6":
			return TriggerM6
		}
	}

	return TriggerNone
}

// PopulateContext refreshes ctx with the current machine snapshot, ready
// for the next Process call (spec.md §4.1 "Context is populated each call
// with..."). bbox is the program's bounding box, zero-valued (all defaults
// to 0) when the caller tracks none.
func PopulateContext(ctx model.Context, snap model.MachineSnapshot, bbox BoundingBox) {
	ctx["xmin"], ctx["xmax"] = bbox.Xmin, bbox.Xmax
	ctx["ymin"], ctx["ymax"] = bbox.Ymin, bbox.Ymax
	ctx["zmin"], ctx["zmax"] = bbox.Zmin, bbox.Zmax

	ctx["mposx"], ctx["mposy"], ctx["mposz"] = snap.MPos.X, snap.MPos.Y, snap.MPos.Z
	ctx["mposa"], ctx["mposb"], ctx["mposc"] = snap.MPos.A, snap.MPos.B, snap.MPos.C

	ctx["posx"], ctx["posy"], ctx["posz"] = snap.WPos.X, snap.WPos.Y, snap.WPos.Z
	ctx["posa"], ctx["posb"], ctx["posc"] = snap.WPos.A, snap.WPos.B, snap.WPos.C

	ctx["modal"] = map[string]any{
		"motion":   snap.Modal.Motion,
		"wcs":      snap.Modal.WCS,
		"plane":    snap.Modal.Plane,
		"units":    snap.Modal.Units,
		"distance": snap.Modal.Distance,
		"feedrate": snap.Modal.Feedrate,
		"program":  snap.Modal.Program,
		"spindle":  snap.Modal.Spindle,
		"coolant":  strings.Join(snap.Modal.Coolant, "\n"),
	}
}

// BoundingBox is the program's cached extents, all zero by default.
type BoundingBox struct {
	Xmin, Xmax float64
	Ymin, Ymax float64
	Zmin, Zmax float64
}
