package journalcmd

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/jiechenghan/nifi/internal/provenance"
)

// celFilter wraps a compiled CEL program evaluated per event during dump.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.IntType),
		cel.Variable("type", cel.StringType),
		cel.Variable("component_id", cel.StringType),
		cel.Variable("component_type", cel.StringType),
		cel.Variable("transit_uri", cel.StringType),
		cel.Variable("flowfile_uuid", cel.StringType),
		cel.Variable("details", cel.StringType),
		cel.Variable("event_time_ms", cel.IntType),
		cel.Variable("content_size", cel.IntType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
		// True for records a non-decrypting reader could not interpret.
		cel.Variable("opaque", cel.BoolType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against an event. When disabled,
// returns true.
func (f celFilter) Eval(ev *provenance.EventRecord) bool {
	if !f.enabled {
		return true
	}
	attrs := ev.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"event_id":       int64(ev.ID),
		"type":           string(ev.Type),
		"component_id":   ev.ComponentID,
		"component_type": ev.ComponentType,
		"transit_uri":    ev.TransitURI,
		"flowfile_uuid":  ev.FlowFileUUID,
		"details":        ev.Details,
		"event_time_ms":  ev.EventTimeMs,
		"content_size":   int64(ev.ContentSize),
		"attributes":     attrs,
		"opaque":         ev.Opaque(),
		"now_ms":         time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
