// Package diag implements the diagnostic sink consulted by every pass
// of the Smalls compiler (lexer and parser diagnostics are forwarded
// by the external front end; this package owns name-resolution,
// type, and control-flow diagnostics).
package diag

import "fmt"

// Position is a one-based (line, column) location.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Range is a half-open source range used to anchor a diagnostic.
type Range struct {
	Start Position
	End   Position
}

func (r Range) String() string {
	if r.Start == r.End {
		return r.Start.String()
	}
	return fmt.Sprintf("%s..%s", r.Start, r.End)
}

// Kind classifies a diagnostic by the pass that produced it.
type Kind int

const (
	KindLexical Kind = iota
	KindParse
	KindName
	KindType
	KindControlFlow
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindLexical:
		return "lexical"
	case KindParse:
		return "parse"
	case KindName:
		return "name"
	case KindType:
		return "type"
	case KindControlFlow:
		return "control-flow"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Diagnostic is a single reported message.
type Diagnostic struct {
	Script     string
	Kind       Kind
	Message    string
	IsWarning  bool
	Range      Range
	Suggestion string // nearest-identifier suggestion, if any
}

func (d Diagnostic) String() string {
	level := "error"
	if d.IsWarning {
		level = "warning"
	}
	msg := fmt.Sprintf("%s: %s: %s @ %s", level, d.Kind, d.Message, d.Range)
	if d.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", d.Suggestion)
	}
	return msg
}

// Sink collects diagnostics produced by the resolver, type resolver,
// and validator. A Sink is owned by one CompileContext and
// is not safe for concurrent use, matching the runtime's
// single-mutator model.
type Sink struct {
	diags []Diagnostic
}

// New creates an empty sink.
func New() *Sink {
	return &Sink{}
}

// Lexical forwards a diagnostic raised by the external lexer.
func (s *Sink) Lexical(script, msg string, isWarning bool, r Range) {
	s.report(script, KindLexical, msg, isWarning, r, "")
}

// Parse forwards a diagnostic raised by the external parser.
func (s *Sink) Parse(script, msg string, isWarning bool, r Range) {
	s.report(script, KindParse, msg, isWarning, r, "")
}

// Name reports a name-resolution diagnostic, optionally carrying a
// nearest-identifier suggestion.
func (s *Sink) Name(script, msg string, isWarning bool, r Range, suggestion string) {
	s.report(script, KindName, msg, isWarning, r, suggestion)
}

// Type reports a type-resolution diagnostic.
func (s *Sink) Type(script, msg string, isWarning bool, r Range) {
	s.report(script, KindType, msg, isWarning, r, "")
}

// ControlFlow reports a validator diagnostic.
func (s *Sink) ControlFlow(script, msg string, isWarning bool, r Range) {
	s.report(script, KindControlFlow, msg, isWarning, r, "")
}

func (s *Sink) report(script string, kind Kind, msg string, isWarning bool, r Range, suggestion string) {
	s.diags = append(s.diags, Diagnostic{
		Script:     script,
		Kind:       kind,
		Message:    msg,
		IsWarning:  isWarning,
		Range:      r,
		Suggestion: suggestion,
	})
}

// Diagnostics returns every diagnostic reported so far, in report
// order.
func (s *Sink) Diagnostics() []Diagnostic {
	return s.diags
}

// HasErrors reports whether any non-warning diagnostic was recorded.
// The resolver pipeline uses this to decide whether a compiled module
// may be installed.
func (s *Sink) HasErrors() bool {
	for _, d := range s.diags {
		if !d.IsWarning {
			return true
		}
	}
	return false
}

// Reset clears the sink for reuse across compilations.
func (s *Sink) Reset() {
	s.diags = s.diags[:0]
}
