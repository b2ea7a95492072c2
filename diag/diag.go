// Package diag defines the diagnostics that every compilation stage reports.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind sentinels. A Diagnostic's Kind is always one of these, so callers can
// use errors.Is on a *Error.
var (
	ErrIO           = errors.New("io error")
	ErrCyclicImport = errors.New("cyclic import")
	ErrSyntax       = errors.New("syntax error")
	ErrEval         = errors.New("eval error")
	ErrUnsupported  = errors.New("unsupported feature")
	ErrOverflow     = errors.New("layout overflow")
	ErrFatal        = errors.New("fatal")
)

// KindName returns the stable name of a kind sentinel as used in JSON output.
func KindName(kind error) string {
	switch kind {
	case ErrIO:
		return "IOError"
	case ErrCyclicImport:
		return "CyclicImport"
	case ErrSyntax:
		return "SyntaxError"
	case ErrEval:
		return "EvalError"
	case ErrUnsupported:
		return "UnsupportedFeature"
	case ErrOverflow:
		return "LayoutOverflow"
	case ErrFatal:
		return "Fatal"
	}
	return "Unknown"
}

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Span locates a diagnostic in a source file. Start and End are byte offsets;
// Line and Col are 1-based and filled in by the source loader.
type Span struct {
	File  string `json:"file" yaml:"file"`
	Start int    `json:"start" yaml:"start"`
	End   int    `json:"end" yaml:"end"`
	Line  int    `json:"line,omitempty" yaml:"line,omitempty"`
	Col   int    `json:"col,omitempty" yaml:"col,omitempty"`
}

// Detached is the span of things that do not come from a file.
var Detached = Span{}

func (s Span) IsDetached() bool { return s.File == "" }

func (s Span) String() string {
	if s.IsDetached() {
		return "<detached>"
	}
	if s.Line > 0 {
		return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
	}
	return fmt.Sprintf("%s@%d..%d", s.File, s.Start, s.End)
}

// Diagnostic is a single problem report.
type Diagnostic struct {
	Severity Severity
	Kind     error
	Message  string
	Span     Span
	Hints    []string
	Trace    []Span
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s: %s", d.Span, d.Severity, KindName(d.Kind), d.Message)
}

// Errorf builds an error-severity diagnostic.
func Errorf(kind error, span Span, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Kind: kind, Span: span, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a warning-severity diagnostic.
func Warnf(kind error, span Span, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Kind: kind, Span: span, Message: fmt.Sprintf(format, args...)}
}

// WithHint returns a copy of d with an extra hint.
func (d Diagnostic) WithHint(format string, args ...any) Diagnostic {
	d.Hints = append(append([]string(nil), d.Hints...), fmt.Sprintf(format, args...))
	return d
}

// List collects diagnostics in the order they were reported.
type List []Diagnostic

func (l *List) Add(d ...Diagnostic) { *l = append(*l, d...) }

// HasErrors reports whether any entry has error severity.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity entries.
func (l List) Errors() List { return l.filter(SeverityError) }

// Warnings returns the warning-severity entries.
func (l List) Warnings() List { return l.filter(SeverityWarning) }

func (l List) filter(sev Severity) List {
	var out List
	for _, d := range l {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Sorted returns a copy ordered by file and offset; ties keep report order.
func (l List) Sorted() List {
	out := append(List(nil), l...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.File != out[j].Span.File {
			return out[i].Span.File < out[j].Span.File
		}
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

// Err wraps the list as an error when it carries errors, nil otherwise.
func (l List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	return &Error{Diagnostics: l}
}

// Error carries a diagnostics list through Go error returns.
type Error struct {
	Diagnostics List
}

func (e *Error) Error() string {
	if e == nil || len(e.Diagnostics) == 0 {
		return ""
	}
	errs := e.Diagnostics.Errors()
	if len(errs) == 0 {
		errs = e.Diagnostics
	}
	if len(errs) == 1 {
		return errs[0].String()
	}
	parts := make([]string, 0, len(errs))
	for _, d := range errs {
		parts = append(parts, d.String())
	}
	return fmt.Sprintf("%d errors:\n  %s", len(errs), strings.Join(parts, "\n  "))
}

// Is matches kind sentinels carried by any error-severity diagnostic.
func (e *Error) Is(target error) bool {
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError && d.Kind == target {
			return true
		}
	}
	return false
}

// Unwrap exposes the kind of the first error diagnostic.
func (e *Error) Unwrap() error {
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			return d.Kind
		}
	}
	return nil
}

// Traced appends the call site at to the trace of every diagnostic carried
// by err. Traces list call sites from the innermost outward.
func Traced(err error, at Span) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	out := make(List, len(de.Diagnostics))
	for i, d := range de.Diagnostics {
		d.Trace = append(append([]Span(nil), d.Trace...), at)
		out[i] = d
	}
	return &Error{Diagnostics: out}
}

// New wraps a single diagnostic as an error.
func New(d Diagnostic) error { return &Error{Diagnostics: List{d}} }

// From extracts diagnostics from err. Errors not produced by this package are
// reported as a single Fatal diagnostic.
func From(err error) List {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Diagnostics
	}
	return List{Errorf(ErrFatal, Detached, "%v", err)}
}
