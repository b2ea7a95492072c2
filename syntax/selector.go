package syntax

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	selectorLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
		{Name: "Number", Pattern: `-?\d+`},
		{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_-]*`},
		{Name: "Punct", Pattern: `[.(),:]`},
	})

	selectorParser = participle.MustBuild[Selector](
		participle.Lexer(selectorLexer),
		participle.Elide("Whitespace"),
	)
)

// Selector picks elements of a laid out document, e.g.
// `heading.where(level: 1)`.
type Selector struct {
	Element string        `parser:"@Ident"`
	Where   []*FieldMatch `parser:"( '.' 'where' '(' ( @@ ( ',' @@ )* ','? )? ')' )?"`
}

// FieldMatch requires a field to equal a literal.
type FieldMatch struct {
	Field string         `parser:"@Ident ':'"`
	Value *SelectorValue `parser:"@@"`
}

// SelectorValue is a literal in a where clause.
type SelectorValue struct {
	Int  *int64         `parser:"  @Number"`
	Str  *StringLiteral `parser:"| @String"`
	Bool *string        `parser:"| @( 'true' | 'false' )"`
}

// Interface returns the literal as a plain Go value.
func (v *SelectorValue) Interface() any {
	switch {
	case v == nil:
		return nil
	case v.Int != nil:
		return *v.Int
	case v.Str != nil:
		return string(*v.Str)
	case v.Bool != nil:
		return *v.Bool == "true"
	}
	return nil
}

// StringLiteral unquotes Go-style strings on capture.
type StringLiteral string

// Capture implements participle.Capture.
func (s *StringLiteral) Capture(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("string literal capture requires value")
	}
	val, err := strconv.Unquote(values[0])
	if err != nil {
		return err
	}
	*s = StringLiteral(val)
	return nil
}

// ParseSelector parses a selector expression.
func ParseSelector(s string) (*Selector, error) {
	sel, err := selectorParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	return sel, nil
}

func (s *Selector) String() string {
	if len(s.Where) == 0 {
		return s.Element
	}
	out := s.Element + ".where("
	for i, m := range s.Where {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %v", m.Field, m.Value.Interface())
	}
	return out + ")"
}
