// Package syntax parses markup documents with embedded code into a tree of
// Nodes. Parsing never fails as a whole: local problems become Error nodes
// in place so that every syntax error of a file can be reported at once.
package syntax

import (
	"github.com/npillmayer/schuko/tracing"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/units"
)

// tracer writes to trace with key 'papyrus.syntax'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.syntax")
}

// Kind is the closed set of syntax node kinds.
type Kind int

const (
	KindError Kind = iota
	// markup
	KindMarkup
	KindText
	KindSpace
	KindLinebreak
	KindParbreak
	KindStrong
	KindEmph
	KindRaw
	KindHeading
	KindListItem
	KindEnumItem
	// code
	KindIdent
	KindNone
	KindBool
	KindInt
	KindFloat
	KindLength
	KindRatio
	KindStr
	KindContentBlock
	KindCodeBlock
	KindArray
	KindDict
	KindNamed
	KindFieldAccess
	KindCall
	KindArgs
	KindUnary
	KindBinary
	KindLet
	KindClosure
	KindParams
	KindIf
	KindFor
	KindImport
	KindInclude
)

var kindNames = [...]string{
	KindError:        "error",
	KindMarkup:       "markup",
	KindText:         "text",
	KindSpace:        "space",
	KindLinebreak:    "linebreak",
	KindParbreak:     "parbreak",
	KindStrong:       "strong",
	KindEmph:         "emph",
	KindRaw:          "raw",
	KindHeading:      "heading",
	KindListItem:     "list-item",
	KindEnumItem:     "enum-item",
	KindIdent:        "ident",
	KindNone:         "none",
	KindBool:         "bool",
	KindInt:          "int",
	KindFloat:        "float",
	KindLength:       "length",
	KindRatio:        "ratio",
	KindStr:          "str",
	KindContentBlock: "content-block",
	KindCodeBlock:    "code-block",
	KindArray:        "array",
	KindDict:         "dict",
	KindNamed:        "named",
	KindFieldAccess:  "field-access",
	KindCall:         "call",
	KindArgs:         "args",
	KindUnary:        "unary",
	KindBinary:       "binary",
	KindLet:          "let",
	KindClosure:      "closure",
	KindParams:       "params",
	KindIf:           "if",
	KindFor:          "for",
	KindImport:       "import",
	KindInclude:      "include",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Node is one element of the syntax tree.
//
// Field use per kind:
//
//	Text      text, raw body, str value, operator, error message
//	Name      identifier, field, named key, let/for binding, import alias
//	Lang      raw block language
//	Level     heading depth
//	Int/Float numeric literals (Float also for length and ratio values)
//	Unit      length unit
//	Block     raw block vs inline raw
//	Fatal     error node that aborts the compilation
type Node struct {
	Kind     Kind
	Span     diag.Span
	Text     string
	Name     string
	Lang     string
	Level    int
	Int      int64
	Float    float64
	Unit     units.Unit
	Block    bool
	Fatal    bool
	Children []*Node
}

// Child returns the i-th child or nil.
func (n *Node) Child(i int) *Node {
	if n == nil || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// IsError reports whether n is an error node.
func (n *Node) IsError() bool { return n != nil && n.Kind == KindError }

// Walk visits n and its descendants in document order. Returning false from
// fn skips the children of that node.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Errors returns one SyntaxError diagnostic per error node below root.
func Errors(root *Node) diag.List {
	var out diag.List
	Walk(root, func(n *Node) bool {
		if n.Kind == KindError {
			kind := diag.ErrSyntax
			if n.Fatal {
				kind = diag.ErrFatal
			}
			out.Add(diag.Errorf(kind, n.Span, "%s", n.Text))
		}
		return true
	})
	return out
}
