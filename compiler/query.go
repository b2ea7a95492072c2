package compiler

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ByLCY/papyrus/config"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/eval"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/syntax"
)

// Element is one introspected element of a laid out document.
type Element struct {
	Kind  string     `json:"kind" yaml:"kind"`
	Label string     `json:"label,omitempty" yaml:"label,omitempty"`
	Level int        `json:"level,omitempty" yaml:"level,omitempty"`
	Page  int        `json:"page" yaml:"page"`
	Y     float64    `json:"y" yaml:"y"`
	Span  *diag.Span `json:"span,omitempty" yaml:"span,omitempty"`
}

// Query output formats.
const (
	QueryJSON       = "json"
	QueryJSONPretty = "json-pretty"
	QueryYAML       = "yaml"
)

// Query compiles req up to layout and returns the elements matching
// selector, encoded in format.
func Query(ctx context.Context, req Request, selector, format string) ([]byte, *Result, error) {
	sel, err := syntax.ParseSelector(selector)
	if err != nil {
		return nil, nil, diag.New(diag.Errorf(diag.ErrSyntax, diag.Detached, "%v", err))
	}
	switch format {
	case "", QueryJSON, QueryJSONPretty, QueryYAML:
	default:
		return nil, nil, diag.New(diag.Errorf(diag.ErrUnsupported, diag.Detached, "unsupported query format %q", format))
	}
	res := run(ctx, req, StageLaidOut)
	if res.Failed() {
		return nil, res, res.Err()
	}
	elems, err := Select(res.Layout, sel)
	if err != nil {
		return nil, res, err
	}
	out, err := encode(elems, format)
	return out, res, err
}

// Select filters the anchors of res. Supported where fields are level,
// label and page.
func Select(res *layout.Result, sel *syntax.Selector) ([]Element, error) {
	out := []Element{}
	for _, a := range res.Anchors {
		if a.Kind != sel.Element {
			continue
		}
		ok, err := matches(a, sel.Where)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		el := Element{Kind: a.Kind, Label: a.Label, Level: a.Level, Page: a.Page, Y: a.Y.Pt()}
		if !a.Span.IsDetached() {
			span := a.Span
			el.Span = &span
		}
		out = append(out, el)
	}
	return out, nil
}

func matches(a layout.Anchor, where []*syntax.FieldMatch) (bool, error) {
	for _, m := range where {
		want := m.Value.Interface()
		var got any
		switch m.Field {
		case "level":
			got = int64(a.Level)
		case "page":
			got = int64(a.Page)
		case "label", "body", "path", "lang":
			got = a.Label
		default:
			return false, diag.New(diag.Errorf(diag.ErrUnsupported, diag.Detached, "cannot select on field %q", m.Field))
		}
		if got != want {
			return false, nil
		}
	}
	return true, nil
}

func encode(v any, format string) ([]byte, error) {
	switch format {
	case QueryJSONPretty:
		return json.MarshalIndent(v, "", "  ")
	case QueryYAML:
		return yaml.Marshal(v)
	}
	return json.Marshal(v)
}

// Eval evaluates code detached from any document and returns the value as
// JSON. Only inputs and now of cfg are used.
func Eval(code string, cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	now, err := cfg.Time()
	if err != nil {
		return nil, err
	}
	v, err := eval.EvalString(code, eval.Options{Inputs: cfg.Inputs, Now: now})
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(eval.ToGo(v))
	if err != nil {
		return nil, fmt.Errorf("encode %s value: %w", v.Type(), err)
	}
	return out, nil
}

// Syntax parses req.Main and returns its flattened marks together with the
// syntax errors found.
func Syntax(req Request) ([]syntax.Mark, diag.List, error) {
	doc, err := newLoader(req).Load(req.Main)
	if err != nil {
		return nil, nil, err
	}
	f := doc.Files[doc.Root]
	tree := syntax.Parse(f.Path, f.Text)
	errs := syntax.Errors(tree)
	doc.Locate(errs)
	return syntax.Flatten(tree), errs, nil
}
