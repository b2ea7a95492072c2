package eval

import (
	"strings"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/units"
)

// Arg is one evaluated argument with the span it came from.
type Arg struct {
	Name  string
	Value Value
	Span  diag.Span
}

// Args are the arguments of a call. Natives consume them; leftovers are
// reported by Finish.
type Args struct {
	Span  diag.Span
	Func  string
	items []Arg
}

// Positional removes and returns the next positional argument.
func (a *Args) Positional() (Arg, bool) {
	for i, it := range a.items {
		if it.Name == "" {
			a.items = append(a.items[:i], a.items[i+1:]...)
			return it, true
		}
	}
	return Arg{}, false
}

// Expect is Positional that fails when the argument is missing.
func (a *Args) Expect(what string) (Arg, error) {
	if it, ok := a.Positional(); ok {
		return it, nil
	}
	return Arg{}, errorf(a.Span, "missing argument: %s", what)
}

// Rest removes every remaining positional argument.
func (a *Args) Rest() []Arg {
	var out, keep []Arg
	for _, it := range a.items {
		if it.Name == "" {
			out = append(out, it)
		} else {
			keep = append(keep, it)
		}
	}
	a.items = keep
	return out
}

// Named removes and returns the last named argument called name.
func (a *Args) Named(name string) (Arg, bool) {
	found := -1
	for i, it := range a.items {
		if it.Name == name {
			found = i
		}
	}
	if found < 0 {
		return Arg{}, false
	}
	it := a.items[found]
	// drop every occurrence so duplicates do not trip Finish
	keep := a.items[:0]
	for _, o := range a.items {
		if o.Name != name {
			keep = append(keep, o)
		}
	}
	a.items = keep
	return it, true
}

// Finish fails when arguments were left unconsumed.
func (a *Args) Finish() error {
	if len(a.items) == 0 {
		return nil
	}
	it := a.items[0]
	if it.Name != "" {
		return errorf(it.Span, "unexpected argument: %s", it.Name)
	}
	return errorf(it.Span, "unexpected argument")
}

func typeError(arg Arg, want string) error {
	return errorf(arg.Span, "expected %s, found %s", want, arg.Value.Type())
}

func castStr(arg Arg) (string, error) {
	if arg.Value.Tag != TagStr {
		return "", typeError(arg, "string")
	}
	return arg.Value.AsStr(), nil
}

func castInt(arg Arg) (int64, error) {
	if arg.Value.Tag != TagInt {
		return 0, typeError(arg, "integer")
	}
	return arg.Value.AsInt(), nil
}

func castBool(arg Arg) (bool, error) {
	if arg.Value.Tag != TagBool {
		return false, typeError(arg, "boolean")
	}
	return arg.Value.AsBool(), nil
}

func castLength(arg Arg) (units.Length, error) {
	if arg.Value.Tag != TagLength {
		return units.Length{}, typeError(arg, "length")
	}
	return arg.Value.AsLength(), nil
}

// castRel accepts a length, a ratio, or auto spelled as none.
func castRel(arg Arg) (units.Rel, error) {
	switch arg.Value.Tag {
	case TagLength:
		return units.Rel{Len: arg.Value.AsLength()}, nil
	case TagRatio:
		return units.Rel{Ratio: arg.Value.Data.(float64)}, nil
	case TagNone:
		return units.Rel{}, nil
	}
	return units.Rel{}, typeError(arg, "length or ratio")
}

// castContent accepts content and anything displayable.
func castContent(arg Arg) (*content.Node, error) {
	switch arg.Value.Tag {
	case TagContent, TagStr, TagNone, TagInt, TagFloat:
		n := Display(arg.Value, arg.Span)
		if n == nil {
			n = content.Sequence()
		}
		return n, nil
	}
	return nil, typeError(arg, "content")
}

func castColor(arg Arg) (content.Color, error) {
	s, err := castStr(arg)
	if err != nil {
		return content.Color{}, typeError(arg, "color string")
	}
	c, err := content.ParseColor(s)
	if err != nil {
		return content.Color{}, errorf(arg.Span, "%v", err)
	}
	return c, nil
}

func castAlign(arg Arg) (content.Align, error) {
	s, err := castStr(arg)
	if err != nil {
		return content.AlignNone, typeError(arg, "alignment")
	}
	a, err := content.ParseAlign(s)
	if err != nil {
		return content.AlignNone, errorf(arg.Span, "%v", err)
	}
	return a, nil
}

func castWrap(arg Arg) (string, error) {
	s, err := castStr(arg)
	if err != nil {
		return "", err
	}
	w, err := content.NormalizeWrap(s)
	if err != nil {
		return "", errorf(arg.Span, "%v (expected %s)", err,
			strings.Join([]string{content.WrapAnywhere, content.WrapBreakWord, content.WrapNowrap}, ", "))
	}
	return w, nil
}
