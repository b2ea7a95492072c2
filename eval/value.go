package eval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/syntax"
	"github.com/ByLCY/papyrus/units"
)

// Tag is the closed set of value types.
type Tag int

const (
	TagNone Tag = iota
	TagBool
	TagInt
	TagFloat
	TagLength
	TagRatio
	TagStr
	TagContent
	TagArray
	TagDict
	TagFunc
	TagModule
)

var tagNames = [...]string{
	TagNone:    "none",
	TagBool:    "bool",
	TagInt:     "int",
	TagFloat:   "float",
	TagLength:  "length",
	TagRatio:   "ratio",
	TagStr:     "str",
	TagContent: "content",
	TagArray:   "array",
	TagDict:    "dictionary",
	TagFunc:    "function",
	TagModule:  "module",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "unknown"
}

// Value is a tagged runtime value. Data holds:
//
//	TagBool    bool
//	TagInt     int64
//	TagFloat   float64
//	TagLength  units.Length
//	TagRatio   float64 (1.0 == 100%)
//	TagStr     string
//	TagContent *content.Node
//	TagArray   *Array
//	TagDict    *Dict
//	TagFunc    *Func
//	TagModule  *Module
//
// Content, array, dict, function and module payloads are pointers shared by
// every copy of the value. Operations that change them build new payloads.
type Value struct {
	Tag  Tag
	Data any
}

// None is the unit value.
var None = Value{Tag: TagNone}

func Bool(b bool) Value { return Value{Tag: TagBool, Data: b} }
func Int(n int64) Value { return Value{Tag: TagInt, Data: n} }
func Float(f float64) Value { return Value{Tag: TagFloat, Data: f} }
func Length(l units.Length) Value { return Value{Tag: TagLength, Data: l} }
func Ratio(r float64) Value { return Value{Tag: TagRatio, Data: r} }
func Str(s string) Value { return Value{Tag: TagStr, Data: s} }
func Content(n *content.Node) Value { return Value{Tag: TagContent, Data: n} }
func ArrayOf(items ...Value) Value { return Value{Tag: TagArray, Data: &Array{Items: items}} }
func DictOf(d *Dict) Value { return Value{Tag: TagDict, Data: d} }
func FuncOf(f *Func) Value { return Value{Tag: TagFunc, Data: f} }
func ModuleOf(m *Module) Value { return Value{Tag: TagModule, Data: m} }
func (v Value) IsNone() bool { return v.Tag == TagNone }
func (v Value) Type() string { return v.Tag.String() }
func (v Value) AsBool() bool { return v.Data.(bool) }
func (v Value) AsInt() int64 { return v.Data.(int64) }
func (v Value) AsFloat() float64 { return v.Data.(float64) }
func (v Value) AsLength() units.Length { return v.Data.(units.Length) }
func (v Value) AsStr() string { return v.Data.(string) }
func (v Value) AsContent() *content.Node { return v.Data.(*content.Node) }
func (v Value) AsArray() *Array { return v.Data.(*Array) }
func (v Value) AsDict() *Dict { return v.Data.(*Dict) }
func (v Value) AsFunc() *Func { return v.Data.(*Func) }
func (v Value) AsModule() *Module { return v.Data.(*Module) }

// number returns int and float values as float64.
func (v Value) number() (float64, bool) {
	switch v.Tag {
	case TagInt:
		return float64(v.AsInt()), true
	case TagFloat:
		return v.AsFloat(), true
	}
	return 0, false
}

// Array is an ordered list of values.
type Array struct {
	Items []Value
}

// Dict is a dictionary that keeps insertion order.
type Dict struct {
	Keys    []string
	Entries map[string]Value
}

// NewDict creates an empty dictionary.
func NewDict() *Dict { return &Dict{Entries: map[string]Value{}} }

// Set inserts or replaces a key.
func (d *Dict) Set(k string, v Value) {
	if _, ok := d.Entries[k]; !ok {
		d.Keys = append(d.Keys, k)
	}
	d.Entries[k] = v
}

// Get looks a key up.
func (d *Dict) Get(k string) (Value, bool) {
	v, ok := d.Entries[k]
	return v, ok
}

func (d *Dict) clone() *Dict {
	out := NewDict()
	for _, k := range d.Keys {
		out.Set(k, d.Entries[k])
	}
	return out
}

// NativeFunc implements a built-in function.
type NativeFunc func(vm *VM, args *Args) (Value, error)

// Func is a built-in or a user-defined closure. Closures capture the scope
// they were defined in by index.
type Func struct {
	Name   string
	Native NativeFunc
	Params []*syntax.Node
	Body   *syntax.Node
	Scope  ScopeID
	File   string
	// defaults of named parameters, evaluated at definition time
	Defaults map[string]Value
}

// Module is an evaluated file or a built-in namespace.
type Module struct {
	Name    string
	Path    string
	Scope   *Dict
	Content *content.Node
}

// Repr renders a value the way it would be written in code.
func Repr(v Value) string {
	switch v.Tag {
	case TagNone:
		return "none"
	case TagBool:
		return strconv.FormatBool(v.AsBool())
	case TagInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case TagFloat:
		return formatFloat(v.AsFloat())
	case TagLength:
		l := v.AsLength()
		return strconv.FormatFloat(l.Value, 'f', -1, 64) + units.UnitToString(l.Unit)
	case TagRatio:
		return strconv.FormatFloat(v.Data.(float64)*100, 'f', -1, 64) + "%"
	case TagStr:
		return strconv.Quote(v.AsStr())
	case TagContent:
		return "[" + content.PlainText(v.AsContent()) + "]"
	case TagArray:
		items := v.AsArray().Items
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = Repr(it)
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TagDict:
		d := v.AsDict()
		if len(d.Keys) == 0 {
			return "(:)"
		}
		parts := make([]string, len(d.Keys))
		for i, k := range d.Keys {
			parts[i] = k + ": " + Repr(d.Entries[k])
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TagFunc:
		if name := v.AsFunc().Name; name != "" {
			return name
		}
		return "(..) => .."
	case TagModule:
		return fmt.Sprintf("<module %s>", v.AsModule().Name)
	}
	return "<unknown>"
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// Display converts a value to content for insertion into markup.
func Display(v Value, span diag.Span) *content.Node {
	switch v.Tag {
	case TagNone:
		return nil
	case TagStr:
		return content.Text(v.AsStr(), span)
	case TagContent:
		return v.AsContent()
	}
	return content.Text(Repr(v), span)
}

// Equal compares values structurally.
func Equal(a, b Value) bool {
	if a.Tag == TagInt && b.Tag == TagInt {
		return a.AsInt() == b.AsInt()
	}
	if x, ok := a.number(); ok {
		if y, ok := b.number(); ok {
			return x == y
		}
		return false
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagNone:
		return true
	case TagBool:
		return a.AsBool() == b.AsBool()
	case TagLength:
		return a.AsLength().Resolve(units.Pt) == b.AsLength().Resolve(units.Pt)
	case TagRatio:
		return a.Data.(float64) == b.Data.(float64)
	case TagStr:
		return a.AsStr() == b.AsStr()
	case TagContent:
		return content.PlainText(a.AsContent()) == content.PlainText(b.AsContent())
	case TagArray:
		x, y := a.AsArray().Items, b.AsArray().Items
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case TagDict:
		x, y := a.AsDict(), b.AsDict()
		if len(x.Keys) != len(y.Keys) {
			return false
		}
		for _, k := range x.Keys {
			yv, ok := y.Entries[k]
			if !ok || !Equal(x.Entries[k], yv) {
				return false
			}
		}
		return true
	}
	return a.Data == b.Data
}

// FromGo converts decoded JSON-like data into a value. Map keys are sorted
// so the result does not depend on map iteration order.
func FromGo(x any) Value {
	switch t := x.(type) {
	case nil:
		return None
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return Int(int64(t))
		}
		return Float(t)
	case string:
		return Str(t)
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromGo(it)
		}
		return ArrayOf(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			d.Set(k, FromGo(t[k]))
		}
		return DictOf(d)
	}
	return Str(fmt.Sprint(x))
}

// ToGo converts a value into plain data suitable for JSON or YAML encoding.
func ToGo(v Value) any {
	switch v.Tag {
	case TagNone:
		return nil
	case TagBool:
		return v.AsBool()
	case TagInt:
		return v.AsInt()
	case TagFloat:
		return v.AsFloat()
	case TagStr:
		return v.AsStr()
	case TagLength, TagRatio, TagFunc, TagModule:
		return Repr(v)
	case TagContent:
		return v.AsContent()
	case TagArray:
		items := v.AsArray().Items
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = ToGo(it)
		}
		return out
	case TagDict:
		d := v.AsDict()
		out := make(map[string]any, len(d.Keys))
		for _, k := range d.Keys {
			out[k] = ToGo(d.Entries[k])
		}
		return out
	}
	return nil
}
