package eval

import (
	"strings"
	"unicode/utf8"

	"github.com/ByLCY/papyrus/content"
)

// method dispatches a method call on a value.
func (vm *VM) method(target Value, name string, args *Args) (Value, error) {
	var (
		out Value
		err error
	)
	switch target.Tag {
	case TagStr:
		out, err = strMethod(target.AsStr(), name, args)
	case TagArray:
		out, err = vm.arrayMethod(target.AsArray(), name, args)
	case TagDict:
		out, err = dictMethod(target.AsDict(), name, args)
	case TagContent:
		if name == "text" {
			out = Str(content.PlainText(target.AsContent()))
			break
		}
		err = errorf(args.Span, "content has no method %s", name)
	default:
		err = errorf(args.Span, "%s has no method %s", target.Type(), name)
	}
	if err != nil {
		return None, err
	}
	if err := args.Finish(); err != nil {
		return None, err
	}
	return out, nil
}

func strMethod(s, name string, args *Args) (Value, error) {
	switch name {
	case "len":
		return Int(int64(utf8.RuneCountInString(s))), nil
	case "trim":
		return Str(strings.TrimSpace(s)), nil
	case "contains", "starts-with", "ends-with":
		arg, err := args.Expect("pattern")
		if err != nil {
			return None, err
		}
		pat, err := castStr(arg)
		if err != nil {
			return None, err
		}
		switch name {
		case "contains":
			return Bool(strings.Contains(s, pat)), nil
		case "starts-with":
			return Bool(strings.HasPrefix(s, pat)), nil
		}
		return Bool(strings.HasSuffix(s, pat)), nil
	case "split":
		sep := ""
		if arg, ok := args.Positional(); ok {
			var err error
			if sep, err = castStr(arg); err != nil {
				return None, err
			}
		}
		var parts []string
		if sep == "" {
			parts = strings.Fields(s)
		} else {
			parts = strings.Split(s, sep)
		}
		items := make([]Value, len(parts))
		for i, p := range parts {
			items[i] = Str(p)
		}
		return ArrayOf(items...), nil
	case "at":
		arg, err := args.Expect("index")
		if err != nil {
			return None, err
		}
		idx, err := castInt(arg)
		if err != nil {
			return None, err
		}
		runes := []rune(s)
		i, ok := index(idx, len(runes))
		if !ok {
			return None, errorf(arg.Span, "string index out of bounds (index: %d, len: %d)", idx, len(runes))
		}
		return Str(string(runes[i])), nil
	}
	return None, errorf(args.Span, "string has no method %s", name)
}

func index(idx int64, n int) (int, bool) {
	if idx < 0 {
		idx += int64(n)
	}
	if idx < 0 || idx >= int64(n) {
		return 0, false
	}
	return int(idx), true
}

func (vm *VM) arrayMethod(a *Array, name string, args *Args) (Value, error) {
	switch name {
	case "len":
		return Int(int64(len(a.Items))), nil
	case "first", "last":
		if len(a.Items) == 0 {
			return None, errorf(args.Span, "array is empty")
		}
		if name == "first" {
			return a.Items[0], nil
		}
		return a.Items[len(a.Items)-1], nil
	case "at":
		arg, err := args.Expect("index")
		if err != nil {
			return None, err
		}
		idx, err := castInt(arg)
		if err != nil {
			return None, err
		}
		i, ok := index(idx, len(a.Items))
		if !ok {
			return None, errorf(arg.Span, "array index out of bounds (index: %d, len: %d)", idx, len(a.Items))
		}
		return a.Items[i], nil
	case "contains":
		arg, err := args.Expect("value")
		if err != nil {
			return None, err
		}
		ok, err := contains(ArrayOf(a.Items...), arg.Value, arg.Span)
		return Bool(ok), err
	case "rev":
		out := make([]Value, len(a.Items))
		for i, it := range a.Items {
			out[len(out)-1-i] = it
		}
		return ArrayOf(out...), nil
	case "join":
		out := None
		var sep Value
		if arg, ok := args.Positional(); ok {
			sep = arg.Value
		}
		for i, it := range a.Items {
			var err error
			if i > 0 && !sep.IsNone() {
				if out, err = join(out, sep, args.Span); err != nil {
					return None, err
				}
			}
			if out, err = join(out, it, args.Span); err != nil {
				return None, err
			}
		}
		return out, nil
	case "map", "filter":
		arg, err := args.Expect("function")
		if err != nil {
			return None, err
		}
		if arg.Value.Tag != TagFunc {
			return None, typeError(arg, "function")
		}
		f := arg.Value.AsFunc()
		var out []Value
		for _, it := range a.Items {
			v, err := vm.Call(f, &Args{Span: arg.Span, Func: f.Name, items: []Arg{{Value: it, Span: arg.Span}}})
			if err != nil {
				return None, err
			}
			if name == "map" {
				out = append(out, v)
				continue
			}
			if v.Tag != TagBool {
				return None, errorf(arg.Span, "expected boolean from filter function, found %s", v.Type())
			}
			if v.AsBool() {
				out = append(out, it)
			}
		}
		return ArrayOf(out...), nil
	}
	return None, errorf(args.Span, "array has no method %s", name)
}

func dictMethod(d *Dict, name string, args *Args) (Value, error) {
	switch name {
	case "len":
		return Int(int64(len(d.Keys))), nil
	case "keys":
		items := make([]Value, len(d.Keys))
		for i, k := range d.Keys {
			items[i] = Str(k)
		}
		return ArrayOf(items...), nil
	case "values":
		items := make([]Value, len(d.Keys))
		for i, k := range d.Keys {
			items[i] = d.Entries[k]
		}
		return ArrayOf(items...), nil
	case "at":
		arg, err := args.Expect("key")
		if err != nil {
			return None, err
		}
		k, err := castStr(arg)
		if err != nil {
			return None, err
		}
		def, hasDef := args.Named("default")
		if v, ok := d.Get(k); ok {
			return v, nil
		}
		if hasDef {
			return def.Value, nil
		}
		return None, errorf(arg.Span, "dictionary does not contain key %q", k)
	}
	return None, errorf(args.Span, "dictionary has no method %s", name)
}
