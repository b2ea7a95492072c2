package eval

import (
	"math"
	"strings"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/syntax"
	"github.com/ByLCY/papyrus/units"
)

func lengthOf(n *syntax.Node) units.Length {
	return units.Length{Value: n.Float, Unit: n.Unit}
}

func unary(op string, v Value, span diag.Span) (Value, error) {
	switch op {
	case "not":
		if v.Tag == TagBool {
			return Bool(!v.AsBool()), nil
		}
	case "+":
		switch v.Tag {
		case TagInt, TagFloat, TagLength, TagRatio:
			return v, nil
		}
	case "-":
		switch v.Tag {
		case TagInt:
			return Int(-v.AsInt()), nil
		case TagFloat:
			return Float(-v.AsFloat()), nil
		case TagLength:
			return Length(v.AsLength().Mul(-1)), nil
		case TagRatio:
			return Ratio(-v.Data.(float64)), nil
		}
	}
	return None, errorf(span, "cannot apply '%s' to %s", op, v.Type())
}

func (vm *VM) binary(n *syntax.Node, sc ScopeID) (Value, error) {
	lhs, rhs := n.Child(0), n.Child(1)
	switch n.Text {
	case "=", "+=", "-=", "*=", "/=":
		return vm.assign(n, sc)
	case "and", "or":
		l, err := vm.eval(lhs, sc)
		if err != nil {
			return None, err
		}
		if l.Tag != TagBool {
			return None, errorf(lhs.Span, "expected boolean, found %s", l.Type())
		}
		if (n.Text == "and") != l.AsBool() {
			return l, nil
		}
		r, err := vm.eval(rhs, sc)
		if err != nil {
			return None, err
		}
		if r.Tag != TagBool {
			return None, errorf(rhs.Span, "expected boolean, found %s", r.Type())
		}
		return r, nil
	}
	l, err := vm.eval(lhs, sc)
	if err != nil {
		return None, err
	}
	r, err := vm.eval(rhs, sc)
	if err != nil {
		return None, err
	}
	return binaryOp(n.Text, l, r, n.Span)
}

func (vm *VM) assign(n *syntax.Node, sc ScopeID) (Value, error) {
	target := n.Child(0)
	if target.Kind != syntax.KindIdent {
		return None, errorf(target.Span, "cannot assign to %s", target.Kind)
	}
	r, err := vm.eval(n.Child(1), sc)
	if err != nil {
		return None, err
	}
	if n.Text != "=" {
		cur, ok := vm.scopes.Lookup(sc, target.Name)
		if !ok {
			return None, errorf(target.Span, "unknown variable: %s", target.Name)
		}
		if r, err = binaryOp(strings.TrimSuffix(n.Text, "="), cur, r, n.Span); err != nil {
			return None, err
		}
	}
	if !vm.scopes.Assign(sc, target.Name, r) {
		return None, errorf(target.Span, "unknown variable: %s", target.Name)
	}
	return None, nil
}

func binaryOp(op string, l, r Value, span diag.Span) (Value, error) {
	switch op {
	case "+":
		return add(l, r, span)
	case "-", "*", "/":
		return arith(op, l, r, span)
	case "==":
		return Bool(Equal(l, r)), nil
	case "!=":
		return Bool(!Equal(l, r)), nil
	case "<", "<=", ">", ">=":
		c, ok := compare(l, r)
		if !ok {
			return None, errorf(span, "cannot compare %s with %s", l.Type(), r.Type())
		}
		switch op {
		case "<":
			return Bool(c < 0), nil
		case "<=":
			return Bool(c <= 0), nil
		case ">":
			return Bool(c > 0), nil
		}
		return Bool(c >= 0), nil
	case "in", "not in":
		in, err := contains(r, l, span)
		if err != nil {
			return None, err
		}
		return Bool(in == (op == "in")), nil
	}
	return None, errorf(span, "unknown operator %s", op)
}

func add(l, r Value, span diag.Span) (Value, error) {
	switch {
	case l.IsNone():
		return r, nil
	case r.IsNone():
		return l, nil
	case l.Tag == TagInt && r.Tag == TagInt:
		return Int(l.AsInt() + r.AsInt()), nil
	case l.Tag == TagStr && r.Tag == TagStr:
		return Str(l.AsStr() + r.AsStr()), nil
	case l.Tag == TagLength && r.Tag == TagLength:
		return Length(l.AsLength().Add(r.AsLength())), nil
	case l.Tag == TagRatio && r.Tag == TagRatio:
		return Ratio(l.Data.(float64) + r.Data.(float64)), nil
	case l.Tag == TagArray && r.Tag == TagArray:
		return ArrayOf(append(append([]Value(nil), l.AsArray().Items...), r.AsArray().Items...)...), nil
	case l.Tag == TagDict && r.Tag == TagDict:
		d := l.AsDict().clone()
		rd := r.AsDict()
		for _, k := range rd.Keys {
			d.Set(k, rd.Entries[k])
		}
		return DictOf(d), nil
	case l.Tag == TagContent || r.Tag == TagContent:
		if displayable(l) && displayable(r) {
			return Content(content.Join(Display(l, span), Display(r, span))), nil
		}
	}
	if x, ok := l.number(); ok {
		if y, ok := r.number(); ok {
			return Float(x + y), nil
		}
	}
	return None, errorf(span, "cannot add %s and %s", l.Type(), r.Type())
}

func arith(op string, l, r Value, span diag.Span) (Value, error) {
	if l.Tag == TagInt && r.Tag == TagInt && op != "/" {
		a, b := l.AsInt(), r.AsInt()
		if op == "-" {
			return Int(a - b), nil
		}
		return Int(a * b), nil
	}
	x, lnum := l.number()
	y, rnum := r.number()
	if op == "/" && rnum && y == 0 {
		return None, errorf(span, "cannot divide by zero")
	}
	switch {
	case lnum && rnum:
		switch op {
		case "-":
			return Float(x - y), nil
		case "*":
			return Float(x * y), nil
		}
		q := x / y
		if l.Tag == TagInt && r.Tag == TagInt && q == math.Trunc(q) {
			return Int(int64(q)), nil
		}
		return Float(q), nil
	case l.Tag == TagLength && r.Tag == TagLength:
		switch op {
		case "-":
			return Length(l.AsLength().Add(r.AsLength().Mul(-1))), nil
		case "/":
			den := r.AsLength().ToPT()
			if den == 0 {
				return None, errorf(span, "cannot divide by zero")
			}
			return Float(l.AsLength().ToPT() / den), nil
		}
	case l.Tag == TagLength && rnum:
		switch op {
		case "*":
			return Length(l.AsLength().Mul(y)), nil
		case "/":
			return Length(l.AsLength().Mul(1 / y)), nil
		}
	case lnum && r.Tag == TagLength && op == "*":
		return Length(r.AsLength().Mul(x)), nil
	case l.Tag == TagRatio && r.Tag == TagRatio && op == "-":
		return Ratio(l.Data.(float64) - r.Data.(float64)), nil
	case l.Tag == TagRatio && rnum:
		switch op {
		case "*":
			return Ratio(l.Data.(float64) * y), nil
		case "/":
			return Ratio(l.Data.(float64) / y), nil
		}
	case lnum && r.Tag == TagRatio && op == "*":
		return Ratio(r.Data.(float64) * x), nil
	case l.Tag == TagStr && r.Tag == TagInt && op == "*":
		if r.AsInt() < 0 {
			return None, errorf(span, "cannot repeat a string a negative number of times")
		}
		return Str(strings.Repeat(l.AsStr(), int(r.AsInt()))), nil
	}
	verb := map[string]string{"-": "subtract", "*": "multiply", "/": "divide"}[op]
	return None, errorf(span, "cannot %s %s and %s", verb, l.Type(), r.Type())
}

func compare(l, r Value) (int, bool) {
	cmp := func(a, b float64) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	if l.Tag == TagInt && r.Tag == TagInt {
		x, y := l.AsInt(), r.AsInt()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := l.number(); ok {
		if y, ok := r.number(); ok {
			return cmp(x, y), true
		}
		return 0, false
	}
	if l.Tag != r.Tag {
		return 0, false
	}
	switch l.Tag {
	case TagStr:
		return strings.Compare(l.AsStr(), r.AsStr()), true
	case TagLength:
		return cmp(l.AsLength().ToPT(), r.AsLength().ToPT()), true
	case TagRatio:
		return cmp(l.Data.(float64), r.Data.(float64)), true
	}
	return 0, false
}

func contains(container, item Value, span diag.Span) (bool, error) {
	switch container.Tag {
	case TagStr:
		if item.Tag != TagStr {
			return false, errorf(span, "cannot search %s in string", item.Type())
		}
		return strings.Contains(container.AsStr(), item.AsStr()), nil
	case TagArray:
		for _, it := range container.AsArray().Items {
			if Equal(it, item) {
				return true, nil
			}
		}
		return false, nil
	case TagDict:
		if item.Tag != TagStr {
			return false, errorf(span, "dictionary keys are strings, found %s", item.Type())
		}
		_, ok := container.AsDict().Get(item.AsStr())
		return ok, nil
	}
	return false, errorf(span, "cannot search in %s", container.Type())
}
