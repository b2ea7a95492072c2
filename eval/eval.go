// Package eval turns syntax trees into content. It binds identifiers
// against an arena of lexical scopes, calls built-in and user-defined
// functions and resolves imports through the source session.
package eval

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/npillmayer/schuko/tracing"

	"github.com/ByLCY/papyrus/binding"
	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/source"
	"github.com/ByLCY/papyrus/syntax"
)

// tracer writes to trace with key 'papyrus.eval'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.eval")
}

// MaxCallDepth bounds nested function calls and imports. Exceeding it is
// fatal.
const MaxCallDepth = 64

// MaxNesting bounds the recursion of the evaluator over nested
// expressions and content, counted across function calls.
const MaxNesting = 16 * syntax.MaxNesting

// Version is reported as sys.version.
const Version = "0.1.0"

// Options configure one evaluation.
type Options struct {
	// Session loads imported files and images. Nil for detached evaluation.
	Session *source.Session
	// Inputs is host supplied data exposed as sys.inputs and input().
	Inputs any
	// Interpolate expands ${path} placeholders of markup text from Inputs.
	Interpolate bool
	// Now is the instant today() reports. Zero means the wall clock, read
	// once per VM.
	Now time.Time
	// MaxDepth overrides MaxCallDepth when positive.
	MaxDepth int
}

// VM evaluates the files of one compilation.
type VM struct {
	opts    Options
	scopes  Scopes
	global  ScopeID
	modules map[string]*Module
	warns   diag.List
	depth   int
	nesting int
	file    string
	now     time.Time
}

// New creates a VM with the standard library in its global scope.
func New(opts Options) *VM {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = MaxCallDepth
	}
	vm := &VM{opts: opts, modules: map[string]*Module{}}
	vm.global = vm.scopes.Push(NoScope)
	defineStdlib(vm, vm.global)
	if opts.Session != nil {
		vm.file = opts.Session.Document().Root
	}
	return vm
}

// Global returns the scope holding the standard library.
func (vm *VM) Global() ScopeID { return vm.global }

// Scopes exposes the scope arena.
func (vm *VM) Scopes() *Scopes { return &vm.scopes }

// Warnings returns the warnings reported so far.
func (vm *VM) Warnings() diag.List { return vm.warns }

// Evaluate evaluates a markup tree in a fresh scope below parent. Errors of
// independent markup statements are collected and returned together as a
// *diag.Error; content is returned only when there were none.
func (vm *VM) Evaluate(tree *syntax.Node, parent ScopeID) (*content.Node, error) {
	if tree == nil {
		return content.Sequence(), nil
	}
	if tree.Span.File != "" {
		vm.file = tree.Span.File
	}
	sc := vm.scopes.Push(parent)
	tracer().Debugf("evaluating %s", vm.file)
	out, err := vm.markup(tree.Children, sc)
	if err != nil {
		tracer().Errorf("evaluation of %s failed: %v", vm.file, err)
		return nil, err
	}
	return out, nil
}

// Evaluate runs root with a fresh VM.
func Evaluate(root *syntax.Node, opts Options) (*content.Node, diag.List, error) {
	vm := New(opts)
	out, err := vm.Evaluate(root, vm.Global())
	return out, vm.Warnings(), err
}

// EvalString evaluates a code snippet detached from any document, in a
// fresh scope below the standard library.
func EvalString(code string, opts Options) (Value, error) {
	tree := syntax.ParseCode("", code)
	if errs := syntax.Errors(tree); len(errs) > 0 {
		return None, errs.Err()
	}
	vm := New(opts)
	return vm.eval(tree, vm.scopes.Push(vm.global))
}

func errorf(span diag.Span, format string, args ...any) error {
	return diag.New(diag.Errorf(diag.ErrEval, span, format, args...))
}

func isFatal(err error) bool { return errors.Is(err, diag.ErrFatal) }

// markup evaluates a sequence of markup children. Statements that fail are
// recorded and skipped so that later independent errors are reported too.
func (vm *VM) markup(children []*syntax.Node, sc ScopeID) (*content.Node, error) {
	seq := content.Sequence()
	var errs diag.List
	for _, c := range children {
		v, err := vm.eval(c, sc)
		if err != nil {
			if isFatal(err) {
				return nil, err
			}
			errs.Add(diag.From(err)...)
			continue
		}
		seq.Append(Display(v, c.Span))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return seq, nil
}

func (vm *VM) eval(n *syntax.Node, sc ScopeID) (Value, error) {
	vm.nesting++
	defer func() { vm.nesting-- }()
	if vm.nesting > MaxNesting {
		return None, diag.New(diag.Errorf(diag.ErrFatal, n.Span, "maximum nesting depth of %d exceeded", MaxNesting))
	}
	switch n.Kind {
	case syntax.KindError:
		kind := diag.ErrSyntax
		if n.Fatal {
			kind = diag.ErrFatal
		}
		return None, diag.New(diag.Errorf(kind, n.Span, "%s", n.Text))
	case syntax.KindMarkup:
		c, err := vm.markup(n.Children, sc)
		if err != nil {
			return None, err
		}
		return Content(c), nil
	case syntax.KindText:
		text := n.Text
		if vm.opts.Interpolate && vm.opts.Inputs != nil {
			text = binding.Interpolate(text, vm.opts.Inputs)
		}
		return Content(content.Text(text, n.Span)), nil
	case syntax.KindSpace:
		return Content(content.Space(n.Span)), nil
	case syntax.KindLinebreak:
		return Content(&content.Node{Kind: content.KindLinebreak, Span: n.Span}), nil
	case syntax.KindParbreak:
		return Content(&content.Node{Kind: content.KindParbreak, Span: n.Span}), nil
	case syntax.KindStrong, syntax.KindEmph, syntax.KindHeading, syntax.KindListItem, syntax.KindEnumItem:
		return vm.markupElem(n, sc)
	case syntax.KindRaw:
		return Content(&content.Node{Kind: content.KindRaw, Span: n.Span, Text: n.Text, Lang: n.Lang, Block: n.Block}), nil
	case syntax.KindIdent:
		if v, ok := vm.scopes.Lookup(sc, n.Name); ok {
			return v, nil
		}
		return None, errorf(n.Span, "unknown variable: %s", n.Name)
	case syntax.KindNone:
		return None, nil
	case syntax.KindBool:
		return Bool(n.Int != 0), nil
	case syntax.KindInt:
		return Int(n.Int), nil
	case syntax.KindFloat:
		return Float(n.Float), nil
	case syntax.KindLength:
		return Length(lengthOf(n)), nil
	case syntax.KindRatio:
		return Ratio(n.Float / 100), nil
	case syntax.KindStr:
		return Str(n.Text), nil
	case syntax.KindContentBlock:
		c, err := vm.markup(n.Children, vm.scopes.Push(sc))
		if err != nil {
			return None, err
		}
		return Content(c), nil
	case syntax.KindCodeBlock:
		return vm.code(n.Children, vm.scopes.Push(sc))
	case syntax.KindArray:
		items := make([]Value, 0, len(n.Children))
		for _, c := range n.Children {
			v, err := vm.eval(c, sc)
			if err != nil {
				return None, err
			}
			items = append(items, v)
		}
		return ArrayOf(items...), nil
	case syntax.KindDict:
		d := NewDict()
		for _, c := range n.Children {
			if c.Kind != syntax.KindNamed {
				return None, errorf(c.Span, "expected named pair")
			}
			v, err := vm.eval(c.Child(0), sc)
			if err != nil {
				return None, err
			}
			d.Set(c.Name, v)
		}
		return DictOf(d), nil
	case syntax.KindFieldAccess:
		target, err := vm.eval(n.Child(0), sc)
		if err != nil {
			return None, err
		}
		return vm.field(target, n.Name, n.Span)
	case syntax.KindCall:
		return vm.call(n, sc)
	case syntax.KindUnary:
		operand, err := vm.eval(n.Child(0), sc)
		if err != nil {
			return None, err
		}
		return unary(n.Text, operand, n.Span)
	case syntax.KindBinary:
		return vm.binary(n, sc)
	case syntax.KindLet:
		return vm.let(n, sc)
	case syntax.KindClosure:
		return vm.closure(n, sc)
	case syntax.KindIf:
		return vm.conditional(n, sc)
	case syntax.KindFor:
		return vm.forLoop(n, sc)
	case syntax.KindImport:
		return vm.importStmt(n, sc)
	case syntax.KindInclude:
		m, err := vm.loadModule(n.Child(0), sc)
		if err != nil {
			return None, err
		}
		return Content(m.Content), nil
	}
	return None, errorf(n.Span, "cannot evaluate %s here", n.Kind)
}

// code evaluates statements and joins their values.
func (vm *VM) code(stmts []*syntax.Node, sc ScopeID) (Value, error) {
	out := None
	for _, s := range stmts {
		v, err := vm.eval(s, sc)
		if err != nil {
			return None, err
		}
		if out, err = join(out, v, s.Span); err != nil {
			return None, err
		}
	}
	return out, nil
}

// join concatenates the values of consecutive statements.
func join(a, b Value, span diag.Span) (Value, error) {
	switch {
	case b.IsNone():
		return a, nil
	case a.IsNone():
		return b, nil
	case a.Tag == TagStr && b.Tag == TagStr:
		return Str(a.AsStr() + b.AsStr()), nil
	case a.Tag == TagArray && b.Tag == TagArray:
		return ArrayOf(append(append([]Value(nil), a.AsArray().Items...), b.AsArray().Items...)...), nil
	}
	if !displayable(a) || !displayable(b) {
		return None, errorf(span, "cannot join %s with %s", a.Type(), b.Type())
	}
	return Content(content.Join(Display(a, span), Display(b, span))), nil
}

func displayable(v Value) bool {
	switch v.Tag {
	case TagStr, TagContent, TagInt, TagFloat, TagLength, TagRatio, TagBool:
		return true
	}
	return false
}

func (vm *VM) markupElem(n *syntax.Node, sc ScopeID) (Value, error) {
	body, err := vm.markup(n.Children, sc)
	if err != nil {
		return None, err
	}
	out := &content.Node{Span: n.Span, Children: body.Children}
	switch n.Kind {
	case syntax.KindStrong:
		out.Kind = content.KindStrong
	case syntax.KindEmph:
		out.Kind = content.KindEmph
	case syntax.KindHeading:
		out.Kind = content.KindHeading
		out.Level = n.Level
	case syntax.KindListItem:
		out.Kind = content.KindListItem
	case syntax.KindEnumItem:
		out.Kind = content.KindEnumItem
	}
	return Content(out), nil
}

func (vm *VM) field(target Value, name string, span diag.Span) (Value, error) {
	switch target.Tag {
	case TagDict:
		if v, ok := target.AsDict().Get(name); ok {
			return v, nil
		}
		return None, errorf(span, "dictionary does not contain key %q", name)
	case TagModule:
		m := target.AsModule()
		if v, ok := m.Scope.Get(name); ok {
			return v, nil
		}
		return None, errorf(span, "module %s does not contain %s", m.Name, name)
	case TagContent:
		c := target.AsContent()
		switch name {
		case "text":
			return Str(content.PlainText(c)), nil
		case "level":
			if c.Kind == content.KindHeading {
				return Int(int64(c.Level)), nil
			}
		case "body":
			return Content(content.Sequence(c.Children...)), nil
		}
		return None, errorf(span, "content does not have field %q", name)
	}
	return None, errorf(span, "%s does not have field %q", target.Type(), name)
}

func (vm *VM) args(n *syntax.Node, sc ScopeID, callee string, span diag.Span) (*Args, error) {
	args := &Args{Span: span, Func: callee}
	for _, c := range n.Children {
		if c.Kind == syntax.KindNamed {
			v, err := vm.eval(c.Child(0), sc)
			if err != nil {
				return nil, err
			}
			args.items = append(args.items, Arg{Name: c.Name, Value: v, Span: c.Span})
			continue
		}
		v, err := vm.eval(c, sc)
		if err != nil {
			return nil, err
		}
		args.items = append(args.items, Arg{Value: v, Span: c.Span})
	}
	return args, nil
}

func (vm *VM) call(n *syntax.Node, sc ScopeID) (Value, error) {
	callee := n.Child(0)
	// methods on values
	if callee.Kind == syntax.KindFieldAccess {
		target, err := vm.eval(callee.Child(0), sc)
		if err != nil {
			return None, err
		}
		_, isKey := dictKey(target, callee.Name)
		if target.Tag != TagModule && !isKey {
			args, err := vm.args(n.Child(1), sc, callee.Name, n.Span)
			if err != nil {
				return None, err
			}
			return vm.method(target, callee.Name, args)
		}
	}
	var fn Value
	if callee.Kind == syntax.KindIdent {
		v, ok := vm.scopes.Lookup(sc, callee.Name)
		if !ok {
			return None, errorf(n.Span, "unknown function: %s", callee.Name)
		}
		fn = v
	} else {
		v, err := vm.eval(callee, sc)
		if err != nil {
			return None, err
		}
		fn = v
	}
	if fn.Tag != TagFunc {
		return None, errorf(callee.Span, "expected function, found %s", fn.Type())
	}
	args, err := vm.args(n.Child(1), sc, fn.AsFunc().Name, n.Span)
	if err != nil {
		return None, err
	}
	return vm.Call(fn.AsFunc(), args)
}

// Call invokes f. Nesting deeper than the configured depth is fatal.
func (vm *VM) Call(f *Func, args *Args) (Value, error) {
	vm.depth++
	defer func() { vm.depth-- }()
	if vm.depth > vm.opts.MaxDepth {
		d := diag.Errorf(diag.ErrFatal, args.Span, "maximum function call depth of %d exceeded", vm.opts.MaxDepth).
			WithHint("check for unbounded recursion in %s", f.Name)
		return None, diag.New(d)
	}
	if f.Native != nil {
		v, err := f.Native(vm, args)
		if err != nil {
			return None, err
		}
		if err := args.Finish(); err != nil {
			return None, err
		}
		return v, nil
	}
	sc := vm.scopes.Push(f.Scope)
	for _, p := range f.Params {
		switch p.Kind {
		case syntax.KindIdent:
			arg, ok := args.Positional()
			if !ok {
				return None, errorf(args.Span, "missing argument: %s", p.Name)
			}
			vm.scopes.Define(sc, p.Name, arg.Value)
		case syntax.KindNamed:
			v := f.Defaults[p.Name]
			if arg, ok := args.Named(p.Name); ok {
				v = arg.Value
			}
			vm.scopes.Define(sc, p.Name, v)
		}
	}
	if err := args.Finish(); err != nil {
		return None, err
	}
	saved := vm.file
	vm.file = f.File
	defer func() { vm.file = saved }()
	v, err := vm.eval(f.Body, sc)
	if err != nil {
		return None, diag.Traced(err, args.Span)
	}
	return v, nil
}

func (vm *VM) closure(n *syntax.Node, sc ScopeID) (Value, error) {
	params := n.Child(0)
	f := &Func{Name: n.Name, Body: n.Child(1), Scope: sc, File: vm.file, Defaults: map[string]Value{}}
	for _, p := range params.Children {
		switch p.Kind {
		case syntax.KindIdent:
		case syntax.KindNamed:
			v, err := vm.eval(p.Child(0), sc)
			if err != nil {
				return None, err
			}
			f.Defaults[p.Name] = v
		default:
			return vm.eval(p, sc)
		}
		f.Params = append(f.Params, p)
	}
	return FuncOf(f), nil
}

func (vm *VM) let(n *syntax.Node, sc ScopeID) (Value, error) {
	value := n.Child(0)
	if value == nil {
		vm.scopes.Define(sc, n.Name, None)
		return None, nil
	}
	if value.Kind == syntax.KindClosure {
		// bind first so the body can recurse
		vm.scopes.Define(sc, n.Name, None)
	}
	v, err := vm.eval(value, sc)
	if err != nil {
		return None, err
	}
	vm.scopes.Define(sc, n.Name, v)
	return None, nil
}

func (vm *VM) conditional(n *syntax.Node, sc ScopeID) (Value, error) {
	cond, err := vm.eval(n.Child(0), sc)
	if err != nil {
		return None, err
	}
	if cond.Tag != TagBool {
		return None, errorf(n.Child(0).Span, "expected boolean, found %s", cond.Type())
	}
	if cond.AsBool() {
		return vm.eval(n.Child(1), sc)
	}
	if alt := n.Child(2); alt != nil {
		return vm.eval(alt, sc)
	}
	return None, nil
}

func (vm *VM) forLoop(n *syntax.Node, sc ScopeID) (Value, error) {
	pattern, body := n.Child(0), n.Child(2)
	if pattern.IsError() {
		return vm.eval(pattern, sc)
	}
	iter, err := vm.eval(n.Child(1), sc)
	if err != nil {
		return None, err
	}
	var items []Value
	switch iter.Tag {
	case TagArray:
		items = iter.AsArray().Items
	case TagDict:
		d := iter.AsDict()
		for _, k := range d.Keys {
			items = append(items, ArrayOf(Str(k), d.Entries[k]))
		}
	case TagStr:
		for _, r := range iter.AsStr() {
			items = append(items, Str(string(r)))
		}
	default:
		return None, errorf(n.Child(1).Span, "cannot loop over %s", iter.Type())
	}
	out := None
	for _, it := range items {
		inner := vm.scopes.Push(sc)
		if err := vm.bindPattern(pattern, it, inner); err != nil {
			return None, err
		}
		v, err := vm.eval(body, inner)
		if err != nil {
			return None, err
		}
		if out, err = join(out, v, body.Span); err != nil {
			return None, err
		}
	}
	return out, nil
}

func (vm *VM) bindPattern(pattern *syntax.Node, v Value, sc ScopeID) error {
	if pattern.Kind == syntax.KindIdent {
		vm.scopes.Define(sc, pattern.Name, v)
		return nil
	}
	if v.Tag != TagArray {
		return errorf(pattern.Span, "cannot destructure %s", v.Type())
	}
	items := v.AsArray().Items
	if len(items) != len(pattern.Children) {
		return errorf(pattern.Span, "expected %d elements to destructure, found %d", len(pattern.Children), len(items))
	}
	for i, p := range pattern.Children {
		vm.scopes.Define(sc, p.Name, items[i])
	}
	return nil
}

func (vm *VM) importStmt(n *syntax.Node, sc ScopeID) (Value, error) {
	m, err := vm.loadModule(n.Child(0), sc)
	if err != nil {
		return None, err
	}
	items := n.Children[1:]
	if n.Name != "" {
		vm.scopes.Define(sc, n.Name, ModuleOf(m))
		return None, nil
	}
	if len(items) == 0 {
		vm.scopes.Define(sc, m.Name, ModuleOf(m))
		return None, nil
	}
	for _, it := range items {
		if it.IsError() {
			return vm.eval(it, sc)
		}
		if it.Name == "*" {
			for _, k := range m.Scope.Keys {
				vm.scopes.Define(sc, k, m.Scope.Entries[k])
			}
			continue
		}
		v, ok := m.Scope.Get(it.Name)
		if !ok {
			return None, errorf(it.Span, "module %s does not contain %s", m.Name, it.Name)
		}
		vm.scopes.Define(sc, it.Name, v)
	}
	return None, nil
}

// loadModule evaluates an imported file once per compilation.
func (vm *VM) loadModule(pathExpr *syntax.Node, sc ScopeID) (*Module, error) {
	pv, err := vm.eval(pathExpr, sc)
	if err != nil {
		return nil, err
	}
	if pv.Tag == TagModule {
		return pv.AsModule(), nil
	}
	if pv.Tag != TagStr {
		return nil, errorf(pathExpr.Span, "expected path string, found %s", pv.Type())
	}
	sess := vm.opts.Session
	if sess == nil {
		return nil, diag.New(diag.Errorf(diag.ErrUnsupported, pathExpr.Span, "cannot access files in detached evaluation"))
	}
	f, err := sess.Import(vm.file, pv.AsStr(), pathExpr.Span)
	if err != nil {
		return nil, err
	}
	if m, ok := vm.modules[f.Path]; ok {
		return m, nil
	}
	tree := syntax.Parse(f.Path, f.Text)
	if errs := syntax.Errors(tree); len(errs) > 0 {
		return nil, errs.Err()
	}

	vm.depth++
	defer func() { vm.depth-- }()
	if vm.depth > vm.opts.MaxDepth {
		return nil, diag.New(diag.Errorf(diag.ErrFatal, pathExpr.Span, "maximum import depth of %d exceeded", vm.opts.MaxDepth))
	}
	sess.Enter(f.Path)
	saved := vm.file
	vm.file = f.Path
	msc := vm.scopes.Push(vm.global)
	body, err := vm.markup(tree.Children, msc)
	vm.file = saved
	sess.Leave()
	if err != nil {
		return nil, err
	}
	m := &Module{
		Name:    strings.TrimSuffix(path.Base(f.Path), path.Ext(f.Path)),
		Path:    f.Path,
		Scope:   vm.scopes.Exports(msc),
		Content: body,
	}
	vm.modules[f.Path] = m
	tracer().Debugf("module %s loaded with %d bindings", f.Path, len(m.Scope.Keys))
	return m, nil
}

func dictKey(v Value, name string) (Value, bool) {
	if v.Tag != TagDict {
		return None, false
	}
	return v.AsDict().Get(name)
}

// Modules returns the modules evaluated so far by path.
func (vm *VM) Modules() map[string]*Module { return vm.modules }
