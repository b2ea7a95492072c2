package eval

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ByLCY/papyrus/binding"
	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/units"
)

func defineStdlib(vm *VM, sc ScopeID) {
	natives := map[string]NativeFunc{
		"heading":   fnHeading,
		"strong":    wrapper(content.KindStrong),
		"emph":      wrapper(content.KindEmph),
		"raw":       fnRaw,
		"text":      fnText,
		"par":       fnPar,
		"pagebreak": fnPagebreak,
		"v":         fnV,
		"align":     fnAlign,
		"image":     fnImage,
		"rect":      fnRect,
		"line":      fnLine,
		"circle":    fnCircle,
		"table":     fnTable,
		"list":      items(content.KindListItem),
		"enum":      items(content.KindEnumItem),
		"page":      fnPage,
		"upper":     caseFn(cases.Upper(language.Und)),
		"lower":     caseFn(cases.Lower(language.Und)),
		"str":       fnStr,
		"repr":      fnRepr,
		"len":       fnLen,
		"range":     fnRange,
		"type":      fnType,
		"today":     fnToday,
		"input":     fnInput,
	}
	for name, fn := range natives {
		vm.scopes.Define(sc, name, FuncOf(&Func{Name: name, Native: fn}))
	}
	for _, a := range []string{"left", "center", "right", "start", "end"} {
		vm.scopes.Define(sc, a, Str(a))
	}

	sys := NewDict()
	sys.Set("version", Str(Version))
	inputs := FromGo(vm.opts.Inputs)
	if inputs.Tag != TagDict {
		inputs = DictOf(NewDict())
	}
	sys.Set("inputs", inputs)
	vm.scopes.Define(sc, "sys", ModuleOf(&Module{Name: "sys", Scope: sys}))

	calc := NewDict()
	for name, fn := range map[string]NativeFunc{
		"max":   calcFold(math.Max, func(a, b int64) int64 { return max(a, b) }),
		"min":   calcFold(math.Min, func(a, b int64) int64 { return min(a, b) }),
		"abs":   calcAbs,
		"pow":   calcPow,
		"floor": calcRound(math.Floor),
		"ceil":  calcRound(math.Ceil),
		"round": calcRound(math.Round),
	} {
		calc.Set(name, FuncOf(&Func{Name: "calc." + name, Native: fn}))
	}
	sortKeys(calc)
	vm.scopes.Define(sc, "calc", ModuleOf(&Module{Name: "calc", Scope: calc}))
}

func sortKeys(d *Dict) { sort.Strings(d.Keys) }

func body(args *Args) (*content.Node, error) {
	arg, err := args.Expect("body")
	if err != nil {
		return nil, err
	}
	return castContent(arg)
}

func fnHeading(vm *VM, args *Args) (Value, error) {
	level := int64(1)
	if arg, ok := args.Named("level"); ok {
		var err error
		if level, err = castInt(arg); err != nil {
			return None, err
		}
		if level < 0 {
			return None, errorf(arg.Span, "heading level must be a non-negative integer, found %d", level)
		}
	}
	b, err := body(args)
	if err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindHeading, Span: args.Span, Level: int(level), Children: []*content.Node{b}}), nil
}

func wrapper(kind content.Kind) NativeFunc {
	return func(vm *VM, args *Args) (Value, error) {
		b, err := body(args)
		if err != nil {
			return None, err
		}
		return Content(&content.Node{Kind: kind, Span: args.Span, Children: []*content.Node{b}}), nil
	}
}

func fnRaw(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("text")
	if err != nil {
		return None, err
	}
	text, err := castStr(arg)
	if err != nil {
		return None, err
	}
	n := &content.Node{Kind: content.KindRaw, Span: args.Span, Text: text}
	if a, ok := args.Named("lang"); ok && !a.Value.IsNone() {
		if n.Lang, err = castStr(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("block"); ok {
		if n.Block, err = castBool(a); err != nil {
			return None, err
		}
	}
	return Content(n), nil
}

// styleArgs reads the text style properties shared by text() and par().
func styleArgs(args *Args, st *content.Style) error {
	var err error
	if a, ok := args.Named("font"); ok {
		if st.Font, err = castStr(a); err != nil {
			return err
		}
	}
	if a, ok := args.Named("size"); ok {
		if st.Size, err = castLength(a); err != nil {
			return err
		}
	}
	if a, ok := args.Named("fill"); ok {
		c, err := castColor(a)
		if err != nil {
			return err
		}
		st.Fill = &c
	}
	if a, ok := args.Named("weight"); ok {
		w, err := castStr(a)
		if err != nil {
			return err
		}
		bold := w == "bold" || w == "semibold" || w == "black"
		st.Bold = &bold
	}
	if a, ok := args.Named("style"); ok {
		s, err := castStr(a)
		if err != nil {
			return err
		}
		italic := s == "italic" || s == "oblique"
		st.Italic = &italic
	}
	if a, ok := args.Named("wrap"); ok {
		if st.Wrap, err = castWrap(a); err != nil {
			return err
		}
	}
	return nil
}

func fnText(vm *VM, args *Args) (Value, error) {
	st := &content.Style{}
	if err := styleArgs(args, st); err != nil {
		return None, err
	}
	b, err := body(args)
	if err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindStyled, Span: args.Span, Style: st, Children: []*content.Node{b}}), nil
}

func fnPar(vm *VM, args *Args) (Value, error) {
	st := &content.Style{}
	if err := styleArgs(args, st); err != nil {
		return None, err
	}
	if a, ok := args.Named("leading"); ok {
		switch a.Value.Tag {
		case TagLength:
			st.LineHeight = &units.LineHeightSpec{Kind: units.LineHeightAbsolute, Len: a.Value.AsLength()}
		case TagInt, TagFloat:
			f, _ := a.Value.number()
			st.LineHeight = &units.LineHeightSpec{Kind: units.LineHeightFactor, Factor: f}
		default:
			return None, typeError(a, "length or factor")
		}
	}
	if a, ok := args.Named("justify"); ok {
		al, err := castAlign(a)
		if err != nil {
			return None, err
		}
		st.Justify = al
	}
	b, err := body(args)
	if err != nil {
		return None, err
	}
	parbreak := &content.Node{Kind: content.KindParbreak, Span: args.Span}
	styled := &content.Node{Kind: content.KindStyled, Span: args.Span, Style: st, Children: []*content.Node{b}}
	return Content(content.Sequence(parbreak, styled, parbreak)), nil
}

func fnPagebreak(vm *VM, args *Args) (Value, error) {
	return Content(&content.Node{Kind: content.KindPagebreak, Span: args.Span}), nil
}

func fnV(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("amount")
	if err != nil {
		return None, err
	}
	amount, err := castRel(arg)
	if err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindVSpace, Span: args.Span, Amount: amount}), nil
}

func fnAlign(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("alignment")
	if err != nil {
		return None, err
	}
	al, err := castAlign(arg)
	if err != nil {
		return None, err
	}
	b, err := body(args)
	if err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindAlign, Span: args.Span, Align: al, Children: []*content.Node{b}}), nil
}

func fnImage(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("path")
	if err != nil {
		return None, err
	}
	p, err := castStr(arg)
	if err != nil {
		return None, err
	}
	if vm.opts.Session == nil {
		return None, diag.New(diag.Errorf(diag.ErrUnsupported, arg.Span, "cannot access files in detached evaluation"))
	}
	data, err := vm.opts.Session.ReadBytes(vm.file, p, arg.Span)
	if err != nil {
		return None, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return None, errorf(arg.Span, "failed to decode image %s: %v", p, err)
	}
	img := &content.Image{Path: p, Data: data, Format: format, PixelW: cfg.Width, PixelH: cfg.Height}
	if a, ok := args.Named("width"); ok {
		if img.Width, err = castRel(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("height"); ok {
		if img.Height, err = castRel(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("fit"); ok {
		if img.Fit, err = castStr(a); err != nil {
			return None, err
		}
	}
	return Content(&content.Node{Kind: content.KindImage, Span: args.Span, Image: img}), nil
}

// shapeArgs reads fill, stroke and stroke width.
func shapeArgs(args *Args, sh *content.Shape) error {
	if a, ok := args.Named("fill"); ok && !a.Value.IsNone() {
		c, err := castColor(a)
		if err != nil {
			return err
		}
		sh.Fill = &c
	}
	if a, ok := args.Named("stroke"); ok {
		switch a.Value.Tag {
		case TagStr:
			c, err := castColor(a)
			if err != nil {
				return err
			}
			sh.Stroke = c
		case TagLength:
			sh.StrokeWidth = a.Value.AsLength()
		default:
			return typeError(a, "color or length")
		}
	}
	if a, ok := args.Named("thickness"); ok {
		l, err := castLength(a)
		if err != nil {
			return err
		}
		sh.StrokeWidth = l
	}
	return nil
}

func fnRect(vm *VM, args *Args) (Value, error) {
	sh := &content.Shape{Width: units.Rel{Ratio: 1}, Height: units.Rel{Len: units.Pts(20)}}
	var err error
	if a, ok := args.Named("width"); ok {
		if sh.Width, err = castRel(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("height"); ok {
		if sh.Height, err = castRel(a); err != nil {
			return None, err
		}
	}
	if err := shapeArgs(args, sh); err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindRect, Span: args.Span, Shape: sh}), nil
}

func fnLine(vm *VM, args *Args) (Value, error) {
	sh := &content.Shape{DX: units.Rel{Ratio: 1}}
	var err error
	if a, ok := args.Named("length"); ok {
		if sh.DX, err = castRel(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("end"); ok {
		if a.Value.Tag != TagArray || len(a.Value.AsArray().Items) != 2 {
			return None, typeError(a, "array of two lengths")
		}
		pt := a.Value.AsArray().Items
		if sh.DX, err = castRel(Arg{Value: pt[0], Span: a.Span}); err != nil {
			return None, err
		}
		if sh.DY, err = castRel(Arg{Value: pt[1], Span: a.Span}); err != nil {
			return None, err
		}
	}
	if err := shapeArgs(args, sh); err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindLine, Span: args.Span, Shape: sh}), nil
}

func fnCircle(vm *VM, args *Args) (Value, error) {
	sh := &content.Shape{Radius: units.Pts(10)}
	if a, ok := args.Named("radius"); ok {
		r, err := castLength(a)
		if err != nil {
			return None, err
		}
		sh.Radius = r
	}
	if err := shapeArgs(args, sh); err != nil {
		return None, err
	}
	return Content(&content.Node{Kind: content.KindCircle, Span: args.Span, Shape: sh}), nil
}

func fnTable(vm *VM, args *Args) (Value, error) {
	t := &content.Table{Columns: 1, Stroke: content.Black, Inset: units.Pts(5)}
	if a, ok := args.Named("columns"); ok {
		switch a.Value.Tag {
		case TagInt:
			t.Columns = int(a.Value.AsInt())
		case TagArray:
			t.Columns = len(a.Value.AsArray().Items)
		default:
			return None, typeError(a, "integer or array")
		}
		if t.Columns < 1 {
			return None, errorf(a.Span, "table needs at least one column")
		}
	}
	var err error
	if a, ok := args.Named("header"); ok {
		if t.Header, err = castBool(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("stroke"); ok {
		if t.Stroke, err = castColor(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("inset"); ok {
		if t.Inset, err = castLength(a); err != nil {
			return None, err
		}
	}
	for _, a := range args.Rest() {
		cell, err := castContent(a)
		if err != nil {
			return None, err
		}
		t.Cells = append(t.Cells, cell)
	}
	return Content(&content.Node{Kind: content.KindTable, Span: args.Span, Table: t}), nil
}

func items(kind content.Kind) NativeFunc {
	return func(vm *VM, args *Args) (Value, error) {
		start := int64(0)
		if kind == content.KindEnumItem {
			if a, ok := args.Named("start"); ok {
				var err error
				if start, err = castInt(a); err != nil {
					return None, err
				}
			}
		}
		seq := content.Sequence()
		for i, a := range args.Rest() {
			b, err := castContent(a)
			if err != nil {
				return None, err
			}
			it := &content.Node{Kind: kind, Span: a.Span, Children: []*content.Node{b}}
			if start > 0 {
				it.Level = int(start) + i
			}
			seq.Append(it)
		}
		return Content(seq), nil
	}
}

func fnPage(vm *VM, args *Args) (Value, error) {
	ps := &content.PageSetup{}
	var err error
	if a, ok := args.Named("paper"); ok {
		if ps.Paper, err = castStr(a); err != nil {
			return None, err
		}
		if _, _, perr := units.Paper(ps.Paper); perr != nil {
			return None, errorf(a.Span, "%v", perr)
		}
	}
	if a, ok := args.Named("width"); ok {
		if ps.Width, err = castLength(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("height"); ok {
		if ps.Height, err = castLength(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("flipped"); ok {
		if ps.Landscape, err = castBool(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("margin"); ok {
		if ps.Margin, err = castLength(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("header"); ok && !a.Value.IsNone() {
		if ps.Header, err = castContent(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("footer"); ok && !a.Value.IsNone() {
		if ps.Footer, err = castContent(a); err != nil {
			return None, err
		}
	}
	if a, ok := args.Named("numbering"); ok && !a.Value.IsNone() {
		if ps.Numbering, err = castStr(a); err != nil {
			return None, err
		}
	}
	setup := &content.Node{Kind: content.KindPage, Span: args.Span, Page: ps}
	if a, ok := args.Positional(); ok {
		b, err := castContent(a)
		if err != nil {
			return None, err
		}
		return Content(content.Sequence(setup, b)), nil
	}
	return Content(setup), nil
}

func caseFn(c cases.Caser) NativeFunc {
	return func(vm *VM, args *Args) (Value, error) {
		arg, err := args.Expect("text")
		if err != nil {
			return None, err
		}
		switch arg.Value.Tag {
		case TagStr:
			return Str(c.String(arg.Value.AsStr())), nil
		case TagContent:
			return Content(mapText(arg.Value.AsContent(), c.String)), nil
		}
		return None, typeError(arg, "string or content")
	}
}

// mapText copies n with fn applied to every text node.
func mapText(n *content.Node, fn func(string) string) *content.Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Kind == content.KindText {
		out.Text = fn(n.Text)
	}
	if len(n.Children) > 0 {
		out.Children = make([]*content.Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = mapText(c, fn)
		}
	}
	return &out
}

func fnStr(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("value")
	if err != nil {
		return None, err
	}
	switch arg.Value.Tag {
	case TagStr:
		return arg.Value, nil
	case TagInt, TagFloat, TagLength, TagRatio, TagBool:
		return Str(Repr(arg.Value)), nil
	case TagContent:
		return Str(content.PlainText(arg.Value.AsContent())), nil
	}
	return None, errorf(arg.Span, "cannot convert %s to string", arg.Value.Type())
}

func fnRepr(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("value")
	if err != nil {
		return None, err
	}
	return Str(Repr(arg.Value)), nil
}

func fnLen(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("value")
	if err != nil {
		return None, err
	}
	switch arg.Value.Tag {
	case TagStr:
		return Int(int64(utf8.RuneCountInString(arg.Value.AsStr()))), nil
	case TagArray:
		return Int(int64(len(arg.Value.AsArray().Items))), nil
	case TagDict:
		return Int(int64(len(arg.Value.AsDict().Keys))), nil
	}
	return None, errorf(arg.Span, "%s has no length", arg.Value.Type())
}

// MaxRange bounds the length of arrays built by range.
const MaxRange = 1 << 20

// rangeLen counts the items of start, start+step, ... before end. The
// count is computed in uint64 so extreme bounds do not overflow.
func rangeLen(start, end, step int64) int64 {
	var dist, by uint64
	switch {
	case step > 0 && start < end:
		dist, by = uint64(end)-uint64(start), uint64(step)
	case step < 0 && start > end:
		dist, by = uint64(start)-uint64(end), -uint64(step)
	default:
		return 0
	}
	n := dist / by
	if dist%by != 0 {
		n++
	}
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func fnRange(vm *VM, args *Args) (Value, error) {
	first, err := args.Expect("end")
	if err != nil {
		return None, err
	}
	start, end := int64(0), int64(0)
	if end, err = castInt(first); err != nil {
		return None, err
	}
	if second, ok := args.Positional(); ok {
		start = end
		if end, err = castInt(second); err != nil {
			return None, err
		}
	}
	step := int64(1)
	if a, ok := args.Named("step"); ok {
		if step, err = castInt(a); err != nil {
			return None, err
		}
		if step == 0 {
			return None, errorf(a.Span, "step must not be zero")
		}
	}
	n := rangeLen(start, end, step)
	if n > MaxRange {
		return None, errorf(args.Span, "range of %d items exceeds the limit of %d", n, MaxRange)
	}
	out := make([]Value, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, Int(start+i*step))
	}
	return ArrayOf(out...), nil
}

func fnType(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("value")
	if err != nil {
		return None, err
	}
	return Str(arg.Value.Type()), nil
}

// fnToday reports the date of the compilation instant as YYYY-MM-DD. The
// instant is fixed on first use so one document never sees two dates.
func fnToday(vm *VM, args *Args) (Value, error) {
	if vm.now.IsZero() {
		vm.now = vm.opts.Now
		if vm.now.IsZero() {
			vm.now = time.Now()
		}
	}
	t := vm.now.UTC()
	if a, ok := args.Named("offset"); ok {
		hours, err := castInt(a)
		if err != nil {
			return None, err
		}
		t = t.Add(time.Duration(hours) * time.Hour)
	}
	return Str(t.Format("2006-01-02")), nil
}

func fnInput(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("path")
	if err != nil {
		return None, err
	}
	p, err := castStr(arg)
	if err != nil {
		return None, err
	}
	def, hasDef := args.Named("default")
	if vm.opts.Inputs != nil {
		if v, ok := binding.Lookup(vm.opts.Inputs, p); ok {
			return FromGo(v), nil
		}
	}
	if hasDef {
		return def.Value, nil
	}
	return None, errorf(arg.Span, "input %q is not set", p)
}

func numbers(args *Args) ([]Value, bool, error) {
	rest := args.Rest()
	if len(rest) == 0 {
		return nil, false, errorf(args.Span, "expected at least one number")
	}
	out := make([]Value, len(rest))
	allInt := true
	for i, a := range rest {
		if _, ok := a.Value.number(); !ok {
			return nil, false, typeError(a, "number")
		}
		if a.Value.Tag != TagInt {
			allInt = false
		}
		out[i] = a.Value
	}
	return out, allInt, nil
}

func numberOut(f float64, asInt bool) Value {
	if asInt {
		return Int(int64(f))
	}
	return Float(f)
}

// calcFold folds its arguments. Integers stay int64 throughout, so values
// beyond 2^53 keep their exact value.
func calcFold(fold func(a, b float64) float64, foldInt func(a, b int64) int64) NativeFunc {
	return func(vm *VM, args *Args) (Value, error) {
		xs, allInt, err := numbers(args)
		if err != nil {
			return None, err
		}
		if allInt {
			acc := xs[0].AsInt()
			for _, x := range xs[1:] {
				acc = foldInt(acc, x.AsInt())
			}
			return Int(acc), nil
		}
		acc, _ := xs[0].number()
		for _, x := range xs[1:] {
			f, _ := x.number()
			acc = fold(acc, f)
		}
		return Float(acc), nil
	}
}

func calcAbs(vm *VM, args *Args) (Value, error) {
	arg, err := args.Expect("value")
	if err != nil {
		return None, err
	}
	switch arg.Value.Tag {
	case TagInt:
		n := arg.Value.AsInt()
		if n < 0 {
			n = -n
		}
		return Int(n), nil
	case TagFloat:
		return Float(math.Abs(arg.Value.AsFloat())), nil
	case TagLength:
		l := arg.Value.AsLength()
		l.Value = math.Abs(l.Value)
		return Length(l), nil
	}
	return None, typeError(arg, "number or length")
}

func calcPow(vm *VM, args *Args) (Value, error) {
	base, err := args.Expect("base")
	if err != nil {
		return None, err
	}
	exp, err := args.Expect("exponent")
	if err != nil {
		return None, err
	}
	b, ok := base.Value.number()
	if !ok {
		return None, typeError(base, "number")
	}
	e, ok := exp.Value.number()
	if !ok {
		return None, typeError(exp, "number")
	}
	r := math.Pow(b, e)
	if math.IsInf(r, 0) || math.IsNaN(r) {
		return None, errorf(args.Span, "the result is too large or undefined: pow(%s, %s)",
			strconv.FormatFloat(b, 'g', -1, 64), strconv.FormatFloat(e, 'g', -1, 64))
	}
	asInt := base.Value.Tag == TagInt && exp.Value.Tag == TagInt && e >= 0 && math.Abs(r) < 1<<53
	return numberOut(r, asInt), nil
}

func calcRound(fn func(float64) float64) NativeFunc {
	return func(vm *VM, args *Args) (Value, error) {
		arg, err := args.Expect("value")
		if err != nil {
			return None, err
		}
		f, ok := arg.Value.number()
		if !ok {
			return None, typeError(arg, "number")
		}
		return Int(int64(fn(f))), nil
	}
}
