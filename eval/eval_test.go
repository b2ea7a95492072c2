package eval

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"math"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/source"
	"github.com/ByLCY/papyrus/syntax"
	"github.com/ByLCY/papyrus/units"
)

func evalDoc(t *testing.T, files fstest.MapFS, opts Options) (*content.Node, *VM, error) {
	t.Helper()
	loader := source.NewLoader(files)
	doc, err := loader.Load("main.typ")
	require.NoError(t, err)
	opts.Session = source.NewSession(loader, doc)
	vm := New(opts)
	root := doc.Files[doc.Root]
	out, err := vm.Evaluate(syntax.Parse(root.Path, root.Text), vm.Global())
	return out, vm, err
}

func file(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }

func TestEvalStringArithmetic(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.eval")
	defer teardown()

	cases := map[string]Value{
		`1 + 2 * 3`:              Int(7),
		`7 / 2`:                  Float(3.5),
		`6 / 3`:                  Int(2),
		`"ab" + "cd"`:            Str("abcd"),
		`12pt * 2`:               Length(units.Pts(24)),
		`calc.max(1, 5, 3)`:      Int(5),
		`calc.pow(2, 10)`:        Int(1024),
		`calc.abs(-2.5)`:         Float(2.5),
		`len("héllo")`:           Int(5),
		`2 in (1, 2, 3)`:         Bool(true),
		`"k" not in (k: 1)`:      Bool(false),
		`type(50%)`:              Str("ratio"),
		`repr((1, "a"))`:         Str(`(1, "a")`),
		`str(2.5) + str(1)`:      Str("2.51"),
		`upper("abc")`:           Str("ABC"),
		`(a: 1, b: 2).keys()`:    ArrayOf(Str("a"), Str("b")),
		`range(1, 7, step: 2)`:   ArrayOf(Int(1), Int(3), Int(5)),
		`"a,b".split(",").len()`: Int(2),
	}
	for code, want := range cases {
		got, err := EvalString(code, Options{})
		require.NoError(t, err, code)
		assert.True(t, Equal(want, got), "%s: want %s, got %s", code, Repr(want), Repr(got))
	}
}

func TestClosuresAndRecursion(t *testing.T) {
	code := "let fact(n) = if n <= 1 { 1 } else { n * fact(n - 1) }\nfact(5)"
	v, err := EvalString(code, Options{})
	require.NoError(t, err)
	assert.Equal(t, Int(120), v)

	v, err = EvalString("let scale(x, by: 2) = x * by\n(scale(3), scale(3, by: 4))", Options{})
	require.NoError(t, err)
	assert.Equal(t, "(6, 12)", Repr(v))

	v, err = EvalString("let n = 0\nfor x in range(4) { n += x }\nn", Options{})
	require.NoError(t, err)
	assert.Equal(t, Int(6), v)

	v, err = EvalString("for (k, v) in (a: 1, b: 2) { k + str(v) }", Options{})
	require.NoError(t, err)
	assert.Equal(t, Str("a1b2"), v)
}

func TestClosureCapturesDefiningScope(t *testing.T) {
	code := "let make(k) = { let add(x) = x + k\nadd }\nlet add2 = make(2)\nlet k = 100\nadd2(1)"
	v, err := EvalString(code, Options{})
	require.NoError(t, err)
	assert.Equal(t, Int(3), v)
}

func TestRecursionLimitIsFatal(t *testing.T) {
	_, err := EvalString("let f(n) = f(n + 1)\nf(0)", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrFatal))
}

func TestDeepTreesAreFatal(t *testing.T) {
	tree := &syntax.Node{Kind: syntax.KindInt, Int: 1}
	for i := 0; i < MaxNesting+10; i++ {
		tree = &syntax.Node{Kind: syntax.KindUnary, Text: "-", Children: []*syntax.Node{tree}}
	}
	vm := New(Options{})
	_, err := vm.eval(tree, vm.Global())
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrFatal))
	assert.Contains(t, err.Error(), "nesting depth")

	_, err = EvalString(strings.Repeat("(", 100000)+"1"+strings.Repeat(")", 100000), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrFatal))

	v, err := EvalString(strings.Repeat("-", 40)+"1", Options{})
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)
}

func TestArgumentErrors(t *testing.T) {
	_, err := EvalString("let f(x) = x\nf(1, 2)", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected argument")

	_, err = EvalString(`heading(level: -1)[x]`, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrEval))
	assert.Contains(t, err.Error(), "non-negative")

	_, err = EvalString(`strong(body: 1)`, Options{})
	require.Error(t, err)

	_, err = EvalString(`1 / 0`, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "divide by zero")
}

func TestUnknownFunctionNamesCallSite(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("Hello #foo(1) world")}
	out, _, err := evalDoc(t, files, Options{})
	require.Error(t, err)
	assert.Nil(t, out)
	diags := diag.From(err)
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, diag.ErrEval, d.Kind)
	assert.Contains(t, d.Message, "unknown function: foo")
	assert.Equal(t, "main.typ", d.Span.File)
	assert.Equal(t, 6, d.Span.Start)
	assert.Equal(t, 13, d.Span.End)
}

func TestErrorsInFunctionsTraceCallSites(t *testing.T) {
	src := "#let f(x) = x + \"a\"\n#let g(x) = f(x)\n#g(1)"
	_, _, err := evalDoc(t, fstest.MapFS{"main.typ": file(src)}, Options{})
	require.Error(t, err)
	diags := diag.From(err)
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Less(t, d.Span.Start, strings.Index(src, "\n"), "error points into the body of f")
	require.Len(t, d.Trace, 2)
	assert.Equal(t, "main.typ", d.Trace[0].File)
	assert.Equal(t, strings.Index(src, "f(x)\n"), d.Trace[0].Start, "inner call site first")
	assert.Equal(t, strings.LastIndex(src, "#g(1)"), d.Trace[1].Start)
}

func TestIndependentErrorsAccumulate(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("#foo()\n\n#bar\n\n#(1 + \"a\")")}
	_, _, err := evalDoc(t, files, Options{})
	require.Error(t, err)
	assert.Len(t, diag.From(err), 3)
}

func TestMarkupBecomesContent(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("= Title\n\nSome *bold* text.\n\n- item")}
	out, _, err := evalDoc(t, files, Options{})
	require.NoError(t, err)
	kinds := []content.Kind{}
	for _, c := range out.Children {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, content.KindHeading, kinds[0])
	assert.Contains(t, kinds, content.KindStrong)
	assert.Equal(t, content.KindListItem, kinds[len(kinds)-1])
	assert.Equal(t, 1, out.Children[0].Level)
}

func TestImportsAreMemoised(t *testing.T) {
	files := fstest.MapFS{
		"main.typ":       file("#import \"lib/util.typ\": greet\n#import \"lib/util.typ\" as u\n#greet(\"Ada\") #u.greet(\"Bob\")"),
		"lib/util.typ":   file("#let greet(name) = [Hello #name!]\n#import \"consts.typ\": *"),
		"lib/consts.typ": file("#let answer = 42"),
	}
	out, vm, err := evalDoc(t, files, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada! Hello Bob!", strings.TrimSpace(content.PlainText(out)))
	assert.Len(t, vm.Modules(), 2)
	util := vm.Modules()["lib/util.typ"]
	require.NotNil(t, util)
	assert.Equal(t, "util", util.Name)
	answer, ok := util.Scope.Get("answer")
	require.True(t, ok)
	assert.Equal(t, Int(42), answer)
}

func TestCyclicImports(t *testing.T) {
	direct := fstest.MapFS{"main.typ": file("#include \"main.typ\"")}
	_, _, err := evalDoc(t, direct, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrCyclicImport))

	transitive := fstest.MapFS{
		"main.typ": file("#import \"a.typ\""),
		"a.typ":    file("#import \"b.typ\""),
		"b.typ":    file("#import \"main.typ\""),
	}
	_, _, err = evalDoc(t, transitive, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrCyclicImport))
	assert.Contains(t, strings.Join(diag.From(err)[0].Hints, " "), "main.typ -> a.typ -> b.typ -> main.typ")
}

func TestMissingImportIsIOError(t *testing.T) {
	files := fstest.MapFS{"chapters/main.typ": file("x")}
	files["main.typ"] = file("#import \"chapters/missing.typ\"")
	_, _, err := evalDoc(t, files, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrIO))
	assert.Contains(t, err.Error(), "chapters/missing.typ")
}

func TestInputsAndToday(t *testing.T) {
	inputs := map[string]any{"user": map[string]any{"name": "Ada", "tags": []any{"x", "y"}}}
	opts := Options{Inputs: inputs, Now: time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)}

	v, err := EvalString(`input("user.tags[1]")`, opts)
	require.NoError(t, err)
	assert.Equal(t, Str("y"), v)

	v, err = EvalString(`sys.inputs.user.name`, opts)
	require.NoError(t, err)
	assert.Equal(t, Str("Ada"), v)

	v, err = EvalString(`input("missing", default: 3)`, opts)
	require.NoError(t, err)
	assert.Equal(t, Int(3), v)

	_, err = EvalString(`input("missing")`, opts)
	assert.Error(t, err)

	v, err = EvalString(`today()`, opts)
	require.NoError(t, err)
	assert.Equal(t, Str("2024-02-29"), v)
}

func TestInterpolation(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("Dear ${user.name},")}
	out, _, err := evalDoc(t, files, Options{Inputs: map[string]any{"user": map[string]any{"name": "Ada"}}, Interpolate: true})
	require.NoError(t, err)
	assert.Equal(t, "Dear Ada,", content.PlainText(out))
}

func TestImageReadsPixelSize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 2))))
	files := fstest.MapFS{
		"main.typ":    file("#image(\"img/dot.png\", width: 50%)"),
		"img/dot.png": &fstest.MapFile{Data: buf.Bytes()},
	}
	out, _, err := evalDoc(t, files, Options{})
	require.NoError(t, err)
	require.Len(t, out.Children, 1)
	img := out.Children[0].Image
	require.NotNil(t, img)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 4, img.PixelW)
	assert.Equal(t, 2, img.PixelH)
	assert.Equal(t, 0.5, img.Width.Ratio)

	_, err = EvalString(`image("img/dot.png")`, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrUnsupported))
}

func TestScopesArena(t *testing.T) {
	var s Scopes
	root := s.Push(NoScope)
	child := s.Push(root)
	s.Define(root, "x", Int(1))
	s.Define(child, "y", Int(2))
	v, ok := s.Lookup(child, "x")
	require.True(t, ok)
	assert.Equal(t, Int(1), v)
	_, ok = s.Lookup(root, "y")
	assert.False(t, ok)
	assert.True(t, s.Assign(child, "x", Int(5)))
	v, _ = s.Lookup(root, "x")
	assert.Equal(t, Int(5), v)
	assert.False(t, s.Assign(child, "nope", None))
	assert.Equal(t, []string{"y"}, s.Exports(child).Keys)
}

func TestLargeIntegersStayExact(t *testing.T) {
	cases := map[string]Value{
		`calc.max(9007199254740993, 1)`:                Int(9007199254740993),
		`calc.min(9007199254740993, 9007199254740995)`: Int(9007199254740993),
		`calc.max(1, 2.5)`:                             Float(2.5),
		`9007199254740993 == 9007199254740992`:         Bool(false),
		`9007199254740992 < 9007199254740993`:          Bool(true),
	}
	for code, want := range cases {
		got, err := EvalString(code, Options{})
		require.NoError(t, err, code)
		assert.Equal(t, want, got, code)
	}
}

func TestRangeIsBounded(t *testing.T) {
	for _, code := range []string{
		`range(0, 100000000000)`,
		`range(-9223372036854775807, 9223372036854775807)`,
		`range(100000000000, 0, step: -1)`,
	} {
		_, err := EvalString(code, Options{})
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, diag.ErrEval), code)
		assert.Contains(t, err.Error(), "exceeds the limit", code)
	}

	v, err := EvalString(`range(10, 0, step: -4)`, Options{})
	require.NoError(t, err)
	assert.Equal(t, ArrayOf(Int(10), Int(6), Int(2)), v)
	v, err = EvalString(`range(5, 1)`, Options{})
	require.NoError(t, err)
	assert.Empty(t, v.AsArray().Items)

	assert.Equal(t, int64(3), rangeLen(1, 7, 2))
	assert.Equal(t, int64(math.MaxInt64), rangeLen(math.MinInt64, math.MaxInt64, 1))
}
