package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-fonts/latin-modern/lmroman10bold"
	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ByLCY/papyrus/config"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
)

func file(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }

func request(files fstest.MapFS, format string) Request {
	cfg := config.Default()
	cfg.Format = format
	return Request{Main: "main.typ", FS: files, Config: cfg, Typesetter: layout.FixedTypesetter{}}
}

func TestCompileToJSON(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.compiler")
	defer teardown()

	files := fstest.MapFS{"main.typ": file("= Hello\n\nSome *bold* text.\n\n#pagebreak()\nMore.")}
	res := Compile(context.Background(), request(files, "json"))
	require.NoError(t, res.Err())
	assert.Equal(t, StageExported, res.Stage)
	assert.Len(t, res.Layout.Pages, 2)
	require.Len(t, res.Artifact.Pages, 1)
	assert.Contains(t, string(res.Artifact.Pages[0]), `"text": "Hello"`)

	rep := res.Report()
	assert.Equal(t, 2, rep.PageCount)
	require.Len(t, rep.Pages, 1)
	assert.Len(t, rep.Pages[0].SHA256, 64)

	data, err := res.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "exported", decoded["stage"])
	assert.Equal(t, "json", decoded["format"])
}

func TestCompileWithFontsToSVG(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("= Title\n\nHello world")}
	req := request(files, "svg")
	req.Typesetter = nil
	res := Compile(context.Background(), req)
	require.NoError(t, res.Err())
	require.Len(t, res.Artifact.Pages, 1)
	assert.True(t, bytes.Contains(res.Artifact.Pages[0], []byte("<svg")))
}

func TestFontPathsStayWithTheRequest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.ttf"), lmroman10bold.TTF, 0o644))
	before := fonts.Shared().Families()

	files := fstest.MapFS{"main.typ": file("Hello *world*")}
	req := request(files, "svg")
	req.Typesetter = nil
	req.Config.FontPaths = []string{dir}
	res := Compile(context.Background(), req)
	require.NoError(t, res.Err())

	assert.Equal(t, before, fonts.Shared().Families())

	parent := fonts.NewBook()
	req.Fonts = parent
	res = Compile(context.Background(), req)
	require.NoError(t, res.Err())
	assert.Equal(t, before, parent.Families())
}

func TestCompileIsDeterministic(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("= A\n\n- one\n- two\n\n#table(columns: 2, [a], [b])")}
	for _, format := range []string{"json", "html", "svg"} {
		a := Compile(context.Background(), request(files, format))
		b := Compile(context.Background(), request(files, format))
		require.NoError(t, a.Err())
		require.NoError(t, b.Err())
		assert.Equal(t, a.Report().Pages, b.Report().Pages, format)
	}
}

func TestSelfImportIsCyclic(t *testing.T) {
	for name, files := range map[string]fstest.MapFS{
		"direct": {"main.typ": file("#import \"main.typ\"")},
		"transitive": {
			"main.typ": file("#import \"a.typ\""),
			"a.typ":    file("#import \"main.typ\""),
		},
	} {
		res := Compile(context.Background(), request(files, "pdf"))
		assert.Equal(t, StageFailed, res.Stage, name)
		assert.Nil(t, res.Artifact, name)
		assert.True(t, errors.Is(res.Err(), diag.ErrCyclicImport), "%s: %v", name, res.Err())
	}
}

func TestMissingImportNamesPath(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("#import \"chapters/intro.typ\"")}
	res := Compile(context.Background(), request(files, "pdf"))
	require.True(t, res.Failed())
	assert.True(t, errors.Is(res.Err(), diag.ErrIO))
	assert.Contains(t, res.Err().Error(), "chapters/intro.typ")
}

func TestUnknownFunctionReportsLocatedSpan(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("first line\nHello #foo(1)")}
	res := Compile(context.Background(), request(files, "pdf"))
	require.True(t, res.Failed())
	assert.Nil(t, res.Layout, "no frames after evaluation errors")
	errs := res.Diagnostics.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, diag.ErrEval, errs[0].Kind)
	assert.Equal(t, 2, errs[0].Span.Line)
	assert.Equal(t, 7, errs[0].Span.Col)

	rep := res.Report()
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "EvalError", rep.Diagnostics[0].Kind)
	assert.Equal(t, "error", rep.Diagnostics[0].Severity)
}

func TestReportCarriesCallTrace(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("#let f() = nope()\n\n#f()")}
	res := Compile(context.Background(), request(files, "json"))
	require.True(t, res.Failed())
	rep := res.Report()
	require.Len(t, rep.Diagnostics, 1)
	d := rep.Diagnostics[0]
	assert.Equal(t, 1, d.Span.Line)
	require.Len(t, d.Trace, 1)
	assert.Equal(t, 3, d.Trace[0].Line)
	assert.Equal(t, 1, d.Trace[0].Col)
}

func TestSyntaxErrorsAccumulate(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("*unclosed\n\n#let = 5\n#f(1,")}
	res := Compile(context.Background(), request(files, "pdf"))
	require.True(t, res.Failed())
	assert.Len(t, res.Diagnostics.Errors(), 3)
	assert.Nil(t, res.Content)
}

func TestOversizedImageStillExports(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4000, 100))))
	files := fstest.MapFS{
		"main.typ": file("#image(\"wide.png\")"),
		"wide.png": &fstest.MapFile{Data: buf.Bytes()},
	}
	res := Compile(context.Background(), request(files, "json"))
	require.NoError(t, res.Err())
	require.NotNil(t, res.Artifact)
	warns := res.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, diag.ErrOverflow, warns[0].Kind)
}

func TestInvalidConfigFails(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("x")}
	req := request(files, "docx")
	res := Compile(context.Background(), req)
	require.True(t, res.Failed())
	assert.True(t, errors.Is(res.Err(), diag.ErrUnsupported))
}

func TestCancelledContextIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Compile(ctx, request(fstest.MapFS{"main.typ": file("x")}, "pdf"))
	require.True(t, res.Failed())
	assert.True(t, errors.Is(res.Err(), diag.ErrFatal))
}

func TestInputsReachDocument(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("Dear ${user.name}, #sys.inputs.user.name")}
	req := request(files, "json")
	req.Config.Inputs = map[string]any{"user": map[string]any{"name": "Ada"}}
	req.Config.Interpolate = true
	res := Compile(context.Background(), req)
	require.NoError(t, res.Err())
	assert.Equal(t, 2, strings.Count(string(res.Artifact.Pages[0]), "Ada"))
}

func TestStageTransitions(t *testing.T) {
	assert.True(t, StagePending.CanAdvance(StageLoaded))
	assert.True(t, StageLoaded.CanAdvance(StageParsed))
	assert.False(t, StageLoaded.CanAdvance(StageEvaluated))
	assert.True(t, StageLaidOut.CanAdvance(StageFailed))
	assert.False(t, StageFailed.CanAdvance(StageLoaded))
	assert.False(t, StageExported.CanAdvance(StageFailed))
	assert.Equal(t, "laid-out", StageLaidOut.String())
}

func TestQuery(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("= Intro\n\n== Details\n\n#pagebreak()\n= Outro")}
	req := request(files, "pdf")

	out, res, err := Query(context.Background(), req, `heading.where(level: 1)`, QueryJSON)
	require.NoError(t, err)
	assert.Equal(t, StageLaidOut, res.Stage)
	var elems []Element
	require.NoError(t, json.Unmarshal(out, &elems))
	require.Len(t, elems, 2)
	assert.Equal(t, "Intro", elems[0].Label)
	assert.Equal(t, 1, elems[0].Page)
	assert.Equal(t, "Outro", elems[1].Label)
	assert.Equal(t, 2, elems[1].Page)

	out, _, err = Query(context.Background(), req, `heading`, QueryYAML)
	require.NoError(t, err)
	var all []Element
	require.NoError(t, yaml.Unmarshal(out, &all))
	assert.Len(t, all, 3)

	_, _, err = Query(context.Background(), req, `heading.where(colour: 1)`, QueryJSON)
	assert.True(t, errors.Is(err, diag.ErrUnsupported))

	_, _, err = Query(context.Background(), req, `heading.where(`, QueryJSON)
	assert.True(t, errors.Is(err, diag.ErrSyntax))
}

func TestEval(t *testing.T) {
	out, err := Eval(`(a: 1 + 2, b: upper("x"), c: (true, none))`, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 3, "b": "X", "c": [true, null]}`, string(out))

	cfg := config.Default()
	cfg.Inputs = map[string]any{"n": 4.0}
	out, err = Eval(`sys.inputs.n`, cfg)
	require.NoError(t, err)
	assert.Equal(t, "4", string(out))

	_, err = Eval(`nope(1)`, nil)
	assert.True(t, errors.Is(err, diag.ErrEval))
}

func TestSyntaxMarks(t *testing.T) {
	files := fstest.MapFS{"main.typ": file("= A\n#f(1,")}
	marks, errs, err := Syntax(Request{Main: "main.typ", FS: files})
	require.NoError(t, err)
	require.NotEmpty(t, marks)
	assert.Equal(t, "markup", marks[0].Node)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Span.Line)

	_, _, err = Syntax(Request{Main: "missing.typ", FS: files})
	assert.True(t, errors.Is(err, diag.ErrIO))
}
