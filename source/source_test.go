package source

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/papyrus/diag"
)

func TestLoadNormalisesText(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.source")
	defer teardown()

	fsys := fstest.MapFS{
		// BOM, decomposed e-acute, CRLF
		"main.typ": {Data: []byte("\xEF\xBB\xBFcafe\u0301\r\nnext")},
	}
	doc, err := NewLoader(fsys).Load("main.typ")
	require.NoError(t, err)
	f := doc.Files["main.typ"]
	require.NotNil(t, f)
	assert.Equal(t, "caf\u00e9\nnext", f.Text)

	line, col := f.LineCol(len("caf\u00e9\n") + 2)
	assert.Equal(t, 2, line)
	assert.Equal(t, 3, col)
}

func TestLoadRejectsInvalidUTF8(t *testing.T) {
	fsys := fstest.MapFS{"bad.typ": {Data: []byte{0xff, 0xfe, 'a'}}}
	_, err := NewLoader(fsys).Load("bad.typ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrIO))
}

func TestImportMissingNamesPath(t *testing.T) {
	fsys := fstest.MapFS{"chapters/main.typ": {Data: []byte("#import \"intro.typ\"")}}
	l := NewLoader(fsys)
	doc, err := l.Load("chapters/main.typ")
	require.NoError(t, err)

	s := NewSession(l, doc)
	_, err = s.Import("chapters/main.typ", "intro.typ", diag.Span{File: "chapters/main.typ", Start: 8, End: 19})
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrIO))
	assert.Contains(t, err.Error(), "chapters/intro.typ")
}

func TestImportDetectsCycles(t *testing.T) {
	fsys := fstest.MapFS{
		"a.typ": {Data: []byte("a")},
		"b.typ": {Data: []byte("b")},
	}
	l := NewLoader(fsys)
	doc, err := l.Load("a.typ")
	require.NoError(t, err)
	s := NewSession(l, doc)

	b, err := s.Import("a.typ", "b.typ", diag.Detached)
	require.NoError(t, err)
	s.Enter(b.Path)
	_, err = s.Import("b.typ", "a.typ", diag.Detached)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrCyclicImport))
	s.Leave()

	again, err := s.Import("a.typ", "./b.typ", diag.Detached)
	require.NoError(t, err)
	assert.Same(t, b, again, "imports are memoised per session")
}

func TestResolveDeniesEscape(t *testing.T) {
	_, err := Resolve("main.typ", "../secret.typ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	p, err := Resolve("a/b/main.typ", "/shared/x.typ")
	require.NoError(t, err)
	assert.Equal(t, "shared/x.typ", p)

	p, err = Resolve("a/b/main.typ", "../c.typ")
	require.NoError(t, err)
	assert.Equal(t, "a/c.typ", p)
}

func TestOverlayShadowsFS(t *testing.T) {
	fsys := fstest.MapFS{"main.typ": {Data: []byte("disk")}}
	l := NewLoader(fsys)
	l.SetOverlay("/main.typ", []byte("memory"))
	doc, err := l.Load("main.typ")
	require.NoError(t, err)
	assert.Equal(t, "memory", doc.Files["main.typ"].Text)
	assert.Len(t, doc.Files["main.typ"].Fingerprint(), 64)
}

func TestLocateFillsLineAndColumn(t *testing.T) {
	fsys := fstest.MapFS{"main.typ": {Data: []byte("one\ntwo three")}}
	doc, err := NewLoader(fsys).Load("main.typ")
	require.NoError(t, err)

	list := diag.List{
		diag.Errorf(diag.ErrEval, diag.Span{File: "main.typ", Start: 8, End: 13}, "boom"),
		diag.Warnf(diag.ErrEval, diag.Span{File: "other.typ", Start: 2}, "elsewhere"),
	}
	list[0].Trace = []diag.Span{{File: "main.typ", Start: 0, End: 3}}
	doc.Locate(list)

	assert.Equal(t, 2, list[0].Span.Line)
	assert.Equal(t, 5, list[0].Span.Col)
	assert.Equal(t, 1, list[0].Trace[0].Line)
	assert.Zero(t, list[1].Span.Line, "unknown files stay unlocated")
}
