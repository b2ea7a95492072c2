package capi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(text), 0o644))
	}
	return dir
}

func requestJSON(t *testing.T, r Request) []byte {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return data
}

func TestFormats(t *testing.T) {
	var formats []string
	require.NoError(t, json.Unmarshal([]byte(Formats()), &formats))
	assert.Equal(t, []string{"pdf", "svg", "png", "html", "json"}, formats)
}

func TestCompileCopyAndRelease(t *testing.T) {
	dir := project(t, map[string]string{"main.typ": "= One\n\n#pagebreak()\nTwo"})
	reg := NewRegistry()
	h := reg.Compile(context.Background(), requestJSON(t, Request{
		Root:   dir,
		Main:   "main.typ",
		Config: json.RawMessage(`{"format": "svg"}`),
	}))
	require.NotZero(t, h)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(reg.ResultJSON(h)), &rep))
	assert.Equal(t, "exported", rep["stage"])
	assert.Equal(t, float64(2), rep["pageCount"])

	require.Equal(t, 2, reg.PageCount(h))
	size := reg.PageSize(h, 1)
	require.Greater(t, size, 0)

	assert.Equal(t, -1, reg.CopyPage(h, 1, make([]byte, size-1)), "destination too small")
	dst := make([]byte, size)
	assert.Equal(t, size, reg.CopyPage(h, 1, dst))
	page, ok := reg.Page(h, 1)
	require.True(t, ok)
	assert.Equal(t, page, dst)
	assert.Equal(t, -1, reg.PageSize(h, 2))

	released := 0
	require.True(t, reg.OnRelease(h, func() { released++ }))
	assert.True(t, reg.Release(h))
	assert.False(t, reg.Release(h), "second release is a no-op")
	assert.Equal(t, 1, released)
	assert.Equal(t, -1, reg.PageCount(h))
	assert.Empty(t, reg.ResultJSON(h))
	assert.False(t, reg.OnRelease(h, func() {}))
}

func TestOverlaysShadowDisk(t *testing.T) {
	dir := project(t, map[string]string{"main.typ": "#foo()"})
	reg := NewRegistry()
	h := reg.Compile(context.Background(), requestJSON(t, Request{
		Root:     dir,
		Main:     "main.typ",
		Overlays: map[string]string{"main.typ": "fixed"},
		Config:   json.RawMessage(`{"format": "json"}`),
	}))
	defer reg.Release(h)
	assert.Equal(t, 1, reg.PageCount(h))
}

func TestFailedCompileKeepsDiagnostics(t *testing.T) {
	dir := project(t, map[string]string{"main.typ": "#import \"main.typ\""})
	reg := NewRegistry()
	h := reg.Compile(context.Background(), requestJSON(t, Request{Root: dir, Main: "main.typ"}))
	defer reg.Release(h)

	var rep struct {
		Stage       string
		Diagnostics []struct {
			Kind string
			Span struct{ File string }
		}
	}
	require.NoError(t, json.Unmarshal([]byte(reg.ResultJSON(h)), &rep))
	assert.Equal(t, "failed", rep.Stage)
	require.Len(t, rep.Diagnostics, 1)
	assert.Equal(t, "CyclicImport", rep.Diagnostics[0].Kind)
	assert.Equal(t, "main.typ", rep.Diagnostics[0].Span.File)
	assert.Equal(t, 0, reg.PageCount(h))
}

func TestConfigFileIsLoaded(t *testing.T) {
	dir := project(t, map[string]string{
		"main.typ": "= Hi\n\nDear #sys.inputs.name\n\n#pagebreak()\nBye",
		"papyrus.hcl": `
format = "html"
inputs = {
  name = "Ada"
}
`,
		"conf/papyrus.json": `{"format": "json", "inputs": {"name": "Bob"}}`,
	})
	reg := NewRegistry()

	h := reg.Compile(context.Background(), requestJSON(t, Request{Root: dir, Main: "main.typ", ConfigFile: "papyrus.hcl"}))
	defer reg.Release(h)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(reg.ResultJSON(h)), &rep))
	assert.Equal(t, "exported", rep["stage"])
	assert.Equal(t, "html", rep["format"])
	page, ok := reg.Page(h, 1)
	require.True(t, ok)
	assert.Contains(t, string(page), "Ada")

	h = reg.Compile(context.Background(), requestJSON(t, Request{
		Root: dir, Main: "main.typ", ConfigFile: filepath.Join(dir, "conf", "papyrus.json"),
	}))
	defer reg.Release(h)
	page, ok = reg.Page(h, 1)
	require.True(t, ok)
	assert.Contains(t, string(page), "Bob")

	h = reg.Compile(context.Background(), requestJSON(t, Request{
		Root: dir, Main: "main.typ", ConfigFile: "papyrus.hcl", Config: json.RawMessage(`{"format": "svg"}`),
	}))
	defer reg.Release(h)
	assert.Contains(t, reg.ResultJSON(h), "mutually exclusive")

	h = reg.Compile(context.Background(), requestJSON(t, Request{Root: dir, Main: "main.typ", ConfigFile: "missing.hcl"}))
	defer reg.Release(h)
	assert.Contains(t, reg.ResultJSON(h), "Fatal")
}

func TestMalformedRequest(t *testing.T) {
	reg := NewRegistry()
	h := reg.Compile(context.Background(), []byte(`{"main": `))
	require.NotZero(t, h)
	assert.Contains(t, reg.ResultJSON(h), "Fatal")
}

func TestConcurrentCompilations(t *testing.T) {
	dir := project(t, map[string]string{"main.typ": "Hello"})
	reg := NewRegistry()
	req := requestJSON(t, Request{Root: dir, Main: "main.typ", Config: json.RawMessage(`{"format": "html"}`)})

	var wg sync.WaitGroup
	handles := make([]Handle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = reg.Compile(context.Background(), req)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, reg.Len())
	seen := map[Handle]bool{}
	for _, h := range handles {
		assert.False(t, seen[h], "handles are unique")
		seen[h] = true
		assert.Equal(t, 1, reg.PageCount(h))
		reg.Release(h)
	}
	assert.Zero(t, reg.Len())
}

func TestQueryEvalSyntax(t *testing.T) {
	dir := project(t, map[string]string{"main.typ": "= Intro\n\n== Part"})
	req := requestJSON(t, Request{Root: dir, Main: "main.typ"})

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(Query(context.Background(), req, "heading", "json")), &env))
	require.True(t, env.OK)
	var elems []map[string]any
	require.NoError(t, json.Unmarshal(env.Value, &elems))
	assert.Len(t, elems, 2)

	require.NoError(t, json.Unmarshal([]byte(Query(context.Background(), req, "heading", "yaml")), &env))
	var text string
	require.NoError(t, json.Unmarshal(env.Value, &text))
	assert.Contains(t, text, "label: Intro")

	env = Envelope{}
	require.NoError(t, json.Unmarshal([]byte(Eval("calc.max(1, 5) + 1", nil)), &env))
	require.True(t, env.OK)
	assert.Equal(t, "6", string(env.Value))

	env = Envelope{}
	require.NoError(t, json.Unmarshal([]byte(Eval("missing", nil)), &env))
	assert.False(t, env.OK)
	require.NotEmpty(t, env.Diagnostics)
	assert.Equal(t, "EvalError", env.Diagnostics[0].Kind)

	env = Envelope{}
	require.NoError(t, json.Unmarshal([]byte(Syntax(req)), &env))
	require.True(t, env.OK)
	assert.Contains(t, string(env.Value), `"node":"heading"`)
}
