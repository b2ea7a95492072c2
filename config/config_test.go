package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByLCY/papyrus/units"
)

func TestDefaults(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "pdf", c.Format)
	assert.Equal(t, "A4", c.Paper)
	assert.Equal(t, float64(144), c.PPI)

	w, h := c.PageSize()
	a4w, a4h, _ := units.Paper("a4")
	assert.Equal(t, a4w, w)
	assert.Equal(t, a4h, h)
	assert.Equal(t, units.FromMm(25), c.MarginAbs())
	assert.Equal(t, units.FromPt(11), c.FontSizeAbs())
}

func TestParseJSON(t *testing.T) {
	c, err := Parse([]byte(`{
		"format": "SVG",
		"paper": "a5",
		"pageFrom": 2,
		"now": "2024-03-01",
		"inputs": {"name": "Ada", "tags": ["x", "y"]},
		"interpolate": true
	}`))
	require.NoError(t, err)
	assert.Equal(t, "svg", c.Format)
	assert.Equal(t, 2, c.PageFrom)
	assert.True(t, c.Interpolate)
	assert.Equal(t, map[string]any{"name": "Ada", "tags": []any{"x", "y"}}, c.Inputs)

	now, err := c.Time()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), now)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"fromat": "pdf"}`))
	require.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`{"format": "docx", "paper": "B7", "margin": "2em", "ppi": -1, "pageFrom": 3, "pageTo": 2, "now": "yesterday"}`))
	require.Error(t, err)
	for _, want := range []string{"docx", "B7", "margin", "ppi", "page range", "yesterday"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestParseHCL(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.config")
	defer teardown()

	src := `
format     = "png"
ppi        = 300
margin     = "1in"
font_paths = ["/usr/share/fonts"]
inputs = {
  title = "Report"
  count = 3
  items = ["a", "b"]
}
`
	c, err := ParseHCL("papyrus.hcl", []byte(src))
	require.NoError(t, err)
	assert.Equal(t, "png", c.Format)
	assert.Equal(t, float64(300), c.PPI)
	assert.Equal(t, "A4", c.Paper, "defaults still apply")
	assert.InDelta(t, 72, c.MarginAbs().Pt(), 1e-3)
	assert.Equal(t, []string{"/usr/share/fonts"}, c.FontPaths)
	assert.Equal(t, map[string]any{
		"title": "Report",
		"count": float64(3),
		"items": []any{"a", "b"},
	}, c.Inputs)
}

func TestParseHCLErrors(t *testing.T) {
	_, err := ParseHCL("bad.hcl", []byte(`format = `))
	require.Error(t, err)

	_, err = ParseHCL("bad.hcl", []byte(`colour = "red"`))
	require.Error(t, err, "unknown attributes are rejected")
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	hclPath := filepath.Join(dir, "papyrus.hcl")
	jsonPath := filepath.Join(dir, "papyrus.json")
	require.NoError(t, os.WriteFile(hclPath, []byte(`paper = "letter"`), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"paper": "a3"}`), 0o644))

	c, err := Load(hclPath)
	require.NoError(t, err)
	assert.Equal(t, "letter", c.Paper)

	c, err = Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "a3", c.Paper)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
