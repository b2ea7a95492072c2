// Package config holds the options of one compilation. Hosts pass them as
// JSON across the C boundary; they can also be kept in an HCL file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/npillmayer/schuko/tracing"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/ByLCY/papyrus/renderer"
	"github.com/ByLCY/papyrus/units"
)

// tracer writes to trace with key 'papyrus.config'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.config")
}

// Defaults.
const (
	DefaultFormat   = "pdf"
	DefaultPaper    = "A4"
	DefaultMargin   = "25mm"
	DefaultFontSize = "11pt"
)

// Config are the options of one compilation.
type Config struct {
	Format    string   `json:"format,omitempty"`
	Paper     string   `json:"paper,omitempty"`
	Margin    string   `json:"margin,omitempty"`
	FontSize  string   `json:"fontSize,omitempty"`
	FontPaths []string `json:"fontPaths,omitempty"`
	// PPI is the png resolution.
	PPI float64 `json:"ppi,omitempty"`
	// PageFrom and PageTo select an inclusive, 1-based page range.
	PageFrom int `json:"pageFrom,omitempty"`
	PageTo   int `json:"pageTo,omitempty"`
	// Now pins today(), as RFC 3339 or 2006-01-02.
	Now string `json:"now,omitempty"`
	// Inputs is exposed to documents as sys.inputs.
	Inputs      any  `json:"inputs,omitempty"`
	Interpolate bool `json:"interpolate,omitempty"`
	Workers     int  `json:"workers,omitempty"`
	// DebugSpans records source spans on frame items.
	DebugSpans bool `json:"debugSpans,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Paper == "" {
		c.Paper = DefaultPaper
	}
	if c.Margin == "" {
		c.Margin = DefaultMargin
	}
	if c.FontSize == "" {
		c.FontSize = DefaultFontSize
	}
	if c.PPI == 0 {
		c.PPI = renderer.DefaultPPI
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if !renderer.Known(renderer.Format(c.Format)) {
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	if _, _, err := units.Paper(c.Paper); err != nil {
		errs = append(errs, err)
	}
	if l, err := units.ParseLength(c.Margin); err != nil {
		errs = append(errs, fmt.Errorf("margin: %w", err))
	} else if l.Value < 0 || l.Unit == units.UnitEM {
		errs = append(errs, fmt.Errorf("margin must be a non-negative absolute length, got %s", c.Margin))
	}
	if l, err := units.ParseLength(c.FontSize); err != nil {
		errs = append(errs, fmt.Errorf("fontSize: %w", err))
	} else if l.Value <= 0 || l.Unit == units.UnitEM {
		errs = append(errs, fmt.Errorf("fontSize must be a positive absolute length, got %s", c.FontSize))
	}
	if c.PPI <= 0 || c.PPI > 2400 {
		errs = append(errs, fmt.Errorf("ppi must be in (0, 2400], got %v", c.PPI))
	}
	if c.PageFrom < 0 || c.PageTo < 0 || (c.PageTo > 0 && c.PageFrom > c.PageTo) {
		errs = append(errs, fmt.Errorf("invalid page range %d-%d", c.PageFrom, c.PageTo))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative"))
	}
	if _, err := c.Time(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PageSize returns the paper dimensions.
func (c *Config) PageSize() (units.Abs, units.Abs) {
	w, h, err := units.Paper(c.Paper)
	if err != nil {
		w, h, _ = units.Paper(DefaultPaper)
	}
	return w, h
}

// MarginAbs returns the uniform page margin.
func (c *Config) MarginAbs() units.Abs {
	return units.ParseRawLengthStr(c.Margin).Resolve(0)
}

// FontSizeAbs returns the base font size.
func (c *Config) FontSizeAbs() units.Abs {
	return units.ParseRawLengthStr(c.FontSize).Resolve(0)
}

// Time parses Now. The zero time means the wall clock.
func (c *Config) Time() (time.Time, error) {
	if c.Now == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, c.Now); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("now: %q is neither RFC 3339 nor a date", c.Now)
}

// Parse reads a JSON configuration, applies defaults and validates it.
// Empty input yields the defaults. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return nil, fmt.Errorf("解析配置 JSON 失败: %w", err)
		}
	}
	return finish(c)
}

func finish(c *Config) (*Config, error) {
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return c, nil
}

// hclConfig is the HCL file layout; attribute names use snake case.
type hclConfig struct {
	Format      *string   `hcl:"format,optional"`
	Paper       *string   `hcl:"paper,optional"`
	Margin      *string   `hcl:"margin,optional"`
	FontSize    *string   `hcl:"font_size,optional"`
	FontPaths   []string  `hcl:"font_paths,optional"`
	PPI         *float64  `hcl:"ppi,optional"`
	PageFrom    *int      `hcl:"page_from,optional"`
	PageTo      *int      `hcl:"page_to,optional"`
	Now         *string   `hcl:"now,optional"`
	Inputs      cty.Value `hcl:"inputs,optional"`
	Interpolate *bool     `hcl:"interpolate,optional"`
	Workers     *int      `hcl:"workers,optional"`
	DebugSpans  *bool     `hcl:"debug_spans,optional"`
}

// ParseHCL reads an HCL configuration. filename is used in diagnostics.
func ParseHCL(filename string, src []byte) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var h hclConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &h); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	c := &Config{FontPaths: h.FontPaths}
	set(&c.Format, h.Format)
	set(&c.Paper, h.Paper)
	set(&c.Margin, h.Margin)
	set(&c.FontSize, h.FontSize)
	set(&c.PPI, h.PPI)
	set(&c.PageFrom, h.PageFrom)
	set(&c.PageTo, h.PageTo)
	set(&c.Now, h.Now)
	set(&c.Interpolate, h.Interpolate)
	set(&c.Workers, h.Workers)
	set(&c.DebugSpans, h.DebugSpans)
	if !h.Inputs.IsNull() {
		inputs, err := ctyToGo(h.Inputs)
		if err != nil {
			return nil, fmt.Errorf("%s: inputs: %w", filename, err)
		}
		c.Inputs = inputs
	}
	tracer().Debugf("loaded HCL configuration %s", filename)
	return finish(c)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// ctyToGo converts through JSON so that inputs from HCL and from JSON have
// the same Go shape.
func ctyToGo(v cty.Value) (any, error) {
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	data, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Load reads a configuration file; .hcl files are HCL, everything else JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置 %s 失败: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return ParseHCL(path, data)
	}
	return Parse(data)
}
