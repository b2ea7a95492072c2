// Package renderer exports layout results. Backends register themselves
// for the formats they serve; the canvas backend covers pdf, svg and png,
// the html backend html, and json is built in.
package renderer

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/npillmayer/schuko/tracing"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
)

// tracer writes to trace with key 'papyrus.renderer'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.renderer")
}

// Format is an export format.
type Format string

const (
	PDF  Format = "pdf"
	SVG  Format = "svg"
	PNG  Format = "png"
	HTML Format = "html"
	JSON Format = "json"
)

var order = []Format{PDF, SVG, PNG, HTML, JSON}

// Known reports whether f belongs to the closed format set, registered or
// not.
func Known(f Format) bool {
	for _, k := range order {
		if k == f {
			return true
		}
	}
	return false
}

// PerPage reports whether the format produces one artifact per page.
func (f Format) PerPage() bool { return f == SVG || f == PNG }

// Options configure an export.
type Options struct {
	// PPI is the raster resolution of png. Zero selects 144.
	PPI float64
	// PageFrom and PageTo select an inclusive, 1-based page range. Zero
	// means the first or last page respectively.
	PageFrom, PageTo int
	// Workers bounds concurrent page exports. Zero selects GOMAXPROCS.
	Workers int
	// Fonts is the font book. Nil selects fonts.Shared().
	Fonts *fonts.Book
}

// DefaultPPI is the png resolution used when Options.PPI is zero.
const DefaultPPI = 144

func (o Options) withDefaults() Options {
	if o.PPI <= 0 {
		o.PPI = DefaultPPI
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Fonts == nil {
		o.Fonts = fonts.Shared()
	}
	return o
}

// Renderer 将布局结果输出为最终文件，例如 PDF 或图像。pages 为选中页面的下标
// （从 0 开始）。Render 只读 res，可被并发调用。
type Renderer interface {
	Render(ctx context.Context, res *layout.Result, pages []int, opts Options) ([][]byte, diag.List, error)
}

// Artifact is the output of an export.
type Artifact struct {
	Format Format
	// Pages holds one buffer per selected page for per-page formats and a
	// single buffer otherwise.
	Pages    [][]byte
	Warnings diag.List
}

var (
	mu       sync.RWMutex
	registry = map[Format]Renderer{}
)

// Register makes r serve format f. Later registrations replace earlier ones.
func Register(f Format, r Renderer) {
	mu.Lock()
	defer mu.Unlock()
	registry[f] = r
}

func lookup(f Format) (Renderer, bool) {
	mu.RLock()
	defer mu.RUnlock()
	r, ok := registry[f]
	return r, ok
}

// Formats lists the registered formats in a fixed order.
func Formats() []Format {
	var out []Format
	for _, f := range order {
		if _, ok := lookup(f); ok {
			out = append(out, f)
		}
	}
	return out
}

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := lookup(f); !ok {
		return "", unsupported("unsupported export format %q", s)
	}
	return f, nil
}

func unsupported(format string, args ...any) error {
	return diag.New(diag.Errorf(diag.ErrUnsupported, diag.Span{}, format, args...))
}

// Export renders res in format f.
func Export(ctx context.Context, res *layout.Result, f Format, opts Options) (*Artifact, error) {
	r, ok := lookup(f)
	if !ok {
		return nil, unsupported("unsupported export format %q", f)
	}
	if res == nil || len(res.Pages) == 0 {
		return nil, fmt.Errorf("缺少可渲染的页面")
	}
	pages, err := selectPages(len(res.Pages), f, opts)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	tracer().Debugf("export %s: %d of %d pages", f, len(pages), len(res.Pages))
	out, warns, err := r.Render(ctx, res, pages, opts)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", f, err)
	}
	return &Artifact{Format: f, Pages: out, Warnings: warns}, nil
}

// selectPages resolves the page range. Only pdf and the per-page formats
// support ranges.
func selectPages(total int, f Format, opts Options) ([]int, error) {
	from, to := opts.PageFrom, opts.PageTo
	if from == 0 && to == 0 {
		return span(0, total), nil
	}
	if !f.PerPage() && f != PDF {
		return nil, unsupported("format %s does not support page ranges", f)
	}
	if from == 0 {
		from = 1
	}
	if to == 0 {
		to = total
	}
	if from < 1 || to > total || from > to {
		return nil, unsupported("page range %d-%d is not available (document has %d pages)", from, to, total)
	}
	return span(from-1, to), nil
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
