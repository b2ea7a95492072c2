// Package canvasrenderer draws layout results via github.com/tdewolff/canvas.
// It registers the pdf, svg and png formats.
package canvasrenderer

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/npillmayer/schuko/tracing"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/pdf"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/sync/errgroup"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/renderer"
)

// tracer writes to trace with key 'papyrus.canvas'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.canvas")
}

func init() {
	for _, f := range []renderer.Format{renderer.PDF, renderer.SVG, renderer.PNG} {
		renderer.Register(f, &Renderer{format: f})
	}
}

// Renderer exports one of pdf, svg or png. It holds no mutable state; every
// page worker owns its font cache.
type Renderer struct {
	format renderer.Format
}

var _ renderer.Renderer = (*Renderer)(nil)

// Render draws the selected pages. Pages are drawn concurrently, bounded
// by opts.Workers; pdf pages are then written into a single stream in order.
func (r *Renderer) Render(ctx context.Context, res *layout.Result, pages []int, opts renderer.Options) ([][]byte, diag.List, error) {
	if res == nil {
		return nil, nil, fmt.Errorf("渲染结果为空")
	}
	canvases := make([]*canvas.Canvas, len(pages))
	out := make([][]byte, len(pages))
	warns := make([]diag.List, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, idx := range pages {
		i, page := i, res.Pages[idx]
		g.Go(func() (err error) {
			defer guard(fmt.Sprintf("第 %d 页", page.Number), &err)
			if err := gctx.Err(); err != nil {
				return err
			}
			p := newPainter(opts.Fonts, r.format == renderer.PNG)
			c, err := p.draw(page)
			if err != nil {
				return fmt.Errorf("第 %d 页: %w", page.Number, err)
			}
			warns[i] = append(p.warnings, p.faces.warnings()...)
			switch r.format {
			case renderer.PDF:
				canvases[i] = c
				return nil
			case renderer.SVG:
				out[i], err = encodeSVG(c)
			case renderer.PNG:
				out[i], err = encodePNG(c, opts.PPI)
			}
			if err != nil {
				return fmt.Errorf("第 %d 页: %w", page.Number, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var all diag.List
	seen := map[string]bool{}
	for _, w := range warns {
		for _, d := range w {
			// 每页各自记录字体替换，只报告一次
			if key := d.String(); !seen[key] {
				seen[key] = true
				all = append(all, d)
			}
		}
	}
	if r.format != renderer.PDF {
		return out, all, nil
	}
	doc, err := writePDF(res, pages, canvases)
	if err != nil {
		return nil, nil, err
	}
	tracer().Debugf("pdf: %d pages, %d bytes", len(pages), len(doc))
	return [][]byte{doc}, all, nil
}

// guard turns a panic inside a drawing backend into a fatal diagnostic.
func guard(what string, err *error) {
	if r := recover(); r != nil {
		tracer().Errorf("%s: panic: %v", what, r)
		*err = diag.New(diag.Errorf(diag.ErrFatal, diag.Detached, "%s: %v", what, r))
	}
}

func writePDF(res *layout.Result, pages []int, canvases []*canvas.Canvas) (doc []byte, err error) {
	defer guard("写入 PDF", &err)
	var buf bytes.Buffer
	first := res.Pages[pages[0]]
	writer := pdf.New(&buf, first.Width.Mm(), first.Height.Mm(), nil)
	writer.SetInfo(documentTitle(res), "", "", "", "papyrus")
	for i, idx := range pages {
		page := res.Pages[idx]
		if i > 0 {
			writer.NewPage(page.Width.Mm(), page.Height.Mm())
		}
		canvases[i].RenderTo(writer)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("写入 PDF 失败: %w", err)
	}
	return buf.Bytes(), nil
}

// documentTitle is the label of the first top-level heading.
func documentTitle(res *layout.Result) string {
	for _, a := range res.Anchors {
		if a.Kind == "heading" && a.Level == 1 {
			return a.Label
		}
	}
	return ""
}

func encodeSVG(c *canvas.Canvas) ([]byte, error) {
	var buf bytes.Buffer
	w, h := c.Size()
	writer := svg.New(&buf, w, h, nil)
	c.RenderTo(writer)
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("写入 SVG 失败: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePNG(c *canvas.Canvas, ppi float64) ([]byte, error) {
	img := rasterizer.Draw(c, canvas.DPI(ppi), canvas.DefaultColorSpace)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("写入 PNG 失败: %w", err)
	}
	return buf.Bytes(), nil
}
