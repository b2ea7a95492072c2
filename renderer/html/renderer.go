// Package htmlrenderer exports layout results as a single flowing HTML
// document. Body frames are emitted in document order; page furniture
// (headers, footers, numbering) is left out.
package htmlrenderer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/renderer"
	"github.com/ByLCY/papyrus/units"
)

func init() {
	renderer.Register(renderer.HTML, Renderer{})
}

// Renderer implements renderer.Renderer for html.
type Renderer struct{}

const stylesheet = `
body { max-width: 48em; margin: 2em auto; font-family: "Go", sans-serif; color: #000; }
.l { margin: 0; white-space: pre-wrap; }
.pb { break-before: page; height: 0; }
table { border-collapse: collapse; margin: 0.5em 0; }
td { border: 0.2mm solid #000; vertical-align: top; }
img { display: block; }
`

// Render writes the selected pages into one document.
func (Renderer) Render(_ context.Context, res *layout.Result, pages []int, _ renderer.Options) ([][]byte, diag.List, error) {
	w := &writer{}
	w.buf.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8">`)
	if title := documentTitle(res); title != "" {
		fmt.Fprintf(&w.buf, "<title>%s</title>", html.EscapeString(title))
	}
	fmt.Fprintf(&w.buf, "<style>%s</style></head><body>", stylesheet)
	for i, idx := range pages {
		if i > 0 {
			w.buf.WriteString(`<div class="pb"></div>`)
		}
		page := res.Pages[idx]
		if page.Frame == nil {
			continue
		}
		for _, it := range page.Frame.Items {
			if it.Kind == layout.ItemFrame && it.Frame.Role == layout.RoleBody {
				w.frame(it.Frame, page.Number)
			}
		}
	}
	w.buf.WriteString("</body></html>")

	out, err := minifier().Bytes("text/html", w.buf.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("压缩 HTML 失败: %w", err)
	}
	return [][]byte{out}, w.warnings(), nil
}

func minifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.Add("text/html", &mhtml.Minifier{KeepDocumentTags: true, KeepEndTags: true})
	return m
}

func documentTitle(res *layout.Result) string {
	for _, a := range res.Anchors {
		if a.Kind == "heading" && a.Level == 1 {
			return a.Label
		}
	}
	return ""
}

type writer struct {
	buf bytes.Buffer
	// omitted counts shapes per kind; order keeps first-seen order
	omitted map[layout.ItemKind]int
	order   []layout.ItemKind
	first   map[layout.ItemKind]int
}

func (w *writer) frame(f *layout.Frame, page int) {
	var line []layout.Item
	flush := func() {
		if len(line) > 0 {
			w.line(line)
			line = line[:0]
		}
	}
	for _, it := range f.Items {
		switch it.Kind {
		case layout.ItemText:
			if len(line) > 0 && line[0].Y != it.Y {
				flush()
			}
			line = append(line, it)
		case layout.ItemImage:
			flush()
			w.image(it)
		case layout.ItemFrame:
			flush()
			if it.Frame.Role == layout.RoleTable {
				w.table(it.Frame, page)
			} else {
				w.frame(it.Frame, page)
			}
		default:
			flush()
			w.omit(it.Kind, page)
		}
	}
	flush()
}

func (w *writer) line(runs []layout.Item) {
	w.buf.WriteString(`<p class="l"`)
	if x := runs[0].X; x > 0 {
		fmt.Fprintf(&w.buf, ` style="padding-left:%s"`, pt(x))
	}
	w.buf.WriteString(">")
	prev := runs[0].X
	for i, it := range runs {
		run := it.Text
		if i > 0 && it.X > prev {
			w.buf.WriteString(" ")
		}
		fmt.Fprintf(&w.buf, `<span style="%s">%s</span>`, runStyle(run), html.EscapeString(run.Text))
		prev = it.X + run.Width
	}
	w.buf.WriteString("</p>")
}

func runStyle(run *layout.TextRun) string {
	var b strings.Builder
	name := run.Font.Family
	if name == "" {
		name = fonts.Sans
	}
	family := `"` + name + `"`
	switch name {
	case fonts.Mono, fonts.SerifMono:
		family += ",monospace"
	case fonts.Serif:
		family += ",serif"
	default:
		family += ",sans-serif"
	}
	fmt.Fprintf(&b, "font-family:%s;font-size:%s", family, pt(run.Size))
	if run.Font.Bold {
		b.WriteString(";font-weight:bold")
	}
	if run.Font.Italic {
		b.WriteString(";font-style:italic")
	}
	if c := run.Fill.Hex(); c != "#000000" {
		b.WriteString(";color:" + c)
	}
	return b.String()
}

func (w *writer) image(it layout.Item) {
	img := it.Image
	if len(img.Data) == 0 {
		return
	}
	format := img.Format
	if format == "jpg" {
		format = "jpeg"
	}
	fmt.Fprintf(&w.buf, `<img src="data:image/%s;base64,%s" alt="%s" style="width:%s;height:%s;margin-left:%s">`,
		format, base64.StdEncoding.EncodeToString(img.Data), html.EscapeString(img.Path),
		pt(img.Width), pt(img.Height), pt(it.X))
}

// table 将表格段输出为 <table>。行帧中的边框矩形由样式表代替。
func (w *writer) table(f *layout.Frame, page int) {
	w.buf.WriteString("<table>")
	for _, row := range f.Items {
		if row.Kind != layout.ItemFrame {
			continue
		}
		w.buf.WriteString("<tr>")
		for _, cell := range row.Frame.Items {
			if cell.Kind != layout.ItemFrame {
				continue
			}
			fmt.Fprintf(&w.buf, `<td style="width:%s">`, pt(cell.Frame.Width))
			w.frame(cell.Frame, page)
			w.buf.WriteString("</td>")
		}
		w.buf.WriteString("</tr>")
	}
	w.buf.WriteString("</table>")
}

func (w *writer) omit(kind layout.ItemKind, page int) {
	if w.omitted == nil {
		w.omitted = map[layout.ItemKind]int{}
		w.first = map[layout.ItemKind]int{}
	}
	if w.omitted[kind] == 0 {
		w.order = append(w.order, kind)
		w.first[kind] = page
	}
	w.omitted[kind]++
}

// warnings reports one UnsupportedFeature warning per omitted shape kind.
func (w *writer) warnings() diag.List {
	var out diag.List
	for _, kind := range w.order {
		out.Add(diag.Warnf(diag.ErrUnsupported, diag.Span{},
			"html export cannot represent %s shapes; %d omitted (first on page %d)",
			kind, w.omitted[kind], w.first[kind]))
	}
	return out
}

func pt(a units.Abs) string {
	return fmt.Sprintf("%.2fpt", a.Pt())
}
