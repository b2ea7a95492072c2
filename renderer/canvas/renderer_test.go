package canvasrenderer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/tdewolff/canvas"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/renderer"
	"github.com/ByLCY/papyrus/units"
)

func buildDoc(t *testing.T, ts layout.Typesetter, nodes ...*content.Node) *layout.Result {
	t.Helper()
	res, err := layout.Build(content.Sequence(nodes...), layout.BuildOptions{
		Typesetter: ts,
		Width:      units.FromMm(105),
		Height:     units.FromMm(148),
		Margin:     layout.Uniform(units.FromMm(10)),
	})
	if err != nil {
		t.Fatalf("布局计算失败: %v", err)
	}
	return res
}

func para(s string) *content.Node { return content.Text(s, diag.Span{}) }

func TestTypesetterMonoHasEqualWidths(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.canvas")
	defer teardown()

	ts := NewTypesetter(nil)
	size := units.FromPt(12)
	mono := fonts.Spec{Family: fonts.Mono}
	if a, b := ts.Measure("iiii", mono, size), ts.Measure("mmmm", mono, size); a != b {
		t.Fatalf("monospace widths differ: %s vs %s", a, b)
	}
	serif := fonts.Spec{}
	if a, b := ts.Measure("iiii", serif, size), ts.Measure("mmmm", serif, size); a >= b {
		t.Fatalf("expected proportional widths, got %s >= %s", a, b)
	}
	m := ts.Metrics(serif, size)
	if m.Ascent <= 0 || m.Descent <= 0 || m.Ascent+m.Descent > 2*size {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if ts.Err != nil {
		t.Fatalf("unexpected font error: %v", ts.Err)
	}
}

func TestTypesetterWrapsText(t *testing.T) {
	res := buildDoc(t, NewTypesetter(nil), para(strings.Repeat("hello world again ", 20)))
	lines := 0
	res.Pages[0].Frame.Walk(0, 0, func(it *layout.Item, x, y units.Abs) {
		if it.Kind == layout.ItemText {
			lines++
			if x+it.Text.Width > units.FromMm(95)+1 {
				t.Errorf("line %q overflows the body: ends at %s", it.Text.Text, x+it.Text.Width)
			}
		}
	})
	if lines < 2 {
		t.Fatalf("expected wrapping into multiple lines, got %d", lines)
	}
}

func TestExportFormats(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.canvas")
	defer teardown()

	res := buildDoc(t, NewTypesetter(nil),
		&content.Node{Kind: content.KindHeading, Level: 1, Children: []*content.Node{para("Title")}},
		para("one"), &content.Node{Kind: content.KindPagebreak}, para("two"))
	if len(res.Pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(res.Pages))
	}
	ctx := context.Background()

	pdf, err := renderer.Export(ctx, res, renderer.PDF, renderer.Options{})
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if len(pdf.Pages) != 1 || !bytes.HasPrefix(pdf.Pages[0], []byte("%PDF")) {
		t.Fatalf("pdf artifact is not a single PDF stream")
	}

	svg, err := renderer.Export(ctx, res, renderer.SVG, renderer.Options{})
	if err != nil {
		t.Fatalf("svg: %v", err)
	}
	if len(svg.Pages) != 2 || !bytes.Contains(svg.Pages[1], []byte("<svg")) {
		t.Fatalf("expected two svg pages")
	}

	img, err := renderer.Export(ctx, res, renderer.PNG, renderer.Options{PPI: 72, PageFrom: 2, PageTo: 2})
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if len(img.Pages) != 1 {
		t.Fatalf("expected one png page, got %d", len(img.Pages))
	}
	decoded, err := png.Decode(bytes.NewReader(img.Pages[0]))
	if err != nil {
		t.Fatalf("png does not decode: %v", err)
	}
	// 105mm 在 72ppi 下约为 298px
	if w := decoded.Bounds().Dx(); w < 295 || w > 300 {
		t.Fatalf("png width = %dpx", w)
	}
}

func TestExportIsDeterministic(t *testing.T) {
	res := buildDoc(t, NewTypesetter(nil), para("same input, same bytes"), para(strings.Repeat("x ", 300)))
	for _, f := range []renderer.Format{renderer.SVG, renderer.PNG} {
		a, err := renderer.Export(context.Background(), res, f, renderer.Options{PPI: 36})
		if err != nil {
			t.Fatal(err)
		}
		b, err := renderer.Export(context.Background(), res, f, renderer.Options{PPI: 36, Workers: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(a.Pages) != len(b.Pages) {
			t.Fatalf("%s: page count differs", f)
		}
		for i := range a.Pages {
			if !bytes.Equal(a.Pages[i], b.Pages[i]) {
				t.Errorf("%s: page %d differs between runs", f, i+1)
			}
		}
	}
}

func TestBadPageRange(t *testing.T) {
	res := buildDoc(t, layout.FixedTypesetter{}, para("x"))
	_, err := renderer.Export(context.Background(), res, renderer.SVG, renderer.Options{PageFrom: 2, PageTo: 3})
	if !errors.Is(err, diag.ErrUnsupported) {
		t.Fatalf("expected UnsupportedFeature, got %v", err)
	}
}

func TestBrokenImageIsSkippedWithWarning(t *testing.T) {
	img := &content.Node{Kind: content.KindImage, Image: &content.Image{Path: "broken.png", Data: []byte("no image"), PixelW: 10, PixelH: 10}}
	res := buildDoc(t, layout.FixedTypesetter{}, img)
	art, err := renderer.Export(context.Background(), res, renderer.SVG, renderer.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(art.Warnings) != 1 || !errors.Is(art.Warnings[0].Kind, diag.ErrIO) {
		t.Fatalf("expected one IO warning, got %v", art.Warnings)
	}
}

func TestFitImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	src.Set(0, 0, color.Black)

	_, w, h := fitImage(src, 50, 50, "")
	if w != 50 || h != 25 {
		t.Errorf("contain: %vx%v, want 50x25", w, h)
	}
	out, w, h := fitImage(src, 50, 50, "cover")
	if w != 50 || h != 50 || out.Bounds().Dx() != 100 || out.Bounds().Dy() != 100 {
		t.Errorf("cover: %vx%v with %v", w, h, out.Bounds())
	}
	out, _, _ = fitImage(src, 50, 50, "stretch")
	if out.Bounds().Dx() != 200 || out.Bounds().Dy() != 200 {
		t.Errorf("stretch: %v", out.Bounds())
	}
}

func textPage(n int, runs ...*layout.TextRun) layout.Page {
	f := &layout.Frame{Role: layout.RolePage, Width: units.FromMm(105), Height: units.FromMm(148)}
	for i, r := range runs {
		f.Push(units.FromMm(10), units.FromMm(10+float64(i)*8), layout.Item{Kind: layout.ItemText, Text: r})
	}
	return layout.Page{Number: n, Width: f.Width, Height: f.Height, Frame: f}
}

func textRun(s string, family string) *layout.TextRun {
	return &layout.TextRun{
		Text: s, Font: fonts.Spec{Family: family}, Size: units.FromPt(11),
		Width: units.FromMm(30), Height: units.FromMm(5), Ascent: units.FromMm(4),
	}
}

func TestRasterSubstitutesOutlineFonts(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.canvas")
	defer teardown()

	res := &layout.Result{Pages: []layout.Page{
		textPage(1, textRun("page.", ""), textRun("page.", fonts.Serif), textRun("code", fonts.SerifMono)),
		textPage(2, textRun("page.", fonts.Serif), textRun("page.", "Nope Sans")),
	}}
	art, err := renderer.Export(context.Background(), res, renderer.PNG, renderer.Options{PPI: 36})
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if len(art.Pages) != 2 {
		t.Fatalf("got %d pages", len(art.Pages))
	}
	var msgs []string
	for _, w := range art.Warnings {
		if !errors.Is(w.Kind, diag.ErrUnsupported) {
			t.Errorf("unexpected warning %s", w)
		}
		msgs = append(msgs, w.Message)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected one warning per replaced family, got %q", msgs)
	}
	for i, fam := range []string{fonts.SerifMono, fonts.Serif, "Nope Sans"} {
		if !strings.Contains(msgs[i], fam) {
			t.Errorf("warning %d = %q, want family %s", i, msgs[i], fam)
		}
	}
	if !strings.Contains(msgs[0], fonts.Mono) {
		t.Errorf("monospace faces should be replaced by %s: %q", fonts.Mono, msgs[0])
	}

	// vector output keeps the requested faces
	art, err = renderer.Export(context.Background(), res, renderer.SVG, renderer.Options{})
	if err != nil {
		t.Fatalf("svg: %v", err)
	}
	if len(art.Warnings) != 1 || !strings.Contains(art.Warnings[0].Message, "Nope Sans") {
		t.Fatalf("expected only the unknown family to be replaced, got %v", art.Warnings)
	}
}

func TestGuardTurnsPanicIntoFatal(t *testing.T) {
	err := func() (err error) {
		defer guard("第 3 页", &err)
		panic("broken outline")
	}()
	if !errors.Is(err, diag.ErrFatal) {
		t.Fatalf("expected a fatal diagnostic, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken outline") {
		t.Errorf("panic value missing from %q", err)
	}

	err = func() (err error) {
		defer guard("第 3 页", &err)
		return nil
	}()
	if err != nil {
		t.Fatalf("guard changed a clean return: %v", err)
	}
}

func TestClippedFrameCutsContent(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "papyrus.canvas")
	defer teardown()

	buf := new(bytes.Buffer)
	src := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for i := 0; i < 40; i++ {
		src.Set(i, i, color.Black)
	}
	if err := png.Encode(buf, src); err != nil {
		t.Fatal(err)
	}
	fill := content.Color{R: 200}
	page := func(clip bool) *layout.Result {
		inner := &layout.Frame{Role: layout.RoleCell, Width: units.FromMm(40), Height: units.FromMm(6), Clip: clip}
		// 文字、矩形和图片都越过裁剪框的下边缘
		inner.Push(0, units.FromMm(3), layout.Item{Kind: layout.ItemText, Text: textRun("clipped text", "")})
		inner.Push(units.FromMm(20), units.FromMm(2), layout.Item{Kind: layout.ItemRect, Shape: &layout.ShapeBox{
			Width: units.FromMm(10), Height: units.FromMm(10), Fill: &fill,
		}})
		inner.Push(units.FromMm(32), 0, layout.Item{Kind: layout.ItemImage, Image: &layout.ImageBox{
			Data: buf.Bytes(), Width: units.FromMm(8), Height: units.FromMm(8),
		}})
		inner.Push(0, units.FromMm(20), layout.Item{Kind: layout.ItemText, Text: textRun("hidden", "")})
		p := textPage(1)
		p.Frame.Push(units.FromMm(10), units.FromMm(10), layout.Item{Kind: layout.ItemFrame, Frame: inner})
		return &layout.Result{Pages: []layout.Page{p}}
	}
	for _, f := range []renderer.Format{renderer.SVG, renderer.PNG} {
		clipped, err := renderer.Export(context.Background(), page(true), f, renderer.Options{PPI: 72})
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		plain, err := renderer.Export(context.Background(), page(false), f, renderer.Options{PPI: 72})
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		if bytes.Equal(clipped.Pages[0], plain.Pages[0]) {
			t.Errorf("%s: clipping changed nothing", f)
		}
	}
}

func TestVisibleAndCropImage(t *testing.T) {
	clip := canvasRect(0, 0, 10, 10)
	if draw, cut := visible(canvasRect(2, 2, 4, 4), &clip); !draw || cut {
		t.Errorf("inside: draw=%v cut=%v", draw, cut)
	}
	if draw, cut := visible(canvasRect(8, 8, 4, 4), &clip); !draw || !cut {
		t.Errorf("crossing: draw=%v cut=%v", draw, cut)
	}
	if draw, _ := visible(canvasRect(12, 0, 4, 4), &clip); draw {
		t.Errorf("outside must not be drawn")
	}
	if draw, cut := visible(canvasRect(12, 0, 4, 4), nil); !draw || cut {
		t.Errorf("unclipped: draw=%v cut=%v", draw, cut)
	}

	src := image.NewRGBA(image.Rect(0, 0, 100, 50))
	r := canvasRect(0, 0, 20, 10)
	img, vis := cropImage(src, r, canvasRect(0, 0, 10, 10))
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 50 {
		t.Errorf("crop kept %v, want the left half", img.Bounds())
	}
	if vis.X1 != 10 || vis.Y1 != 10 {
		t.Errorf("visible rect %v", vis)
	}
}

func canvasRect(x, y, w, h float64) canvas.Rect { return canvas.RectFromSize(x, y, w, h) }
