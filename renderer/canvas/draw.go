package canvasrenderer

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/tdewolff/canvas"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/units"
)

const defaultStrokeWidth = 0.2 // mm

// painter draws the pages of one worker. It is not safe for concurrent use.
type painter struct {
	faces    *faceCache
	warnings diag.List
}

// newPainter returns a painter drawing with faces from book. raster selects
// faces the rasterizer can outline.
func newPainter(book *fonts.Book, raster bool) *painter {
	faces := newFaceCache(book)
	faces.raster = raster
	return &painter{faces: faces}
}

// draw 将一页的帧树绘制到新画布上。坐标以左上角为原点，单位为 mm。
func (p *painter) draw(page layout.Page) (*canvas.Canvas, error) {
	c := canvas.New(page.Width.Mm(), page.Height.Mm())
	ctx := canvas.NewContext(c)
	ctx.SetCoordSystem(canvas.CartesianIV)
	ctx.SetFillColor(canvas.White)
	ctx.DrawPath(0, 0, canvas.Rectangle(page.Width.Mm(), page.Height.Mm()))

	if page.Frame == nil {
		return c, nil
	}
	return c, p.drawFrame(ctx, page.Frame, 0, 0, nil)
}

// drawFrame draws f with its top-left corner at (x, y). clip is the visible
// area in page coordinates, nil when nothing clips.
func (p *painter) drawFrame(ctx *canvas.Context, f *layout.Frame, x, y units.Abs, clip *canvas.Rect) error {
	if f.Clip {
		r := canvas.RectFromSize(x.Mm(), y.Mm(), f.Width.Mm(), f.Height.Mm())
		if clip != nil {
			r = clip.And(r)
		}
		if r.Zero() {
			return nil
		}
		clip = &r
	}
	for i := range f.Items {
		it := &f.Items[i]
		ix, iy := x+it.X, y+it.Y
		var err error
		switch it.Kind {
		case layout.ItemText:
			err = p.drawText(ctx, it.Text, ix, iy, clip)
		case layout.ItemImage:
			err = p.drawImage(ctx, it.Image, ix, iy, it.Span, clip)
		case layout.ItemRect, layout.ItemCircle, layout.ItemLine:
			drawShape(ctx, it.Kind, it.Shape, ix, iy, clip)
		case layout.ItemFrame:
			if it.Frame != nil {
				err = p.drawFrame(ctx, it.Frame, ix, iy, clip)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// visible reports whether box is drawn at all and whether it needs cutting.
func visible(box canvas.Rect, clip *canvas.Rect) (draw, cut bool) {
	if clip == nil {
		return true, false
	}
	if !clip.Overlaps(box) {
		return false, false
	}
	return true, !clip.Contains(box)
}

// fillPath fills path, given in page coordinates, with c.
func fillPath(ctx *canvas.Context, path *canvas.Path, c color.Color) {
	if path == nil || path.Empty() {
		return
	}
	ctx.Push()
	ctx.SetFillColor(c)
	ctx.SetStrokeColor(canvas.Transparent)
	ctx.DrawPath(0, 0, path)
	ctx.Pop()
}

func (p *painter) drawText(ctx *canvas.Context, run *layout.TextRun, x, y units.Abs, clip *canvas.Rect) error {
	if run.Text == "" {
		return nil
	}
	h := run.Height
	if h < run.Ascent {
		h = run.Ascent
	}
	draw, cut := visible(canvas.RectFromSize(x.Mm(), y.Mm(), run.Width.Mm(), h.Mm()), clip)
	if !draw {
		return nil
	}
	face, err := p.faces.face(run.Font, run.Size, run.Fill)
	if err != nil {
		return err
	}
	// 基线位于行顶部加上升部
	baseline := (y + run.Ascent).Mm()
	if !cut {
		ctx.DrawText(x.Mm(), baseline, canvas.NewTextLine(face, run.Text, canvas.Left))
		return nil
	}
	// 字形轮廓 y 轴向上，翻转到页面坐标后与裁剪区求交
	glyphs, _, err := face.ToPath(run.Text)
	if err != nil {
		return err
	}
	outline := glyphs.Transform(canvas.Identity.ReflectY()).Translate(x.Mm(), baseline)
	fillPath(ctx, outline.And(clip.ToPath()), colorOf(run.Fill))
	return nil
}

func (p *painter) drawImage(ctx *canvas.Context, box *layout.ImageBox, x, y units.Abs, span *diag.Span, clip *canvas.Rect) error {
	if len(box.Data) == 0 || box.Width <= 0 || box.Height <= 0 {
		return nil
	}
	if draw, _ := visible(canvas.RectFromSize(x.Mm(), y.Mm(), box.Width.Mm(), box.Height.Mm()), clip); !draw {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(box.Data))
	if err != nil {
		var at diag.Span
		if span != nil {
			at = *span
		}
		p.warnings.Add(diag.Warnf(diag.ErrIO, at, "解码图片 %s 失败，已跳过: %v", box.Path, err))
		return nil
	}
	img, w, h := fitImage(img, box.Width.Mm(), box.Height.Mm(), box.Fit)
	if w <= 0 || img.Bounds().Dx() == 0 {
		return nil
	}
	dx := (box.Width.Mm() - w) / 2
	dy := (box.Height.Mm() - h) / 2
	r := canvas.RectFromSize(x.Mm()+dx, y.Mm()+dy, w, h)
	draw, cut := visible(r, clip)
	if !draw {
		return nil
	}
	if cut {
		if img, r = cropImage(img, r, clip.And(r)); img == nil {
			return nil
		}
	}
	dpmm := float64(img.Bounds().Dx()) / r.W()
	// CartesianIV 下图片以左下角为锚点
	ctx.DrawImage(r.X0, r.Y1, img, canvas.DPMM(dpmm))
	return nil
}

// cropImage cuts img, drawn into r, down to the part inside vis. The
// returned rect is vis snapped to whole source pixels.
func cropImage(img image.Image, r, vis canvas.Rect) (image.Image, canvas.Rect) {
	b := img.Bounds()
	sx := float64(b.Dx()) / r.W()
	sy := float64(b.Dy()) / r.H()
	x0 := int(math.Floor((vis.X0 - r.X0) * sx))
	y0 := int(math.Floor((vis.Y0 - r.Y0) * sy))
	x1 := int(math.Ceil((vis.X1 - r.X0) * sx))
	y1 := int(math.Ceil((vis.Y1 - r.Y0) * sy))
	x1, y1 = min(x1, b.Dx()), min(y1, b.Dy())
	if x1 <= x0 || y1 <= y0 {
		return nil, vis
	}
	dst := image.NewRGBA(image.Rect(0, 0, x1-x0, y1-y0))
	xdraw.Copy(dst, image.Point{}, img, image.Rect(b.Min.X+x0, b.Min.Y+y0, b.Min.X+x1, b.Min.Y+y1), xdraw.Src, nil)
	return dst, canvas.Rect{
		X0: r.X0 + float64(x0)/sx,
		Y0: r.Y0 + float64(y0)/sy,
		X1: r.X0 + float64(x1)/sx,
		Y1: r.Y0 + float64(y1)/sy,
	}
}

// fitImage adapts img to a w x h box (mm) and returns the image to draw
// together with its drawn size. contain keeps the aspect ratio inside the
// box, cover crops the image to the box ratio, stretch resamples it.
func fitImage(img image.Image, w, h float64, fit string) (image.Image, float64, float64) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return img, 0, 0
	}
	ratio := float64(b.Dx()) / float64(b.Dy())
	switch fit {
	case "cover":
		cw, ch := b.Dx(), b.Dy()
		if ratio > w/h {
			cw = int(math.Round(float64(b.Dy()) * w / h))
		} else {
			ch = int(math.Round(float64(b.Dx()) * h / w))
		}
		if cw < 1 || ch < 1 {
			return img, w, h
		}
		x0 := b.Min.X + (b.Dx()-cw)/2
		y0 := b.Min.Y + (b.Dy()-ch)/2
		dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
		xdraw.Copy(dst, image.Point{}, img, image.Rect(x0, y0, x0+cw, y0+ch), xdraw.Src, nil)
		return dst, w, h
	case "stretch":
		th := int(math.Round(float64(b.Dx()) * h / w))
		if th < 1 || th == b.Dy() {
			return img, w, h
		}
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), th))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		return dst, w, h
	}
	if ratio > w/h {
		return img, w, w / ratio
	}
	return img, h * ratio, h
}

func drawShape(ctx *canvas.Context, kind layout.ItemKind, sh *layout.ShapeBox, x, y units.Abs, clip *canvas.Rect) {
	if sh == nil {
		return
	}
	w := sh.StrokeWidth.Mm()
	if w <= 0 {
		w = defaultStrokeWidth
	}
	var path *canvas.Path
	switch kind {
	case layout.ItemRect:
		path = canvas.Rectangle(sh.Width.Mm(), sh.Height.Mm()).Translate(x.Mm(), y.Mm())
	case layout.ItemCircle:
		r := sh.Radius.Mm()
		path = canvas.Circle(r).Translate(x.Mm()+r, y.Mm()+r)
	case layout.ItemLine:
		path = &canvas.Path{}
		path.MoveTo(x.Mm(), y.Mm())
		path.LineTo(x.Mm()+sh.DX.Mm(), y.Mm()+sh.DY.Mm())
	default:
		return
	}
	bounds := path.Bounds()
	bounds = canvas.Rect{X0: bounds.X0 - w, Y0: bounds.Y0 - w, X1: bounds.X1 + w, Y1: bounds.Y1 + w}
	draw, cut := visible(bounds, clip)
	if !draw {
		return
	}
	if cut {
		area := clip.ToPath()
		if sh.Fill != nil && kind != layout.ItemLine {
			fillPath(ctx, path.And(area), colorOf(*sh.Fill))
		}
		fillPath(ctx, path.Stroke(w, canvas.ButtCap, canvas.MiterJoin, canvas.Tolerance).And(area), colorOf(sh.Stroke))
		return
	}
	if sh.Fill != nil {
		ctx.SetFillColor(colorOf(*sh.Fill))
	} else {
		ctx.SetFillColor(color.RGBA{0, 0, 0, 0})
	}
	ctx.SetStrokeColor(colorOf(sh.Stroke))
	ctx.SetStrokeWidth(w)
	ctx.DrawPath(0, 0, path)
}

func colorOf(c content.Color) color.Color {
	return canvas.RGBA(float64(c.R)/255.0, float64(c.G)/255.0, float64(c.B)/255.0, 1.0)
}
