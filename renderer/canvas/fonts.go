package canvasrenderer

import (
	"fmt"
	"math"
	"sort"

	"github.com/tdewolff/canvas"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/layout"
	"github.com/ByLCY/papyrus/units"
)

// faceCache loads font files from a book into canvas families. Families
// are cached per book face, so a cache must not be shared between
// goroutines.
type faceCache struct {
	book     *fonts.Book
	families map[*fonts.Face]*canvas.FontFamily
	// raster 模式下 CFF 字体替换为内置 TrueType 字体
	raster bool
	subs   map[string]string
}

func newFaceCache(book *fonts.Book) *faceCache {
	if book == nil {
		book = fonts.Shared()
	}
	return &faceCache{book: book, families: map[*fonts.Face]*canvas.FontFamily{}, subs: map[string]string{}}
}

// resolve picks the book face for spec. Unknown families and, when
// rasterizing, faces without TrueType outlines are replaced by a builtin
// face; every replacement is recorded once.
func (fc *faceCache) resolve(spec fonts.Spec) *fonts.Face {
	f, ok := fc.book.Resolve(spec)
	if f == nil {
		return nil
	}
	if !ok {
		fc.substitute(spec.Family, f)
	}
	if fc.raster && !f.TrueType() {
		family := fonts.Sans
		if f.Monospace() {
			family = fonts.Mono
		}
		g, ok := fc.book.Lookup(fonts.Spec{Family: family, Bold: spec.Bold, Italic: spec.Italic})
		if !ok {
			return f
		}
		fc.substitute(f.Family, g)
		f = g
	}
	return f
}

func (fc *faceCache) substitute(family string, with *fonts.Face) {
	if family == "" {
		family = fonts.Sans
	}
	if _, seen := fc.subs[family]; !seen {
		tracer().Debugf("font %s replaced by %s", family, with.Family)
		fc.subs[family] = with.Family
	}
}

// warnings reports the recorded substitutions in family order.
func (fc *faceCache) warnings() diag.List {
	names := make([]string, 0, len(fc.subs))
	for n := range fc.subs {
		names = append(names, n)
	}
	sort.Strings(names)
	var l diag.List
	for _, n := range names {
		l.Add(diag.Warnf(diag.ErrUnsupported, diag.Detached, "字体 %s 不可用，已替换为 %s", n, fc.subs[n]))
	}
	return l
}

func (fc *faceCache) face(spec fonts.Spec, size units.Abs, fill content.Color) (*canvas.FontFace, error) {
	f := fc.resolve(spec)
	if f == nil {
		return nil, fmt.Errorf("找不到字体 %s", spec)
	}
	style := parseFontStyle(f.Style)
	family, ok := fc.families[f]
	if !ok {
		data, err := f.Bytes()
		if err != nil {
			return nil, err
		}
		family = canvas.NewFontFamily(f.Family)
		if err := family.LoadFont(data, 0, style); err != nil {
			return nil, fmt.Errorf("加载字体 %s 失败: %w", f.Family, err)
		}
		fc.families[f] = family
	}
	return family.Face(size.Pt(), colorOf(fill), style, canvas.FontNormal), nil
}

func parseFontStyle(style string) canvas.FontStyle {
	switch style {
	case "bold":
		return canvas.FontBold
	case "italic":
		return canvas.FontRegular | canvas.FontItalic
	case "bolditalic":
		return canvas.FontBold | canvas.FontItalic
	}
	return canvas.FontRegular
}

// Typesetter measures text with the same faces the renderer draws with.
type Typesetter struct {
	faces *faceCache
	// Err keeps the first font loading error; measurements fall back to
	// FixedTypesetter afterwards.
	Err error
}

var _ layout.Typesetter = (*Typesetter)(nil)

// NewTypesetter returns a typesetter backed by book (nil selects
// fonts.Shared()). A typesetter serves one layout at a time.
func NewTypesetter(book *fonts.Book) *Typesetter {
	return &Typesetter{faces: newFaceCache(book)}
}

func (t *Typesetter) fontFace(spec fonts.Spec, size units.Abs) *canvas.FontFace {
	face, err := t.faces.face(spec, size, content.Black)
	if err != nil {
		if t.Err == nil {
			t.Err = err
			tracer().Errorf("typesetter: %v", err)
		}
		return nil
	}
	return face
}

// Measure returns the advance width of text.
func (t *Typesetter) Measure(text string, spec fonts.Spec, size units.Abs) units.Abs {
	face := t.fontFace(spec, size)
	if face == nil {
		return layout.FixedTypesetter{}.Measure(text, spec, size)
	}
	return units.FromMm(face.TextWidth(text))
}

// Metrics returns ascent and descent of the face.
func (t *Typesetter) Metrics(spec fonts.Spec, size units.Abs) layout.Metrics {
	face := t.fontFace(spec, size)
	if face == nil {
		return layout.FixedTypesetter{}.Metrics(spec, size)
	}
	m := face.Metrics()
	return layout.Metrics{
		Ascent:  units.FromMm(math.Abs(m.Ascent)),
		Descent: units.FromMm(math.Abs(m.Descent)),
	}
}
