package layout

import (
	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/units"
)

// 该文件定义布局结果（页面与帧树），供导出器与调试 JSON 共用。
// 所有坐标均为 units.Abs，相对于所在帧的左上角。

// Result 保存布局后的页面与锚点。布局返回后不再修改。
type Result struct {
	Pages   []Page   `json:"pages"`
	Anchors []Anchor `json:"anchors,omitempty"`

	index map[*content.Node]int
}

// PageOf returns the 1-based page on which n was placed. Only headings,
// images, shapes, tables and raw blocks are recorded.
func (r *Result) PageOf(n *content.Node) (int, bool) {
	if r == nil || r.index == nil {
		return 0, false
	}
	i, ok := r.index[n]
	if !ok {
		return 0, false
	}
	return r.Anchors[i].Page, true
}

// Anchor records where an introspectable element landed.
type Anchor struct {
	Kind  string    `json:"kind"`
	Label string    `json:"label,omitempty"`
	Level int       `json:"level,omitempty"`
	Page  int       `json:"page"`
	Y     units.Abs `json:"y"`
	Span  diag.Span `json:"span"`
}

// Page 记录页面尺寸、边距与根帧。
type Page struct {
	Number int       `json:"number"`
	Width  units.Abs `json:"width"`
	Height units.Abs `json:"height"`
	Margin Margin    `json:"margin"`
	Frame  *Frame    `json:"frame"`
}

// Margin of a page.
type Margin struct {
	Top    units.Abs `json:"top"`
	Right  units.Abs `json:"right"`
	Bottom units.Abs `json:"bottom"`
	Left   units.Abs `json:"left"`
}

// Uniform returns a margin with all sides set to a.
func Uniform(a units.Abs) Margin { return Margin{a, a, a, a} }

// Role is the semantic role of a frame.
type Role string

const (
	RolePage   Role = "page"
	RoleHeader Role = "header"
	RoleFooter Role = "footer"
	RoleBody   Role = "body"
	RoleTable  Role = "table"
	RoleRow    Role = "row"
	RoleCell   Role = "cell"
)

// Frame is a positioned, sized region.
type Frame struct {
	Role   Role      `json:"role"`
	Width  units.Abs `json:"width"`
	Height units.Abs `json:"height"`
	Clip   bool      `json:"clip,omitempty"`
	Items  []Item    `json:"items"`
}

// Push appends an item at (x, y).
func (f *Frame) Push(x, y units.Abs, it Item) {
	it.X, it.Y = x, y
	f.Items = append(f.Items, it)
}

// Walk visits the items of f and its nested frames in document order with
// absolute coordinates. Frame items are visited before their contents.
func (f *Frame) Walk(x, y units.Abs, fn func(it *Item, x, y units.Abs)) {
	for i := range f.Items {
		it := &f.Items[i]
		fn(it, x+it.X, y+it.Y)
		if it.Kind == ItemFrame && it.Frame != nil {
			it.Frame.Walk(x+it.X, y+it.Y, fn)
		}
	}
}

// ItemKind is the closed set of frame items.
type ItemKind string

const (
	ItemText   ItemKind = "text"
	ItemImage  ItemKind = "image"
	ItemLine   ItemKind = "line"
	ItemRect   ItemKind = "rect"
	ItemCircle ItemKind = "circle"
	ItemFrame  ItemKind = "frame"
)

// Item is one positioned element of a frame. Exactly one payload is set,
// matching Kind.
type Item struct {
	Kind  ItemKind   `json:"kind"`
	X     units.Abs  `json:"x"`
	Y     units.Abs  `json:"y"`
	Text  *TextRun   `json:"text,omitempty"`
	Image *ImageBox  `json:"image,omitempty"`
	Shape *ShapeBox  `json:"shape,omitempty"`
	Frame *Frame     `json:"frame,omitempty"`
	Span  *diag.Span `json:"span,omitempty"`
}

// Height returns the vertical extent of the item.
func (it *Item) Height() units.Abs {
	switch it.Kind {
	case ItemText:
		return it.Text.Height
	case ItemImage:
		return it.Image.Height
	case ItemRect:
		return it.Shape.Height
	case ItemCircle:
		return 2 * it.Shape.Radius
	case ItemLine:
		if it.Shape.DY < 0 {
			return 0
		}
		return it.Shape.DY
	case ItemFrame:
		return it.Frame.Height
	}
	return 0
}

// TextRun is a single-style piece of a line. The baseline lies Ascent
// below the item position.
type TextRun struct {
	Text   string        `json:"text"`
	Font   fonts.Spec    `json:"font"`
	Size   units.Abs     `json:"size"`
	Fill   content.Color `json:"fill"`
	Width  units.Abs     `json:"width"`
	Height units.Abs     `json:"height"`
	Ascent units.Abs     `json:"ascent"`
}

// ImageBox is a placed raster image.
type ImageBox struct {
	Path   string    `json:"path"`
	Format string    `json:"format"`
	Data   []byte    `json:"-"`
	Width  units.Abs `json:"width"`
	Height units.Abs `json:"height"`
	Fit    string    `json:"fit,omitempty"`
}

// ShapeBox describes rects (Width, Height), circles (Radius; the item
// position is the top-left of the bounding box) and lines (DX, DY from the
// item position).
type ShapeBox struct {
	Width       units.Abs      `json:"width,omitempty"`
	Height      units.Abs      `json:"height,omitempty"`
	Radius      units.Abs      `json:"radius,omitempty"`
	DX          units.Abs      `json:"dx,omitempty"`
	DY          units.Abs      `json:"dy,omitempty"`
	Fill        *content.Color `json:"fill,omitempty"`
	Stroke      content.Color  `json:"stroke"`
	StrokeWidth units.Abs      `json:"strokeWidth"`
}
