// Package content defines the elaborated document tree produced by
// evaluation and consumed by layout. Nodes only hold validated values.
package content

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/units"
)

// Kind is the closed set of content node kinds.
type Kind int

const (
	KindSequence Kind = iota
	KindText
	KindSpace
	KindLinebreak
	KindParbreak
	KindStrong
	KindEmph
	KindRaw
	KindHeading
	KindListItem
	KindEnumItem
	KindImage
	KindRect
	KindLine
	KindCircle
	KindTable
	KindPagebreak
	KindVSpace
	KindStyled
	KindAlign
	KindPage
)

var kindNames = [...]string{
	KindSequence:  "sequence",
	KindText:      "text",
	KindSpace:     "space",
	KindLinebreak: "linebreak",
	KindParbreak:  "parbreak",
	KindStrong:    "strong",
	KindEmph:      "emph",
	KindRaw:       "raw",
	KindHeading:   "heading",
	KindListItem:  "list-item",
	KindEnumItem:  "enum-item",
	KindImage:     "image",
	KindRect:      "rect",
	KindLine:      "line",
	KindCircle:    "circle",
	KindTable:     "table",
	KindPagebreak: "pagebreak",
	KindVSpace:    "v",
	KindStyled:    "styled",
	KindAlign:     "align",
	KindPage:      "page",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsBlock reports whether nodes of this kind interrupt a paragraph.
func (k Kind) IsBlock() bool {
	switch k {
	case KindParbreak, KindHeading, KindListItem, KindEnumItem, KindImage, KindRect,
		KindLine, KindCircle, KindTable, KindPagebreak, KindVSpace, KindAlign, KindPage:
		return true
	}
	return false
}

// Node is one element of the content tree.
//
// Field use per kind:
//
//	Text     text body, raw body
//	Lang     raw language
//	Block    raw block vs inline raw
//	Level    heading level (>= 0), enum number (0 = automatic)
//	Amount   vertical space
//	Align    alignment of the children
//	Style    style applied to the children of a styled node
//	Image, Shape, Table, Page  payloads of the respective kinds
type Node struct {
	Kind     Kind       `json:"kind"`
	Span     diag.Span  `json:"span"`
	Text     string     `json:"text,omitempty"`
	Lang     string     `json:"lang,omitempty"`
	Block    bool       `json:"block,omitempty"`
	Level    int        `json:"level,omitempty"`
	Amount   units.Rel  `json:"amount,omitempty"`
	Align    Align      `json:"align,omitempty"`
	Style    *Style     `json:"style,omitempty"`
	Image    *Image     `json:"image,omitempty"`
	Shape    *Shape     `json:"shape,omitempty"`
	Table    *Table     `json:"table,omitempty"`
	Page     *PageSetup `json:"page,omitempty"`
	Children []*Node    `json:"children,omitempty"`
}

// Text creates a text node.
func Text(s string, span diag.Span) *Node { return &Node{Kind: KindText, Text: s, Span: span} }

// Space creates an inter-word space.
func Space(span diag.Span) *Node { return &Node{Kind: KindSpace, Text: " ", Span: span} }

// Sequence wraps nodes. Nested sequences are flattened and nil entries dropped.
func Sequence(nodes ...*Node) *Node {
	seq := &Node{Kind: KindSequence}
	for _, n := range nodes {
		seq.Append(n)
	}
	return seq
}

// Append adds n to a sequence, flattening nested sequences.
func (n *Node) Append(c *Node) {
	if c == nil {
		return
	}
	if c.Kind == KindSequence {
		for _, cc := range c.Children {
			n.Append(cc)
		}
		return
	}
	n.Children = append(n.Children, c)
}

// Join concatenates two content values.
func Join(a, b *Node) *Node { return Sequence(a, b) }

// IsEmpty reports whether the node produces nothing.
func (n *Node) IsEmpty() bool {
	if n == nil {
		return true
	}
	if n.Kind == KindSequence {
		for _, c := range n.Children {
			if !c.IsEmpty() {
				return false
			}
		}
		return true
	}
	return false
}

// PlainText extracts the textual content of n.
func PlainText(n *Node) string {
	var b strings.Builder
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case KindText, KindRaw:
			b.WriteString(n.Text)
		case KindSpace:
			b.WriteByte(' ')
		case KindLinebreak, KindParbreak:
			b.WriteByte('\n')
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Walk visits n and its descendants in document order until fn returns false.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
	if n.Page != nil {
		Walk(n.Page.Header, fn)
		Walk(n.Page.Footer, fn)
	}
	if n.Table != nil {
		for _, cell := range n.Table.Cells {
			Walk(cell, fn)
		}
	}
}

// Align is a horizontal alignment.
type Align string

const (
	AlignNone   Align = ""
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// ParseAlign accepts left/start, center and right/end.
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "start":
		return AlignLeft, nil
	case "center":
		return AlignCenter, nil
	case "right", "end":
		return AlignRight, nil
	}
	return AlignNone, fmt.Errorf("unknown alignment %q", s)
}

// Wrap modes of paragraph line breaking.
const (
	WrapAnywhere  = "anywhere"
	WrapBreakWord = "break-word"
	WrapNowrap    = "nowrap"
)

// NormalizeWrap maps user spellings onto the wrap modes.
func NormalizeWrap(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "anywhere", "normal":
		return WrapAnywhere, nil
	case "break-word", "break":
		return WrapBreakWord, nil
	case "nowrap", "none":
		return WrapNowrap, nil
	}
	return "", fmt.Errorf("unknown wrap mode %q", v)
}

// Color is an RGB color.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Black is the default text color.
var Black = Color{}

var namedColors = map[string]Color{
	"black": {0, 0, 0},
	"white": {255, 255, 255},
	"gray":  {128, 128, 128},
	"red":   {255, 65, 54},
	"green": {46, 204, 64},
	"blue":  {0, 116, 217},
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa (alpha ignored) and a few
// color names.
func ParseColor(value string) (Color, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if c, ok := namedColors[v]; ok {
		return c, nil
	}
	v = strings.TrimPrefix(v, "#")
	switch len(v) {
	case 3:
		v = strings.Repeat(v[0:1], 2) + strings.Repeat(v[1:2], 2) + strings.Repeat(v[2:3], 2)
	case 6, 8:
		v = v[:6]
	default:
		return Color{}, fmt.Errorf("颜色值 %s 无法解析", value)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("颜色值 %s 无法解析", value)
	}
	return Color{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}

// Hex returns the #rrggbb form.
func (c Color) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// Style is a set of text properties. Zero fields are unset and inherit.
type Style struct {
	Font       string                `json:"font,omitempty"`
	Size       units.Length          `json:"size,omitempty"`
	Fill       *Color                `json:"fill,omitempty"`
	Bold       *bool                 `json:"bold,omitempty"`
	Italic     *bool                 `json:"italic,omitempty"`
	LineHeight *units.LineHeightSpec `json:"lineHeight,omitempty"`
	Wrap       string                `json:"wrap,omitempty"`
	Justify    Align                 `json:"align,omitempty"`
}

// Merge returns s overlaid by o.
func (s Style) Merge(o *Style) Style {
	if o == nil {
		return s
	}
	if o.Font != "" {
		s.Font = o.Font
	}
	if !o.Size.IsZero() {
		s.Size = o.Size
	}
	if o.Fill != nil {
		s.Fill = o.Fill
	}
	if o.Bold != nil {
		s.Bold = o.Bold
	}
	if o.Italic != nil {
		s.Italic = o.Italic
	}
	if o.LineHeight != nil {
		s.LineHeight = o.LineHeight
	}
	if o.Wrap != "" {
		s.Wrap = o.Wrap
	}
	if o.Justify != AlignNone {
		s.Justify = o.Justify
	}
	return s
}

// Image is a decoded raster image reference.
type Image struct {
	Path   string `json:"path"`
	Data   []byte `json:"-"`
	Format string `json:"format"`
	PixelW int    `json:"pixelWidth"`
	PixelH int    `json:"pixelHeight"`
	// Width and Height are optional; zero means derive from the other side
	// or from the pixel size.
	Width  units.Rel `json:"width,omitempty"`
	Height units.Rel `json:"height,omitempty"`
	Fit    string    `json:"fit,omitempty"`
}

// Shape describes rect, line and circle nodes.
type Shape struct {
	Width  units.Rel    `json:"width,omitempty"`
	Height units.Rel    `json:"height,omitempty"`
	Radius units.Length `json:"radius,omitempty"`
	// line end point relative to its start
	DX units.Rel `json:"dx,omitempty"`
	DY units.Rel `json:"dy,omitempty"`

	Fill        *Color       `json:"fill,omitempty"`
	Stroke      Color        `json:"stroke"`
	StrokeWidth units.Length `json:"strokeWidth,omitempty"`
}

// Table is a grid of cells filled row by row.
type Table struct {
	Columns int          `json:"columns"`
	Header  bool         `json:"header,omitempty"`
	Stroke  Color        `json:"stroke"`
	Inset   units.Length `json:"inset,omitempty"`
	Cells   []*Node      `json:"cells"`
}

// Rows splits the cells into rows of Columns entries.
func (t *Table) Rows() [][]*Node {
	cols := t.Columns
	if cols <= 0 {
		cols = 1
	}
	var rows [][]*Node
	for i := 0; i < len(t.Cells); i += cols {
		end := i + cols
		if end > len(t.Cells) {
			end = len(t.Cells)
		}
		rows = append(rows, t.Cells[i:end])
	}
	return rows
}

// PageSetup changes the page geometry from this point on. Zero fields keep
// the current setting.
type PageSetup struct {
	Paper     string       `json:"paper,omitempty"`
	Width     units.Length `json:"width,omitempty"`
	Height    units.Length `json:"height,omitempty"`
	Landscape bool         `json:"landscape,omitempty"`
	Margin    units.Length `json:"margin,omitempty"`
	Header    *Node        `json:"header,omitempty"`
	Footer    *Node        `json:"footer,omitempty"`
	// Numbering is a pattern such as "1" or "- 1 / N -": the first "1" is the
	// page number and "N" the page count. Empty disables numbering.
	Numbering string `json:"numbering,omitempty"`
}

// FormatNumber expands a numbering pattern.
func FormatNumber(pattern string, page, total int) string {
	if pattern == "" {
		return ""
	}
	out := strings.Replace(pattern, "1", strconv.Itoa(page), 1)
	return strings.Replace(out, "N", strconv.Itoa(total), 1)
}
