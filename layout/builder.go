package layout

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/npillmayer/schuko/tracing"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/units"
)

// tracer writes to trace with key 'papyrus.layout'
func tracer() tracing.Trace {
	return tracing.Select("papyrus.layout")
}

const (
	defaultFontSize = 11   // pt
	blockSpacing    = 0.65 // em of the base font size
	markerGap       = 0.5  // em
)

var (
	defaultStroke    = units.FromPt(1)
	tableBorderWidth = units.FromMm(0.2)
)

// Build 根据内容树生成页面帧树。尺寸自下而上测量，位置自上而下分配，
// 按行贪心分页。
func Build(tree *content.Node, opts BuildOptions) (*Result, error) {
	if opts.Typesetter == nil {
		return nil, fmt.Errorf("layout: 缺少排版后端 Typesetter")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height, _ = units.Paper("A4")
	}
	if opts.FontSize <= 0 {
		opts.FontSize = units.FromPt(defaultFontSize)
	}
	res := &Result{index: map[*content.Node]int{}}
	pc := newPageCollector(pageSetup{width: opts.Width, height: opts.Height, margin: opts.Margin})
	b := &builder{
		opts:  opts,
		ts:    opts.Typesetter,
		res:   res,
		pages: pc,
		frame: pc.curr().body,
		width: pc.curr().setup.bodyWidth(),
		base: textStyle{
			font: fonts.Spec{Family: opts.Font},
			size: opts.FontSize,
			wrap: content.WrapAnywhere,
		},
	}
	if tree != nil {
		b.flow(tree, b.base)
	}
	b.flush()
	res.Pages = b.finish()
	tracer().Debugf("layout: %d pages, %d anchors", len(res.Pages), len(res.Anchors))
	return res, nil
}

// builder 是流式排版上下文。pages 为空时表示不分页的区域（单元格、页眉、页脚）。
type builder struct {
	opts  BuildOptions
	ts    Typesetter
	res   *Result
	pages *pageCollector
	frame *Frame
	base  textStyle

	width  units.Abs
	cursor units.Abs
	indent units.Abs
	align  content.Align

	par    []piece
	marker *marker
	enum   int
}

type marker struct {
	run TextRun
	x   units.Abs
}

// region creates a builder for an unpaginated frame of the given width.
func (b *builder) region(role Role, width units.Abs) *builder {
	return &builder{
		opts:  b.opts,
		ts:    b.ts,
		frame: &Frame{Role: role, Width: width},
		base:  b.base,
		width: width,
	}
}

func (b *builder) close() *Frame {
	b.flush()
	b.frame.Height = b.cursor
	return b.frame
}

func (b *builder) flow(n *content.Node, st textStyle) {
	switch n.Kind {
	case content.KindSequence:
		b.children(n, st)
	case content.KindText:
		b.par = append(b.par, piece{text: n.Text, style: st})
	case content.KindSpace:
		b.par = append(b.par, piece{text: " ", style: st})
	case content.KindLinebreak:
		b.par = append(b.par, piece{newline: true, style: st})
	case content.KindStrong:
		st.font.Bold = true
		b.children(n, st)
	case content.KindEmph:
		st.font.Italic = true
		b.children(n, st)
	case content.KindStyled:
		b.children(n, st.apply(n.Style))
	case content.KindRaw:
		if !n.Block {
			b.par = append(b.par, piece{text: n.Text, style: st.mono()})
			break
		}
		b.flush()
		b.raw(n, st.mono())
	case content.KindParbreak:
		b.flush()
	case content.KindHeading:
		b.flush()
		b.heading(n, st)
	case content.KindListItem, content.KindEnumItem:
		b.flush()
		b.listItem(n, st)
	case content.KindImage:
		b.flush()
		b.image(n, st)
	case content.KindRect, content.KindLine, content.KindCircle:
		b.flush()
		b.shape(n, st)
	case content.KindTable:
		b.flush()
		b.table(n, st)
	case content.KindPagebreak:
		b.flush()
		if b.pages != nil {
			b.newPage()
		}
	case content.KindVSpace:
		b.flush()
		b.vspace(n, st)
	case content.KindAlign:
		b.flush()
		prev := b.align
		b.align = n.Align
		b.children(n, st)
		b.flush()
		b.align = prev
	case content.KindPage:
		b.flush()
		b.pageSetup(n.Page, st)
	}
	switch n.Kind {
	case content.KindEnumItem, content.KindParbreak:
	default:
		if n.Kind.IsBlock() {
			b.enum = 0
		}
	}
}

func (b *builder) children(n *content.Node, st textStyle) {
	for _, c := range n.Children {
		if c != nil {
			b.flow(c, st)
		}
	}
}

// flush 将累积的行内内容排成一个段落。
func (b *builder) flush() {
	pieces := b.par
	b.par = nil
	if len(pieces) == 0 && b.marker == nil {
		return
	}
	toks := tokenize(pieces)
	if !hasWords(toks) {
		if b.marker == nil {
			return
		}
		toks = nil
	}
	st := b.base
	if len(pieces) > 0 {
		st = pieces[0].style
	}
	b.paragraph(toks, st, nil)
}

func hasWords(toks []token) bool {
	for _, t := range toks {
		if t.kind != tokSpace {
			return true
		}
	}
	return false
}

// paragraph breaks toks into lines and places them line by line, starting
// a new page whenever a line does not fit.
func (b *builder) paragraph(toks []token, st textStyle, anchor *content.Node) {
	align := b.align
	if st.align != content.AlignNone {
		align = st.align
	}
	avail := b.width - b.indent
	lines := wrapTokens(toks, avail, st.wrap, b.ts)
	if len(lines) == 0 {
		if b.marker == nil && anchor == nil {
			return
		}
		lines = []textLine{{}}
	}
	b.gap()
	for i, l := range lines {
		h, asc := lineBox(l, st, b.ts)
		b.reserve(h)
		if i == 0 && anchor != nil {
			b.anchor(anchor)
		}
		b.placeMarker(h, asc)
		x := b.indent + alignOffset(avail, l.width, align)
		for _, r := range l.runs() {
			run := r
			run.Height, run.Ascent = h, asc
			b.push(x, b.cursor, Item{Kind: ItemText, Text: &run}, nil)
			x += run.Width
		}
		b.cursor += h
	}
}

func (b *builder) heading(n *content.Node, st textStyle) {
	factor := 1.0
	switch {
	case n.Level <= 1:
		factor = 1.4
	case n.Level == 2:
		factor = 1.2
	}
	st.size = st.size.Scale(factor)
	st.font.Bold = true
	saved := b.par
	b.par = nil
	b.children(n, st)
	toks := tokenize(b.par)
	b.par = saved
	b.paragraph(toks, st, n)
}

func (b *builder) raw(n *content.Node, st textStyle) {
	st.wrap = content.WrapNowrap
	var toks []token
	for i, line := range strings.Split(strings.TrimRight(n.Text, "\n"), "\n") {
		if i > 0 {
			toks = append(toks, token{kind: tokBreak, style: st})
		}
		if line != "" {
			toks = append(toks, token{kind: tokWord, text: strings.ReplaceAll(line, "\t", "    "), style: st})
		}
	}
	b.paragraph(toks, st, n)
}

func (b *builder) listItem(n *content.Node, st textStyle) {
	label := "•"
	if n.Kind == content.KindEnumItem {
		if n.Level > 0 {
			b.enum = n.Level
		} else {
			b.enum++
		}
		label = strconv.Itoa(b.enum) + "."
	}
	enum := b.enum
	w := b.ts.Measure(label, st.font, st.size)
	step := w + st.size.Scale(markerGap)
	b.marker = &marker{
		run: TextRun{Text: label, Font: st.font, Size: st.size, Fill: st.fill, Width: w},
		x:   b.indent,
	}
	b.indent += step
	b.children(n, st)
	b.flush()
	b.indent -= step
	b.enum = enum
}

// placeMarker draws a pending list marker next to the line or box placed at
// the cursor.
func (b *builder) placeMarker(h, asc units.Abs) {
	if b.marker == nil {
		return
	}
	run := b.marker.run
	run.Height, run.Ascent = h, asc
	b.push(b.marker.x, b.cursor, Item{Kind: ItemText, Text: &run}, nil)
	b.marker = nil
}

func (b *builder) boxMarker(st textStyle) {
	if b.marker == nil {
		return
	}
	m := b.ts.Metrics(st.font, st.size)
	b.placeMarker(m.Ascent+m.Descent, m.Ascent)
}

func (b *builder) image(n *content.Node, st textStyle) {
	img := n.Image
	avail := b.width - b.indent
	w, h := b.imageSize(img, avail, st.size)
	w, h = b.fit(n, w, h, true)
	b.gap()
	b.reserve(h)
	b.anchor(n)
	b.boxMarker(st)
	x := b.indent + alignOffset(avail, w, b.align)
	b.push(x, b.cursor, Item{Kind: ItemImage, Image: &ImageBox{
		Path:   img.Path,
		Format: img.Format,
		Data:   img.Data,
		Width:  w,
		Height: h,
		Fit:    img.Fit,
	}}, n)
	b.cursor += h
}

// imageSize derives the box of an image: explicit sides win, a single side
// keeps the pixel aspect ratio, otherwise 1px = 0.75pt.
func (b *builder) imageSize(img *content.Image, avail, em units.Abs) (units.Abs, units.Abs) {
	var w, h units.Abs
	if !img.Width.IsZero() {
		w = img.Width.Resolve(avail, em)
	}
	if !img.Height.IsZero() {
		h = img.Height.Resolve(b.heightBase(), em)
	}
	if img.PixelW <= 0 || img.PixelH <= 0 {
		if w == 0 {
			w = avail
		}
		if h == 0 {
			h = w.Scale(0.6)
		}
		return w, h
	}
	aspect := float64(img.PixelH) / float64(img.PixelW)
	switch {
	case w == 0 && h == 0:
		w = units.FromPt(float64(img.PixelW) * 0.75)
		h = units.FromPt(float64(img.PixelH) * 0.75)
	case h == 0:
		h = w.Scale(aspect)
	case w == 0:
		w = h.Scale(1 / aspect)
	}
	return w, h
}

func (b *builder) heightBase() units.Abs {
	if b.pages != nil {
		return b.pages.bodyHeight()
	}
	return b.width
}

func (b *builder) maxHeight() units.Abs {
	if b.pages != nil {
		return b.pages.bodyHeight()
	}
	return units.Infinite
}

// fit shrinks a box that exceeds the column width or the page body height
// and reports a LayoutOverflow warning.
func (b *builder) fit(n *content.Node, w, h units.Abs, keepAspect bool) (units.Abs, units.Abs) {
	maxW, maxH := b.width-b.indent, b.maxHeight()
	if w <= maxW && h <= maxH {
		return w, h
	}
	if keepAspect {
		f := 1.0
		if w > maxW {
			f = float64(maxW) / float64(w)
		}
		if h > maxH {
			f = math.Min(f, float64(maxH)/float64(h))
		}
		w, h = w.Scale(f), h.Scale(f)
	} else {
		w, h = w.Min(maxW), h.Min(maxH)
	}
	b.overflow(n, "%s does not fit on the page and was scaled down", n.Kind)
	return w, h
}

func (b *builder) overflow(n *content.Node, format string, args ...any) {
	tracer().Debugf("overflow at %s: "+format, append([]any{n.Span}, args...)...)
	if b.opts.Diagnostics != nil {
		b.opts.Diagnostics.Add(diag.Warnf(diag.ErrOverflow, n.Span, format, args...))
	}
}

func (b *builder) shape(n *content.Node, st textStyle) {
	sh := n.Shape
	avail := b.width - b.indent
	box := &ShapeBox{Fill: sh.Fill, Stroke: sh.Stroke, StrokeWidth: sh.StrokeWidth.Resolve(st.size)}
	if box.StrokeWidth <= 0 {
		box.StrokeWidth = defaultStroke
	}
	var (
		kind   ItemKind
		w, h   units.Abs
		offset units.Abs // vertical offset of the item inside its box
		dx0    units.Abs
	)
	switch n.Kind {
	case content.KindRect:
		kind = ItemRect
		w, h = b.fit(n, sh.Width.Resolve(avail, st.size), sh.Height.Resolve(b.heightBase(), st.size), false)
		box.Width, box.Height = w, h
	case content.KindCircle:
		kind = ItemCircle
		d := 2 * sh.Radius.Resolve(st.size)
		w, h = b.fit(n, d, d, true)
		box.Radius = w / 2
	case content.KindLine:
		kind = ItemLine
		dx, dy := sh.DX.Resolve(avail, st.size), sh.DY.Resolve(b.heightBase(), st.size)
		aw, ah := abs(dx), abs(dy)
		fw, fh := b.fit(n, aw, ah, true)
		if aw > 0 && fw != aw {
			dx, dy = dx.Scale(float64(fw)/float64(aw)), dy.Scale(float64(fw)/float64(aw))
		} else if ah > 0 && fh != ah {
			dx, dy = dx.Scale(float64(fh)/float64(ah)), dy.Scale(float64(fh)/float64(ah))
		}
		box.DX, box.DY = dx, dy
		w, h = abs(dx), abs(dy)+box.StrokeWidth
		if dy < 0 {
			offset = -dy
		}
		if dx < 0 {
			dx0 = -dx
		}
		offset += box.StrokeWidth / 2
	}
	b.gap()
	b.reserve(h)
	b.anchor(n)
	b.boxMarker(st)
	x := b.indent + alignOffset(avail, w, b.align) + dx0
	b.push(x, b.cursor+offset, Item{Kind: kind, Shape: box}, n)
	b.cursor += h
}

func abs(a units.Abs) units.Abs {
	if a < 0 {
		return -a
	}
	return a
}

// table 按行排版表格；跨页时在新页重复表头行。
func (b *builder) table(n *content.Node, st textStyle) {
	t := n.Table
	cols := t.Columns
	if cols < 1 {
		cols = 1
	}
	avail := b.width - b.indent
	colW := avail / units.Abs(cols)
	inset := t.Inset.Resolve(st.size)
	cellW := colW - 2*inset
	if cellW <= 0 {
		cellW, inset = colW, 0
	}

	var rows []*Frame
	for i, cells := range t.Rows() {
		row := &Frame{Role: RoleRow, Width: avail}
		cst := st
		if t.Header && i == 0 {
			cst.font.Bold = true
		}
		var frames []*Frame
		for _, cell := range cells {
			sub := b.region(RoleCell, cellW)
			sub.align = b.align
			sub.flow(cell, cst)
			f := sub.close()
			frames = append(frames, f)
			row.Height = row.Height.Max(f.Height + 2*inset)
		}
		for j, f := range frames {
			x := units.Abs(j) * colW
			row.Push(x, 0, Item{Kind: ItemRect, Shape: &ShapeBox{
				Width: colW, Height: row.Height, Stroke: t.Stroke, StrokeWidth: tableBorderWidth,
			}})
			row.Push(x+inset, inset, Item{Kind: ItemFrame, Frame: f})
		}
		rows = append(rows, row)
	}

	b.gap()
	var seg *Frame
	for i, row := range rows {
		before := b.frame
		if !b.reserve(row.Height) {
			clipFrame(row, b.maxHeight())
			b.overflow(n, "table row %d is taller than the page and was clipped", i+1)
		}
		if seg == nil || b.frame != before {
			if seg == nil {
				b.anchor(n)
				b.boxMarker(st)
			}
			seg = &Frame{Role: RoleTable, Width: avail}
			b.push(b.indent, b.cursor, Item{Kind: ItemFrame, Frame: seg}, n)
			if t.Header && i > 0 && rows[0].Height+row.Height <= b.maxHeight() {
				hdr := *rows[0]
				seg.Push(0, 0, Item{Kind: ItemFrame, Frame: &hdr})
				seg.Height += hdr.Height
				b.cursor += hdr.Height
			}
		}
		seg.Push(0, seg.Height, Item{Kind: ItemFrame, Frame: row})
		seg.Height += row.Height
		b.cursor += row.Height
	}
}

// clipFrame cuts f to height h, dropping items that start below it.
func clipFrame(f *Frame, h units.Abs) {
	if f.Height <= h {
		return
	}
	f.Height, f.Clip = h, true
	kept := f.Items[:0]
	for _, it := range f.Items {
		if it.Y >= h {
			continue
		}
		switch it.Kind {
		case ItemFrame:
			clipFrame(it.Frame, h-it.Y)
		case ItemRect:
			if it.Y+it.Shape.Height > h {
				it.Shape.Height = h - it.Y
			}
		}
		kept = append(kept, it)
	}
	f.Items = kept
}

func (b *builder) vspace(n *content.Node, st textStyle) {
	amount := n.Amount.Resolve(b.heightBase(), st.size)
	if b.pages != nil && b.cursor+amount > b.pages.bodyHeight() {
		b.newPage()
		return
	}
	b.cursor = (b.cursor + amount).Max(0)
}

func (b *builder) pageSetup(ps *content.PageSetup, st textStyle) {
	if b.pages == nil || ps == nil {
		return
	}
	setup := b.pages.setup.with(ps, st.size)
	if b.pages.curr().used {
		b.pages.setup = setup
		b.newPage()
		return
	}
	b.pages.replace(setup)
	b.width = setup.bodyWidth()
}

// gap inserts block spacing unless the cursor is at the top of the region.
func (b *builder) gap() {
	if b.cursor > 0 {
		b.cursor += b.opts.FontSize.Scale(blockSpacing)
	}
}

// reserve 在剩余空间不足时换页，并报告 h 是否能放进一个空页面。
func (b *builder) reserve(h units.Abs) bool {
	if b.pages == nil {
		return true
	}
	limit := b.pages.bodyHeight()
	if b.cursor > 0 && b.cursor+h > limit {
		b.newPage()
	}
	return h <= limit
}

func (b *builder) newPage() {
	p := b.pages.newPage()
	b.frame = p.body
	b.width = p.setup.bodyWidth()
	b.cursor = 0
}

func (b *builder) push(x, y units.Abs, it Item, n *content.Node) {
	if n != nil && b.opts.Debug.Spans {
		span := n.Span
		it.Span = &span
	}
	b.frame.Push(x, y, it)
	if b.pages != nil {
		b.pages.curr().used = true
	}
}

func (b *builder) anchor(n *content.Node) {
	if b.res == nil || b.pages == nil {
		return
	}
	a := Anchor{Kind: n.Kind.String(), Page: len(b.pages.pages), Y: b.cursor, Span: n.Span}
	switch n.Kind {
	case content.KindHeading:
		a.Label = strings.TrimSpace(content.PlainText(n))
		a.Level = n.Level
	case content.KindImage:
		a.Label = n.Image.Path
	case content.KindRaw:
		a.Label = n.Lang
	}
	b.res.index[n] = len(b.res.Anchors)
	b.res.Anchors = append(b.res.Anchors, a)
}

// finish 为每一页排版页眉、页脚与页码，并组装根帧。
func (b *builder) finish() []Page {
	total := len(b.pages.pages)
	out := make([]Page, total)
	for i, p := range b.pages.pages {
		s := p.setup
		root := &Frame{Role: RolePage, Width: s.width, Height: s.height}
		if s.header != nil {
			hf := b.marginal(RoleHeader, s.header, s)
			y := ((s.margin.Top - hf.Height) / 2).Max(0)
			root.Push(s.margin.Left, y, Item{Kind: ItemFrame, Frame: hf})
		}
		root.Push(s.margin.Left, s.margin.Top, Item{Kind: ItemFrame, Frame: p.body})
		footer := s.footer
		if footer == nil && s.numbering != "" {
			footer = &content.Node{Kind: content.KindAlign, Align: content.AlignCenter, Children: []*content.Node{
				content.Text(content.FormatNumber(s.numbering, i+1, total), diag.Span{}),
			}}
		}
		if footer != nil {
			ff := b.marginal(RoleFooter, footer, s)
			y := s.height - s.margin.Bottom + ((s.margin.Bottom - ff.Height) / 2).Max(0)
			root.Push(s.margin.Left, y, Item{Kind: ItemFrame, Frame: ff})
		}
		out[i] = Page{Number: i + 1, Width: s.width, Height: s.height, Margin: s.margin, Frame: root}
	}
	return out
}

func (b *builder) marginal(role Role, n *content.Node, s pageSetup) *Frame {
	sub := b.region(role, s.bodyWidth())
	sub.flow(n, b.base)
	return sub.close()
}

type pageSetup struct {
	width, height  units.Abs
	margin         Margin
	header, footer *content.Node
	numbering      string
}

func (s pageSetup) bodyWidth() units.Abs {
	return (s.width - s.margin.Left - s.margin.Right).Max(units.Pt)
}

func (s pageSetup) bodyHeight() units.Abs {
	return (s.height - s.margin.Top - s.margin.Bottom).Max(units.Pt)
}

// with overlays the set fields of ps.
func (s pageSetup) with(ps *content.PageSetup, em units.Abs) pageSetup {
	if ps.Paper != "" {
		if w, h, err := units.Paper(ps.Paper); err == nil {
			s.width, s.height = w, h
		}
	}
	if !ps.Width.IsZero() {
		s.width = ps.Width.Resolve(em)
	}
	if !ps.Height.IsZero() {
		s.height = ps.Height.Resolve(em)
	}
	if ps.Landscape && s.width < s.height {
		s.width, s.height = s.height, s.width
	}
	if !ps.Margin.IsZero() {
		s.margin = Uniform(ps.Margin.Resolve(em))
	}
	if ps.Header != nil {
		s.header = ps.Header
	}
	if ps.Footer != nil {
		s.footer = ps.Footer
	}
	if ps.Numbering != "" {
		s.numbering = ps.Numbering
	}
	return s
}

type pageState struct {
	setup pageSetup
	body  *Frame
	used  bool
}

type pageCollector struct {
	setup pageSetup
	pages []*pageState
}

func newPageCollector(setup pageSetup) *pageCollector {
	pc := &pageCollector{setup: setup}
	pc.newPage()
	return pc
}

func (pc *pageCollector) newPage() *pageState {
	p := &pageState{setup: pc.setup}
	p.body = &Frame{Role: RoleBody, Width: pc.setup.bodyWidth(), Height: pc.setup.bodyHeight()}
	pc.pages = append(pc.pages, p)
	return p
}

func (pc *pageCollector) curr() *pageState {
	return pc.pages[len(pc.pages)-1]
}

// replace changes the setup of the current, still empty page.
func (pc *pageCollector) replace(setup pageSetup) {
	pc.setup = setup
	p := pc.curr()
	p.setup = setup
	p.body.Width, p.body.Height = setup.bodyWidth(), setup.bodyHeight()
}

func (pc *pageCollector) bodyHeight() units.Abs {
	return pc.curr().setup.bodyHeight()
}
