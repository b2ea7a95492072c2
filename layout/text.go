package layout

import (
	"strings"
	"unicode"

	"github.com/ByLCY/papyrus/content"
	"github.com/ByLCY/papyrus/fonts"
	"github.com/ByLCY/papyrus/units"
)

// textStyle is the resolved style of inline content.
type textStyle struct {
	font    fonts.Spec
	size    units.Abs
	fill    content.Color
	leading units.LineHeightSpec
	wrap    string
	align   content.Align
}

func (s textStyle) apply(st *content.Style) textStyle {
	if st == nil {
		return s
	}
	if st.Font != "" {
		s.font.Family = st.Font
	}
	if !st.Size.IsZero() {
		s.size = st.Size.Resolve(s.size)
	}
	if st.Fill != nil {
		s.fill = *st.Fill
	}
	if st.Bold != nil {
		s.font.Bold = *st.Bold
	}
	if st.Italic != nil {
		s.font.Italic = *st.Italic
	}
	if st.LineHeight != nil {
		s.leading = *st.LineHeight
	}
	if w, err := content.NormalizeWrap(st.Wrap); err == nil && st.Wrap != "" {
		s.wrap = w
	}
	if st.Justify != content.AlignNone {
		s.align = st.Justify
	}
	return s
}

func (s textStyle) mono() textStyle {
	s.font.Family = fonts.Mono
	return s
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokSpace
	tokBreak
)

type token struct {
	kind  tokenKind
	text  string
	style textStyle
	width units.Abs
}

// piece is inline content waiting for line breaking.
type piece struct {
	text    string
	style   textStyle
	newline bool
}

// tokenize 按空白切分文本，保留显式换行。
func tokenize(pieces []piece) []token {
	var out []token
	for _, p := range pieces {
		if p.newline {
			out = append(out, token{kind: tokBreak, style: p.style})
			continue
		}
		var b strings.Builder
		lastSpace := false
		flush := func() {
			if b.Len() == 0 {
				return
			}
			kind := tokWord
			if lastSpace {
				kind = tokSpace
			}
			out = append(out, token{kind: kind, text: b.String(), style: p.style})
			b.Reset()
		}
		for _, r := range p.text {
			if r == '\r' {
				continue
			}
			if r == '\n' {
				flush()
				out = append(out, token{kind: tokBreak, style: p.style})
				continue
			}
			sp := unicode.IsSpace(r)
			if b.Len() > 0 && sp != lastSpace {
				flush()
			}
			lastSpace = sp
			if sp {
				r = ' '
			}
			b.WriteRune(r)
		}
		flush()
	}
	return collapseSpaces(out)
}

// collapseSpaces merges adjacent space tokens into one.
func collapseSpaces(toks []token) []token {
	out := toks[:0]
	for _, t := range toks {
		if t.kind == tokSpace {
			t.text = " "
			if n := len(out); n > 0 && out[n-1].kind == tokSpace {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// textLine is one broken line before placement.
type textLine struct {
	tokens []token
	width  units.Abs
}

// wrapTokens 贪心折行。anywhere 优先在空白处断行，超宽单词按字符拆分；
// break-word 忽略空白机会，纯按宽度切分；nowrap 只在显式换行处断行。
func wrapTokens(toks []token, limit units.Abs, wrap string, ts Typesetter) []textLine {
	if limit <= 0 {
		limit = units.Infinite
	}
	measure := func(t *token) {
		t.width = ts.Measure(t.text, t.style.font, t.style.size)
	}
	var (
		lines []textLine
		cur   textLine
	)
	emit := func(force bool) {
		if wrap == content.WrapAnywhere {
			for len(cur.tokens) > 0 && cur.tokens[len(cur.tokens)-1].kind == tokSpace {
				cur.width -= cur.tokens[len(cur.tokens)-1].width
				cur.tokens = cur.tokens[:len(cur.tokens)-1]
			}
		}
		if len(cur.tokens) > 0 || force {
			lines = append(lines, cur)
		}
		cur = textLine{}
	}
	add := func(t token) {
		cur.tokens = append(cur.tokens, t)
		cur.width += t.width
	}

	for _, t := range toks {
		if t.kind == tokBreak {
			emit(true)
			continue
		}
		switch wrap {
		case content.WrapNowrap:
			measure(&t)
			add(t)
		case content.WrapBreakWord:
			for _, r := range t.text {
				c := token{kind: t.kind, text: string(r), style: t.style}
				measure(&c)
				if cur.width > 0 && cur.width+c.width > limit {
					emit(false)
				}
				add(c)
			}
		default:
			measure(&t)
			if t.kind == tokSpace {
				if len(cur.tokens) == 0 {
					continue
				}
				add(t)
				continue
			}
			if cur.width > 0 && cur.width+t.width > limit {
				emit(false)
			}
			if t.width <= limit {
				add(t)
				continue
			}
			for _, chunk := range splitByWidth(t, limit, ts) {
				if cur.width > 0 && cur.width+chunk.width > limit {
					emit(false)
				}
				add(chunk)
			}
		}
	}
	emit(false)
	return lines
}

// splitByWidth cuts an overlong word into chunks no wider than limit. Every
// chunk holds at least one character.
func splitByWidth(t token, limit units.Abs, ts Typesetter) []token {
	var (
		out []token
		b   strings.Builder
	)
	for _, r := range t.text {
		next := b.String() + string(r)
		w := ts.Measure(next, t.style.font, t.style.size)
		if b.Len() > 0 && w > limit {
			s := b.String()
			out = append(out, token{kind: tokWord, text: s, style: t.style, width: ts.Measure(s, t.style.font, t.style.size)})
			b.Reset()
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		s := b.String()
		out = append(out, token{kind: tokWord, text: s, style: t.style, width: ts.Measure(s, t.style.font, t.style.size)})
	}
	return out
}

// runs merges adjacent tokens of equal style.
func (l textLine) runs() []TextRun {
	var out []TextRun
	var prev textStyle
	for i, t := range l.tokens {
		if i > 0 && t.style == prev {
			r := &out[len(out)-1]
			r.Text += t.text
			r.Width += t.width
			continue
		}
		out = append(out, TextRun{Text: t.text, Font: t.style.font, Size: t.style.size, Fill: t.style.fill, Width: t.width})
		prev = t.style
	}
	return out
}

// lineBox computes height and baseline of a line. Empty lines take the
// metrics of fallback.
func lineBox(l textLine, fallback textStyle, ts Typesetter) (height, ascent units.Abs) {
	first := fallback
	if len(l.tokens) > 0 {
		first = l.tokens[0].style
	}
	var asc, desc, size units.Abs
	measure := func(s textStyle) {
		m := ts.Metrics(s.font, s.size)
		asc = asc.Max(m.Ascent)
		desc = desc.Max(m.Descent)
		size = size.Max(s.size)
	}
	if len(l.tokens) == 0 {
		measure(fallback)
	}
	for _, t := range l.tokens {
		measure(t.style)
	}
	height = first.leading.Resolve(size)
	if height < asc+desc {
		height = asc + desc
	}
	return height, asc + (height-asc-desc)/2
}

func alignOffset(container, width units.Abs, align content.Align) units.Abs {
	if container <= width {
		return 0
	}
	switch align {
	case content.AlignCenter:
		return (container - width) / 2
	case content.AlignRight:
		return container - width
	}
	return 0
}
