package syntax

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ByLCY/papyrus/diag"
)

// parser holds the state shared by markup and code mode.
type parser struct {
	file string
	src  string
	pos  int
	tok  *tokenizer
	// bracket nesting of plain-text '[' inside content blocks
	depth int
	// parenthesis nesting; newlines are plain whitespace when > 0
	nested int
	// code block nesting; 0 while code is embedded directly in markup
	codeDepth int
	// recursion depth of the descent, bounded by MaxNesting
	level    int
	overflow *Node
}

// MaxNesting bounds the depth of nested constructs. Deeper input yields a
// single fatal error node instead of exhausting the stack.
const MaxNesting = 256

// descend enters one nesting level. Past MaxNesting it records the
// overflow, abandons the rest of the input and reports false; callers then
// return p.overflow without calling ascend.
func (p *parser) descend(at int) bool {
	if p.overflow != nil {
		return false
	}
	if p.level < MaxNesting {
		p.level++
		return true
	}
	p.overflow = &Node{Kind: KindError, Fatal: true, Span: p.span(at, at+1),
		Text: fmt.Sprintf("maximum nesting depth of %d exceeded", MaxNesting)}
	p.pos = len(p.src)
	p.tok.reset(len(p.src))
	return false
}

func (p *parser) ascend() { p.level-- }

// finish replaces a partial tree with the overflow error.
func (p *parser) finish(root *Node) *Node {
	if p.overflow != nil {
		root.Children = []*Node{p.overflow}
	}
	return root
}

// Parse parses a whole file in markup mode.
func Parse(file, text string) *Node {
	p := &parser{file: file, src: text, tok: newTokenizer(text)}
	children := p.markup(markupMode{indent: -1, start: 0})
	for p.pos < len(p.src) {
		// stray closing delimiter at top level
		start := p.pos
		p.pos++
		children = append(children, p.errorNode(start, p.pos, "unexpected %q", p.src[start:p.pos]))
		children = append(children, p.markup(markupMode{indent: -1, start: p.pos})...)
	}
	root := p.finish(&Node{Kind: KindMarkup, Span: p.span(0, len(text)), Children: children})
	tracer().Debugf("parsed %s: %d top-level nodes", file, len(root.Children))
	return root
}

// ParseCode parses text as a sequence of code statements, as inside a code
// block. It is used for detached evaluation.
func ParseCode(file, text string) *Node {
	p := &parser{file: file, src: text, tok: newTokenizer(text)}
	p.tok.reset(0)
	p.codeDepth = 1
	stmts := p.statements(func(t token) bool { return t.eof() })
	for !p.tok.peek().eof() {
		t := p.tok.next()
		stmts = append(stmts, p.errorNode(t.start, t.end, "unexpected %s", describe(t)))
	}
	return p.finish(&Node{Kind: KindCodeBlock, Span: p.span(0, len(text)), Children: stmts})
}

func (p *parser) span(start, end int) diag.Span {
	return diag.Span{File: p.file, Start: start, End: end}
}

func (p *parser) errorNode(start, end int, format string, args ...any) *Node {
	return &Node{Kind: KindError, Span: p.span(start, end), Text: fmt.Sprintf(format, args...)}
}

// markupMode describes where a markup run stops.
type markupMode struct {
	// stop is a closing delimiter ('*', '_' or ']'), 0 for none
	stop byte
	// outer closing delimiters that also end this run
	outer string
	// indent is the column of an enclosing list marker; following lines
	// belong to the run only when indented deeper. -1 disables the check.
	indent int
	// singleLine ends the run at the first newline (headings)
	singleLine bool
	// inline ends the run at a paragraph break (strong, emph)
	inline bool
	// start is the offset where the run began; it counts as a line start
	start int
}

func (m markupMode) stops(c byte) bool {
	if m.stop != 0 && c == m.stop {
		return true
	}
	return strings.IndexByte(m.outer, c) >= 0
}

func (m markupMode) inner(stop byte) markupMode {
	outer := m.outer
	if m.stop != 0 {
		outer += string(m.stop)
	}
	return markupMode{stop: stop, outer: outer, indent: m.indent, singleLine: m.singleLine, inline: true}
}

// markup parses until a stop condition and returns the collected nodes. It
// does not consume the closing delimiter.
func (p *parser) markup(mode markupMode) []*Node {
	var nodes []*Node
	push := func(n *Node) {
		if n.Kind == KindText && len(nodes) > 0 {
			if last := nodes[len(nodes)-1]; last.Kind == KindText && last.Span.End == n.Span.Start {
				last.Text += n.Text
				last.Span.End = n.Span.End
				return
			}
		}
		nodes = append(nodes, n)
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ']' && mode.stops(']') && p.depth > 0 {
			p.depth--
			push(&Node{Kind: KindText, Span: p.span(p.pos, p.pos+1), Text: "]"})
			p.pos++
			continue
		}
		if mode.stops(c) {
			break
		}
		if c == '\n' && mode.singleLine {
			break
		}
		if isBlank(c) {
			if n, ok := p.whitespace(mode); ok {
				if n != nil {
					push(n)
				}
				continue
			}
			break
		}
		lineStart := p.atLineStart(mode.start)
		switch {
		case c == '=' && lineStart:
			if n := p.heading(mode); n != nil {
				push(n)
				continue
			}
		case (c == '-' || c == '+') && lineStart && p.markerFollows(p.pos+1):
			push(p.listItem(mode))
			continue
		case c == '*':
			push(p.delimited(mode, '*', KindStrong))
			continue
		case c == '_':
			push(p.delimited(mode, '_', KindEmph))
			continue
		case c == '`':
			push(p.raw())
			continue
		case c == '\\':
			push(p.escape())
			continue
		case c == '/' && p.pos+1 < len(p.src) && (p.src[p.pos+1] == '/' || p.src[p.pos+1] == '*'):
			if n := p.comment(); n != nil {
				push(n)
			}
			continue
		case c == '#' && p.codeFollows(p.pos+1):
			push(p.embedded())
			continue
		case c == '[' && mode.stops(']'):
			p.depth++
		}
		push(p.text(mode))
	}
	return trimSpaces(nodes)
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }

// whitespace consumes a whitespace run. It returns ok=false (without
// consuming) when the run ends the current list item body.
func (p *parser) whitespace(mode markupMode) (*Node, bool) {
	start := p.pos
	newlines := 0
	for p.pos < len(p.src) && isBlank(p.src[p.pos]) {
		if p.src[p.pos] == '\n' {
			if mode.singleLine {
				break
			}
			newlines++
		}
		p.pos++
	}
	if newlines >= 2 && mode.inline {
		p.pos = start
		return nil, false
	}
	if newlines > 0 && mode.indent >= 0 {
		if p.pos >= len(p.src) || p.column(p.pos) <= mode.indent {
			p.pos = start
			return nil, false
		}
	}
	switch {
	case newlines >= 2:
		return &Node{Kind: KindParbreak, Span: p.span(start, p.pos)}, true
	default:
		return &Node{Kind: KindSpace, Span: p.span(start, p.pos), Text: " "}, true
	}
}

// column is the offset of pos from the start of its line.
func (p *parser) column(pos int) int {
	i := strings.LastIndexByte(p.src[:pos], '\n')
	return pos - i - 1
}

// atLineStart reports whether only blanks separate pos from the previous
// newline or from the start of the current run.
func (p *parser) atLineStart(runStart int) bool {
	for i := p.pos - 1; i >= runStart && i >= 0; i-- {
		switch p.src[i] {
		case ' ', '\t':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

func (p *parser) markerFollows(i int) bool {
	return i >= len(p.src) || p.src[i] == ' ' || p.src[i] == '\t' || p.src[i] == '\n'
}

func (p *parser) codeFollows(i int) bool {
	if i >= len(p.src) {
		return false
	}
	c := p.src[i]
	if c == '(' || c == '{' || c == '[' || c == '"' || c == '_' || (c >= '0' && c <= '9') {
		return true
	}
	r, _ := utf8.DecodeRuneInString(p.src[i:])
	return unicode.IsLetter(r)
}

func (p *parser) heading(mode markupMode) *Node {
	start := p.pos
	i := p.pos
	for i < len(p.src) && p.src[i] == '=' {
		i++
	}
	if !p.markerFollows(i) {
		return nil
	}
	level := i - start
	p.pos = i
	p.skipSpaces()
	sub := markupMode{outer: mode.outer, indent: -1, singleLine: true, start: p.pos}
	if mode.stop != 0 {
		sub.outer += string(mode.stop)
	}
	body := p.markup(sub)
	return &Node{Kind: KindHeading, Level: level, Span: p.span(start, p.pos), Children: body}
}

func (p *parser) listItem(mode markupMode) *Node {
	start := p.pos
	kind := KindListItem
	if p.src[p.pos] == '+' {
		kind = KindEnumItem
	}
	col := p.column(p.pos)
	if !p.descend(start) {
		return p.overflow
	}
	defer p.ascend()
	p.pos++
	p.skipSpaces()
	sub := markupMode{outer: mode.outer, indent: col, start: p.pos}
	if mode.stop != 0 {
		sub.outer += string(mode.stop)
	}
	body := p.markup(sub)
	return &Node{Kind: kind, Span: p.span(start, p.pos), Level: col, Children: body}
}

func (p *parser) delimited(mode markupMode, delim byte, kind Kind) *Node {
	start := p.pos
	if !p.descend(start) {
		return p.overflow
	}
	defer p.ascend()
	p.pos++
	body := p.markup(mode.inner(delim))
	if p.pos < len(p.src) && p.src[p.pos] == delim {
		p.pos++
		return &Node{Kind: kind, Span: p.span(start, p.pos), Children: body}
	}
	n := &Node{Kind: kind, Span: p.span(start, p.pos), Children: body}
	n.Children = append(n.Children, p.errorNode(start, start+1, "unclosed delimiter %q", string(delim)))
	return n
}

func (p *parser) raw() *Node {
	start := p.pos
	ticks := 0
	for p.pos < len(p.src) && p.src[p.pos] == '`' {
		ticks++
		p.pos++
	}
	if ticks == 2 {
		return &Node{Kind: KindRaw, Span: p.span(start, p.pos)}
	}
	fence := strings.Repeat("`", ticks)
	n := &Node{Kind: KindRaw, Block: ticks >= 3}
	bodyStart := p.pos
	if n.Block {
		j := p.pos
		for j < len(p.src) && (isIdentByte(p.src[j]) || p.src[j] == '-') {
			j++
		}
		n.Lang = p.src[p.pos:j]
		bodyStart = j
	}
	end := strings.Index(p.src[bodyStart:], fence)
	if end < 0 {
		p.pos = len(p.src)
		n.Text = p.src[bodyStart:]
		n.Span = p.span(start, p.pos)
		n.Children = []*Node{p.errorNode(start, bodyStart, "unclosed raw text")}
		return n
	}
	body := p.src[bodyStart : bodyStart+end]
	p.pos = bodyStart + end + ticks
	if n.Block {
		body = dedentRaw(body)
	}
	n.Text = body
	n.Span = p.span(start, p.pos)
	return n
}

// dedentRaw drops the line holding the language tag, the trailing blank
// line and the common indentation.
func dedentRaw(body string) string {
	if i := strings.IndexByte(body, '\n'); i >= 0 && strings.TrimSpace(body[:i]) == "" {
		body = body[i+1:]
	} else {
		body = strings.TrimLeft(body, " ")
	}
	body = strings.TrimRight(body, " \t")
	body = strings.TrimSuffix(body, "\n")
	lines := strings.Split(body, "\n")
	common := -1
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		ind := len(ln) - len(strings.TrimLeft(ln, " \t"))
		if common < 0 || ind < common {
			common = ind
		}
	}
	if common <= 0 {
		return body
	}
	for i, ln := range lines {
		if len(ln) >= common {
			lines[i] = ln[common:]
		} else {
			lines[i] = strings.TrimLeft(ln, " \t")
		}
	}
	return strings.Join(lines, "\n")
}

func (p *parser) escape() *Node {
	start := p.pos
	p.pos++
	if p.pos >= len(p.src) || isBlank(p.src[p.pos]) {
		return &Node{Kind: KindLinebreak, Span: p.span(start, p.pos)}
	}
	if strings.HasPrefix(p.src[p.pos:], "u{") {
		end := strings.IndexByte(p.src[p.pos:], '}')
		if end > 0 {
			hex := p.src[p.pos+2 : p.pos+end]
			p.pos += end + 1
			v, err := strconv.ParseUint(hex, 16, 32)
			if err != nil || !utf8.ValidRune(rune(v)) {
				return p.errorNode(start, p.pos, "invalid unicode escape %q", hex)
			}
			return &Node{Kind: KindText, Span: p.span(start, p.pos), Text: string(rune(v))}
		}
	}
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	return &Node{Kind: KindText, Span: p.span(start, p.pos), Text: string(r)}
}

func (p *parser) comment() *Node {
	start := p.pos
	if p.src[p.pos+1] == '/' {
		end := strings.IndexByte(p.src[p.pos:], '\n')
		if end < 0 {
			p.pos = len(p.src)
		} else {
			p.pos += end
		}
		return nil
	}
	end := strings.Index(p.src[p.pos+2:], "*/")
	if end < 0 {
		p.pos = len(p.src)
		return p.errorNode(start, start+2, "unclosed block comment")
	}
	p.pos += 2 + end + 2
	return nil
}

// text consumes plain text up to the next character with markup meaning.
func (p *parser) text(mode markupMode) *Node {
	start := p.pos
	_, size := utf8.DecodeRuneInString(p.src[p.pos:])
	p.pos += size
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isBlank(c) || mode.stops(c) || strings.IndexByte("*_`\\#/[]", c) >= 0 {
			break
		}
		_, size := utf8.DecodeRuneInString(p.src[p.pos:])
		p.pos += size
	}
	return &Node{Kind: KindText, Span: p.span(start, p.pos), Text: p.src[start:p.pos]}
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

// embedded parses code that follows a '#' in markup and returns to markup
// right after the last consumed token.
func (p *parser) embedded() *Node {
	hash := p.pos
	p.tok.reset(p.pos + 1)
	n := p.embeddedExpr()
	p.pos = p.tok.lastEnd
	if p.pos < len(p.src) && p.src[p.pos] == ';' {
		p.pos++
	}
	if n.Span.Start > hash {
		n.Span.Start = hash
	}
	return n
}

func trimSpaces(nodes []*Node) []*Node {
	for len(nodes) > 0 && nodes[0].Kind == KindSpace {
		nodes = nodes[1:]
	}
	for len(nodes) > 0 && nodes[len(nodes)-1].Kind == KindSpace {
		nodes = nodes[:len(nodes)-1]
	}
	return nodes
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
