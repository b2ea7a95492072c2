package syntax

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ByLCY/papyrus/units"
)

func (p *parser) peek() token {
	for p.nested > 0 && p.tok.peek().typ == newlineType {
		p.tok.next()
	}
	return p.tok.peek()
}

func (p *parser) next() token {
	p.peek()
	return p.tok.next()
}

func (p *parser) eat(op string) bool {
	if p.peek().is(op) {
		p.next()
		return true
	}
	return false
}

func describe(t token) string {
	switch {
	case t.eof():
		return "end of file"
	case t.typ == newlineType:
		return "newline"
	case t.typ == opType:
		return fmt.Sprintf("%q", t.text)
	}
	return fmt.Sprintf("%s %q", strings.ToLower(t.kind()), t.text)
}

func (p *parser) expect(op string) (*Node, bool) {
	t := p.peek()
	if t.is(op) {
		p.next()
		return nil, true
	}
	return p.errorNode(t.start, t.end, "expected %q, found %s", op, describe(t)), false
}

// isCloser reports tokens that end an enclosing construct and must not be
// swallowed by error recovery.
func isCloser(t token) bool {
	return t.eof() || t.typ == newlineType || t.is(")") || t.is("]") || t.is("}") || t.is(",") || t.is(";")
}

// embeddedExpr parses the code after '#'. Keyword statements take a full
// expression; anything else is an atom with directly attached field
// accesses, calls and trailing content blocks.
func (p *parser) embeddedExpr() *Node {
	t := p.peek()
	if t.typ == identType {
		switch t.text {
		case "let", "if", "for", "import", "include":
			return p.primary()
		}
	}
	return p.postfix(p.primary())
}

// statements parses a newline or ';' separated list until end matches.
func (p *parser) statements(end func(token) bool) []*Node {
	var out []*Node
	for {
		t := p.peek()
		if t.typ == newlineType || t.is(";") {
			p.next()
			continue
		}
		if t.eof() || end(t) {
			return out
		}
		out = append(out, p.expr())
		t = p.peek()
		switch {
		case t.eof() || end(t):
			return out
		case t.typ == newlineType || t.is(";"):
			p.next()
		default:
			start := t.start
			last := t
			for {
				t = p.peek()
				if t.eof() || end(t) || t.typ == newlineType || t.is(";") {
					break
				}
				last = p.next()
			}
			out = append(out, p.errorNode(start, last.end, "expected end of statement, found %s", describe(last)))
		}
	}
}

var binaryPrec = map[string]int{
	"=": 1, "+=": 1, "-=": 1, "*=": 1, "/=": 1,
	"or":  2,
	"and": 3,
	"==": 4, "!=": 4, "<": 4, "<=": 4, ">": 4, ">=": 4, "in": 4, "not in": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6,
}

func (p *parser) binop() (string, int, int) {
	t := p.peek()
	if t.typ != opType && t.typ != identType {
		return "", 0, 0
	}
	op := t.text
	n := 1
	if t.isKeyword("not") {
		if !p.tok.peekAt(1).isKeyword("in") {
			return "", 0, 0
		}
		op, n = "not in", 2
	}
	prec, ok := binaryPrec[op]
	if !ok || (t.typ == identType && op != "and" && op != "or" && op != "in" && op != "not in") {
		return "", 0, 0
	}
	return op, prec, n
}

func (p *parser) expr() *Node { return p.binary(1) }

func (p *parser) binary(min int) *Node {
	left := p.unary()
	base := p.level
	defer func() { p.level = base }()
	for {
		op, prec, n := p.binop()
		if prec == 0 || prec < min {
			return left
		}
		if !p.descend(left.Span.Start) {
			return p.overflow
		}
		for i := 0; i < n; i++ {
			p.next()
		}
		next := prec + 1
		if prec == 1 {
			next = prec
		}
		right := p.binary(next)
		left = &Node{Kind: KindBinary, Text: op, Span: p.span(left.Span.Start, right.Span.End), Children: []*Node{left, right}}
	}
}

func (p *parser) unary() *Node {
	t := p.peek()
	if t.is("-") || t.is("+") || t.isKeyword("not") {
		if !p.descend(t.start) {
			return p.overflow
		}
		defer p.ascend()
		p.next()
		operand := p.unary()
		return &Node{Kind: KindUnary, Text: t.text, Span: p.span(t.start, operand.Span.End), Children: []*Node{operand}}
	}
	return p.postfix(p.primary())
}

// adjacent reports whether t starts exactly where the previous token ended.
func (p *parser) adjacent(t token) bool { return t.start == p.tok.lastEnd }

func (p *parser) postfix(n *Node) *Node {
	if n.IsError() {
		return n
	}
	base := p.level
	defer func() { p.level = base }()
	for {
		t := p.tok.peek()
		if (t.is(".") || t.is("(") || t.is("[")) && p.adjacent(t) && !p.descend(t.start) {
			return p.overflow
		}
		switch {
		case t.is(".") && p.adjacent(t):
			field := p.tok.peekAt(1)
			if field.typ != identType || field.start != t.end {
				return n
			}
			p.tok.next()
			p.tok.next()
			n = &Node{Kind: KindFieldAccess, Name: field.text, Span: p.span(n.Span.Start, field.end), Children: []*Node{n}}
		case t.is("(") && p.adjacent(t):
			args := p.args()
			n = &Node{Kind: KindCall, Span: p.span(n.Span.Start, args.Span.End), Children: []*Node{n, args}}
		case t.is("[") && p.adjacent(t):
			p.tok.next()
			body := p.contentBlock(t)
			if n.Kind == KindCall {
				args := n.Children[1]
				args.Children = append(args.Children, body)
				args.Span.End = body.Span.End
				n.Span.End = body.Span.End
				continue
			}
			args := &Node{Kind: KindArgs, Span: body.Span, Children: []*Node{body}}
			n = &Node{Kind: KindCall, Span: p.span(n.Span.Start, body.Span.End), Children: []*Node{n, args}}
		default:
			return n
		}
	}
}

func (p *parser) primary() *Node {
	t := p.peek()
	if isCloser(t) {
		return p.errorNode(t.start, t.end, "expected expression, found %s", describe(t))
	}
	if !p.descend(t.start) {
		return p.overflow
	}
	defer p.ascend()
	p.next()
	switch t.typ {
	case identType:
		switch t.text {
		case "none":
			return &Node{Kind: KindNone, Span: p.span(t.start, t.end)}
		case "true", "false":
			return &Node{Kind: KindBool, Span: p.span(t.start, t.end), Int: boolInt(t.text == "true")}
		case "let":
			return p.letBinding(t)
		case "if":
			return p.conditional(t)
		case "for":
			return p.forLoop(t)
		case "import":
			return p.importStmt(t)
		case "include":
			arg := p.expr()
			return &Node{Kind: KindInclude, Span: p.span(t.start, arg.Span.End), Children: []*Node{arg}}
		}
		return &Node{Kind: KindIdent, Name: t.text, Span: p.span(t.start, t.end)}
	case numberType:
		return p.number(t)
	case stringType:
		return p.str(t)
	case opType:
		switch t.text {
		case "(":
			return p.parens(t)
		case "{":
			return p.codeBlock(t)
		case "[":
			return p.contentBlock(t)
		}
	}
	return p.errorNode(t.start, t.end, "unexpected %s", describe(t))
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (p *parser) number(t token) *Node {
	text := t.text
	n := &Node{Span: p.span(t.start, t.end)}
	for _, suf := range []struct {
		s string
		u units.Unit
	}{{"pt", units.UnitPT}, {"mm", units.UnitMM}, {"cm", units.UnitCM}, {"in", units.UnitIN}, {"em", units.UnitEM}} {
		if strings.HasSuffix(text, suf.s) {
			v, err := strconv.ParseFloat(strings.TrimSuffix(text, suf.s), 64)
			if err != nil {
				return p.errorNode(t.start, t.end, "invalid length %q", text)
			}
			n.Kind, n.Float, n.Unit = KindLength, v, suf.u
			return n
		}
	}
	if strings.HasSuffix(text, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(text, "%"), 64)
		if err != nil {
			return p.errorNode(t.start, t.end, "invalid ratio %q", text)
		}
		n.Kind, n.Float = KindRatio, v
		return n
	}
	if !strings.ContainsAny(text, ".eE") {
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return p.errorNode(t.start, t.end, "integer %s is too large", text)
		}
		n.Kind, n.Int = KindInt, v
		return n
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return p.errorNode(t.start, t.end, "invalid number %q", text)
	}
	n.Kind, n.Float = KindFloat, v
	return n
}

func (p *parser) str(t token) *Node {
	raw := t.text
	if !closedString(raw) {
		return p.errorNode(t.start, t.end, "unclosed string")
	}
	val, bad := unescape(raw[1 : len(raw)-1])
	if bad != "" {
		return p.errorNode(t.start, t.end, "invalid escape sequence %q", bad)
	}
	return &Node{Kind: KindStr, Text: val, Span: p.span(t.start, t.end)}
}

func closedString(raw string) bool {
	for i := 1; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '"':
			return i == len(raw)-1
		}
	}
	return false
}

func unescape(s string) (string, string) {
	if !strings.Contains(s, `\`) {
		return s, ""
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '"':
			b.WriteByte(s[i])
		case 'u':
			end := strings.IndexByte(s[i:], '}')
			if i+1 >= len(s) || s[i+1] != '{' || end < 0 {
				return "", `\u`
			}
			hex := s[i+2 : i+end]
			v, err := strconv.ParseUint(hex, 16, 32)
			if err != nil || !utf8.ValidRune(rune(v)) {
				return "", `\u{` + hex + `}`
			}
			b.WriteRune(rune(v))
			i += end
		default:
			return "", `\` + string(s[i])
		}
	}
	return b.String(), ""
}

// parens parses a parenthesized expression, an array or a dictionary.
func (p *parser) parens(open token) *Node {
	p.nested++
	defer func() { p.nested-- }()

	if t := p.peek(); t.is(")") {
		p.next()
		return &Node{Kind: KindArray, Span: p.span(open.start, t.end)}
	}
	if t := p.peek(); t.is(":") && p.tok.peekAt(1).is(")") {
		p.next()
		end := p.next()
		return &Node{Kind: KindDict, Span: p.span(open.start, end.end)}
	}
	var items []*Node
	named, trailing := 0, false
	for {
		item := p.item()
		if item.Kind == KindNamed {
			named++
		}
		items = append(items, item)
		if p.eat(",") {
			trailing = true
			if p.peek().is(")") {
				break
			}
			continue
		}
		trailing = false
		break
	}
	closeErr, ok := p.expect(")")
	end := p.tok.lastEnd
	if !ok {
		items = append(items, closeErr)
	}
	span := p.span(open.start, end)
	switch {
	case named == len(items):
		return &Node{Kind: KindDict, Span: span, Children: items}
	case named == 0 && len(items) == 1 && !trailing && ok:
		return items[0]
	case named == 0 || !ok:
		return &Node{Kind: KindArray, Span: span, Children: items}
	}
	return p.errorNode(open.start, end, "cannot mix named and positional items")
}

// item parses `key: value` or a plain expression.
func (p *parser) item() *Node {
	t := p.peek()
	if (t.typ == identType || t.typ == stringType) && p.tok.peekAt(1).is(":") {
		p.next()
		p.next()
		key := t.text
		if t.typ == stringType {
			key, _ = unescape(strings.Trim(t.text, `"`))
		}
		val := p.expr()
		return &Node{Kind: KindNamed, Name: key, Span: p.span(t.start, val.Span.End), Children: []*Node{val}}
	}
	return p.expr()
}

func (p *parser) args() *Node {
	open := p.tok.next()
	p.nested++
	var items []*Node
	for !p.peek().is(")") && !p.peek().eof() {
		items = append(items, p.item())
		if !p.eat(",") {
			break
		}
	}
	closeErr, ok := p.expect(")")
	p.nested--
	if !ok {
		items = append(items, closeErr)
	}
	return &Node{Kind: KindArgs, Span: p.span(open.start, p.tok.lastEnd), Children: items}
}

func (p *parser) codeBlock(open token) *Node {
	saved := p.nested
	p.nested = 0
	p.codeDepth++
	stmts := p.statements(func(t token) bool { return t.is("}") })
	closeErr, ok := p.expect("}")
	p.codeDepth--
	p.nested = saved
	if !ok {
		stmts = append(stmts, closeErr)
	}
	return &Node{Kind: KindCodeBlock, Span: p.span(open.start, p.tok.lastEnd), Children: stmts}
}

// contentBlock switches to markup after '[' and resumes code after ']'.
func (p *parser) contentBlock(open token) *Node {
	savedNested, savedDepth, savedCode := p.nested, p.depth, p.codeDepth
	p.nested, p.depth, p.codeDepth = 0, 0, 0
	p.pos = open.end
	body := p.markup(markupMode{stop: ']', indent: -1, start: p.pos})
	n := &Node{Kind: KindContentBlock, Children: body}
	if p.pos < len(p.src) && p.src[p.pos] == ']' {
		p.pos++
	} else {
		n.Children = append(n.Children, p.errorNode(open.start, open.end, "unclosed content block"))
	}
	n.Span = p.span(open.start, p.pos)
	p.nested, p.depth, p.codeDepth = savedNested, savedDepth, savedCode
	p.tok.reset(p.pos)
	return n
}

// block parses the body of if and for.
func (p *parser) block() *Node {
	t := p.peek()
	switch {
	case t.is("{"):
		p.next()
		return p.codeBlock(t)
	case t.is("["):
		p.next()
		return p.contentBlock(t)
	}
	return p.errorNode(t.start, t.end, "expected block, found %s", describe(t))
}

func (p *parser) letBinding(kw token) *Node {
	name := p.peek()
	if name.typ != identType {
		return p.errorNode(kw.start, name.end, "expected identifier after let, found %s", describe(name))
	}
	p.next()
	n := &Node{Kind: KindLet, Name: name.text}
	var value *Node
	if t := p.tok.peek(); t.is("(") && t.start == name.end {
		params := p.params()
		if _, ok := p.expect("="); !ok {
			body := p.errorNode(p.peek().start, p.peek().end, "expected '=' after function parameters")
			value = &Node{Kind: KindClosure, Name: name.text, Span: p.span(name.start, body.Span.End), Children: []*Node{params, body}}
		} else {
			body := p.expr()
			value = &Node{Kind: KindClosure, Name: name.text, Span: p.span(name.start, body.Span.End), Children: []*Node{params, body}}
		}
	} else if p.eat("=") {
		value = p.expr()
	}
	end := name.end
	if value != nil {
		n.Children = []*Node{value}
		end = value.Span.End
	}
	n.Span = p.span(kw.start, end)
	return n
}

func (p *parser) params() *Node {
	open := p.next()
	p.nested++
	n := &Node{Kind: KindParams}
	for !p.peek().is(")") && !p.peek().eof() {
		t := p.peek()
		if t.typ != identType {
			p.next()
			n.Children = append(n.Children, p.errorNode(t.start, t.end, "expected parameter name, found %s", describe(t)))
		} else {
			p.next()
			if p.eat(":") {
				def := p.expr()
				n.Children = append(n.Children, &Node{Kind: KindNamed, Name: t.text, Span: p.span(t.start, def.Span.End), Children: []*Node{def}})
			} else {
				n.Children = append(n.Children, &Node{Kind: KindIdent, Name: t.text, Span: p.span(t.start, t.end)})
			}
		}
		if !p.eat(",") {
			break
		}
	}
	closeErr, ok := p.expect(")")
	p.nested--
	if !ok {
		n.Children = append(n.Children, closeErr)
	}
	n.Span = p.span(open.start, p.tok.lastEnd)
	return n
}

// skipToElse allows `else` on the line after a closing brace inside code.
func (p *parser) skipToElse() bool {
	for i := 0; ; i++ {
		t := p.tok.peekAt(i)
		if t.typ == newlineType && (p.codeDepth > 0 || p.nested > 0) {
			continue
		}
		if !t.isKeyword("else") {
			return false
		}
		for j := 0; j < i; j++ {
			p.tok.next()
		}
		return true
	}
}

func (p *parser) conditional(kw token) *Node {
	cond := p.expr()
	then := p.block()
	n := &Node{Kind: KindIf, Children: []*Node{cond, then}}
	end := then.Span.End
	if p.skipToElse() {
		p.next()
		var alt *Node
		if t := p.peek(); t.isKeyword("if") {
			p.next()
			alt = p.conditional(t)
		} else {
			alt = p.block()
		}
		n.Children = append(n.Children, alt)
		end = alt.Span.End
	}
	n.Span = p.span(kw.start, end)
	return n
}

func (p *parser) forLoop(kw token) *Node {
	var pattern *Node
	t := p.peek()
	switch {
	case t.typ == identType:
		p.next()
		pattern = &Node{Kind: KindIdent, Name: t.text, Span: p.span(t.start, t.end)}
	case t.is("("):
		p.next()
		pattern = p.parens(t)
		if pattern.Kind == KindIdent {
			break
		}
		if pattern.Kind != KindArray {
			pattern = p.errorNode(pattern.Span.Start, pattern.Span.End, "expected binding pattern")
			break
		}
		for _, c := range pattern.Children {
			if c.Kind != KindIdent {
				pattern = p.errorNode(pattern.Span.Start, pattern.Span.End, "expected identifiers in destructuring pattern")
				break
			}
		}
	default:
		pattern = p.errorNode(t.start, t.end, "expected loop variable, found %s", describe(t))
	}
	if t := p.peek(); !t.isKeyword("in") {
		err := p.errorNode(t.start, t.end, "expected 'in', found %s", describe(t))
		return &Node{Kind: KindFor, Span: p.span(kw.start, t.end), Children: []*Node{pattern, err, err}}
	}
	p.next()
	iter := p.expr()
	body := p.block()
	return &Node{Kind: KindFor, Span: p.span(kw.start, body.Span.End), Children: []*Node{pattern, iter, body}}
}

func (p *parser) importStmt(kw token) *Node {
	path := p.expr()
	n := &Node{Kind: KindImport, Children: []*Node{path}}
	end := path.Span.End
	switch t := p.peek(); {
	case t.isKeyword("as"):
		p.next()
		alias := p.peek()
		if alias.typ != identType {
			n.Children = append(n.Children, p.errorNode(alias.start, alias.end, "expected alias name, found %s", describe(alias)))
			break
		}
		p.next()
		n.Name = alias.text
		end = alias.end
	case t.is(":"):
		p.next()
		for {
			item := p.peek()
			switch {
			case item.is("*"):
				p.next()
				n.Children = append(n.Children, &Node{Kind: KindIdent, Name: "*", Span: p.span(item.start, item.end)})
			case item.typ == identType:
				p.next()
				n.Children = append(n.Children, &Node{Kind: KindIdent, Name: item.text, Span: p.span(item.start, item.end)})
			default:
				n.Children = append(n.Children, p.errorNode(item.start, item.end, "expected import item, found %s", describe(item)))
			}
			end = p.tok.lastEnd
			if !p.eat(",") {
				break
			}
		}
	}
	n.Span = p.span(kw.start, end)
	return n
}
