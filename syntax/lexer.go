package syntax

import (
	"fmt"

	"github.com/alecthomas/participle/v2/lexer"
)

// codeLexer tokenizes code mode. Markup is scanned by hand because it is
// indentation sensitive; code is restarted at arbitrary offsets whenever the
// markup scanner meets a '#'.
var (
	codeLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n`},
		{Name: "BlockComment", Pattern: `/\*(?s:.*?)\*/`},
		{Name: "LineComment", Pattern: `//[^\n]*`},
		{Name: "Number", Pattern: `(?:\d+\.\d+|\d+)(?:[eE][+-]?\d+)?(?:pt|mm|cm|in|em|%)?`},
		{Name: "String", Pattern: `"(?:\\.|[^"\\])*"?`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*(?:-[A-Za-z_][A-Za-z0-9_]*)*`},
		{Name: "Op", Pattern: `==|!=|<=|>=|=>|\+=|-=|\*=|/=|[-+*/<>=!.,:;()\[\]{}]`},
		{Name: "Invalid", Pattern: `.`},
	})

	tokenNames     = invertSymbols(codeLexer.Symbols())
	newlineType    = mustTokenType("Newline")
	whitespaceType = mustTokenType("Whitespace")
	blockCmtType   = mustTokenType("BlockComment")
	lineCmtType    = mustTokenType("LineComment")
	numberType     = mustTokenType("Number")
	stringType     = mustTokenType("String")
	identType      = mustTokenType("Ident")
	opType         = mustTokenType("Op")
)

// token is a lexed code token with absolute byte offsets.
type token struct {
	typ   lexer.TokenType
	text  string
	start int
	end   int
}

func (t token) eof() bool { return t.typ == lexer.EOF }

func (t token) is(op string) bool { return t.typ == opType && t.text == op }

func (t token) isKeyword(kw string) bool { return t.typ == identType && t.text == kw }

func (t token) kind() string {
	if t.eof() {
		return "end of file"
	}
	if name, ok := tokenNames[t.typ]; ok {
		return name
	}
	return fmt.Sprintf("#%d", t.typ)
}

// tokenizer lexes lazily from an offset with unbounded lookahead.
// Whitespace and comments are dropped; newlines are kept because they end
// embedded statements.
type tokenizer struct {
	src     string
	base    int
	lex     lexer.Lexer
	buf     []token
	lastEnd int
}

func newTokenizer(src string) *tokenizer {
	return &tokenizer{src: src}
}

// reset restarts lexing at offset and drops buffered lookahead.
func (t *tokenizer) reset(offset int) {
	if offset > len(t.src) {
		offset = len(t.src)
	}
	t.base = offset
	t.buf = t.buf[:0]
	t.lastEnd = offset
	lex, err := codeLexer.LexString("", t.src[offset:])
	if err != nil {
		// cannot happen with a catch-all rule; behave as if at EOF
		t.lex = nil
		return
	}
	t.lex = lex
}

func (t *tokenizer) fill(n int) {
	for len(t.buf) <= n {
		if t.lex == nil {
			t.buf = append(t.buf, token{typ: lexer.EOF, start: len(t.src), end: len(t.src)})
			continue
		}
		tok, err := t.lex.Next()
		if err != nil || tok.EOF() {
			t.lex = nil
			continue
		}
		switch tok.Type {
		case whitespaceType, blockCmtType, lineCmtType:
			continue
		}
		start := t.base + tok.Pos.Offset
		t.buf = append(t.buf, token{typ: tok.Type, text: tok.Value, start: start, end: start + len(tok.Value)})
	}
}

// peekAt returns the n-th token ahead (0 = next).
func (t *tokenizer) peekAt(n int) token {
	t.fill(n)
	return t.buf[n]
}

func (t *tokenizer) peek() token { return t.peekAt(0) }

func (t *tokenizer) next() token {
	tok := t.peek()
	if !tok.eof() {
		t.buf = t.buf[1:]
		t.lastEnd = tok.end
	}
	return tok
}

func invertSymbols(symbols map[string]lexer.TokenType) map[lexer.TokenType]string {
	out := make(map[lexer.TokenType]string, len(symbols))
	for name, tt := range symbols {
		out[tt] = name
	}
	return out
}

func mustTokenType(name string) lexer.TokenType {
	symbols := codeLexer.Symbols()
	tt, ok := symbols[name]
	if !ok {
		panic(fmt.Sprintf("token %s not defined", name))
	}
	return tt
}
