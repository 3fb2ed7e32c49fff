package dsl

import "github.com/canvass/canvass/pkg/schema"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokString // single-quoted literal, Text holds the unescaped value
	tokIdent  // equals, not, answer, anySelected, allSelected
	tokAnd
	tokOr
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokComma:
		return "','"
	case tokString:
		return "string literal"
	case tokIdent:
		return "identifier"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	}
	return "unknown token"
}

type token struct {
	Kind tokenKind
	Text string
	Pos  int // byte offset in the source
}

// lexer produces tokens from DSL source. It is a plain byte scanner; the
// grammar is ASCII apart from string literal contents.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

// Next returns the next token or a compile error for unlexable input.
func (l *lexer) Next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{Kind: tokEOF, Pos: l.pos}, nil
	}

	start := l.pos
	switch c := l.src[l.pos]; c {
	case '(':
		l.pos++
		return token{Kind: tokLParen, Pos: start}, nil
	case ')':
		l.pos++
		return token{Kind: tokRParen, Pos: start}, nil
	case '[':
		l.pos++
		return token{Kind: tokLBracket, Pos: start}, nil
	case ']':
		l.pos++
		return token{Kind: tokRBracket, Pos: start}, nil
	case ',':
		l.pos++
		return token{Kind: tokComma, Pos: start}, nil
	case '\'':
		return l.lexString()
	default:
		if isIdentChar(c) {
			return l.lexIdent()
		}
		return token{}, compileErrorf(start, "unexpected character %q", string(c))
	}
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb []byte
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, compileErrorf(start, "unterminated string literal")
			}
			next := l.src[l.pos+1]
			if next != '\\' && next != '\'' {
				return token{}, compileErrorf(l.pos, "invalid escape sequence \\%s", string(next))
			}
			sb = append(sb, next)
			l.pos += 2
		case '\'':
			l.pos++
			return token{Kind: tokString, Text: string(sb), Pos: start}, nil
		default:
			sb = append(sb, c)
			l.pos++
		}
	}
	return token{}, compileErrorf(start, "unterminated string literal")
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
		l.pos++
	}
	text := l.src[start:l.pos]
	switch text {
	case "AND":
		return token{Kind: tokAnd, Text: text, Pos: start}, nil
	case "OR":
		return token{Kind: tokOr, Text: text, Pos: start}, nil
	}
	return token{Kind: tokIdent, Text: text, Pos: start}, nil
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func compileErrorf(pos int, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeCompile, format, args...).
		WithDetails(map[string]any{"offset": pos})
}
