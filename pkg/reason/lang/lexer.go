package lang

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokSemicolon
	tokComma
	tokColon
	tokDoubleColon
	tokEqual
	tokLess
	tokMore
	tokImplies
	tokEquiv
	tokICond
	tokAnd
	tokOr
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	case tokLBracket:
		return "["
	case tokRBracket:
		return "]"
	case tokSemicolon:
		return ";"
	case tokComma:
		return ","
	case tokColon:
		return ":"
	case tokDoubleColon:
		return "::"
	case tokEqual:
		return "="
	case tokLess:
		return "<"
	case tokMore:
		return ">"
	case tokImplies:
		return "=>"
	case tokEquiv:
		return "<=>"
	case tokICond:
		return "|>"
	case tokAnd:
		return "&&"
	case tokOr:
		return "||"
	default:
		return "token"
	}
}

type token struct {
	kind tokKind
	text string
	off  int
}

// lex scans source text into a token stream, stripping '#' line
// comments and '/* */' block comments. Offsets are byte positions into
// the original text.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case r == '/' && strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &internalerr.ParseError{Offset: i, Msg: "unterminated block comment"}
			}
			i += 2 + end + 2
		case r == '"':
			start := i
			i += size
			for i < len(src) && src[i] != '"' {
				i++
			}
			if i >= len(src) {
				return nil, &internalerr.ParseError{Offset: start, Msg: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: src[start+1 : i], off: start})
			i++
		case r == '$' || r == '_' || unicode.IsLetter(r):
			start := i
			i += size
			for i < len(src) {
				c, cs := utf8.DecodeRuneInString(src[i:])
				if c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) {
					i += cs
				} else {
					break
				}
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], off: start})
		case unicode.IsDigit(r):
			start := i
			i += size
			for i < len(src) && (isASCIIDigit(src[i]) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], off: start})
		default:
			tok, adv, err := lexPunct(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += adv
		}
	}
	toks = append(toks, token{kind: tokEOF, off: len(src)})
	return toks, nil
}

// lexPunct scans one punctuation or operator token starting at off.
func lexPunct(src string, off int) (token, int, error) {
	rest := src[off:]
	two := ""
	if len(rest) >= 2 {
		two = rest[:2]
	}
	three := ""
	if len(rest) >= 3 {
		three = rest[:3]
	}
	switch {
	case three == "<=>":
		return token{kind: tokEquiv, text: three, off: off}, 3, nil
	case two == "=>":
		return token{kind: tokImplies, text: two, off: off}, 2, nil
	case two == "|>":
		return token{kind: tokICond, text: two, off: off}, 2, nil
	case two == "&&":
		return token{kind: tokAnd, text: two, off: off}, 2, nil
	case two == "||":
		return token{kind: tokOr, text: two, off: off}, 2, nil
	case two == "::":
		return token{kind: tokDoubleColon, text: two, off: off}, 2, nil
	}
	switch rest[0] {
	case '(':
		return token{kind: tokLParen, text: "(", off: off}, 1, nil
	case ')':
		return token{kind: tokRParen, text: ")", off: off}, 1, nil
	case '[':
		return token{kind: tokLBracket, text: "[", off: off}, 1, nil
	case ']':
		return token{kind: tokRBracket, text: "]", off: off}, 1, nil
	case ';':
		return token{kind: tokSemicolon, text: ";", off: off}, 1, nil
	case ',':
		return token{kind: tokComma, text: ",", off: off}, 1, nil
	case ':':
		return token{kind: tokColon, text: ":", off: off}, 1, nil
	case '=':
		return token{kind: tokEqual, text: "=", off: off}, 1, nil
	case '<':
		return token{kind: tokLess, text: "<", off: off}, 1, nil
	case '>':
		return token{kind: tokMore, text: ">", off: off}, 1, nil
	default:
		r, _ := utf8.DecodeRuneInString(rest)
		return token{}, 0, &internalerr.ParseError{Offset: off, Msg: fmt.Sprintf("unexpected character %q", r)}
	}
}

func isASCIIDigit(b byte) bool { return b >= '0' && b <= '9' }
