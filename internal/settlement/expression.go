package settlement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
)

// divisionPrecision bounds the digits kept by a quotient before rounding.
const divisionPrecision = 16

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind  tokenKind
	value decimal.Decimal
	pos   int
}

var operatorTokens = map[byte]tokenKind{
	'+': tokPlus,
	'-': tokMinus,
	'*': tokStar,
	'x': tokStar,
	'/': tokSlash,
	'(': tokLParen,
	')': tokRParen,
}

func invalidExpression(format string, args ...any) error {
	return pkgerrors.New(pkgerrors.CodeInvalidExpression, fmt.Sprintf(format, args...))
}

// EvaluateExpression computes an arithmetic expression over decimals. It
// accepts + - * / (x is read as *), parentheses, unary minus and numbers with
// optional thousands separators.
func EvaluateExpression(expr string) (decimal.Decimal, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return decimal.Zero, err
	}
	p := &parser{tokens: tokens}
	value, err := p.parseExpr()
	if err != nil {
		return decimal.Zero, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return decimal.Zero, invalidExpression("unexpected token at position %d", tok.pos)
	}
	return value, nil
}

func tokenize(expr string) ([]token, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, invalidExpression("empty expression")
	}
	var tokens []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case isDigit(c) || c == '.':
			value, next, err := scanNumber(s, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokNumber, value: value, pos: i})
			i = next
		default:
			kind, ok := operatorTokens[c]
			if !ok {
				return nil, invalidExpression("unexpected character %q at position %d", c, i)
			}
			tokens = append(tokens, token{kind: kind, pos: i})
			i++
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(s)}), nil
}

// scanNumber reads a decimal literal starting at i. Commas are thousands
// separators and must be followed by exactly three digits.
func scanNumber(s string, i int) (decimal.Decimal, int, error) {
	start := i
	var digits strings.Builder
	seenDot := false
	for i < len(s) {
		c := s[i]
		switch {
		case isDigit(c):
			digits.WriteByte(c)
			i++
		case c == '.' && !seenDot:
			seenDot = true
			digits.WriteByte(c)
			i++
		case c == ',' && !seenDot && i > start:
			if !validSeparator(s, i) {
				return decimal.Zero, i, invalidExpression("misplaced thousands separator at position %d", i)
			}
			i++
		default:
			return parseLiteral(digits.String(), start, i)
		}
	}
	return parseLiteral(digits.String(), start, i)
}

func parseLiteral(lit string, start, end int) (decimal.Decimal, int, error) {
	if lit == "" || lit == "." {
		return decimal.Zero, end, invalidExpression("malformed number at position %d", start)
	}
	value, err := decimal.NewFromString(lit)
	if err != nil {
		return decimal.Zero, end, invalidExpression("malformed number at position %d", start)
	}
	return value, end, nil
}

func validSeparator(s string, i int) bool {
	if i+4 > len(s) {
		return false
	}
	for j := i + 1; j <= i+3; j++ {
		if !isDigit(s[j]) {
			return false
		}
	}
	return i+4 == len(s) || !isDigit(s[i+4])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parser is a recursive-descent evaluator:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = "-" unary | "+" unary | factor
//	factor = number | "(" expr ")"
type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseExpr() (decimal.Decimal, error) {
	left, err := p.parseTerm()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		switch p.peek().kind {
		case tokPlus:
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Add(right)
		case tokMinus:
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Sub(right)
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (decimal.Decimal, error) {
	left, err := p.parseUnary()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		switch p.peek().kind {
		case tokStar:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Mul(right)
		case tokSlash:
			op := p.next()
			right, err := p.parseUnary()
			if err != nil {
				return decimal.Zero, err
			}
			if right.IsZero() {
				return decimal.Zero, invalidExpression("division by zero at position %d", op.pos)
			}
			left = left.DivRound(right, divisionPrecision)
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (decimal.Decimal, error) {
	switch p.peek().kind {
	case tokMinus:
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil
	case tokPlus:
		p.next()
		return p.parseUnary()
	}
	return p.parseFactor()
}

func (p *parser) parseFactor() (decimal.Decimal, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return tok.value, nil
	case tokLParen:
		v, err := p.parseExpr()
		if err != nil {
			return decimal.Zero, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return decimal.Zero, invalidExpression("missing closing parenthesis at position %d", closing.pos)
		}
		return v, nil
	case tokEOF:
		return decimal.Zero, invalidExpression("unexpected end of expression")
	default:
		return decimal.Zero, invalidExpression("unexpected token at position %d", tok.pos)
	}
}
