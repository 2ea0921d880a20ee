package tool

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/gosuda/glassbox/internal/provider"
)

// Calculator evaluates restricted arithmetic expressions. The grammar is a
// capability allow-list: numeric literals combined with + - * / ** and
// unary minus, nothing else. Names, calls, and any other operator fail to
// lex or parse, so there is no path from the expression string to code
// execution.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

func (c *Calculator) Schema() provider.ToolSchema {
	return provider.ToolSchema{
		Name:        "calculator",
		Description: "Performs basic arithmetic calculations (+, -, *, /, **). Returns string result or error message.",
		Parameters: map[string]provider.ParamSpec{
			"expression": {Type: "string", Description: "Mathematical expression to evaluate"},
		},
		Required: []string{"expression"},
	}
}

// Execute evaluates args["expression"]. All failures come back as error
// strings with ok == false.
func (c *Calculator) Execute(args map[string]any) (string, bool) {
	expr, isStr := args["expression"].(string)
	if !isStr || strings.TrimSpace(expr) == "" {
		return "Error: Invalid expression (missing expression argument)", false
	}

	val, err := evaluate(expr)
	if err != nil {
		if err == errDivideByZero {
			return "Error: Cannot divide by zero", false
		}
		return fmt.Sprintf("Error: Invalid expression (%v)", err), false
	}

	return formatNumber(val), true
}

var errDivideByZero = fmt.Errorf("division by zero")

// number tracks whether a value stayed integral so results render the way
// the expression reads: "2 + 2" is "4" but "20 / 4" is "5.0", because
// division always produces a fractional value.
type number struct {
	val   float64
	isInt bool
}

func formatNumber(n number) string {
	if n.isInt {
		return strconv.FormatFloat(n.val, 'f', -1, 64)
	}
	if n.val == math.Trunc(n.val) && !math.IsInf(n.val, 0) {
		return strconv.FormatFloat(n.val, 'f', 1, 64)
	}
	return strconv.FormatFloat(n.val, 'g', -1, 64)
}

func evaluate(expr string) (number, error) {
	p := &exprParser{input: expr}
	p.next()

	val, err := p.parseExpr()
	if err != nil {
		return number{}, err
	}
	if p.tok.kind != tokEOF {
		return number{}, fmt.Errorf("unexpected %q", p.tok.text)
	}
	if math.IsInf(val.val, 0) || math.IsNaN(val.val) {
		return number{}, fmt.Errorf("result is not a finite number")
	}

	return val, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPower
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	num   number
}

type exprParser struct {
	input string
	pos   int
	tok   token
	err   error
}

// next lexes the following token. Any character outside the allow-list
// (digits, the five operators, parentheses, whitespace) is a lex error.
func (p *exprParser) next() {
	if p.err != nil {
		return
	}

	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}

	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF, text: "end of expression"}
		return
	}

	ch := p.input[p.pos]
	switch {
	case ch >= '0' && ch <= '9' || ch == '.':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
			p.pos++
		}
		text := p.input[start:p.pos]
		val, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.err = fmt.Errorf("malformed number %q", text)
			return
		}
		p.tok = token{kind: tokNumber, text: text, num: number{val: val, isInt: !strings.Contains(text, ".")}}
	case ch == '+':
		p.pos++
		p.tok = token{kind: tokPlus, text: "+"}
	case ch == '-':
		p.pos++
		p.tok = token{kind: tokMinus, text: "-"}
	case ch == '*':
		p.pos++
		if p.pos < len(p.input) && p.input[p.pos] == '*' {
			p.pos++
			p.tok = token{kind: tokPower, text: "**"}
		} else {
			p.tok = token{kind: tokStar, text: "*"}
		}
	case ch == '/':
		p.pos++
		p.tok = token{kind: tokSlash, text: "/"}
	case ch == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "("}
	case ch == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")"}
	default:
		p.err = fmt.Errorf("unsupported character %q", string(rune(p.input[p.pos])))
	}
}

// parseExpr := term (('+'|'-') term)*
func (p *exprParser) parseExpr() (number, error) {
	left, err := p.parseTerm()
	if err != nil {
		return number{}, err
	}

	for p.err == nil && (p.tok.kind == tokPlus || p.tok.kind == tokMinus) {
		op := p.tok.kind
		p.next()

		right, rightErr := p.parseTerm()
		if rightErr != nil {
			return number{}, rightErr
		}

		if op == tokPlus {
			left = number{val: left.val + right.val, isInt: left.isInt && right.isInt}
		} else {
			left = number{val: left.val - right.val, isInt: left.isInt && right.isInt}
		}
	}
	if p.err != nil {
		return number{}, p.err
	}

	return left, nil
}

// parseTerm := unary (('*'|'/') unary)*
func (p *exprParser) parseTerm() (number, error) {
	left, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}

	for p.err == nil && (p.tok.kind == tokStar || p.tok.kind == tokSlash) {
		op := p.tok.kind
		p.next()

		right, rightErr := p.parseUnary()
		if rightErr != nil {
			return number{}, rightErr
		}

		if op == tokStar {
			left = number{val: left.val * right.val, isInt: left.isInt && right.isInt}
		} else {
			if right.val == 0 {
				return number{}, errDivideByZero
			}
			// True division: the result is always fractional.
			left = number{val: left.val / right.val, isInt: false}
		}
	}
	if p.err != nil {
		return number{}, p.err
	}

	return left, nil
}

// parseUnary := '-' unary | power
// Unary minus binds looser than '**' on the base, so "-2 ** 2" is -4.
func (p *exprParser) parseUnary() (number, error) {
	if p.tok.kind == tokMinus {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		return number{val: -operand.val, isInt: operand.isInt}, nil
	}

	return p.parsePower()
}

// parsePower := primary ('**' unary)?   (right-associative, signed exponent)
func (p *exprParser) parsePower() (number, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return number{}, err
	}

	if p.err == nil && p.tok.kind == tokPower {
		p.next()

		exp, expErr := p.parseUnary()
		if expErr != nil {
			return number{}, expErr
		}
		if base.val == 0 && exp.val < 0 {
			return number{}, errDivideByZero
		}

		return number{
			val:   math.Pow(base.val, exp.val),
			isInt: base.isInt && exp.isInt && exp.val >= 0,
		}, nil
	}
	if p.err != nil {
		return number{}, p.err
	}

	return base, nil
}

// parsePrimary := NUMBER | '(' expr ')'
func (p *exprParser) parsePrimary() (number, error) {
	if p.err != nil {
		return number{}, p.err
	}

	switch p.tok.kind {
	case tokNumber:
		n := p.tok.num
		p.next()
		if p.err != nil {
			return number{}, p.err
		}
		return n, nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return number{}, err
		}
		if p.tok.kind != tokRParen {
			return number{}, fmt.Errorf("expected ')', got %q", p.tok.text)
		}
		p.next()
		if p.err != nil {
			return number{}, p.err
		}
		return inner, nil
	default:
		return number{}, fmt.Errorf("unexpected %q", p.tok.text)
	}
}
