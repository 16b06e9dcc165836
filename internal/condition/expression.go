package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST
// -----------------------------------------------------------------------

// Expr is a node of a parsed rule expression.
type Expr interface {
	exprNode()
}

// BinaryExpr joins two expressions with AND or OR.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// NotExpr negates its operand.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

// ComparisonExpr is <operand> <operator> <operand>.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand

	re *regexp.Regexp // compiled at parse time for matches against a literal
}

func (*ComparisonExpr) exprNode() {}

// Operand is a literal, a list of literals, or a field path.
type Operand interface {
	operandNode()
}

// LiteralOperand holds a constant: string, float64 or bool.
type LiteralOperand struct {
	Value interface{}
}

func (*LiteralOperand) operandNode() {}

// ListOperand holds the literal members of an `in` list.
type ListOperand struct {
	Values []interface{}
}

func (*ListOperand) operandNode() {}

// FieldOperand holds a dotted path such as "entities.ip".
type FieldOperand struct {
	Path []string
}

func (*FieldOperand) operandNode() {}

// Fields returns every field path referenced by expr, in source order.
func Fields(expr Expr) []string {
	var out []string
	var walk func(Expr)
	operand := func(o Operand) {
		if f, ok := o.(*FieldOperand); ok {
			out = append(out, strings.Join(f.Path, "."))
		}
	}
	walk = func(e Expr) {
		switch n := e.(type) {
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *ComparisonExpr:
			operand(n.Left)
			operand(n.Right)
		}
	}
	walk(expr)
	return out
}

// -----------------------------------------------------------------------
// Lexer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord tokenKind = iota
	tokOp
	tokString
	tokNumber
	tokBool
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

var punct = map[byte]tokenKind{
	'(': tokLParen,
	')': tokRParen,
	'[': tokLBracket,
	']': tokRBracket,
	',': tokComma,
}

func isPunct(b byte) bool {
	_, ok := punct[b]
	return ok
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isWordByte(b byte, first bool) bool {
	if b == '_' || unicode.IsLetter(rune(b)) {
		return true
	}
	return !first && (isDigit(b) || b == '.')
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		ch := src[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case isPunct(ch):
			tokens = append(tokens, token{punct[ch], string(ch), i})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
		case ch == '"' || ch == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != ch {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			tokens = append(tokens, token{tokString, sb.String(), i})
			i = j + 1
		case isDigit(ch) || (ch == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, src[i:j], i})
			i = j
		case isWordByte(ch, true):
			j := i + 1
			for j < len(src) && isWordByte(src[j], false) {
				j++
			}
			word := src[i:j]
			kind := tokWord
			if lw := strings.ToLower(word); lw == "true" || lw == "false" {
				kind, word = tokBool, lw
			}
			tokens = append(tokens, token{kind, word, i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return append(tokens, token{tokEOF, "", len(src)}), nil
}

// -----------------------------------------------------------------------
// Parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

func describe(t token) string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return strconv.Quote(t.val)
}

// Parse compiles an expression string into an AST.
//
//	or_expr    = and_expr { "OR" and_expr }
//	and_expr   = not_expr { "AND" not_expr }
//	not_expr   = "NOT" not_expr | "(" or_expr ")" | comparison
//	comparison = operand op operand | operand "in" list
func Parse(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", describe(t), t.pos)
	}
	return expr, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("condition: %q: %v", src, err))
	}
	return e
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" but got %s", describe(t))
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	t := p.next()
	var op Operator
	switch {
	case t.kind == tokOp:
		op = Operator(t.val)
	case t.kind == tokWord:
		op = Operator(strings.ToLower(t.val))
		if op != OpContains && op != OpMatches && op != OpIn {
			return nil, fmt.Errorf("expected comparison operator, got %s", describe(t))
		}
	default:
		return nil, fmt.Errorf("expected comparison operator, got %s", describe(t))
	}

	cmp := &ComparisonExpr{Left: left, Op: op}
	if op == OpIn {
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		cmp.Right = list
		return cmp, nil
	}
	if cmp.Right, err = p.parseOperand(); err != nil {
		return nil, err
	}
	if lit, ok := cmp.Right.(*LiteralOperand); ok && op == OpMatches {
		pattern, ok := lit.Value.(string)
		if !ok {
			return nil, fmt.Errorf("matches: pattern must be a string")
		}
		if cmp.re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("matches: invalid regex %q: %w", pattern, err)
		}
	}
	return cmp, nil
}

func (p *parser) parseList() (*ListOperand, error) {
	if t := p.next(); t.kind != tokLBracket {
		return nil, fmt.Errorf("in: expected \"[\" but got %s", describe(t))
	}
	list := &ListOperand{}
	if p.peek().kind == tokRBracket {
		p.next()
		return list, nil
	}
	for {
		o, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		lit, ok := o.(*LiteralOperand)
		if !ok {
			return nil, fmt.Errorf("in: list members must be literals")
		}
		list.Values = append(list.Values, lit.Value)
		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokRBracket:
			return list, nil
		default:
			return nil, fmt.Errorf("in: expected \",\" or \"]\" but got %s", describe(t))
		}
	}
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return &LiteralOperand{Value: t.val}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return &LiteralOperand{Value: f}, nil
	case tokBool:
		return &LiteralOperand{Value: t.val == "true"}, nil
	case tokWord:
		switch strings.ToUpper(t.val) {
		case "AND", "OR", "NOT":
			return nil, fmt.Errorf("expected operand, got keyword %s", t.val)
		}
		return &FieldOperand{Path: strings.Split(t.val, ".")}, nil
	default:
		return nil, fmt.Errorf("expected operand, got %s", describe(t))
	}
}
