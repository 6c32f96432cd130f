package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Expression is a parsed dose formula. Formulas are plain arithmetic over
// named variables with a closed set of allowed functions; there is no
// ambient code execution.
//
// Grammar:
//
//	expr    = term {("+" | "-") term}
//	term    = unary {("*" | "/" | "%") unary}
//	unary   = ("+" | "-") unary | power
//	power   = primary ["**" unary]
//	primary = NUMBER | IDENT | IDENT "(" [expr {"," expr}] ")" | "(" expr ")"
type Expression struct {
	text string
	root exprNode
}

// exprFunctions is the closed set of callable functions
var exprFunctions = map[string]func(args []float64) (float64, error){
	"abs": func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("abs expects 1 argument, got %d", len(args))
		}
		return math.Abs(args[0]), nil
	},
	"round": func(args []float64) (float64, error) {
		switch len(args) {
		case 1:
			return math.Round(args[0]), nil
		case 2:
			shift := math.Pow(10, args[1])
			return math.Round(args[0]*shift) / shift, nil
		default:
			return 0, fmt.Errorf("round expects 1 or 2 arguments, got %d", len(args))
		}
	},
	"min": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("min expects at least 1 argument")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Min(m, a)
		}
		return m, nil
	},
	"max": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("max expects at least 1 argument")
		}
		m := args[0]
		for _, a := range args[1:] {
			m = math.Max(m, a)
		}
		return m, nil
	},
}

type exprNode interface {
	eval(vars map[string]float64) (float64, error)
	identifiers(set map[string]struct{})
}

type numberNode struct {
	value float64
}

func (n numberNode) eval(map[string]float64) (float64, error) { return n.value, nil }
func (n numberNode) identifiers(map[string]struct{})          {}

type variableNode struct {
	name string
}

func (n variableNode) eval(vars map[string]float64) (float64, error) {
	v, ok := vars[n.name]
	if !ok {
		return 0, fmt.Errorf("unknown variable %q", n.name)
	}
	return v, nil
}

func (n variableNode) identifiers(set map[string]struct{}) { set[n.name] = struct{}{} }

type unaryNode struct {
	negate  bool
	operand exprNode
}

func (n unaryNode) eval(vars map[string]float64) (float64, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return 0, err
	}
	if n.negate {
		return -v, nil
	}
	return v, nil
}

func (n unaryNode) identifiers(set map[string]struct{}) { n.operand.identifiers(set) }

type binaryNode struct {
	op          string
	left, right exprNode
}

func (n binaryNode) eval(vars map[string]float64) (float64, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return 0, err
	}
	right, err := n.right.eval(vars)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case "%":
		if right == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(left, right), nil
	case "**":
		return math.Pow(left, right), nil
	default:
		return 0, fmt.Errorf("unknown operator %q", n.op)
	}
}

func (n binaryNode) identifiers(set map[string]struct{}) {
	n.left.identifiers(set)
	n.right.identifiers(set)
}

type callNode struct {
	name string
	args []exprNode
}

func (n callNode) eval(vars map[string]float64) (float64, error) {
	fn := exprFunctions[n.name]
	args := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(vars)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	return fn(args)
}

func (n callNode) identifiers(set map[string]struct{}) {
	for _, arg := range n.args {
		arg.identifiers(set)
	}
}

// ParseExpression parses a formula expression, rejecting anything outside
// the allowed grammar and function set.
func ParseExpression(input string) (*Expression, error) {
	tokens, err := lexExpression(input)
	if err != nil {
		return nil, err
	}

	p := &exprParser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		tok := p.peek()
		return nil, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}

	return &Expression{text: input, root: root}, nil
}

// Identifiers returns the sorted set of variable names the expression reads
func (e *Expression) Identifiers() []string {
	set := make(map[string]struct{})
	e.root.identifiers(set)

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate computes the expression over the given variable values
func (e *Expression) Evaluate(vars map[string]float64) (float64, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %q: %w", e.text, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expression %q produced a non-finite result", e.text)
	}
	return v, nil
}

type exprToken struct {
	kind string // "number", "ident", "op", "lparen", "rparen", "comma"
	text string
	pos  int
}

func lexExpression(input string) ([]exprToken, error) {
	var tokens []exprToken
	i := 0

	for i < len(input) {
		c := rune(input[i])

		switch {
		case unicode.IsSpace(c):
			i++

		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(input) && (unicode.IsDigit(rune(input[i])) || input[i] == '.') {
				i++
			}
			// exponent part
			if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
				j := i + 1
				if j < len(input) && (input[j] == '+' || input[j] == '-') {
					j++
				}
				if j < len(input) && unicode.IsDigit(rune(input[j])) {
					i = j
					for i < len(input) && unicode.IsDigit(rune(input[i])) {
						i++
					}
				}
			}
			text := input[start:i]
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			tokens = append(tokens, exprToken{kind: "number", text: text, pos: start})

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(input) && (unicode.IsLetter(rune(input[i])) || unicode.IsDigit(rune(input[i])) || input[i] == '_') {
				i++
			}
			tokens = append(tokens, exprToken{kind: "ident", text: input[start:i], pos: start})

		case c == '*':
			if i+1 < len(input) && input[i+1] == '*' {
				tokens = append(tokens, exprToken{kind: "op", text: "**", pos: i})
				i += 2
			} else {
				tokens = append(tokens, exprToken{kind: "op", text: "*", pos: i})
				i++
			}

		case c == '+' || c == '-' || c == '/' || c == '%':
			tokens = append(tokens, exprToken{kind: "op", text: string(c), pos: i})
			i++

		case c == '(':
			tokens = append(tokens, exprToken{kind: "lparen", text: "(", pos: i})
			i++

		case c == ')':
			tokens = append(tokens, exprToken{kind: "rparen", text: ")", pos: i})
			i++

		case c == ',':
			tokens = append(tokens, exprToken{kind: "comma", text: ",", pos: i})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	return tokens, nil
}

type exprParser struct {
	tokens []exprToken
	pos    int
}

func (p *exprParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *exprParser) peek() exprToken {
	if p.atEnd() {
		return exprToken{kind: "eof", text: "end of expression", pos: len(p.tokens)}
	}
	return p.tokens[p.pos]
}

func (p *exprParser) advance() exprToken {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *exprParser) matchOp(ops ...string) (string, bool) {
	tok := p.peek()
	if tok.kind != "op" {
		return "", false
	}
	for _, op := range ops {
		if tok.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseExpr() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := p.matchOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseTerm() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := p.matchOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if op, ok := p.matchOp("+", "-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{negate: op == "-", operand: operand}, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (exprNode, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	// right-associative; exponent may carry its own sign
	if _, ok := p.matchOp("**"); ok {
		exponent, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", left: base, right: exponent}, nil
	}

	return base, nil
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	tok := p.peek()

	switch tok.kind {
	case "number":
		p.advance()
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}
		return numberNode{value: value}, nil

	case "ident":
		p.advance()
		if p.peek().kind != "lparen" {
			return variableNode{name: tok.text}, nil
		}

		if _, ok := exprFunctions[tok.text]; !ok {
			return nil, fmt.Errorf("unknown function %q at position %d", tok.text, tok.pos)
		}

		p.advance() // consume "("
		var args []exprNode
		if p.peek().kind != "rparen" {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != "comma" {
					break
				}
				p.advance()
			}
		}
		if p.peek().kind != "rparen" {
			next := p.peek()
			return nil, fmt.Errorf("expected ) but found %q at position %d", next.text, next.pos)
		}
		p.advance()
		return callNode{name: tok.text, args: args}, nil

	case "lparen":
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != "rparen" {
			next := p.peek()
			return nil, fmt.Errorf("expected ) but found %q at position %d", next.text, next.pos)
		}
		p.advance()
		return inner, nil

	default:
		return nil, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
}

// FormulaScopeVariables lists every variable the calculation engine exposes
// to formulas. Declared formula variables must come from this set.
var FormulaScopeVariables = []string{
	"kq",
	"pdd_or_tpr",
	"ndw_60co",
	"rcav_cm",
	"reference_polarity",
	"temperature_c",
	"pressure_kpa",
	"p_tp",
	"p_ion",
	"p_pol",
	"p_elec",
	"m_raw_c",
	"m_q",
	"mu_meas",
}

// ValidateFormula parses an expression and checks that every identifier it
// references is declared and every declared variable is one the engine can
// supply. Violations are collected into a single error.
func ValidateFormula(expression string, declared []string) (*Expression, error) {
	var violations []string

	expr, err := ParseExpression(expression)
	if err != nil {
		violations = append(violations, err.Error())
	}

	scope := make(map[string]struct{}, len(FormulaScopeVariables))
	for _, name := range FormulaScopeVariables {
		scope[name] = struct{}{}
	}

	declaredSet := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		declaredSet[name] = struct{}{}
		if _, ok := scope[name]; !ok {
			violations = append(violations, fmt.Sprintf("declared variable %q is not provided by the engine", name))
		}
	}

	if expr != nil {
		for _, name := range expr.Identifiers() {
			if _, ok := declaredSet[name]; !ok {
				violations = append(violations, fmt.Sprintf("expression references undeclared variable %q", name))
			}
		}
	}

	if len(violations) > 0 {
		return nil, &FormulaError{Violations: violations}
	}

	return expr, nil
}

// FormulaError reports a formula definition that failed validation
type FormulaError struct {
	Violations []string
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula failed validation: %s", strings.Join(e.Violations, "; "))
}

// IsTransient returns false as formula errors are permanent
func (e *FormulaError) IsTransient() bool {
	return false
}
