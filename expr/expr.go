// Package expr implements the small boolean expression language used for
// strategy buy/sell rules, e.g. "Close_Qfq > MA_20 and MACD_Hist > 0".
//
// Expressions reference named table columns and are compiled once before a
// run. Any comparison involving NaN evaluates to false, and a bare numeric
// value is truthy when non-zero and non-NaN.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Lookup resolves a column name for the row under evaluation.
type Lookup func(name string) (float64, bool)

// Program is a compiled predicate.
type Program struct {
	src  string
	root node
}

// Compile parses src into a predicate. A parse error is a fatal
// configuration error for the caller.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	if !p.eof() {
		return nil, fmt.Errorf("compile %q: unexpected %q", src, p.peek().text)
	}
	return &Program{src: src, root: root}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.src }

// Columns returns the sorted set of column names the expression references.
func (p *Program) Columns() []string {
	set := map[string]bool{}
	collectColumns(p.root, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Eval evaluates the predicate against one row. A missing column evaluates
// to NaN, which can never satisfy a comparison; callers are expected to have
// checked Columns() against the table beforehand.
func (p *Program) Eval(get Lookup) bool {
	return truthy(p.root.eval(get))
}

func truthy(v float64) bool {
	return !math.IsNaN(v) && v != 0
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ---- AST ----

type node interface {
	eval(get Lookup) float64
}

type numberNode float64

func (n numberNode) eval(Lookup) float64 { return float64(n) }

type columnNode string

func (n columnNode) eval(get Lookup) float64 {
	v, ok := get(string(n))
	if !ok {
		return math.NaN()
	}
	return v
}

type unaryNode struct {
	op    string // "-" or "not"
	child node
}

func (n *unaryNode) eval(get Lookup) float64 {
	v := n.child.eval(get)
	if n.op == "-" {
		return -v
	}
	return boolVal(!truthy(v))
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(get Lookup) float64 {
	switch n.op {
	case "and":
		return boolVal(truthy(n.left.eval(get)) && truthy(n.right.eval(get)))
	case "or":
		return boolVal(truthy(n.left.eval(get)) || truthy(n.right.eval(get)))
	}

	l := n.left.eval(get)
	r := n.right.eval(get)
	switch n.op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			return math.NaN()
		}
		return l / r
	}

	// comparisons: NaN on either side is always false
	if math.IsNaN(l) || math.IsNaN(r) {
		return 0
	}
	switch n.op {
	case ">":
		return boolVal(l > r)
	case ">=":
		return boolVal(l >= r)
	case "<":
		return boolVal(l < r)
	case "<=":
		return boolVal(l <= r)
	case "==":
		return boolVal(l == r)
	case "!=":
		return boolVal(l != r)
	}
	return math.NaN()
}

func collectColumns(n node, set map[string]bool) {
	switch v := n.(type) {
	case columnNode:
		set[string(v)] = true
	case *unaryNode:
		collectColumns(v.child, set)
	case *binaryNode:
		collectColumns(v.left, set)
		collectColumns(v.right, set)
	}
}

// ---- tokenizer ----

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '>' || c == '<' || c == '=' || c == '!':
			op := string(c)
			if i+1 < len(rs) && rs[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "=" {
				return nil, fmt.Errorf("single '=' at %d, use '=='", i)
			}
			if op == "!" {
				toks = append(toks, token{tokOp, "not", i})
				continue
			}
			toks = append(toks, token{tokOp, op, i})
		case c == '&' || c == '|':
			op := "and"
			if c == '|' {
				op = "or"
			}
			i++
			if i < len(rs) && rs[i] == c {
				i++
			}
			toks = append(toks, token{tokOp, op, i})
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{tokOp, string(c), i})
			i++
		case unicode.IsDigit(c) || c == '.':
			j := i
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			text := string(rs[i:j])
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, fmt.Errorf("bad number %q at %d", text, i)
			}
			toks = append(toks, token{tokNumber, text, i})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			text := string(rs[i:j])
			switch strings.ToLower(text) {
			case "and", "or", "not":
				toks = append(toks, token{tokOp, strings.ToLower(text), i})
			case "true":
				toks = append(toks, token{tokNumber, "1", i})
			case "false":
				toks = append(toks, token{tokNumber, "0", i})
			default:
				toks = append(toks, token{tokIdent, text, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", string(c), i)
		}
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	return toks, nil
}

// ---- parser ----
//
// Precedence (loose to tight): or, and, not, comparison, +/-, */, unary -.

type parser struct {
	toks []token
	i    int
}

func (p *parser) eof() bool { return p.i >= len(p.toks) }

func (p *parser) peek() token {
	if p.eof() {
		return token{tokOp, "<eof>", -1}
	}
	return p.toks[p.i]
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	if p.eof() || p.toks[p.i].kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.toks[p.i].text == op {
			p.i++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("or"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("and"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.acceptOp("not"); ok {
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", child: child}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp(">", ">=", "<", "<=", "==", "!=")
	if !ok {
		return left, nil
	}
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &binaryNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOp("-"); ok {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "-", child: child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.eof() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.toks[p.i]
	switch t.kind {
	case tokNumber:
		p.i++
		v, _ := strconv.ParseFloat(t.text, 64)
		return numberNode(v), nil
	case tokIdent:
		p.i++
		return columnNode(t.text), nil
	case tokLParen:
		p.i++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.eof() || p.toks[p.i].kind != tokRParen {
			return nil, fmt.Errorf("missing ')' for '(' at %d", t.pos)
		}
		p.i++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
	}
}
