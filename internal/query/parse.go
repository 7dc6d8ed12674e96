package query

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports where parsing stopped.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s (pos %d)", e.Msg, e.Pos)
}

var binaryOps = []struct {
	tok  string
	name string
}{
	// longest first
	{"==", "eq"}, {"!=", "ne"}, {">=", "gte"}, {"<=", "lte"}, {">", "gt"}, {"<", "lt"},
}

type parser struct {
	src string
	pos int
}

// Parse turns query text into a Node tree.
func Parse(src string) (*Node, error) {
	p := &parser{src: src}
	n, err := p.pipe()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:p.pos+1])
	}
	return n, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

// acceptWord matches a keyword not followed by an identifier character.
func (p *parser) acceptWord(w string) bool {
	p.skipSpace()
	end := p.pos + len(w)
	if !strings.HasPrefix(p.src[p.pos:], w) {
		return false
	}
	if end < len(p.src) && (isIdentStart(p.src[end]) || isDigit(p.src[end])) {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) expect(tok string) error {
	if !p.accept(tok) {
		if p.pos >= len(p.src) {
			return p.errorf("expected %q, got end of query", tok)
		}
		return p.errorf("expected %q", tok)
	}
	return nil
}

func (p *parser) pipe() (*Node, error) {
	first, err := p.or()
	if err != nil {
		return nil, err
	}
	stages := []*Node{first}
	for p.peek() == '|' {
		p.pos++
		next, err := p.or()
		if err != nil {
			return nil, err
		}
		stages = append(stages, next)
	}
	if len(stages) == 1 {
		return first, nil
	}
	return &Node{Kind: NodePipe, Args: stages}, nil
}

func (p *parser) or() (*Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.acceptWord("or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = call("or", left, right)
	}
	return left, nil
}

func (p *parser) and() (*Node, error) {
	left, err := p.comparison()
	if err != nil {
		return nil, err
	}
	for p.acceptWord("and") {
		right, err := p.comparison()
		if err != nil {
			return nil, err
		}
		left = call("and", left, right)
	}
	return left, nil
}

func (p *parser) comparison() (*Node, error) {
	left, err := p.sum()
	if err != nil {
		return nil, err
	}
	name := ""
	for _, op := range binaryOps {
		if p.accept(op.tok) {
			name = op.name
			break
		}
	}
	if name == "" {
		switch {
		case p.acceptWord("in"):
			name = "in"
		case p.acceptWord("not"):
			if !p.acceptWord("in") {
				return nil, p.errorf("expected \"in\" after \"not\"")
			}
			name = "not in"
		default:
			return left, nil
		}
	}
	right, err := p.sum()
	if err != nil {
		return nil, err
	}
	if name == "not in" {
		return call("not", call("in", left, right)), nil
	}
	return call(name, left, right), nil
}

func (p *parser) sum() (*Node, error) {
	left, err := p.product()
	if err != nil {
		return nil, err
	}
	for {
		var name string
		switch p.peek() {
		case '+':
			name = "add"
		case '-':
			name = "subtract"
		default:
			return left, nil
		}
		p.pos++
		right, err := p.product()
		if err != nil {
			return nil, err
		}
		left = call(name, left, right)
	}
}

func (p *parser) product() (*Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		var name string
		switch p.peek() {
		case '*':
			name = "multiply"
		case '/':
			name = "divide"
		case '%':
			name = "mod"
		default:
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = call(name, left, right)
	}
}

func (p *parser) unary() (*Node, error) {
	if p.peek() == '-' && p.pos+1 < len(p.src) && !isDigit(p.src[p.pos+1]) {
		p.pos++
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return call("subtract", literal(0.0), operand), nil
	}
	return p.primary()
}

func (p *parser) primary() (*Node, error) {
	c := p.peek()
	switch {
	case c == 0:
		return nil, p.errorf("unexpected end of query")
	case c == '(':
		p.pos++
		n, err := p.pipe()
		if err != nil {
			return nil, err
		}
		return n, p.expect(")")
	case c == '.':
		return p.property()
	case c == '"':
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		return literal(s), nil
	case c == '-' || isDigit(c):
		return p.number()
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case isIdentStart(c):
		word := p.ident()
		switch word {
		case "true":
			return literal(true), nil
		case "false":
			return literal(false), nil
		case "null":
			return literal(nil), nil
		}
		if p.peek() != '(' {
			return nil, &SyntaxError{Pos: p.pos - len(word), Msg: fmt.Sprintf("unknown identifier %q (functions need parentheses)", word)}
		}
		return p.callArgs(word)
	}
	return nil, p.errorf("unexpected %q", string(c))
}

func (p *parser) property() (*Node, error) {
	var path []string
	for p.pos < len(p.src) && p.src[p.pos] == '.' {
		p.pos++
		if p.pos >= len(p.src) {
			if len(path) > 0 {
				return nil, p.errorf("expected property name after \".\"")
			}
			break
		}
		switch c := p.src[p.pos]; {
		case c == '"':
			s, err := p.quoted()
			if err != nil {
				return nil, err
			}
			path = append(path, s)
		case isIdentStart(c):
			path = append(path, p.ident())
		case isDigit(c):
			start := p.pos
			for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
				p.pos++
			}
			path = append(path, p.src[start:p.pos])
		default:
			if len(path) > 0 {
				return nil, p.errorf("expected property name after \".\"")
			}
			// a lone "." is the identity
			return getNode(), nil
		}
	}
	return getNode(path...), nil
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.src) && (isIdentStart(p.src[p.pos]) || isDigit(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) quoted() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			s, err := strconv.Unquote(p.src[start:p.pos])
			if err != nil {
				return "", &SyntaxError{Pos: start, Msg: "invalid string literal"}
			}
			return s, nil
		}
		p.pos++
	}
	return "", &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func (p *parser) number() (*Node, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isDigit(c) || c == '.' || c == 'e' || c == 'E' ||
			((c == '+' || c == '-') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E')) {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("invalid number %q", p.src[start:p.pos])}
	}
	return literal(f), nil
}

func (p *parser) callArgs(name string) (*Node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	n := &Node{Kind: NodeCall, Name: name}
	if p.accept(")") {
		return n, nil
	}
	for {
		arg, err := p.pipe()
		if err != nil {
			return nil, err
		}
		n.Args = append(n.Args, arg)
		if p.accept(",") {
			continue
		}
		return n, p.expect(")")
	}
}

func (p *parser) object() (*Node, error) {
	p.pos++ // {
	n := &Node{Kind: NodeObject}
	if p.accept("}") {
		return n, nil
	}
	for {
		var key string
		switch c := p.peek(); {
		case c == '"':
			s, err := p.quoted()
			if err != nil {
				return nil, err
			}
			key = s
		case isIdentStart(c):
			key = p.ident()
		default:
			return nil, p.errorf("expected object key")
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		val, err := p.pipe()
		if err != nil {
			return nil, err
		}
		n.Keys = append(n.Keys, key)
		n.Args = append(n.Args, val)
		if p.accept(",") {
			continue
		}
		return n, p.expect("}")
	}
}

func (p *parser) array() (*Node, error) {
	p.pos++ // [
	n := &Node{Kind: NodeArray}
	if p.accept("]") {
		return n, nil
	}
	for {
		v, err := p.pipe()
		if err != nil {
			return nil, err
		}
		n.Args = append(n.Args, v)
		if p.accept(",") {
			continue
		}
		return n, p.expect("]")
	}
}
