package query

import (
	"strconv"
	"strings"
)

// NodeKind tags the variant held by a Node.
type NodeKind int

const (
	NodeGet NodeKind = iota
	NodeLiteral
	NodeCall
	NodePipe
	NodeObject
	NodeArray
)

// Node is one element of a parsed query.
//
//	NodeGet     Path
//	NodeLiteral Value
//	NodeCall    Name, Args
//	NodePipe    Args (stages, left to right)
//	NodeObject  Keys, Args (values, same order)
//	NodeArray   Args
type Node struct {
	Kind  NodeKind
	Path  []string
	Value any
	Name  string
	Keys  []string
	Args  []*Node
}

func getNode(path ...string) *Node { return &Node{Kind: NodeGet, Path: path} }
func literal(v any) *Node          { return &Node{Kind: NodeLiteral, Value: v} }
func call(name string, args ...*Node) *Node {
	return &Node{Kind: NodeCall, Name: name, Args: args}
}

// String renders n back into query text.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch n.Kind {
	case NodeGet:
		if len(n.Path) == 0 {
			b.WriteString(".")
		}
		for _, p := range n.Path {
			b.WriteByte('.')
			if isIdent(p) || isDigits(p) {
				b.WriteString(p)
			} else {
				b.WriteString(strconv.Quote(p))
			}
		}
	case NodeLiteral:
		switch v := n.Value.(type) {
		case nil:
			b.WriteString("null")
		case string:
			b.WriteString(strconv.Quote(v))
		case float64:
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			b.WriteString(strconv.FormatBool(v))
		}
	case NodeCall:
		b.WriteString(n.Name)
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.write(b)
		}
		b.WriteByte(')')
	case NodePipe:
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(" | ")
			}
			a.write(b)
		}
	case NodeObject:
		b.WriteByte('{')
		for i, k := range n.Keys {
			if i > 0 {
				b.WriteString(", ")
			}
			if isIdent(k) {
				b.WriteString(k)
			} else {
				b.WriteString(strconv.Quote(k))
			}
			b.WriteString(": ")
			n.Args[i].write(b)
		}
		b.WriteByte('}')
	case NodeArray:
		b.WriteByte('[')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.write(b)
		}
		b.WriteByte(']')
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(isIdentStart(c) || (i > 0 && isDigit(c))) {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
