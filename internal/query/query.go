// Package query evaluates jsonquery-style pipelines over decoded JSON values.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/apperr"
)

// Evaluator computes a value from its input.
type Evaluator func(data any) (any, error)

// CompileFunc compiles a sub-expression; operators use it for their arguments.
type CompileFunc func(n *Node) (Evaluator, error)

// Operator builds an evaluator from its unevaluated arguments.
type Operator func(args []*Node, compile CompileFunc) (Evaluator, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Operator{}
)

// Register adds or replaces a named operator for every query compiled afterwards.
func Register(name string, op Operator) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = op
}

// Operators lists the registered operator names.
func Operators() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// QueryError wraps any parse or evaluation failure with the offending query.
type QueryError struct {
	Query string
	Cause error
}

func (e *QueryError) Error() string {
	if e.Cause == nil {
		return "failed to run query"
	}
	return "failed to run query: " + e.Cause.Error()
}

func (e *QueryError) Unwrap() error     { return e.Cause }
func (e *QueryError) Kind() apperr.Kind { return apperr.KindQuery }

var ErrEmptyQuery = errors.New("query must be a non-empty string")

// ErrNotFinite is returned when a result holds NaN or an infinity, which JSON cannot carry.
var ErrNotFinite = errors.New("result is not a finite number")

type options struct {
	ops map[string]Operator
}

type Option func(*options)

// WithOperator registers op for this compilation only.
func WithOperator(name string, op Operator) Option {
	return func(o *options) { o.ops[name] = op }
}

// Query is a compiled expression, safe for concurrent use.
type Query struct {
	text string
	root *Node
	eval Evaluator
}

// Compile parses and compiles expr.
func Compile(expr string, opts ...Option) (*Query, error) {
	text := strings.TrimSpace(expr)
	if text == "" {
		return nil, &QueryError{Query: expr, Cause: ErrEmptyQuery}
	}

	regMu.RLock()
	o := &options{ops: maps.Clone(registry)}
	regMu.RUnlock()
	for _, f := range opts {
		f(o)
	}

	root, err := Parse(text)
	if err != nil {
		return nil, &QueryError{Query: text, Cause: err}
	}
	c := &compiler{ops: o.ops}
	eval, err := c.compile(root)
	if err != nil {
		return nil, &QueryError{Query: text, Cause: err}
	}
	return &Query{text: text, root: root, eval: eval}, nil
}

// Run compiles expr and evaluates it against data.
func Run(data any, expr string, opts ...Option) (any, error) {
	q, err := Compile(expr, opts...)
	if err != nil {
		return nil, err
	}
	return q.Run(data)
}

// Run evaluates q. Values that are not already decoded JSON are passed through
// encoding/json first so struct fields are addressed by their JSON names.
func (q *Query) Run(data any) (any, error) {
	doc, err := plain(data)
	if err != nil {
		return nil, &QueryError{Query: q.text, Cause: err}
	}
	out, err := q.eval(doc)
	if err != nil {
		return nil, &QueryError{Query: q.text, Cause: err}
	}
	if !finite(out) {
		return nil, &QueryError{Query: q.text, Cause: ErrNotFinite}
	}
	return out, nil
}

func finite(v any) bool {
	switch x := v.(type) {
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case []any:
		for _, e := range x {
			if !finite(e) {
				return false
			}
		}
	case map[string]any:
		for _, e := range x {
			if !finite(e) {
				return false
			}
		}
	}
	return true
}

func (q *Query) String() string { return q.text }

// AST returns the parsed tree.
func (q *Query) AST() *Node { return q.root }

type compiler struct {
	ops map[string]Operator
}

func (c *compiler) compile(n *Node) (Evaluator, error) {
	switch n.Kind {
	case NodeGet:
		path := n.Path
		return func(data any) (any, error) {
			v, _ := lookup(data, path)
			return v, nil
		}, nil

	case NodeLiteral:
		v := n.Value
		return func(any) (any, error) { return v, nil }, nil

	case NodeCall:
		op, ok := c.ops[n.Name]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", n.Name)
		}
		ev, err := op(n.Args, c.compile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		return ev, nil

	case NodePipe:
		stages := make([]Evaluator, len(n.Args))
		for i, a := range n.Args {
			ev, err := c.compile(a)
			if err != nil {
				return nil, err
			}
			stages[i] = ev
		}
		return func(data any) (any, error) {
			cur := data
			for _, st := range stages {
				next, err := st(cur)
				if err != nil {
					return nil, err
				}
				cur = next
			}
			return cur, nil
		}, nil

	case NodeObject:
		vals, err := c.compileAll(n.Args)
		if err != nil {
			return nil, err
		}
		keys := n.Keys
		return func(data any) (any, error) {
			out := make(map[string]any, len(keys))
			for i, k := range keys {
				v, err := vals[i](data)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
			return out, nil
		}, nil

	case NodeArray:
		vals, err := c.compileAll(n.Args)
		if err != nil {
			return nil, err
		}
		return func(data any) (any, error) {
			out := make([]any, len(vals))
			for i, ev := range vals {
				v, err := ev(data)
				if err != nil {
					return nil, err
				}
				out[i] = v
			}
			return out, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported node kind %d", n.Kind)
}

func (c *compiler) compileAll(nodes []*Node) ([]Evaluator, error) {
	out := make([]Evaluator, len(nodes))
	for i, n := range nodes {
		ev, err := c.compile(n)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

func plain(data any) (any, error) {
	switch data.(type) {
	case nil, map[string]any, []any, string, float64, bool:
		return data, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return doc, nil
}

// lookup walks path through maps and arrays; found is false when a segment is missing.
func lookup(data any, path []string) (v any, found bool) {
	cur := data
	for _, seg := range path {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
