package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
)

func init() {
	for name, op := range map[string]Operator{
		"get":       opGet,
		"filter":    opFilter,
		"map":       opMap,
		"sort":      opSort,
		"groupBy":   opGroupBy,
		"keyBy":     opKeyBy,
		"mapValues": opMapValues,
		"mapKeys":   opMapKeys,
		"pick":      opPick,
		"limit":     opLimit,
		"size":      opSize,
		"count":     opSize,
		"sum":       numericReducer(sumOf),
		"average":   numericReducer(averageOf),
		"min":       numericReducer(minOf),
		"max":       numericReducer(maxOf),
		"uniq":      opUniq,
		"uniqBy":    opUniqBy,
		"flatten":   opFlatten,
		"keys":      opKeys,
		"values":    opValues,
		"reverse":   opReverse,
		"round":     opRound,
		"abs":       opAbs,
		"exists":    opExists,
		"join":      opJoin,
		"not":       opNot,
		"and":       logical(true),
		"or":        logical(false),
		"eq":        equality(true),
		"ne":        equality(false),
		"gt":        ordered(func(c int) bool { return c > 0 }),
		"gte":       ordered(func(c int) bool { return c >= 0 }),
		"lt":        ordered(func(c int) bool { return c < 0 }),
		"lte":       ordered(func(c int) bool { return c <= 0 }),
		"in":        opIn,
		"add":       arithmetic(func(a, b float64) (float64, error) { return a + b, nil }),
		"subtract":  arithmetic(func(a, b float64) (float64, error) { return a - b, nil }),
		"multiply":  arithmetic(func(a, b float64) (float64, error) { return a * b, nil }),
		"divide":    arithmetic(divide),
		"mod":       arithmetic(mod),
		"unnest":    opUnnest,
	} {
		Register(name, op)
	}
}

func arity(args []*Node, lo, hi int) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		switch {
		case lo == hi:
			return fmt.Errorf("expects %d argument(s), got %d", lo, len(args))
		case hi < 0:
			return fmt.Errorf("expects at least %d argument(s), got %d", lo, len(args))
		default:
			return fmt.Errorf("expects %d to %d arguments, got %d", lo, hi, len(args))
		}
	}
	return nil
}

// compileOr compiles args[i] or falls back to the identity.
func compileOr(args []*Node, i int, compile CompileFunc) (Evaluator, error) {
	if i >= len(args) {
		return identity, nil
	}
	return compile(args[i])
}

func identity(data any) (any, error) { return data, nil }

func asArray(v any) ([]any, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expects an array as input, got %s", typeName(v))
	}
	return a, nil
}

func asObject(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expects an object as input, got %s", typeName(v))
	}
	return m, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := toNumber(v); ok {
		return n != 0
	}
	return true
}

func equal(a, b any) bool {
	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

// rank orders values of different types: null < boolean < number < string < other.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case string:
		return 3
	}
	if _, ok := toNumber(v); ok {
		return 2
	}
	return 4
}

func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case 2:
		x, _ := toNumber(a)
		y, _ := toNumber(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// keyString renders v as an object key.
func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if n, ok := toNumber(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func opGet(args []*Node, _ CompileFunc) (Evaluator, error) {
	path := make([]string, len(args))
	for i, a := range args {
		if a.Kind != NodeLiteral {
			return nil, errors.New("expects literal path segments")
		}
		path[i] = keyString(a.Value)
	}
	return func(data any) (any, error) {
		v, _ := lookup(data, path)
		return v, nil
	}, nil
}

func opFilter(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	pred, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, fmt.Errorf("filter %w", err)
		}
		out := make([]any, 0, len(arr))
		for _, it := range arr {
			ok, err := pred(it)
			if err != nil {
				return nil, err
			}
			if truthy(ok) {
				out = append(out, it)
			}
		}
		return out, nil
	}, nil
}

func opMap(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	fn, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, fmt.Errorf("map %w", err)
		}
		out := make([]any, len(arr))
		for i, it := range arr {
			if out[i], err = fn(it); err != nil {
				return nil, err
			}
		}
		return out, nil
	}, nil
}

func opSort(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 2); err != nil {
		return nil, err
	}
	by, err := compileOr(args, 0, compile)
	if err != nil {
		return nil, err
	}
	dir, err := compileOr(args, 1, compile)
	if err != nil {
		return nil, err
	}
	hasDir := len(args) > 1
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, fmt.Errorf("sort %w", err)
		}
		desc := false
		if hasDir {
			d, err := dir(data)
			if err != nil {
				return nil, err
			}
			switch d {
			case "asc":
			case "desc":
				desc = true
			default:
				return nil, fmt.Errorf("sort direction must be \"asc\" or \"desc\", got %v", d)
			}
		}
		keys := make([]any, len(arr))
		for i, it := range arr {
			if keys[i], err = by(it); err != nil {
				return nil, err
			}
		}
		idx := make([]int, len(arr))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool {
			c := compare(keys[idx[i]], keys[idx[j]])
			if desc {
				return c > 0
			}
			return c < 0
		})
		out := make([]any, len(arr))
		for i, k := range idx {
			out[i] = arr[k]
		}
		return out, nil
	}, nil
}

func opGroupBy(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	by, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, fmt.Errorf("groupBy %w", err)
		}
		out := map[string]any{}
		for _, it := range arr {
			k, err := by(it)
			if err != nil {
				return nil, err
			}
			key := keyString(k)
			group, _ := out[key].([]any)
			out[key] = append(group, it)
		}
		return out, nil
	}, nil
}

func opKeyBy(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	by, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, fmt.Errorf("keyBy %w", err)
		}
		out := map[string]any{}
		for _, it := range arr {
			k, err := by(it)
			if err != nil {
				return nil, err
			}
			key := keyString(k)
			if _, dup := out[key]; !dup {
				out[key] = it
			}
		}
		return out, nil
	}, nil
}

func opMapValues(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	fn, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		obj, err := asObject(data)
		if err != nil {
			return nil, fmt.Errorf("mapValues %w", err)
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			if out[k], err = fn(v); err != nil {
				return nil, err
			}
		}
		return out, nil
	}, nil
}

func opMapKeys(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	fn, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		obj, err := asObject(data)
		if err != nil {
			return nil, fmt.Errorf("mapKeys %w", err)
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			nk, err := fn(k)
			if err != nil {
				return nil, err
			}
			out[keyString(nk)] = v
		}
		return out, nil
	}, nil
}

func opPick(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, -1); err != nil {
		return nil, err
	}
	paths := make([][]string, len(args))
	for i, a := range args {
		if a.Kind != NodeGet || len(a.Path) == 0 {
			return nil, errors.New("expects property paths like .name")
		}
		paths[i] = a.Path
	}
	pickOne := func(v any) any {
		out := make(map[string]any, len(paths))
		for _, p := range paths {
			if val, ok := lookup(v, p); ok {
				out[p[len(p)-1]] = val
			}
		}
		return out
	}
	return func(data any) (any, error) {
		switch t := data.(type) {
		case []any:
			out := make([]any, len(t))
			for i, it := range t {
				out[i] = pickOne(it)
			}
			return out, nil
		case map[string]any:
			return pickOne(t), nil
		}
		return nil, fmt.Errorf("pick expects an array or object as input, got %s", typeName(data))
	}, nil
}

func opLimit(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	count, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, fmt.Errorf("limit %w", err)
		}
		c, err := count(data)
		if err != nil {
			return nil, err
		}
		n, ok := toNumber(c)
		if !ok || n < 0 {
			return nil, fmt.Errorf("limit expects a non-negative number, got %v", c)
		}
		return arr[:min(int(n), len(arr))], nil
	}, nil
}

func opSize(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 0); err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		switch t := data.(type) {
		case []any:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		case string:
			return float64(len([]rune(t))), nil
		}
		return nil, fmt.Errorf("size expects an array, object or string, got %s", typeName(data))
	}, nil
}

// numericReducer folds the numeric elements of an array; other elements are ignored.
func numericReducer(fold func([]float64) any) Operator {
	return func(args []*Node, _ CompileFunc) (Evaluator, error) {
		if err := arity(args, 0, 0); err != nil {
			return nil, err
		}
		return func(data any) (any, error) {
			arr, err := asArray(data)
			if err != nil {
				return nil, err
			}
			nums := make([]float64, 0, len(arr))
			for _, v := range arr {
				if n, ok := toNumber(v); ok {
					nums = append(nums, n)
				}
			}
			return fold(nums), nil
		}, nil
	}
}

func sumOf(nums []float64) any {
	var s float64
	for _, n := range nums {
		s += n
	}
	return s
}

func averageOf(nums []float64) any {
	if len(nums) == 0 {
		return nil
	}
	return sumOf(nums).(float64) / float64(len(nums))
}

func minOf(nums []float64) any {
	if len(nums) == 0 {
		return nil
	}
	return slices.Min(nums)
}

func maxOf(nums []float64) any {
	if len(nums) == 0 {
		return nil
	}
	return slices.Max(nums)
}

func opUniq(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 0); err != nil {
		return nil, err
	}
	return uniqueBy(identity), nil
}

func opUniqBy(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	by, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	return uniqueBy(by), nil
}

// uniqueBy keeps the first element for each distinct key.
func uniqueBy(by Evaluator) Evaluator {
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(arr))
		var seen []any
		for _, it := range arr {
			k, err := by(it)
			if err != nil {
				return nil, err
			}
			if slices.ContainsFunc(seen, func(s any) bool { return equal(s, k) }) {
				continue
			}
			seen = append(seen, k)
			out = append(out, it)
		}
		return out, nil
	}
}

func opFlatten(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 0); err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(arr))
		for _, it := range arr {
			if inner, ok := it.([]any); ok {
				out = append(out, inner...)
				continue
			}
			out = append(out, it)
		}
		return out, nil
	}, nil
}

func sortedKeys(obj map[string]any) []string {
	ks := make([]string, 0, len(obj))
	for k := range obj {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func opKeys(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 0); err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		obj, err := asObject(data)
		if err != nil {
			return nil, err
		}
		ks := sortedKeys(obj)
		out := make([]any, len(ks))
		for i, k := range ks {
			out[i] = k
		}
		return out, nil
	}, nil
}

func opValues(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 0); err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		obj, err := asObject(data)
		if err != nil {
			return nil, err
		}
		ks := sortedKeys(obj)
		out := make([]any, len(ks))
		for i, k := range ks {
			out[i] = obj[k]
		}
		return out, nil
	}, nil
}

func opReverse(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 0); err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, err
		}
		out := slices.Clone(arr)
		slices.Reverse(out)
		return out, nil
	}, nil
}

func opRound(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 2); err != nil {
		return nil, err
	}
	val, err := compileOr(args, 0, compile)
	if err != nil {
		return nil, err
	}
	digits := Evaluator(func(any) (any, error) { return 0.0, nil })
	if len(args) > 1 {
		if digits, err = compile(args[1]); err != nil {
			return nil, err
		}
	}
	return func(data any) (any, error) {
		v, err := val(data)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("round expects a number, got %s", typeName(v))
		}
		d, err := digits(data)
		if err != nil {
			return nil, err
		}
		dn, _ := toNumber(d)
		p := math.Pow(10, math.Trunc(dn))
		return math.Round(n*p) / p, nil
	}, nil
}

func opAbs(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	val, err := compileOr(args, 0, compile)
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		v, err := val(data)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("abs expects a number, got %s", typeName(v))
		}
		return math.Abs(n), nil
	}, nil
}

func opExists(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	if args[0].Kind != NodeGet {
		return nil, errors.New("expects a property path like .name")
	}
	path := args[0].Path
	return func(data any) (any, error) {
		_, ok := lookup(data, path)
		return ok, nil
	}, nil
}

func opJoin(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	sep := Evaluator(func(any) (any, error) { return "", nil })
	if len(args) == 1 {
		var err error
		if sep, err = compile(args[0]); err != nil {
			return nil, err
		}
	}
	return func(data any) (any, error) {
		arr, err := asArray(data)
		if err != nil {
			return nil, err
		}
		s, err := sep(data)
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(arr))
		for i, v := range arr {
			parts[i] = keyString(v)
		}
		return strings.Join(parts, keyString(s)), nil
	}, nil
}

func opNot(args []*Node, compile CompileFunc) (Evaluator, error) {
	if err := arity(args, 0, 1); err != nil {
		return nil, err
	}
	val, err := compileOr(args, 0, compile)
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		v, err := val(data)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}, nil
}

// binary compiles exactly two operands evaluated against the same input.
func binary(args []*Node, compile CompileFunc, fn func(a, b any) (any, error)) (Evaluator, error) {
	if err := arity(args, 2, 2); err != nil {
		return nil, err
	}
	l, err := compile(args[0])
	if err != nil {
		return nil, err
	}
	r, err := compile(args[1])
	if err != nil {
		return nil, err
	}
	return func(data any) (any, error) {
		a, err := l(data)
		if err != nil {
			return nil, err
		}
		b, err := r(data)
		if err != nil {
			return nil, err
		}
		return fn(a, b)
	}, nil
}

func logical(isAnd bool) Operator {
	return func(args []*Node, compile CompileFunc) (Evaluator, error) {
		return binary(args, compile, func(a, b any) (any, error) {
			if isAnd {
				return truthy(a) && truthy(b), nil
			}
			return truthy(a) || truthy(b), nil
		})
	}
}

func equality(want bool) Operator {
	return func(args []*Node, compile CompileFunc) (Evaluator, error) {
		return binary(args, compile, func(a, b any) (any, error) {
			return equal(a, b) == want, nil
		})
	}
}

// ordered comparisons are false unless both sides are numbers or both strings.
func ordered(test func(c int) bool) Operator {
	return func(args []*Node, compile CompileFunc) (Evaluator, error) {
		return binary(args, compile, func(a, b any) (any, error) {
			ra, rb := rank(a), rank(b)
			if ra != rb || (ra != 2 && ra != 3) {
				return false, nil
			}
			return test(compare(a, b)), nil
		})
	}
}

func opIn(args []*Node, compile CompileFunc) (Evaluator, error) {
	return binary(args, compile, func(a, b any) (any, error) {
		arr, ok := b.([]any)
		if !ok {
			return nil, fmt.Errorf("in expects an array on the right, got %s", typeName(b))
		}
		return slices.ContainsFunc(arr, func(v any) bool { return equal(a, v) }), nil
	})
}

func arithmetic(fn func(a, b float64) (float64, error)) Operator {
	return func(args []*Node, compile CompileFunc) (Evaluator, error) {
		return binary(args, compile, func(a, b any) (any, error) {
			x, ok1 := toNumber(a)
			y, ok2 := toNumber(b)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("arithmetic expects numbers, got %s and %s", typeName(a), typeName(b))
			}
			return fn(x, y)
		})
	}
}

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return a / b, nil
}

func mod(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errors.New("division by zero")
	}
	return math.Mod(a, b), nil
}
