package query

import (
	"errors"
	"fmt"
	"maps"
)

// opUnnest explodes a nested array: one row per (item, element) pair, each row
// a shallow copy of the item whose top-level field holds the single element.
// Items whose array is empty or absent produce no rows.
func opUnnest(args []*Node, _ CompileFunc) (Evaluator, error) {
	if err := arity(args, 1, 1); err != nil {
		return nil, err
	}
	if args[0].Kind != NodeGet || len(args[0].Path) == 0 {
		return nil, errors.New("expects a property accessor like .genres")
	}
	path := args[0].Path
	target := path[0]

	return func(data any) (any, error) {
		arr, ok := data.([]any)
		if !ok {
			return nil, fmt.Errorf("unnest expects an array as input, got %s", typeName(data))
		}
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			v, _ := lookup(item, path)
			inner, ok := v.([]any)
			if !ok || len(inner) == 0 {
				continue
			}
			base, isObj := item.(map[string]any)
			if !isObj {
				base = map[string]any{"value": item}
			}
			for _, el := range inner {
				row := maps.Clone(base)
				row[target] = el
				out = append(out, row)
			}
		}
		return out, nil
	}, nil
}
