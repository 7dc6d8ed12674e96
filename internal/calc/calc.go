// Package calc runs fixed numeric aggregations over catalog items.
package calc

import (
	"math"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
)

type Operation string

const (
	OpAvg   Operation = "avg"
	OpCount Operation = "count"
	OpMin   Operation = "min"
	OpMax   Operation = "max"
)

type Field string

const (
	FieldMetacritic Field = "metacritic"
	FieldRating     Field = "rating"
)

type GroupBy string

const (
	GroupNone      GroupBy = ""
	GroupGenres    GroupBy = "genres"
	GroupPlatforms GroupBy = "platforms"
)

type Request struct {
	Operation Operation `json:"operation"`
	Field     Field     `json:"field"`
	GroupBy   GroupBy   `json:"groupBy,omitempty"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Operation, validation.Required, validation.In(OpAvg, OpCount, OpMin, OpMax)),
		validation.Field(&r.Field, validation.Required, validation.In(FieldMetacritic, FieldRating)),
		validation.Field(&r.GroupBy, validation.In(GroupGenres, GroupPlatforms)),
	)
}

// Group is one labelled bucket; Count is the number of contributing items.
type Group struct {
	Label string   `json:"label"`
	Value *float64 `json:"value"`
	Count int      `json:"count"`
}

// Result holds either Value (ungrouped) or Groups.
type Result struct {
	ItemsProcessed int      `json:"itemsProcessed"`
	Value          *float64 `json:"value,omitempty"`
	Groups         []Group  `json:"groups,omitempty"`
}

// Answer is the caller-facing value: a number, null, or the group list.
func (r Result) Answer(grouped bool) any {
	if grouped {
		if r.Groups == nil {
			return []Group{}
		}
		return r.Groups
	}
	if r.Value == nil {
		return nil
	}
	return *r.Value
}

// Run applies req to items. Callers validate req first.
func Run(items []model.Game, req Request) Result {
	if req.GroupBy == GroupNone {
		v, _ := calculate(items, req.Operation, req.Field)
		return Result{ItemsProcessed: len(items), Value: v}
	}

	var order []string
	groups := map[string][]model.Game{}
	for _, it := range items {
		for _, label := range members(it, req.GroupBy) {
			if _, ok := groups[label]; !ok {
				order = append(order, label)
			}
			groups[label] = append(groups[label], it)
		}
	}

	out := make([]Group, 0, len(order))
	for _, label := range order {
		v, n := calculate(groups[label], req.Operation, req.Field)
		out = append(out, Group{Label: label, Value: v, Count: n})
	}
	return Result{ItemsProcessed: len(items), Groups: out}
}

func members(g model.Game, by GroupBy) []string {
	var out []string
	switch by {
	case GroupGenres:
		for _, gen := range g.Genres {
			out = append(out, gen.Name)
		}
	case GroupPlatforms:
		for _, p := range g.Platforms {
			out = append(out, p.Platform.Name)
		}
	}
	return out
}

// calculate returns the value and how many items contributed to it.
func calculate(items []model.Game, op Operation, field Field) (*float64, int) {
	if len(items) == 0 {
		if op == OpCount {
			return ptr(0), 0
		}
		return nil, 0
	}
	if op == OpCount {
		return ptr(float64(len(items))), len(items)
	}

	nums := make([]float64, 0, len(items))
	for _, it := range items {
		v := fieldValue(it, field)
		if v == nil || math.IsNaN(*v) {
			continue
		}
		// unrated games report 0
		if field == FieldRating && *v <= 0 {
			continue
		}
		nums = append(nums, *v)
	}
	if len(nums) == 0 {
		return nil, 0
	}

	var acc float64
	switch op {
	case OpAvg:
		for _, n := range nums {
			acc += n
		}
		acc /= float64(len(nums))
	case OpMin:
		acc = nums[0]
		for _, n := range nums[1:] {
			acc = math.Min(acc, n)
		}
	case OpMax:
		acc = nums[0]
		for _, n := range nums[1:] {
			acc = math.Max(acc, n)
		}
	default:
		return nil, 0
	}
	return ptr(acc), len(nums)
}

func fieldValue(g model.Game, f Field) *float64 {
	switch f {
	case FieldMetacritic:
		return g.Metacritic
	case FieldRating:
		return g.Rating
	}
	return nil
}

func ptr(f float64) *float64 { return &f }
