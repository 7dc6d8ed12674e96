// Package invalidation defines the events that evict cached datasets.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
)

const OpInvalidate = "invalidate"

// Event names a dataset either by key or by the filters that produced it.
type Event struct {
	Version    int                 `json:"version"`
	Op         string              `json:"op"`
	DatasetKey string              `json:"dataset_key,omitempty"`
	Filters    *model.FetchFilters `json:"filters,omitempty"`
	TS         time.Time           `json:"ts"`
	Source     string              `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if e.Op != OpInvalidate {
		return fmt.Errorf("op must be invalidate")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasKey := strings.TrimSpace(e.DatasetKey) != ""
	hasFilters := e.Filters != nil
	if hasKey == hasFilters {
		return fmt.Errorf("exactly one of dataset_key or filters is required")
	}
	if hasKey {
		if !strings.HasPrefix(e.DatasetKey, model.DatasetNamespace+":") {
			return fmt.Errorf("dataset_key must start with %s:", model.DatasetNamespace)
		}
		return nil
	}
	if err := e.Filters.Validate(); err != nil {
		return fmt.Errorf("filters: %w", err)
	}
	return nil
}

// Key returns the dataset key the event targets.
func (e Event) Key() string {
	if e.Filters == nil {
		return strings.TrimSpace(e.DatasetKey)
	}
	k, _ := keys.DatasetKey(keys.Canonicalize(*e.Filters))
	return k
}
