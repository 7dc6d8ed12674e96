package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/record"
	"github.com/mohammed-shakir/gamedata-cache/internal/calc"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/apperr"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
	"github.com/mohammed-shakir/gamedata-cache/internal/datasetevents"
	mylog "github.com/mohammed-shakir/gamedata-cache/internal/logger"
	"github.com/mohammed-shakir/gamedata-cache/internal/query"
)

type FetchResult struct {
	DatasetID   string                 `json:"datasetId"`
	DatasetKey  string                 `json:"datasetKey"`
	CacheStatus model.CacheStatus      `json:"cacheStatus"`
	TotalPages  int                    `json:"totalPages"`
	TotalItems  int                    `json:"totalItems"`
	FetchedAt   time.Time              `json:"fetchedAt"`
	ExpiresAt   time.Time              `json:"expiresAt"`
	Filters     model.CanonicalFilters `json:"filters"`
}

type QueryResult struct {
	DatasetID      string    `json:"datasetId"`
	ItemsProcessed int       `json:"itemsProcessed"`
	Value          any       `json:"value"`
	FetchedAt      time.Time `json:"fetchedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type CalculationInput struct {
	DatasetID string `json:"datasetId"`
	calc.Request
	Fresh bool `json:"fresh,omitempty"`
}

type CalculationResult struct {
	DatasetID      string         `json:"datasetId"`
	Operation      calc.Operation `json:"operation"`
	Field          calc.Field     `json:"field"`
	GroupBy        *calc.GroupBy  `json:"groupBy"`
	Value          any            `json:"value"`
	ItemsProcessed int            `json:"itemsProcessed"`
	FetchedAt      time.Time      `json:"fetchedAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

// FetchDataset returns the aggregate for filters, building it when absent,
// stale or forced.
func (e *Engine) FetchDataset(ctx context.Context, filters model.FetchFilters, force bool) (FetchResult, error) {
	if err := filters.Validate(); err != nil {
		return FetchResult{}, apperr.Wrap(apperr.KindInvalidInput, err, "invalid filters")
	}
	canonical := keys.Canonicalize(filters)
	datasetKey, _ := keys.DatasetKey(canonical)

	rec, found, err := e.Load(ctx, datasetKey)
	if err != nil {
		return FetchResult{}, err
	}

	status := model.CacheHit
	if !found || force || record.ShouldRefresh(rec.ExpiresAt, e.now()) {
		rec, err = e.Resolve(ctx, datasetKey, canonical, force)
		if err != nil {
			observability.IncDatasetRequest("error")
			return FetchResult{}, err
		}
		status = model.CacheMiss
		typ := datasetevents.Fetched
		if found {
			status = model.CacheRefresh
			typ = datasetevents.Refreshed
		}
		e.events.Publish(datasetevents.Event{
			Type:       typ,
			DatasetKey: datasetKey,
			TotalPages: rec.TotalPages,
			TotalItems: len(rec.Items),
			FetchedAt:  rec.FetchedAt,
			TS:         e.now().UTC(),
		})
	}
	observability.IncDatasetRequest(string(status))

	e.logger.InfoContext(mylog.WithCacheStatus(ctx, string(status)), "fetch_game_data",
		"dataset_key", datasetKey,
		"pages_fetched", rec.TotalPages,
		"total_items", len(rec.Items))

	return FetchResult{
		DatasetID:   datasetKey,
		DatasetKey:  datasetKey,
		CacheStatus: status,
		TotalPages:  rec.TotalPages,
		TotalItems:  len(rec.Items),
		FetchedAt:   rec.FetchedAt,
		ExpiresAt:   rec.ExpiresAt,
		Filters:     rec.Filters,
	}, nil
}

// RunQuery evaluates expr against the stored aggregate. The aggregate record is
// the query root, so expressions address the games as .items.
func (e *Engine) RunQuery(ctx context.Context, datasetID, expr string, fresh bool) (QueryResult, error) {
	start := time.Now()
	q, err := query.Compile(expr)
	if err != nil {
		observability.ObserveQuery(err, time.Since(start).Seconds())
		return QueryResult{}, err
	}

	rec, err := e.current(ctx, datasetID, fresh)
	if err != nil {
		return QueryResult{}, err
	}

	evalStart := time.Now()
	value, err := q.Run(rec)
	observability.ObserveQuery(err, time.Since(evalStart).Seconds())
	if err != nil {
		return QueryResult{}, err
	}

	e.logger.InfoContext(ctx, "run_query",
		"dataset_id", datasetID,
		"query", q.String(),
		"items_processed", len(rec.Items),
		"duration_ms", time.Since(start).Milliseconds())

	return QueryResult{
		DatasetID:      datasetID,
		ItemsProcessed: len(rec.Items),
		Value:          value,
		FetchedAt:      rec.FetchedAt,
		ExpiresAt:      rec.ExpiresAt,
	}, nil
}

// Calculate runs a fixed aggregation over the stored aggregate.
func (e *Engine) Calculate(ctx context.Context, in CalculationInput) (CalculationResult, error) {
	if err := in.Request.Validate(); err != nil {
		return CalculationResult{}, apperr.Wrap(apperr.KindInvalidInput, err, "invalid calculation")
	}

	rec, err := e.current(ctx, in.DatasetID, in.Fresh)
	if err != nil {
		return CalculationResult{}, err
	}

	grouped := in.GroupBy != calc.GroupNone
	res := calc.Run(rec.Items, in.Request)

	e.logger.InfoContext(ctx, "execute_calculation",
		"dataset_id", in.DatasetID,
		"operation", in.Operation,
		"group_by", in.GroupBy,
		"items_processed", res.ItemsProcessed,
		"total_items", len(rec.Items))

	out := CalculationResult{
		DatasetID:      in.DatasetID,
		Operation:      in.Operation,
		Field:          in.Field,
		Value:          res.Answer(grouped),
		ItemsProcessed: res.ItemsProcessed,
		FetchedAt:      rec.FetchedAt,
		ExpiresAt:      rec.ExpiresAt,
	}
	if grouped {
		g := in.GroupBy
		out.GroupBy = &g
	}
	return out, nil
}

// Items returns the serialized item array of a stored aggregate.
func (e *Engine) Items(ctx context.Context, datasetID string) ([]byte, error) {
	rec, err := e.current(ctx, datasetID, false)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(rec.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return b, nil
}

// current loads a stored aggregate and rebuilds it when fresh is set or it has expired.
func (e *Engine) current(ctx context.Context, datasetID string, fresh bool) (model.DatasetRecord, error) {
	rec, found, err := e.Load(ctx, datasetID)
	if err != nil {
		return model.DatasetRecord{}, err
	}
	if !found {
		return model.DatasetRecord{}, NotFound(datasetID)
	}
	if fresh || record.ShouldRefresh(rec.ExpiresAt, e.now()) {
		return e.Resolve(ctx, rec.Key, rec.Filters, fresh)
	}
	return rec, nil
}

// NotFound is the error returned for a dataset id that has never been fetched.
func NotFound(datasetID string) error {
	return apperr.New(apperr.KindNotFound,
		"Dataset %s not found in cache. Fetch it using fetch_game_data before running queries/calculations.", datasetID)
}
