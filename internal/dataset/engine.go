// Package dataset assembles, caches and serves aggregate game datasets.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/record"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
	"github.com/mohammed-shakir/gamedata-cache/internal/datasetevents"
)

// PageFetcher retrieves one upstream page for a dataset key.
type PageFetcher interface {
	FetchPage(ctx context.Context, datasetKey string, canonical model.CanonicalFilters) (model.PageRecord, error)
}

type Engine struct {
	logger   *slog.Logger
	kv       cache.Store
	fetcher  PageFetcher
	pages    *record.Store[model.PageRecord]
	datasets *record.Store[model.DatasetRecord]
	ttl      time.Duration
	events   datasetevents.Sink
	now      func() time.Time
}

type Option func(*Engine)

// WithEvents publishes fetched, refreshed and invalidated datasets to s.
func WithEvents(s datasetevents.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.events = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(logger *slog.Logger, kv cache.Store, f PageFetcher, ttl time.Duration, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:  logger,
		kv:      kv,
		fetcher: f,
		ttl:     ttl,
		events:  datasetevents.Nop{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.pages = record.New(kv, "page", model.DatasetVersion, logger,
		record.WithClock[model.PageRecord](e.now))
	e.datasets = record.New(kv, "dataset", model.DatasetVersion, logger,
		record.WithClock[model.DatasetRecord](e.now))
	return e
}

// Load returns the stored aggregate for datasetKey, fresh or stale.
func (e *Engine) Load(ctx context.Context, datasetKey string) (model.DatasetRecord, bool, error) {
	rec, st, err := e.datasets.Load(ctx, datasetKey)
	if err != nil {
		return model.DatasetRecord{}, false, err
	}
	return rec, st != record.Miss, nil
}

// Resolve rebuilds the aggregate for canonical and stores it under datasetKey.
// force refetches the requested page; every other page is reused while fresh.
// A failing page aborts the whole resolve and nothing is written for the aggregate.
func (e *Engine) Resolve(ctx context.Context, datasetKey string, canonical model.CanonicalFilters, force bool) (model.DatasetRecord, error) {
	e.logger.InfoContext(ctx, "aggregate_dataset_start",
		"dataset_key", datasetKey,
		"requested_page", canonical.Page,
		"page_size", canonical.PageSize,
		"force", force)

	first, err := e.page(ctx, datasetKey, canonical, canonical.Page, force)
	if err != nil {
		return model.DatasetRecord{}, err
	}

	pages := make([]model.PageRecord, 0, first.TotalPages)
	for n := 1; n <= first.TotalPages; n++ {
		if n == canonical.Page {
			pages = append(pages, first)
			continue
		}
		p, err := e.page(ctx, datasetKey, canonical, n, false)
		if err != nil {
			return model.DatasetRecord{}, err
		}
		pages = append(pages, p)
	}

	freshest := first
	for _, p := range pages {
		if p.FetchedAt.After(freshest.FetchedAt) {
			freshest = p
		}
	}

	items := dedupe(pages)
	agg := model.DatasetRecord{
		Version:    model.DatasetVersion,
		Key:        datasetKey,
		Filters:    canonical,
		Page:       canonical.Page,
		TotalPages: len(pages),
		Count:      first.Count,
		FetchedAt:  freshest.FetchedAt,
		ExpiresAt:  freshest.ExpiresAt,
		Items:      items,
	}
	if err := e.datasets.Save(ctx, datasetKey, agg, e.ttl); err != nil {
		return model.DatasetRecord{}, err
	}

	e.logger.InfoContext(ctx, "aggregate_dataset_complete",
		"dataset_key", datasetKey,
		"pages_aggregated", len(pages),
		"total_items", len(items))
	return agg, nil
}

// page resolves page n of canonical from its own cache entry, fetching when
// forced, absent or stale.
func (e *Engine) page(ctx context.Context, datasetKey string, canonical model.CanonicalFilters, n int, force bool) (model.PageRecord, error) {
	pf := canonical.WithPage(n)
	pageDatasetKey, _ := keys.DatasetKey(pf)
	storeKey := keys.PageKey(pageDatasetKey, n)

	cached := false
	if !force {
		rec, st, err := e.pages.Load(ctx, storeKey)
		if err != nil {
			return model.PageRecord{}, fmt.Errorf("resolve page %d: %w", n, err)
		}
		if st == record.Fresh {
			e.logPage(ctx, datasetKey, n, true, false, len(rec.Items))
			return rec, nil
		}
		cached = st == record.Stale
	}

	rec, err := e.fetcher.FetchPage(ctx, pageDatasetKey, pf)
	if err != nil {
		return model.PageRecord{}, fmt.Errorf("resolve page %d: %w", n, err)
	}
	observability.AddPagesFetched(1)
	if err := e.pages.Save(ctx, storeKey, rec, e.ttl); err != nil {
		return model.PageRecord{}, err
	}
	e.logPage(ctx, datasetKey, n, cached, true, len(rec.Items))
	return rec, nil
}

func (e *Engine) logPage(ctx context.Context, datasetKey string, page int, hit, refreshed bool, items int) {
	e.logger.InfoContext(ctx, "dataset_page_resolved",
		"dataset_key", datasetKey,
		"page", page,
		"cache_hit", hit,
		"refreshed", refreshed,
		"items", items)
}

// dedupe concatenates page items in page order keeping the first item seen per id.
func dedupe(pages []model.PageRecord) []model.Game {
	slices.SortStableFunc(pages, func(a, b model.PageRecord) int { return a.Page - b.Page })

	n := 0
	for _, p := range pages {
		n += len(p.Items)
	}
	seen := make(map[int64]struct{}, n)
	out := make([]model.Game, 0, n)
	for _, p := range pages {
		for _, it := range p.Items {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

// Invalidate removes the aggregate stored under datasetKey and every page record it was built from.
// Without an aggregate the page layout is recovered from the requested page's own record.
func (e *Engine) Invalidate(ctx context.Context, datasetKey string) error {
	del := []string{datasetKey}

	rec, found, err := e.Load(ctx, datasetKey)
	if err != nil {
		observability.IncInvalidation("error")
		return err
	}
	own, err := e.ownPageKeys(ctx, datasetKey)
	if err != nil {
		observability.IncInvalidation("error")
		return fmt.Errorf("invalidate %q: %w", datasetKey, err)
	}
	del = append(del, own...)

	filters, total := rec.Filters, rec.TotalPages
	if !found {
		for _, k := range own {
			p, st, err := e.pages.Load(ctx, k)
			if err != nil {
				observability.IncInvalidation("error")
				return fmt.Errorf("invalidate %q: %w", datasetKey, err)
			}
			if st != record.Miss && p.TotalPages > total {
				filters, total = p.Filters, p.TotalPages
			}
		}
	}
	for n := 1; n <= total; n++ {
		k, _ := keys.DatasetKey(filters.WithPage(n))
		del = append(del, keys.PageKey(k, n))
	}
	slices.Sort(del)
	del = slices.Compact(del)

	if err := e.kv.Del(ctx, del...); err != nil {
		observability.IncInvalidation("error")
		return fmt.Errorf("invalidate %q: %w", datasetKey, err)
	}
	observability.IncInvalidation("ok")
	e.logger.InfoContext(ctx, "dataset_invalidated",
		"dataset_key", datasetKey, "keys", len(del), "was_cached", found)
	e.events.Publish(datasetevents.Event{
		Type:       datasetevents.Invalidated,
		DatasetKey: datasetKey,
		TS:         e.now().UTC(),
	})
	return nil
}

// ownPageKeys lists the page records stored under datasetKey itself, which is
// the page the dataset was requested from.
func (e *Engine) ownPageKeys(ctx context.Context, datasetKey string) ([]string, error) {
	if sc, ok := e.kv.(cache.Scanner); ok {
		return sc.Keys(ctx, datasetKey+":p")
	}
	var out []string
	for n := 1; n <= model.MaxPage; n++ {
		k := keys.PageKey(datasetKey, n)
		_, ok, err := e.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, k)
		}
	}
	return out, nil
}
