package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gamedata-cache/internal/calc"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/apperr"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/datasetevents"
	"github.com/mohammed-shakir/gamedata-cache/internal/fetcher"
)

const ttl = time.Hour

type fakeFetcher struct {
	mu    sync.Mutex
	now   *time.Time
	count int
	pages map[int][]model.Game
	errs  map[int]error
	calls map[int]int
}

func newFakeFetcher(now *time.Time, count int, pages map[int][]model.Game) *fakeFetcher {
	return &fakeFetcher{now: now, count: count, pages: pages, errs: map[int]error{}, calls: map[int]int{}}
}

func (f *fakeFetcher) FetchPage(_ context.Context, datasetKey string, c model.CanonicalFilters) (model.PageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[c.Page]++
	if err := f.errs[c.Page]; err != nil {
		return model.PageRecord{}, err
	}
	items := f.pages[c.Page]
	if items == nil {
		items = []model.Game{}
	}
	return model.PageRecord{
		Version:    model.DatasetVersion,
		Key:        datasetKey,
		Filters:    c,
		Page:       c.Page,
		TotalPages: fetcher.TotalPages(f.count, c.PageSize, c.Page),
		Count:      f.count,
		FetchedAt:  *f.now,
		ExpiresAt:  f.now.Add(ttl),
		Items:      items,
	}, nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[int]int{}
}

type recordingSink struct {
	mu     sync.Mutex
	events []datasetevents.Event
}

func (s *recordingSink) Publish(ev datasetevents.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) types() []datasetevents.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datasetevents.Type, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	engine *Engine
	fetch  *fakeFetcher
	mr     *miniredis.Miniredis
	rc     *redisstore.Client
	sink   *recordingSink
	now    *time.Time
}

func newHarness(t *testing.T, count int, pages map[int][]model.Game) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{mr: mr, rc: rc, now: &now, sink: &recordingSink{}}
	h.fetch = newFakeFetcher(h.now, count, pages)
	h.engine = NewEngine(nil, rc, h.fetch, ttl,
		WithClock(func() time.Time { return *h.now }),
		WithEvents(h.sink))
	return h
}

func game(id int64, name string, rating float64, genres ...string) model.Game {
	g := model.Game{ID: id, Slug: fmt.Sprintf("g-%d", id), Name: name, Rating: &rating}
	for _, s := range genres {
		g.Genres = append(g.Genres, model.Genre{Slug: s, Name: s})
	}
	return g
}

func threePages() map[int][]model.Game {
	return map[int][]model.Game{
		1: {game(1, "Alpha", 4.5, "action"), game(2, "Beta", 3.5, "rpg")},
		2: {game(2, "Beta duplicate", 1.0, "rpg"), game(3, "Gamma", 4.0, "action")},
		3: {game(4, "Delta", 0, "action")},
	}
}

func pagePtr(n int) *int { return &n }

func actionFilters() model.FetchFilters {
	return model.FetchFilters{Genres: []string{"Action"}}
}

func TestFetchDataset_MissThenHit(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	if res.CacheStatus != model.CacheMiss {
		t.Fatalf("status=%q want miss", res.CacheStatus)
	}
	if res.TotalPages != 3 || res.TotalItems != 4 {
		t.Fatalf("pages=%d items=%d want 3/4", res.TotalPages, res.TotalItems)
	}
	if res.DatasetID != res.DatasetKey {
		t.Fatalf("datasetId %q != datasetKey %q", res.DatasetID, res.DatasetKey)
	}
	if want, _ := keys.DatasetKey(keys.Canonicalize(actionFilters())); res.DatasetKey != want {
		t.Fatalf("key=%q want %q", res.DatasetKey, want)
	}
	if !reflect.DeepEqual(res.Filters.Genres, []string{"action"}) {
		t.Fatalf("filters=%+v", res.Filters)
	}
	if h.fetch.total() != 3 {
		t.Fatalf("upstream calls=%d want 3", h.fetch.total())
	}

	h.fetch.reset()
	res, err = h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset again: %v", err)
	}
	if res.CacheStatus != model.CacheHit {
		t.Fatalf("status=%q want hit", res.CacheStatus)
	}
	if h.fetch.total() != 0 {
		t.Fatalf("hit must not call upstream, calls=%d", h.fetch.total())
	}
	if got := h.sink.types(); !reflect.DeepEqual(got, []datasetevents.Type{datasetevents.Fetched}) {
		t.Fatalf("events=%v", got)
	}
}

func TestResolve_DedupeKeepsFirstSeen(t *testing.T) {
	h := newHarness(t, 100, threePages())
	c := keys.Canonicalize(actionFilters())
	key, _ := keys.DatasetKey(c)

	rec, err := h.engine.Resolve(context.Background(), key, c, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var ids []int64
	for _, it := range rec.Items {
		ids = append(ids, it.ID)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3, 4}) {
		t.Fatalf("ids=%v want [1 2 3 4]", ids)
	}
	if rec.Items[1].Name != "Beta" {
		t.Fatalf("duplicate id resolved to %q, want first-seen Beta", rec.Items[1].Name)
	}
}

func TestResolve_PagesSharedAcrossStartingPage(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	f := actionFilters()
	f.Page = pagePtr(2)
	first, err := h.engine.FetchDataset(ctx, f, false)
	if err != nil {
		t.Fatalf("FetchDataset page 2: %v", err)
	}
	if first.Filters.Page != 2 {
		t.Fatalf("filters page=%d want 2", first.Filters.Page)
	}

	h.fetch.reset()
	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset page 1: %v", err)
	}
	if res.DatasetKey == first.DatasetKey {
		t.Fatalf("different starting pages must use different aggregate keys")
	}
	if res.CacheStatus != model.CacheMiss {
		t.Fatalf("status=%q want miss", res.CacheStatus)
	}
	if h.fetch.total() != 0 {
		t.Fatalf("fresh page records must be reused, calls=%v", h.fetch.calls)
	}
}

func TestResolve_OnlyStalePagesRefetched(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()
	c := keys.Canonicalize(actionFilters())
	key, _ := keys.DatasetKey(c)

	if _, err := h.engine.Resolve(ctx, key, c, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// refetch page 3 alone, half a TTL later
	*h.now = h.now.Add(ttl / 2)
	c3 := c.WithPage(3)
	k3, _ := keys.DatasetKey(c3)
	if _, err := h.engine.Resolve(ctx, k3, c3, true); err != nil {
		t.Fatalf("Resolve page 3: %v", err)
	}

	// pages 1 and 2 expire, page 3 is still fresh
	*h.now = h.now.Add(ttl/2 + time.Second)
	h.fetch.reset()
	rec, err := h.engine.Resolve(ctx, key, c, false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if h.fetch.calls[1] != 1 || h.fetch.calls[2] != 1 || h.fetch.calls[3] != 0 {
		t.Fatalf("calls=%v want pages 1 and 2 only", h.fetch.calls)
	}
	if !rec.FetchedAt.Equal(*h.now) {
		t.Fatalf("fetchedAt=%v want freshest page %v", rec.FetchedAt, *h.now)
	}
	if !rec.ExpiresAt.Equal(h.now.Add(ttl)) {
		t.Fatalf("expiresAt=%v", rec.ExpiresAt)
	}
}

func TestFetchDataset_ForceRefetchesRequestedPageOnly(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	if _, err := h.engine.FetchDataset(ctx, actionFilters(), false); err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	h.fetch.reset()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), true)
	if err != nil {
		t.Fatalf("FetchDataset force: %v", err)
	}
	if res.CacheStatus != model.CacheRefresh {
		t.Fatalf("status=%q want refresh", res.CacheStatus)
	}
	if h.fetch.calls[1] != 1 || h.fetch.total() != 1 {
		t.Fatalf("calls=%v want page 1 only", h.fetch.calls)
	}
	want := []datasetevents.Type{datasetevents.Fetched, datasetevents.Refreshed}
	if got := h.sink.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events=%v want %v", got, want)
	}
}

func TestFetchDataset_StaleIsRefresh(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	if _, err := h.engine.FetchDataset(ctx, actionFilters(), false); err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	*h.now = h.now.Add(ttl)
	h.fetch.reset()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset stale: %v", err)
	}
	if res.CacheStatus != model.CacheRefresh {
		t.Fatalf("status=%q want refresh", res.CacheStatus)
	}
	if h.fetch.total() != 3 {
		t.Fatalf("calls=%d want 3", h.fetch.total())
	}
	if !res.FetchedAt.Equal(*h.now) {
		t.Fatalf("fetchedAt=%v want %v", res.FetchedAt, *h.now)
	}
}

func TestResolve_PageFailureWritesNoAggregate(t *testing.T) {
	h := newHarness(t, 100, threePages())
	h.fetch.errs[2] = apperr.New(apperr.KindUpstream, "RAWG request failed (503)")
	ctx := context.Background()

	_, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Fatalf("err=%v want upstream", err)
	}

	key, _ := keys.DatasetKey(keys.Canonicalize(actionFilters()))
	if _, found, err := h.engine.Load(ctx, key); err != nil || found {
		t.Fatalf("aggregate must not be stored: found=%v err=%v", found, err)
	}
	if !h.mr.Exists(keys.PageKey(key, 1)) {
		t.Fatalf("page 1 should stay cached after the failure")
	}
	if h.fetch.calls[3] != 0 {
		t.Fatalf("resolve must stop at the failing page, calls=%v", h.fetch.calls)
	}
}

func TestFetchDataset_FilterTooBroad(t *testing.T) {
	h := newHarness(t, 5000, threePages())
	h.fetch.errs[1] = &fetcher.FilterTooBroadError{Count: 5000, Limit: 1000}

	_, err := h.engine.FetchDataset(context.Background(), actionFilters(), false)
	if !apperr.Is(err, apperr.KindFilterTooBroad) {
		t.Fatalf("err=%v want filter_too_broad", err)
	}
	var tb *fetcher.FilterTooBroadError
	if !errors.As(err, &tb) || tb.Count != 5000 {
		t.Fatalf("expected FilterTooBroadError in chain, got %v", err)
	}
	if h.fetch.total() != 1 {
		t.Fatalf("calls=%d want 1", h.fetch.total())
	}
}

func TestFetchDataset_InvalidFilters(t *testing.T) {
	h := newHarness(t, 10, threePages())
	f := actionFilters()
	f.Page = pagePtr(41)

	_, err := h.engine.FetchDataset(context.Background(), f, false)
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("err=%v want invalid_input", err)
	}
	if h.fetch.total() != 0 {
		t.Fatalf("invalid input must not reach upstream")
	}
}

func TestFetchDataset_WrongVersionTreatedAsMiss(t *testing.T) {
	h := newHarness(t, 10, threePages())
	key, _ := keys.DatasetKey(keys.Canonicalize(actionFilters()))

	stale := map[string]any{"version": "v0", "key": key, "items": []any{}}
	b, _ := json.Marshal(stale)
	if err := h.mr.Set(key, string(b)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := h.engine.FetchDataset(context.Background(), actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	if res.CacheStatus != model.CacheMiss {
		t.Fatalf("status=%q want miss", res.CacheStatus)
	}
	if res.TotalItems != 2 {
		t.Fatalf("items=%d want 2", res.TotalItems)
	}
}

func TestRunQuery(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	h.fetch.reset()

	out, err := h.engine.RunQuery(ctx, res.DatasetID, `.items | filter(.rating >= 4) | map(.name)`, false)
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if !reflect.DeepEqual(out.Value, []any{"Alpha", "Gamma"}) {
		t.Fatalf("value=%#v", out.Value)
	}
	if out.ItemsProcessed != 4 {
		t.Fatalf("itemsProcessed=%d want 4", out.ItemsProcessed)
	}
	if h.fetch.total() != 0 {
		t.Fatalf("fresh dataset must not be refetched")
	}

	if _, err := h.engine.RunQuery(ctx, res.DatasetID, `.items | size()`, true); err != nil {
		t.Fatalf("RunQuery fresh: %v", err)
	}
	if h.fetch.calls[1] != 1 || h.fetch.total() != 1 {
		t.Fatalf("fresh should refetch the requested page only, calls=%v", h.fetch.calls)
	}
}

func TestRunQuery_NotFound(t *testing.T) {
	h := newHarness(t, 100, threePages())

	_, err := h.engine.RunQuery(context.Background(), "rawg:games:v1:missing", `.items`, false)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err=%v want not_found", err)
	}
	want := "Dataset rawg:games:v1:missing not found in cache. Fetch it using fetch_game_data before running queries/calculations."
	if err.Error() != want {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestRunQuery_BadQueryDoesNotTouchStore(t *testing.T) {
	h := newHarness(t, 100, threePages())
	h.mr.Close()

	_, err := h.engine.RunQuery(context.Background(), "anything", `.items | filter(`, false)
	if !apperr.Is(err, apperr.KindQuery) {
		t.Fatalf("err=%v want query", err)
	}
	_, err = h.engine.RunQuery(context.Background(), "anything", "", false)
	if !apperr.Is(err, apperr.KindQuery) {
		t.Fatalf("empty query err=%v want query", err)
	}
}

func TestCalculate(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}

	out, err := h.engine.Calculate(ctx, CalculationInput{
		DatasetID: res.DatasetID,
		Request:   calc.Request{Operation: calc.OpAvg, Field: calc.FieldRating, GroupBy: calc.GroupGenres},
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	groups, ok := out.Value.([]calc.Group)
	if !ok || len(groups) != 2 {
		t.Fatalf("value=%#v", out.Value)
	}
	if groups[0].Label != "action" || *groups[0].Value != 4.25 {
		t.Fatalf("action group=%+v", groups[0])
	}
	if out.GroupBy == nil || *out.GroupBy != calc.GroupGenres {
		t.Fatalf("groupBy=%v", out.GroupBy)
	}

	out, err = h.engine.Calculate(ctx, CalculationInput{
		DatasetID: res.DatasetID,
		Request:   calc.Request{Operation: calc.OpCount, Field: calc.FieldRating},
	})
	if err != nil {
		t.Fatalf("Calculate count: %v", err)
	}
	if out.Value != 4.0 || out.GroupBy != nil {
		t.Fatalf("count=%#v groupBy=%v", out.Value, out.GroupBy)
	}

	_, err = h.engine.Calculate(ctx, CalculationInput{
		DatasetID: res.DatasetID,
		Request:   calc.Request{Operation: "median", Field: calc.FieldRating},
	})
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("err=%v want invalid_input", err)
	}
}

func TestItems(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	b, err := h.engine.Items(ctx, res.DatasetID)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	var items []model.Game
	if err := json.Unmarshal(b, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("items=%d want 4", len(items))
	}
}

func TestInvalidate_RemovesAggregateAndPages(t *testing.T) {
	h := newHarness(t, 100, threePages())
	ctx := context.Background()

	res, err := h.engine.FetchDataset(ctx, actionFilters(), false)
	if err != nil {
		t.Fatalf("FetchDataset: %v", err)
	}
	if n := len(h.mr.Keys()); n != 4 {
		t.Fatalf("keys before=%d want 4 (aggregate + 3 pages)", n)
	}

	if err := h.engine.Invalidate(ctx, res.DatasetKey); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if keys := h.mr.Keys(); len(keys) != 0 {
		t.Fatalf("keys after=%v want none", keys)
	}

	_, err = h.engine.RunQuery(ctx, res.DatasetID, `.items`, false)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err=%v want not_found after invalidation", err)
	}
	if got := h.sink.types(); got[len(got)-1] != datasetevents.Invalidated {
		t.Fatalf("events=%v", got)
	}

	if err := h.engine.Invalidate(ctx, res.DatasetKey); err != nil {
		t.Fatalf("Invalidate of missing key: %v", err)
	}
}

// plainStore hides the Scanner side of the redis client.
type plainStore struct{ cache.Store }

func TestInvalidate_AfterFailedResolveRemovesOrphanPages(t *testing.T) {
	for _, tc := range []struct {
		name  string
		start int
		scan  bool
	}{
		{"scan from page 1", 1, true},
		{"scan from page 2", 2, true},
		{"probe from page 2", 2, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 100, threePages())
			if !tc.scan {
				h.engine = NewEngine(nil, plainStore{h.rc}, h.fetch, ttl,
					WithClock(func() time.Time { return *h.now }))
			}
			h.fetch.errs[3] = apperr.New(apperr.KindUpstream, "RAWG request failed (503)")
			ctx := context.Background()

			f := actionFilters()
			f.Page = pagePtr(tc.start)
			if _, err := h.engine.FetchDataset(ctx, f, false); !apperr.Is(err, apperr.KindUpstream) {
				t.Fatalf("err=%v want upstream", err)
			}
			if n := len(h.mr.Keys()); n != 2 {
				t.Fatalf("keys before=%v want pages 1 and 2", h.mr.Keys())
			}

			key, _ := keys.DatasetKey(keys.Canonicalize(f))
			if err := h.engine.Invalidate(ctx, key); err != nil {
				t.Fatalf("Invalidate: %v", err)
			}
			if left := h.mr.Keys(); len(left) != 0 {
				t.Fatalf("keys after=%v want none", left)
			}
		})
	}
}
