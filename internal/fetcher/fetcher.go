// Package fetcher turns canonical filters into one persisted-ready upstream page.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/apperr"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/rawg"
)

const defaultReleasedFrom = "1900-01-01"

// FilterTooBroadError is returned when the origin reports more results than the hard limit.
type FilterTooBroadError struct {
	Count int
	Limit int
}

func (e *FilterTooBroadError) Error() string {
	return fmt.Sprintf("RAWG returned %d games, which exceeds the maximum allowed (%d). "+
		"Please add filters (genre, platform, release window, tags) to narrow your request below this limit and try again.",
		e.Count, e.Limit)
}

func (e *FilterTooBroadError) Kind() apperr.Kind { return apperr.KindFilterTooBroad }

// GameSource is the origin listing endpoint.
type GameSource interface {
	Games(ctx context.Context, params url.Values) (rawg.GamesPage, error)
}

// PlatformResolver maps platform and parent platform names to origin ids.
type PlatformResolver interface {
	PlatformIDs(ctx context.Context, names []string) ([]string, error)
	ParentPlatformIDs(ctx context.Context, names []string) []string
}

type Fetcher struct {
	logger    *slog.Logger
	games     GameSource
	platforms PlatformResolver
	ttl       time.Duration
	hardLimit int
	now       func() time.Time
}

func New(logger *slog.Logger, games GameSource, platforms PlatformResolver, ttl time.Duration, hardLimit int) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		logger:    logger,
		games:     games,
		platforms: platforms,
		ttl:       ttl,
		hardLimit: hardLimit,
		now:       time.Now,
	}
}

// FetchPage requests canonical.Page from the origin and stamps freshness.
func (f *Fetcher) FetchPage(ctx context.Context, datasetKey string, canonical model.CanonicalFilters) (model.PageRecord, error) {
	params, err := f.params(ctx, canonical)
	if err != nil {
		return model.PageRecord{}, err
	}

	res, err := f.games.Games(ctx, params)
	if err != nil {
		return model.PageRecord{}, fmt.Errorf("fetch page %d: %w", canonical.Page, err)
	}

	count := 0
	if res.Count != nil {
		count = *res.Count
	}
	if f.hardLimit > 0 && count > f.hardLimit {
		f.logger.WarnContext(ctx, "rawg_response_limit_exceeded",
			"dataset_key", datasetKey, "count", count, "limit", f.hardLimit)
		return model.PageRecord{}, &FilterTooBroadError{Count: count, Limit: f.hardLimit}
	}

	f.logger.InfoContext(ctx, "rawg_response",
		"dataset_key", datasetKey,
		"page", canonical.Page,
		"count", count,
		"items", len(res.Results),
		"sample", sample(res.Results, 5))

	now := f.now().UTC()
	return model.PageRecord{
		Version:    model.DatasetVersion,
		Key:        datasetKey,
		Filters:    canonical,
		Page:       canonical.Page,
		TotalPages: TotalPages(count, canonical.PageSize, canonical.Page),
		Count:      count,
		FetchedAt:  now,
		ExpiresAt:  now.Add(f.ttl),
		Items:      res.Results,
	}, nil
}

// TotalPages is ceil(count/pageSize), never less than page; unknown counts yield page.
func TotalPages(count, pageSize, page int) int {
	if count <= 0 || pageSize <= 0 {
		return page
	}
	return max((count+pageSize-1)/pageSize, page)
}

func (f *Fetcher) params(ctx context.Context, c model.CanonicalFilters) (url.Values, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(c.Page))
	q.Set("page_size", strconv.Itoa(c.PageSize))

	if len(c.Genres) > 0 {
		q.Set("genres", strings.Join(c.Genres, ","))
	}
	if len(c.Platforms) > 0 {
		ids, err := f.platforms.PlatformIDs(ctx, c.Platforms)
		if err != nil {
			return nil, fmt.Errorf("resolve platforms: %w", err)
		}
		q.Set("platforms", strings.Join(ids, ","))
	}
	if len(c.ParentPlatforms) > 0 {
		q.Set("parent_platforms", strings.Join(f.platforms.ParentPlatformIDs(ctx, c.ParentPlatforms), ","))
	}
	if len(c.Tags) > 0 {
		q.Set("tags", strings.Join(c.Tags, ","))
	}
	if c.ReleasedFrom != nil || c.ReleasedTo != nil {
		from, to := defaultReleasedFrom, f.now().UTC().Format(model.DateLayout)
		if c.ReleasedFrom != nil {
			from = *c.ReleasedFrom
		}
		if c.ReleasedTo != nil {
			to = *c.ReleasedTo
		}
		q.Set("dates", from+","+to)
	}
	return q, nil
}

type sampleItem struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Metacritic *float64 `json:"metacritic"`
	Rating     *float64 `json:"rating"`
}

func sample(items []model.Game, n int) []sampleItem {
	n = min(n, len(items))
	out := make([]sampleItem, n)
	for i := range n {
		g := items[i]
		out[i] = sampleItem{ID: g.ID, Name: g.Name, Metacritic: g.Metacritic, Rating: g.Rating}
	}
	return out
}
