// Package rawg is a rate-limited, retrying client for the RAWG catalog API.
package rawg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/apperr"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/config"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
	"github.com/mohammed-shakir/gamedata-cache/internal/logger"
)

const upstreamName = "rawg"

// ErrMissingAPIKey is returned before any request when no key is configured.
var ErrMissingAPIKey = apperr.New(apperr.KindConfiguration, "RAWG_API_KEY is not configured")

// StatusError is a non-2xx origin response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("RAWG request failed (%d): %s", e.Status, e.Body)
}

func (e *StatusError) Kind() apperr.Kind { return apperr.KindUpstream }

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// GamesPage is one page of the /games listing.
type GamesPage struct {
	Count   *int         `json:"count"`
	Next    *string      `json:"next"`
	Results []model.Game `json:"results"`
}

type platformsPage struct {
	Count   int              `json:"count"`
	Next    *string          `json:"next"`
	Results []model.Platform `json:"results"`
}

type Client struct {
	logger       *slog.Logger
	http         *http.Client
	base         *url.URL
	apiKey       string
	limiter      *rate.Limiter
	maxAttempts  uint
	retryInitial time.Duration
	retryMax     time.Duration
	now          func() time.Time
}

func New(log *slog.Logger, hc *http.Client, cfg config.UpstreamCfg) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse rawg base url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}

	var lim *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := max(cfg.Burst, 1)
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		logger:       log,
		http:         hc,
		base:         u,
		apiKey:       cfg.APIKey,
		limiter:      lim,
		maxAttempts:  uint(max(cfg.MaxAttempts, 1)),
		retryInitial: cfg.RetryInitial,
		retryMax:     cfg.RetryMax,
		now:          time.Now,
	}, nil
}

// Games fetches one /games page. params must not carry the API key.
func (c *Client) Games(ctx context.Context, params url.Values) (GamesPage, error) {
	if c.apiKey == "" {
		return GamesPage{}, ErrMissingAPIKey
	}
	u := c.endpoint("games")
	q := cloneValues(params)
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	var page GamesPage
	if err := c.getJSON(ctx, u, &page); err != nil {
		return GamesPage{}, err
	}
	if page.Results == nil {
		page.Results = []model.Game{}
	}
	return page, nil
}

// Platforms walks every /platforms page, following next links up to maxPages.
func (c *Client) Platforms(ctx context.Context, maxPages int) ([]model.Platform, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	u := c.endpoint("platforms")
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("page", "1")
	q.Set("page_size", strconv.Itoa(model.DefaultPageSize))
	u.RawQuery = q.Encode()

	platforms := []model.Platform{}
	for range maxPages {
		var page platformsPage
		if err := c.getJSON(ctx, u, &page); err != nil {
			return nil, fmt.Errorf("rawg platforms: %w", err)
		}
		platforms = append(platforms, page.Results...)

		if page.Next == nil || *page.Next == "" {
			return platforms, nil
		}
		next, err := url.Parse(*page.Next)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, err, "parse platforms next link")
		}
		nq := next.Query()
		nq.Set("key", c.apiKey)
		nq.Set("page_size", strconv.Itoa(model.DefaultPageSize))
		next.RawQuery = nq.Encode()
		u = next
	}

	c.logger.WarnContext(ctx, "rawg_platforms_truncated", "max_pages", maxPages, "platforms", len(platforms))
	return platforms, nil
}

// Redact hides the API key in s.
func (c *Client) Redact(s string) string {
	return logger.Redact(s, c.apiKey)
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawPath = ""
	return &u
}

func (c *Client) getJSON(ctx context.Context, u *url.URL, out any) error {
	b := backoff.NewExponentialBackOff()
	if c.retryInitial > 0 {
		b.InitialInterval = c.retryInitial
	}
	if c.retryMax > 0 {
		b.MaxInterval = c.retryMax
	}

	attempt := 0
	var last error
	op := func() (struct{}, error) {
		attempt++
		if err := c.wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := c.do(ctx, u, out)
		last = err
		switch {
		case err == nil:
			observability.IncUpstreamAttempt(upstreamName, "ok")
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case !retryable(err):
			observability.IncUpstreamAttempt(upstreamName, "fail")
			return struct{}{}, backoff.Permanent(err)
		}

		observability.IncUpstreamAttempt(upstreamName, "retry")
		c.logger.WarnContext(ctx, "rawg_retry",
			"attempt", attempt,
			"url", c.Redact(u.String()),
			"err", c.Redact(err.Error()))

		if secs := retryAfterSeconds(err); secs > 0 {
			return struct{}{}, backoff.RetryAfter(secs)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxAttempts),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// RetryAfter replaces the attempt's error; report what the origin said.
	if last != nil {
		err = last
	}
	if apperr.KindOf(err) == apperr.KindInternal {
		return apperr.Wrap(apperr.KindUpstream, err, "RAWG request failed")
	}
	return err
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) do(ctx context.Context, u *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error embeds the full URL, key included
		return errors.New(c.Redact(fmt.Sprintf("do request: %v", err)))
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency(upstreamName, time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &statusWithHeader{
			StatusError: &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))},
			retryAfter:  resp.Header.Get("Retry-After"),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, err, "failed to parse RAWG response")
	}
	return nil
}

// statusWithHeader carries Retry-After alongside the status error.
type statusWithHeader struct {
	*StatusError
	retryAfter string
}

func (s *statusWithHeader) Unwrap() error { return s.StatusError }

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var k apperr.Kinded
	// unclassified errors are transport failures
	return !errors.As(err, &k)
}

func retryAfterSeconds(err error) int {
	var sh *statusWithHeader
	if !errors.As(err, &sh) {
		return 0
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(sh.retryAfter))
	if convErr != nil || n <= 0 {
		return 0
	}
	return n
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
