// Package router exposes the dataset operations over HTTP.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/gamedata-cache/internal/calc"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/apperr"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
	"github.com/mohammed-shakir/gamedata-cache/internal/dataset"
)

const maxBody = 1 << 20

// Service is the dataset surface served over HTTP.
type Service interface {
	FetchDataset(ctx context.Context, filters model.FetchFilters, force bool) (dataset.FetchResult, error)
	Load(ctx context.Context, datasetKey string) (model.DatasetRecord, bool, error)
	RunQuery(ctx context.Context, datasetID, expr string, fresh bool) (dataset.QueryResult, error)
	Calculate(ctx context.Context, in dataset.CalculationInput) (dataset.CalculationResult, error)
	Items(ctx context.Context, datasetID string) ([]byte, error)
}

type FetchRequest struct {
	Filters model.FetchFilters `json:"filters"`
	Force   bool               `json:"force,omitempty"`
}

type QueryRequest struct {
	Query string `json:"query"`
	Fresh bool   `json:"fresh,omitempty"`
}

type CalculateRequest struct {
	calc.Request
	Fresh bool `json:"fresh,omitempty"`
}

type handlers struct {
	logger *slog.Logger
	svc    Service
}

// Mount registers the dataset routes on r.
func Mount(r chi.Router, logger *slog.Logger, svc Service) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{logger: logger, svc: svc}

	r.Post("/datasets", instrument("/datasets", h.fetch))
	r.Get("/datasets/{id}", instrument("/datasets/{id}", h.get))
	r.Get("/datasets/{id}/items", instrument("/datasets/{id}/items", h.items))
	r.Post("/datasets/{id}/query", instrument("/datasets/{id}/query", h.query))
	r.Post("/datasets/{id}/calculate", instrument("/datasets/{id}/calculate", h.calculate))
}

func (h *handlers) fetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.FetchDataset(r.Context(), req.Filters, req.Force)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, res)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	rec, found, err := h.svc.Load(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		h.fail(w, r, dataset.NotFound(id))
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		h.fail(w, r, fmt.Errorf("encode dataset: %w", err))
		return
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64(b), 16) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(maxAge(rec.ExpiresAt)))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *handlers) items(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.Items(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	var req QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.RunQuery(r.Context(), id, req.Query, req.Fresh)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, res)
}

func (h *handlers) calculate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.datasetID(w, r)
	if !ok {
		return
	}
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Calculate(r.Context(), dataset.CalculationInput{
		DatasetID: id,
		Request:   req.Request,
		Fresh:     req.Fresh,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, res)
}

func (h *handlers) datasetID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		h.fail(w, r, apperr.New(apperr.KindInvalidInput, "invalid dataset id"))
		return "", false
	}
	return id, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.fail(w, r, apperr.Wrap(apperr.KindInvalidInput, err, "invalid request body"))
		return false
	}
	return true
}

type errorBody struct {
	Error struct {
		Kind    apperr.Kind `json:"kind"`
		Message string      `json:"message"`
	} `json:"error"`
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "kind", kind, "status", status, "err", err)
	} else {
		h.logger.InfoContext(r.Context(), "request rejected",
			"path", r.URL.Path, "kind", kind, "status", status, "err", err)
	}

	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = err.Error()
	if kind == apperr.KindInternal {
		body.Error.Message = "internal error"
	}
	b, _ := json.Marshal(body)
	writeBody(w, status, b)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindInvalidInput, apperr.KindQuery:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindFilterTooBroad:
		return http.StatusUnprocessableEntity
	case apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respond encodes v before the status line goes out, so an unencodable value
// becomes a 500 error body instead of an empty 200.
func (h *handlers) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.fail(w, r, apperr.Wrap(apperr.KindInternal, err, "encode response"))
		return
	}
	writeBody(w, status, b)
}

func writeBody(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func maxAge(expires time.Time) int {
	return max(int(time.Until(expires).Seconds()), 0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}
