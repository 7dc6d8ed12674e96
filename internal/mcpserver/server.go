// Package mcpserver exposes the dataset operations as MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mohammed-shakir/gamedata-cache/internal/calc"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/dataset"
)

const Name = "gamedata-cache"

// Service is the subset of the dataset engine the tools call.
type Service interface {
	FetchDataset(ctx context.Context, filters model.FetchFilters, force bool) (dataset.FetchResult, error)
	RunQuery(ctx context.Context, datasetID, expr string, fresh bool) (dataset.QueryResult, error)
	Calculate(ctx context.Context, in dataset.CalculationInput) (dataset.CalculationResult, error)
}

type FetchInput struct {
	Filters model.FetchFilters `json:"filters" jsonschema:"genre, platform, parent platform, tag, release window and paging filters"`
	Force   bool               `json:"force,omitempty" jsonschema:"refetch the requested page even when the cached dataset is fresh"`
}

type FetchOutput struct {
	DatasetID   string                 `json:"datasetId" jsonschema:"identifier to pass to run_query and execute_calculation"`
	DatasetKey  string                 `json:"datasetKey"`
	CacheStatus string                 `json:"cacheStatus" jsonschema:"hit, miss or refresh"`
	TotalPages  int                    `json:"totalPages"`
	TotalItems  int                    `json:"totalItems"`
	FetchedAt   string                 `json:"fetchedAt" jsonschema:"RFC3339 timestamp of the freshest page"`
	ExpiresAt   string                 `json:"expiresAt" jsonschema:"RFC3339 timestamp after which the dataset is refreshed"`
	Filters     model.CanonicalFilters `json:"filters"`
}

type QueryInput struct {
	DatasetID string `json:"datasetId" jsonschema:"dataset identifier returned by fetch_game_data"`
	Query     string `json:"query" jsonschema:"query expression evaluated against the dataset record, games are under .items"`
	Fresh     bool   `json:"fresh,omitempty" jsonschema:"rebuild the dataset before querying"`
}

type QueryOutput struct {
	DatasetID      string `json:"datasetId"`
	ItemsProcessed int    `json:"itemsProcessed"`
	Value          any    `json:"value"`
	FetchedAt      string `json:"fetchedAt"`
	ExpiresAt      string `json:"expiresAt"`
}

type CalculationInput struct {
	DatasetID string `json:"datasetId" jsonschema:"dataset identifier returned by fetch_game_data"`
	Operation string `json:"operation" jsonschema:"avg, count, min or max"`
	Field     string `json:"field" jsonschema:"metacritic or rating"`
	GroupBy   string `json:"groupBy,omitempty" jsonschema:"optional grouping: genres or platforms"`
	Fresh     bool   `json:"fresh,omitempty" jsonschema:"rebuild the dataset before calculating"`
}

type CalculationOutput struct {
	DatasetID      string  `json:"datasetId"`
	Operation      string  `json:"operation"`
	Field          string  `json:"field"`
	GroupBy        *string `json:"groupBy"`
	Value          any     `json:"value"`
	ItemsProcessed int     `json:"itemsProcessed"`
	FetchedAt      string  `json:"fetchedAt"`
	ExpiresAt      string  `json:"expiresAt"`
}

// New builds an MCP server with fetch_game_data, run_query and execute_calculation.
func New(svc Service, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: Name, Version: version}, nil)

	mcp.AddTool(srv, fetchTool(), fetchHandler(svc))
	mcp.AddTool(srv, queryTool(), queryHandler(svc))
	mcp.AddTool(srv, calculationTool(), calculationHandler(svc))

	logger.Debug("mcp tools registered", "version", version)
	return srv
}

// Handler serves srv over streamable HTTP.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// RunStdio serves srv on stdin/stdout until ctx is done or the client disconnects.
func RunStdio(ctx context.Context, srv *mcp.Server) error {
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

func fetchTool() *mcp.Tool {
	tags := make([]string, 0, len(model.SupportedTags))
	for _, t := range model.SupportedTags {
		tags = append(tags, t.Slug+" - "+t.Description)
	}
	return &mcp.Tool{
		Name: "fetch_game_data",
		Description: "Retrieve RAWG game metadata with optional filters. Responses are cached. Supported tags: " +
			strings.Join(tags, "; ") + ".",
	}
}

func fetchHandler(svc Service) mcp.ToolHandlerFor[FetchInput, FetchOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in FetchInput) (*mcp.CallToolResult, FetchOutput, error) {
		res, err := svc.FetchDataset(ctx, in.Filters, in.Force)
		if err != nil {
			return nil, FetchOutput{}, err
		}
		return nil, FetchOutput{
			DatasetID:   res.DatasetID,
			DatasetKey:  res.DatasetKey,
			CacheStatus: string(res.CacheStatus),
			TotalPages:  res.TotalPages,
			TotalItems:  res.TotalItems,
			FetchedAt:   formatTime(res.FetchedAt),
			ExpiresAt:   formatTime(res.ExpiresAt),
			Filters:     res.Filters,
		}, nil
	}
}

func queryTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "run_query",
		Description: "Evaluate a query expression (pipes, filter, map, sort, groupBy, unnest, aggregates) against a cached RAWG dataset.",
	}
}

func queryHandler(svc Service) mcp.ToolHandlerFor[QueryInput, QueryOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
		res, err := svc.RunQuery(ctx, in.DatasetID, in.Query, in.Fresh)
		if err != nil {
			return nil, QueryOutput{}, err
		}
		return nil, QueryOutput{
			DatasetID:      res.DatasetID,
			ItemsProcessed: res.ItemsProcessed,
			Value:          res.Value,
			FetchedAt:      formatTime(res.FetchedAt),
			ExpiresAt:      formatTime(res.ExpiresAt),
		}, nil
	}
}

func calculationTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "execute_calculation",
		Description: "Run numerical aggregations against a cached RAWG dataset.",
	}
}

func calculationHandler(svc Service) mcp.ToolHandlerFor[CalculationInput, CalculationOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in CalculationInput) (*mcp.CallToolResult, CalculationOutput, error) {
		res, err := svc.Calculate(ctx, dataset.CalculationInput{
			DatasetID: in.DatasetID,
			Request: calc.Request{
				Operation: calc.Operation(in.Operation),
				Field:     calc.Field(in.Field),
				GroupBy:   calc.GroupBy(in.GroupBy),
			},
			Fresh: in.Fresh,
		})
		if err != nil {
			return nil, CalculationOutput{}, err
		}
		out := CalculationOutput{
			DatasetID:      res.DatasetID,
			Operation:      string(res.Operation),
			Field:          string(res.Field),
			Value:          res.Value,
			ItemsProcessed: res.ItemsProcessed,
			FetchedAt:      formatTime(res.FetchedAt),
			ExpiresAt:      formatTime(res.ExpiresAt),
		}
		if res.GroupBy != nil {
			g := string(*res.GroupBy)
			out.GroupBy = &g
		}
		return nil, out, nil
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
