package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/calc"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	"github.com/mohammed-shakir/gamedata-cache/internal/dataset"
)

// filterFlags binds the fetch filters to a command's flag set.
type filterFlags struct {
	genres          []string
	platforms       []string
	parentPlatforms []string
	tags            []string
	from            string
	to              string
	page            int
	pageSize        int
}

func (f *filterFlags) register(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.genres, "genre", nil, "genre slug (repeatable or comma separated)")
	fs.StringSliceVar(&f.platforms, "platform", nil, "platform name, slug or id")
	fs.StringSliceVar(&f.parentPlatforms, "parent-platform", nil, "parent platform id")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag slug")
	fs.StringVar(&f.from, "released-from", "", "earliest release date (YYYY-MM-DD)")
	fs.StringVar(&f.to, "released-to", "", "latest release date (YYYY-MM-DD)")
	fs.IntVar(&f.page, "page", 1, "origin page to start from")
	fs.IntVar(&f.pageSize, "page-size", model.DefaultPageSize, "items per origin page")
}

func (f *filterFlags) filters(fs *pflag.FlagSet) model.FetchFilters {
	out := model.FetchFilters{
		Genres:          f.genres,
		Platforms:       f.platforms,
		ParentPlatforms: f.parentPlatforms,
		Tags:            f.tags,
	}
	if f.from != "" {
		v := f.from
		out.ReleasedFrom = &v
	}
	if f.to != "" {
		v := f.to
		out.ReleasedTo = &v
	}
	if fs.Changed("page") {
		v := f.page
		out.Page = &v
	}
	if fs.Changed("page-size") {
		v := f.pageSize
		out.PageSize = &v
	}
	return out
}

func (f *filterFlags) set(fs *pflag.FlagSet) bool {
	for _, name := range []string{"genre", "platform", "parent-platform", "tag", "released-from", "released-to", "page", "page-size"} {
		if fs.Changed(name) {
			return true
		}
	}
	return false
}

var (
	fetchFilters filterFlags
	fetchForce   bool

	queryFresh bool

	calcOp      string
	calcField   string
	calcGroupBy string
	calcFresh   bool

	invalidateFilters filterFlags
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and cache the dataset matching the filters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "cli", os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.FetchDataset(ctx, fetchFilters.filters(cmd.Flags()), fetchForce)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <dataset-id> <expression>",
	Short: "Evaluate a query expression against a cached dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "cli", os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.RunQuery(ctx, args[0], args[1], queryFresh)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var calcCmd = &cobra.Command{
	Use:   "calc <dataset-id>",
	Short: "Run an aggregate calculation over a cached dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "cli", os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.Calculate(ctx, dataset.CalculationInput{
			DatasetID: args[0],
			Request: calc.Request{
				Operation: calc.Operation(calcOp),
				Field:     calc.Field(calcField),
				GroupBy:   calc.GroupBy(calcGroupBy),
			},
			Fresh: calcFresh,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate [dataset-key]",
	Short: "Evict a cached dataset and its pages",
	Long:  "invalidate removes a dataset named either by key or by the filters that produced it.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := invalidationKey(cmd.Flags(), &invalidateFilters, args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "cli", os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.Invalidate(ctx, key); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"invalidated": key})
	},
}

func init() {
	fetchFilters.register(fetchCmd.Flags())
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "refetch the requested page even when cached")

	queryCmd.Flags().BoolVar(&queryFresh, "fresh", false, "rebuild the dataset before querying")

	calcCmd.Flags().StringVar(&calcOp, "op", "", "avg, count, min or max")
	calcCmd.Flags().StringVar(&calcField, "field", "", "metacritic or rating")
	calcCmd.Flags().StringVar(&calcGroupBy, "group-by", "", "genres or platforms")
	calcCmd.Flags().BoolVar(&calcFresh, "fresh", false, "rebuild the dataset before calculating")
	_ = calcCmd.MarkFlagRequired("op")
	_ = calcCmd.MarkFlagRequired("field")

	invalidateFilters.register(invalidateCmd.Flags())

	rootCmd.AddCommand(fetchCmd, queryCmd, calcCmd, invalidateCmd)
}

// invalidationKey resolves the target from either a key argument or filter flags.
func invalidationKey(fs *pflag.FlagSet, f *filterFlags, args []string) (string, error) {
	hasFilters := f.set(fs)
	switch {
	case len(args) == 1 && hasFilters:
		return "", errors.New("pass either a dataset key or filter flags, not both")
	case len(args) == 1:
		return args[0], nil
	case !hasFilters:
		return "", errors.New("a dataset key or filter flags are required")
	}
	filters := f.filters(fs)
	if err := filters.Validate(); err != nil {
		return "", fmt.Errorf("invalid filters: %w", err)
	}
	key, _ := keys.DatasetKey(keys.Canonicalize(filters))
	return key, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
