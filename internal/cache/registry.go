package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/config"
)

type Factory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

// Open builds the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	if f, ok := reg[cfg.StoreDriver]; ok {
		return f(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("no store driver %q registered (have %v)", cfg.StoreDriver, Drivers())
}

func Drivers() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
