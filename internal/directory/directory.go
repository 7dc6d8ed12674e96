// Package directory maps platform names to RAWG identifiers.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/record"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
)

var parentPlatformIDs = map[string]string{
	"pc":              "1",
	"windows":         "1",
	"playstation":     "2",
	"ps":              "2",
	"xbox":            "3",
	"ios":             "4",
	"mac":             "5",
	"apple-macintosh": "5",
	"linux":           "6",
	"nintendo":        "7",
	"android":         "8",
	"atari":           "9",
	"amiga":           "10",
	"commodore-amiga": "10",
	"sega":            "11",
	"3do":             "12",
	"neo-geo":         "13",
	"web":             "14",
	"browser":         "14",
}

// PlatformSource lists every platform known to the origin.
type PlatformSource interface {
	Platforms(ctx context.Context, maxPages int) ([]model.Platform, error)
}

type Resolver struct {
	logger   *slog.Logger
	src      PlatformSource
	records  *record.Store[model.PlatformDirectoryRecord]
	ttl      time.Duration
	maxPages int
	now      func() time.Time
}

func NewResolver(
	logger *slog.Logger,
	src PlatformSource,
	records *record.Store[model.PlatformDirectoryRecord],
	ttl time.Duration,
	maxPages int,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:   logger,
		src:      src,
		records:  records,
		ttl:      ttl,
		maxPages: maxPages,
		now:      time.Now,
	}
}

// PlatformIDs resolves names, slugs or numeric ids to origin platform ids.
// Unknown names are dropped; output keeps first-seen order without duplicates.
func (r *Resolver) PlatformIDs(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return []string{}, nil
	}

	var index map[string]string
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	add := func(id string) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}

	for _, raw := range names {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if isNumeric(v) {
			add(v)
			continue
		}
		if index == nil {
			dir, err := r.Directory(ctx)
			if err != nil {
				return nil, err
			}
			index = buildIndex(dir.Platforms)
		}
		id, ok := index[keys.NormalizeValue(v)]
		if !ok {
			id, ok = index[strings.ToLower(v)]
		}
		if !ok {
			r.logger.WarnContext(ctx, "unresolved_platform", "input", v)
			continue
		}
		add(id)
	}
	return out, nil
}

// Directory returns the cached platform directory, refetching it when absent or stale.
func (r *Resolver) Directory(ctx context.Context) (model.PlatformDirectoryRecord, error) {
	rec, st, err := r.records.Load(ctx, keys.PlatformDirectoryKey)
	if err != nil {
		return model.PlatformDirectoryRecord{}, err
	}
	if st == record.Fresh {
		return rec, nil
	}

	platforms, err := r.src.Platforms(ctx, r.maxPages)
	if err != nil {
		return model.PlatformDirectoryRecord{}, fmt.Errorf("refresh platform directory: %w", err)
	}
	now := r.now().UTC()
	rec = model.PlatformDirectoryRecord{
		Version:   model.PlatformDirectoryVersion,
		FetchedAt: now,
		ExpiresAt: now.Add(r.ttl),
		Platforms: platforms,
	}
	if err := r.records.Save(ctx, keys.PlatformDirectoryKey, rec, r.ttl); err != nil {
		return model.PlatformDirectoryRecord{}, err
	}
	r.logger.InfoContext(ctx, "platform_directory_refreshed", "platforms", len(platforms), "previous", st.String())
	return rec, nil
}

// ParentPlatformIDs resolves parent platform names from a fixed table without I/O.
// Unknown names are logged and dropped; output keeps first-seen order without duplicates.
func (r *Resolver) ParentPlatformIDs(ctx context.Context, names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		id, ok := parentPlatformID(v)
		if !ok {
			r.logger.WarnContext(ctx, "unresolved_parent_platform", "input", v)
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func parentPlatformID(v string) (string, bool) {
	if isNumeric(v) {
		return v, true
	}
	if id, ok := parentPlatformIDs[keys.NormalizeValue(v)]; ok {
		return id, true
	}
	id, ok := parentPlatformIDs[strings.ToLower(v)]
	return id, ok
}

func buildIndex(platforms []model.Platform) map[string]string {
	idx := make(map[string]string, len(platforms)*3)
	for _, p := range platforms {
		id := strconv.FormatInt(p.ID, 10)
		idx[keys.NormalizeValue(p.Slug)] = id
		idx[strings.ToLower(p.Slug)] = id
		idx[keys.NormalizeValue(p.Name)] = id
	}
	return idx
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
