package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache/keys"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/record"
	"github.com/mohammed-shakir/gamedata-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
	mylog "github.com/mohammed-shakir/gamedata-cache/internal/logger"
)

type fakeSource struct {
	calls     int
	platforms []model.Platform
	err       error
}

func (f *fakeSource) Platforms(context.Context, int) ([]model.Platform, error) {
	f.calls++
	return f.platforms, f.err
}

func newResolver(t *testing.T, src PlatformSource) (*Resolver, *redisstore.Client) {
	r, rc, _ := newClockedResolver(t, src)
	return r, rc
}

// both the resolver and its record store read *clock.
func newClockedResolver(t *testing.T, src PlatformSource) (*Resolver, *redisstore.Client, *time.Time) {
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

	clock := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	recs := record.New(rc, "platform_directory", model.PlatformDirectoryVersion, nil,
		record.WithClock[model.PlatformDirectoryRecord](now))
	r := NewResolver(nil, src, recs, 6*time.Hour, 5)
	r.now = now
	return r, rc, &clock
}

var catalog = []model.Platform{
	{ID: 4, Slug: "pc", Name: "PC"},
	{ID: 187, Slug: "playstation5", Name: "PlayStation 5"},
	{ID: 7, Slug: "nintendo-switch", Name: "Nintendo Switch"},
}

func TestPlatformIDs_ResolvesAndDedupes(t *testing.T) {
	src := &fakeSource{platforms: catalog}
	r, _ := newResolver(t, src)

	got, err := r.PlatformIDs(context.Background(),
		[]string{"PlayStation 5", "pc", "42", "unknown-console", "playstation5", " Nintendo   Switch "})
	if err != nil {
		t.Fatalf("PlatformIDs: %v", err)
	}
	want := []string{"187", "4", "42", "7"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPlatformIDs_NumericOnlySkipsDirectory(t *testing.T) {
	src := &fakeSource{err: errors.New("should not be called")}
	r, _ := newResolver(t, src)

	got, err := r.PlatformIDs(context.Background(), []string{"4", "4", "18"})
	if err != nil {
		t.Fatalf("PlatformIDs: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"4", "18"}) || src.calls != 0 {
		t.Fatalf("got %v calls=%d", got, src.calls)
	}
}

func TestDirectory_CachedUntilStale(t *testing.T) {
	src := &fakeSource{platforms: catalog}
	r, _, clock := newClockedResolver(t, src)
	ctx := context.Background()

	if _, err := r.Directory(ctx); err != nil {
		t.Fatalf("Directory: %v", err)
	}
	*clock = clock.Add(5 * time.Hour)
	if _, err := r.Directory(ctx); err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("fresh directory should be served from cache, calls=%d", src.calls)
	}

	*clock = clock.Add(2 * time.Hour)
	if _, err := r.Directory(ctx); err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("stale directory should be refetched, calls=%d", src.calls)
	}
}

func TestDirectory_CorruptRecordIsRefetched(t *testing.T) {
	src := &fakeSource{platforms: catalog}
	r, rc := newResolver(t, src)
	ctx := context.Background()

	if err := rc.Set(ctx, keys.PlatformDirectoryKey, []byte(`{"version":"v0"}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	dir, err := r.Directory(ctx)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if dir.Version != model.PlatformDirectoryVersion || len(dir.Platforms) != 3 || src.calls != 1 {
		t.Fatalf("dir=%+v calls=%d", dir, src.calls)
	}
}

func TestDirectory_SourceErrorPropagates(t *testing.T) {
	src := &fakeSource{err: errors.New("origin down")}
	r, _ := newResolver(t, src)
	if _, err := r.PlatformIDs(context.Background(), []string{"pc"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParentPlatformIDs(t *testing.T) {
	var buf bytes.Buffer
	zl := mylog.Build(mylog.Config{Level: "info", Service: "gamedata-cache", Component: "fetcher"}, &buf)
	r := NewResolver(mylog.NewSlog(&zl), &fakeSource{}, nil, time.Hour, 1)

	got := r.ParentPlatformIDs(context.Background(), []string{"PlayStation", "ps", "Apple Macintosh", "3", "gameboy", "browser"})
	want := []string{"2", "5", "3", "14"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0], &line); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if line["msg"] != "unresolved_parent_platform" || line["input"] != "gameboy" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if line["component"] != "fetcher" || line["service"] != "gamedata-cache" {
		t.Fatalf("log line missing logger fields: %v", line)
	}
}
