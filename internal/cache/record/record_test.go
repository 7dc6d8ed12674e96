package record

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/gamedata-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
)

func newStore(t *testing.T, now time.Time) (*Store[model.PlatformDirectoryRecord], *redisstore.Client) {
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

	s := New(rc, "platform_directory", model.PlatformDirectoryVersion, nil,
		WithClock[model.PlatformDirectoryRecord](func() time.Time { return now }))
	return s, rc
}

func directory(fetched time.Time, ttl time.Duration) model.PlatformDirectoryRecord {
	return model.PlatformDirectoryRecord{
		Version:   model.PlatformDirectoryVersion,
		FetchedAt: fetched,
		ExpiresAt: fetched.Add(ttl),
		Platforms: []model.Platform{{ID: 4, Slug: "pc", Name: "PC"}},
	}
}

func TestShouldRefresh_Boundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{"one second ahead", now.Add(time.Second), false},
		{"exactly now", now, true},
		{"one second behind", now.Add(-time.Second), true},
	}
	for _, tc := range cases {
		if got := ShouldRefresh(tc.expires, now); got != tc.want {
			t.Fatalf("%s: ShouldRefresh=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestLoad_MissFreshStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newStore(t, now)
	ctx := context.Background()

	if _, st, err := s.Load(ctx, "k"); err != nil || st != Miss {
		t.Fatalf("empty store: status=%v err=%v", st, err)
	}

	if err := s.Save(ctx, "k", directory(now.Add(-time.Minute), time.Hour), time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, st, err := s.Load(ctx, "k")
	if err != nil || st != Fresh {
		t.Fatalf("status=%v err=%v want Fresh", st, err)
	}
	if len(rec.Platforms) != 1 || rec.Platforms[0].Slug != "pc" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if err := s.Save(ctx, "old", directory(now.Add(-2*time.Hour), time.Hour), time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, st, err := s.Load(ctx, "old"); err != nil || st != Stale {
		t.Fatalf("status=%v err=%v want Stale", st, err)
	}
}

func TestLoad_CorruptRecordsAreDeleted(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s, rc := newStore(t, now)
	ctx := context.Background()

	wrongVersion := directory(now, time.Hour)
	wrongVersion.Version = "v0"
	wv, _ := json.Marshal(wrongVersion)

	missingPlatforms := directory(now, time.Hour)
	missingPlatforms.Platforms = nil
	mp, _ := json.Marshal(missingPlatforms)

	cases := map[string][]byte{
		"garbage":       []byte("{not json"),
		"wrong-version": wv,
		"invalid":       mp,
	}
	for key, body := range cases {
		if err := rc.Set(ctx, key, body, time.Hour); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
		if _, st, err := s.Load(ctx, key); err != nil || st != Miss {
			t.Fatalf("%s: status=%v err=%v want Miss", key, st, err)
		}
		if _, ok, _ := rc.Get(ctx, key); ok {
			t.Fatalf("%s: corrupt record should have been deleted", key)
		}
	}
}

func TestStatusString(t *testing.T) {
	if Fresh.String() != "hit" || Stale.String() != "stale" || Miss.String() != "miss" {
		t.Fatalf("unexpected status strings")
	}
}
