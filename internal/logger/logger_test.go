package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestBuild_FromContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "gamedata", Component: "test"}, &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDatasetKey(ctx, "rawg:games:v1:abc")
	ctx = WithCacheStatus(ctx, "hit")

	FromContext(ctx, &zl).Info().Msg("hello")

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]string{
		"msg":          "hello",
		"level":        "info",
		"service":      "gamedata",
		"component":    "test",
		"request_id":   "req-1",
		"dataset_key":  "rawg:games:v1:abc",
		"cache_status": "hit",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("field %s=%v want %q (line=%s)", k, got[k], v, buf.String())
		}
	}
	if _, ok := got["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %s", buf.String())
	}
}

func TestNewSlog_RoutesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	sl := NewSlog(&zl)

	sl.Warn("rawg_response_limit_exceeded", "count", 5000, "limit", 1000)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if got["level"] != "warn" || got["msg"] != "rawg_response_limit_exceeded" {
		t.Fatalf("unexpected line: %v", got)
	}
	if got["count"] != float64(5000) {
		t.Fatalf("count=%v", got["count"])
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("https://x/api/games?key=s3cret&page=1", "s3cret"); got != "https://x/api/games?key=***&page=1" {
		t.Fatalf("Redact=%q", got)
	}
	if got := Redact("abc", ""); got != "abc" {
		t.Fatalf("empty secret must be a no-op, got %q", got)
	}
}

func TestNewSlog_GroupsAndKinds(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	sl := NewSlog(&zl).WithGroup("upstream")

	sl.Info("rawg_response", "status", 200, slog.Group("page", "n", 2), "took", 1500*time.Millisecond)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if got["upstream.status"] != float64(200) {
		t.Fatalf("upstream.status=%v line=%s", got["upstream.status"], buf.String())
	}
	if got["upstream.page.n"] != float64(2) {
		t.Fatalf("upstream.page.n=%v line=%s", got["upstream.page.n"], buf.String())
	}
	if got["upstream.took"] != float64(1500) {
		t.Fatalf("upstream.took=%v want 1500 (ms)", got["upstream.took"])
	}
}

func TestNewSlog_HonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	sl := NewSlog(&zl)

	if sl.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("debug should be disabled at info level")
	}
	sl.Debug("dataset_page_resolved", "page", 1)
	if buf.Len() != 0 {
		t.Fatalf("debug line written: %q", buf.String())
	}
}
