package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("RAWG_API_KEY", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATASET_TTL", "")
	t.Setenv("LOG_SAMPLE_N", "")

	cfg := FromEnv()
	if cfg.StoreDriver != "redis" {
		t.Fatalf("StoreDriver=%q want redis", cfg.StoreDriver)
	}
	if cfg.DatasetTTL != time.Hour {
		t.Fatalf("DatasetTTL=%v want 1h", cfg.DatasetTTL)
	}
	if cfg.Upstream.PlatformTTL != 6*time.Hour {
		t.Fatalf("PlatformTTL=%v want 6h", cfg.Upstream.PlatformTTL)
	}
	if cfg.Upstream.HardLimit != 1000 {
		t.Fatalf("HardLimit=%d want 1000", cfg.Upstream.HardLimit)
	}
	if cfg.Upstream.APIKey != "" {
		t.Fatalf("APIKey should be empty")
	}
	if cfg.LogSampleN != 0 {
		t.Fatalf("LogSampleN=%d want 0", cfg.LogSampleN)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("DATASET_TTL", "90s")
	t.Setenv("RESULT_HARD_LIMIT", "-5")
	t.Setenv("UPSTREAM_MAX_ATTEMPTS", "0")
	t.Setenv("RAWG_BASE_URL", "http://localhost:9999/api/")
	t.Setenv("MCP_ENABLED", "no")
	t.Setenv("LOG_SAMPLE_N", "10")

	cfg := FromEnv()
	if cfg.StoreDriver != "sqlite" {
		t.Fatalf("StoreDriver=%q want sqlite", cfg.StoreDriver)
	}
	if cfg.DatasetTTL != 90*time.Second {
		t.Fatalf("DatasetTTL=%v", cfg.DatasetTTL)
	}
	if cfg.Upstream.HardLimit != 1000 {
		t.Fatalf("non-positive hard limit must fall back to default, got %d", cfg.Upstream.HardLimit)
	}
	if cfg.Upstream.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts=%d want 1", cfg.Upstream.MaxAttempts)
	}
	if cfg.Upstream.BaseURL != "http://localhost:9999/api" {
		t.Fatalf("BaseURL=%q", cfg.Upstream.BaseURL)
	}
	if cfg.MCPEnabled {
		t.Fatalf("MCPEnabled should be false")
	}
	if cfg.LogSampleN != 10 {
		t.Fatalf("LogSampleN=%d want 10", cfg.LogSampleN)
	}
}

func TestFromEnv_NegativeSampleIsOff(t *testing.T) {
	t.Setenv("LOG_SAMPLE_N", "-3")
	if n := FromEnv().LogSampleN; n != 0 {
		t.Fatalf("LogSampleN=%d want 0", n)
	}
}

func TestParseAPIKeys(t *testing.T) {
	got := ParseAPIKeys(" a, b\n\nc ,")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseAPIKeys=%v want %v", got, want)
	}
	if ParseAPIKeys("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
