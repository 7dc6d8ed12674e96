package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type EventsCfg struct {
	Enabled   bool
	Topic     string
	Brokers   string
	QueueSize int
}

type UpstreamCfg struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
	MaxAttempts    int
	RetryInitial   time.Duration
	RetryMax       time.Duration
	HardLimit      int
	PlatformTTL    time.Duration
	DirectoryPages int
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	StoreDriver    string
	RedisAddr      string
	RedisPoolSize  int
	SQLitePath     string
	CacheOpTimeout time.Duration
	DatasetTTL     time.Duration
	Upstream       UpstreamCfg
	APIKeys        []string
	MCPEnabled     bool
	MetricsEnabled bool
	Invalidation   InvalidationCfg
	Events         EventsCfg
}

func FromEnv() Config {
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	hardLimit := getint("RESULT_HARD_LIMIT", 1000)
	if hardLimit <= 0 {
		hardLimit = 1000
	}
	attempts := getint("UPSTREAM_MAX_ATTEMPTS", 4)
	if attempts < 1 {
		attempts = 1
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     max(getint("LOG_SAMPLE_N", 0), 0),
		StoreDriver:    strings.ToLower(getenv("STORE_DRIVER", "redis")),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:  getint("REDIS_POOL_SIZE", 32),
		SQLitePath:     getenv("SQLITE_PATH", "gamedata-cache.db"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 500*time.Millisecond),
		DatasetTTL:     getduration("DATASET_TTL", time.Hour),
		Upstream: UpstreamCfg{
			BaseURL:        strings.TrimRight(getenv("RAWG_BASE_URL", "https://api.rawg.io/api"), "/"),
			APIKey:         strings.TrimSpace(os.Getenv("RAWG_API_KEY")),
			Timeout:        getduration("UPSTREAM_TIMEOUT", 15*time.Second),
			RatePerSecond:  getfloat("UPSTREAM_RPS", 5),
			Burst:          getint("UPSTREAM_BURST", 5),
			MaxAttempts:    attempts,
			RetryInitial:   getduration("UPSTREAM_RETRY_INITIAL", 250*time.Millisecond),
			RetryMax:       getduration("UPSTREAM_RETRY_MAX", 5*time.Second),
			HardLimit:      hardLimit,
			PlatformTTL:    getduration("PLATFORM_TTL", 6*time.Hour),
			DirectoryPages: getint("PLATFORM_DIRECTORY_MAX_PAGES", 20),
		},
		APIKeys:        ParseAPIKeys(os.Getenv("API_KEYS")),
		MCPEnabled:     getbool("MCP_ENABLED", true),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "dataset-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "gamedata-invalidator"),
		},
		Events: EventsCfg{
			Enabled:   getbool("DATASET_EVENTS_ENABLED", false),
			Topic:     getenv("DATASET_EVENTS_TOPIC", "dataset-events"),
			Brokers:   brokers,
			QueueSize: getint("DATASET_EVENTS_QUEUE", 1024),
		},
	}
}

// ParseAPIKeys splits a comma or newline separated key list.
func ParseAPIKeys(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for _, p := range strings.Split(line, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// SplitCSV returns the trimmed, non-empty comma separated parts of s.
func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
