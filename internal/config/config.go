// Package config loads simulator configuration from flags and
// environment variables, adapted from the teacher's flag+env pattern and
// enriched with godotenv so a local .env file can seed the environment
// before flags are parsed.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the composition root needs.
type Config struct {
	// Server
	HTTPAddr string

	// Simulation
	Seed                 int64
	TickInterval         time.Duration
	NewsInterval         time.Duration
	RegimeRotateInterval time.Duration
	DatasetPath          string

	// Matching
	DropResidualMarketOrders bool
	MaxRegistrySize          int

	// Subscribers. Parsed but not passed to the engine: subscriber
	// channels always have a capacity of 100.
	SubscriberQueueCapacity int

	// Durable storage
	MongoURI string
	RedisURL string

	// ClickHouse analytics
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string

	// Risk gateway
	RiskBaseURL string
	RiskTimeout time.Duration

	// S3 trade archival (opt-in: only active when S3Bucket is set)
	S3Bucket         string
	S3Region         string
	S3Prefix         string
	ArchiveInterval  time.Duration
	ArchiveOlderThan time.Duration
}

// Load parses flags, falling back to environment variables and then
// defaults, after loading a local .env file if one is present.
func Load() *Config {
	_ = godotenv.Load()

	c := &Config{}

	flag.StringVar(&c.HTTPAddr, "http-addr", envStr("HTTP_ADDR", ":8100"), "HTTP/WS listen address")

	flag.Int64Var(&c.Seed, "seed", envInt64("MARKETSIM_SEED", 0), "PRNG seed (0 = random)")
	flag.DurationVar(&c.TickInterval, "tick-interval", envDuration("TICK_INTERVAL", time.Second), "Price tick interval")
	flag.DurationVar(&c.NewsInterval, "news-interval", envDuration("NEWS_INTERVAL", 45*time.Second), "News generation interval")
	flag.DurationVar(&c.RegimeRotateInterval, "regime-interval", envDuration("REGIME_INTERVAL", 5*time.Minute), "Regime rotation interval")
	flag.StringVar(&c.DatasetPath, "dataset", envStr("DATASET_PATH", "dataset/companies.json"), "Path to instrument dataset JSON")

	flag.BoolVar(&c.DropResidualMarketOrders, "drop-residual-market-orders", envBool("DROP_RESIDUAL_MARKET_ORDERS", false), "Cancel, rather than rest, an unfilled market order's residual")
	flag.IntVar(&c.MaxRegistrySize, "max-registry-size", envInt("MAX_REGISTRY_SIZE", 0), "Opportunistically prune FILLED orders once the registry exceeds this size (0 = unbounded)")

	flag.IntVar(&c.SubscriberQueueCapacity, "subscriber-queue-capacity", envInt("SUBSCRIBER_QUEUE_CAPACITY", 100), "Per-subscriber event channel capacity (not applied; the engine uses a fixed capacity of 100)")

	flag.StringVar(&c.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/marketsim"), "MongoDB connection URI")
	flag.StringVar(&c.RedisURL, "redis-url", envStr("REDIS_URL", ""), "Redis connection URL (empty = cache disabled)")

	flag.StringVar(&c.ClickHouseHost, "clickhouse-host", envStr("CLICKHOUSE_HOST", ""), "ClickHouse host (empty = analytics disabled)")
	flag.IntVar(&c.ClickHousePort, "clickhouse-port", envInt("CLICKHOUSE_PORT", 9000), "ClickHouse native port")
	flag.StringVar(&c.ClickHouseUser, "clickhouse-user", envStr("CLICKHOUSE_USER", "default"), "ClickHouse username")
	flag.StringVar(&c.ClickHousePassword, "clickhouse-password", envStr("CLICKHOUSE_PASSWORD", ""), "ClickHouse password")
	flag.StringVar(&c.ClickHouseDatabase, "clickhouse-database", envStr("CLICKHOUSE_DATABASE", "default"), "ClickHouse database")

	flag.StringVar(&c.RiskBaseURL, "risk-base-url", envStr("RISK_BASE_URL", ""), "Risk service base URL (empty = risk checks disabled)")
	flag.DurationVar(&c.RiskTimeout, "risk-timeout", envDuration("RISK_TIMEOUT", 5*time.Second), "Risk service HTTP timeout")

	flag.StringVar(&c.S3Bucket, "s3-bucket", envStr("S3_BUCKET", ""), "S3 bucket for trade archival (empty = disabled)")
	flag.StringVar(&c.S3Region, "s3-region", envStr("S3_REGION", "us-east-1"), "AWS region for S3")
	flag.StringVar(&c.S3Prefix, "s3-prefix", envStr("S3_PREFIX", "marketsim"), "S3 key prefix for archived trades")
	flag.DurationVar(&c.ArchiveInterval, "archive-interval", envDuration("ARCHIVE_INTERVAL", 6*time.Hour), "Interval between archive runs")
	flag.DurationVar(&c.ArchiveOlderThan, "archive-older-than", envDuration("ARCHIVE_OLDER_THAN", 24*time.Hour), "Archive trades older than this")

	flag.Parse()

	return c
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
