// Package config loads runtime configuration from the environment with the
// VOUCHER_ prefix, e.g. VOUCHER_REDIS_ADDR.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	MySQLDSN  string `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/voucher_rush?parseTime=true"`
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	RedisPoolSize   int           `envconfig:"REDIS_POOL_SIZE" default:"100"`
	MySQLMaxOpen    int           `envconfig:"MYSQL_MAX_OPEN" default:"50"`
	MySQLMaxIdle    int           `envconfig:"MYSQL_MAX_IDLE" default:"25"`
	MySQLConnMaxAge time.Duration `envconfig:"MYSQL_CONN_MAX_AGE" default:"5m"`

	// Order pipeline. The queue is sized to absorb bursts; a full queue
	// blocks producers, which is the deliberate backpressure point.
	OrderQueueSize int           `envconfig:"ORDER_QUEUE_SIZE" default:"1048576"`
	OrderLockLease time.Duration `envconfig:"ORDER_LOCK_LEASE" default:"10s"`
	PersistTimeout time.Duration `envconfig:"PERSIST_TIMEOUT" default:"5s"`

	// Cache layer.
	ShopCacheTTL       time.Duration `envconfig:"SHOP_CACHE_TTL" default:"30m"`
	ShopLogicalWindow  time.Duration `envconfig:"SHOP_LOGICAL_WINDOW" default:"20s"`
	CacheNegativeTTL   time.Duration `envconfig:"CACHE_NEGATIVE_TTL" default:"2m"`
	CacheLockTTL       time.Duration `envconfig:"CACHE_LOCK_TTL" default:"10s"`
	CacheRetryInterval time.Duration `envconfig:"CACHE_RETRY_INTERVAL" default:"50ms"`
	CacheMaxRetries    int           `envconfig:"CACHE_MAX_RETRIES" default:"20"`
	RebuildWorkers     int           `envconfig:"REBUILD_WORKERS" default:"10"`
	RebuildQueue       int           `envconfig:"REBUILD_QUEUE" default:"64"`

	// Membership pre-filter.
	BloomCapacity uint    `envconfig:"BLOOM_CAPACITY" default:"1000000"`
	BloomFPRate   float64 `envconfig:"BLOOM_FP_RATE" default:"0.01"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("voucher", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
