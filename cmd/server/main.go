package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hieudt/voucher-rush/internal/adapter/handler"
	"github.com/hieudt/voucher-rush/internal/adapter/storage"
	"github.com/hieudt/voucher-rush/internal/cache"
	"github.com/hieudt/voucher-rush/internal/config"
	"github.com/hieudt/voucher-rush/internal/core/service"
	"github.com/hieudt/voucher-rush/internal/idgen"
	"github.com/hieudt/voucher-rush/internal/lock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Info().Msg("starting voucher-rush")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpen)
	db.SetMaxIdleConns(cfg.MySQLMaxIdle)
	db.SetConnMaxLifetime(cfg.MySQLConnMaxAge)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)

	// Membership pre-filter, built once before serving traffic.
	membership := cache.NewMembership(cfg.BloomCapacity, cfg.BloomFPRate)
	if err := cache.WarmMembership(ctx, membership, mysqlAdapter.ListShopIDs); err != nil {
		log.Fatal().Err(err).Msg("failed to warm membership filter")
	}

	cacheClient := cache.New(rdb, membership, cache.Config{
		NegativeTTL:    cfg.CacheNegativeTTL,
		LockTTL:        cfg.CacheLockTTL,
		RetryInterval:  cfg.CacheRetryInterval,
		MaxRetries:     cfg.CacheMaxRetries,
		RebuildWorkers: cfg.RebuildWorkers,
		RebuildQueue:   cfg.RebuildQueue,
		RebuildTimeout: cfg.PersistTimeout,
	})

	// Seed redis stock counters from the durable store.
	stock, err := mysqlAdapter.ListVoucherStock(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list voucher stock")
	}
	for voucherID, remaining := range stock {
		if err := redisAdapter.SeedStock(ctx, voucherID, remaining); err != nil {
			log.Fatal().Err(err).Int64("voucher_id", voucherID).Msg("failed to seed stock")
		}
	}
	log.Info().Int("vouchers", len(stock)).Msg("seeded voucher stock")

	// Order pipeline
	ids := idgen.New(rdb)
	lockFactory := func(name string) service.Locker { return lock.NewMutex(rdb, name) }
	orderService := service.NewOrderService(redisAdapter, mysqlAdapter, ids, lockFactory, service.OrderServiceOptions{
		QueueSize:      cfg.OrderQueueSize,
		LockLease:      cfg.OrderLockLease,
		PersistTimeout: cfg.PersistTimeout,
	})
	orderService.Start()
	log.Info().Int("queue_size", cfg.OrderQueueSize).Msg("order worker started")

	shopService := service.NewShopService(cacheClient, mysqlAdapter, cfg.ShopCacheTTL, cfg.ShopLogicalWindow)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, shopService)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/voucher/seckill", httpHandler.Seckill)
	mux.HandleFunc("/api/shop", httpHandler.GetShop)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("HTTP server stopped")

	// Drain the order queue, then the rebuild pool.
	orderService.Close()
	orderService.Wait()
	log.Info().Msg("order worker stopped")

	cacheClient.Close()
	log.Info().Msg("cache rebuild pool stopped")

	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}
