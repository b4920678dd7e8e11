package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"relay/api/internal/app"
	"relay/api/internal/config"
	"relay/api/internal/dlock"
	"relay/api/internal/docstore"
	"relay/api/internal/event"
	"relay/api/internal/presence"
	"relay/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		sugar.Fatalw("database connection failed", "err", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		sugar.Fatalw("migrations failed", "err", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		sugar.Fatalw("invalid redis url", "err", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		sugar.Fatalw("redis connection failed", "err", err)
	}

	docs, err := docstore.Connect(ctx, cfg.MongoURL, cfg.MongoDatabase, sugar)
	if err != nil {
		sugar.Fatalw("mongo connection failed", "err", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := docs.Close(closeCtx); err != nil {
			sugar.Warnw("mongo close failed", "err", err)
		}
	}()
	if err := docs.EnsureIndexes(ctx); err != nil {
		sugar.Fatalw("mongo index setup failed", "err", err)
	}

	dataStore := store.NewPostgresStore(db, sugar)
	locker := dlock.NewLocker(dlock.NewClient(rdb), sugar, cfg.LockTTL, cfg.LockWait)
	tracker := presence.NewTracker(rdb, cfg.PresenceTTL)
	bus := event.NewBus()

	service := app.New(sugar, dataStore, dataStore, docs, locker, tracker, bus)
	service.ConfigureRetries(cfg.RetryAttempts, cfg.RetryBaseDelay)

	sugar.Infow("relay api ready",
		"lock_ttl", cfg.LockTTL, "lock_wait", cfg.LockWait, "retry_attempts", cfg.RetryAttempts)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	sugar.Infow("shutting down")
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(parsed)
	return zcfg.Build()
}
