package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"classattend/internal/cachesync"
	"classattend/internal/config"
	"classattend/internal/faceclient"
	"classattend/internal/queue"
	"classattend/internal/roster"
	"classattend/internal/scheduler"
	"classattend/internal/store"
)

// Worker runs the scheduled-job poll loop and the cache-sync worker pool.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" || cfg.Env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			logger.Warn("face service not available, jobs will retry on fire", zap.Error(err))
		} else {
			logger.Info("face service connected")
		}
	}

	dispatcher := cachesync.New(face, roster.NewRepository(db.Client), q, logger)
	runner := scheduler.NewRunner(scheduler.NewRepository(db.Client), face, cfg.SchedulerPollInterval, logger)

	msgs, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	var wg sync.WaitGroup

	// Cache-sync worker pool draining the queue. At-least-once: a crash after
	// BRPOP loses nothing the cache cannot heal from.
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Worker(ctx, msgs)
		}()
	}

	// Scheduled-job poll loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler runner stopped", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.Int("cache_workers", cfg.WorkerCount),
		zap.Duration("poll_interval", cfg.SchedulerPollInterval))

	wg.Wait()
	logger.Info("worker stopped")
}
