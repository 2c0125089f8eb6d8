// Command api serves the queue operations over HTTP.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/config"
	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/queue"
	"github.com/leejennwah/reliable-queue/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connection pool sized for concurrent request handling.
	opts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatal("redis options", zap.Error(err))
	}
	opts.PoolSize = 100
	opts.MinIdleConns = 20
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	queues := queue.NewFactory(store.NewRedis(rdb), cfg.Queue.Settings(), m, logger)

	srv := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      newHandler(queues, logger).routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.APIWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api server starting", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
}
