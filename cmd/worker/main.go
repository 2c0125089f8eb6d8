// Command worker runs claim loops for the queues listed in WORKER_QUEUES.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/config"
	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/queue"
	"github.com/leejennwah/reliable-queue/internal/store"
	"github.com/leejennwah/reliable-queue/internal/worker"
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

	opts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatal("redis options", zap.Error(err))
	}
	opts.PoolSize = 50
	opts.MinIdleConns = 10
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	settings := cfg.Queue.Settings()
	queues := queue.NewFactory(store.NewRedis(rdb), settings, m, logger)

	// Expose metrics endpoint for Prometheus scraping.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for _, name := range cfg.Worker.Queues {
		q, err := queues.Queue(name)
		if err != nil {
			logger.Fatal("open queue", zap.String("queue", name), zap.Error(err))
		}
		wcfg := worker.DefaultConfig()
		wcfg.Concurrency = cfg.Worker.Concurrency
		wcfg.Lease = settings(name).LeaseDuration

		r := worker.New(q, handlerFor(name, logger), m, logger, wcfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				logger.Error("worker error", zap.String("queue", name), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
