// Package worker implements the claim loop that feeds queue items to
// handlers, with lease heartbeats and queue depth reporting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/item"
	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/queue"
	"github.com/leejennwah/reliable-queue/internal/retry"
)

var tracer = otel.Tracer("reliable-queue/worker")

// Handler processes one item. Returning nil deletes the item; returning an
// error releases it to the tail of the queue.
type Handler func(ctx context.Context, it *item.Item) error

// Config holds runner configuration.
type Config struct {
	// Concurrency is the number of claim loops.
	Concurrency int
	// Lease is requested on every claim and on every heartbeat. Zero uses
	// the queue default.
	Lease time.Duration
	// Heartbeat is the interval between lease extensions. Zero means half
	// of Lease.
	Heartbeat time.Duration
	// MetricInterval is how often queue depth is published.
	MetricInterval time.Duration
	// Backoff paces empty claims and retries of failed acknowledgements.
	Backoff *retry.Policy
}

// DefaultConfig returns sensible runner defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		Lease:          queue.DefaultLease,
		MetricInterval: 5 * time.Second,
		Backoff:        retry.DefaultPolicy(),
	}
}

// Runner pulls items from one queue and dispatches them to a handler.
type Runner struct {
	workerID string
	queue    queue.Queue
	handler  Handler
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
}

// New creates a runner for q.
func New(q queue.Queue, h Handler, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Runner {
	d := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	if cfg.Lease <= 0 {
		cfg.Lease = d.Lease
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = cfg.Lease / 2
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = d.MetricInterval
	}
	if cfg.Backoff == nil {
		cfg.Backoff = d.Backoff
	}
	id := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	return &Runner{
		workerID: id,
		queue:    q,
		handler:  h,
		metrics:  m,
		logger: logger.With(
			zap.String("worker_id", id),
			zap.String("queue", q.Name()),
		),
		cfg: cfg,
	}
}

// ID returns the worker id used in logs and metrics.
func (r *Runner) ID() string { return r.workerID }

// Run starts the claim loops. It blocks until ctx is cancelled and every
// in-flight item has been acknowledged.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("worker started", zap.Int("concurrency", r.cfg.Concurrency))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.updateMetrics(ctx)
	}()
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx)
		}()
	}
	wg.Wait()

	r.logger.Info("worker shutting down")
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	idle := 0
	for ctx.Err() == nil {
		it, err := r.queue.Claim(ctx, r.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("claim failed", zap.Error(err))
		}
		if it == nil {
			idle++
			sleep(ctx, r.cfg.Backoff.NextDelay(idle))
			continue
		}
		idle = 0
		r.process(ctx, it)
	}
}

// process runs the handler under a heartbeat and acknowledges the outcome.
func (r *Runner) process(ctx context.Context, it *item.Item) {
	ctx, span := tracer.Start(ctx, "queue.deliver",
		trace.WithAttributes(
			attribute.String("queue.name", r.queue.Name()),
			attribute.Int64("item.id", it.ID),
		),
	)
	defer span.End()

	// Loops share the worker label, so the gauge counts busy loops.
	busy := r.metrics.WorkerBusy.WithLabelValues(r.workerID)
	busy.Inc()
	defer busy.Dec()

	hbCtx, stop := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		r.heartbeat(hbCtx, it)
	}()

	start := time.Now()
	err := r.handler(ctx, it)
	stop()
	hb.Wait()

	// Acknowledge even when shutting down so the item is not left to expire.
	ackCtx := context.WithoutCancel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.HandlerLatency.WithLabelValues(r.queue.Name(), "failure").Observe(time.Since(start).Seconds())
		r.logger.Warn("handler failed, releasing item", zap.Int64("item_id", it.ID), zap.Error(err))
		r.acknowledge(ackCtx, "release", it, r.queue.Release)
		return
	}

	r.metrics.HandlerLatency.WithLabelValues(r.queue.Name(), "success").Observe(time.Since(start).Seconds())
	r.logger.Debug("item completed", zap.Int64("item_id", it.ID))
	r.acknowledge(ackCtx, "delete", it, r.queue.Delete)
}

// acknowledge retries op per the backoff policy. If every attempt fails the
// item is left to its lease and comes back through the collector.
func (r *Runner) acknowledge(ctx context.Context, verb string, it *item.Item, op func(context.Context, *item.Item) error) {
	for attempt := 0; ; attempt++ {
		err := op(ctx, it)
		if err == nil {
			return
		}
		if !r.cfg.Backoff.ShouldRetry(attempt) {
			r.logger.Error(verb+" failed, leaving item to expire",
				zap.Int64("item_id", it.ID),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return
		}
		sleep(ctx, r.cfg.Backoff.NextDelay(attempt+1))
	}
}

// heartbeat extends the lease until ctx is cancelled or the lease is lost.
func (r *Runner) heartbeat(ctx context.Context, it *item.Item) {
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.queue.ExtendLease(ctx, it, r.cfg.Lease)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLeaseLost):
				r.logger.Warn("lease lost during processing", zap.Int64("item_id", it.ID))
				return
			case ctx.Err() != nil:
				return
			default:
				r.logger.Error("extend lease failed", zap.Int64("item_id", it.ID), zap.Error(err))
			}
		}
	}
}

// updateMetrics periodically publishes the queue depth.
func (r *Runner) updateMetrics(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.MetricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.queue.Count(ctx)
			if err == nil {
				r.metrics.QueueDepth.WithLabelValues(r.queue.Name()).Set(float64(n))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
