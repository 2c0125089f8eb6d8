package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/item"
	"github.com/leejennwah/reliable-queue/internal/worker"
)

// handlerFor picks the handler for a queue by name. Unknown queues get the
// default handler.
func handlerFor(name string, logger *zap.Logger) worker.Handler {
	logger = logger.With(zap.String("queue", name))
	switch name {
	case "compute":
		return computeHandler(logger)
	case "flaky":
		return flakyHandler(logger)
	default:
		return defaultHandler(logger)
	}
}

// defaultHandler simulates a generic task with random duration.
func defaultHandler(logger *zap.Logger) worker.Handler {
	return func(ctx context.Context, it *item.Item) error {
		logger.Info("processing item", zap.Int64("item_id", it.ID))
		// Simulate work with 1-50ms latency.
		time.Sleep(time.Duration(1+rand.Intn(50)) * time.Millisecond)
		return nil
	}
}

// computeHandler simulates a CPU-bound task sized by the payload.
func computeHandler(logger *zap.Logger) worker.Handler {
	return func(ctx context.Context, it *item.Item) error {
		var payload struct {
			Iterations int `json:"iterations"`
		}
		if err := json.Unmarshal(it.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if payload.Iterations <= 0 {
			payload.Iterations = 1000
		}

		result := 0.0
		for i := 0; i < payload.Iterations; i++ {
			result += float64(i) * 0.001
		}
		logger.Info("computed item",
			zap.Int64("item_id", it.ID),
			zap.Int("iterations", payload.Iterations),
			zap.Float64("result", result),
		)
		return nil
	}
}

// flakyHandler fails a failure_rate share (0.0-1.0) of deliveries. Failed
// items are released and come back at the tail of the queue, so every item
// is eventually processed.
func flakyHandler(logger *zap.Logger) worker.Handler {
	return func(ctx context.Context, it *item.Item) error {
		var payload struct {
			FailureRate float64 `json:"failure_rate"`
		}
		if err := json.Unmarshal(it.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		if payload.FailureRate <= 0 {
			payload.FailureRate = 0.5
		}

		time.Sleep(time.Duration(1+rand.Intn(5)) * time.Millisecond)

		if rand.Float64() < payload.FailureRate {
			return fmt.Errorf("simulated transient failure on item %d", it.ID)
		}
		logger.Info("flaky item succeeded", zap.Int64("item_id", it.ID))
		return nil
	}
}
