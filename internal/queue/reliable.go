package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/item"
	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/store"
)

// Reliable is a Queue that runs every multi-step mutation in one store
// transaction, so item data and list membership never disagree after a crash.
type Reliable struct {
	engine
}

var _ Queue = (*Reliable)(nil)

// NewReliable creates a Reliable queue named name.
func NewReliable(name string, st store.Store, s Settings, m *metrics.Metrics, logger *zap.Logger) *Reliable {
	return &Reliable{engine: newEngine(name, st, s, m, logger)}
}

// Create allocates an id, then stores the item and appends its id in one
// transaction. Success is judged from the transaction's own results.
func (q *Reliable) Create(ctx context.Context, payload json.RawMessage) (int64, error) {
	id, err := q.store.Incr(ctx, q.keys.counter)
	if err != nil {
		return 0, fmt.Errorf("allocate id in %s: %w", q.name, err)
	}

	it := item.New(id, payload)
	data, err := it.Encode()
	if err != nil {
		return 0, err
	}

	var (
		set    store.BoolResult
		before store.IntResult
		after  store.IntResult
	)
	err = q.store.Atomic(ctx, func(tx store.Tx) error {
		set = tx.HSetNX(q.keys.items, it.Key(), data)
		before = tx.LLen(q.keys.available)
		after = tx.RPush(q.keys.available, it.Key())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("create item %d: %w", id, err)
	}

	switch {
	case !set.Val():
		q.metrics.CreateFailures.WithLabelValues(q.name).Inc()
		return 0, fmt.Errorf("%w: %w: %d", ErrCreateFailed, ErrDuplicateID, id)
	case after.Val() <= before.Val():
		q.metrics.CreateFailures.WithLabelValues(q.name).Inc()
		return 0, fmt.Errorf("%w: %w: %d", ErrCreateFailed, ErrAppendUnconfirmed, id)
	}

	q.metrics.ItemsCreated.WithLabelValues(q.name).Inc()
	return id, nil
}

// Delete removes the item from the claimed list and drops its data in one
// transaction.
func (q *Reliable) Delete(ctx context.Context, it *item.Item) error {
	if err := checkItem(it); err != nil {
		return err
	}
	id := it.Key()
	var removed store.IntResult
	err := q.store.Atomic(ctx, func(tx store.Tx) error {
		tx.LRem(q.keys.claimed, 0, id)
		removed = tx.HDel(q.keys.items, id)
		tx.HDel(q.keys.grants, id)
		tx.HDel(q.keys.sightings, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete item %d: %w", it.ID, err)
	}
	if removed.Val() > 0 {
		q.metrics.ItemsDeleted.WithLabelValues(q.name).Inc()
	}
	return nil
}
