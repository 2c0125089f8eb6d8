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

// Basic is a Queue that issues every step of creation and deletion as its
// own command.
//
// A crash between writing item data and appending its id in Create leaves
// data that is never queued and never reported. Use Reliable unless the
// store cannot run transactions.
type Basic struct {
	engine
}

var _ Queue = (*Basic)(nil)

// NewBasic creates a Basic queue named name.
func NewBasic(name string, st store.Store, s Settings, m *metrics.Metrics, logger *zap.Logger) *Basic {
	return &Basic{engine: newEngine(name, st, s, m, logger)}
}

// Create allocates an id, stores the item and appends the id.
func (q *Basic) Create(ctx context.Context, payload json.RawMessage) (int64, error) {
	id, err := q.store.Incr(ctx, q.keys.counter)
	if err != nil {
		return 0, fmt.Errorf("allocate id in %s: %w", q.name, err)
	}

	it := item.New(id, payload)
	data, err := it.Encode()
	if err != nil {
		return 0, err
	}

	set, err := q.store.HSetNX(ctx, q.keys.items, it.Key(), data)
	if err != nil {
		return 0, fmt.Errorf("store item %d: %w", id, err)
	}
	if !set {
		q.metrics.CreateFailures.WithLabelValues(q.name).Inc()
		return 0, fmt.Errorf("%w: %w: %d", ErrCreateFailed, ErrDuplicateID, id)
	}

	before, err := q.store.LLen(ctx, q.keys.available)
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", q.name, err)
	}
	after, err := q.store.RPush(ctx, q.keys.available, it.Key())
	if err != nil {
		return 0, fmt.Errorf("append item %d: %w", id, err)
	}
	if after <= before {
		// Concurrent claims can shrink the list between the two reads, so
		// this is only a hint. RPush itself succeeded.
		q.logger.Warn("available list did not grow on append",
			zap.Int64("item_id", id),
			zap.Int64("before", before),
			zap.Int64("after", after),
		)
	}

	q.metrics.ItemsCreated.WithLabelValues(q.name).Inc()
	return id, nil
}

// Delete removes the item from the claimed list and drops its data.
func (q *Basic) Delete(ctx context.Context, it *item.Item) error {
	if err := checkItem(it); err != nil {
		return err
	}
	id := it.Key()
	if _, err := q.store.LRem(ctx, q.keys.claimed, 0, id); err != nil {
		return fmt.Errorf("delete item %d: %w", it.ID, err)
	}
	removed, err := q.store.HDel(ctx, q.keys.items, id)
	if err != nil {
		return fmt.Errorf("delete item %d data: %w", it.ID, err)
	}
	if err := q.forget(ctx, id); err != nil {
		return fmt.Errorf("delete item %d: %w", it.ID, err)
	}
	if removed > 0 {
		q.metrics.ItemsDeleted.WithLabelValues(q.name).Inc()
	}
	return nil
}

// forget clears the grant and sighting of a deleted id.
func (q *Basic) forget(ctx context.Context, id string) error {
	if _, err := q.store.HDel(ctx, q.keys.grants, id); err != nil {
		return err
	}
	_, err := q.store.HDel(ctx, q.keys.sightings, id)
	return err
}
