package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/item"
	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/store"
)

// engine holds what the Basic and Reliable queues share: the key layout,
// claim, lease handling and teardown. The two differ only in how they
// perform multi-step mutations.
type engine struct {
	name     string
	keys     keys
	store    store.Store
	settings Settings
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func newEngine(name string, st store.Store, s Settings, m *metrics.Metrics, logger *zap.Logger) engine {
	s = s.withDefaults()
	return engine{
		name:     name,
		keys:     newKeys(s.KeyPrefix, name),
		store:    st,
		settings: s,
		metrics:  m,
		logger:   logger.With(zap.String("queue", name)),
		now:      time.Now,
	}
}

// Name returns the queue name.
func (e *engine) Name() string { return e.name }

// Claim collects expired leases and then claims the oldest available item.
func (e *engine) Claim(ctx context.Context, lease time.Duration) (*item.Item, error) {
	if lease <= 0 {
		lease = e.settings.LeaseDuration
	}

	if _, err := e.collect(ctx); err != nil {
		return nil, err
	}

	id, ok, err := e.store.Move(ctx, e.keys.available, e.keys.claimed, e.settings.ReserveTimeout)
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", e.name, err)
	}
	if !ok {
		e.metrics.EmptyClaims.WithLabelValues(e.name).Inc()
		return nil, nil
	}

	data, ok, err := e.store.HGet(ctx, e.keys.items, id)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", id, err)
	}
	if !ok {
		// The data is gone for good, so the id is dropped instead of being
		// left for the collector to cycle back into the available list.
		e.metrics.MissingItems.WithLabelValues(e.name).Inc()
		e.logger.Warn("claimed item has no data, dropping it", zap.String("item_id", id))
		e.drop(ctx, id)
		return nil, nil
	}

	// The token identifies this claim, so a collector acting on an older
	// view of the item can tell it apart from a newer claim.
	token := uuid.NewString()
	if err := e.store.SetEX(ctx, e.keys.lease(id), token, lease); err != nil {
		return nil, fmt.Errorf("grant lease on item %s: %w", id, err)
	}
	if _, err := e.store.HSetNX(ctx, e.keys.grants, id, token); err != nil {
		return nil, fmt.Errorf("record grant on item %s: %w", id, err)
	}

	it, err := item.Decode(data)
	if err != nil {
		// The lease stays so a poisoned item comes back once per lease
		// instead of on every claim.
		return nil, fmt.Errorf("decode item %s: %w", id, err)
	}

	e.metrics.ItemsClaimed.WithLabelValues(e.name).Inc()
	return it, nil
}

// Release moves the item from the claimed list to the tail of the available
// list. Releasing an item that is no longer claimed does nothing.
func (e *engine) Release(ctx context.Context, it *item.Item) error {
	if err := checkItem(it); err != nil {
		return err
	}
	moved, err := e.requeue(ctx, it.Key())
	if err != nil {
		return fmt.Errorf("release item %d: %w", it.ID, err)
	}
	if moved {
		e.metrics.ItemsReleased.WithLabelValues(e.name).Inc()
	}
	return nil
}

// requeue moves id from the claimed list back to the available list and
// clears its grant and sighting in one store step, provided every guard
// holds. It reports false if id was no longer claimed or a guard failed.
func (e *engine) requeue(ctx context.Context, id string, guards ...store.Guard) (bool, error) {
	return e.store.MoveValue(ctx, e.keys.claimed, e.keys.available, id, guards,
		[]string{e.keys.grants, e.keys.sightings})
}

// drop forgets a claimed id whose data is gone. Failures are only logged;
// the collector will eventually cycle the id through claim again.
func (e *engine) drop(ctx context.Context, id string) {
	if _, err := e.store.LRem(ctx, e.keys.claimed, -1, id); err != nil {
		e.logger.Error("drop claimed item without data", zap.String("item_id", id), zap.Error(err))
		return
	}
	if _, err := e.store.HDel(ctx, e.keys.sightings, id); err != nil {
		e.logger.Error("clear sighting of dropped item", zap.String("item_id", id), zap.Error(err))
	}
}

// ExtendLease refreshes the lease marker of a claimed item.
func (e *engine) ExtendLease(ctx context.Context, it *item.Item, lease time.Duration) error {
	if err := checkItem(it); err != nil {
		return err
	}
	if lease <= 0 {
		lease = e.settings.LeaseDuration
	}
	ok, err := e.store.Expire(ctx, e.keys.lease(it.Key()), lease)
	if err != nil {
		return fmt.Errorf("extend lease on item %d: %w", it.ID, err)
	}
	if !ok {
		return fmt.Errorf("extend lease on item %d: %w", it.ID, ErrLeaseLost)
	}
	return nil
}

// Count returns the combined length of the available and claimed lists,
// read in one transaction so an item moving between them is counted once.
func (e *engine) Count(ctx context.Context) (int64, error) {
	var available, claimed store.IntResult
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		available = tx.LLen(e.keys.available)
		claimed = tx.LLen(e.keys.claimed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", e.name, err)
	}
	return available.Val() + claimed.Val(), nil
}

// DeleteQueue removes the lists, item store, counter and every lease marker.
func (e *engine) DeleteQueue(ctx context.Context) error {
	found, err := e.store.Keys(ctx, e.keys.pattern())
	if err != nil {
		return fmt.Errorf("list keys of %s: %w", e.name, err)
	}
	if _, err := e.store.Del(ctx, found...); err != nil {
		return fmt.Errorf("delete queue %s: %w", e.name, err)
	}
	e.logger.Info("queue deleted", zap.Int("keys", len(found)))
	return nil
}

// checkItem guards operations that need an item handed out by Claim.
func checkItem(it *item.Item) error {
	if it == nil {
		return errors.New("nil item")
	}
	if it.ID <= 0 {
		return fmt.Errorf("invalid item id %d", it.ID)
	}
	return nil
}
