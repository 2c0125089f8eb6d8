package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/store"
)

// collect returns every claimed id whose lease marker is gone to the
// available list. Its cost grows with the number of claimed items, which is
// bounded by the number of active workers rather than the queue depth.
//
// Recovery of an abandoned item takes at most one lease plus the time until
// the next claim on the queue.
//
// Each reclaim is guarded by what the collector read: the grant token, or
// the absent grant and the first sighting. If another collector or claimer
// touched the item in between, the guard fails and the item is left alone.
func (e *engine) collect(ctx context.Context) (int, error) {
	claimed, err := e.store.LRange(ctx, e.keys.claimed, 0, -1)
	if err != nil {
		return 0, fmt.Errorf("scan claimed items of %s: %w", e.name, err)
	}

	reclaimed := 0
	seen := make(map[string]struct{}, len(claimed))
	for _, id := range claimed {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		// The grant must be read before the lease: a claim writes the lease
		// first, so a grant seen here means any missing lease has expired.
		grant, granted, err := e.store.HGet(ctx, e.keys.grants, id)
		if err != nil {
			return reclaimed, fmt.Errorf("check grant on item %s: %w", id, err)
		}
		leased, err := e.store.Exists(ctx, e.keys.lease(id))
		if err != nil {
			return reclaimed, fmt.Errorf("check lease on item %s: %w", id, err)
		}
		if leased {
			continue
		}

		reason := "lease expired"
		guards := []store.Guard{{Key: e.keys.grants, Field: id, Value: grant}}
		if !granted {
			sighting, overdue, err := e.overdue(ctx, id)
			if err != nil {
				return reclaimed, err
			}
			if !overdue {
				continue
			}
			reason = "claim never completed"
			guards = append(guards, store.Guard{Key: e.keys.sightings, Field: id, Value: sighting})
		}

		moved, err := e.requeue(ctx, id, guards...)
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim item %s: %w", id, err)
		}
		if !moved {
			// Another collector or a late release got there first.
			continue
		}
		reclaimed++
		e.metrics.ItemsReclaimed.WithLabelValues(e.name).Inc()
		e.logger.Info("reclaimed item", zap.String("item_id", id), zap.String("reason", reason))
	}
	return reclaimed, nil
}

// overdue records the first time an ungranted id is seen and reports whether
// ClaimGrace has passed since then, along with the recorded sighting.
func (e *engine) overdue(ctx context.Context, id string) (string, bool, error) {
	now := e.now()
	first, err := e.store.HSetNX(ctx, e.keys.sightings, id, strconv.FormatInt(now.Unix(), 10))
	if err != nil {
		return "", false, fmt.Errorf("record sighting of item %s: %w", id, err)
	}
	if first {
		return "", false, nil
	}

	v, ok, err := e.store.HGet(ctx, e.keys.sightings, id)
	if err != nil {
		return "", false, fmt.Errorf("read sighting of item %s: %w", id, err)
	}
	if !ok {
		// Cleared by a concurrent requeue.
		return "", false, nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return v, true, nil
	}
	return v, now.Sub(time.Unix(sec, 0)) >= e.settings.ClaimGrace, nil
}
