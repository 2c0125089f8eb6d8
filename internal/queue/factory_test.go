package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/store"
)

func newTestFactory(settings SettingsFunc) *Factory {
	return NewFactory(store.NewMemory(), settings, metrics.New(prometheus.NewRegistry()), zap.NewNop())
}

func TestFactoryDefaultsToReliable(t *testing.T) {
	f := newTestFactory(nil)

	q, err := f.Queue("emails")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := q.(*Reliable)
	if !ok {
		t.Fatalf("expected *Reliable, got %T", q)
	}
	if r.Name() != "emails" {
		t.Errorf("expected name 'emails', got '%s'", r.Name())
	}
	if r.settings.LeaseDuration != DefaultLease {
		t.Errorf("expected default lease %s, got %s", DefaultLease, r.settings.LeaseDuration)
	}
	if r.settings.ReserveTimeout != 0 {
		t.Errorf("expected non-blocking claims by default, got %s", r.settings.ReserveTimeout)
	}
}

func TestFactoryAppliesPerQueueSettings(t *testing.T) {
	f := newTestFactory(func(name string) Settings {
		s := DefaultSettings()
		if name == "sms" {
			s.Engine = EngineBasic
			s.ReserveTimeout = 5 * time.Second
			s.LeaseDuration = time.Minute
		}
		return s
	})

	q, err := f.Queue("sms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, ok := q.(*Basic)
	if !ok {
		t.Fatalf("expected *Basic, got %T", q)
	}
	if b.settings.ReserveTimeout != 5*time.Second {
		t.Errorf("expected reserve timeout 5s, got %s", b.settings.ReserveTimeout)
	}
	if b.settings.LeaseDuration != time.Minute {
		t.Errorf("expected lease 1m, got %s", b.settings.LeaseDuration)
	}

	other, _ := f.Queue("emails")
	if _, ok := other.(*Reliable); !ok {
		t.Errorf("expected other queues to keep the default engine, got %T", other)
	}
}

func TestFactoryReusesQueues(t *testing.T) {
	f := newTestFactory(nil)
	a, _ := f.Queue("emails")
	b, _ := f.Queue("emails")
	if a != b {
		t.Error("expected the same queue instance for the same name")
	}
}

func TestFactoryRejectsBadInput(t *testing.T) {
	f := newTestFactory(func(name string) Settings {
		s := DefaultSettings()
		s.Engine = "fancy"
		return s
	})

	if _, err := f.Queue(""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName for empty name, got %v", err)
	}
	if _, err := f.Queue("emails"); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestFactoryCacheIsBounded(t *testing.T) {
	f := newTestFactory(nil)
	f.limit = 2

	a, _ := f.Queue("a")
	f.Queue("b")
	c1, err := f.Queue("c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c2, _ := f.Queue("c")

	if len(f.queues) != 2 {
		t.Errorf("expected 2 cached queues, got %d", len(f.queues))
	}
	if again, _ := f.Queue("a"); again != a {
		t.Error("expected cached queue to be reused")
	}
	if c1 == c2 {
		t.Error("expected queue past the limit to be built fresh")
	}

	// Uncached instances share state through the store.
	ctx := context.Background()
	if _, err := c1.Create(ctx, json.RawMessage(`1`)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n, _ := c2.Count(ctx); n != 1 {
		t.Errorf("expected count 1 through the other instance, got %d", n)
	}
}
