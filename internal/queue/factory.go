package queue

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/store"
)

// DefaultCacheSize is how many queues a Factory keeps open.
const DefaultCacheSize = 1024

// SettingsFunc returns the settings for the named queue.
type SettingsFunc func(name string) Settings

// Factory resolves queue names to live queues sharing one store.
type Factory struct {
	store    store.Store
	settings SettingsFunc
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	queues map[string]Queue
	limit  int
}

// NewFactory creates a factory. A nil settings func gives every queue
// DefaultSettings.
func NewFactory(st store.Store, settings SettingsFunc, m *metrics.Metrics, logger *zap.Logger) *Factory {
	if settings == nil {
		settings = func(string) Settings { return DefaultSettings() }
	}
	return &Factory{
		store:    st,
		settings: settings,
		metrics:  m,
		logger:   logger,
		queues:   make(map[string]Queue),
		limit:    DefaultCacheSize,
	}
}

// Queue returns the queue called name, building it on first use. Once the
// cache is full, queues not already in it are built fresh on every call.
func (f *Factory) Queue(name string) (Queue, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if q, ok := f.queues[name]; ok {
		return q, nil
	}

	s := f.settings(name).withDefaults()
	var q Queue
	switch s.Engine {
	case EngineReliable:
		q = NewReliable(name, f.store, s, f.metrics, f.logger)
	case EngineBasic:
		q = NewBasic(name, f.store, s, f.metrics, f.logger)
	default:
		return nil, fmt.Errorf("queue %s: unknown engine %q", name, s.Engine)
	}

	if len(f.queues) >= f.limit {
		f.logger.Debug("queue cache full, not caching", zap.String("queue", name))
		return q, nil
	}
	f.logger.Info("queue opened",
		zap.String("queue", name),
		zap.String("engine", string(s.Engine)),
		zap.Duration("reserve_timeout", s.ReserveTimeout),
		zap.Duration("lease", s.LeaseDuration),
	)
	f.queues[name] = q
	return q, nil
}
