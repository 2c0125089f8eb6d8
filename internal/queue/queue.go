// Package queue implements a reliable work queue on top of the primitives in
// package store.
//
// Every queue keeps these structures in the store:
//
//	<prefix>:{<name>}:available   list of ids waiting to be claimed (FIFO)
//	<prefix>:{<name>}:claimed     list of ids owned by some worker
//	<prefix>:{<name>}:items       hash of id -> stored item
//	<prefix>:{<name>}:counter     id allocator
//	<prefix>:{<name>}:lease:<id>  lease marker, expires with the lease
//	<prefix>:{<name>}:grants      ids whose current claim wrote its lease
//	<prefix>:{<name>}:sightings   first time the collector saw an ungranted id
//
// The braces form a Redis Cluster hash tag so every key of a queue lands on
// the same slot and can take part in one transaction.
//
// A claimed id whose lease marker is gone is returned to the available list
// by the garbage collector, which runs at the start of every claim. There is
// no background sweeper: an abandoned item comes back after its lease expires
// and someone calls Claim.
//
// A claim moves the id first and writes its lease second, so for a moment a
// live claim looks exactly like a worker that crashed before writing the
// lease. The grants hash tells the two apart: an id with a grant and no lease
// has expired and is reclaimed at once, while an id that was never granted is
// reclaimed only once ClaimGrace has passed since the collector first saw it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/leejennwah/reliable-queue/internal/item"
)

// DefaultLease is the lease granted when Claim is called without one.
const DefaultLease = 30 * time.Second

// DefaultClaimGrace is how long a claimed id may go without a lease before
// the collector treats its claimer as dead.
const DefaultClaimGrace = 10 * time.Second

// DefaultKeyPrefix prefixes every key the queue writes.
const DefaultKeyPrefix = "rq"

// MaxNameLen is the longest accepted queue name.
const MaxNameLen = 128

var nameChars = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

var (
	// ErrCreateFailed is returned when an item could not be created. It wraps
	// the specific cause.
	ErrCreateFailed = errors.New("create item failed")

	// ErrDuplicateID means the allocated id already had stored data.
	ErrDuplicateID = errors.New("item id already exists")

	// ErrAppendUnconfirmed means the available list did not grow when the id
	// was appended.
	ErrAppendUnconfirmed = errors.New("append to available list not confirmed")

	// ErrLeaseLost is returned by ExtendLease when the lease marker is gone.
	// The item may already have been handed to another worker.
	ErrLeaseLost = errors.New("lease lost")

	// ErrInvalidName is returned for queue names that cannot be used as a key.
	ErrInvalidName = errors.New("invalid queue name")
)

// Queue is a named reliable work queue shared by producers and workers.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Create stores payload and appends it to the queue, returning its id.
	Create(ctx context.Context, payload json.RawMessage) (int64, error)

	// Claim hands out the oldest available item under a lease. A
	// non-positive lease uses the queue default. It returns nil without
	// error when nothing is available, possibly after waiting up to the
	// configured reserve timeout.
	Claim(ctx context.Context, lease time.Duration) (*item.Item, error)

	// Release gives a claimed item back; it is redelivered after every item
	// currently available.
	Release(ctx context.Context, it *item.Item) error

	// Delete acknowledges a claimed item as done and removes its data.
	// Deleting twice is a no-op.
	Delete(ctx context.Context, it *item.Item) error

	// ExtendLease pushes out the lease on a claimed item.
	ExtendLease(ctx context.Context, it *item.Item, lease time.Duration) error

	// Count returns the number of available plus claimed items.
	Count(ctx context.Context) (int64, error)

	// DeleteQueue removes every key of the queue. It must not run while
	// workers are active.
	DeleteQueue(ctx context.Context) error
}

// Engine selects the queue implementation.
type Engine string

const (
	// EngineReliable wraps every multi-step mutation in a transaction.
	EngineReliable Engine = "reliable"
	// EngineBasic issues each step as its own command. A crash during
	// Create can leave item data that is never queued.
	EngineBasic Engine = "basic"
)

// Settings configure a single queue.
type Settings struct {
	// ReserveTimeout is how long Claim waits for an item. Zero polls.
	ReserveTimeout time.Duration
	// LeaseDuration is the lease used when Claim gets a non-positive lease.
	LeaseDuration time.Duration
	// ClaimGrace bounds how long a claim may take to write its lease.
	ClaimGrace time.Duration
	// Engine selects the implementation.
	Engine Engine
	// KeyPrefix is prepended to every key.
	KeyPrefix string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		LeaseDuration: DefaultLease,
		ClaimGrace:    DefaultClaimGrace,
		Engine:        EngineReliable,
		KeyPrefix:     DefaultKeyPrefix,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.LeaseDuration <= 0 {
		s.LeaseDuration = d.LeaseDuration
	}
	if s.ClaimGrace <= 0 {
		s.ClaimGrace = d.ClaimGrace
	}
	if s.Engine == "" {
		s.Engine = d.Engine
	}
	if s.KeyPrefix == "" {
		s.KeyPrefix = d.KeyPrefix
	}
	if s.ReserveTimeout < 0 {
		s.ReserveTimeout = 0
	}
	return s
}

// ValidateName reports whether name can be used as a queue name. Names are
// at most MaxNameLen bytes of letters, digits and the characters . _ : -.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLen)
	}
	if !nameChars.MatchString(name) {
		return fmt.Errorf("%w: %q has characters outside [A-Za-z0-9._:-]", ErrInvalidName, name)
	}
	return nil
}

type keys struct {
	base      string
	available string
	claimed   string
	items     string
	counter   string
	grants    string
	sightings string
}

func newKeys(prefix, name string) keys {
	base := prefix + ":{" + name + "}"
	return keys{
		base:      base,
		available: base + ":available",
		claimed:   base + ":claimed",
		items:     base + ":items",
		counter:   base + ":counter",
		grants:    base + ":grants",
		sightings: base + ":sightings",
	}
}

func (k keys) lease(id string) string {
	return k.base + ":lease:" + id
}

// pattern matches every key of the queue. Glob metacharacters in the name
// are escaped so one queue can never match another.
func (k keys) pattern() string {
	var b strings.Builder
	for _, r := range k.base {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteString(":*")
	return b.String()
}
