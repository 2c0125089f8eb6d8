// Package store defines the primitive operations the queue engines rely on
// and provides Redis-backed and in-memory implementations of them.
package store

import (
	"context"
	"time"
)

// Store is the set of atomic list, hash, key and transaction primitives a
// queue is built from. Every method is a single round trip against the
// backing store; none of them retry.
type Store interface {
	// RPush appends value to the tail of the list and returns its new length.
	RPush(ctx context.Context, key, value string) (int64, error)

	// LPop removes and returns the head of the list. ok is false if the list is empty.
	LPop(ctx context.Context, key string) (value string, ok bool, err error)

	// RPop removes and returns the tail of the list. ok is false if the list is empty.
	RPop(ctx context.Context, key string) (value string, ok bool, err error)

	// LRem removes up to count occurrences of value (0 removes all) and
	// returns how many were removed.
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)

	// LLen returns the length of the list.
	LLen(ctx context.Context, key string) (int64, error)

	// LRange returns the elements between start and stop inclusive. Negative
	// indexes count from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Move atomically pops the head of src and appends it to the tail of dst.
	// With a positive timeout it waits up to that long for src to become
	// non-empty. ok is false if nothing was moved.
	Move(ctx context.Context, src, dst string, timeout time.Duration) (value string, ok bool, err error)

	// MoveValue atomically removes every occurrence of value from list src
	// and appends one copy to the tail of list dst. Nothing happens unless
	// value is in src and every guard holds. When value moves it is also
	// deleted as a field from each hash in clear. It reports whether value
	// moved.
	MoveValue(ctx context.Context, src, dst, value string, guards []Guard, clear []string) (bool, error)

	// HGet returns a hash field. ok is false if the field does not exist.
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)

	// HSetNX sets a hash field only if it does not exist yet.
	HSetNX(ctx context.Context, key, field, value string) (bool, error)

	// HDel removes a hash field and returns how many fields were removed.
	HDel(ctx context.Context, key, field string) (int64, error)

	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// SetEX sets key to value with the given time to live.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire refreshes the time to live of an existing key. It returns false
	// if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Incr atomically increments the integer stored at key and returns it.
	Incr(ctx context.Context, key string) (int64, error)

	// Keys returns every key matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Atomic queues the commands issued on tx by fn and executes them as one
	// indivisible unit. Results are readable from the returned handles once
	// Atomic returns. If fn returns an error nothing is executed.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Guard is a precondition on a hash field: Field of hash Key must hold
// Value, or be absent when Value is empty.
type Guard struct {
	Key   string
	Field string
	Value string
}

// Tx collects commands for a single atomic execution. Handles returned by
// its methods carry no value until the surrounding Atomic call returns.
type Tx interface {
	RPush(key, value string) IntResult
	LRem(key string, count int64, value string) IntResult
	LLen(key string) IntResult
	HSetNX(key, field, value string) BoolResult
	HDel(key, field string) IntResult
}

// IntResult is the deferred result of an integer command.
type IntResult interface {
	Val() int64
	Err() error
}

// BoolResult is the deferred result of a boolean command.
type BoolResult interface {
	Val() bool
	Err() error
}
