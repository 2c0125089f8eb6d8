package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the Redis
// adapter. It is used by tests and by single-process development setups.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	lists   map[string][]string
	hashes  map[string]map[string]string
	values  map[string]string
	expires map[string]time.Time
	// wake is closed and replaced whenever a list grows.
	wake chan struct{}
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for key expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:     time.Now,
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		wake:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) RPush(_ context.Context, key, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpush(key, value), nil
}

func (m *Memory) LPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	l := m.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	m.setList(key, l[1:])
	return l[0], true, nil
}

func (m *Memory) RPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	l := m.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	m.setList(key, l[:len(l)-1])
	return l[len(l)-1], true, nil
}

func (m *Memory) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lrem(key, count, value), nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.llen(key), nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	l := m.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

// Move pops the head of src onto the tail of dst, waiting for a push to any
// list while src is empty and the timeout has not elapsed.
func (m *Memory) Move(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		m.mu.Lock()
		m.expire(src)
		if l := m.lists[src]; len(l) > 0 {
			v := l[0]
			m.setList(src, l[1:])
			m.rpush(dst, v)
			m.mu.Unlock()
			return v, true, nil
		}
		wake := m.wake
		m.mu.Unlock()

		if deadline == nil {
			return "", false, nil
		}
		select {
		case <-wake:
		case <-deadline:
			return "", false, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *Memory) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hsetnx(key, field, value), nil
}

func (m *Memory) HDel(_ context.Context, key, field string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hdel(key, field), nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists(key), nil
}

func (m *Memory) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set %s: invalid expire time %s", key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete(key)
	m.values[key] = value
	m.expires[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists(key) {
		return false, nil
	}
	m.expires[key] = m.now().Add(ttl)
	return true, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	var n int64
	if v, ok := m.values[key]; ok {
		if _, err := fmt.Sscan(v, &n); err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
	}
	n++
	m.values[key] = fmt.Sprint(n)
	return n, nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range m.lists {
		seen[k] = struct{}{}
	}
	for k := range m.hashes {
		seen[k] = struct{}{}
	}
	for k := range m.values {
		seen[k] = struct{}{}
	}
	var keys []string
	for k := range seen {
		if !m.exists(k) {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", pattern, err)
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if m.exists(k) {
			n++
		}
		m.delete(k)
	}
	return n, nil
}

func (m *Memory) MoveValue(_ context.Context, src, dst, value string, guards []Guard, clear []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range guards {
		m.expire(g.Key)
		v, ok := m.hashes[g.Key][g.Field]
		if g.Value == "" {
			if ok {
				return false, nil
			}
			continue
		}
		if !ok || v != g.Value {
			return false, nil
		}
	}
	if m.lrem(src, 0, value) == 0 {
		return false, nil
	}
	for _, h := range clear {
		m.hdel(h, value)
	}
	m.rpush(dst, value)
	return true, nil
}

// Atomic collects the commands issued by fn and applies them under a single
// lock acquisition.
func (m *Memory) Atomic(_ context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{m: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (m *Memory) rpush(key, value string) int64 {
	m.expire(key)
	m.lists[key] = append(m.lists[key], value)
	close(m.wake)
	m.wake = make(chan struct{})
	return int64(len(m.lists[key]))
}

func (m *Memory) lrem(key string, count int64, value string) int64 {
	m.expire(key)
	l := m.lists[key]
	kept := make([]string, 0, len(l))
	var removed int64
	switch {
	case count >= 0:
		for _, v := range l {
			if v == value && (count == 0 || removed < count) {
				removed++
				continue
			}
			kept = append(kept, v)
		}
	default:
		for i := len(l) - 1; i >= 0; i-- {
			if l[i] == value && removed < -count {
				removed++
				continue
			}
			kept = append([]string{l[i]}, kept...)
		}
	}
	m.setList(key, kept)
	return removed
}

func (m *Memory) llen(key string) int64 {
	m.expire(key)
	return int64(len(m.lists[key]))
}

func (m *Memory) hsetnx(key, field, value string) bool {
	m.expire(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return false
	}
	h[field] = value
	return true
}

func (m *Memory) hdel(key, field string) int64 {
	m.expire(key)
	h := m.hashes[key]
	if _, ok := h[field]; !ok {
		return 0
	}
	delete(h, field)
	if len(h) == 0 {
		delete(m.hashes, key)
	}
	return 1
}

// setList stores l, dropping the key once the list is empty like Redis does.
func (m *Memory) setList(key string, l []string) {
	if len(l) == 0 {
		delete(m.lists, key)
		delete(m.expires, key)
		return
	}
	m.lists[key] = l
}

func (m *Memory) exists(key string) bool {
	m.expire(key)
	if _, ok := m.lists[key]; ok {
		return true
	}
	if _, ok := m.hashes[key]; ok {
		return true
	}
	_, ok := m.values[key]
	return ok
}

// expire lazily drops key if its deadline has passed.
func (m *Memory) expire(key string) {
	at, ok := m.expires[key]
	if ok && !m.now().Before(at) {
		m.delete(key)
	}
}

func (m *Memory) delete(key string) {
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.values, key)
	delete(m.expires, key)
}

type memoryTx struct {
	m   *Memory
	ops []func()
}

type memoryInt struct{ val int64 }

func (r *memoryInt) Val() int64 { return r.val }
func (r *memoryInt) Err() error { return nil }

type memoryBool struct{ val bool }

func (r *memoryBool) Val() bool  { return r.val }
func (r *memoryBool) Err() error { return nil }

func (t *memoryTx) RPush(key, value string) IntResult {
	r := &memoryInt{}
	t.ops = append(t.ops, func() { r.val = t.m.rpush(key, value) })
	return r
}

func (t *memoryTx) LRem(key string, count int64, value string) IntResult {
	r := &memoryInt{}
	t.ops = append(t.ops, func() { r.val = t.m.lrem(key, count, value) })
	return r
}

func (t *memoryTx) LLen(key string) IntResult {
	r := &memoryInt{}
	t.ops = append(t.ops, func() { r.val = t.m.llen(key) })
	return r
}

func (t *memoryTx) HSetNX(key, field, value string) BoolResult {
	r := &memoryBool{}
	t.ops = append(t.ops, func() { r.val = t.m.hsetnx(key, field, value) })
	return r
}

func (t *memoryTx) HDel(key, field string) IntResult {
	r := &memoryInt{}
	t.ops = append(t.ops, func() { r.val = t.m.hdel(key, field) })
	return r
}
