package store

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// harness builds a fresh store and a function that moves its clock forward.
type harness func(t *testing.T) (Store, func(time.Duration))

func runContract(t *testing.T, newStore harness) {
	t.Run("lists", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()

		for i, v := range []string{"a", "b", "c", "b"} {
			n, err := s.RPush(ctx, "l", v)
			if err != nil {
				t.Fatalf("rpush: %v", err)
			}
			if n != int64(i+1) {
				t.Errorf("expected length %d, got %d", i+1, n)
			}
		}

		got, err := s.LRange(ctx, "l", 0, -1)
		if err != nil {
			t.Fatalf("lrange: %v", err)
		}
		if want := []string{"a", "b", "c", "b"}; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}

		removed, err := s.LRem(ctx, "l", 0, "b")
		if err != nil {
			t.Fatalf("lrem: %v", err)
		}
		if removed != 2 {
			t.Errorf("expected 2 removed, got %d", removed)
		}

		head, ok, err := s.LPop(ctx, "l")
		if err != nil || !ok || head != "a" {
			t.Errorf("expected head 'a', got %q ok=%v err=%v", head, ok, err)
		}
		tail, ok, err := s.RPop(ctx, "l")
		if err != nil || !ok || tail != "c" {
			t.Errorf("expected tail 'c', got %q ok=%v err=%v", tail, ok, err)
		}

		n, err := s.LLen(ctx, "l")
		if err != nil {
			t.Fatalf("llen: %v", err)
		}
		if n != 0 {
			t.Errorf("expected empty list, got length %d", n)
		}

		if _, ok, err := s.LPop(ctx, "l"); ok || err != nil {
			t.Errorf("expected miss on empty list, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("move", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()

		if _, ok, err := s.Move(ctx, "src", "dst", 0); ok || err != nil {
			t.Fatalf("expected no move from empty list, got ok=%v err=%v", ok, err)
		}

		s.RPush(ctx, "src", "1")
		s.RPush(ctx, "src", "2")
		s.RPush(ctx, "dst", "0")

		v, ok, err := s.Move(ctx, "src", "dst", 0)
		if err != nil || !ok {
			t.Fatalf("move: ok=%v err=%v", ok, err)
		}
		if v != "1" {
			t.Errorf("expected head '1' to move, got %q", v)
		}

		// A blocking move returns immediately when src has data.
		v, ok, err = s.Move(ctx, "src", "dst", time.Second)
		if err != nil || !ok || v != "2" {
			t.Fatalf("blocking move: v=%q ok=%v err=%v", v, ok, err)
		}

		dst, _ := s.LRange(ctx, "dst", 0, -1)
		if want := []string{"0", "1", "2"}; !reflect.DeepEqual(dst, want) {
			t.Errorf("expected dst %v, got %v", want, dst)
		}
	})

	t.Run("move value", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()

		s.RPush(ctx, "claimed", "1")
		s.RPush(ctx, "claimed", "2")
		s.HSetNX(ctx, "grants", "1", "token-a")
		s.HSetNX(ctx, "sightings", "1", "100")

		tests := []struct {
			name   string
			value  string
			guards []Guard
			want   bool
		}{
			{"value not in src", "3", nil, false},
			{"guard value differs", "1", []Guard{{Key: "grants", Field: "1", Value: "token-b"}}, false},
			{"guard expects absent field", "1", []Guard{{Key: "grants", Field: "1"}}, false},
			{"guard on missing field", "2", []Guard{{Key: "grants", Field: "2", Value: "token-a"}}, false},
			{"guards hold", "1", []Guard{
				{Key: "grants", Field: "1", Value: "token-a"},
				{Key: "grants", Field: "9"},
			}, true},
			{"already moved", "1", nil, false},
		}
		for _, tt := range tests {
			moved, err := s.MoveValue(ctx, "claimed", "available", tt.value, tt.guards, []string{"grants", "sightings"})
			if err != nil {
				t.Fatalf("%s: move value: %v", tt.name, err)
			}
			if moved != tt.want {
				t.Errorf("%s: expected moved=%v, got %v", tt.name, tt.want, moved)
			}
		}

		claimed, _ := s.LRange(ctx, "claimed", 0, -1)
		if want := []string{"2"}; !reflect.DeepEqual(claimed, want) {
			t.Errorf("expected claimed %v, got %v", want, claimed)
		}
		available, _ := s.LRange(ctx, "available", 0, -1)
		if want := []string{"1"}; !reflect.DeepEqual(available, want) {
			t.Errorf("expected available %v, got %v", want, available)
		}
		if _, ok, _ := s.HGet(ctx, "grants", "1"); ok {
			t.Error("expected grant to be cleared on move")
		}
		if _, ok, _ := s.HGet(ctx, "sightings", "1"); ok {
			t.Error("expected sighting to be cleared on move")
		}
	})

	t.Run("hash", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()

		ok, err := s.HSetNX(ctx, "h", "1", "one")
		if err != nil || !ok {
			t.Fatalf("hsetnx first: ok=%v err=%v", ok, err)
		}
		ok, err = s.HSetNX(ctx, "h", "1", "uno")
		if err != nil || ok {
			t.Fatalf("hsetnx second: expected false, got ok=%v err=%v", ok, err)
		}

		v, ok, err := s.HGet(ctx, "h", "1")
		if err != nil || !ok || v != "one" {
			t.Errorf("expected 'one', got %q ok=%v err=%v", v, ok, err)
		}

		n, err := s.HDel(ctx, "h", "1")
		if err != nil || n != 1 {
			t.Errorf("expected 1 field removed, got %d err=%v", n, err)
		}
		if _, ok, _ := s.HGet(ctx, "h", "1"); ok {
			t.Error("expected field to be gone after hdel")
		}
		if n, _ := s.HDel(ctx, "h", "1"); n != 0 {
			t.Errorf("expected second hdel to remove nothing, got %d", n)
		}
	})

	t.Run("expiry", func(t *testing.T) {
		s, advance := newStore(t)
		ctx := context.Background()

		if err := s.SetEX(ctx, "lease", "1", 2*time.Second); err != nil {
			t.Fatalf("setex: %v", err)
		}
		if ok, _ := s.Exists(ctx, "lease"); !ok {
			t.Fatal("expected key to exist before expiry")
		}

		advance(time.Second)
		ok, err := s.Expire(ctx, "lease", 2*time.Second)
		if err != nil || !ok {
			t.Fatalf("expire: ok=%v err=%v", ok, err)
		}

		advance(1500 * time.Millisecond)
		if ok, _ := s.Exists(ctx, "lease"); !ok {
			t.Error("expected refreshed key to survive past its original deadline")
		}

		advance(time.Second)
		if ok, _ := s.Exists(ctx, "lease"); ok {
			t.Error("expected key to be gone after expiry")
		}
		if ok, _ := s.Expire(ctx, "lease", time.Second); ok {
			t.Error("expected expire on a missing key to report false")
		}
	})

	t.Run("incr", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()
		for want := int64(1); want <= 3; want++ {
			n, err := s.Incr(ctx, "counter")
			if err != nil {
				t.Fatalf("incr: %v", err)
			}
			if n != want {
				t.Errorf("expected %d, got %d", want, n)
			}
		}
	})

	t.Run("keys and del", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()

		s.RPush(ctx, "rq:a:available", "1")
		s.HSetNX(ctx, "rq:a:items", "1", "{}")
		s.SetEX(ctx, "rq:a:lease:1", "1", time.Minute)
		s.RPush(ctx, "rq:ab:available", "1")

		keys, err := s.Keys(ctx, "rq:a:*")
		if err != nil {
			t.Fatalf("keys: %v", err)
		}
		if len(keys) != 3 {
			t.Fatalf("expected 3 keys, got %v", keys)
		}

		n, err := s.Del(ctx, keys...)
		if err != nil || n != 3 {
			t.Errorf("expected 3 deleted, got %d err=%v", n, err)
		}
		if n, _ := s.Del(ctx); n != 0 {
			t.Errorf("expected del without keys to be a no-op, got %d", n)
		}
		if ok, _ := s.Exists(ctx, "rq:ab:available"); !ok {
			t.Error("expected neighbouring queue to be untouched")
		}
	})

	t.Run("atomic", func(t *testing.T) {
		s, _ := newStore(t)
		ctx := context.Background()
		s.RPush(ctx, "claimed", "7")

		var (
			set    BoolResult
			before IntResult
			after  IntResult
			rem    IntResult
		)
		err := s.Atomic(ctx, func(tx Tx) error {
			set = tx.HSetNX("items", "7", "{}")
			before = tx.LLen("available")
			rem = tx.LRem("claimed", 0, "7")
			after = tx.RPush("available", "7")
			return nil
		})
		if err != nil {
			t.Fatalf("atomic: %v", err)
		}
		if !set.Val() {
			t.Error("expected hsetnx inside transaction to succeed")
		}
		if before.Val() != 0 || after.Val() != 1 {
			t.Errorf("expected length 0 -> 1, got %d -> %d", before.Val(), after.Val())
		}
		if rem.Val() != 1 {
			t.Errorf("expected 1 removed from claimed, got %d", rem.Val())
		}
		if n, _ := s.LLen(ctx, "claimed"); n != 0 {
			t.Errorf("expected claimed to be empty, got %d", n)
		}
	})
}
