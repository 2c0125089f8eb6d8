package retry

import (
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", p.MaxRetries)
	}
	if p.BaseDelay != 50*time.Millisecond {
		t.Errorf("expected base_delay 50ms, got %s", p.BaseDelay)
	}
	if p.MaxDelay != time.Second {
		t.Errorf("expected max_delay 1s, got %s", p.MaxDelay)
	}
}

func TestNextDelay_ExponentialGrowth(t *testing.T) {
	p := &Policy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.NextDelay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}

func TestNextDelay_MaxDelayCap(t *testing.T) {
	p := &Policy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  10.0,
		JitterRatio: 0.5,
	}

	for i := 0; i < 100; i++ {
		if delay := p.NextDelay(5); delay > 5*time.Second {
			t.Fatalf("delay %s exceeds max_delay 5s", delay)
		}
	}
}

func TestNextDelay_WithJitter(t *testing.T) {
	p := &Policy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		JitterRatio: 0.1,
	}

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := p.NextDelay(2)
		if d < 1800*time.Millisecond || d > 2200*time.Millisecond {
			t.Fatalf("delay %s outside ±10%% of 2s", d)
		}
		seen[d] = true
	}

	if len(seen) < 2 {
		t.Error("expected jitter to produce varying delays")
	}
}

func TestShouldRetry(t *testing.T) {
	p := &Policy{MaxRetries: 3}

	tests := []struct {
		attempt int
		want    bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}

	for _, tt := range tests {
		got := p.ShouldRetry(tt.attempt)
		if got != tt.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
