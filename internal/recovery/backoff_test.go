package recovery

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	tests := []struct {
		retries int
		want    time.Duration
	}{
		{-1, 30 * time.Second},
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 5 * time.Minute},
		{60, 5 * time.Minute},
		{1 << 20, 5 * time.Minute},
	}
	for _, tc := range tests {
		if got := b.Delay(tc.retries); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.retries, got, tc.want)
		}
	}
}

func TestBackoffIsMonotonicAndBounded(t *testing.T) {
	b := Backoff{Base: 7 * time.Millisecond, Cap: time.Second}
	prev := time.Duration(0)
	for n := range 64 {
		d := b.Delay(n)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", n, d, prev)
		}
		if d > b.Cap {
			t.Fatalf("Delay(%d) = %v exceeds cap", n, d)
		}
		prev = d
	}
}
