package recovery

import "time"

// Reference retry delays.
const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
)

// Backoff doubles the delay per retry already taken.
// Delay = min(Base * 2^retryCount, Cap).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff returns the reference 30s/5m policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Cap: DefaultBackoffCap}
}

// Delay returns the wait before the retry that follows retryCount retries.
// It is non-decreasing in retryCount and never exceeds Cap.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := b.Base
	for range retryCount {
		if d >= b.Cap || d > b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
