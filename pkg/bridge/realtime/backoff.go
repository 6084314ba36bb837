package realtime

import "time"

// Backoff is the reconnect schedule for a provider session. The delay for
// attempt n doubles from Base and is clamped at Cap.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultBackoff is the reconnect policy used for provider sessions.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 8,
		Base:        800 * time.Millisecond,
		Cap:         2 * time.Second,
	}
}

// Delay returns the wait before the given retry attempt (1-based). Attempts
// outside [1, MaxAttempts] return 0.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
