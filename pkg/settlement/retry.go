package settlement

import "time"

// RetryPolicy bounds how often a settlement is re-dispatched after a transient fault.
// Attempt numbers start at zero for the first dispatch.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy allows three retries starting five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second, MaxDelay: 15 * time.Minute}
}

// Next returns the delay before the retry that follows attempt, and false
// once the retries are used up. The delay doubles on every retry.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= p.MaxRetries {
		return 0, false
	}

	delay := p.Delay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}
