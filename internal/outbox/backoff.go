package outbox

import (
	"math/rand"
	"time"
)

const (
	baseBackoff    = time.Second
	maxBackoff     = 60 * time.Second
	jitterFraction = 0.3
)

// Backoff returns the deterministic delay before retry attempt n:
// min(base * 2^n, cap). Non-decreasing in n and bounded by the cap.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// 2^6 * 1s already exceeds the cap; avoid shifting past it.
	if retryCount > 6 {
		return maxBackoff
	}
	d := baseBackoff << uint(retryCount)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// withJitter adds up to 30% random extra delay (never subtracted), so
// retries from many clients do not align.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Float64()*jitterFraction*float64(d))
}
