package delivery

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes when a failed delivery should next be attempted.
// The schedule is a long-tail exponential: it tolerates receiver outages of
// many hours while bounding total retry duration to a few days.
type RetryPolicy struct {
	MaxAttempts   int
	Factor        float64
	MinDelay      time.Duration
	MaxDelay      time.Duration
	JitterPercent float64
}

// DefaultRetryPolicy matches the production schedule: up to 10 attempts,
// delays growing by 1.8x from 60s and capped at 24h, with +/-25% jitter so
// many deliveries failing together do not retry together.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   10,
		Factor:        1.8,
		MinDelay:      time.Minute,
		MaxDelay:      24 * time.Hour,
		JitterPercent: 0.25,
	}
}

// Exhausted reports whether attempts has reached the cap.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Backoff returns the pre-jitter delay after the given 1-based attempt count.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(p.MinDelay) * math.Pow(p.Factor, float64(attempts-1)))
	if d < p.MinDelay {
		d = p.MinDelay
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// NextDelay returns the jittered delay after the given attempt count.
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	base := p.Backoff(attempts)
	j := 1 + (rand.Float64()*2-1)*p.JitterPercent
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

// NextAttemptAt returns the wall-clock time of the next attempt.
func (p RetryPolicy) NextAttemptAt(now time.Time, attempts int) time.Time {
	return now.Add(p.NextDelay(attempts))
}
