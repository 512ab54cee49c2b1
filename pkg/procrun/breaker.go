package procrun

import (
	"sync"
	"time"
)

const (
	// DefaultBreakerThreshold is the consecutive-failure count that
	// opens the breaker.
	DefaultBreakerThreshold = 3

	// DefaultBreakerCooldown is how long the breaker stays open before
	// allowing a probe attempt.
	DefaultBreakerCooldown = 30 * time.Second
)

// Breaker is a circuit breaker for repeated external tool failures.
// After threshold consecutive failures it rejects attempts until the
// cooldown elapses, then admits a single probe.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
	now       func() time.Time
}

// NewBreaker creates a breaker. Non-positive arguments select the
// defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}

	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}

	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether an attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return true
	}

	if b.now().After(b.openUntil) {
		// Half-open: admit one probe, and push the window forward so
		// concurrent callers do not pile on.
		b.openUntil = b.now().Add(b.cooldown)

		return true
	}

	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
}

// RecordFailure counts a failure and opens the breaker at the
// threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
	}
}
