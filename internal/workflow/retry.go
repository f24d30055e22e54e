package workflow

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryPolicy computes whether and how long to wait before re-invoking a
// failed stage. It applies around a single stage invocation, never across
// stages.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first,
	// for stages that declare themselves retryable.
	MaxRetries int

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// MaxDelay caps the computed delay, before jitter.
	MaxDelay time.Duration

	// JitterMax is the upper bound of the uniform random jitter added to
	// every delay, decorrelating retries across concurrent runs.
	JitterMax time.Duration

	// randFloat returns a value in [0,1). Overridable in tests.
	randFloat func() float64
}

// Fault-kind-specific overrides. Unavailable services get a gentler curve;
// rate limits get a much steeper one because backing off too little against
// a rate limit burns the remaining budget.
const (
	unavailableMultiplier = 1.5
	unavailableMaxDelay   = 5 * time.Second

	rateLimitMultiplier = 3.0
	rateLimitMaxDelay   = 30 * time.Second
)

// NewRetryPolicy returns the default policy: 2 retries, exponential backoff
// from 1s with multiplier 2, capped at 8s, with up to 1s of jitter.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   8 * time.Second,
		JitterMax:  time.Second,
		randFloat:  rand.Float64,
	}
}

// Budget returns the retry budget for a stage: zero if the stage is not
// retryable, MaxRetries otherwise.
func (p *RetryPolicy) Budget(stage Stage) int {
	if !stage.Retryable() {
		return 0
	}
	return p.MaxRetries
}

// ShouldRetry reports whether a failed attempt should be retried.
// attempt is the number of invocations already made (1-based).
func (p *RetryPolicy) ShouldRetry(fault Fault, attempt, budget int) bool {
	return fault.Retryable && attempt <= budget
}

// Delay computes the backoff before the next attempt following the given
// failed attempt (1-based).
func (p *RetryPolicy) Delay(fault Fault, attempt int) time.Duration {
	multiplier := p.Multiplier
	maxDelay := p.MaxDelay

	switch {
	case isRateLimited(fault):
		multiplier = rateLimitMultiplier
		maxDelay = rateLimitMaxDelay
	case fault.Kind == FaultServiceUnavailable:
		multiplier = unavailableMultiplier
		maxDelay = unavailableMaxDelay
	}

	delay := time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	if p.JitterMax > 0 {
		rnd := rand.Float64
		if p.randFloat != nil {
			rnd = p.randFloat
		}
		delay += time.Duration(rnd() * float64(p.JitterMax))
	}

	return delay
}

// isRateLimited identifies rate-limiting faults by message, since they
// arrive as timeout-class faults from the transport.
func isRateLimited(fault Fault) bool {
	msg := strings.ToLower(fault.Message)
	for _, marker := range []string{"rate limit", "rate-limit", "too many requests", "429"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
