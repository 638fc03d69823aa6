// Package retry turns transient backend failures into either a success or a
// terminal error by retrying with backoff and then trying fallback backends.
package retry

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"stratumai/internal/core"
)

// Policy configures retries. It is an immutable value.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
	// RetryableKinds narrows which retryable kinds are retried. Empty means
	// every kind core.IsRetryable accepts.
	RetryableKinds []core.ErrorType
}

// DefaultPolicy returns three retries starting at one second, doubling up to
// a minute, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
	}
}

// Validate rejects policies that could loop forever or retry terminal kinds.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", p.MaxRetries))
	}
	if p.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("initial delay must not be negative, got %s", p.InitialDelay))
	}
	if p.MaxDelay < p.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay))
	}
	if p.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must be at least 1, got %v", p.BackoffMultiplier))
	}
	for _, kind := range p.RetryableKinds {
		if kind != core.ErrorTypeRateLimit && kind != core.ErrorTypeProvider {
			errs = append(errs, fmt.Errorf("error kind %q is never retryable", kind))
		}
	}
	return errors.Join(errs...)
}

// Backoff returns the wait before retry n+1, where n counts from zero:
// min(InitialDelay * BackoffMultiplier^n, MaxDelay). With jitter the result
// is scaled by 0.5 + r, where r is drawn from [0,1). The result saturates at
// the largest representable Duration.
func (p Policy) Backoff(n int, r func() float64) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(n))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter && r != nil {
		d *= 0.5 + r()
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) retryable(err error) bool {
	if !core.IsRetryable(err) {
		return false
	}
	if len(p.RetryableKinds) == 0 {
		return true
	}
	return slices.Contains(p.RetryableKinds, core.KindOf(err))
}
