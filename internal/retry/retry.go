// Package retry implements exponential backoff with jitter for batch
// writes. The attempt bookkeeping lives in Attempt so the schedule can
// be tested without sleeping.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures the backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Jitter adds up to this fraction of the delay, randomly, so
	// concurrent workers don't retry in lockstep.
	Jitter float64
}

// DefaultPolicy returns the retry configuration used for batch writes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// Backoff returns the wait before the given attempt (1-based).
// Uses exponential backoff: base * multiplier^(attempt-1), capped.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return p.BaseDelay
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	d := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Attempt tracks retries of one operation.
type Attempt struct {
	policy Policy
	n      int
}

// New starts tracking attempts under a policy.
func New(policy Policy) *Attempt {
	return &Attempt{policy: policy}
}

// Number returns how many attempts have been made so far.
func (a *Attempt) Number() int {
	return a.n
}

// Next reports whether another attempt is allowed and consumes it.
func (a *Attempt) Next() bool {
	if a.n >= a.policy.MaxAttempts {
		return false
	}
	a.n++
	return true
}

// Wait sleeps the backoff for the current attempt, or returns early
// with the context's error. No wait before the first attempt.
func (a *Attempt) Wait(ctx context.Context) error {
	if a.n <= 1 {
		return nil
	}
	t := time.NewTimer(a.policy.Backoff(a.n))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the
// context is canceled. It returns the last error on exhaustion.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	a := New(policy)
	var last error
	for a.Next() {
		if err := a.Wait(ctx); err != nil {
			return err
		}
		if last = fn(ctx); last == nil {
			return nil
		}
	}
	return last
}
