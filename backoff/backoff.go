// Package backoff holds the delay strategies of the worker. One strategy
// paces the dequeue loop while Redis or the ledger keeps failing, the other
// spaces out the attempts of a job whose generation failed.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before attempt n. Attempt 1 follows the first
// failure. Implementations must be safe for concurrent use.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// maxShift bounds the doubling so Initial<<shift cannot overflow.
const maxShift = 32

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval after every failure.
type Constant struct {
	Interval time.Duration
}

// NewConstant returns a Constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the interval.
func (c *Constant) Delay(int) time.Duration { return c.Interval }

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay per attempt up to Max. Jitter in [0,1]
// shaves a random fraction off each delay; 1 is full jitter, 0 is none.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// NewExponential returns a deterministic Exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewJittered returns an Exponential strategy with full jitter.
func NewJittered(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: 1}
}

// Delay returns min(Initial*2^(attempt-1), Max), reduced by the jitter.
func (e *Exponential) Delay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxShift {
		shift = maxShift
	}

	d := e.Initial << uint(shift)
	if d < e.Initial || (e.Max > 0 && d > e.Max) {
		d = e.Max
	}

	j := min(max(e.Jitter, 0), 1)
	if j == 0 || d <= 0 {
		return d
	}
	return d - time.Duration(j*rand.Float64()*float64(d)) //nolint:gosec // jitter does not need crypto rand
}

// ──────────────────────────────────────────────────
// None
// ──────────────────────────────────────────────────

// None never waits. Tests use it to retry immediately.
type None struct{}

// Delay returns zero.
func (None) Delay(int) time.Duration { return 0 }

// ──────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────

// DefaultStrategy paces the worker while the store or ledger is down:
// 1s doubling to 1m with full jitter, so a fleet does not reconnect in step.
func DefaultStrategy() Strategy {
	return NewJittered(time.Second, time.Minute)
}

// RetryStrategy spaces the attempts of a failed job: 2s doubling to 30s.
func RetryStrategy() Strategy {
	return NewExponential(2*time.Second, 30*time.Second)
}

// Sleep waits s.Delay(attempt) or until ctx is done, returning ctx.Err()
// in the latter case.
func Sleep(ctx context.Context, s Strategy, attempt int) error {
	d := s.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
