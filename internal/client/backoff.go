package client

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryStep   = 2 * time.Second
)

// linearBackOff waits n×step before attempt n and stops after max
// attempts. Reset starts the count over.
type linearBackOff struct {
	step    time.Duration
	max     int
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(step time.Duration, max int) *linearBackOff {
	if step <= 0 {
		step = DefaultRetryStep
	}
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return &linearBackOff{step: step, max: max}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.max {
		return backoff.Stop
	}
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() { b.attempt = 0 }
