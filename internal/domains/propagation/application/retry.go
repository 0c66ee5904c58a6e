package application

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxAttempts caps apply attempts per event, including the first one.
	// Zero retries transient failures forever.
	MaxAttempts int
}

// DefaultRetryPolicy is used when a group is configured without one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		MaxAttempts:     5,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// exponential returns an unbounded exponential backoff; callers count attempts.
func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// bounded stops after MaxAttempts attempts.
func (p RetryPolicy) bounded() backoff.BackOff {
	p = p.normalized()
	b := p.exponential()
	if p.MaxAttempts == 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}
