package middleware

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOffWithJitter)(nil)
)

// LinearBackOff grows the interval by a fixed increment, with jitter.
//
//	interval(n) = min(MaxInterval, InitialInterval + n*Increment) ± JitterFactor
type LinearBackOff struct {
	InitialInterval time.Duration
	Increment       time.Duration
	MaxInterval     time.Duration
	JitterFactor    float64

	currentInterval time.Duration
	attempt         int
}

// NewLinearBackOff returns a LinearBackOff starting at 500ms, growing by
// 500ms up to 30s, with ±50% jitter.
func NewLinearBackOff() *LinearBackOff {
	return &LinearBackOff{
		InitialInterval: 500 * time.Millisecond,
		Increment:       500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		JitterFactor:    0.5,
	}
}

// Reset implements backoff.BackOff.
func (b *LinearBackOff) Reset() {
	b.currentInterval = b.InitialInterval
	b.attempt = 0
}

// NextBackOff implements backoff.BackOff.
func (b *LinearBackOff) NextBackOff() time.Duration {
	if b.currentInterval == 0 {
		b.currentInterval = b.InitialInterval
	}
	interval := applyJitter(b.currentInterval, b.JitterFactor)

	b.attempt++
	b.currentInterval = min(b.InitialInterval+time.Duration(b.attempt)*b.Increment, b.MaxInterval)

	return interval
}

// DecorrelatedJitterBackOff draws each interval between Base and three times
// the previous one, capped at Cap.
//
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type DecorrelatedJitterBackOff struct {
	Base time.Duration
	Cap  time.Duration

	sleep time.Duration
}

// NewDecorrelatedJitterBackOff returns a DecorrelatedJitterBackOff with a
// 500ms base and a 30s cap.
func NewDecorrelatedJitterBackOff() *DecorrelatedJitterBackOff {
	return &DecorrelatedJitterBackOff{
		Base: 500 * time.Millisecond,
		Cap:  30 * time.Second,
	}
}

// Reset implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) Reset() {
	b.sleep = b.Base
}

// NextBackOff implements backoff.BackOff.
func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	if b.sleep == 0 {
		b.sleep = b.Base
	}
	b.sleep = randomBetween(b.Base, min(b.Cap, b.sleep*3))
	return b.sleep
}

// ConstantBackOffWithJitter waits Interval ± JitterFactor every time.
type ConstantBackOffWithJitter struct {
	Interval     time.Duration
	JitterFactor float64
}

// NewConstantBackOffWithJitter returns a 1s interval with ±50% jitter.
func NewConstantBackOffWithJitter() *ConstantBackOffWithJitter {
	return &ConstantBackOffWithJitter{
		Interval:     1 * time.Second,
		JitterFactor: 0.5,
	}
}

// Reset implements backoff.BackOff.
func (b *ConstantBackOffWithJitter) Reset() {}

// NextBackOff implements backoff.BackOff.
func (b *ConstantBackOffWithJitter) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// ExponentialBackOff builds a cenkalti/backoff exponential strategy from
// cfg. Jitter is never disabled.
func ExponentialBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	jitterFactor := cfg.JitterFactor
	if jitterFactor <= 0 {
		jitterFactor = DefaultJitterFactor
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: jitterFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
	b.Reset()
	return b
}

// applyJitter returns a random duration in [interval*(1-f), interval*(1+f)]
// with f clamped to [0, 1].
func applyJitter(interval time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return interval
	}
	jitterFactor = min(jitterFactor, 1)

	delta := float64(interval) * jitterFactor
	low := float64(interval) - delta
	//nolint:gosec // jitter does not need a cryptographic source
	return time.Duration(low + rand.Float64()*2*delta)
}

//nolint:gosec // jitter does not need a cryptographic source
func randomBetween(low, high time.Duration) time.Duration {
	if low >= high {
		return low
	}
	return low + time.Duration(rand.Int64N(int64(high-low)))
}
