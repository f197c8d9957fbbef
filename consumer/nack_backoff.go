package consumer

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// NackBackoff computes the delay before a negatively acknowledged message is redelivered.
type NackBackoff interface {
	Delay(redeliveryCount uint32) time.Duration
}

type FixedNackBackoff struct {
	Interval time.Duration
}

func NewFixedNackBackoff(interval time.Duration) *FixedNackBackoff {
	return &FixedNackBackoff{Interval: interval}
}

func (f *FixedNackBackoff) Delay(_ uint32) time.Duration { return f.Interval }

// ExponentialNackBackoff doubles the delay with every redelivery of the same message,
// capped at MaxInterval.
type ExponentialNackBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func NewExponentialNackBackoff(initial, maxInterval time.Duration) *ExponentialNackBackoff {
	return &ExponentialNackBackoff{InitialInterval: initial, MaxInterval: maxInterval}
}

func (b *ExponentialNackBackoff) Delay(redeliveryCount uint32) time.Duration {
	if b.InitialInterval <= 0 {
		return 0
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = b.InitialInterval
	ebo.MaxInterval = max(b.MaxInterval, b.InitialInterval)
	ebo.Multiplier = 2
	ebo.RandomizationFactor = 0
	ebo.Reset()

	for range redeliveryCount {
		ebo.NextBackOff()
	}

	return ebo.NextBackOff()
}
