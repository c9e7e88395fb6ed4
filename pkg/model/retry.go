package model

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes the delay before retry attempt N, the same
// exponential-backoff-with-jitter shape as httpclient.Client.calculateDelay,
// generalized so the Gateway can apply it independent of HTTP transport
// details (a Provider may be backed by a streaming SDK, not just net/http).
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches httpclient's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 60 * time.Second
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * base
	jitter := time.Duration(rand.Float64() * float64(d) * 0.1)
	if d+jitter > max {
		return max
	}
	return d + jitter
}

// Wait blocks for the backoff delay of the given attempt number (1-based),
// returning early with a Cancelled error if ctx is done first.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return NewCancelled(ctx.Err())
	case <-timer.C:
		return nil
	}
}
