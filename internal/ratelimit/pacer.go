package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer is a single shared token bucket for outbound requests. Every
// fetch waits on the same bucket, so the total request rate against the
// source site stays bounded no matter how many workers are running.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer allowing rps requests per second. Burst is 1,
// which spaces requests evenly instead of letting them bunch up.
func NewPacer(rps float64) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next request slot opens or ctx is canceled.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Limit reports the configured requests per second.
func (p *Pacer) Limit() float64 {
	return float64(p.limiter.Limit())
}
