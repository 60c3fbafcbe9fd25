// Package resilience paces upstream requests: a token bucket caps the request
// rate and every request additionally waits a base delay plus random jitter.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// PacerOpts configures a Pacer.
type PacerOpts struct {
	// Base is the fixed delay before each request.
	Base time.Duration
	// Jitter is the upper bound of the random extra delay.
	Jitter time.Duration
	// Every and Burst configure the token bucket. Every == 0 disables it.
	Every time.Duration
	Burst int
}

// Pacing presets.
var (
	PagePacing    = PacerOpts{Base: 400 * time.Millisecond, Jitter: 800 * time.Millisecond, Every: 200 * time.Millisecond, Burst: 1}
	SegmentPacing = PacerOpts{Base: 1000 * time.Millisecond, Jitter: 800 * time.Millisecond, Every: 200 * time.Millisecond, Burst: 1}
	RetryPacing   = PacerOpts{Base: 1000 * time.Millisecond, Jitter: 1000 * time.Millisecond}
)

// Pacer blocks callers so requests respect the upstream's limits.
type Pacer struct {
	limiter *rate.Limiter
	base    time.Duration
	jitter  time.Duration
	rand    func() float64                                   // for testing
	sleep   func(ctx context.Context, d time.Duration) error // for testing
}

// NewPacer creates a Pacer.
func NewPacer(opts PacerOpts) *Pacer {
	limit := rate.Inf
	if opts.Every > 0 {
		limit = rate.Every(opts.Every)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, burst),
		base:    opts.Base,
		jitter:  opts.Jitter,
		rand:    rand.Float64,
		sleep:   sleepCtx,
	}
}

// Delay returns the next base+jitter delay.
func (p *Pacer) Delay() time.Duration {
	d := p.base
	if p.jitter > 0 {
		d += time.Duration(p.rand() * float64(p.jitter))
	}
	return d
}

// Wait takes a token and then sleeps for Delay. It returns ctx.Err() if the
// context ends first.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return p.sleep(ctx, p.Delay())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
