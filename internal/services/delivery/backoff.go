package deliverysvc

import (
	"context"
	"math"
	"math/rand"
	"time"

	cfgpkg "github.com/Jak-Sim/back-chat/internal/config"
)

// RetryPolicy governs pump retries against an unavailable log store.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts int
}

func policyFromConfig(c cfgpkg.BackoffConfig) RetryPolicy {
	p := RetryPolicy{
		Base:        time.Duration(c.BaseMs) * time.Millisecond,
		Cap:         time.Duration(c.CapMs) * time.Millisecond,
		Factor:      c.Factor,
		MaxAttempts: c.MaxAttempts,
	}
	if p.Base <= 0 {
		p.Base = 200 * time.Millisecond
	}
	if p.Factor <= 0 {
		p.Factor = 2.0
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	return p
}

// Delay computes the jittered backoff for a 1-based attempt number.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.Base) * math.Pow(p.Factor, float64(attempt-1)))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)) + int64(d)/2)
}

// sleep waits for d or until the context is canceled. Returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
