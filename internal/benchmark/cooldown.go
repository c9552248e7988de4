package benchmark

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// cooldown holds the peer idle for a fixed period after each trial. Each
// start arms a fresh single-token bucket and drains it, so the next wait ends
// exactly one period after the trial finished.
type cooldown struct {
	period time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

func newCooldown(period time.Duration) *cooldown {
	return &cooldown{period: period}
}

// start begins a rest period at at.
func (c *cooldown) start(at time.Time) {
	if c.period <= 0 {
		return
	}
	l := rate.NewLimiter(rate.Every(c.period), 1)
	l.AllowN(at, 1)
	c.mu.Lock()
	c.limiter = l
	c.mu.Unlock()
}

// wait blocks until the current rest period is over. It returns at once when
// no trial has run yet.
func (c *cooldown) wait(ctx context.Context) error {
	c.mu.Lock()
	l := c.limiter
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
