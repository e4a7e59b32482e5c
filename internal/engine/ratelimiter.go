package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PaceLimiter enforces a minimum interval between sends from the same
// sender account (the pace the caller passes in), independent of whatever limiter the wire
// Provider itself enforces. Each account gets its own token bucket with a
// burst of 1, so a quiet account can't build up a backlog of credit and
// burst far past its configured pace.
type PaceLimiter struct {
	limiters sync.Map // accountID -> *rate.Limiter
}

// NewPaceLimiter creates an empty registry of per-account limiters.
func NewPaceLimiter() *PaceLimiter {
	return &PaceLimiter{}
}

// GetOrCreateLimiter returns accountID's limiter, creating it if needed, and
// retunes it in place if pace has changed since the last call.
func (p *PaceLimiter) GetOrCreateLimiter(accountID string, pace time.Duration) *rate.Limiter {
	limit := paceToLimit(pace)

	if existing, ok := p.limiters.Load(accountID); ok {
		limiter := existing.(*rate.Limiter)
		if limiter.Limit() != limit {
			limiter.SetLimit(limit)
		}
		return limiter
	}

	limiter := rate.NewLimiter(limit, 1)
	actual, _ := p.limiters.LoadOrStore(accountID, limiter)
	return actual.(*rate.Limiter)
}

func paceToLimit(pace time.Duration) rate.Limit {
	if pace <= 0 {
		return rate.Inf
	}
	return rate.Every(pace)
}

// Wait blocks until accountID's pace allows another send, or ctx is done.
func (p *PaceLimiter) Wait(ctx context.Context, accountID string, pace time.Duration) error {
	return p.GetOrCreateLimiter(accountID, pace).Wait(ctx)
}

// Allow reports whether accountID may send immediately without blocking.
func (p *PaceLimiter) Allow(accountID string, pace time.Duration) bool {
	return p.GetOrCreateLimiter(accountID, pace).Allow()
}

// RateLimiterStats is a point-in-time snapshot of one account's pace limiter.
type RateLimiterStats struct {
	RatePerSecond   float64
	TokensAvailable float64
	Burst           int
}

// Stats snapshots every tracked account's pace limiter.
func (p *PaceLimiter) Stats() map[string]RateLimiterStats {
	stats := make(map[string]RateLimiterStats)
	p.limiters.Range(func(key, value interface{}) bool {
		accountID := key.(string)
		limiter := value.(*rate.Limiter)
		stats[accountID] = RateLimiterStats{
			RatePerSecond:   float64(limiter.Limit()),
			TokensAvailable: limiter.Tokens(),
			Burst:           limiter.Burst(),
		}
		return true
	})
	return stats
}

// Remove drops accountID's limiter, e.g. after the account is deleted.
func (p *PaceLimiter) Remove(accountID string) {
	p.limiters.Delete(accountID)
}
