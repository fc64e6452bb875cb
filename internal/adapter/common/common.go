// Package common holds the cross-marketplace plumbing every adapter in
// internal/adapter/* wraps itself around: a shared rate limiter, a circuit
// breaker per platform, and the status-translation helpers that keep each
// adapter's marketplace-specific vocabulary out of the rest of the engine.
package common

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tommytoolman/marketsync/internal/errs"
	"github.com/tommytoolman/marketsync/internal/model"
)

// Limiter wraps golang.org/x/time/rate with the Wait signature adapters call
// before every outbound request, so rate limiting is identical across
// marketplaces regardless of each one's own quota shape.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter builds a limiter allowing ratePerSecond requests/s with bursts
// of up to burst requests, the same shape the teacher's retry layer assumes for
// Kong Admin API calls.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Breaker wraps sony/gobreaker around one platform's outbound calls: three
// consecutive failures opens the circuit for a cool-down, after which a
// single probe request decides whether to close it again.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker named after platform for observability.
func NewBreaker(platform model.PlatformTag) *Breaker {
	st := gobreaker.Settings{
		Name:        string(platform),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Do executes fn through the breaker, translating gobreaker.ErrOpenState
// into a *errs.TransientError so the dispatcher treats a tripped breaker the
// same way it treats a network blip: leave the event PARTIAL and retry next
// run.
func (b *Breaker) Do(op string, fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, &errs.TransientError{Op: op, Reason: "circuit breaker open", Err: err}
	}
	return res, err
}

// StatusTable maps one marketplace's native status tokens onto the
// universal vocabulary. Each adapter builds its own table and calls
// Translate; an unmapped token is always treated conservatively as Ended
// rather than Active, so an unrecognized status can never mask a sale.
type StatusTable map[string]model.UniversalStatus

// Translate looks up native in t, defaulting to StatusEnded.
func (t StatusTable) Translate(native string) model.UniversalStatus {
	if s, ok := t[native]; ok {
		return s
	}
	return model.StatusEnded
}

// IdempotencyKey builds the dedup key used for the Redis-backed
// already-applied cache (internal/dispatch), so repeating a dispatch for the
// same (platform, external id, op) is a guaranteed no-op.
func IdempotencyKey(platform model.PlatformTag, externalID, op string) string {
	return "marketsync:applied:" + string(platform) + ":" + externalID + ":" + op
}
