package provider

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// RetryPolicy bounds retries of transient provider errors.
type RetryPolicy struct {
	Attempts int
	// Backoff returns the wait before retry n (1-based).
	Backoff func(n int) time.Duration
}

// DefaultRetry makes three attempts with linear backoff.
var DefaultRetry = RetryPolicy{
	Attempts: 3,
	Backoff: func(n int) time.Duration {
		return time.Duration(n) * time.Second
	},
}

// Do runs fn, retrying while it fails with domain.ErrProviderTransient.
// Other errors, and the last transient error, are returned as is.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; n <= attempts; n++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrProviderTransient) || n == attempts {
			return err
		}

		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(n)
		}
		log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", n).
			Dur("backoff", wait).
			Msg("Transient provider error, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
