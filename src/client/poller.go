package client

import (
	"context"
	"errors"
	"time"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

// Settled reports whether an intent needs no further polling.
func Settled(p domain.PaymentIntent) bool {
	return p.Status == domain.StatusSucceeded || p.Status.Terminal()
}

// Poll re-reads the intent every interval until done returns true or ctx ends.
// Transient read errors are retried; an API error stops polling.
func Poll(
	ctx context.Context,
	interval time.Duration,
	fetch func(ctx context.Context) (domain.PaymentIntent, error),
	done func(domain.PaymentIntent) bool,
) (domain.PaymentIntent, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last domain.PaymentIntent
	for {
		p, err := fetch(ctx)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return last, err
			}
		} else {
			last = p
			if done(p) {
				return p, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
