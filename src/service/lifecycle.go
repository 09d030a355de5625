package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/metrics"
	"github.com/alexsandroveiga/pasarela/src/repository"
)

const casAttempts = 3

// MutateFunc derives the next intent. changed=false leaves the store untouched.
// A changed intent must carry Version+1.
type MutateFunc func(current domain.PaymentIntent) (next domain.PaymentIntent, changed bool, err error)

// Lifecycle linearizes writes to one intent with compare-and-swap on Version.
type Lifecycle struct {
	store repository.IntentStore
	now   func() time.Time
	log   zerolog.Logger
}

func NewLifecycle(store repository.IntentStore, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{store: store, now: time.Now, log: log}
}

// Update reloads and re-evaluates mutate when it loses a race, so a stale
// writer is judged against the state that beat it.
func (l *Lifecycle) Update(ctx context.Context, id string, mutate MutateFunc) (domain.PaymentIntent, error) {
	next, _, err := l.update(ctx, id, mutate)
	return next, err
}

// Record is Update for a mutation driven by event. The transition is counted
// once, after its write commits.
func (l *Lifecycle) Record(ctx context.Context, id string, event domain.Event, mutate MutateFunc) (domain.PaymentIntent, error) {
	next, written, err := l.update(ctx, id, mutate)
	if err == nil && written {
		metrics.Transitions.WithLabelValues(string(event), string(next.Status)).Inc()
	}
	return next, err
}

// Apply runs one lifecycle event through the transition table.
func (l *Lifecycle) Apply(ctx context.Context, id string, event domain.Event) (domain.PaymentIntent, error) {
	return l.apply(ctx, id, event, nil)
}

func (l *Lifecycle) apply(ctx context.Context, id string, event domain.Event, decorate func(*domain.PaymentIntent)) (domain.PaymentIntent, error) {
	return l.Record(ctx, id, event, l.transition(event, decorate))
}

func (l *Lifecycle) update(ctx context.Context, id string, mutate MutateFunc) (domain.PaymentIntent, bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := l.store.Get(ctx, id)
		if err != nil {
			return domain.PaymentIntent{}, false, err
		}
		next, changed, err := mutate(current)
		if err != nil {
			return current, false, err
		}
		if !changed {
			return current, false, nil
		}
		err = l.store.CompareAndSwap(ctx, next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			l.log.Debug().Str("intentId", id).Int("attempt", attempt+1).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return current, false, err
		}
		return next, true, nil
	}
	return domain.PaymentIntent{}, false, domain.ErrVersionConflict
}

func (l *Lifecycle) transition(event domain.Event, decorate func(*domain.PaymentIntent)) MutateFunc {
	return func(current domain.PaymentIntent) (domain.PaymentIntent, bool, error) {
		next, changed, err := domain.Transition(current, event, l.now().UTC())
		if err != nil || !changed {
			return next, changed, err
		}
		if decorate != nil {
			decorate(&next)
		}
		return next, true, nil
	}
}
