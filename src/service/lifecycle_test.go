package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsandroveiga/pasarela/src/configuration/logger"
	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/metrics"
	"github.com/alexsandroveiga/pasarela/src/repository"
	"github.com/alexsandroveiga/pasarela/src/service"
)

func seed(t *testing.T, store repository.IntentStore) domain.PaymentIntent {
	t.Helper()
	now := time.Now().UTC()
	intent, _, err := domain.Transition(domain.PaymentIntent{
		ID:            "pi-1",
		MerchantID:    merchant,
		AmountMinor:   500,
		Currency:      "EUR",
		Provider:      domain.ProviderStripe,
		AttemptNumber: 1,
		CreatedAt:     now,
	}, domain.EventCreate, now)
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), intent))
	return intent
}

func TestLifecycle_ApplyIsLinearizable(t *testing.T) {
	store := repository.NewPaymentRepository()
	seed(t, store)
	lc := service.NewLifecycle(store, logger.Nop())

	events := []domain.Event{domain.EventProviderSucceeded, domain.EventProviderFailed}
	const perEvent = 10
	errs := make(chan error, perEvent*len(events))
	var wg sync.WaitGroup
	for _, event := range events {
		for i := 0; i < perEvent; i++ {
			wg.Add(1)
			go func(e domain.Event) {
				defer wg.Done()
				_, err := lc.Apply(context.Background(), "pi-1", e)
				errs <- err
			}(event)
		}
	}
	wg.Wait()
	close(errs)

	final, err := store.Get(context.Background(), "pi-1")
	require.NoError(t, err)
	require.True(t, final.Status.Terminal() || final.Status == domain.StatusSucceeded)
	assert.Equal(t, int64(2), final.Version, "exactly one transition was persisted")

	for err := range errs {
		if err == nil {
			continue
		}
		var illegal *domain.IllegalTransitionError
		if !errors.As(err, &illegal) {
			assert.ErrorIs(t, err, domain.ErrVersionConflict)
		}
	}
}

func TestLifecycle_UpdateWithoutChangeDoesNotWrite(t *testing.T) {
	store := repository.NewPaymentRepository()
	seeded := seed(t, store)
	lc := service.NewLifecycle(store, logger.Nop())

	got, err := lc.Update(context.Background(), "pi-1", func(current domain.PaymentIntent) (domain.PaymentIntent, bool, error) {
		return current, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, seeded, got)
}

func TestLifecycle_ApplyUnknownIntent(t *testing.T) {
	lc := service.NewLifecycle(repository.NewPaymentRepository(), logger.Nop())
	_, err := lc.Apply(context.Background(), "missing", domain.EventProviderSucceeded)
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
}

// conflictOnce loses the first compare-and-swap it sees.
type conflictOnce struct {
	repository.IntentStore
	tripped atomic.Bool
}

func (s *conflictOnce) CompareAndSwap(ctx context.Context, p domain.PaymentIntent, expected int64) error {
	if s.tripped.CompareAndSwap(false, true) {
		return domain.ErrVersionConflict
	}
	return s.IntentStore.CompareAndSwap(ctx, p, expected)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestLifecycle_CountsTransitionOncePerCommit(t *testing.T) {
	base := repository.NewPaymentRepository()
	seed(t, base)
	store := &conflictOnce{IntentStore: base}
	lc := service.NewLifecycle(store, logger.Nop())
	ctx := context.Background()

	counter := metrics.Transitions.WithLabelValues(string(domain.EventProviderProcessing), string(domain.StatusProcessing))
	before := counterValue(t, counter)

	got, err := lc.Apply(ctx, "pi-1", domain.EventProviderProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.True(t, store.tripped.Load())
	assert.Equal(t, before+1, counterValue(t, counter))

	_, err = lc.Apply(ctx, "pi-1", domain.EventProviderProcessing)
	require.NoError(t, err)
	assert.Equal(t, before+1, counterValue(t, counter), "redelivery writes nothing")
}
