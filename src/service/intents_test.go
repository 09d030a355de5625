package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsandroveiga/pasarela/src/configuration/logger"
	"github.com/alexsandroveiga/pasarela/src/configuration/storage"
	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/health"
	"github.com/alexsandroveiga/pasarela/src/idempotency"
	"github.com/alexsandroveiga/pasarela/src/provider"
	"github.com/alexsandroveiga/pasarela/src/repository"
	"github.com/alexsandroveiga/pasarela/src/routing"
	"github.com/alexsandroveiga/pasarela/src/service"
)

const merchant = "m-1"

type fakeAdapter struct {
	provider domain.Provider
	delay    time.Duration
	err      error
	sessions atomic.Int32
	refunds  atomic.Int32
}

func (f *fakeAdapter) Provider() domain.Provider { return f.provider }

func (f *fakeAdapter) CreateSession(_ context.Context, req provider.SessionRequest) (provider.Session, error) {
	f.sessions.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return provider.Session{}, f.err
	}
	return provider.Session{
		ProviderRef:    "ref_" + req.IntentID,
		CheckoutConfig: domain.CheckoutConfig{"type": string(f.provider)},
	}, nil
}

func (f *fakeAdapter) Refund(_ context.Context, req provider.RefundRequest) (string, error) {
	f.refunds.Add(1)
	return "re_" + req.ProviderRef, nil
}

type alwaysLive struct{}

func (alwaysLive) IsHealthy(context.Context, domain.Provider) bool { return true }

type fixture struct {
	svc       *service.PaymentIntents
	intents   repository.IntentStore
	decisions repository.DecisionLog
	events    repository.EventLog
	configs   repository.ProviderConfigStore
	stripe    *fakeAdapter
	adyen     *fakeAdapter
}

func configured(p domain.Provider) domain.ProviderConfig {
	cfg := domain.ProviderConfig{Provider: p, Enabled: true, Config: map[string]string{}}
	for _, field := range domain.RequiredFields[p] {
		cfg.Config[field] = "test_" + field
	}
	return cfg
}

func newFixture(t *testing.T, enabled ...domain.Provider) *fixture {
	t.Helper()
	return newFixtureOn(t, repository.NewPaymentRepository(), enabled...)
}

// newFixtureOn builds a service with its own caches over an existing intent store.
func newFixtureOn(t *testing.T, intents repository.IntentStore, enabled ...domain.Provider) *fixture {
	t.Helper()
	f := &fixture{
		intents:   intents,
		decisions: repository.NewDecisionLog(),
		events:    repository.NewEventLog(),
		configs:   repository.NewProviderConfigStore(),
		stripe:    &fakeAdapter{provider: domain.ProviderStripe},
		adyen:     &fakeAdapter{provider: domain.ProviderAdyen},
	}

	var global []domain.ProviderConfig
	for _, p := range enabled {
		global = append(global, configured(p))
	}
	adapters := provider.NewRegistry(
		provider.NewDemo("http://checkout.test"),
		f.stripe,
		f.adyen,
		provider.NewStub(domain.ProviderMastercard),
		provider.NewStub(domain.ProviderPaypal),
	)
	registry := health.NewRegistry(f.configs, global, adapters.Implemented, alwaysLive{}, health.NewBreaker(0, 0))
	engine := routing.NewEngine(registry, f.decisions, nil, true, logger.Nop())
	guard := idempotency.NewGuard(idempotency.NewInMemoryStore(storage.NewInMemoryStorage()), time.Hour, 5*time.Second, logger.Nop())

	f.svc = service.NewPaymentIntents(service.Dependencies{
		Intents:         f.intents,
		Checkout:        repository.NewCheckoutConfigStore(),
		Events:          f.events,
		Guard:           guard,
		Router:          engine,
		Health:          registry,
		Adapters:        adapters,
		Demo:            provider.NewDemo("http://checkout.test"),
		ProviderTimeout: time.Second,
		MaxAttempts:     3,
		Log:             logger.Nop(),
	})
	return f
}

func create(t *testing.T, f *fixture, req service.CreateRequest) service.Result {
	t.Helper()
	if req.MerchantID == "" {
		req.MerchantID = merchant
	}
	if req.AmountMinor == 0 {
		req.AmountMinor = 1000
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}
	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestCreate_DemoModeWhenNothingConfigured(t *testing.T) {
	f := newFixture(t)
	res := create(t, f, service.CreateRequest{Currency: "eur", Description: "order 1"})

	intent := res.Intent
	assert.Equal(t, domain.ProviderDemo, intent.Provider)
	assert.Equal(t, domain.ReasonDemoMode, intent.RoutingReasonCode)
	assert.Equal(t, domain.StatusCreated, intent.Status)
	assert.Equal(t, "EUR", intent.Currency)
	assert.Equal(t, "demo_"+intent.ID, intent.ProviderRef)
	assert.Equal(t, intent.ID, intent.RootPaymentIntentID)
	assert.Equal(t, 1, intent.AttemptNumber)
	assert.Equal(t, "DEMO", res.CheckoutConfig["type"])
	assert.Equal(t, "http://checkout.test/demo-checkout/"+intent.ID, res.CheckoutConfig["checkoutUrl"])

	decision, err := f.decisions.Get(context.Background(), intent.RoutingDecisionID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, decision.IntentID)
	assert.Equal(t, domain.ProviderDemo, decision.ChosenProvider)
}

func TestDemoDeclineThenRerouteToStripe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := create(t, f, service.CreateRequest{}).Intent

	failed, err := f.svc.DemoAuthorize(ctx, merchant, original.ID, domain.Card{CardNumber: "4242424242424242", CVV: "000"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	require.NoError(t, f.configs.Upsert(ctx, domain.ProviderConfig{
		Provider:   domain.ProviderStripe,
		MerchantID: merchant,
		Enabled:    true,
		Config:     configured(domain.ProviderStripe).Config,
	}))

	stripe := domain.ProviderStripe
	res, err := f.svc.Reroute(ctx, merchant, original.ID, domain.ReasonUserRetryOtherProvider, &stripe)
	require.NoError(t, err)

	next := res.Intent
	assert.Equal(t, domain.ProviderStripe, next.Provider)
	assert.Equal(t, domain.ReasonUserRetryOtherProvider, next.RoutingReasonCode)
	assert.Equal(t, 2, next.AttemptNumber)
	assert.Equal(t, original.ID, next.RootPaymentIntentID)
	assert.Equal(t, original.AmountMinor, next.AmountMinor)
	assert.Equal(t, original.Currency, next.Currency)
	assert.Equal(t, "STRIPE", res.CheckoutConfig["type"])

	after, err := f.intents.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, failed, after, "the superseded intent is never written")
}

func TestDemoApproveThenCancelRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	intent := create(t, f, service.CreateRequest{}).Intent

	succeeded, err := f.svc.DemoAuthorize(ctx, merchant, intent.ID, domain.Card{CVV: "123"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, succeeded.Status)

	refunded, err := f.svc.DemoCancel(ctx, merchant, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)

	_, err = f.svc.DemoCancel(ctx, merchant, intent.ID)
	var illegal *domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, domain.StatusRefunded, illegal.From)

	_, err = f.svc.DemoAuthorize(ctx, merchant, intent.ID, domain.Card{CVV: "123"})
	require.ErrorAs(t, err, &illegal)
}

func TestDemoOperationsRequireDemoIntent(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	intent := create(t, f, service.CreateRequest{}).Intent
	require.Equal(t, domain.ProviderStripe, intent.Provider)

	_, err := f.svc.DemoAuthorize(context.Background(), merchant, intent.ID, domain.Card{CVV: "123"})
	assert.ErrorIs(t, err, domain.ErrNotDemoIntent)
	_, err = f.svc.DemoCancel(context.Background(), merchant, intent.ID)
	assert.ErrorIs(t, err, domain.ErrNotDemoIntent)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]service.CreateRequest{
		"amountMinor":        {MerchantID: merchant, AmountMinor: 0, Currency: "EUR"},
		"currency":           {MerchantID: merchant, AmountMinor: 100, Currency: "EURO"},
		"providerPreference": {MerchantID: merchant, AmountMinor: 100, Currency: "EUR", ProviderPreference: "BOGUS"},
	}
	for field, req := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), req)
			var validation *domain.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, field, validation.Field)
		})
	}

	all, err := f.intents.List(context.Background(), merchant, domain.IntentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_IdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	f.stripe.delay = 30 * time.Millisecond

	const n = 10
	results := make([]service.Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Create(context.Background(), service.CreateRequest{
				MerchantID:     merchant,
				IdempotencyKey: "order-42",
				AmountMinor:    2500,
				Currency:       "USD",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Intent.ID, results[i].Intent.ID)
	}
	assert.Equal(t, int32(1), f.stripe.sessions.Load(), "one provider session per idempotency key")

	all, err := f.intents.List(context.Background(), merchant, domain.IntentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	replay := create(t, f, service.CreateRequest{IdempotencyKey: "order-42", AmountMinor: 2500, Currency: "USD"})
	assert.True(t, replay.Replayed)
	assert.Equal(t, results[0].Intent.ID, replay.Intent.ID)
}

func TestCreate_IdempotencyConflict(t *testing.T) {
	f := newFixture(t)
	create(t, f, service.CreateRequest{IdempotencyKey: "k", AmountMinor: 1000})

	_, err := f.svc.Create(context.Background(), service.CreateRequest{
		MerchantID: merchant, IdempotencyKey: "k", AmountMinor: 2000, Currency: "EUR",
	})
	var conflict *domain.IdempotencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "amountMinor", conflict.Field)
}

func TestCreate_KeySurvivesGuardRecordLoss(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe, domain.ProviderAdyen)
	first := create(t, f, service.CreateRequest{IdempotencyKey: "k", AmountMinor: 1000, ProviderPreference: "STRIPE"})
	require.Equal(t, domain.ProviderStripe, first.Intent.Provider)

	// A second instance over the same intents store starts with an empty guard cache.
	other := newFixtureOn(t, f.intents, domain.ProviderStripe, domain.ProviderAdyen)

	again := create(t, other, service.CreateRequest{IdempotencyKey: "k", AmountMinor: 1000, ProviderPreference: "stripe"})
	assert.Equal(t, first.Intent.ID, again.Intent.ID)
	assert.True(t, again.Replayed)

	cases := map[string]service.CreateRequest{
		"currency":           {Currency: "GBP", ProviderPreference: "STRIPE"},
		"providerPreference": {Currency: "EUR", ProviderPreference: "ADYEN"},
	}
	for field, req := range cases {
		t.Run(field, func(t *testing.T) {
			req.MerchantID = merchant
			req.IdempotencyKey = "k"
			req.AmountMinor = 1000
			_, err := other.svc.Create(context.Background(), req)
			var conflict *domain.IdempotencyConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, field, conflict.Field)
		})
	}

	_, err := other.svc.Create(context.Background(), service.CreateRequest{
		MerchantID: merchant, IdempotencyKey: "k", AmountMinor: 1000, Currency: "EUR",
	})
	var conflict *domain.IdempotencyConflictError
	require.ErrorAs(t, err, &conflict, "AUTO differs from an explicit STRIPE")
	assert.Equal(t, "providerPreference", conflict.Field)
	assert.Equal(t, int32(1), f.stripe.sessions.Load()+other.stripe.sessions.Load())
}

func TestCreate_ExplicitUnselectableProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), service.CreateRequest{
		MerchantID: merchant, AmountMinor: 1000, Currency: "EUR", ProviderPreference: "ADYEN",
	})
	var notSelectable *domain.ProviderNotSelectableError
	require.ErrorAs(t, err, &notSelectable)
	assert.Equal(t, domain.ProviderAdyen, notSelectable.Provider)
	assert.Equal(t, "MISSING_FIELDS:apiKey,merchantAccount,clientKey", notSelectable.Reason)

	all, err := f.intents.List(context.Background(), merchant, domain.IntentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreate_SessionFailureFailsIntent(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	f.stripe.err = &domain.DownstreamProviderError{
		Provider: domain.ProviderStripe,
		Type:     domain.ProviderErrorHTTP5xx,
		Err:      errors.New("502 bad gateway"),
	}

	res := create(t, f, service.CreateRequest{})
	assert.Equal(t, domain.ProviderStripe, res.Intent.Provider)
	assert.Equal(t, domain.StatusFailed, res.Intent.Status)
	assert.Equal(t, "DOWNSTREAM_HTTP_5XX", res.Intent.FailureReason)
	assert.Empty(t, res.Intent.ProviderRef)
	assert.Nil(t, res.CheckoutConfig)

	stored, err := f.intents.Get(context.Background(), res.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Intent, stored)
}

func TestCreate_CancelledBeforePersistLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Create(ctx, service.CreateRequest{MerchantID: merchant, AmountMinor: 100, Currency: "EUR"})
	assert.ErrorIs(t, err, context.Canceled)

	all, err := f.intents.List(context.Background(), merchant, domain.IntentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	decisions, err := f.decisions.Search(context.Background(), domain.DecisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, decisions, "no decision without an intent")
}

func TestCreate_RecordsOneDecisionPerIntent(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	ctx := context.Background()
	first := create(t, f, service.CreateRequest{IdempotencyKey: "k"})
	create(t, f, service.CreateRequest{IdempotencyKey: "k"})

	_, err := f.svc.Create(ctx, service.CreateRequest{MerchantID: merchant, AmountMinor: 100, Currency: "EUR", ProviderPreference: "ADYEN"})
	require.Error(t, err)

	decisions, err := f.decisions.Search(ctx, domain.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, first.Intent.RoutingDecisionID, decisions[0].ID)
	assert.Equal(t, first.Intent.ID, decisions[0].IntentID)
}

func TestReroute_ChainIntegrity(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe, domain.ProviderAdyen)
	ctx := context.Background()

	first := create(t, f, service.CreateRequest{Description: "chain"}).Intent
	require.Equal(t, domain.ProviderStripe, first.Provider)

	second, err := f.svc.Reroute(ctx, merchant, first.ID, domain.ReasonUserRetry, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderAdyen, second.Intent.Provider, "the failed provider is excluded")
	assert.Equal(t, domain.ReasonUserRetry, second.Intent.RoutingReasonCode)

	_, err = f.svc.Reroute(ctx, merchant, first.ID, domain.ReasonUserRetry, nil)
	var illegal *domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal, "only the chain head can be rerouted")
	assert.Equal(t, domain.EventReroute, illegal.Event)

	third, err := f.svc.Reroute(ctx, merchant, second.Intent.ID, domain.ReasonUserRetry, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, third.Intent.Provider)

	_, err = f.svc.Reroute(ctx, merchant, third.Intent.ID, domain.ReasonUserRetry, nil)
	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)

	chain, err := f.intents.Chain(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i, intent := range chain {
		assert.Equal(t, first.ID, intent.RootPaymentIntentID)
		assert.Equal(t, i+1, intent.AttemptNumber)
		assert.Equal(t, "chain", intent.Description)
	}
	assert.Equal(t, first, chain[0])
}

func TestReroute_ConcurrentCallsExtendChainOnce(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe, domain.ProviderAdyen)
	first := create(t, f, service.CreateRequest{}).Intent

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Reroute(context.Background(), merchant, first.ID, domain.ReasonUserRetry, nil)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)

	chain, err := f.intents.Chain(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestReroute_AutoFallsBackToDemo(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	first := create(t, f, service.CreateRequest{}).Intent

	res, err := f.svc.Reroute(context.Background(), merchant, first.ID, domain.ReasonUserRetry, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderDemo, res.Intent.Provider)
	assert.Equal(t, domain.ReasonDemoMode, res.Intent.RoutingReasonCode)
}

func TestGet_ScopedToMerchant(t *testing.T) {
	f := newFixture(t)
	intent := create(t, f, service.CreateRequest{}).Intent

	got, err := f.svc.Get(context.Background(), merchant, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, intent, got.Intent)
	assert.Equal(t, "DEMO", got.CheckoutConfig["type"])

	_, err = f.svc.Get(context.Background(), "m-other", intent.ID)
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)

	_, err = f.svc.Reroute(context.Background(), "m-other", intent.ID, "", nil)
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
}

func TestList_FiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := create(t, f, service.CreateRequest{}).Intent
	create(t, f, service.CreateRequest{})
	_, err := f.svc.DemoAuthorize(ctx, merchant, a.ID, domain.Card{CVV: "000"})
	require.NoError(t, err)

	failed := domain.StatusFailed
	list, err := f.svc.List(ctx, merchant, domain.IntentFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestHandleCallback(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	ctx := context.Background()
	intent := create(t, f, service.CreateRequest{}).Intent

	processing, err := f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, ProviderRef: intent.ProviderRef, Event: domain.EventProviderProcessing,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, processing.Status)

	succeeded, err := f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventProviderSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, succeeded.Status)

	redelivered, err := f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventProviderSucceeded,
	})
	require.NoError(t, err)
	assert.Equal(t, succeeded, redelivered)

	_, err = f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventProviderFailed, Reason: "late",
	})
	var illegal *domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal, "a stale failure cannot undo a success")

	_, err = f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderAdyen, IntentID: intent.ID, Event: domain.EventProviderFailed,
	})
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)

	_, err = f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventDemoCancel,
	})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestHandleCallback_FailureReason(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	intent := create(t, f, service.CreateRequest{}).Intent

	failed, err := f.svc.HandleCallback(context.Background(), domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventProviderFailed, Reason: "card_declined",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, "card_declined", failed.FailureReason)
}

func TestRefund(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	ctx := context.Background()
	intent := create(t, f, service.CreateRequest{}).Intent

	_, err := f.svc.Refund(ctx, merchant, intent.ID)
	var illegal *domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, domain.StatusCreated, illegal.From)

	_, err = f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventProviderSucceeded,
	})
	require.NoError(t, err)

	refunded, err := f.svc.Refund(ctx, merchant, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)

	again, err := f.svc.Refund(ctx, merchant, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, refunded, again)
	assert.Equal(t, int32(1), f.stripe.refunds.Load())
}

func eventTypes(t *testing.T, f *fixture, intentID string) []string {
	t.Helper()
	events, err := f.svc.Events(context.Background(), intentID)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		assert.Equal(t, intentID, e.IntentID)
		assert.Equal(t, domain.HashPayload([]byte(e.Payload)), e.PayloadHash)
		types = append(types, e.Type)
	}
	return types
}

func TestEvents_AuditTrail(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	ctx := context.Background()
	intent := create(t, f, service.CreateRequest{}).Intent

	_, err := f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, ProviderRef: intent.ProviderRef, Event: domain.EventProviderSucceeded,
	})
	require.NoError(t, err)
	_, err = f.svc.HandleCallback(ctx, domain.ProviderCallback{
		Provider: domain.ProviderStripe, IntentID: intent.ID, Event: domain.EventProviderFailed, Reason: "late",
	})
	require.Error(t, err)
	_, err = f.svc.Refund(ctx, merchant, intent.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		domain.EventTypeSessionCreated,
		domain.EventTypePaymentSucceeded,
		domain.EventTypeCallbackRejected,
		domain.EventTypeRefundSucceeded,
	}, eventTypes(t, f, intent.ID))

	_, err = f.svc.Events(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrIntentNotFound)
}

func TestEvents_SessionFailureIsAudited(t *testing.T) {
	f := newFixture(t, domain.ProviderStripe)
	f.stripe.err = &domain.DownstreamProviderError{Provider: domain.ProviderStripe, Type: domain.ProviderErrorTimeout, Err: context.DeadlineExceeded}

	intent := create(t, f, service.CreateRequest{}).Intent
	assert.Equal(t, []string{domain.EventTypeSessionCreationFailed}, eventTypes(t, f, intent.ID))

	events, err := f.svc.Events(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Contains(t, events[0].Payload, "DOWNSTREAM_TIMEOUT")
}
