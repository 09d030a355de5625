package routing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsandroveiga/pasarela/src/configuration/logger"
	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/repository"
	"github.com/alexsandroveiga/pasarela/src/routing"
)

// fakeStatus reports every provider as OK unless listed in reasons.
type fakeStatus struct {
	reasons map[domain.Provider]string
}

func (f fakeStatus) Status(_ context.Context, _ string, p domain.Provider) (domain.ProviderStatus, error) {
	reason, ok := f.reasons[p]
	if !ok || p == domain.ProviderDemo {
		return domain.ProviderStatus{Provider: p, Configured: true, Enabled: true, Healthy: true, Reason: domain.StatusReasonOK}, nil
	}
	return domain.ProviderStatus{Provider: p, Configured: true, Enabled: true, Reason: reason}, nil
}

var nothingConfigured = fakeStatus{reasons: map[domain.Provider]string{
	domain.ProviderStripe:     "MISSING_FIELDS:secretKey,publishableKey",
	domain.ProviderAdyen:      "MISSING_FIELDS:apiKey,merchantAccount,clientKey",
	domain.ProviderMastercard: "MISSING_FIELDS:gatewayHost,merchantId,apiPassword",
	domain.ProviderPaypal:     "MISSING_FIELDS:clientId,clientSecret",
}}

func newEngine(status routing.StatusReader, fallback bool) (*routing.Engine, repository.DecisionLog) {
	log := repository.NewDecisionLog()
	return routing.NewEngine(status, log, nil, fallback, logger.Nop()), log
}

func TestRoute_AutoPicksFirstSelectableInPriority(t *testing.T) {
	status := fakeStatus{reasons: map[domain.Provider]string{domain.ProviderStripe: domain.StatusReasonUnhealthy}}
	engine, decisions := newEngine(status, true)
	ctx := context.Background()

	d, err := engine.Route(ctx, routing.Request{IntentID: "pi-1", MerchantID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderAdyen, d.ChosenProvider)
	assert.Equal(t, domain.ReasonAutoSelected, d.ReasonCode)
	assert.Len(t, d.Candidates, 4)

	_, err = decisions.Get(ctx, d.ID)
	assert.ErrorIs(t, err, repository.ErrDecisionNotFound, "routing alone stores nothing")

	require.NoError(t, engine.Record(ctx, d))
	stored, err := decisions.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d, stored)
}

func TestRoute_AutoFallsBackToDemo(t *testing.T) {
	engine, _ := newEngine(nothingConfigured, true)
	d, err := engine.Route(context.Background(), routing.Request{IntentID: "pi-1", MerchantID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderDemo, d.ChosenProvider)
	assert.Equal(t, domain.ReasonDemoMode, d.ReasonCode)
}

func TestRoute_AutoWithoutDemoFallbackFails(t *testing.T) {
	engine, decisions := newEngine(nothingConfigured, false)
	_, err := engine.Route(context.Background(), routing.Request{IntentID: "pi-1", MerchantID: "m-1"})
	assert.ErrorIs(t, err, domain.ErrNoProviderAvailable)

	recorded, err := decisions.ForIntent(context.Background(), "pi-1")
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestRoute_NeverChoosesUnselectableOrExcluded(t *testing.T) {
	reasons := []string{"MISSING_FIELDS:secretKey", domain.StatusReasonDisabled, domain.StatusReasonUnhealthy, domain.StatusReasonNotImplemented}
	for _, reason := range reasons {
		t.Run(reason, func(t *testing.T) {
			status := fakeStatus{reasons: map[domain.Provider]string{
				domain.ProviderStripe: reason,
				domain.ProviderAdyen:  reason,
			}}
			engine, _ := newEngine(status, true)
			d, err := engine.Route(context.Background(), routing.Request{
				IntentID:   "pi-1",
				Excluded:   map[domain.Provider]bool{domain.ProviderMastercard: true},
				Retry:      true,
				Preference: domain.Preference{},
			})
			require.NoError(t, err)
			assert.Equal(t, domain.ProviderPaypal, d.ChosenProvider)
			assert.Equal(t, domain.ReasonUserRetry, d.ReasonCode)
		})
	}
}

func TestRoute_Explicit(t *testing.T) {
	status := fakeStatus{reasons: map[domain.Provider]string{domain.ProviderAdyen: domain.StatusReasonDisabled}}
	engine, _ := newEngine(status, true)
	ctx := context.Background()

	d, err := engine.Route(ctx, routing.Request{IntentID: "pi-1", Preference: domain.Preference{Provider: domain.ProviderStripe}})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderStripe, d.ChosenProvider)
	assert.Equal(t, domain.ReasonExplicitSelected, d.ReasonCode)

	d, err = engine.Route(ctx, routing.Request{IntentID: "pi-2", Preference: domain.Preference{Provider: domain.ProviderStripe}, Retry: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonUserRetryOtherProvider, d.ReasonCode)

	_, err = engine.Route(ctx, routing.Request{IntentID: "pi-3", Preference: domain.Preference{Provider: domain.ProviderAdyen}})
	var notSelectable *domain.ProviderNotSelectableError
	require.ErrorAs(t, err, &notSelectable)
	assert.Equal(t, domain.ProviderAdyen, notSelectable.Provider)
	assert.Equal(t, domain.StatusReasonDisabled, notSelectable.Reason)

	_, err = engine.Route(ctx, routing.Request{
		IntentID:   "pi-4",
		Preference: domain.Preference{Provider: domain.ProviderStripe},
		Excluded:   map[domain.Provider]bool{domain.ProviderStripe: true},
	})
	require.ErrorAs(t, err, &notSelectable)

	d, err = engine.Route(ctx, routing.Request{IntentID: "pi-5", Preference: domain.Preference{Provider: domain.ProviderDemo}})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderDemo, d.ChosenProvider)
	assert.Equal(t, domain.ReasonExplicitSelected, d.ReasonCode)
}

func TestRoute_PriorityIsOperatorConfigured(t *testing.T) {
	log := repository.NewDecisionLog()
	engine := routing.NewEngine(fakeStatus{}, log, []domain.Provider{domain.ProviderPaypal, domain.ProviderStripe}, true, logger.Nop())
	for i := 0; i < 5; i++ {
		d, err := engine.Route(context.Background(), routing.Request{IntentID: "pi"})
		require.NoError(t, err)
		assert.Equal(t, domain.ProviderPaypal, d.ChosenProvider)
	}
}
