package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/health"
	"github.com/alexsandroveiga/pasarela/src/repository"
)

type fakeLiveness struct {
	down map[domain.Provider]bool
}

func (f fakeLiveness) IsHealthy(_ context.Context, p domain.Provider) bool { return !f.down[p] }

func implemented(p domain.Provider) bool {
	return p != domain.ProviderMastercard && p != domain.ProviderPaypal
}

var fullStripe = domain.ProviderConfig{
	Provider: domain.ProviderStripe,
	Enabled:  true,
	Config:   map[string]string{"secretKey": "sk", "publishableKey": "pk"},
}

func TestRegistry_StatusReasons(t *testing.T) {
	ctx := context.Background()
	global := []domain.ProviderConfig{
		fullStripe,
		{Provider: domain.ProviderAdyen, Enabled: true, Config: map[string]string{"apiKey": "k"}},
		{Provider: domain.ProviderMastercard, Enabled: true, Config: map[string]string{
			"gatewayHost": "h", "merchantId": "m", "apiPassword": "p",
		}},
		{Provider: domain.ProviderPaypal, Enabled: false, Config: map[string]string{"clientId": "c", "clientSecret": "s"}},
	}
	reg := health.NewRegistry(repository.NewProviderConfigStore(), global, implemented, fakeLiveness{}, health.NewBreaker(0, 0))

	statuses, err := reg.List(ctx, "m-1")
	require.NoError(t, err)
	require.Len(t, statuses, 5)

	byProvider := map[domain.Provider]domain.ProviderStatus{}
	for _, s := range statuses {
		byProvider[s.Provider] = s
	}

	assert.Equal(t, domain.StatusReasonOK, byProvider[domain.ProviderStripe].Reason)
	assert.True(t, byProvider[domain.ProviderStripe].Selectable())

	assert.Equal(t, "MISSING_FIELDS:merchantAccount,clientKey", byProvider[domain.ProviderAdyen].Reason)
	assert.False(t, byProvider[domain.ProviderAdyen].Configured)
	assert.False(t, byProvider[domain.ProviderAdyen].Selectable())

	assert.Equal(t, domain.StatusReasonNotImplemented, byProvider[domain.ProviderMastercard].Reason)
	assert.False(t, byProvider[domain.ProviderMastercard].Selectable())

	assert.Equal(t, domain.StatusReasonDisabled, byProvider[domain.ProviderPaypal].Reason)
	assert.True(t, byProvider[domain.ProviderPaypal].Configured)
	assert.False(t, byProvider[domain.ProviderPaypal].Selectable())

	assert.Equal(t, domain.StatusReasonOK, byProvider[domain.ProviderDemo].Reason)
	assert.True(t, byProvider[domain.ProviderDemo].Selectable())
}

func TestRegistry_MerchantOverrideWins(t *testing.T) {
	ctx := context.Background()
	store := repository.NewProviderConfigStore()
	reg := health.NewRegistry(store, []domain.ProviderConfig{fullStripe}, implemented, fakeLiveness{}, health.NewBreaker(0, 0))

	disabled := fullStripe
	disabled.MerchantID = "m-1"
	disabled.Enabled = false
	require.NoError(t, store.Upsert(ctx, disabled))

	ok, err := reg.IsSelectable(ctx, "m-1", domain.ProviderStripe)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = reg.IsSelectable(ctx, "m-2", domain.ProviderStripe)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_UnhealthyFromLivenessOrCircuit(t *testing.T) {
	ctx := context.Background()
	const openTTL = 50 * time.Millisecond

	down := health.NewRegistry(repository.NewProviderConfigStore(), []domain.ProviderConfig{fullStripe}, implemented,
		fakeLiveness{down: map[domain.Provider]bool{domain.ProviderStripe: true}}, health.NewBreaker(0, 0))
	status, err := down.Status(ctx, "", domain.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReasonUnhealthy, status.Reason)
	assert.False(t, status.Healthy)

	reg := health.NewRegistry(repository.NewProviderConfigStore(), []domain.ProviderConfig{fullStripe}, implemented,
		fakeLiveness{}, health.NewBreaker(5, openTTL))
	for i := 0; i < 4; i++ {
		reg.RecordSessionOutcome(domain.ProviderStripe, false)
	}
	reg.RecordSessionOutcome(domain.ProviderStripe, true)
	for i := 0; i < 4; i++ {
		reg.RecordSessionOutcome(domain.ProviderStripe, false)
	}
	assert.Equal(t, health.CircuitClosed, reg.Circuit(domain.ProviderStripe), "a success resets the run")

	reg.RecordSessionOutcome(domain.ProviderStripe, false)
	assert.Equal(t, health.CircuitOpen, reg.Circuit(domain.ProviderStripe))
	status, err = reg.Status(ctx, "", domain.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReasonUnhealthy, status.Reason)

	require.Eventually(t, func() bool {
		return reg.Circuit(domain.ProviderStripe) == health.CircuitHalfOpen
	}, time.Second, 5*time.Millisecond)
	ok, err := reg.IsSelectable(ctx, "", domain.ProviderStripe)
	require.NoError(t, err)
	assert.True(t, ok)

	reg.RecordSessionOutcome(domain.ProviderStripe, false)
	assert.Equal(t, health.CircuitOpen, reg.Circuit(domain.ProviderStripe), "a failed trial reopens")

	require.Eventually(t, func() bool {
		return reg.Circuit(domain.ProviderStripe) == health.CircuitHalfOpen
	}, time.Second, 5*time.Millisecond)
	reg.RecordSessionOutcome(domain.ProviderStripe, true)
	assert.Equal(t, health.CircuitClosed, reg.Circuit(domain.ProviderStripe))
}

func TestRegistry_SnapshotCarriesCircuit(t *testing.T) {
	reg := health.NewRegistry(repository.NewProviderConfigStore(), []domain.ProviderConfig{fullStripe}, implemented,
		fakeLiveness{}, health.NewBreaker(1, time.Minute))
	reg.RecordSessionOutcome(domain.ProviderStripe, false)
	reg.RecordSessionOutcome(domain.ProviderDemo, false)

	snapshot, err := reg.Snapshot(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, snapshot, len(domain.Providers))

	byProvider := map[domain.Provider]health.ProviderHealth{}
	for _, h := range snapshot {
		byProvider[h.Provider] = h
	}
	assert.Equal(t, health.CircuitOpen, byProvider[domain.ProviderStripe].Circuit)
	assert.Equal(t, domain.StatusReasonUnhealthy, byProvider[domain.ProviderStripe].Reason)
	assert.Equal(t, health.CircuitClosed, byProvider[domain.ProviderDemo].Circuit)
	assert.True(t, byProvider[domain.ProviderDemo].Healthy)
}

func TestBreaker_CircuitsArePerProvider(t *testing.T) {
	breaker := health.NewBreaker(2, time.Minute)
	breaker.Record(domain.ProviderStripe, false)
	breaker.Record(domain.ProviderStripe, false)

	assert.False(t, breaker.Allow(domain.ProviderStripe))
	assert.True(t, breaker.Allow(domain.ProviderAdyen))

	// outcomes reported while open are dropped
	breaker.Record(domain.ProviderStripe, true)
	assert.Equal(t, health.CircuitOpen, breaker.State(domain.ProviderStripe))
}

func TestRegistry_DemoAlwaysSelectable(t *testing.T) {
	reg := health.NewRegistry(repository.NewProviderConfigStore(), nil, implemented,
		fakeLiveness{down: map[domain.Provider]bool{domain.ProviderDemo: true}}, health.NewBreaker(0, 0))
	ok, err := reg.IsSelectable(context.Background(), "m-1", domain.ProviderDemo)
	require.NoError(t, err)
	assert.True(t, ok)
}
