package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/provider"
)

func demoIntent(status domain.Status) domain.PaymentIntent {
	return domain.PaymentIntent{ID: "pi-1", Provider: domain.ProviderDemo, Status: status, Version: 1}
}

func TestDemo_AuthorizeIsDecidedByCVV(t *testing.T) {
	demo := provider.NewDemo("")
	now := time.Now()

	cases := []struct {
		cvv  string
		want domain.Status
	}{
		{"000", domain.StatusFailed},
		{"123", domain.StatusSucceeded},
		{"", domain.StatusSucceeded},
		{"999", domain.StatusSucceeded},
	}
	for _, tc := range cases {
		t.Run("cvv="+tc.cvv, func(t *testing.T) {
			card := domain.Card{CardNumber: "not-a-card", ExpMonth: "13", CVV: tc.cvv}
			out, changed, err := demo.Authorize(demoIntent(domain.StatusCreated), card, now)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, tc.want, out.Status)
		})
	}
}

func TestDemo_TerminalIntentsAreRejected(t *testing.T) {
	demo := provider.NewDemo("")
	now := time.Now()

	for _, st := range []domain.Status{domain.StatusFailed, domain.StatusRefunded, domain.StatusSucceeded} {
		_, _, err := demo.Authorize(demoIntent(st), domain.Card{CVV: "123"}, now)
		var illegal *domain.IllegalTransitionError
		assert.ErrorAs(t, err, &illegal, st)
	}

	for _, st := range []domain.Status{domain.StatusFailed, domain.StatusRefunded} {
		_, _, err := demo.Cancel(demoIntent(st), now)
		var illegal *domain.IllegalTransitionError
		assert.ErrorAs(t, err, &illegal, st)
	}

	out, _, err := demo.Cancel(demoIntent(domain.StatusSucceeded), now)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, out.Status)

	stripeIntent := demoIntent(domain.StatusCreated)
	stripeIntent.Provider = domain.ProviderStripe
	_, _, err = demo.Authorize(stripeIntent, domain.Card{}, now)
	assert.ErrorIs(t, err, domain.ErrNotDemoIntent)
}

func TestDemo_CreateSession(t *testing.T) {
	demo := provider.NewDemo("https://shop.example/")
	session, err := demo.CreateSession(context.Background(), provider.SessionRequest{
		IntentID: "pi-9", AmountMinor: 1000, Currency: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "demo_pi-9", session.ProviderRef)
	assert.Equal(t, "DEMO", session.CheckoutConfig["type"])
	assert.Equal(t, "https://shop.example/demo-checkout/pi-9", session.CheckoutConfig["checkoutUrl"])
}

var stripeConfig = map[string]string{"secretKey": "sk_test_1", "publishableKey": "pk_test_1"}

func TestStripe_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_1", r.Header.Get("Authorization"))
		assert.Equal(t, "po:m-1:key-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1000", r.PostForm.Get("amount"))
		assert.Equal(t, "eur", r.PostForm.Get("currency"))
		assert.Equal(t, "pi-1", r.PostForm.Get("metadata[pasarela_payment_intent_id]"))
		json.NewEncoder(w).Encode(map[string]string{"id": "pi_3Abc", "client_secret": "pi_3Abc_secret"})
	}))
	defer srv.Close()

	session, err := provider.NewStripe(srv.URL).CreateSession(context.Background(), provider.SessionRequest{
		IntentID: "pi-1", MerchantID: "m-1", AmountMinor: 1000, Currency: "EUR",
		IdempotencyKey: "key-1", Config: stripeConfig,
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_3Abc", session.ProviderRef)
	assert.Equal(t, domain.CheckoutConfig{
		"type": "STRIPE", "publishableKey": "pk_test_1", "clientSecret": "pi_3Abc_secret",
	}, session.CheckoutConfig)
}

func TestStripe_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   domain.ProviderErrorType
	}{
		{"server error", http.StatusBadGateway, `{}`, domain.ProviderErrorHTTP5xx},
		{"timeout", http.StatusGatewayTimeout, `{}`, domain.ProviderErrorTimeout},
		{"invalid request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error"}}`, domain.ProviderErrorValidation},
		{"card declined", http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined"}}`, domain.ProviderErrorDecline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := provider.NewStripe(srv.URL).CreateSession(context.Background(), provider.SessionRequest{
				IntentID: "pi-1", MerchantID: "m-1", AmountMinor: 1, Currency: "EUR", Config: stripeConfig,
			})
			var de *domain.DownstreamProviderError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.want, de.Type)
			assert.Equal(t, domain.ProviderStripe, de.Provider)
		})
	}
}

func TestStripe_ContextTimeoutIsTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := provider.NewStripe(srv.URL).CreateSession(ctx, provider.SessionRequest{
		IntentID: "pi-1", MerchantID: "m-1", AmountMinor: 1, Currency: "EUR", Config: stripeConfig,
	})
	var de *domain.DownstreamProviderError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ProviderErrorTimeout, de.Type)
	assert.Equal(t, "DOWNSTREAM_TIMEOUT", de.Reason())
}

func TestStripe_MissingConfig(t *testing.T) {
	_, err := provider.NewStripe("http://unused").CreateSession(context.Background(), provider.SessionRequest{
		IntentID: "pi-1", Config: map[string]string{"secretKey": "sk"},
	})
	var de *domain.DownstreamProviderError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ProviderErrorValidation, de.Type)
}

func TestAdyen_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v71/sessions", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("X-API-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Shop", body["merchantAccount"])
		assert.Equal(t, "pi-1", body["reference"])
		json.NewEncoder(w).Encode(map[string]string{"id": "CS123", "sessionData": "opaque"})
	}))
	defer srv.Close()

	cfg := map[string]string{"apiKey": "ak", "merchantAccount": "Shop", "clientKey": "test_ck"}
	session, err := provider.NewAdyen(srv.URL, "http://localhost:3000").CreateSession(context.Background(), provider.SessionRequest{
		IntentID: "pi-1", MerchantID: "m-1", AmountMinor: 500, Currency: "eur", Config: cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, "CS123", session.ProviderRef)
	assert.Equal(t, "test_ck", session.CheckoutConfig["clientKey"])
	assert.Equal(t, "opaque", session.CheckoutConfig["sessionData"])

	_, err = provider.NewAdyen(srv.URL, "").Refund(context.Background(), provider.RefundRequest{
		IntentID: "pi-1", ProviderRef: "CS123", Config: cfg,
	})
	var de *domain.DownstreamProviderError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ProviderErrorValidation, de.Type)
}

func TestRegistry_Implemented(t *testing.T) {
	reg := provider.NewRegistry(
		provider.NewDemo(""),
		provider.NewStripe(""),
		provider.NewStub(domain.ProviderPaypal),
	)
	assert.True(t, reg.Implemented(domain.ProviderStripe))
	assert.True(t, reg.Implemented(domain.ProviderDemo))
	assert.False(t, reg.Implemented(domain.ProviderPaypal))
	assert.False(t, reg.Implemented(domain.ProviderAdyen))

	stub, ok := reg.Get(domain.ProviderPaypal)
	require.True(t, ok)
	_, err := stub.CreateSession(context.Background(), provider.SessionRequest{})
	assert.ErrorIs(t, err, provider.ErrNotImplemented)
}
