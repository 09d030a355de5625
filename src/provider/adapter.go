package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

type SessionRequest struct {
	IntentID       string
	MerchantID     string
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
	Config         map[string]string
}

type Session struct {
	ProviderRef    string
	CheckoutConfig domain.CheckoutConfig
}

type RefundRequest struct {
	IntentID    string
	ProviderRef string
	AmountMinor int64
	Currency    string
	Config      map[string]string
}

// Adapter is the per-provider capability set. Errors are *domain.DownstreamProviderError.
type Adapter interface {
	Provider() domain.Provider
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Get(p domain.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// Implemented is false for providers with no adapter or a stub adapter.
func (r *Registry) Implemented(p domain.Provider) bool {
	a, ok := r.adapters[p]
	if !ok {
		return false
	}
	_, stub := a.(*Stub)
	return !stub
}

// providerIdempotencyKey keeps retries of one creation on a single provider-side object.
func providerIdempotencyKey(req SessionRequest) string {
	key := req.IdempotencyKey
	if key == "" {
		key = req.IntentID
	}
	return fmt.Sprintf("po:%s:%s", req.MerchantID, key)
}

func downstream(p domain.Provider, t domain.ProviderErrorType, err error) error {
	return &domain.DownstreamProviderError{Provider: p, Type: t, Err: err}
}

// classifyStatus maps an HTTP failure status to a provider error type.
func classifyStatus(status int) domain.ProviderErrorType {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ProviderErrorTimeout
	case status >= 500:
		return domain.ProviderErrorHTTP5xx
	case status == http.StatusPaymentRequired:
		return domain.ProviderErrorDecline
	case status >= 400:
		return domain.ProviderErrorValidation
	}
	return domain.ProviderErrorUnknown
}

func classifyTransport(err error) domain.ProviderErrorType {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.ProviderErrorTimeout
	}
	return domain.ProviderErrorUnknown
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func requireFields(p domain.Provider, cfg map[string]string, fields ...string) error {
	for _, f := range fields {
		if cfg[f] == "" {
			return downstream(p, domain.ProviderErrorValidation, fmt.Errorf("%s is not configured: missing %s", p, f))
		}
	}
	return nil
}
