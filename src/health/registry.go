package health

import (
	"context"
	"strings"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/repository"
)

// Liveness answers whether a provider's endpoint is up.
type Liveness interface {
	IsHealthy(ctx context.Context, provider domain.Provider) bool
}

// Registry derives provider status from configuration, integration
// availability, liveness and the circuit breaker.
type Registry struct {
	configs     repository.ProviderConfigStore
	global      map[domain.Provider]domain.ProviderConfig
	implemented func(domain.Provider) bool
	liveness    Liveness
	breaker     *Breaker
}

func NewRegistry(
	configs repository.ProviderConfigStore,
	global []domain.ProviderConfig,
	implemented func(domain.Provider) bool,
	liveness Liveness,
	breaker *Breaker,
) *Registry {
	g := make(map[domain.Provider]domain.ProviderConfig, len(global))
	for _, cfg := range global {
		g[cfg.Provider] = cfg
	}
	return &Registry{
		configs:     configs,
		global:      g,
		implemented: implemented,
		liveness:    liveness,
		breaker:     breaker,
	}
}

// Config returns the merchant override when one exists, else the global config.
func (r *Registry) Config(ctx context.Context, merchantID string, provider domain.Provider) (domain.ProviderConfig, error) {
	if merchantID != "" {
		cfg, ok, err := r.configs.Get(ctx, merchantID, provider)
		if err != nil {
			return domain.ProviderConfig{}, err
		}
		if ok {
			return cfg, nil
		}
	}
	cfg, ok := r.global[provider]
	if !ok {
		return domain.ProviderConfig{Provider: provider}, nil
	}
	return cfg, nil
}

func (r *Registry) Status(ctx context.Context, merchantID string, provider domain.Provider) (domain.ProviderStatus, error) {
	if provider == domain.ProviderDemo {
		return domain.ProviderStatus{
			Provider:   provider,
			Configured: true,
			Enabled:    true,
			Healthy:    true,
			Reason:     domain.StatusReasonOK,
		}, nil
	}

	cfg, err := r.Config(ctx, merchantID, provider)
	if err != nil {
		return domain.ProviderStatus{}, err
	}

	status := domain.ProviderStatus{Provider: provider, Enabled: cfg.Enabled}
	if missing := cfg.MissingFields(); len(missing) > 0 {
		status.Reason = domain.StatusReasonMissingFields + ":" + strings.Join(missing, ",")
		return status, nil
	}
	status.Configured = true

	if !cfg.Enabled {
		status.Reason = domain.StatusReasonDisabled
		return status, nil
	}
	if r.implemented != nil && !r.implemented(provider) {
		status.Reason = domain.StatusReasonNotImplemented
		return status, nil
	}
	if !r.breaker.Allow(provider) || (r.liveness != nil && !r.liveness.IsHealthy(ctx, provider)) {
		status.Reason = domain.StatusReasonUnhealthy
		return status, nil
	}

	status.Healthy = true
	status.Reason = domain.StatusReasonOK
	return status, nil
}

func (r *Registry) IsSelectable(ctx context.Context, merchantID string, provider domain.Provider) (bool, error) {
	status, err := r.Status(ctx, merchantID, provider)
	if err != nil {
		return false, err
	}
	return status.Selectable(), nil
}

func (r *Registry) List(ctx context.Context, merchantID string) ([]domain.ProviderStatus, error) {
	out := make([]domain.ProviderStatus, 0, len(domain.Providers))
	for _, p := range domain.Providers {
		status, err := r.Status(ctx, merchantID, p)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

func (r *Registry) RecordSessionOutcome(provider domain.Provider, ok bool) {
	if provider == domain.ProviderDemo {
		return
	}
	r.breaker.Record(provider, ok)
}

func (r *Registry) Circuit(provider domain.Provider) CircuitState {
	return r.breaker.State(provider)
}

// ProviderHealth pairs a provider's status with its circuit state.
type ProviderHealth struct {
	domain.ProviderStatus
	Circuit CircuitState `json:"circuit"`
}

func (r *Registry) Snapshot(ctx context.Context, merchantID string) ([]ProviderHealth, error) {
	statuses, err := r.List(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	out := make([]ProviderHealth, 0, len(statuses))
	for _, status := range statuses {
		circuit := CircuitClosed
		if status.Provider != domain.ProviderDemo {
			circuit = r.Circuit(status.Provider)
		}
		out = append(out, ProviderHealth{ProviderStatus: status, Circuit: circuit})
	}
	return out, nil
}
