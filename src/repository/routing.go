package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

var ErrDecisionNotFound = errors.New("routing decision not found")

// DecisionLog is append-only.
type DecisionLog interface {
	Append(ctx context.Context, d domain.RoutingDecision) error
	Get(ctx context.Context, id string) (domain.RoutingDecision, error)
	ForIntent(ctx context.Context, intentID string) ([]domain.RoutingDecision, error)
	Search(ctx context.Context, filter domain.DecisionFilter) ([]domain.RoutingDecision, error)
}

type CheckoutConfigStore interface {
	Save(ctx context.Context, intentID string, cfg domain.CheckoutConfig) error
	Get(ctx context.Context, intentID string) (domain.CheckoutConfig, error)
}

// ProviderConfigStore holds merchant overrides; MerchantID "" is the global scope.
type ProviderConfigStore interface {
	Get(ctx context.Context, merchantID string, provider domain.Provider) (domain.ProviderConfig, bool, error)
	Upsert(ctx context.Context, cfg domain.ProviderConfig) error
	List(ctx context.Context, merchantID string) ([]domain.ProviderConfig, error)
	// Purge drops every override of merchantID so the global configs apply again.
	Purge(ctx context.Context, merchantID string) error
}

func NewDecisionLog() DecisionLog {
	return &decisionLog{
		byID:     make(map[string]domain.RoutingDecision),
		byIntent: make(map[string][]string),
	}
}

type decisionLog struct {
	mu       sync.RWMutex
	byID     map[string]domain.RoutingDecision
	byIntent map[string][]string
	order    []string
}

func (l *decisionLog) Append(_ context.Context, d domain.RoutingDecision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[d.ID]; ok {
		return errors.New("routing decision " + d.ID + " already recorded")
	}
	d.Candidates = append([]domain.RoutingCandidate(nil), d.Candidates...)
	l.byID[d.ID] = d
	l.byIntent[d.IntentID] = append(l.byIntent[d.IntentID], d.ID)
	l.order = append(l.order, d.ID)
	return nil
}

func (l *decisionLog) Get(_ context.Context, id string) (domain.RoutingDecision, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.byID[id]
	if !ok {
		return domain.RoutingDecision{}, ErrDecisionNotFound
	}
	return d, nil
}

func (l *decisionLog) ForIntent(_ context.Context, intentID string) ([]domain.RoutingDecision, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byIntent[intentID]
	out := make([]domain.RoutingDecision, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.byID[id])
	}
	return out, nil
}

// Search returns matching decisions in the order they were appended.
func (l *decisionLog) Search(_ context.Context, filter domain.DecisionFilter) ([]domain.RoutingDecision, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.RoutingDecision, 0)
	for _, id := range l.order {
		if d := l.byID[id]; filter.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func NewCheckoutConfigStore() CheckoutConfigStore {
	return &checkoutConfigStore{configs: make(map[string]domain.CheckoutConfig)}
}

type checkoutConfigStore struct {
	mu      sync.RWMutex
	configs map[string]domain.CheckoutConfig
}

func (s *checkoutConfigStore) Save(_ context.Context, intentID string, cfg domain.CheckoutConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[intentID] = cfg
	return nil
}

// Get returns a nil config, not an error, when the intent never got a session.
func (s *checkoutConfigStore) Get(_ context.Context, intentID string) (domain.CheckoutConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configs[intentID], nil
}

func NewProviderConfigStore() ProviderConfigStore {
	return &providerConfigStore{configs: make(map[string]domain.ProviderConfig)}
}

type providerConfigStore struct {
	mu      sync.RWMutex
	configs map[string]domain.ProviderConfig
}

func providerConfigKey(merchantID string, provider domain.Provider) string {
	return merchantID + "|" + string(provider)
}

func (s *providerConfigStore) Get(_ context.Context, merchantID string, provider domain.Provider) (domain.ProviderConfig, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[providerConfigKey(merchantID, provider)]
	return cfg, ok, nil
}

func (s *providerConfigStore) Upsert(_ context.Context, cfg domain.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[providerConfigKey(cfg.MerchantID, cfg.Provider)] = cfg
	return nil
}

func (s *providerConfigStore) List(_ context.Context, merchantID string) ([]domain.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ProviderConfig
	for _, p := range domain.Providers {
		if cfg, ok := s.configs[providerConfigKey(merchantID, p)]; ok {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *providerConfigStore) Purge(_ context.Context, merchantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range domain.Providers {
		delete(s.configs, providerConfigKey(merchantID, p))
	}
	return nil
}
