package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/metrics"
	"github.com/alexsandroveiga/pasarela/src/repository"
)

// DefaultPriority is the AUTO order when none is configured.
var DefaultPriority = []domain.Provider{
	domain.ProviderStripe,
	domain.ProviderAdyen,
	domain.ProviderMastercard,
	domain.ProviderPaypal,
}

const excludedReason = "EXCLUDED"

type StatusReader interface {
	Status(ctx context.Context, merchantID string, provider domain.Provider) (domain.ProviderStatus, error)
}

type Request struct {
	IntentID   string
	MerchantID string
	Preference domain.Preference
	Excluded   map[domain.Provider]bool
	// Retry marks a reroute; it changes only the reason codes.
	Retry bool
}

type Engine struct {
	status       StatusReader
	decisions    repository.DecisionLog
	priority     []domain.Provider
	demoFallback bool
	now          func() time.Time
	log          zerolog.Logger
}

func NewEngine(status StatusReader, decisions repository.DecisionLog, priority []domain.Provider, demoFallback bool, log zerolog.Logger) *Engine {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	return &Engine{
		status:       status,
		decisions:    decisions,
		priority:     priority,
		demoFallback: demoFallback,
		now:          time.Now,
		log:          log,
	}
}

// Route picks a provider. The decision is not stored until Record.
func (e *Engine) Route(ctx context.Context, req Request) (domain.RoutingDecision, error) {
	var (
		chosen     domain.Provider
		reason     string
		candidates []domain.RoutingCandidate
	)

	if !req.Preference.Auto() {
		p := req.Preference.Provider
		status, err := e.status.Status(ctx, req.MerchantID, p)
		if err != nil {
			return domain.RoutingDecision{}, fmt.Errorf("provider status %s: %w", p, err)
		}
		if req.Excluded[p] {
			return domain.RoutingDecision{}, &domain.ProviderNotSelectableError{Provider: p, Reason: excludedReason}
		}
		if !status.Selectable() {
			return domain.RoutingDecision{}, &domain.ProviderNotSelectableError{Provider: p, Reason: status.Reason}
		}
		chosen = p
		reason = domain.ReasonExplicitSelected
		if req.Retry {
			reason = domain.ReasonUserRetryOtherProvider
		}
		candidates = []domain.RoutingCandidate{{Provider: p, Reason: status.Reason}}
	} else {
		for _, p := range e.priority {
			status, err := e.status.Status(ctx, req.MerchantID, p)
			if err != nil {
				return domain.RoutingDecision{}, fmt.Errorf("provider status %s: %w", p, err)
			}
			candidates = append(candidates, domain.RoutingCandidate{Provider: p, Reason: status.Reason, Excluded: req.Excluded[p]})
			if chosen == "" && status.Selectable() && !req.Excluded[p] {
				chosen = p
			}
		}

		switch {
		case chosen != "":
			reason = domain.ReasonAutoSelected
			if req.Retry {
				reason = domain.ReasonUserRetry
			}
		case e.demoFallback:
			chosen = domain.ProviderDemo
			reason = domain.ReasonDemoMode
		default:
			e.log.Warn().Str("merchantId", req.MerchantID).Interface("candidates", candidates).Msg("no provider available")
			return domain.RoutingDecision{}, domain.ErrNoProviderAvailable
		}
	}

	decision := domain.RoutingDecision{
		ID:             uuid.NewString(),
		IntentID:       req.IntentID,
		MerchantID:     req.MerchantID,
		ChosenProvider: chosen,
		ReasonCode:     reason,
		Candidates:     candidates,
		Timestamp:      e.now().UTC(),
	}
	e.log.Debug().
		Str("intentId", req.IntentID).
		Str("provider", string(chosen)).
		Str("reason", reason).
		Msg("routed")
	return decision, nil
}

// Record appends a decision once the intent it routed exists.
func (e *Engine) Record(ctx context.Context, d domain.RoutingDecision) error {
	if err := e.decisions.Append(ctx, d); err != nil {
		return fmt.Errorf("record routing decision: %w", err)
	}
	metrics.RoutingDecisions.WithLabelValues(string(d.ChosenProvider), d.ReasonCode).Inc()
	return nil
}
