package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/idempotency"
	"github.com/alexsandroveiga/pasarela/src/metrics"
	"github.com/alexsandroveiga/pasarela/src/provider"
	"github.com/alexsandroveiga/pasarela/src/repository"
	"github.com/alexsandroveiga/pasarela/src/routing"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

type Router interface {
	Route(ctx context.Context, req routing.Request) (domain.RoutingDecision, error)
	Record(ctx context.Context, d domain.RoutingDecision) error
}

// ProviderHealth resolves credentials and learns from session outcomes.
type ProviderHealth interface {
	Config(ctx context.Context, merchantID string, p domain.Provider) (domain.ProviderConfig, error)
	RecordSessionOutcome(p domain.Provider, ok bool)
}

type Dependencies struct {
	Intents         repository.IntentStore
	Checkout        repository.CheckoutConfigStore
	Events          repository.EventLog
	Guard           *idempotency.Guard
	Router          Router
	Health          ProviderHealth
	Adapters        *provider.Registry
	Demo            *provider.Demo
	ProviderTimeout time.Duration
	MaxAttempts     int
	Log             zerolog.Logger
}

type PaymentIntents struct {
	intents         repository.IntentStore
	checkout        repository.CheckoutConfigStore
	events          repository.EventLog
	guard           *idempotency.Guard
	router          Router
	health          ProviderHealth
	adapters        *provider.Registry
	demo            *provider.Demo
	lifecycle       *Lifecycle
	chains          *keyedMutex
	refunds         *keyedMutex
	providerTimeout time.Duration
	maxAttempts     int
	now             func() time.Time
	newID           func() string
	log             zerolog.Logger
}

func NewPaymentIntents(deps Dependencies) *PaymentIntents {
	if deps.ProviderTimeout <= 0 {
		deps.ProviderTimeout = 10 * time.Second
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	if deps.Events == nil {
		deps.Events = repository.NewEventLog()
	}
	return &PaymentIntents{
		intents:         deps.Intents,
		checkout:        deps.Checkout,
		events:          deps.Events,
		guard:           deps.Guard,
		router:          deps.Router,
		health:          deps.Health,
		adapters:        deps.Adapters,
		demo:            deps.Demo,
		lifecycle:       NewLifecycle(deps.Intents, deps.Log),
		chains:          newKeyedMutex(),
		refunds:         newKeyedMutex(),
		providerTimeout: deps.ProviderTimeout,
		maxAttempts:     deps.MaxAttempts,
		now:             time.Now,
		newID:           uuid.NewString,
		log:             deps.Log,
	}
}

type CreateRequest struct {
	MerchantID         string
	IdempotencyKey     string
	AmountMinor        int64
	Currency           string
	Description        string
	ProviderPreference string
}

// Result is the creation response shape, shared by reads and reroutes.
type Result struct {
	Intent         domain.PaymentIntent
	CheckoutConfig domain.CheckoutConfig
	Replayed       bool
}

// openRequest describes one attempt, first or rerouted.
type openRequest struct {
	merchantID     string
	idempotencyKey string
	amountMinor    int64
	currency       string
	description    string
	preference     domain.Preference
	excluded       map[domain.Provider]bool
	retry          bool
	rootID         string
	attempt        int
}

func (s *PaymentIntents) Create(ctx context.Context, req CreateRequest) (Result, error) {
	if req.AmountMinor <= 0 {
		return Result{}, &domain.ValidationError{Field: "amountMinor", Message: "must be a positive integer"}
	}
	if !currencyPattern.MatchString(req.Currency) {
		return Result{}, &domain.ValidationError{Field: "currency", Message: "must be a 3-letter code"}
	}
	pref, err := domain.ParsePreference(req.ProviderPreference)
	if err != nil {
		return Result{}, err
	}
	currency := strings.ToUpper(req.Currency)
	key := strings.TrimSpace(req.IdempotencyKey)
	fp := idempotency.Fingerprint{
		AmountMinor:        req.AmountMinor,
		Currency:           currency,
		Description:        req.Description,
		ProviderPreference: pref.String(),
	}

	var fromStore bool
	id, replayed, err := s.guard.Do(ctx, req.MerchantID, key, fp, func(ctx context.Context) (string, error) {
		if key != "" {
			existing, err := s.byIdempotencyKey(ctx, req.MerchantID, key, fp)
			if err == nil {
				fromStore = true
				return existing.ID, nil
			}
			if !errors.Is(err, domain.ErrIntentNotFound) {
				return "", err
			}
		}
		intent, err := s.open(ctx, openRequest{
			merchantID:     req.MerchantID,
			idempotencyKey: key,
			amountMinor:    req.AmountMinor,
			currency:       currency,
			description:    req.Description,
			preference:     pref,
			attempt:        1,
		})
		if err != nil {
			return "", err
		}
		return intent.ID, nil
	})
	if err != nil {
		return Result{}, err
	}
	return s.result(ctx, id, replayed || fromStore)
}

// byIdempotencyKey finds an intent bound to key after its guard record expired
// or was written by another instance.
func (s *PaymentIntents) byIdempotencyKey(ctx context.Context, merchantID, key string, fp idempotency.Fingerprint) (domain.PaymentIntent, error) {
	existing, err := s.intents.FindByIdempotencyKey(ctx, merchantID, key)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	stored := idempotency.Fingerprint{
		AmountMinor:        existing.AmountMinor,
		Currency:           existing.Currency,
		Description:        existing.Description,
		ProviderPreference: existing.ProviderPreference,
	}
	if field := stored.Diff(fp); field != "" {
		return domain.PaymentIntent{}, &domain.IdempotencyConflictError{Key: key, Field: field}
	}
	return existing, nil
}

// open routes, persists and opens the provider session for one attempt.
func (s *PaymentIntents) open(ctx context.Context, req openRequest) (domain.PaymentIntent, error) {
	id := s.newID()
	decision, err := s.router.Route(ctx, routing.Request{
		IntentID:   id,
		MerchantID: req.merchantID,
		Preference: req.preference,
		Excluded:   req.excluded,
		Retry:      req.retry,
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.PaymentIntent{}, err
	}

	rootID := req.rootID
	if rootID == "" {
		rootID = id
	}
	now := s.now().UTC()
	draft := domain.PaymentIntent{
		ID:                  id,
		MerchantID:          req.merchantID,
		AmountMinor:         req.amountMinor,
		Currency:            req.currency,
		Description:         req.description,
		Provider:            decision.ChosenProvider,
		IdempotencyKey:      req.idempotencyKey,
		ProviderPreference:  req.preference.String(),
		RoutingDecisionID:   decision.ID,
		RoutingReasonCode:   decision.ReasonCode,
		RootPaymentIntentID: rootID,
		AttemptNumber:       req.attempt,
		CreatedAt:           now,
	}
	intent, _, err := domain.Transition(draft, domain.EventCreate, now)
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return s.byIdempotencyKey(ctx, req.merchantID, req.idempotencyKey, idempotency.Fingerprint{
				AmountMinor:        req.amountMinor,
				Currency:           req.currency,
				Description:        req.description,
				ProviderPreference: req.preference.String(),
			})
		}
		return domain.PaymentIntent{}, fmt.Errorf("persist payment intent: %w", err)
	}
	metrics.Transitions.WithLabelValues(string(domain.EventCreate), string(intent.Status)).Inc()
	if err := s.router.Record(context.WithoutCancel(ctx), decision); err != nil {
		s.log.Error().Err(err).Str("intentId", intent.ID).Str("decisionId", decision.ID).Msg("routing decision not recorded")
	}

	s.log.Info().
		Str("intentId", intent.ID).
		Str("merchantId", intent.MerchantID).
		Str("provider", string(intent.Provider)).
		Str("reason", intent.RoutingReasonCode).
		Int("attempt", intent.AttemptNumber).
		Msg("payment intent created")

	return s.openSession(ctx, intent)
}

// openSession runs detached from the caller so a disconnect cannot strand a
// persisted intent half-opened. A session failure fails the intent, not the call.
func (s *PaymentIntents) openSession(ctx context.Context, intent domain.PaymentIntent) (domain.PaymentIntent, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
	defer cancel()

	session, err := s.createSession(sctx, intent)
	if err != nil {
		reason := "DOWNSTREAM_" + string(domain.ProviderErrorUnknown)
		var downstream *domain.DownstreamProviderError
		if errors.As(err, &downstream) {
			reason = downstream.Reason()
		}
		s.log.Warn().Err(err).Str("intentId", intent.ID).Str("provider", string(intent.Provider)).Msg("provider session failed")
		s.audit(sctx, intent, domain.EventTypeSessionCreationFailed, map[string]string{"reason": reason, "error": err.Error()})

		failed, uerr := s.lifecycle.apply(sctx, intent.ID, domain.EventProviderFailed, func(p *domain.PaymentIntent) {
			p.FailureReason = reason
		})
		if uerr != nil {
			return intent, fmt.Errorf("fail payment intent %s: %w", intent.ID, uerr)
		}
		return failed, nil
	}

	opened, err := s.lifecycle.Update(sctx, intent.ID, func(current domain.PaymentIntent) (domain.PaymentIntent, bool, error) {
		if current.ProviderRef == session.ProviderRef {
			return current, false, nil
		}
		next := current
		next.ProviderRef = session.ProviderRef
		next.UpdatedAt = s.now().UTC()
		next.Version++
		return next, true, nil
	})
	if err != nil {
		return intent, fmt.Errorf("record provider reference: %w", err)
	}
	s.audit(sctx, opened, domain.EventTypeSessionCreated, map[string]string{"providerRef": session.ProviderRef})
	if err := s.checkout.Save(sctx, intent.ID, session.CheckoutConfig); err != nil {
		return opened, fmt.Errorf("save checkout config: %w", err)
	}
	return opened, nil
}

// audit appends to the event log. A failed append is logged, never surfaced.
func (s *PaymentIntents) audit(ctx context.Context, intent domain.PaymentIntent, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("intentId", intent.ID).Str("eventType", eventType).Msg("encode audit payload")
		return
	}
	event := domain.PaymentEvent{
		ID:          s.newID(),
		IntentID:    intent.ID,
		Provider:    intent.Provider,
		Type:        eventType,
		PayloadHash: domain.HashPayload(raw),
		Payload:     string(raw),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.events.Append(context.WithoutCancel(ctx), event); err != nil {
		s.log.Error().Err(err).Str("intentId", intent.ID).Str("eventType", eventType).Msg("append payment event")
	}
}

// Events returns the audit trail of one intent, oldest first.
func (s *PaymentIntents) Events(ctx context.Context, intentID string) ([]domain.PaymentEvent, error) {
	if _, err := s.intents.Get(ctx, intentID); err != nil {
		return nil, err
	}
	return s.events.ForIntent(ctx, intentID)
}

func (s *PaymentIntents) createSession(ctx context.Context, intent domain.PaymentIntent) (provider.Session, error) {
	adapter, ok := s.adapters.Get(intent.Provider)
	if !ok {
		return provider.Session{}, &domain.DownstreamProviderError{
			Provider: intent.Provider,
			Type:     domain.ProviderErrorValidation,
			Err:      provider.ErrNotImplemented,
		}
	}
	cfg, err := s.health.Config(ctx, intent.MerchantID, intent.Provider)
	if err != nil {
		return provider.Session{}, fmt.Errorf("provider config: %w", err)
	}

	session, err := adapter.CreateSession(ctx, provider.SessionRequest{
		IntentID:       intent.ID,
		MerchantID:     intent.MerchantID,
		AmountMinor:    intent.AmountMinor,
		Currency:       intent.Currency,
		Description:    intent.Description,
		IdempotencyKey: intent.IdempotencyKey,
		Config:         cfg.Config,
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderSessions.WithLabelValues(string(intent.Provider), outcome).Inc()
	s.health.RecordSessionOutcome(intent.Provider, !countsAgainstProvider(err))
	return session, err
}

// countsAgainstProvider is true for failures that say the provider is degraded
// rather than that the request was refused.
func countsAgainstProvider(err error) bool {
	if err == nil {
		return false
	}
	var downstream *domain.DownstreamProviderError
	if !errors.As(err, &downstream) {
		return true
	}
	switch downstream.Type {
	case domain.ProviderErrorDecline, domain.ProviderErrorValidation:
		return false
	}
	return true
}

func (s *PaymentIntents) result(ctx context.Context, id string, replayed bool) (Result, error) {
	intent, err := s.intents.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	cfg, err := s.checkout.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("load checkout config: %w", err)
	}
	return Result{Intent: intent, CheckoutConfig: cfg, Replayed: replayed}, nil
}

// Get hides intents of other merchants behind not found.
func (s *PaymentIntents) Get(ctx context.Context, merchantID, id string) (Result, error) {
	if _, err := s.owned(ctx, merchantID, id); err != nil {
		return Result{}, err
	}
	return s.result(ctx, id, false)
}

func (s *PaymentIntents) List(ctx context.Context, merchantID string, filter domain.IntentFilter) ([]domain.PaymentIntent, error) {
	return s.intents.List(ctx, merchantID, filter)
}

func (s *PaymentIntents) owned(ctx context.Context, merchantID, id string) (domain.PaymentIntent, error) {
	intent, err := s.intents.Get(ctx, id)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent.MerchantID != merchantID {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}
	return intent, nil
}

// Reroute opens a new attempt chained to id. The existing intent is never written.
func (s *PaymentIntents) Reroute(ctx context.Context, merchantID, id, reason string, explicit *domain.Provider) (Result, error) {
	existing, err := s.owned(ctx, merchantID, id)
	if err != nil {
		return Result{}, err
	}

	unlock := s.chains.Lock(existing.RootID())
	defer unlock()

	chain, err := s.intents.Chain(ctx, existing.RootID())
	if err != nil {
		return Result{}, fmt.Errorf("load attempt chain: %w", err)
	}
	if len(chain) > 0 && chain[len(chain)-1].ID != existing.ID {
		return Result{}, &domain.IllegalTransitionError{From: existing.Status, Event: domain.EventReroute}
	}
	if existing.AttemptNumber >= s.maxAttempts {
		return Result{}, domain.ErrTooManyAttempts
	}

	req := openRequest{
		merchantID:  existing.MerchantID,
		amountMinor: existing.AmountMinor,
		currency:    existing.Currency,
		description: existing.Description,
		retry:       true,
		rootID:      existing.RootID(),
		attempt:     existing.AttemptNumber + 1,
	}
	if explicit != nil {
		req.preference = domain.Preference{Provider: *explicit}
	} else {
		req.excluded = map[domain.Provider]bool{existing.Provider: true}
	}

	intent, err := s.open(ctx, req)
	if err != nil {
		return Result{}, err
	}
	s.log.Info().
		Str("intentId", intent.ID).
		Str("previousIntentId", existing.ID).
		Str("rootId", intent.RootPaymentIntentID).
		Str("requestedReason", reason).
		Msg("payment intent rerouted")
	return s.result(ctx, intent.ID, false)
}

func (s *PaymentIntents) DemoAuthorize(ctx context.Context, merchantID, id string, card domain.Card) (domain.PaymentIntent, error) {
	return s.lifecycle.Record(ctx, id, provider.AuthorizeEvent(card), func(current domain.PaymentIntent) (domain.PaymentIntent, bool, error) {
		if current.MerchantID != merchantID {
			return current, false, domain.ErrIntentNotFound
		}
		return s.demo.Authorize(current, card, s.now().UTC())
	})
}

func (s *PaymentIntents) DemoCancel(ctx context.Context, merchantID, id string) (domain.PaymentIntent, error) {
	return s.lifecycle.Record(ctx, id, domain.EventDemoCancel, func(current domain.PaymentIntent) (domain.PaymentIntent, bool, error) {
		if current.MerchantID != merchantID {
			return current, false, domain.ErrIntentNotFound
		}
		return s.demo.Cancel(current, s.now().UTC())
	})
}

// Refund asks the provider to return a succeeded payment. Refunding a
// refunded intent is a no-op.
func (s *PaymentIntents) Refund(ctx context.Context, merchantID, id string) (domain.PaymentIntent, error) {
	unlock := s.refunds.Lock(id)
	defer unlock()

	intent, err := s.owned(ctx, merchantID, id)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	switch intent.Status {
	case domain.StatusRefunded:
		return intent, nil
	case domain.StatusSucceeded:
	default:
		return intent, &domain.IllegalTransitionError{From: intent.Status, Event: domain.EventRefund}
	}

	adapter, ok := s.adapters.Get(intent.Provider)
	if !ok {
		return intent, &domain.DownstreamProviderError{Provider: intent.Provider, Type: domain.ProviderErrorValidation, Err: provider.ErrNotImplemented}
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
	defer cancel()
	cfg, err := s.health.Config(rctx, intent.MerchantID, intent.Provider)
	if err != nil {
		return intent, fmt.Errorf("provider config: %w", err)
	}
	refundRef, err := adapter.Refund(rctx, provider.RefundRequest{
		IntentID:    intent.ID,
		ProviderRef: intent.ProviderRef,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		Config:      cfg.Config,
	})
	if err != nil {
		return intent, err
	}

	refunded, err := s.lifecycle.Apply(rctx, id, domain.EventRefund)
	if err != nil {
		return intent, err
	}
	s.audit(rctx, refunded, domain.EventTypeRefundSucceeded, map[string]any{
		"refundRef":   refundRef,
		"amountMinor": intent.AmountMinor,
		"currency":    intent.Currency,
	})
	s.log.Info().Str("intentId", id).Str("refundRef", refundRef).Msg("payment intent refunded")
	return refunded, nil
}

// HandleCallback applies a provider notification. Redelivered callbacks are
// no-ops; callbacks that arrive after a terminal state are rejected.
func (s *PaymentIntents) HandleCallback(ctx context.Context, cb domain.ProviderCallback) (domain.PaymentIntent, error) {
	if _, ok := domain.ParseEvent(string(cb.Event)); !ok {
		return domain.PaymentIntent{}, &domain.ValidationError{Field: "event", Message: "unsupported event " + string(cb.Event)}
	}

	var (
		intent domain.PaymentIntent
		err    error
	)
	switch {
	case cb.IntentID != "":
		intent, err = s.intents.Get(ctx, cb.IntentID)
	case cb.ProviderRef != "":
		intent, err = s.intents.FindByProviderRef(ctx, cb.Provider, cb.ProviderRef)
	default:
		return domain.PaymentIntent{}, &domain.ValidationError{Field: "providerRef", Message: "intentId or providerRef is required"}
	}
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent.Provider != cb.Provider {
		return domain.PaymentIntent{}, domain.ErrIntentNotFound
	}

	updated, err := s.lifecycle.apply(ctx, intent.ID, cb.Event, func(p *domain.PaymentIntent) {
		if cb.Event == domain.EventProviderFailed && cb.Reason != "" {
			p.FailureReason = cb.Reason
		}
	})
	var illegal *domain.IllegalTransitionError
	switch {
	case err == nil:
		s.audit(ctx, updated, domain.CallbackEventType(cb.Event), cb)
	case errors.As(err, &illegal):
		s.audit(ctx, intent, domain.EventTypeCallbackRejected, cb)
	}
	return updated, err
}
