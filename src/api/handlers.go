package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/alexsandroveiga/pasarela/src/domain"
	"github.com/alexsandroveiga/pasarela/src/health"
	"github.com/alexsandroveiga/pasarela/src/messaging"
	"github.com/alexsandroveiga/pasarela/src/repository"
	"github.com/alexsandroveiga/pasarela/src/service"
)

const headerIdempotencyKey = "Idempotency-Key"

type Intents interface {
	Create(ctx context.Context, req service.CreateRequest) (service.Result, error)
	Get(ctx context.Context, merchantID, id string) (service.Result, error)
	List(ctx context.Context, merchantID string, filter domain.IntentFilter) ([]domain.PaymentIntent, error)
	Reroute(ctx context.Context, merchantID, id, reason string, provider *domain.Provider) (service.Result, error)
	DemoAuthorize(ctx context.Context, merchantID, id string, card domain.Card) (domain.PaymentIntent, error)
	DemoCancel(ctx context.Context, merchantID, id string) (domain.PaymentIntent, error)
	Refund(ctx context.Context, merchantID, id string) (domain.PaymentIntent, error)
	Events(ctx context.Context, intentID string) ([]domain.PaymentEvent, error)
}

type ProviderStatuses interface {
	List(ctx context.Context, merchantID string) ([]domain.ProviderStatus, error)
	Snapshot(ctx context.Context, merchantID string) ([]health.ProviderHealth, error)
}

type handlers struct {
	intents   Intents
	providers ProviderStatuses
	configs   repository.ProviderConfigStore
	decisions repository.DecisionLog
	callbacks messaging.CallbackQueue
}

type createBody struct {
	AmountMinor        int64  `json:"amountMinor"`
	Currency           string `json:"currency"`
	Description        string `json:"description"`
	ProviderPreference string `json:"providerPreference"`
}

type rerouteBody struct {
	Reason   string `json:"reason"`
	Provider string `json:"provider"`
}

type providerConfigBody struct {
	Enabled bool              `json:"enabled"`
	Config  map[string]string `json:"config"`
}

type callbackBody struct {
	IntentID    string `json:"intentId"`
	ProviderRef string `json:"providerRef"`
	Event       string `json:"event"`
	Reason      string `json:"reason"`
}

func decode(c fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Body(), v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid request body"}
	}
	return nil
}

func creationResponse(res service.Result) fiber.Map {
	return fiber.Map{
		"intentId":          res.Intent.ID,
		"status":            res.Intent.Status,
		"provider":          res.Intent.Provider,
		"routingDecisionId": res.Intent.RoutingDecisionID,
		"routingReasonCode": res.Intent.RoutingReasonCode,
		"checkoutConfig":    res.CheckoutConfig,
	}
}

func (h *handlers) createIntent(c fiber.Ctx) error {
	var body createBody
	if err := decode(c, &body); err != nil {
		return err
	}
	res, err := h.intents.Create(c, service.CreateRequest{
		MerchantID:         merchantID(c),
		IdempotencyKey:     c.Get(headerIdempotencyKey),
		AmountMinor:        body.AmountMinor,
		Currency:           body.Currency,
		Description:        body.Description,
		ProviderPreference: body.ProviderPreference,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
		c.Set("Idempotent-Replayed", "true")
	}
	return c.Status(status).JSON(creationResponse(res))
}

func (h *handlers) getIntent(c fiber.Ctx) error {
	res, err := h.intents.Get(c, merchantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"paymentIntent": res.Intent, "checkoutConfig": res.CheckoutConfig})
}

func (h *handlers) listIntents(c fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return err
	}
	list, err := h.intents.List(c, merchantID(c), filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []domain.PaymentIntent{}
	}
	return c.JSON(list)
}

func parseFilter(c fiber.Ctx) (domain.IntentFilter, error) {
	var filter domain.IntentFilter
	if raw := c.Query("status"); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return filter, &domain.ValidationError{Field: "status", Message: "unknown status " + raw}
		}
		filter.Status = &status
	}
	err := parseWindow(c, &filter.From, &filter.To)
	return filter, err
}

func parseWindow(c fiber.Ctx, from, to *time.Time) error {
	for _, q := range []struct {
		name string
		dst  *time.Time
	}{{"from", from}, {"to", to}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return &domain.ValidationError{Field: q.name, Message: "invalid " + q.name + " datetime"}
		}
		*q.dst = t
	}
	return nil
}

func (h *handlers) rerouteIntent(c fiber.Ctx) error {
	var body rerouteBody
	if err := decode(c, &body); err != nil {
		return err
	}
	var explicit *domain.Provider
	if strings.TrimSpace(body.Provider) != "" {
		p, ok := domain.ParseProvider(body.Provider)
		if !ok {
			return &domain.ValidationError{Field: "provider", Message: "unknown provider " + body.Provider}
		}
		explicit = &p
	}
	res, err := h.intents.Reroute(c, merchantID(c), c.Params("id"), body.Reason, explicit)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(creationResponse(res))
}

func (h *handlers) demoAuthorize(c fiber.Ctx) error {
	var card domain.Card
	if err := decode(c, &card); err != nil {
		return err
	}
	intent, err := h.intents.DemoAuthorize(c, merchantID(c), c.Params("id"), card)
	if err != nil {
		return err
	}
	return c.JSON(intent)
}

func (h *handlers) demoCancel(c fiber.Ctx) error {
	intent, err := h.intents.DemoCancel(c, merchantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(intent)
}

func (h *handlers) refundIntent(c fiber.Ctx) error {
	intent, err := h.intents.Refund(c, merchantID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(intent)
}

func (h *handlers) listProviders(c fiber.Ctx) error {
	scope := merchantID(c)
	if scope == "" {
		scope = c.Query("merchantId")
	}
	statuses, err := h.providers.List(c, scope)
	if err != nil {
		return err
	}
	return c.JSON(statuses)
}

func (h *handlers) upsertProviderConfig(c fiber.Ctx) error {
	p, ok := domain.ParseProvider(c.Params("provider"))
	if !ok {
		return &domain.ValidationError{Field: "provider", Message: "unknown provider " + c.Params("provider")}
	}
	if p == domain.ProviderDemo {
		return &domain.ValidationError{Field: "provider", Message: "DEMO does not require configuration"}
	}
	var body providerConfigBody
	if err := decode(c, &body); err != nil {
		return err
	}
	cfg := domain.ProviderConfig{
		Provider:   p,
		MerchantID: c.Params("merchantId"),
		Enabled:    body.Enabled,
		Config:     body.Config,
	}
	if cfg.Config == nil {
		cfg.Config = map[string]string{}
	}
	if err := h.configs.Upsert(c, cfg); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"providerConfig": cfg.Masked(), "missingFields": cfg.MissingFields()})
}

func (h *handlers) resetProviderConfigs(c fiber.Ctx) error {
	if err := h.configs.Purge(c, c.Params("merchantId")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listDecisions serves ?intentId= from the per-intent index, otherwise
// filters by from, to and provider.
func (h *handlers) listDecisions(c fiber.Ctx) error {
	var (
		list []domain.RoutingDecision
		err  error
	)
	if intentID := c.Query("intentId"); intentID != "" {
		list, err = h.decisions.ForIntent(c, intentID)
	} else {
		var filter domain.DecisionFilter
		if err := parseWindow(c, &filter.From, &filter.To); err != nil {
			return err
		}
		if raw := c.Query("provider"); raw != "" {
			p, ok := domain.ParseProvider(raw)
			if !ok {
				return &domain.ValidationError{Field: "provider", Message: "unknown provider " + raw}
			}
			filter.Provider = p
		}
		list, err = h.decisions.Search(c, filter)
	}
	if err != nil {
		return err
	}
	if list == nil {
		list = []domain.RoutingDecision{}
	}
	return c.JSON(list)
}

func (h *handlers) getDecision(c fiber.Ctx) error {
	d, err := h.decisions.Get(c, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(d)
}

func (h *handlers) routingHealth(c fiber.Ctx) error {
	snapshot, err := h.providers.Snapshot(c, c.Query("merchantId"))
	if err != nil {
		return err
	}
	return c.JSON(snapshot)
}

func (h *handlers) listEvents(c fiber.Ctx) error {
	events, err := h.intents.Events(c, c.Params("id"))
	if err != nil {
		return err
	}
	if events == nil {
		events = []domain.PaymentEvent{}
	}
	return c.JSON(events)
}

// receiveCallback queues a provider notification for the worker pool.
func (h *handlers) receiveCallback(c fiber.Ctx) error {
	p, ok := domain.ParseProvider(c.Params("provider"))
	if !ok || p == domain.ProviderDemo {
		return fiber.ErrNotFound
	}
	var body callbackBody
	if err := decode(c, &body); err != nil {
		return err
	}
	event, ok := domain.ParseEvent(body.Event)
	if !ok {
		return &domain.ValidationError{Field: "event", Message: "unsupported event " + body.Event}
	}
	if body.IntentID == "" && body.ProviderRef == "" {
		return &domain.ValidationError{Field: "providerRef", Message: "intentId or providerRef is required"}
	}

	cb := domain.ProviderCallback{
		ID:          uuid.NewString(),
		Provider:    p,
		IntentID:    body.IntentID,
		ProviderRef: body.ProviderRef,
		Event:       event,
		Reason:      body.Reason,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := h.callbacks.Produce(c, cb); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"callbackId": cb.ID})
}
