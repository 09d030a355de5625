package provider

import (
	"context"
	"strings"
	"time"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

// DeclineCVV is the card code the demo simulator always declines.
const DeclineCVV = "000"

// Demo is the always-available simulated provider.
type Demo struct {
	baseURL string
}

func NewDemo(frontendBaseURL string) *Demo {
	if frontendBaseURL == "" {
		frontendBaseURL = "http://localhost:3000"
	}
	return &Demo{baseURL: strings.TrimRight(frontendBaseURL, "/")}
}

func (d *Demo) Provider() domain.Provider { return domain.ProviderDemo }

func (d *Demo) CreateSession(_ context.Context, req SessionRequest) (Session, error) {
	return Session{
		ProviderRef: "demo_" + req.IntentID,
		CheckoutConfig: domain.CheckoutConfig{
			"type":            string(domain.ProviderDemo),
			"paymentIntentId": req.IntentID,
			"amountMinor":     req.AmountMinor,
			"currency":        req.Currency,
			"message":         "Demo mode active. No external provider configured.",
			"checkoutUrl":     d.baseURL + "/demo-checkout/" + req.IntentID,
		},
	}, nil
}

func (d *Demo) Refund(_ context.Context, req RefundRequest) (string, error) {
	ref := req.ProviderRef
	if ref == "" {
		ref = "unknown"
	}
	return "demo_refund_" + ref, nil
}

// AuthorizeEvent is decided by the CVV alone; no other card field is checked.
func AuthorizeEvent(card domain.Card) domain.Event {
	if card.CVV == DeclineCVV {
		return domain.EventDemoAuthorizeDecline
	}
	return domain.EventDemoAuthorizeApprove
}

// Authorize settles a demo intent. Terminal intents are rejected.
func (d *Demo) Authorize(intent domain.PaymentIntent, card domain.Card, now time.Time) (domain.PaymentIntent, bool, error) {
	if intent.Provider != domain.ProviderDemo {
		return intent, false, domain.ErrNotDemoIntent
	}
	return domain.Transition(intent, AuthorizeEvent(card), now)
}

// Cancel fails an unsettled demo intent and refunds a succeeded one.
func (d *Demo) Cancel(intent domain.PaymentIntent, now time.Time) (domain.PaymentIntent, bool, error) {
	if intent.Provider != domain.ProviderDemo {
		return intent, false, domain.ErrNotDemoIntent
	}
	return domain.Transition(intent, domain.EventDemoCancel, now)
}
