package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusCreated               Status = "CREATED"
	StatusRequiresPaymentMethod Status = "REQUIRES_PAYMENT_METHOD"
	StatusProcessing            Status = "PROCESSING"
	StatusSucceeded             Status = "SUCCEEDED"
	StatusFailed                Status = "FAILED"
	StatusRefunded              Status = "REFUNDED"
)

// Terminal reports whether no event can move the intent any further.
// SUCCEEDED is not terminal because it can still be refunded.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusCreated, StatusRequiresPaymentMethod, StatusProcessing,
		StatusSucceeded, StatusFailed, StatusRefunded:
		return st, true
	}
	return "", false
}

const (
	ReasonAutoSelected           = "AUTO_SELECTED"
	ReasonExplicitSelected       = "EXPLICIT_SELECTED"
	ReasonUserRetry              = "USER_RETRY"
	ReasonUserRetryOtherProvider = "USER_RETRY_OTHER_PROVIDER"
	ReasonDemoMode               = "DEMO_MODE"
)

type PaymentIntent struct {
	ID                  string    `json:"id"`
	MerchantID          string    `json:"merchantId"`
	AmountMinor         int64     `json:"amountMinor"`
	Currency            string    `json:"currency"`
	Description         string    `json:"description,omitempty"`
	Status              Status    `json:"status"`
	Provider            Provider  `json:"provider"`
	ProviderRef         string    `json:"providerRef,omitempty"`
	IdempotencyKey      string    `json:"idempotencyKey,omitempty"`
	ProviderPreference  string    `json:"providerPreference,omitempty"`
	RoutingDecisionID   string    `json:"routingDecisionId"`
	RoutingReasonCode   string    `json:"routingReasonCode"`
	RootPaymentIntentID string    `json:"rootPaymentIntentId"`
	AttemptNumber       int       `json:"attemptNumber"`
	FailureReason       string    `json:"failureReason,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	Version             int64     `json:"-"`
}

// RootID returns the chain root, treating an unset root as the intent itself.
func (p PaymentIntent) RootID() string {
	if p.RootPaymentIntentID == "" {
		return p.ID
	}
	return p.RootPaymentIntentID
}

type RoutingCandidate struct {
	Provider Provider `json:"provider"`
	Reason   string   `json:"reason"`
	Excluded bool     `json:"excluded,omitempty"`
}

type RoutingDecision struct {
	ID             string             `json:"id"`
	IntentID       string             `json:"intentId"`
	MerchantID     string             `json:"merchantId"`
	ChosenProvider Provider           `json:"chosenProvider"`
	ReasonCode     string             `json:"reasonCode"`
	Candidates     []RoutingCandidate `json:"candidates,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

type Card struct {
	CardNumber string `json:"cardNumber,omitempty"`
	ExpMonth   string `json:"expMonth,omitempty"`
	ExpYear    string `json:"expYear,omitempty"`
	CVV        string `json:"cvv,omitempty"`
}

type DecisionFilter struct {
	From     time.Time
	To       time.Time
	Provider Provider
}

func (f DecisionFilter) Match(d RoutingDecision) bool {
	if !f.From.IsZero() && d.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && d.Timestamp.After(f.To) {
		return false
	}
	return f.Provider == "" || d.ChosenProvider == f.Provider
}

type IntentFilter struct {
	Status *Status
	From   time.Time
	To     time.Time
}

func (f IntentFilter) Match(p PaymentIntent) bool {
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if !f.From.IsZero() && p.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && p.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// CheckoutConfig is the provider-specific bag handed to the checkout surface.
type CheckoutConfig map[string]any
