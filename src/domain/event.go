package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	EventTypePaymentSucceeded      = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed         = "PAYMENT_FAILED"
	EventTypePaymentProcessing     = "PAYMENT_PROCESSING"
	EventTypeRequiresPaymentMethod = "REQUIRES_PAYMENT_METHOD"
	EventTypeRefundSucceeded       = "REFUND_SUCCEEDED"
	EventTypeCallbackRejected      = "CALLBACK_REJECTED"
	EventTypeSessionCreated        = "PROVIDER_CREATE_SESSION_SUCCEEDED"
	EventTypeSessionCreationFailed = "PROVIDER_CREATE_SESSION_FAILED"
)

// PaymentEvent is one audited provider interaction. Payload never carries
// credentials; PayloadHash is the hex SHA-256 of the raw payload.
type PaymentEvent struct {
	ID          string    `json:"id"`
	IntentID    string    `json:"paymentIntentId"`
	Provider    Provider  `json:"provider"`
	Type        string    `json:"eventType"`
	PayloadHash string    `json:"payloadHash"`
	Payload     string    `json:"payload,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// CallbackEventType names the audit entry for an applied callback event.
func CallbackEventType(e Event) string {
	switch e {
	case EventProviderSucceeded:
		return EventTypePaymentSucceeded
	case EventProviderFailed:
		return EventTypePaymentFailed
	case EventProviderProcessing:
		return EventTypePaymentProcessing
	case EventProviderRequiresMethod:
		return EventTypeRequiresPaymentMethod
	case EventRefund:
		return EventTypeRefundSucceeded
	}
	return string(e)
}
