package domain

import (
	"time"
)

// ProviderCallback is a provider-side status notification awaiting application.
// It names the intent directly or through the provider reference.
type ProviderCallback struct {
	ID          string    `json:"id"`
	Provider    Provider  `json:"provider"`
	IntentID    string    `json:"intentId,omitempty"`
	ProviderRef string    `json:"providerRef,omitempty"`
	Event       Event     `json:"event"`
	Reason      string    `json:"reason,omitempty"`
	ReceivedAt  time.Time `json:"receivedAt"`
	Attempts    int       `json:"attempts,omitempty"`
}
