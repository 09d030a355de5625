package domain

import (
	"strings"
)

type Provider string

const (
	ProviderStripe     Provider = "STRIPE"
	ProviderAdyen      Provider = "ADYEN"
	ProviderMastercard Provider = "MASTERCARD"
	ProviderPaypal     Provider = "PAYPAL"
	ProviderDemo       Provider = "DEMO"
)

// Providers lists every known provider in display order.
var Providers = []Provider{
	ProviderStripe,
	ProviderAdyen,
	ProviderMastercard,
	ProviderPaypal,
	ProviderDemo,
}

func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// PreferenceAuto lets the routing engine pick the provider.
const PreferenceAuto = "AUTO"

// Preference is either AUTO or an explicit provider.
type Preference struct {
	Provider Provider
}

func (p Preference) Auto() bool { return p.Provider == "" }

func (p Preference) String() string {
	if p.Auto() {
		return PreferenceAuto
	}
	return string(p.Provider)
}

func ParsePreference(s string) (Preference, error) {
	if strings.TrimSpace(s) == "" || strings.EqualFold(strings.TrimSpace(s), PreferenceAuto) {
		return Preference{}, nil
	}
	p, ok := ParseProvider(s)
	if !ok {
		return Preference{}, &ValidationError{Field: "providerPreference", Message: "unknown provider " + s}
	}
	return Preference{Provider: p}, nil
}

// RequiredFields are the credentials each integration needs before it counts as configured.
var RequiredFields = map[Provider][]string{
	ProviderStripe:     {"secretKey", "publishableKey"},
	ProviderAdyen:      {"apiKey", "merchantAccount", "clientKey"},
	ProviderMastercard: {"gatewayHost", "merchantId", "apiPassword"},
	ProviderPaypal:     {"clientId", "clientSecret"},
}

type ProviderConfig struct {
	Provider   Provider          `json:"provider"`
	MerchantID string            `json:"merchantId,omitempty"`
	Enabled    bool              `json:"enabled"`
	Config     map[string]string `json:"config,omitempty"`
}

func (c ProviderConfig) MissingFields() []string {
	var missing []string
	for _, field := range RequiredFields[c.Provider] {
		if strings.TrimSpace(c.Config[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Masked returns a copy safe to render back to an operator.
func (c ProviderConfig) Masked() ProviderConfig {
	out := c
	out.Config = make(map[string]string, len(c.Config))
	for k, v := range c.Config {
		if len(v) <= 4 {
			out.Config[k] = "****"
			continue
		}
		out.Config[k] = "****" + v[len(v)-4:]
	}
	return out
}

const (
	StatusReasonOK             = "OK"
	StatusReasonMissingFields  = "MISSING_FIELDS"
	StatusReasonDisabled       = "DISABLED"
	StatusReasonUnhealthy      = "UNHEALTHY"
	StatusReasonNotImplemented = "NOT_IMPLEMENTED"
)

type ProviderStatus struct {
	Provider   Provider `json:"provider"`
	Configured bool     `json:"configured"`
	Enabled    bool     `json:"enabled"`
	Healthy    bool     `json:"healthy"`
	Reason     string   `json:"reason"`
}

func (s ProviderStatus) Selectable() bool {
	if s.Provider == ProviderDemo {
		return true
	}
	return s.Configured && s.Enabled && s.Healthy
}
