package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

type Stripe struct {
	baseURL string
	client  *http.Client
}

func NewStripe(baseURL string) *Stripe {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Stripe{baseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient()}
}

func (s *Stripe) Provider() domain.Provider { return domain.ProviderStripe }

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := requireFields(domain.ProviderStripe, req.Config, "secretKey", "publishableKey"); err != nil {
		return Session{}, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[pasarela_payment_intent_id]", req.IntentID)
	form.Set("metadata[pasarela_merchant_id]", req.MerchantID)
	if req.Description != "" {
		form.Set("description", req.Description)
	}

	var resp struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := s.post(ctx, "/v1/payment_intents", req.Config["secretKey"], providerIdempotencyKey(req), form, &resp); err != nil {
		return Session{}, err
	}
	if resp.ID == "" || resp.ClientSecret == "" {
		return Session{}, downstream(domain.ProviderStripe, domain.ProviderErrorUnknown, fmt.Errorf("payment intent response missing id or client_secret"))
	}

	return Session{
		ProviderRef: resp.ID,
		CheckoutConfig: domain.CheckoutConfig{
			"type":           string(domain.ProviderStripe),
			"publishableKey": req.Config["publishableKey"],
			"clientSecret":   resp.ClientSecret,
		},
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if err := requireFields(domain.ProviderStripe, req.Config, "secretKey"); err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("payment_intent", req.ProviderRef)
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))

	var resp struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, "/v1/refunds", req.Config["secretKey"], "po:refund:"+req.IntentID, form, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Stripe) post(ctx context.Context, path, secretKey, idempotencyKey string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return downstream(domain.ProviderStripe, domain.ProviderErrorUnknown, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return downstream(domain.ProviderStripe, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return downstream(domain.ProviderStripe, classifyTransport(err), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var se stripeError
		_ = json.Unmarshal(body, &se)
		errType := classifyStatus(resp.StatusCode)
		if se.Error.Type == "card_error" {
			errType = domain.ProviderErrorDecline
		}
		return downstream(domain.ProviderStripe, errType, fmt.Errorf("stripe %s: status %d %s", path, resp.StatusCode, se.Error.Code))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return downstream(domain.ProviderStripe, domain.ProviderErrorUnknown, fmt.Errorf("decode stripe response: %w", err))
	}
	return nil
}
