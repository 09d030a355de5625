package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

// Client is a merchant-side caller of the payment intents API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type CreateRequest struct {
	AmountMinor        int64  `json:"amountMinor"`
	Currency           string `json:"currency"`
	Description        string `json:"description,omitempty"`
	ProviderPreference string `json:"providerPreference,omitempty"`
}

type Created struct {
	IntentID          string                `json:"intentId"`
	Status            domain.Status         `json:"status"`
	Provider          domain.Provider       `json:"provider"`
	RoutingDecisionID string                `json:"routingDecisionId"`
	RoutingReasonCode string                `json:"routingReasonCode"`
	CheckoutConfig    domain.CheckoutConfig `json:"checkoutConfig"`
}

type intentEnvelope struct {
	PaymentIntent  domain.PaymentIntent  `json:"paymentIntent"`
	CheckoutConfig domain.CheckoutConfig `json:"checkoutConfig"`
}

func (c *Client) CreateIntent(ctx context.Context, idempotencyKey string, req CreateRequest) (Created, error) {
	var out Created
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	err := c.do(ctx, http.MethodPost, "/payment-intents", headers, req, &out)
	return out, err
}

func (c *Client) GetIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	var out intentEnvelope
	err := c.do(ctx, http.MethodGet, "/payment-intents/"+id, nil, nil, &out)
	return out.PaymentIntent, err
}

func (c *Client) DemoAuthorize(ctx context.Context, id string, card domain.Card) (domain.PaymentIntent, error) {
	var out domain.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/payment-intents/"+id+"/demo/authorize", nil, card, &out)
	return out, err
}

func (c *Client) DemoCancel(ctx context.Context, id string) (domain.PaymentIntent, error) {
	var out domain.PaymentIntent
	err := c.do(ctx, http.MethodPost, "/payment-intents/"+id+"/demo/cancel", nil, nil, &out)
	return out, err
}

func (c *Client) ListIntents(ctx context.Context) ([]domain.PaymentIntent, error) {
	var out []domain.PaymentIntent
	err := c.do(ctx, http.MethodGet, "/payment-intents", nil, nil, &out)
	return out, err
}

func (c *Client) Reroute(ctx context.Context, id, reason string, provider domain.Provider) (Created, error) {
	var out Created
	body := map[string]string{"reason": reason}
	if provider != "" {
		body["provider"] = string(provider)
	}
	err := c.do(ctx, http.MethodPost, "/payment-intents/"+id+"/reroute", nil, body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
