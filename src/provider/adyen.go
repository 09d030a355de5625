package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alexsandroveiga/pasarela/src/domain"
)

const adyenAPIVersion = "v71"

type Adyen struct {
	baseURL   string
	returnURL string
	client    *http.Client
}

func NewAdyen(baseURL, frontendBaseURL string) *Adyen {
	if baseURL == "" {
		baseURL = "https://checkout-test.adyen.com"
	}
	return &Adyen{
		baseURL:   strings.TrimRight(baseURL, "/"),
		returnURL: strings.TrimRight(frontendBaseURL, "/"),
		client:    newHTTPClient(),
	}
}

func (a *Adyen) Provider() domain.Provider { return domain.ProviderAdyen }

type adyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

func (a *Adyen) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if err := requireFields(domain.ProviderAdyen, req.Config, "apiKey", "merchantAccount", "clientKey"); err != nil {
		return Session{}, err
	}

	body := map[string]any{
		"merchantAccount": req.Config["merchantAccount"],
		"reference":       req.IntentID,
		"returnUrl":       a.returnURL + "/checkout/" + req.IntentID,
		"channel":         "Web",
		"amount":          adyenAmount{Value: req.AmountMinor, Currency: strings.ToUpper(req.Currency)},
	}

	var resp struct {
		ID          string `json:"id"`
		SessionData string `json:"sessionData"`
	}
	if err := a.post(ctx, "/"+adyenAPIVersion+"/sessions", req.Config["apiKey"], providerIdempotencyKey(req), body, &resp); err != nil {
		return Session{}, err
	}
	if resp.ID == "" || resp.SessionData == "" {
		return Session{}, downstream(domain.ProviderAdyen, domain.ProviderErrorUnknown, fmt.Errorf("session response missing id or sessionData"))
	}

	environment := req.Config["environment"]
	if environment == "" {
		environment = "test"
	}
	return Session{
		ProviderRef: resp.ID,
		CheckoutConfig: domain.CheckoutConfig{
			"type":        string(domain.ProviderAdyen),
			"clientKey":   req.Config["clientKey"],
			"environment": environment,
			"sessionId":   resp.ID,
			"sessionData": resp.SessionData,
		},
	}, nil
}

// Refund needs the PSP reference delivered by the payment callback, not the session id.
func (a *Adyen) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if err := requireFields(domain.ProviderAdyen, req.Config, "apiKey", "merchantAccount"); err != nil {
		return "", err
	}
	if req.ProviderRef == "" || strings.HasPrefix(req.ProviderRef, "CS") {
		return "", downstream(domain.ProviderAdyen, domain.ProviderErrorValidation, fmt.Errorf("refund requires a PSP reference"))
	}

	body := map[string]any{
		"merchantAccount": req.Config["merchantAccount"],
		"reference":       "refund-" + req.ProviderRef,
		"amount":          adyenAmount{Value: req.AmountMinor, Currency: strings.ToUpper(req.Currency)},
	}
	var resp struct {
		PSPReference string `json:"pspReference"`
	}
	path := "/" + adyenAPIVersion + "/payments/" + req.ProviderRef + "/refunds"
	if err := a.post(ctx, path, req.Config["apiKey"], "po:refund:"+req.IntentID, body, &resp); err != nil {
		return "", err
	}
	if resp.PSPReference == "" {
		return "UNKNOWN", nil
	}
	return resp.PSPReference, nil
}

func (a *Adyen) post(ctx context.Context, path, apiKey, idempotencyKey string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return downstream(domain.ProviderAdyen, domain.ProviderErrorUnknown, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return downstream(domain.ProviderAdyen, domain.ProviderErrorUnknown, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", apiKey)
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return downstream(domain.ProviderAdyen, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return downstream(domain.ProviderAdyen, classifyTransport(err), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return downstream(domain.ProviderAdyen, classifyStatus(resp.StatusCode), fmt.Errorf("adyen %s: status %d", path, resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return downstream(domain.ProviderAdyen, domain.ProviderErrorUnknown, fmt.Errorf("decode adyen response: %w", err))
	}
	return nil
}
