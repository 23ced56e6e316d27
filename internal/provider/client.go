package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"enrollment-service/config"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// ErrConfiguration means credentials are absent, disabled, or undecryptable.
// Administrator action is required; retrying will not help.
var ErrConfiguration = errors.New("provider configuration invalid")

// ErrUnavailable means the provider could not be reached or answered non-2xx
// on the token exchange. Safe to retry later.
var ErrUnavailable = errors.New("provider unavailable")

// CredentialSource yields the externally administered credential singleton.
type CredentialSource interface {
	GetProviderCredentials(ctx context.Context) (*models.ProviderCredentials, error)
}

// TokenCache caches bearer tokens between requests. May be absent (nil).
type TokenCache interface {
	GetProviderToken(ctx context.Context, mode string) (string, error)
	SetProviderToken(ctx context.Context, mode, token string, ttl time.Duration) error
}

// VerificationResult is the outcome of a read-only order lookup. A transport
// error, non-2xx status, or unparsable payload yields Verified=false with a
// Reason; VerifyOrder never fails with a Go error.
type VerificationResult struct {
	Verified bool
	Status   string
	Amount   string
	Currency string
	PayerID  string
	Reason   string
	Raw      json.RawMessage
}

// Client talks to the payment provider: client-credentials token exchange and
// order lookup. It has no side effects on the provider and may be called
// redundantly without harm.
type Client struct {
	creds   CredentialSource
	cache   TokenCache
	httpc   *http.Client
	baseURL struct {
		live    string
		sandbox string
	}
	key    []byte
	logger *zap.Logger
}

// NewClient creates a provider client. The encryption key is required to read
// credential secrets; an empty key is tolerated here and surfaces as
// ErrConfiguration on first use.
func NewClient(creds CredentialSource, cache TokenCache, cfg config.ProviderConfig) *Client {
	var key []byte
	if cfg.EncryptionKey != "" {
		k, err := ParseKey(cfg.EncryptionKey)
		if err != nil {
			util.GetLogger().Warn("Provider encryption key unusable", zap.Error(err))
		} else {
			key = k
		}
	}

	c := &Client{
		creds: creds,
		cache: cache,
		httpc: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		key:    key,
		logger: util.GetLogger(),
	}
	c.baseURL.live = strings.TrimRight(cfg.BaseURL, "/")
	c.baseURL.sandbox = strings.TrimRight(cfg.SandboxBaseURL, "/")
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// GetAccessToken resolves the mode-specific credential pair, decrypts the
// secret, and performs the token exchange. No retries: failure is surfaced to
// the caller as retryable (ErrUnavailable) or not (ErrConfiguration).
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	creds, err := c.creds.GetProviderCredentials(ctx)
	if err != nil || creds == nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !creds.Enabled {
		return "", fmt.Errorf("%w: provider disabled", ErrConfiguration)
	}

	mode, clientID, secretEnc := "live", creds.ClientID, creds.SecretEnc
	if creds.Sandbox {
		mode, clientID, secretEnc = "sandbox", creds.SandboxClientID, creds.SandboxSecretEnc
	}
	if clientID == "" || secretEnc == "" {
		return "", fmt.Errorf("%w: missing %s credentials", ErrConfiguration, mode)
	}

	if c.cache != nil {
		if token, err := c.cache.GetProviderToken(ctx, mode); err == nil && token != "" {
			return token, nil
		}
	}

	if c.key == nil {
		return "", fmt.Errorf("%w: no encryption key", ErrConfiguration)
	}
	secret, err := DecryptSecret(c.key, secretEnc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.modeBaseURL(creds.Sandbox)+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	req.SetBasicAuth(clientID, secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		util.ProviderTokenRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		util.ProviderTokenRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		util.ProviderTokenRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: token exchange returned %d", ErrUnavailable, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		util.ProviderTokenRequestsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: malformed token response", ErrUnavailable)
	}

	util.ProviderTokenRequestsTotal.WithLabelValues("success").Inc()

	if c.cache != nil && tok.ExpiresIn > 120 {
		ttl := time.Duration(tok.ExpiresIn-60) * time.Second
		if err := c.cache.SetProviderToken(ctx, mode, tok.AccessToken, ttl); err != nil {
			c.logger.Warn("Failed to cache provider token", zap.Error(err))
		}
	}

	return tok.AccessToken, nil
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
}

// VerifyOrder performs a single read-only lookup of the provider's order record.
func (c *Client) VerifyOrder(ctx context.Context, orderID, token string) VerificationResult {
	start := time.Now()
	defer func() {
		util.ProviderVerifyLatency.Observe(time.Since(start).Seconds())
	}()

	sandbox := true
	if creds, err := c.creds.GetProviderCredentials(ctx); err == nil && creds != nil {
		sandbox = creds.Sandbox
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.modeBaseURL(sandbox)+"/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return VerificationResult{Reason: fmt.Sprintf("bad request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return VerificationResult{Reason: fmt.Sprintf("provider request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return VerificationResult{Reason: fmt.Sprintf("provider response unreadable: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return VerificationResult{Reason: fmt.Sprintf("provider returned %d", resp.StatusCode)}
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return VerificationResult{Reason: fmt.Sprintf("provider payload unparsable: %v", err)}
	}
	if len(order.PurchaseUnits) == 0 {
		return VerificationResult{Reason: "provider payload has no purchase units"}
	}

	return VerificationResult{
		Verified: true,
		Status:   order.Status,
		Amount:   order.PurchaseUnits[0].Amount.Value,
		Currency: order.PurchaseUnits[0].Amount.CurrencyCode,
		PayerID:  order.Payer.PayerID,
		Raw:      json.RawMessage(body),
	}
}

func (c *Client) modeBaseURL(sandbox bool) string {
	if sandbox {
		return c.baseURL.sandbox
	}
	return c.baseURL.live
}
