// Package paystack implements the payment provider port against the Paystack
// REST API: transaction initialization, verification with retry, and webhook
// signature checking.
package paystack

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

const (
	httpTimeout    = 15 * time.Second
	verifyDeadline = 10 * time.Second
	maxRespBytes   = 1 << 20
)

// Client talks to the Paystack transaction API.
type Client struct {
	baseURL   string
	secretKey string
	hc        *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{
		baseURL:   cfg.PaystackBaseURL,
		secretKey: cfg.PaystackSecretKey,
		hc:        &http.Client{Timeout: httpTimeout},
	}
}

type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize creates a hosted checkout for the request and returns the
// authorization URL the user opens to pay. Single attempt: the user is
// waiting in the chat, a retry loop here only delays the fallback reply.
func (c *Client) Initialize(ctx domain.Context, req domain.PaymentRequest) (domain.PaymentLink, error) {
	payload := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountKobo,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	env, err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return domain.PaymentLink{}, fmt.Errorf("op=paystack.Initialize: %w", err)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return domain.PaymentLink{}, fmt.Errorf("op=paystack.Initialize: decode data: %w", err)
	}
	return domain.PaymentLink{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// Verify fetches the settled state of a transaction. Transient upstream
// failures are retried briefly; webhook processing depends on this call and
// Paystack redelivers unacknowledged events anyway.
func (c *Client) Verify(ctx domain.Context, reference string) (domain.PaymentVerification, error) {
	if reference == "" {
		return domain.PaymentVerification{}, fmt.Errorf("op=paystack.Verify: empty reference: %w", domain.ErrInvalidArgument)
	}

	var env *apiEnvelope
	op := func() error {
		var err error
		env, err = c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
		return err
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = verifyDeadline
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return domain.PaymentVerification{}, fmt.Errorf("op=paystack.Verify: %w", err)
	}

	var data struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Channel   string `json:"channel"`
		PaidAt    string `json:"paid_at"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return domain.PaymentVerification{}, fmt.Errorf("op=paystack.Verify: decode data: %w", err)
	}

	var paidAt time.Time
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			paidAt = t
		}
	}
	return domain.PaymentVerification{
		Reference:  data.Reference,
		Status:     data.Status,
		AmountKobo: data.Amount,
		Channel:    data.Channel,
		PaidAt:     paidAt,
	}, nil
}

// do runs one authenticated API call. 429 and 5xx come back as retryable
// errors, other 4xx as permanent; 404 maps to domain.ErrNotFound.
func (c *Client) do(ctx domain.Context, method, path string, payload any) (*apiEnvelope, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("transaction not found: %w", domain.ErrNotFound))
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("paystack rate limited", slog.String("path", path))
		return nil, fmt.Errorf("paystack status 429: %w", domain.ErrUpstreamRateLimit)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, backoff.Permanent(fmt.Errorf("paystack status %d: %s", resp.StatusCode, snippet(respBody)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("paystack status %d: %s", resp.StatusCode, snippet(respBody))
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	if !env.Status {
		return nil, backoff.Permanent(fmt.Errorf("paystack declined: %s", env.Message))
	}
	return &env, nil
}

// VerifySignature checks a webhook body against the x-paystack-signature
// header: hex HMAC-SHA512 of the raw body keyed with the secret key.
func VerifySignature(secretKey string, body []byte, signature string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
