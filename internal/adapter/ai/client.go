// Package ai implements the chat client behind the AI port: an
// OpenAI-compatible primary provider with a DeepSeek fallback, exponential
// backoff on transient failures and a circuit breaker per provider.
package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/Ugoplus/smartcvnaija/internal/adapter/observability"
	"github.com/Ugoplus/smartcvnaija/internal/config"
	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

const (
	chatTimeout    = 60 * time.Second
	breakerTrips   = 5
	breakerCooloff = 30 * time.Second
	maxRespBytes   = 1 << 20
)

type provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	breaker *observability.CircuitBreaker
}

// Client implements domain.AIClient. Calls go to the primary provider; when
// it errors out or its breaker is open the fallback takes the call.
type Client struct {
	cfg       config.Config
	hc        *http.Client
	providers []provider
	pace      *rate.Limiter
	tokens    *Counter
}

// New constructs the failover chat client.
func New(cfg config.Config) *Client {
	every := rate.Inf
	if cfg.AIMinInterval > 0 {
		every = rate.Every(cfg.AIMinInterval)
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: chatTimeout},
		providers: []provider{
			{
				name:    "openai",
				baseURL: cfg.OpenAIBaseURL,
				apiKey:  cfg.OpenAIAPIKey,
				model:   cfg.OpenAIModel,
				breaker: observability.NewCircuitBreaker("ai-primary", breakerTrips, breakerCooloff),
			},
			{
				name:    "deepseek",
				baseURL: cfg.DeepSeekBaseURL,
				apiKey:  cfg.DeepSeekAPIKey,
				model:   cfg.DeepSeekModel,
				breaker: observability.NewCircuitBreaker("ai-fallback", breakerTrips, breakerCooloff),
			},
		},
		pace:   rate.NewLimiter(every, 1),
		tokens: NewCounter(),
	}
}

// ChatJSON asks for a JSON object and strips markdown fences from the reply.
// Temperature is pinned low; structured output drifts at high sampling.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	out, err := c.complete(ctx, "chat_json", systemPrompt, userPrompt, maxTokens, 0.2)
	if err != nil {
		return "", err
	}
	return CleanJSONResponse(out), nil
}

// Chat returns free-form text at the given sampling temperature.
func (c *Client) Chat(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	return c.complete(ctx, "chat", systemPrompt, userPrompt, maxTokens, temperature)
}

func (c *Client) complete(ctx domain.Context, operation, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	userPrompt = c.clampPrompt(systemPrompt, userPrompt, maxTokens)

	var lastErr error
	for _, p := range c.providers {
		if p.apiKey == "" {
			continue
		}
		if p.breaker.IsOpen() {
			slog.Warn("ai provider skipped, breaker open", slog.String("provider", p.name), slog.String("operation", operation))
			continue
		}
		var content string
		err := p.breaker.Call(func() error {
			var callErr error
			content, callErr = c.post(ctx, p, operation, systemPrompt, userPrompt, maxTokens, temperature)
			return callErr
		})
		if err == nil {
			return content, nil
		}
		lastErr = err
		slog.Warn("ai provider failed",
			slog.String("provider", p.name),
			slog.String("operation", operation),
			slog.Any("error", err))
	}
	if lastErr == nil {
		return "", fmt.Errorf("%w: no AI provider configured", domain.ErrInvalidArgument)
	}
	return "", fmt.Errorf("op=ai.%s: %w", operation, lastErr)
}

// post runs one provider call under the configured exponential backoff.
// 429 and 5xx are retried; other 4xx are permanent.
func (c *Client) post(ctx domain.Context, p provider, operation, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	body := map[string]any{
		"model":       p.model,
		"temperature": temperature,
		"max_tokens":  maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	b, _ := json.Marshal(body)

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		if err := c.pace.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+p.apiKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.AIRequestDuration.WithLabelValues(p.name, operation).Observe(time.Since(start).Seconds())
		if err != nil {
			observability.AIRequestsTotal.WithLabelValues(p.name, operation, "error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))
		if err != nil {
			observability.AIRequestsTotal.WithLabelValues(p.name, operation, "error").Inc()
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			observability.AIRequestsTotal.WithLabelValues(p.name, operation, "rate_limited").Inc()
			slog.Warn("ai provider rate limited", slog.String("provider", p.name), slog.String("operation", operation))
			return fmt.Errorf("rate limited: 429")
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			observability.AIRequestsTotal.WithLabelValues(p.name, operation, "client_error").Inc()
			slog.Warn("ai provider 4xx",
				slog.String("provider", p.name),
				slog.String("operation", operation),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet(respBody, 512)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			observability.AIRequestsTotal.WithLabelValues(p.name, operation, "server_error").Inc()
			slog.Error("ai provider non-2xx",
				slog.String("provider", p.name),
				slog.String("operation", operation),
				slog.Int("status", resp.StatusCode),
				slog.String("body", snippet(respBody, 512)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			observability.AIRequestsTotal.WithLabelValues(p.name, operation, "error").Inc()
			return err
		}
		observability.AIRequestsTotal.WithLabelValues(p.name, operation, "ok").Inc()
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxIval, mult := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxIval
	expo.Multiplier = mult

	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", fmt.Errorf("%s chat failed: %w", p.name, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s returned empty choices", p.name)
	}
	return out.Choices[0].Message.Content, nil
}

// clampPrompt trims the user prompt so prompt plus completion stays inside
// the smallest context window across both providers.
func (c *Client) clampPrompt(systemPrompt, userPrompt string, maxTokens int) string {
	model := c.providers[0].model
	budget := contextWindow - c.tokens.Count(model, systemPrompt) - maxTokens - tokenMargin
	if budget <= 0 {
		return ""
	}
	if c.tokens.Count(model, userPrompt) <= budget {
		return userPrompt
	}
	slog.Warn("user prompt over token budget, truncating", slog.Int("budget", budget))
	return c.tokens.Truncate(model, userPrompt, budget)
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
