// Package openrouter implements domain.AIClient against an
// OpenAI-compatible chat completions endpoint.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"log/slog"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/lead-scout/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/domain"
)

const (
	providerName   = "openrouter"
	defaultTimeout = 60 * time.Second
	maxErrBody     = 512
	maxRespBody    = 1 << 20
)

// Client is a chat completions client with a process-wide concurrency cap
// and bounded retries on transient provider failures.
type Client struct {
	cfg     config.Config
	hc      *http.Client
	sem     chan struct{}
	retry   domain.RetryPolicy
	counter *tokencount.Counter
	breaker *observability.CircuitBreaker
	randFn  func() float64
}

// New constructs a Client from config. The semaphore size comes from
// LLM_CONCURRENCY and bounds in-flight completions across all jobs.
func New(cfg config.Config) *Client {
	conc := cfg.LLMConcurrency
	if conc <= 0 {
		conc = 50
	}
	retry := domain.DefaultRetryPolicy()
	if cfg.LLMMaxRetries > 0 {
		retry.MaxRetries = cfg.LLMMaxRetries
	}
	retry.Base = cfg.LLMRetryBase()
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sem:     make(chan struct{}, conc),
		retry:   retry,
		counter: tokencount.NewCounter(),
		breaker: observability.NewCircuitBreaker("llm", 5, 30*time.Second),
		randFn:  rand.Float64,
	}
}

// errCircuitOpen marks a retry attempt shed by the breaker; the backoff
// loop turns it into a delayed re-probe instead of an HTTP call.
var errCircuitOpen = errors.New("llm circuit open")

// statusError carries a non-2xx response so the retry loop can decide
// permanency per status.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chat status %d: %s", e.code, e.body)
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Chat implements domain.AIClient. purpose labels metrics and logs only.
func (c *Client) Chat(ctx domain.Context, messages []domain.ChatMessage, jsonMode bool, purpose string) (string, domain.Usage, error) {
	if c.cfg.OpenRouterAPIKey == "" {
		return "", domain.Usage{}, fmt.Errorf("%w: openrouter api key not configured", domain.ErrProviderDisabled)
	}
	if len(messages) == 0 {
		return "", domain.Usage{}, fmt.Errorf("%w: empty messages", domain.ErrInvalidArgument)
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", domain.Usage{}, fmt.Errorf("op=openrouter.Chat: %w", ctx.Err())
	}
	defer func() { <-c.sem }()

	// Some models reject response_format; one 400 mentioning it drops the
	// hint for the remaining attempts of this call.
	useJSONFormat := jsonMode && c.cfg.LLMUseJSONResponseFormat

	var out chatResponse
	op := func() error {
		if !c.breaker.Allow() {
			return errCircuitOpen
		}
		start := time.Now()
		err := c.doChat(ctx, messages, useJSONFormat, &out)
		observability.ObserveLLM(providerName, purpose, time.Since(start), err)
		if err == nil {
			c.breaker.RecordSuccess()
			return nil
		}

		var se *statusError
		if errors.As(err, &se) {
			switch {
			case se.code == http.StatusPaymentRequired:
				c.breaker.RecordSuccess()
				slog.Error("llm provider out of credits", slog.String("provider", providerName), slog.String("purpose", purpose))
				return backoff.Permanent(fmt.Errorf("%w: insufficient provider credits", domain.ErrProviderDisabled))
			case se.code == http.StatusBadRequest && useJSONFormat && strings.Contains(se.body, "response_format"):
				c.breaker.RecordSuccess()
				slog.Warn("llm provider rejected response_format, retrying without it",
					slog.String("provider", providerName),
					slog.String("purpose", purpose),
					slog.String("model", c.cfg.OpenRouterModel))
				useJSONFormat = false
				return err
			case domain.RetryableStatus(se.code):
				c.breaker.RecordFailure()
				slog.Warn("llm provider transient failure",
					slog.String("provider", providerName),
					slog.String("purpose", purpose),
					slog.Int("status", se.code))
				return err
			default:
				// The provider answered; a client-fault status says nothing
				// about its health.
				c.breaker.RecordSuccess()
				slog.Warn("llm provider rejected request",
					slog.String("provider", providerName),
					slog.String("purpose", purpose),
					slog.Int("status", se.code),
					slog.String("body", se.body))
				return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrProviderError, se))
			}
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		// Transport and timeout failures retry.
		c.breaker.RecordFailure()
		slog.Warn("llm provider transport failure", slog.String("provider", providerName), slog.String("purpose", purpose), slog.Any("error", err))
		return err
	}

	bo := backoff.WithContext(&policyBackOff{policy: c.retry, randFn: c.randFn}, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, domain.ErrProviderDisabled) || errors.Is(err, domain.ErrProviderError) {
			return "", domain.Usage{}, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", domain.Usage{}, fmt.Errorf("op=openrouter.Chat: %w", err)
		}
		return "", domain.Usage{}, fmt.Errorf("%w: chat failed after retries: %v", domain.ErrProviderError, err)
	}

	if len(out.Choices) == 0 {
		return "", domain.Usage{}, fmt.Errorf("%w: empty choices", domain.ErrProviderError)
	}
	text := out.Choices[0].Message.Content
	if out.Model != "" && out.Model != c.cfg.OpenRouterModel {
		slog.Debug("llm model substitution",
			slog.String("requested", c.cfg.OpenRouterModel),
			slog.String("actual", out.Model))
	}

	usage := domain.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
		TotalTokens:      out.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage = estimateUsage(messages, text)
	} else if usage.TotalTokens < usage.PromptTokens+usage.CompletionTokens {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	c.observeTokens(purpose, messages, text, out)

	return text, usage, nil
}

func (c *Client) doChat(ctx domain.Context, messages []domain.ChatMessage, jsonFormat bool, out *chatResponse) error {
	body := map[string]any{
		"model":       c.cfg.OpenRouterModel,
		"temperature": 0.2,
		"messages":    messages,
	}
	if jsonFormat {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("op=openrouter.doChat: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenRouterBaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("op=openrouter.doChat: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenRouterAPIKey)
	req.Header.Set("Content-Type", "application/json")
	if strings.Contains(c.cfg.OpenRouterBaseURL, "openrouter.ai") {
		if c.cfg.OpenRouterReferer != "" {
			req.Header.Set("HTTP-Referer", c.cfg.OpenRouterReferer)
		}
		if c.cfg.OpenRouterTitle != "" {
			req.Header.Set("X-Title", c.cfg.OpenRouterTitle)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("chat transport: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBody))
	if err != nil {
		return fmt.Errorf("chat read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > maxErrBody {
			snippet = snippet[:maxErrBody]
		}
		return &statusError{code: resp.StatusCode, body: snippet}
	}

	*out = chatResponse{}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("%w: decode chat response: %v", domain.ErrProviderError, err))
	}
	return nil
}

// observeTokens feeds the token histograms. When the provider omitted
// usage it falls back to tiktoken counts; this never touches the Usage
// returned to callers.
func (c *Client) observeTokens(purpose string, messages []domain.ChatMessage, text string, out chatResponse) {
	prompt, completion := out.Usage.PromptTokens, out.Usage.CompletionTokens
	if out.Usage.TotalTokens == 0 {
		if n, err := c.counter.CountMessages(c.cfg.OpenRouterModel, messages); err == nil {
			prompt = int64(n)
		}
		if n, err := c.counter.CountText(text, c.cfg.OpenRouterModel); err == nil {
			completion = int64(n)
		}
	}
	observability.ObserveTokens(purpose, prompt, completion)
}

// estimateUsage approximates token usage at four characters per token,
// at least one token per message, when the provider returns no usage.
func estimateUsage(messages []domain.ChatMessage, completion string) domain.Usage {
	var prompt int64
	for _, m := range messages {
		prompt += estimateTokens(m.Content)
	}
	comp := estimateTokens(completion)
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: comp,
		TotalTokens:      prompt + comp,
	}
}

func estimateTokens(s string) int64 {
	n := int64((len(s) + 3) / 4)
	if n < 1 {
		n = 1
	}
	return n
}

// policyBackOff adapts domain.RetryPolicy to the backoff.BackOff interface.
type policyBackOff struct {
	policy  domain.RetryPolicy
	attempt int
	randFn  func() float64
}

func (b *policyBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt > b.policy.MaxRetries {
		return backoff.Stop
	}
	return b.policy.Delay(b.attempt, b.randFn())
}

func (b *policyBackOff) Reset() { b.attempt = 0 }
