// Package serper implements the web search client backed by the
// google.serper.dev API. Responses are trimmed to the fields the research
// pipeline consumes before they ever leave this package.
package serper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/domain"
	"github.com/fairyhunter13/lead-scout/internal/service/ratelimiter"
)

const (
	providerName   = "serper"
	defaultTimeout = 20 * time.Second
	maxErrBody     = 500
)

// Client calls the Serper search endpoint. Admission goes through the
// configured limiter so that no more than SERPER_QPS calls start per second
// across the process (or the fleet, with the Redis limiter).
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    ratelimiter.Limiter
	breaker    *observability.CircuitBreaker
	defaultNum int
}

// New builds a search client. A nil limiter disables admission control.
func New(baseURL, apiKey string, defaultNum int, limiter ratelimiter.Limiter) *Client {
	if baseURL == "" {
		baseURL = "https://google.serper.dev"
	}
	if defaultNum <= 0 {
		defaultNum = 10
	}
	if limiter == nil {
		limiter = ratelimiter.Nop{}
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    limiter,
		breaker:    observability.NewCircuitBreaker("search", 8, 20*time.Second),
		defaultNum: defaultNum,
	}
}

// response mirrors the provider payload; decoding into the domain types
// drops every field the pipeline does not use.
type response struct {
	KnowledgeGraph *domain.KnowledgeGraph `json:"knowledgeGraph"`
	Organic        []domain.OrganicResult `json:"organic"`
	PeopleAlsoAsk  []domain.PeopleAlsoAsk `json:"peopleAlsoAsk"`
	Credits        int                    `json:"credits"`
}

// Search implements domain.SearchClient. maxOrganic and maxPAA cap the
// result lists; zero drops a list entirely.
func (c *Client) Search(ctx domain.Context, q domain.SearchQuery, maxOrganic, maxPAA int) (domain.SearchResult, error) {
	if strings.TrimSpace(q.Q) == "" {
		return domain.SearchResult{}, fmt.Errorf("%w: empty query", domain.ErrInvalidArgument)
	}
	if c.apiKey == "" {
		return domain.SearchResult{}, fmt.Errorf("%w: serper api key not configured", domain.ErrProviderDisabled)
	}
	if q.Num <= 0 {
		q.Num = c.defaultNum
	}
	if q.Num > 100 {
		q.Num = 100
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.SearchResult{}, fmt.Errorf("op=serper.Search: %w", err)
	}
	if !c.breaker.Allow() {
		return domain.SearchResult{}, fmt.Errorf("%w: search circuit open", domain.ErrProviderError)
	}

	body, err := json.Marshal(q)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("op=serper.Search: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("op=serper.Search: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		observability.ObserveSearch(providerName, time.Since(start), err)
		return domain.SearchResult{}, fmt.Errorf("%w: search transport: %v", domain.ErrProviderError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
		snippet := readSnippet(resp.Body, maxErrBody)
		callErr := fmt.Errorf("%w: search status %d: %s", domain.ErrProviderError, resp.StatusCode, snippet)
		observability.ObserveSearch(providerName, time.Since(start), callErr)
		return domain.SearchResult{}, callErr
	}
	c.breaker.RecordSuccess()

	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		callErr := fmt.Errorf("%w: search body decode: %v", domain.ErrProviderError, err)
		observability.ObserveSearch(providerName, time.Since(start), callErr)
		return domain.SearchResult{}, callErr
	}
	observability.ObserveSearch(providerName, time.Since(start), nil)

	out := domain.SearchResult{
		KnowledgeGraph: raw.KnowledgeGraph,
		Credits:        raw.Credits,
	}
	if maxOrganic > 0 {
		n := len(raw.Organic)
		if n > maxOrganic {
			n = maxOrganic
		}
		out.Organic = raw.Organic[:n]
	}
	if maxPAA > 0 {
		n := len(raw.PeopleAlsoAsk)
		if n > maxPAA {
			n = maxPAA
		}
		out.PeopleAlsoAsk = raw.PeopleAlsoAsk[:n]
	}
	return out, nil
}

// readSnippet reads at most limit bytes from r for error messages.
func readSnippet(r io.Reader, limit int) string {
	b, _ := io.ReadAll(io.LimitReader(r, int64(limit)))
	return strings.TrimSpace(string(b))
}
