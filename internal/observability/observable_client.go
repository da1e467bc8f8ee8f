// Package observability provides context-scoped logging helpers and
// observable decorators for the external clients.
package observability

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// ObservableAIClient decorates a domain.AIClient with structured call logs.
// Metrics are recorded inside the adapter; this wrapper adds the request_id
// and job_id correlation that the adapters cannot see.
type ObservableAIClient struct {
	Base domain.AIClient
}

// NewObservableAIClient wraps base. A nil base returns nil.
func NewObservableAIClient(base domain.AIClient) *ObservableAIClient {
	if base == nil {
		return nil
	}
	return &ObservableAIClient{Base: base}
}

// Chat implements domain.AIClient.
func (c *ObservableAIClient) Chat(ctx domain.Context, messages []domain.ChatMessage, jsonMode bool, purpose string) (string, domain.Usage, error) {
	lg := LoggerFromContext(ctx).With(
		slog.String("purpose", purpose),
		slog.Bool("json_mode", jsonMode),
	)
	if jobID := JobIDFromContext(ctx); jobID != 0 {
		lg = lg.With(slog.Int64("job_id", jobID))
	}

	start := time.Now()
	text, usage, err := c.Base.Chat(ctx, messages, jsonMode, purpose)
	dur := time.Since(start)
	if err != nil {
		lg.Error("llm chat failed",
			slog.Duration("duration", dur),
			slog.Any("error", err))
		return text, usage, err
	}
	lg.Debug("llm chat completed",
		slog.Duration("duration", dur),
		slog.Int64("prompt_tokens", usage.PromptTokens),
		slog.Int64("completion_tokens", usage.CompletionTokens),
		slog.Int("response_chars", len(text)))
	return text, usage, nil
}

// ObservableSearchClient decorates a domain.SearchClient with structured
// call logs.
type ObservableSearchClient struct {
	Base domain.SearchClient
}

// NewObservableSearchClient wraps base. A nil base returns nil.
func NewObservableSearchClient(base domain.SearchClient) *ObservableSearchClient {
	if base == nil {
		return nil
	}
	return &ObservableSearchClient{Base: base}
}

// Search implements domain.SearchClient.
func (c *ObservableSearchClient) Search(ctx domain.Context, q domain.SearchQuery, maxOrganic, maxPAA int) (domain.SearchResult, error) {
	lg := LoggerFromContext(ctx)
	if jobID := JobIDFromContext(ctx); jobID != 0 {
		lg = lg.With(slog.Int64("job_id", jobID))
	}

	start := time.Now()
	res, err := c.Base.Search(ctx, q, maxOrganic, maxPAA)
	dur := time.Since(start)
	if err != nil {
		lg.Error("search failed",
			slog.String("q", q.Q),
			slog.Duration("duration", dur),
			slog.Any("error", err))
		return res, err
	}
	lg.Debug("search completed",
		slog.String("q", q.Q),
		slog.Duration("duration", dur),
		slog.Int("organic", len(res.Organic)),
		slog.Int("paa", len(res.PeopleAlsoAsk)))
	return res, nil
}
