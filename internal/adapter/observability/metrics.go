package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Total number of web search requests by provider",
		},
		[]string{"provider"},
	)
	SearchRequestFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_request_failures_total",
			Help: "Total number of failed web search requests by provider",
		},
		[]string{"provider"},
	)
	SearchRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_request_duration_seconds",
			Help:    "Web search request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	LLMRequestFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_request_failures_total",
			Help: "Total number of failed LLM requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)
	LLMPromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_prompt_tokens",
			Help:    "Distribution of prompt tokens per LLM call",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12),
		},
		[]string{"operation"},
	)
	LLMCompletionTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_tokens",
			Help:    "Distribution of completion tokens per LLM call",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12),
		},
		[]string{"operation"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)

	CreditsSpentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_spent_total",
			Help: "Total credits charged against user ledgers",
		},
	)
	DecisionMakersFoundTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "decision_makers_found_total",
			Help: "Total decision makers persisted across all jobs",
		},
	)
	// Contact confidence distribution
	ConfidenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decision_maker_confidence_total",
			Help: "Persisted decision makers by confidence level",
		},
		[]string{"level"},
	)
	ConfidenceDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "decision_maker_confidence_drift",
			Help: "Drift of the recent low-confidence share from its baseline",
		},
		[]string{"metric"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchRequestFailuresTotal)
	prometheus.MustRegister(SearchRequestDuration)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestFailuresTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(LLMPromptTokens)
	prometheus.MustRegister(LLMCompletionTokens)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(CreditsSpentTotal)
	prometheus.MustRegister(DecisionMakersFoundTotal)
	prometheus.MustRegister(ConfidenceTotal)
	prometheus.MustRegister(ConfidenceDrift)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveSearch records one search call against the given provider.
func ObserveSearch(provider string, dur time.Duration, err error) {
	SearchRequestsTotal.WithLabelValues(provider).Inc()
	SearchRequestDuration.WithLabelValues(provider).Observe(dur.Seconds())
	if err != nil {
		SearchRequestFailuresTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveLLM records one chat completion call.
func ObserveLLM(provider, operation string, dur time.Duration, err error) {
	LLMRequestsTotal.WithLabelValues(provider, operation).Inc()
	LLMRequestDuration.WithLabelValues(provider, operation).Observe(dur.Seconds())
	if err != nil {
		LLMRequestFailuresTotal.WithLabelValues(provider, operation).Inc()
	}
}

// ObserveTokens records token usage for one LLM call.
func ObserveTokens(operation string, promptTokens, completionTokens int64) {
	if promptTokens > 0 {
		LLMPromptTokens.WithLabelValues(operation).Observe(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMCompletionTokens.WithLabelValues(operation).Observe(float64(completionTokens))
	}
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// AddCreditsSpent bumps the global spend counter.
func AddCreditsSpent(n int64) {
	if n > 0 {
		CreditsSpentTotal.Add(float64(n))
	}
}

// ObserveDecisionMaker records one persisted contact and its confidence level.
func ObserveDecisionMaker(confidence string) {
	DecisionMakersFoundTotal.Inc()
	switch confidence {
	case "HIGH", "MEDIUM", "LOW":
		ConfidenceTotal.WithLabelValues(confidence).Inc()
	default:
		ConfidenceTotal.WithLabelValues("UNKNOWN").Inc()
	}
}

// RecordConfidenceDrift exports the drift value computed by the monitor.
func RecordConfidenceDrift(metric string, drift float64) {
	ConfidenceDrift.WithLabelValues(metric).Set(drift)
}
