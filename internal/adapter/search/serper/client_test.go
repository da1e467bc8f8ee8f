package serper_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/lead-scout/internal/adapter/search/serper"
	"github.com/fairyhunter13/lead-scout/internal/domain"
)

type countingLimiter struct{ calls atomic.Int64 }

func (l *countingLimiter) Wait(context.Context) error {
	l.calls.Add(1)
	return nil
}

func sampleBody() map[string]any {
	organic := make([]map[string]any, 0, 10)
	for i := 0; i < 10; i++ {
		organic = append(organic, map[string]any{
			"title":   "Result",
			"link":    "https://example.com",
			"snippet": "Jane Roe - CEO - Acme",
			"date":    "2024-01-01", // extra provider field, must be dropped
		})
	}
	paa := make([]map[string]any, 0, 8)
	for i := 0; i < 8; i++ {
		paa = append(paa, map[string]any{
			"question": "Who runs Acme?",
			"snippet":  "Jane Roe",
			"title":    "About",
			"link":     "https://example.com/about",
		})
	}
	return map[string]any{
		"knowledgeGraph": map[string]any{
			"title":       "Acme",
			"type":        "Company",
			"website":     "https://acme.com",
			"description": "Widgets",
			"rating":      4.4,
			"ratingCount": 10,
			"attributes":  map[string]any{"CEO": "Jane Roe"}, // dropped
		},
		"organic":       organic,
		"peopleAlsoAsk": paa,
		"credits":       1,
	}
}

func TestSearch_TrimsAndAuthenticates(t *testing.T) {
	t.Parallel()
	var gotKey, gotPath string
	var gotQuery domain.SearchQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(sampleBody()))
	}))
	defer srv.Close()

	lim := &countingLimiter{}
	c := serper.New(srv.URL, "test-key", 10, lim)

	res, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme leadership"}, 8, 6)
	require.NoError(t, err)
	require.Equal(t, "test-key", gotKey)
	require.Equal(t, "/search", gotPath)
	require.Equal(t, int64(1), lim.calls.Load())
	// default num applied before the request went out
	require.Equal(t, 10, gotQuery.Num)

	require.Len(t, res.Organic, 8)
	require.Len(t, res.PeopleAlsoAsk, 6)
	require.NotNil(t, res.KnowledgeGraph)
	require.Equal(t, "Acme", res.KnowledgeGraph.Title)
	require.Equal(t, 1, res.Credits)
}

func TestSearch_ZeroCapsDropLists(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(sampleBody()))
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "k", 10, nil)
	res, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.NoError(t, err)
	require.Len(t, res.Organic, 4)
	require.Empty(t, res.PeopleAlsoAsk)
}

func TestSearch_NumClamped(t *testing.T) {
	t.Parallel()
	var gotQuery domain.SearchQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{}))
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "k", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme", Num: 500}, 4, 0)
	require.NoError(t, err)
	require.Equal(t, 100, gotQuery.Num)
}

func TestSearch_HTTPErrorMapsToProviderError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "bad", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.ErrorIs(t, err, domain.ErrProviderError)
	require.Contains(t, err.Error(), "403")
	require.Contains(t, err.Error(), "invalid api key")
}

func TestSearch_ErrorBodyCappedAt500Bytes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "k", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.ErrorIs(t, err, domain.ErrProviderError)
	require.LessOrEqual(t, len(err.Error()), 600)
}

func TestSearch_TransportFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	c := serper.New(srv.URL, "k", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.ErrorIs(t, err, domain.ErrProviderError)
}

func TestSearch_BreakerShedsAfterRepeatedServerErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "k", 10, nil)
	for i := 0; i < 8; i++ {
		_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
		require.ErrorIs(t, err, domain.ErrProviderError)
	}
	require.Equal(t, int64(8), hits.Load())

	// The ninth call is shed without reaching the server.
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.ErrorIs(t, err, domain.ErrProviderError)
	require.Contains(t, err.Error(), "circuit open")
	require.Equal(t, int64(8), hits.Load())
}

func TestSearch_ClientFaultDoesNotTripBreaker(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "k", 10, nil)
	for i := 0; i < 12; i++ {
		_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
		require.ErrorIs(t, err, domain.ErrProviderError)
	}
	// Every call reached the server: 4xx answers count as provider health.
	require.Equal(t, int64(12), hits.Load())
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	t.Parallel()
	c := serper.New("http://localhost:0", "k", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "   "}, 4, 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSearch_MissingKeyDisabled(t *testing.T) {
	t.Parallel()
	c := serper.New("http://localhost:0", "", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.ErrorIs(t, err, domain.ErrProviderDisabled)
}

func TestSearch_MalformedBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := serper.New(srv.URL, "k", 10, nil)
	_, err := c.Search(context.Background(), domain.SearchQuery{Q: "acme"}, 4, 0)
	require.ErrorIs(t, err, domain.ErrProviderError)
}
