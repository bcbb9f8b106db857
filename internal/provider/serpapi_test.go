package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobchommie/listing-service/internal/model"
	"jobchommie/listing-service/internal/provider"
)

const fullResponse = `{
  "search_metadata": {"status": "Success"},
  "jobs_results": [
    {
      "title": "Backend Engineer",
      "company_name": "Acme",
      "location": "Cape Town",
      "description": "Go and Postgres",
      "detected_extensions": {"link": "https://jobs.example/1", "schedule_type": "Full-time"},
      "published_at": "3 days ago"
    },
    {"title": "Data Analyst"},
    {"title": "SRE", "company_name": "Initech", "detected_extensions": null}
  ]
}`

func newServer(t *testing.T, hits *int32, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_SendsWireContractAndMapsResults(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "google_jobs", q.Get("engine"))
		assert.Equal(t, "software developer jobs south africa", q.Get("q"))
		assert.Equal(t, "k3y", q.Get("api_key"))
		assert.Equal(t, "100", q.Get("num"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fullResponse))
	})

	c := provider.New(provider.Config{
		APIKey:  "k3y",
		Query:   "software developer jobs south africa",
		BaseURL: srv.URL,
	})

	res, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calls)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	require.Len(t, res.Candidates, 3)
	assert.Equal(t, model.Candidate{
		Title:       "Backend Engineer",
		Company:     "Acme",
		Location:    "Cape Town",
		Description: "Go and Postgres",
		Link:        "https://jobs.example/1",
		PublishedAt: "3 days ago",
	}, res.Candidates[0])
	assert.Equal(t, model.Candidate{Title: "Data Analyst"}, res.Candidates[1], "absent fields map to empty values")
	assert.Equal(t, model.Candidate{Title: "SRE", Company: "Initech"}, res.Candidates[2])
}

func TestFetch_MissingResultsArrayIsEmptyNotError(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"search_metadata": {"status": "Success"}}`))
	})

	res, err := provider.New(provider.Config{APIKey: "k", Query: "q", BaseURL: srv.URL}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 1, res.Calls)
}

func TestFetch_NotConfiguredMakesNoRequest(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fullResponse))
	})

	c := provider.New(provider.Config{Query: "q", BaseURL: srv.URL})
	assert.False(t, c.Configured())

	res, err := c.Fetch(context.Background())
	assert.True(t, errors.Is(err, provider.ErrNotConfigured))
	assert.False(t, errors.Is(err, provider.ErrFetchFailed), "skip is distinct from failure")
	assert.Zero(t, res.Calls)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestFetch_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-success status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "Invalid API key."}`))
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"jobs_results": [`))
		}},
		{"error field with 200", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error": "Your account has run out of searches."}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits int32
			srv := newServer(t, &hits, tc.handler)

			res, err := provider.New(provider.Config{APIKey: "k", Query: "q", BaseURL: srv.URL}).Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, provider.ErrFetchFailed))
			assert.Equal(t, 1, res.Calls, "the request was issued")
			assert.Empty(t, res.Candidates)
		})
	}
}

func TestFetch_TimeoutIsFetchFailureWithoutLeakingKey(t *testing.T) {
	release := make(chan struct{})
	var hits int32
	srv := newServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c := provider.New(provider.Config{
		APIKey:  "top-secret-key",
		Query:   "q",
		BaseURL: srv.URL,
		Timeout: 50 * time.Millisecond,
	})

	start := time.Now()
	res, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, provider.ErrFetchFailed))
	assert.Equal(t, 1, res.Calls)
	assert.NotContains(t, err.Error(), "top-secret-key")
}

func TestFetch_ErrorBodyTruncatedOnRuneBoundary(t *testing.T) {
	// 511 ASCII bytes followed by two-byte runes put the 512-byte cut
	// inside a rune.
	body := strings.Repeat("a", 511) + strings.Repeat("é", 100)
	var hits int32
	srv := newServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(body))
	})

	_, err := provider.New(provider.Config{APIKey: "k", Query: "q", BaseURL: srv.URL}).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrFetchFailed))
	assert.True(t, utf8.ValidString(err.Error()), "error text must stay valid UTF-8")
	assert.Contains(t, err.Error(), strings.Repeat("a", 511)+"…")
	assert.NotContains(t, err.Error(), "é")
}
