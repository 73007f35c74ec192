package otx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string, maxRetries int) (*Client, *[]time.Duration) {
	t.Helper()
	c := NewClient(ClientOptions{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		MaxRetries:     maxRetries,
		BackoffBase:    2 * time.Second,
		BackoffCeiling: 8 * time.Second,
	})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func pageJSON(t *testing.T, ids []string, next string) []byte {
	t.Helper()
	results := make([]map[string]any, len(ids))
	for i, id := range ids {
		results[i] = map[string]any{"id": id, "name": "pulse " + id}
	}
	b, err := json.Marshal(map[string]any{"results": results, "next": next, "count": len(ids)})
	require.NoError(t, err)
	return b
}

func TestFetchPageSuccess(t *testing.T) {
	var gotAuth, gotSince, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-OTX-API-KEY")
		gotSince = r.URL.Query().Get("modified_since")
		gotLimit = r.URL.Query().Get("limit")
		w.Write(pageJSON(t, []string{"a", "b"}, ""))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 3)
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.FetchPage(context.Background(), since, "")
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotAuth)
	assert.Equal(t, "2025-01-01T00:00:00Z", gotSince)
	assert.Equal(t, "50", gotLimit)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, "a", page.Results[0].ID())
	assert.False(t, page.HasMore())
}

func TestFetchPageFollowsCursorVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Write(pageJSON(t, []string{"c"}, ""))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 3)
	page, err := c.FetchPage(context.Background(), time.Time{}, srv.URL+"/api/v1/pulses/subscribed?page=2")
	require.NoError(t, err)
	assert.Equal(t, "c", page.Results[0].ID())
}

func TestFetchPageRetryBound(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, slept := testClient(t, srv.URL, 4)
	_, err := c.FetchPage(context.Background(), time.Time{}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetryExhausted), "got %v", err)
	assert.Equal(t, 4, attempts)
	// Exponential schedule from the 2s base, capped at 8s.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *slept)
}

func TestFetchPageAuthNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, slept := testClient(t, srv.URL, 5)
	_, err := c.FetchPage(context.Background(), time.Time{}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, *slept)
}

func TestFetchPageClientErrorNotRetried(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 5)
	_, err := c.FetchPage(context.Background(), time.Time{}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClient))
	assert.False(t, errors.Is(err, ErrRetryExhausted))
	assert.Equal(t, 1, attempts)
}

func TestFetchPageRecoversAfterRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(pageJSON(t, []string{"x"}, ""))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 5)
	page, err := c.FetchPage(context.Background(), time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "x", page.Results[0].ID())
}

func TestValidateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, userMePath, r.URL.Path)
		if r.Header.Get("X-OTX-API-KEY") != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(Account{Username: "analyst", PulseCount: 7})
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 3)
	c.opts.APIKey = "good"
	acct, err := c.ValidateKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analyst", acct.Username)

	c.opts.APIKey = "bad"
	_, err = c.ValidateKey(context.Background())
	assert.True(t, errors.Is(err, ErrAuth))
}

func TestValidateKeyRetriesTransientFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Account{Username: "analyst"})
	}))
	defer srv.Close()

	c, slept := testClient(t, srv.URL, 5)
	acct, err := c.ValidateKey(context.Background())
	require.NoError(t, err, "a server blip must not abort key validation")
	assert.Equal(t, "analyst", acct.Username)
	assert.Equal(t, 3, attempts)
	assert.Len(t, *slept, 2)
}

func TestValidateKeyExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL, 3)
	_, err := c.ValidateKey(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetryExhausted))
	assert.False(t, errors.Is(err, ErrAuth), "a 5xx is not an auth failure")
	assert.Equal(t, 3, attempts)
}

func TestBackoffCeiling(t *testing.T) {
	c := NewClient(ClientOptions{
		BackoffBase:    time.Second,
		BackoffCeiling: 4 * time.Second,
	})
	assert.Equal(t, time.Second, c.backoff(2))
	assert.Equal(t, 2*time.Second, c.backoff(3))
	assert.Equal(t, 4*time.Second, c.backoff(4))
	assert.Equal(t, 4*time.Second, c.backoff(5))
	assert.Equal(t, 4*time.Second, c.backoff(12))
}

func TestPulseModified(t *testing.T) {
	p := Pulse{"modified": "2025-03-01T12:00:00.123456", "created": "2025-01-01T00:00:00Z"}
	got, ok := p.Modified()
	require.True(t, ok)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, time.March, got.Month())

	p = Pulse{"created": "2025-01-01T00:00:00Z"}
	got, ok = p.Modified()
	require.True(t, ok)
	assert.Equal(t, time.January, got.Month())

	_, ok = Pulse{"name": "no timestamps"}.Modified()
	assert.False(t, ok)
}
