package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Auth = BasicAuth{Email: "dev@example.com", APIToken: "secret"}
	cfg.RateLimit = 1000
	return NewClient(cfg)
}

func TestClient_AppliesBasicAuth(t *testing.T) {
	var gotAuth, gotRequestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-Id")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/rest/api/3/myself", nil, &out))
	assert.True(t, out.OK)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("dev@example.com:secret"))
	assert.Equal(t, want, gotAuth)
	assert.NotEmpty(t, gotRequestID)
}

func TestClient_ErrorEmbedsStatusAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":["bad jql"]}`))
	})

	_, err := client.Get(context.Background(), "/rest/api/3/search/jql", nil)
	require.Error(t, err)
	assert.Equal(t, `API error: 400 - {"errorMessages":["bad jql"]}`, err.Error())

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.False(t, httpErr.IsScopeMismatch())
}

func TestClient_ScopeMismatchHint(t *testing.T) {
	body := `{"code":401,"message":"Unauthorized; scope does not match"}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(body))
	})

	_, err := client.Get(context.Background(), "/rest/agile/1.0/board/7/configuration", nil)
	require.Error(t, err)
	assert.True(t, IsScopeMismatch(err))
	assert.Equal(t, "API error: 401 - "+body+". "+agileScopeHint, err.Error())

	_, err = client.Get(context.Background(), "/rest/api/3/field", nil)
	require.Error(t, err)
	assert.Equal(t, "API error: 401 - "+body+". "+coreScopeHint, err.Error())
}

func TestClient_PlainUnauthorizedHasNoHint(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Client must be authenticated"))
	})

	_, err := client.Get(context.Background(), "/rest/api/3/myself", nil)
	require.Error(t, err)
	assert.False(t, IsScopeMismatch(err))
	assert.Equal(t, "API error: 401 - Client must be authenticated", err.Error())
}

func TestClient_NoRetryByDefault(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Get(context.Background(), "/rest/api/3/myself", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_RetriesWhenConfigured(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxRetries = 2
	client := NewClient(cfg)

	_, err := client.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClient_NoContentDecodesToNothing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	resp, err := client.Delete(context.Background(), "/rest/api/3/issue/A-1/worklog/9", nil)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, resp.JSON(&out))
	assert.Nil(t, out)
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(0, errors.New("boom")))
	assert.Equal(t, 400*time.Millisecond, backoff(2, &HTTPError{StatusCode: 503}))
	assert.Equal(t, 2*time.Second, backoff(0, &HTTPError{StatusCode: 429, RetryAfter: 2 * time.Second}))
	assert.Equal(t, maxBackoff, backoff(0, &HTTPError{StatusCode: 429, RetryAfter: 10 * time.Minute}))

	assert.Equal(t, 3*time.Second, parseRetryAfter(" 3"))
	assert.Zero(t, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Zero(t, parseRetryAfter(""))
}

func TestClient_RecordsRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Get(context.Background(), "/rest/api/3/search/jql", nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.IsRateLimited())
	assert.Equal(t, 7*time.Second, httpErr.RetryAfter)
}
