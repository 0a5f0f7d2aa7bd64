package papersources

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Timeout:      15 * time.Second,
			RateLimit:    5,
			BurstSize:    3,
			MaxRetries:   2,
			RetryDelay:   500 * time.Millisecond,
			UserAgent:    "TestAgent/1.0",
			APIKey:       "test-key",
			APIKeyHeader: "X-API-Key",
		}

		client := NewHTTPClient(cfg)

		require.NotNil(t, client)
		require.NotNil(t, client.client)
		require.NotNil(t, client.rateLimiter)
		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, cfg.UserAgent, client.config.UserAgent)
		assert.Equal(t, cfg.APIKey, client.config.APIKey)
		assert.Equal(t, cfg.MaxRetries, client.config.MaxRetries)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, 10*time.Second, client.client.Timeout)
		assert.Equal(t, "Helixir-PaperSearch/1.0", client.config.UserAgent)
		assert.Equal(t, 3, client.config.MaxRetries)
		assert.Equal(t, time.Second, client.config.RetryDelay)
		assert.Equal(t, float64(10), client.config.RateLimit)
		assert.Equal(t, 10, client.config.BurstSize)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("successful request with User-Agent", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			UserAgent: "TestAgent/2.0",
			RateLimit: 100,
			BurstSize: 10,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "TestAgent/2.0", receivedUserAgent)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"status":"ok"}`, string(body))
	})

	t.Run("sets API key header when configured", func(t *testing.T) {
		var receivedAPIKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedAPIKey = r.Header.Get("X-API-Key")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:    100,
			BurstSize:    10,
			APIKey:       "secret-key-123",
			APIKeyHeader: "X-API-Key",
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "secret-key-123", receivedAPIKey)
	})

	t.Run("preserves existing User-Agent header", func(t *testing.T) {
		var receivedUserAgent string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			UserAgent: "DefaultAgent/1.0",
			RateLimit: 100,
			BurstSize: 10,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		req.Header.Set("User-Agent", "CustomAgent/3.0")

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "CustomAgent/3.0", receivedUserAgent)
	})
}

func TestHTTPClient_DoWithRateLimit(t *testing.T) {
	t.Run("respects rate limit", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 10,
			BurstSize: 2,
		})

		ctx := context.Background()
		start := time.Now()

		// First 2 requests burst through, requests 3 and 4 must wait.
		for i := 0; i < 4; i++ {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
			require.NoError(t, err)

			resp, err := client.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
		}

		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond, "should have been rate limited")
		assert.Equal(t, int32(4), requestCount.Load())
	})
}

func TestHTTPClient_DoRetry(t *testing.T) {
	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := requestCount.Add(1)
			if count < 3 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("success"))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(3), requestCount.Load())
	})

	t.Run("retries on 500 and succeeds", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := requestCount.Add(1)
			if count < 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int32(2), requestCount.Load())
	})

	t.Run("fails after max retries", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 2,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.Contains(t, err.Error(), "max retries exhausted")
		assert.Equal(t, int32(3), requestCount.Load())
	})

	t.Run("does not retry on 4xx client errors", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, int32(1), requestCount.Load())
	})

	t.Run("retries POST request with body", func(t *testing.T) {
		var requestCount atomic.Int32
		var lastBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := requestCount.Add(1)
			body, _ := io.ReadAll(r.Body)
			lastBody = string(body)
			if count < 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 3,
			RetryDelay: 10 * time.Millisecond,
		})

		bodyContent := `{"data":"test"}`
		req, err := http.NewRequestWithContext(
			context.Background(),
			http.MethodPost,
			server.URL,
			strings.NewReader(bodyContent),
		)
		require.NoError(t, err)

		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(bodyContent)), nil
		}

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, bodyContent, lastBody)
		assert.Equal(t, int32(2), requestCount.Load())
	})
}

func TestHTTPClient_DoContextCanceled(t *testing.T) {
	t.Run("returns error when context is canceled before request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit: 100,
			BurstSize: 10,
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("returns error when context canceled during retry wait", func(t *testing.T) {
		var requestCount atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestCount.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			RateLimit:  100,
			BurstSize:  10,
			MaxRetries: 5,
			RetryDelay: time.Second,
		})

		ctx, cancel := context.WithCancel(context.Background())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		resp, err := client.Do(req)
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.Canceled)
		assert.GreaterOrEqual(t, requestCount.Load(), int32(1))
	})
}

func TestHTTPClient_getRetryDelay(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{
		RetryDelay: 500 * time.Millisecond,
	})

	t.Run("uses default when Retry-After is empty", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		assert.Equal(t, 500*time.Millisecond, client.getRetryDelay(resp))
	})

	t.Run("parses Retry-After as seconds", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{"Retry-After": []string{"5"}},
		}
		assert.Equal(t, 5*time.Second, client.getRetryDelay(resp))
	})

	t.Run("parses Retry-After as HTTP date", func(t *testing.T) {
		futureTime := time.Now().Add(10 * time.Second)
		resp := &http.Response{
			Header: http.Header{"Retry-After": []string{futureTime.UTC().Format(http.TimeFormat)}},
		}
		delay := client.getRetryDelay(resp)
		assert.Greater(t, delay, 8*time.Second)
		assert.Less(t, delay, 11*time.Second)
	})

	t.Run("uses default for invalid Retry-After", func(t *testing.T) {
		resp := &http.Response{
			Header: http.Header{"Retry-After": []string{"invalid"}},
		}
		assert.Equal(t, 500*time.Millisecond, client.getRetryDelay(resp))
	})

	t.Run("uses default for past HTTP date", func(t *testing.T) {
		pastTime := time.Now().Add(-10 * time.Second)
		resp := &http.Response{
			Header: http.Header{"Retry-After": []string{pastTime.UTC().Format(http.TimeFormat)}},
		}
		assert.Equal(t, 500*time.Millisecond, client.getRetryDelay(resp))
	})
}

func TestHTTPClient_shouldRetry(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})

	testCases := []struct {
		statusCode  int
		shouldRetry bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{599, true},
	}

	for _, tc := range testCases {
		t.Run(http.StatusText(tc.statusCode), func(t *testing.T) {
			assert.Equal(t, tc.shouldRetry, client.shouldRetry(tc.statusCode), "status %d", tc.statusCode)
		})
	}
}
