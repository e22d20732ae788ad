package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBuilderSendsJsonAndParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/echo", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("tag"))
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["msg"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "token123")

	var result struct {
		Reply string `json:"reply"`
	}
	err := base.Post("/echo").Param("tag", "abc").Json(map[string]string{"msg": "hello"}).Do(&result)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Reply)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "complete"})
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	var result map[string]string
	err := base.Get("/flaky").Retry(5, time.Millisecond, 10*time.Millisecond).Do(&result)
	require.NoError(t, err)
	assert.Equal(t, "complete", result["status"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such resource", http.StatusNotFound)
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	err := base.Get("/missing").Retry(5, time.Millisecond, 10*time.Millisecond).Do(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	err := base.Get("/broken").Retry(3, time.Millisecond, 10*time.Millisecond).Do(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestTimeoutCancelsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	base := NewBaseClient(server.URL, "")

	start := time.Now()
	err := base.Get("/broken").
		Retry(100, 50*time.Millisecond, time.Second).
		Timeout(200 * time.Millisecond).
		Do(nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
