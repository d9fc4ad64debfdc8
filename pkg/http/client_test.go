package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHttpClient_Retry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	_, err := client.Get(context.Background(), "/", nil)
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestHttpClient_CircuitBreaker(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)

	// We need to trigger the breaker.
	// Policy is 5 failures out of 10.
	// We'll do 6 requests.
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}

	// The 7th request should fail immediately due to open circuit breaker
	// without reaching the server.
	startAttempts := attempts
	_, err := client.Get(context.Background(), "/", nil)
	if err == nil {
		t.Error("Expected error due to open circuit breaker, got nil")
	}

	if attempts != startAttempts {
		t.Errorf("Server was reached even though circuit should be open. Attempts: %d", attempts)
	}
}

func TestHttpClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("Body did not decode: %v", err)
		}
		if payload["type"] != "allMids" {
			t.Errorf("Unexpected payload: %v", payload)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	_, err := client.Post(context.Background(), "/info", map[string]string{"type": "allMids"})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
}

func TestHttpClient_RateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	client.SetRateLimit(1000)

	for i := 0; i < 5; i++ {
		if _, err := client.Get(context.Background(), "/", nil); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}
}
