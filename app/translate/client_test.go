package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string, retries int) *Client {
	client := NewClient(Config{
		URL:     url,
		Token:   "secret",
		From:    "en",
		To:      "sk",
		Domain:  "astronomy",
		Timeout: 5 * time.Second,
		Retries: retries,
	})
	client.retryDelay = time.Millisecond
	return client
}

func TestClientTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Expected bearer token, got '%s'", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Expected JSON content type, got '%s'", got)
		}

		var body request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if body.Text != "Moon landing" || body.From != "en" || body.To != "sk" || body.Domain != "astronomy" {
			t.Errorf("Unexpected request body: %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"translated":"Pristátie na Mesiaci","meta":{"model":"test"}}`))
	}))
	defer server.Close()

	translated, err := newTestClient(server.URL, 0).Translate(context.Background(), "Moon landing")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if translated != "Pristátie na Mesiaci" {
		t.Errorf("Expected 'Pristátie na Mesiaci', got '%s'", translated)
	}
}

func TestClientTranslateEmptyTextSkipsCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	translated, err := newTestClient(server.URL, 0).Translate(context.Background(), "  ")
	if err != nil {
		t.Fatal(err)
	}
	if translated != "  " {
		t.Errorf("Expected text returned unchanged, got '%s'", translated)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no requests, got %d", calls.Load())
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"translated":"ok"}`))
	}))
	defer server.Close()

	translated, err := newTestClient(server.URL, 2).Translate(context.Background(), "text")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got: %v", err)
	}
	if translated != "ok" {
		t.Errorf("Expected 'ok', got '%s'", translated)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestClientErrorCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  string
		wantCalls int32
	}{
		{"server error after retries", http.StatusInternalServerError, "", "http_500", 2},
		{"client error not retried", http.StatusUnauthorized, "", "http_401", 1},
		{"malformed json", http.StatusOK, "not json", CodeInvalidResponse, 1},
		{"missing translated field", http.StatusOK, `{"meta":{}}`, CodeInvalidResponse, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL, 1).Translate(context.Background(), "text")

			var translateErr *Error
			if !errors.As(err, &translateErr) {
				t.Fatalf("Expected *Error, got %T: %v", err, err)
			}
			if translateErr.Code != tt.wantCode {
				t.Errorf("Expected code '%s', got '%s'", tt.wantCode, translateErr.Code)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestClientConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url, 1).Translate(context.Background(), "text")

	var translateErr *Error
	if !errors.As(err, &translateErr) {
		t.Fatalf("Expected *Error, got %T: %v", err, err)
	}
	if translateErr.Code != CodeConnection {
		t.Errorf("Expected code '%s', got '%s'", CodeConnection, translateErr.Code)
	}
}

func TestClientNotConfigured(t *testing.T) {
	_, err := newTestClient("", 0).Translate(context.Background(), "text")

	var translateErr *Error
	if !errors.As(err, &translateErr) || translateErr.Code != CodeNotConfigured {
		t.Errorf("Expected not_configured error, got: %v", err)
	}
}
