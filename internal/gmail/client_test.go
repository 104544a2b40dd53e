package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const quotaExceededMsg = "Quota exceeded for quota metric 'Queries'"

// errorBody builds a Gmail API error response JSON body. Optional
// fields are included only when non-zero.
func errorBody(code int, message string, reasons []string) []byte {
	inner := map[string]any{"code": code}
	if message != "" {
		inner["message"] = message
	}
	if reasons != nil {
		var errs []map[string]string
		for _, r := range reasons {
			errs = append(errs, map[string]string{"reason": r})
		}
		inner["errors"] = errs
	}
	b, err := json.Marshal(map[string]any{"error": inner})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal test body: %v", err))
	}
	return b
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{
			name: "rateLimitExceeded reason",
			body: errorBody(403, "", []string{"rateLimitExceeded"}),
			want: true,
		},
		{
			name: "userRateLimitExceeded reason",
			body: errorBody(403, "", []string{"userRateLimitExceeded"}),
			want: true,
		},
		{
			name: "rate limit upper case",
			body: errorBody(403, "", []string{"RATE_LIMIT_EXCEEDED"}),
			want: true,
		},
		{
			name: "quota exceeded message",
			body: errorBody(403, quotaExceededMsg, nil),
			want: true,
		},
		{
			name: "permission denied",
			body: errorBody(403, "insufficient permissions", []string{"forbidden"}),
			want: false,
		},
		{
			name: "empty body",
			body: []byte{},
			want: false,
		},
		{
			name: "invalid json with rate limit marker",
			body: []byte("not valid json but contains rateLimitExceeded"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.body); got != tt.want {
				t.Errorf("isRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// newTestClient points a Client at a test server, bypassing OAuth.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient:  server.Client(),
		rateLimiter: NewRateLimiter(1000),
		logger:      slog.Default(),
		userID:      "me",
		baseURL:     server.URL,
	}
}

func TestRequestRetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"labels": []}`)
	}))
	defer server.Close()

	c := newTestClient(server)
	if _, err := c.ListLabels(context.Background()); err != nil {
		t.Fatalf("ListLabels after 429: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (one retry)", got)
	}
	// The 429 must also have throttled the limiter.
	if avail := c.rateLimiter.Available(); avail != 0 {
		t.Errorf("limiter not throttled after 429, tokens = %v", avail)
	}
}

func TestRequestRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"labels": []}`)
	}))
	defer server.Close()

	c := newTestClient(server)
	if _, err := c.ListLabels(context.Background()); err != nil {
		t.Fatalf("ListLabels after 5xx: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (one retry)", got)
	}
}

func TestRequestQuotaForbiddenRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			w.Write(errorBody(403, quotaExceededMsg, []string{"rateLimitExceeded"}))
			return
		}
		fmt.Fprint(w, `{"labels": []}`)
	}))
	defer server.Close()

	c := newTestClient(server)
	if _, err := c.ListLabels(context.Background()); err != nil {
		t.Fatalf("ListLabels after quota 403: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (quota 403 retried)", got)
	}
}

func TestRequestPermissionForbiddenFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write(errorBody(403, "insufficient permissions", []string{"forbidden"}))
	}))
	defer server.Close()

	c := newTestClient(server)
	if _, err := c.ListLabels(context.Background()); err == nil {
		t.Fatal("permission 403 did not fail")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on permission 403)", got)
	}
}

func TestRequestUnauthorizedFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(server)
	if _, err := c.ListLabels(context.Background()); err == nil {
		t.Fatal("401 did not fail")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on 401)", got)
	}
}

func TestRequestNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server)
	_, err := c.GetMessage(context.Background(), "missing", FidelityMetadata)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Errorf("GetMessage error = %v, want NotFoundError", err)
	}
}
