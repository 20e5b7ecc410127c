package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aegis/pkg/config"
)

func TestRequestJSONStampsGovernanceTag(t *testing.T) {
	var tag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag = r.Header.Get("X-Governance-Tag")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, 0, 0)
	if err != nil || status != http.StatusOK {
		t.Fatalf("status=%d err=%v", status, err)
	}
	if tag != config.GovernanceTag {
		t.Fatalf("governance tag = %q, want %q", tag, config.GovernanceTag)
	}
}

func TestRequestJSONPropagatesRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-far-side")
	if _, _, err := RequestJSON(ctx, srv.Client(), http.MethodGet, srv.URL, nil, nil, 0, 0); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got != "req-far-side" {
		t.Fatalf("request id = %q, want req-far-side", got)
	}
}

func TestRequestJSONRetriesTransientStatuses(t *testing.T) {
	for _, transient := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		attempts := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(transient)
				_, _ = w.Write([]byte(`{"error":"try again"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))

		status, body, err := RequestJSON(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, 2, time.Millisecond)
		srv.Close()
		if err != nil {
			t.Fatalf("transient %d: unexpected error: %v", transient, err)
		}
		if status != http.StatusOK || attempts != 2 {
			t.Fatalf("transient %d: status=%d attempts=%d", transient, status, attempts)
		}
		if !strings.Contains(string(body), "ok") {
			t.Fatalf("transient %d: body = %s", transient, body)
		}
	}
}

func TestRequestJSONExhaustedRetriesReturnLastResponse(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	status, body, err := RequestJSON(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusBadGateway || attempts != 3 {
		t.Fatalf("status=%d attempts=%d", status, attempts)
	}
	if !strings.Contains(string(body), "upstream down") {
		t.Fatalf("body = %s", body)
	}
}

func TestRequestJSONNoRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad input"}`))
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, []byte(`{}`), nil, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusUnprocessableEntity || attempts != 1 {
		t.Fatalf("status=%d attempts=%d", status, attempts)
	}
}

func TestRequestJSONCallerHeadersWin(t *testing.T) {
	var auth, ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		ctype = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	headers := map[string]string{
		"Authorization": "Bearer s3cret",
		"Content-Type":  "application/vnd.aegis+json",
	}
	status, _, err := RequestJSON(context.Background(), nil, http.MethodPost, srv.URL, []byte(`{"a":1}`), headers, 0, 0)
	if err != nil || status != http.StatusCreated {
		t.Fatalf("status=%d err=%v", status, err)
	}
	if auth != "Bearer s3cret" {
		t.Fatalf("auth header = %q", auth)
	}
	if ctype != "application/vnd.aegis+json" {
		t.Fatalf("content type = %q", ctype)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRequestJSONTransportErrors(t *testing.T) {
	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls++
			return nil, errors.New("dial failed")
		})}
		// Negative retry counts clamp to a single attempt.
		_, _, err := RequestJSON(context.Background(), client, http.MethodGet, "http://unreachable.invalid", nil, nil, -3, 0)
		if err == nil || !strings.Contains(err.Error(), "dial failed") {
			t.Fatalf("expected transport error, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})
	t.Run("recovers", func(t *testing.T) {
		calls := 0
		client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset")
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
				Header:     make(http.Header),
			}, nil
		})}
		status, _, err := RequestJSON(context.Background(), client, http.MethodGet, "http://flaky.invalid", nil, nil, 1, time.Millisecond)
		if err != nil || status != http.StatusOK {
			t.Fatalf("status=%d err=%v", status, err)
		}
	})
	t.Run("bad method", func(t *testing.T) {
		_, _, err := RequestJSON(context.Background(), nil, "bad method", "http://example.invalid", nil, nil, 0, 0)
		if err == nil {
			t.Fatal("expected request build error")
		}
	})
}

func TestRequestJSONCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := RequestJSON(ctx, srv.Client(), http.MethodGet, srv.URL, nil, nil, 5, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
