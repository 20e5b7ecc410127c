package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"aegis/pkg/config"
)

// RequestJSON performs an HTTP request with retry for transient
// failures: transport errors, 429s and 5xx responses. Every outbound
// request carries the governance tag, and the request ID from ctx when
// RequestIDMiddleware assigned one, so a decision can be traced across
// service boundaries. Non-transient statuses return immediately with
// the response body and a nil error; callers branch on the status.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var (
		status  int
		payload []byte
		lastErr error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		status, payload, lastErr = doOnce(ctx, client, method, url, body, headers)
		if lastErr == nil && !transientStatus(status) {
			return status, payload, nil
		}
		if attempt == retries {
			break
		}
		if err := wait(ctx, retryDelay); err != nil {
			return 0, nil, err
		}
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return status, payload, nil
}

func doOnce(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Governance-Tag", config.GovernanceTag)
	if id := RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}

// transientStatus marks responses worth retrying. 4xx responses other
// than 429 are the caller's fault and retried by nobody.
func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
