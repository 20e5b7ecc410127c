package acl

import (
	"aegis/pkg/config"
)

// Envelope carries every result produced by an adapter. Errors are
// captured here rather than returned across the Call boundary; callers
// branch on Success. FromCache and FromFallback are mutually exclusive.
type Envelope[R any] struct {
	Success       bool    `json:"success"`
	Data          R       `json:"data,omitempty"`
	Err           error   `json:"-"`
	ErrorText     string  `json:"error,omitempty"`
	LatencyMS     float64 `json:"latency_ms"`
	FromCache     bool    `json:"from_cache"`
	FromFallback  bool    `json:"from_fallback"`
	RetryCount    int     `json:"retry_count"`
	GovernanceTag string  `json:"governance_tag"`
}

func success[R any](data R, latencyMS float64, retries int) Envelope[R] {
	return Envelope[R]{
		Success:       true,
		Data:          data,
		LatencyMS:     latencyMS,
		RetryCount:    retries,
		GovernanceTag: config.GovernanceTag,
	}
}

func cached[R any](data R, latencyMS float64) Envelope[R] {
	return Envelope[R]{
		Success:       true,
		Data:          data,
		LatencyMS:     latencyMS,
		FromCache:     true,
		GovernanceTag: config.GovernanceTag,
	}
}

func fallback[R any](data R, latencyMS float64, retries int) Envelope[R] {
	return Envelope[R]{
		Success:       true,
		Data:          data,
		LatencyMS:     latencyMS,
		FromFallback:  true,
		RetryCount:    retries,
		GovernanceTag: config.GovernanceTag,
	}
}

func failure[R any](err error, latencyMS float64, retries int) Envelope[R] {
	text := ""
	if err != nil {
		text = err.Error()
	}
	return Envelope[R]{
		Err:           err,
		ErrorText:     text,
		LatencyMS:     latencyMS,
		RetryCount:    retries,
		GovernanceTag: config.GovernanceTag,
	}
}
