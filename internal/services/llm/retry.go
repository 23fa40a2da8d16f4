package llm

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig defines backoff behavior for transient gateway failures:
// jittered exponential backoff, base 500ms, factor 2, cap 10s.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// NewDefaultRetryConfig returns the gateway's standard retry settings
func NewDefaultRetryConfig(maxRetries int) *RetryConfig {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

// CalculateBackoff computes the jittered wait for a given attempt
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= c.Multiplier
	}
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	// Jitter in [0.5, 1.5) keeps retrying callers spread out
	return time.Duration(backoff * (0.5 + rand.Float64()))
}

// IsTransientError reports whether a provider error is worth retrying:
// network failures, timeouts, throttling and 5xx responses. 4xx responses
// other than 429 are permanent.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "quota") {
		return true
	}
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

// IsCredentialError reports whether an error indicates missing or invalid
// credentials; the gateway degrades to stub mode on these rather than failing.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "API key") ||
		strings.Contains(msg, "PERMISSION_DENIED") ||
		strings.Contains(msg, "UNAUTHENTICATED")
}
