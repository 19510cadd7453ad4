package transport

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig configures the retry mechanism for idempotent HTTP requests.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// DefaultTransport returns an http.Transport with tuned connection pool settings.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// backoff calculates the delay before retry number attempt (0-based)
// using exponential backoff with jitter.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := float64(c.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= c.Multiplier
	}
	if delay > float64(c.MaxInterval) {
		delay = float64(c.MaxInterval)
	}

	// Jitter keeps several sidebars from retrying in lockstep.
	jitter := rand.Float64() * delay * 0.5
	return time.Duration(delay*0.75 + jitter)
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(resp *http.Response, limit time.Duration) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	delay := time.Duration(secs) * time.Second
	if limit > 0 && delay > limit {
		delay = limit
	}
	return delay, true
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
