package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rendis/scenecraft/pkg/schema"
)

// RetryPolicy controls how many times opening a stream is attempted.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     string        `json:"backoff"` // constant | linear | exponential
	Delay       time.Duration `json:"delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy retries twice with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     "exponential",
		Delay:       500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// isRetryable classifies errors returned when opening a stream.
// Client errors (4xx other than 408/429) and cancellation are final.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *schema.Error
	if errors.As(err, &se) {
		return se.IsRetryable()
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"too many requests",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	switch {
	case code == 408, code == 429:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// backoff returns the delay before retry number attempt (0-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Backoff {
	case "exponential":
		d = p.Delay << attempt
	case "linear":
		d = p.Delay * time.Duration(attempt+1)
	default:
		d = p.Delay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
