package venue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RetryConfig configures the bounded exponential backoff applied to
// read-only venue calls (spec §5). MaxRetries counts retries after the
// first attempt, so the default of 3 allows 4 attempts in all.
// Mutating calls (place/cancel) must never be wrapped in this — a
// failed place is reported, not retried, to avoid double-execution.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig matches the spec's reference calibration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 150 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  2.0,
	}
}

var retryableSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"eapi:1015",
	"eapi:1003",
	"-1001",
	"-1021",
}

// IsRetryable classifies an error as a TransientVenueError/
// VenueProtocolError per §7, eligible for the bounded backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range retryableSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// Operation is a retryable read-only venue call.
type Operation func() error

// Retrier wraps read-only venue calls with bounded exponential backoff,
// logging via an injected logger rather than a global one.
type Retrier struct {
	Config RetryConfig
	Log    zerolog.Logger

	// Breaker, when set, gates every attempt through
	// risk.CircuitBreakerManager.Exchange() so a venue with a
	// persistently high failure rate stops being hammered even within
	// the retry budget. Left nil by default so existing callers and
	// tests are unaffected.
	Breaker *gobreaker.CircuitBreaker
}

func NewRetrier(log zerolog.Logger) *Retrier {
	return &Retrier{Config: DefaultRetryConfig(), Log: log}
}

// Do runs op, retrying on retryable failures up to Config.MaxRetries
// additional attempts, honoring ctx cancellation between attempts and
// during backoff sleeps.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var lastErr error
	backoff := r.Config.InitialBackoff

	for attempt := 0; attempt <= r.Config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := r.runOnce(op)
		if err == nil {
			if attempt > 0 {
				r.Log.Info().Int("attempt", attempt+1).Msg("venue call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == r.Config.MaxRetries {
			break
		}

		r.Log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("venue call failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * r.Config.BackoffFactor)
		if backoff > r.Config.MaxBackoff {
			backoff = r.Config.MaxBackoff
		}
	}

	return fmt.Errorf("venue call failed after %d attempts: %w", r.Config.MaxRetries+1, lastErr)
}

// runOnce executes op directly, or through Breaker if one is set. A
// circuit-open error is not in retryableSubstrings, so Do's caller
// treats it as an immediate abort rather than consuming the retry
// budget against an already-tripped breaker.
func (r *Retrier) runOnce(op Operation) error {
	if r.Breaker == nil {
		return op()
	}
	_, err := r.Breaker.Execute(func() (interface{}, error) {
		return nil, op()
	})
	return err
}
