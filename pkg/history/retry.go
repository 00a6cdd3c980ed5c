package history

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryableSubstrings classifies transient backend errors by message match
// (spec.md §4.3). A driver-specific operational-error type check can be
// layered on top by a concrete Store (e.g. *pgconn.PgError codes), but the
// substring set covers the backend-agnostic cases named in the spec.
var retryableSubstrings = []string{
	"database is locked",
	"database table is locked",
	"connection timeout",
	"connection pool",
	"connection closed",
	"disk image is malformed",
}

// isRetryable reports whether err's message matches one of spec.md §4.3's
// retryable patterns.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryConfig parameterizes the backoff policy (spec.md §4.3 defaults).
type RetryConfig struct {
	MaxRetries int           // default 3 (so up to MaxRetries+1 attempts)
	Base       time.Duration // default 100ms
	Cap        time.Duration // default 2s
}

// DefaultRetryConfig is spec.md §4.3's documented default.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, Base: 100 * time.Millisecond, Cap: 2 * time.Second}
}

// withRetry runs op up to cfg.MaxRetries+1 times, retrying only on
// retryable errors, with exponential backoff capped at cfg.Cap plus ≤10%
// jitter (spec.md §4.3). A non-retryable error, or exhausting all
// attempts, returns the last error.
func withRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Base
	b.MaxInterval = cfg.Cap
	b.RandomizationFactor = 0.1 // ≤10% jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // bounded by attempt count below, not elapsed time

	attempts := cfg.MaxRetries + 1
	var lastErr error
	bctx := backoff.WithContext(b, ctx)

	for i := 0; i < attempts; i++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}
		d := bctx.NextBackOff()
		if d == backoff.Stop {
			break
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// withRetryOnce runs op exactly once, never retrying — used for
// create_session (spec.md §4.3: "Never retry create_session after the
// first attempt").
func withRetryOnce(ctx context.Context, op func(ctx context.Context) error) error {
	return op(ctx)
}
