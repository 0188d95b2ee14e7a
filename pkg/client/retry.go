package client

import (
	"context"
	"time"

	"github.com/marmos91/torrin/internal/logger"
	"github.com/marmos91/torrin/pkg/upload"
)

// RetryPolicy controls per-chunk retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; each subsequent retry
	// doubles it. Default: 1s.
	BaseDelay time.Duration
}

// DefaultRetryPolicy matches the protocol defaults: 3 attempts, 1s base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

func (p RetryPolicy) applyDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

// delay returns the wait before retry number attempt (1-based):
// BaseDelay * 2^(attempt-1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// retryable reports whether an operation should be retried after err.
// A canceled upload will never succeed on retry; everything else, including
// validation errors, gets its remaining attempts (a size mismatch can be a
// corrupted request body rather than a wrong chunk).
func retryable(err error) bool {
	return upload.CodeOf(err) != upload.CodeUploadCanceled
}

// withRetry runs op up to policy.MaxAttempts times with exponential backoff.
// A non-nil gate is awaited before each backoff sleep, so a paused upload
// holds its retries back instead of burning attempts while parked.
func withRetry(ctx context.Context, policy RetryPolicy, label string, gate *latch, op func() error) error {
	policy = policy.applyDefaults()

	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == policy.MaxAttempts {
			return err
		}

		delay := policy.delay(attempt)
		logger.Debug("retrying after failure",
			"operation", label,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)

		if gate != nil {
			if err := gate.wait(ctx); err != nil {
				return err
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
