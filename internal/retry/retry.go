// Package retry implements the jittered exponential backoff used
// around Storage Backend calls that fail with StorageUnavailable.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/pathwaybio/claire-core/internal/apierr"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultConfig is the 3-attempt jittered backoff convention implied by
// the error handling design for StorageUnavailable.
var DefaultConfig = Config{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

// Do runs fn up to cfg.MaxAttempts times, retrying only on
// StorageUnavailable errors, with exponential backoff plus jitter
// between attempts. Any other error, or exhaustion of attempts, is
// returned as-is.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
			jittered := delay + time.Duration(rand.Float64()*float64(delay))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if apierr.KindOf(lastErr) != apierr.KindStorageUnavailable {
			return lastErr
		}
	}
	return lastErr
}
