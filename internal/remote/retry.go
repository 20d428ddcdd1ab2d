package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/songsync-app/songsync/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a Backend with automatic retry on transient errors.
// Version conflicts are never retried: they are the signal the conflict
// subsystem exists to handle.
type RetryClient struct {
	inner  Backend
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given Backend.
func NewRetryClient(inner Backend, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

func (rc *RetryClient) FetchRecord(ctx context.Context, entityType models.EntityType, entityID string) (rec *RecordSnapshot, err error) {
	err = rc.retry(ctx, "fetch record", func() error {
		rec, err = rc.inner.FetchRecord(ctx, entityType, entityID)
		return err
	})
	return
}

func (rc *RetryClient) ListRecords(ctx context.Context, entityType models.EntityType) (recs []*RecordSnapshot, err error) {
	err = rc.retry(ctx, "list records", func() error {
		recs, err = rc.inner.ListRecords(ctx, entityType)
		return err
	})
	return
}

func (rc *RetryClient) PushRecord(ctx context.Context, rec *RecordSnapshot, expectedTag string) (tag string, err error) {
	err = rc.retry(ctx, "push record", func() error {
		tag, err = rc.inner.PushRecord(ctx, rec, expectedTag)
		return err
	})
	return
}

func (rc *RetryClient) ForcePushRecord(ctx context.Context, rec *RecordSnapshot) (tag string, err error) {
	err = rc.retry(ctx, "force push record", func() error {
		tag, err = rc.inner.ForcePushRecord(ctx, rec)
		return err
	})
	return
}
