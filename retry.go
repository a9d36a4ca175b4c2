package bastion

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryClient wraps a SheetClient and automatically retries transient
// remote failures with exponential backoff. Each attempt runs under a
// bounded timeout that doubles per attempt.
type retryClient struct {
	inner          SheetClient
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// RetryOption configures a retryClient.
type RetryOption func(*retryClient)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryClient) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 2s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryClient) { r.baseDelay = d }
}

// RetryAttemptTimeout sets the timeout of the first attempt (default: 8s).
// The timeout doubles on each retry.
func RetryAttemptTimeout(d time.Duration) RetryOption {
	return func(r *retryClient) { r.attemptTimeout = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN; final failures after exhausting attempts log at ERROR.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryClient) { r.logger = l }
}

// WithRetry wraps c with automatic retry on transient RemoteErrors.
// Compose with any SheetClient:
//
//	client = bastion.WithRetry(sheets.Open(id, tab))
//	client = bastion.WithRetry(sheets.Open(id, tab), bastion.RetryMaxAttempts(5))
func WithRetry(c SheetClient, opts ...RetryOption) SheetClient {
	r := &retryClient{
		inner:          c,
		maxAttempts:    3,
		baseDelay:      2 * time.Second,
		attemptTimeout: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

func (r *retryClient) Title(ctx context.Context) (string, error) {
	return retryCall(ctx, r, "title", func(ctx context.Context) (string, error) {
		return r.inner.Title(ctx)
	})
}

func (r *retryClient) WholeSheet(ctx context.Context) ([][]string, error) {
	return retryCall(ctx, r, "whole_sheet", func(ctx context.Context) ([][]string, error) {
		return r.inner.WholeSheet(ctx)
	})
}

func (r *retryClient) BatchGet(ctx context.Context, ranges []string) ([][][]string, error) {
	return retryCall(ctx, r, "batch_get", func(ctx context.Context) ([][][]string, error) {
		return r.inner.BatchGet(ctx, ranges)
	})
}

func (r *retryClient) BatchUpdate(ctx context.Context, updates []Update) error {
	_, err := retryCall(ctx, r, "batch_update", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.BatchUpdate(ctx, updates)
	})
	return err
}

func (r *retryClient) ChangeWorksheet(ctx context.Context, tab string) error {
	_, err := retryCall(ctx, r, "change_worksheet", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.ChangeWorksheet(ctx, tab)
	})
	return err
}

func (r *retryClient) Worksheet() string {
	return r.inner.Worksheet()
}

// IsTransient reports whether err is a retryable remote failure.
func IsTransient(err error) bool {
	var e *RemoteError
	return errors.As(err, &e) && e.Transient
}

// retryCall runs fn up to r.maxAttempts times. Attempt i runs under a
// timeout of attemptTimeout << i; transient failures sleep an exponential
// backoff with jitter before the next attempt.
func retryCall[T any](ctx context.Context, r *retryClient, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout<<i)
		result, err := fn(attemptCtx)
		cancel()
		if err == nil || !retriable(err) {
			return result, err
		}
		last = err
		r.logger.Warn("sheet: retrying transient error",
			"op", op,
			"attempt", i+1,
			"max_attempts", r.maxAttempts,
			"error", err)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryBackoff(r.baseDelay, i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("sheet: all retry attempts exhausted",
		"op", op,
		"attempts", r.maxAttempts,
		"error", last)
	return zero, last
}

// retriable treats attempt timeouts like transient remote failures.
func retriable(err error) bool {
	return IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// retryBackoff returns the delay for retry i (0-indexed).
// Exponential: base * 2^i, plus up to 50% random jitter.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}

// compile-time check
var _ SheetClient = (*retryClient)(nil)
