package xipc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for processing middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Backoff computes the wait before the next attempt.
	Backoff func(attempt int) time.Duration
	// RetryIf reports whether err is worth another attempt. Nil retries everything.
	RetryIf func(err error) bool
	// Jitter adds up to Jitter of random delay to each backoff.
	Jitter time.Duration
}

// RetryMiddleware provides bounded, selective retries around a handler.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := max(cfg.MaxAttempts, 1)
	shouldRetry := cfg.RetryIf
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) error {
			var lastErr error
			for i := 1; i <= attempts; i++ {
				lastErr = next(ctx, env)
				if lastErr == nil {
					return nil
				}
				if ctx.Err() != nil || i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff == nil {
					continue
				}
				wait := cfg.Backoff(i)
				if cfg.Jitter > 0 {
					wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
				}
				select {
				case <-ctx.Done():
					return lastErr
				case <-time.After(wait):
				}
			}
			return lastErr
		}
	}
}

// NonRetryable reports errors that no retry can fix: a payload that does not
// decode fails the same way every time.
func NonRetryable(err error) bool {
	return errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrUnknownWireType) ||
		errors.Is(err, ErrFieldTooLarge) ||
		errors.Is(err, ErrUnsupportedValue)
}

// TimeoutMiddleware enforces a maximum processing time for a handler.
// When exceeded it returns context.DeadlineExceeded and the delivery is Nacked.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
					}
				}()
				errCh <- next(tctx, env)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware converts handler panics into ErrHandlerPanic errors.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, env)
		}
	}
}

// EventFilterMiddleware only passes envelopes whose event name is one of
// events. Others are acknowledged without reaching the handler.
func EventFilterMiddleware(events ...string) Middleware {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		allowed[e] = struct{}{}
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) error {
			if _, ok := allowed[env.Event]; !ok {
				return nil
			}
			return next(ctx, env)
		}
	}
}

// Chain composes middlewares around a handler; the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
