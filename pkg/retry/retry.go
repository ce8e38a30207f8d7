// Package retry provides exponential backoff helpers and transient-error
// classification shared by the transcription and note generation clients.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Config controls the backoff schedule. MaxRetries counts retries after
// the initial attempt.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // fraction of the delay randomized in both directions
}

// DefaultConfig suits short provider calls: 3 retries starting at 100ms,
// doubling up to 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (cfg *Config) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}

func (cfg *Config) jittered(delay time.Duration) time.Duration {
	if cfg.JitterFactor <= 0 {
		return delay
	}
	spread := float64(delay) * cfg.JitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + spread)
}

// Do runs fn until it succeeds or the retry budget is spent, sleeping
// between attempts. Context cancellation interrupts the sleep and is
// returned as the error.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value. On exhaustion it
// returns the last result and error fn produced.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result  T
		lastErr error
	)
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(cfg.jittered(delay)):
			delay = cfg.nextDelay(delay)
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	return result, lastErr
}

// DoIfRetryable is Do, except a non-retryable error aborts immediately
// instead of burning the backoff budget on a failure that cannot heal.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoIfRetryableWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoIfRetryableWithResult is DoIfRetryable for functions that return a value.
func DoIfRetryableWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var (
		result  T
		lastErr error
	)
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(cfg.jittered(delay)):
			delay = cfg.nextDelay(delay)
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	return result, lastErr
}

// RetryableError lets an error declare its own retryability. Provider
// errors from the llm and transcription packages implement it.
type RetryableError interface {
	error
	IsRetryable() bool
}

// transientFragments are matched case-insensitively against plain error
// text when nothing in the chain declares retryability.
var transientFragments = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"429",
	"500",
	"502",
	"503",
	"504",
	"rate limit",
	"too many requests",
	"service busy",
	"service unavailable",
}

// IsRetryable reports whether err looks transient. A RetryableError
// anywhere in the chain decides outright; otherwise the message is
// matched against known transient fragments so permanent failures
// (bad credentials, malformed requests) don't burn the retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var declared RetryableError
	if errors.As(err, &declared) {
		return declared.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
