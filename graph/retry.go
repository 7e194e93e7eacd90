package graph

import (
	"context"
	"fmt"
	"time"
)

// BackoffStrategy selects how the delay between retry attempts grows.
type BackoffStrategy int

const (
	BackoffFixed BackoffStrategy = iota
	BackoffExponential
	BackoffLinear
)

// RetryConfig configures retry behavior for a single node.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Strategy        BackoffStrategy
	RetryableErrors func(error) bool
}

// DefaultRetryConfig matches "LLM calls...retry bounded (<=2)"
// guidance as a sane default for any retryable node.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Strategy:     BackoffExponential,
		RetryableErrors: func(err error) bool {
			var interrupt *NodeInterrupt
			return !isInterrupt(err, &interrupt)
		},
	}
}

func nextDelay(current time.Duration, cfg *RetryConfig, attempt int) time.Duration {
	switch cfg.Strategy {
	case BackoffFixed:
		return cfg.InitialDelay
	case BackoffLinear:
		d := cfg.InitialDelay * time.Duration(attempt)
		if d > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return d
	default: // BackoffExponential
		d := current * 2
		if d > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return d
	}
}

// runWithRetry executes fn, retrying on error per cfg. Interrupts are
// never retried: they are a deliberate pause, not a transient fault.
func runWithRetry(ctx context.Context, cfg *RetryConfig, fn func() error) error {
	if cfg == nil {
		return fn()
	}
	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var interrupt *NodeInterrupt
		if isInterrupt(err, &interrupt) {
			return err
		}
		if cfg.RetryableErrors != nil && !cfg.RetryableErrors(err) {
			return err
		}
		if attempt < cfg.MaxAttempts {
			select {
			case <-time.After(delay):
				delay = nextDelay(delay, cfg, attempt+1)
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			}
		}
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}
