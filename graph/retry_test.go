package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Strategy: BackoffFixed}
	attempts := 0
	err := runWithRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRunWithRetry_NeverRetriesInterrupt(t *testing.T) {
	cfg := DefaultRetryConfig()
	attempts := 0
	err := runWithRetry(context.Background(), cfg, func() error {
		attempts++
		return Interrupt("n", "pause", nil, false)
	})
	var gi *NodeInterrupt
	assert.ErrorAs(t, err, &gi)
	assert.Equal(t, 1, attempts)
}

func TestRunWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Strategy: BackoffExponential}
	attempts := 0
	err := runWithRetry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}
