package uploader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay_ShouldDoublePerAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2.0}

	assert.Equal(t, 500*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 1000*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 2000*time.Millisecond, policy.Delay(3))
}

func TestRetryPolicy_Delay_ShouldClampInvalidInputs(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, Multiplier: 0}

	assert.Equal(t, 100*time.Millisecond, policy.Delay(0))
	assert.Equal(t, 100*time.Millisecond, policy.Delay(5))
}

func TestRetryPolicy_Wait_ShouldReturnEarlyOnCancel(t *testing.T) {
	// given a policy with a long delay
	policy := RetryPolicy{BaseDelay: 10 * time.Second, Multiplier: 2.0}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- policy.Wait(ctx, 1)
	}()

	// when the context is cancelled
	cancel()

	// then Wait returns promptly with the context error
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}
