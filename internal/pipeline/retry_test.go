package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

func fastPolicy(retries int) config.RetryPolicy {
	return config.RetryPolicy{
		Retries:    retries,
		RetryDelay: time.Millisecond,
		Multiplier: 1,
		Timeout:    5 * time.Second,
	}
}

// failing returns fn that fails with err for the first n calls.
func failing(n int, err error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestRetryExecutor(t *testing.T) {
	transient := errors.New(errors.ErrorTypeTransient, "503 service unavailable")
	usage := errors.New(errors.ErrorTypeUsage, "merge requires at least one key column")

	tests := []struct {
		name          string
		retries       int
		failures      int
		err           error
		wantAttempts  int
		wantErr       bool
		wantExhausted bool
	}{
		{name: "first attempt succeeds", retries: 3, failures: 0, err: transient, wantAttempts: 1},
		{name: "succeeds after retries", retries: 3, failures: 2, err: transient, wantAttempts: 3},
		{name: "retries exhausted", retries: 2, failures: 10, err: transient, wantAttempts: 3, wantErr: true, wantExhausted: true},
		{name: "zero retries", retries: 0, failures: 1, err: transient, wantAttempts: 1, wantErr: true, wantExhausted: true},
		{name: "permanent error is not retried", retries: 3, failures: 1, err: usage, wantAttempts: 1, wantErr: true, wantExhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, calls := failing(tt.failures, tt.err)
			res, err := NewRetryExecutor(testutil.TestLogger(t)).Run(context.Background(), "task", fastPolicy(tt.retries), fn)

			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantAttempts, *calls)
			assert.Equal(t, tt.wantExhausted, res.Exhausted)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.TypeOf(tt.err), errors.TypeOf(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryExecutorExponentialDelay(t *testing.T) {
	policy := config.RetryPolicy{
		Retries:    2,
		RetryDelay: 20 * time.Millisecond,
		Multiplier: 2,
		MaxDelay:   time.Second,
		Timeout:    5 * time.Second,
	}
	fn, _ := failing(2, errors.New(errors.ErrorTypeTimeout, "read timeout"))

	start := time.Now()
	res, err := NewRetryExecutor(testutil.TestLogger(t)).Run(context.Background(), "task", policy, fn)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRetryExecutorTimeoutCoversRetries(t *testing.T) {
	policy := config.RetryPolicy{
		Retries:    100,
		RetryDelay: 30 * time.Millisecond,
		Multiplier: 1,
		Timeout:    100 * time.Millisecond,
	}
	fn, calls := failing(1000, errors.New(errors.ErrorTypeTransient, "connection reset"))

	start := time.Now()
	res, err := NewRetryExecutor(testutil.TestLogger(t)).Run(context.Background(), "task", policy, fn)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.True(t, res.Exhausted)
	assert.Less(t, *calls, 10)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryExecutorTimeoutInterruptsAttempt(t *testing.T) {
	policy := fastPolicy(3)
	policy.Timeout = 50 * time.Millisecond

	res, err := NewRetryExecutor(testutil.TestLogger(t)).Run(context.Background(), "task", policy, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryExecutorLogsRetryability(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fn, _ := failing(10, errors.New(errors.ErrorTypeConnection, "connection refused"))

	_, err := NewRetryExecutor(zap.New(core)).Run(context.Background(), "exchange_rates", fastPolicy(1), fn)
	require.Error(t, err)

	retries := logs.FilterMessage("task attempt failed, retrying").All()
	require.Len(t, retries, 1)
	assert.Equal(t, true, retries[0].ContextMap()["retryable"])

	failed := logs.FilterMessage("task failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "connection", failed[0].ContextMap()["error_type"])
	assert.Equal(t, true, failed[0].ContextMap()["retryable"])
}
