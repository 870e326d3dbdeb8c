package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/metrics"
)

// RetryResult describes how a retried task finished.
type RetryResult struct {
	Attempts int
	// Exhausted is true when the task failed on its last allowed attempt or
	// ran out of time.
	Exhausted bool
	Duration  time.Duration
}

// RetryExecutor runs tasks under a retry policy.
type RetryExecutor struct {
	logger *zap.Logger
}

// NewRetryExecutor creates an executor.
func NewRetryExecutor(logger *zap.Logger) *RetryExecutor {
	return &RetryExecutor{logger: logger.With(zap.String("component", "retry"))}
}

// newBackOff builds the delay schedule of policy: the first retry waits
// RetryDelay and later ones grow by Multiplier up to MaxDelay.
func newBackOff(policy config.RetryPolicy) backoff.BackOff {
	var b backoff.BackOff
	if policy.Multiplier <= 1 {
		b = backoff.NewConstantBackOff(policy.RetryDelay)
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = policy.RetryDelay
		exp.Multiplier = policy.Multiplier
		exp.RandomizationFactor = 0
		exp.MaxInterval = policy.MaxDelay
		if exp.MaxInterval <= 0 {
			exp.MaxInterval = backoff.DefaultMaxInterval
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	return backoff.WithMaxRetries(b, uint64(policy.Retries))
}

// Run calls fn until it succeeds, returns a permanent error, exhausts
// policy.Retries or exceeds policy.Timeout. The timeout covers every attempt
// and every delay; running out of time counts as exhaustion.
func (e *RetryExecutor) Run(ctx context.Context, name string, policy config.RetryPolicy, fn func(ctx context.Context) error) (RetryResult, error) {
	start := time.Now()
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	log := e.logger.With(zap.String("task", name))

	var result RetryResult
	var lastErr error
	operation := func() error {
		result.Attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.TaskAttempts.WithLabelValues(name, "retry").Inc()
		log.Warn("task attempt failed, retrying",
			zap.Int("attempt", result.Attempts),
			zap.Int("max_attempts", policy.Retries+1),
			zap.Duration("delay", next),
			zap.Bool("retryable", errors.IsRetryable(err)),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(newBackOff(policy), ctx), notify)
	result.Duration = time.Since(start)

	if err == nil {
		metrics.TaskAttempts.WithLabelValues(name, "success").Inc()
		if result.Attempts > 1 {
			log.Info("task succeeded after retry", zap.Int("attempts", result.Attempts))
		}
		return result, nil
	}

	result.Exhausted = true
	metrics.TaskAttempts.WithLabelValues(name, "exhausted").Inc()

	if lastErr == nil {
		lastErr = err
	}
	if ctx.Err() != nil && !errors.IsPermanent(lastErr) {
		err = errors.Wrap(lastErr, errors.ErrorTypeTimeout, "task timed out").
			WithDetail("timeout", policy.Timeout.String()).
			WithDetail("attempts", result.Attempts)
	} else {
		err = lastErr
	}

	log.Error("task failed",
		zap.Int("attempts", result.Attempts),
		zap.Duration("duration", result.Duration),
		zap.String("error_type", string(errors.TypeOf(err))),
		zap.Bool("retryable", errors.IsRetryable(err)),
		zap.Error(err))
	return result, err
}
