package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Marksio90/narraforge/internal/executor"
)

// RetryPolicy bounds stage attempts and spaces them out. Backoff before
// attempt n is Base*n (linear) or Base*2^(n-1) (exponential).
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Exponential bool
	// StageTimeout bounds each individual attempt. Zero disables it.
	StageTimeout time.Duration
}

// DefaultRetryPolicy mirrors the configuration defaults: three attempts,
// linear backoff from two seconds, no per-stage timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: 2 * time.Second}
}

// delay returns the wait before the given 1-based attempt number.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 1 || p.Base <= 0 {
		return 0
	}
	if p.Exponential {
		d := p.Base
		for i := 2; i < attempt; i++ {
			d *= 2
		}
		return d
	}
	return p.Base * time.Duration(attempt-1)
}

// executeWithRetry runs one stage through the executor under the retry
// policy. Every attempt's spend flows into the governor, including failed
// attempts, before the outcome is classified. The returned attempt count
// covers all attempts made.
func executeWithRetry(ctx context.Context, exec executor.Executor, stage Stage, input map[string]any, policy RetryPolicy, gov *Governor) (*executor.StageResult, int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if wait := policy.delay(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			case <-time.After(wait):
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if policy.StageTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.StageTimeout)
		}
		result, err := exec.Execute(attemptCtx, string(stage), input)
		cancel()

		// Spend happened regardless of how the attempt ended.
		if result != nil {
			gov.Add(result.CostUSD, result.Tokens)
		}

		if err == nil && result != nil && result.Success {
			return result, attempt, nil
		}

		// A per-attempt timeout is unrecoverable but leaves the job
		// resumable; it is not retried within this run.
		if policy.StageTimeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return result, attempt, &StageTimeoutError{Stage: stage}
		}
		if ctx.Err() != nil {
			return result, attempt, ctx.Err()
		}

		if err == nil {
			if result != nil && result.Err != "" {
				err = errors.New(result.Err)
			} else {
				err = fmt.Errorf("stage reported failure without error detail")
			}
		}
		lastErr = &TransientError{Stage: stage, Attempt: attempt, Err: err}
	}
	return nil, maxAttempts, lastErr
}
