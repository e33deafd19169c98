package pipeline

import (
	"errors"
	"fmt"
)

// TransientError marks a stage attempt failure that the retry policy may
// recover: executor timeouts, rate limits, flaky transport. It is surfaced
// only after the attempt budget is exhausted.
type TransientError struct {
	Stage   Stage
	Attempt int
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("stage %s attempt %d failed: %v", e.Stage, e.Attempt, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BudgetExceededError aborts the job immediately. The spend already
// happened, so the job is left non-resumable; resuming would repeat the
// risk.
type BudgetExceededError struct {
	Stage   Stage
	CostUSD float64
	Ceiling float64
}

func (e *BudgetExceededError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("cost budget exceeded before first stage: $%.4f > $%.4f ceiling", e.CostUSD, e.Ceiling)
	}
	return fmt.Sprintf("cost budget exceeded at stage %s: $%.4f > $%.4f ceiling", e.Stage, e.CostUSD, e.Ceiling)
}

// ContextMissingError indicates a stage's declared input key was absent
// from the accumulated context. That is a programming-contract violation:
// fatal, never retried.
type ContextMissingError struct {
	Stage Stage
	Key   string
}

func (e *ContextMissingError) Error() string {
	return fmt.Sprintf("stage %s requires context key %q which is missing", e.Stage, e.Key)
}

// ValidationError is produced when strict mode promotes a failing
// non-blocking validation stage to a fatal abort.
type ValidationError struct {
	Stage  Stage
	Score  float64
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s validation failed with score %.2f (%d issues)", e.Stage, e.Score, len(e.Issues))
}

// StageTimeoutError tags a per-stage timeout. It collapses to the same
// unrecoverable-failure path as an exhausted retry budget, but the job
// stays resumable.
type StageTimeoutError struct {
	Stage Stage
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out", e.Stage)
}

// ErrCancelled is returned when a job's status flips to cancelled at a
// stage boundary (or while an executor call was in flight).
var ErrCancelled = errors.New("job cancelled")

// IsTransient reports whether err is a retryable stage failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsBudgetExceeded reports whether err is a budget abort.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// IsContextMissing reports whether err is a contract violation.
func IsContextMissing(err error) bool {
	var ce *ContextMissingError
	return errors.As(err, &ce)
}

// IsStageTimeout reports whether err is a per-stage timeout.
func IsStageTimeout(err error) bool {
	var se *StageTimeoutError
	return errors.As(err, &se)
}

// Resumable reports whether a job that failed with err may be resumed from
// its last checkpoint.
func Resumable(err error) bool {
	if IsBudgetExceeded(err) || IsContextMissing(err) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return true
}
