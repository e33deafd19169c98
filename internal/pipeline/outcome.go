package pipeline

import "errors"

// Outcome classifies how a stage execution ended. It is threaded through
// return values; the sequencer never panics or throws to signal pipeline
// control flow.
type Outcome int

const (
	// OutcomeCompleted means the stage produced output and a checkpoint
	// may be written.
	OutcomeCompleted Outcome = iota
	// OutcomeRetry means the attempt failed transiently and the retry
	// policy decides whether to run another attempt.
	OutcomeRetry
	// OutcomeFatal means the failure is unrecoverable for this run.
	OutcomeFatal
	// OutcomeBudgetAbort means the cost ceiling was crossed; never
	// retried.
	OutcomeBudgetAbort
	// OutcomeCancelled means the job's status flipped to cancelled.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	case OutcomeBudgetAbort:
		return "budget-abort"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Classify maps a run error to its outcome. A nil error is a completion.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case IsBudgetExceeded(err):
		return OutcomeBudgetAbort
	case IsTransient(err), IsStageTimeout(err):
		return OutcomeRetry
	}
	return OutcomeFatal
}
