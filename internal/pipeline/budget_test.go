package pipeline

import (
	"errors"
	"testing"
)

func TestGovernorAccumulation(t *testing.T) {
	gov := NewGovernor(1.0, 0)

	gov.Add(0.3, 100)
	gov.Add(0.3, 50)
	if gov.CostUSD() != 0.6 {
		t.Errorf("Expected cost 0.6, got %f", gov.CostUSD())
	}
	if gov.Tokens() != 150 {
		t.Errorf("Expected 150 tokens, got %d", gov.Tokens())
	}
	if err := gov.Check(StageBuildWorld); err != nil {
		t.Errorf("Check under ceiling failed: %v", err)
	}

	gov.Add(0.5, 0)
	err := gov.Check(StageBuildWorld)
	if !IsBudgetExceeded(err) {
		t.Errorf("Expected BudgetExceededError over ceiling, got %v", err)
	}
}

func TestGovernorIgnoresNegativeSpend(t *testing.T) {
	gov := NewGovernor(1.0, 0)
	gov.Add(0.5, 100)
	gov.Add(-0.4, -50)
	if gov.CostUSD() != 0.5 || gov.Tokens() != 100 {
		t.Errorf("Negative spend shrank totals: $%f, %d tokens", gov.CostUSD(), gov.Tokens())
	}
}

func TestGovernorZeroCeiling(t *testing.T) {
	gov := NewGovernor(0, 0)
	// No spend yet, but a zero ceiling still trips before the first stage.
	err := gov.Check(StageInterpretBrief)
	if !IsBudgetExceeded(err) {
		t.Errorf("Expected zero ceiling to trip immediately, got %v", err)
	}
}

func TestGovernorTokenCeiling(t *testing.T) {
	gov := NewGovernor(100.0, 500)
	gov.Add(0.1, 400)
	if err := gov.Check(StageBuildWorld); err != nil {
		t.Errorf("Check under token ceiling failed: %v", err)
	}
	gov.Add(0.1, 200)
	if !IsBudgetExceeded(gov.Check(StageBuildWorld)) {
		t.Error("Expected token ceiling to trip")
	}
}

func TestGovernorSeed(t *testing.T) {
	gov := NewGovernor(1.0, 0)
	gov.Seed(0.9, 300)
	gov.Add(0.2, 10)
	if !IsBudgetExceeded(gov.Check(StageRefineLanguage)) {
		t.Error("Expected seeded totals to count against the ceiling")
	}
}

func TestResumableClassification(t *testing.T) {
	cases := []struct {
		err       error
		resumable bool
	}{
		{&TransientError{Stage: StageBuildWorld, Attempt: 3, Err: errors.New("rate limit")}, true},
		{&StageTimeoutError{Stage: StageGenerateContent}, true},
		{&BudgetExceededError{Stage: StageBuildWorld, CostUSD: 2, Ceiling: 1}, false},
		{&ContextMissingError{Stage: StageBuildWorld, Key: "interpretation"}, false},
		{&ValidationError{Stage: StageValidateCoherence, Score: 0.5}, false},
	}
	for _, tc := range cases {
		if got := Resumable(tc.err); got != tc.resumable {
			t.Errorf("Resumable(%v) = %v, want %v", tc.err, got, tc.resumable)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeCompleted},
		{ErrCancelled, OutcomeCancelled},
		{&BudgetExceededError{CostUSD: 2, Ceiling: 1}, OutcomeBudgetAbort},
		{&TransientError{Stage: StageBuildWorld, Err: errors.New("flaky")}, OutcomeRetry},
		{&StageTimeoutError{Stage: StageBuildWorld}, OutcomeRetry},
		{&ContextMissingError{Stage: StageBuildWorld, Key: "interpretation"}, OutcomeFatal},
		{&ValidationError{Stage: StageValidateCoherence, Score: 0.5}, OutcomeFatal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
