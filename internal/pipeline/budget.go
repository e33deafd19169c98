package pipeline

// Governor tracks cumulative cost and token usage against a configured
// ceiling. Accounting is additive only: every attempt's partial spend is
// added, including failed attempts, and no code path subtracts.
//
// A Governor belongs to a single sequencer run and is not safe for
// concurrent use.
type Governor struct {
	maxCostUSD float64
	maxTokens  int

	costUSD float64
	tokens  int
}

// NewGovernor creates a governor with the given ceilings. A zero or
// negative maxTokens disables the token ceiling; the cost ceiling is always
// enforced (a ceiling of 0 trips before the first stage runs).
func NewGovernor(maxCostUSD float64, maxTokens int) *Governor {
	return &Governor{maxCostUSD: maxCostUSD, maxTokens: maxTokens}
}

// Seed initializes the cumulative totals from a resumed job's checkpoints.
func (g *Governor) Seed(costUSD float64, tokens int) {
	g.costUSD = costUSD
	g.tokens = tokens
}

// Add accumulates one attempt's spend. Negative inputs are ignored rather
// than allowed to shrink the totals.
func (g *Governor) Add(costUSD float64, tokens int) {
	if costUSD > 0 {
		g.costUSD += costUSD
	}
	if tokens > 0 {
		g.tokens += tokens
	}
}

// Check returns a BudgetExceededError when the cumulative cost or token
// total is above its ceiling. Called before and after every stage.
func (g *Governor) Check(stage Stage) error {
	if g.costUSD > g.maxCostUSD {
		return &BudgetExceededError{Stage: stage, CostUSD: g.costUSD, Ceiling: g.maxCostUSD}
	}
	if g.maxTokens > 0 && g.tokens > g.maxTokens {
		return &BudgetExceededError{Stage: stage, CostUSD: g.costUSD, Ceiling: g.maxCostUSD}
	}
	// A ceiling of zero means no spend is acceptable at all; trip even
	// with zero accumulated cost so the first stage never runs.
	if g.maxCostUSD == 0 {
		return &BudgetExceededError{Stage: stage, CostUSD: g.costUSD, Ceiling: 0}
	}
	return nil
}

// CostUSD returns the cumulative cost.
func (g *Governor) CostUSD() float64 { return g.costUSD }

// Tokens returns the cumulative token count.
func (g *Governor) Tokens() int { return g.tokens }
