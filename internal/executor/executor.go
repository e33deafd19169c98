// Package executor defines the stage executor interface for NarraForge.
//
// Stage behavior lives outside the core: each stage formats a request and
// calls an external generative service. The sequencer only sees this
// contract and never inspects how a result was produced.
package executor

import (
	"context"
)

// StageResult holds the outcome of a single stage execution attempt.
// CostUSD and Tokens report the spend of this attempt alone; the sequencer
// accumulates them even when the attempt failed, since the spend happened.
type StageResult struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	CostUSD  float64        `json:"cost_usd"`
	Tokens   int            `json:"tokens"`
	Warnings []string       `json:"warnings,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// Executor runs a pipeline stage against its assembled input context.
type Executor interface {
	// Name returns the executor identifier.
	Name() string

	// Execute runs one stage. A non-nil error means the attempt failed
	// outright (transport failure, timeout); a result with Success=false
	// means the service answered but the stage did not produce usable
	// output. Either may still carry cost and token spend.
	Execute(ctx context.Context, stage string, input map[string]any) (*StageResult, error)
}
