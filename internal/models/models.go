// Package models defines the core domain types for NarraForge.
package models

import "time"

// JobStatus represents the current state of a production job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Brief is the immutable production request submitted by a caller.
type Brief struct {
	Kind         string `json:"kind"`
	Genre        string `json:"genre"`
	Inspiration  string `json:"inspiration,omitempty"`
	TargetLength int    `json:"target_length,omitempty"`
	// ScopeID references an existing structural scope when continuing a
	// prior world. Empty means a fresh scope is created for the job.
	ScopeID string `json:"scope_id,omitempty"`
}

// Job is a stateful execution of a Brief through the stage pipeline.
type Job struct {
	ID              string     `json:"id"`
	Brief           Brief      `json:"brief"`
	Status          JobStatus  `json:"status"`
	CompletedStages []string   `json:"completed_stages"`
	CurrentStage    string     `json:"current_stage,omitempty"`
	TokensUsed      int        `json:"tokens_used"`
	CostUSD         float64    `json:"cost_usd"`
	Warnings        []string   `json:"warnings,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	Resumable       bool       `json:"resumable"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// HasCompleted reports whether the named stage is in the completed set.
func (j *Job) HasCompleted(stage string) bool {
	for _, s := range j.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// CheckpointMeta carries the per-stage spend plus the cumulative totals as
// of the checkpoint. Cumulative totals in the latest checkpoint must always
// match the job row.
type CheckpointMeta struct {
	CostUSD          float64 `json:"cost_usd"`
	TokensUsed       int     `json:"tokens_used"`
	CumulativeCost   float64 `json:"cumulative_cost"`
	CumulativeTokens int     `json:"cumulative_tokens"`
	Attempts         int     `json:"attempts"`
	DurationMS       int64   `json:"duration_ms,omitempty"`
}

// Checkpoint is the write-once proof that a stage completed. The payload is
// the stage's output map; it is never updated after the first save.
type Checkpoint struct {
	JobID     string         `json:"job_id"`
	Stage     string         `json:"stage"`
	Payload   map[string]any `json:"payload"`
	Meta      CheckpointMeta `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

// JobLease is a temporary ownership claim on a job. A live lease is what
// enforces at-most-one-active-execution per job across processes.
type JobLease struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	HolderID  string    `json:"holder_id"`
	TTLSec    int       `json:"ttl_sec"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// StructuralEntity is a stable definition (world or actor) keyed by
// (scope, id). Genre, core conflict and theme are fixed at creation;
// Attributes hold the mutable sub-fields.
type StructuralEntity struct {
	ID           string         `json:"id"`
	ScopeID      string         `json:"scope_id"`
	Kind         string         `json:"kind"` // "world" or "actor"
	Name         string         `json:"name"`
	Genre        string         `json:"genre,omitempty"`
	CoreConflict string         `json:"core_conflict,omitempty"`
	Theme        string         `json:"theme,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NodeKind enumerates the semantic node types.
type NodeKind string

const (
	NodeKindEvent        NodeKind = "event"
	NodeKindMotif        NodeKind = "motif"
	NodeKindRelationship NodeKind = "relationship"
	NodeKindConsequence  NodeKind = "consequence"
)

// ValidNodeKind reports whether k is one of the known node kinds.
func ValidNodeKind(k NodeKind) bool {
	switch k {
	case NodeKindEvent, NodeKindMotif, NodeKindRelationship, NodeKindConsequence:
		return true
	}
	return false
}

// SemanticNode is a dynamic content unit scoped to a structural entity.
// Significance is advisory, in [0,1]. Connections is an unordered set of
// node ids within the same or a linked scope. Ordinal is the optional
// position in the narrative (-1 when unset).
type SemanticNode struct {
	ID           string         `json:"id"`
	ScopeID      string         `json:"scope_id"`
	Kind         NodeKind       `json:"kind"`
	Content      string         `json:"content"`
	Connections  []string       `json:"connections,omitempty"`
	Significance float64        `json:"significance"`
	Ordinal      int            `json:"ordinal"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ChangeRecord is an append-only ledger entry capturing a state transition.
// The ordered sequence of records for an entity id is its full history.
type ChangeRecord struct {
	ID           string         `json:"id"`
	EntityID     string         `json:"entity_id"`
	EntityKind   string         `json:"entity_kind"`
	ChangeKind   string         `json:"change_kind"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	Trigger      string         `json:"trigger,omitempty"`
	Significance float64        `json:"significance"`
	Timestamp    time.Time      `json:"timestamp"`
}

// PatternSummary is the read-only aggregation over a scope's ledger.
type PatternSummary struct {
	Total        int            `json:"total"`
	CountsByKind map[string]int `json:"counts_by_kind"`
	TimeSpanSec  float64        `json:"time_span_sec"`
	OldestAt     *time.Time     `json:"oldest_at,omitempty"`
	NewestAt     *time.Time     `json:"newest_at,omitempty"`
}

// ValidationReport is the advisory result of a validation stage. Passed
// reflects the configured minimum score, not a hard gate; only strict mode
// turns a failed report into an abort.
type ValidationReport struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
	Passed bool     `json:"passed"`
}

// FinalOutput is the aggregate artifact assembled after the terminal stage.
type FinalOutput struct {
	JobID       string         `json:"job_id"`
	Title       string         `json:"title,omitempty"`
	Content     map[string]any `json:"content"`
	TokensUsed  int            `json:"tokens_used"`
	CostUSD     float64        `json:"cost_usd"`
	Warnings    []string       `json:"warnings,omitempty"`
	DurationSec float64        `json:"duration_sec"`
	AssembledAt time.Time      `json:"assembled_at"`
}
