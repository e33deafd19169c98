package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Marksio90/narraforge/internal/executor"
	"github.com/Marksio90/narraforge/internal/models"
	"github.com/Marksio90/narraforge/internal/store"
)

// Options configure a Sequencer. The struct is copied at construction;
// there is no ambient or global state.
type Options struct {
	Retry            RetryPolicy
	MaxCostUSD       float64
	MaxTokens        int
	StrictValidation bool
	// MinValidationScore is the score below which a validation result is
	// flagged: a warning normally, a fatal ValidationError in strict mode.
	MinValidationScore float64
}

// DefaultOptions returns the sequencer defaults used when a zero Options
// is passed.
func DefaultOptions() Options {
	return Options{
		Retry:              DefaultRetryPolicy(),
		MaxCostUSD:         10.0,
		MinValidationScore: 0.7,
	}
}

// Sequencer drives one job at a time through the fixed stage order:
// build context, execute, checkpoint, advance. A new Sequencer instance
// reconstructs in-flight state from the checkpoint store, so a job that
// crashed mid-pipeline resumes bit-identical to one that never did.
type Sequencer struct {
	store *store.Store
	exec  executor.Executor
	opts  Options
}

// NewSequencer creates a sequencer over the given store and executor.
func NewSequencer(s *store.Store, exec executor.Executor, opts Options) *Sequencer {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.MinValidationScore == 0 {
		opts.MinValidationScore = 0.7
	}
	return &Sequencer{store: s, exec: exec, opts: opts}
}

// Run executes the job's remaining stages in order and assembles the final
// output. The caller owns the job for the duration of the run (the
// scheduler enforces that with a lease). On unrecoverable failure the job
// is marked failed with the causing error and the last good checkpoint is
// left intact for a future resume.
func (sq *Sequencer) Run(ctx context.Context, jobID string) (*models.FinalOutput, error) {
	job, err := sq.store.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if job.Terminal() {
		return nil, fmt.Errorf("job %s already %s", jobID, job.Status)
	}
	if job.Status == models.JobStatusQueued {
		if err := sq.store.MarkJobStarted(jobID); err != nil {
			return nil, fmt.Errorf("mark job started: %w", err)
		}
		now := time.Now().UTC()
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	}

	// The brief snapshot survives restarts; the caller never resubmits.
	brief := job.Brief
	if snap, found, err := sq.store.LoadBriefSnapshot(jobID); err != nil {
		return nil, fmt.Errorf("load brief snapshot: %w", err)
	} else if found {
		brief = *snap
	}

	stageCtx, completed, gov, err := sq.reconstruct(job, brief)
	if err != nil {
		return nil, err
	}

	if len(completed) > 0 {
		log.Printf("Job %s resuming after %d completed stages", jobID, len(completed))
	}

	for _, stage := range stageOrder {
		if completed[stage] {
			continue
		}

		// Cancellation is polled at stage boundaries only; an in-flight
		// executor call is allowed to finish and its result discarded.
		cancelled, err := sq.isCancelled(jobID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			sq.finishCancelled(job)
			return nil, ErrCancelled
		}

		if err := gov.Check(stage); err != nil {
			sq.failJob(job, gov, err)
			return nil, err
		}

		input, err := sq.buildInput(stage, stageCtx)
		if err != nil {
			sq.failJob(job, gov, err)
			return nil, err
		}

		job.CurrentStage = string(stage)
		costBefore, tokensBefore := gov.CostUSD(), gov.Tokens()
		started := time.Now()

		result, attempts, execErr := executeWithRetry(ctx, sq.exec, stage, input, sq.opts.Retry, gov)

		// Re-check after the call returns: a cancel that arrived while
		// the stage was in flight discards the result and no checkpoint
		// is ever written for it.
		cancelled, err = sq.isCancelled(jobID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			sq.finishCancelled(job)
			return nil, ErrCancelled
		}

		if execErr != nil {
			if ctx.Err() != nil {
				// Process shutting down; leave the job in running
				// status. Once the lease expires the scheduler's poll
				// reclaims it untouched.
				return nil, execErr
			}
			if NonBlocking(stage) && !sq.opts.StrictValidation {
				warning := fmt.Sprintf("stage %s skipped: %v", stage, execErr)
				sq.addWarning(job, warning)
				log.Printf("Job %s: %s", jobID, warning)
				continue
			}
			sq.failJob(job, gov, execErr)
			return nil, execErr
		}

		for _, w := range result.Warnings {
			sq.addWarning(job, fmt.Sprintf("stage %s: %s", stage, w))
		}

		if verr := sq.checkValidation(job, stage, result); verr != nil {
			sq.failJob(job, gov, verr)
			return nil, verr
		}

		if err := gov.Check(stage); err != nil {
			sq.failJob(job, gov, err)
			return nil, err
		}

		meta := models.CheckpointMeta{
			CostUSD:          gov.CostUSD() - costBefore,
			TokensUsed:       gov.Tokens() - tokensBefore,
			CumulativeCost:   gov.CostUSD(),
			CumulativeTokens: gov.Tokens(),
			Attempts:         attempts,
			DurationMS:       time.Since(started).Milliseconds(),
		}

		// The Save must be durable before the job row advances: the
		// checkpoint's existence is the sole proof the stage completed.
		if err := sq.store.SaveCheckpoint(jobID, string(stage), result.Data, meta); err != nil {
			wrapped := fmt.Errorf("save checkpoint for stage %s: %w", stage, err)
			sq.failJob(job, gov, wrapped)
			return nil, wrapped
		}

		mergeContext(stageCtx, result.Data)
		completed[stage] = true
		job.CompletedStages = append(job.CompletedStages, string(stage))
		job.CostUSD = gov.CostUSD()
		job.TokensUsed = gov.Tokens()

		nextStage := ""
		if idx := StageIndex(stage); idx+1 < len(stageOrder) {
			nextStage = string(stageOrder[idx+1])
		}
		if err := sq.store.UpdateJobProgress(jobID, job.CompletedStages, nextStage, job.TokensUsed, job.CostUSD); err != nil {
			return nil, fmt.Errorf("update job progress: %w", err)
		}

		if _, err := sq.store.RecordChange(jobID, "job", "stage_completed", nil, map[string]any{
			"stage":           string(stage),
			"attempts":        attempts,
			"cost_usd":        meta.CostUSD,
			"cumulative_cost": meta.CumulativeCost,
		}, string(stage), brief.ScopeID, 0.5); err != nil {
			log.Printf("Job %s: record stage change: %v", jobID, err)
		}

		log.Printf("Job %s completed stage %s (attempts=%d cost=$%.4f total=$%.4f)",
			jobID, stage, attempts, meta.CostUSD, meta.CumulativeCost)
	}

	output := sq.assembleOutput(job, stageCtx, gov)

	if err := sq.store.MarkJobCompleted(jobID); err != nil {
		return nil, fmt.Errorf("mark job completed: %w", err)
	}
	if _, err := sq.store.RecordChange(jobID, "job", "completed", nil, map[string]any{
		"cost_usd": gov.CostUSD(), "tokens": gov.Tokens(),
	}, "pipeline", brief.ScopeID, 0.8); err != nil {
		log.Printf("Job %s: record completion: %v", jobID, err)
	}

	log.Printf("Job %s completed: %d stages, $%.4f, %d tokens", jobID, len(job.CompletedStages), gov.CostUSD(), gov.Tokens())
	return output, nil
}

// reconstruct rebuilds completed-stage state, the accumulated context, and
// the governor totals from the checkpoint store. The job row is reconciled
// against the checkpoints: a crash between a durable Save and the job-row
// update leaves a checkpoint the row does not know about yet, and the
// checkpoint wins.
func (sq *Sequencer) reconstruct(job *models.Job, brief models.Brief) (map[string]any, map[Stage]bool, *Governor, error) {
	stageCtx := map[string]any{
		"brief": map[string]any{
			"kind":          brief.Kind,
			"genre":         brief.Genre,
			"inspiration":   brief.Inspiration,
			"target_length": brief.TargetLength,
			"scope_id":      brief.ScopeID,
		},
	}
	completed := make(map[Stage]bool)
	gov := NewGovernor(sq.opts.MaxCostUSD, sq.opts.MaxTokens)

	// Failed attempts after the last checkpoint were billed and persisted
	// on the job row only; the row totals are the floor either way.
	gov.Seed(job.CostUSD, job.TokensUsed)

	cps, err := sq.store.ListCheckpoints(job.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(cps) == 0 {
		return stageCtx, completed, gov, nil
	}

	var stages []string
	for _, cp := range cps {
		if !KnownStage(cp.Stage) {
			return nil, nil, nil, fmt.Errorf("checkpoint for unknown stage %q", cp.Stage)
		}
		mergeContext(stageCtx, cp.Payload)
		completed[Stage(cp.Stage)] = true
		stages = append(stages, cp.Stage)
	}

	// A crash between a durable Save and the job-row update leaves the
	// checkpoint ahead of the row; the larger total is the true spend.
	latest := cps[len(cps)-1]
	cost, tokens := latest.Meta.CumulativeCost, latest.Meta.CumulativeTokens
	if job.CostUSD > cost {
		cost = job.CostUSD
	}
	if job.TokensUsed > tokens {
		tokens = job.TokensUsed
	}
	gov.Seed(cost, tokens)

	job.CompletedStages = stages
	job.CostUSD = cost
	job.TokensUsed = tokens

	next := ""
	for _, s := range stageOrder {
		if !completed[s] {
			next = string(s)
			break
		}
	}
	if err := sq.store.UpdateJobProgress(job.ID, stages, next, job.TokensUsed, job.CostUSD); err != nil {
		return nil, nil, nil, fmt.Errorf("reconcile job progress: %w", err)
	}
	return stageCtx, completed, gov, nil
}

// buildInput copies the accumulated context for a stage after verifying
// every declared input key is present.
func (sq *Sequencer) buildInput(stage Stage, stageCtx map[string]any) (map[string]any, error) {
	for _, key := range RequiredKeys(stage) {
		if _, ok := stageCtx[key]; !ok {
			return nil, &ContextMissingError{Stage: stage, Key: key}
		}
	}
	input := make(map[string]any, len(stageCtx))
	for k, v := range stageCtx {
		input[k] = v
	}
	return input, nil
}

// checkValidation inspects a non-blocking stage's score. A low score is a
// warning, or a fatal ValidationError in strict mode.
func (sq *Sequencer) checkValidation(job *models.Job, stage Stage, result *executor.StageResult) error {
	if !NonBlocking(stage) {
		return nil
	}
	score, ok := floatField(result.Data, "score")
	if !ok {
		return nil
	}
	report := models.ValidationReport{
		Score:  score,
		Issues: stringSliceField(result.Data, "issues"),
		Passed: score >= sq.opts.MinValidationScore,
	}
	if report.Passed {
		return nil
	}
	if sq.opts.StrictValidation && stage == StageValidateCoherence {
		return &ValidationError{Stage: stage, Score: report.Score, Issues: report.Issues}
	}
	sq.addWarning(job, fmt.Sprintf("stage %s score %.2f below threshold %.2f", stage, report.Score, sq.opts.MinValidationScore))
	return nil
}

// assembleOutput merges the designated output keys into the final
// artifact. When the terminal stage produced a complete artifact itself,
// that is used verbatim and only the duration is refreshed.
func (sq *Sequencer) assembleOutput(job *models.Job, stageCtx map[string]any, gov *Governor) *models.FinalOutput {
	now := time.Now().UTC()
	output := &models.FinalOutput{
		JobID:       job.ID,
		TokensUsed:  gov.Tokens(),
		CostUSD:     gov.CostUSD(),
		Warnings:    job.Warnings,
		AssembledAt: now,
	}
	if job.StartedAt != nil {
		output.DurationSec = now.Sub(*job.StartedAt).Seconds()
	}

	if artifact, ok := stageCtx["artifact"].(map[string]any); ok {
		output.Content = artifact
		if title, ok := artifact["title"].(string); ok {
			output.Title = title
		}
		return output
	}

	content := make(map[string]any)
	for _, key := range finalOutputKeys {
		if v, ok := stageCtx[key]; ok {
			content[key] = v
		}
	}
	output.Content = content
	if title, ok := stageCtx["title"].(string); ok {
		output.Title = title
	}
	return output
}

func (sq *Sequencer) isCancelled(jobID string) (bool, error) {
	status, err := sq.store.GetJobStatus(jobID)
	if err != nil {
		return false, err
	}
	return status == models.JobStatusCancelled, nil
}

func (sq *Sequencer) finishCancelled(job *models.Job) {
	if err := sq.store.MarkJobCancelled(job.ID); err != nil {
		log.Printf("Job %s: mark cancelled: %v", job.ID, err)
	}
	if _, err := sq.store.RecordChange(job.ID, "job", "cancelled", nil, nil, "caller", job.Brief.ScopeID, 0.5); err != nil {
		log.Printf("Job %s: record cancellation: %v", job.ID, err)
	}
	log.Printf("Job %s cancelled at stage %s", job.ID, job.CurrentStage)
}

func (sq *Sequencer) failJob(job *models.Job, gov *Governor, cause error) {
	resumable := Resumable(cause)
	outcome := Classify(cause)
	// Persist the spend observed so far even though no checkpoint covers
	// it; status reporting shows real money.
	if err := sq.store.UpdateJobProgress(job.ID, job.CompletedStages, job.CurrentStage, gov.Tokens(), gov.CostUSD()); err != nil {
		log.Printf("Job %s: persist spend on failure: %v", job.ID, err)
	}
	if err := sq.store.MarkJobFailed(job.ID, cause.Error(), resumable); err != nil {
		log.Printf("Job %s: mark failed: %v", job.ID, err)
	}
	if _, err := sq.store.RecordChange(job.ID, "job", "failed", nil, map[string]any{
		"error": cause.Error(), "outcome": outcome.String(), "resumable": resumable,
	}, job.CurrentStage, job.Brief.ScopeID, 0.7); err != nil {
		log.Printf("Job %s: record failure: %v", job.ID, err)
	}
	log.Printf("Job %s failed at stage %s: %v (outcome=%s resumable=%v)", job.ID, job.CurrentStage, cause, outcome, resumable)
}

func (sq *Sequencer) addWarning(job *models.Job, warning string) {
	job.Warnings = append(job.Warnings, warning)
	if err := sq.store.AppendJobWarning(job.ID, warning); err != nil {
		log.Printf("Job %s: append warning: %v", job.ID, err)
	}
}

// mergeContext folds a stage's output map into the accumulated context.
// Later stages overwrite earlier keys, matching the fixed order.
func mergeContext(stageCtx, data map[string]any) {
	for k, v := range data {
		stageCtx[k] = v
	}
}

func floatField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func stringSliceField(data map[string]any, key string) []string {
	var out []string
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
