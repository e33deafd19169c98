package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/google/uuid"
)

// ErrJobNotClaimable indicates the job cannot be claimed (not found or in a
// status that cannot start running).
var ErrJobNotClaimable = fmt.Errorf("job not found or not claimable")

// ErrJobAlreadyLeased indicates the job already has an active lease.
var ErrJobAlreadyLeased = fmt.Errorf("job already has an active lease")

// --- Job Operations ---

// CreateJob inserts a new job in queued status and snapshots its brief so a
// resume never needs the caller to resubmit it.
func (s *Store) CreateJob(brief models.Brief) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:              uuid.New().String(),
		Brief:           brief,
		Status:          models.JobStatusQueued,
		CompletedStages: []string{},
		Resumable:       true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	briefJSON, err := json.Marshal(brief)
	if err != nil {
		return nil, fmt.Errorf("marshal brief: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO jobs (id, brief, status, completed_stages, created_at, updated_at) VALUES (?, ?, ?, '[]', ?, ?)`,
		job.ID, string(briefJSON), job.Status, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO brief_snapshots (job_id, brief, created_at) VALUES (?, ?, ?)`,
		job.ID, string(briefJSON), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert brief snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID. Returns (nil, nil) when not found.
func (s *Store) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(
		`SELECT id, brief, status, completed_stages, current_stage, tokens_used, cost_usd,
		        warnings, last_error, resumable, created_at, started_at, completed_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// ListJobs returns all jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(status string) ([]models.Job, error) {
	query := `SELECT id, brief, status, completed_stages, current_stage, tokens_used, cost_usd,
	                 warnings, last_error, resumable, created_at, started_at, completed_at, updated_at
	          FROM jobs`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus updates the status of a job.
func (s *Store) UpdateJobStatus(id string, status models.JobStatus) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

// GetJobStatus reads only the status column. The sequencer polls this at
// every stage boundary, so it stays a single-column query.
func (s *Store) GetJobStatus(id string) (models.JobStatus, error) {
	var status models.JobStatus
	err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query job status: %w", err)
	}
	return status, nil
}

// UpdateJobProgress records a completed stage together with the cumulative
// cost and token totals. Cost and tokens only ever grow; the WHERE guard
// rejects any write that would move them backwards.
func (s *Store) UpdateJobProgress(id string, completedStages []string, currentStage string, tokens int, costUSD float64) error {
	stagesJSON, err := json.Marshal(completedStages)
	if err != nil {
		return fmt.Errorf("marshal completed stages: %w", err)
	}
	res, err := s.db.Exec(
		`UPDATE jobs SET completed_stages = ?, current_stage = ?, tokens_used = ?, cost_usd = ?, updated_at = ?
		 WHERE id = ? AND tokens_used <= ? AND cost_usd <= ?`,
		string(stagesJSON), currentStage, tokens, costUSD, time.Now().UTC(), id, tokens, costUSD,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: progress update rejected (job missing or totals would decrease)", id)
	}
	return nil
}

// AppendJobWarning appends a warning message to the job.
func (s *Store) AppendJobWarning(id, warning string) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}
	warnings := append(job.Warnings, warning)
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE jobs SET warnings = ?, updated_at = ? WHERE id = ?`,
		string(warningsJSON), time.Now().UTC(), id,
	)
	return err
}

// MarkJobStarted transitions a job to running and stamps started_at once.
func (s *Store) MarkJobStarted(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ? WHERE id = ?`,
		models.JobStatusRunning, now, now, id,
	)
	return err
}

// MarkJobCompleted transitions a job to completed and stamps completed_at.
func (s *Store) MarkJobCompleted(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, current_stage = '', completed_at = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusCompleted, now, now, id,
	)
	return err
}

// MarkJobFailed transitions a job to failed with the causing error and
// whether a later resume is viable.
func (s *Store) MarkJobFailed(id, lastError string, resumable bool) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, last_error = ?, resumable = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusFailed, lastError, boolToInt(resumable), now, now, id,
	)
	return err
}

// MarkJobCancelled transitions a job to cancelled.
func (s *Store) MarkJobCancelled(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		models.JobStatusCancelled, now, now, id,
	)
	return err
}

// RequeueJob puts a failed-but-resumable job back in the queue. The
// checkpoint set is left alone; the sequencer rebuilds from it.
func (s *Store) RequeueJob(id string) error {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, last_error = '', completed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND resumable = 1`,
		models.JobStatusQueued, time.Now().UTC(), id, models.JobStatusFailed,
	)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotClaimable
	}
	return nil
}

// DeleteJob removes a job row. Retention cleanup only; the pipeline never
// calls this.
func (s *Store) DeleteJob(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// --- Claim Operations ---

// ClaimResult holds the result of an atomic claim operation.
type ClaimResult struct {
	Job   *models.Job
	Lease *models.JobLease
}

// ClaimQueuedJob atomically claims the oldest claimable job and creates a
// lease for it in a single transaction. Claimable means queued, or left in
// running status by a process that died: its lease expired with it, so the
// next poll picks the job back up. Returns (nil, nil) when nothing is
// claimable. On any error, neither the status change nor the lease persists.
func (s *Store) ClaimQueuedJob(holderID string, ttlSec int) (*ClaimResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRow(
		`SELECT id, brief, status, completed_stages, current_stage, tokens_used, cost_usd,
		        warnings, last_error, resumable, created_at, started_at, completed_at, updated_at
		 FROM jobs j
		 WHERE j.status = ?
		    OR (j.status = ? AND NOT EXISTS (
		        SELECT 1 FROM job_leases l WHERE l.job_id = j.id AND l.expires_at > ?))
		 ORDER BY j.created_at ASC LIMIT 1`,
		models.JobStatusQueued, models.JobStatusRunning, now,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query queued job: %w", err)
	}

	result, err := s.claimInTx(tx, job, holderID, ttlSec, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// ClaimJob atomically claims a specific job (resume path). The job must be
// queued, or orphaned in running status with no live lease. Refuses with
// ErrJobAlreadyLeased while another holder's lease is live.
func (s *Store) ClaimJob(jobID, holderID string, ttlSec int) (*ClaimResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	row := tx.QueryRow(
		`SELECT id, brief, status, completed_stages, current_stage, tokens_used, cost_usd,
		        warnings, last_error, resumable, created_at, started_at, completed_at, updated_at
		 FROM jobs WHERE id = ?`, jobID,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	if job.Status != models.JobStatusQueued && job.Status != models.JobStatusRunning {
		return nil, ErrJobNotClaimable
	}

	result, err := s.claimInTx(tx, job, holderID, ttlSec, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return result, nil
}

// claimInTx checks for a live lease, moves the job to running, and inserts
// the lease, all on the caller's transaction.
func (s *Store) claimInTx(tx *sql.Tx, job *models.Job, holderID string, ttlSec int, now time.Time) (*ClaimResult, error) {
	// Expired leases are dead weight; clear them before the liveness check.
	if _, err := tx.Exec(`DELETE FROM job_leases WHERE job_id = ? AND expires_at <= ?`, job.ID, now); err != nil {
		return nil, fmt.Errorf("clean expired leases: %w", err)
	}

	var existingLeaseID string
	err := tx.QueryRow(
		`SELECT id FROM job_leases WHERE job_id = ? AND expires_at > ?`,
		job.ID, now,
	).Scan(&existingLeaseID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lease: %w", err)
	}
	if existingLeaseID != "" {
		return nil, ErrJobAlreadyLeased
	}

	res, err := tx.Exec(
		`UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		models.JobStatusRunning, now, now, job.ID, models.JobStatusQueued, models.JobStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// Job was modified by another process between our check and update
		return nil, ErrJobNotClaimable
	}

	lease := &models.JobLease{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		HolderID:  holderID,
		TTLSec:    ttlSec,
		ExpiresAt: now.Add(time.Duration(ttlSec) * time.Second),
		CreatedAt: now,
	}
	_, err = tx.Exec(
		`INSERT INTO job_leases (id, job_id, holder_id, ttl_sec, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		lease.ID, lease.JobID, lease.HolderID, lease.TTLSec, lease.ExpiresAt, lease.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lease: %w", err)
	}

	job.Status = models.JobStatusRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now

	return &ClaimResult{Job: job, Lease: lease}, nil
}

// GetActiveJobLease returns the live lease for a job, if any.
func (s *Store) GetActiveJobLease(jobID string) (*models.JobLease, error) {
	lease := &models.JobLease{}
	err := s.db.QueryRow(
		`SELECT id, job_id, holder_id, ttl_sec, expires_at, created_at
		 FROM job_leases WHERE job_id = ? AND expires_at > ?`,
		jobID, time.Now().UTC(),
	).Scan(&lease.ID, &lease.JobID, &lease.HolderID, &lease.TTLSec, &lease.ExpiresAt, &lease.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lease: %w", err)
	}
	return lease, nil
}

// RenewJobLease extends the expiry of a lease (heartbeat).
func (s *Store) RenewJobLease(leaseID string, ttlSec int) error {
	_, err := s.db.Exec(
		`UPDATE job_leases SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(time.Duration(ttlSec)*time.Second), leaseID,
	)
	return err
}

// ReleaseJobLease removes a lease.
func (s *Store) ReleaseJobLease(leaseID string) error {
	_, err := s.db.Exec(`DELETE FROM job_leases WHERE id = ?`, leaseID)
	return err
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	job := &models.Job{}
	var briefJSON, stagesJSON string
	var currentStage, warningsJSON, lastError sql.NullString
	var resumable int
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &briefJSON, &job.Status, &stagesJSON, &currentStage,
		&job.TokensUsed, &job.CostUSD, &warningsJSON, &lastError, &resumable,
		&job.CreatedAt, &startedAt, &completedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(briefJSON), &job.Brief); err != nil {
		return nil, fmt.Errorf("unmarshal brief: %w", err)
	}
	if err := json.Unmarshal([]byte(stagesJSON), &job.CompletedStages); err != nil {
		return nil, fmt.Errorf("unmarshal completed stages: %w", err)
	}
	if currentStage.Valid {
		job.CurrentStage = currentStage.String
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &job.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}
	job.Resumable = resumable != 0
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
