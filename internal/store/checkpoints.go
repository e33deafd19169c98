package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
)

// --- Checkpoint Operations ---

// SaveCheckpoint durably persists a stage checkpoint. The write commits
// before the call returns; the sequencer treats a nil error as "this stage
// is permanently complete".
//
// Re-saving an already-persisted (jobID, stage) pair is a no-op, not an
// error, so a crash between a successful save and the job-row update is
// safely replayable.
func (s *Store) SaveCheckpoint(jobID, stage string, payload map[string]any, meta models.CheckpointMeta) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Per-job sequence number records persistence order, so List can
	// return oldest-first regardless of stage-name ordering.
	var seq int64
	err = tx.QueryRow(`SELECT next FROM checkpoint_seq WHERE job_id = ?`, jobID).Scan(&seq)
	if err == sql.ErrNoRows {
		seq = 1
	} else if err != nil {
		return fmt.Errorf("query checkpoint seq: %w", err)
	} else {
		seq++
	}

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO checkpoints (job_id, stage, seq, payload, meta, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, stage, seq, string(payloadJSON), string(metaJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// Checkpoint already exists; idempotent re-save, nothing to do.
		return nil
	}

	_, err = tx.Exec(
		`INSERT INTO checkpoint_seq (job_id, next) VALUES (?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET next = excluded.next`,
		jobID, seq,
	)
	if err != nil {
		return fmt.Errorf("advance checkpoint seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the checkpoint for a (jobID, stage) pair.
// The third return reports whether it was found.
func (s *Store) LoadCheckpoint(jobID, stage string) (*models.Checkpoint, bool, error) {
	row := s.db.QueryRow(
		`SELECT job_id, stage, payload, meta, created_at FROM checkpoints WHERE job_id = ? AND stage = ?`,
		jobID, stage,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query checkpoint: %w", err)
	}
	return cp, true, nil
}

// LatestCheckpoint returns the most recently persisted checkpoint for a job.
func (s *Store) LatestCheckpoint(jobID string) (*models.Checkpoint, bool, error) {
	row := s.db.QueryRow(
		`SELECT job_id, stage, payload, meta, created_at FROM checkpoints WHERE job_id = ? ORDER BY seq DESC LIMIT 1`,
		jobID,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query latest checkpoint: %w", err)
	}
	return cp, true, nil
}

// ListCheckpoints returns a job's checkpoints in persistence order, oldest
// first. Callers match this against Job.CompletedStages to interpret a
// partial or reordered set.
func (s *Store) ListCheckpoints(jobID string) ([]models.Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT job_id, stage, payload, meta, created_at FROM checkpoints WHERE job_id = ? ORDER BY seq ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, *cp)
	}
	return cps, rows.Err()
}

// DeleteCheckpoints removes all checkpoints for a job. Retention cleanup
// only; never called by the pipeline.
func (s *Store) DeleteCheckpoints(jobID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM checkpoint_seq WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete checkpoint seq: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM brief_snapshots WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete brief snapshot: %w", err)
	}
	return tx.Commit()
}

// SaveBriefSnapshot persists the original brief for a job. Idempotent.
func (s *Store) SaveBriefSnapshot(jobID string, brief models.Brief) error {
	briefJSON, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO brief_snapshots (job_id, brief, created_at) VALUES (?, ?, ?)`,
		jobID, string(briefJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert brief snapshot: %w", err)
	}
	return nil
}

// LoadBriefSnapshot retrieves the original brief for a job.
func (s *Store) LoadBriefSnapshot(jobID string) (*models.Brief, bool, error) {
	var briefJSON string
	err := s.db.QueryRow(`SELECT brief FROM brief_snapshots WHERE job_id = ?`, jobID).Scan(&briefJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query brief snapshot: %w", err)
	}
	var brief models.Brief
	if err := json.Unmarshal([]byte(briefJSON), &brief); err != nil {
		return nil, false, fmt.Errorf("unmarshal brief: %w", err)
	}
	return &brief, true, nil
}

func scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{}
	var payloadJSON, metaJSON string
	if err := row.Scan(&cp.JobID, &cp.Stage, &payloadJSON, &metaJSON, &cp.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &cp.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &cp.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return cp, nil
}
