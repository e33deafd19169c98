// Package controlplane provides the HTTP API and service layer for NarraForge.
package controlplane

import (
	"fmt"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/Marksio90/narraforge/internal/store"
)

// Service provides the control plane business logic over the store. The
// pipeline itself never goes through this layer; it exists for callers
// submitting briefs and polling status.
type Service struct {
	store *store.Store
}

// NewService creates a new control plane service.
func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// --- Job Operations ---

// SubmitJob accepts a brief and creates a queued job. The scheduler picks
// it up on its next poll.
func (s *Service) SubmitJob(brief models.Brief) (*models.Job, error) {
	if brief.Kind == "" {
		return nil, fmt.Errorf("brief kind required")
	}
	job, err := s.store.CreateJob(brief)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.RecordChange(job.ID, "job", "submitted", nil, map[string]any{
		"kind": brief.Kind, "genre": brief.Genre,
	}, "caller", brief.ScopeID, 0.5); err != nil {
		return nil, err
	}
	return job, nil
}

// GetStatus retrieves a job with its current status, spend, last error,
// and resumability.
func (s *Service) GetStatus(jobID string) (*models.Job, error) {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListJobs returns jobs, optionally filtered by status.
func (s *Service) ListJobs(status string) ([]models.Job, error) {
	return s.store.ListJobs(status)
}

// Cancel flags a job for cancellation. The status field is the sole
// cancellation signal: the sequencer observes it at the next stage
// boundary; an in-flight stage call finishes and its result is discarded.
func (s *Service) Cancel(jobID string) (*models.Job, error) {
	job, err := s.GetStatus(jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, ErrJobNotCancelled
	}
	if err := s.store.UpdateJobStatus(jobID, models.JobStatusCancelled); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusCancelled
	return job, nil
}

// Resume requeues a failed-but-resumable job, or a job orphaned in running
// status by a dead process. Refused while another worker still holds the
// job lease (single-owner invariant) or when the failure was non-resumable
// (budget abort, contract violation).
func (s *Service) Resume(jobID string) (*models.Job, error) {
	job, err := s.GetStatus(jobID)
	if err != nil {
		return nil, err
	}
	lease, err := s.store.GetActiveJobLease(jobID)
	if err != nil {
		return nil, err
	}
	if lease != nil {
		return nil, ErrJobStillOwned
	}

	switch {
	case job.Status == models.JobStatusRunning:
		// The owning process died without a terminal transition; its
		// lease died with it, so the job is safe to hand back to the
		// queue. The checkpoints drive the actual resume.
		if err := s.store.UpdateJobStatus(jobID, models.JobStatusQueued); err != nil {
			return nil, err
		}
	case job.Status == models.JobStatusFailed && job.Resumable:
		if err := s.store.RequeueJob(jobID); err != nil {
			return nil, err
		}
	default:
		return nil, ErrJobNotResumable
	}

	if _, err := s.store.RecordChange(jobID, "job", "resumed", nil, nil, "caller", job.Brief.ScopeID, 0.5); err != nil {
		return nil, err
	}
	return s.GetStatus(jobID)
}

// GetCheckpoints lists a job's checkpoints in persistence order.
func (s *Service) GetCheckpoints(jobID string) ([]models.Checkpoint, error) {
	if _, err := s.GetStatus(jobID); err != nil {
		return nil, err
	}
	return s.store.ListCheckpoints(jobID)
}

// PurgeJob removes a terminal job and its checkpoints. This is the
// retention-policy cleanup path; running jobs are refused.
func (s *Service) PurgeJob(jobID string) error {
	job, err := s.GetStatus(jobID)
	if err != nil {
		return err
	}
	if !job.Terminal() {
		return ErrJobStillOwned
	}
	if err := s.store.DeleteCheckpoints(jobID); err != nil {
		return err
	}
	return s.store.DeleteJob(jobID)
}

// --- Lore Operations ---

// ListEntities returns the structural entities in a scope.
func (s *Service) ListEntities(scopeID string) ([]models.StructuralEntity, error) {
	return s.store.ListEntities(scopeID)
}

// GetEntity retrieves one structural entity.
func (s *Service) GetEntity(scopeID, id string) (*models.StructuralEntity, error) {
	return s.store.GetEntity(scopeID, id)
}

// ListNodes returns a scope's semantic nodes, optionally filtered by kind.
func (s *Service) ListNodes(scopeID string, kinds ...models.NodeKind) ([]models.SemanticNode, error) {
	return s.store.GetNodesByScope(scopeID, kinds...)
}

// GetHistory returns an entity's change ledger, newest first for display.
func (s *Service) GetHistory(entityID string, limit int) ([]models.ChangeRecord, error) {
	return s.store.GetHistory(entityID, limit, true)
}

// AnalyzePatterns aggregates the ledger for dashboards. Never consulted by
// the pipeline.
func (s *Service) AnalyzePatterns(scopeID, entityID string) (*models.PatternSummary, error) {
	return s.store.AnalyzePatterns(scopeID, entityID)
}
