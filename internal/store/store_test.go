package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Marksio90/narraforge/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func testBrief() models.Brief {
	return models.Brief{Kind: "short", Genre: "fantasy"}
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestJobCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, err := s.CreateJob(testBrief())
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("Expected status queued, got %s", job.Status)
	}
	if !job.Resumable {
		t.Error("New job should be resumable")
	}

	got, err := s.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Brief.Genre != "fantasy" {
		t.Errorf("Expected genre fantasy, got %s", got.Brief.Genre)
	}
	if len(got.CompletedStages) != 0 {
		t.Errorf("Expected no completed stages, got %v", got.CompletedStages)
	}

	// Brief snapshot written alongside the job
	snap, found, err := s.LoadBriefSnapshot(job.ID)
	if err != nil {
		t.Fatalf("LoadBriefSnapshot failed: %v", err)
	}
	if !found {
		t.Fatal("Expected brief snapshot to exist")
	}
	if snap.Kind != "short" {
		t.Errorf("Expected snapshot kind short, got %s", snap.Kind)
	}

	jobs, err := s.ListJobs("")
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("Expected 1 job, got %d", len(jobs))
	}

	jobs, err = s.ListJobs("completed")
	if err != nil {
		t.Fatalf("ListJobs with filter failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("Expected 0 completed jobs, got %d", len(jobs))
	}

	// Missing job returns nil, nil
	missing, err := s.GetJob("nope")
	if err != nil {
		t.Fatalf("GetJob for missing id failed: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing job")
	}
}

func TestJobProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	err := s.UpdateJobProgress(job.ID, []string{"interpret-brief"}, "build-world", 100, 0.5)
	if err != nil {
		t.Fatalf("UpdateJobProgress failed: %v", err)
	}

	// Re-applying identical totals is allowed (crash replay)
	err = s.UpdateJobProgress(job.ID, []string{"interpret-brief"}, "build-world", 100, 0.5)
	if err != nil {
		t.Fatalf("Idempotent progress update failed: %v", err)
	}

	// Shrinking totals must be rejected
	err = s.UpdateJobProgress(job.ID, []string{"interpret-brief"}, "build-world", 50, 0.25)
	if err == nil {
		t.Error("Expected decreasing totals to be rejected")
	}

	got, _ := s.GetJob(job.ID)
	if got.TokensUsed != 100 || got.CostUSD != 0.5 {
		t.Errorf("Totals changed unexpectedly: tokens=%d cost=%f", got.TokensUsed, got.CostUSD)
	}
}

func TestJobTerminalTransitions(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	if err := s.MarkJobStarted(job.ID); err != nil {
		t.Fatalf("MarkJobStarted failed: %v", err)
	}
	got, _ := s.GetJob(job.ID)
	if got.Status != models.JobStatusRunning {
		t.Errorf("Expected running, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("Expected started_at to be set")
	}

	if err := s.MarkJobFailed(job.ID, "stage blew up", true); err != nil {
		t.Fatalf("MarkJobFailed failed: %v", err)
	}
	got, _ = s.GetJob(job.ID)
	if got.Status != models.JobStatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.LastError != "stage blew up" {
		t.Errorf("Expected last error to be recorded, got %q", got.LastError)
	}
	if !got.Resumable {
		t.Error("Expected job to stay resumable")
	}

	if err := s.RequeueJob(job.ID); err != nil {
		t.Fatalf("RequeueJob failed: %v", err)
	}
	got, _ = s.GetJob(job.ID)
	if got.Status != models.JobStatusQueued {
		t.Errorf("Expected queued after requeue, got %s", got.Status)
	}
	if got.LastError != "" {
		t.Errorf("Expected last error cleared, got %q", got.LastError)
	}

	// Requeue of a non-failed job is refused
	if err := s.RequeueJob(job.ID); err != ErrJobNotClaimable {
		t.Errorf("Expected ErrJobNotClaimable, got %v", err)
	}
}

func TestRequeueNonResumableRefused(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())
	s.MarkJobFailed(job.ID, "budget exceeded", false)

	if err := s.RequeueJob(job.ID); err != ErrJobNotClaimable {
		t.Errorf("Expected ErrJobNotClaimable for non-resumable job, got %v", err)
	}
}

func TestClaimQueuedJob(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	claim, err := s.ClaimQueuedJob("worker-1", 300)
	if err != nil {
		t.Fatalf("ClaimQueuedJob failed: %v", err)
	}
	if claim == nil {
		t.Fatal("Expected a claim")
	}
	if claim.Job.ID != job.ID {
		t.Errorf("Claimed wrong job: %s", claim.Job.ID)
	}
	if claim.Job.Status != models.JobStatusRunning {
		t.Errorf("Expected running, got %s", claim.Job.Status)
	}
	if claim.Lease.HolderID != "worker-1" {
		t.Errorf("Expected holder worker-1, got %s", claim.Lease.HolderID)
	}

	// Queue is now empty
	claim2, err := s.ClaimQueuedJob("worker-2", 300)
	if err != nil {
		t.Fatalf("Second claim errored: %v", err)
	}
	if claim2 != nil {
		t.Error("Expected no claim on empty queue")
	}
}

func TestClaimJobSingleOwner(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	claim, err := s.ClaimJob(job.ID, "worker-1", 300)
	if err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}

	// A second claim is refused while the lease is live
	if _, err := s.ClaimJob(job.ID, "worker-2", 300); err != ErrJobAlreadyLeased {
		t.Errorf("Expected ErrJobAlreadyLeased, got %v", err)
	}

	// Even if the job is somehow requeued, the live lease still blocks.
	s.UpdateJobStatus(job.ID, models.JobStatusQueued)
	if _, err := s.ClaimJob(job.ID, "worker-2", 300); err != ErrJobAlreadyLeased {
		t.Errorf("Expected ErrJobAlreadyLeased, got %v", err)
	}

	// Releasing the lease frees the job
	if err := s.ReleaseJobLease(claim.Lease.ID); err != nil {
		t.Fatalf("ReleaseJobLease failed: %v", err)
	}
	if _, err := s.ClaimJob(job.ID, "worker-2", 300); err != nil {
		t.Errorf("Claim after release failed: %v", err)
	}
}

func TestClaimOrphanedRunningJob(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	// A worker claims the job and dies; the zero-TTL lease stands in for
	// one that expired with its process.
	if _, err := s.ClaimJob(job.ID, "worker-1", 0); err != nil {
		t.Fatalf("ClaimJob failed: %v", err)
	}
	status, _ := s.GetJobStatus(job.ID)
	if status != models.JobStatusRunning {
		t.Fatalf("Expected running, got %s", status)
	}

	// After a restart the poll must pick the running-status job back up
	claim, err := s.ClaimQueuedJob("worker-2", 300)
	if err != nil {
		t.Fatalf("Reclaim after crash failed: %v", err)
	}
	if claim == nil {
		t.Fatal("Expected orphaned running job to be reclaimed")
	}
	if claim.Job.ID != job.ID || claim.Lease.HolderID != "worker-2" {
		t.Errorf("Unexpected reclaim: job=%s holder=%s", claim.Job.ID, claim.Lease.HolderID)
	}

	// A running job under a live lease is never reclaimed
	claim2, err := s.ClaimQueuedJob("worker-3", 300)
	if err != nil {
		t.Fatalf("Claim errored: %v", err)
	}
	if claim2 != nil {
		t.Error("Expected no claim while the lease is live")
	}
}

func TestConcurrentClaims(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	for i := 0; i < 5; i++ {
		if _, err := s.CreateJob(testBrief()); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[string]bool)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := s.ClaimQueuedJob("worker", 300)
			if err != nil || claim == nil {
				return
			}
			mu.Lock()
			if claimed[claim.Job.ID] {
				t.Errorf("Job %s claimed twice", claim.Job.ID)
			}
			claimed[claim.Job.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 5 {
		t.Errorf("Expected 5 claimed jobs, got %d", len(claimed))
	}
}

func TestJobWarnings(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())
	if err := s.AppendJobWarning(job.ID, "first"); err != nil {
		t.Fatalf("AppendJobWarning failed: %v", err)
	}
	if err := s.AppendJobWarning(job.ID, "second"); err != nil {
		t.Fatalf("AppendJobWarning failed: %v", err)
	}

	got, _ := s.GetJob(job.ID)
	if len(got.Warnings) != 2 || got.Warnings[1] != "second" {
		t.Errorf("Unexpected warnings: %v", got.Warnings)
	}
}
