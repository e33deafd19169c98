package store

import (
	"testing"

	"github.com/Marksio90/narraforge/internal/models"
)

func TestCheckpointSaveLoad(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	meta := models.CheckpointMeta{CostUSD: 0.05, TokensUsed: 120, CumulativeCost: 0.05, CumulativeTokens: 120, Attempts: 1, DurationMS: 400}
	payload := map[string]any{"interpretation": "a quiet heist story"}

	if err := s.SaveCheckpoint(job.ID, "interpret-brief", payload, meta); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	cp, found, err := s.LoadCheckpoint(job.ID, "interpret-brief")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if !found {
		t.Fatal("Expected checkpoint to exist")
	}
	if cp.Payload["interpretation"] != "a quiet heist story" {
		t.Errorf("Payload mismatch: %v", cp.Payload)
	}
	if cp.Meta.CumulativeCost != 0.05 || cp.Meta.Attempts != 1 {
		t.Errorf("Meta mismatch: %+v", cp.Meta)
	}

	_, found, err = s.LoadCheckpoint(job.ID, "build-world")
	if err != nil {
		t.Fatalf("LoadCheckpoint for missing stage failed: %v", err)
	}
	if found {
		t.Error("Expected no checkpoint for unstarted stage")
	}
}

func TestCheckpointIdempotentSave(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	first := map[string]any{"interpretation": "original"}
	if err := s.SaveCheckpoint(job.ID, "interpret-brief", first, models.CheckpointMeta{Attempts: 1}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// A replayed save for the same stage must succeed without overwriting.
	second := map[string]any{"interpretation": "replayed"}
	if err := s.SaveCheckpoint(job.ID, "interpret-brief", second, models.CheckpointMeta{Attempts: 2}); err != nil {
		t.Fatalf("Replayed SaveCheckpoint failed: %v", err)
	}

	cp, _, err := s.LoadCheckpoint(job.ID, "interpret-brief")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.Payload["interpretation"] != "original" {
		t.Errorf("Replay overwrote checkpoint: %v", cp.Payload)
	}
	if cp.Meta.Attempts != 1 {
		t.Errorf("Replay overwrote meta: %+v", cp.Meta)
	}

	cps, err := s.ListCheckpoints(job.ID)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(cps) != 1 {
		t.Errorf("Expected 1 checkpoint, got %d", len(cps))
	}
}

func TestCheckpointListOrder(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())

	// Persist out of alphabetical order to prove List follows persistence
	// order, not stage-name order.
	stages := []string{"interpret-brief", "build-world", "build-actors", "design-structure"}
	for _, stage := range stages {
		if err := s.SaveCheckpoint(job.ID, stage, map[string]any{"stage": stage}, models.CheckpointMeta{}); err != nil {
			t.Fatalf("SaveCheckpoint(%s) failed: %v", stage, err)
		}
	}

	cps, err := s.ListCheckpoints(job.ID)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(cps) != len(stages) {
		t.Fatalf("Expected %d checkpoints, got %d", len(stages), len(cps))
	}
	for i, cp := range cps {
		if cp.Stage != stages[i] {
			t.Errorf("Position %d: expected %s, got %s", i, stages[i], cp.Stage)
		}
	}

	latest, found, err := s.LatestCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("LatestCheckpoint failed: %v", err)
	}
	if !found || latest.Stage != "design-structure" {
		t.Errorf("Expected latest design-structure, got %+v", latest)
	}
}

func TestDeleteCheckpoints(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob(testBrief())
	s.SaveCheckpoint(job.ID, "interpret-brief", map[string]any{}, models.CheckpointMeta{})
	s.SaveCheckpoint(job.ID, "build-world", map[string]any{}, models.CheckpointMeta{})

	if err := s.DeleteCheckpoints(job.ID); err != nil {
		t.Fatalf("DeleteCheckpoints failed: %v", err)
	}

	cps, _ := s.ListCheckpoints(job.ID)
	if len(cps) != 0 {
		t.Errorf("Expected no checkpoints after delete, got %d", len(cps))
	}
	_, found, _ := s.LoadBriefSnapshot(job.ID)
	if found {
		t.Error("Expected brief snapshot removed with checkpoints")
	}

	// Sequence counter resets with the checkpoints
	if err := s.SaveCheckpoint(job.ID, "interpret-brief", map[string]any{}, models.CheckpointMeta{}); err != nil {
		t.Fatalf("SaveCheckpoint after delete failed: %v", err)
	}
	cps, _ = s.ListCheckpoints(job.ID)
	if len(cps) != 1 {
		t.Errorf("Expected 1 checkpoint after re-save, got %d", len(cps))
	}
}
