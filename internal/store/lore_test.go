package store

import (
	"errors"
	"testing"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
)

func TestEntityImmutableFields(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	e, err := s.CreateEntity(&models.StructuralEntity{
		ScopeID:      "scope-1",
		Kind:         "world",
		Name:         "Vareth",
		Genre:        "fantasy",
		CoreConflict: "succession war",
		Theme:        "loyalty",
		Attributes:   map[string]any{"climate": "arid"},
	})
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if e.ID == "" {
		t.Error("Expected generated entity id")
	}

	// Save may change name and attributes but never the creation fields
	e.Name = "Vareth Reborn"
	e.Genre = "noir"
	e.CoreConflict = "something else"
	e.Attributes = map[string]any{"climate": "wet"}
	updated, err := s.SaveEntity(e)
	if err != nil {
		t.Fatalf("SaveEntity failed: %v", err)
	}
	if updated.Name != "Vareth Reborn" {
		t.Errorf("Expected name updated, got %s", updated.Name)
	}

	got, err := s.GetEntity("scope-1", e.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Genre != "fantasy" || got.CoreConflict != "succession war" || got.Theme != "loyalty" {
		t.Errorf("Immutable fields changed: %+v", got)
	}
	if got.Attributes["climate"] != "wet" {
		t.Errorf("Attributes not updated: %v", got.Attributes)
	}
}

func TestEntityKindValidation(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, err := s.CreateEntity(&models.StructuralEntity{ScopeID: "scope-1", Kind: "spaceship", Name: "x"})
	if err == nil {
		t.Error("Expected unknown entity kind to be rejected")
	}
	_, err = s.CreateEntity(&models.StructuralEntity{Kind: "world", Name: "x"})
	if err == nil {
		t.Error("Expected missing scope id to be rejected")
	}
}

func TestEntityScopeIsolation(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	a, _ := s.CreateEntity(&models.StructuralEntity{ScopeID: "scope-a", Kind: "actor", Name: "Mira"})
	s.CreateEntity(&models.StructuralEntity{ScopeID: "scope-b", Kind: "actor", Name: "Joss"})

	list, err := s.ListEntities("scope-a")
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Mira" {
		t.Errorf("Scope isolation broken: %+v", list)
	}

	if _, err := s.GetEntity("scope-b", a.ID); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("Expected ErrEntityNotFound across scopes, got %v", err)
	}
}

func TestNodeValidation(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if _, err := s.AddNode("scope-1", "haiku", "x", nil, 0.5, -1, nil); err == nil {
		t.Error("Expected unknown node kind to be rejected")
	}
	if _, err := s.AddNode("scope-1", models.NodeKindEvent, "x", nil, 1.5, -1, nil); !errors.Is(err, ErrInvalidSignificance) {
		t.Error("Expected out-of-range significance to be rejected")
	}
	if _, err := s.AddNode("scope-1", models.NodeKindEvent, "x", []string{"ghost"}, 0.5, -1, nil); !errors.Is(err, ErrUnknownConnection) {
		t.Error("Expected unknown connection to be rejected")
	}
}

func TestNodeConnectionsAndLinks(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	base, err := s.AddNode("scope-a", models.NodeKindEvent, "the bridge falls", nil, 0.8, 0, nil)
	if err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	// Same-scope connection works
	if _, err := s.AddNode("scope-a", models.NodeKindEvent, "the city mourns", []string{base.ID}, 0.6, 1, nil); err != nil {
		t.Fatalf("Connected AddNode failed: %v", err)
	}

	// Cross-scope connection is refused until the scopes are linked
	if _, err := s.AddNode("scope-b", models.NodeKindEvent, "echoes", []string{base.ID}, 0.5, -1, nil); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection across scopes, got %v", err)
	}
	if err := s.LinkScopes("scope-b", "scope-a"); err != nil {
		t.Fatalf("LinkScopes failed: %v", err)
	}
	if _, err := s.AddNode("scope-b", models.NodeKindEvent, "echoes", []string{base.ID}, 0.5, -1, nil); err != nil {
		t.Errorf("AddNode after LinkScopes failed: %v", err)
	}
}

func TestNodesByScopeOrderingAndFilter(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	// Unordered node first, then ordinals out of insertion order
	s.AddNode("scope-1", models.NodeKindMotif, "loss", nil, 0.4, -1, nil)
	s.AddNode("scope-1", models.NodeKindEvent, "second", nil, 0.5, 2, nil)
	s.AddNode("scope-1", models.NodeKindEvent, "first", nil, 0.5, 1, nil)

	nodes, err := s.GetNodesByScope("scope-1")
	if err != nil {
		t.Fatalf("GetNodesByScope failed: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(nodes))
	}
	if nodes[0].Content != "first" || nodes[1].Content != "second" || nodes[2].Content != "loss" {
		t.Errorf("Unexpected ordering: %s, %s, %s", nodes[0].Content, nodes[1].Content, nodes[2].Content)
	}

	events, err := s.GetNodesByScope("scope-1", models.NodeKindEvent)
	if err != nil {
		t.Fatalf("Filtered GetNodesByScope failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
}

func TestLedgerHistory(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	states := []string{"drafted", "revised", "final"}
	for i, state := range states {
		var before map[string]any
		if i > 0 {
			before = map[string]any{"state": states[i-1]}
		}
		_, err := s.RecordChange("entity-1", "actor", "updated", before, map[string]any{"state": state}, "pipeline", "scope-1", 0.5)
		if err != nil {
			t.Fatalf("RecordChange failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Oldest first is the replay order
	recs, err := s.GetHistory("entity-1", 0, false)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recs))
	}
	if recs[0].After["state"] != "drafted" || recs[2].After["state"] != "final" {
		t.Errorf("Replay order broken: %v then %v", recs[0].After, recs[2].After)
	}

	newest, err := s.GetHistory("entity-1", 2, true)
	if err != nil {
		t.Fatalf("GetHistory newest-first failed: %v", err)
	}
	if len(newest) != 2 || newest[0].After["state"] != "final" {
		t.Errorf("Newest-first order broken: %+v", newest)
	}
}

func TestLedgerSignificanceDefault(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	rec, err := s.RecordChange("entity-1", "actor", "created", nil, nil, "pipeline", "scope-1", -1)
	if err != nil {
		t.Fatalf("RecordChange failed: %v", err)
	}
	if rec.Significance != 0.5 {
		t.Errorf("Expected default significance 0.5, got %f", rec.Significance)
	}

	if _, err := s.RecordChange("entity-1", "actor", "created", nil, nil, "pipeline", "scope-1", 1.5); !errors.Is(err, ErrInvalidSignificance) {
		t.Error("Expected significance > 1 to be rejected")
	}
}

func TestAnalyzePatterns(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	s.RecordChange("e1", "actor", "created", nil, nil, "pipeline", "scope-1", 0.5)
	s.RecordChange("e1", "actor", "updated", nil, nil, "pipeline", "scope-1", 0.5)
	s.RecordChange("e2", "world", "created", nil, nil, "pipeline", "scope-1", 0.5)
	s.RecordChange("e3", "actor", "created", nil, nil, "pipeline", "scope-other", 0.5)

	summary, err := s.AnalyzePatterns("scope-1", "")
	if err != nil {
		t.Fatalf("AnalyzePatterns failed: %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Expected 3 records in scope, got %d", summary.Total)
	}
	if summary.CountsByKind["created"] != 2 || summary.CountsByKind["updated"] != 1 {
		t.Errorf("Unexpected kind counts: %v", summary.CountsByKind)
	}

	narrowed, err := s.AnalyzePatterns("scope-1", "e1")
	if err != nil {
		t.Fatalf("Narrowed AnalyzePatterns failed: %v", err)
	}
	if narrowed.Total != 2 {
		t.Errorf("Expected 2 records for e1, got %d", narrowed.Total)
	}

	empty, err := s.AnalyzePatterns("nowhere", "")
	if err != nil {
		t.Fatalf("Empty AnalyzePatterns failed: %v", err)
	}
	if empty.Total != 0 || empty.OldestAt != nil {
		t.Errorf("Expected empty summary, got %+v", empty)
	}
}
