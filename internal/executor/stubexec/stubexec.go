// Package stubexec provides a deterministic, offline stage executor.
//
// It stands in for the external generative service: each stage produces a
// predictable outline derived from the brief, and the worldbuilding stages
// write their entities and nodes into the memory stores the same way the
// real executor would. Useful for local runs and end-to-end testing.
package stubexec

import (
	"context"
	"fmt"

	"github.com/Marksio90/narraforge/internal/executor"
	"github.com/Marksio90/narraforge/internal/models"
	"github.com/Marksio90/narraforge/internal/store"
)

// Exec is the offline executor. Costs are small fixed amounts per stage so
// budget accounting stays observable.
type Exec struct {
	store *store.Store
}

// New creates a stub executor backed by the given store.
func New(s *store.Store) *Exec {
	return &Exec{store: s}
}

// Name returns the executor identifier.
func (e *Exec) Name() string { return "stubexec" }

// Execute produces a deterministic result for the named stage.
func (e *Exec) Execute(ctx context.Context, stage string, input map[string]any) (*executor.StageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	brief, _ := input["brief"].(map[string]any)
	genre, _ := brief["genre"].(string)
	kind, _ := brief["kind"].(string)
	scopeID, _ := brief["scope_id"].(string)
	if scopeID == "" {
		scopeID = "scope-local"
	}

	result := &executor.StageResult{Success: true, CostUSD: 0.01, Tokens: 120}

	switch stage {
	case "interpret-brief":
		result.Data = map[string]any{
			"interpretation": map[string]any{
				"premise": fmt.Sprintf("a %s %s production", genre, kind),
				"tone":    "measured",
			},
		}
	case "build-world":
		world, err := e.store.CreateEntity(&models.StructuralEntity{
			ScopeID: scopeID,
			Kind:    "world",
			Name:    fmt.Sprintf("%s world", genre),
			Genre:   genre,
			Theme:   "perseverance",
		})
		if err != nil {
			return nil, err
		}
		result.Data = map[string]any{
			"world": map[string]any{"id": world.ID, "scope_id": scopeID, "name": world.Name},
		}
	case "build-actors":
		var actors []any
		for _, name := range []string{"protagonist", "antagonist"} {
			actor, err := e.store.CreateEntity(&models.StructuralEntity{
				ScopeID: scopeID,
				Kind:    "actor",
				Name:    name,
			})
			if err != nil {
				return nil, err
			}
			actors = append(actors, map[string]any{"id": actor.ID, "name": name})
		}
		result.Data = map[string]any{"actors": actors}
	case "design-structure":
		result.Data = map[string]any{
			"structure": map[string]any{"acts": 3, "arc": "rise-fall-rise"},
			"title":     fmt.Sprintf("Untitled %s", genre),
		}
	case "plan-segments":
		result.Data = map[string]any{
			"segments": []any{"opening", "confrontation", "resolution"},
		}
	case "generate-content":
		var nodeIDs []string
		for i, seg := range []string{"opening", "confrontation", "resolution"} {
			node, err := e.store.AddNode(scopeID, models.NodeKindEvent,
				fmt.Sprintf("%s beat of the %s", seg, kind), nodeIDs, 0.6, i, nil)
			if err != nil {
				return nil, err
			}
			nodeIDs = append(nodeIDs, node.ID)
		}
		result.Data = map[string]any{
			"content": map[string]any{"segments": 3, "node_ids": nodeIDs},
		}
		result.Tokens = 600
		result.CostUSD = 0.05
	case "validate-coherence":
		result.Data = map[string]any{"validation": "passed", "score": 0.9, "issues": []any{}}
	case "refine-language":
		result.Data = map[string]any{"refined_content": map[string]any{"polished": true}}
	case "editorial-review":
		result.Data = map[string]any{"review": map[string]any{"approved": true}, "score": 0.85}
	case "finalize-output":
		result.Data = map[string]any{
			"artifact": map[string]any{
				"title":   fmt.Sprintf("Untitled %s", genre),
				"summary": fmt.Sprintf("a complete %s %s", genre, kind),
			},
		}
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	return result, nil
}

var _ executor.Executor = (*Exec)(nil)
