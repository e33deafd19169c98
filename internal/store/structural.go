package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/google/uuid"
)

// ErrEntityNotFound indicates no structural entity exists for the key.
var ErrEntityNotFound = fmt.Errorf("structural entity not found")

// --- Structural Entity Operations ---

// CreateEntity inserts a new structural entity. A generated id is assigned
// when none is supplied. This is the only path that sets the immutable
// fields (genre, core conflict, theme).
func (s *Store) CreateEntity(e *models.StructuralEntity) (*models.StructuralEntity, error) {
	if e.ScopeID == "" {
		return nil, fmt.Errorf("scope id required")
	}
	if e.Kind != "world" && e.Kind != "actor" {
		return nil, fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	attrsJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO structural_entities (scope_id, id, kind, name, genre, core_conflict, theme, attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ScopeID, e.ID, e.Kind, e.Name, e.Genre, e.CoreConflict, e.Theme, string(attrsJSON), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	return e, nil
}

// GetEntity retrieves a structural entity by (scope, id).
func (s *Store) GetEntity(scopeID, id string) (*models.StructuralEntity, error) {
	row := s.db.QueryRow(
		`SELECT scope_id, id, kind, name, genre, core_conflict, theme, attributes, created_at, updated_at
		 FROM structural_entities WHERE scope_id = ? AND id = ?`,
		scopeID, id,
	)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entity: %w", err)
	}
	return e, nil
}

// SaveEntity upserts the mutable sub-fields of an entity (name and
// attributes). The immutable fields set at creation are left untouched; a
// save against a missing key falls back to a full create.
func (s *Store) SaveEntity(e *models.StructuralEntity) (*models.StructuralEntity, error) {
	existing, err := s.GetEntity(e.ScopeID, e.ID)
	if err == ErrEntityNotFound || e.ID == "" {
		return s.CreateEntity(e)
	}
	if err != nil {
		return nil, err
	}

	attrsJSON, err := json.Marshal(e.Attributes)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`UPDATE structural_entities SET name = ?, attributes = ?, updated_at = ? WHERE scope_id = ? AND id = ?`,
		e.Name, string(attrsJSON), now, e.ScopeID, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}

	existing.Name = e.Name
	existing.Attributes = e.Attributes
	existing.UpdatedAt = now
	return existing, nil
}

// ListEntities returns all structural entities in a scope, oldest first.
func (s *Store) ListEntities(scopeID string) ([]models.StructuralEntity, error) {
	rows, err := s.db.Query(
		`SELECT scope_id, id, kind, name, genre, core_conflict, theme, attributes, created_at, updated_at
		 FROM structural_entities WHERE scope_id = ? ORDER BY created_at ASC`,
		scopeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []models.StructuralEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func scanEntity(row scanner) (*models.StructuralEntity, error) {
	e := &models.StructuralEntity{}
	var genre, coreConflict, theme, attrsJSON sql.NullString
	err := row.Scan(&e.ScopeID, &e.ID, &e.Kind, &e.Name, &genre, &coreConflict, &theme, &attrsJSON, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if genre.Valid {
		e.Genre = genre.String
	}
	if coreConflict.Valid {
		e.CoreConflict = coreConflict.String
	}
	if theme.Valid {
		e.Theme = theme.String
	}
	if attrsJSON.Valid && attrsJSON.String != "" && attrsJSON.String != "null" {
		if err := json.Unmarshal([]byte(attrsJSON.String), &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return e, nil
}
