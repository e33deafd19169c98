package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/google/uuid"
)

// --- Change Ledger Operations ---
//
// The ledger is append-only. Records are never updated or deleted by normal
// operation; the ordered sequence for an entity id is its full history.

// RecordChange appends a change record to the ledger. Significance defaults
// to 0.5 when the caller passes a negative value. ScopeID may be empty for
// entities that live outside any scope (jobs).
func (s *Store) RecordChange(entityID, entityKind, changeKind string, before, after map[string]any, trigger, scopeID string, significance float64) (*models.ChangeRecord, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity id required")
	}
	if significance < 0 {
		significance = 0.5
	}
	if significance > 1 {
		return nil, ErrInvalidSignificance
	}

	rec := &models.ChangeRecord{
		ID:           uuid.New().String(),
		EntityID:     entityID,
		EntityKind:   entityKind,
		ChangeKind:   changeKind,
		Before:       before,
		After:        after,
		Trigger:      trigger,
		Significance: significance,
		Timestamp:    time.Now().UTC(),
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("marshal after state: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO change_records (id, entity_id, entity_kind, change_kind, before_state, after_state, trigger_source, significance, scope_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityID, rec.EntityKind, rec.ChangeKind, string(beforeJSON), string(afterJSON), rec.Trigger, rec.Significance, scopeID, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert change record: %w", err)
	}
	return rec, nil
}

// GetHistory returns the change records for an entity, oldest first so
// callers can reconstruct an arc by replay. Pass newestFirst for display
// ordering and limit <= 0 for no limit.
func (s *Store) GetHistory(entityID string, limit int, newestFirst bool) ([]models.ChangeRecord, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := `SELECT id, entity_id, entity_kind, change_kind, before_state, after_state, trigger_source, significance, timestamp
	          FROM change_records WHERE entity_id = ? ORDER BY timestamp ` + order + `, id ` + order
	args := []interface{}{entityID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var recs []models.ChangeRecord
	for rows.Next() {
		rec, err := scanChangeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// AnalyzePatterns aggregates the ledger for a scope (optionally narrowed to
// one entity): total records, counts by change kind, and the time span
// between the oldest and newest record. Read-only; the sequencer never
// consults it.
func (s *Store) AnalyzePatterns(scopeID, entityID string) (*models.PatternSummary, error) {
	query := `SELECT change_kind, timestamp FROM change_records WHERE scope_id = ?`
	args := []interface{}{scopeID}
	if entityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, entityID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	summary := &models.PatternSummary{CountsByKind: make(map[string]int)}
	var oldest, newest time.Time
	for rows.Next() {
		var kind string
		var ts time.Time
		if err := rows.Scan(&kind, &ts); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		summary.Total++
		summary.CountsByKind[kind]++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if ts.After(newest) {
			newest = ts
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if summary.Total > 0 {
		summary.OldestAt = &oldest
		summary.NewestAt = &newest
		summary.TimeSpanSec = newest.Sub(oldest).Seconds()
	}
	return summary, nil
}

func scanChangeRecord(row scanner) (*models.ChangeRecord, error) {
	rec := &models.ChangeRecord{}
	var beforeJSON, afterJSON, trigger sql.NullString
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.EntityKind, &rec.ChangeKind, &beforeJSON, &afterJSON, &trigger, &rec.Significance, &rec.Timestamp)
	if err != nil {
		return nil, err
	}
	if beforeJSON.Valid && beforeJSON.String != "" && beforeJSON.String != "null" {
		if err := json.Unmarshal([]byte(beforeJSON.String), &rec.Before); err != nil {
			return nil, fmt.Errorf("unmarshal before state: %w", err)
		}
	}
	if afterJSON.Valid && afterJSON.String != "" && afterJSON.String != "null" {
		if err := json.Unmarshal([]byte(afterJSON.String), &rec.After); err != nil {
			return nil, fmt.Errorf("unmarshal after state: %w", err)
		}
	}
	if trigger.Valid {
		rec.Trigger = trigger.String
	}
	return rec, nil
}
