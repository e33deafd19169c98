package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/google/uuid"
)

// ErrInvalidSignificance indicates a significance score outside [0,1].
var ErrInvalidSignificance = fmt.Errorf("significance must be in [0,1]")

// ErrUnknownConnection indicates a connection id that does not exist in the
// node's scope or any linked scope.
var ErrUnknownConnection = fmt.Errorf("connection references unknown node")

// --- Semantic Node Operations ---

// AddNode inserts a semantic node. Significance is range-checked but
// otherwise advisory. Every connection id must already exist in the same
// scope or an explicitly linked one. Pass ordinal -1 when the node has no
// position in the narrative.
func (s *Store) AddNode(scopeID string, kind models.NodeKind, content string, connections []string, significance float64, ordinal int, metadata map[string]any) (*models.SemanticNode, error) {
	if scopeID == "" {
		return nil, fmt.Errorf("scope id required")
	}
	if !models.ValidNodeKind(kind) {
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
	if significance < 0 || significance > 1 {
		return nil, ErrInvalidSignificance
	}
	if err := s.checkConnections(scopeID, connections); err != nil {
		return nil, err
	}

	node := &models.SemanticNode{
		ID:           uuid.New().String(),
		ScopeID:      scopeID,
		Kind:         kind,
		Content:      content,
		Connections:  connections,
		Significance: significance,
		Ordinal:      ordinal,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}

	connsJSON, err := json.Marshal(connections)
	if err != nil {
		return nil, fmt.Errorf("marshal connections: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO semantic_nodes (id, scope_id, kind, content, connections, significance, ordinal, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.ScopeID, node.Kind, node.Content, string(connsJSON), node.Significance, node.Ordinal, string(metaJSON), node.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}
	return node, nil
}

// GetNode retrieves a semantic node by id.
func (s *Store) GetNode(id string) (*models.SemanticNode, error) {
	row := s.db.QueryRow(
		`SELECT id, scope_id, kind, content, connections, significance, ordinal, metadata, created_at
		 FROM semantic_nodes WHERE id = ?`, id,
	)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	return node, nil
}

// GetNodesByScope returns a scope's nodes, optionally filtered by kind.
// The (scope_id, kind) index keeps the filtered query off a full scan.
// Nodes with an ordinal sort by it; the rest follow in insertion order.
func (s *Store) GetNodesByScope(scopeID string, kinds ...models.NodeKind) ([]models.SemanticNode, error) {
	query := `SELECT id, scope_id, kind, content, connections, significance, ordinal, metadata, created_at
	          FROM semantic_nodes WHERE scope_id = ?`
	args := []interface{}{scopeID}

	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = "?"
			args = append(args, k)
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY CASE WHEN ordinal >= 0 THEN 0 ELSE 1 END, ordinal ASC, created_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []models.SemanticNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// LinkScopes records that nodes in scopeID may reference nodes in
// linkedScopeID. Idempotent.
func (s *Store) LinkScopes(scopeID, linkedScopeID string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO scope_links (scope_id, linked_scope_id, created_at) VALUES (?, ?, ?)`,
		scopeID, linkedScopeID, time.Now().UTC(),
	)
	return err
}

// checkConnections verifies every referenced node id exists within the
// scope or one of its linked scopes.
func (s *Store) checkConnections(scopeID string, connections []string) error {
	for _, connID := range connections {
		var found int
		err := s.db.QueryRow(
			`SELECT COUNT(1) FROM semantic_nodes
			 WHERE id = ? AND (scope_id = ? OR scope_id IN (SELECT linked_scope_id FROM scope_links WHERE scope_id = ?))`,
			connID, scopeID, scopeID,
		).Scan(&found)
		if err != nil {
			return fmt.Errorf("check connection %s: %w", connID, err)
		}
		if found == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
		}
	}
	return nil
}

func scanNode(row scanner) (*models.SemanticNode, error) {
	node := &models.SemanticNode{}
	var connsJSON, metaJSON sql.NullString
	err := row.Scan(&node.ID, &node.ScopeID, &node.Kind, &node.Content, &connsJSON, &node.Significance, &node.Ordinal, &metaJSON, &node.CreatedAt)
	if err != nil {
		return nil, err
	}
	if connsJSON.Valid && connsJSON.String != "" && connsJSON.String != "null" {
		if err := json.Unmarshal([]byte(connsJSON.String), &node.Connections); err != nil {
			return nil, fmt.Errorf("unmarshal connections: %w", err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &node.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return node, nil
}
