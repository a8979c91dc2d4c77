// Package sqlitegraph provides a SQLite-backed content-graph store.
//
// It implements graph.Reader for the CLI and integration tests and
// offers a small write surface for seeding and mutating the graph.
// The schema keeps one row per node materialization: (identifier,
// workspace, dimension hash).
package sqlitegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/contentgraph/crsync/internal/dimension"
	"github.com/contentgraph/crsync/internal/graph"
)

// Store is a SQLite-backed content graph.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dims   *dimension.Service
	closed bool
}

// Verify interface implementation at compile time.
var _ graph.Reader = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	name TEXT PRIMARY KEY,
	base TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dimension_presets (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	combination TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS nodes (
	identifier      TEXT NOT NULL,
	workspace       TEXT NOT NULL,
	dimensionhash   TEXT NOT NULL,
	path            TEXT NOT NULL,
	node_type       TEXT NOT NULL,
	dimensionvalues TEXT NOT NULL,
	properties      TEXT NOT NULL,
	removed         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (identifier, workspace, dimensionhash)
);

CREATE INDEX IF NOT EXISTS idx_nodes_workspace_path ON nodes(workspace, path);
`

// Open opens (or creates) a graph store at the given path.
// An empty path opens an in-memory store for testing.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create graph directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	// WAL must be set via PRAGMA; DSN params may be ignored by the driver.
	if path != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create graph schema: %w", err)
	}

	return &Store{db: db, dims: dimension.NewService()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// AddWorkspace registers a workspace. base is empty for live.
func (s *Store) AddWorkspace(ctx context.Context, name, base string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO workspaces(name, base) VALUES(?, ?)`, name, base)
	if err != nil {
		return fmt.Errorf("failed to add workspace %s: %w", name, err)
	}
	return nil
}

// AddDimensionPreset registers an allowed dimension combination.
func (s *Store) AddDimensionPreset(ctx context.Context, combo dimension.Combination) error {
	data, err := json.Marshal(combo)
	if err != nil {
		return fmt.Errorf("failed to encode dimension preset: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dimension_presets(combination) VALUES(?)`, string(data))
	if err != nil {
		return fmt.Errorf("failed to add dimension preset: %w", err)
	}
	return nil
}

// SaveNode inserts or replaces a node materialization.
func (s *Store) SaveNode(ctx context.Context, node *graph.Node) error {
	dims, err := json.Marshal(node.DimensionValues)
	if err != nil {
		return fmt.Errorf("failed to encode dimension values: %w", err)
	}
	props, err := json.Marshal(node.Properties)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	removed := 0
	if node.Removed {
		removed = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO nodes
			(identifier, workspace, dimensionhash, path, node_type, dimensionvalues, properties, removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		node.Identifier, node.Workspace, string(s.dims.HashOf(node.DimensionValues)),
		node.Path, node.Type, string(dims), string(props), removed)
	if err != nil {
		return fmt.Errorf("failed to save node %s: %w", node.Identifier, err)
	}
	return nil
}

// TombstoneNode marks all materializations of a node in a workspace
// as removed. The indexer routes tombstoned nodes to RemoveNode.
func (s *Store) TombstoneNode(ctx context.Context, identifier, workspace string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET removed = 1 WHERE identifier = ? AND workspace = ?`,
		identifier, workspace)
	if err != nil {
		return fmt.Errorf("failed to tombstone node %s: %w", identifier, err)
	}
	return nil
}

// DeleteNode physically removes all materializations of a node in a
// workspace.
func (s *Store) DeleteNode(ctx context.Context, identifier, workspace string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE identifier = ? AND workspace = ?`, identifier, workspace)
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", identifier, err)
	}
	return nil
}

// ResolveNode implements graph.Reader. It walks the workspace base
// chain (shine-through) and matches the stored variant whose primary
// dimension values are covered by the requested fallback chain.
func (s *Store) ResolveNode(ctx context.Context, identifier, workspace string, dims dimension.Combination) (*graph.Node, error) {
	seen := map[string]bool{}
	for ws := workspace; ws != "" && !seen[ws]; {
		seen[ws] = true

		nodes, err := s.variants(ctx, identifier, ws)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if node.Removed {
				continue
			}
			if coveredBy(node.DimensionValues, dims) {
				return node, nil
			}
		}

		base, err := s.baseOf(ctx, ws)
		if err != nil {
			return nil, err
		}
		ws = base
	}
	return nil, nil
}

// TombstonedNode returns one removed materialization of a node, so
// callers can still address its documents after the live variant is
// gone. Returns (nil, nil) when no tombstone exists.
func (s *Store) TombstonedNode(ctx context.Context, identifier, workspace string) (*graph.Node, error) {
	nodes, err := s.variants(ctx, identifier, workspace)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.Removed {
			return node, nil
		}
	}
	return nil, nil
}

// IsRemoved implements graph.Reader.
func (s *Store) IsRemoved(ctx context.Context, identifier, workspace string) (bool, error) {
	// MAX over zero rows yields NULL, not sql.ErrNoRows. COALESCE keeps
	// the unknown-identifier case a plain false.
	var removed int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(removed), 0) FROM nodes WHERE identifier = ? AND workspace = ?`,
		identifier, workspace).Scan(&removed)
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone for %s: %w", identifier, err)
	}
	return removed == 1, nil
}

// AllowedCombinations implements graph.Reader.
func (s *Store) AllowedCombinations(ctx context.Context) ([]dimension.Combination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT combination FROM dimension_presets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dimension presets: %w", err)
	}
	defer rows.Close()

	var combos []dimension.Combination
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var combo dimension.Combination
		if err := json.Unmarshal([]byte(raw), &combo); err != nil {
			return nil, fmt.Errorf("corrupt dimension preset %q: %w", raw, err)
		}
		combos = append(combos, combo)
	}
	return combos, rows.Err()
}

// Workspaces implements graph.Reader.
func (s *Store) Workspaces(ctx context.Context) ([]graph.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, base FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []graph.Workspace
	for rows.Next() {
		var ws graph.Workspace
		if err := rows.Scan(&ws.Name, &ws.Base); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// WorkspaceExists reports whether a workspace is registered.
func (s *Store) WorkspaceExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspaces WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check workspace %s: %w", name, err)
	}
	return count > 0, nil
}

// NodesInWorkspace implements graph.Reader.
func (s *Store) NodesInWorkspace(ctx context.Context, workspace string, limit int) ([]*graph.Node, error) {
	query := `SELECT identifier, workspace, path, node_type, dimensionvalues, properties, removed
		FROM nodes WHERE workspace = ? ORDER BY path, dimensionhash`
	args := []any{workspace}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes in %s: %w", workspace, err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// variants returns all stored materializations for (identifier, workspace).
func (s *Store) variants(ctx context.Context, identifier, workspace string) ([]*graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identifier, workspace, path, node_type, dimensionvalues, properties, removed
		FROM nodes WHERE identifier = ? AND workspace = ? ORDER BY dimensionhash`,
		identifier, workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node %s: %w", identifier, err)
	}
	defer rows.Close()

	return scanNodes(rows)
}

// baseOf returns the base workspace name, or empty when none.
func (s *Store) baseOf(ctx context.Context, workspace string) (string, error) {
	var base string
	err := s.db.QueryRowContext(ctx,
		`SELECT base FROM workspaces WHERE name = ?`, workspace).Scan(&base)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read workspace %s: %w", workspace, err)
	}
	return base, nil
}

// scanNodes decodes node rows.
func scanNodes(rows *sql.Rows) ([]*graph.Node, error) {
	var nodes []*graph.Node
	for rows.Next() {
		var (
			node    graph.Node
			dims    string
			props   string
			removed int
		)
		if err := rows.Scan(&node.Identifier, &node.Workspace, &node.Path,
			&node.Type, &dims, &props, &removed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dims), &node.DimensionValues); err != nil {
			return nil, fmt.Errorf("corrupt dimension values for %s: %w", node.Identifier, err)
		}
		if err := json.Unmarshal([]byte(props), &node.Properties); err != nil {
			return nil, fmt.Errorf("corrupt properties for %s: %w", node.Identifier, err)
		}
		node.Removed = removed == 1
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// coveredBy reports whether a stored variant's dimension values are
// resolvable inside the requested fallback chain: axis sets must
// match and the variant's primary value must appear in the requested
// chain for every axis.
func coveredBy(variant, requested dimension.Combination) bool {
	if len(variant) != len(requested) {
		return false
	}
	for axis, values := range variant {
		if len(values) == 0 {
			return false
		}
		chain, ok := requested[axis]
		if !ok {
			return false
		}
		found := false
		for _, v := range chain {
			if v == values[0] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
