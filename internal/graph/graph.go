// Package graph defines the read surface of the content repository
// consumed by the indexing engine.
//
// The repository itself (tree storage, workspace model, node identity)
// is an external collaborator; crsync only resolves point-in-time node
// materializations per (workspace, dimension combination) context.
package graph

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/contentgraph/crsync/internal/dimension"
)

// LiveWorkspaceName is the canonical name of the live workspace.
const LiveWorkspaceName = "live"

// Workspace is an isolated, named revision line of the content graph.
type Workspace struct {
	// Name identifies the workspace ("live", "user-jane", ...).
	Name string

	// Base is the workspace this one was branched from. Empty for live.
	Base string
}

// Node is a point-in-time materialization of a logical content node
// inside one (workspace, dimension combination) context. Read-only to
// the indexing engine.
type Node struct {
	// Identifier is the stable aggregate identifier shared by all
	// materializations of the same logical node.
	Identifier string

	// Workspace names the workspace this materialization lives in.
	Workspace string

	// Path is the hierarchical tree path ("/sites/home/about").
	Path string

	// Type is the node type name ("document.page", ...).
	Type string

	// DimensionValues is the node's own dimension origin.
	DimensionValues dimension.Combination

	// Properties holds the raw property bag.
	Properties map[string]any

	// Removed marks a tombstoned node awaiting deletion.
	Removed bool
}

// Dimensions returns the node's dimension origin.
// Satisfies the dimension service's node hashing entry point.
func (n *Node) Dimensions() dimension.Combination {
	return n.DimensionValues
}

// ContextPath is the composite key identifying this materialization:
// tree path, workspace and dimension origin.
// Format: /sites/home@user-jane;language=de,en
func (n *Node) ContextPath() string {
	return n.ContextPathInWorkspace(n.Workspace)
}

// ContextPathInWorkspace returns the context path transformed to the
// given target workspace. Used when indexing a node into a non-live
// workspace target so the document identifier stays deterministic per
// (node, target workspace) pair.
func (n *Node) ContextPathInWorkspace(workspace string) string {
	var b strings.Builder
	b.WriteString(n.Path)
	b.WriteByte('@')
	b.WriteString(workspace)

	if !n.DimensionValues.Empty() {
		names := make([]string, 0, len(n.DimensionValues))
		for name := range n.DimensionValues {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteByte(';')
		for i, name := range names {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(strings.Join(n.DimensionValues[name], ","))
		}
	}
	return b.String()
}

// DocumentID derives the deterministic document identifier for a
// context path: sha1 over the path, hex encoded. Identical
// (node, target workspace) pairs always yield the same identifier,
// making index writes idempotent.
func DocumentID(contextPath string) string {
	sum := sha1.Sum([]byte(contextPath))
	return hex.EncodeToString(sum[:])
}

// Reader resolves nodes and enumerates workspaces and allowed
// dimension combinations. Implementations must be safe for sequential
// use by one indexing session.
type Reader interface {
	// ResolveNode resolves a node by identity inside a (workspace,
	// dimension combination) context. Returns (nil, nil) when the node
	// has no materialization in that context.
	ResolveNode(ctx context.Context, identifier, workspace string, dims dimension.Combination) (*Node, error)

	// IsRemoved reports whether the node is tombstoned in the
	// workspace, i.e. marked removed and awaiting deletion.
	IsRemoved(ctx context.Context, identifier, workspace string) (bool, error)

	// AllowedCombinations enumerates the dimension combinations content
	// may vary in. Immutable during a single indexing pass.
	AllowedCombinations(ctx context.Context) ([]dimension.Combination, error)

	// Workspaces enumerates all workspaces.
	Workspaces(ctx context.Context) ([]Workspace, error)

	// NodesInWorkspace lists node materializations of a workspace,
	// ordered by path. limit <= 0 means no limit.
	NodesInWorkspace(ctx context.Context, workspace string, limit int) ([]*Node, error)
}
