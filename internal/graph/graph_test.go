package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contentgraph/crsync/internal/dimension"
)

func TestContextPath_Format(t *testing.T) {
	node := &Node{
		Identifier: "a1",
		Workspace:  "live",
		Path:       "/sites/home/about",
		DimensionValues: dimension.Combination{
			"language": {"de", "en"},
		},
	}

	assert.Equal(t, "/sites/home/about@live;language=de,en", node.ContextPath())
}

func TestContextPath_NoDimensions(t *testing.T) {
	node := &Node{Workspace: "live", Path: "/sites/home"}

	assert.Equal(t, "/sites/home@live", node.ContextPath())
}

func TestContextPath_SortedDimensionNames(t *testing.T) {
	node := &Node{
		Workspace: "live",
		Path:      "/n",
		DimensionValues: dimension.Combination{
			"market":   {"eu"},
			"language": {"de"},
		},
	}

	assert.Equal(t, "/n@live;language=de&market=eu", node.ContextPath())
}

func TestContextPathInWorkspace_Transform(t *testing.T) {
	node := &Node{Workspace: "user-jane", Path: "/sites/home"}

	assert.Equal(t, "/sites/home@live", node.ContextPathInWorkspace("live"))
	// The node itself stays untouched.
	assert.Equal(t, "user-jane", node.Workspace)
}

func TestDocumentID_Pure(t *testing.T) {
	// Given: the same (node, target workspace) pair
	node := &Node{Workspace: "live", Path: "/sites/home", DimensionValues: dimension.Combination{"language": {"de"}}}

	// Then: repeated derivation yields the identical identifier
	a := DocumentID(node.ContextPath())
	b := DocumentID(node.ContextPath())
	assert.Equal(t, a, b)
	assert.Len(t, a, 40) // sha1 hex

	// And: a different target workspace yields a different identifier
	c := DocumentID(node.ContextPathInWorkspace("user-jane"))
	assert.NotEqual(t, a, c)
}
