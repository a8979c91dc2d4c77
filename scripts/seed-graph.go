//go:build ignore

// Package main seeds a synthetic content graph for demos and load tests.
// Usage: go run scripts/seed-graph.go -nodes 1000 -output .crsync/graph.db
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/contentgraph/crsync/internal/dimension"
	"github.com/contentgraph/crsync/internal/graph"
	"github.com/contentgraph/crsync/internal/graph/sqlitegraph"
)

var (
	numNodes  = flag.Int("nodes", 1000, "Number of nodes to generate")
	output    = flag.String("output", ".crsync/graph.db", "Graph database file")
	languages = flag.String("languages", "de,en", "Comma-separated language dimension values")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var sections = []string{"home", "products", "blog", "about", "support"}

var words = []string{
	"release", "update", "guide", "overview", "notes",
	"archive", "feature", "roadmap", "summary", "howto",
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	rng := rand.New(rand.NewSource(*seed))

	store, err := sqlitegraph.Open(*output)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.AddWorkspace(ctx, graph.LiveWorkspaceName, ""); err != nil {
		return err
	}
	if err := store.AddWorkspace(ctx, "user-demo", graph.LiveWorkspaceName); err != nil {
		return err
	}

	var langs []string
	for _, l := range strings.Split(*languages, ",") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		langs = append(langs, l)
		combo := dimension.Combination{"language": {l}}
		if err := store.AddDimensionPreset(ctx, combo); err != nil {
			return err
		}
	}

	for i := 0; i < *numNodes; i++ {
		section := sections[rng.Intn(len(sections))]
		title := fmt.Sprintf("%s %s %d", section, words[rng.Intn(len(words))], i)
		node := &graph.Node{
			Identifier: fmt.Sprintf("node-%06d", i),
			Workspace:  graph.LiveWorkspaceName,
			Path:       fmt.Sprintf("/sites/%s/page-%06d", section, i),
			Type:       "document.page",
			Properties: map[string]any{
				"title": title,
				"body":  fmt.Sprintf("Generated body text for %s.", title),
			},
		}
		if len(langs) > 0 {
			node.DimensionValues = dimension.Combination{
				"language": {langs[rng.Intn(len(langs))]},
			}
		}
		if err := store.SaveNode(ctx, node); err != nil {
			return err
		}
	}

	fmt.Printf("seeded %d nodes into %s\n", *numNodes, *output)
	return nil
}
