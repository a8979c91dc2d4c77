// Package extract turns a content node's property bag into indexable
// field values and fulltext segments.
//
// Extraction is driven by per-node-type rules from the configuration.
// Properties without a rule are reported as unclassified; this is a
// diagnostic signal, never an error.
package extract

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/contentgraph/crsync/internal/config"
	"github.com/contentgraph/crsync/internal/graph"
)

// Fulltext bucket names, in descending weight order.
const (
	BucketH1   = "h1"
	BucketH2   = "h2"
	BucketText = "text"
)

// Document is the denormalized field payload for one node
// materialization, ready to be serialized by the indexer driver.
type Document struct {
	// Identifier is the node's aggregate identifier.
	Identifier string

	// NodeType is the node type name, stored for the stale-type
	// safety net on reindex.
	NodeType string

	// Path is the node's tree path in the graph.
	Path string

	// Workspace tags the document with the target workspace when the
	// node was indexed into a workspace other than its own.
	Workspace string

	// Properties holds the classified field values.
	Properties map[string]any
}

// Segment is one fulltext extract destined for full-text search,
// distinct from structured field values.
type Segment struct {
	Bucket string
	Text   string
}

// Unclassified records a property that had no indexing rule.
type Unclassified struct {
	NodeType string
	Property string
}

// Extractor applies node-type extraction rules.
type Extractor struct {
	types map[string]config.NodeTypeConfig
	log   *slog.Logger
}

// New creates an extractor for the given node-type rules.
func New(types map[string]config.NodeTypeConfig, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{types: types, log: log}
}

// FulltextEnabled reports whether the node type takes part in
// fulltext indexing. Nodes of other types are not indexed at all.
func (e *Extractor) FulltextEnabled(nodeType string) bool {
	nt, ok := e.types[nodeType]
	return ok && nt.Fulltext
}

// Extract builds the document payload and fulltext segments for a
// node. Unclassified properties are returned for diagnostics and
// logged at debug level.
func (e *Extractor) Extract(node *graph.Node) (*Document, []Segment, []Unclassified) {
	doc := &Document{
		Identifier: node.Identifier,
		NodeType:   node.Type,
		Path:       node.Path,
		Properties: make(map[string]any, len(node.Properties)),
	}

	nt, known := e.types[node.Type]

	var segments []Segment
	var unclassified []Unclassified

	for name, value := range node.Properties {
		if !known {
			unclassified = append(unclassified, Unclassified{NodeType: node.Type, Property: name})
			continue
		}
		rule, hasRule := nt.Properties[name]
		if !hasRule {
			unclassified = append(unclassified, Unclassified{NodeType: node.Type, Property: name})
			e.log.Debug("property without indexing rule",
				slog.String("node_type", node.Type),
				slog.String("property", name))
			continue
		}

		if rule.Indexing == "skip" {
			continue
		}

		converted, err := convert(rule.Indexing, value)
		if err != nil {
			unclassified = append(unclassified, Unclassified{NodeType: node.Type, Property: name})
			e.log.Debug("property value not convertible",
				slog.String("node_type", node.Type),
				slog.String("property", name),
				slog.String("error", err.Error()))
			continue
		}
		doc.Properties[name] = converted

		if rule.Fulltext {
			if text, ok := converted.(string); ok && text != "" {
				segments = append(segments, Segment{Bucket: bucketFor(rule.Weight), Text: text})
			}
		}
	}

	return doc, segments, unclassified
}

// bucketFor maps a configured weight to a fulltext bucket name.
func bucketFor(weight string) string {
	switch weight {
	case BucketH1, BucketH2:
		return weight
	default:
		return BucketText
	}
}

// convert coerces a raw property value according to its indexing rule.
func convert(rule string, value any) (any, error) {
	switch rule {
	case "", "keyword", "text":
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, float64, int, int64:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported value type %T", value)
		}
	case "date":
		switch v := value.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("invalid date %q: %w", v, err)
			}
			return ts.UTC().Format(time.RFC3339), nil
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		default:
			return nil, fmt.Errorf("unsupported date type %T", value)
		}
	default:
		return nil, fmt.Errorf("unknown indexing rule %q", rule)
	}
}
