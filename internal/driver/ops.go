package driver

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/contentgraph/crsync/internal/bulk"
	"github.com/contentgraph/crsync/internal/config"
	"github.com/contentgraph/crsync/internal/extract"
)

// Reserved document fields carried alongside the extracted properties.
const (
	FieldIdentifier = "__identifier"
	FieldType       = "__type"
	FieldPath       = "__path"
	FieldWorkspace  = "__workspace"
	FieldFulltext   = "__fulltext"
)

// DocumentOp serializes the index operation for a document payload.
// The returned line carries the action metadata and the source,
// newline-joined as the bulk protocol requires.
func DocumentOp(docID string, doc *extract.Document) (bulk.Line, error) {
	source := make(map[string]any, len(doc.Properties)+4)
	for k, v := range doc.Properties {
		source[k] = v
	}
	source[FieldIdentifier] = doc.Identifier
	source[FieldType] = doc.NodeType
	source[FieldPath] = doc.Path
	if doc.Workspace != "" {
		source[FieldWorkspace] = doc.Workspace
	}

	return joinOp(map[string]any{"index": map[string]any{"_id": docID}}, source)
}

// FulltextOp serializes the fulltext write for a document. Segments
// are grouped into weight buckets. doc_as_upsert keeps the operation
// idempotent when the document write and fulltext write race on a
// fresh index.
func FulltextOp(docID string, segments []extract.Segment) (bulk.Line, error) {
	buckets := map[string][]string{}
	for _, seg := range segments {
		buckets[seg.Bucket] = append(buckets[seg.Bucket], seg.Text)
	}
	return joinOp(
		map[string]any{"update": map[string]any{"_id": docID}},
		map[string]any{"doc": map[string]any{FieldFulltext: buckets}, "doc_as_upsert": true},
	)
}

// DeleteOp serializes the delete operation for a document identifier.
// Deleting a missing document is reported as not-found by the engine,
// never as an item error.
func DeleteOp(docID string) (bulk.Line, error) {
	return joinOp(map[string]any{"delete": map[string]any{"_id": docID}}, nil)
}

// FulltextClearOp serializes the operation emptying a document's
// fulltext buckets. Idempotent via doc_as_upsert.
func FulltextClearOp(docID string) (bulk.Line, error) {
	return joinOp(
		map[string]any{"update": map[string]any{"_id": docID}},
		map[string]any{"doc": map[string]any{FieldFulltext: map[string]any{}}, "doc_as_upsert": true},
	)
}

// joinOp marshals action and optional source into one operation line.
func joinOp(action map[string]any, source map[string]any) (bulk.Line, error) {
	actionLine, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk action: %w", err)
	}
	if source == nil {
		return bulk.Line(actionLine), nil
	}
	sourceLine, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bulk source: %w", err)
	}
	line := make([]byte, 0, len(actionLine)+len(sourceLine)+1)
	line = append(line, actionLine...)
	line = append(line, '\n')
	line = append(line, sourceLine...)
	return bulk.Line(line), nil
}

// Mapping computes the document field mapping for the configured node
// types. The mapping algorithm itself is deliberately simple; crsync
// treats schema generation as a black box and only surfaces the
// result for inspection.
func Mapping(types map[string]config.NodeTypeConfig) map[string]any {
	properties := map[string]any{
		FieldIdentifier: map[string]any{"type": "keyword"},
		FieldType:       map[string]any{"type": "keyword"},
		FieldPath:       map[string]any{"type": "keyword"},
		FieldWorkspace:  map[string]any{"type": "keyword"},
		FieldFulltext: map[string]any{
			"properties": map[string]any{
				extract.BucketH1:   map[string]any{"type": "text"},
				extract.BucketH2:   map[string]any{"type": "text"},
				extract.BucketText: map[string]any{"type": "text"},
			},
		},
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for prop, rule := range types[name].Properties {
			var fieldType string
			switch rule.Indexing {
			case "keyword":
				fieldType = "keyword"
			case "text", "":
				fieldType = "text"
			case "date":
				fieldType = "date"
			default: // skip
				continue
			}
			properties[prop] = map[string]any{"type": fieldType}
		}
	}

	return map[string]any{"properties": properties}
}
