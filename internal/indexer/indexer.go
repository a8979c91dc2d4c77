// Package indexer implements the indexing and bulk-synchronization
// engine. It expands one node mutation into the per-dimension document
// writes it implies, accumulates them in a size-bounded bulk buffer
// and flushes the buffer in one request per dimension partition.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/contentgraph/crsync/internal/bulk"
	"github.com/contentgraph/crsync/internal/dimension"
	"github.com/contentgraph/crsync/internal/driver"
	crerrors "github.com/contentgraph/crsync/internal/errors"
	"github.com/contentgraph/crsync/internal/extract"
	"github.com/contentgraph/crsync/internal/graph"
)

// Config carries the collaborators and tuning of an Indexer.
type Config struct {
	Graph       graph.Reader
	Backend     driver.Backend
	Dimensions  *dimension.Service
	Extractor   *extract.Extractor
	Sink        *bulk.Sink
	Diagnostics *bulk.DiagnosticWriter

	// Prefix is the logical index name all physical indices and
	// aliases derive from.
	Prefix string

	// Postfix distinguishes index generations during rebuilds. Empty
	// for incremental indexing into the aliased index.
	Postfix string

	// LiveOnly restricts indexing to the live workspace.
	LiveOnly bool

	// BatchElements and BatchOctets are the auto-flush thresholds.
	BatchElements int
	BatchOctets   int

	Log *slog.Logger
}

// Indexer is the indexing engine. It owns one indexing session: the
// bulk buffer and the dimension registry live from the first append to
// the end of the next Flush. Not safe for concurrent use; a rebuild is
// one logical writer.
type Indexer struct {
	graph       graph.Reader
	backend     driver.Backend
	dims        *dimension.Service
	extractor   *extract.Extractor
	sink        *bulk.Sink
	diagnostics *bulk.DiagnosticWriter
	log         *slog.Logger

	prefix        string
	postfix       string
	liveOnly      bool
	batchElements int
	batchOctets   int

	buffer         *bulk.Buffer
	bulkProcessing bool
}

// New creates an Indexer from its configuration.
func New(cfg Config) *Indexer {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		graph:         cfg.Graph,
		backend:       cfg.Backend,
		dims:          cfg.Dimensions,
		extractor:     cfg.Extractor,
		sink:          cfg.Sink,
		diagnostics:   cfg.Diagnostics,
		log:           log,
		prefix:        cfg.Prefix,
		postfix:       cfg.Postfix,
		liveOnly:      cfg.LiveOnly,
		batchElements: cfg.BatchElements,
		batchOctets:   cfg.BatchOctets,
		buffer:        bulk.NewBuffer(),
	}
}

// SetPostfix switches the index generation subsequent writes and alias
// operations target.
func (ix *Indexer) SetPostfix(postfix string) {
	ix.postfix = postfix
}

// Postfix returns the current index generation postfix.
func (ix *Indexer) Postfix() string {
	return ix.postfix
}

// skipWorkspace applies the live-only gate. The explicit target takes
// precedence; without one the node's own context workspace decides.
// Both checks stay separate on purpose: a node materialized in a draft
// workspace but targeted at live is indexed, the reverse is not.
func (ix *Indexer) skipWorkspace(node *graph.Node, targetWorkspace string) bool {
	if !ix.liveOnly {
		return false
	}
	if targetWorkspace != "" {
		return targetWorkspace != graph.LiveWorkspaceName
	}
	return node.Workspace != graph.LiveWorkspaceName
}

// documentID computes the deterministic document identifier for a node
// and optional target workspace.
func documentID(node *graph.Node, targetWorkspace string) string {
	if targetWorkspace != "" {
		return graph.DocumentID(node.ContextPathInWorkspace(targetWorkspace))
	}
	return graph.DocumentID(node.ContextPath())
}

// IndexNode indexes one node mutation. The node is re-resolved in
// every allowed dimension combination; each materialization found
// yields a document write and a fulltext write in that combination's
// partition. Materializations that are tombstoned are routed to
// RemoveNode, absent ones are skipped.
func (ix *Indexer) IndexNode(ctx context.Context, node *graph.Node, targetWorkspace string) error {
	if ix.skipWorkspace(node, targetWorkspace) {
		ix.log.Debug("skipping node outside live workspace",
			"identifier", node.Identifier,
			"workspace", node.Workspace)
		return nil
	}

	combinations, err := ix.graph.AllowedCombinations(ctx)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeGraphStore, err)
	}
	if len(combinations) == 0 {
		combinations = []dimension.Combination{nil}
	}

	for _, combination := range combinations {
		if err := ix.indexInCombination(ctx, node, targetWorkspace, combination); err != nil {
			return err
		}
	}
	return nil
}

// indexInCombination handles one (node, dimension combination) pass.
func (ix *Indexer) indexInCombination(ctx context.Context, node *graph.Node, targetWorkspace string, combination dimension.Combination) error {
	hash := ix.dims.Record(combination)
	ix.dims.SetCurrent(combination)

	resolved, err := ix.graph.ResolveNode(ctx, node.Identifier, node.Workspace, combination)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeGraphStore, err)
	}
	if resolved == nil {
		removed, err := ix.graph.IsRemoved(ctx, node.Identifier, node.Workspace)
		if err != nil {
			return crerrors.Wrap(crerrors.ErrCodeGraphStore, err)
		}
		if removed {
			return ix.removeInCombination(ctx, node, targetWorkspace, hash)
		}
		ix.log.Debug("node has no materialization in dimension context",
			"identifier", node.Identifier,
			"dimensions", combination.String())
		return nil
	}

	docID := documentID(resolved, targetWorkspace)

	// Schema-change safety net: a document written under a previous
	// node type must not linger with the old mapping. Skipped during
	// bulk processing where the caller guarantees a fresh index.
	if !ix.bulkProcessing {
		removed, err := ix.backend.RemoveIfTypeDiffers(ctx, ix.indexNameFor(hash), docID, resolved.Type)
		if err != nil {
			ix.log.Warn("stale type check failed",
				"document", docID,
				"error", err)
		} else if removed {
			ix.log.Info("removed document with stale node type",
				"document", docID,
				"type", resolved.Type)
		}
	}

	doc, segments, unclassified := ix.extractor.Extract(resolved)
	for _, u := range unclassified {
		ix.log.Warn("property has no indexing rule",
			"nodeType", u.NodeType,
			"property", u.Property)
	}
	if targetWorkspace != "" {
		doc.Workspace = targetWorkspace
	}

	if !ix.extractor.FulltextEnabled(resolved.Type) {
		ix.log.Debug("node type not fulltext enabled, skipping",
			"identifier", resolved.Identifier,
			"type", resolved.Type)
		return nil
	}

	docLine, err := driver.DocumentOp(docID, doc)
	if err != nil {
		ix.log.Warn("failed to serialize document operation",
			"document", docID,
			"error", err)
		docLine = nil
	}
	ftLine, err := driver.FulltextOp(docID, segments)
	if err != nil {
		ix.log.Warn("failed to serialize fulltext operation",
			"document", docID,
			"error", err)
		ftLine = nil
	}

	ix.buffer.Add(bulk.NewRequestPart(hash, docLine, ftLine))
	return ix.flushIfNeeded(ctx)
}

// RemoveNode queues delete and fulltext-clear operations for a node.
// Removing a document the engine never wrote is a no-op at this level;
// per-item driver errors surface through the error sink at flush time.
func (ix *Indexer) RemoveNode(ctx context.Context, node *graph.Node, targetWorkspace string) error {
	if ix.skipWorkspace(node, targetWorkspace) {
		ix.log.Debug("skipping removal outside live workspace",
			"identifier", node.Identifier,
			"workspace", node.Workspace)
		return nil
	}
	hash := ix.dims.Record(node.Dimensions())
	return ix.removeInCombination(ctx, node, targetWorkspace, hash)
}

// removeInCombination appends the delete pair to one partition.
func (ix *Indexer) removeInCombination(ctx context.Context, node *graph.Node, targetWorkspace string, hash dimension.Hash) error {
	docID := documentID(node, targetWorkspace)

	deleteLine, err := driver.DeleteOp(docID)
	if err != nil {
		ix.log.Warn("failed to serialize delete operation",
			"document", docID,
			"error", err)
		deleteLine = nil
	}
	clearLine, err := driver.FulltextClearOp(docID)
	if err != nil {
		ix.log.Warn("failed to serialize fulltext clear operation",
			"document", docID,
			"error", err)
		clearLine = nil
	}

	ix.buffer.Add(bulk.NewRequestPart(hash, deleteLine, clearLine))
	ix.log.Debug("queued node removal",
		"identifier", node.Identifier,
		"document", docID)
	return ix.flushIfNeeded(ctx)
}

// flushIfNeeded applies the auto-flush policy after every append.
func (ix *Indexer) flushIfNeeded(ctx context.Context) error {
	if ix.buffer.ShouldFlush(ix.batchElements, ix.batchOctets) {
		return ix.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered operations, one bulk request per dimension
// partition, then clears the buffer and the dimension registry.
//
// Malformed operations (nil lines from serialization failures at
// append time) are reported through the sink and skipped without
// aborting their partition. Item-level rejections from the engine are
// likewise reported and written to a diagnostic artifact. A transport
// failure aborts the flush: partitions already written are dropped
// from the buffer, the failing partition and everything after it stay
// queued so a retry resubmits exactly the unwritten remainder.
func (ix *Indexer) Flush(ctx context.Context) error {
	if ix.buffer.Empty() {
		return nil
	}

	for _, hash := range ix.dims.Registered() {
		lines := ix.buffer.LinesFor(hash)
		valid := make([]bulk.Line, 0, len(lines))
		for _, line := range lines {
			if line == nil {
				ix.sink.Record(crerrors.Newf(crerrors.ErrCodeMalformedItem,
					"dropping malformed bulk operation in partition %s", hash))
				continue
			}
			valid = append(valid, line)
		}
		if len(valid) == 0 {
			ix.buffer.DropHash(hash)
			ix.dims.Forget(hash)
			continue
		}

		if combination, ok := ix.dims.CombinationFor(hash); ok {
			ix.dims.SetCurrent(combination)
		}

		target := ix.indexNameFor(hash)
		payload := bulk.JoinLines(valid)
		ix.log.Debug("flushing bulk partition",
			"index", target,
			"elements", len(valid),
			"octets", len(payload))

		resp, err := ix.backend.Bulk(ctx, target, payload)
		if err != nil {
			return crerrors.Wrap(crerrors.ErrCodeBulkTransport,
				fmt.Errorf("bulk request to %s failed: %w", target, err))
		}

		if resp.Errors {
			for _, item := range resp.Items {
				if !item.Failed() {
					continue
				}
				ix.sink.Record(crerrors.Newf(crerrors.ErrCodeBulkItemRejected,
					"bulk item rejected with status %d: %s", item.Status, item.Error).
					WithDetail("index", target).
					WithDetail("document", item.DocumentID).
					WithDetail("operation", item.Operation))
			}
			if path, err := ix.diagnostics.Write(target, payload, resp.Raw); err != nil {
				ix.log.Warn("failed to write bulk diagnostic artifact", "error", err)
			} else if path != "" {
				ix.log.Info("wrote bulk diagnostic artifact", "path", path)
			}
		}

		ix.buffer.DropHash(hash)
		ix.dims.Forget(hash)
	}

	ix.buffer.Reset()
	ix.dims.Reset()
	return nil
}

// WithBulkProcessing runs fn with the stale-type safety check
// disabled. Valid only when fn writes into a fresh index with no
// pre-existing documents. The previous mode is restored on every exit
// path and fn's error is returned unchanged.
func (ix *Indexer) WithBulkProcessing(fn func() error) error {
	previous := ix.bulkProcessing
	ix.bulkProcessing = true
	defer func() { ix.bulkProcessing = previous }()
	return fn()
}

// indexNameFor returns the write target for a partition: the physical
// generation when a postfix is set, otherwise the per-dimension alias.
func (ix *Indexer) indexNameFor(hash dimension.Hash) string {
	alias := ix.prefix + "-" + string(hash)
	if ix.postfix == "" {
		return alias
	}
	return alias + "-" + ix.postfix
}

// AliasName returns the per-dimension alias for the current dimension
// context.
func (ix *Indexer) AliasName() string {
	return ix.prefix + "-" + string(ix.dims.HashOf(ix.dims.Current()))
}

// IndexName returns the physical index name for the current dimension
// context and postfix. Without a postfix this equals AliasName.
func (ix *Indexer) IndexName() string {
	if ix.postfix == "" {
		return ix.AliasName()
	}
	return ix.AliasName() + "-" + ix.postfix
}

// PartitionNames lists the (alias, physical) name pair per allowed
// dimension combination. The helper the CLI uses to create and swap
// every partition's index during a rebuild.
func (ix *Indexer) PartitionNames(ctx context.Context) (map[dimension.Hash]string, error) {
	combinations, err := ix.graph.AllowedCombinations(ctx)
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeGraphStore, err)
	}
	if len(combinations) == 0 {
		combinations = []dimension.Combination{nil}
	}
	names := make(map[dimension.Hash]string, len(combinations))
	for _, combination := range combinations {
		hash := ix.dims.HashOf(combination)
		names[hash] = ix.indexNameFor(hash)
	}
	return names, nil
}

// HasPostfixedName reports whether name follows the three-segment
// physical naming scheme prefix-hash-postfix for this indexer's prefix
// and postfix. Structural invariant of index naming.
func (ix *Indexer) HasPostfixedName(name string) bool {
	if ix.postfix == "" {
		return false
	}
	parts := strings.Split(name, "-")
	return len(parts) == 3 && parts[0] == ix.prefix && parts[2] == ix.postfix
}
