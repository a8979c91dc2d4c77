// Package driver defines the search-engine driver surface consumed by
// the indexing engine, plus the shared bulk-protocol serialization.
//
// Two driver sets implement it: elastic (HTTP bulk protocol against a
// remote engine) and embedded (in-process bleve indices).
package driver

import (
	"context"
)

// AliasActionType distinguishes alias batch actions.
type AliasActionType string

const (
	// AliasAdd points an alias at an index.
	AliasAdd AliasActionType = "add"
	// AliasRemove removes an alias from an index.
	AliasRemove AliasActionType = "remove"
)

// AliasAction is one entry of an atomic alias-update batch.
type AliasAction struct {
	Type  AliasActionType
	Alias string
	Index string
}

// BulkItem is the engine's per-item bulk response entry.
type BulkItem struct {
	// Operation is the action name (index, delete, update).
	Operation string
	// DocumentID is the affected document identifier.
	DocumentID string
	// Status is the per-item HTTP-style status code.
	Status int
	// Error describes the item failure; empty on success.
	Error string
}

// Failed reports whether the item was rejected by the engine.
func (i BulkItem) Failed() bool {
	return i.Error != "" || i.Status >= 400
}

// BulkResponse is the structured result of one bulk call.
type BulkResponse struct {
	// Errors is true when at least one item failed.
	Errors bool
	// Items lists per-item results in request order.
	Items []BulkItem
	// Raw is the engine's response body, kept for diagnostics.
	Raw []byte
}

// IndexDriver manages physical indices and aliases.
type IndexDriver interface {
	// CreateIndex creates a physical index. Creating an existing
	// index is an error.
	CreateIndex(ctx context.Context, name string) error

	// DeleteIndex removes a physical index and its documents.
	DeleteIndex(ctx context.Context, name string) error

	// IndexExists reports whether a physical index exists.
	IndexExists(ctx context.Context, name string) (bool, error)

	// IndicesByAlias lists the indices an alias points at. An unknown
	// alias yields an empty list, not an error.
	IndicesByAlias(ctx context.Context, alias string) ([]string, error)

	// IndicesByPrefix lists all physical indices whose name starts
	// with the prefix.
	IndicesByPrefix(ctx context.Context, prefix string) ([]string, error)

	// UpdateAliases applies an alias-action batch atomically: readers
	// never observe an intermediate state.
	UpdateAliases(ctx context.Context, actions []AliasAction) error
}

// RequestDriver submits bulk payloads.
type RequestDriver interface {
	// Bulk submits a newline-delimited payload against an index (or
	// aliased index name) and returns the per-item response. A
	// returned error is a transport-level failure; item failures are
	// reported inside the response.
	Bulk(ctx context.Context, index string, payload []byte) (*BulkResponse, error)

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
}

// DocumentDriver covers single-document maintenance.
type DocumentDriver interface {
	// RemoveIfTypeDiffers deletes the stored document when its node
	// type no longer matches. Returns true when a document was
	// removed. A missing document is a no-op.
	RemoveIfTypeDiffers(ctx context.Context, index, docID, nodeType string) (bool, error)
}

// Backend bundles the full driver set of one engine implementation.
type Backend interface {
	IndexDriver
	RequestDriver
	DocumentDriver
}
