// Package embedded implements the crsync driver set on in-process
// bleve indices. It backs local deployments and the integration
// tests, speaking the same newline-delimited bulk protocol as the
// remote backend.
package embedded

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/contentgraph/crsync/internal/driver"
	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// Driver manages bleve indices and an alias table. All operations are
// serialized on one lock; alias batches are therefore atomic for
// in-process readers.
type Driver struct {
	mu      sync.Mutex
	dataDir string // empty: memory-only indices
	indices map[string]*physicalIndex
	aliases map[string][]string
}

// physicalIndex couples a bleve index with its source catalog. The
// catalog keeps original document sources so partial updates and the
// stale-type check stay exact.
type physicalIndex struct {
	index   bleve.Index
	sources map[string]map[string]any
}

// Verify interface implementation at compile time.
var _ driver.Backend = (*Driver)(nil)

// New creates an embedded driver. When dataDir is non-empty, indices
// live below dataDir/indices and the alias table is persisted to
// dataDir/aliases.json.
func New(dataDir string) (*Driver, error) {
	d := &Driver{
		dataDir: dataDir,
		indices: make(map[string]*physicalIndex),
		aliases: make(map[string][]string),
	}
	if dataDir != "" {
		if err := d.loadState(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Close closes all open indices.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for name, phys := range d.indices {
		if err := phys.index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close index %s: %w", name, err)
		}
	}
	d.indices = make(map[string]*physicalIndex)
	return firstErr
}

// Ping implements driver.RequestDriver. The embedded engine is always
// reachable.
func (d *Driver) Ping(ctx context.Context) error {
	return nil
}

// CreateIndex implements driver.IndexDriver.
func (d *Driver) CreateIndex(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.indices[name]; exists {
		return crerrors.Newf(crerrors.ErrCodeIndexTransport, "index %s already exists", name)
	}

	var idx bleve.Index
	var err error
	if d.dataDir == "" {
		idx, err = bleve.NewMemOnly(indexMapping())
	} else {
		if err := os.MkdirAll(filepath.Join(d.dataDir, "indices"), 0o755); err != nil {
			return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
		}
		idx, err = bleve.New(d.indexPath(name), indexMapping())
	}
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, fmt.Errorf("failed to create index %s: %w", name, err))
	}

	d.indices[name] = &physicalIndex{index: idx, sources: make(map[string]map[string]any)}
	return d.saveState()
}

// DeleteIndex implements driver.IndexDriver. Deleting an unknown
// index is a no-op, and any alias references are dropped with it.
func (d *Driver) DeleteIndex(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	phys, exists := d.indices[name]
	if !exists {
		return nil
	}
	if err := phys.index.Close(); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	delete(d.indices, name)
	if d.dataDir != "" {
		_ = os.RemoveAll(d.indexPath(name))
		_ = os.Remove(d.catalogPath(name))
	}

	for alias, indices := range d.aliases {
		kept := indices[:0]
		for _, idx := range indices {
			if idx != name {
				kept = append(kept, idx)
			}
		}
		if len(kept) == 0 {
			delete(d.aliases, alias)
		} else {
			d.aliases[alias] = kept
		}
	}
	return d.saveState()
}

// IndexExists implements driver.IndexDriver.
func (d *Driver) IndexExists(ctx context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.indices[name]
	return exists, nil
}

// IndicesByAlias implements driver.IndexDriver.
func (d *Driver) IndicesByAlias(ctx context.Context, alias string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	indices := append([]string(nil), d.aliases[alias]...)
	sort.Strings(indices)
	return indices, nil
}

// IndicesByPrefix implements driver.IndexDriver.
func (d *Driver) IndicesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var indices []string
	for name := range d.indices {
		if strings.HasPrefix(name, prefix) {
			indices = append(indices, name)
		}
	}
	sort.Strings(indices)
	return indices, nil
}

// UpdateAliases implements driver.IndexDriver. The whole batch is
// applied under one lock; removing an alias that does not exist is
// benign, adding an alias to a missing index is an error and aborts
// the batch before any mutation.
func (d *Driver) UpdateAliases(ctx context.Context, actions []driver.AliasAction) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, action := range actions {
		if action.Type == driver.AliasAdd {
			if _, exists := d.indices[action.Index]; !exists {
				return crerrors.Newf(crerrors.ErrCodeAliasTransport,
					"cannot alias %s to missing index %s", action.Alias, action.Index)
			}
		}
	}

	for _, action := range actions {
		switch action.Type {
		case driver.AliasRemove:
			kept := d.aliases[action.Alias][:0]
			for _, idx := range d.aliases[action.Alias] {
				if idx != action.Index {
					kept = append(kept, idx)
				}
			}
			if len(kept) == 0 {
				delete(d.aliases, action.Alias)
			} else {
				d.aliases[action.Alias] = kept
			}
		case driver.AliasAdd:
			holders := d.aliases[action.Alias]
			already := false
			for _, idx := range holders {
				if idx == action.Index {
					already = true
					break
				}
			}
			if !already {
				d.aliases[action.Alias] = append(holders, action.Index)
			}
		}
	}
	return d.saveState()
}

// Bulk implements driver.RequestDriver. The target may be a physical
// index name or an alias resolving to exactly one index.
func (d *Driver) Bulk(ctx context.Context, index string, payload []byte) (*driver.BulkResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	phys, err := d.resolveLocked(index)
	if err != nil {
		return nil, err
	}

	ops, err := parsePayload(payload)
	if err != nil {
		return nil, err
	}

	batch := phys.index.NewBatch()
	resp := &driver.BulkResponse{}
	for _, op := range ops {
		item := driver.BulkItem{Operation: op.action, DocumentID: op.id, Status: 200}
		switch op.action {
		case "index":
			if err := batch.Index(op.id, op.source); err != nil {
				item.Status = 400
				item.Error = "indexing_exception: " + err.Error()
			} else {
				// Catalog only documents the batch accepted.
				phys.sources[op.id] = op.source
				item.Status = 201
			}
		case "update":
			base, exists := phys.sources[op.id]
			if !exists {
				if !op.upsert {
					item.Status = 404
					item.Error = "document_missing_exception: " + op.id
					break
				}
				base = map[string]any{}
			}
			merged := make(map[string]any, len(base)+len(op.source))
			for k, v := range base {
				merged[k] = v
			}
			for k, v := range op.source {
				merged[k] = v
			}
			if err := batch.Index(op.id, merged); err != nil {
				item.Status = 400
				item.Error = "indexing_exception: " + err.Error()
			} else {
				phys.sources[op.id] = merged
			}
		case "delete":
			if _, exists := phys.sources[op.id]; !exists {
				item.Status = 404
			}
			delete(phys.sources, op.id)
			batch.Delete(op.id)
		default:
			item.Status = 400
			item.Error = "unknown_action: " + op.action
		}
		if item.Failed() {
			resp.Errors = true
		}
		resp.Items = append(resp.Items, item)
	}

	if err := phys.index.Batch(batch); err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeBulkTransport, err)
	}
	if err := d.saveCatalogLocked(index, phys); err != nil {
		return nil, err
	}

	resp.Raw, _ = json.Marshal(resp.Items)
	return resp, nil
}

// RemoveIfTypeDiffers implements driver.DocumentDriver.
func (d *Driver) RemoveIfTypeDiffers(ctx context.Context, index, docID, nodeType string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	phys, err := d.resolveLocked(index)
	if err != nil {
		return false, err
	}
	source, exists := phys.sources[docID]
	if !exists {
		return false, nil
	}
	stored, _ := source[driver.FieldType].(string)
	if stored == "" || stored == nodeType {
		return false, nil
	}

	delete(phys.sources, docID)
	if err := phys.index.Delete(docID); err != nil {
		return false, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	return true, nil
}

// DocumentByID returns the stored source of a document. Used by the
// status command and the integration tests.
func (d *Driver) DocumentByID(index, docID string) (map[string]any, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	phys, err := d.resolveLocked(index)
	if err != nil {
		return nil, false, err
	}
	source, exists := phys.sources[docID]
	return source, exists, nil
}

// SearchByIdentifier returns the document IDs whose aggregate
// identifier field matches.
func (d *Driver) SearchByIdentifier(ctx context.Context, index, identifier string) ([]string, error) {
	d.mu.Lock()
	phys, err := d.resolveLocked(index)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	query := bleve.NewTermQuery(identifier)
	query.SetField(driver.FieldIdentifier)
	req := bleve.NewSearchRequest(query)
	req.Size = 100

	result, err := phys.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// DocCount returns the number of documents in an index or alias.
func (d *Driver) DocCount(index string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	phys, err := d.resolveLocked(index)
	if err != nil {
		return 0, err
	}
	return len(phys.sources), nil
}

// resolveLocked resolves an index name or single-target alias.
func (d *Driver) resolveLocked(name string) (*physicalIndex, error) {
	if phys, exists := d.indices[name]; exists {
		return phys, nil
	}
	targets := d.aliases[name]
	switch len(targets) {
	case 1:
		if phys, exists := d.indices[targets[0]]; exists {
			return phys, nil
		}
		return nil, crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"alias %s points at missing index %s", name, targets[0])
	case 0:
		return nil, crerrors.Newf(crerrors.ErrCodeIndexTransport, "no such index %s", name)
	default:
		return nil, crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"alias %s points at %d indices, writes need exactly one", name, len(targets))
	}
}

// bulkOp is one parsed operation of a bulk payload.
type bulkOp struct {
	action string
	id     string
	source map[string]any
	upsert bool
}

// parsePayload splits a newline-delimited bulk payload into operations.
func parsePayload(payload []byte) ([]bulkOp, error) {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var ops []bulkOp
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var action map[string]struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(line, &action); err != nil || len(action) != 1 {
			return nil, crerrors.Newf(crerrors.ErrCodeBulkTransport, "malformed action line: %s", line)
		}

		var op bulkOp
		for name, meta := range action {
			op.action = name
			op.id = meta.ID
		}

		if op.action == "index" || op.action == "update" {
			if !scanner.Scan() {
				return nil, crerrors.Newf(crerrors.ErrCodeBulkTransport, "missing source line for %s", op.id)
			}
			var source map[string]any
			if err := json.Unmarshal(scanner.Bytes(), &source); err != nil {
				return nil, crerrors.Wrap(crerrors.ErrCodeBulkTransport, err)
			}
			if op.action == "update" {
				doc, _ := source["doc"].(map[string]any)
				op.source = doc
				op.upsert, _ = source["doc_as_upsert"].(bool)
			} else {
				op.source = source
			}
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeBulkTransport, err)
	}
	return ops, nil
}

// indexMapping builds the bleve mapping: reserved fields are exact
// keyword matches, everything else uses the default analyzer.
func indexMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(driver.FieldIdentifier, keywordField)
	doc.AddFieldMappingsAt(driver.FieldType, keywordField)
	doc.AddFieldMappingsAt(driver.FieldPath, keywordField)
	doc.AddFieldMappingsAt(driver.FieldWorkspace, keywordField)
	m.DefaultMapping = doc

	return m
}

// indexPath returns the on-disk location of a physical index.
func (d *Driver) indexPath(name string) string {
	return filepath.Join(d.dataDir, "indices", name)
}

// catalogPath returns the on-disk location of a source catalog.
func (d *Driver) catalogPath(name string) string {
	return filepath.Join(d.dataDir, "indices", name+".catalog.json")
}

// persistedState is the on-disk alias table layout.
type persistedState struct {
	Aliases map[string][]string `json:"aliases"`
	Indices []string            `json:"indices"`
}

// saveState persists the alias table and index list (disk mode only).
func (d *Driver) saveState() error {
	if d.dataDir == "" {
		return nil
	}
	names := make([]string, 0, len(d.indices))
	for name := range d.indices {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := json.MarshalIndent(persistedState{Aliases: d.aliases, Indices: names}, "", "  ")
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	if err := os.WriteFile(filepath.Join(d.dataDir, "aliases.json"), data, 0o644); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	return nil
}

// saveCatalogLocked persists one index's source catalog (disk mode only).
func (d *Driver) saveCatalogLocked(name string, phys *physicalIndex) error {
	if d.dataDir == "" {
		return nil
	}
	// Resolve aliases to the physical name for the catalog file.
	for physName, candidate := range d.indices {
		if candidate == phys {
			name = physName
			break
		}
	}
	data, err := json.Marshal(phys.sources)
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	if err := os.WriteFile(d.catalogPath(name), data, 0o644); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	return nil
}

// loadState reopens persisted indices and the alias table.
func (d *Driver) loadState() error {
	data, err := os.ReadFile(filepath.Join(d.dataDir, "aliases.json"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return crerrors.Wrap(crerrors.ErrCodeIndexTransport, fmt.Errorf("corrupt alias table: %w", err))
	}

	for _, name := range state.Indices {
		idx, err := bleve.Open(d.indexPath(name))
		if err != nil {
			return crerrors.Wrap(crerrors.ErrCodeIndexTransport, fmt.Errorf("failed to open index %s: %w", name, err))
		}
		phys := &physicalIndex{index: idx, sources: make(map[string]map[string]any)}
		if catalog, err := os.ReadFile(d.catalogPath(name)); err == nil {
			_ = json.Unmarshal(catalog, &phys.sources)
		}
		d.indices[name] = phys
	}
	if state.Aliases != nil {
		d.aliases = state.Aliases
	}
	return nil
}
