// Package elastic implements the crsync driver set over the HTTP bulk
// protocol of an Elasticsearch-compatible engine.
//
// Transport-level retry and backoff are deliberately left to the
// engine's HTTP client configuration; crsync submits each request
// exactly once.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contentgraph/crsync/internal/driver"
	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// Driver talks to a remote engine over HTTP.
type Driver struct {
	endpoint string
	client   *http.Client
}

// Verify interface implementation at compile time.
var _ driver.Backend = (*Driver)(nil)

// New creates a driver for the given base endpoint
// (e.g. http://localhost:9200). No client timeout is set; callers
// control cancellation through the request context.
func New(endpoint string) *Driver {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Driver{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Transport: transport},
	}
}

// Ping verifies the engine is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	resp, err := d.do(ctx, http.MethodGet, "/", nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return crerrors.Newf(crerrors.ErrCodeIndexTransport, "engine ping returned status %d", resp.StatusCode)
	}
	return nil
}

// Bulk implements driver.RequestDriver.
func (d *Driver) Bulk(ctx context.Context, index string, payload []byte) (*driver.BulkResponse, error) {
	resp, err := d.do(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_bulk", payload, "application/x-ndjson")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeBulkTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, crerrors.Newf(crerrors.ErrCodeBulkTransport,
			"bulk request against %s returned status %d: %s", index, resp.StatusCode, truncate(body, 512))
	}

	return parseBulkResponse(body)
}

// wireBulkResponse mirrors the engine's bulk response shape.
type wireBulkResponse struct {
	Errors bool                             `json:"errors"`
	Items  []map[string]wireBulkItemResult `json:"items"`
}

type wireBulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// parseBulkResponse converts the wire shape into driver.BulkResponse.
func parseBulkResponse(body []byte) (*driver.BulkResponse, error) {
	var wire wireBulkResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeBulkTransport, fmt.Errorf("unparseable bulk response: %w", err))
	}

	out := &driver.BulkResponse{Errors: wire.Errors, Raw: body}
	for _, item := range wire.Items {
		for op, result := range item {
			entry := driver.BulkItem{
				Operation:  op,
				DocumentID: result.ID,
				Status:     result.Status,
			}
			if result.Error != nil {
				entry.Error = result.Error.Type + ": " + result.Error.Reason
			}
			out.Items = append(out.Items, entry)
		}
	}
	return out, nil
}

// CreateIndex implements driver.IndexDriver.
func (d *Driver) CreateIndex(ctx context.Context, name string) error {
	resp, err := d.do(ctx, http.MethodPut, "/"+url.PathEscape(name), nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"failed to create index %s: status %d: %s", name, resp.StatusCode, truncate(body, 256))
	}
	return nil
}

// DeleteIndex implements driver.IndexDriver.
func (d *Driver) DeleteIndex(ctx context.Context, name string) error {
	resp, err := d.do(ctx, http.MethodDelete, "/"+url.PathEscape(name), nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"failed to delete index %s: status %d", name, resp.StatusCode)
	}
	return nil
}

// IndexExists implements driver.IndexDriver.
func (d *Driver) IndexExists(ctx context.Context, name string) (bool, error) {
	resp, err := d.do(ctx, http.MethodHead, "/"+url.PathEscape(name), nil, "")
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"failed to check index %s: status %d", name, resp.StatusCode)
	}
}

// IndicesByAlias implements driver.IndexDriver. A 404 means the alias
// does not exist yet, which is benign.
func (d *Driver) IndicesByAlias(ctx context.Context, alias string) ([]string, error) {
	resp, err := d.do(ctx, http.MethodGet, "/_alias/"+url.PathEscape(alias), nil, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, crerrors.Newf(crerrors.ErrCodeAliasTransport,
			"failed to resolve alias %s: status %d", alias, resp.StatusCode)
	}

	var result map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}
	indices := make([]string, 0, len(result))
	for index := range result {
		indices = append(indices, index)
	}
	return indices, nil
}

// IndicesByPrefix implements driver.IndexDriver.
func (d *Driver) IndicesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	path := "/_cat/indices/" + url.PathEscape(prefix+"*") + "?h=index&format=json"
	resp, err := d.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"failed to list indices for prefix %s: status %d", prefix, resp.StatusCode)
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	indices := make([]string, 0, len(rows))
	for _, row := range rows {
		indices = append(indices, row.Index)
	}
	return indices, nil
}

// UpdateAliases implements driver.IndexDriver. The whole action batch
// is submitted as one atomic request.
func (d *Driver) UpdateAliases(ctx context.Context, actions []driver.AliasAction) error {
	if len(actions) == 0 {
		return nil
	}
	wire := make([]map[string]any, 0, len(actions))
	for _, action := range actions {
		wire = append(wire, map[string]any{
			string(action.Type): map[string]any{"alias": action.Alias, "index": action.Index},
		})
	}
	body, err := json.Marshal(map[string]any{"actions": wire})
	if err != nil {
		return crerrors.Wrap(crerrors.ErrCodeAliasTransport, err)
	}

	resp, err := d.do(ctx, http.MethodPost, "/_aliases", body, "application/json")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return crerrors.Newf(crerrors.ErrCodeAliasTransport,
			"alias update failed: status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}
	return nil
}

// RemoveIfTypeDiffers implements driver.DocumentDriver.
func (d *Driver) RemoveIfTypeDiffers(ctx context.Context, index, docID, nodeType string) (bool, error) {
	path := "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(docID)
	resp, err := d.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"failed to fetch document %s: status %d", docID, resp.StatusCode)
	}

	var result struct {
		Source map[string]any `json:"_source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	stored, _ := result.Source["__type"].(string)
	if stored == "" || stored == nodeType {
		return false, nil
	}

	del, err := d.do(ctx, http.MethodDelete, path, nil, "")
	if err != nil {
		return false, err
	}
	defer func() { _ = del.Body.Close() }()
	if del.StatusCode != http.StatusOK && del.StatusCode != http.StatusNotFound {
		return false, crerrors.Newf(crerrors.ErrCodeIndexTransport,
			"failed to delete stale document %s: status %d", docID, del.StatusCode)
	}
	return true, nil
}

// do issues one HTTP request against the engine.
func (d *Driver) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.endpoint+path, reader)
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, crerrors.Wrap(crerrors.ErrCodeIndexTransport, err)
	}
	return resp, nil
}

// truncate shortens response bodies for error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
