package embedded

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentgraph/crsync/internal/driver"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCreateAndDeleteIndex(t *testing.T) {
	// Given an empty engine
	d := newTestDriver(t)
	ctx := context.Background()

	// When creating an index
	require.NoError(t, d.CreateIndex(ctx, "crsync-abc123-100"))

	// Then it exists and creating it again fails
	exists, err := d.IndexExists(ctx, "crsync-abc123-100")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Error(t, d.CreateIndex(ctx, "crsync-abc123-100"))

	// When deleting it, deletion is idempotent
	require.NoError(t, d.DeleteIndex(ctx, "crsync-abc123-100"))
	require.NoError(t, d.DeleteIndex(ctx, "crsync-abc123-100"))

	exists, err = d.IndexExists(ctx, "crsync-abc123-100")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBulkIndexUpdateDelete(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))

	// Given a payload indexing a document and merging a fulltext patch
	payload := []byte(`{"index":{"_id":"doc-1"}}
{"__identifier":"n1","__type":"acme:page","title":"Hello"}
{"update":{"_id":"doc-1"}}
{"doc":{"__fulltext":{"text":"hello world"}},"doc_as_upsert":true}
`)

	// When executing the bulk request
	resp, err := d.Bulk(ctx, "crsync-default-100", payload)
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.False(t, resp.Errors)

	// Then the stored source carries both the document and the patch
	source, found, err := d.DocumentByID("crsync-default-100", "doc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "acme:page", source[driver.FieldType])
	assert.NotNil(t, source[driver.FieldFulltext])

	// When deleting the document
	resp, err = d.Bulk(ctx, "crsync-default-100", []byte(`{"delete":{"_id":"doc-1"}}`+"\n"))
	require.NoError(t, err)
	assert.False(t, resp.Errors)

	_, found, err = d.DocumentByID("crsync-default-100", "doc-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBulkRejectedItemStaysOutOfCatalog(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))

	// Given a payload whose first operation has no document id
	payload := []byte(`{"index":{}}
{"__identifier":"n1","__type":"acme:page","title":"Hello"}
{"index":{"_id":"doc-2"}}
{"__identifier":"n2","__type":"acme:page","title":"World"}
`)

	// When executing the bulk request
	resp, err := d.Bulk(ctx, "crsync-default-100", payload)
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.True(t, resp.Errors)
	assert.Equal(t, 400, resp.Items[0].Status)
	assert.Equal(t, 201, resp.Items[1].Status)

	// Then only the accepted document is in the catalog
	_, found, err := d.DocumentByID("crsync-default-100", "")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = d.DocumentByID("crsync-default-100", "doc-2")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBulkUpdateWithoutUpsertReportsMissing(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))

	// Given an update without doc_as_upsert for an unknown document
	payload := []byte(`{"update":{"_id":"ghost"}}
{"doc":{"title":"nope"}}
`)

	// When executing, the request succeeds but the item fails
	resp, err := d.Bulk(ctx, "crsync-default-100", payload)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Errors)
	assert.True(t, resp.Items[0].Failed())
	assert.Equal(t, 404, resp.Items[0].Status)
}

func TestBulkTargetsAliasWithSingleIndex(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))
	require.NoError(t, d.UpdateAliases(ctx, []driver.AliasAction{
		{Type: driver.AliasAdd, Alias: "crsync-default", Index: "crsync-default-100"},
	}))

	// When writing through the alias
	payload := []byte(`{"index":{"_id":"doc-a"}}
{"__identifier":"n1","__type":"acme:page"}
`)
	_, err := d.Bulk(ctx, "crsync-default", payload)
	require.NoError(t, err)

	// Then the document is readable through both names
	_, found, err := d.DocumentByID("crsync-default-100", "doc-a")
	require.NoError(t, err)
	assert.True(t, found)

	// And writes through an ambiguous alias are rejected
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-200"))
	require.NoError(t, d.UpdateAliases(ctx, []driver.AliasAction{
		{Type: driver.AliasAdd, Alias: "crsync-default", Index: "crsync-default-200"},
	}))
	_, err = d.Bulk(ctx, "crsync-default", payload)
	assert.Error(t, err)
}

func TestUpdateAliasesAtomicSwap(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-200"))
	require.NoError(t, d.UpdateAliases(ctx, []driver.AliasAction{
		{Type: driver.AliasAdd, Alias: "crsync-default", Index: "crsync-default-100"},
	}))

	// When swapping the alias in one batch
	require.NoError(t, d.UpdateAliases(ctx, []driver.AliasAction{
		{Type: driver.AliasRemove, Alias: "crsync-default", Index: "crsync-default-100"},
		{Type: driver.AliasAdd, Alias: "crsync-default", Index: "crsync-default-200"},
	}))

	indices, err := d.IndicesByAlias(ctx, "crsync-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-200"}, indices)

	// And adding an alias to a missing index fails without mutation
	err = d.UpdateAliases(ctx, []driver.AliasAction{
		{Type: driver.AliasRemove, Alias: "crsync-default", Index: "crsync-default-200"},
		{Type: driver.AliasAdd, Alias: "crsync-default", Index: "crsync-default-999"},
	})
	assert.Error(t, err)
	indices, err = d.IndicesByAlias(ctx, "crsync-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-200"}, indices)
}

func TestIndicesByAliasUnknownReturnsEmpty(t *testing.T) {
	d := newTestDriver(t)
	indices, err := d.IndicesByAlias(context.Background(), "no-such-alias")
	require.NoError(t, err)
	assert.Empty(t, indices)
}

func TestIndicesByPrefix(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-aaa-1"))
	require.NoError(t, d.CreateIndex(ctx, "crsync-bbb-1"))
	require.NoError(t, d.CreateIndex(ctx, "other-ccc-1"))

	indices, err := d.IndicesByPrefix(ctx, "crsync-")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-aaa-1", "crsync-bbb-1"}, indices)
}

func TestRemoveIfTypeDiffers(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))

	payload := []byte(`{"index":{"_id":"doc-1"}}
{"__identifier":"n1","__type":"acme:page"}
`)
	_, err := d.Bulk(ctx, "crsync-default-100", payload)
	require.NoError(t, err)

	// Same type: document stays
	removed, err := d.RemoveIfTypeDiffers(ctx, "crsync-default-100", "doc-1", "acme:page")
	require.NoError(t, err)
	assert.False(t, removed)

	// Different type: stale document is dropped
	removed, err = d.RemoveIfTypeDiffers(ctx, "crsync-default-100", "doc-1", "acme:article")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := d.DocumentByID("crsync-default-100", "doc-1")
	require.NoError(t, err)
	assert.False(t, found)

	// Unknown document: nothing to do
	removed, err = d.RemoveIfTypeDiffers(ctx, "crsync-default-100", "ghost", "acme:page")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSearchByIdentifier(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))

	payload := []byte(`{"index":{"_id":"doc-1"}}
{"__identifier":"node-alpha","__type":"acme:page"}
{"index":{"_id":"doc-2"}}
{"__identifier":"node-beta","__type":"acme:page"}
`)
	_, err := d.Bulk(ctx, "crsync-default-100", payload)
	require.NoError(t, err)

	ids, err := d.SearchByIdentifier(ctx, "crsync-default-100", "node-alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, ids)

	ids, err = d.SearchByIdentifier(ctx, "crsync-default-100", "node-gone")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	// Given a disk-backed engine with an aliased, populated index
	dir := t.TempDir()
	d, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, d.CreateIndex(ctx, "crsync-default-100"))
	require.NoError(t, d.UpdateAliases(ctx, []driver.AliasAction{
		{Type: driver.AliasAdd, Alias: "crsync-default", Index: "crsync-default-100"},
	}))
	payload := []byte(`{"index":{"_id":"doc-1"}}
{"__identifier":"n1","__type":"acme:page"}
`)
	_, err = d.Bulk(ctx, "crsync-default-100", payload)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	// When reopening from the same directory
	d2, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d2.Close() })

	// Then aliases and documents survive
	indices, err := d2.IndicesByAlias(ctx, "crsync-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-100"}, indices)

	source, found, err := d2.DocumentByID("crsync-default", "doc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "acme:page", source[driver.FieldType])
}
