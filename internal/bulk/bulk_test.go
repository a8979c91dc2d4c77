package bulk

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentgraph/crsync/internal/dimension"
	crerrors "github.com/contentgraph/crsync/internal/errors"
)

func part(hash string, lines ...string) RequestPart {
	ls := make([]Line, len(lines))
	for i, l := range lines {
		ls[i] = Line(l)
	}
	return NewRequestPart(dimension.Hash(hash), ls...)
}

func TestBuffer_Accounting(t *testing.T) {
	b := NewBuffer()
	assert.True(t, b.Empty())

	b.Add(part("h1", `{"op":1}`, `{"op":2}`))
	b.Add(part("h2", `{"op":3}`))

	assert.False(t, b.Empty())
	assert.Equal(t, 3, b.Elements())
	// Each line contributes its length plus the newline separator.
	assert.Equal(t, 3*9, b.Octets())
}

func TestBuffer_ShouldFlush_AtThresholdNotAfter(t *testing.T) {
	b := NewBuffer()

	b.Add(part("h1", "a"))
	assert.False(t, b.ShouldFlush(3, 0))
	b.Add(part("h1", "b"))
	assert.False(t, b.ShouldFlush(3, 0))

	// The append that reaches the threshold triggers the flush.
	b.Add(part("h1", "c"))
	assert.True(t, b.ShouldFlush(3, 0))
}

func TestBuffer_ShouldFlush_OctetThreshold(t *testing.T) {
	b := NewBuffer()
	b.Add(part("h1", "0123456789"))

	assert.False(t, b.ShouldFlush(0, 100))
	assert.True(t, b.ShouldFlush(0, 11))
}

func TestBuffer_LinesFor_PreservesFIFOWithinPartition(t *testing.T) {
	b := NewBuffer()
	b.Add(part("h1", "delete-x"))
	b.Add(part("h2", "other"))
	b.Add(part("h1", "create-x"))

	lines := b.LinesFor("h1")
	require.Len(t, lines, 2)
	// Delete-then-recreate for the same document must replay in order.
	assert.Equal(t, "delete-x", string(lines[0]))
	assert.Equal(t, "create-x", string(lines[1]))
}

func TestBuffer_DropHash(t *testing.T) {
	b := NewBuffer()
	b.Add(part("h1", "a", "b"))
	b.Add(part("h2", "c"))

	b.DropHash("h1")

	assert.Equal(t, 1, b.Elements())
	assert.Empty(t, b.LinesFor("h1"))
	assert.Len(t, b.LinesFor("h2"), 1)
}

func TestBuffer_Reset(t *testing.T) {
	b := NewBuffer()
	b.Add(part("h1", "a"))

	b.Reset()

	assert.True(t, b.Empty())
	assert.Zero(t, b.Elements())
	assert.Zero(t, b.Octets())
}

func TestJoinLines(t *testing.T) {
	payload := JoinLines([]Line{Line(`{"a":1}`), Line(`{"b":2}`)})
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", string(payload))
}

func TestSink_RecordsAndReports(t *testing.T) {
	sink := NewSink(nil)
	assert.False(t, sink.HasErrors())

	sink.Record(crerrors.New(crerrors.ErrCodeBulkItemRejected, "mapper_parsing_exception", nil).
		WithDetail("document", "abc"))

	assert.True(t, sink.HasErrors())
	assert.Equal(t, 1, sink.Count())
	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, crerrors.ErrCodeBulkItemRejected, records[0].Code)
	assert.Equal(t, "abc", records[0].Details["document"])

	sink.Reset()
	assert.False(t, sink.HasErrors())
}

func TestDiagnosticWriter_WritesArtifact(t *testing.T) {
	dir := t.TempDir()
	w := NewDiagnosticWriter(dir)

	path, err := w.Write("crsync-default",
		[]byte("{\"delete\":{}}\n"), []byte(`{"errors":true}`))
	require.NoError(t, err)
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var artifact map[string]any
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, "crsync-default", artifact["index"])
	assert.Contains(t, artifact["request"], "delete")
}

func TestDiagnosticWriter_DisabledWithoutDir(t *testing.T) {
	w := NewDiagnosticWriter("")
	path, err := w.Write("idx", []byte("req"), []byte("resp"))
	require.NoError(t, err)
	assert.Empty(t, path)
}
