// Package bulk holds the building blocks of batched index writes: the
// dimension-tagged request part, the size-bounded accumulation buffer,
// the session error sink and the failure diagnostics writer.
package bulk

import (
	"bytes"

	"github.com/contentgraph/crsync/internal/dimension"
)

// Line is one serialized bulk-protocol operation (action metadata plus
// source, newline-joined). A nil Line marks an operation that failed
// to serialize at append time; it is skipped and reported at flush,
// never aborting the rest of the batch.
type Line []byte

// RequestPart pairs a dimension hash with an ordered fragment of
// bulk-protocol operation lines. A part is created per node operation,
// consumed exactly once at flush time, then discarded.
type RequestPart struct {
	Hash  dimension.Hash
	Lines []Line
}

// NewRequestPart creates a part for the given dimension hash.
func NewRequestPart(hash dimension.Hash, lines ...Line) RequestPart {
	return RequestPart{Hash: hash, Lines: lines}
}

// Elements returns the number of operations in the part.
func (p RequestPart) Elements() int {
	return len(p.Lines)
}

// Octets returns the payload size of the part in bytes, including the
// newline separators the bulk protocol requires.
func (p RequestPart) Octets() int {
	size := 0
	for _, line := range p.Lines {
		size += len(line) + 1
	}
	return size
}

// JoinLines assembles a newline-delimited bulk payload from operation
// lines. The trailing newline is included, as the protocol requires.
func JoinLines(lines []Line) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
