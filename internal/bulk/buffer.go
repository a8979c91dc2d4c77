package bulk

import (
	"github.com/contentgraph/crsync/internal/dimension"
)

// Buffer accumulates request parts for one flush cycle. It is owned
// by a single indexing session; concurrent writers must serialize
// externally.
type Buffer struct {
	parts    []RequestPart
	elements int
	octets   int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends a part and updates the element and octet accounting.
func (b *Buffer) Add(part RequestPart) {
	b.parts = append(b.parts, part)
	b.elements += part.Elements()
	b.octets += part.Octets()
}

// Empty reports whether no parts are queued.
func (b *Buffer) Empty() bool {
	return len(b.parts) == 0
}

// Elements returns the accumulated operation count.
func (b *Buffer) Elements() int {
	return b.elements
}

// Octets returns the accumulated payload size in bytes.
func (b *Buffer) Octets() int {
	return b.octets
}

// ShouldFlush reports whether either configured threshold is met or
// exceeded. Checked after every append so a flush happens at the
// threshold, not a whole part past it.
func (b *Buffer) ShouldFlush(maxElements, maxOctets int) bool {
	if maxElements > 0 && b.elements >= maxElements {
		return true
	}
	if maxOctets > 0 && b.octets >= maxOctets {
		return true
	}
	return false
}

// LinesFor returns the operation lines queued for one dimension hash,
// in append order (FIFO within the partition). Nil lines are included
// so the caller can skip and report them.
func (b *Buffer) LinesFor(hash dimension.Hash) []Line {
	var lines []Line
	for _, part := range b.parts {
		if part.Hash == hash {
			lines = append(lines, part.Lines...)
		}
	}
	return lines
}

// DropHash removes all parts for one dimension hash and adjusts the
// accounting. Used when a partition was flushed but the cycle aborted
// before completing, so a retry does not resubmit it.
func (b *Buffer) DropHash(hash dimension.Hash) {
	kept := b.parts[:0]
	for _, part := range b.parts {
		if part.Hash == hash {
			b.elements -= part.Elements()
			b.octets -= part.Octets()
			continue
		}
		kept = append(kept, part)
	}
	b.parts = kept
}

// Reset clears the buffer.
func (b *Buffer) Reset() {
	b.parts = nil
	b.elements = 0
	b.octets = 0
}
