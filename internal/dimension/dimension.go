// Package dimension computes stable hashes for content dimension
// combinations and tracks the combinations seen during a flush cycle.
//
// A dimension is an axis of content variation (language, market, ...);
// a combination assigns one or more preference-ranked values to every
// axis. The hash of a combination is the partition key for bulk
// requests and part of the physical index name.
package dimension

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultHash is the hash used when no dimensions are configured.
const DefaultHash = Hash("default")

// hashCacheSize bounds the combination-to-hash memoization cache.
const hashCacheSize = 1024

// Hash is the stable short hash of a dimension combination.
type Hash string

// Combination maps a dimension name to its preference-ranked values.
// The first value is the most specific; later values are fallbacks.
type Combination map[string][]string

// Clone returns a deep copy of the combination.
func (c Combination) Clone() Combination {
	if c == nil {
		return nil
	}
	out := make(Combination, len(c))
	for name, values := range c {
		out[name] = append([]string(nil), values...)
	}
	return out
}

// Empty reports whether the combination carries no dimension values.
func (c Combination) Empty() bool {
	return len(c) == 0
}

// canonical returns a deterministic string form of the combination:
// dimension names sorted, values in preference order.
func (c Combination) canonical() string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(c[name], ","))
		b.WriteByte(';')
	}
	return b.String()
}

// String returns a human-readable form for logging.
func (c Combination) String() string {
	if c.Empty() {
		return "(none)"
	}
	return strings.TrimSuffix(c.canonical(), ";")
}

// Service hashes dimension combinations and keeps the registry of
// hashes observed since the last Reset. One Service instance belongs
// to one indexing session; callers must not share it across
// concurrent writers.
type Service struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, Hash]
	registry map[Hash]Combination
	order    []Hash
	current  Combination
}

// NewService creates a dimension service with an empty registry.
func NewService() *Service {
	cache, _ := lru.New[string, Hash](hashCacheSize)
	return &Service{
		cache:    cache,
		registry: make(map[Hash]Combination),
	}
}

// HashOf computes the stable hash of a combination without touching
// the registry. Pure: identical combinations always yield the same
// hash, across calls and process restarts.
func (s *Service) HashOf(c Combination) Hash {
	if c.Empty() {
		return DefaultHash
	}
	key := c.canonical()

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.cache.Get(key); ok {
		return h
	}
	sum := sha256.Sum256([]byte(key))
	h := Hash(hex.EncodeToString(sum[:])[:12])
	s.cache.Add(key, h)
	return h
}

// Record hashes the combination and registers it for the current
// flush cycle. Returns the hash.
func (s *Service) Record(c Combination) Hash {
	h := s.HashOf(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.registry[h]; !seen {
		s.registry[h] = c.Clone()
		s.order = append(s.order, h)
	}
	return h
}

// Registered returns the hashes recorded since the last Reset, in
// first-seen order. Flush iterates this to know which partitions
// exist and which dimension context to reactivate per partition.
func (s *Service) Registered() []Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hash(nil), s.order...)
}

// CombinationFor returns the combination recorded for a hash.
func (s *Service) CombinationFor(h Hash) (Combination, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.registry[h]
	return c.Clone(), ok
}

// Forget removes a single hash from the registry. Used when a
// partition has been flushed but the cycle aborts before completing.
func (s *Service) Forget(h Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registry[h]; !ok {
		return
	}
	delete(s.registry, h)
	for i, o := range s.order {
		if o == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Reset clears the registry. Called after every flush, success or
// failure, so a new cycle starts clean. The hash cache survives.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = make(map[Hash]Combination)
	s.order = nil
}

// SetCurrent reactivates a dimension context. The lifecycle manager
// reads the current combination when deriving index names during a
// partitioned flush.
func (s *Service) SetCurrent(c Combination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = c.Clone()
}

// Current returns the active dimension combination.
func (s *Service) Current() Combination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}
