package bulk

import (
	"log/slog"
	"sync"
	"time"

	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// ErrorRecord is one aggregated per-item failure.
type ErrorRecord struct {
	Time    time.Time
	Code    string
	Message string
	Details map[string]string
}

// Sink aggregates per-item errors during an indexing session.
// Per-item failures are reported here and logged, never thrown;
// callers check HasErrors to detect degraded-but-completed runs.
type Sink struct {
	mu      sync.Mutex
	records []ErrorRecord
	log     *slog.Logger
}

// NewSink creates an empty error sink.
func NewSink(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log}
}

// Record logs and stores a typed error record.
func (s *Sink) Record(err *crerrors.IndexError) {
	if err == nil {
		return
	}
	rec := ErrorRecord{
		Time:    time.Now(),
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	attrs := []any{slog.String("code", err.Code)}
	for k, v := range err.Details {
		attrs = append(attrs, slog.String(k, v))
	}
	if err.Severity == crerrors.SeverityWarning {
		s.log.Warn(err.Message, attrs...)
		return
	}
	s.log.Error(err.Message, attrs...)
}

// HasErrors reports whether any error has been recorded.
func (s *Sink) HasErrors() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records) > 0
}

// Records returns a copy of all recorded errors.
func (s *Sink) Records() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorRecord(nil), s.records...)
}

// Count returns the number of recorded errors.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reset clears all recorded errors for a new session.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
