package bulk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// DiagnosticWriter persists failing bulk request fragments together
// with the engine's response for offline postmortem. This is a
// debugging aid, not part of the steady-state contract.
type DiagnosticWriter struct {
	dir string
	now func() time.Time
}

// NewDiagnosticWriter writes diagnostics below dir. An empty dir
// disables writing.
func NewDiagnosticWriter(dir string) *DiagnosticWriter {
	return &DiagnosticWriter{dir: dir, now: time.Now}
}

// diagnosticArtifact is the on-disk JSON layout.
type diagnosticArtifact struct {
	Timestamp string          `json:"timestamp"`
	Index     string          `json:"index"`
	Request   string          `json:"request"`
	Response  json.RawMessage `json:"response"`
}

// Write stores one failure artifact and returns its path.
func (w *DiagnosticWriter) Write(index string, request []byte, response []byte) (string, error) {
	if w.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", crerrors.Wrap(crerrors.ErrCodeDiagnosticWrite,
			fmt.Errorf("failed to create diagnostics directory: %w", err))
	}

	now := w.now()
	name := fmt.Sprintf("bulk-error-%s.json", now.Format("20060102-150405.000000000"))
	path := filepath.Join(w.dir, name)

	if !json.Valid(response) {
		encoded, _ := json.Marshal(string(response))
		response = encoded
	}
	artifact := diagnosticArtifact{
		Timestamp: now.Format(time.RFC3339Nano),
		Index:     index,
		Request:   string(request),
		Response:  response,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", crerrors.Wrap(crerrors.ErrCodeDiagnosticWrite,
			fmt.Errorf("failed to encode diagnostic artifact: %w", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", crerrors.Wrap(crerrors.ErrCodeDiagnosticWrite,
			fmt.Errorf("failed to write diagnostic artifact: %w", err))
	}
	return path, nil
}
