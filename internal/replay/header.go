package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the layout of header.json.
const HeaderSchemaVersion = 1

// TuningParameters snapshots the flat plane tuning the session started with.
type TuningParameters map[string]float64

// Clone copies the map so the header never aliases live tuning.
func (p TuningParameters) Clone() TuningParameters {
	if len(p) == 0 {
		return nil
	}
	clone := make(TuningParameters, len(p))
	for key, value := range p {
		clone[key] = value
	}
	return clone
}

// Header describes a finished session bundle for catalogue tooling.
type Header struct {
	SchemaVersion int              `json:"schema_version"`
	SessionID     string           `json:"session_id"`
	ArenaName     string           `json:"arena_name,omitempty"`
	Tuning        TuningParameters `json:"tuning,omitempty"`
	Frames        int64            `json:"frames"`
	Events        int64            `json:"events"`
	FilePointer   string           `json:"file_pointer"`
}

// Validate ensures the header carries enough to locate the bundle.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.SessionID) == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists header at path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and validates a header.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
