package backup

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/kebairia/contentbackup/internal/archive"
)

// ManifestEntry is the archive entry the engine writes next to contributor
// content. Contributors never see it.
const ManifestEntry = "manifest.json"

// ContributorStatus records how one contributor fared for an archive.
type ContributorStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Manifest describes a single archive.
type Manifest struct {
	ID           string              `json:"id"`
	Rule         string              `json:"rule"`
	Archive      string              `json:"archive"`
	CreatedAt    time.Time           `json:"created_at"`
	DurationMS   int64               `json:"duration_ms"`
	Contributors []ContributorStatus `json:"contributors"`
}

// Write stores the manifest in ar.
func (m *Manifest) Write(ar *archive.Archive) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := ar.WriteFile(ManifestEntry, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest decodes the manifest of an archive opened for reading.
func ReadManifest(ar *archive.Archive) (*Manifest, error) {
	data, err := ar.ReadFile(ManifestEntry)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
