package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactKind names a subdirectory of run artifacts.
type ArtifactKind string

const (
	KindRuns    ArtifactKind = "runs"
	KindReports ArtifactKind = "reports"
)

// Artifacts stores timestamped files per kind under a base directory.
type Artifacts struct {
	dir string
	now func() time.Time
}

// NewArtifacts returns an Artifacts rooted at dir.
func NewArtifacts(dir string) *Artifacts {
	return &Artifacts{dir: dir, now: time.Now}
}

// Dir returns the directory for a kind.
func (a *Artifacts) Dir(kind ArtifactKind) string {
	return filepath.Join(a.dir, string(kind))
}

// generateFilename creates a timestamped filename with the given extension.
func (a *Artifacts) generateFilename(ext string) string {
	return a.now().Format("2006-01-02T15-04-05.000") + ext
}

// SaveJSON saves JSON-serializable data to the kind's directory.
// Returns the path to the saved file.
func SaveJSON[T any](a *Artifacts, kind ArtifactKind, data T) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
	}
	return a.SaveText(kind, string(jsonData), ".json")
}

// SaveText saves text content (e.g., HTML) to the kind's directory.
// Returns the path to the saved file.
func (a *Artifacts) SaveText(kind ArtifactKind, content string, ext string) (string, error) {
	dir := a.Dir(kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s dir: %w", kind, err)
	}

	path := filepath.Join(dir, a.generateFilename(ext))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s artifact: %w", kind, err)
	}
	return path, nil
}

// LoadJSON loads JSON data from a specific file path.
func LoadJSON[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read artifact: %w", err)
	}
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}
	return data, nil
}

// Latest returns the path to the most recent file of a kind with the given
// extension.
func (a *Artifacts) Latest(kind ArtifactKind, ext string) (string, error) {
	dir := a.Dir(kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no %s artifacts yet", kind)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ext {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no %s artifacts yet", kind)
	}
	return filepath.Join(dir, latest), nil
}
