package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okdaichi/overlaysync/internal/document"
)

// FileSnapshot persists the current document as a JSON file on disk.
// Suitable for a single relay that should survive restarts.
type FileSnapshot struct {
	Path string
}

// NewFileSnapshot creates a FileSnapshot that writes to the given path.
func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{Path: path}
}

// snapshotFile is the JSON structure written to disk.
type snapshotFile struct {
	SavedAt time.Time       `json:"saved_at"`
	Config  json.RawMessage `json:"config"`
}

// Save writes the document atomically (write-then-rename).
func (s *FileSnapshot) Save(doc document.Document) error {
	data, err := json.MarshalIndent(snapshotFile{
		SavedAt: time.Now().UTC(),
		Config:  doc.Raw(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads the document from the JSON file.
// Returns a zero Document if the file does not exist.
func (s *FileSnapshot) Load() (document.Document, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return document.Document{}, nil
		}
		return document.Document{}, fmt.Errorf("read snapshot file: %w", err)
	}

	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return document.Document{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if len(sf.Config) == 0 || string(sf.Config) == "null" {
		return document.Document{}, nil
	}

	doc, err := document.Parse(sf.Config)
	if err != nil {
		return document.Document{}, fmt.Errorf("snapshot document: %w", err)
	}
	return doc, nil
}
