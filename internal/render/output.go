package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	StylesheetFile = "overlay.css"
	StateFile      = "overlay.json"
)

// WriteDir writes the stylesheet and the JSON state of s into dir. Each
// file is replaced atomically, so a reader never sees a partial file.
func WriteDir(dir string, s State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, StylesheetFile), []byte(s.Stylesheet())); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, StateFile), data)
}

// ReadState loads the state written by WriteDir.
func ReadState(dir string) (State, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse %s: %w", StateFile, err)
	}
	return s, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
