package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/okdaichi/overlaysync/internal/document"
)

// SlotKey names the single well-known slot.
const SlotKey = "outputConfig"

// Slot is one shared-storage slot holding the serialized document. Shared
// storage has no change notification; readers poll.
type Slot interface {
	// Load returns the stored document, false if the slot is empty.
	Load(ctx context.Context) (document.Document, bool, error)

	// Store overwrites the slot with doc.
	Store(ctx context.Context, doc document.Document) error

	Close() error
}

// SlotConfig selects a Slot implementation.
type SlotConfig struct {
	// Kind is "memory", "file" or "sqlite". Empty means "file".
	Kind string

	// Path is the file or database path for "file" and "sqlite".
	Path string
}

// DefaultSlotPath returns the per-user location used when no path is
// configured.
func DefaultSlotPath(kind string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "outputConfig.json"
	if kind == "sqlite" {
		name = "overlaysync.db"
	}
	return filepath.Join(dir, "overlaysync", name)
}

// OpenSlot opens the slot described by cfg.
func OpenSlot(cfg SlotConfig) (Slot, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "file"
	}
	path := cfg.Path
	if path == "" && kind != "memory" {
		path = DefaultSlotPath(kind)
	}

	switch kind {
	case "memory":
		return NewMemorySlot(), nil
	case "file":
		return NewFileSlot(path), nil
	case "sqlite":
		return OpenSQLiteSlot(path)
	default:
		return nil, fmt.Errorf("unknown slot kind %q", kind)
	}
}

// MemorySlot keeps the slot in process memory. Useful when every client
// lives in one process, and in tests.
type MemorySlot struct {
	mu  sync.RWMutex
	doc document.Document
}

func NewMemorySlot() *MemorySlot { return &MemorySlot{} }

func (s *MemorySlot) Load(context.Context) (document.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc, !s.doc.IsZero(), nil
}

func (s *MemorySlot) Store(_ context.Context, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	return nil
}

func (s *MemorySlot) Close() error { return nil }

// FileSlot stores the raw document in a file, so separate processes on one
// machine share it. Writes are atomic (write-then-rename).
type FileSlot struct {
	Path string
}

func NewFileSlot(path string) *FileSlot { return &FileSlot{Path: path} }

func (s *FileSlot) Load(context.Context) (document.Document, bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return document.Document{}, false, nil
		}
		return document.Document{}, false, fmt.Errorf("read slot: %w", err)
	}

	doc, err := document.Parse(data)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("slot %s: %w", s.Path, err)
	}
	return doc, true, nil
}

func (s *FileSlot) Store(_ context.Context, doc document.Document) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	// unique temp name: several processes may write concurrently
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(doc.Raw()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *FileSlot) Close() error { return nil }
