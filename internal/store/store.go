// Package store holds the single most-recent Configuration Document for the
// lifetime of the relay process.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/okdaichi/overlaysync/internal/document"
)

// Snapshotter persists the current document outside the process.
// Implementations can target files, databases, etc.
type Snapshotter interface {
	// Save persists doc, replacing any previous snapshot.
	Save(doc document.Document) error

	// Load restores the last snapshot. Returns a zero Document and no error
	// if nothing has been saved yet.
	Load() (document.Document, error)
}

// Store is the Document Store. The zero value is not usable; call New.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	current   document.Document
	updatedAt time.Time
	version   uint64

	snapshotter Snapshotter
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotter makes the store persist every replacement with s and
// restore from it on creation.
func WithSnapshotter(s Snapshotter) Option {
	return func(st *Store) { st.snapshotter = s }
}

// New creates an empty store. If a Snapshotter is configured its last
// snapshot becomes the current document.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}

	if s.snapshotter != nil {
		doc, err := s.snapshotter.Load()
		switch {
		case err != nil:
			slog.Warn("failed to restore document snapshot", "error", err)
		case !doc.IsZero():
			s.current = doc
			s.updatedAt = time.Now()
			slog.Info("restored document snapshot", "fingerprint", doc.Fingerprint()[:12])
		}
	}

	return s
}

// Current returns the stored document and whether one exists.
func (s *Store) Current() (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current, !s.current.IsZero()
}

// Replace atomically overwrites the stored document and returns the new
// version number. A zero doc is ignored: the document is never deleted.
func (s *Store) Replace(doc document.Document) uint64 {
	if doc.IsZero() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.version
	}

	s.mu.Lock()
	s.current = doc
	s.updatedAt = time.Now()
	s.version++
	version := s.version
	s.mu.Unlock()

	if s.snapshotter != nil {
		if err := s.snapshotter.Save(doc); err != nil {
			slog.Warn("failed to persist document snapshot", "error", err)
		}
	}

	return version
}

// Version returns the number of successful replacements since start.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

// UpdatedAt returns when the current document was stored, or the zero time.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.updatedAt
}
