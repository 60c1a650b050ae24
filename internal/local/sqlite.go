package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okdaichi/overlaysync/internal/document"
	_ "modernc.org/sqlite"
)

// SQLiteSlot keeps the slot in a SQLite key/value table. Several processes
// can share the database file.
type SQLiteSlot struct {
	conn *sql.DB
	key  string
}

// OpenSQLiteSlot opens (or creates) the database at dbPath.
func OpenSQLiteSlot(dbPath string) (*SQLiteSlot, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	conn.SetMaxOpenConns(1)

	s := &SQLiteSlot{conn: conn, key: SlotKey}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSlot) migrate() error {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS slots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *SQLiteSlot) Load(ctx context.Context) (document.Document, bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM slots WHERE key = ?`, s.key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return document.Document{}, false, nil
		}
		return document.Document{}, false, fmt.Errorf("query slot: %w", err)
	}

	doc, err := document.Parse([]byte(value))
	if err != nil {
		return document.Document{}, false, fmt.Errorf("slot %s: %w", s.key, err)
	}
	return doc, true, nil
}

func (s *SQLiteSlot) Store(ctx context.Context, doc document.Document) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO slots (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, string(doc.Raw()),
	)
	if err != nil {
		return fmt.Errorf("store slot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteSlot) Close() error {
	return s.conn.Close()
}
