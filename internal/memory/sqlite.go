package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"mindincarnation/internal/logging"
)

// SQLite is the sqlite_fts backend at $MI_HOME/indexes/memory.sqlite.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the index database.
func OpenSQLite(path string) (*SQLite, error) {
	logging.Memory("opening memory index at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.MemoryDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.MemoryDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			ref UNINDEXED,
			project_id UNINDEXED,
			kind UNINDEXED,
			ts UNINDEXED,
			tags,
			text
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize memory schema: %w", err)
	}
	return nil
}

// Index implements Backend.
func (s *SQLite) Index(item Item) error {
	_, err := s.db.Exec(
		`INSERT INTO memory_fts (ref, project_id, kind, ts, tags, text) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Ref, item.ProjectID, item.Kind, item.TS, item.Tags, item.Text)
	if err != nil {
		return fmt.Errorf("memory index insert failed: %w", err)
	}
	return nil
}

// Search implements Backend via an FTS MATCH query. Query terms are quoted
// so free-form user questions don't hit FTS syntax errors.
func (s *SQLite) Search(query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT ref, project_id, kind, ts, tags, text
		 FROM memory_fts WHERE memory_fts MATCH ?
		 ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Ref, &it.ProjectID, &it.Kind, &it.TS, &it.Tags, &it.Text); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an OR of quoted terms.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, "")+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Close implements Backend.
func (s *SQLite) Close() error {
	return s.db.Close()
}
