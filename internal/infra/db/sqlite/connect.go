// Package sqlite provides the embedded progress store used for local runs
// and tests.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlstore"
)

const driverName = "sqlite"

// Open opens the database at path (":memory:" for a private in-memory db).
func Open(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_time_format=sqlite&_pragma=foreign_keys(1)"
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// single writer; also keeps an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	UpsertFile: `ON CONFLICT (report_id, file_path) DO UPDATE SET
 file_classification = excluded.file_classification,
 size = excluded.size,
 total_chunks = excluded.total_chunks,
 processed_chunks = 0,
 file_status = excluded.file_status,
 last_chunk_position = 0,
 file_analysis = NULL,
 updated_at = excluded.updated_at`,
	Schema: []string{`
CREATE TABLE IF NOT EXISTS scan_reports (
  report_id        TEXT PRIMARY KEY,
  repo_id          TEXT NOT NULL,
  repo_url         TEXT NOT NULL,
  branch           TEXT NOT NULL,
  scan_type        TEXT NOT NULL,
  status           TEXT NOT NULL,
  total_files      INTEGER NOT NULL DEFAULT 0,
  processed_files  INTEGER NOT NULL DEFAULT 0,
  repository_info  TEXT,
  scan_results     TEXT,
  error_log        TEXT NOT NULL DEFAULT '',
  archive_url      TEXT NOT NULL DEFAULT '',
  created_at       DATETIME NOT NULL,
  updated_at       DATETIME NOT NULL,
  completed_at     DATETIME
)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_reports_repo ON scan_reports (repo_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_reports_status ON scan_reports (status, updated_at)`, `
CREATE TABLE IF NOT EXISTS file_scan_progress (
  report_id            TEXT NOT NULL REFERENCES scan_reports (report_id) ON DELETE CASCADE,
  file_path            TEXT NOT NULL,
  file_classification  TEXT NOT NULL,
  size                 INTEGER NOT NULL DEFAULT 0,
  total_chunks         INTEGER NOT NULL DEFAULT 0,
  processed_chunks     INTEGER NOT NULL DEFAULT 0,
  file_status          TEXT NOT NULL,
  last_chunk_position  INTEGER NOT NULL DEFAULT 0,
  file_analysis        TEXT,
  created_at           DATETIME NOT NULL,
  updated_at           DATETIME NOT NULL,
  PRIMARY KEY (report_id, file_path)
)`,
	},
}
