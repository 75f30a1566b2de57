package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlstore"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var Dialect = sqlstore.Dialect{
	Name:           "postgres",
	NumberedParams: true,
	UpsertFile: `ON CONFLICT (report_id, file_path) DO UPDATE SET
 file_classification = EXCLUDED.file_classification,
 size = EXCLUDED.size,
 total_chunks = EXCLUDED.total_chunks,
 processed_chunks = 0,
 file_status = EXCLUDED.file_status,
 last_chunk_position = 0,
 file_analysis = NULL,
 updated_at = EXCLUDED.updated_at`,
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
  repository_info  JSONB,
  scan_results     JSONB,
  error_log        TEXT NOT NULL DEFAULT '',
  archive_url      TEXT NOT NULL DEFAULT '',
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL,
  completed_at     TIMESTAMPTZ
)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_reports_repo ON scan_reports (repo_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_reports_status ON scan_reports (status, updated_at)`, `
CREATE TABLE IF NOT EXISTS file_scan_progress (
  report_id            TEXT NOT NULL REFERENCES scan_reports (report_id) ON DELETE CASCADE,
  file_path            TEXT NOT NULL,
  file_classification  TEXT NOT NULL,
  size                 BIGINT NOT NULL DEFAULT 0,
  total_chunks         INTEGER NOT NULL DEFAULT 0,
  processed_chunks     INTEGER NOT NULL DEFAULT 0,
  file_status          TEXT NOT NULL,
  last_chunk_position  INTEGER NOT NULL DEFAULT 0,
  file_analysis        JSONB,
  created_at           TIMESTAMPTZ NOT NULL,
  updated_at           TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (report_id, file_path)
)`,
	},
}
