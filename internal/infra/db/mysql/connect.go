package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/bryanwahyu/automaton-reposcan/internal/infra/db/sqlstore"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Dialect of MySQL 8. The DSN must carry parseTime=true and
// clientFoundRows=true.
var Dialect = sqlstore.Dialect{
	Name: "mysql",
	UpsertFile: `ON DUPLICATE KEY UPDATE
 file_classification=VALUES(file_classification), size=VALUES(size),
 total_chunks=VALUES(total_chunks), processed_chunks=0,
 file_status=VALUES(file_status), last_chunk_position=0,
 file_analysis=NULL, updated_at=VALUES(updated_at)`,
	Schema: []string{`
CREATE TABLE IF NOT EXISTS scan_reports (
  report_id        VARCHAR(128) NOT NULL PRIMARY KEY,
  repo_id          VARCHAR(255) NOT NULL,
  repo_url         TEXT NOT NULL,
  branch           VARCHAR(255) NOT NULL,
  scan_type        VARCHAR(32) NOT NULL,
  status           VARCHAR(32) NOT NULL,
  total_files      INT NOT NULL DEFAULT 0,
  processed_files  INT NOT NULL DEFAULT 0,
  repository_info  LONGTEXT,
  scan_results     LONGTEXT,
  error_log        TEXT NOT NULL,
  archive_url      TEXT NOT NULL,
  created_at       DATETIME(6) NOT NULL,
  updated_at       DATETIME(6) NOT NULL,
  completed_at     DATETIME(6) NULL,
  INDEX idx_scan_reports_repo (repo_id, created_at),
  INDEX idx_scan_reports_status (status, updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS file_scan_progress (
  report_id            VARCHAR(128) NOT NULL,
  file_path            VARCHAR(512) NOT NULL,
  file_classification  VARCHAR(32) NOT NULL,
  size                 BIGINT NOT NULL DEFAULT 0,
  total_chunks         INT NOT NULL DEFAULT 0,
  processed_chunks     INT NOT NULL DEFAULT 0,
  file_status          VARCHAR(32) NOT NULL,
  last_chunk_position  INT NOT NULL DEFAULT 0,
  file_analysis        LONGTEXT NULL,
  created_at           DATETIME(6) NOT NULL,
  updated_at           DATETIME(6) NOT NULL,
  PRIMARY KEY (report_id, file_path),
  CONSTRAINT fk_progress_report FOREIGN KEY (report_id) REFERENCES scan_reports (report_id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}
