package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

const defaultListLimit = 50

const reportColumns = `report_id, repo_id, repo_url, branch, scan_type, status,
       total_files, processed_files, repository_info, scan_results,
       error_log, archive_url, created_at, updated_at, completed_at`

const fileColumns = `report_id, file_path, file_classification, size, total_chunks,
       processed_chunks, file_status, last_chunk_position, file_analysis,
       created_at, updated_at`

type Repository struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

func NewRepository(db *sql.DB, d Dialect) *Repository {
	return &Repository{db: db, d: d, now: time.Now}
}

func (r *Repository) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.d.rebind(q), args...)
}

func (r *Repository) stamp() time.Time { return r.now().UTC() }

// CreateReport inserts a new report row.
func (r *Repository) CreateReport(ctx context.Context, rep *domain.ScanReport) error {
	info, err := json.Marshal(rep.RepositoryInfo)
	if err != nil {
		return err
	}
	results, err := marshalResults(rep.Results)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO scan_reports
(report_id, repo_id, repo_url, branch, scan_type, status,
 total_files, processed_files, repository_info, scan_results,
 error_log, archive_url, created_at, updated_at, completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = r.exec(ctx, q,
		rep.ID, rep.RepoID, rep.RepoURL, rep.Branch, rep.Kind, rep.Status,
		rep.TotalFiles, rep.ProcessedFiles, string(info), results,
		rep.ErrorLog, rep.ArchiveURL, rep.CreatedAt.UTC(), rep.UpdatedAt.UTC(), nullTime(rep.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", rep.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*domain.ScanReport, error) {
	var (
		rep       domain.ScanReport
		info      sql.NullString
		results   sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(
		&rep.ID, &rep.RepoID, &rep.RepoURL, &rep.Branch, &rep.Kind, &rep.Status,
		&rep.TotalFiles, &rep.ProcessedFiles, &info, &results,
		&rep.ErrorLog, &rep.ArchiveURL, &rep.CreatedAt, &rep.UpdatedAt, &completed,
	); err != nil {
		return nil, err
	}
	if info.Valid && info.String != "" {
		if err := json.Unmarshal([]byte(info.String), &rep.RepositoryInfo); err != nil {
			return nil, fmt.Errorf("decode repository_info of %s: %w", rep.ID, err)
		}
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &rep.Results); err != nil {
			return nil, fmt.Errorf("decode scan_results of %s: %w", rep.ID, err)
		}
	}
	if completed.Valid {
		t := completed.Time
		rep.CompletedAt = &t
	}
	return &rep, nil
}

func (r *Repository) GetReport(ctx context.Context, id domain.ReportID) (*domain.ScanReport, error) {
	q := r.d.rebind(`SELECT ` + reportColumns + ` FROM scan_reports WHERE report_id=?`)
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReportNotFound
	}
	return rep, err
}

// ListReports returns reports newest first.
func (r *Repository) ListReports(ctx context.Context, f domain.ReportFilter) ([]*domain.ScanReport, error) {
	var (
		where []string
		args  []any
	)
	if f.RepoID != "" {
		where = append(where, "repo_id=?")
		args = append(args, f.RepoID)
	}
	if f.Kind != "" {
		where = append(where, "scan_type=?")
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `SELECT ` + reportColumns + ` FROM scan_reports`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, report_id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryReports(ctx, q, args...)
}

func (r *Repository) queryReports(ctx context.Context, q string, args ...any) ([]*domain.ScanReport, error) {
	rows, err := r.db.QueryContext(ctx, r.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScanReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// UpdateReport applies one report command as a single statement.
func (r *Repository) UpdateReport(ctx context.Context, id domain.ReportID, u domain.ReportUpdate) error {
	var (
		res sql.Result
		err error
	)
	switch u := u.(type) {
	case domain.ReopenReport:
		res, err = r.exec(ctx, `
UPDATE scan_reports SET status=?, error_log='', completed_at=NULL, updated_at=?
WHERE report_id=?`, domain.StatusInProgress, r.stamp(), id)
	case domain.FinishReport:
		var results string
		if results, err = marshalResults(u.Results); err != nil {
			return err
		}
		res, err = r.exec(ctx, `
UPDATE scan_reports SET status=?, scan_results=?,
 processed_files = CASE WHEN processed_files < ? THEN ? ELSE processed_files END,
 completed_at=?, updated_at=?
WHERE report_id=?`, u.Status, results, u.ProcessedFiles, u.ProcessedFiles, u.At.UTC(), u.At.UTC(), id)
	case domain.FailReport:
		res, err = r.exec(ctx, `
UPDATE scan_reports SET status=?, error_log=?, completed_at=?, updated_at=?
WHERE report_id=?`, domain.StatusFailed, u.ErrorLog, u.At.UTC(), u.At.UTC(), id)
	case domain.SetArchiveURL:
		res, err = r.exec(ctx, `UPDATE scan_reports SET archive_url=? WHERE report_id=?`, u.URL, id)
	default:
		return fmt.Errorf("unsupported report update %T", u)
	}
	if err != nil {
		return fmt.Errorf("update report %s: %w", id, err)
	}
	return mustAffect(res, domain.ErrReportNotFound)
}

// IncrementProcessed never moves processed_files past total_files. A capped
// row is not an error.
func (r *Repository) IncrementProcessed(ctx context.Context, id domain.ReportID) error {
	res, err := r.exec(ctx, `
UPDATE scan_reports SET processed_files = processed_files + 1, updated_at=?
WHERE report_id=? AND processed_files < total_files`, r.stamp(), id)
	if err != nil {
		return fmt.Errorf("increment processed of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetReport(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) StaleReports(ctx context.Context, before time.Time) ([]*domain.ScanReport, error) {
	return r.queryReports(ctx, `SELECT `+reportColumns+` FROM scan_reports
WHERE status=? AND updated_at < ? ORDER BY created_at`, domain.StatusInProgress, before.UTC())
}

// BeginFile inserts the progress row as pending, or resets an existing row.
func (r *Repository) BeginFile(ctx context.Context, fp *domain.FileProgress) error {
	now := r.stamp()
	q := `
INSERT INTO file_scan_progress
(report_id, file_path, file_classification, size, total_chunks,
 processed_chunks, file_status, last_chunk_position, file_analysis,
 created_at, updated_at)
VALUES (?,?,?,?,?,0,?,0,NULL,?,?)
` + r.d.UpsertFile
	_, err := r.exec(ctx, q,
		fp.ReportID, fp.FilePath, fp.Classification, fp.Size, fp.TotalChunks,
		domain.FilePending, now, now,
	)
	if err != nil {
		return fmt.Errorf("begin file %s: %w", fp.FilePath, err)
	}
	return nil
}

func scanFile(row scanner) (*domain.FileProgress, error) {
	var (
		fp       domain.FileProgress
		analysis sql.NullString
	)
	if err := row.Scan(
		&fp.ReportID, &fp.FilePath, &fp.Classification, &fp.Size, &fp.TotalChunks,
		&fp.ProcessedChunks, &fp.Status, &fp.LastChunkPosition, &analysis,
		&fp.CreatedAt, &fp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if analysis.Valid && analysis.String != "" {
		var res domain.FileResult
		if err := json.Unmarshal([]byte(analysis.String), &res); err != nil {
			return nil, fmt.Errorf("decode file_analysis of %s: %w", fp.FilePath, err)
		}
		fp.Result = &res
	}
	return &fp, nil
}

func (r *Repository) GetFile(ctx context.Context, id domain.ReportID, path string) (*domain.FileProgress, error) {
	q := r.d.rebind(`SELECT ` + fileColumns + ` FROM file_scan_progress WHERE report_id=? AND file_path=?`)
	fp, err := scanFile(r.db.QueryRowContext(ctx, q, id, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return fp, err
}

func (r *Repository) ListFiles(ctx context.Context, id domain.ReportID) ([]*domain.FileProgress, error) {
	q := r.d.rebind(`SELECT ` + fileColumns + ` FROM file_scan_progress WHERE report_id=? ORDER BY file_path`)
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.FileProgress
	for rows.Next() {
		fp, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// UpdateFile applies one file command as a single statement.
func (r *Repository) UpdateFile(ctx context.Context, id domain.ReportID, path string, u domain.FileUpdate) error {
	var (
		res sql.Result
		err error
	)
	now := r.stamp()
	switch u := u.(type) {
	case domain.StartFile:
		res, err = r.exec(ctx, `
UPDATE file_scan_progress SET file_status=?, total_chunks=?, size=?, updated_at=?
WHERE report_id=? AND file_path=?`, domain.FileInProgress, u.TotalChunks, u.Size, now, id, path)
	case domain.RecordChunk:
		var analysis string
		if analysis, err = marshalResult(u.Partial); err != nil {
			return err
		}
		res, err = r.exec(ctx, `
UPDATE file_scan_progress SET processed_chunks=?, last_chunk_position=?, file_analysis=?, updated_at=?
WHERE report_id=? AND file_path=?`, u.ProcessedChunks, u.LastChunkPosition, analysis, now, id, path)
	case domain.CompleteFile:
		var analysis string
		if analysis, err = marshalResult(u.Result); err != nil {
			return err
		}
		res, err = r.exec(ctx, `
UPDATE file_scan_progress SET file_status=?, processed_chunks=total_chunks, file_analysis=?, updated_at=?
WHERE report_id=? AND file_path=?`, domain.FileCompleted, analysis, now, id, path)
	case domain.FailFile:
		var analysis string
		if analysis, err = marshalResult(u.Result); err != nil {
			return err
		}
		res, err = r.exec(ctx, `
UPDATE file_scan_progress SET file_status=?, file_analysis=?, updated_at=?
WHERE report_id=? AND file_path=?`, domain.FileFailed, analysis, now, id, path)
	default:
		return fmt.Errorf("unsupported file update %T", u)
	}
	if err != nil {
		return fmt.Errorf("update file %s: %w", path, err)
	}
	return mustAffect(res, domain.ErrProgressNotFound)
}

func mustAffect(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func marshalResults(m map[string]domain.FileResult) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode scan_results: %w", err)
	}
	return string(b), nil
}

func marshalResult(res domain.FileResult) (string, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode file_analysis: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
