package scans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/bryanwahyu/automaton-reposcan/internal/application"
	appai "github.com/bryanwahyu/automaton-reposcan/internal/application/ai"
	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

// Analyzer is the retrying analysis client.
type Analyzer interface {
	Analyze(ctx context.Context, req appai.Request) (appai.Result, error)
	AnalyzeSnippet(ctx context.Context, code string, dependencies any) (string, error)
}

const (
	DefaultMaxTokensPerRequest = 25000
	DefaultChunkSize           = 6000
	DefaultFileDelay           = 5 * time.Second
	DefaultChunkDelay          = 3 * time.Second
	DefaultBranch              = "main"
)

// Config tunes the per-file pipeline.
type Config struct {
	// Files estimated above this many tokens are split into chunks.
	MaxTokensPerRequest int
	// ChunkSize in bytes, aligned down to a rune boundary.
	ChunkSize     int
	TokensPerChar float64
	FileDelay     time.Duration
	ChunkDelay    time.Duration
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.MaxTokensPerRequest <= 0 {
		c.MaxTokensPerRequest = DefaultMaxTokensPerRequest
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.TokensPerChar <= 0 {
		c.TokensPerChar = domain.DefaultTokensPerChar
	}
	if c.FileDelay < 0 {
		c.FileDelay = 0
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	return c
}

// Service implements the scan use cases. It is safe for concurrent use.
type Service struct {
	Repo     domain.Repository
	Source   domain.Source
	Analyzer Analyzer
	// Archive is optional.
	Archive domain.ArchiveStore
	Clock   application.Clock
	Jobs    *Jobs
	Config  Config
}

//
// ==== USE CASES ====
//

// StartScanCommand requests a scan of one repository branch.
type StartScanCommand struct {
	RepoURL  string
	Branch   string
	ScanType string
}

type StartScanResult struct {
	ReportID    domain.ReportID `json:"report_id"`
	RepoID      string          `json:"repo_id"`
	ScanType    domain.ScanKind `json:"scan_type"`
	Status      domain.Status   `json:"status"`
	FilesToScan int             `json:"files_to_scan"`
	Message     string          `json:"message"`
}

// StartScan validates the request, clones and lists the repository, creates
// the report and processes it in the background. Nothing is persisted when
// validation or retrieval fails.
func (s *Service) StartScan(ctx context.Context, cmd StartScanCommand) (StartScanResult, error) {
	scanType := cmd.ScanType
	if scanType == "" {
		scanType = string(domain.ScanComplete)
	}
	kind, err := domain.ParseScanKind(scanType)
	if err != nil {
		return StartScanResult{}, err
	}
	repoURL := strings.TrimSpace(cmd.RepoURL)
	if repoURL == "" {
		return StartScanResult{}, fmt.Errorf("%w: repo_url is required", domain.ErrInvalidRequest)
	}
	branch := strings.TrimSpace(cmd.Branch)
	if branch == "" {
		branch = DefaultBranch
	}

	repoID, err := s.Source.Clone(ctx, repoURL, branch)
	if err != nil {
		return StartScanResult{}, fmt.Errorf("clone %s: %w", repoURL, err)
	}
	tree, err := s.Source.Tree(ctx, repoID)
	if err != nil {
		return StartScanResult{}, fmt.Errorf("list %s: %w", repoID, err)
	}
	files := domain.Prioritize(domain.FilesForScan(tree.Structure, kind))

	now := s.Clock.Now()
	rep := &domain.ScanReport{
		ID:             domain.NewReportID(now, repoID, kind),
		RepoID:         repoID,
		RepoURL:        repoURL,
		Branch:         branch,
		Kind:           kind,
		Status:         domain.StatusInProgress,
		TotalFiles:     len(files),
		RepositoryInfo: tree.Info,
		Results:        map[string]domain.FileResult{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.CreateReport(ctx, rep); err != nil {
		return StartScanResult{}, err
	}
	if err := s.Jobs.Start(rep.ID, func(ctx context.Context) { s.run(ctx, rep, files, modeScan) }); err != nil {
		s.fail(context.WithoutCancel(ctx), rep.ID, err.Error())
		return StartScanResult{}, err
	}
	logg.Info("report %s started: %s@%s, %d %s files", rep.ID, repoURL, branch, len(files), kind)

	return StartScanResult{
		ReportID:    rep.ID,
		RepoID:      repoID,
		ScanType:    kind,
		Status:      domain.StatusInProgress,
		FilesToScan: len(files),
		Message:     fmt.Sprintf("%s scan started in background", kind),
	}, nil
}

// ReportView is a report with its per-file rows and derived figures.
type ReportView struct {
	*domain.ScanReport
	ProgressPercentage int                    `json:"progress_percentage"`
	Vulnerabilities    domain.SeverityCounts  `json:"vulnerability_count"`
	Files              []*domain.FileProgress `json:"files,omitempty"`
}

// GetReport returns the full report with progress and file rows.
func (s *Service) GetReport(ctx context.Context, id domain.ReportID) (*ReportView, error) {
	rep, err := s.Repo.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := s.Repo.ListFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReportView{
		ScanReport:         rep,
		ProgressPercentage: rep.Percentage(),
		Vulnerabilities:    rep.Severities(),
		Files:              files,
	}, nil
}

// GetSummary returns the report without per-file results.
func (s *Service) GetSummary(ctx context.Context, id domain.ReportID) (*ReportView, error) {
	rep, err := s.Repo.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	counts := rep.Severities()
	rep.Results = nil
	return &ReportView{ScanReport: rep, ProgressPercentage: rep.Percentage(), Vulnerabilities: counts}, nil
}

// ListReports returns reports newest first.
func (s *Service) ListReports(ctx context.Context, f domain.ReportFilter) ([]*domain.ScanReport, error) {
	return s.Repo.ListReports(ctx, f)
}

type RetryResult struct {
	ReportID    domain.ReportID `json:"report_id"`
	FailedFiles int             `json:"failed_files"`
	Message     string          `json:"message"`
}

// RetryFailed reprocesses the failed files of a terminal report in the
// background. A report without failed files is left untouched.
func (s *Service) RetryFailed(ctx context.Context, id domain.ReportID) (RetryResult, error) {
	rep, err := s.Repo.GetReport(ctx, id)
	if err != nil {
		return RetryResult{}, err
	}
	if !rep.Status.Terminal() || s.Jobs.Running(id) {
		return RetryResult{}, domain.ErrNotRetryable
	}
	rows, err := s.Repo.ListFiles(ctx, id)
	if err != nil {
		return RetryResult{}, err
	}
	files := failedFiles(rep, rows)
	if len(files) == 0 {
		return RetryResult{ReportID: id, Message: "No failed files to retry"}, nil
	}

	if err := s.Repo.UpdateReport(ctx, id, domain.ReopenReport{}); err != nil {
		return RetryResult{}, err
	}
	rep.Status = domain.StatusInProgress
	if err := s.Jobs.Start(id, func(ctx context.Context) { s.run(ctx, rep, files, modeRetry) }); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return RetryResult{}, domain.ErrNotRetryable
		}
		s.fail(context.WithoutCancel(ctx), id, err.Error())
		return RetryResult{}, err
	}
	logg.Info("report %s: retrying %d failed files", id, len(files))
	return RetryResult{
		ReportID:    id,
		FailedFiles: len(files),
		Message:     fmt.Sprintf("Retrying %d failed files", len(files)),
	}, nil
}

// failedFiles collects paths whose row failed, or whose row or aggregate
// entry carries a file or chunk error, in processing order.
func failedFiles(rep *domain.ScanReport, rows []*domain.FileProgress) []domain.FileEntry {
	byPath := make(map[string]*domain.FileProgress, len(rows))
	seen := make(map[string]bool)
	var out []domain.FileEntry
	add := func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		e := domain.FileEntry{Path: path, Classification: domain.Classify(path)}
		if row := byPath[path]; row != nil {
			e.Classification = row.Classification
			e.Size = row.Size
		}
		out = append(out, e)
	}
	for _, row := range rows {
		byPath[row.FilePath] = row
	}
	for _, row := range rows {
		if row.Status == domain.FileFailed || (row.Result != nil && row.Result.Failed()) {
			add(row.FilePath)
		}
	}
	for _, p := range rep.FailedPaths() {
		add(p)
	}
	return domain.Prioritize(out)
}

// Abort cancels a running report. A report left in_progress without a live
// job (for example after a crash) is marked failed directly.
func (s *Service) Abort(ctx context.Context, id domain.ReportID) error {
	rep, err := s.Repo.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if rep.Status.Terminal() {
		return domain.ErrNotRunning
	}
	if s.Jobs.Abort(id) {
		return nil
	}
	return s.Repo.UpdateReport(ctx, id, domain.FailReport{ErrorLog: domain.ErrAborted.Error(), At: s.Clock.Now()})
}

// Resume continues an in_progress report that no live job owns.
func (s *Service) Resume(ctx context.Context, id domain.ReportID) error {
	rep, err := s.Repo.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if rep.Status != domain.StatusInProgress {
		return fmt.Errorf("report %s is %s: %w", id, rep.Status, domain.ErrNotRunning)
	}
	if s.Jobs.Running(id) {
		return ErrAlreadyRunning
	}
	return s.Jobs.Start(id, func(ctx context.Context) {
		tree, err := s.Source.Tree(ctx, rep.RepoID)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(context.WithoutCancel(ctx), id, fmt.Sprintf("resume: %s", err.Error()))
			}
			return
		}
		files := domain.Prioritize(domain.FilesForScan(tree.Structure, rep.Kind))
		reportsResumed.Inc()
		logg.Info("report %s: resuming with %d candidate files", id, len(files))
		s.run(ctx, rep, files, modeResume)
	})
}

// AnalyzeSnippet analyzes code and/or dependencies without a repository.
func (s *Service) AnalyzeSnippet(ctx context.Context, code string, dependencies any) (string, error) {
	if strings.TrimSpace(code) == "" && dependencies == nil {
		return "", fmt.Errorf("%w: code or dependencies is required", domain.ErrInvalidRequest)
	}
	out, err := s.Analyzer.AnalyzeSnippet(ctx, code, dependencies)
	if err != nil {
		return "", fmt.Errorf("analysis failed: %w", err)
	}
	return out, nil
}

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrInvalidScanKind)
}
