package scans

import (
	"context"
	"time"
)

// Repository port (interface untuk persistence)
type Repository interface {
	CreateReport(ctx context.Context, r *ScanReport) error
	GetReport(ctx context.Context, id ReportID) (*ScanReport, error)
	ListReports(ctx context.Context, f ReportFilter) ([]*ScanReport, error)
	UpdateReport(ctx context.Context, id ReportID, u ReportUpdate) error
	// IncrementProcessed bumps processed_files by one, never past total_files.
	IncrementProcessed(ctx context.Context, id ReportID) error
	// StaleReports lists in_progress reports not updated since before.
	StaleReports(ctx context.Context, before time.Time) ([]*ScanReport, error)

	// BeginFile creates the progress row, or resets an existing one, to pending.
	BeginFile(ctx context.Context, fp *FileProgress) error
	// GetFile returns nil, nil when no row exists.
	GetFile(ctx context.Context, id ReportID, path string) (*FileProgress, error)
	ListFiles(ctx context.Context, id ReportID) ([]*FileProgress, error)
	UpdateFile(ctx context.Context, id ReportID, path string, u FileUpdate) error
}

// Source port for the repository-retrieval service
type Source interface {
	Clone(ctx context.Context, repoURL, branch string) (string, error)
	Tree(ctx context.Context, repoID string) (*Tree, error)
	FetchFile(ctx context.Context, repoID, path string) (string, error)
}

// Tree is a listing of a cloned repository.
type Tree struct {
	Structure map[string]TreeNode
	Info      RepositoryInfo
}

// ArchiveStore port (interface untuk penyimpanan laporan)
type ArchiveStore interface {
	PutJSON(ctx context.Context, key string, data []byte) (string, error)
}
