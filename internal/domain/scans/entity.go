package scans

import (
	"time"
)

// ReportID identifies one scan request.
type ReportID string

// ScanKind enum
type ScanKind string

const (
	ScanComplete      ScanKind = "complete"
	ScanSBOM          ScanKind = "sbom"
	ScanVulnerability ScanKind = "vulnerability"
)

// ParseScanKind validates the external scan type name.
func ParseScanKind(s string) (ScanKind, error) {
	switch k := ScanKind(s); k {
	case ScanComplete, ScanSBOM, ScanVulnerability:
		return k, nil
	}
	return "", ErrInvalidScanKind
}

// Status enum for reports
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

// Terminal reports whether no further processing happens without a retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPartial
}

// FileStatus enum for per-file progress
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileInProgress FileStatus = "in_progress"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

func (s FileStatus) Terminal() bool {
	return s == FileCompleted || s == FileFailed
}

// SeverityCounts value object
type SeverityCounts struct {
	Critical int `json:"Critical"`
	High     int `json:"High"`
	Medium   int `json:"Medium"`
	Low      int `json:"Low"`
}

func (c *SeverityCounts) Add(o SeverityCounts) {
	c.Critical += o.Critical
	c.High += o.High
	c.Medium += o.Medium
	c.Low += o.Low
}

// RepositoryInfo is what the retrieval service reports about a cloned repo.
type RepositoryInfo struct {
	TotalLines int            `json:"total_lines"`
	FileTypes  map[string]int `json:"file_types,omitempty"`
	Languages  map[string]int `json:"languages,omitempty"`
}

// ChunkOutcome is the result of analyzing one slice of a file.
type ChunkOutcome struct {
	Index    int    `json:"index"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Analysis string `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// FileResult is the per-file outcome stored in the progress row and in the
// report aggregate.
type FileResult struct {
	FilePath string         `json:"file_path"`
	FileType Category       `json:"file_type"`
	Analysis string         `json:"analysis,omitempty"`
	Chunks   []ChunkOutcome `json:"chunks,omitempty"`
	Error    string         `json:"error,omitempty"`
	Attempts int            `json:"retry_count,omitempty"`
}

// Failed reports whether the file or any of its chunks carries an error.
func (r FileResult) Failed() bool { return r.Error != "" || r.ChunkErrors() > 0 }

// ChunkErrors counts chunk slots that carry an error.
func (r FileResult) ChunkErrors() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Error != "" {
			n++
		}
	}
	return n
}

// Text returns all analysis text of the file, chunked or not.
func (r FileResult) Text() string {
	if len(r.Chunks) == 0 {
		return r.Analysis
	}
	var out string
	for _, c := range r.Chunks {
		if c.Analysis == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Analysis
	}
	return out
}

// Aggregate Root: ScanReport
type ScanReport struct {
	ID             ReportID              `json:"report_id"`
	RepoID         string                `json:"repo_id"`
	RepoURL        string                `json:"repo_url"`
	Branch         string                `json:"branch"`
	Kind           ScanKind              `json:"scan_type"`
	Status         Status                `json:"status"`
	TotalFiles     int                   `json:"total_files"`
	ProcessedFiles int                   `json:"processed_files"`
	RepositoryInfo RepositoryInfo        `json:"repository_info"`
	Results        map[string]FileResult `json:"scan_results,omitempty"`
	ErrorLog       string                `json:"error_log,omitempty"`
	ArchiveURL     string                `json:"archive_url,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
}

// Percentage of processed files, rounded.
func (r *ScanReport) Percentage() int {
	if r.TotalFiles <= 0 {
		return 0
	}
	return (r.ProcessedFiles*100 + r.TotalFiles/2) / r.TotalFiles
}

// Severities sums the keyword histogram over every file result.
func (r *ScanReport) Severities() SeverityCounts {
	var c SeverityCounts
	for _, res := range r.Results {
		c.Add(CountSeverities(res.Text()))
	}
	return c
}

// FailedPaths lists aggregate entries that carry an error.
func (r *ScanReport) FailedPaths() []string {
	var out []string
	for p, res := range r.Results {
		if res.Failed() {
			out = append(out, p)
		}
	}
	return out
}

// FileProgress tracks one file of a report.
type FileProgress struct {
	ReportID          ReportID    `json:"report_id"`
	FilePath          string      `json:"file_path"`
	Classification    Category    `json:"file_classification"`
	Size              int64       `json:"size"`
	TotalChunks       int         `json:"total_chunks"`
	ProcessedChunks   int         `json:"processed_chunks"`
	Status            FileStatus  `json:"file_status"`
	LastChunkPosition int         `json:"last_chunk_position"`
	Result            *FileResult `json:"file_analysis,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	RepoID string
	Kind   ScanKind
	Status Status
	Limit  int
}
