package scans

import "time"

// ReportUpdate is the closed set of mutations a store applies to a report row.
// Every command maps to one fixed statement in the store adapter.
type ReportUpdate interface {
	isReportUpdate()
}

// ReopenReport moves a terminal report back to in_progress for a retry or
// resume. The error log and completion time are cleared.
type ReopenReport struct{}

// FinishReport marks the report terminal with its aggregated results.
// ProcessedFiles raises the counter when it lags behind the terminal file
// rows; it never lowers it.
type FinishReport struct {
	Status         Status
	Results        map[string]FileResult
	ProcessedFiles int
	At             time.Time
}

// FailReport marks the report failed, keeping file rows and results intact.
type FailReport struct {
	ErrorLog string
	At       time.Time
}

// SetArchiveURL records where the terminal report was archived.
type SetArchiveURL struct {
	URL string
}

func (ReopenReport) isReportUpdate()  {}
func (FinishReport) isReportUpdate()  {}
func (FailReport) isReportUpdate()    {}
func (SetArchiveURL) isReportUpdate() {}

// FileUpdate is the closed set of mutations on a file progress row.
type FileUpdate interface {
	isFileUpdate()
}

// StartFile moves a pending file to in_progress once its content is known.
type StartFile struct {
	TotalChunks int
	Size        int64
}

// RecordChunk persists resume state after one chunk resolved. Partial holds
// every chunk outcome so far so a restarted process can continue from
// ProcessedChunks without calling the provider again.
type RecordChunk struct {
	ProcessedChunks   int
	LastChunkPosition int
	Partial           FileResult
}

// CompleteFile marks the file completed with all chunks processed.
type CompleteFile struct {
	Result FileResult
}

// FailFile marks the file failed. Result.Error must be set.
type FailFile struct {
	Result FileResult
}

func (StartFile) isFileUpdate()    {}
func (RecordChunk) isFileUpdate()  {}
func (CompleteFile) isFileUpdate() {}
func (FailFile) isFileUpdate()     {}
