package scans

import "errors"

var (
	// ErrReportNotFound is returned by the store when no report matches.
	ErrReportNotFound = errors.New("scan report not found")
	// ErrProgressNotFound is returned when updating a file row that was never begun.
	ErrProgressNotFound = errors.New("file progress not found")
	// ErrInvalidScanKind rejects unknown scan types before anything is persisted.
	ErrInvalidScanKind = errors.New("invalid scan type, use: complete, sbom, or vulnerability")
	// ErrInvalidRequest rejects malformed scan requests.
	ErrInvalidRequest = errors.New("invalid scan request")
	// ErrAborted is recorded on reports cancelled through Abort.
	ErrAborted = errors.New("scan aborted")
	// ErrNotRunning is returned when aborting a report that is already terminal.
	ErrNotRunning = errors.New("scan is not running")
	// ErrNotRetryable is returned when a retry is asked for a report that is still running.
	ErrNotRetryable = errors.New("cannot retry scan that is not finished")
	// ErrSourceUnavailable marks retrieval-service failures that abort a whole report.
	ErrSourceUnavailable = errors.New("repository service unavailable")
	// ErrFileNotFound marks a single file the retrieval service could not serve.
	ErrFileNotFound = errors.New("file not found in repository")
	// ErrEmptyContent marks files with nothing to analyze.
	ErrEmptyContent = errors.New("empty file or could not retrieve content")
)
