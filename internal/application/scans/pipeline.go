package scans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sapcc/go-bits/logg"

	appai "github.com/bryanwahyu/automaton-reposcan/internal/application/ai"
	"github.com/bryanwahyu/automaton-reposcan/internal/domain/ai"
	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

// runMode selects how a report run treats existing progress.
type runMode int

const (
	// modeScan processes every file from scratch.
	modeScan runMode = iota
	// modeRetry reprocesses failed files without counting them again.
	modeRetry
	// modeResume skips finished files and continues in-flight ones.
	modeResume
)

// run processes files for one report and brings the report to a terminal
// status. It owns the report until it returns.
func (s *Service) run(ctx context.Context, rep *domain.ScanReport, files []domain.FileEntry, mode runMode) {
	id := rep.ID
	err := s.processFiles(ctx, rep, files, mode)

	// terminal writes must land even when the job context is gone
	wctx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if err := s.finish(wctx, id); err != nil {
			logg.Error("finishing report %s: %s", id, err.Error())
		}
	case aborted(ctx):
		logg.Info("report %s aborted", id)
		s.fail(wctx, id, domain.ErrAborted.Error())
	case ctx.Err() != nil:
		// shutdown; the janitor resumes the report on the next start
		logg.Info("report %s interrupted: %s", id, context.Cause(ctx).Error())
	default:
		logg.Error("report %s failed: %s", id, err.Error())
		s.fail(wctx, id, err.Error())
	}
}

func (s *Service) processFiles(ctx context.Context, rep *domain.ScanReport, files []domain.FileEntry, mode runMode) error {
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if mode == modeResume {
			row, err := s.Repo.GetFile(ctx, rep.ID, f.Path)
			if err != nil {
				return err
			}
			if row != nil && row.Status.Terminal() {
				continue
			}
		}
		if err := s.processFile(ctx, rep, f, mode); err != nil {
			return err
		}
		if i < len(files)-1 {
			if err := s.Clock.Sleep(ctx, s.Config.FileDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// processFile runs one file through fetch, analysis and persistence. Only
// orchestration errors (store, retrieval service down, cancellation) are
// returned; every other failure is recorded on the file row.
func (s *Service) processFile(ctx context.Context, rep *domain.ScanReport, f domain.FileEntry, mode runMode) error {
	var prev *domain.FileProgress
	if mode != modeScan {
		row, err := s.Repo.GetFile(ctx, rep.ID, f.Path)
		if err != nil {
			return err
		}
		if carried(row, mode) != nil {
			prev = row
		}
	}
	if prev == nil {
		if err := s.beginFile(ctx, rep.ID, f); err != nil {
			return err
		}
	}

	content, err := s.Source.FetchFile(ctx, rep.RepoID, f.Path)
	if err != nil {
		if errors.Is(err, domain.ErrSourceUnavailable) || ctx.Err() != nil {
			return err
		}
		res := domain.FileResult{FilePath: f.Path, FileType: f.Classification, Error: err.Error()}
		if errors.Is(err, domain.ErrEmptyContent) {
			res.Error = domain.ErrEmptyContent.Error()
		}
		if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.FailFile{Result: res}); err != nil {
			return err
		}
		return s.fileDone(ctx, rep.ID, mode, false)
	}

	var chunks []domain.Chunk
	if domain.EstimateTokens(content, s.Config.TokensPerChar) > s.Config.MaxTokensPerRequest {
		chunks = domain.ChunkContent(content, s.Config.ChunkSize)
	}
	total := len(chunks)
	if total == 0 {
		total = 1
	}

	partial := domain.FileResult{FilePath: f.Path, FileType: f.Classification}
	if prev != nil && len(chunks) > 0 && prev.TotalChunks == total && aligned(prev.Result.Chunks, chunks) {
		partial = *prev.Result
		partial.Chunks = append([]domain.ChunkOutcome(nil), prev.Result.Chunks...)
		partial.Error = ""
		if mode == modeRetry {
			logg.Info("report %s: retrying %d of %d chunks of %s", rep.ID, partial.ChunkErrors(), total, f.Path)
		} else {
			logg.Info("report %s: resuming %s after chunk %d/%d", rep.ID, f.Path, len(partial.Chunks), total)
		}
	} else {
		if prev != nil {
			if err := s.beginFile(ctx, rep.ID, f); err != nil {
				return err
			}
		}
		if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.StartFile{TotalChunks: total, Size: int64(len(content))}); err != nil {
			return err
		}
	}

	req := appai.Request{Kind: rep.Kind, Path: f.Path, Classification: f.Classification}

	if len(chunks) == 0 {
		req.Content = content
		out, err := s.Analyzer.Analyze(ctx, req)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		partial.Attempts = attemptsOf(out.Attempts, err)
		if err != nil {
			partial.Error = err.Error()
			if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.FailFile{Result: partial}); err != nil {
				return err
			}
			return s.fileDone(ctx, rep.ID, mode, false)
		}
		partial.Analysis = out.Analysis
		if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.CompleteFile{Result: partial}); err != nil {
			return err
		}
		return s.fileDone(ctx, rep.ID, mode, true)
	}

	// slots still to run: everything past the recorded prefix, plus errored
	// slots when retrying
	var todo []int
	for i := range chunks {
		if i >= len(partial.Chunks) || (mode == modeRetry && partial.Chunks[i].Error != "") {
			todo = append(todo, i)
		}
	}

	for n, i := range todo {
		c := chunks[i]
		req.Content = c.Content
		req.ChunkLabel = c.Label(i, total)
		out, err := s.Analyzer.Analyze(ctx, req)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcome := domain.ChunkOutcome{Index: i, Start: c.Start, End: c.End, Attempts: attemptsOf(out.Attempts, err)}
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Analysis = out.Analysis
		}
		if i < len(partial.Chunks) {
			partial.Chunks[i] = outcome
		} else {
			partial.Chunks = append(partial.Chunks, outcome)
		}
		partial.Attempts += outcome.Attempts

		done := len(partial.Chunks)
		if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.RecordChunk{
			ProcessedChunks:   done,
			LastChunkPosition: chunks[done-1].End,
			Partial:           partial,
		}); err != nil {
			return err
		}
		if n < len(todo)-1 {
			if err := s.Clock.Sleep(ctx, s.Config.ChunkDelay); err != nil {
				return err
			}
		}
	}

	if failed := partial.ChunkErrors(); failed == len(partial.Chunks) {
		partial.Error = fmt.Sprintf("all %d chunks failed: %s", failed, partial.Chunks[failed-1].Error)
		if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.FailFile{Result: partial}); err != nil {
			return err
		}
		return s.fileDone(ctx, rep.ID, mode, false)
	}
	// errored slots stay on the result, which keeps the file retryable
	if err := s.Repo.UpdateFile(ctx, rep.ID, f.Path, domain.CompleteFile{Result: partial}); err != nil {
		return err
	}
	return s.fileDone(ctx, rep.ID, mode, partial.ChunkErrors() == 0)
}

func (s *Service) beginFile(ctx context.Context, id domain.ReportID, f domain.FileEntry) error {
	return s.Repo.BeginFile(ctx, &domain.FileProgress{
		ReportID:       id,
		FilePath:       f.Path,
		Classification: f.Classification,
		Size:           f.Size,
		TotalChunks:    1,
		Status:         domain.FilePending,
	})
}

func (s *Service) fileDone(ctx context.Context, id domain.ReportID, mode runMode, ok bool) error {
	if ok {
		filesProcessed.WithLabelValues("completed").Inc()
	} else {
		filesProcessed.WithLabelValues("failed").Inc()
	}
	if mode == modeRetry {
		return nil
	}
	return s.Repo.IncrementProcessed(ctx, id)
}

// carried returns the chunk outcomes of row a run in mode can keep, or nil
// when the file has to start over. Resume keeps the recorded prefix of an
// in-flight row, including a fully recorded one. Retry keeps every slot of a
// finished chunked row that has errored slots.
func carried(row *domain.FileProgress, mode runMode) []domain.ChunkOutcome {
	if row == nil || row.Result == nil || row.ProcessedChunks <= 0 ||
		len(row.Result.Chunks) != row.ProcessedChunks || row.ProcessedChunks > row.TotalChunks {
		return nil
	}
	switch mode {
	case modeResume:
		if row.Status == domain.FileInProgress {
			return row.Result.Chunks
		}
	case modeRetry:
		if row.Status.Terminal() && row.ProcessedChunks == row.TotalChunks && row.Result.ChunkErrors() > 0 {
			return row.Result.Chunks
		}
	}
	return nil
}

// aligned reports whether recorded outcomes match the re-derived chunks slot
// by slot, so content that changed since is never stitched together.
func aligned(outcomes []domain.ChunkOutcome, chunks []domain.Chunk) bool {
	if len(outcomes) > len(chunks) {
		return false
	}
	for i, o := range outcomes {
		if o.Index != i || o.Start != chunks[i].Start || o.End != chunks[i].End {
			return false
		}
	}
	return true
}

func attemptsOf(n int, err error) int {
	var ae *ai.AttemptError
	if errors.As(err, &ae) {
		return ae.Attempts
	}
	return n
}

// finish merges every terminal file row over the aggregate and closes the
// report as completed or partial.
func (s *Service) finish(ctx context.Context, id domain.ReportID) error {
	rep, err := s.Repo.GetReport(ctx, id)
	if err != nil {
		return err
	}
	rows, err := s.Repo.ListFiles(ctx, id)
	if err != nil {
		return err
	}
	results := make(map[string]domain.FileResult, len(rep.Results)+len(rows))
	for p, r := range rep.Results {
		results[p] = r
	}
	for _, row := range rows {
		if row.Status.Terminal() && row.Result != nil {
			results[row.FilePath] = *row.Result
		}
	}

	// a crash between a terminal file write and the counter bump leaves the
	// counter behind; terminal rows are the source of truth
	terminal := 0
	for _, row := range rows {
		if row.Status.Terminal() {
			terminal++
		}
	}
	processed := min(max(rep.ProcessedFiles, terminal), rep.TotalFiles)

	status := domain.StatusCompleted
	for _, r := range results {
		if r.Failed() {
			status = domain.StatusPartial
			break
		}
	}
	now := s.Clock.Now()
	if err := s.Repo.UpdateReport(ctx, id, domain.FinishReport{Status: status, Results: results, ProcessedFiles: processed, At: now}); err != nil {
		return err
	}
	reportsFinished.WithLabelValues(string(status)).Inc()
	logg.Info("report %s finished: %s (%d files)", id, status, len(results))

	rep.Status = status
	rep.Results = results
	rep.ProcessedFiles = processed
	rep.CompletedAt = &now
	s.archive(ctx, rep)
	return nil
}

func (s *Service) fail(ctx context.Context, id domain.ReportID, msg string) {
	if err := s.Repo.UpdateReport(ctx, id, domain.FailReport{ErrorLog: msg, At: s.Clock.Now()}); err != nil {
		logg.Error("marking report %s failed: %s", id, err.Error())
		return
	}
	reportsFinished.WithLabelValues(string(domain.StatusFailed)).Inc()
}

// archive uploads the terminal report when an archive store is configured.
// Upload failures are logged and do not change the report status.
func (s *Service) archive(ctx context.Context, rep *domain.ScanReport) {
	if s.Archive == nil {
		return
	}
	doc, err := json.Marshal(rep)
	if err != nil {
		logg.Error("encoding report %s for archive: %s", rep.ID, err.Error())
		return
	}
	actx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	url, err := s.Archive.PutJSON(actx, fmt.Sprintf("reports/%s/%s.json", rep.RepoID, rep.ID), doc)
	if err != nil {
		logg.Error("archiving report %s: %s", rep.ID, err.Error())
		return
	}
	if err := s.Repo.UpdateReport(ctx, rep.ID, domain.SetArchiveURL{URL: url}); err != nil {
		logg.Error("recording archive url of %s: %s", rep.ID, err.Error())
	}
}
