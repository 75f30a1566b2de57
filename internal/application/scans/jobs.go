package scans

import (
	"context"
	"errors"
	"sync"

	"github.com/sapcc/go-bits/logg"
	"golang.org/x/sync/semaphore"

	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

// DefaultMaxConcurrentScans bounds how many reports are processed at once.
const DefaultMaxConcurrentScans = 4

var (
	// ErrAlreadyRunning is returned when a job for the report is still live.
	ErrAlreadyRunning = errors.New("scan is already running")
	errShutdown       = errors.New("server shutting down")
)

// Jobs runs one background goroutine per report. Jobs are detached from the
// HTTP request that started them and live until they finish, are aborted, or
// the process shuts down.
type Jobs struct {
	root context.Context
	stop context.CancelCauseFunc
	sem  *semaphore.Weighted

	mu      sync.Mutex
	running map[domain.ReportID]context.CancelCauseFunc
	wg      sync.WaitGroup
}

func NewJobs(maxConcurrent int) *Jobs {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentScans
	}
	root, stop := context.WithCancelCause(context.Background())
	return &Jobs{
		root:    root,
		stop:    stop,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		running: make(map[domain.ReportID]context.CancelCauseFunc),
	}
}

// Start registers the report as owned and runs fn in the background. fn is
// always called, possibly with an already cancelled context when the job was
// aborted while waiting for a slot.
func (j *Jobs) Start(id domain.ReportID, fn func(ctx context.Context)) error {
	j.mu.Lock()
	if _, ok := j.running[id]; ok {
		j.mu.Unlock()
		return ErrAlreadyRunning
	}
	if j.root.Err() != nil {
		j.mu.Unlock()
		return context.Cause(j.root)
	}
	ctx, cancel := context.WithCancelCause(j.root)
	j.running[id] = cancel
	j.wg.Add(1)
	j.mu.Unlock()

	go func() {
		defer j.wg.Done()
		defer func() {
			j.mu.Lock()
			delete(j.running, id)
			j.mu.Unlock()
			cancel(nil)
		}()

		if err := j.sem.Acquire(ctx, 1); err != nil {
			fn(ctx)
			return
		}
		defer j.sem.Release(1)

		jobsActive.Inc()
		defer jobsActive.Dec()
		fn(ctx)
	}()
	return nil
}

// Running reports whether a live job owns the report.
func (j *Jobs) Running(id domain.ReportID) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.running[id]
	return ok
}

// Abort cancels the job of a report. It returns false when no job owns it.
func (j *Jobs) Abort(id domain.ReportID) bool {
	j.mu.Lock()
	cancel, ok := j.running[id]
	j.mu.Unlock()
	if ok {
		cancel(domain.ErrAborted)
	}
	return ok
}

// Shutdown cancels every job and waits for them to return. Reports left
// in_progress are picked up by the resume janitor on the next start.
func (j *Jobs) Shutdown(ctx context.Context) error {
	j.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logg.Error("scan jobs did not stop in time: %s", ctx.Err().Error())
		return ctx.Err()
	}
}

// aborted reports whether ctx was cancelled through Abort.
func aborted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), domain.ErrAborted)
}
