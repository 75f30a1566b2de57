package scans

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

func TestJobsRejectsDuplicates(t *testing.T) {
	jobs := NewJobs(1)
	release := make(chan struct{})
	require.NoError(t, jobs.Start("r1", func(ctx context.Context) { <-release }))
	assert.ErrorIs(t, jobs.Start("r1", func(ctx context.Context) {}), ErrAlreadyRunning)
	assert.True(t, jobs.Running("r1"))

	close(release)
	require.Eventually(t, func() bool { return !jobs.Running("r1") }, time.Second, time.Millisecond)
	require.NoError(t, jobs.Shutdown(context.Background()))
}

func TestJobsBoundsConcurrency(t *testing.T) {
	jobs := NewJobs(1)
	var active, peak int32
	release := make(chan struct{})
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, jobs.Start(reportID(id), func(ctx context.Context) {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&active, -1)
		}))
	}
	close(release)
	require.Eventually(t, func() bool {
		return !jobs.Running("a") && !jobs.Running("b") && !jobs.Running("c")
	}, time.Second, time.Millisecond)
	require.NoError(t, jobs.Shutdown(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

func TestJobsAbortAndShutdownCauses(t *testing.T) {
	jobs := NewJobs(2)
	results := make(chan bool, 2)
	run := func(ctx context.Context) {
		<-ctx.Done()
		results <- aborted(ctx)
	}
	require.NoError(t, jobs.Start("aborted", run))
	require.NoError(t, jobs.Start("interrupted", run))

	assert.True(t, jobs.Abort("aborted"))
	assert.True(t, <-results)
	assert.False(t, jobs.Abort("unknown"))

	require.NoError(t, jobs.Shutdown(context.Background()))
	assert.False(t, <-results)
	assert.Error(t, jobs.Start("late", run), "no new jobs after shutdown")
}

func reportID(s string) domain.ReportID { return domain.ReportID(s) }
