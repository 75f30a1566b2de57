package scans

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sapcc/go-bits/logg"
)

const (
	DefaultStaleAfter     = 15 * time.Minute
	DefaultResumeSchedule = "@every 5m"
)

// Janitor periodically resumes reports that are in_progress but have not
// been touched for StaleAfter and are not owned by a live job, which is what
// a process restart leaves behind.
type Janitor struct {
	svc        *Service
	staleAfter time.Duration
	cron       *cron.Cron
}

func NewJanitor(svc *Service, schedule string, staleAfter time.Duration) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultResumeSchedule
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	j := &Janitor{svc: svc, staleAfter: staleAfter, cron: cron.New()}
	_, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			logg.Error("resume sweep: %s", err.Error())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid resume schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start runs one sweep right away and then follows the schedule.
func (j *Janitor) Start(ctx context.Context) {
	if _, err := j.Sweep(ctx); err != nil {
		logg.Error("startup resume sweep: %s", err.Error())
	}
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep resumes every stale report and returns how many were resumed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	before := j.svc.Clock.Now().Add(-j.staleAfter)
	stale, err := j.svc.Repo.StaleReports(ctx, before)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rep := range stale {
		if j.svc.Jobs.Running(rep.ID) {
			continue
		}
		if err := j.svc.Resume(ctx, rep.ID); err != nil {
			logg.Error("resuming report %s: %s", rep.ID, err.Error())
			continue
		}
		n++
	}
	if n > 0 {
		logg.Info("resumed %d stale reports", n)
	}
	return n, nil
}
