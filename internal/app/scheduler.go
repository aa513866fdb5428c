/**
 * @description
 * Cron scheduler setup for the engine's background jobs.
 */

package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Schedules for the background jobs, cron spec format.
type Schedules struct {
	DueActivationSweep     string
	ScheduledProfileChange string
	StaleSyncWatchdog      string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Scheduler{cron: c, jobs: jobs, schedules: schedules}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.add("due_activation_sweep", s.schedules.DueActivationSweep, s.jobs.SweepDueActivations)
	s.add("scheduled_profile_change", s.schedules.ScheduledProfileChange, s.jobs.ApplyScheduledProfileChanges)
	s.add("stale_sync_watchdog", s.schedules.StaleSyncWatchdog, s.jobs.ResumeStaleSyncs)
	s.cron.Start()
}

func (s *Scheduler) add(name, schedule string, job func()) {
	if schedule == "" {
		log.Printf("level=warn component=scheduler msg=\"job disabled, no schedule\" job=%s", name)
		return
	}
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule job\" job=%s schedule=%q err=%v", name, schedule, err)
		return
	}
	log.Printf("level=info component=scheduler msg=\"job scheduled\" job=%s schedule=%q", name, schedule)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
