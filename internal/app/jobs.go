/**
 * @description
 * Cron job bodies: the due-activation sweep that drives retries, the
 * scheduled profile change applier, and the stale sync watchdog that
 * resumes runs orphaned by a crash or redeploy.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

const (
	sweepBatchSize = 100
	staleSyncAfter = 10 * time.Minute
	jobTimeout     = 2 * time.Minute
)

// Jobs bundles the scheduled job bodies with their dependencies.
type Jobs struct {
	repo   store.Repository
	worker *PropagationWorker
	sync   *SyncCoordinator
	now    func() time.Time

	// workerCtx bounds submitted propagation attempts.
	workerCtx context.Context
}

func NewJobs(workerCtx context.Context, repo store.Repository, worker *PropagationWorker, sync *SyncCoordinator) *Jobs {
	return &Jobs{
		repo:      repo,
		worker:    worker,
		sync:      sync,
		now:       time.Now,
		workerCtx: workerCtx,
	}
}

// SweepDueActivations submits every due propagation attempt: fresh pending
// activations whose event publish was missed and failed ones whose retry
// delay has elapsed.
func (j *Jobs) SweepDueActivations() {
	ctx, cancel := context.WithTimeout(j.workerCtx, jobTimeout)
	defer cancel()

	due, err := j.repo.ListDueRadiusActivations(ctx, j.now(), sweepBatchSize)
	if err != nil {
		log.Printf("level=error component=jobs job=sweep_due_activations msg=\"list failed\" err=%v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	submitted := 0
	for _, activation := range due {
		if err := j.worker.Submit(j.workerCtx, activation.ID); err != nil {
			log.Printf("level=error component=jobs job=sweep_due_activations msg=\"submit failed\" radius_activation_id=%s err=%v", activation.ID, err)
			continue
		}
		submitted++
	}
	log.Printf("level=info component=jobs job=sweep_due_activations due=%d submitted=%d", len(due), submitted)
}

// ApplyScheduledProfileChanges applies deferred profile changes whose
// scheduled date has arrived.
func (j *Jobs) ApplyScheduledProfileChanges() {
	ctx, cancel := context.WithTimeout(j.workerCtx, jobTimeout)
	defer cancel()

	due, err := j.repo.ListDueScheduledProfileChanges(ctx, j.now(), sweepBatchSize)
	if err != nil {
		log.Printf("level=error component=jobs job=apply_scheduled_changes msg=\"list failed\" err=%v", err)
		return
	}

	for _, activation := range due {
		if err := j.repo.ApplyScheduledProfileChange(ctx, activation.ID); err != nil {
			log.Printf("level=error component=jobs job=apply_scheduled_changes msg=\"apply failed\" radius_activation_id=%s err=%v", activation.ID, err)
			continue
		}
		log.Printf("level=info component=jobs job=apply_scheduled_changes msg=\"profile change applied\" radius_activation_id=%s user_id=%s", activation.ID, activation.RadiusUserID)
	}
}

// ResumeStaleSyncs restarts running sync runs that have not written progress
// recently, which happens when the instance driving them died.
func (j *Jobs) ResumeStaleSyncs() {
	ctx, cancel := context.WithTimeout(j.workerCtx, jobTimeout)
	defer cancel()

	runs, err := j.repo.ListSyncProgress(ctx, nil, sweepBatchSize, 0)
	if err != nil {
		log.Printf("level=error component=jobs job=resume_stale_syncs msg=\"list failed\" err=%v", err)
		return
	}

	cutoff := j.now().Add(-staleSyncAfter)
	for _, run := range runs {
		if run.Status != domain.SyncStatusRunning || run.UpdatedAt.After(cutoff) {
			continue
		}
		if err := j.sync.ResumeSync(ctx, run.ID); err != nil {
			log.Printf("level=error component=jobs job=resume_stale_syncs msg=\"resume failed\" sync_id=%s err=%v", run.ID, err)
			continue
		}
		log.Printf("level=warn component=jobs job=resume_stale_syncs msg=\"stale sync resumed\" sync_id=%s last_update=%s", run.ID, run.UpdatedAt.Format(time.RFC3339))
	}
}
