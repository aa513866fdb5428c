package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

type jobsRepoStub struct {
	store.Repository

	due           []domain.RadiusActivation
	scheduled     []domain.RadiusActivation
	syncRuns      []domain.SyncProgress
	appliedIDs    []uuid.UUID
	submittedGets []uuid.UUID
}

func (s *jobsRepoStub) ListDueRadiusActivations(ctx context.Context, now time.Time, limit int) ([]domain.RadiusActivation, error) {
	return s.due, nil
}

func (s *jobsRepoStub) ListDueScheduledProfileChanges(ctx context.Context, now time.Time, limit int) ([]domain.RadiusActivation, error) {
	return s.scheduled, nil
}

func (s *jobsRepoStub) ApplyScheduledProfileChange(ctx context.Context, radiusActivationID uuid.UUID) error {
	s.appliedIDs = append(s.appliedIDs, radiusActivationID)
	return nil
}

func (s *jobsRepoStub) ListSyncProgress(ctx context.Context, integrationID *uuid.UUID, limit, offset int) ([]domain.SyncProgress, error) {
	return s.syncRuns, nil
}

func (s *jobsRepoStub) GetRadiusActivation(ctx context.Context, activationID uuid.UUID) (*domain.RadiusActivation, error) {
	s.submittedGets = append(s.submittedGets, activationID)
	// Returning a terminal activation makes Submit a no-op, which keeps the
	// sweep test focused on what was handed to the worker.
	return &domain.RadiusActivation{ID: activationID, Status: domain.ActivationStatusCompleted}, nil
}

func (s *jobsRepoStub) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return nil
}

func TestSweepDueActivations_SubmitsEveryDueActivation(t *testing.T) {
	repo := &jobsRepoStub{
		due: []domain.RadiusActivation{
			{ID: uuid.New()},
			{ID: uuid.New()},
			{ID: uuid.New()},
		},
	}
	worker := NewPropagationWorker(repo, &registryStub{}, &clientFactoryStub{}, &publisherStub{})
	jobs := NewJobs(context.Background(), repo, worker, nil)

	jobs.SweepDueActivations()
	worker.Wait()

	if len(repo.submittedGets) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(repo.submittedGets))
	}
}

func TestApplyScheduledProfileChanges_AppliesEachDueChange(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	repo := &jobsRepoStub{
		scheduled: []domain.RadiusActivation{{ID: first}, {ID: second}},
	}
	jobs := NewJobs(context.Background(), repo, nil, nil)

	jobs.ApplyScheduledProfileChanges()

	if len(repo.appliedIDs) != 2 || repo.appliedIDs[0] != first || repo.appliedIDs[1] != second {
		t.Fatalf("expected both changes applied in order, got %v", repo.appliedIDs)
	}
}

// resumeTrackingRepo records which runs a resume was attempted for and
// reports them all terminal so ResumeSync never spawns a run goroutine.
type resumeTrackingRepo struct {
	store.Repository

	asked []uuid.UUID
}

func (s *resumeTrackingRepo) GetSyncProgress(ctx context.Context, syncID uuid.UUID) (*domain.SyncProgress, error) {
	s.asked = append(s.asked, syncID)
	return &domain.SyncProgress{ID: syncID, Status: domain.SyncStatusCompleted}, nil
}

func TestResumeStaleSyncs_SkipsFreshAndTerminalRuns(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	staleID := uuid.New()

	repo := &jobsRepoStub{
		syncRuns: []domain.SyncProgress{
			{ID: uuid.New(), Status: domain.SyncStatusRunning, UpdatedAt: now.Add(-time.Minute)},
			{ID: uuid.New(), Status: domain.SyncStatusCompleted, UpdatedAt: now.Add(-time.Hour)},
			{ID: staleID, Status: domain.SyncStatusRunning, UpdatedAt: now.Add(-30 * time.Minute)},
		},
	}

	tracking := &resumeTrackingRepo{}
	coordinator := NewSyncCoordinator(context.Background(), tracking, &registryStub{}, &syncFactoryStub{})

	jobs := NewJobs(context.Background(), repo, nil, coordinator)
	jobs.now = func() time.Time { return now }

	jobs.ResumeStaleSyncs()

	if len(tracking.asked) != 1 || tracking.asked[0] != staleID {
		t.Fatalf("expected only the stale running run to be resumed, got %v", tracking.asked)
	}
}
