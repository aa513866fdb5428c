/**
 * @description
 * Bulk synchronization coordinator. Pulls profiles, groups, zones, users,
 * and NAS devices from the external SAS system in a fixed phase order,
 * persisting page-granular progress so a crashed or cancelled run resumes
 * from the last completed page instead of restarting.
 *
 * Failure policy: a bad record increments the failed counter and the phase
 * continues. An outage on the external side (5xx, 429, network error) leaves
 * the run in running status with its page positions intact so it can be
 * resumed; only unrecoverable errors (credentials rejected, broken
 * configuration) fail the whole run terminally.
 *
 * @dependencies
 * - context, errors, log, math, time: Standard Go libraries.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/sasclient: The external API client.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/sasclient"
)

// Errors the sync coordinator surfaces to its callers.
var (
	ErrSyncNotResumable = errors.New("sync run is terminal and cannot be resumed")
	ErrSyncNotSyncable  = errors.New("integration has no external system to sync")
)

// errSyncCancelled stops the phase loop when a cancel request is observed.
var errSyncCancelled = errors.New("sync cancelled")

// fetchFailure marks an error as coming from the external fetch, as opposed
// to local persistence, so the run loop can decide resumability.
type fetchFailure struct {
	phase domain.SyncPhase
	page  int
	err   error
}

func (f *fetchFailure) Error() string {
	return fmt.Sprintf("phase %s page %d: %v", f.phase, f.page, f.err)
}

func (f *fetchFailure) Unwrap() error { return f.err }

// resumable reports whether the failure looks like an outage a later resume
// can recover from rather than a rejection that will repeat every attempt.
func (f *fetchFailure) resumable() bool {
	if errors.Is(f.err, sasclient.ErrUnauthorized) {
		return false
	}
	var apiErr *sasclient.APIError
	if errors.As(f.err, &apiErr) {
		return apiErr.Transient()
	}
	// Network errors and timeouts look like outages.
	return true
}

// SASSyncClient is the slice of the SAS client the coordinator needs.
type SASSyncClient interface {
	FetchProfiles(ctx context.Context, page, pageSize int) ([]sasclient.Profile, int, bool, error)
	FetchGroups(ctx context.Context, page, pageSize int) ([]sasclient.Group, int, bool, error)
	FetchZones(ctx context.Context, page, pageSize int) ([]sasclient.Zone, int, bool, error)
	FetchUsers(ctx context.Context, page, pageSize int) ([]sasclient.User, int, bool, error)
	FetchNAS(ctx context.Context, page, pageSize int) ([]sasclient.Nas, int, bool, error)
}

// SyncClientFactory resolves the SAS client for an integration.
type SyncClientFactory interface {
	SyncClientFor(integrationID uuid.UUID) (SASSyncClient, bool)
}

// SyncCoordinator drives bulk synchronization runs.
type SyncCoordinator struct {
	repo         store.Repository
	integrations IntegrationRegistry
	clients      SyncClientFactory
	now          func() time.Time

	// baseCtx outlives the HTTP request that started the run.
	baseCtx context.Context
}

func NewSyncCoordinator(baseCtx context.Context, repo store.Repository, integrations IntegrationRegistry, clients SyncClientFactory) *SyncCoordinator {
	return &SyncCoordinator{
		repo:         repo,
		integrations: integrations,
		clients:      clients,
		now:          time.Now,
		baseCtx:      baseCtx,
	}
}

// StartSync creates a new run and starts it in the background. A second
// start while one is running fails with store.ErrSyncAlreadyRunning.
func (c *SyncCoordinator) StartSync(ctx context.Context, integrationID uuid.UUID) (uuid.UUID, error) {
	settings, ok := c.integrations.Settings(integrationID)
	if !ok {
		return uuid.Nil, ErrUnknownIntegration
	}
	if settings.Kind != domain.IntegrationKindSAS {
		return uuid.Nil, ErrSyncNotSyncable
	}
	if _, ok := c.clients.SyncClientFor(integrationID); !ok {
		return uuid.Nil, ErrUnknownIntegration
	}

	now := c.now()
	progress := &domain.SyncProgress{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		Status:        domain.SyncStatusRunning,
		CurrentPhase:  domain.SyncPhaseProfile,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.repo.CreateSyncProgress(ctx, progress); err != nil {
		return uuid.Nil, err
	}

	log.Printf("level=info component=sync msg=\"sync started\" sync_id=%s integration_id=%s", progress.ID, integrationID)
	go c.run(progress.ID)
	return progress.ID, nil
}

// ResumeSync restarts the phase loop of a run that is still marked running,
// typically after a crash, redeploy, or external outage. The run continues
// from its persisted phase and page. Terminal runs are immutable.
func (c *SyncCoordinator) ResumeSync(ctx context.Context, syncID uuid.UUID) error {
	progress, err := c.repo.GetSyncProgress(ctx, syncID)
	if err != nil {
		return err
	}
	if progress.Status.Terminal() {
		return ErrSyncNotResumable
	}

	log.Printf("level=info component=sync msg=\"sync resumed\" sync_id=%s phase=%s", syncID, progress.CurrentPhase)
	go c.run(syncID)
	return nil
}

// CancelSync requests cooperative cancellation. The run stops at the next
// page boundary; completed pages stay persisted.
func (c *SyncCoordinator) CancelSync(ctx context.Context, syncID uuid.UUID) error {
	return c.repo.RequestSyncCancel(ctx, syncID)
}

// GetProgress returns the full run state with phase slices.
func (c *SyncCoordinator) GetProgress(ctx context.Context, syncID uuid.UUID) (*domain.SyncProgress, error) {
	return c.repo.GetSyncProgress(ctx, syncID)
}

// ListRuns returns recent runs, optionally for one integration.
func (c *SyncCoordinator) ListRuns(ctx context.Context, integrationID *uuid.UUID, limit, offset int) ([]domain.SyncProgress, error) {
	return c.repo.ListSyncProgress(ctx, integrationID, limit, offset)
}

func (c *SyncCoordinator) run(syncID uuid.UUID) {
	ctx := c.baseCtx
	progress, err := c.repo.GetSyncProgress(ctx, syncID)
	if err != nil {
		log.Printf("level=error component=sync msg=\"run load failed\" sync_id=%s err=%v", syncID, err)
		return
	}

	settings, ok := c.integrations.Settings(progress.IntegrationID)
	if !ok {
		c.finish(ctx, syncID, domain.SyncStatusFailed, "integration settings missing")
		return
	}
	client, ok := c.clients.SyncClientFor(progress.IntegrationID)
	if !ok {
		c.finish(ctx, syncID, domain.SyncStatusFailed, "no client for integration")
		return
	}
	pageSize := settings.Sync.MaxItemsPerPage

	started := false
	for _, phase := range domain.SyncPhaseOrder {
		if !started {
			if phase != progress.CurrentPhase {
				continue
			}
			started = true
		}
		if phase != progress.CurrentPhase {
			if err := c.repo.SetSyncPhase(ctx, syncID, phase); err != nil {
				c.finish(ctx, syncID, domain.SyncStatusFailed, fmt.Sprintf("phase transition: %v", err))
				return
			}
			progress.CurrentPhase = phase
		}

		if err := c.runPhase(ctx, progress, client, phase, pageSize); err != nil {
			if errors.Is(err, errSyncCancelled) {
				c.finish(ctx, syncID, domain.SyncStatusCancelled, "")
				return
			}
			var fetchErr *fetchFailure
			if errors.As(err, &fetchErr) && fetchErr.resumable() {
				c.interrupt(ctx, syncID, err.Error())
				return
			}
			c.finish(ctx, syncID, domain.SyncStatusFailed, err.Error())
			return
		}
	}

	if err := c.repo.SetSyncPhase(ctx, syncID, domain.SyncPhaseDone); err != nil {
		log.Printf("level=warn component=sync msg=\"phase close-out write failed\" sync_id=%s err=%v", syncID, err)
	}
	c.finish(ctx, syncID, domain.SyncStatusCompleted, "")
}

// interrupt records an outage on a run without closing it. The run keeps its
// running status and page positions, so an operator resume or the stale-sync
// sweep picks it back up where it stopped.
func (c *SyncCoordinator) interrupt(ctx context.Context, syncID uuid.UUID, reason string) {
	if err := c.repo.MarkSyncInterrupted(ctx, syncID, reason); err != nil {
		log.Printf("level=error component=sync msg=\"interrupt write failed\" sync_id=%s err=%v", syncID, err)
	}
	entry := domain.AuditLog{
		Entity:    "sync",
		EntityID:  syncID,
		Action:    "interrupted",
		Message:   reason,
		ErrorKind: domain.KindExternalUnavailable.Ptr(),
	}
	if err := c.repo.AppendAuditLog(ctx, entry); err != nil {
		log.Printf("level=error component=sync msg=\"audit append failed\" sync_id=%s err=%v", syncID, err)
	}
	log.Printf("level=warn component=sync msg=\"sync interrupted, awaiting resume\" sync_id=%s reason=%q", syncID, reason)
}

func (c *SyncCoordinator) finish(ctx context.Context, syncID uuid.UUID, status domain.SyncStatus, reason string) {
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	if err := c.repo.FinishSync(ctx, syncID, status, reasonPtr); err != nil {
		log.Printf("level=error component=sync msg=\"finish write failed\" sync_id=%s status=%s err=%v", syncID, status, err)
		return
	}

	entry := domain.AuditLog{
		Entity:   "sync",
		EntityID: syncID,
		Action:   string(status),
		Message:  reason,
	}
	if status == domain.SyncStatusFailed {
		entry.ErrorKind = domain.KindExternalUnavailable.Ptr()
	}
	if status == domain.SyncStatusCancelled {
		entry.ErrorKind = domain.KindCancelled.Ptr()
	}
	if err := c.repo.AppendAuditLog(ctx, entry); err != nil {
		log.Printf("level=error component=sync msg=\"audit append failed\" sync_id=%s err=%v", syncID, err)
	}
	log.Printf("level=info component=sync msg=\"sync finished\" sync_id=%s status=%s reason=%q", syncID, status, reason)
}

// runPhase pages through one entity type, persisting progress after every
// page. It picks up from the phase's last fully processed page.
func (c *SyncCoordinator) runPhase(ctx context.Context, progress *domain.SyncProgress, client SASSyncClient, phase domain.SyncPhase, pageSize int) error {
	phaseProgress := progress.PhaseFor(phase)
	if phaseProgress == nil {
		return fmt.Errorf("phase %s has no progress row", phase)
	}

	for page := phaseProgress.CurrentPage + 1; ; page++ {
		_, cancelRequested, err := c.repo.GetSyncRunState(ctx, progress.ID)
		if err != nil {
			return err
		}
		if cancelRequested {
			return errSyncCancelled
		}

		total, fetched, hasMore, err := c.processPage(ctx, progress.IntegrationID, client, phase, page, pageSize, phaseProgress)
		if err != nil {
			return &fetchFailure{phase: phase, page: page, err: err}
		}

		phaseProgress.CurrentPage = page
		phaseProgress.TotalRecords = total
		if pageSize > 0 {
			phaseProgress.TotalPages = int(math.Ceil(float64(total) / float64(pageSize)))
		}
		if phaseProgress.TotalPages == 0 && fetched > 0 {
			phaseProgress.TotalPages = page
		}

		if err := c.repo.UpdateSyncPhaseProgress(ctx, progress.ID, *phaseProgress, progress.Percentage()); err != nil {
			return fmt.Errorf("persist phase progress: %w", err)
		}

		if !hasMore || fetched == 0 {
			return nil
		}
	}
}

// processPage fetches and applies one page, updating the in-memory counters.
// The counter identity processed == new + updated + failed is maintained per
// record.
func (c *SyncCoordinator) processPage(ctx context.Context, integrationID uuid.UUID, client SASSyncClient, phase domain.SyncPhase, page, pageSize int, pp *domain.PhaseProgress) (total, fetched int, hasMore bool, err error) {
	record := func(outcome domain.RecordOutcome, applyErr error) {
		pp.ProcessedRecords++
		switch outcome {
		case domain.RecordOutcomeNew:
			pp.NewRecords++
		case domain.RecordOutcomeUpdated:
			pp.UpdatedRecords++
		default:
			pp.FailedRecords++
			if applyErr != nil {
				log.Printf("level=warn component=sync msg=\"record failed\" phase=%s page=%d err=%v", phase, page, applyErr)
			}
		}
	}

	switch phase {
	case domain.SyncPhaseProfile:
		records, t, more, err := client.FetchProfiles(ctx, page, pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		for _, rec := range records {
			record(c.applyProfile(ctx, integrationID, rec))
		}
		return t, len(records), more, nil
	case domain.SyncPhaseGroup:
		records, t, more, err := client.FetchGroups(ctx, page, pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		for _, rec := range records {
			record(c.applyGroup(ctx, integrationID, rec))
		}
		return t, len(records), more, nil
	case domain.SyncPhaseZone:
		records, t, more, err := client.FetchZones(ctx, page, pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		for _, rec := range records {
			record(c.applyZone(ctx, integrationID, rec))
		}
		return t, len(records), more, nil
	case domain.SyncPhaseUser:
		records, t, more, err := client.FetchUsers(ctx, page, pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		for _, rec := range records {
			record(c.applyUser(ctx, integrationID, rec))
		}
		return t, len(records), more, nil
	case domain.SyncPhaseNas:
		records, t, more, err := client.FetchNAS(ctx, page, pageSize)
		if err != nil {
			return 0, 0, false, err
		}
		for _, rec := range records {
			record(c.applyNas(ctx, integrationID, rec))
		}
		return t, len(records), more, nil
	}
	return 0, 0, false, fmt.Errorf("unknown phase %q", phase)
}

func (c *SyncCoordinator) applyProfile(ctx context.Context, integrationID uuid.UUID, rec sasclient.Profile) (domain.RecordOutcome, error) {
	if rec.Name == "" {
		return domain.RecordOutcomeFailed, fmt.Errorf("profile %d has no name", rec.ID)
	}
	return c.repo.UpsertProfile(ctx, &domain.Profile{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ExternalID:    rec.ID,
		Name:          rec.Name,
		RateLimit:     rec.RateLimit,
		Price:         rec.Price,
	})
}

func (c *SyncCoordinator) applyGroup(ctx context.Context, integrationID uuid.UUID, rec sasclient.Group) (domain.RecordOutcome, error) {
	if rec.Name == "" {
		return domain.RecordOutcomeFailed, fmt.Errorf("group %d has no name", rec.ID)
	}
	return c.repo.UpsertProfileGroup(ctx, &domain.ProfileGroup{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ExternalID:    rec.ID,
		Name:          rec.Name,
	})
}

func (c *SyncCoordinator) applyZone(ctx context.Context, integrationID uuid.UUID, rec sasclient.Zone) (domain.RecordOutcome, error) {
	if rec.Name == "" {
		return domain.RecordOutcomeFailed, fmt.Errorf("zone %d has no name", rec.ID)
	}
	return c.repo.UpsertZone(ctx, &domain.Zone{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ExternalID:    rec.ID,
		Name:          rec.Name,
	})
}

func (c *SyncCoordinator) applyUser(ctx context.Context, integrationID uuid.UUID, rec sasclient.User) (domain.RecordOutcome, error) {
	if rec.Username == "" {
		return domain.RecordOutcomeFailed, fmt.Errorf("user %d has no username", rec.ID)
	}
	return c.repo.UpsertSyncedUser(ctx, store.SyncUserRecord{
		IntegrationID:     integrationID,
		ExternalID:        rec.ID,
		Username:          rec.Username,
		Password:          rec.Password,
		ExternalProfileID: rec.ProfileID,
		ExpireDate:        rec.Expiration,
		Enabled:           rec.Enabled,
	})
}

func (c *SyncCoordinator) applyNas(ctx context.Context, integrationID uuid.UUID, rec sasclient.Nas) (domain.RecordOutcome, error) {
	if rec.Name == "" || rec.IP == "" {
		return domain.RecordOutcomeFailed, fmt.Errorf("nas %d is missing name or address", rec.ID)
	}
	return c.repo.UpsertNasDevice(ctx, &domain.NasDevice{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ExternalID:    rec.ID,
		Name:          rec.Name,
		IPAddress:     rec.IP,
		Secret:        rec.Secret,
		NasType:       rec.NasType,
	})
}
