/**
 * @description
 * RADIUS propagation worker. Takes pending RadiusActivations and pushes the
 * profile/expiration change to the external SAS system, recording one
 * SasActivationLog row per attempt. Retries are bounded per integration and
 * scheduled through next_retry_at; the cron sweep re-submits due work.
 *
 * Key invariants:
 * - With ActivationMaxRetries = N, a permanently failing call produces
 *   exactly N+1 attempt rows, the last marked exhausted.
 * - A cancelled attempt is recorded as failed with reason "cancelled",
 *   never left pending.
 * - Concurrency per integration is capped by a semaphore; submission never
 *   runs more than ActivationMaxConcurrency attempts at once.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/sasclient, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/rabbitmq"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/sasclient"
)

// SASActivator is the slice of the SAS client the worker needs.
type SASActivator interface {
	Activate(ctx context.Context, req sasclient.ActivateRequest) (status, externalRef string, err error)
	CheckCardStock(ctx context.Context, profileID int64) (int, error)
}

// SASClientFactory resolves the SAS client for an integration. FreeRADIUS
// integrations have no client; propagation is the database write alone.
type SASClientFactory interface {
	ClientFor(integrationID uuid.UUID) (SASActivator, bool)
}

// PropagationWorker runs bounded per-integration attempt pools.
type PropagationWorker struct {
	repo          store.Repository
	integrations  IntegrationRegistry
	clients       SASClientFactory
	eventProducer rabbitmq.Publisher
	now           func() time.Time

	mu    sync.Mutex
	pools map[uuid.UUID]chan struct{}
	wg    sync.WaitGroup
}

func NewPropagationWorker(repo store.Repository, integrations IntegrationRegistry, clients SASClientFactory, producer rabbitmq.Publisher) *PropagationWorker {
	return &PropagationWorker{
		repo:          repo,
		integrations:  integrations,
		clients:       clients,
		eventProducer: producer,
		now:           time.Now,
		pools:         make(map[uuid.UUID]chan struct{}),
	}
}

// Submit queues one propagation attempt. It returns immediately; the attempt
// runs on the integration's pool.
func (w *PropagationWorker) Submit(ctx context.Context, radiusActivationID uuid.UUID) error {
	activation, err := w.repo.GetRadiusActivation(ctx, radiusActivationID)
	if err != nil {
		return err
	}
	if activation.Status.Terminal() {
		return nil
	}

	settings, ok := w.integrations.Settings(activation.IntegrationID)
	if !ok {
		return ErrUnknownIntegration
	}

	sem := w.pool(activation.IntegrationID, settings.Activation.MaxConcurrency)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			w.recordCancelled(activation, settings, ctx.Err())
			return
		}
		w.attempt(ctx, activation, settings)
	}()
	return nil
}

// Wait blocks until all in-flight attempts finish. Used during shutdown.
func (w *PropagationWorker) Wait() {
	w.wg.Wait()
}

func (w *PropagationWorker) pool(integrationID uuid.UUID, maxConcurrency int) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sem, ok := w.pools[integrationID]; ok {
		return sem
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)
	w.pools[integrationID] = sem
	return sem
}

// attempt runs one external call for the activation and records its outcome.
func (w *PropagationWorker) attempt(ctx context.Context, activation *domain.RadiusActivation, settings domain.IntegrationSettings) {
	if err := w.repo.MarkRadiusActivationProcessing(ctx, activation.ID); err != nil {
		// Another worker claimed it first, or it already finished.
		if !errors.Is(err, store.ErrConcurrentModification) {
			log.Printf("level=error component=propagation msg=\"claim failed\" radius_activation_id=%s err=%v", activation.ID, err)
		}
		return
	}

	attemptNo := activation.RetryCount + 1
	logEntry := &domain.SasActivationLog{
		ID:                 uuid.New(),
		RadiusActivationID: activation.ID,
		IntegrationID:      activation.IntegrationID,
		Attempt:            attemptNo,
		Status:             domain.SasLogStatusPending,
		RetryCount:         activation.RetryCount,
		MaxRetries:         settings.Activation.MaxRetries,
		CreatedAt:          w.now(),
	}
	if err := w.repo.CreateSasActivationLog(ctx, logEntry); err != nil {
		log.Printf("level=error component=propagation msg=\"attempt log create failed\" radius_activation_id=%s err=%v", activation.ID, err)
		return
	}

	started := w.now()
	apiStatus, externalRef, responseCode, callErr := w.callExternal(ctx, activation, settings)
	durationMs := w.now().Sub(started).Milliseconds()

	if callErr == nil {
		w.finishSuccess(ctx, activation, logEntry, apiStatus, externalRef, responseCode, durationMs)
		return
	}

	if ctx.Err() != nil {
		w.finishFailure(ctx, activation, logEntry, domain.KindCancelled, "cancelled", responseCode, durationMs, false)
		return
	}

	kind, retryable := classifyCallError(callErr)
	if !retryable {
		w.finishFailure(ctx, activation, logEntry, kind, callErr.Error(), responseCode, durationMs, false)
		return
	}

	if activation.RetryCount >= settings.Activation.MaxRetries {
		// This was attempt MaxRetries+1. The budget is spent.
		w.finishExhausted(ctx, activation, logEntry, callErr, responseCode, durationMs)
		return
	}

	w.scheduleRetry(ctx, activation, settings, logEntry, kind, callErr, responseCode, durationMs)
}

// callExternal performs the SAS call (or nothing, for FreeRADIUS-only
// integrations) under the integration's per-attempt timeout.
func (w *PropagationWorker) callExternal(ctx context.Context, activation *domain.RadiusActivation, settings domain.IntegrationSettings) (apiStatus, externalRef string, responseCode *int, err error) {
	if settings.Kind == domain.IntegrationKindFreeRadius {
		return "local", "", nil, nil
	}

	client, ok := w.clients.ClientFor(activation.IntegrationID)
	if !ok {
		return "", "", nil, fmt.Errorf("%w: %s", ErrUnknownIntegration, activation.IntegrationID)
	}

	user, err := w.repo.GetRadiusUser(ctx, activation.RadiusUserID)
	if err != nil {
		return "", "", nil, err
	}
	profile, err := w.repo.GetBillingProfile(ctx, activation.CurrentProfileID)
	if err != nil {
		return "", "", nil, err
	}
	if user.ExternalUserID == nil || profile.ExternalProfileID == nil {
		return "", "", nil, fmt.Errorf("user %s or profile %s has no external id", user.ID, profile.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, settings.Activation.Timeout())
	defer cancel()

	if settings.Activation.CheckCardAvailability {
		// Locally tracked stock satisfies the pre-check without an external
		// round-trip; an empty cards table defers to the external system.
		available, err := w.repo.CountAvailableCards(ctx, activation.IntegrationID, activation.CurrentProfileID)
		if err != nil {
			return "", "", nil, err
		}
		if available == 0 {
			available, err = client.CheckCardStock(callCtx, *profile.ExternalProfileID)
			if err != nil {
				return "", "", statusCodeOf(err), err
			}
		}
		if available <= 0 {
			return "", "", nil, ErrCardStockUnavailable
		}
	}

	status, ref, err := client.Activate(callCtx, sasclient.ActivateRequest{
		UserID:            *user.ExternalUserID,
		ProfileID:         *profile.ExternalProfileID,
		Expiration:        activation.CurrentExpireDate,
		ActivationUnits:   1,
		UseCard:           settings.Activation.CheckCardAvailability,
		TransactionRef:    activation.BillingActivationID.String(),
		ChangeProfileOnly: false,
	})
	if err != nil {
		return "", "", statusCodeOf(err), err
	}
	return status, ref, nil, nil
}

func (w *PropagationWorker) finishSuccess(ctx context.Context, activation *domain.RadiusActivation, logEntry *domain.SasActivationLog, apiStatus, externalRef string, responseCode *int, durationMs int64) {
	var refPtr *string
	if externalRef != "" {
		refPtr = &externalRef
	}
	err := w.repo.CompleteRadiusActivation(ctx, store.CompleteRadiusActivationParams{
		RadiusActivationID: activation.ID,
		APIStatus:          apiStatus,
		ExternalRef:        refPtr,
		ApplyProfile:       activation.ProfileChangeType == domain.ProfileChangeImmediate,
	})
	if err != nil {
		log.Printf("level=error component=propagation msg=\"completion write failed\" radius_activation_id=%s err=%v", activation.ID, err)
		return
	}
	if err := w.repo.FinishSasActivationLog(ctx, logEntry.ID, domain.SasLogStatusSucceeded, durationMs, responseCode, nil, nil, nil); err != nil {
		log.Printf("level=error component=propagation msg=\"attempt log finish failed\" log_id=%s err=%v", logEntry.ID, err)
	}

	w.publishTerminal(ctx, activation, domain.ActivationStatusCompleted, "")
	log.Printf("level=info component=propagation msg=\"propagation completed\" radius_activation_id=%s attempt=%d duration_ms=%d",
		activation.ID, logEntry.Attempt, durationMs)
}

func (w *PropagationWorker) finishFailure(ctx context.Context, activation *domain.RadiusActivation, logEntry *domain.SasActivationLog, kind domain.ErrorKind, message string, responseCode *int, durationMs int64, exhausted bool) {
	logStatus := domain.SasLogStatusFailed
	if exhausted {
		logStatus = domain.SasLogStatusExhausted
	}
	if err := w.repo.FinishSasActivationLog(ctx, logEntry.ID, logStatus, durationMs, responseCode, kind.Ptr(), &message, nil); err != nil {
		log.Printf("level=error component=propagation msg=\"attempt log finish failed\" log_id=%s err=%v", logEntry.ID, err)
	}
	if err := w.repo.FailRadiusActivation(ctx, store.FailRadiusActivationParams{
		RadiusActivationID: activation.ID,
		APIStatus:          string(logStatus),
		ErrorKind:          kind,
		Reason:             message,
	}); err != nil {
		log.Printf("level=error component=propagation msg=\"failure write failed\" radius_activation_id=%s err=%v", activation.ID, err)
		return
	}

	w.publishTerminal(ctx, activation, domain.ActivationStatusFailed, string(kind))
	log.Printf("level=warn component=propagation msg=\"propagation failed\" radius_activation_id=%s attempt=%d kind=%s reason=%q",
		activation.ID, logEntry.Attempt, kind, message)
}

func (w *PropagationWorker) finishExhausted(ctx context.Context, activation *domain.RadiusActivation, logEntry *domain.SasActivationLog, callErr error, responseCode *int, durationMs int64) {
	message := fmt.Sprintf("%v (retries exhausted after %d attempts)", callErr, logEntry.Attempt)
	w.finishFailure(ctx, activation, logEntry, domain.KindExhausted, message, responseCode, durationMs, true)
}

func (w *PropagationWorker) scheduleRetry(ctx context.Context, activation *domain.RadiusActivation, settings domain.IntegrationSettings, logEntry *domain.SasActivationLog, kind domain.ErrorKind, callErr error, responseCode *int, durationMs int64) {
	retryCount := activation.RetryCount + 1
	now := w.now()
	nextRetryAt := now.Add(settings.Activation.RetryDelay(retryCount))

	message := callErr.Error()
	if err := w.repo.FinishSasActivationLog(ctx, logEntry.ID, domain.SasLogStatusFailed, durationMs, responseCode, kind.Ptr(), &message, &nextRetryAt); err != nil {
		log.Printf("level=error component=propagation msg=\"attempt log finish failed\" log_id=%s err=%v", logEntry.ID, err)
	}
	if err := w.repo.ScheduleRadiusActivationRetry(ctx, activation.ID, retryCount, now, nextRetryAt); err != nil {
		log.Printf("level=error component=propagation msg=\"retry schedule failed\" radius_activation_id=%s err=%v", activation.ID, err)
		return
	}

	log.Printf("level=warn component=propagation msg=\"attempt failed; retry scheduled\" radius_activation_id=%s attempt=%d retry_count=%d next_retry_at=%s err=%v",
		activation.ID, logEntry.Attempt, retryCount, nextRetryAt.Format(time.RFC3339), callErr)
}

// recordCancelled handles work that never got a pool slot before shutdown.
func (w *PropagationWorker) recordCancelled(activation *domain.RadiusActivation, settings domain.IntegrationSettings, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logEntry := &domain.SasActivationLog{
		ID:                 uuid.New(),
		RadiusActivationID: activation.ID,
		IntegrationID:      activation.IntegrationID,
		Attempt:            activation.RetryCount + 1,
		Status:             domain.SasLogStatusFailed,
		RetryCount:         activation.RetryCount,
		MaxRetries:         settings.Activation.MaxRetries,
		ErrorKind:          domain.KindCancelled.Ptr(),
		CreatedAt:          w.now(),
	}
	if err := w.repo.CreateSasActivationLog(ctx, logEntry); err != nil {
		log.Printf("level=error component=propagation msg=\"cancel log create failed\" radius_activation_id=%s err=%v", activation.ID, err)
	}
	if err := w.repo.FailRadiusActivation(ctx, store.FailRadiusActivationParams{
		RadiusActivationID: activation.ID,
		APIStatus:          "cancelled",
		ErrorKind:          domain.KindCancelled,
		Reason:             fmt.Sprintf("cancelled before attempt: %v", cause),
	}); err != nil {
		log.Printf("level=error component=propagation msg=\"cancel write failed\" radius_activation_id=%s err=%v", activation.ID, err)
	}
}

func (w *PropagationWorker) publishTerminal(ctx context.Context, activation *domain.RadiusActivation, status domain.ActivationStatus, kind string) {
	routingKey := rabbitmq.RoutingKeyActivationCompleted
	if status == domain.ActivationStatusFailed {
		routingKey = rabbitmq.RoutingKeyActivationFailed
	}
	event := rabbitmq.ActivationEvent{
		BillingActivationID: activation.BillingActivationID,
		RadiusActivationID:  activation.ID,
		RadiusUserID:        activation.RadiusUserID,
		IntegrationID:       activation.IntegrationID,
		Status:              string(status),
		ErrorKind:           kind,
		Timestamp:           w.now(),
	}
	if err := w.eventProducer.PublishActivationEvent(ctx, routingKey, event); err != nil {
		log.Printf("level=warn component=propagation msg=\"terminal event publish failed\" radius_activation_id=%s err=%v", activation.ID, err)
	}
}

// classifyCallError separates outages (retried) from rejections (terminal).
func classifyCallError(err error) (domain.ErrorKind, bool) {
	if errors.Is(err, ErrCardStockUnavailable) {
		return domain.KindExternalRejected, false
	}
	if errors.Is(err, sasclient.ErrUnauthorized) {
		return domain.KindExternalRejected, false
	}
	var apiErr *sasclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return domain.KindExternalUnavailable, true
		}
		return domain.KindExternalRejected, false
	}
	// Network errors and timeouts look like outages.
	return domain.KindExternalUnavailable, true
}

func statusCodeOf(err error) *int {
	var apiErr *sasclient.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return &code
	}
	return nil
}
