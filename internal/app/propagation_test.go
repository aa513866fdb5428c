package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/sasclient"
)

type propagationRepoStub struct {
	store.Repository

	activation *domain.RadiusActivation
	user       *domain.RadiusUser
	profile    *domain.BillingProfile

	logs        []*domain.SasActivationLog
	logStatuses map[uuid.UUID]domain.SasLogStatus
	completed   *store.CompleteRadiusActivationParams
	failed      *store.FailRadiusActivationParams
	retries     int
	cardStock   int
}

func (s *propagationRepoStub) CountAvailableCards(ctx context.Context, integrationID, billingProfileID uuid.UUID) (int, error) {
	return s.cardStock, nil
}

func (s *propagationRepoStub) GetRadiusActivation(ctx context.Context, activationID uuid.UUID) (*domain.RadiusActivation, error) {
	if s.activation == nil {
		return nil, store.ErrActivationNotFound
	}
	snapshot := *s.activation
	return &snapshot, nil
}

func (s *propagationRepoStub) MarkRadiusActivationProcessing(ctx context.Context, activationID uuid.UUID) error {
	if s.activation.Status.Terminal() {
		return store.ErrConcurrentModification
	}
	s.activation.Status = domain.ActivationStatusProcessing
	return nil
}

func (s *propagationRepoStub) GetRadiusUser(ctx context.Context, userID uuid.UUID) (*domain.RadiusUser, error) {
	return s.user, nil
}

func (s *propagationRepoStub) GetBillingProfile(ctx context.Context, profileID uuid.UUID) (*domain.BillingProfile, error) {
	return s.profile, nil
}

func (s *propagationRepoStub) CreateSasActivationLog(ctx context.Context, logEntry *domain.SasActivationLog) error {
	s.logs = append(s.logs, logEntry)
	if s.logStatuses == nil {
		s.logStatuses = make(map[uuid.UUID]domain.SasLogStatus)
	}
	s.logStatuses[logEntry.ID] = logEntry.Status
	return nil
}

func (s *propagationRepoStub) FinishSasActivationLog(ctx context.Context, logID uuid.UUID, status domain.SasLogStatus, durationMs int64, responseCode *int, errorKind *string, errorMessage *string, nextRetryAt *time.Time) error {
	s.logStatuses[logID] = status
	return nil
}

func (s *propagationRepoStub) CompleteRadiusActivation(ctx context.Context, params store.CompleteRadiusActivationParams) error {
	s.completed = &params
	s.activation.Status = domain.ActivationStatusCompleted
	return nil
}

func (s *propagationRepoStub) FailRadiusActivation(ctx context.Context, params store.FailRadiusActivationParams) error {
	s.failed = &params
	s.activation.Status = domain.ActivationStatusFailed
	return nil
}

func (s *propagationRepoStub) ScheduleRadiusActivationRetry(ctx context.Context, activationID uuid.UUID, retryCount int, lastRetryAt, nextRetryAt time.Time) error {
	s.retries++
	s.activation.Status = domain.ActivationStatusPending
	s.activation.RetryCount = retryCount
	s.activation.NextRetryAt = &nextRetryAt
	return nil
}

type activatorStub struct {
	status      string
	externalRef string
	err         error
	stock       int
	stockErr    error
	calls       int
	stockCalls  int
	onActivate  func()
}

func (a *activatorStub) Activate(ctx context.Context, req sasclient.ActivateRequest) (string, string, error) {
	a.calls++
	if a.onActivate != nil {
		a.onActivate()
	}
	if a.err != nil {
		return "", "", a.err
	}
	return a.status, a.externalRef, nil
}

func (a *activatorStub) CheckCardStock(ctx context.Context, profileID int64) (int, error) {
	a.stockCalls++
	if a.stockErr != nil {
		return 0, a.stockErr
	}
	return a.stock, nil
}

type clientFactoryStub struct {
	client SASActivator
}

func (f *clientFactoryStub) ClientFor(integrationID uuid.UUID) (SASActivator, bool) {
	if f.client == nil {
		return nil, false
	}
	return f.client, true
}

func propagationFixture(activationSettings domain.ActivationSettings) (*propagationRepoStub, domain.IntegrationSettings) {
	integrationID := uuid.New()
	externalUserID := int64(501)
	externalProfileID := int64(12)
	userID := uuid.New()
	profileID := uuid.New()
	expire := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	repo := &propagationRepoStub{
		activation: &domain.RadiusActivation{
			ID:                  uuid.New(),
			BillingActivationID: uuid.New(),
			RadiusUserID:        userID,
			IntegrationID:       integrationID,
			CurrentProfileID:    profileID,
			CurrentExpireDate:   &expire,
			Status:              domain.ActivationStatusPending,
			ProfileChangeType:   domain.ProfileChangeImmediate,
		},
		user: &domain.RadiusUser{
			ID:             userID,
			Username:       "sub-1001",
			IntegrationID:  integrationID,
			ExternalUserID: &externalUserID,
		},
		profile: &domain.BillingProfile{
			ID:                profileID,
			Name:              "Fiber 40",
			ExternalProfileID: &externalProfileID,
		},
	}
	settings := domain.IntegrationSettings{
		ID:         integrationID,
		Kind:       domain.IntegrationKindSAS,
		SAS:        &domain.SASAPISettings{BaseURL: "https://sas.example.com"},
		Activation: activationSettings,
	}
	return repo, settings
}

func newTestWorker(repo *propagationRepoStub, settings domain.IntegrationSettings, client SASActivator) *PropagationWorker {
	registry := &registryStub{settings: map[uuid.UUID]domain.IntegrationSettings{settings.ID: settings}}
	return NewPropagationWorker(repo, registry, &clientFactoryStub{client: client}, &publisherStub{})
}

func TestPropagation_SuccessAppliesProfileAndRecordsAttempt(t *testing.T) {
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: 3, RetryDelayMinutes: 5, TimeoutSeconds: 5, MaxConcurrency: 1})
	client := &activatorStub{status: "active", externalRef: "sas-tx-77"}
	worker := newTestWorker(repo, settings, client)

	if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	worker.Wait()

	if repo.completed == nil {
		t.Fatal("expected the activation to complete")
	}
	if !repo.completed.ApplyProfile {
		t.Fatal("an immediate change must apply the profile on completion")
	}
	if repo.completed.ExternalRef == nil || *repo.completed.ExternalRef != "sas-tx-77" {
		t.Fatalf("expected external ref to be recorded, got %v", repo.completed.ExternalRef)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("expected exactly one attempt row, got %d", len(repo.logs))
	}
	if repo.logStatuses[repo.logs[0].ID] != domain.SasLogStatusSucceeded {
		t.Fatalf("expected succeeded attempt, got %s", repo.logStatuses[repo.logs[0].ID])
	}
}

func TestPropagation_ScheduledChangeDoesNotApplyProfile(t *testing.T) {
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: 1, RetryDelayMinutes: 5, TimeoutSeconds: 5, MaxConcurrency: 1})
	scheduled := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	repo.activation.ProfileChangeType = domain.ProfileChangeScheduled
	repo.activation.ScheduledChangeDate = &scheduled
	worker := newTestWorker(repo, settings, &activatorStub{status: "active"})

	if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	worker.Wait()

	if repo.completed == nil {
		t.Fatal("expected the activation to complete")
	}
	if repo.completed.ApplyProfile {
		t.Fatal("a scheduled change must hold the profile until the scheduled date")
	}
}

func TestPropagation_ExhaustsAfterMaxRetriesPlusOneAttempts(t *testing.T) {
	maxRetries := 2
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: maxRetries, RetryDelayMinutes: 5, TimeoutSeconds: 5, MaxConcurrency: 1})
	client := &activatorStub{err: &sasclient.APIError{StatusCode: 503, Status: "unavailable", Message: "maintenance"}}
	worker := newTestWorker(repo, settings, client)

	for i := 0; i < maxRetries+2 && repo.failed == nil; i++ {
		if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
			t.Fatalf("submit %d failed: %v", i+1, err)
		}
		worker.Wait()
	}

	if repo.failed == nil {
		t.Fatal("expected the activation to fail terminally")
	}
	if repo.failed.ErrorKind != domain.KindExhausted {
		t.Fatalf("expected exhausted kind, got %s", repo.failed.ErrorKind)
	}
	if len(repo.logs) != maxRetries+1 {
		t.Fatalf("expected %d attempt rows, got %d", maxRetries+1, len(repo.logs))
	}
	if repo.retries != maxRetries {
		t.Fatalf("expected %d scheduled retries, got %d", maxRetries, repo.retries)
	}
	last := repo.logs[len(repo.logs)-1]
	if repo.logStatuses[last.ID] != domain.SasLogStatusExhausted {
		t.Fatalf("expected last attempt marked exhausted, got %s", repo.logStatuses[last.ID])
	}
	if last.Attempt != maxRetries+1 {
		t.Fatalf("expected last attempt number %d, got %d", maxRetries+1, last.Attempt)
	}

	// A terminal activation is never picked up again.
	if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	worker.Wait()
	if len(repo.logs) != maxRetries+1 {
		t.Fatal("expected no attempt after the terminal failure")
	}
}

func TestPropagation_CardStockRejectionIsTerminal(t *testing.T) {
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: 3, RetryDelayMinutes: 5, TimeoutSeconds: 5, MaxConcurrency: 1, CheckCardAvailability: true})
	client := &activatorStub{status: "active", stock: 0}
	worker := newTestWorker(repo, settings, client)

	if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	worker.Wait()

	if repo.failed == nil {
		t.Fatal("expected a terminal failure")
	}
	if repo.failed.ErrorKind != domain.KindExternalRejected {
		t.Fatalf("expected external_rejected kind, got %s", repo.failed.ErrorKind)
	}
	if repo.retries != 0 {
		t.Fatal("a rejection must not be retried")
	}
	if client.calls != 0 {
		t.Fatal("expected no activation call when stock is empty")
	}
}

func TestPropagation_LocalCardStockSkipsExternalStockCheck(t *testing.T) {
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: 3, RetryDelayMinutes: 5, TimeoutSeconds: 5, MaxConcurrency: 1, CheckCardAvailability: true})
	repo.cardStock = 4
	client := &activatorStub{status: "active", externalRef: "sas-tx-9", stockErr: errors.New("card endpoint down")}
	worker := newTestWorker(repo, settings, client)

	if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	worker.Wait()

	if repo.completed == nil {
		t.Fatal("expected the activation to complete on local stock")
	}
	if client.stockCalls != 0 {
		t.Fatalf("expected no external stock check when local stock exists, got %d", client.stockCalls)
	}
	if client.calls != 1 {
		t.Fatalf("expected one activation call, got %d", client.calls)
	}
}

func TestPropagation_CancellationRecordedAsFailed(t *testing.T) {
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: 3, RetryDelayMinutes: 5, TimeoutSeconds: 5, MaxConcurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	client := &activatorStub{err: errors.New("connection reset"), onActivate: cancel}
	worker := newTestWorker(repo, settings, client)

	if err := worker.Submit(ctx, repo.activation.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	worker.Wait()

	if repo.failed == nil {
		t.Fatal("expected the cancelled attempt to be recorded as failed")
	}
	if repo.failed.ErrorKind != domain.KindCancelled {
		t.Fatalf("expected cancelled kind, got %s", repo.failed.ErrorKind)
	}
	if repo.retries != 0 {
		t.Fatal("a cancelled attempt must not schedule a retry")
	}
}

func TestPropagation_FreeRadiusIntegrationNeedsNoClient(t *testing.T) {
	repo, settings := propagationFixture(domain.ActivationSettings{MaxRetries: 1, RetryDelayMinutes: 1, TimeoutSeconds: 5, MaxConcurrency: 1})
	settings.Kind = domain.IntegrationKindFreeRadius
	settings.SAS = nil
	worker := newTestWorker(repo, settings, nil)

	if err := worker.Submit(context.Background(), repo.activation.ID); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	worker.Wait()

	if repo.completed == nil {
		t.Fatal("expected the local-only activation to complete")
	}
	if repo.completed.APIStatus != "local" {
		t.Fatalf("expected api status local, got %s", repo.completed.APIStatus)
	}
}

func TestClassifyCallError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      domain.ErrorKind
		wantRetryable bool
	}{
		{
			name:          "card stock rejection",
			err:           ErrCardStockUnavailable,
			wantKind:      domain.KindExternalRejected,
			wantRetryable: false,
		},
		{
			name:          "credentials rejected",
			err:           sasclient.ErrUnauthorized,
			wantKind:      domain.KindExternalRejected,
			wantRetryable: false,
		},
		{
			name:          "server error is transient",
			err:           &sasclient.APIError{StatusCode: 502},
			wantKind:      domain.KindExternalUnavailable,
			wantRetryable: true,
		},
		{
			name:          "rate limiting is transient",
			err:           &sasclient.APIError{StatusCode: 429},
			wantKind:      domain.KindExternalUnavailable,
			wantRetryable: true,
		},
		{
			name:          "bad request is terminal",
			err:           &sasclient.APIError{StatusCode: 422},
			wantKind:      domain.KindExternalRejected,
			wantRetryable: false,
		},
		{
			name:          "network error is transient",
			err:           errors.New("dial tcp: connection refused"),
			wantKind:      domain.KindExternalUnavailable,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, retryable := classifyCallError(tt.err)
			if kind != tt.wantKind || retryable != tt.wantRetryable {
				t.Fatalf("expected (%s, %t), got (%s, %t)", tt.wantKind, tt.wantRetryable, kind, retryable)
			}
		})
	}
}
