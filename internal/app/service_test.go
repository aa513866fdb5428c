package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/rabbitmq"
)

type orchestratorRepoStub struct {
	store.Repository

	user            *domain.RadiusUser
	profile         *domain.BillingProfile
	cashbackSetting *domain.CashbackSetting
	existing        *domain.BillingActivation
	inFlight        *domain.BillingActivation

	debitErr error

	createdActivation *domain.BillingActivation
	createdRadius     *domain.RadiusActivation
	posted            []store.PostTransactionParams
	pendingCashback   []store.PostTransactionParams
	markedFailed      bool
	failureReason     string
	completedExpire   *time.Time
	completedCashback int64
	audits            []domain.AuditLog
}

func (s *orchestratorRepoStub) FindBillingActivationByCorrelationID(ctx context.Context, correlationID string) (*domain.BillingActivation, error) {
	if s.existing != nil && s.existing.CorrelationID == correlationID {
		return s.existing, nil
	}
	return nil, store.ErrActivationNotFound
}

func (s *orchestratorRepoStub) FindInFlightActivationByUser(ctx context.Context, radiusUserID uuid.UUID) (*domain.BillingActivation, error) {
	if s.inFlight != nil {
		return s.inFlight, nil
	}
	return nil, store.ErrActivationNotFound
}

func (s *orchestratorRepoStub) GetRadiusUser(ctx context.Context, userID uuid.UUID) (*domain.RadiusUser, error) {
	if s.user == nil {
		return nil, store.ErrUserNotFound
	}
	return s.user, nil
}

func (s *orchestratorRepoStub) GetBillingProfile(ctx context.Context, profileID uuid.UUID) (*domain.BillingProfile, error) {
	if s.profile == nil {
		return nil, store.ErrProfileNotFound
	}
	return s.profile, nil
}

func (s *orchestratorRepoStub) GetCashbackSetting(ctx context.Context, cashbackGroupID, billingProfileID uuid.UUID) (*domain.CashbackSetting, error) {
	if s.cashbackSetting == nil {
		return nil, store.ErrCashbackNotConfigured
	}
	return s.cashbackSetting, nil
}

func (s *orchestratorRepoStub) CreateBillingActivation(ctx context.Context, activation *domain.BillingActivation) error {
	s.createdActivation = activation
	return nil
}

func (s *orchestratorRepoStub) MarkBillingActivationProcessing(ctx context.Context, activationID uuid.UUID) error {
	return nil
}

func (s *orchestratorRepoStub) MarkBillingActivationCompleted(ctx context.Context, activationID, transactionID uuid.UUID, newExpire *time.Time, cashbackAmount int64) error {
	s.completedExpire = newExpire
	s.completedCashback = cashbackAmount
	return nil
}

func (s *orchestratorRepoStub) MarkBillingActivationFailed(ctx context.Context, activationID uuid.UUID, reason string) error {
	s.markedFailed = true
	s.failureReason = reason
	return nil
}

func (s *orchestratorRepoStub) PostTransaction(ctx context.Context, params store.PostTransactionParams) (*domain.Transaction, error) {
	if params.AmountType == domain.AmountTypeActivation && s.debitErr != nil {
		return nil, s.debitErr
	}
	s.posted = append(s.posted, params)
	return &domain.Transaction{
		ID:                 uuid.New(),
		WalletID:           params.WalletID,
		TransactionType:    params.Direction,
		AmountType:         params.AmountType,
		Amount:             params.Amount,
		TransactionGroupID: params.TransactionGroupID,
		Status:             domain.TransactionStatusCompleted,
	}, nil
}

func (s *orchestratorRepoStub) RecordPendingCashback(ctx context.Context, params store.PostTransactionParams) (*domain.Transaction, error) {
	s.pendingCashback = append(s.pendingCashback, params)
	return &domain.Transaction{
		ID:                 uuid.New(),
		WalletID:           params.WalletID,
		Amount:             params.Amount,
		TransactionGroupID: params.TransactionGroupID,
		Status:             domain.TransactionStatusPending,
	}, nil
}

func (s *orchestratorRepoStub) CreateRadiusActivation(ctx context.Context, activation *domain.RadiusActivation) error {
	s.createdRadius = activation
	return nil
}

func (s *orchestratorRepoStub) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.audits = append(s.audits, entry)
	return nil
}

type publisherStub struct {
	events []rabbitmq.ActivationEvent
	keys   []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *publisherStub) PublishActivationEvent(ctx context.Context, routingKey string, event rabbitmq.ActivationEvent) error {
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func (p *publisherStub) Close() {}

type registryStub struct {
	settings map[uuid.UUID]domain.IntegrationSettings
}

func (r *registryStub) Settings(integrationID uuid.UUID) (domain.IntegrationSettings, bool) {
	s, ok := r.settings[integrationID]
	return s, ok
}

func newTestService(repo *orchestratorRepoStub, integrationID uuid.UUID, now time.Time) (*Service, *publisherStub) {
	ledger := NewLedger(repo)
	producer := &publisherStub{}
	registry := &registryStub{settings: map[uuid.UUID]domain.IntegrationSettings{
		integrationID: {ID: integrationID, Kind: domain.IntegrationKindSAS, SAS: &domain.SASAPISettings{BaseURL: "https://sas.example.com"}},
	}}
	svc := NewService(repo, ledger, NewCashbackDistributor(repo, ledger), NewLocalUserLocker(), registry, producer)
	svc.now = func() time.Time { return now }
	return svc, producer
}

func activationFixture(now time.Time) (*orchestratorRepoStub, domain.ActivationRequest, uuid.UUID) {
	integrationID := uuid.New()
	walletID := uuid.New()
	cashbackGroupID := uuid.New()
	profileID := uuid.New()
	userID := uuid.New()

	repo := &orchestratorRepoStub{
		user: &domain.RadiusUser{
			ID:              userID,
			Username:        "sub-1001",
			IntegrationID:   integrationID,
			WalletID:        walletID,
			CashbackGroupID: &cashbackGroupID,
			Enabled:         true,
		},
		profile: &domain.BillingProfile{
			ID:             profileID,
			Name:           "Fiber 40",
			Price:          4000,
			DurationDays:   30,
			ExpirationType: domain.ExpirationTypeExtend,
			Active:         true,
		},
		cashbackSetting: &domain.CashbackSetting{
			CashbackGroupID:  cashbackGroupID,
			BillingProfileID: profileID,
			Amount:           300,
			Policy:           domain.CashbackPolicyInstant,
		},
	}
	req := domain.ActivationRequest{
		BillingProfileID: profileID,
		RadiusUserID:     userID,
		Source:           "api",
		CorrelationID:    "corr-" + uuid.NewString(),
	}
	return repo, req, integrationID
}

func TestRequestActivation_DebitsCashbackAndEnqueuesRadius(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)
	svc, producer := newTestService(repo, integrationID, now)

	activation, err := svc.RequestActivation(context.Background(), req)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if activation.Status != domain.ActivationStatusCompleted {
		t.Fatalf("expected completed billing activation, got %s", activation.Status)
	}
	if activation.CashbackAmount != 300 {
		t.Fatalf("expected cashback=300, got %d", activation.CashbackAmount)
	}

	if len(repo.posted) != 2 {
		t.Fatalf("expected a debit and a cashback credit, got %d postings", len(repo.posted))
	}
	debit, credit := repo.posted[0], repo.posted[1]
	if debit.Direction != domain.TransactionTypeDebit || debit.Amount != 4000 {
		t.Fatalf("expected debit of 4000, got %s %d", debit.Direction, debit.Amount)
	}
	if credit.Direction != domain.TransactionTypeCredit || credit.Amount != 300 {
		t.Fatalf("expected cashback credit of 300, got %s %d", credit.Direction, credit.Amount)
	}
	if credit.TransactionGroupID != debit.TransactionGroupID {
		t.Fatal("expected cashback to share the debit's transaction group")
	}
	if credit.RelatedTransaction == nil {
		t.Fatal("expected cashback credit to reference the debit")
	}

	if repo.createdRadius == nil {
		t.Fatal("expected a radius activation to be enqueued")
	}
	if repo.createdRadius.ProfileChangeType != domain.ProfileChangeImmediate {
		t.Fatalf("expected immediate profile change, got %s", repo.createdRadius.ProfileChangeType)
	}
	wantExpire := now.Add(30 * 24 * time.Hour)
	if activation.NewExpireDate == nil || !activation.NewExpireDate.Equal(wantExpire) {
		t.Fatalf("expected new expire %s, got %v", wantExpire, activation.NewExpireDate)
	}

	if len(producer.keys) != 1 || producer.keys[0] != rabbitmq.RoutingKeyActivationPending {
		t.Fatalf("expected one pending event, got %v", producer.keys)
	}
	if producer.events[0].RadiusActivationID != repo.createdRadius.ID {
		t.Fatal("expected the event to carry the radius activation id")
	}
}

func TestRequestActivation_InsufficientFundsShortCircuits(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)
	repo.debitErr = store.ErrInsufficientFunds
	svc, producer := newTestService(repo, integrationID, now)

	_, err := svc.RequestActivation(context.Background(), req)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !repo.markedFailed {
		t.Fatal("expected the billing activation to be marked failed")
	}
	if repo.createdRadius != nil {
		t.Fatal("a ledger failure must never reach the radius side")
	}
	if len(producer.keys) != 0 {
		t.Fatal("expected no events for a failed debit")
	}
	if len(repo.audits) == 0 {
		t.Fatal("expected an audit row for the failure")
	}
	if repo.audits[0].ErrorKind == nil || *repo.audits[0].ErrorKind != string(domain.KindInsufficientFunds) {
		t.Fatalf("expected insufficient_funds audit kind, got %v", repo.audits[0].ErrorKind)
	}
}

func TestRequestActivation_ReplayedCorrelationIDReturnsOriginal(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)
	repo.existing = &domain.BillingActivation{
		ID:            uuid.New(),
		CorrelationID: req.CorrelationID,
		Status:        domain.ActivationStatusCompleted,
	}
	svc, _ := newTestService(repo, integrationID, now)

	activation, err := svc.RequestActivation(context.Background(), req)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	if activation == nil || activation.ID != repo.existing.ID {
		t.Fatal("expected the original activation to be returned on replay")
	}
	if repo.createdActivation != nil {
		t.Fatal("a replay must not create a second activation")
	}
}

func TestRequestActivation_RejectsWhenUserHasInFlightActivation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)
	repo.inFlight = &domain.BillingActivation{ID: uuid.New(), Status: domain.ActivationStatusProcessing}
	svc, _ := newTestService(repo, integrationID, now)

	_, err := svc.RequestActivation(context.Background(), req)
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if repo.createdActivation != nil {
		t.Fatal("expected no new activation while one is in flight")
	}
}

func TestRequestActivation_DeletedUserRejected(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)
	deleted := now.Add(-24 * time.Hour)
	repo.user.DeletedAt = &deleted
	svc, _ := newTestService(repo, integrationID, now)

	if _, err := svc.RequestActivation(context.Background(), req); !errors.Is(err, ErrUserDeleted) {
		t.Fatalf("expected ErrUserDeleted, got %v", err)
	}
}

func TestRequestActivation_SchedulesProfileChangeForActiveSubscriber(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)

	// Subscriber still has ten days left on a different profile; the new
	// profile's duration extends from the old expiry and the profile switch
	// itself is held until then.
	oldProfileID := uuid.New()
	oldExpire := now.Add(10 * 24 * time.Hour)
	repo.user.ProfileID = &oldProfileID
	repo.user.ExpireDate = &oldExpire

	svc, _ := newTestService(repo, integrationID, now)

	activation, err := svc.RequestActivation(context.Background(), req)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if repo.createdRadius.ProfileChangeType != domain.ProfileChangeScheduled {
		t.Fatalf("expected scheduled profile change, got %s", repo.createdRadius.ProfileChangeType)
	}
	if repo.createdRadius.ScheduledChangeDate == nil || !repo.createdRadius.ScheduledChangeDate.Equal(oldExpire) {
		t.Fatalf("expected profile switch at old expiry %s, got %v", oldExpire, repo.createdRadius.ScheduledChangeDate)
	}
	wantExpire := oldExpire.Add(30 * 24 * time.Hour)
	if activation.NewExpireDate == nil || !activation.NewExpireDate.Equal(wantExpire) {
		t.Fatalf("expected expire extended to %s, got %v", wantExpire, activation.NewExpireDate)
	}
}

func TestRequestActivation_ValidatesInput(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo, req, integrationID := activationFixture(now)
	req.CorrelationID = ""
	svc, _ := newTestService(repo, integrationID, now)

	_, err := svc.RequestActivation(context.Background(), req)
	if err == nil || !IsValidationError(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestComputeExpiration(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(72 * time.Hour)

	tests := []struct {
		name     string
		profile  domain.BillingProfile
		previous *time.Time
		want     time.Time
	}{
		{
			name:     "instant ignores remaining days",
			profile:  domain.BillingProfile{DurationDays: 30, ExpirationType: domain.ExpirationTypeInstant},
			previous: &future,
			want:     now.Add(30 * 24 * time.Hour),
		},
		{
			name:     "extend from future expiry",
			profile:  domain.BillingProfile{DurationDays: 30, ExpirationType: domain.ExpirationTypeExtend},
			previous: &future,
			want:     future.Add(30 * 24 * time.Hour),
		},
		{
			name:     "extend from now when already expired",
			profile:  domain.BillingProfile{DurationDays: 30, ExpirationType: domain.ExpirationTypeExtend},
			previous: &past,
			want:     now.Add(30 * 24 * time.Hour),
		},
		{
			name:    "extend with no previous expiry",
			profile: domain.BillingProfile{DurationDays: 7, ExpirationType: domain.ExpirationTypeExtend},
			want:    now.Add(7 * 24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeExpiration(now, tt.previous, &tt.profile)
			if !got.Equal(tt.want) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
