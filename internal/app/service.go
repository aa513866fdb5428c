/**
 * @description
 * This file contains the core business logic for the activation engine. The
 * `Service` struct orchestrates activation and renewal requests, coordinating
 * between the wallet ledger, the cashback distributor, the database
 * repository, and the message broker.
 *
 * Key features:
 * - Correlation-id idempotency: replaying a request returns AlreadyProcessed.
 * - Per-subscriber serialization: a distributed lock plus a database
 *   in-flight guard reject interleaved activations for one subscriber.
 * - Ledger-failure short circuit: money problems never reach RADIUS.
 * - No automatic reversal after propagation exhaustion; compensation is an
 *   explicit ReverseTransaction call.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
	"github.com/Ali-Mohammed/openRadius-sub012/pkg/rabbitmq"
)

// Errors the orchestrator surfaces to its callers.
var (
	ErrAlreadyProcessed     = errors.New("correlation id was already processed")
	ErrAlreadyProcessing    = errors.New("an activation is already in flight for this user")
	ErrProfileNotActive     = errors.New("billing profile is not active")
	ErrOfferExpired         = errors.New("billing profile offer has expired")
	ErrUserDeleted          = errors.New("radius user is deleted")
	ErrUnknownIntegration   = errors.New("no settings configured for integration")
	ErrCardStockUnavailable = errors.New("no card stock available for profile")
	ErrRetriesExhausted     = errors.New("activation retries exhausted")
	ErrCancelled            = errors.New("activation cancelled")
)

// IntegrationRegistry resolves per-integration settings by id.
type IntegrationRegistry interface {
	Settings(integrationID uuid.UUID) (domain.IntegrationSettings, bool)
}

// Service provides the activation orchestration logic.
type Service struct {
	repo          store.Repository
	ledger        *Ledger
	cashback      *CashbackDistributor
	locker        UserLocker
	integrations  IntegrationRegistry
	eventProducer rabbitmq.Publisher
	now           func() time.Time
}

// NewService creates a new activation orchestrator.
func NewService(repo store.Repository, ledger *Ledger, cashback *CashbackDistributor, locker UserLocker, integrations IntegrationRegistry, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		ledger:        ledger,
		cashback:      cashback,
		locker:        locker,
		integrations:  integrations,
		eventProducer: producer,
		now:           time.Now,
	}
}

// RequestActivation is the single authoritative entry point for activating
// or renewing a subscriber onto a billing profile.
func (s *Service) RequestActivation(ctx context.Context, req domain.ActivationRequest) (*domain.BillingActivation, error) {
	if err := validateActivationRequest(req); err != nil {
		return nil, err
	}

	// Replays of an already-settled correlation id are terminal.
	if existing, err := s.repo.FindBillingActivationByCorrelationID(ctx, req.CorrelationID); err == nil {
		log.Printf("level=info component=orchestrator msg=\"replayed correlation id\" correlation_id=%s activation_id=%s status=%s",
			req.CorrelationID, existing.ID, existing.Status)
		return existing, ErrAlreadyProcessed
	} else if !errors.Is(err, store.ErrActivationNotFound) {
		return nil, fmt.Errorf("correlation id lookup: %w", err)
	}

	release, acquired, err := s.locker.Acquire(ctx, req.RadiusUserID)
	if err != nil {
		return nil, fmt.Errorf("acquire user lock: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyProcessing
	}
	defer release()

	if _, err := s.repo.FindInFlightActivationByUser(ctx, req.RadiusUserID); err == nil {
		return nil, ErrAlreadyProcessing
	} else if !errors.Is(err, store.ErrActivationNotFound) {
		return nil, fmt.Errorf("in-flight lookup: %w", err)
	}

	user, err := s.repo.GetRadiusUser(ctx, req.RadiusUserID)
	if err != nil {
		return nil, err
	}
	if user.DeletedAt != nil {
		return nil, ErrUserDeleted
	}

	profile, err := s.repo.GetBillingProfile(ctx, req.BillingProfileID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !profile.Active {
		return nil, ErrProfileNotActive
	}
	if profile.OfferExpired(now) {
		return nil, ErrOfferExpired
	}

	if _, ok := s.integrations.Settings(user.IntegrationID); !ok {
		return nil, ErrUnknownIntegration
	}

	activation := &domain.BillingActivation{
		ID:                 uuid.New(),
		CorrelationID:      req.CorrelationID,
		RadiusUserID:       user.ID,
		BillingProfileID:   profile.ID,
		WalletID:           user.WalletID,
		PreviousExpireDate: user.ExpireDate,
		Amount:             profile.Price,
		Status:             domain.ActivationStatusPending,
		Source:             req.Source,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateBillingActivation(ctx, activation); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateCorrelationID):
			return nil, ErrAlreadyProcessed
		case errors.Is(err, store.ErrConcurrentModification):
			return nil, ErrAlreadyProcessing
		}
		return nil, err
	}
	if err := s.repo.MarkBillingActivationProcessing(ctx, activation.ID); err != nil {
		return nil, err
	}
	activation.Status = domain.ActivationStatusProcessing

	debit, err := s.ledger.DebitForActivation(ctx, user.WalletID, profile.Price, uuid.New(),
		fmt.Sprintf("activation of %s for %s", profile.Name, user.Username))
	if err != nil {
		// Ledger failures are terminal for the billing half and surfaced
		// unchanged; no RadiusActivation is created.
		if markErr := s.repo.MarkBillingActivationFailed(ctx, activation.ID, err.Error()); markErr != nil {
			log.Printf("level=error component=orchestrator msg=\"failed to mark activation failed\" activation_id=%s err=%v", activation.ID, markErr)
		}
		s.audit(ctx, activation.ID, "failed", errorKindFor(err), err.Error())
		return nil, err
	}

	cashbackAmount, err := s.cashback.Distribute(ctx, user, profile, debit)
	if err != nil {
		// The debit settled; a cashback problem must not fail the
		// activation. It is audited for reconciliation instead.
		log.Printf("level=error component=orchestrator msg=\"cashback distribution failed\" activation_id=%s err=%v", activation.ID, err)
		s.audit(ctx, activation.ID, "cashback_failed", domain.KindConcurrentModification, err.Error())
		cashbackAmount = 0
	}

	newExpire := computeExpiration(now, user.ExpireDate, profile)
	if err := s.repo.MarkBillingActivationCompleted(ctx, activation.ID, debit.ID, &newExpire, cashbackAmount); err != nil {
		return nil, err
	}
	activation.Status = domain.ActivationStatusCompleted
	activation.TransactionID = &debit.ID
	activation.NewExpireDate = &newExpire
	activation.CashbackAmount = cashbackAmount

	radius, err := s.createRadiusActivation(ctx, activation, user, profile, now, newExpire)
	if err != nil {
		// The billing half is complete and money has moved; the RADIUS half
		// failed to enqueue. Audited, never silently dropped.
		log.Printf("level=error component=orchestrator msg=\"radius activation creation failed\" activation_id=%s err=%v", activation.ID, err)
		s.audit(ctx, activation.ID, "radius_enqueue_failed", domain.KindConcurrentModification, err.Error())
		return activation, err
	}

	event := rabbitmq.ActivationEvent{
		BillingActivationID: activation.ID,
		RadiusActivationID:  radius.ID,
		RadiusUserID:        user.ID,
		IntegrationID:       user.IntegrationID,
		Status:              string(domain.ActivationStatusPending),
		Timestamp:           now,
	}
	if err := s.eventProducer.PublishActivationEvent(ctx, rabbitmq.RoutingKeyActivationPending, event); err != nil {
		// The cron sweep picks up unpublished pending activations, so a
		// broker outage delays propagation rather than losing it.
		log.Printf("level=warn component=orchestrator msg=\"activation event publish failed\" activation_id=%s err=%v", activation.ID, err)
	}

	log.Printf("level=info component=orchestrator msg=\"activation accepted\" activation_id=%s user_id=%s profile_id=%s amount=%d cashback=%d new_expire=%s",
		activation.ID, user.ID, profile.ID, activation.Amount, cashbackAmount, newExpire.Format(time.RFC3339))
	return activation, nil
}

// createRadiusActivation records the RADIUS-side half. A profile change for
// a subscriber who still has time left on a different profile is deferred:
// the expiration moves now, the profile switches at the old expiry.
func (s *Service) createRadiusActivation(ctx context.Context, activation *domain.BillingActivation, user *domain.RadiusUser, profile *domain.BillingProfile, now time.Time, newExpire time.Time) (*domain.RadiusActivation, error) {
	changeType := domain.ProfileChangeImmediate
	var scheduledDate *time.Time
	if user.ProfileID != nil && *user.ProfileID != profile.ID &&
		profile.ExpirationType == domain.ExpirationTypeExtend &&
		user.ExpireDate != nil && user.ExpireDate.After(now) {
		changeType = domain.ProfileChangeScheduled
		scheduledDate = user.ExpireDate
	}

	radius := &domain.RadiusActivation{
		ID:                  uuid.New(),
		BillingActivationID: activation.ID,
		RadiusUserID:        user.ID,
		IntegrationID:       user.IntegrationID,
		PreviousExpireDate:  user.ExpireDate,
		CurrentExpireDate:   &newExpire,
		PreviousProfileID:   user.ProfileID,
		CurrentProfileID:    profile.ID,
		Status:              domain.ActivationStatusPending,
		ProfileChangeType:   changeType,
		ScheduledChangeDate: scheduledDate,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.CreateRadiusActivation(ctx, radius); err != nil {
		return nil, err
	}
	return radius, nil
}

// ReverseActivationTransaction posts the explicit compensating transaction
// for an activation debit, typically after propagation exhausted its
// retries.
func (s *Service) ReverseActivationTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	reversal, err := s.ledger.Reverse(ctx, transactionID, reason)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendAuditLog(ctx, walletAuditEntry(reversal.WalletID, "reversed",
		fmt.Sprintf("transaction %s reversed: %s", transactionID, reason))); err != nil {
		log.Printf("level=error component=orchestrator msg=\"audit append failed\" transaction_id=%s err=%v", transactionID, err)
	}
	return reversal, nil
}

func (s *Service) audit(ctx context.Context, activationID uuid.UUID, action string, kind domain.ErrorKind, message string) {
	entry := domain.AuditLog{
		Entity:    "billing_activation",
		EntityID:  activationID,
		Action:    action,
		ErrorKind: kind.Ptr(),
		Message:   message,
	}
	if err := s.repo.AppendAuditLog(ctx, entry); err != nil {
		log.Printf("level=error component=orchestrator msg=\"audit append failed\" activation_id=%s err=%v", activationID, err)
	}
}

func validateActivationRequest(req domain.ActivationRequest) error {
	if req.BillingProfileID == uuid.Nil {
		return fmt.Errorf("%w: billing_profile_id is required", errValidation)
	}
	if req.RadiusUserID == uuid.Nil {
		return fmt.Errorf("%w: radius_user_id is required", errValidation)
	}
	if req.CorrelationID == "" {
		return fmt.Errorf("%w: correlation_id is required", errValidation)
	}
	if req.Source == "" {
		return fmt.Errorf("%w: source is required", errValidation)
	}
	return nil
}

// errValidation tags bad-input errors so the API layer maps them to 400.
var errValidation = errors.New("validation")

// IsValidationError reports whether err came from request validation.
func IsValidationError(err error) bool {
	return errors.Is(err, errValidation) ||
		errors.Is(err, ErrProfileNotActive) ||
		errors.Is(err, ErrOfferExpired) ||
		errors.Is(err, ErrUserDeleted) ||
		errors.Is(err, ErrUnknownIntegration)
}

// computeExpiration applies the profile's expiration semantics: extend adds
// the duration to the later of now and the previous expiration; instant
// starts the clock at activation time regardless of remaining days.
func computeExpiration(now time.Time, previous *time.Time, profile *domain.BillingProfile) time.Time {
	duration := time.Duration(profile.DurationDays) * 24 * time.Hour
	if profile.ExpirationType == domain.ExpirationTypeInstant {
		return now.Add(duration)
	}
	base := now
	if previous != nil && previous.After(now) {
		base = *previous
	}
	return base.Add(duration)
}

// errorKindFor maps ledger and store sentinels onto the audit taxonomy.
func errorKindFor(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds),
		errors.Is(err, store.ErrDailyLimitExceeded),
		errors.Is(err, store.ErrFillLimitExceeded):
		return domain.KindInsufficientFunds
	case errors.Is(err, store.ErrConcurrentModification):
		return domain.KindConcurrentModification
	case errors.Is(err, ErrCardStockUnavailable):
		return domain.KindExternalRejected
	case errors.Is(err, ErrRetriesExhausted):
		return domain.KindExhausted
	case errors.Is(err, ErrCancelled):
		return domain.KindCancelled
	default:
		return domain.KindValidation
	}
}
