/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the activation engine. By
 * defining an interface, we decouple the engine's business logic from the
 * PostgreSQL implementation, making the code modular and easy to stub in
 * tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the engine's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
)

// Sentinel errors returned by the repository. Callers branch on these with
// errors.Is and map them onto the engine's error taxonomy.
var (
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrWalletSuspended        = errors.New("wallet is suspended")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrFillLimitExceeded      = errors.New("wallet max fill limit exceeded")
	ErrDailyLimitExceeded     = errors.New("wallet daily spending limit exceeded")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrTransactionReversed    = errors.New("transaction already reversed")
	ErrUserNotFound           = errors.New("radius user not found")
	ErrProfileNotFound        = errors.New("billing profile not found")
	ErrActivationNotFound     = errors.New("activation not found")
	ErrDuplicateCorrelationID = errors.New("correlation id already processed")
	ErrCashbackNotConfigured  = errors.New("no cashback configured for group/profile pairing")
	ErrSyncNotFound           = errors.New("sync run not found")
	ErrSyncAlreadyRunning     = errors.New("a sync is already running for this integration")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// PostTransactionParams describes one ledger movement to apply atomically.
type PostTransactionParams struct {
	WalletID           uuid.UUID
	Direction          domain.TransactionType
	AmountType         domain.AmountType
	Amount             int64 // in fils, must be positive
	TransactionGroupID uuid.UUID
	RelatedTransaction *uuid.UUID
	CashbackStatus     *domain.CashbackStatus
	Description        string
}

// CompleteRadiusActivationParams finalizes a successful propagation. The
// subscriber row update, FreeRADIUS row upserts, history append, and status
// flip all happen inside one database transaction.
type CompleteRadiusActivationParams struct {
	RadiusActivationID uuid.UUID
	APIStatus          string
	ExternalRef        *string
	// ApplyProfile is false for scheduled profile changes that only move the
	// expiration now and hold the profile until the scheduled date.
	ApplyProfile bool
}

// FailRadiusActivationParams records a terminal propagation failure.
type FailRadiusActivationParams struct {
	RadiusActivationID uuid.UUID
	APIStatus          string
	ErrorKind          domain.ErrorKind
	Reason             string
}

// SyncUserRecord is one subscriber row fetched from the external system
// during the user phase of a bulk sync.
type SyncUserRecord struct {
	IntegrationID     uuid.UUID
	ExternalID        int64
	Username          string
	Password          string
	ExternalProfileID *int64
	ExpireDate        *time.Time
	Enabled           bool
}

// ActivationListFilter narrows the read-only activation projection.
type ActivationListFilter struct {
	RadiusUserID *uuid.UUID
	Status       *domain.ActivationStatus
	Limit        int
	Offset       int
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Wallet ledger
	GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
	PostTransaction(ctx context.Context, params PostTransactionParams) (*domain.Transaction, error)
	RecordPendingCashback(ctx context.Context, params PostTransactionParams) (*domain.Transaction, error)
	ReverseTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Transaction, error)

	// Billing reference data
	GetBillingProfile(ctx context.Context, profileID uuid.UUID) (*domain.BillingProfile, error)
	GetRadiusUser(ctx context.Context, userID uuid.UUID) (*domain.RadiusUser, error)
	GetCashbackSetting(ctx context.Context, cashbackGroupID, billingProfileID uuid.UUID) (*domain.CashbackSetting, error)
	CountAvailableCards(ctx context.Context, integrationID, billingProfileID uuid.UUID) (int, error)

	// Billing activations
	CreateBillingActivation(ctx context.Context, activation *domain.BillingActivation) error
	FindBillingActivationByCorrelationID(ctx context.Context, correlationID string) (*domain.BillingActivation, error)
	FindInFlightActivationByUser(ctx context.Context, radiusUserID uuid.UUID) (*domain.BillingActivation, error)
	MarkBillingActivationProcessing(ctx context.Context, activationID uuid.UUID) error
	MarkBillingActivationCompleted(ctx context.Context, activationID, transactionID uuid.UUID, newExpire *time.Time, cashbackAmount int64) error
	MarkBillingActivationFailed(ctx context.Context, activationID uuid.UUID, reason string) error
	GetBillingActivation(ctx context.Context, activationID uuid.UUID) (*domain.BillingActivation, error)
	ListBillingActivations(ctx context.Context, filter ActivationListFilter) ([]domain.BillingActivation, error)

	// RADIUS activations
	CreateRadiusActivation(ctx context.Context, activation *domain.RadiusActivation) error
	GetRadiusActivation(ctx context.Context, activationID uuid.UUID) (*domain.RadiusActivation, error)
	MarkRadiusActivationProcessing(ctx context.Context, activationID uuid.UUID) error
	CompleteRadiusActivation(ctx context.Context, params CompleteRadiusActivationParams) error
	FailRadiusActivation(ctx context.Context, params FailRadiusActivationParams) error
	ScheduleRadiusActivationRetry(ctx context.Context, activationID uuid.UUID, retryCount int, lastRetryAt, nextRetryAt time.Time) error
	ListDueRadiusActivations(ctx context.Context, now time.Time, limit int) ([]domain.RadiusActivation, error)
	ListDueScheduledProfileChanges(ctx context.Context, now time.Time, limit int) ([]domain.RadiusActivation, error)
	ApplyScheduledProfileChange(ctx context.Context, radiusActivationID uuid.UUID) error

	// SAS attempt logs
	CreateSasActivationLog(ctx context.Context, logEntry *domain.SasActivationLog) error
	FinishSasActivationLog(ctx context.Context, logID uuid.UUID, status domain.SasLogStatus, durationMs int64, responseCode *int, errorKind *string, errorMessage *string, nextRetryAt *time.Time) error
	ListSasActivationLogs(ctx context.Context, radiusActivationID uuid.UUID) ([]domain.SasActivationLog, error)

	// Bulk sync
	CreateSyncProgress(ctx context.Context, progress *domain.SyncProgress) error
	GetSyncProgress(ctx context.Context, syncID uuid.UUID) (*domain.SyncProgress, error)
	GetSyncRunState(ctx context.Context, syncID uuid.UUID) (status domain.SyncStatus, cancelRequested bool, err error)
	ListSyncProgress(ctx context.Context, integrationID *uuid.UUID, limit, offset int) ([]domain.SyncProgress, error)
	SetSyncPhase(ctx context.Context, syncID uuid.UUID, phase domain.SyncPhase) error
	UpdateSyncPhaseProgress(ctx context.Context, syncID uuid.UUID, phase domain.PhaseProgress, percentage float64) error
	MarkSyncInterrupted(ctx context.Context, syncID uuid.UUID, reason string) error
	FinishSync(ctx context.Context, syncID uuid.UUID, status domain.SyncStatus, failureReason *string) error
	RequestSyncCancel(ctx context.Context, syncID uuid.UUID) error

	// Synced entities
	UpsertProfile(ctx context.Context, profile *domain.Profile) (domain.RecordOutcome, error)
	UpsertProfileGroup(ctx context.Context, group *domain.ProfileGroup) (domain.RecordOutcome, error)
	UpsertZone(ctx context.Context, zone *domain.Zone) (domain.RecordOutcome, error)
	UpsertNasDevice(ctx context.Context, nas *domain.NasDevice) (domain.RecordOutcome, error)
	UpsertSyncedUser(ctx context.Context, record SyncUserRecord) (domain.RecordOutcome, error)

	// History / audit
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, entity string, entityID uuid.UUID, limit int) ([]domain.AuditLog, error)
	ListRadiusUserHistory(ctx context.Context, radiusUserID uuid.UUID, limit int) ([]domain.RadiusUserHistory, error)
}
