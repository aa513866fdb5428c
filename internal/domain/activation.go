/**
 * @description
 * This file defines the activation domain models: the billing-side and
 * RADIUS-side halves of one activation event, the per-attempt log of calls
 * to the external SAS system, and the audit record every terminal outcome
 * produces.
 *
 * @notes
 * - BillingActivation and RadiusActivation run parallel, linked state
 *   machines: Pending -> Processing -> {Completed, Failed}. The billing half
 *   is terminal once money has moved; the RADIUS half may retry.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivationStatus is the shared state machine of both activation halves.
type ActivationStatus string

const (
	ActivationStatusPending    ActivationStatus = "pending"
	ActivationStatusProcessing ActivationStatus = "processing"
	ActivationStatusCompleted  ActivationStatus = "completed"
	ActivationStatusFailed     ActivationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ActivationStatus) Terminal() bool {
	return s == ActivationStatusCompleted || s == ActivationStatusFailed
}

// ActivationRequest is the single authoritative entry point into the
// orchestrator, received over HTTP or from the automation engine.
type ActivationRequest struct {
	BillingProfileID uuid.UUID `json:"billing_profile_id"`
	RadiusUserID     uuid.UUID `json:"radius_user_id"`
	Source           string    `json:"source"`
	CorrelationID    string    `json:"correlation_id"`
}

// BillingActivation is one user-facing activation/renewal event.
type BillingActivation struct {
	ID                 uuid.UUID        `json:"id"`
	CorrelationID      string           `json:"correlation_id"`
	RadiusUserID       uuid.UUID        `json:"radius_user_id"`
	BillingProfileID   uuid.UUID        `json:"billing_profile_id"`
	WalletID           uuid.UUID        `json:"wallet_id"`
	PreviousExpireDate *time.Time       `json:"previous_expire_date,omitempty"`
	NewExpireDate      *time.Time       `json:"new_expire_date,omitempty"`
	Amount             int64            `json:"amount"`
	CashbackAmount     int64            `json:"cashback_amount"`
	Status             ActivationStatus `json:"status"`
	TransactionID      *uuid.UUID       `json:"transaction_id,omitempty"`
	FailureReason      *string          `json:"failure_reason,omitempty"`
	Source             string           `json:"source"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// ProfileChangeType controls whether a profile change applies immediately or
// is held inert until a scheduled date (deferred downgrades).
type ProfileChangeType string

const (
	ProfileChangeImmediate ProfileChangeType = "immediate"
	ProfileChangeScheduled ProfileChangeType = "scheduled"
)

// RadiusActivation is the RADIUS-side counterpart of a BillingActivation:
// the propagation of the profile/expiration change to the external SAS
// system and the FreeRADIUS schema.
type RadiusActivation struct {
	ID                  uuid.UUID         `json:"id"`
	BillingActivationID uuid.UUID         `json:"billing_activation_id"`
	RadiusUserID        uuid.UUID         `json:"radius_user_id"`
	IntegrationID       uuid.UUID         `json:"integration_id"`
	PreviousExpireDate  *time.Time        `json:"previous_expire_date,omitempty"`
	CurrentExpireDate   *time.Time        `json:"current_expire_date,omitempty"`
	NextExpireDate      *time.Time        `json:"next_expire_date,omitempty"`
	PreviousProfileID   *uuid.UUID        `json:"previous_profile_id,omitempty"`
	CurrentProfileID    uuid.UUID         `json:"current_profile_id"`
	Status              ActivationStatus  `json:"status"`
	APIStatus           *string           `json:"api_status,omitempty"` // outcome of the last external call
	RetryCount          int               `json:"retry_count"`
	LastRetryAt         *time.Time        `json:"last_retry_at,omitempty"`
	NextRetryAt         *time.Time        `json:"next_retry_at,omitempty"`
	ProfileChangeType   ProfileChangeType `json:"profile_change_type"`
	ScheduledChangeDate *time.Time        `json:"scheduled_profile_change_date,omitempty"`
	FailureReason       *string           `json:"failure_reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// SasLogStatus is the lifecycle of one external-call attempt record.
type SasLogStatus string

const (
	SasLogStatusPending   SasLogStatus = "pending"
	SasLogStatusSucceeded SasLogStatus = "succeeded"
	SasLogStatusFailed    SasLogStatus = "failed"
	SasLogStatusExhausted SasLogStatus = "exhausted"
)

// SasActivationLog records one attempt to call the external SAS system for a
// specific user activation.
type SasActivationLog struct {
	ID                 uuid.UUID    `json:"id"`
	RadiusActivationID uuid.UUID    `json:"radius_activation_id"`
	IntegrationID      uuid.UUID    `json:"integration_id"`
	Attempt            int          `json:"attempt"` // 1-based
	Status             SasLogStatus `json:"status"`
	RetryCount         int          `json:"retry_count"`
	MaxRetries         int          `json:"max_retries"`
	DurationMs         int64        `json:"duration_ms"`
	ResponseStatusCode *int         `json:"response_status_code,omitempty"`
	NextRetryAt        *time.Time   `json:"next_retry_at,omitempty"`
	ErrorKind          *string      `json:"error_kind,omitempty"`
	ErrorMessage       *string      `json:"error_message,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// AuditLog is the append-only record of every activation, wallet mutation,
// and sync phase transition, consumed by the reporting layer.
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	Entity     string     `json:"entity"` // e.g. "billing_activation", "wallet", "sync"
	EntityID   uuid.UUID  `json:"entity_id"`
	Action     string     `json:"action"`
	ErrorKind  *string    `json:"error_kind,omitempty"`
	Message    string     `json:"message"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}
