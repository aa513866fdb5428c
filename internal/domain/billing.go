/**
 * @description
 * This file defines the billing-side domain models: billing profiles (the
 * service plans subscribers activate), cashback configuration, and RADIUS
 * subscribers as the engine sees them.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExpirationType controls how a profile activation computes the new expire
// date. Extend adds the duration to the previous expiration; instant starts
// the clock at activation time regardless of any remaining days.
type ExpirationType string

const (
	ExpirationTypeExtend  ExpirationType = "extend"
	ExpirationTypeInstant ExpirationType = "instant"
)

// BillingProfile is a sellable service plan.
type BillingProfile struct {
	ID                uuid.UUID      `json:"id"`
	Name              string         `json:"name"`
	Price             int64          `json:"price"` // in fils
	DurationDays      int            `json:"duration_days"`
	ExpirationType    ExpirationType `json:"expiration_type"`
	ExternalProfileID *int64         `json:"external_profile_id,omitempty"` // SAS-side profile id
	RateLimit         string         `json:"rate_limit"`                    // e.g. "10M/10M", pushed to radreply
	Active            bool           `json:"active"`
	IsOffer           bool           `json:"is_offer"`
	OfferExpiresAt    *time.Time     `json:"offer_expires_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// OfferExpired reports whether the profile is an offer whose window has
// closed at the given instant.
func (p *BillingProfile) OfferExpired(now time.Time) bool {
	return p.IsOffer && p.OfferExpiresAt != nil && now.After(*p.OfferExpiresAt)
}

// CashbackPolicy controls when cashback becomes spendable.
type CashbackPolicy string

const (
	CashbackPolicyInstant   CashbackPolicy = "instant"
	CashbackPolicyCollected CashbackPolicy = "collected"
)

// CashbackSetting maps a (cashback group, billing profile) pairing to the
// cashback owed when a member of the group sells or activates that profile.
// Exactly one of Amount and Percent is expected to be non-zero.
type CashbackSetting struct {
	ID               uuid.UUID      `json:"id"`
	CashbackGroupID  uuid.UUID      `json:"cashback_group_id"`
	BillingProfileID uuid.UUID      `json:"billing_profile_id"`
	Amount           int64          `json:"amount"`  // fixed fils amount
	Percent          float64        `json:"percent"` // percent of the activation price
	Policy           CashbackPolicy `json:"policy"`
}

// CashbackFor computes the cashback owed for an activation of the given
// price, rounding percent-based cashback down to whole fils.
func (s *CashbackSetting) CashbackFor(price int64) int64 {
	if s.Amount > 0 {
		return s.Amount
	}
	if s.Percent > 0 {
		return int64(float64(price) * s.Percent / 100)
	}
	return 0
}

// RadiusUser is a subscriber as the engine sees it: the link between a
// wallet, a billing profile, and the RADIUS/SAS identity being provisioned.
type RadiusUser struct {
	ID              uuid.UUID  `json:"id"`
	Username        string     `json:"username"`
	Password        string     `json:"-"`
	IntegrationID   uuid.UUID  `json:"integration_id"`
	ExternalUserID  *int64     `json:"external_user_id,omitempty"` // SAS-side user id
	WalletID        uuid.UUID  `json:"wallet_id"`
	CashbackGroupID *uuid.UUID `json:"cashback_group_id,omitempty"`
	ProfileID       *uuid.UUID `json:"profile_id,omitempty"` // current billing profile
	ExpireDate      *time.Time `json:"expire_date,omitempty"`
	Enabled         bool       `json:"enabled"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RadiusUserHistory is an append-only record of a profile or expiration
// change applied to a subscriber.
type RadiusUserHistory struct {
	ID                 uuid.UUID  `json:"id"`
	RadiusUserID       uuid.UUID  `json:"radius_user_id"`
	PreviousProfileID  *uuid.UUID `json:"previous_profile_id,omitempty"`
	NewProfileID       *uuid.UUID `json:"new_profile_id,omitempty"`
	PreviousExpireDate *time.Time `json:"previous_expire_date,omitempty"`
	NewExpireDate      *time.Time `json:"new_expire_date,omitempty"`
	ChangedBy          string     `json:"changed_by"` // source system or operator
	CreatedAt          time.Time  `json:"created_at"`
}
