/**
 * @description
 * This file defines the bulk synchronization domain models. A sync run pulls
 * profiles, groups, zones, users, and NAS devices from the external SAS
 * system in a fixed phase order, persisting page-granular progress so an
 * interrupted run resumes from the last completed page.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncPhase is the explicit tagged variant for the coordinator's position in
// a run. Phases always execute in the order of SyncPhaseOrder.
type SyncPhase string

const (
	SyncPhaseProfile SyncPhase = "profile"
	SyncPhaseGroup   SyncPhase = "group"
	SyncPhaseZone    SyncPhase = "zone"
	SyncPhaseUser    SyncPhase = "user"
	SyncPhaseNas     SyncPhase = "nas"
	SyncPhaseDone    SyncPhase = "done"
)

// SyncPhaseOrder is the fixed execution order of a sync run.
var SyncPhaseOrder = []SyncPhase{
	SyncPhaseProfile,
	SyncPhaseGroup,
	SyncPhaseZone,
	SyncPhaseUser,
	SyncPhaseNas,
}

// SyncStatus is the overall state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// Terminal reports whether the run has finished one way or another.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

// PhaseProgress is the persisted per-phase slice of a sync run. The counter
// identity processed == new + updated + failed holds at all times.
type PhaseProgress struct {
	Phase            SyncPhase `json:"phase"`
	CurrentPage      int       `json:"current_page"` // last fully processed page, 0 = none
	TotalPages       int       `json:"total_pages"`  // 0 until the phase has fetched its first page
	TotalRecords     int       `json:"total_records"`
	ProcessedRecords int       `json:"processed_records"`
	NewRecords       int       `json:"new_records"`
	UpdatedRecords   int       `json:"updated_records"`
	FailedRecords    int       `json:"failed_records"`
}

// SyncProgress is one bulk synchronization run. Progress is persisted after
// every page, never only at phase boundaries.
type SyncProgress struct {
	ID                 uuid.UUID       `json:"id"`
	IntegrationID      uuid.UUID       `json:"integration_id"`
	Status             SyncStatus      `json:"status"`
	CurrentPhase       SyncPhase       `json:"current_phase"`
	ProgressPercentage float64         `json:"progress_percentage"`
	CancelRequested    bool            `json:"cancel_requested"`
	Phases             []PhaseProgress `json:"phases"`
	FailureReason      *string         `json:"failure_reason,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// PhaseFor returns the progress slice for the given phase, or nil.
func (p *SyncProgress) PhaseFor(phase SyncPhase) *PhaseProgress {
	for i := range p.Phases {
		if p.Phases[i].Phase == phase {
			return &p.Phases[i]
		}
	}
	return nil
}

// Percentage recomputes the overall progress as processed/total across all
// phases whose totals are known so far. Totals for later phases are unknown
// until the phase starts, so the result is recomputed rather than
// interpolated; callers clamp it to be non-decreasing.
func (p *SyncProgress) Percentage() float64 {
	var processed, total int
	for i := range p.Phases {
		if p.Phases[i].TotalPages == 0 {
			continue
		}
		processed += p.Phases[i].ProcessedRecords
		total += p.Phases[i].TotalRecords
	}
	if total == 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// RecordOutcome classifies one fetched record during a sync phase.
type RecordOutcome string

const (
	RecordOutcomeNew     RecordOutcome = "new"
	RecordOutcomeUpdated RecordOutcome = "updated"
	RecordOutcomeFailed  RecordOutcome = "failed"
)

// Profile is the local copy of a SAS-side service profile.
type Profile struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    int64     `json:"external_id"`
	Name          string    `json:"name"`
	RateLimit     string    `json:"rate_limit"`
	Price         int64     `json:"price"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProfileGroup is the local copy of a SAS-side user group.
type ProfileGroup struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    int64     `json:"external_id"`
	Name          string    `json:"name"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Zone is the local copy of a SAS-side coverage zone.
type Zone struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    int64     `json:"external_id"`
	Name          string    `json:"name"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NasDevice is the local copy of a SAS-side NAS device.
type NasDevice struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    int64     `json:"external_id"`
	Name          string    `json:"name"`
	IPAddress     string    `json:"ip_address"`
	Secret        string    `json:"-"`
	NasType       string    `json:"nas_type"`
	UpdatedAt     time.Time `json:"updated_at"`
}
