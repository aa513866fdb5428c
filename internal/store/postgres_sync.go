/**
 * @description
 * Persistence for bulk synchronization runs and the entity tables they fill.
 * The partial unique index on running syncs enforces one active run per
 * integration, and every upsert classifies the row as new or updated using
 * the xmax system column so phase counters stay exact.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
)

// CreateSyncProgress inserts a new run plus one row per phase. A second
// running sync for the same integration hits the partial unique index and
// maps to ErrSyncAlreadyRunning.
func (r *PostgresRepository) CreateSyncProgress(ctx context.Context, progress *domain.SyncProgress) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO sync_progress
		   (id, integration_id, status, current_phase, progress_percentage, cancel_requested,
		    failure_reason, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		progress.ID, progress.IntegrationID, progress.Status, progress.CurrentPhase,
		progress.ProgressPercentage, progress.CancelRequested, progress.FailureReason,
		progress.StartedAt, progress.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrSyncAlreadyRunning
		}
		return fmt.Errorf("insert sync progress: %w", err)
	}

	for _, phase := range domain.SyncPhaseOrder {
		_, err = tx.Exec(ctx,
			`INSERT INTO sync_phase_progress (sync_id, phase) VALUES ($1, $2)`,
			progress.ID, phase,
		)
		if err != nil {
			return fmt.Errorf("insert sync phase row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetSyncProgress returns one run with all its phase slices.
func (r *PostgresRepository) GetSyncProgress(ctx context.Context, syncID uuid.UUID) (*domain.SyncProgress, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, integration_id, status, current_phase, progress_percentage, cancel_requested,
		        failure_reason, started_at, updated_at, completed_at
		 FROM sync_progress WHERE id = $1`,
		syncID,
	)
	progress, err := scanSyncProgress(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT phase, current_page, total_pages, total_records, processed_records,
		        new_records, updated_records, failed_records
		 FROM sync_phase_progress WHERE sync_id = $1`,
		syncID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sync phases: %w", err)
	}
	defer rows.Close()

	byPhase := make(map[domain.SyncPhase]domain.PhaseProgress)
	for rows.Next() {
		var p domain.PhaseProgress
		err := rows.Scan(&p.Phase, &p.CurrentPage, &p.TotalPages, &p.TotalRecords,
			&p.ProcessedRecords, &p.NewRecords, &p.UpdatedRecords, &p.FailedRecords)
		if err != nil {
			return nil, fmt.Errorf("scan sync phase: %w", err)
		}
		byPhase[p.Phase] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	for _, phase := range domain.SyncPhaseOrder {
		if p, ok := byPhase[phase]; ok {
			progress.Phases = append(progress.Phases, p)
		}
	}
	return progress, nil
}

func scanSyncProgress(row pgx.Row) (*domain.SyncProgress, error) {
	var s domain.SyncProgress
	err := row.Scan(&s.ID, &s.IntegrationID, &s.Status, &s.CurrentPhase, &s.ProgressPercentage,
		&s.CancelRequested, &s.FailureReason, &s.StartedAt, &s.UpdatedAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSyncNotFound
		}
		return nil, fmt.Errorf("scan sync progress: %w", err)
	}
	return &s, nil
}

// GetSyncRunState is the cheap poll the coordinator runs between pages.
func (r *PostgresRepository) GetSyncRunState(ctx context.Context, syncID uuid.UUID) (domain.SyncStatus, bool, error) {
	var status domain.SyncStatus
	var cancelRequested bool
	err := r.db.QueryRow(ctx,
		`SELECT status, cancel_requested FROM sync_progress WHERE id = $1`, syncID,
	).Scan(&status, &cancelRequested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, ErrSyncNotFound
		}
		return "", false, fmt.Errorf("get sync run state: %w", err)
	}
	return status, cancelRequested, nil
}

// ListSyncProgress returns runs newest first, optionally for one integration.
// Phase slices are not loaded for the listing.
func (r *PostgresRepository) ListSyncProgress(ctx context.Context, integrationID *uuid.UUID, limit, offset int) ([]domain.SyncProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, integration_id, status, current_phase, progress_percentage, cancel_requested,
	                 failure_reason, started_at, updated_at, completed_at
	          FROM sync_progress`
	args := []any{}
	if integrationID != nil {
		args = append(args, *integrationID)
		query += " WHERE integration_id = $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sync runs: %w", err)
	}
	defer rows.Close()

	var result []domain.SyncProgress
	for rows.Next() {
		s, err := scanSyncProgress(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// SetSyncPhase advances the run's current phase marker.
func (r *PostgresRepository) SetSyncPhase(ctx context.Context, syncID uuid.UUID, phase domain.SyncPhase) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE sync_progress SET current_phase = $2, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		syncID, phase,
	)
	if err != nil {
		return fmt.Errorf("set sync phase: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrSyncNotFound
	}
	return nil
}

// UpdateSyncPhaseProgress persists one phase slice after a page completes.
// GREATEST keeps the overall percentage monotonically non-decreasing even
// though per-phase totals become known at different times.
func (r *PostgresRepository) UpdateSyncPhaseProgress(ctx context.Context, syncID uuid.UUID, phase domain.PhaseProgress, percentage float64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE sync_phase_progress
		 SET current_page = $3, total_pages = $4, total_records = $5, processed_records = $6,
		     new_records = $7, updated_records = $8, failed_records = $9
		 WHERE sync_id = $1 AND phase = $2`,
		syncID, phase.Phase, phase.CurrentPage, phase.TotalPages, phase.TotalRecords,
		phase.ProcessedRecords, phase.NewRecords, phase.UpdatedRecords, phase.FailedRecords,
	)
	if err != nil {
		return fmt.Errorf("update sync phase progress: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrSyncNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE sync_progress
		 SET progress_percentage = GREATEST(progress_percentage, $2), updated_at = now()
		 WHERE id = $1`,
		syncID, percentage,
	)
	if err != nil {
		return fmt.Errorf("update sync percentage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// FinishSync moves a run into a terminal state. Completed runs pin the
// percentage to 100.
func (r *PostgresRepository) FinishSync(ctx context.Context, syncID uuid.UUID, status domain.SyncStatus, failureReason *string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish sync: %q is not terminal", status)
	}
	percentageExpr := "progress_percentage"
	if status == domain.SyncStatusCompleted {
		percentageExpr = "100"
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE sync_progress
		 SET status = $2, failure_reason = $3, progress_percentage = `+percentageExpr+`,
		     completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		syncID, status, failureReason,
	)
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrSyncNotFound
	}
	return nil
}

// RequestSyncCancel flips the cooperative cancellation flag. The coordinator
// notices it at the next page boundary.
// MarkSyncInterrupted records an outage on a running sync without closing
// it. The run keeps its status and page positions and stays eligible for
// resume.
func (r *PostgresRepository) MarkSyncInterrupted(ctx context.Context, syncID uuid.UUID, reason string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE sync_progress SET failure_reason = $2, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		syncID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark sync interrupted: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrSyncNotFound
	}
	return nil
}

func (r *PostgresRepository) RequestSyncCancel(ctx context.Context, syncID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE sync_progress SET cancel_requested = TRUE, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		syncID,
	)
	if err != nil {
		return fmt.Errorf("request sync cancel: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrSyncNotFound
	}
	return nil
}

// outcomeFromInsert classifies an upsert using the xmax system column: a
// freshly inserted row has xmax = 0, a row rewritten by ON CONFLICT does not.
func outcomeFromInsert(inserted bool) domain.RecordOutcome {
	if inserted {
		return domain.RecordOutcomeNew
	}
	return domain.RecordOutcomeUpdated
}

// UpsertProfile stores a fetched service profile and mirrors its rate limit
// into the FreeRADIUS group reply table.
func (r *PostgresRepository) UpsertProfile(ctx context.Context, profile *domain.Profile) (domain.RecordOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted bool
	err = tx.QueryRow(ctx,
		`INSERT INTO profiles (id, integration_id, external_id, name, rate_limit, price, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (integration_id, external_id)
		 DO UPDATE SET name = EXCLUDED.name, rate_limit = EXCLUDED.rate_limit,
		               price = EXCLUDED.price, updated_at = now()
		 RETURNING (xmax = 0)`,
		profile.ID, profile.IntegrationID, profile.ExternalID, profile.Name,
		profile.RateLimit, profile.Price,
	).Scan(&inserted)
	if err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("upsert profile: %w", err)
	}

	if profile.RateLimit != "" {
		if err := r.radius.UpsertGroupReply(ctx, tx, profile.Name, AttrRateLimit, profile.RateLimit); err != nil {
			return domain.RecordOutcomeFailed, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("commit tx: %w", err)
	}
	return outcomeFromInsert(inserted), nil
}

// UpsertProfileGroup stores a fetched user group.
func (r *PostgresRepository) UpsertProfileGroup(ctx context.Context, group *domain.ProfileGroup) (domain.RecordOutcome, error) {
	var inserted bool
	err := r.db.QueryRow(ctx,
		`INSERT INTO profile_groups (id, integration_id, external_id, name, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (integration_id, external_id)
		 DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		 RETURNING (xmax = 0)`,
		group.ID, group.IntegrationID, group.ExternalID, group.Name,
	).Scan(&inserted)
	if err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("upsert profile group: %w", err)
	}
	return outcomeFromInsert(inserted), nil
}

// UpsertZone stores a fetched coverage zone.
func (r *PostgresRepository) UpsertZone(ctx context.Context, zone *domain.Zone) (domain.RecordOutcome, error) {
	var inserted bool
	err := r.db.QueryRow(ctx,
		`INSERT INTO zones (id, integration_id, external_id, name, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (integration_id, external_id)
		 DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		 RETURNING (xmax = 0)`,
		zone.ID, zone.IntegrationID, zone.ExternalID, zone.Name,
	).Scan(&inserted)
	if err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("upsert zone: %w", err)
	}
	return outcomeFromInsert(inserted), nil
}

// UpsertNasDevice stores a fetched NAS device.
func (r *PostgresRepository) UpsertNasDevice(ctx context.Context, nas *domain.NasDevice) (domain.RecordOutcome, error) {
	var inserted bool
	err := r.db.QueryRow(ctx,
		`INSERT INTO nas_devices (id, integration_id, external_id, name, ip_address, secret, nas_type, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (integration_id, external_id)
		 DO UPDATE SET name = EXCLUDED.name, ip_address = EXCLUDED.ip_address,
		               secret = EXCLUDED.secret, nas_type = EXCLUDED.nas_type, updated_at = now()
		 RETURNING (xmax = 0)`,
		nas.ID, nas.IntegrationID, nas.ExternalID, nas.Name, nas.IPAddress, nas.Secret, nas.NasType,
	).Scan(&inserted)
	if err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("upsert nas device: %w", err)
	}
	return outcomeFromInsert(inserted), nil
}

// UpsertSyncedUser stores a fetched subscriber. New subscribers get a fresh
// user wallet; disabled ones lose their FreeRADIUS rows so access stops on
// the next authentication.
func (r *PostgresRepository) UpsertSyncedUser(ctx context.Context, record SyncUserRecord) (domain.RecordOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var profileID *uuid.UUID
	if record.ExternalProfileID != nil {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT id FROM billing_profiles WHERE external_profile_id = $1`,
			*record.ExternalProfileID,
		).Scan(&id)
		switch {
		case err == nil:
			profileID = &id
		case errors.Is(err, pgx.ErrNoRows):
			// unknown external profile, leave the local one unset
		default:
			return domain.RecordOutcomeFailed, fmt.Errorf("resolve profile: %w", err)
		}
	}

	var existingID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM radius_users WHERE integration_id = $1 AND external_user_id = $2 FOR UPDATE`,
		record.IntegrationID, record.ExternalID,
	).Scan(&existingID)

	var outcome domain.RecordOutcome
	var username string
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		walletID := uuid.New()
		_, err = tx.Exec(ctx,
			`INSERT INTO wallets (id, name, wallet_type) VALUES ($1, $2, 'user')`,
			walletID, record.Username,
		)
		if err != nil {
			return domain.RecordOutcomeFailed, fmt.Errorf("create user wallet: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO radius_users
			   (id, username, password, integration_id, external_user_id, wallet_id, profile_id,
			    expire_date, enabled)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), record.Username, record.Password, record.IntegrationID, record.ExternalID,
			walletID, profileID, record.ExpireDate, record.Enabled,
		)
		if err != nil {
			return domain.RecordOutcomeFailed, fmt.Errorf("insert radius user: %w", err)
		}
		outcome = domain.RecordOutcomeNew
		username = record.Username
	case err == nil:
		_, err = tx.Exec(ctx,
			`UPDATE radius_users
			 SET username = $2, password = $3, profile_id = $4, expire_date = $5, enabled = $6,
			     deleted_at = NULL, updated_at = now()
			 WHERE id = $1`,
			existingID, record.Username, record.Password, profileID, record.ExpireDate, record.Enabled,
		)
		if err != nil {
			return domain.RecordOutcomeFailed, fmt.Errorf("update radius user: %w", err)
		}
		outcome = domain.RecordOutcomeUpdated
		username = record.Username
	default:
		return domain.RecordOutcomeFailed, fmt.Errorf("find radius user: %w", err)
	}

	if record.Enabled {
		if err := r.radius.UpsertUserChecks(ctx, tx, username, record.Password, record.ExpireDate); err != nil {
			return domain.RecordOutcomeFailed, err
		}
	} else {
		if err := r.radius.DeleteUser(ctx, tx, username); err != nil {
			return domain.RecordOutcomeFailed, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RecordOutcomeFailed, fmt.Errorf("commit tx: %w", err)
	}
	return outcome, nil
}
