/**
 * @description
 * Persistence for billing reference data and the two linked activation state
 * machines. The interesting parts are CreateBillingActivation, where unique
 * indexes enforce correlation-id idempotency and the one-in-flight-per-user
 * rule at the database level, and CompleteRadiusActivation, which applies
 * the subscriber mutation, the FreeRADIUS rows, the history append, and the
 * status flip in a single transaction.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
)

// GetBillingProfile returns a billing profile by id.
func (r *PostgresRepository) GetBillingProfile(ctx context.Context, profileID uuid.UUID) (*domain.BillingProfile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, price, duration_days, expiration_type, external_profile_id, rate_limit,
		        active, is_offer, offer_expires_at, created_at
		 FROM billing_profiles WHERE id = $1`,
		profileID,
	)
	var p domain.BillingProfile
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.ExpirationType,
		&p.ExternalProfileID, &p.RateLimit, &p.Active, &p.IsOffer, &p.OfferExpiresAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get billing profile: %w", err)
	}
	return &p, nil
}

// GetRadiusUser returns a subscriber by id. Soft-deleted users are still
// returned; callers check DeletedAt.
func (r *PostgresRepository) GetRadiusUser(ctx context.Context, userID uuid.UUID) (*domain.RadiusUser, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, username, password, integration_id, external_user_id, wallet_id,
		        cashback_group_id, profile_id, expire_date, enabled, deleted_at, created_at, updated_at
		 FROM radius_users WHERE id = $1`,
		userID,
	)
	var u domain.RadiusUser
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.IntegrationID, &u.ExternalUserID,
		&u.WalletID, &u.CashbackGroupID, &u.ProfileID, &u.ExpireDate, &u.Enabled,
		&u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get radius user: %w", err)
	}
	return &u, nil
}

// GetCashbackSetting returns the cashback configuration for a (group,
// profile) pairing, or ErrCashbackNotConfigured.
func (r *PostgresRepository) GetCashbackSetting(ctx context.Context, cashbackGroupID, billingProfileID uuid.UUID) (*domain.CashbackSetting, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, cashback_group_id, billing_profile_id, amount, percent, policy
		 FROM cashback_settings WHERE cashback_group_id = $1 AND billing_profile_id = $2`,
		cashbackGroupID, billingProfileID,
	)
	var s domain.CashbackSetting
	err := row.Scan(&s.ID, &s.CashbackGroupID, &s.BillingProfileID, &s.Amount, &s.Percent, &s.Policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCashbackNotConfigured
		}
		return nil, fmt.Errorf("get cashback setting: %w", err)
	}
	return &s, nil
}

// CountAvailableCards returns the unused card stock for a profile.
func (r *PostgresRepository) CountAvailableCards(ctx context.Context, integrationID, billingProfileID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(1) FROM cards
		 WHERE integration_id = $1 AND billing_profile_id = $2 AND used_at IS NULL`,
		integrationID, billingProfileID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return count, nil
}

// CreateBillingActivation inserts a new activation. The unique index on
// correlation_id rejects replays; the partial unique index on in-flight
// statuses rejects a second concurrent activation for the same subscriber.
func (r *PostgresRepository) CreateBillingActivation(ctx context.Context, a *domain.BillingActivation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_activations
		   (id, correlation_id, radius_user_id, billing_profile_id, wallet_id, previous_expire_date,
		    new_expire_date, amount, cashback_amount, status, transaction_id, failure_reason, source,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.CorrelationID, a.RadiusUserID, a.BillingProfileID, a.WalletID, a.PreviousExpireDate,
		a.NewExpireDate, a.Amount, a.CashbackAmount, a.Status, a.TransactionID, a.FailureReason,
		a.Source, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "correlation") {
				return ErrDuplicateCorrelationID
			}
			return ErrConcurrentModification
		}
		return fmt.Errorf("insert billing activation: %w", err)
	}
	return nil
}

const billingActivationColumns = `id, correlation_id, radius_user_id, billing_profile_id, wallet_id,
	previous_expire_date, new_expire_date, amount, cashback_amount, status, transaction_id,
	failure_reason, source, created_at, updated_at`

func scanBillingActivation(row pgx.Row) (*domain.BillingActivation, error) {
	var a domain.BillingActivation
	err := row.Scan(&a.ID, &a.CorrelationID, &a.RadiusUserID, &a.BillingProfileID, &a.WalletID,
		&a.PreviousExpireDate, &a.NewExpireDate, &a.Amount, &a.CashbackAmount, &a.Status,
		&a.TransactionID, &a.FailureReason, &a.Source, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivationNotFound
		}
		return nil, fmt.Errorf("scan billing activation: %w", err)
	}
	return &a, nil
}

// FindBillingActivationByCorrelationID returns the activation created for a
// correlation id, if any.
func (r *PostgresRepository) FindBillingActivationByCorrelationID(ctx context.Context, correlationID string) (*domain.BillingActivation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+billingActivationColumns+` FROM billing_activations WHERE correlation_id = $1`,
		correlationID,
	)
	return scanBillingActivation(row)
}

// FindInFlightActivationByUser returns a pending/processing activation for
// the subscriber, if one exists.
func (r *PostgresRepository) FindInFlightActivationByUser(ctx context.Context, radiusUserID uuid.UUID) (*domain.BillingActivation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+billingActivationColumns+` FROM billing_activations
		 WHERE radius_user_id = $1 AND status IN ('pending', 'processing')`,
		radiusUserID,
	)
	return scanBillingActivation(row)
}

// GetBillingActivation returns one activation by id.
func (r *PostgresRepository) GetBillingActivation(ctx context.Context, activationID uuid.UUID) (*domain.BillingActivation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+billingActivationColumns+` FROM billing_activations WHERE id = $1`, activationID)
	return scanBillingActivation(row)
}

// ListBillingActivations returns the read-only activation projection.
func (r *PostgresRepository) ListBillingActivations(ctx context.Context, filter ActivationListFilter) ([]domain.BillingActivation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + billingActivationColumns + ` FROM billing_activations WHERE 1=1`
	args := []any{}
	if filter.RadiusUserID != nil {
		args = append(args, *filter.RadiusUserID)
		query += fmt.Sprintf(" AND radius_user_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select billing activations: %w", err)
	}
	defer rows.Close()

	var result []domain.BillingActivation
	for rows.Next() {
		a, err := scanBillingActivation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// MarkBillingActivationProcessing moves pending -> processing.
func (r *PostgresRepository) MarkBillingActivationProcessing(ctx context.Context, activationID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE billing_activations SET status = 'processing', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		activationID,
	)
	if err != nil {
		return fmt.Errorf("mark activation processing: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrConcurrentModification
	}
	return nil
}

// MarkBillingActivationCompleted finalizes the billing half after the ledger
// step succeeded. Completed is terminal.
func (r *PostgresRepository) MarkBillingActivationCompleted(ctx context.Context, activationID, transactionID uuid.UUID, newExpire *time.Time, cashbackAmount int64) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE billing_activations
		 SET status = 'completed', transaction_id = $2, new_expire_date = $3, cashback_amount = $4, updated_at = now()
		 WHERE id = $1 AND status = 'processing'`,
		activationID, transactionID, newExpire, cashbackAmount,
	)
	if err != nil {
		return fmt.Errorf("mark activation completed: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrConcurrentModification
	}
	return nil
}

// MarkBillingActivationFailed finalizes the billing half after a ledger or
// validation failure. Failed is terminal.
func (r *PostgresRepository) MarkBillingActivationFailed(ctx context.Context, activationID uuid.UUID, reason string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE billing_activations SET status = 'failed', failure_reason = $2, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		activationID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark activation failed: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrConcurrentModification
	}
	return nil
}

// CreateRadiusActivation inserts the RADIUS-side half of an activation.
func (r *PostgresRepository) CreateRadiusActivation(ctx context.Context, a *domain.RadiusActivation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO radius_activations
		   (id, billing_activation_id, radius_user_id, integration_id, previous_expire_date,
		    current_expire_date, next_expire_date, previous_profile_id, current_profile_id, status,
		    api_status, retry_count, last_retry_at, next_retry_at, profile_change_type,
		    scheduled_profile_change_date, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		a.ID, a.BillingActivationID, a.RadiusUserID, a.IntegrationID, a.PreviousExpireDate,
		a.CurrentExpireDate, a.NextExpireDate, a.PreviousProfileID, a.CurrentProfileID, a.Status,
		a.APIStatus, a.RetryCount, a.LastRetryAt, a.NextRetryAt, a.ProfileChangeType,
		a.ScheduledChangeDate, a.FailureReason, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert radius activation: %w", err)
	}
	return nil
}

const radiusActivationColumns = `id, billing_activation_id, radius_user_id, integration_id,
	previous_expire_date, current_expire_date, next_expire_date, previous_profile_id,
	current_profile_id, status, api_status, retry_count, last_retry_at, next_retry_at,
	profile_change_type, scheduled_profile_change_date, failure_reason, created_at, updated_at`

func scanRadiusActivation(row pgx.Row) (*domain.RadiusActivation, error) {
	var a domain.RadiusActivation
	err := row.Scan(&a.ID, &a.BillingActivationID, &a.RadiusUserID, &a.IntegrationID,
		&a.PreviousExpireDate, &a.CurrentExpireDate, &a.NextExpireDate, &a.PreviousProfileID,
		&a.CurrentProfileID, &a.Status, &a.APIStatus, &a.RetryCount, &a.LastRetryAt,
		&a.NextRetryAt, &a.ProfileChangeType, &a.ScheduledChangeDate, &a.FailureReason,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActivationNotFound
		}
		return nil, fmt.Errorf("scan radius activation: %w", err)
	}
	return &a, nil
}

// GetRadiusActivation returns one RADIUS activation by id.
func (r *PostgresRepository) GetRadiusActivation(ctx context.Context, activationID uuid.UUID) (*domain.RadiusActivation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+radiusActivationColumns+` FROM radius_activations WHERE id = $1`, activationID)
	return scanRadiusActivation(row)
}

// MarkRadiusActivationProcessing claims an activation for one attempt: it
// moves to processing and clears next_retry_at so the due sweep does not
// hand the same activation to a second worker.
func (r *PostgresRepository) MarkRadiusActivationProcessing(ctx context.Context, activationID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE radius_activations SET status = 'processing', next_retry_at = NULL, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		activationID,
	)
	if err != nil {
		return fmt.Errorf("mark radius activation processing: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrConcurrentModification
	}
	return nil
}

// CompleteRadiusActivation finalizes a successful propagation in one
// transaction: subscriber row, FreeRADIUS rows, history, status, audit.
func (r *PostgresRepository) CompleteRadiusActivation(ctx context.Context, params CompleteRadiusActivationParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	activation, err := scanRadiusActivation(tx.QueryRow(ctx,
		`SELECT `+radiusActivationColumns+` FROM radius_activations WHERE id = $1 FOR UPDATE`,
		params.RadiusActivationID,
	))
	if err != nil {
		return err
	}
	if activation.Status == domain.ActivationStatusCompleted {
		return nil // replayed completion
	}
	if activation.Status == domain.ActivationStatusFailed {
		return ErrConcurrentModification
	}

	user, profile, err := r.applyActivationToUser(ctx, tx, activation, params.ApplyProfile)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE radius_activations SET status = 'completed', api_status = $2, updated_at = now()
		 WHERE id = $1`,
		activation.ID, params.APIStatus,
	)
	if err != nil {
		return fmt.Errorf("complete radius activation: %w", err)
	}

	message := fmt.Sprintf("propagated profile %q to %s", profile.Name, user.Username)
	if params.ExternalRef != nil {
		message += " ref=" + *params.ExternalRef
	}
	if err := appendAuditTx(ctx, tx, domain.AuditLog{
		Entity:   "radius_activation",
		EntityID: activation.ID,
		Action:   "completed",
		Message:  message,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// applyActivationToUser mutates the subscriber row and its FreeRADIUS rows
// for a completed propagation, and appends the user history record.
func (r *PostgresRepository) applyActivationToUser(ctx context.Context, tx pgx.Tx, activation *domain.RadiusActivation, applyProfile bool) (*domain.RadiusUser, *domain.BillingProfile, error) {
	var user domain.RadiusUser
	err := tx.QueryRow(ctx,
		`SELECT id, username, password, profile_id, expire_date FROM radius_users WHERE id = $1 FOR UPDATE`,
		activation.RadiusUserID,
	).Scan(&user.ID, &user.Username, &user.Password, &user.ProfileID, &user.ExpireDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("lock radius user: %w", err)
	}

	var profile domain.BillingProfile
	err = tx.QueryRow(ctx,
		`SELECT id, name, rate_limit FROM billing_profiles WHERE id = $1`,
		activation.CurrentProfileID,
	).Scan(&profile.ID, &profile.Name, &profile.RateLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load billing profile: %w", err)
	}

	newProfileID := user.ProfileID
	if applyProfile {
		newProfileID = &profile.ID
	}
	_, err = tx.Exec(ctx,
		`UPDATE radius_users SET profile_id = $2, expire_date = $3, updated_at = now() WHERE id = $1`,
		user.ID, newProfileID, activation.CurrentExpireDate,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("update radius user: %w", err)
	}

	if err := r.radius.UpsertUserChecks(ctx, tx, user.Username, user.Password, activation.CurrentExpireDate); err != nil {
		return nil, nil, err
	}
	if applyProfile {
		if profile.RateLimit != "" {
			if err := r.radius.UpsertUserReply(ctx, tx, user.Username, AttrRateLimit, profile.RateLimit); err != nil {
				return nil, nil, err
			}
		}
		if err := r.radius.UpsertUserGroup(ctx, tx, user.Username, profile.Name); err != nil {
			return nil, nil, err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO radius_user_history
		   (id, radius_user_id, previous_profile_id, new_profile_id, previous_expire_date, new_expire_date, changed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New(), user.ID, activation.PreviousProfileID, newProfileID,
		activation.PreviousExpireDate, activation.CurrentExpireDate, "activation_engine",
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert radius user history: %w", err)
	}

	return &user, &profile, nil
}

// FailRadiusActivation records a terminal propagation failure. The posted
// ledger transaction is left untouched; compensation is an explicit reversal.
func (r *PostgresRepository) FailRadiusActivation(ctx context.Context, params FailRadiusActivationParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE radius_activations
		 SET status = 'failed', api_status = $2, failure_reason = $3, next_retry_at = NULL, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		params.RadiusActivationID, params.APIStatus, params.Reason,
	)
	if err != nil {
		return fmt.Errorf("fail radius activation: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrConcurrentModification
	}

	if err := appendAuditTx(ctx, tx, domain.AuditLog{
		Entity:    "radius_activation",
		EntityID:  params.RadiusActivationID,
		Action:    "failed",
		ErrorKind: params.ErrorKind.Ptr(),
		Message:   params.Reason,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ScheduleRadiusActivationRetry records the attempt outcome and the next due
// time after a failed external call.
func (r *PostgresRepository) ScheduleRadiusActivationRetry(ctx context.Context, activationID uuid.UUID, retryCount int, lastRetryAt, nextRetryAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE radius_activations
		 SET retry_count = $2, last_retry_at = $3, next_retry_at = $4, updated_at = now()
		 WHERE id = $1 AND status IN ('pending', 'processing')`,
		activationID, retryCount, lastRetryAt, nextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("schedule radius activation retry: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrConcurrentModification
	}
	return nil
}

// ListDueRadiusActivations returns activations ready for an attempt: fresh
// pending ones and previously failed ones whose retry delay has elapsed.
func (r *PostgresRepository) ListDueRadiusActivations(ctx context.Context, now time.Time, limit int) ([]domain.RadiusActivation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+radiusActivationColumns+` FROM radius_activations
		 WHERE (status = 'pending' AND next_retry_at IS NULL)
		    OR (status IN ('pending', 'processing') AND next_retry_at <= $1)
		 ORDER BY created_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due radius activations: %w", err)
	}
	defer rows.Close()
	return collectRadiusActivations(rows)
}

// ListDueScheduledProfileChanges returns completed activations whose
// deferred profile change date has arrived.
func (r *PostgresRepository) ListDueScheduledProfileChanges(ctx context.Context, now time.Time, limit int) ([]domain.RadiusActivation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+radiusActivationColumns+` FROM radius_activations
		 WHERE profile_change_type = 'scheduled'
		   AND scheduled_profile_change_date IS NOT NULL
		   AND scheduled_profile_change_date <= $1
		   AND status = 'completed'
		 ORDER BY scheduled_profile_change_date
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due scheduled changes: %w", err)
	}
	defer rows.Close()
	return collectRadiusActivations(rows)
}

func collectRadiusActivations(rows pgx.Rows) ([]domain.RadiusActivation, error) {
	var result []domain.RadiusActivation
	for rows.Next() {
		a, err := scanRadiusActivation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// ApplyScheduledProfileChange applies a deferred profile downgrade: the held
// profile becomes current on the subscriber and its FreeRADIUS rows, and the
// schedule is cleared so the sweep does not pick it up again.
func (r *PostgresRepository) ApplyScheduledProfileChange(ctx context.Context, radiusActivationID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	activation, err := scanRadiusActivation(tx.QueryRow(ctx,
		`SELECT `+radiusActivationColumns+` FROM radius_activations WHERE id = $1 FOR UPDATE`,
		radiusActivationID,
	))
	if err != nil {
		return err
	}
	if activation.ProfileChangeType != domain.ProfileChangeScheduled || activation.ScheduledChangeDate == nil {
		return nil // already applied
	}

	if _, _, err := r.applyActivationToUser(ctx, tx, activation, true); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE radius_activations
		 SET profile_change_type = 'immediate', scheduled_profile_change_date = NULL, updated_at = now()
		 WHERE id = $1`,
		activation.ID,
	)
	if err != nil {
		return fmt.Errorf("clear scheduled change: %w", err)
	}

	if err := appendAuditTx(ctx, tx, domain.AuditLog{
		Entity:   "radius_activation",
		EntityID: activation.ID,
		Action:   "scheduled_profile_applied",
		Message:  "deferred profile change applied",
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateSasActivationLog records the start of one external-call attempt.
func (r *PostgresRepository) CreateSasActivationLog(ctx context.Context, logEntry *domain.SasActivationLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sas_activation_logs
		   (id, radius_activation_id, integration_id, attempt, status, retry_count, max_retries,
		    duration_ms, response_status_code, next_retry_at, error_kind, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		logEntry.ID, logEntry.RadiusActivationID, logEntry.IntegrationID, logEntry.Attempt,
		logEntry.Status, logEntry.RetryCount, logEntry.MaxRetries, logEntry.DurationMs,
		logEntry.ResponseStatusCode, logEntry.NextRetryAt, logEntry.ErrorKind, logEntry.ErrorMessage,
		logEntry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sas activation log: %w", err)
	}
	return nil
}

// FinishSasActivationLog records the outcome of an attempt.
func (r *PostgresRepository) FinishSasActivationLog(ctx context.Context, logID uuid.UUID, status domain.SasLogStatus, durationMs int64, responseCode *int, errorKind *string, errorMessage *string, nextRetryAt *time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sas_activation_logs
		 SET status = $2, duration_ms = $3, response_status_code = $4, error_kind = $5,
		     error_message = $6, next_retry_at = $7
		 WHERE id = $1`,
		logID, status, durationMs, responseCode, errorKind, errorMessage, nextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("finish sas activation log: %w", err)
	}
	return nil
}

// ListSasActivationLogs returns all attempts for an activation in order.
func (r *PostgresRepository) ListSasActivationLogs(ctx context.Context, radiusActivationID uuid.UUID) ([]domain.SasActivationLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, radius_activation_id, integration_id, attempt, status, retry_count, max_retries,
		        duration_ms, response_status_code, next_retry_at, error_kind, error_message, created_at
		 FROM sas_activation_logs WHERE radius_activation_id = $1 ORDER BY attempt`,
		radiusActivationID,
	)
	if err != nil {
		return nil, fmt.Errorf("select sas activation logs: %w", err)
	}
	defer rows.Close()

	var result []domain.SasActivationLog
	for rows.Next() {
		var l domain.SasActivationLog
		err := rows.Scan(&l.ID, &l.RadiusActivationID, &l.IntegrationID, &l.Attempt, &l.Status,
			&l.RetryCount, &l.MaxRetries, &l.DurationMs, &l.ResponseStatusCode, &l.NextRetryAt,
			&l.ErrorKind, &l.ErrorMessage, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan sas activation log: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

func appendAuditTx(ctx context.Context, tx pgx.Tx, entry domain.AuditLog) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_logs (id, entity, entity_id, action, error_kind, message, actor_id, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New(), entry.Entity, entry.EntityID, entry.Action, entry.ErrorKind, entry.Message, entry.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// AppendAuditLog writes one append-only audit record.
func (r *PostgresRepository) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_logs (id, entity, entity_id, action, error_kind, message, actor_id, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.New(), entry.Entity, entry.EntityID, entry.Action, entry.ErrorKind, entry.Message, entry.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns the audit trail of one entity, newest first.
func (r *PostgresRepository) ListAuditLogs(ctx context.Context, entity string, entityID uuid.UUID, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, entity, entity_id, action, error_kind, message, actor_id, recorded_at
		 FROM audit_logs WHERE entity = $1 AND entity_id = $2
		 ORDER BY recorded_at DESC LIMIT $3`,
		entity, entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select audit logs: %w", err)
	}
	defer rows.Close()

	var result []domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.Entity, &a.EntityID, &a.Action, &a.ErrorKind, &a.Message, &a.ActorID, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// ListRadiusUserHistory returns a subscriber's change history, newest first.
func (r *PostgresRepository) ListRadiusUserHistory(ctx context.Context, radiusUserID uuid.UUID, limit int) ([]domain.RadiusUserHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, radius_user_id, previous_profile_id, new_profile_id, previous_expire_date,
		        new_expire_date, changed_by, created_at
		 FROM radius_user_history WHERE radius_user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		radiusUserID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select radius user history: %w", err)
	}
	defer rows.Close()

	var result []domain.RadiusUserHistory
	for rows.Next() {
		var h domain.RadiusUserHistory
		if err := rows.Scan(&h.ID, &h.RadiusUserID, &h.PreviousProfileID, &h.NewProfileID,
			&h.PreviousExpireDate, &h.NewExpireDate, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan radius user history: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
