/**
 * @description
 * This file defines the RadiusReplyWriter, the explicit application-layer
 * replacement for the database triggers the source system used to keep the
 * FreeRADIUS schema in step with subscriber state. The writer operates on a
 * caller-supplied pgx.Tx so the FreeRADIUS rows always change inside the
 * same database transaction as the originating mutation.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Attribute names written into the FreeRADIUS tables.
const (
	AttrCleartextPassword = "Cleartext-Password"
	AttrExpiration        = "Expiration"
	AttrRateLimit         = "Mikrotik-Rate-Limit"
)

// radiusExpirationLayout is the date format FreeRADIUS expects in the
// Expiration check attribute.
const radiusExpirationLayout = "02 Jan 2006 15:04:05"

// FormatRadiusExpiration renders an expiration date for the radcheck table.
func FormatRadiusExpiration(t time.Time) string {
	return t.UTC().Format(radiusExpirationLayout)
}

// RadiusReplyWriter maintains the radcheck/radreply/radusergroup/radgroupreply
// rows for a subscriber or profile within the caller's transaction.
type RadiusReplyWriter interface {
	UpsertUserChecks(ctx context.Context, tx pgx.Tx, username, password string, expire *time.Time) error
	UpsertUserReply(ctx context.Context, tx pgx.Tx, username, attribute, value string) error
	UpsertUserGroup(ctx context.Context, tx pgx.Tx, username, groupname string) error
	UpsertGroupReply(ctx context.Context, tx pgx.Tx, groupname, attribute, value string) error
	DeleteUser(ctx context.Context, tx pgx.Tx, username string) error
}

// PgxRadiusWriter is the production RadiusReplyWriter.
type PgxRadiusWriter struct{}

// NewPgxRadiusWriter returns the pgx-backed writer.
func NewPgxRadiusWriter() *PgxRadiusWriter { return &PgxRadiusWriter{} }

// UpsertUserChecks writes the password and expiration check rows. A nil
// expire removes any Expiration row so a subscriber without an expiry is not
// rejected by a stale date.
func (w *PgxRadiusWriter) UpsertUserChecks(ctx context.Context, tx pgx.Tx, username, password string, expire *time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO radcheck (username, attribute, op, value) VALUES ($1, $2, ':=', $3)
		 ON CONFLICT (username, attribute) DO UPDATE SET value = EXCLUDED.value, op = EXCLUDED.op`,
		username, AttrCleartextPassword, password,
	)
	if err != nil {
		return fmt.Errorf("upsert radcheck password: %w", err)
	}

	if expire == nil {
		_, err = tx.Exec(ctx,
			`DELETE FROM radcheck WHERE username = $1 AND attribute = $2`,
			username, AttrExpiration,
		)
		if err != nil {
			return fmt.Errorf("delete radcheck expiration: %w", err)
		}
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO radcheck (username, attribute, op, value) VALUES ($1, $2, ':=', $3)
		 ON CONFLICT (username, attribute) DO UPDATE SET value = EXCLUDED.value, op = EXCLUDED.op`,
		username, AttrExpiration, FormatRadiusExpiration(*expire),
	)
	if err != nil {
		return fmt.Errorf("upsert radcheck expiration: %w", err)
	}
	return nil
}

// UpsertUserReply writes one reply attribute for a subscriber.
func (w *PgxRadiusWriter) UpsertUserReply(ctx context.Context, tx pgx.Tx, username, attribute, value string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO radreply (username, attribute, op, value) VALUES ($1, $2, '=', $3)
		 ON CONFLICT (username, attribute) DO UPDATE SET value = EXCLUDED.value`,
		username, attribute, value,
	)
	if err != nil {
		return fmt.Errorf("upsert radreply %s: %w", attribute, err)
	}
	return nil
}

// UpsertUserGroup replaces the subscriber's group membership.
func (w *PgxRadiusWriter) UpsertUserGroup(ctx context.Context, tx pgx.Tx, username, groupname string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM radusergroup WHERE username = $1`, username); err != nil {
		return fmt.Errorf("clear radusergroup: %w", err)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO radusergroup (username, groupname, priority) VALUES ($1, $2, 1)`,
		username, groupname,
	)
	if err != nil {
		return fmt.Errorf("insert radusergroup: %w", err)
	}
	return nil
}

// UpsertGroupReply writes one group-level reply attribute.
func (w *PgxRadiusWriter) UpsertGroupReply(ctx context.Context, tx pgx.Tx, groupname, attribute, value string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO radgroupreply (groupname, attribute, op, value) VALUES ($1, $2, '=', $3)
		 ON CONFLICT (groupname, attribute) DO UPDATE SET value = EXCLUDED.value`,
		groupname, attribute, value,
	)
	if err != nil {
		return fmt.Errorf("upsert radgroupreply %s: %w", attribute, err)
	}
	return nil
}

// DeleteUser removes every check/reply/group row for a soft-deleted
// subscriber.
func (w *PgxRadiusWriter) DeleteUser(ctx context.Context, tx pgx.Tx, username string) error {
	for _, q := range []string{
		`DELETE FROM radcheck WHERE username = $1`,
		`DELETE FROM radreply WHERE username = $1`,
		`DELETE FROM radusergroup WHERE username = $1`,
	} {
		if _, err := tx.Exec(ctx, q, username); err != nil {
			return fmt.Errorf("delete freeradius rows: %w", err)
		}
	}
	return nil
}
