/**
 * @description
 * Cashback distribution for completed activation debits. The subscriber's
 * cashback group and the activated profile select a CashbackSetting; no
 * setting means no cashback and is not an error. Cashback postings share the
 * activation's transaction group id so the whole money movement reads as one
 * unit in the ledger.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

// CashbackDistributor computes and credits cashback after an activation
// debit has settled.
type CashbackDistributor struct {
	repo   store.Repository
	ledger *Ledger
}

func NewCashbackDistributor(repo store.Repository, ledger *Ledger) *CashbackDistributor {
	return &CashbackDistributor{repo: repo, ledger: ledger}
}

// Distribute credits cashback for one activation. It returns the amount
// credited, zero when the group/profile pairing has no configuration.
func (d *CashbackDistributor) Distribute(ctx context.Context, user *domain.RadiusUser, profile *domain.BillingProfile, debit *domain.Transaction) (int64, error) {
	if user.CashbackGroupID == nil {
		return 0, nil
	}

	setting, err := d.repo.GetCashbackSetting(ctx, *user.CashbackGroupID, profile.ID)
	if err != nil {
		if errors.Is(err, store.ErrCashbackNotConfigured) {
			return 0, nil
		}
		return 0, fmt.Errorf("load cashback setting: %w", err)
	}

	amount := setting.CashbackFor(profile.Price)
	if amount <= 0 {
		return 0, nil
	}

	description := fmt.Sprintf("cashback for activation of %s", profile.Name)
	tx, err := d.ledger.CreditCashback(ctx, user.WalletID, amount, setting.Policy,
		debit.TransactionGroupID, &debit.ID, description)
	if err != nil {
		return 0, fmt.Errorf("credit cashback: %w", err)
	}

	log.Printf("level=info component=cashback msg=\"cashback credited\" user_id=%s wallet_id=%s amount=%d policy=%s transaction_id=%s",
		user.ID, user.WalletID, amount, setting.Policy, tx.ID)
	return amount, nil
}

// walletAuditEntry is the audit row appended for cashback and reversal
// postings made outside the activation flow.
func walletAuditEntry(walletID uuid.UUID, action, message string) domain.AuditLog {
	return domain.AuditLog{
		Entity:   "wallet",
		EntityID: walletID,
		Action:   action,
		Message:  message,
	}
}
