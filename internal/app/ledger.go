/**
 * @description
 * Wallet ledger operations as the rest of the engine consumes them. All
 * balance math lives behind the repository's row-locked posting; this layer
 * shapes the postings (direction, amount type, group id) and keeps the
 * invariants visible in one place.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
	"github.com/Ali-Mohammed/openRadius-sub012/internal/store"
)

// Ledger posts money movements for activations, cashback, and reversals.
type Ledger struct {
	repo store.Repository
}

func NewLedger(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// DebitForActivation charges the subscriber's wallet the profile price.
func (l *Ledger) DebitForActivation(ctx context.Context, walletID uuid.UUID, amount int64, groupID uuid.UUID, description string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("activation amount must be positive, got %d", amount)
	}
	return l.repo.PostTransaction(ctx, store.PostTransactionParams{
		WalletID:           walletID,
		Direction:          domain.TransactionTypeDebit,
		AmountType:         domain.AmountTypeActivation,
		Amount:             amount,
		TransactionGroupID: groupID,
		Description:        description,
	})
}

// CreditCashback pays cashback into a wallet. Instant cashback settles
// immediately; collected cashback is recorded as a pending row the wallet
// balance does not see yet.
func (l *Ledger) CreditCashback(ctx context.Context, walletID uuid.UUID, amount int64, policy domain.CashbackPolicy, groupID uuid.UUID, relatedTx *uuid.UUID, description string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("cashback amount must be positive, got %d", amount)
	}
	params := store.PostTransactionParams{
		WalletID:           walletID,
		Direction:          domain.TransactionTypeCredit,
		AmountType:         domain.AmountTypeCashback,
		Amount:             amount,
		TransactionGroupID: groupID,
		RelatedTransaction: relatedTx,
		Description:        description,
	}
	if policy == domain.CashbackPolicyCollected {
		status := domain.CashbackStatusPending
		params.CashbackStatus = &status
		return l.repo.RecordPendingCashback(ctx, params)
	}
	status := domain.CashbackStatusInstant
	params.CashbackStatus = &status
	return l.repo.PostTransaction(ctx, params)
}

// Reverse posts the compensating transaction for an earlier posting. The
// original row is never mutated; a second reversal of the same transaction
// fails with store.ErrTransactionReversed.
func (l *Ledger) Reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	return l.repo.ReverseTransaction(ctx, transactionID, reason)
}

// GetWallet returns a wallet snapshot.
func (l *Ledger) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	return l.repo.GetWallet(ctx, walletID)
}

// ListTransactions returns a wallet's ledger, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	return l.repo.ListTransactionsByWallet(ctx, walletID, limit, offset)
}
