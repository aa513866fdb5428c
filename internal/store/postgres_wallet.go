/**
 * @description
 * Wallet ledger persistence. A post locks the wallet row with
 * `SELECT ... FOR UPDATE`, validates limits against the locked balance,
 * inserts the immutable transaction row, and moves the wallet balance, all
 * inside one database transaction, so two concurrent posts to the same
 * wallet can never observe the same balance_before.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ali-Mohammed/openRadius-sub012/internal/domain"
)

// GetWallet returns a wallet by id.
func (r *PostgresRepository) GetWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, owner_user_id, name, wallet_type, current_balance, max_fill_limit,
		        daily_spending_limit, allow_negative_balance, status, created_at, updated_at
		 FROM wallets WHERE id = $1`,
		walletID,
	)
	return scanWallet(row)
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.OwnerUserID, &w.Name, &w.WalletType, &w.CurrentBalance,
		&w.MaxFillLimit, &w.DailySpendingLimit, &w.AllowNegativeBalance, &w.Status,
		&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

// lockWallet reads the wallet row under FOR UPDATE within tx.
func lockWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*domain.Wallet, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, owner_user_id, name, wallet_type, current_balance, max_fill_limit,
		        daily_spending_limit, allow_negative_balance, status, created_at, updated_at
		 FROM wallets WHERE id = $1 FOR UPDATE`,
		walletID,
	)
	return scanWallet(row)
}

// PostTransaction applies one ledger movement atomically.
func (r *PostgresRepository) PostTransaction(ctx context.Context, params PostTransactionParams) (*domain.Transaction, error) {
	if params.Amount < 0 {
		return nil, fmt.Errorf("post transaction: negative amount %d", params.Amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := r.postInTx(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// postInTx runs the ledger movement inside an existing transaction so
// reversal and activation flows can compose it with their own writes.
func (r *PostgresRepository) postInTx(ctx context.Context, tx pgx.Tx, params PostTransactionParams) (*domain.Transaction, error) {
	wallet, err := lockWallet(ctx, tx, params.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != domain.WalletStatusActive {
		return nil, ErrWalletSuspended
	}

	balanceBefore := wallet.CurrentBalance
	var balanceAfter int64

	switch params.Direction {
	case domain.TransactionTypeDebit:
		balanceAfter = balanceBefore - params.Amount
		if balanceAfter < 0 && !wallet.AllowNegativeBalance {
			return nil, ErrInsufficientFunds
		}
		if wallet.DailySpendingLimit > 0 {
			var spentToday int64
			err = tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(amount), 0) FROM transactions
				 WHERE wallet_id = $1 AND transaction_type = 'debit' AND status = 'completed'
				   AND created_at >= date_trunc('day', now() AT TIME ZONE 'UTC')`,
				wallet.ID,
			).Scan(&spentToday)
			if err != nil {
				return nil, fmt.Errorf("sum daily spending: %w", err)
			}
			if spentToday+params.Amount > wallet.DailySpendingLimit {
				return nil, ErrDailyLimitExceeded
			}
		}
	case domain.TransactionTypeCredit:
		balanceAfter = balanceBefore + params.Amount
		if wallet.MaxFillLimit > 0 && balanceAfter > wallet.MaxFillLimit {
			return nil, ErrFillLimitExceeded
		}
	default:
		return nil, fmt.Errorf("post transaction: unknown direction %q", params.Direction)
	}

	groupID := params.TransactionGroupID
	if groupID == uuid.Nil {
		groupID = uuid.New()
	}

	record := &domain.Transaction{
		ID:                   uuid.New(),
		WalletID:             wallet.ID,
		WalletType:           wallet.WalletType,
		TransactionType:      params.Direction,
		AmountType:           params.AmountType,
		Amount:               params.Amount,
		BalanceBefore:        balanceBefore,
		BalanceAfter:         balanceAfter,
		RelatedTransactionID: params.RelatedTransaction,
		TransactionGroupID:   groupID,
		Status:               domain.TransactionStatusCompleted,
		CashbackStatus:       params.CashbackStatus,
		Description:          params.Description,
		CreatedAt:            time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions
		   (id, wallet_id, wallet_type, transaction_type, amount_type, amount, balance_before,
		    balance_after, related_transaction_id, transaction_group_id, status, cashback_status,
		    description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		record.ID, record.WalletID, record.WalletType, record.TransactionType, record.AmountType,
		record.Amount, record.BalanceBefore, record.BalanceAfter, record.RelatedTransactionID,
		record.TransactionGroupID, record.Status, record.CashbackStatus, record.Description,
		record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	// The balance_before guard is the commit-time equality check: under the
	// row lock it should never miss, and a miss means another writer slipped
	// past the lock discipline.
	cmdTag, err := tx.Exec(ctx,
		`UPDATE wallets SET current_balance = $1, updated_at = now()
		 WHERE id = $2 AND current_balance = $3`,
		balanceAfter, wallet.ID, balanceBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}
	if cmdTag.RowsAffected() != 1 {
		return nil, ErrConcurrentModification
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_history (id, wallet_id, transaction_id, balance_before, balance_after, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), wallet.ID, record.ID, balanceBefore, balanceAfter, params.Description, record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert wallet history: %w", err)
	}

	return record, nil
}

// RecordPendingCashback writes a cashback transaction that does not move the
// wallet balance. The row is excluded from the spendable balance until a
// separate collection step credits it through the ledger.
func (r *PostgresRepository) RecordPendingCashback(ctx context.Context, params PostTransactionParams) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	wallet, err := lockWallet(ctx, tx, params.WalletID)
	if err != nil {
		return nil, err
	}

	pending := domain.CashbackStatusPending
	record := &domain.Transaction{
		ID:                   uuid.New(),
		WalletID:             wallet.ID,
		WalletType:           wallet.WalletType,
		TransactionType:      domain.TransactionTypeCredit,
		AmountType:           domain.AmountTypeCashback,
		Amount:               params.Amount,
		BalanceBefore:        wallet.CurrentBalance,
		BalanceAfter:         wallet.CurrentBalance,
		RelatedTransactionID: params.RelatedTransaction,
		TransactionGroupID:   params.TransactionGroupID,
		Status:               domain.TransactionStatusPending,
		CashbackStatus:       &pending,
		Description:          params.Description,
		CreatedAt:            time.Now().UTC(),
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions
		   (id, wallet_id, wallet_type, transaction_type, amount_type, amount, balance_before,
		    balance_after, related_transaction_id, transaction_group_id, status, cashback_status,
		    description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		record.ID, record.WalletID, record.WalletType, record.TransactionType, record.AmountType,
		record.Amount, record.BalanceBefore, record.BalanceAfter, record.RelatedTransactionID,
		record.TransactionGroupID, record.Status, record.CashbackStatus, record.Description,
		record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pending cashback: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return record, nil
}

// ReverseTransaction posts a compensating movement linked to the original.
// The original row is never mutated; a second reversal of the same
// transaction is rejected.
func (r *PostgresRepository) ReverseTransaction(ctx context.Context, transactionID uuid.UUID, reason string) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	original, err := getTransactionTx(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}

	var existing int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM transactions WHERE related_transaction_id = $1 AND amount_type = 'reversal'`,
		transactionID,
	).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("check existing reversal: %w", err)
	}
	if existing > 0 {
		return nil, ErrTransactionReversed
	}

	inverted := domain.TransactionTypeCredit
	if original.TransactionType == domain.TransactionTypeCredit {
		inverted = domain.TransactionTypeDebit
	}

	record, err := r.postInTx(ctx, tx, PostTransactionParams{
		WalletID:           original.WalletID,
		Direction:          inverted,
		AmountType:         domain.AmountTypeReversal,
		Amount:             original.Amount,
		TransactionGroupID: original.TransactionGroupID,
		RelatedTransaction: &original.ID,
		Description:        reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return record, nil
}

const transactionColumns = `id, wallet_id, wallet_type, transaction_type, amount_type, amount,
	balance_before, balance_after, related_transaction_id, transaction_group_id, status,
	cashback_status, description, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.WalletID, &t.WalletType, &t.TransactionType, &t.AmountType,
		&t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.RelatedTransactionID,
		&t.TransactionGroupID, &t.Status, &t.CashbackStatus, &t.Description, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func getTransactionTx(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (*domain.Transaction, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID)
	return scanTransaction(row)
}

// GetTransaction returns one transaction by id.
func (r *PostgresRepository) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID)
	return scanTransaction(row)
}

// ListTransactionsByWallet returns a wallet's transactions, newest first.
func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		walletID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
