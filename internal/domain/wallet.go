/**
 * @description
 * This file defines the wallet and ledger domain models for the activation
 * engine. These structs represent the main entities used throughout the
 * engine's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit (fils), which avoids floating-point inaccuracies with
 *   financial data.
 * - A wallet's balance only ever changes through a Transaction row; the two
 *   are written inside one database transaction under a row lock.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletType distinguishes per-subscriber wallets from shared/custom wallets.
type WalletType string

const (
	WalletTypeUser   WalletType = "user"
	WalletTypeCustom WalletType = "custom"
)

// WalletStatus is the lifecycle state of a wallet.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusSuspended WalletStatus = "suspended"
)

// Wallet is a balance container debited and credited by transactions.
// Limits with a zero value are treated as unlimited.
type Wallet struct {
	ID                   uuid.UUID    `json:"id"`
	OwnerUserID          *uuid.UUID   `json:"owner_user_id,omitempty"`
	Name                 string       `json:"name"`
	WalletType           WalletType   `json:"wallet_type"`
	CurrentBalance       int64        `json:"current_balance"` // in fils
	MaxFillLimit         int64        `json:"max_fill_limit"`
	DailySpendingLimit   int64        `json:"daily_spending_limit"`
	AllowNegativeBalance bool         `json:"allow_negative_balance"`
	Status               WalletStatus `json:"status"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// TransactionType is the direction of a ledger movement.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// AmountType classifies what a ledger movement was for.
type AmountType string

const (
	AmountTypeActivation AmountType = "activation"
	AmountTypeCashback   AmountType = "cashback"
	AmountTypeReversal   AmountType = "reversal"
	AmountTypeAdjustment AmountType = "adjustment"
)

// TransactionStatus is the settlement state of a transaction row.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusPending   TransactionStatus = "pending"
)

// CashbackStatus marks cashback transactions. Instant cashback is credited
// immediately; collected cashback sits pending and is excluded from the
// spendable balance until a separate collection step runs.
type CashbackStatus string

const (
	CashbackStatusInstant   CashbackStatus = "instant"
	CashbackStatusPending   CashbackStatus = "pending"
	CashbackStatusCollected CashbackStatus = "collected"
)

// Transaction is the immutable record of one ledger movement. Rows are never
// mutated after creation except for the status flip of a reversed original.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	WalletID             uuid.UUID         `json:"wallet_id"`
	WalletType           WalletType        `json:"wallet_type"`
	TransactionType      TransactionType   `json:"transaction_type"`
	AmountType           AmountType        `json:"amount_type"`
	Amount               int64             `json:"amount"` // in fils, always positive
	BalanceBefore        int64             `json:"balance_before"`
	BalanceAfter         int64             `json:"balance_after"`
	RelatedTransactionID *uuid.UUID        `json:"related_transaction_id,omitempty"`
	TransactionGroupID   uuid.UUID         `json:"transaction_group_id"`
	Status               TransactionStatus `json:"status"`
	CashbackStatus       *CashbackStatus   `json:"cashback_status,omitempty"`
	Description          string            `json:"description"`
	CreatedAt            time.Time         `json:"created_at"`
}

// WalletHistory is an append-only record of a wallet mutation, created as a
// side effect of every post and read only by external reporting.
type WalletHistory struct {
	ID            uuid.UUID `json:"id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	Note          string    `json:"note"`
	CreatedAt     time.Time `json:"created_at"`
}
