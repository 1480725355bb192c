package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/pkg/db/pagination"
	"gorm.io/gorm"
)

// TxnOptions carries the optional fields callers may attach to a
// credit or debit.
type TxnOptions struct {
	RelatedItemID  string
	IdempotencyKey string
	Metadata       map[string]any
}

// TxnResult reports the outcome of a credit or debit. Duplicate is set when
// an entry with the same (user, idempotency key) already existed; Entry then
// points at the original record and no balance was touched.
type TxnResult struct {
	Entry     *LedgerEntry
	Duplicate bool
}

type ListEntriesRequest struct {
	UserID    snowflake.ID
	Currency  *Currency
	PageToken string
	PageSize  int
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type Service interface {
	GetOrCreateWallet(ctx context.Context, userID snowflake.ID) (*Wallet, error)
	Credit(ctx context.Context, userID snowflake.ID, currency Currency, amount int64, reason Reason, opts *TxnOptions) (*TxnResult, error)
	Debit(ctx context.Context, userID snowflake.ID, currency Currency, amount int64, reason Reason, opts *TxnOptions) (*TxnResult, error)
	// DebitTx is Debit running inside the caller's transaction, so the
	// debit commits or rolls back together with the caller's writes.
	DebitTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, currency Currency, amount int64, reason Reason, opts *TxnOptions) (*TxnResult, error)
	Balance(ctx context.Context, userID snowflake.ID, currency Currency) (int64, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
}

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidReason     = errors.New("invalid_reason")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)
