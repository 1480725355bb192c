// Package domain contains persistence models for the wallet and its
// append-only ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Currency identifies one of the two player balances.
type Currency string

const (
	CurrencyEnergy Currency = "energy"
	CurrencyGems   Currency = "gems"
)

func (c Currency) Valid() bool {
	return c == CurrencyEnergy || c == CurrencyGems
}

// Reason classifies why a ledger entry was written.
type Reason string

const (
	ReasonDailyAward   Reason = "daily_award"
	ReasonFeeding      Reason = "feeding"
	ReasonPurchase     Reason = "purchase"
	ReasonRecovery     Reason = "recovery"
	ReasonIAPGrant     Reason = "iap_grant"
	ReasonAdjustment   Reason = "adjustment"
	ReasonInitialGrant Reason = "initial_grant"
)

// Wallet is the cached projection of the ledger, one row per user.
// Its balances must always equal the sum of the corresponding entry deltas.
type Wallet struct {
	UserID        snowflake.ID `gorm:"primaryKey" json:"user_id"`
	EnergyBalance int64        `gorm:"not null;default:0" json:"energy_balance"`
	GemsBalance   int64        `gorm:"not null;default:0" json:"gems_balance"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

func (w Wallet) Balance(currency Currency) int64 {
	switch currency {
	case CurrencyEnergy:
		return w.EnergyBalance
	case CurrencyGems:
		return w.GemsBalance
	default:
		return 0
	}
}

// LedgerEntry is the immutable audit record behind every balance change.
// BalanceAfter snapshots the wallet balance immediately after the entry so
// audits do not need to replay the whole log.
type LedgerEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_ledger_entries_user_idem,priority:1" json:"user_id"`
	Currency       Currency          `gorm:"type:text;not null" json:"currency"`
	Delta          int64             `gorm:"not null" json:"delta"`
	BalanceAfter   int64             `gorm:"not null" json:"balance_after"`
	Reason         Reason            `gorm:"type:text;not null;index" json:"reason"`
	RelatedItemID  *string           `gorm:"type:text" json:"related_item_id,omitempty"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_ledger_entries_user_idem,priority:2" json:"idempotency_key,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
