package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry types. Every balance mutation carries exactly one of these.
const (
	EntryDebit      = "debit"      // principal reserved at trade submission
	EntryCredit     = "credit"     // settlement proceeds, net of fee
	EntryRefund     = "refund"     // reservation returned for a failed trade
	EntryAdjustment = "adjustment" // admin-applied balance correction
)

// LedgerEntry journals one applied balance delta. It is written in the same
// transaction as the balance mutation it records, so the set of entries for a
// trade is the authoritative answer to "did this trade's money actually move";
// the reconciler reads the trade's entries to decide its terminal status.
type LedgerEntry struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TradeID   uuid.NullUUID   `gorm:"type:uuid;index" json:"trade_id"`
	AccountID uuid.UUID       `gorm:"type:uuid;index;not null" json:"account_id"`
	EntryType string          `gorm:"not null" json:"entry_type"`
	Delta     decimal.Decimal `gorm:"type:decimal(32,8);not null" json:"delta"`
	CreatedAt time.Time       `json:"created_at"`
}
