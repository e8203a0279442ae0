package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s TradeStatus) Terminal() bool {
	return s == TradeCompleted || s == TradeFailed
}

// Trade is the immutable audit record of one exchange operation. It is created
// in pending and moves to exactly one terminal status during settlement; after
// that no field changes. Trades are never deleted.
type Trade struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID         uuid.UUID           `gorm:"type:uuid;index;not null" json:"account_id"`
	FromAsset         string              `gorm:"not null" json:"from_asset"`
	ToAsset           string              `gorm:"not null" json:"to_asset"`
	Amount            decimal.Decimal     `gorm:"type:decimal(32,8);not null" json:"amount"`
	ExpectedProfitPct decimal.Decimal     `gorm:"type:decimal(32,8);not null" json:"expected_profit_pct"`
	ActualProfit      decimal.NullDecimal `gorm:"type:decimal(32,8)" json:"actual_profit"`
	Status            TradeStatus         `gorm:"index;not null;default:pending" json:"status"`
	ExchangeRate      decimal.NullDecimal `gorm:"type:decimal(32,8)" json:"exchange_rate"`
	Fee               decimal.NullDecimal `gorm:"type:decimal(32,8)" json:"fee"`
	CreatedAt         time.Time           `json:"created_at"`
	CompletedAt       *time.Time          `json:"completed_at"`
}
