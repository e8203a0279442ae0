package ledger

import (
	"context"
	"fmt"

	"arbitrage-platform-go/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlatformStats is the operator-facing snapshot of platform activity.
type PlatformStats struct {
	UserCount        int64           `json:"users"`
	TradeCount       int64           `json:"trades"`
	ActiveTradeCount int64           `json:"active_trades"`
	TotalVolume      decimal.Decimal `json:"total_volume"`
}

// Reader computes aggregate statistics from committed state. It never touches
// the balance guard, so it runs fully concurrently with settlements; the
// result is a consistent snapshot at some point in time, not necessarily the
// instant of the call.
type Reader struct {
	db *gorm.DB
}

// NewReader creates an aggregation reader.
func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

// Stats returns user, trade, and active-trade counts plus the total traded
// volume. Volume sums amount over all trades regardless of status and is 0,
// never absent, when no trades exist.
func (r *Reader) Stats(ctx context.Context) (*PlatformStats, error) {
	stats := &PlatformStats{TotalVolume: decimal.Zero}
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Account{}).Count(&stats.UserCount).Error; err != nil {
		return nil, fmt.Errorf("%w: count users: %v", ErrStorageFailure, err)
	}
	if err := db.Model(&models.Trade{}).Count(&stats.TradeCount).Error; err != nil {
		return nil, fmt.Errorf("%w: count trades: %v", ErrStorageFailure, err)
	}
	if err := db.Model(&models.Trade{}).Where("status = ?", models.TradePending).Count(&stats.ActiveTradeCount).Error; err != nil {
		return nil, fmt.Errorf("%w: count active trades: %v", ErrStorageFailure, err)
	}

	row := db.Model(&models.Trade{}).Select("COALESCE(SUM(amount), 0)").Row()
	if err := row.Scan(&stats.TotalVolume); err != nil {
		return nil, fmt.Errorf("%w: sum volume: %v", ErrStorageFailure, err)
	}
	return stats, nil
}
