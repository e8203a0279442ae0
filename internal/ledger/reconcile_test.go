package ledger

import (
	"context"
	"testing"
	"time"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func stalePendingTrade(t *testing.T, db *gorm.DB, accountID uuid.UUID, age time.Duration) *models.Trade {
	trade := &models.Trade{
		ID:                uuid.New(),
		AccountID:         accountID,
		FromAsset:         "BTC",
		ToAsset:           "ETH",
		Amount:            decimal.NewFromInt(100),
		ExpectedProfitPct: decimal.NewFromInt(5),
		Status:            models.TradePending,
		CreatedAt:         time.Now().Add(-age),
	}
	require.NoError(t, db.Create(trade).Error)
	return trade
}

func journalEntry(t *testing.T, db *gorm.DB, trade *models.Trade, entryType string, delta decimal.Decimal) {
	require.NoError(t, db.Create(&models.LedgerEntry{
		ID:        uuid.New(),
		TradeID:   uuid.NullUUID{UUID: trade.ID, Valid: true},
		AccountID: trade.AccountID,
		EntryType: entryType,
		Delta:     delta,
	}).Error)
}

func newTestReconciler(db *gorm.DB) *Reconciler {
	guard := NewGuard(db, zap.NewNop(), 5*time.Second, 3)
	return NewReconciler(db, guard, zap.NewNop(), 10*time.Minute, time.Hour)
}

func TestReconcile_ForcesFailedWhenNothingApplied(t *testing.T) {
	// Arrange: a pending trade past the grace period with no journal entries.
	db := setupTest(t)
	acct := createAccount(t, db, 1000)
	trade := stalePendingTrade(t, db, acct.ID, time.Hour)

	rec := newTestReconciler(db)

	// Act
	n, err := rec.ReconcileOnce(context.Background())

	// Assert: failed, and no refund since nothing was ever debited.
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var stored models.Trade
	require.NoError(t, db.First(&stored, "id = ?", trade.ID).Error)
	assert.Equal(t, models.TradeFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.False(t, stored.ActualProfit.Valid)

	var got models.Account
	require.NoError(t, db.First(&got, "id = ?", acct.ID).Error)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestReconcile_ForcesCompletedWhenCreditWasApplied(t *testing.T) {
	// Arrange: the journal proves the full settlement committed, but the
	// terminal transition never landed. The credit entry is the credit net
	// of a fee of 1, so the reconciler must recover both profit and fee.
	db := setupTest(t)
	acct := createAccount(t, db, 1000)
	trade := stalePendingTrade(t, db, acct.ID, time.Hour)
	journalEntry(t, db, trade, models.EntryDebit, decimal.NewFromInt(-100))
	journalEntry(t, db, trade, models.EntryCredit, decimal.NewFromInt(104))

	rec := newTestReconciler(db)

	// Act
	n, err := rec.ReconcileOnce(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var stored models.Trade
	require.NoError(t, db.First(&stored, "id = ?", trade.ID).Error)
	assert.Equal(t, models.TradeCompleted, stored.Status)
	require.True(t, stored.ActualProfit.Valid)
	assert.True(t, stored.ActualProfit.Decimal.Equal(decimal.NewFromInt(5)))
	require.True(t, stored.Fee.Valid)
	assert.True(t, stored.Fee.Decimal.Equal(decimal.NewFromInt(1)), "fee %s", stored.Fee.Decimal)
	assert.NotNil(t, stored.CompletedAt)
}

func TestReconcile_RefundsUnredeemedReservation(t *testing.T) {
	// Arrange: the principal was debited but the settlement credit never
	// landed, the crash-between-phases case. The account sits at 900 with
	// 100 reserved.
	db := setupTest(t)
	acct := createAccount(t, db, 900)
	trade := stalePendingTrade(t, db, acct.ID, time.Hour)
	journalEntry(t, db, trade, models.EntryDebit, decimal.NewFromInt(-100))

	rec := newTestReconciler(db)

	// Act
	n, err := rec.ReconcileOnce(context.Background())

	// Assert: the trade fails and the reservation comes back.
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var stored models.Trade
	require.NoError(t, db.First(&stored, "id = ?", trade.ID).Error)
	assert.Equal(t, models.TradeFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	var got models.Account
	require.NoError(t, db.First(&got, "id = ?", acct.ID).Error)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)), "balance %s", got.Balance)

	var refunds []models.LedgerEntry
	require.NoError(t, db.Where("trade_id = ? AND entry_type = ?", trade.ID, models.EntryRefund).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].Delta.Equal(decimal.NewFromInt(100)))
}

func TestReconcile_RefundIsNotRepeated(t *testing.T) {
	// A trade already refunded and failed is terminal; a second sweep must
	// not move money again.
	db := setupTest(t)
	acct := createAccount(t, db, 900)
	trade := stalePendingTrade(t, db, acct.ID, time.Hour)
	journalEntry(t, db, trade, models.EntryDebit, decimal.NewFromInt(-100))

	rec := newTestReconciler(db)

	n, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var got models.Account
	require.NoError(t, db.First(&got, "id = ?", acct.ID).Error)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)), "balance %s", got.Balance)

	var refundCount int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("trade_id = ? AND entry_type = ?", trade.ID, models.EntryRefund).
		Count(&refundCount).Error)
	assert.Equal(t, int64(1), refundCount)
}

func TestReconcile_LeavesFreshPendingAlone(t *testing.T) {
	// A pending trade inside the grace period may still be in flight.
	db := setupTest(t)
	acct := createAccount(t, db, 1000)
	trade := stalePendingTrade(t, db, acct.ID, time.Minute)

	rec := newTestReconciler(db)

	n, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored models.Trade
	require.NoError(t, db.First(&stored, "id = ?", trade.ID).Error)
	assert.Equal(t, models.TradePending, stored.Status)
}

func TestReconcile_SkipsTerminalTrades(t *testing.T) {
	db := setupTest(t)
	acct := createAccount(t, db, 1000)
	trade := stalePendingTrade(t, db, acct.ID, time.Hour)
	now := time.Now()
	require.NoError(t, db.Model(&models.Trade{}).Where("id = ?", trade.ID).Updates(map[string]interface{}{
		"status":       models.TradeCompleted,
		"completed_at": now,
	}).Error)

	rec := newTestReconciler(db)

	n, err := rec.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	var stored models.Trade
	require.NoError(t, db.First(&stored, "id = ?", trade.ID).Error)
	assert.Equal(t, models.TradeCompleted, stored.Status)
}
