package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler repairs trades left pending by interrupted settlements. A trade
// still pending after the grace period is stale: its owning request has long
// since returned. Whether its money actually moved is answered by the journal
// entries written in the same transactions as the balance deltas. A credit
// entry means the settlement committed, so the trade is forced to completed.
// A debit with no credit means the principal is still reserved, so the
// reservation is refunded and the trade is forced to failed. No entries at
// all means nothing was applied and the trade is simply forced to failed.
type Reconciler struct {
	db     *gorm.DB
	guard  *Guard
	logger *zap.Logger
	grace  time.Duration
	sweep  time.Duration
}

// NewReconciler creates a reconciler with the given pending grace period and
// sweep interval. Refunds of unredeemed reservations go through the guard.
func NewReconciler(db *gorm.DB, guard *Guard, logger *zap.Logger, grace, sweep time.Duration) *Reconciler {
	return &Reconciler{
		db:     db,
		guard:  guard,
		logger: logger.Named("reconciler"),
		grace:  grace,
		sweep:  sweep,
	}
}

// Run performs a startup pass and then sweeps on an interval until the
// context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if n, err := r.ReconcileOnce(ctx); err != nil {
		r.logger.Error("Startup reconciliation failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("Startup reconciliation repaired stale trades", zap.Int("count", n))
	}

	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	r.logger.Info("Starting reconciliation sweep loop",
		zap.Duration("interval", r.sweep),
		zap.Duration("grace", r.grace))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping reconciler...")
			return
		case <-ticker.C:
			if n, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("Reconciliation sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Info("Reconciliation sweep repaired stale trades", zap.Int("count", n))
			}
		}
	}
}

// ReconcileOnce scans for trades pending longer than the grace period and
// forces each to its correct terminal status. It returns the number of trades
// repaired.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.grace)

	var stale []models.Trade
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TradePending, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("%w: scan stale trades: %v", ErrStorageFailure, err)
	}

	repaired := 0
	for _, trade := range stale {
		if err := r.repair(ctx, &trade); err != nil {
			r.logger.Error("Failed to repair stale trade",
				zap.String("trade_id", trade.ID.String()), zap.Error(err))
			continue
		}
		repaired++
	}
	return repaired, nil
}

// journalState summarizes a trade's ledger entries.
type journalState struct {
	hasDebit    bool
	hasCredit   bool
	creditDelta decimal.Decimal
}

func (r *Reconciler) journalFor(ctx context.Context, tradeID uuid.UUID) (journalState, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).Find(&entries).Error
	if err != nil {
		return journalState{}, fmt.Errorf("lookup journal entries: %w", err)
	}
	var state journalState
	for _, entry := range entries {
		switch entry.EntryType {
		case models.EntryDebit:
			state.hasDebit = true
		case models.EntryCredit:
			state.hasCredit = true
			state.creditDelta = entry.Delta
		}
	}
	return state, nil
}

func (r *Reconciler) repair(ctx context.Context, trade *models.Trade) error {
	journal, err := r.journalFor(ctx, trade.ID)
	if err != nil {
		return err
	}

	switch {
	case journal.hasCredit:
		return r.forceCompleted(ctx, trade, journal.creditDelta)
	case journal.hasDebit:
		return r.refundAndFail(ctx, trade)
	default:
		return r.forceFailed(ctx, trade)
	}
}

// forceCompleted replays the terminal transition for a settlement whose
// credit committed but whose trade row was never finalized. The profit is the
// credit over the principal; the fee is recovered from the journal, since the
// credit entry's delta is the credit net of fee.
func (r *Reconciler) forceCompleted(ctx context.Context, trade *models.Trade, creditDelta decimal.Decimal) error {
	credit := trade.Amount.Mul(decimal.NewFromInt(1).Add(trade.ExpectedProfitPct.Div(hundred)))
	profit := credit.Sub(trade.Amount)
	fee := credit.Sub(creditDelta)

	res := r.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND status = ?", trade.ID, models.TradePending).
		Updates(map[string]interface{}{
			"status":        models.TradeCompleted,
			"actual_profit": profit,
			"fee":           fee,
			"completed_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.logger.Info("Forced stale trade to completed",
			zap.String("trade_id", trade.ID.String()),
			zap.String("profit", profit.String()),
			zap.String("fee", fee.String()))
	}
	return nil
}

// forceFailed finalizes a stale trade that never moved any money.
func (r *Reconciler) forceFailed(ctx context.Context, trade *models.Trade) error {
	res := r.db.WithContext(ctx).Model(&models.Trade{}).
		Where("id = ? AND status = ?", trade.ID, models.TradePending).
		Updates(map[string]interface{}{
			"status":       models.TradeFailed,
			"completed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.logger.Info("Forced stale trade to failed",
			zap.String("trade_id", trade.ID.String()))
	}
	return nil
}

// refundAndFail returns an unredeemed reservation to the account and fails
// the trade, in one transaction under the account's guard. If another path
// finalized the trade in the meantime the transaction aborts before any
// refund is applied. A trade whose account no longer exists is failed without
// a refund.
func (r *Reconciler) refundAndFail(ctx context.Context, trade *models.Trade) error {
	err := r.guard.WithAccountLock(ctx, trade.AccountID, func(tx *gorm.DB, acct *models.Account) error {
		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", trade.ID, models.TradePending).
			Updates(map[string]interface{}{
				"status":       models.TradeFailed,
				"completed_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("trade %s no longer pending", trade.ID)
		}

		entry := &models.LedgerEntry{
			ID:        uuid.New(),
			TradeID:   uuid.NullUUID{UUID: trade.ID, Valid: true},
			AccountID: acct.ID,
			EntryType: models.EntryRefund,
			Delta:     trade.Amount,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("journal refund: %w", err)
		}
		acct.Balance = acct.Balance.Add(trade.Amount)
		return nil
	})
	if errors.Is(err, ErrAccountNotFound) {
		r.logger.Warn("Reserved principal has no account to refund",
			zap.String("trade_id", trade.ID.String()),
			zap.String("account_id", trade.AccountID.String()))
		return r.forceFailed(ctx, trade)
	}
	if err != nil {
		return err
	}
	r.logger.Info("Refunded unredeemed reservation and failed stale trade",
		zap.String("trade_id", trade.ID.String()),
		zap.String("amount", trade.Amount.String()))
	return nil
}
