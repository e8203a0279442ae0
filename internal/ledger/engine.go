package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// SettleRequest is a validated-on-entry trade submission.
type SettleRequest struct {
	AccountID         uuid.UUID
	FromAsset         string
	ToAsset           string
	Amount            decimal.Decimal
	ExpectedProfitPct decimal.Decimal
}

// Notifier receives settled trades for out-of-band delivery. Implementations
// must not block the settlement path.
type Notifier interface {
	TradeSettled(trade *models.Trade)
}

// Engine turns a trade request into a durably recorded trade and a correctly
// updated balance. Settlement runs in two phases under the account's guard:
// the principal is debited when the trade is submitted, and the proceeds are
// credited when the trade reaches its terminal transition. Each phase commits
// its balance delta, the journal entry proving it, and any trade transition in
// a single transaction, so no interleaving or crash can leave the balance
// moved without a matching journal record. Because the reservation is durable
// before any settlement completes, concurrent trades against the same account
// compete for the principal rather than all passing the same balance check.
type Engine struct {
	db       *gorm.DB
	guard    *Guard
	logger   *zap.Logger
	feeRate  decimal.Decimal // percent of amount charged at settlement
	notifier Notifier
}

// NewEngine creates a settlement engine. notifier may be nil.
func NewEngine(db *gorm.DB, guard *Guard, logger *zap.Logger, feeRatePct decimal.Decimal, notifier Notifier) *Engine {
	return &Engine{
		db:       db,
		guard:    guard,
		logger:   logger.Named("settlement"),
		feeRate:  feeRatePct,
		notifier: notifier,
	}
}

func (e *Engine) validate(req *SettleRequest) error {
	req.FromAsset = strings.ToUpper(strings.TrimSpace(req.FromAsset))
	req.ToAsset = strings.ToUpper(strings.TrimSpace(req.ToAsset))
	if req.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}
	if req.FromAsset == "" || req.ToAsset == "" {
		return fmt.Errorf("%w: from and to assets are required", ErrInvalidRequest)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// Settle validates the request, records a pending trade with its principal
// debited, and drives it to a terminal status under the account's balance
// guard. On success the returned trade is completed and the balance reflects
// the reservation debit plus the settlement credit, which nets to the profit
// minus the fee.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*models.Trade, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	// Resolve the account before creating any trade so a bad account id has
	// no side effects.
	var exists int64
	if err := e.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", req.AccountID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("%w: lookup account: %v", ErrStorageFailure, err)
	}
	if exists == 0 {
		return nil, ErrAccountNotFound
	}

	trade := &models.Trade{
		ID:                uuid.New(),
		AccountID:         req.AccountID,
		FromAsset:         req.FromAsset,
		ToAsset:           req.ToAsset,
		Amount:            req.Amount,
		ExpectedProfitPct: req.ExpectedProfitPct,
		Status:            models.TradePending,
	}
	if err := e.db.WithContext(ctx).Create(trade).Error; err != nil {
		return nil, fmt.Errorf("%w: record pending trade: %v", ErrStorageFailure, err)
	}

	// Phase one: reserve the principal. The debit is durable before any
	// settlement proceeds, so a concurrent trade against the same account
	// checks against the already-reduced balance.
	err := e.guard.WithAccountLock(ctx, req.AccountID, func(tx *gorm.DB, acct *models.Account) error {
		if acct.Balance.LessThan(req.Amount) {
			return ErrInsufficientBalance
		}
		entry := &models.LedgerEntry{
			ID:        uuid.New(),
			TradeID:   uuid.NullUUID{UUID: trade.ID, Valid: true},
			AccountID: acct.ID,
			EntryType: models.EntryDebit,
			Delta:     req.Amount.Neg(),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("%w: journal principal debit: %v", ErrStorageFailure, err)
		}
		acct.Balance = acct.Balance.Sub(req.Amount)
		return nil
	})

	switch {
	case err == nil:
		// reserved, settle below

	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrConflictExceeded):
		// Local, detected failures with no balance effect: the trade's
		// disposition is deterministic.
		e.markFailed(trade)
		return trade, err

	default:
		// Timeout or unreachable store: no debit was applied, but the store's
		// state is unknown, so the trade stays pending for the reconciler.
		e.logger.Warn("Reservation interrupted, trade left pending",
			zap.String("trade_id", trade.ID.String()),
			zap.Error(err))
		return trade, err
	}

	credit := req.Amount.Mul(decimal.NewFromInt(1).Add(req.ExpectedProfitPct.Div(hundred)))
	profit := credit.Sub(req.Amount)
	fee := req.Amount.Mul(e.feeRate).Div(hundred)

	// Phase two: credit the proceeds and finalize. The credit entry, the
	// terminal transition, and the balance delta commit as one transaction.
	err = e.guard.WithAccountLock(ctx, req.AccountID, func(tx *gorm.DB, acct *models.Account) error {
		now := time.Now()
		entry := &models.LedgerEntry{
			ID:        uuid.New(),
			TradeID:   uuid.NullUUID{UUID: trade.ID, Valid: true},
			AccountID: acct.ID,
			EntryType: models.EntryCredit,
			Delta:     credit.Sub(fee),
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("%w: journal settlement credit: %v", ErrStorageFailure, err)
		}

		res := tx.Model(&models.Trade{}).
			Where("id = ? AND status = ?", trade.ID, models.TradePending).
			Updates(map[string]interface{}{
				"status":        models.TradeCompleted,
				"actual_profit": profit,
				"fee":           fee,
				"completed_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("%w: finalize trade: %v", ErrStorageFailure, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: trade %s already terminal", ErrStorageFailure, trade.ID)
		}

		acct.Balance = acct.Balance.Add(credit.Sub(fee))
		trade.Status = models.TradeCompleted
		trade.ActualProfit = decimal.NewNullDecimal(profit)
		trade.Fee = decimal.NewNullDecimal(fee)
		trade.CompletedAt = &now
		return nil
	})
	if err != nil {
		// The principal is reserved but the credit never landed. The trade
		// stays pending; the reconciler either refunds the reservation or
		// replays the missing transition.
		e.logger.Warn("Settlement interrupted after reservation, trade left pending",
			zap.String("trade_id", trade.ID.String()),
			zap.Error(err))
		return trade, err
	}

	e.logger.Info("Trade settled",
		zap.String("trade_id", trade.ID.String()),
		zap.String("account_id", req.AccountID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("profit", trade.ActualProfit.Decimal.String()))
	if e.notifier != nil {
		e.notifier.TradeSettled(trade)
	}
	return trade, nil
}

// markFailed drives a pending trade to failed. The status guard in the WHERE
// clause keeps terminal rows immutable even if two paths race here.
func (e *Engine) markFailed(trade *models.Trade) {
	now := time.Now()
	res := e.db.Model(&models.Trade{}).
		Where("id = ? AND status = ?", trade.ID, models.TradePending).
		Updates(map[string]interface{}{
			"status":       models.TradeFailed,
			"completed_at": now,
		})
	if res.Error != nil {
		e.logger.Error("Failed to mark trade as failed",
			zap.String("trade_id", trade.ID.String()),
			zap.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		trade.Status = models.TradeFailed
		trade.CompletedAt = &now
	}
}

// GetTrade returns one trade by id.
func (e *Engine) GetTrade(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	var trade models.Trade
	if err := e.db.WithContext(ctx).First(&trade, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: load trade: %v", ErrStorageFailure, err)
	}
	return &trade, nil
}

// TradesForAccount returns all trades owned by one account, newest first.
func (e *Engine) TradesForAccount(ctx context.Context, accountID uuid.UUID) ([]models.Trade, error) {
	var trades []models.Trade
	if err := e.db.WithContext(ctx).Where("account_id = ?", accountID).Order("created_at desc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("%w: load trades: %v", ErrStorageFailure, err)
	}
	return trades, nil
}

// AllTrades returns every trade on the platform, newest first.
func (e *Engine) AllTrades(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	if err := e.db.WithContext(ctx).Order("created_at desc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("%w: load trades: %v", ErrStorageFailure, err)
	}
	return trades, nil
}

// AdjustBalance applies a signed delta to an account's balance through the
// guard, journaling it like a settlement. Used by the admin surface for
// deposits and corrections; a delta that would take the balance negative is
// rejected without any effect.
func (e *Engine) AdjustBalance(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := e.guard.WithAccountLock(ctx, accountID, func(tx *gorm.DB, acct *models.Account) error {
		next := acct.Balance.Add(delta)
		if next.IsNegative() {
			return ErrInsufficientBalance
		}
		entry := &models.LedgerEntry{
			ID:        uuid.New(),
			AccountID: acct.ID,
			EntryType: models.EntryAdjustment,
			Delta:     delta,
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("%w: journal adjustment: %v", ErrStorageFailure, err)
		}
		acct.Balance = next
		newBalance = next
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}
