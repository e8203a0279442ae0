package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errVersionConflict aborts one optimistic attempt so the cycle can re-run.
var errVersionConflict = errors.New("account version conflict")

// Guard serializes mutations of a single account's balance. Each account gets
// its own lock, so settlements against different accounts proceed in parallel;
// settlements against the same account queue behind a one-slot channel that
// acquisition can abandon on context cancellation or lock timeout.
//
// Inside the lock, every mutation runs as a read-modify-write cycle committed
// with an optimistic version check. The in-process lock already serializes
// local writers; the version check catches out-of-band writers (another
// process on the same database) and retries the whole cycle a bounded number
// of times before giving up with ErrConflictExceeded.
type Guard struct {
	db          *gorm.DB
	logger      *zap.Logger
	lockTimeout time.Duration
	maxRetries  int

	mu    sync.Mutex
	locks map[uuid.UUID]chan struct{}
}

// NewGuard creates a balance guard over the given database handle.
func NewGuard(db *gorm.DB, logger *zap.Logger, lockTimeout time.Duration, maxRetries int) *Guard {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Guard{
		db:          db,
		logger:      logger.Named("balance-guard"),
		lockTimeout: lockTimeout,
		maxRetries:  maxRetries,
		locks:       make(map[uuid.UUID]chan struct{}),
	}
}

// lockFor returns the one-slot acquisition channel for an account, creating it
// on first use. Locks are never removed; the map grows with the set of
// accounts that have ever settled, which is bounded by the account table.
func (g *Guard) lockFor(accountID uuid.UUID) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[accountID]
	if !ok {
		l = make(chan struct{}, 1)
		g.locks[accountID] = l
	}
	return l
}

// WithAccountLock acquires exclusive access to one account, loads its current
// record, invokes fn with it inside a transaction, and commits any balance
// change fn made together with whatever rows fn wrote in the same transaction.
// The lock is released on every exit path. fn errors abort the transaction and
// are returned unchanged, so callers can carry their own sentinels through.
func (g *Guard) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(tx *gorm.DB, acct *models.Account) error) error {
	lock := g.lockFor(accountID)

	timer := time.NewTimer(g.lockTimeout)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ErrTimeout
	case <-timer.C:
		return ErrTimeout
	}
	defer func() { <-lock }()

	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var acct models.Account
			if err := tx.First(&acct, "id = ?", accountID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrAccountNotFound
				}
				return fmt.Errorf("%w: load account: %v", ErrStorageFailure, err)
			}

			version := acct.Version
			if err := fn(tx, &acct); err != nil {
				return err
			}

			res := tx.Model(&models.Account{}).
				Where("id = ? AND version = ?", accountID, version).
				Updates(map[string]interface{}{
					"balance": acct.Balance,
					"version": version + 1,
				})
			if res.Error != nil {
				return fmt.Errorf("%w: persist balance: %v", ErrStorageFailure, res.Error)
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}
			return nil
		})

		if errors.Is(err, errVersionConflict) {
			g.logger.Warn("Balance version conflict, retrying cycle",
				zap.String("account_id", accountID.String()),
				zap.Int("attempt", attempt))
			continue
		}
		return err
	}

	return ErrConflictExceeded
}
