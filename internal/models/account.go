package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account is a registered user holding a single balance in the base currency.
// Balance is only ever mutated through the ledger's balance guard; Version is
// the optimistic-concurrency token checked on every balance write.
type Account struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string          `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string          `gorm:"not null" json:"-"`
	Role         string          `gorm:"not null;default:user" json:"role"`
	Balance      decimal.Decimal `gorm:"type:decimal(32,8);not null" json:"balance"`
	Version      int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
