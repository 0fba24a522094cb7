package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet caches an account balance; wallet_transactions is the source of truth.
type Wallet struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AccountID uuid.UUID       `gorm:"column:account_id;type:uuid;not null;uniqueIndex" json:"accountId"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(18,2);not null" json:"balance"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Wallet) TableName() string { return "wallets" }
