package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/evrent-backend/pkg/enums"
)

// WalletTransaction is an append-only signed ledger entry.
type WalletTransaction struct {
	ID           uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WalletID     uuid.UUID                   `gorm:"column:wallet_id;type:uuid;not null" json:"walletId"`
	OrderID      *uuid.UUID                  `gorm:"column:order_id;type:uuid" json:"orderId,omitempty"`
	Amount       decimal.Decimal             `gorm:"column:amount;type:numeric(18,2);not null" json:"amount"`
	Type         enums.WalletTransactionType `gorm:"column:type;type:text;not null" json:"type"`
	Description  string                      `gorm:"column:description;not null" json:"description"`
	BalanceAfter decimal.Decimal             `gorm:"column:balance_after;type:numeric(18,2);not null" json:"balanceAfter"`
	CreatedAt    time.Time                   `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }
