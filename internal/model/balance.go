package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointsBalance is the materialised balance of one customer at one store.
// Version is bumped on every write and guards optimistic updates.
type PointsBalance struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID         uint            `gorm:"not null;uniqueIndex:idx_balance_pair,priority:1" json:"user_id"`
	StoreID        uint            `gorm:"not null;uniqueIndex:idx_balance_pair,priority:2" json:"store_id"`
	TotalPoints    decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_points"`
	RedeemedPoints decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"redeemed_points"`
	Version        int64           `gorm:"not null;default:0" json:"version"`
}

func (PointsBalance) TableName() string { return "points_balances" }
