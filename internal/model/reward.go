package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RewardType selects how a reward adjusts a cart.
type RewardType string

const (
	RewardDiscount RewardType = "discount"
	RewardFreeItem RewardType = "free_item"
	RewardBuyXGetY RewardType = "buy_x_get_y"
)

// Valid reports whether t is a known reward type.
func (t RewardType) Valid() bool {
	switch t {
	case RewardDiscount, RewardFreeItem, RewardBuyXGetY:
		return true
	}
	return false
}

// Reward is a store promotion that can be attached to a cart. Only the
// fields relevant to RewardType are meaningful.
type Reward struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	StoreID    uint            `gorm:"not null;index" json:"store_id"`
	Title      string          `gorm:"size:128;not null" json:"title"`
	RewardType RewardType      `gorm:"size:16;not null" json:"reward_type"`
	PointsCost decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"points_cost"`
	IsActive   bool            `gorm:"not null" json:"is_active"`
	StartDate  *time.Time      `json:"start_date,omitempty"`
	EndDate    *time.Time      `json:"end_date,omitempty"`

	DiscountValue     decimal.Decimal `gorm:"type:decimal(10,4)" json:"discount_value,omitempty"`
	FreeItemProductID uint            `json:"free_item_product_id,omitempty"`
	BuyXProductID     uint            `json:"buy_x_product_id,omitempty"`
	BuyXQuantity      int             `json:"buy_x_quantity,omitempty"`
	GetYProductID     uint            `json:"get_y_product_id,omitempty"`
	GetYQuantity      int             `json:"get_y_quantity,omitempty"`
}

func (Reward) TableName() string { return "rewards" }

// Descriptor returns the value object attached to carts.
func (r Reward) Descriptor() RewardDescriptor {
	return RewardDescriptor{
		RewardID:          r.ID,
		RewardType:        r.RewardType,
		PointsCost:        r.PointsCost,
		DiscountValue:     r.DiscountValue,
		FreeItemProductID: r.FreeItemProductID,
		BuyXProductID:     r.BuyXProductID,
		BuyXQuantity:      r.BuyXQuantity,
		GetYProductID:     r.GetYProductID,
		GetYQuantity:      r.GetYQuantity,
	}
}

// RewardDescriptor is the reward snapshot carried by a pending transaction.
type RewardDescriptor struct {
	RewardID          uint            `json:"reward_id"`
	RewardType        RewardType      `json:"reward_type"`
	PointsCost        decimal.Decimal `json:"points_cost"`
	DiscountValue     decimal.Decimal `json:"discount_value,omitempty"`
	FreeItemProductID uint            `json:"free_item_product_id,omitempty"`
	BuyXProductID     uint            `json:"buy_x_product_id,omitempty"`
	BuyXQuantity      int             `json:"buy_x_quantity,omitempty"`
	GetYProductID     uint            `json:"get_y_product_id,omitempty"`
	GetYQuantity      int             `json:"get_y_quantity,omitempty"`
}
