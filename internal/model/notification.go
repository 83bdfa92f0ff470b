package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification is an in-app message produced from a settlement event.
// Delivery (push, email) happens elsewhere.
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ReferenceNumber string          `gorm:"size:64;uniqueIndex;not null" json:"reference_number"`
	UserID          uint            `gorm:"not null;index" json:"user_id"`
	StoreID         uint            `gorm:"not null" json:"store_id"`
	Title           string          `gorm:"size:128;not null" json:"title"`
	Body            string          `gorm:"size:512" json:"body"`
	PointsDelta     decimal.Decimal `gorm:"type:decimal(14,2)" json:"points_delta"`
	Read            bool            `gorm:"not null;default:false" json:"read"`
}

func (Notification) TableName() string { return "notifications" }
