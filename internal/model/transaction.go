package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "Purchase"
	TransactionRedemption TransactionType = "Redemption"
	TransactionReward     TransactionType = "Reward"
	// TransactionMixed only describes a pending cart that combines purchase and
	// redemption lines; ledger rows are never Mixed.
	TransactionMixed TransactionType = "Mixed"
)

// TransactionRecord is one append-only ledger row. All rows of a settlement
// share ReferenceNumber; (ReferenceNumber, LineNo) is unique and line 0 always
// exists, which makes the reference the idempotency key at the storage layer.
type TransactionRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ReferenceNumber string          `gorm:"size:64;not null;uniqueIndex:idx_tx_reference_line,priority:1" json:"reference_number"`
	LineNo          int             `gorm:"not null;uniqueIndex:idx_tx_reference_line,priority:2" json:"line_no"`
	ProductID       uint            `gorm:"not null;default:0" json:"product_id"`
	ProductName     string          `gorm:"size:128" json:"product_name"`
	Quantity        int             `gorm:"not null;default:0" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"unit_price"` // post-adjustment
	LineTotal       decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"line_total"`
	PointsDelta     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"points_delta"`
	Type            TransactionType `gorm:"size:16;not null;index" json:"transaction_type"`
	RewardID        *uint           `gorm:"index" json:"reward_id,omitempty"`
	CustomerID      uint            `gorm:"not null;index:idx_tx_customer_store,priority:1" json:"customer_id"`
	StoreID         uint            `gorm:"not null;index:idx_tx_customer_store,priority:2" json:"store_id"`
	VendorID        uint            `gorm:"not null;index" json:"vendor_id"`
}

func (TransactionRecord) TableName() string { return "transaction_records" }
