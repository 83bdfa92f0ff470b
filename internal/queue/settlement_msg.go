package queue

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementMessage is the event emitted once a reference has been committed
// to the ledger.
type SettlementMessage struct {
	ReferenceNumber string          `json:"reference_number"`
	CustomerID      uint            `json:"customer_id"`
	StoreID         uint            `json:"store_id"`
	VendorID        uint            `json:"vendor_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PointsEarned    decimal.Decimal `json:"points_earned"`
	PointsSpent     decimal.Decimal `json:"points_spent"`
	Balance         decimal.Decimal `json:"balance"`
	SettledAt       time.Time       `json:"settled_at"`
}

// Validate rejects messages a consumer cannot act on.
func (m SettlementMessage) Validate() error {
	if m.ReferenceNumber == "" {
		return fmt.Errorf("reference_number is required")
	}
	if m.CustomerID == 0 {
		return fmt.Errorf("customer_id is required")
	}
	if m.StoreID == 0 {
		return fmt.Errorf("store_id is required")
	}
	if m.SettledAt.IsZero() {
		return fmt.Errorf("settled_at is required")
	}
	return nil
}

// NetDelta is the change applied to the customer's balance.
func (m SettlementMessage) NetDelta() decimal.Decimal {
	return m.PointsEarned.Sub(m.PointsSpent)
}
