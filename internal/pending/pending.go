// Package pending holds carts that have been finalised at the point of sale
// but not yet settled, keyed by their short manual-entry code.
package pending

import (
	"context"
	"errors"
	"time"

	"points_engine/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("pending: transaction not found or expired")
	ErrAlreadyExists = errors.New("pending: short code already in use")
)

// DefaultTTL is how long a vendor-built cart stays claimable.
const DefaultTTL = 10 * time.Minute

// Transaction is a cart waiting for the customer to confirm it.
type Transaction struct {
	ShortCode       string `json:"short_code"`
	ReferenceNumber string `json:"reference_number"`

	VendorID uint `json:"vendor_id"`
	// CustomerID is set when the cart was built for a specific customer;
	// zero means any customer may claim it.
	CustomerID uint `json:"customer_id,omitempty"`
	StoreID    uint `json:"store_id"`

	// BaseItems is the cart as rung up; Items is the same cart after the
	// reward has been applied.
	BaseItems   []model.CartItem        `json:"base_items"`
	Items       []model.CartItem        `json:"items"`
	Reward      *model.RewardDescriptor `json:"reward,omitempty"`
	TotalAmount decimal.Decimal         `json:"total_amount"`
	TotalPoints decimal.Decimal         `json:"total_points"`
	Type        model.TransactionType   `json:"transaction_type"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired uses the lazy rule: an entry is dead once now is past ExpiresAt.
func (t *Transaction) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// SettledMarker remembers the reference a code was settled as.
type SettledMarker struct {
	Reference  string
	CustomerID uint
	SettledAt  time.Time
}

// Store is the pending transaction store. Codes are expected in canonical
// (upper case) form.
type Store interface {
	// Put stamps CreatedAt/ExpiresAt and stores tx, failing with
	// ErrAlreadyExists while the code is live.
	Put(ctx context.Context, tx *Transaction, ttl time.Duration) error
	// Get returns ErrNotFound for absent or expired codes.
	Get(ctx context.Context, code string) (*Transaction, error)
	// Remove is idempotent.
	Remove(ctx context.Context, code string) error
	// RemoveIfReference deletes the code only while it still maps to reference.
	RemoveIfReference(ctx context.Context, code, reference string) error
	// MarkSettled and Settled keep a tombstone after settlement so retries can
	// be answered idempotently.
	MarkSettled(ctx context.Context, code string, marker SettledMarker, ttl time.Duration) error
	Settled(ctx context.Context, code string) (SettledMarker, error)
}

// ClassifyType derives the transaction type from the cart composition.
func ClassifyType(items []model.CartItem) model.TransactionType {
	var purchase, redemption bool
	for _, it := range items {
		switch {
		case it.IsRedemption:
			redemption = true
		case !it.IsRewardLine:
			purchase = true
		}
	}
	switch {
	case purchase && redemption:
		return model.TransactionMixed
	case redemption:
		return model.TransactionRedemption
	default:
		return model.TransactionPurchase
	}
}
