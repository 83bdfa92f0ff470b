package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"points_engine/internal/catalog"
	"points_engine/internal/codegen"
	"points_engine/internal/directory"
	"points_engine/internal/lock"
	"points_engine/internal/model"
	"points_engine/internal/pending"
	"points_engine/internal/reward"

	"github.com/shopspring/decimal"
)

const (
	maxCodeAttempts      = 8
	maxReferenceAttempts = 5
)

// IssueRequest is a cart finalised by a vendor.
type IssueRequest struct {
	VendorID   uint             `json:"vendor_id"`
	StoreID    uint             `json:"store_id"`
	CustomerID uint             `json:"customer_id,omitempty"`
	RewardID   uint             `json:"reward_id,omitempty"`
	Items      []model.CartItem `json:"items"`
}

func (r IssueRequest) validate() error {
	if r.VendorID == 0 {
		return invalid("vendor_id is required")
	}
	if r.StoreID == 0 {
		return invalid("store_id is required")
	}
	if len(r.Items) == 0 {
		return invalid("at least one item is required")
	}
	for i, it := range r.Items {
		switch {
		case it.ProductID == 0:
			return invalid("items[%d]: product_id is required", i)
		case it.Quantity <= 0:
			return invalid("items[%d]: quantity must be > 0", i)
		case it.UnitPrice.IsNegative():
			return invalid("items[%d]: unit_price must be >= 0", i)
		case it.IsRewardLine:
			return invalid("items[%d]: reward lines are added by the engine", i)
		case it.IsRedemption && !it.PointsCost.IsPositive():
			return invalid("items[%d]: redemption lines need a positive points_cost", i)
		}
	}
	return nil
}

// Issued is what the vendor's till shows the customer.
type Issued struct {
	ReferenceNumber string                `json:"reference_number"`
	ShortCode       string                `json:"short_code"`
	QRPayload       string                `json:"qr_payload"`
	ExpiresAt       time.Time             `json:"expires_at"`
	TotalAmount     decimal.Decimal       `json:"total_amount"`
	TotalPoints     decimal.Decimal       `json:"total_points"`
	Type            model.TransactionType `json:"transaction_type"`
	Items           []model.CartItem      `json:"items"`
}

// Issue validates a vendor cart, applies its reward and stores it as a pending
// transaction claimable by short code or QR payload.
func (p *Processor) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	vendor, err := p.dir.GetUser(ctx, req.VendorID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, ErrVendorNotFound
		}
		return nil, err
	}
	store, err := p.dir.GetStore(ctx, req.StoreID)
	if err != nil {
		if errors.Is(err, directory.ErrStoreNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	if !directory.VendorOf(vendor, store) {
		return nil, ErrNotAVendor
	}
	if !store.IsActive {
		return nil, ErrStoreInactive
	}
	if req.CustomerID != 0 {
		if _, err := p.customer(ctx, req.CustomerID); err != nil {
			return nil, err
		}
	}

	var desc *model.RewardDescriptor
	if req.RewardID != 0 {
		r, err := p.rewards.Get(ctx, req.RewardID)
		if err != nil {
			if errors.Is(err, catalog.ErrRewardNotFound) {
				return nil, ErrRewardNotFound
			}
			return nil, err
		}
		if r.StoreID != store.ID || !r.IsActive {
			return nil, ErrRewardUnavailable
		}
		d := r.Descriptor()
		desc = &d
	}

	res, err := reward.Resolve(req.Items, desc)
	if err != nil {
		return nil, invalid("%v", err)
	}

	ref, err := p.newReference(ctx)
	if err != nil {
		return nil, err
	}
	tx := &pending.Transaction{
		ReferenceNumber: ref,
		VendorID:        vendor.ID,
		CustomerID:      req.CustomerID,
		StoreID:         store.ID,
		BaseItems:       req.Items,
		Items:           res.Items,
		Reward:          desc,
		TotalAmount:     res.TotalAmount,
		TotalPoints:     res.TotalPoints,
		Type:            pending.ClassifyType(res.Items),
	}
	if err := p.putWithFreshCode(ctx, tx); err != nil {
		return nil, err
	}

	payload, err := p.qr.encode(tx)
	if err != nil {
		_ = p.pending.RemoveIfReference(ctx, tx.ShortCode, tx.ReferenceNumber)
		return nil, err
	}

	p.metrics.IncIssued(string(tx.Type))
	p.log.Info("pending transaction issued",
		"reference", tx.ReferenceNumber,
		"store_id", tx.StoreID,
		"vendor_id", tx.VendorID,
		"type", tx.Type,
		"total_amount", tx.TotalAmount.StringFixed(2),
		"expires_at", tx.ExpiresAt)

	return &Issued{
		ReferenceNumber: tx.ReferenceNumber,
		ShortCode:       tx.ShortCode,
		QRPayload:       payload,
		ExpiresAt:       tx.ExpiresAt,
		TotalAmount:     tx.TotalAmount,
		TotalPoints:     tx.TotalPoints,
		Type:            tx.Type,
		Items:           tx.Items,
	}, nil
}

func (p *Processor) newReference(ctx context.Context) (string, error) {
	for i := 0; i < maxReferenceAttempts; i++ {
		ref := codegen.ReferenceNumber(p.now())
		var n int64
		err := p.db.WithContext(ctx).Model(&model.TransactionRecord{}).
			Where("reference_number = ?", ref).Count(&n).Error
		if err != nil {
			return "", fmt.Errorf("settlement: check reference: %w", err)
		}
		if n == 0 {
			return ref, nil
		}
	}
	return "", fmt.Errorf("settlement: could not allocate a reference number")
}

func (p *Processor) putWithFreshCode(ctx context.Context, tx *pending.Transaction) error {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := codegen.ShortCode()
		if err != nil {
			return err
		}
		tx.ShortCode = code
		err = p.pending.Put(ctx, tx, p.ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pending.ErrAlreadyExists) {
			return fmt.Errorf("settlement: store pending: %w", err)
		}
	}
	return fmt.Errorf("settlement: could not allocate a short code")
}

// Preview returns the live pending transaction behind a code.
func (p *Processor) Preview(ctx context.Context, code string) (*pending.Transaction, error) {
	code = codegen.Normalize(code)
	if !codegen.ValidShortCode(code) {
		return nil, ErrCodeInvalidOrExpired
	}
	tx, err := p.pending.Get(ctx, code)
	if err != nil {
		if errors.Is(err, pending.ErrNotFound) {
			return nil, ErrCodeInvalidOrExpired
		}
		return nil, err
	}
	return tx, nil
}

// Cancel withdraws a pending transaction. Only the issuing vendor may cancel;
// cancelling a code that is already gone succeeds.
func (p *Processor) Cancel(ctx context.Context, code string, vendorID uint) error {
	if vendorID == 0 {
		return invalid("vendor_id is required")
	}
	code = codegen.Normalize(code)
	if !codegen.ValidShortCode(code) {
		return invalid("malformed code")
	}
	tx, err := p.pending.Get(ctx, code)
	if errors.Is(err, pending.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tx.VendorID != vendorID {
		return ErrForbidden
	}

	unlock, err := p.locker.Lock(ctx, lock.SettlementKey(tx.ReferenceNumber))
	if err != nil {
		return err
	}
	defer unlock()
	if err := p.pending.RemoveIfReference(ctx, code, tx.ReferenceNumber); err != nil {
		return err
	}
	p.log.Info("pending transaction cancelled", "reference", tx.ReferenceNumber, "vendor_id", vendorID)
	return nil
}
