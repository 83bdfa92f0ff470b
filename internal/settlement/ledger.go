package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"points_engine/internal/database"
	"points_engine/internal/lock"
	"points_engine/internal/model"
	"points_engine/internal/pending"
	"points_engine/internal/reward"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var errVersionConflict = errors.New("settlement: balance version conflict")

// ledgerPlan is everything a commit writes for one reference.
type ledgerPlan struct {
	reference  string
	customerID uint
	storeID    uint
	rows       []model.TransactionRecord
	// net is Σ points_delta; redeemed is Σ |Redemption deltas|.
	net      decimal.Decimal
	redeemed decimal.Decimal
	// required is the balance the customer must hold before the commit.
	required decimal.Decimal
}

// planLedger resolves the cart and lays out its ledger rows from line 0.
func planLedger(tx *pending.Transaction, customerID uint, now time.Time) (*ledgerPlan, error) {
	base := tx.BaseItems
	if len(base) == 0 {
		base = baseOf(tx.Items)
	}
	res, err := reward.Resolve(base, tx.Reward)
	if err != nil {
		return nil, invalid("%v", err)
	}

	plan := &ledgerPlan{
		reference:  tx.ReferenceNumber,
		customerID: customerID,
		storeID:    tx.StoreID,
		net:        decimal.Zero,
		redeemed:   decimal.Zero,
		required:   decimal.Zero,
	}
	var rewardID *uint
	if tx.Reward != nil {
		id := tx.Reward.RewardID
		rewardID = &id
	}

	row := func(it model.CartItem) model.TransactionRecord {
		return model.TransactionRecord{
			CreatedAt:       now,
			ReferenceNumber: tx.ReferenceNumber,
			LineNo:          len(plan.rows),
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			LineTotal:       it.LineAmount,
			CustomerID:      customerID,
			StoreID:         tx.StoreID,
			VendorID:        tx.VendorID,
		}
	}

	for _, it := range res.Items {
		r := row(it)
		switch {
		case it.IsRewardLine:
			r.Type = model.TransactionReward
			r.PointsDelta = decimal.Zero
			r.RewardID = rewardID
		case it.IsRedemption:
			r.Type = model.TransactionRedemption
			r.PointsDelta = it.PointsCost.Neg()
			plan.redeemed = plan.redeemed.Add(it.PointsCost)
			plan.required = plan.required.Add(it.PointsCost)
		default:
			r.Type = model.TransactionPurchase
			r.PointsDelta = it.Points
		}
		plan.net = plan.net.Add(r.PointsDelta)
		plan.rows = append(plan.rows, r)
	}

	// an untriggered buy-x-get-y grants nothing and costs nothing
	if tx.Reward != nil && res.Triggered && tx.Reward.PointsCost.IsPositive() {
		r := row(model.CartItem{ProductName: "reward:" + string(tx.Reward.RewardType), Quantity: 1, UnitPrice: decimal.Zero})
		r.Type = model.TransactionReward
		r.PointsDelta = tx.Reward.PointsCost.Neg()
		r.RewardID = rewardID
		plan.net = plan.net.Add(r.PointsDelta)
		plan.required = plan.required.Add(tx.Reward.PointsCost)
		plan.rows = append(plan.rows, r)
	}
	return plan, nil
}

// affordable reports whether bal covers the plan: the customer must hold the
// required points and the balance may not go below zero.
func (pl *ledgerPlan) affordable(bal *model.PointsBalance) error {
	if bal.TotalPoints.LessThan(pl.required) || bal.TotalPoints.Add(pl.net).IsNegative() {
		return &InsufficientPointsError{Need: pl.required, Have: bal.TotalPoints}
	}
	return nil
}

// baseOf strips engine-added reward lines from a resolved cart.
func baseOf(items []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	for _, it := range items {
		if !it.IsRewardLine {
			out = append(out, it)
		}
	}
	return out
}

// commit writes the rows and the balance change under the pair lock. If the
// balance cannot be updated the rows are deleted again.
func (p *Processor) commit(ctx context.Context, plan *ledgerPlan) (*Result, error) {
	unlock, err := p.locker.Lock(ctx, lock.BalanceKey(plan.customerID, plan.storeID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// nothing is written for a customer who cannot cover the cart
	bal, err := p.balanceOf(ctx, plan.customerID, plan.storeID)
	if err != nil {
		return nil, err
	}
	if err := plan.affordable(bal); err != nil {
		return nil, err
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&plan.rows).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			// another request committed this reference first
			prior, perr := p.prior(ctx, plan.reference)
			if perr != nil {
				return nil, perr
			}
			if prior == nil {
				return nil, fmt.Errorf("%w: %v", ErrDuplicateReference, err)
			}
			return prior, nil
		}
		return nil, fmt.Errorf("settlement: insert ledger rows: %w", err)
	}

	bal, err = p.applyDelta(ctx, plan)
	if err != nil {
		p.compensate(ctx, plan.reference)
		if errors.Is(err, ErrInsufficientPoints) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPointsUpdateFailed, err)
	}

	res := summarize(plan.rows)
	res.Balance = *bal
	res.State = StateSettled
	return res, nil
}

// applyDelta moves the pair balance by plan.net with a versioned conditional
// update, retrying when another writer bumped the version in between.
func (p *Processor) applyDelta(ctx context.Context, plan *ledgerPlan) (*model.PointsBalance, error) {
	db := p.db.WithContext(ctx)
	for attempt := 0; attempt < p.retries; attempt++ {
		var bal model.PointsBalance
		err := db.Where("user_id = ? AND store_id = ?", plan.customerID, plan.storeID).First(&bal).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if plan.required.IsPositive() || plan.net.IsNegative() {
				return nil, &InsufficientPointsError{Need: plan.required, Have: decimal.Zero}
			}
			bal = model.PointsBalance{
				UserID:         plan.customerID,
				StoreID:        plan.storeID,
				TotalPoints:    plan.net,
				RedeemedPoints: plan.redeemed,
				Version:        1,
			}
			err = db.Create(&bal).Error
			if database.IsUniqueViolation(err) {
				p.metrics.IncBalanceConflict()
				continue
			}
			if err != nil {
				return nil, err
			}
			return &bal, nil
		}
		if err != nil {
			return nil, err
		}

		if err := plan.affordable(&bal); err != nil {
			return nil, err
		}
		total := bal.TotalPoints.Add(plan.net)
		redeemed := bal.RedeemedPoints.Add(plan.redeemed)
		upd := db.Model(&model.PointsBalance{}).
			Where("id = ? AND version = ?", bal.ID, bal.Version).
			Updates(map[string]any{
				"total_points":    total,
				"redeemed_points": redeemed,
				"version":         bal.Version + 1,
			})
		if upd.Error != nil {
			return nil, upd.Error
		}
		if upd.RowsAffected == 0 {
			p.metrics.IncBalanceConflict()
			continue
		}
		bal.TotalPoints = total
		bal.RedeemedPoints = redeemed
		bal.Version++
		return &bal, nil
	}
	return nil, errVersionConflict
}

// compensate removes the rows of a reference whose balance update failed.
func (p *Processor) compensate(ctx context.Context, reference string) {
	p.metrics.IncCompensation()
	err := p.db.WithContext(context.WithoutCancel(ctx)).
		Where("reference_number = ?", reference).
		Delete(&model.TransactionRecord{}).Error
	if err != nil {
		p.log.Error("compensation failed, ledger needs reconciliation", "reference", reference, "err", err)
		return
	}
	p.log.Warn("ledger rows compensated", "reference", reference)
}

// prior rebuilds the result of an already committed reference, or returns nil.
func (p *Processor) prior(ctx context.Context, reference string) (*Result, error) {
	rows, err := p.Records(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("settlement: load reference %s: %w", reference, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	res := summarize(rows)
	bal, err := p.balanceOf(ctx, res.CustomerID, res.StoreID)
	if err != nil {
		return nil, err
	}
	res.Balance = *bal
	res.State = StateSettled
	res.Replayed = true
	return res, nil
}

// balanceOf returns the pair balance, or an empty one if none exists yet.
func (p *Processor) balanceOf(ctx context.Context, userID, storeID uint) (*model.PointsBalance, error) {
	var bal model.PointsBalance
	err := p.db.WithContext(ctx).Where("user_id = ? AND store_id = ?", userID, storeID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.PointsBalance{UserID: userID, StoreID: storeID, TotalPoints: decimal.Zero, RedeemedPoints: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement: load balance: %w", err)
	}
	return &bal, nil
}

// summarize derives totals from committed rows so first results and replays
// agree to the cent.
func summarize(rows []model.TransactionRecord) *Result {
	res := &Result{
		Records:     rows,
		TotalAmount: decimal.Zero,
		TotalPoints: decimal.Zero,
		PointsSpent: decimal.Zero,
	}
	if len(rows) > 0 {
		res.ReferenceNumber = rows[0].ReferenceNumber
		res.CustomerID = rows[0].CustomerID
		res.StoreID = rows[0].StoreID
	}
	for _, r := range rows {
		switch {
		case r.Type == model.TransactionPurchase:
			res.TotalAmount = res.TotalAmount.Add(r.LineTotal)
			res.TotalPoints = res.TotalPoints.Add(r.PointsDelta)
		case r.PointsDelta.IsNegative():
			res.PointsSpent = res.PointsSpent.Sub(r.PointsDelta)
		}
	}
	res.TotalAmount = reward.Round2(res.TotalAmount)
	return res
}
