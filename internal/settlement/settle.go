package settlement

import (
	"context"
	"errors"
	"time"

	"points_engine/internal/codegen"
	"points_engine/internal/directory"
	"points_engine/internal/lock"
	"points_engine/internal/model"
	"points_engine/internal/pending"
	"points_engine/internal/queue"
)

// SettleByCode settles the pending transaction behind a manually entered short
// code for customerID. Retrying a code that this customer already settled
// returns the original result with Replayed set.
func (p *Processor) SettleByCode(ctx context.Context, code string, customerID uint) (res *Result, err error) {
	start := time.Now()
	defer func() { p.observe("code", start, res, err) }()

	if customerID == 0 {
		return nil, invalid("customer_id is required")
	}
	code = codegen.Normalize(code)
	if code == "" {
		return nil, invalid("code is required")
	}
	if !codegen.ValidShortCode(code) {
		return nil, ErrCodeInvalidOrExpired
	}

	tx, err := p.pending.Get(ctx, code)
	if errors.Is(err, pending.ErrNotFound) {
		return p.replayCode(ctx, code, customerID)
	}
	if err != nil {
		return nil, err
	}

	unlock, err := p.locker.Lock(ctx, lock.SettlementKey(tx.ReferenceNumber))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-read under the lock: a concurrent attempt may have settled it
	current, err := p.pending.Get(ctx, code)
	if errors.Is(err, pending.ErrNotFound) {
		return p.replayCode(ctx, code, customerID)
	}
	if err != nil {
		return nil, err
	}
	if current.ReferenceNumber != tx.ReferenceNumber {
		return nil, ErrCodeInvalidOrExpired
	}

	res, err = p.settle(ctx, current, customerID)
	if err != nil {
		return nil, err
	}
	p.finish(ctx, code, res)
	return res, nil
}

// SettleScanned settles a signed QR payload for customerID. The payload is
// self-contained, but while it names a short code that code must still be
// live, so a cancelled cart cannot be settled by scanning.
func (p *Processor) SettleScanned(ctx context.Context, payload string, customerID uint) (res *Result, err error) {
	start := time.Now()
	defer func() { p.observe("scan", start, res, err) }()

	if customerID == 0 {
		return nil, invalid("customer_id is required")
	}
	if payload == "" {
		return nil, invalid("payload is required")
	}
	tx, err := p.qr.decode(payload)
	if err != nil {
		return nil, err
	}

	unlock, err := p.locker.Lock(ctx, lock.SettlementKey(tx.ReferenceNumber))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if tx.ShortCode != "" {
		live, err := p.pending.Get(ctx, tx.ShortCode)
		switch {
		case err == nil && live.ReferenceNumber == tx.ReferenceNumber:
		case err == nil || errors.Is(err, pending.ErrNotFound):
			// settled, cancelled or the code was reissued: only a replay is possible
			prior, err := p.prior(ctx, tx.ReferenceNumber)
			if err != nil {
				return nil, err
			}
			if prior == nil {
				return nil, ErrCodeInvalidOrExpired
			}
			return p.replay(prior, customerID)
		default:
			return nil, err
		}
	}

	res, err = p.settle(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}
	p.finish(ctx, tx.ShortCode, res)
	return res, nil
}

// settle validates and commits tx. The caller holds the reference lock.
func (p *Processor) settle(ctx context.Context, tx *pending.Transaction, customerID uint) (*Result, error) {
	log := p.log.With("reference", tx.ReferenceNumber, "customer_id", customerID, "store_id", tx.StoreID)
	log.Debug("settlement started", "state", StateSettling)

	if _, err := p.customer(ctx, customerID); err != nil {
		log.Info("settlement rejected", "state", StateRejected, "reason", Outcome(err))
		return nil, err
	}
	if tx.CustomerID != 0 && tx.CustomerID != customerID {
		log.Info("settlement rejected", "state", StateRejected, "reason", "bound to another customer")
		return nil, ErrForbidden
	}

	prior, err := p.prior(ctx, tx.ReferenceNumber)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return p.replay(prior, customerID)
	}

	plan, err := planLedger(tx, customerID, p.now())
	if err != nil {
		return nil, err
	}
	bal, err := p.balanceOf(ctx, customerID, tx.StoreID)
	if err != nil {
		return nil, err
	}
	if err := plan.affordable(bal); err != nil {
		log.Info("settlement rejected", "state", StateRejected, "reason", err.Error())
		return nil, err
	}

	res, err := p.commit(ctx, plan)
	if err != nil {
		if !errors.Is(err, ErrInsufficientPoints) {
			log.Error("settlement failed", "state", StateRejected, "err", err)
		}
		return nil, err
	}
	if res.Replayed {
		return p.replay(res, customerID)
	}
	log.Info("transaction settled",
		"state", StateSettled,
		"total_amount", res.TotalAmount.StringFixed(2),
		"points_earned", res.TotalPoints.StringFixed(2),
		"points_spent", res.PointsSpent.StringFixed(2),
		"balance", res.Balance.TotalPoints.StringFixed(2))
	return res, nil
}

func (p *Processor) customer(ctx context.Context, id uint) (*model.User, error) {
	if id == 0 {
		return nil, invalid("customer_id is required")
	}
	u, err := p.dir.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	if u.Role != model.RoleCustomer {
		return nil, ErrNotACustomer
	}
	return u, nil
}

func (p *Processor) replayCode(ctx context.Context, code string, customerID uint) (*Result, error) {
	marker, err := p.pending.Settled(ctx, code)
	if errors.Is(err, pending.ErrNotFound) {
		return nil, ErrCodeInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}
	if marker.CustomerID != customerID {
		return nil, ErrCodeInvalidOrExpired
	}
	prior, err := p.prior(ctx, marker.Reference)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, ErrCodeInvalidOrExpired
	}
	return p.replay(prior, customerID)
}

// replay hands a stored outcome back to the customer it belongs to; anyone
// else sees the code as spent.
func (p *Processor) replay(prior *Result, customerID uint) (*Result, error) {
	if prior.CustomerID != customerID {
		return nil, ErrCodeInvalidOrExpired
	}
	prior.Replayed = true
	p.log.Info("settlement replayed", "reference", prior.ReferenceNumber, "customer_id", customerID)
	return prior, nil
}

// finish runs after a successful commit or replay. Failures here are logged:
// the ledger is already authoritative.
func (p *Processor) finish(ctx context.Context, code string, res *Result) {
	ctx = context.WithoutCancel(ctx)
	if code != "" {
		// marker first: a reader that misses the pending entry must find it
		marker := pending.SettledMarker{Reference: res.ReferenceNumber, CustomerID: res.CustomerID, SettledAt: p.now()}
		if err := p.pending.MarkSettled(ctx, code, marker, p.settledTTL); err != nil {
			p.log.Warn("write settled marker failed", "reference", res.ReferenceNumber, "err", err)
		}
		if err := p.pending.RemoveIfReference(ctx, code, res.ReferenceNumber); err != nil {
			p.log.Warn("remove pending failed", "reference", res.ReferenceNumber, "err", err)
		}
	}
	if res.Replayed || p.events == nil {
		return
	}
	err := p.events.PublishSettlement(ctx, queue.SettlementMessage{
		ReferenceNumber: res.ReferenceNumber,
		CustomerID:      res.CustomerID,
		StoreID:         res.StoreID,
		VendorID:        vendorOf(res.Records),
		TotalAmount:     res.TotalAmount,
		PointsEarned:    res.TotalPoints,
		PointsSpent:     res.PointsSpent,
		Balance:         res.Balance.TotalPoints,
		SettledAt:       p.now(),
	})
	if err != nil {
		p.metrics.IncEvent("error")
		p.log.Warn("publish settlement event failed", "reference", res.ReferenceNumber, "err", err)
		return
	}
	p.metrics.IncEvent("ok")
}

func vendorOf(rows []model.TransactionRecord) uint {
	if len(rows) == 0 {
		return 0
	}
	return rows[0].VendorID
}
