// Package reconcile rebuilds materialised balances from the ledger.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"points_engine/internal/database"
	"points_engine/internal/lock"
	"points_engine/internal/metrics"
	"points_engine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxWriteAttempts = 3

// Locker must be the same locker the settlement processor uses, so the pair
// lock excludes balance writes while a pair is recomputed.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Report is the outcome for one (user, store) pair.
type Report struct {
	UserID         uint            `json:"user_id"`
	StoreID        uint            `json:"store_id"`
	BeforeTotal    decimal.Decimal `json:"before_total"`
	AfterTotal     decimal.Decimal `json:"after_total"`
	BeforeRedeemed decimal.Decimal `json:"before_redeemed"`
	AfterRedeemed  decimal.Decimal `json:"after_redeemed"`
	Drift          bool            `json:"drift"`
}

type Reconciler struct {
	db      *gorm.DB
	locker  Locker
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(db *gorm.DB, locker Locker, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: db, locker: locker, log: log.With("component", "reconcile")}
}

func (r *Reconciler) WithMetrics(m *metrics.Metrics) *Reconciler {
	r.metrics = m
	return r
}

// ReconcileUser recomputes every store balance of userID. Stores that have a
// balance but no ledger rows are reset to zero.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID uint) ([]Report, error) {
	var fromRows, fromBalances []uint
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.TransactionRecord{}).Where("customer_id = ?", userID).
		Distinct().Pluck("store_id", &fromRows).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list stores for user %d: %w", userID, err)
	}
	if err := db.Model(&model.PointsBalance{}).Where("user_id = ?", userID).
		Pluck("store_id", &fromBalances).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list balances for user %d: %w", userID, err)
	}

	reports := make([]Report, 0, len(fromRows)+len(fromBalances))
	for _, storeID := range union(fromRows, fromBalances) {
		rep, err := r.reconcilePair(ctx, userID, storeID)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// ReconcileAll runs ReconcileUser for every user with ledger rows or balances.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]Report, error) {
	var fromRows, fromBalances []uint
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.TransactionRecord{}).Distinct().Pluck("customer_id", &fromRows).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list customers: %w", err)
	}
	if err := db.Model(&model.PointsBalance{}).Distinct().Pluck("user_id", &fromBalances).Error; err != nil {
		return nil, fmt.Errorf("reconcile: list balance holders: %w", err)
	}

	var all []Report
	drifted := 0
	for _, userID := range union(fromRows, fromBalances) {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		reps, err := r.ReconcileUser(ctx, userID)
		all = append(all, reps...)
		if err != nil {
			return all, err
		}
	}
	for _, rep := range all {
		if rep.Drift {
			drifted++
		}
	}
	r.log.Info("reconciliation finished", "pairs", len(all), "drifted", drifted)
	return all, nil
}

func (r *Reconciler) reconcilePair(ctx context.Context, userID, storeID uint) (Report, error) {
	rep := Report{UserID: userID, StoreID: storeID}

	unlock, err := r.locker.Lock(ctx, lock.BalanceKey(userID, storeID))
	if err != nil {
		return rep, err
	}
	defer unlock()

	var rows []model.TransactionRecord
	err = r.db.WithContext(ctx).Select("points_delta", "type").
		Where("customer_id = ? AND store_id = ?", userID, storeID).Find(&rows).Error
	if err != nil {
		return rep, fmt.Errorf("reconcile: load ledger %d/%d: %w", userID, storeID, err)
	}
	rep.AfterTotal, rep.AfterRedeemed = decimal.Zero, decimal.Zero
	for _, row := range rows {
		rep.AfterTotal = rep.AfterTotal.Add(row.PointsDelta)
		if row.Type == model.TransactionRedemption {
			rep.AfterRedeemed = rep.AfterRedeemed.Add(row.PointsDelta.Abs())
		}
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		done, err := r.write(ctx, &rep)
		if err != nil {
			return rep, err
		}
		if done {
			totalDrift := !rep.BeforeTotal.Equal(rep.AfterTotal)
			redeemedDrift := !rep.BeforeRedeemed.Equal(rep.AfterRedeemed)
			rep.Drift = totalDrift || redeemedDrift
			r.metrics.IncReconciled(totalDrift, redeemedDrift)
			if rep.Drift {
				r.log.Warn("balance drift corrected",
					"user_id", userID,
					"store_id", storeID,
					"before_total", rep.BeforeTotal.StringFixed(2),
					"after_total", rep.AfterTotal.StringFixed(2),
					"before_redeemed", rep.BeforeRedeemed.StringFixed(2),
					"after_redeemed", rep.AfterRedeemed.StringFixed(2))
			}
			return rep, nil
		}
	}
	return rep, fmt.Errorf("reconcile: balance %d/%d kept changing", userID, storeID)
}

// write upserts the recomputed balance and bumps its version. It reports false
// when it lost a race and should be retried.
func (r *Reconciler) write(ctx context.Context, rep *Report) (bool, error) {
	db := r.db.WithContext(ctx)
	var bal model.PointsBalance
	err := db.Where("user_id = ? AND store_id = ?", rep.UserID, rep.StoreID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rep.BeforeTotal, rep.BeforeRedeemed = decimal.Zero, decimal.Zero
		err = db.Create(&model.PointsBalance{
			UserID:         rep.UserID,
			StoreID:        rep.StoreID,
			TotalPoints:    rep.AfterTotal,
			RedeemedPoints: rep.AfterRedeemed,
			Version:        1,
		}).Error
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return err == nil, err
	}
	if err != nil {
		return false, fmt.Errorf("reconcile: load balance %d/%d: %w", rep.UserID, rep.StoreID, err)
	}

	rep.BeforeTotal, rep.BeforeRedeemed = bal.TotalPoints, bal.RedeemedPoints
	res := db.Model(&model.PointsBalance{}).
		Where("id = ? AND version = ?", bal.ID, bal.Version).
		Updates(map[string]any{
			"total_points":    rep.AfterTotal,
			"redeemed_points": rep.AfterRedeemed,
			"version":         bal.Version + 1,
		})
	if res.Error != nil {
		return false, fmt.Errorf("reconcile: update balance %d/%d: %w", rep.UserID, rep.StoreID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func union(a, b []uint) []uint {
	seen := make(map[uint]struct{}, len(a)+len(b))
	out := make([]uint, 0, len(a)+len(b))
	for _, list := range [][]uint{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
