// Package catalog exposes the rewards a store currently offers.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"points_engine/internal/model"

	"gorm.io/gorm"
)

var ErrRewardNotFound = errors.New("catalog: reward not found")

// Catalog reads rewards and keeps their is_active flag in step with the
// reward's date window. The flag is recomputed on every read and persisted
// when it flips.
type Catalog struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
	log *slog.Logger
}

// New builds a Catalog evaluating date windows in loc.
func New(db *gorm.DB, loc *time.Location, log *slog.Logger) *Catalog {
	if loc == nil {
		loc = time.UTC
	}
	return &Catalog{db: db, loc: loc, now: time.Now, log: log}
}

// WithClock replaces the time source.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// Window returns the inclusive activity window of r: start_date at 00:00:00
// through end_date at 23:59:59, in loc. ok is false unless both dates are set.
func Window(r model.Reward, loc *time.Location) (from, to time.Time, ok bool) {
	if r.StartDate == nil || r.EndDate == nil {
		return time.Time{}, time.Time{}, false
	}
	s := r.StartDate.In(loc)
	e := r.EndDate.In(loc)
	from = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	to = time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, 0, loc)
	return from, to, true
}

// ActiveAt computes the flag a reward should carry at now.
func ActiveAt(r model.Reward, now time.Time, loc *time.Location) bool {
	from, to, ok := Window(r, loc)
	if !ok {
		return r.IsActive
	}
	return !now.Before(from) && !now.After(to)
}

// ListByStore returns the store's rewards, refreshed against the clock.
// With activeOnly only currently redeemable rewards are returned.
func (c *Catalog) ListByStore(ctx context.Context, storeID uint, activeOnly bool) ([]model.Reward, error) {
	var rewards []model.Reward
	if err := c.db.WithContext(ctx).Where("store_id = ?", storeID).Order("id").Find(&rewards).Error; err != nil {
		return nil, fmt.Errorf("catalog: list store %d: %w", storeID, err)
	}
	now := c.now()
	out := rewards[:0]
	for i := range rewards {
		if err := c.refresh(ctx, &rewards[i], now); err != nil {
			return nil, err
		}
		if activeOnly && !rewards[i].IsActive {
			continue
		}
		out = append(out, rewards[i])
	}
	return out, nil
}

// Get returns one reward, refreshed against the clock.
func (c *Catalog) Get(ctx context.Context, id uint) (*model.Reward, error) {
	var r model.Reward
	if err := c.db.WithContext(ctx).First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("catalog: get reward %d: %w", id, err)
	}
	if err := c.refresh(ctx, &r, c.now()); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Catalog) refresh(ctx context.Context, r *model.Reward, now time.Time) error {
	active := ActiveAt(*r, now, c.loc)
	if active == r.IsActive {
		return nil
	}
	err := c.db.WithContext(ctx).Model(&model.Reward{}).Where("id = ?", r.ID).Update("is_active", active).Error
	if err != nil {
		return fmt.Errorf("catalog: update reward %d: %w", r.ID, err)
	}
	if c.log != nil {
		c.log.Info("reward activity flipped", "reward_id", r.ID, "store_id", r.StoreID, "active", active)
	}
	r.IsActive = active
	return nil
}
