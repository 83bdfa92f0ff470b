// Package reward applies promotional rewards to point-of-sale carts.
package reward

import (
	"fmt"

	"points_engine/internal/model"

	"github.com/shopspring/decimal"
)

// EarnRate is the share of the post-discount spend credited as points.
var EarnRate = decimal.RequireFromString("0.10")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Resolution is a cart after a reward has been applied.
type Resolution struct {
	Items []model.CartItem
	// Discount is the fraction taken off purchase lines, zero unless the
	// reward is a discount.
	Discount    decimal.Decimal
	BaseTotal   decimal.Decimal
	TotalAmount decimal.Decimal
	TotalPoints decimal.Decimal
	// Triggered is false when a buy-X-get-Y reward found too few qualifying units.
	Triggered bool
}

// Round2 rounds half away from zero to two places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// PointsFor returns the points earned on a monetary amount.
func PointsFor(amount decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(EarnRate))
}

// DiscountFraction interprets a stored discount value: (0,1] is a fraction,
// (1,100] a percentage and anything larger is capped at 100% off.
func DiscountFraction(d decimal.Decimal) decimal.Decimal {
	switch {
	case !d.IsPositive():
		return decimal.Zero
	case d.LessThanOrEqual(one):
		return d
	case d.LessThanOrEqual(hundred):
		return d.Div(hundred)
	default:
		return one
	}
}

// BaseTotal sums the monetary value of purchase lines.
func BaseTotal(items []model.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.IsPurchase() {
			total = total.Add(it.LineTotal())
		}
	}
	return total
}

// Resolve applies reward (which may be nil) to the base cart. The input slice
// is not modified.
func Resolve(items []model.CartItem, reward *model.RewardDescriptor) (Resolution, error) {
	out := make([]model.CartItem, len(items))
	copy(out, items)

	base := BaseTotal(items)
	res := Resolution{
		Items:       out,
		Discount:    decimal.Zero,
		BaseTotal:   Round2(base),
		TotalAmount: Round2(base),
		Triggered:   reward != nil,
	}

	if reward != nil {
		switch reward.RewardType {
		case model.RewardDiscount:
			res.Discount = DiscountFraction(reward.DiscountValue)
			res.TotalAmount = Round2(base.Mul(one.Sub(res.Discount)))
		case model.RewardFreeItem:
			res.Items = append(res.Items, model.CartItem{
				ProductID:    reward.FreeItemProductID,
				Quantity:     1,
				UnitPrice:    decimal.Zero,
				IsRewardLine: true,
			})
		case model.RewardBuyXGetY:
			bonus := BonusQuantity(items, reward)
			if bonus > 0 {
				res.Items = append(res.Items, model.CartItem{
					ProductID:    reward.GetYProductID,
					Quantity:     bonus,
					UnitPrice:    decimal.Zero,
					IsRewardLine: true,
				})
			} else {
				res.Triggered = false
			}
		default:
			return Resolution{}, fmt.Errorf("reward: unknown reward type %q", reward.RewardType)
		}
	}

	res.TotalPoints = PointsFor(res.TotalAmount)
	allocate(res.Items, one.Sub(res.Discount))
	return res, nil
}

// allocate spreads the rounded cart total and its points over the purchase
// lines by rounding running totals, so the line amounts sum to
// Round2(base × keep) and the line points to PointsFor of that sum. Each line
// stays within a cent of its exact share and never goes negative.
func allocate(items []model.CartItem, keep decimal.Decimal) {
	discounted := !keep.Equal(one)
	running := decimal.Zero
	prevAmount, prevPoints := decimal.Zero, decimal.Zero
	for i := range items {
		it := &items[i]
		if !it.IsPurchase() {
			it.LineAmount = decimal.Zero
			it.Points = decimal.Zero
			continue
		}
		running = running.Add(it.LineTotal())
		amount := Round2(running.Mul(keep))
		points := PointsFor(amount)
		it.LineAmount = amount.Sub(prevAmount)
		it.Points = points.Sub(prevPoints)
		if discounted && it.Quantity > 0 {
			it.UnitPrice = Round2(it.LineAmount.Div(decimal.NewFromInt(int64(it.Quantity))))
		}
		prevAmount, prevPoints = amount, points
	}
}

// BonusQuantity returns how many get-Y units a buy-X-get-Y reward grants.
func BonusQuantity(items []model.CartItem, reward *model.RewardDescriptor) int {
	if reward == nil || reward.BuyXQuantity <= 0 || reward.GetYQuantity <= 0 {
		return 0
	}
	avail := 0
	for _, it := range items {
		if it.ProductID == reward.BuyXProductID && it.IsPurchase() {
			avail += it.Quantity
		}
	}
	multiplier := avail / reward.BuyXQuantity
	return multiplier * reward.GetYQuantity
}
