package model

import "github.com/shopspring/decimal"

// CartItem is one line of a point-of-sale cart.
//
// Reward lines (free item, buy-X-get-Y bonus) are generated by the reward
// resolver and always carry a zero unit price. Redemption lines are paid with
// points: PointsCost is the total cost of the line and the line neither adds
// to the monetary total nor earns points.
//
// LineAmount and Points are set by the resolver on purchase lines: the line's
// share of the rounded cart total and of the points it earns. Across a cart
// they add up to the resolved totals exactly.
type CartItem struct {
	ProductID    uint            `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	IsRewardLine bool            `json:"is_reward_line"`
	IsRedemption bool            `json:"is_redemption,omitempty"`
	PointsCost   decimal.Decimal `json:"points_cost,omitempty"`
	LineAmount   decimal.Decimal `json:"line_amount"`
	Points       decimal.Decimal `json:"points"`
}

// LineTotal is quantity × unit price.
func (c CartItem) LineTotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// IsPurchase reports whether the line is paid with money and earns points.
func (c CartItem) IsPurchase() bool {
	return !c.IsRewardLine && !c.IsRedemption
}
