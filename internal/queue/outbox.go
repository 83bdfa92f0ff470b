package queue

import (
	"context"
	"fmt"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// Outbox appends settlement events to a Redis stream. The Relay drains the
// stream into Kafka, so a Kafka outage never fails a settlement.
type Outbox struct {
	rdb    rd.Cmdable
	stream string
	maxLen int64
}

func NewOutbox(rdb rd.Cmdable, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: 100_000}
}

// PublishSettlement implements the settlement processor's publisher.
func (o *Outbox) PublishSettlement(ctx context.Context, msg SettlementMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	err := o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: encodeStream(msg),
	}).Err()
	if err != nil {
		return fmt.Errorf("outbox xadd: %w", err)
	}
	return nil
}

func encodeStream(msg SettlementMessage) map[string]any {
	return map[string]any{
		"reference_number": msg.ReferenceNumber,
		"customer_id":      strconv.FormatUint(uint64(msg.CustomerID), 10),
		"store_id":         strconv.FormatUint(uint64(msg.StoreID), 10),
		"vendor_id":        strconv.FormatUint(uint64(msg.VendorID), 10),
		"total_amount":     msg.TotalAmount.String(),
		"points_earned":    msg.PointsEarned.String(),
		"points_spent":     msg.PointsSpent.String(),
		"balance":          msg.Balance.String(),
		"settled_at":       strconv.FormatInt(msg.SettledAt.UnixMilli(), 10),
	}
}

// Nop drops events; used when EVENTS_ENABLED is off.
type Nop struct{}

func (Nop) PublishSettlement(context.Context, SettlementMessage) error { return nil }
