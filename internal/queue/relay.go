package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Publisher is the Kafka side of the relay.
type Publisher interface {
	Publish(ctx context.Context, msg SettlementMessage) error
}

// Relay forwards the Redis stream outbox to Kafka. An entry is acknowledged
// only after Kafka accepted it, so failures are retried.
type Relay struct {
	rdb      *rd.Client
	producer Publisher
	log      *slog.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, producer Publisher, stream, group, consumer string, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		rdb:      rdb,
		producer: producer,
		log:      log.With("component", "relay"),
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.Error("relay ensure group", "err", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.pass(ctx, 2*time.Second); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn("relay pass", "err", err)
			time.Sleep(300 * time.Millisecond)
		}
	}
}

// pass drains this consumer's unacknowledged entries first, then waits up to
// block for new ones. It returns how many entries were forwarded.
func (r *Relay) pass(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := r.readGroup(ctx, "0", 0)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		msgs, err = r.readGroup(ctx, ">", block)
		if err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	sent := 0
	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			// leave it unacknowledged for the next pass
			return sent, fmt.Errorf("process %s: %w", xm.ID, err)
		}
		sent++
	}
	return sent, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	if block == 0 {
		block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseSettlementEvent(xm.Values)
	if err != nil {
		// a malformed entry would block the stream forever: drop it
		r.log.Warn("relay dropped malformed entry", "id", xm.ID, "err", err)
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.producer.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseSettlementEvent(values map[string]any) (SettlementMessage, error) {
	var msg SettlementMessage
	var err error
	if msg.ReferenceNumber, err = getStreamString(values, "reference_number"); err != nil {
		return SettlementMessage{}, err
	}
	if msg.CustomerID, err = getStreamUint(values, "customer_id"); err != nil {
		return SettlementMessage{}, err
	}
	if msg.StoreID, err = getStreamUint(values, "store_id"); err != nil {
		return SettlementMessage{}, err
	}
	if msg.VendorID, err = getStreamUint(values, "vendor_id"); err != nil {
		return SettlementMessage{}, err
	}
	for key, dst := range map[string]*decimal.Decimal{
		"total_amount":  &msg.TotalAmount,
		"points_earned": &msg.PointsEarned,
		"points_spent":  &msg.PointsSpent,
		"balance":       &msg.Balance,
	} {
		s, err := getStreamString(values, key)
		if err != nil {
			return SettlementMessage{}, err
		}
		if *dst, err = decimal.NewFromString(s); err != nil {
			return SettlementMessage{}, fmt.Errorf("invalid %s %q", key, s)
		}
	}
	atStr, err := getStreamString(values, "settled_at")
	if err != nil {
		return SettlementMessage{}, err
	}
	atMS, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		return SettlementMessage{}, fmt.Errorf("invalid settled_at %q", atStr)
	}
	msg.SettledAt = time.UnixMilli(atMS).UTC()

	if err := msg.Validate(); err != nil {
		return SettlementMessage{}, err
	}
	return msg, nil
}

func getStreamUint(values map[string]any, key string) (uint, error) {
	s, err := getStreamString(values, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return uint(n), nil
}

func getStreamString(values map[string]any, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
