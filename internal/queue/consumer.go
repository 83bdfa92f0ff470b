package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"points_engine/internal/database"
	"points_engine/internal/model"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Consumer turns settlement events into in-app notifications.
type Consumer struct {
	r   *kafka.Reader
	db  *gorm.DB
	log *slog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db:  db,
		log: log.With("component", "consumer"),
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return
		}
		if err := c.Handle(ctx, m.Value); err != nil {
			c.log.Warn("consumer handle", "offset", m.Offset, "err", err)
		}
	}
}

// Handle stores the notification for one event. Redelivered events hit the
// unique reference index and count as success.
func (c *Consumer) Handle(ctx context.Context, value []byte) error {
	var msg SettlementMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	err := c.db.WithContext(ctx).Create(notificationFor(msg)).Error
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func notificationFor(msg SettlementMessage) *model.Notification {
	net := msg.NetDelta()
	title := fmt.Sprintf("You earned %s points", net.StringFixed(2))
	if net.IsNegative() {
		title = fmt.Sprintf("You spent %s points", net.Neg().StringFixed(2))
	}
	return &model.Notification{
		ReferenceNumber: msg.ReferenceNumber,
		UserID:          msg.CustomerID,
		StoreID:         msg.StoreID,
		Title:           title,
		Body: fmt.Sprintf("Transaction %s: %s spent, new balance %s points.",
			msg.ReferenceNumber, msg.TotalAmount.StringFixed(2), msg.Balance.StringFixed(2)),
		PointsDelta: net,
	}
}
