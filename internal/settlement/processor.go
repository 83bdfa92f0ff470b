// Package settlement turns pending point-of-sale carts into ledger rows and
// balance changes. It is the only writer of transaction records.
package settlement

import (
	"context"
	"log/slog"
	"time"

	"points_engine/internal/metrics"
	"points_engine/internal/model"
	"points_engine/internal/pending"
	"points_engine/internal/queue"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// State is the lifecycle position of a pending transaction.
type State string

const (
	StatePending  State = "pending"
	StateSettling State = "settling"
	StateSettled  State = "settled"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// Directory resolves users and stores.
type Directory interface {
	GetUser(ctx context.Context, id uint) (*model.User, error)
	GetStore(ctx context.Context, id uint) (*model.Store, error)
}

// Rewards resolves catalog rewards with their activity flag refreshed.
type Rewards interface {
	Get(ctx context.Context, id uint) (*model.Reward, error)
}

// Locker serialises work per key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Publisher receives settlement events after commit.
type Publisher interface {
	PublishSettlement(ctx context.Context, msg queue.SettlementMessage) error
}

// Options tunes a Processor. Zero values fall back to defaults.
type Options struct {
	PendingTTL       time.Duration
	SettledMarkerTTL time.Duration
	BalanceRetries   int
	QRSecret         []byte
	QRIssuer         string
	Now              func() time.Time
}

// Processor issues pending transactions and settles them.
type Processor struct {
	db      *gorm.DB
	dir     Directory
	rewards Rewards
	pending pending.Store
	locker  Locker
	events  Publisher
	metrics *metrics.Metrics
	log     *slog.Logger

	now        func() time.Time
	ttl        time.Duration
	settledTTL time.Duration
	retries    int
	qr         qrCodec
}

// New builds a Processor. Events and metrics are optional, see WithEvents and
// WithMetrics.
func New(db *gorm.DB, dir Directory, rewards Rewards, store pending.Store, locker Locker, opts Options, log *slog.Logger) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = pending.DefaultTTL
	}
	if opts.SettledMarkerTTL <= 0 {
		opts.SettledMarkerTTL = 24 * time.Hour
	}
	if opts.BalanceRetries <= 0 {
		opts.BalanceRetries = 5
	}
	if opts.QRIssuer == "" {
		opts.QRIssuer = "points-engine"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		db:         db,
		dir:        dir,
		rewards:    rewards,
		pending:    store,
		locker:     locker,
		log:        log.With("component", "settlement"),
		now:        opts.Now,
		ttl:        opts.PendingTTL,
		settledTTL: opts.SettledMarkerTTL,
		retries:    opts.BalanceRetries,
		qr:         qrCodec{secret: opts.QRSecret, issuer: opts.QRIssuer, now: opts.Now},
	}
}

func (p *Processor) WithEvents(pub Publisher) *Processor {
	p.events = pub
	return p
}

func (p *Processor) WithMetrics(m *metrics.Metrics) *Processor {
	p.metrics = m
	return p
}

// Result describes a committed settlement.
type Result struct {
	ReferenceNumber string                    `json:"reference_number"`
	State           State                     `json:"state"`
	CustomerID      uint                      `json:"customer_id"`
	StoreID         uint                      `json:"store_id"`
	Records         []model.TransactionRecord `json:"records"`
	Balance         model.PointsBalance       `json:"balance"`
	TotalAmount     decimal.Decimal           `json:"total_amount"`
	TotalPoints     decimal.Decimal           `json:"total_points"`
	// PointsSpent covers redemption lines and the reward's points cost. The
	// balance's redeemed_points only counts redemption lines.
	PointsSpent decimal.Decimal `json:"points_spent"`
	// Replayed is set when the reference had already been settled and the
	// stored outcome is returned instead.
	Replayed bool `json:"replayed"`
}

// Balances returns every store balance held by a user.
func (p *Processor) Balances(ctx context.Context, userID uint) ([]model.PointsBalance, error) {
	var out []model.PointsBalance
	err := p.db.WithContext(ctx).Where("user_id = ?", userID).Order("store_id").Find(&out).Error
	return out, err
}

// Records returns the committed rows of a reference, ordered by line.
func (p *Processor) Records(ctx context.Context, reference string) ([]model.TransactionRecord, error) {
	var rows []model.TransactionRecord
	err := p.db.WithContext(ctx).Where("reference_number = ?", reference).Order("line_no").Find(&rows).Error
	return rows, err
}

func (p *Processor) observe(entry string, start time.Time, res *Result, err error) {
	outcome := Outcome(err)
	if err == nil && res != nil && res.Replayed {
		outcome = "replayed"
	}
	p.metrics.ObserveSettlement(entry, outcome, time.Since(start))
}
