package database

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"points_engine/internal/config"
	"points_engine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to postgres in production or a local sqlite file in development.
func Open(cfg config.AppConfig, log *slog.Logger) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gcfg)
	default:
		log.Info("using sqlite database", "path", cfg.DBPath)
		// WAL plus a busy timeout lets concurrent settlements queue instead of failing.
		db, err = gorm.Open(sqlite.Open(cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000"), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Info("database connected", "driver", cfg.DBDriver)
	return db, nil
}

// Migrate creates or updates every table the engine owns or reads.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Store{},
		&model.Reward{},
		&model.TransactionRecord{},
		&model.PointsBalance{},
		&model.Notification{},
	)
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsUniqueViolation recognises duplicate-key errors, translated or not.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "duplicate key")
}

// SeedDevelopment inserts a small store with a vendor, a customer and two rewards.
func SeedDevelopment(db *gorm.DB, log *slog.Logger) error {
	var count int64
	if err := db.Model(&model.Store{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		owner := model.User{Name: "Demo Vendor", Role: model.RoleVendor}
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		store := model.Store{Name: "Demo Coffee", OwnerID: owner.ID, IsActive: true}
		if err := tx.Create(&store).Error; err != nil {
			return err
		}
		if err := tx.Model(&owner).Update("store_id", store.ID).Error; err != nil {
			return err
		}
		customer := model.User{Name: "Demo Customer", Role: model.RoleCustomer}
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}
		rewards := []model.Reward{
			{
				StoreID:       store.ID,
				Title:         "Buy one latte, get a cookie",
				RewardType:    model.RewardBuyXGetY,
				PointsCost:    decimal.Zero,
				IsActive:      true,
				BuyXProductID: 10,
				BuyXQuantity:  1,
				GetYProductID: 20,
				GetYQuantity:  1,
			},
			{
				StoreID:       store.ID,
				Title:         "20% off",
				RewardType:    model.RewardDiscount,
				PointsCost:    decimal.NewFromInt(5),
				IsActive:      true,
				DiscountValue: decimal.NewFromInt(20),
			},
		}
		if err := tx.Create(&rewards).Error; err != nil {
			return err
		}
		log.Info("seeded development data", "store_id", store.ID, "vendor_id", owner.ID, "customer_id", customer.ID)
		return nil
	})
}
