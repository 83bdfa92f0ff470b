// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"points_engine/internal/database"
	"points_engine/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns a migrated in-memory SQLite database private to the test.
// A single connection keeps every goroutine on the same memory database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Fixture is a store with its vendor and one customer.
type Fixture struct {
	Store    model.Store
	Vendor   model.User
	Customer model.User
}

// SeedStore creates an active store, its vendor and a customer.
func SeedStore(t *testing.T, db *gorm.DB) Fixture {
	t.Helper()
	vendor := model.User{Name: "vendor", Role: model.RoleVendor}
	mustCreate(t, db, &vendor)
	store := model.Store{Name: "store", OwnerID: vendor.ID, IsActive: true}
	mustCreate(t, db, &store)
	vendor.StoreID = &store.ID
	if err := db.Save(&vendor).Error; err != nil {
		t.Fatalf("save vendor: %v", err)
	}
	customer := model.User{Name: "customer", Role: model.RoleCustomer}
	mustCreate(t, db, &customer)
	return Fixture{Store: store, Vendor: vendor, Customer: customer}
}

// SetBalance writes a balance row directly.
func SetBalance(t *testing.T, db *gorm.DB, userID, storeID uint, total string) {
	t.Helper()
	mustCreate(t, db, &model.PointsBalance{
		UserID:         userID,
		StoreID:        storeID,
		TotalPoints:    decimal.RequireFromString(total),
		RedeemedPoints: decimal.Zero,
	})
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}
