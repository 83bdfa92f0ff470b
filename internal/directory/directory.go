// Package directory reads the identity and store records owned by the
// account and catalog services.
package directory

import (
	"context"
	"errors"
	"fmt"

	"points_engine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("directory: user not found")
	ErrStoreNotFound = errors.New("directory: store not found")
)

// Directory looks users and stores up in the shared database.
type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// GetUser returns ErrUserNotFound for unknown or deleted accounts.
func (d *Directory) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := d.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("directory: get user %d: %w", id, err)
	}
	return &u, nil
}

// GetStore returns ErrStoreNotFound for unknown or deleted stores.
func (d *Directory) GetStore(ctx context.Context, id uint) (*model.Store, error) {
	var s model.Store
	if err := d.db.WithContext(ctx).First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("directory: get store %d: %w", id, err)
	}
	return &s, nil
}

// VendorOf reports whether user may operate the till of store.
func VendorOf(u *model.User, s *model.Store) bool {
	if u == nil || s == nil || u.Role != model.RoleVendor {
		return false
	}
	if s.OwnerID == u.ID {
		return true
	}
	return u.StoreID != nil && *u.StoreID == s.ID
}
