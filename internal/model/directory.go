package model

import (
	"time"

	"gorm.io/gorm"
)

// Role of an account in the loyalty program.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

// User is the identity record owned by the (external) account service.
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string `gorm:"size:128" json:"name"`
	Role    Role   `gorm:"size:16;not null;index" json:"role"`
	StoreID *uint  `gorm:"index" json:"store_id,omitempty"` // vendors only
}

func (User) TableName() string { return "users" }

// Store is an affiliated merchant.
type Store struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name     string `gorm:"size:128;not null" json:"name"`
	OwnerID  uint   `gorm:"not null;index" json:"owner_id"`
	IsActive bool   `gorm:"not null" json:"is_active"`
}

func (Store) TableName() string { return "stores" }
