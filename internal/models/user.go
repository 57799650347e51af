package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Platform roles. Every connected user belongs to exactly one role room.
const (
	RoleFarmer  = "farmer"
	RoleBuyer   = "buyer"
	RolePartner = "partner"
	RoleAdmin   = "admin"
)

// ValidRole reports whether the supplied role is one of the platform roles.
func ValidRole(role string) bool {
	switch role {
	case RoleFarmer, RoleBuyer, RolePartner, RoleAdmin:
		return true
	}
	return false
}

// User describes a marketplace account (farmer, buyer, partner, or admin).
type User struct {
	ID    string `gorm:"primaryKey;type:uuid" json:"id"`
	Name  string `gorm:"not null" json:"name"`
	Email string `gorm:"uniqueIndex;not null" json:"email"`
	Phone string `json:"phone"`

	Role     string `gorm:"type:varchar(32);default:'farmer';index" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Preferences holds the notification preference bag consumed by the
	// preference resolver at routing time.
	Preferences datatypes.JSONMap `json:"preferences"`

	LastSeenAt *time.Time `json:"last_seen_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
