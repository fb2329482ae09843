package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// User represents the canonical identity entity. The points column is the
// authoritative balance and is mutated only alongside a ledger write.
type User struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	UTORid      string         `gorm:"column:utorid;type:text;not null;uniqueIndex"`
	Name        string         `gorm:"column:name;not null"`
	Email       string         `gorm:"column:email;type:text;not null;uniqueIndex"`
	Role        enums.UserRole `gorm:"column:role;type:user_role_enum;not null;default:'regular'"`
	Points      int            `gorm:"column:points;not null;default:0"`
	Verified    bool           `gorm:"column:verified;not null;default:false"`
	Suspicious  bool           `gorm:"column:suspicious;not null;default:false"`
	LastLoginAt *time.Time     `gorm:"column:last_login_at"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
