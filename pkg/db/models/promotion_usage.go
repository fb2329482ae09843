package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PromotionUsage marks a one-time promotion as consumed by a user. The
// unique (user_id, promotion_id) index is the at-most-once enforcement
// point: a second insert for the same pair fails at the database.
type PromotionUsage struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_promotion_usages_user_promotion"`
	PromotionID   uuid.UUID  `gorm:"column:promotion_id;type:uuid;not null;uniqueIndex:idx_promotion_usages_user_promotion"`
	TransactionID *uuid.UUID `gorm:"column:transaction_id;type:uuid"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (u *PromotionUsage) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
