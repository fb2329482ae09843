package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// Promotion describes a bonus applicable to purchases. One-time promotions
// are consumable at most once per user; automatic promotions apply whenever
// the purchase lands inside [StartTime, EndTime) and clears MinSpending.
type Promotion struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Name        string              `gorm:"column:name;not null"`
	Description string              `gorm:"column:description;not null;default:''"`
	Type        enums.PromotionType `gorm:"column:type;type:promotion_type_enum;not null"`
	StartTime   time.Time           `gorm:"column:start_time;not null"`
	EndTime     time.Time           `gorm:"column:end_time;not null"`
	MinSpending *decimal.Decimal    `gorm:"column:min_spending;type:numeric(12,2)"`
	Rate        *float64            `gorm:"column:rate"`
	Points      int                 `gorm:"column:points;not null;default:0"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Promotion) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ActiveAt reports whether the promotion window covers the given instant.
func (p *Promotion) ActiveAt(at time.Time) bool {
	return !at.Before(p.StartTime) && at.Before(p.EndTime)
}

// Started reports whether the promotion window has opened by the given instant.
func (p *Promotion) Started(at time.Time) bool {
	return !at.Before(p.StartTime)
}
