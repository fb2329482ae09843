package promotions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// CreatePromotionDTO carries the fields needed to publish a promotion.
type CreatePromotionDTO struct {
	Name        string           `json:"name" validate:"required,max=120"`
	Description string           `json:"description" validate:"max=2000"`
	Type        string           `json:"type" validate:"required,oneof=automatic one_time"`
	StartTime   time.Time        `json:"startTime" validate:"required"`
	EndTime     time.Time        `json:"endTime" validate:"required"`
	MinSpending *decimal.Decimal `json:"minSpending,omitempty"`
	Rate        *float64         `json:"rate,omitempty"`
	Points      int              `json:"points" validate:"gte=0"`
}

// ToModel maps the DTO onto a persistence model. The type string is assumed
// validated upstream.
func (dto CreatePromotionDTO) ToModel() *models.Promotion {
	return &models.Promotion{
		Name:        dto.Name,
		Description: dto.Description,
		Type:        enums.PromotionType(dto.Type),
		StartTime:   dto.StartTime,
		EndTime:     dto.EndTime,
		MinSpending: dto.MinSpending,
		Rate:        dto.Rate,
		Points:      dto.Points,
	}
}

// UpdatePromotionDTO carries a partial update. Nil fields are untouched.
type UpdatePromotionDTO struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Description *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	Type        *string          `json:"type,omitempty" validate:"omitempty,oneof=automatic one_time"`
	StartTime   *time.Time       `json:"startTime,omitempty"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	MinSpending *decimal.Decimal `json:"minSpending,omitempty"`
	Rate        *float64         `json:"rate,omitempty"`
	Points      *int             `json:"points,omitempty" validate:"omitempty,gte=0"`
}

func (dto UpdatePromotionDTO) touchesPreStartFields() bool {
	return dto.Name != nil || dto.Description != nil || dto.Type != nil ||
		dto.StartTime != nil || dto.MinSpending != nil || dto.Rate != nil ||
		dto.Points != nil
}
