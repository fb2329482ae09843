package events

import (
	"time"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
)

// CreateEventDTO carries the fields needed to schedule an event.
type CreateEventDTO struct {
	Name        string    `json:"name" validate:"required,max=120"`
	Description string    `json:"description" validate:"max=2000"`
	Location    string    `json:"location" validate:"max=200"`
	StartTime   time.Time `json:"startTime" validate:"required"`
	EndTime     time.Time `json:"endTime" validate:"required"`
	Capacity    *int      `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	Points      int       `json:"points" validate:"gte=0"`
}

// ToModel maps the DTO onto a persistence model. The allocated pool starts
// fully unspent.
func (dto CreateEventDTO) ToModel() *models.Event {
	return &models.Event{
		Name:         dto.Name,
		Description:  dto.Description,
		Location:     dto.Location,
		StartTime:    dto.StartTime,
		EndTime:      dto.EndTime,
		Capacity:     dto.Capacity,
		PointsRemain: dto.Points,
	}
}

// UpdateEventDTO carries a partial update. Nil fields are untouched.
type UpdateEventDTO struct {
	Name        *string    `json:"name,omitempty" validate:"omitempty,max=120"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	Location    *string    `json:"location,omitempty" validate:"omitempty,max=200"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Capacity    *int       `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	Points      *int       `json:"points,omitempty" validate:"omitempty,gte=0"`
	Published   *bool      `json:"published,omitempty"`
}

// AwardPointsDTO describes an event award. When UTORid is nil the award goes
// to every guest on the list.
type AwardPointsDTO struct {
	UTORid *string `json:"utorid,omitempty"`
	Amount int     `json:"amount" validate:"required,gt=0"`
	Remark string  `json:"remark" validate:"max=500"`
}
