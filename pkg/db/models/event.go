package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event carries a finite points pool split between remaining and awarded.
// PointsRemain + PointsAwarded stays constant once the pool is allocated;
// awarding moves points from one side to the other.
type Event struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	Description   string    `gorm:"column:description;not null;default:''"`
	Location      string    `gorm:"column:location;not null;default:''"`
	StartTime     time.Time `gorm:"column:start_time;not null"`
	EndTime       time.Time `gorm:"column:end_time;not null"`
	Capacity      *int      `gorm:"column:capacity"`
	PointsRemain  int       `gorm:"column:points_remain;not null;default:0"`
	PointsAwarded int       `gorm:"column:points_awarded;not null;default:0"`
	Published     bool      `gorm:"column:published;not null;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Guests     []EventGuest     `gorm:"foreignKey:EventID"`
	Organizers []EventOrganizer `gorm:"foreignKey:EventID"`
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Started reports whether the event has begun by the given instant.
func (e *Event) Started(at time.Time) bool {
	return !at.Before(e.StartTime)
}

// EventGuest registers a user on an event's guest list.
type EventGuest struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID `gorm:"column:event_id;type:uuid;not null;uniqueIndex:idx_event_guests_event_user"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_event_guests_event_user"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (g *EventGuest) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// EventOrganizer grants a user elevated write access to an event.
type EventOrganizer struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID `gorm:"column:event_id;type:uuid;not null;uniqueIndex:idx_event_organizers_event_user"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_event_organizers_event_user"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (o *EventOrganizer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
