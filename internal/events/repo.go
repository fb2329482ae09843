package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
)

// Repository manages event persistence, guest lists, organizer grants, and
// the points pool counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.Event) error
	Save(ctx context.Context, event *models.Event) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	List(ctx context.Context, filters Filters) ([]models.Event, error)
	DebitPool(ctx context.Context, id uuid.UUID, points int) error
	AddGuest(ctx context.Context, eventID, userID uuid.UUID) error
	RemoveGuest(ctx context.Context, eventID, userID uuid.UUID) error
	IsGuest(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
	CountGuests(ctx context.Context, eventID uuid.UUID) (int64, error)
	AddOrganizer(ctx context.Context, eventID, userID uuid.UUID) error
	RemoveOrganizer(ctx context.Context, eventID, userID uuid.UUID) error
	IsOrganizer(ctx context.Context, eventID, userID uuid.UUID) (bool, error)
}

// Filters narrows event listings.
type Filters struct {
	Published *bool
	// EndsAfter drops events that finished before the given instant.
	EndsAfter *time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an events repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) Save(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Event{}, "id = ?", id).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).
		Preload("Guests").
		Preload("Organizers").
		First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found").
				WithDetails(map[string]any{"event_id": id})
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) List(ctx context.Context, filters Filters) ([]models.Event, error) {
	query := r.db.WithContext(ctx).Model(&models.Event{}).
		Preload("Guests").
		Preload("Organizers")
	if filters.Published != nil {
		query = query.Where("published = ?", *filters.Published)
	}
	if filters.EndsAfter != nil {
		query = query.Where("end_time > ?", *filters.EndsAfter)
	}
	var rows []models.Event
	if err := query.Order("start_time ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DebitPool moves points from the remaining pool to the awarded side in one
// guarded statement, so concurrent awards cannot overdraw the pool.
func (r *repository) DebitPool(ctx context.Context, id uuid.UUID, points int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Where("points_remain >= ?", points).
		UpdateColumns(map[string]any{
			"points_remain":  gorm.Expr("points_remain - ?", points),
			"points_awarded": gorm.Expr("points_awarded + ?", points),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var event models.Event
		if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
			}
			return err
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient event points pool").
			WithDetails(map[string]any{"remaining": event.PointsRemain, "requested": points})
	}
	return nil
}

func (r *repository) AddGuest(ctx context.Context, eventID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Create(&models.EventGuest{EventID: eventID, UserID: userID}).Error
}

func (r *repository) RemoveGuest(ctx context.Context, eventID, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Delete(&models.EventGuest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "guest not found")
	}
	return nil
}

func (r *repository) IsGuest(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EventGuest{}).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CountGuests(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EventGuest{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count, err
}

func (r *repository) AddOrganizer(ctx context.Context, eventID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Create(&models.EventOrganizer{EventID: eventID, UserID: userID}).Error
}

func (r *repository) RemoveOrganizer(ctx context.Context, eventID, userID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Delete(&models.EventOrganizer{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "organizer not found")
	}
	return nil
}

func (r *repository) IsOrganizer(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EventOrganizer{}).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&count).Error
	return count > 0, err
}
