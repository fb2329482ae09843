package promotions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
)

// Repository manages promotion and usage persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, promotion *models.Promotion) error
	Save(ctx context.Context, promotion *models.Promotion) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Promotion, error)
	List(ctx context.Context) ([]models.Promotion, error)
	ListAvailable(ctx context.Context, userID uuid.UUID, at time.Time) ([]models.Promotion, error)
	HasUsage(ctx context.Context, userID, promotionID uuid.UUID) (bool, error)
	CreateUsage(ctx context.Context, usage *models.PromotionUsage) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a promotions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, promotion *models.Promotion) error {
	return r.db.WithContext(ctx).Create(promotion).Error
}

func (r *repository) Save(ctx context.Context, promotion *models.Promotion) error {
	return r.db.WithContext(ctx).Save(promotion).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Promotion{}, "id = ?", id).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	var promotion models.Promotion
	if err := r.db.WithContext(ctx).First(&promotion, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").
				WithDetails(map[string]any{"promotion_id": id})
		}
		return nil, err
	}
	return &promotion, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Promotion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Promotion
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) List(ctx context.Context) ([]models.Promotion, error) {
	var rows []models.Promotion
	if err := r.db.WithContext(ctx).Order("start_time ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListAvailable(ctx context.Context, userID uuid.UUID, at time.Time) ([]models.Promotion, error) {
	var rows []models.Promotion
	err := r.db.WithContext(ctx).
		Where("start_time <= ? AND end_time > ?", at, at).
		Where("id NOT IN (?)", r.db.
			Model(&models.PromotionUsage{}).
			Select("promotion_id").
			Where("user_id = ?", userID)).
		Order("start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) HasUsage(ctx context.Context, userID, promotionID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PromotionUsage{}).
		Where("user_id = ? AND promotion_id = ?", userID, promotionID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateUsage(ctx context.Context, usage *models.PromotionUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}
