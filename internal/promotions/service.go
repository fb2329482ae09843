package promotions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

// Service exposes promotion lifecycle management. Creation and mutation are
// restricted to managers; regular users only see promotions they can still
// benefit from.
type Service interface {
	CreatePromotion(ctx context.Context, actor types.Actor, input CreatePromotionDTO) (*models.Promotion, error)
	UpdatePromotion(ctx context.Context, actor types.Actor, id uuid.UUID, input UpdatePromotionDTO) (*models.Promotion, error)
	DeletePromotion(ctx context.Context, actor types.Actor, id uuid.UUID) error
	GetPromotion(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Promotion, error)
	ListPromotions(ctx context.Context, actor types.Actor) ([]models.Promotion, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a promotion service backed by the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("promotions repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) CreatePromotion(ctx context.Context, actor types.Actor, input CreatePromotionDTO) (*models.Promotion, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	now := s.now()
	if err := validateWindow(input.StartTime, input.EndTime, now); err != nil {
		return nil, err
	}
	if input.MinSpending != nil && input.MinSpending.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minSpending must not be negative")
	}
	if input.Rate != nil && *input.Rate <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must be positive")
	}

	promotion := input.ToModel()
	if err := s.repo.Create(ctx, promotion); err != nil {
		return nil, err
	}
	return promotion, nil
}

func (s *service) UpdatePromotion(ctx context.Context, actor types.Actor, id uuid.UUID, input UpdatePromotionDTO) (*models.Promotion, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	promotion, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if promotion.Started(now) && input.touchesPreStartFields() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "promotion already started; only endTime may change").
			WithDetails(map[string]any{"promotion_id": id})
	}
	if !now.Before(promotion.EndTime) && input.EndTime != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "promotion already ended").
			WithDetails(map[string]any{"promotion_id": id})
	}

	if input.Name != nil {
		promotion.Name = *input.Name
	}
	if input.Description != nil {
		promotion.Description = *input.Description
	}
	if input.Type != nil {
		parsed, err := enums.ParsePromotionType(*input.Type)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid promotion type")
		}
		promotion.Type = parsed
	}
	if input.StartTime != nil {
		if input.StartTime.Before(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "startTime must not be in the past")
		}
		promotion.StartTime = *input.StartTime
	}
	if input.EndTime != nil {
		if input.EndTime.Before(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "endTime must not be in the past")
		}
		promotion.EndTime = *input.EndTime
	}
	if !promotion.EndTime.After(promotion.StartTime) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "endTime must be after startTime")
	}
	if input.MinSpending != nil {
		if input.MinSpending.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "minSpending must not be negative")
		}
		promotion.MinSpending = input.MinSpending
	}
	if input.Rate != nil {
		if *input.Rate <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must be positive")
		}
		promotion.Rate = input.Rate
	}
	if input.Points != nil {
		promotion.Points = *input.Points
	}

	if err := s.repo.Save(ctx, promotion); err != nil {
		return nil, err
	}
	return promotion, nil
}

func (s *service) DeletePromotion(ctx context.Context, actor types.Actor, id uuid.UUID) error {
	if !actor.HasClearance(enums.UserRoleManager) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	promotion, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if promotion.Started(s.now()) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "promotion already started").
			WithDetails(map[string]any{"promotion_id": id})
	}
	return s.repo.Delete(ctx, id)
}

func (s *service) GetPromotion(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Promotion, error) {
	promotion, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.HasClearance(enums.UserRoleManager) && !promotion.ActiveAt(s.now()) {
		// Regular users must not learn about inactive promotions.
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").
			WithDetails(map[string]any{"promotion_id": id})
	}
	return promotion, nil
}

func (s *service) ListPromotions(ctx context.Context, actor types.Actor) ([]models.Promotion, error) {
	if actor.HasClearance(enums.UserRoleManager) {
		return s.repo.List(ctx)
	}
	return s.repo.ListAvailable(ctx, actor.ID, s.now())
}

func validateWindow(start, end, now time.Time) error {
	if start.Before(now) {
		return pkgerrors.New(pkgerrors.CodeValidation, "startTime must not be in the past")
	}
	if !end.After(start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "endTime must be after startTime")
	}
	return nil
}
