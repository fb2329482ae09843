package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

// Service exposes the user lookups and flag updates the ledger rules read.
type Service interface {
	GetMe(ctx context.Context, actor types.Actor) (*models.User, error)
	GetUser(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.User, error)
	LookupByUTORid(ctx context.Context, actor types.Actor, utorid string) (*models.User, error)
	SetVerified(ctx context.Context, actor types.Actor, id uuid.UUID, verified bool) (*models.User, error)
	SetSuspicious(ctx context.Context, actor types.Actor, id uuid.UUID, suspicious bool) (*models.User, error)
}

type service struct {
	repo *Repository
}

// NewService builds a user service backed by the provided repository.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetMe(ctx context.Context, actor types.Actor) (*models.User, error) {
	return s.repo.FindByID(ctx, actor.ID)
}

func (s *service) GetUser(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.User, error) {
	if actor.ID != id && !actor.HasClearance(enums.UserRoleCashier) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) LookupByUTORid(ctx context.Context, actor types.Actor, utorid string) (*models.User, error) {
	if !actor.HasClearance(enums.UserRoleCashier) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cashier clearance required")
	}
	return s.repo.FindByUTORid(ctx, utorid)
}

func (s *service) SetVerified(ctx context.Context, actor types.Actor, id uuid.UUID, verified bool) (*models.User, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager clearance required")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetVerified(ctx, id, verified); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) SetSuspicious(ctx context.Context, actor types.Actor, id uuid.UUID, suspicious bool) (*models.User, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager clearance required")
	}
	target, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.Role != enums.UserRoleCashier {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only cashiers can be flagged suspicious")
	}
	if err := s.repo.SetSuspicious(ctx, id, suspicious); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}
