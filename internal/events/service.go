package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/internal/ledger"
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

type usersRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
	FindByUTORid(ctx context.Context, utorid string) (*models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes event lifecycle, guest list, organizer, and award
// operations. Awards move points from the event pool onto guest balances
// through the ledger, inside one database transaction.
type Service interface {
	CreateEvent(ctx context.Context, actor types.Actor, input CreateEventDTO) (*models.Event, error)
	UpdateEvent(ctx context.Context, actor types.Actor, id uuid.UUID, input UpdateEventDTO) (*models.Event, error)
	DeleteEvent(ctx context.Context, actor types.Actor, id uuid.UUID) error
	GetEvent(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Event, error)
	ListEvents(ctx context.Context, actor types.Actor) ([]models.Event, error)
	AddGuest(ctx context.Context, actor types.Actor, eventID uuid.UUID, utorid string) error
	RSVP(ctx context.Context, actor types.Actor, eventID uuid.UUID) error
	RemoveGuest(ctx context.Context, actor types.Actor, eventID, userID uuid.UUID) error
	AddOrganizer(ctx context.Context, actor types.Actor, eventID uuid.UUID, utorid string) error
	RemoveOrganizer(ctx context.Context, actor types.Actor, eventID, userID uuid.UUID) error
	AwardPoints(ctx context.Context, actor types.Actor, eventID uuid.UUID, input AwardPointsDTO) ([]models.Transaction, error)
}

type service struct {
	repo   Repository
	users  usersRepository
	runner txRunner
	now    func() time.Time
}

// NewService builds an event service backed by the provided repositories.
func NewService(repo Repository, users usersRepository, runner txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("events repository required")
	}
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, users: users, runner: runner, now: time.Now}, nil
}

func (s *service) CreateEvent(ctx context.Context, actor types.Actor, input CreateEventDTO) (*models.Event, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	now := s.now()
	if input.StartTime.Before(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "startTime must not be in the past")
	}
	if !input.EndTime.After(input.StartTime) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "endTime must be after startTime")
	}

	event := input.ToModel()
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) UpdateEvent(ctx context.Context, actor types.Actor, id uuid.UUID, input UpdateEventDTO) (*models.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireOrganizer(ctx, actor, event.ID); err != nil {
		return nil, err
	}

	now := s.now()
	if input.StartTime != nil {
		if event.Started(now) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "event already started")
		}
		if input.StartTime.Before(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "startTime must not be in the past")
		}
		event.StartTime = *input.StartTime
	}
	if input.EndTime != nil {
		if input.EndTime.Before(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "endTime must not be in the past")
		}
		event.EndTime = *input.EndTime
	}
	if !event.EndTime.After(event.StartTime) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "endTime must be after startTime")
	}

	if input.Name != nil {
		event.Name = *input.Name
	}
	if input.Description != nil {
		event.Description = *input.Description
	}
	if input.Location != nil {
		event.Location = *input.Location
	}
	if input.Capacity != nil {
		guests, err := s.repo.CountGuests(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if int64(*input.Capacity) < guests {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "capacity below confirmed guests").
				WithDetails(map[string]any{"guests": guests})
		}
		event.Capacity = input.Capacity
	}
	if input.Points != nil {
		// Resizing the pool preserves what was already awarded.
		if !actor.HasClearance(enums.UserRoleManager) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required to change the points pool")
		}
		remain := *input.Points - event.PointsAwarded
		if remain < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "points pool below awarded total").
				WithDetails(map[string]any{"awarded": event.PointsAwarded})
		}
		event.PointsRemain = remain
	}
	if input.Published != nil {
		if !actor.HasClearance(enums.UserRoleManager) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required to publish")
		}
		if !*input.Published && event.Published {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "events cannot be unpublished")
		}
		event.Published = *input.Published
	}

	event.Guests = nil
	event.Organizers = nil
	if err := s.repo.Save(ctx, event); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, event.ID)
}

func (s *service) DeleteEvent(ctx context.Context, actor types.Actor, id uuid.UUID) error {
	if !actor.HasClearance(enums.UserRoleManager) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if event.Published {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "published events cannot be deleted")
	}
	return s.repo.Delete(ctx, id)
}

func (s *service) GetEvent(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !event.Published && !actor.HasClearance(enums.UserRoleManager) {
		organizer, err := s.repo.IsOrganizer(ctx, event.ID, actor.ID)
		if err != nil {
			return nil, err
		}
		if !organizer {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found").
				WithDetails(map[string]any{"event_id": id})
		}
	}
	return event, nil
}

func (s *service) ListEvents(ctx context.Context, actor types.Actor) ([]models.Event, error) {
	filters := Filters{}
	if !actor.HasClearance(enums.UserRoleManager) {
		published := true
		filters.Published = &published
	}
	return s.repo.List(ctx, filters)
}

func (s *service) AddGuest(ctx context.Context, actor types.Actor, eventID uuid.UUID, utorid string) error {
	if err := s.requireOrganizer(ctx, actor, eventID); err != nil {
		return err
	}
	user, err := s.users.FindByUTORid(ctx, utorid)
	if err != nil {
		return err
	}
	return s.addGuest(ctx, eventID, user.ID)
}

// RSVP registers the actor on the guest list of a published event.
func (s *service) RSVP(ctx context.Context, actor types.Actor, eventID uuid.UUID) error {
	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		return err
	}
	if !event.Published && !actor.HasClearance(enums.UserRoleManager) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "event not found").
			WithDetails(map[string]any{"event_id": eventID})
	}
	return s.addGuest(ctx, eventID, actor.ID)
}

func (s *service) addGuest(ctx context.Context, eventID, userID uuid.UUID) error {
	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		return err
	}
	now := s.now()
	if !now.Before(event.EndTime) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "event has ended")
	}
	organizer, err := s.repo.IsOrganizer(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if organizer {
		return pkgerrors.New(pkgerrors.CodeConflict, "organizers cannot join the guest list")
	}
	guest, err := s.repo.IsGuest(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if guest {
		return pkgerrors.New(pkgerrors.CodeConflict, "user already on the guest list")
	}
	if event.Capacity != nil {
		guests, err := s.repo.CountGuests(ctx, eventID)
		if err != nil {
			return err
		}
		if guests >= int64(*event.Capacity) {
			return pkgerrors.New(pkgerrors.CodeConflict, "event is full").
				WithDetails(map[string]any{"capacity": *event.Capacity})
		}
	}
	return s.repo.AddGuest(ctx, eventID, userID)
}

func (s *service) RemoveGuest(ctx context.Context, actor types.Actor, eventID, userID uuid.UUID) error {
	if actor.ID != userID && !actor.HasClearance(enums.UserRoleManager) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "cannot remove another user from the guest list")
	}
	if actor.ID == userID {
		event, err := s.repo.FindByID(ctx, eventID)
		if err != nil {
			return err
		}
		if !s.now().Before(event.EndTime) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "event has ended")
		}
	}
	return s.repo.RemoveGuest(ctx, eventID, userID)
}

func (s *service) AddOrganizer(ctx context.Context, actor types.Actor, eventID uuid.UUID, utorid string) error {
	if !actor.HasClearance(enums.UserRoleManager) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	if _, err := s.repo.FindByID(ctx, eventID); err != nil {
		return err
	}
	user, err := s.users.FindByUTORid(ctx, utorid)
	if err != nil {
		return err
	}
	guest, err := s.repo.IsGuest(ctx, eventID, user.ID)
	if err != nil {
		return err
	}
	if guest {
		return pkgerrors.New(pkgerrors.CodeConflict, "guests cannot be organizers").
			WithDetails(map[string]any{"utorid": utorid})
	}
	return s.repo.AddOrganizer(ctx, eventID, user.ID)
}

func (s *service) RemoveOrganizer(ctx context.Context, actor types.Actor, eventID, userID uuid.UUID) error {
	if !actor.HasClearance(enums.UserRoleManager) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	return s.repo.RemoveOrganizer(ctx, eventID, userID)
}

func (s *service) AwardPoints(ctx context.Context, actor types.Actor, eventID uuid.UUID, input AwardPointsDTO) ([]models.Transaction, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	event, err := s.repo.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOrganizer(ctx, actor, event.ID); err != nil {
		return nil, err
	}

	var recipients []models.User
	if input.UTORid != nil {
		user, err := s.users.FindByUTORid(ctx, *input.UTORid)
		if err != nil {
			return nil, err
		}
		guest, err := s.repo.IsGuest(ctx, eventID, user.ID)
		if err != nil {
			return nil, err
		}
		if !guest {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user is not on the guest list").
				WithDetails(map[string]any{"utorid": *input.UTORid})
		}
		recipients = []models.User{*user}
	} else {
		ids := make([]uuid.UUID, 0, len(event.Guests))
		for _, guest := range event.Guests {
			ids = append(ids, guest.UserID)
		}
		recipients, err = s.users.FindByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	}
	if len(recipients) == 0 {
		return nil, nil
	}

	total := input.Amount * len(recipients)
	var created []models.Transaction
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).DebitPool(ctx, eventID, total); err != nil {
			return err
		}
		relatedID := eventID
		for _, recipient := range recipients {
			txn, err := ledger.Record(ctx, tx, ledger.Entry{
				Transaction: &models.Transaction{
					UserID:    recipient.ID,
					UTORid:    recipient.UTORid,
					Type:      enums.TransactionTypeEvent,
					Amount:    input.Amount,
					RelatedID: &relatedID,
					Remark:    input.Remark,
					CreatedBy: actor.ID,
				},
			})
			if err != nil {
				return err
			}
			created = append(created, *txn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// requireOrganizer admits managers and the event's organizers.
func (s *service) requireOrganizer(ctx context.Context, actor types.Actor, eventID uuid.UUID) error {
	if actor.HasClearance(enums.UserRoleManager) {
		return nil
	}
	organizer, err := s.repo.IsOrganizer(ctx, eventID, actor.ID)
	if err != nil {
		return err
	}
	if !organizer {
		return pkgerrors.New(pkgerrors.CodeForbidden, "organizer access required")
	}
	return nil
}
