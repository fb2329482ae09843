package promotions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db"
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
)

// Resolution is the outcome of validating a set of promotion ids against a
// transaction about to be recorded.
type Resolution struct {
	// Bonus is the total flat bonus points contributed by the promotions.
	Bonus int
	// Promotions are the resolved rows, in the order the ids were supplied.
	Promotions []models.Promotion
	// OneTimeIDs are the subset that must be marked used when the
	// transaction commits.
	OneTimeIDs []uuid.UUID
}

// Resolver validates promotion references inside a transaction and records
// one-time consumption. All methods expect to run inside the caller's
// database transaction so the usage rows commit or roll back with the
// ledger entry they belong to.
type Resolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, userID uuid.UUID, ids []uuid.UUID, spent *decimal.Decimal, now time.Time) (*Resolution, error)
	MarkUsed(ctx context.Context, tx *gorm.DB, userID, transactionID uuid.UUID, promotionIDs []uuid.UUID) error
}

type resolver struct {
	repo Repository
}

// NewResolver builds a Resolver on top of the promotions repository.
func NewResolver(repo Repository) (Resolver, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "promotions resolver requires a repository")
	}
	return &resolver{repo: repo}, nil
}

func (s *resolver) Resolve(ctx context.Context, tx *gorm.DB, userID uuid.UUID, ids []uuid.UUID, spent *decimal.Decimal, now time.Time) (*Resolution, error) {
	if len(ids) == 0 {
		return &Resolution{}, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate promotion id").
				WithDetails(map[string]any{"promotion_id": id})
		}
		seen[id] = struct{}{}
	}

	repo := s.repo.WithTx(tx)

	rows, err := repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Promotion, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	res := &Resolution{Promotions: make([]models.Promotion, 0, len(ids))}
	for _, id := range ids {
		promotion, ok := byID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promotion not found").
				WithDetails(map[string]any{"promotion_id": id})
		}

		used, err := repo.HasUsage(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "promotion already used").
				WithDetails(map[string]any{"promotion_id": id})
		}

		if promotion.Type == enums.PromotionTypeAutomatic {
			if !promotion.ActiveAt(now) {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "promotion not active").
					WithDetails(map[string]any{"promotion_id": id})
			}
			if promotion.MinSpending != nil {
				if spent == nil || spent.LessThan(*promotion.MinSpending) {
					return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "minimum spending not met").
						WithDetails(map[string]any{
							"promotion_id": id,
							"min_spending": promotion.MinSpending.String(),
						})
				}
			}
		}

		res.Bonus += promotion.Points
		res.Promotions = append(res.Promotions, promotion)
		if promotion.Type == enums.PromotionTypeOneTime {
			res.OneTimeIDs = append(res.OneTimeIDs, id)
		}
	}
	return res, nil
}

func (s *resolver) MarkUsed(ctx context.Context, tx *gorm.DB, userID, transactionID uuid.UUID, promotionIDs []uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	for _, promotionID := range promotionIDs {
		usage := &models.PromotionUsage{
			UserID:        userID,
			PromotionID:   promotionID,
			TransactionID: &transactionID,
		}
		if err := repo.CreateUsage(ctx, usage); err != nil {
			// Two concurrent transactions may both pass the usage check.
			// The unique index breaks the tie and the loser rolls back.
			if db.IsUniqueViolation(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "promotion already used").
					WithDetails(map[string]any{"promotion_id": promotionID})
			}
			return err
		}
	}
	return nil
}
