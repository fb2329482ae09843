package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/pagination"
)

// Repository manages persistence for ledger transactions. Rows are
// append-only; only the suspicious flag and redemption processing fields
// have dedicated mutators.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	CreatePromotionLinks(ctx context.Context, links []models.TransactionPromotion) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, params pagination.Params, filters Filters) (*TransactionPage, error)
	UpdateSuspicious(ctx context.Context, id uuid.UUID, suspicious bool) error
	MarkProcessed(ctx context.Context, id uuid.UUID, processedBy uuid.UUID) error
}

// Filters narrows transaction listings.
type Filters struct {
	UserID     *uuid.UUID
	Type       *enums.TransactionType
	Suspicious *bool
	RelatedID  *uuid.UUID
}

// TransactionPage is one cursor page of ledger rows.
type TransactionPage struct {
	Transactions []models.Transaction
	NextCursor   string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) CreatePromotionLinks(ctx context.Context, links []models.TransactionPromotion) error {
	if len(links) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&links).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Preload("Promotions").
		First(&txn, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters Filters) (*TransactionPage, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Preload("Promotions")

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}
	if filters.Suspicious != nil {
		query = query.Where("suspicious = ?", *filters.Suspicious)
	}
	if filters.RelatedID != nil {
		query = query.Where("related_id = ?", *filters.RelatedID)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.Transaction
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	page := &TransactionPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	page.Transactions = rows
	return page, nil
}

// UpdateSuspicious flips the flag only from its opposite value. A row that
// already carries the target value leaves RowsAffected at zero, which keeps
// concurrent identical toggles from reconciling the balance twice.
func (r *repository) UpdateSuspicious(ctx context.Context, id uuid.UUID, suspicious bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND suspicious = ?", id, !suspicious).
		UpdateColumn("suspicious", suspicious)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "suspicious flag unchanged").
			WithDetails(map[string]any{"transaction_id": id})
	}
	return nil
}

// MarkProcessed claims the redemption row. The processed predicate makes the
// update first-writer-wins; a second processor sees RowsAffected zero and
// must not deduct.
func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, processedBy uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND processed = ?", id, false).
		UpdateColumns(map[string]any{
			"processed":    true,
			"processed_by": processedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "redemption already processed").
			WithDetails(map[string]any{"transaction_id": id})
	}
	return nil
}
