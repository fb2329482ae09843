package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
)

// Balance mutations are single guarded UPDATE statements so that concurrent
// transactions against the same user serialize on the row and the
// non-negative invariant holds without a read-modify-write window.

// ApplyDelta adjusts the user's balance, failing with a conflict when the
// result would go negative. Returns the post-update balance.
func ApplyDelta(ctx context.Context, tx *gorm.DB, userID uuid.UUID, delta int) (int, error) {
	res := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Where("points + ? >= 0", delta).
		UpdateColumn("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := CurrentBalance(ctx, tx, userID)
		if err != nil {
			return 0, err
		}
		return 0, pkgerrors.New(pkgerrors.CodeConflict, "insufficient balance").
			WithDetails(map[string]any{"current": current, "requested": -delta})
	}
	return CurrentBalance(ctx, tx, userID)
}

// ForceDelta adjusts the user's balance without the non-negative guard.
// Manager adjustments are allowed to push a balance below zero.
func ForceDelta(ctx context.Context, tx *gorm.DB, userID uuid.UUID, delta int) (int, error) {
	res := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("points", gorm.Expr("points + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return CurrentBalance(ctx, tx, userID)
}

// ClampedDebit subtracts amount from the user's balance, flooring at zero.
// Used when flagging a transaction suspicious after the user may have
// already spent part of the credited amount.
func ClampedDebit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount int) (int, error) {
	if amount < 0 {
		amount = -amount
	}
	res := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("points", gorm.Expr(
			"CASE WHEN points - ? < 0 THEN 0 ELSE points - ? END", amount, amount,
		))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return CurrentBalance(ctx, tx, userID)
}

// CurrentBalance reads the committed balance for the user.
func CurrentBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error) {
	var user models.User
	err := tx.WithContext(ctx).Select("points").First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return 0, err
	}
	return user.Points, nil
}
