package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
)

// Entry describes one ledger append and its paired balance effect. Exactly
// one transaction row is written per entry; the balance mutation is skipped
// only for the two documented cases: purchases created by a suspicious
// cashier, and redemptions awaiting processing.
type Entry struct {
	Transaction *models.Transaction
	PromotionID []uuid.UUID

	// SkipBalance defers or withholds the balance effect while still
	// appending the row.
	SkipBalance bool
	// AllowNegative bypasses the non-negative guard (manager adjustments).
	AllowNegative bool
}

// Record appends the entry's transaction row and applies its balance delta
// inside the caller's database transaction. Callers must invoke Record from
// within a transaction so the pair commits or rolls back together.
func Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.Transaction, error) {
	if entry.Transaction == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger entry requires a transaction")
	}
	txn := entry.Transaction
	if !txn.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type").
			WithDetails(map[string]any{"type": string(txn.Type)})
	}

	if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}

	if len(entry.PromotionID) > 0 {
		links := make([]models.TransactionPromotion, 0, len(entry.PromotionID))
		for _, pid := range entry.PromotionID {
			links = append(links, models.TransactionPromotion{
				TransactionID: txn.ID,
				PromotionID:   pid,
			})
		}
		if err := tx.WithContext(ctx).Create(&links).Error; err != nil {
			return nil, err
		}
		txn.Promotions = links
	}

	if entry.SkipBalance || txn.Amount == 0 {
		return txn, nil
	}

	var err error
	if entry.AllowNegative {
		_, err = ForceDelta(ctx, tx, txn.UserID, txn.Amount)
	} else {
		_, err = ApplyDelta(ctx, tx, txn.UserID, txn.Amount)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}
