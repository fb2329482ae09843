package transactions

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
)

// CreatePurchaseDTO records an in-store purchase for a customer. Spent is
// the dollar amount; the earned points are derived from it.
type CreatePurchaseDTO struct {
	UTORid       string          `json:"utorid" validate:"required"`
	Spent        decimal.Decimal `json:"spent" validate:"required"`
	PromotionIDs []uuid.UUID     `json:"promotionIds,omitempty"`
	Remark       string          `json:"remark" validate:"max=500"`
}

// CreateAdjustmentDTO corrects a prior transaction by an arbitrary delta.
type CreateAdjustmentDTO struct {
	UTORid       string      `json:"utorid" validate:"required"`
	Amount       int         `json:"amount" validate:"required"`
	RelatedID    uuid.UUID   `json:"relatedId" validate:"required"`
	PromotionIDs []uuid.UUID `json:"promotionIds,omitempty"`
	Remark       string      `json:"remark" validate:"max=500"`
}

// CreateTransferDTO moves points from the actor to another user.
type CreateTransferDTO struct {
	RecipientID uuid.UUID `json:"recipientId" validate:"required"`
	Amount      int       `json:"amount" validate:"required,gt=0"`
	Remark      string    `json:"remark" validate:"max=500"`
}

// CreateRedemptionDTO opens a redemption request for the actor's own points.
// A nil Amount redeems the full balance.
type CreateRedemptionDTO struct {
	Amount *int   `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Remark string `json:"remark" validate:"max=500"`
}

// TransferResult pairs the two ledger rows a transfer writes: the sender's
// debit and the recipient's credit.
type TransferResult struct {
	Outgoing *models.Transaction
	Incoming *models.Transaction
}
