package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// Transaction records an immutable point movement in the ledger. Only the
// suspicious flag and the redemption processing fields may change after the
// row commits.
//
// RelatedID is polymorphic by type: the counterpart user for transfers, the
// source transaction for adjustments, and the event for event awards.
type Transaction struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID      uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index"`
	UTORid      string                `gorm:"column:utorid;type:text;not null"`
	Type        enums.TransactionType `gorm:"column:type;type:transaction_type_enum;not null"`
	Amount      int                   `gorm:"column:amount;not null"`
	Spent       *decimal.Decimal      `gorm:"column:spent;type:numeric(12,2)"`
	RelatedID   *uuid.UUID            `gorm:"column:related_id;type:uuid"`
	Remark      string                `gorm:"column:remark;not null;default:''"`
	Suspicious  bool                  `gorm:"column:suspicious;not null;default:false"`
	Processed   *bool                 `gorm:"column:processed"`
	ProcessedBy *uuid.UUID            `gorm:"column:processed_by;type:uuid"`
	CreatedBy   uuid.UUID             `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`

	Promotions []TransactionPromotion `gorm:"foreignKey:TransactionID"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// PromotionIDs flattens the applied promotion rows into ids.
func (t *Transaction) PromotionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(t.Promotions))
	for _, p := range t.Promotions {
		ids = append(ids, p.PromotionID)
	}
	return ids
}

// TransactionPromotion links a committed transaction to a promotion it applied.
type TransactionPromotion struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;index"`
	PromotionID   uuid.UUID `gorm:"column:promotion_id;type:uuid;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (tp *TransactionPromotion) BeforeCreate(tx *gorm.DB) error {
	if tp.ID == uuid.Nil {
		tp.ID = uuid.New()
	}
	return nil
}
