package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Transaction{},
		&models.TransactionPromotion{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, points int) *models.User {
	t.Helper()
	user := &models.User{
		ID:     uuid.New(),
		UTORid: "user" + uuid.NewString()[:8],
		Name:   "Test User",
		Email:  uuid.NewString() + "@mail.utoronto.ca",
		Role:   enums.UserRoleRegular,
		Points: points,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestApplyDelta(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 100)

	balance, err := ApplyDelta(ctx, db, user.ID, -40)
	require.NoError(t, err)
	require.Equal(t, 60, balance)

	balance, err = ApplyDelta(ctx, db, user.ID, 15)
	require.NoError(t, err)
	require.Equal(t, 75, balance)
}

func TestApplyDeltaInsufficientBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 30)

	_, err := ApplyDelta(ctx, db, user.ID, -31)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	require.Equal(t, 30, details["current"])
	require.Equal(t, 31, details["requested"])

	// Balance untouched after the rejected debit.
	balance, err := CurrentBalance(ctx, db, user.ID)
	require.NoError(t, err)
	require.Equal(t, 30, balance)
}

func TestApplyDeltaUnknownUser(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	_, err := ApplyDelta(context.Background(), db, uuid.New(), 10)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestForceDeltaAllowsNegative(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 10)

	balance, err := ForceDelta(ctx, db, user.ID, -25)
	require.NoError(t, err)
	require.Equal(t, -15, balance)
}

func TestClampedDebitFloorsAtZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 40)

	balance, err := ClampedDebit(ctx, db, user.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 0, balance)

	rich := seedUser(t, db, 500)
	balance, err = ClampedDebit(ctx, db, rich.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 400, balance)
}

func TestRecordPairsRowAndBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 0)
	cashier := seedUser(t, db, 0)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := Record(ctx, tx, Entry{
			Transaction: &models.Transaction{
				UserID:    user.ID,
				UTORid:    user.UTORid,
				Type:      enums.TransactionTypePurchase,
				Amount:    80,
				CreatedBy: cashier.ID,
			},
		})
		return err
	})
	require.NoError(t, err)

	balance, err := CurrentBalance(ctx, db, user.ID)
	require.NoError(t, err)
	require.Equal(t, 80, balance)

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRecordSkipBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 50)

	_, err := Record(ctx, db, Entry{
		Transaction: &models.Transaction{
			UserID:    user.ID,
			UTORid:    user.UTORid,
			Type:      enums.TransactionTypePurchase,
			Amount:    30,
			CreatedBy: user.ID,
		},
		SkipBalance: true,
	})
	require.NoError(t, err)

	balance, err := CurrentBalance(ctx, db, user.ID)
	require.NoError(t, err)
	require.Equal(t, 50, balance)
}

func TestRecordWritesPromotionLinks(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 0)
	promoA := uuid.New()
	promoB := uuid.New()

	txn, err := Record(ctx, db, Entry{
		Transaction: &models.Transaction{
			UserID:    user.ID,
			UTORid:    user.UTORid,
			Type:      enums.TransactionTypePurchase,
			Amount:    10,
			CreatedBy: user.ID,
		},
		PromotionID: []uuid.UUID{promoA, promoB},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{promoA, promoB}, txn.PromotionIDs())

	var links int64
	require.NoError(t, db.Model(&models.TransactionPromotion{}).
		Where("transaction_id = ?", txn.ID).Count(&links).Error)
	require.EqualValues(t, 2, links)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	user := seedUser(t, db, 10)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := Record(ctx, tx, Entry{
			Transaction: &models.Transaction{
				UserID:    user.ID,
				UTORid:    user.UTORid,
				Type:      enums.TransactionTypeRedemption,
				Amount:    -50,
				CreatedBy: user.ID,
			},
		}); err != nil {
			return err
		}
		return nil
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())

	// The row written before the failed debit must not survive the rollback.
	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.Zero(t, count)

	balance, err := CurrentBalance(ctx, db, user.ID)
	require.NoError(t, err)
	require.Equal(t, 10, balance)
}
