package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/internal/ledger"
	"github.com/pointsledger/loyalty-backend/internal/promotions"
	"github.com/pointsledger/loyalty-backend/internal/users"
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/pagination"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

type gormRunner struct {
	db *gorm.DB
}

func (r gormRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:transactions_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Transaction{},
		&models.TransactionPromotion{},
		&models.Promotion{},
		&models.PromotionUsage{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	resolver, err := promotions.NewResolver(promotions.NewRepository(db))
	require.NoError(t, err)
	svc, err := NewService(
		ledger.NewRepository(db),
		users.NewRepository(db),
		resolver,
		gormRunner{db: db},
		nil,
		25,
	)
	require.NoError(t, err)
	return svc
}

func seedUser(t *testing.T, db *gorm.DB, utorid string, role enums.UserRole, points int) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		UTORid:   utorid,
		Name:     "Test " + utorid,
		Email:    utorid + "@mail.utoronto.ca",
		Role:     role,
		Points:   points,
		Verified: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func actorFor(user *models.User) types.Actor {
	return types.Actor{
		ID:         user.ID,
		UTORid:     user.UTORid,
		Role:       user.Role,
		Verified:   user.Verified,
		Suspicious: user.Suspicious,
	}
}

func intRef(v int) *int {
	return &v
}

func balanceOf(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return user.Points
}

func TestCreatePurchaseEarnsPoints(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	txn, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("19.99"),
	})
	require.NoError(t, err)
	// 1999 cents at 25 cents per point rounds to 80.
	require.Equal(t, 80, txn.Amount)
	require.Equal(t, enums.TransactionTypePurchase, txn.Type)
	require.False(t, txn.Suspicious)
	require.Equal(t, 80, balanceOf(t, db, customer.ID))
}

func TestCreatePurchaseRequiresCashier(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	regular := seedUser(t, db, "regular1", enums.UserRoleRegular, 0)

	_, err := svc.CreatePurchase(context.Background(), actorFor(regular), CreatePurchaseDTO{
		UTORid: regular.UTORid,
		Spent:  decimal.RequireFromString("5.00"),
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCreatePurchaseSuspiciousCashierWithholdsCredit(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	cashier.Suspicious = true
	require.NoError(t, db.Save(cashier).Error)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	txn, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	require.True(t, txn.Suspicious)
	require.Equal(t, 40, txn.Amount)
	// The row exists but no points were credited.
	require.Zero(t, balanceOf(t, db, customer.ID))
}

func TestCreatePurchaseAppliesPromotions(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)
	now := time.Now().UTC()

	oneTime := &models.Promotion{
		ID:        uuid.New(),
		Name:      "welcome bonus",
		Type:      enums.PromotionTypeOneTime,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		Points:    60,
	}
	require.NoError(t, db.Create(oneTime).Error)

	txn, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid:       customer.UTORid,
		Spent:        decimal.RequireFromString("10.00"),
		PromotionIDs: []uuid.UUID{oneTime.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 100, txn.Amount)
	require.Equal(t, []uuid.UUID{oneTime.ID}, txn.PromotionIDs())
	require.Equal(t, 100, balanceOf(t, db, customer.ID))

	// The one-time promotion is consumed.
	var usage models.PromotionUsage
	require.NoError(t, db.First(&usage, "user_id = ? AND promotion_id = ?", customer.ID, oneTime.ID).Error)
	require.NotNil(t, usage.TransactionID)
	require.Equal(t, txn.ID, *usage.TransactionID)

	_, err = svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid:       customer.UTORid,
		Spent:        decimal.RequireFromString("10.00"),
		PromotionIDs: []uuid.UUID{oneTime.ID},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestCreateAdjustmentRequiresExistingRelated(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 100)

	_, err := svc.CreateAdjustment(context.Background(), actorFor(manager), CreateAdjustmentDTO{
		UTORid:    customer.UTORid,
		Amount:    -10,
		RelatedID: uuid.New(),
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestCreateAdjustmentCanForceNegativeBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
	require.Equal(t, 20, balanceOf(t, db, customer.ID))

	adjustment, err := svc.CreateAdjustment(context.Background(), actorFor(manager), CreateAdjustmentDTO{
		UTORid:    customer.UTORid,
		Amount:    -50,
		RelatedID: purchase.ID,
		Remark:    "mistaken scan",
	})
	require.NoError(t, err)
	require.Equal(t, -50, adjustment.Amount)
	require.NotNil(t, adjustment.RelatedID)
	require.Equal(t, purchase.ID, *adjustment.RelatedID)
	require.Equal(t, -30, balanceOf(t, db, customer.ID))
}

func TestCreateAdjustmentRequiresManager(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	_, err := svc.CreateAdjustment(context.Background(), actorFor(cashier), CreateAdjustmentDTO{
		UTORid:    customer.UTORid,
		Amount:    5,
		RelatedID: uuid.New(),
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCreateTransferWritesBothLegs(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	sender := seedUser(t, db, "sender1", enums.UserRoleRegular, 100)
	recipient := seedUser(t, db, "recipient1", enums.UserRoleRegular, 10)

	result, err := svc.CreateTransfer(context.Background(), actorFor(sender), CreateTransferDTO{
		RecipientID: recipient.ID,
		Amount:      40,
		Remark:      "lunch split",
	})
	require.NoError(t, err)
	require.Equal(t, -40, result.Outgoing.Amount)
	require.Equal(t, 40, result.Incoming.Amount)
	require.Equal(t, recipient.ID, *result.Outgoing.RelatedID)
	require.Equal(t, sender.ID, *result.Incoming.RelatedID)
	require.Equal(t, 60, balanceOf(t, db, sender.ID))
	require.Equal(t, 50, balanceOf(t, db, recipient.ID))
}

func TestCreateTransferInsufficientBalanceRollsBack(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	sender := seedUser(t, db, "sender1", enums.UserRoleRegular, 30)
	recipient := seedUser(t, db, "recipient1", enums.UserRoleRegular, 0)

	_, err := svc.CreateTransfer(context.Background(), actorFor(sender), CreateTransferDTO{
		RecipientID: recipient.ID,
		Amount:      31,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())

	require.Equal(t, 30, balanceOf(t, db, sender.ID))
	require.Zero(t, balanceOf(t, db, recipient.ID))
	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateTransferRequiresVerified(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	sender := seedUser(t, db, "sender1", enums.UserRoleRegular, 100)
	sender.Verified = false
	require.NoError(t, db.Save(sender).Error)
	recipient := seedUser(t, db, "recipient1", enums.UserRoleRegular, 0)

	_, err := svc.CreateTransfer(context.Background(), actorFor(sender), CreateTransferDTO{
		RecipientID: recipient.ID,
		Amount:      10,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCreateTransferToSelfRejected(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	sender := seedUser(t, db, "sender1", enums.UserRoleRegular, 100)

	_, err := svc.CreateTransfer(context.Background(), actorFor(sender), CreateTransferDTO{
		RecipientID: sender.ID,
		Amount:      10,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestCreateRedemptionHoldsBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 100)

	txn, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{Amount: intRef(60)})
	require.NoError(t, err)
	require.Equal(t, -60, txn.Amount)
	require.NotNil(t, txn.Processed)
	require.False(t, *txn.Processed)
	// The balance only moves when a cashier processes the request.
	require.Equal(t, 100, balanceOf(t, db, user.ID))
}

func TestCreateRedemptionSoftCheck(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 50)

	_, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{Amount: intRef(51)})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestProcessRedemption(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 100)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)

	txn, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{Amount: intRef(60)})
	require.NoError(t, err)

	processed, err := svc.ProcessRedemption(context.Background(), actorFor(cashier), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, processed.Processed)
	require.True(t, *processed.Processed)
	require.NotNil(t, processed.ProcessedBy)
	require.Equal(t, cashier.ID, *processed.ProcessedBy)
	require.Equal(t, 40, balanceOf(t, db, user.ID))
}

func TestProcessRedemptionTwiceRejected(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 100)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)

	txn, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{Amount: intRef(30)})
	require.NoError(t, err)

	_, err = svc.ProcessRedemption(context.Background(), actorFor(cashier), txn.ID)
	require.NoError(t, err)

	_, err = svc.ProcessRedemption(context.Background(), actorFor(cashier), txn.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
	require.Equal(t, 70, balanceOf(t, db, user.ID))
}

func TestProcessRedemptionHardGuard(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 100)
	recipient := seedUser(t, db, "friend1", enums.UserRoleRegular, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)

	txn, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{Amount: intRef(80)})
	require.NoError(t, err)

	// The user spends the balance between request and processing.
	_, err = svc.CreateTransfer(context.Background(), actorFor(user), CreateTransferDTO{
		RecipientID: recipient.ID,
		Amount:      50,
	})
	require.NoError(t, err)

	_, err = svc.ProcessRedemption(context.Background(), actorFor(cashier), txn.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())

	// Still unprocessed and the balance is untouched by the failed attempt.
	reloaded, err := svc.GetTransaction(context.Background(), actorFor(user), txn.ID)
	require.NoError(t, err)
	require.False(t, *reloaded.Processed)
	require.Equal(t, 50, balanceOf(t, db, user.ID))
}

func TestProcessRedemptionWrongType(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)

	_, err = svc.ProcessRedemption(context.Background(), actorFor(cashier), purchase.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestSetSuspiciousReversesCredit(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)
	require.Equal(t, 100, balanceOf(t, db, customer.ID))

	flagged, err := svc.SetSuspicious(context.Background(), actorFor(manager), purchase.ID, true)
	require.NoError(t, err)
	require.True(t, flagged.Suspicious)
	require.Zero(t, balanceOf(t, db, customer.ID))

	cleared, err := svc.SetSuspicious(context.Background(), actorFor(manager), purchase.ID, false)
	require.NoError(t, err)
	require.False(t, cleared.Suspicious)
	require.Equal(t, 100, balanceOf(t, db, customer.ID))
}

func TestSetSuspiciousClampsAtZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)
	sink := seedUser(t, db, "sink1", enums.UserRoleRegular, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)

	// The customer spends most of the credit before the flag lands.
	_, err = svc.CreateTransfer(context.Background(), actorFor(customer), CreateTransferDTO{
		RecipientID: sink.ID,
		Amount:      80,
	})
	require.NoError(t, err)
	require.Equal(t, 20, balanceOf(t, db, customer.ID))

	_, err = svc.SetSuspicious(context.Background(), actorFor(manager), purchase.ID, true)
	require.NoError(t, err)
	require.Zero(t, balanceOf(t, db, customer.ID))
}

func TestSetSuspiciousReleasesWithheldPurchase(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	cashier.Suspicious = true
	require.NoError(t, db.Save(cashier).Error)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	require.Zero(t, balanceOf(t, db, customer.ID))

	cleared, err := svc.SetSuspicious(context.Background(), actorFor(manager), purchase.ID, false)
	require.NoError(t, err)
	require.False(t, cleared.Suspicious)
	require.Equal(t, 40, balanceOf(t, db, customer.ID))
}

func TestSetSuspiciousIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	_, err = svc.SetSuspicious(context.Background(), actorFor(manager), purchase.ID, false)
	require.NoError(t, err)
	// No flag change means no balance change.
	require.Equal(t, 40, balanceOf(t, db, customer.ID))
}

func TestGetTransactionOwnerAndManager(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)
	stranger := seedUser(t, db, "stranger1", enums.UserRoleRegular, 0)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)

	purchase, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)

	_, err = svc.GetTransaction(context.Background(), actorFor(customer), purchase.ID)
	require.NoError(t, err)
	_, err = svc.GetTransaction(context.Background(), actorFor(manager), purchase.ID)
	require.NoError(t, err)

	_, err = svc.GetTransaction(context.Background(), actorFor(stranger), purchase.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestListOwnTransactionsScopedToActor(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customerA := seedUser(t, db, "customera", enums.UserRoleRegular, 0)
	customerB := seedUser(t, db, "customerb", enums.UserRoleRegular, 0)

	for _, utorid := range []string{customerA.UTORid, customerB.UTORid} {
		_, err := svc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
			UTORid: utorid,
			Spent:  decimal.RequireFromString("5.00"),
		})
		require.NoError(t, err)
	}

	page, err := svc.ListOwnTransactions(context.Background(), actorFor(customerA), pagination.Params{}, ledger.Filters{})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	require.Equal(t, customerA.ID, page.Transactions[0].UserID)

	_, err = svc.ListTransactions(context.Background(), actorFor(customerA), pagination.Params{}, ledger.Filters{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCreateRedemptionDefaultsToFullBalance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 150)

	txn, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{})
	require.NoError(t, err)
	require.Equal(t, -150, txn.Amount)
	require.Equal(t, 150, balanceOf(t, db, user.ID))
}

func TestCreateRedemptionFullBalanceNeedsPoints(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 0)

	_, err := svc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

// hookedRunner lets a test interleave a rival write between the service's
// initial read and its transaction, reproducing a concurrent processor.
type hookedRunner struct {
	db   *gorm.DB
	hook func()
}

func (r hookedRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.hook != nil {
		r.hook()
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestProcessRedemptionConcurrentClaimDeductsOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	user := seedUser(t, db, "redeemer1", enums.UserRoleRegular, 100)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	rival := seedUser(t, db, "cashier2", enums.UserRoleCashier, 0)

	ledgerRepo := ledger.NewRepository(db)
	resolver, err := promotions.NewResolver(promotions.NewRepository(db))
	require.NoError(t, err)

	plainSvc := newTestService(t, db)
	redemption, err := plainSvc.CreateRedemption(context.Background(), actorFor(user), CreateRedemptionDTO{Amount: intRef(40)})
	require.NoError(t, err)

	runner := hookedRunner{db: db, hook: func() {
		// The rival lands between the stale read and the claim.
		_, err := plainSvc.ProcessRedemption(context.Background(), actorFor(rival), redemption.ID)
		require.NoError(t, err)
	}}
	svc, err := NewService(ledgerRepo, users.NewRepository(db), resolver, runner, nil, 25)
	require.NoError(t, err)

	_, err = svc.ProcessRedemption(context.Background(), actorFor(cashier), redemption.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code())
	// Exactly one deduction.
	require.Equal(t, 60, balanceOf(t, db, user.ID))
}

func TestSetSuspiciousConcurrentToggleReconcilesOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	manager := seedUser(t, db, "manager1", enums.UserRoleManager, 0)
	rival := seedUser(t, db, "manager2", enums.UserRoleManager, 0)
	cashier := seedUser(t, db, "cashier1", enums.UserRoleCashier, 0)
	customer := seedUser(t, db, "customer1", enums.UserRoleRegular, 0)

	ledgerRepo := ledger.NewRepository(db)
	resolver, err := promotions.NewResolver(promotions.NewRepository(db))
	require.NoError(t, err)

	plainSvc := newTestService(t, db)
	purchase, err := plainSvc.CreatePurchase(context.Background(), actorFor(cashier), CreatePurchaseDTO{
		UTORid: customer.UTORid,
		Spent:  decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	require.Equal(t, 40, balanceOf(t, db, customer.ID))

	runner := hookedRunner{db: db, hook: func() {
		_, err := plainSvc.SetSuspicious(context.Background(), actorFor(rival), purchase.ID, true)
		require.NoError(t, err)
	}}
	svc, err := NewService(ledgerRepo, users.NewRepository(db), resolver, runner, nil, 25)
	require.NoError(t, err)

	// The loser of the race sees the flag already landed and does not
	// debit the credit a second time.
	flagged, err := svc.SetSuspicious(context.Background(), actorFor(manager), purchase.ID, true)
	require.NoError(t, err)
	require.True(t, flagged.Suspicious)
	require.Equal(t, 0, balanceOf(t, db, customer.ID))
}
