package transactions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pointsledger/loyalty-backend/internal/ledger"
	"github.com/pointsledger/loyalty-backend/internal/promotions"
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/metrics"
	"github.com/pointsledger/loyalty-backend/pkg/pagination"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

type usersRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByUTORid(ctx context.Context, utorid string) (*models.User, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the transaction engine. Every operation that moves points runs
// inside one database transaction pairing the ledger append with its balance
// effect, so a crash or conflict leaves no half-applied movement.
type Service interface {
	CreatePurchase(ctx context.Context, actor types.Actor, input CreatePurchaseDTO) (*models.Transaction, error)
	CreateAdjustment(ctx context.Context, actor types.Actor, input CreateAdjustmentDTO) (*models.Transaction, error)
	CreateTransfer(ctx context.Context, actor types.Actor, input CreateTransferDTO) (*TransferResult, error)
	CreateRedemption(ctx context.Context, actor types.Actor, input CreateRedemptionDTO) (*models.Transaction, error)
	ProcessRedemption(ctx context.Context, actor types.Actor, transactionID uuid.UUID) (*models.Transaction, error)
	SetSuspicious(ctx context.Context, actor types.Actor, transactionID uuid.UUID, suspicious bool) (*models.Transaction, error)
	GetTransaction(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error)
	ListOwnTransactions(ctx context.Context, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error)
}

type service struct {
	ledgerRepo    ledger.Repository
	users         usersRepository
	resolver      promotions.Resolver
	runner        txRunner
	metrics       *metrics.TransactionMetrics
	earnRateCents int64
	now           func() time.Time
}

// NewService wires the transaction engine. earnRateCents is how many cents
// of spending earn one point.
func NewService(
	ledgerRepo ledger.Repository,
	users usersRepository,
	resolver promotions.Resolver,
	runner txRunner,
	txMetrics *metrics.TransactionMetrics,
	earnRateCents int64,
) (Service, error) {
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("promotions resolver required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if earnRateCents <= 0 {
		return nil, fmt.Errorf("earn rate must be positive")
	}
	if txMetrics == nil {
		txMetrics = metrics.NewTransactionMetrics(nil)
	}
	return &service{
		ledgerRepo:    ledgerRepo,
		users:         users,
		resolver:      resolver,
		runner:        runner,
		metrics:       txMetrics,
		earnRateCents: earnRateCents,
		now:           time.Now,
	}, nil
}

// earnedPoints converts a dollar spend into base points, rounding half up.
func (s *service) earnedPoints(spent decimal.Decimal) int {
	cents := spent.Shift(2).Round(0).IntPart()
	if cents <= 0 {
		return 0
	}
	return int((cents + s.earnRateCents/2) / s.earnRateCents)
}

func (s *service) CreatePurchase(ctx context.Context, actor types.Actor, input CreatePurchaseDTO) (*models.Transaction, error) {
	defer s.observe(enums.TransactionTypePurchase, s.now())

	if !actor.HasClearance(enums.UserRoleCashier) {
		return nil, s.reject(enums.TransactionTypePurchase,
			pkgerrors.New(pkgerrors.CodeForbidden, "cashier role required"))
	}
	if !input.Spent.IsPositive() {
		return nil, s.reject(enums.TransactionTypePurchase,
			pkgerrors.New(pkgerrors.CodeValidation, "spent must be positive"))
	}

	customer, err := s.users.FindByUTORid(ctx, input.UTORid)
	if err != nil {
		return nil, s.reject(enums.TransactionTypePurchase, err)
	}

	var created *models.Transaction
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		resolution, err := s.resolver.Resolve(ctx, tx, customer.ID, input.PromotionIDs, &input.Spent, s.now())
		if err != nil {
			return err
		}

		spent := input.Spent
		amount := s.earnedPoints(spent) + resolution.Bonus
		txn := &models.Transaction{
			UserID:    customer.ID,
			UTORid:    customer.UTORid,
			Type:      enums.TransactionTypePurchase,
			Amount:    amount,
			Spent:     &spent,
			Remark:    input.Remark,
			CreatedBy: actor.ID,
			// Purchases by a flagged cashier are held back until a
			// manager clears them.
			Suspicious: actor.Suspicious,
		}
		created, err = ledger.Record(ctx, tx, ledger.Entry{
			Transaction: txn,
			PromotionID: pluckIDs(resolution.Promotions),
			SkipBalance: actor.Suspicious,
		})
		if err != nil {
			return err
		}
		return s.resolver.MarkUsed(ctx, tx, customer.ID, created.ID, resolution.OneTimeIDs)
	})
	if err != nil {
		return nil, s.reject(enums.TransactionTypePurchase, err)
	}

	s.metrics.IncCreated(string(enums.TransactionTypePurchase))
	s.metrics.AddPoints(string(enums.TransactionTypePurchase), created.Amount)
	return created, nil
}

func (s *service) CreateAdjustment(ctx context.Context, actor types.Actor, input CreateAdjustmentDTO) (*models.Transaction, error) {
	defer s.observe(enums.TransactionTypeAdjustment, s.now())

	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, s.reject(enums.TransactionTypeAdjustment,
			pkgerrors.New(pkgerrors.CodeForbidden, "manager role required"))
	}
	if input.Amount == 0 {
		return nil, s.reject(enums.TransactionTypeAdjustment,
			pkgerrors.New(pkgerrors.CodeValidation, "amount must not be zero"))
	}

	target, err := s.users.FindByUTORid(ctx, input.UTORid)
	if err != nil {
		return nil, s.reject(enums.TransactionTypeAdjustment, err)
	}
	related, err := s.ledgerRepo.FindByID(ctx, input.RelatedID)
	if err != nil {
		return nil, s.reject(enums.TransactionTypeAdjustment, err)
	}

	var created *models.Transaction
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		resolution, err := s.resolver.Resolve(ctx, tx, target.ID, input.PromotionIDs, nil, s.now())
		if err != nil {
			return err
		}

		relatedID := related.ID
		txn := &models.Transaction{
			UserID:    target.ID,
			UTORid:    target.UTORid,
			Type:      enums.TransactionTypeAdjustment,
			Amount:    input.Amount + resolution.Bonus,
			RelatedID: &relatedID,
			Remark:    input.Remark,
			CreatedBy: actor.ID,
		}
		created, err = ledger.Record(ctx, tx, ledger.Entry{
			Transaction: txn,
			PromotionID: pluckIDs(resolution.Promotions),
			// Corrections may push a balance below zero.
			AllowNegative: true,
		})
		if err != nil {
			return err
		}
		return s.resolver.MarkUsed(ctx, tx, target.ID, created.ID, resolution.OneTimeIDs)
	})
	if err != nil {
		return nil, s.reject(enums.TransactionTypeAdjustment, err)
	}

	s.metrics.IncCreated(string(enums.TransactionTypeAdjustment))
	s.metrics.AddPoints(string(enums.TransactionTypeAdjustment), created.Amount)
	return created, nil
}

func (s *service) CreateTransfer(ctx context.Context, actor types.Actor, input CreateTransferDTO) (*TransferResult, error) {
	defer s.observe(enums.TransactionTypeTransfer, s.now())

	if !actor.Verified {
		return nil, s.reject(enums.TransactionTypeTransfer,
			pkgerrors.New(pkgerrors.CodeForbidden, "account must be verified to transfer points"))
	}
	if input.Amount <= 0 {
		return nil, s.reject(enums.TransactionTypeTransfer,
			pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive"))
	}
	if input.RecipientID == actor.ID {
		return nil, s.reject(enums.TransactionTypeTransfer,
			pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer points to yourself"))
	}

	recipient, err := s.users.FindByID(ctx, input.RecipientID)
	if err != nil {
		return nil, s.reject(enums.TransactionTypeTransfer, err)
	}
	sender, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, s.reject(enums.TransactionTypeTransfer, err)
	}

	result := &TransferResult{}
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		recipientID := recipient.ID
		senderID := sender.ID

		// The sender's guarded debit is the atomicity point: if it
		// fails, neither row commits.
		outgoing, err := ledger.Record(ctx, tx, ledger.Entry{
			Transaction: &models.Transaction{
				UserID:    sender.ID,
				UTORid:    sender.UTORid,
				Type:      enums.TransactionTypeTransfer,
				Amount:    -input.Amount,
				RelatedID: &recipientID,
				Remark:    input.Remark,
				CreatedBy: actor.ID,
			},
		})
		if err != nil {
			return err
		}
		incoming, err := ledger.Record(ctx, tx, ledger.Entry{
			Transaction: &models.Transaction{
				UserID:    recipient.ID,
				UTORid:    recipient.UTORid,
				Type:      enums.TransactionTypeTransfer,
				Amount:    input.Amount,
				RelatedID: &senderID,
				Remark:    input.Remark,
				CreatedBy: actor.ID,
			},
		})
		if err != nil {
			return err
		}
		result.Outgoing = outgoing
		result.Incoming = incoming
		return nil
	})
	if err != nil {
		return nil, s.reject(enums.TransactionTypeTransfer, err)
	}

	s.metrics.IncCreated(string(enums.TransactionTypeTransfer))
	s.metrics.AddPoints(string(enums.TransactionTypeTransfer), input.Amount)
	return result, nil
}

func (s *service) CreateRedemption(ctx context.Context, actor types.Actor, input CreateRedemptionDTO) (*models.Transaction, error) {
	defer s.observe(enums.TransactionTypeRedemption, s.now())

	if !actor.Verified {
		return nil, s.reject(enums.TransactionTypeRedemption,
			pkgerrors.New(pkgerrors.CodeForbidden, "account must be verified to redeem points"))
	}
	if input.Amount != nil && *input.Amount <= 0 {
		return nil, s.reject(enums.TransactionTypeRedemption,
			pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive"))
	}

	user, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return nil, s.reject(enums.TransactionTypeRedemption, err)
	}

	// An omitted amount redeems the full balance.
	amount := user.Points
	if input.Amount != nil {
		amount = *input.Amount
	}
	// Soft check only. The authoritative guard runs when a cashier
	// processes the redemption.
	if amount <= 0 || user.Points < amount {
		return nil, s.reject(enums.TransactionTypeRedemption,
			pkgerrors.New(pkgerrors.CodeConflict, "insufficient balance").
				WithDetails(map[string]any{"current": user.Points, "requested": amount}))
	}

	processed := false
	var created *models.Transaction
	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = ledger.Record(ctx, tx, ledger.Entry{
			Transaction: &models.Transaction{
				UserID:    user.ID,
				UTORid:    user.UTORid,
				Type:      enums.TransactionTypeRedemption,
				Amount:    -amount,
				Remark:    input.Remark,
				Processed: &processed,
				CreatedBy: actor.ID,
			},
			SkipBalance: true,
		})
		return err
	})
	if err != nil {
		return nil, s.reject(enums.TransactionTypeRedemption, err)
	}

	s.metrics.IncCreated(string(enums.TransactionTypeRedemption))
	return created, nil
}

func (s *service) ProcessRedemption(ctx context.Context, actor types.Actor, transactionID uuid.UUID) (*models.Transaction, error) {
	defer s.observe(enums.TransactionTypeRedemption, s.now())

	if !actor.HasClearance(enums.UserRoleCashier) {
		return nil, s.reject(enums.TransactionTypeRedemption,
			pkgerrors.New(pkgerrors.CodeForbidden, "cashier role required"))
	}

	txn, err := s.ledgerRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, s.reject(enums.TransactionTypeRedemption, err)
	}
	if txn.Type != enums.TransactionTypeRedemption {
		return nil, s.reject(enums.TransactionTypeRedemption,
			pkgerrors.New(pkgerrors.CodeValidation, "transaction is not a redemption"))
	}
	if txn.Processed != nil && *txn.Processed {
		return nil, s.reject(enums.TransactionTypeRedemption,
			pkgerrors.New(pkgerrors.CodeConflict, "redemption already processed").
				WithDetails(map[string]any{"transaction_id": transactionID}))
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		// Claim the row first; MarkProcessed is first-writer-wins, so a
		// concurrent processor fails here before touching the balance.
		if err := s.ledgerRepo.WithTx(tx).MarkProcessed(ctx, txn.ID, actor.ID); err != nil {
			return err
		}
		// Hard guard: the deduction fails here if the balance was spent
		// between request and processing.
		_, err := ledger.ApplyDelta(ctx, tx, txn.UserID, txn.Amount)
		return err
	})
	if err != nil {
		return nil, s.reject(enums.TransactionTypeRedemption, err)
	}

	s.metrics.AddPoints(string(enums.TransactionTypeRedemption), txn.Amount)
	return s.ledgerRepo.FindByID(ctx, transactionID)
}

func (s *service) SetSuspicious(ctx context.Context, actor types.Actor, transactionID uuid.UUID, suspicious bool) (*models.Transaction, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}

	txn, err := s.ledgerRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Suspicious == suspicious {
		return txn, nil
	}

	err = s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		// Flip the flag first; the transition guard serializes racing
		// toggles so the reconciliation runs at most once per flip.
		if err := s.ledgerRepo.WithTx(tx).UpdateSuspicious(ctx, txn.ID, suspicious); err != nil {
			return err
		}
		return reconcileBalance(ctx, tx, txn, suspicious)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			// Another writer landed the same flag value; treat the
			// toggle as the no-op it is.
			return s.ledgerRepo.FindByID(ctx, transactionID)
		}
		return nil, err
	}
	return s.ledgerRepo.FindByID(ctx, transactionID)
}

// reconcileBalance applies or reverses a transaction's balance effect when
// its suspicious flag flips. Unprocessed redemptions never carried a balance
// effect, so the flag moves freely.
func reconcileBalance(ctx context.Context, tx *gorm.DB, txn *models.Transaction, suspicious bool) error {
	if txn.Type == enums.TransactionTypeRedemption && (txn.Processed == nil || !*txn.Processed) {
		return nil
	}
	if suspicious {
		// Reverse a previously applied effect. Credited points may
		// have been spent already, so the removal floors at zero.
		if txn.Amount > 0 {
			_, err := ledger.ClampedDebit(ctx, tx, txn.UserID, txn.Amount)
			return err
		}
		_, err := ledger.ForceDelta(ctx, tx, txn.UserID, -txn.Amount)
		return err
	}
	// Clearing the flag releases the withheld effect.
	_, err := ledger.ForceDelta(ctx, tx, txn.UserID, txn.Amount)
	return err
}

func (s *service) GetTransaction(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.ledgerRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.UserID != actor.ID && !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *service) ListTransactions(ctx context.Context, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error) {
	if !actor.HasClearance(enums.UserRoleManager) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager role required")
	}
	return s.ledgerRepo.List(ctx, params, filters)
}

func (s *service) ListOwnTransactions(ctx context.Context, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error) {
	userID := actor.ID
	filters.UserID = &userID
	// The suspicious flag is back-office state; owners never see it as a
	// filterable dimension.
	filters.Suspicious = nil
	return s.ledgerRepo.List(ctx, params, filters)
}

func (s *service) observe(txType enums.TransactionType, start time.Time) {
	s.metrics.ObserveDuration(string(txType), s.now().Sub(start))
}

func (s *service) reject(txType enums.TransactionType, err error) error {
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(err); typed != nil {
		code = typed.Code()
	}
	s.metrics.IncRejected(string(txType), string(code))
	return err
}

func pluckIDs(rows []models.Promotion) []uuid.UUID {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}
