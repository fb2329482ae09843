package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pointsledger/loyalty-backend/api/middleware"
	"github.com/pointsledger/loyalty-backend/api/responses"
	"github.com/pointsledger/loyalty-backend/api/validators"
	"github.com/pointsledger/loyalty-backend/internal/ledger"
	txsvc "github.com/pointsledger/loyalty-backend/internal/transactions"
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/logger"
	"github.com/pointsledger/loyalty-backend/pkg/pagination"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

// TransactionCreate records a purchase or adjustment against a customer.
// The body carries a type discriminator; cashiers may only submit
// purchases, adjustments require manager clearance inside the service.
func TransactionCreate(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload createTransactionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var record *models.Transaction
		var err error
		switch payload.Type {
		case string(enums.TransactionTypePurchase):
			record, err = svc.CreatePurchase(r.Context(), actor, payload.toPurchase())
		case string(enums.TransactionTypeAdjustment):
			record, err = svc.CreateAdjustment(r.Context(), actor, payload.toAdjustment())
		default:
			err = pkgerrors.New(pkgerrors.CodeValidation, "type must be purchase or adjustment")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(record))
	}
}

// TransferCreate moves points from the caller to the user in the path.
func TransferCreate(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		recipientID, err := parseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createTransferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateTransfer(r.Context(), actor, txsvc.CreateTransferDTO{
			RecipientID: recipientID,
			Amount:      payload.Amount,
			Remark:      validators.SanitizeString(payload.Remark, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, transferResponse{
			Outgoing: newTransactionResponse(result.Outgoing),
			Incoming: newTransactionResponse(result.Incoming),
		})
	}
}

// RedemptionCreate opens a redemption request against the caller's balance.
func RedemptionCreate(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload txsvc.CreateRedemptionDTO
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.CreateRedemption(r.Context(), actor, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(record))
	}
}

// RedemptionProcess settles a requested redemption and deducts the points.
func RedemptionProcess(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		transactionID, err := parseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload processRedemptionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !payload.Processed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "processed must be true"))
			return
		}

		record, err := svc.ProcessRedemption(r.Context(), actor, transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionResponse(record))
	}
}

// TransactionSetSuspicious flips the suspicious flag and reconciles the
// holder's balance in the same transaction.
func TransactionSetSuspicious(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		transactionID, err := parseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload setSuspiciousRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.Suspicious == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "suspicious is required"))
			return
		}

		record, err := svc.SetSuspicious(r.Context(), actor, transactionID, *payload.Suspicious)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionResponse(record))
	}
}

// TransactionGet returns one ledger row. Owners see their own rows,
// managers see everything.
func TransactionGet(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}

		actor, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		transactionID, err := parseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.GetTransaction(r.Context(), actor, transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionResponse(record))
	}
}

// TransactionList is the manager ledger view with filters and cursors.
func TransactionList(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listTransactions(svc, logg, w, r, svcList)
	}
}

// OwnTransactionList scopes the listing to the caller's own rows.
func OwnTransactionList(svc txsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listTransactions(svc, logg, w, r, svcListOwn)
	}
}

type listFunc func(svc txsvc.Service, r *http.Request, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error)

func svcList(svc txsvc.Service, r *http.Request, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error) {
	return svc.ListTransactions(r.Context(), actor, params, filters)
}

func svcListOwn(svc txsvc.Service, r *http.Request, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error) {
	return svc.ListOwnTransactions(r.Context(), actor, params, filters)
}

func listTransactions(svc txsvc.Service, logg *logger.Logger, w http.ResponseWriter, r *http.Request, list listFunc) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
		return
	}

	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
		return
	}

	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	filters, err := parseTransactionFilters(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	params := pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")}
	page, err := list(svc, r, actor, params, filters)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	items := make([]transactionResponse, 0, len(page.Transactions))
	for i := range page.Transactions {
		items = append(items, newTransactionResponse(&page.Transactions[i]))
	}
	responses.WriteSuccess(w, transactionPageResponse{
		Transactions: items,
		NextCursor:   page.NextCursor,
	})
}

func parseTransactionFilters(r *http.Request) (ledger.Filters, error) {
	var filters ledger.Filters
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("userId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid userId filter")
		}
		filters.UserID = &id
	}
	if raw := strings.TrimSpace(query.Get("relatedId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid relatedId filter")
		}
		filters.RelatedID = &id
	}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		parsed, err := enums.ParseTransactionType(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type filter")
		}
		filters.Type = &parsed
	}
	if raw := strings.TrimSpace(query.Get("suspicious")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid suspicious filter")
		}
		filters.Suspicious = &parsed
	}
	return filters, nil
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

type createTransactionRequest struct {
	Type         string           `json:"type" validate:"required,oneof=purchase adjustment"`
	UTORid       string           `json:"utorid" validate:"required"`
	Spent        *decimal.Decimal `json:"spent,omitempty"`
	Amount       *int             `json:"amount,omitempty"`
	RelatedID    *uuid.UUID       `json:"relatedId,omitempty"`
	PromotionIDs []uuid.UUID      `json:"promotionIds,omitempty"`
	Remark       string           `json:"remark" validate:"max=500"`
}

func (r createTransactionRequest) toPurchase() txsvc.CreatePurchaseDTO {
	dto := txsvc.CreatePurchaseDTO{
		UTORid:       r.UTORid,
		PromotionIDs: r.PromotionIDs,
		Remark:       validators.SanitizeString(r.Remark, 500),
	}
	if r.Spent != nil {
		dto.Spent = *r.Spent
	}
	return dto
}

func (r createTransactionRequest) toAdjustment() txsvc.CreateAdjustmentDTO {
	dto := txsvc.CreateAdjustmentDTO{
		UTORid:       r.UTORid,
		PromotionIDs: r.PromotionIDs,
		Remark:       validators.SanitizeString(r.Remark, 500),
	}
	if r.Amount != nil {
		dto.Amount = *r.Amount
	}
	if r.RelatedID != nil {
		dto.RelatedID = *r.RelatedID
	}
	return dto
}

type createTransferRequest struct {
	Amount int    `json:"amount" validate:"required,gt=0"`
	Remark string `json:"remark" validate:"max=500"`
}

type processRedemptionRequest struct {
	Processed bool `json:"processed" validate:"required"`
}

type setSuspiciousRequest struct {
	Suspicious *bool `json:"suspicious"`
}

type transactionResponse struct {
	ID           uuid.UUID        `json:"id"`
	UserID       uuid.UUID        `json:"userId"`
	UTORid       string           `json:"utorid"`
	Type         string           `json:"type"`
	Amount       int              `json:"amount"`
	Earned       *int             `json:"earned,omitempty"`
	Spent        *decimal.Decimal `json:"spent,omitempty"`
	RelatedID    *uuid.UUID       `json:"relatedId,omitempty"`
	PromotionIDs []uuid.UUID      `json:"promotionIds,omitempty"`
	Remark       string           `json:"remark,omitempty"`
	Suspicious   bool             `json:"suspicious"`
	Processed    *bool            `json:"processed,omitempty"`
	ProcessedBy  *uuid.UUID       `json:"processedBy,omitempty"`
	CreatedBy    uuid.UUID        `json:"createdBy"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type transferResponse struct {
	Outgoing transactionResponse `json:"outgoing"`
	Incoming transactionResponse `json:"incoming"`
}

type transactionPageResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"nextCursor,omitempty"`
}

func newTransactionResponse(record *models.Transaction) transactionResponse {
	if record == nil {
		return transactionResponse{}
	}
	var earned *int
	if record.Type == enums.TransactionTypePurchase {
		// A purchase flagged suspicious at creation recorded its full
		// amount but credited nothing, so the caller sees zero earned.
		value := record.Amount
		if record.Suspicious {
			value = 0
		}
		earned = &value
	}
	return transactionResponse{
		ID:           record.ID,
		UserID:       record.UserID,
		UTORid:       record.UTORid,
		Type:         string(record.Type),
		Amount:       record.Amount,
		Earned:       earned,
		Spent:        record.Spent,
		RelatedID:    record.RelatedID,
		PromotionIDs: record.PromotionIDs(),
		Remark:       record.Remark,
		Suspicious:   record.Suspicious,
		Processed:    record.Processed,
		ProcessedBy:  record.ProcessedBy,
		CreatedBy:    record.CreatedBy,
		CreatedAt:    record.CreatedAt,
	}
}
