package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pointsledger/loyalty-backend/api/middleware"
	"github.com/pointsledger/loyalty-backend/internal/ledger"
	txsvc "github.com/pointsledger/loyalty-backend/internal/transactions"
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
	pkgerrors "github.com/pointsledger/loyalty-backend/pkg/errors"
	"github.com/pointsledger/loyalty-backend/pkg/pagination"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

type stubTransactionService struct {
	txsvc.Service

	purchase   func(types.Actor, txsvc.CreatePurchaseDTO) (*models.Transaction, error)
	adjustment func(types.Actor, txsvc.CreateAdjustmentDTO) (*models.Transaction, error)
	listOwn    func(types.Actor, pagination.Params, ledger.Filters) (*ledger.TransactionPage, error)
}

func (s *stubTransactionService) CreatePurchase(_ context.Context, actor types.Actor, input txsvc.CreatePurchaseDTO) (*models.Transaction, error) {
	return s.purchase(actor, input)
}

func (s *stubTransactionService) CreateAdjustment(_ context.Context, actor types.Actor, input txsvc.CreateAdjustmentDTO) (*models.Transaction, error) {
	return s.adjustment(actor, input)
}

func (s *stubTransactionService) ListOwnTransactions(_ context.Context, actor types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error) {
	return s.listOwn(actor, params, filters)
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	actor := types.Actor{ID: uuid.New(), UTORid: "cashier1", Role: enums.UserRoleCashier, Verified: true}
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func TestTransactionCreateDispatchesPurchase(t *testing.T) {
	var got txsvc.CreatePurchaseDTO
	svc := &stubTransactionService{
		purchase: func(_ types.Actor, input txsvc.CreatePurchaseDTO) (*models.Transaction, error) {
			got = input
			return &models.Transaction{
				ID:     uuid.New(),
				Type:   enums.TransactionTypePurchase,
				UTORid: input.UTORid,
				Amount: 80,
			}, nil
		},
	}

	req := authedRequest(http.MethodPost, "/api/v1/transactions", `{"type":"purchase","utorid":"johndoe1","spent":"19.99"}`)
	resp := httptest.NewRecorder()
	TransactionCreate(svc, nil)(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.UTORid != "johndoe1" {
		t.Fatalf("expected utorid passthrough, got %q", got.UTORid)
	}
	if !got.Spent.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("expected spent 19.99 got %s", got.Spent)
	}
}

func TestTransactionCreateRejectsUnknownType(t *testing.T) {
	svc := &stubTransactionService{}

	req := authedRequest(http.MethodPost, "/api/v1/transactions", `{"type":"transfer","utorid":"johndoe1"}`)
	resp := httptest.NewRecorder()
	TransactionCreate(svc, nil)(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTransactionCreateMapsServiceError(t *testing.T) {
	svc := &stubTransactionService{
		adjustment: func(types.Actor, txsvc.CreateAdjustmentDTO) (*models.Transaction, error) {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "manager clearance required")
		},
	}

	related := uuid.New()
	req := authedRequest(http.MethodPost, "/api/v1/transactions", `{"type":"adjustment","utorid":"johndoe1","amount":-20,"relatedId":"`+related.String()+`"}`)
	resp := httptest.NewRecorder()
	TransactionCreate(svc, nil)(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden code got %s", payload.Error.Code)
	}
}

func TestOwnTransactionListParsesFilters(t *testing.T) {
	var gotParams pagination.Params
	var gotFilters ledger.Filters
	svc := &stubTransactionService{
		listOwn: func(_ types.Actor, params pagination.Params, filters ledger.Filters) (*ledger.TransactionPage, error) {
			gotParams = params
			gotFilters = filters
			return &ledger.TransactionPage{NextCursor: "next"}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/users/me/transactions?limit=10&type=redemption", "")
	resp := httptest.NewRecorder()
	OwnTransactionList(svc, nil)(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if gotParams.Limit != 10 {
		t.Fatalf("expected limit 10 got %d", gotParams.Limit)
	}
	if gotFilters.Type == nil || *gotFilters.Type != enums.TransactionTypeRedemption {
		t.Fatalf("expected redemption filter got %v", gotFilters.Type)
	}
}

func TestParseUUIDParamRejectsGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/nope", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("transactionId", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	_, err := parseUUIDParam(req, "transactionId")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestPurchaseResponseWithholdsEarnedWhenSuspicious(t *testing.T) {
	svc := &stubTransactionService{
		purchase: func(_ types.Actor, input txsvc.CreatePurchaseDTO) (*models.Transaction, error) {
			return &models.Transaction{
				ID:         uuid.New(),
				Type:       enums.TransactionTypePurchase,
				UTORid:     input.UTORid,
				Amount:     80,
				Suspicious: true,
			}, nil
		},
	}

	req := authedRequest(http.MethodPost, "/api/v1/transactions", `{"type":"purchase","utorid":"johndoe1","spent":"19.99"}`)
	resp := httptest.NewRecorder()
	TransactionCreate(svc, nil)(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Data struct {
			Amount int  `json:"amount"`
			Earned *int `json:"earned"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	// The ledger keeps the real amount; the caller sees nothing earned
	// until the cashier is cleared.
	if payload.Data.Amount != 80 {
		t.Fatalf("expected stored amount 80 got %d", payload.Data.Amount)
	}
	if payload.Data.Earned == nil || *payload.Data.Earned != 0 {
		t.Fatalf("expected earned 0 got %v", payload.Data.Earned)
	}
}

func TestPurchaseResponseReportsEarned(t *testing.T) {
	svc := &stubTransactionService{
		purchase: func(_ types.Actor, input txsvc.CreatePurchaseDTO) (*models.Transaction, error) {
			return &models.Transaction{
				ID:     uuid.New(),
				Type:   enums.TransactionTypePurchase,
				UTORid: input.UTORid,
				Amount: 80,
			}, nil
		},
	}

	req := authedRequest(http.MethodPost, "/api/v1/transactions", `{"type":"purchase","utorid":"johndoe1","spent":"19.99"}`)
	resp := httptest.NewRecorder()
	TransactionCreate(svc, nil)(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	var payload struct {
		Data struct {
			Earned *int `json:"earned"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.Data.Earned == nil || *payload.Data.Earned != 80 {
		t.Fatalf("expected earned 80 got %v", payload.Data.Earned)
	}
}
