package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/pointsledger/loyalty-backend/pkg/enums"
	"github.com/pointsledger/loyalty-backend/pkg/types"
)

func actorRequest(role enums.UserRole) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	actor := types.Actor{ID: uuid.New(), UTORid: "johndoe1", Role: role, Verified: true}
	return req.WithContext(WithActor(req.Context(), actor))
}

func TestRequireRoleRejectsMissingActor(t *testing.T) {
	handler := RequireRole(enums.UserRoleCashier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireRoleRejectsLowerClearance(t *testing.T) {
	handler := RequireRole(enums.UserRoleManager, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, actorRequest(enums.UserRoleCashier))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestRequireRoleAllowsHigherClearance(t *testing.T) {
	handler := RequireRole(enums.UserRoleCashier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, actorRequest(enums.UserRoleSuperuser))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
