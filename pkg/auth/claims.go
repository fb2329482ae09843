package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	UTORid     string
	Role       enums.UserRole
	Verified   bool
	Suspicious bool
	JTI        string
}

// AccessTokenClaims is the typed JWT issued to clients. It carries the full
// actor descriptor the ledger core consumes: identity, role, verification
// state and the cashier suspicious flag.
type AccessTokenClaims struct {
	UserID     uuid.UUID      `json:"user_id"`
	UTORid     string         `json:"utorid"`
	Role       enums.UserRole `json:"role"`
	Verified   bool           `json:"verified"`
	Suspicious bool           `json:"suspicious"`
	jwt.RegisteredClaims
}
