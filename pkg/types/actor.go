package types

import (
	"github.com/google/uuid"

	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// Actor is the authenticated descriptor the ledger core receives from the
// auth layer. Suspicious mirrors the cashier-level flag at token time and is
// what withholds the balance credit on purchases.
type Actor struct {
	ID         uuid.UUID
	UTORid     string
	Role       enums.UserRole
	Verified   bool
	Suspicious bool
}

// HasClearance reports whether the actor's role meets the minimum.
func (a Actor) HasClearance(min enums.UserRole) bool {
	return a.Role.AtLeast(min)
}
