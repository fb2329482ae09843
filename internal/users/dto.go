package users

import (
	"github.com/pointsledger/loyalty-backend/pkg/db/models"
	"github.com/pointsledger/loyalty-backend/pkg/enums"
)

// CreateUserDTO carries the fields needed to provision a user.
type CreateUserDTO struct {
	UTORid string
	Name   string
	Email  string
	Role   enums.UserRole
}

// ToModel converts the DTO into a persistable user model.
func (d CreateUserDTO) ToModel() *models.User {
	role := d.Role
	if role == "" {
		role = enums.UserRoleRegular
	}
	return &models.User{
		UTORid: d.UTORid,
		Name:   d.Name,
		Email:  d.Email,
		Role:   role,
	}
}
