package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/user"
	"github.com/qmsuite/change-control/pkg/composables"
)

// UserService owns the user directory and role grants.
type UserService struct {
	users       user.Repository
	assignments rbac.Repository
}

type CreateUserParams struct {
	Email        string
	FullName     string
	DepartmentID *uuid.UUID
}

func NewUserService(users user.Repository, assignments rbac.Repository) *UserService {
	return &UserService{users: users, assignments: assignments}
}

func (s *UserService) Create(ctx context.Context, p CreateUserParams) (*user.User, error) {
	if strings.TrimSpace(p.Email) == "" {
		return nil, newValidationError("email is required")
	}
	if strings.TrimSpace(p.FullName) == "" {
		return nil, newValidationError("full name is required")
	}
	return composables.InTxResult(ctx, func(txCtx context.Context) (*user.User, error) {
		created, err := s.users.Create(txCtx, &user.User{
			Email:        strings.ToLower(strings.TrimSpace(p.Email)),
			FullName:     strings.TrimSpace(p.FullName),
			DepartmentID: p.DepartmentID,
		})
		return created, mapPgError(err)
	})
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, referential(err, "user not found")
	}
	return u, nil
}

func (s *UserService) GetAll(ctx context.Context) ([]*user.User, error) {
	out, err := s.users.GetAll(ctx)
	return out, mapPgError(err)
}

// Grant assigns a role to a user, optionally scoped to a department.
// Idempotent: granting an existing role is a no-op.
func (s *UserService) Grant(ctx context.Context, userID uuid.UUID, role rbac.Role, departmentID *uuid.UUID) (*rbac.Assignment, error) {
	if !role.Valid() {
		return nil, newValidationError("invalid role")
	}
	return composables.InTxResult(ctx, func(txCtx context.Context) (*rbac.Assignment, error) {
		if ok, err := s.users.Exists(txCtx, userID); err != nil {
			return nil, mapPgError(err)
		} else if !ok {
			return nil, newReferentialError("user not found")
		}
		granted, err := s.assignments.Grant(txCtx, &rbac.Assignment{
			UserID:       userID,
			Role:         role,
			DepartmentID: departmentID,
		})
		return granted, mapPgError(err)
	})
}

// Roles lists the user's role assignments.
func (s *UserService) Roles(ctx context.Context, userID uuid.UUID) ([]*rbac.Assignment, error) {
	out, err := s.assignments.ListByUser(ctx, userID)
	return out, mapPgError(err)
}
