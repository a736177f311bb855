package rbac

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role names a capability granted to a user, optionally scoped to one
// department. Department headship is not a role here; it lives on the
// department aggregate as a direct reference.
type Role string

const (
	// RoleQA grants QA registration, final evaluation, verification and
	// closure authority.
	RoleQA Role = "qa"
	// RoleQAHead grants QA head approval authority.
	RoleQAHead Role = "qa_head"
	// RoleMember marks plain membership in the scope department, used for
	// document revision completion.
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleQA, RoleQAHead, RoleMember:
		return true
	}
	return false
}

// Assignment is one (user, role, scope) grant.
type Assignment struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Role         Role       `json:"role"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Repository interface {
	// Grant is idempotent per (user, role, department).
	Grant(ctx context.Context, a *Assignment) (*Assignment, error)
	// Has reports whether the user holds the role. A nil departmentID
	// matches grants of any scope; otherwise the grant must be unscoped or
	// scoped to that department.
	Has(ctx context.Context, userID uuid.UUID, role Role, departmentID *uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Assignment, error)
}
