package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/pkg/composables"
)

const assignmentColumns = ` id, user_id, role, department_id, created_at`

type RBACRepository struct{}

func NewRBACRepository() rbac.Repository {
	return &RBACRepository{}
}

func scanAssignment(row pgx.Row) (*rbac.Assignment, error) {
	var a rbac.Assignment
	if err := row.Scan(&a.ID, &a.UserID, &a.Role, &a.DepartmentID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Grant is idempotent per (user, role, department). The unique index treats
// NULL department as a distinct unscoped grant.
func (p *RBACRepository) Grant(ctx context.Context, a *rbac.Assignment) (*rbac.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO cc_role_assignments (user_id, role, department_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role, COALESCE(department_id, '00000000-0000-0000-0000-000000000000'::uuid))
		DO NOTHING`,
		a.UserID, string(a.Role), a.DepartmentID)
	if err != nil {
		return nil, err
	}
	return scanAssignment(tx.QueryRow(ctx, `
		SELECT`+assignmentColumns+`
		FROM cc_role_assignments
		WHERE user_id = $1 AND role = $2
		  AND department_id IS NOT DISTINCT FROM $3`,
		a.UserID, string(a.Role), a.DepartmentID))
}

func (p *RBACRepository) Has(ctx context.Context, userID uuid.UUID, role rbac.Role, departmentID *uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	if departmentID == nil {
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM cc_role_assignments
				WHERE user_id = $1 AND role = $2
			)`, userID, string(role)).Scan(&exists)
	} else {
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM cc_role_assignments
				WHERE user_id = $1 AND role = $2
				  AND (department_id IS NULL OR department_id = $3)
			)`, userID, string(role), *departmentID).Scan(&exists)
	}
	return exists, err
}

func (p *RBACRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*rbac.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+assignmentColumns+`
		FROM cc_role_assignments
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
