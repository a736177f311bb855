package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/department"
	"github.com/qmsuite/change-control/pkg/composables"
)

const departmentColumns = ` id, code, name, head_id, created_at, updated_at`

type DepartmentRepository struct{}

func NewDepartmentRepository() department.Repository {
	return &DepartmentRepository{}
}

func scanDepartment(row pgx.Row) (*department.Department, error) {
	var d department.Department
	if err := row.Scan(&d.ID, &d.Code, &d.Name, &d.HeadID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *DepartmentRepository) Create(ctx context.Context, d *department.Department) (*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDepartment(tx.QueryRow(ctx, `
		INSERT INTO departments (code, name, head_id)
		VALUES ($1, $2, $3)
		RETURNING`+departmentColumns,
		d.Code, d.Name, d.HeadID))
}

func (p *DepartmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDepartment(tx.QueryRow(ctx, `
		SELECT`+departmentColumns+` FROM departments WHERE id = $1`, id))
}

func (p *DepartmentRepository) GetByCode(ctx context.Context, code string) (*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDepartment(tx.QueryRow(ctx, `
		SELECT`+departmentColumns+` FROM departments WHERE code = $1`, code))
}

func (p *DepartmentRepository) GetAll(ctx context.Context) ([]*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+departmentColumns+` FROM departments ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*department.Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *DepartmentRepository) Update(ctx context.Context, d *department.Department) (*department.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanDepartment(tx.QueryRow(ctx, `
		UPDATE departments
		SET code = $2, name = $3, head_id = $4, updated_at = now()
		WHERE id = $1
		RETURNING`+departmentColumns,
		d.ID, d.Code, d.Name, d.HeadID))
}

func (p *DepartmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM departments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
