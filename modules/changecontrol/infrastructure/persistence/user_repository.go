package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/user"
	"github.com/qmsuite/change-control/pkg/composables"
)

const userColumns = ` id, email, full_name, department_id, created_at`

type UserRepository struct{}

func NewUserRepository() user.Repository {
	return &UserRepository{}
}

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.DepartmentID, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *UserRepository) Create(ctx context.Context, u *user.User) (*user.User, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (email, full_name, department_id)
		VALUES ($1, $2, $3)
		RETURNING`+userColumns,
		u.Email, u.FullName, u.DepartmentID))
}

func (p *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanUser(tx.QueryRow(ctx, `
		SELECT`+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *UserRepository) GetAll(ctx context.Context) ([]*user.User, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+userColumns+` FROM users ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *UserRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
