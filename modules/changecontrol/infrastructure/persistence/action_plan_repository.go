package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/actionplan"
	"github.com/qmsuite/change-control/pkg/composables"
)

const actionPlanColumns = `
	id, request_id, description, responsible_person_id, expected_timeline,
	status, completion_date, notes, created_at, updated_at`

type ActionPlanRepository struct{}

func NewActionPlanRepository() actionplan.Repository {
	return &ActionPlanRepository{}
}

func scanActionPlanItem(row pgx.Row) (*actionplan.Item, error) {
	var i actionplan.Item
	err := row.Scan(
		&i.ID,
		&i.RequestID,
		&i.Description,
		&i.ResponsiblePersonID,
		&i.ExpectedTimeline,
		&i.Status,
		&i.CompletionDate,
		&i.Notes,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (p *ActionPlanRepository) Create(ctx context.Context, i *actionplan.Item) (*actionplan.Item, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanActionPlanItem(tx.QueryRow(ctx, `
		INSERT INTO cc_action_plan_items (
			request_id, description, responsible_person_id, expected_timeline, status
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING`+actionPlanColumns,
		i.RequestID,
		i.Description,
		i.ResponsiblePersonID,
		i.ExpectedTimeline,
		string(i.Status),
	))
}

func (p *ActionPlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*actionplan.Item, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanActionPlanItem(tx.QueryRow(ctx, `
		SELECT`+actionPlanColumns+`
		FROM cc_action_plan_items
		WHERE id = $1`, id))
}

func (p *ActionPlanRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*actionplan.Item, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+actionPlanColumns+`
		FROM cc_action_plan_items
		WHERE request_id = $1
		ORDER BY created_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*actionplan.Item
	for rows.Next() {
		i, err := scanActionPlanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (p *ActionPlanRepository) Update(ctx context.Context, i *actionplan.Item) (*actionplan.Item, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanActionPlanItem(tx.QueryRow(ctx, `
		UPDATE cc_action_plan_items SET
			description = $2,
			responsible_person_id = $3,
			expected_timeline = $4,
			status = $5,
			completion_date = $6,
			notes = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING`+actionPlanColumns,
		i.ID,
		i.Description,
		i.ResponsiblePersonID,
		i.ExpectedTimeline,
		string(i.Status),
		i.CompletionDate,
		i.Notes,
	))
}

func (p *ActionPlanRepository) CountOpen(ctx context.Context, requestID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var count int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM cc_action_plan_items
		WHERE request_id = $1 AND status IN ('Pending', 'In_Progress')`,
		requestID).Scan(&count)
	return count, err
}

func (p *ActionPlanRepository) ResponsibleFor(ctx context.Context, requestID, userID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cc_action_plan_items
			WHERE request_id = $1 AND responsible_person_id = $2
		)`, requestID, userID).Scan(&exists)
	return exists, err
}
