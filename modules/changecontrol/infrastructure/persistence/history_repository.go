package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/history"
	"github.com/qmsuite/change-control/pkg/composables"
)

const historyColumns = `
	id, request_id, step, step_name, actor_id, action, comments,
	previous_status, new_status, timestamp`

// HistoryRepository is append-only: there is no update or delete path, in
// code or in SQL.
type HistoryRepository struct{}

func NewHistoryRepository() history.Repository {
	return &HistoryRepository{}
}

func scanHistoryEntry(row pgx.Row) (*history.Entry, error) {
	var e history.Entry
	err := row.Scan(
		&e.ID,
		&e.RequestID,
		&e.Step,
		&e.StepName,
		&e.ActorID,
		&e.Action,
		&e.Comments,
		&e.PreviousStatus,
		&e.NewStatus,
		&e.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *HistoryRepository) Append(ctx context.Context, e *history.Entry) (*history.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanHistoryEntry(tx.QueryRow(ctx, `
		INSERT INTO cc_workflow_history (
			request_id, step, step_name, actor_id, action, comments,
			previous_status, new_status, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING`+historyColumns,
		e.RequestID,
		e.Step,
		e.StepName,
		e.ActorID,
		e.Action,
		e.Comments,
		e.PreviousStatus,
		e.NewStatus,
		e.Timestamp,
	))
}

func (p *HistoryRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*history.Entry, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+historyColumns+`
		FROM cc_workflow_history
		WHERE request_id = $1
		ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*history.Entry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
