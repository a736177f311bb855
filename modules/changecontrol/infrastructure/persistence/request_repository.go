package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/pkg/composables"
)

const requestColumns = `
	id, temporary_cc_number, final_cc_number, initiator_id, department_id,
	title, description, impact_level, target_completion_date,
	qa_registered_by, qa_registration_date, status,
	rejection_reason, rejected_by, rejected_at,
	created_at, updated_at, closed_at`

type RequestRepository struct{}

func NewRequestRepository() request.Repository {
	return &RequestRepository{}
}

func scanRequest(row pgx.Row) (*request.Request, error) {
	var r request.Request
	var impact *string
	err := row.Scan(
		&r.ID,
		&r.TemporaryNumber,
		&r.FinalNumber,
		&r.InitiatorID,
		&r.DepartmentID,
		&r.Title,
		&r.Description,
		&impact,
		&r.TargetCompletionDate,
		&r.QARegisteredByID,
		&r.QARegistrationDate,
		&r.Status,
		&r.RejectionReason,
		&r.RejectedByID,
		&r.RejectedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	if impact != nil {
		level := request.ImpactLevel(*impact)
		r.ImpactLevel = &level
	}
	return &r, nil
}

func (p *RequestRepository) Create(ctx context.Context, r *request.Request) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanRequest(tx.QueryRow(ctx, `
		INSERT INTO cc_requests (
			temporary_cc_number, initiator_id, department_id, title, description, status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING`+requestColumns,
		r.TemporaryNumber,
		r.InitiatorID,
		r.DepartmentID,
		r.Title,
		r.Description,
		string(r.Status),
	))
}

func (p *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanRequest(tx.QueryRow(ctx, `
		SELECT`+requestColumns+`
		FROM cc_requests
		WHERE id = $1`, id))
}

func (p *RequestRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanRequest(tx.QueryRow(ctx, `
		SELECT`+requestColumns+`
		FROM cc_requests
		WHERE id = $1
		FOR UPDATE`, id))
}

func (p *RequestRepository) Update(ctx context.Context, r *request.Request) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var impact *string
	if r.ImpactLevel != nil {
		s := string(*r.ImpactLevel)
		impact = &s
	}
	return scanRequest(tx.QueryRow(ctx, `
		UPDATE cc_requests SET
			final_cc_number = $2,
			title = $3,
			description = $4,
			impact_level = $5,
			target_completion_date = $6,
			qa_registered_by = $7,
			qa_registration_date = $8,
			status = $9,
			rejection_reason = $10,
			rejected_by = $11,
			rejected_at = $12,
			closed_at = $13,
			updated_at = now()
		WHERE id = $1
		RETURNING`+requestColumns,
		r.ID,
		r.FinalNumber,
		r.Title,
		r.Description,
		impact,
		r.TargetCompletionDate,
		r.QARegisteredByID,
		r.QARegistrationDate,
		string(r.Status),
		r.RejectionReason,
		r.RejectedByID,
		r.RejectedAt,
		r.ClosedAt,
	))
}

// ListVisibleTo filters server-side with EXISTS subqueries so listings never
// load invisible rows into memory.
func (p *RequestRepository) ListVisibleTo(ctx context.Context, userID uuid.UUID) ([]*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+requestColumns+`
		FROM cc_requests r
		WHERE r.initiator_id = $1
		   OR EXISTS (
			SELECT 1 FROM departments d
			WHERE d.id = r.department_id AND d.head_id = $1)
		   OR EXISTS (
			SELECT 1 FROM cc_role_assignments ra
			WHERE ra.user_id = $1 AND ra.role IN ('qa', 'qa_head'))
		   OR EXISTS (
			SELECT 1 FROM cc_cft_evaluators e
			WHERE e.request_id = r.id AND e.evaluator_id = $1)
		   OR EXISTS (
			SELECT 1 FROM cc_risk_assessments ra
			WHERE ra.request_id = r.id AND ra.assigned_to = $1)
		   OR EXISTS (
			SELECT 1 FROM cc_action_plan_items ap
			WHERE ap.request_id = r.id AND ap.responsible_person_id = $1)
		ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*request.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *RequestRepository) FinalNumberExists(ctx context.Context, number string, excludeID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cc_requests
			WHERE final_cc_number = $1 AND id <> $2
		)`, number, excludeID).Scan(&exists)
	return exists, err
}

// LockNumberPrefix takes a transaction-scoped advisory lock keyed by the
// prefix, serializing number generation for one department and year without
// blocking unrelated prefixes.
func (p *RequestRepository) LockNumberPrefix(ctx context.Context, prefix string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix)
	return err
}

func (p *RequestRepository) ListNumbersByPrefix(ctx context.Context, kind request.NumberKind, prefix string) ([]string, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	column := "temporary_cc_number"
	if kind == request.NumberFinal {
		column = "final_cc_number"
	}
	rows, err := tx.Query(ctx, `
		SELECT `+column+`
		FROM cc_requests
		WHERE `+column+` LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
