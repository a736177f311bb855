package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/pkg/composables"
)

const (
	evaluatorColumns  = ` id, request_id, department_id, evaluator_id, assigned_at`
	evaluationColumns = `
	id, request_id, department_id, evaluator_id, impact_type, decision,
	risk_level, evaluation_notes, evaluation_date, completed_at`
)

type CFTRepository struct{}

func NewCFTRepository() cft.Repository {
	return &CFTRepository{}
}

func scanEvaluator(row pgx.Row) (*cft.Evaluator, error) {
	var e cft.Evaluator
	if err := row.Scan(&e.ID, &e.RequestID, &e.DepartmentID, &e.EvaluatorID, &e.AssignedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEvaluation(row pgx.Row) (*cft.Evaluation, error) {
	var e cft.Evaluation
	err := row.Scan(
		&e.ID,
		&e.RequestID,
		&e.DepartmentID,
		&e.EvaluatorID,
		&e.ImpactType,
		&e.Decision,
		&e.RiskLevel,
		&e.Notes,
		&e.EvaluationDate,
		&e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetOrCreateEvaluator relies on the (request_id, department_id) unique
// constraint: a conflicting insert leaves the existing assignment untouched.
func (p *CFTRepository) GetOrCreateEvaluator(ctx context.Context, e *cft.Evaluator) (*cft.Evaluator, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO cc_cft_evaluators (request_id, department_id, evaluator_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_id, department_id) DO NOTHING`,
		e.RequestID, e.DepartmentID, e.EvaluatorID)
	if err != nil {
		return nil, err
	}
	return scanEvaluator(tx.QueryRow(ctx, `
		SELECT`+evaluatorColumns+`
		FROM cc_cft_evaluators
		WHERE request_id = $1 AND department_id = $2`,
		e.RequestID, e.DepartmentID))
}

func (p *CFTRepository) ListEvaluators(ctx context.Context, requestID uuid.UUID) ([]*cft.Evaluator, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+evaluatorColumns+`
		FROM cc_cft_evaluators
		WHERE request_id = $1
		ORDER BY assigned_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cft.Evaluator
	for rows.Next() {
		e, err := scanEvaluator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *CFTRepository) EvaluatorAssigned(ctx context.Context, requestID, departmentID, userID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cc_cft_evaluators
			WHERE request_id = $1 AND department_id = $2 AND evaluator_id = $3
		)`, requestID, departmentID, userID).Scan(&exists)
	return exists, err
}

func (p *CFTRepository) EvaluatorForRequest(ctx context.Context, requestID, userID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cc_cft_evaluators
			WHERE request_id = $1 AND evaluator_id = $2
		)`, requestID, userID).Scan(&exists)
	return exists, err
}

// UpsertEvaluation overwrites the evaluation per (request, department) so an
// evaluator can revise a Pending decision until the phase completes.
func (p *CFTRepository) UpsertEvaluation(ctx context.Context, e *cft.Evaluation) (*cft.Evaluation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanEvaluation(tx.QueryRow(ctx, `
		INSERT INTO cc_cft_evaluations (
			request_id, department_id, evaluator_id, impact_type, decision,
			risk_level, evaluation_notes, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, department_id) DO UPDATE SET
			evaluator_id = EXCLUDED.evaluator_id,
			impact_type = EXCLUDED.impact_type,
			decision = EXCLUDED.decision,
			risk_level = EXCLUDED.risk_level,
			evaluation_notes = EXCLUDED.evaluation_notes,
			evaluation_date = now(),
			completed_at = EXCLUDED.completed_at
		RETURNING`+evaluationColumns,
		e.RequestID,
		e.DepartmentID,
		e.EvaluatorID,
		string(e.ImpactType),
		string(e.Decision),
		string(e.RiskLevel),
		e.Notes,
		e.CompletedAt,
	))
}

func (p *CFTRepository) ListEvaluations(ctx context.Context, requestID uuid.UUID) ([]*cft.Evaluation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT`+evaluationColumns+`
		FROM cc_cft_evaluations
		WHERE request_id = $1
		ORDER BY evaluation_date`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cft.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
