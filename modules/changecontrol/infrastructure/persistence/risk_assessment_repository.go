package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/pkg/composables"
)

const riskAssessmentColumns = `
	id, request_id, assigned_to, status, findings, recommendations,
	created_at, completion_date`

type RiskAssessmentRepository struct{}

func NewRiskAssessmentRepository() riskassessment.Repository {
	return &RiskAssessmentRepository{}
}

func scanRiskAssessment(row pgx.Row) (*riskassessment.RiskAssessment, error) {
	var ra riskassessment.RiskAssessment
	err := row.Scan(
		&ra.ID,
		&ra.RequestID,
		&ra.AssignedToID,
		&ra.Status,
		&ra.Findings,
		&ra.Recommendations,
		&ra.CreatedAt,
		&ra.CompletionDate,
	)
	if err != nil {
		return nil, err
	}
	return &ra, nil
}

func (p *RiskAssessmentRepository) Create(ctx context.Context, ra *riskassessment.RiskAssessment) (*riskassessment.RiskAssessment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanRiskAssessment(tx.QueryRow(ctx, `
		INSERT INTO cc_risk_assessments (request_id, assigned_to, status)
		VALUES ($1, $2, $3)
		RETURNING`+riskAssessmentColumns,
		ra.RequestID, ra.AssignedToID, string(ra.Status)))
}

func (p *RiskAssessmentRepository) GetByRequestID(ctx context.Context, requestID uuid.UUID) (*riskassessment.RiskAssessment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanRiskAssessment(tx.QueryRow(ctx, `
		SELECT`+riskAssessmentColumns+`
		FROM cc_risk_assessments
		WHERE request_id = $1`, requestID))
}

func (p *RiskAssessmentRepository) Update(ctx context.Context, ra *riskassessment.RiskAssessment) (*riskassessment.RiskAssessment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	return scanRiskAssessment(tx.QueryRow(ctx, `
		UPDATE cc_risk_assessments SET
			status = $2,
			findings = $3,
			recommendations = $4,
			completion_date = $5
		WHERE id = $1
		RETURNING`+riskAssessmentColumns,
		ra.ID,
		string(ra.Status),
		ra.Findings,
		ra.Recommendations,
		ra.CompletionDate,
	))
}
