package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/actionplan"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/docrevision"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/history"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/pkg/composables"
)

// RequestDetail is the full read model of one request: the aggregate plus
// every sub-record, as served by the detail endpoint.
type RequestDetail struct {
	Request        *request.Request               `json:"request"`
	Step           int                            `json:"step"`
	StepName       string                         `json:"step_name"`
	Evaluators     []*cft.Evaluator               `json:"cft_evaluators"`
	Evaluations    []*cft.Evaluation              `json:"cft_evaluations"`
	RiskAssessment *riskassessment.RiskAssessment `json:"risk_assessment,omitempty"`
	Revisions      []*docrevision.DocumentRevision `json:"document_revisions"`
	ActionPlans    []*actionplan.Item             `json:"action_plans"`
}

// QueryService serves the read side: request details, visible listings and
// workflow history. It enforces the same visibility rule as the listing.
type QueryService struct {
	requests  request.Repository
	cft       cft.Repository
	risks     riskassessment.Repository
	revisions docrevision.Repository
	actions   actionplan.Repository
	history   history.Repository
	oracle    PermissionOracle
}

func NewQueryService(
	requests request.Repository,
	cftRepo cft.Repository,
	risks riskassessment.Repository,
	revisions docrevision.Repository,
	actions actionplan.Repository,
	historyRepo history.Repository,
	oracle PermissionOracle,
) *QueryService {
	return &QueryService{
		requests:  requests,
		cft:       cftRepo,
		risks:     risks,
		revisions: revisions,
		actions:   actions,
		history:   historyRepo,
		oracle:    oracle,
	}
}

func (s *QueryService) checkVisibility(ctx context.Context, requestID uuid.UUID) error {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return err
	}
	ok, err := s.oracle.CanView(ctx, requestID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return newPermissionError("user cannot view this request")
	}
	return nil
}

// GetRequest returns the request with all its sub-records.
func (s *QueryService) GetRequest(ctx context.Context, id uuid.UUID) (*RequestDetail, error) {
	if err := s.checkVisibility(ctx, id); err != nil {
		return nil, err
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, referential(err, "change control request not found")
	}

	evaluators, err := s.cft.ListEvaluators(ctx, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	evaluations, err := s.cft.ListEvaluations(ctx, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	revisions, err := s.revisions.ListByRequest(ctx, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	plans, err := s.actions.ListByRequest(ctx, id)
	if err != nil {
		return nil, mapPgError(err)
	}

	detail := &RequestDetail{
		Request:     req,
		Step:        req.Step(),
		StepName:    request.StepName(req.Step()),
		Evaluators:  evaluators,
		Evaluations: evaluations,
		Revisions:   revisions,
		ActionPlans: plans,
	}

	ra, err := s.risks.GetByRequestID(ctx, id)
	switch {
	case err == nil:
		detail.RiskAssessment = ra
	case errors.Is(err, pgx.ErrNoRows):
		// no risk assessment for Minor changes
	default:
		return nil, mapPgError(err)
	}
	return detail, nil
}

// ListVisible returns the requests the acting user may see, newest first.
func (s *QueryService) ListVisible(ctx context.Context) ([]*request.Request, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.requests.ListVisibleTo(ctx, actorID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

// ListHistory returns the append-only workflow history of a request in
// chronological order.
func (s *QueryService) ListHistory(ctx context.Context, requestID uuid.UUID) ([]*history.Entry, error) {
	if err := s.checkVisibility(ctx, requestID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return entries, nil
}
