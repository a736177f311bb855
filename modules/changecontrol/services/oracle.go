package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/actionplan"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/department"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
)

// PermissionOracle answers role questions for the boundary layer. Every
// predicate is a pure boolean; the workflow service independently re-checks
// the guards intrinsic to each transition (department-head identity,
// evaluator assignment, assignee and responsible-person matches), so a
// boundary that forgets to consult the oracle cannot bypass them.
type PermissionOracle interface {
	IsDepartmentHead(ctx context.Context, userID, departmentID uuid.UUID) (bool, error)
	IsQAUser(ctx context.Context, userID uuid.UUID) (bool, error)
	IsQAHead(ctx context.Context, userID uuid.UUID) (bool, error)
	IsAssignedEvaluator(ctx context.Context, requestID, userID uuid.UUID) (bool, error)
	IsRiskAssessmentAssignee(ctx context.Context, requestID, userID uuid.UUID) (bool, error)
	IsResponsiblePerson(ctx context.Context, requestID, userID uuid.UUID) (bool, error)
	CanView(ctx context.Context, requestID, userID uuid.UUID) (bool, error)
}

// rbacOracle resolves roles from the explicit role-assignment table plus the
// department head reference and per-request sub-record assignments.
type rbacOracle struct {
	departments department.Repository
	requests    request.Repository
	assignments rbac.Repository
	cft         cft.Repository
	risks       riskassessment.Repository
	actions     actionplan.Repository
}

func NewPermissionOracle(
	departments department.Repository,
	requests request.Repository,
	assignments rbac.Repository,
	cftRepo cft.Repository,
	risks riskassessment.Repository,
	actions actionplan.Repository,
) PermissionOracle {
	return &rbacOracle{
		departments: departments,
		requests:    requests,
		assignments: assignments,
		cft:         cftRepo,
		risks:       risks,
		actions:     actions,
	}
}

func (o *rbacOracle) IsDepartmentHead(ctx context.Context, userID, departmentID uuid.UUID) (bool, error) {
	dept, err := o.departments.GetByID(ctx, departmentID)
	if err != nil {
		return false, mapPgError(err)
	}
	return dept.IsHead(userID), nil
}

func (o *rbacOracle) IsQAUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	return o.assignments.Has(ctx, userID, rbac.RoleQA, nil)
}

func (o *rbacOracle) IsQAHead(ctx context.Context, userID uuid.UUID) (bool, error) {
	return o.assignments.Has(ctx, userID, rbac.RoleQAHead, nil)
}

func (o *rbacOracle) IsAssignedEvaluator(ctx context.Context, requestID, userID uuid.UUID) (bool, error) {
	return o.cft.EvaluatorForRequest(ctx, requestID, userID)
}

func (o *rbacOracle) IsRiskAssessmentAssignee(ctx context.Context, requestID, userID uuid.UUID) (bool, error) {
	ra, err := o.risks.GetByRequestID(ctx, requestID)
	if err != nil {
		if svcErr, ok := mapPgError(err).(*ServiceError); ok && svcErr.Code == "CC_NOT_FOUND" {
			return false, nil
		}
		return false, err
	}
	return ra.AssignedToID == userID, nil
}

func (o *rbacOracle) IsResponsiblePerson(ctx context.Context, requestID, userID uuid.UUID) (bool, error) {
	return o.actions.ResponsibleFor(ctx, requestID, userID)
}

// CanView mirrors the visibility rule used by ListVisibleTo: initiator,
// department head of the request's department, QA, assigned evaluator, risk
// assessment assignee, or action plan responsible person.
func (o *rbacOracle) CanView(ctx context.Context, requestID, userID uuid.UUID) (bool, error) {
	req, err := o.requests.GetByID(ctx, requestID)
	if err != nil {
		return false, mapPgError(err)
	}
	if req.InitiatorID == userID {
		return true, nil
	}
	if ok, err := o.IsDepartmentHead(ctx, userID, req.DepartmentID); err != nil || ok {
		return ok, err
	}
	if ok, err := o.IsQAUser(ctx, userID); err != nil || ok {
		return ok, err
	}
	if ok, err := o.IsAssignedEvaluator(ctx, requestID, userID); err != nil || ok {
		return ok, err
	}
	if ok, err := o.IsRiskAssessmentAssignee(ctx, requestID, userID); err != nil || ok {
		return ok, err
	}
	return o.IsResponsiblePerson(ctx, requestID, userID)
}
