package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/actionplan"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/department"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/docrevision"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/history"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/user"
	"github.com/qmsuite/change-control/pkg/composables"
	"github.com/qmsuite/change-control/pkg/eventbus"
)

// WorkflowServiceDeps bundles the repositories the workflow state machine
// operates on.
type WorkflowServiceDeps struct {
	Requests    request.Repository
	Departments department.Repository
	Users       user.Repository
	CFT         cft.Repository
	Risks       riskassessment.Repository
	Revisions   docrevision.Repository
	Actions     actionplan.Repository
	History     history.Repository
	Assignments rbac.Repository
	Publisher   eventbus.EventBus
}

// WorkflowService owns the change control state machine. Every operation
// runs as one atomic unit: lock the request row, validate guards, mutate the
// aggregate and its sub-records, append history. Events are published only
// after the transaction commits.
type WorkflowService struct {
	requests    request.Repository
	departments department.Repository
	users       user.Repository
	cft         cft.Repository
	risks       riskassessment.Repository
	revisions   docrevision.Repository
	actions     actionplan.Repository
	history     history.Repository
	assignments rbac.Repository
	publisher   eventbus.EventBus
	numbers     *NumberGenerator
	now         func() time.Time
}

func NewWorkflowService(deps WorkflowServiceDeps) *WorkflowService {
	return &WorkflowService{
		requests:    deps.Requests,
		departments: deps.Departments,
		users:       deps.Users,
		cft:         deps.CFT,
		risks:       deps.Risks,
		revisions:   deps.Revisions,
		actions:     deps.Actions,
		history:     deps.History,
		assignments: deps.Assignments,
		publisher:   deps.Publisher,
		numbers:     NewNumberGenerator(deps.Requests),
		now:         time.Now,
	}
}

// referential maps a lookup miss to a referential error with a concrete
// message; other storage errors pass through mapPgError.
func referential(err error, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return newReferentialError(message)
	}
	return mapPgError(err)
}

func (s *WorkflowService) logStep(ctx context.Context, requestID uuid.UUID, step int, actorID uuid.UUID, action, comments string, previous, next request.Status) error {
	_, err := s.history.Append(ctx, &history.Entry{
		RequestID:      requestID,
		Step:           step,
		StepName:       request.StepName(step),
		ActorID:        &actorID,
		Action:         action,
		Comments:       comments,
		PreviousStatus: string(previous),
		NewStatus:      string(next),
		Timestamp:      s.now(),
	})
	return mapPgError(err)
}

func (s *WorkflowService) lockRequest(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	req, err := s.requests.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, referential(err, "change control request not found")
	}
	return req, nil
}

func (s *WorkflowService) publish(events []TransitionedEvent) {
	if s.publisher == nil {
		return
	}
	for i := range events {
		s.publisher.Publish(&events[i])
	}
}

type InitiateParams struct {
	DepartmentID uuid.UUID
	Title        string
	Description  string
}

// Initiate creates a new request and immediately routes it to the
// department head: two logical steps, two history entries, one transaction.
func (s *WorkflowService) Initiate(ctx context.Context, p InitiateParams) (*request.Request, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	if p.Title == "" {
		return nil, newValidationError("title is required")
	}
	if p.Description == "" {
		return nil, newValidationError("description is required")
	}
	if p.DepartmentID == uuid.Nil {
		return nil, newValidationError("department is required to initiate a request")
	}

	var events []TransitionedEvent
	created, err := composables.InTxResult(ctx, func(txCtx context.Context) (*request.Request, error) {
		dept, err := s.departments.GetByID(txCtx, p.DepartmentID)
		if err != nil {
			return nil, referential(err, "department not found")
		}
		if ok, err := s.users.Exists(txCtx, actorID); err != nil {
			return nil, mapPgError(err)
		} else if !ok {
			return nil, newReferentialError("initiating user not found")
		}
		if !dept.HasHead() {
			return nil, newValidationError(
				fmt.Sprintf("department %s does not have a department head assigned", dept.Code))
		}

		tempNumber, err := s.numbers.Temporary(txCtx, dept.Code)
		if err != nil {
			return nil, err
		}

		req, err := s.requests.Create(txCtx, &request.Request{
			TemporaryNumber: tempNumber,
			InitiatorID:     actorID,
			DepartmentID:    dept.ID,
			Title:           p.Title,
			Description:     p.Description,
			Status:          request.StatusDraft,
		})
		if err != nil {
			return nil, mapPgError(err)
		}

		if err := s.logStep(txCtx, req.ID, 1, actorID, "Request initiated",
			fmt.Sprintf("Temporary CC number: %s", tempNumber),
			request.StatusDraft, request.StatusDraft); err != nil {
			return nil, err
		}

		// Auto-route to the department head.
		head, err := s.users.GetByID(txCtx, *dept.HeadID)
		if err != nil {
			return nil, referential(err, "department head not found")
		}
		req.Status = request.StatusPendingDeptHead
		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 2, actorID, "Routed to department head",
			fmt.Sprintf("Routed to %s", head.FullName),
			request.StatusDraft, request.StatusPendingDeptHead); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "initiate",
			PreviousStatus: request.StatusDraft,
			NewStatus:      request.StatusPendingDeptHead,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("initiate", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return created, nil
}

type DeptHeadDecisionParams struct {
	Approved        bool
	RejectionReason string
}

// DeptHeadDecision is the step-2 feasibility gate. Approval routes the
// request to QA registration; rejection is terminal.
func (s *WorkflowService) DeptHeadDecision(ctx context.Context, requestID uuid.UUID, p DeptHeadDecisionParams) (*request.Request, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}

	var events []TransitionedEvent
	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*request.Request, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingDeptHead {
			return nil, newInvalidStateError("request must be pending department head approval")
		}
		dept, err := s.departments.GetByID(txCtx, req.DepartmentID)
		if err != nil {
			return nil, referential(err, "department not found")
		}
		if !dept.IsHead(actorID) {
			return nil, newPermissionError("only the department head can make this decision")
		}

		previous := req.Status
		var action, comments string
		if p.Approved {
			req.Status = request.StatusPendingQARegistration
			action = "Approved by department head"
		} else {
			reason := p.RejectionReason
			if reason == "" {
				reason = "Rejected by department head"
			}
			req.Reject(reason, actorID, s.now())
			action = "Rejected by department head"
			comments = reason
		}

		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 2, actorID, action, comments, previous, req.Status); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "dept_head_decision",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("dept_head_decision", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

type EvaluatorAssignment struct {
	DepartmentID uuid.UUID
	EvaluatorID  uuid.UUID
}

type QARegisterParams struct {
	FinalNumber          string
	ImpactLevel          request.ImpactLevel
	TargetCompletionDate time.Time
	Evaluators           []EvaluatorAssignment
	RiskAssigneeID       *uuid.UUID
}

// QARegister performs QA-QMS registration: final number, impact level,
// target date, evaluator assignments, and auto-creation of the risk
// assessment task for Major/Critical changes.
func (s *WorkflowService) QARegister(ctx context.Context, requestID uuid.UUID, p QARegisterParams) (*request.Request, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	if !p.ImpactLevel.Valid() {
		return nil, newValidationError(fmt.Sprintf("invalid impact level: %s", p.ImpactLevel))
	}
	if p.TargetCompletionDate.IsZero() {
		return nil, newValidationError("target completion date is required")
	}
	assignments := make([]EvaluatorAssignment, 0, len(p.Evaluators))
	for _, a := range p.Evaluators {
		if a.DepartmentID == uuid.Nil || a.EvaluatorID == uuid.Nil {
			continue
		}
		assignments = append(assignments, a)
	}
	// Without at least one evaluator the CFT phase would have no exit.
	if len(assignments) == 0 {
		return nil, newValidationError("at least one CFT evaluator assignment is required")
	}

	var events []TransitionedEvent
	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*request.Request, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingQARegistration {
			return nil, newInvalidStateError("request must be pending QA registration")
		}
		dept, err := s.departments.GetByID(txCtx, req.DepartmentID)
		if err != nil {
			return nil, referential(err, "department not found")
		}

		finalNumber := p.FinalNumber
		if finalNumber == "" {
			finalNumber, err = s.numbers.Final(txCtx, dept.Code)
			if err != nil {
				return nil, err
			}
		}
		if exists, err := s.requests.FinalNumberExists(txCtx, finalNumber, req.ID); err != nil {
			return nil, mapPgError(err)
		} else if exists {
			return nil, newNumberConflictError(finalNumber)
		}

		previous := req.Status
		now := s.now()
		impact := p.ImpactLevel
		target := p.TargetCompletionDate
		req.FinalNumber = &finalNumber
		req.ImpactLevel = &impact
		req.TargetCompletionDate = &target
		req.QARegisteredByID = &actorID
		req.QARegistrationDate = &now
		req.Status = request.StatusPendingCFTEvaluation
		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}

		for _, assignment := range assignments {
			if _, err := s.departments.GetByID(txCtx, assignment.DepartmentID); err != nil {
				return nil, referential(err, "evaluator department not found")
			}
			if ok, err := s.users.Exists(txCtx, assignment.EvaluatorID); err != nil {
				return nil, mapPgError(err)
			} else if !ok {
				return nil, newReferentialError("evaluator user not found")
			}
			if _, err := s.cft.GetOrCreateEvaluator(txCtx, &cft.Evaluator{
				RequestID:    req.ID,
				DepartmentID: assignment.DepartmentID,
				EvaluatorID:  assignment.EvaluatorID,
			}); err != nil {
				return nil, mapPgError(err)
			}
		}

		if err := s.logStep(txCtx, req.ID, 3, actorID, "QA registration completed",
			fmt.Sprintf("Final CC: %s, Impact: %s", finalNumber, impact),
			previous, req.Status); err != nil {
			return nil, err
		}

		if impact.RequiresRiskAssessment() {
			assigneeID := actorID
			if p.RiskAssigneeID != nil && *p.RiskAssigneeID != uuid.Nil {
				assigneeID = *p.RiskAssigneeID
			}
			if ok, err := s.users.Exists(txCtx, assigneeID); err != nil {
				return nil, mapPgError(err)
			} else if !ok {
				return nil, newReferentialError("risk assessment assignee not found")
			}
			if _, err := s.risks.Create(txCtx, &riskassessment.RiskAssessment{
				RequestID:    req.ID,
				AssignedToID: assigneeID,
				Status:       riskassessment.StatusPending,
			}); err != nil {
				return nil, mapPgError(err)
			}
			if err := s.logStep(txCtx, req.ID, 5, actorID, "Risk assessment task created",
				fmt.Sprintf("Assigned to %s", assigneeID),
				req.Status, req.Status); err != nil {
				return nil, err
			}
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "qa_register",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     now,
		})
		return req, nil
	})
	recordTransition("qa_register", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

type SubmitEvaluationParams struct {
	DepartmentID uuid.UUID
	ImpactType   cft.ImpactType
	Decision     cft.Decision
	RiskLevel    cft.RiskLevel
	Notes        string
}

// SubmitCFTEvaluation upserts the evaluator's evaluation for one department
// and, once every assigned department has submitted, advances the request:
// any rejecting decision is terminal; Minor impact skips risk assessment;
// a risk assessment already completed skips the risk assessment phase.
func (s *WorkflowService) SubmitCFTEvaluation(ctx context.Context, requestID uuid.UUID, p SubmitEvaluationParams) (*request.Request, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	if !p.ImpactType.Valid() {
		return nil, newValidationError(fmt.Sprintf("invalid impact type: %s", p.ImpactType))
	}
	if !p.Decision.Valid() {
		return nil, newValidationError(fmt.Sprintf("invalid decision: %s", p.Decision))
	}
	if !p.RiskLevel.Valid() {
		return nil, newValidationError(fmt.Sprintf("invalid risk level: %s", p.RiskLevel))
	}

	var events []TransitionedEvent
	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*request.Request, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingCFTEvaluation {
			return nil, newInvalidStateError("request must be pending CFT evaluation")
		}

		assigned, err := s.cft.EvaluatorAssigned(txCtx, req.ID, p.DepartmentID, actorID)
		if err != nil {
			return nil, mapPgError(err)
		}
		if !assigned {
			return nil, newPermissionError("user is not assigned as evaluator for this department")
		}

		evaluation := &cft.Evaluation{
			RequestID:    req.ID,
			DepartmentID: p.DepartmentID,
			EvaluatorID:  actorID,
			ImpactType:   p.ImpactType,
			Decision:     p.Decision,
			RiskLevel:    p.RiskLevel,
			Notes:        p.Notes,
		}
		if p.Decision != cft.DecisionPending {
			now := s.now()
			evaluation.CompletedAt = &now
		}
		if _, err := s.cft.UpsertEvaluation(txCtx, evaluation); err != nil {
			return nil, mapPgError(err)
		}

		if err := s.logStep(txCtx, req.ID, 4, actorID, "CFT evaluation submitted",
			fmt.Sprintf("Decision: %s, Risk: %s", p.Decision, p.RiskLevel),
			req.Status, req.Status); err != nil {
			return nil, err
		}

		evaluators, err := s.cft.ListEvaluators(txCtx, req.ID)
		if err != nil {
			return nil, mapPgError(err)
		}
		evaluations, err := s.cft.ListEvaluations(txCtx, req.ID)
		if err != nil {
			return nil, mapPgError(err)
		}
		if len(evaluations) < len(evaluators) {
			return req, nil
		}

		previous := req.Status
		rejected := false
		for _, e := range evaluations {
			if e.Decision == cft.DecisionRejected {
				rejected = true
				break
			}
		}

		var action string
		if rejected {
			req.Reject("Rejected during CFT evaluation", actorID, s.now())
			action = "Rejected during CFT evaluation"
		} else {
			next, err := s.postEvaluationStatus(txCtx, req)
			if err != nil {
				return nil, err
			}
			req.Status = next
			action = "All CFT evaluations completed"
		}

		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 4, actorID, action, "", previous, req.Status); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "submit_cft_evaluation",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("submit_cft_evaluation", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

// postEvaluationStatus decides where a fully evaluated, non-rejected request
// goes next: Minor impact skips risk assessment entirely; Major/Critical
// waits on the risk assessment unless it is already completed.
func (s *WorkflowService) postEvaluationStatus(ctx context.Context, req *request.Request) (request.Status, error) {
	if req.ImpactLevel != nil && *req.ImpactLevel == request.ImpactMinor {
		return request.StatusPendingDocumentUpdate, nil
	}
	ra, err := s.risks.GetByRequestID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return request.StatusPendingRiskAssessment, nil
		}
		return "", mapPgError(err)
	}
	if ra.Status == riskassessment.StatusCompleted {
		return request.StatusPendingDocumentUpdate, nil
	}
	return request.StatusPendingRiskAssessment, nil
}
