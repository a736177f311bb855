package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/actionplan"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/docrevision"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/pkg/composables"
)

// StartRiskAssessment moves the request's risk assessment from Pending to
// In_Progress. Allowed while CFT evaluation is still running so the assignee
// can begin before the last evaluator submits.
func (s *WorkflowService) StartRiskAssessment(ctx context.Context, requestID uuid.UUID) (*riskassessment.RiskAssessment, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*riskassessment.RiskAssessment, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingCFTEvaluation && req.Status != request.StatusPendingRiskAssessment {
			return nil, newInvalidStateError("risk assessment can only start during CFT evaluation or the risk assessment phase")
		}
		ra, err := s.risks.GetByRequestID(txCtx, req.ID)
		if err != nil {
			return nil, referential(err, "risk assessment does not exist for this request")
		}
		if ra.AssignedToID != actorID {
			return nil, newPermissionError("only the assigned person can work on this risk assessment")
		}
		if ra.Status != riskassessment.StatusPending {
			return nil, newInvalidStateError("risk assessment has already been started")
		}

		ra.Status = riskassessment.StatusInProgress
		ra, err = s.risks.Update(txCtx, ra)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 5, actorID, "Risk assessment started", "",
			req.Status, req.Status); err != nil {
			return nil, err
		}
		return ra, nil
	})
	recordTransition("start_risk_assessment", err)
	return updated, err
}

type CompleteRiskAssessmentParams struct {
	Findings        string
	Recommendations string
}

// CompleteRiskAssessment records findings and advances the request to the
// document management phase.
func (s *WorkflowService) CompleteRiskAssessment(ctx context.Context, requestID uuid.UUID, p CompleteRiskAssessmentParams) (*request.Request, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	if p.Findings == "" {
		return nil, newValidationError("findings are required to complete the risk assessment")
	}

	var events []TransitionedEvent
	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*request.Request, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingRiskAssessment {
			return nil, newInvalidStateError("request must be pending risk assessment")
		}
		ra, err := s.risks.GetByRequestID(txCtx, req.ID)
		if err != nil {
			return nil, referential(err, "risk assessment does not exist for this request")
		}
		if ra.AssignedToID != actorID {
			return nil, newPermissionError("only the assigned person can complete this risk assessment")
		}
		if ra.Status == riskassessment.StatusCompleted || ra.Status == riskassessment.StatusCancelled {
			return nil, newInvalidStateError("risk assessment is already closed")
		}

		ra.Complete(p.Findings, p.Recommendations, s.now())
		if _, err := s.risks.Update(txCtx, ra); err != nil {
			return nil, mapPgError(err)
		}

		previous := req.Status
		req.Status = request.StatusPendingDocumentUpdate
		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 5, actorID, "Risk assessment completed", "",
			previous, req.Status); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "complete_risk_assessment",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("complete_risk_assessment", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

type DocumentRevisionInput struct {
	DocumentName         string
	DocumentCode         string
	AssignedDepartmentID uuid.UUID
}

// PlanDocumentRevisions registers the controlled documents a change touches.
// Idempotent per (document name, department): re-submitting a plan never
// duplicates revisions. Planning stays open through the action plan phase so
// late-discovered documents can still be added.
func (s *WorkflowService) PlanDocumentRevisions(ctx context.Context, requestID uuid.UUID, inputs []DocumentRevisionInput) ([]*docrevision.DocumentRevision, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, newValidationError("at least one document revision is required")
	}

	revisions, err := composables.InTxResult(ctx, func(txCtx context.Context) ([]*docrevision.DocumentRevision, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingDocumentUpdate && req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("document revisions can only be planned during the document management or action plan phase")
		}

		out := make([]*docrevision.DocumentRevision, 0, len(inputs))
		for _, in := range inputs {
			if in.DocumentName == "" {
				return nil, newValidationError("document name is required")
			}
			if _, err := s.departments.GetByID(txCtx, in.AssignedDepartmentID); err != nil {
				return nil, referential(err, "assigned department not found")
			}
			dr, err := s.revisions.GetOrCreate(txCtx, &docrevision.DocumentRevision{
				RequestID:            req.ID,
				DocumentName:         in.DocumentName,
				DocumentCode:         in.DocumentCode,
				AssignedDepartmentID: in.AssignedDepartmentID,
				Status:               docrevision.StatusPending,
			})
			if err != nil {
				return nil, mapPgError(err)
			}
			out = append(out, dr)
		}

		if err := s.logStep(txCtx, req.ID, 6, actorID, "Document revisions suggested",
			fmt.Sprintf("%d document(s) registered for revision", len(out)),
			req.Status, req.Status); err != nil {
			return nil, err
		}
		return out, nil
	})
	recordTransition("plan_document_revisions", err)
	return revisions, err
}

// canMutateRevision checks the intrinsic permission for closing a document
// revision: head or member of the assigned department, or any QA user.
func (s *WorkflowService) canMutateRevision(ctx context.Context, actorID uuid.UUID, dr *docrevision.DocumentRevision) (bool, error) {
	dept, err := s.departments.GetByID(ctx, dr.AssignedDepartmentID)
	if err != nil {
		return false, referential(err, "assigned department not found")
	}
	if dept.IsHead(actorID) {
		return true, nil
	}
	deptID := dr.AssignedDepartmentID
	if ok, err := s.assignments.Has(ctx, actorID, rbac.RoleMember, &deptID); err != nil {
		return false, mapPgError(err)
	} else if ok {
		return true, nil
	}
	return s.assignments.Has(ctx, actorID, rbac.RoleQA, nil)
}

// StartDocumentRevision moves a planned revision from Pending to
// In_Progress.
func (s *WorkflowService) StartDocumentRevision(ctx context.Context, requestID, revisionID uuid.UUID) (*docrevision.DocumentRevision, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*docrevision.DocumentRevision, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingDocumentUpdate && req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("document revisions can only be worked during the document management or action plan phase")
		}
		dr, err := s.revisions.GetByID(txCtx, revisionID)
		if err != nil {
			return nil, referential(err, "document revision not found")
		}
		if dr.RequestID != req.ID {
			return nil, newReferentialError("document revision does not belong to this request")
		}
		if dr.Status != docrevision.StatusPending {
			return nil, newInvalidStateError("document revision has already been started")
		}
		if ok, err := s.canMutateRevision(txCtx, actorID, dr); err != nil {
			return nil, err
		} else if !ok {
			return nil, newPermissionError("user cannot work on document revisions for this department")
		}

		dr.Status = docrevision.StatusInProgress
		dr, err = s.revisions.Update(txCtx, dr)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 6, actorID,
			fmt.Sprintf("Document revision started for %s", dr.DocumentName), "",
			req.Status, req.Status); err != nil {
			return nil, err
		}
		return dr, nil
	})
	recordTransition("start_document_revision", err)
	return updated, err
}

type CompleteDocumentRevisionParams struct {
	RevisionID uuid.UUID
	Notes      string
}

// CompleteDocumentRevision closes one revision and, when it was the last
// open one and the request is still in the document management phase,
// advances the request to the action plan phase.
func (s *WorkflowService) CompleteDocumentRevision(ctx context.Context, requestID uuid.UUID, p CompleteDocumentRevisionParams) (*request.Request, error) {
	return s.closeDocumentRevision(ctx, requestID, p.RevisionID, func(dr *docrevision.DocumentRevision, actorID uuid.UUID, at time.Time) string {
		dr.Complete(p.Notes, actorID, at)
		return fmt.Sprintf("Document revision completed for %s", dr.DocumentName)
	}, "complete_document_revision")
}

// MarkDocumentRevisionNotRequired closes a planned revision without work,
// recording who made the call.
func (s *WorkflowService) MarkDocumentRevisionNotRequired(ctx context.Context, requestID, revisionID uuid.UUID) (*request.Request, error) {
	return s.closeDocumentRevision(ctx, requestID, revisionID, func(dr *docrevision.DocumentRevision, actorID uuid.UUID, at time.Time) string {
		dr.Status = docrevision.StatusNotRequired
		dr.RevisedByID = &actorID
		dr.RevisionDate = &at
		return fmt.Sprintf("Document revision marked not required for %s", dr.DocumentName)
	}, "mark_document_revision_not_required")
}

func (s *WorkflowService) closeDocumentRevision(
	ctx context.Context,
	requestID, revisionID uuid.UUID,
	apply func(dr *docrevision.DocumentRevision, actorID uuid.UUID, at time.Time) string,
	operation string,
) (*request.Request, error) {
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
		if req.Status != request.StatusPendingDocumentUpdate && req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("document revisions can only be closed during the document management or action plan phase")
		}
		dr, err := s.revisions.GetByID(txCtx, revisionID)
		if err != nil {
			return nil, referential(err, "document revision not found")
		}
		if dr.RequestID != req.ID {
			return nil, newReferentialError("document revision does not belong to this request")
		}
		if !dr.Status.Open() {
			return nil, newInvalidStateError("document revision is already closed")
		}
		if ok, err := s.canMutateRevision(txCtx, actorID, dr); err != nil {
			return nil, err
		} else if !ok {
			return nil, newPermissionError("user cannot close document revisions for this department")
		}

		action := apply(dr, actorID, s.now())
		if _, err := s.revisions.Update(txCtx, dr); err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 6, actorID, action, dr.RevisionNotes,
			req.Status, req.Status); err != nil {
			return nil, err
		}

		open, err := s.revisions.CountOpen(txCtx, req.ID)
		if err != nil {
			return nil, mapPgError(err)
		}
		if open == 0 && req.Status == request.StatusPendingDocumentUpdate {
			previous := req.Status
			req.Status = request.StatusPendingActionPlan
			req, err = s.requests.Update(txCtx, req)
			if err != nil {
				return nil, mapPgError(err)
			}
			if err := s.logStep(txCtx, req.ID, 6, actorID, "All document revisions completed", "",
				previous, req.Status); err != nil {
				return nil, err
			}
			events = append(events, TransitionedEvent{
				RequestID:      req.ID,
				Operation:      operation,
				PreviousStatus: previous,
				NewStatus:      req.Status,
				ActorID:        actorID,
				OccurredAt:     s.now(),
			})
		}
		return req, nil
	})
	recordTransition(operation, err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

type ActionPlanInput struct {
	Description         string
	ResponsiblePersonID uuid.UUID
	ExpectedTimeline    time.Time
}

// CreateActionPlans registers implementation items, each owned by a
// responsible person with an expected timeline.
func (s *WorkflowService) CreateActionPlans(ctx context.Context, requestID uuid.UUID, inputs []ActionPlanInput) ([]*actionplan.Item, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, newValidationError("at least one action plan item is required")
	}

	items, err := composables.InTxResult(ctx, func(txCtx context.Context) ([]*actionplan.Item, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("action plans can only be created during the action plan phase")
		}

		out := make([]*actionplan.Item, 0, len(inputs))
		for _, in := range inputs {
			if in.Description == "" {
				return nil, newValidationError("action plan description is required")
			}
			if in.ExpectedTimeline.IsZero() {
				return nil, newValidationError("expected timeline is required")
			}
			if ok, err := s.users.Exists(txCtx, in.ResponsiblePersonID); err != nil {
				return nil, mapPgError(err)
			} else if !ok {
				return nil, newReferentialError("responsible person not found")
			}
			item, err := s.actions.Create(txCtx, &actionplan.Item{
				RequestID:           req.ID,
				Description:         in.Description,
				ResponsiblePersonID: in.ResponsiblePersonID,
				ExpectedTimeline:    in.ExpectedTimeline,
				Status:              actionplan.StatusPending,
			})
			if err != nil {
				return nil, mapPgError(err)
			}
			out = append(out, item)
		}

		if err := s.logStep(txCtx, req.ID, 7, actorID, "Action plan created",
			fmt.Sprintf("%d action item(s) registered", len(out)),
			req.Status, req.Status); err != nil {
			return nil, err
		}
		return out, nil
	})
	recordTransition("create_action_plans", err)
	return items, err
}

// StartActionPlanItem moves an item from Pending to In_Progress.
func (s *WorkflowService) StartActionPlanItem(ctx context.Context, requestID, itemID uuid.UUID) (*actionplan.Item, error) {
	actorID, err := composables.UseUserID(ctx)
	if err != nil {
		return nil, err
	}

	updated, err := composables.InTxResult(ctx, func(txCtx context.Context) (*actionplan.Item, error) {
		req, err := s.lockRequest(txCtx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("action plan items can only be worked during the action plan phase")
		}
		item, err := s.actions.GetByID(txCtx, itemID)
		if err != nil {
			return nil, referential(err, "action plan item not found")
		}
		if item.RequestID != req.ID {
			return nil, newReferentialError("action plan item does not belong to this request")
		}
		if item.ResponsiblePersonID != actorID {
			return nil, newPermissionError("only the responsible person can work on this action item")
		}
		if item.Status != actionplan.StatusPending {
			return nil, newInvalidStateError("action plan item has already been started")
		}

		item.Status = actionplan.StatusInProgress
		item, err = s.actions.Update(txCtx, item)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 7, actorID, "Action item started", item.Description,
			req.Status, req.Status); err != nil {
			return nil, err
		}
		return item, nil
	})
	recordTransition("start_action_plan_item", err)
	return updated, err
}

type CompleteActionPlanItemParams struct {
	ItemID uuid.UUID
	Notes  string
}

// CompleteActionPlanItem closes one item; when it was the last open one the
// request advances to QA final evaluation.
func (s *WorkflowService) CompleteActionPlanItem(ctx context.Context, requestID uuid.UUID, p CompleteActionPlanItemParams) (*request.Request, error) {
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
		if req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("action plan items can only be completed during the action plan phase")
		}
		item, err := s.actions.GetByID(txCtx, p.ItemID)
		if err != nil {
			return nil, referential(err, "action plan item not found")
		}
		if item.RequestID != req.ID {
			return nil, newReferentialError("action plan item does not belong to this request")
		}
		if item.ResponsiblePersonID != actorID {
			return nil, newPermissionError("only the responsible person can complete this action item")
		}
		if !item.Status.Open() {
			return nil, newInvalidStateError("action plan item is already closed")
		}

		item.Complete(p.Notes, s.now())
		if _, err := s.actions.Update(txCtx, item); err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 7, actorID, "Action item completed", item.Description,
			req.Status, req.Status); err != nil {
			return nil, err
		}

		return s.advanceIfImplementationDone(txCtx, req, actorID, &events)
	})
	recordTransition("complete_action_plan_item", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

// CancelActionPlanItem withdraws an item from the plan. A cancelled item no
// longer blocks the phase, so the request may advance as a result.
func (s *WorkflowService) CancelActionPlanItem(ctx context.Context, requestID, itemID uuid.UUID, reason string) (*request.Request, error) {
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
		if req.Status != request.StatusPendingActionPlan {
			return nil, newInvalidStateError("action plan items can only be cancelled during the action plan phase")
		}
		item, err := s.actions.GetByID(txCtx, itemID)
		if err != nil {
			return nil, referential(err, "action plan item not found")
		}
		if item.RequestID != req.ID {
			return nil, newReferentialError("action plan item does not belong to this request")
		}
		if !item.Status.Open() {
			return nil, newInvalidStateError("action plan item is already closed")
		}
		if item.ResponsiblePersonID != actorID {
			if ok, err := s.assignments.Has(txCtx, actorID, rbac.RoleQA, nil); err != nil {
				return nil, mapPgError(err)
			} else if !ok {
				return nil, newPermissionError("only the responsible person or QA can cancel this action item")
			}
		}

		item.Status = actionplan.StatusCancelled
		item.Notes = reason
		if _, err := s.actions.Update(txCtx, item); err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 7, actorID, "Action item cancelled", reason,
			req.Status, req.Status); err != nil {
			return nil, err
		}

		return s.advanceIfImplementationDone(txCtx, req, actorID, &events)
	})
	recordTransition("cancel_action_plan_item", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

// advanceIfImplementationDone moves the request to QA final evaluation once
// no open action plan items remain.
func (s *WorkflowService) advanceIfImplementationDone(ctx context.Context, req *request.Request, actorID uuid.UUID, events *[]TransitionedEvent) (*request.Request, error) {
	open, err := s.actions.CountOpen(ctx, req.ID)
	if err != nil {
		return nil, mapPgError(err)
	}
	if open > 0 {
		return req, nil
	}

	previous := req.Status
	req.Status = request.StatusPendingQAEvaluation
	req, err = s.requests.Update(ctx, req)
	if err != nil {
		return nil, mapPgError(err)
	}
	if err := s.logStep(ctx, req.ID, 7, actorID, "All action plans completed", "",
		previous, req.Status); err != nil {
		return nil, err
	}
	*events = append(*events, TransitionedEvent{
		RequestID:      req.ID,
		Operation:      "action_plans_completed",
		PreviousStatus: previous,
		NewStatus:      req.Status,
		ActorID:        actorID,
		OccurredAt:     s.now(),
	})
	return req, nil
}
