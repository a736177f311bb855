package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/pkg/composables"
)

type QAFinalEvaluationParams struct {
	CFTEvaluationsComplete    bool
	DocumentUpdatesComplete   bool
	RiskAssessmentClosed      bool
	RegulatoryFilingsComplete bool
	Comments                  string
}

// QAFinalEvaluation is the step-8 completeness gate. All checks must pass;
// the risk assessment checks apply only to Major and Critical changes.
func (s *WorkflowService) QAFinalEvaluation(ctx context.Context, requestID uuid.UUID, p QAFinalEvaluationParams) (*request.Request, error) {
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
		if req.Status != request.StatusPendingQAEvaluation {
			return nil, newInvalidStateError("request must be pending QA final evaluation")
		}
		if !p.CFTEvaluationsComplete {
			return nil, newValidationError("CFT evaluations must be confirmed complete")
		}
		if !p.DocumentUpdatesComplete {
			return nil, newValidationError("document updates must be confirmed complete")
		}
		if !p.RegulatoryFilingsComplete {
			return nil, newValidationError("regulatory filings must be confirmed complete")
		}
		if req.ImpactLevel != nil && req.ImpactLevel.RequiresRiskAssessment() {
			if !p.RiskAssessmentClosed {
				return nil, newValidationError("risk assessment must be confirmed closed")
			}
			ra, err := s.risks.GetByRequestID(txCtx, req.ID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, newValidationError("risk assessment does not exist for this request")
				}
				return nil, mapPgError(err)
			}
			if ra.Status != riskassessment.StatusCompleted {
				return nil, newValidationError("risk assessment must be completed before QA final evaluation")
			}
		}

		previous := req.Status
		req.Status = request.StatusPendingQAHeadApproval
		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 8, actorID, "QA final evaluation completed",
			p.Comments, previous, req.Status); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "qa_final_evaluation",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("qa_final_evaluation", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

type QAHeadApprovalParams struct {
	Approved bool
	Comments string
}

// QAHeadApproval either sends the request to post-implementation
// verification or returns it to the action plan phase for correction.
// Rejection here is not terminal.
func (s *WorkflowService) QAHeadApproval(ctx context.Context, requestID uuid.UUID, p QAHeadApprovalParams) (*request.Request, error) {
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
		if req.Status != request.StatusPendingQAHeadApproval {
			return nil, newInvalidStateError("request must be pending QA head approval")
		}

		previous := req.Status
		var action string
		if p.Approved {
			req.Status = request.StatusPendingVerification
			action = "Approved by QA head"
		} else {
			req.Status = request.StatusPendingActionPlan
			action = "Returned for correction by QA head"
		}
		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 9, actorID, action, p.Comments, previous, req.Status); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "qa_head_approval",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("qa_head_approval", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}

type VerifyParams struct {
	ChangeImplemented bool
	TrainingConducted bool
	NoAdverseImpact   bool
	Comments          string
}

// Verify is the step-10 effectiveness check. All three confirmations must
// hold; passing closes the request and appends the closure record in the
// same transaction.
func (s *WorkflowService) Verify(ctx context.Context, requestID uuid.UUID, p VerifyParams) (*request.Request, error) {
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
		if req.Status != request.StatusPendingVerification {
			return nil, newInvalidStateError("request must be pending verification")
		}
		if !p.ChangeImplemented {
			return nil, newValidationError("change implementation must be confirmed")
		}
		if !p.TrainingConducted {
			return nil, newValidationError("training must be confirmed")
		}
		if !p.NoAdverseImpact {
			return nil, newValidationError("absence of adverse impact must be confirmed")
		}

		previous := req.Status
		req.Close(s.now())
		req, err = s.requests.Update(txCtx, req)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := s.logStep(txCtx, req.ID, 10, actorID, "Verification completed",
			p.Comments, previous, req.Status); err != nil {
			return nil, err
		}
		if err := s.logStep(txCtx, req.ID, 11, actorID, "Change control request closed",
			fmt.Sprintf("Request %s successfully closed", req.Number()),
			req.Status, req.Status); err != nil {
			return nil, err
		}

		events = append(events, TransitionedEvent{
			RequestID:      req.ID,
			Operation:      "verify",
			PreviousStatus: previous,
			NewStatus:      req.Status,
			ActorID:        actorID,
			OccurredAt:     s.now(),
		})
		return req, nil
	})
	recordTransition("verify", err)
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return updated, nil
}
