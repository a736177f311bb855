package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/department"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/docrevision"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
)

func TestInitiateRoutesToDepartmentHead(t *testing.T) {
	f := newFixture(t)

	req := f.initiate(t)

	require.Equal(t, request.StatusPendingDeptHead, req.Status)
	year := time.Now().Format("06")
	require.Equal(t, fmt.Sprintf("REQ/CC/%s/ENG/00001", year), req.TemporaryNumber)
	require.Nil(t, req.FinalNumber)

	entries, err := f.history.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].Step)
	require.Equal(t, "Request initiated", entries[0].Action)
	require.Equal(t, 2, entries[1].Step)
	require.Equal(t, string(request.StatusDraft), entries[1].PreviousStatus)
	require.Equal(t, string(request.StatusPendingDeptHead), entries[1].NewStatus)
}

func TestInitiateSequencesTemporaryNumbers(t *testing.T) {
	f := newFixture(t)

	first := f.initiate(t)
	second := f.initiate(t)

	year := time.Now().Format("06")
	require.Equal(t, fmt.Sprintf("REQ/CC/%s/ENG/00001", year), first.TemporaryNumber)
	require.Equal(t, fmt.Sprintf("REQ/CC/%s/ENG/00002", year), second.TemporaryNumber)
}

func TestInitiateRequiresDepartmentHead(t *testing.T) {
	f := newFixture(t)
	headless, err := f.departments.Create(context.Background(), &department.Department{Code: "WH", Name: "Warehouse"})
	require.NoError(t, err)

	_, err = f.svc.Initiate(f.ctxFor(f.initiator), InitiateParams{
		DepartmentID: headless.ID,
		Title:        "New racking",
		Description:  "Install additional racking in bay 4",
	})
	require.Error(t, err)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_INVALID_BODY", svcErr.Code)
}

func TestDeptHeadDecisionRequiresHead(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)

	_, err := f.svc.DeptHeadDecision(f.ctxFor(f.initiator), req.ID, DeptHeadDecisionParams{Approved: true})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_FORBIDDEN", svcErr.Code)
}

func TestDeptHeadRejectUsesDefaultReason(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)

	updated, err := f.svc.DeptHeadDecision(f.ctxFor(f.deptHead), req.ID, DeptHeadDecisionParams{Approved: false})
	require.NoError(t, err)
	require.Equal(t, request.StatusRejected, updated.Status)
	require.Equal(t, "Rejected by department head", updated.RejectionReason)
	require.NotNil(t, updated.RejectedByID)
	require.Equal(t, f.deptHead, *updated.RejectedByID)
	require.NotNil(t, updated.RejectedAt)
	require.Equal(t, 0, updated.Step())
}

func TestRejectionFieldsEmptyUntilRejected(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)

	require.Empty(t, req.RejectionReason)
	require.Nil(t, req.RejectedByID)
	require.Nil(t, req.RejectedAt)

	updated := f.approveDeptHead(t, req.ID)
	require.Empty(t, updated.RejectionReason)
	require.Nil(t, updated.RejectedByID)
}

func TestDeptHeadDecisionWrongState(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)

	_, err := f.svc.DeptHeadDecision(f.ctxFor(f.deptHead), req.ID, DeptHeadDecisionParams{Approved: true})
	require.True(t, IsInvalidState(err))
}

func TestQARegisterMinorSkipsRiskAssessment(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)

	updated := f.qaRegister(t, req.ID, request.ImpactMinor)
	require.Equal(t, request.StatusPendingCFTEvaluation, updated.Status)
	require.NotNil(t, updated.FinalNumber)
	require.NotNil(t, updated.QARegisteredByID)
	require.Equal(t, f.qaUser, *updated.QARegisteredByID)

	_, err := f.risks.GetByRequestID(context.Background(), req.ID)
	require.Error(t, err)

	evaluators, err := f.cft.ListEvaluators(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, evaluators, 2)
}

func TestQARegisterMajorCreatesRiskAssessment(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)

	f.qaRegister(t, req.ID, request.ImpactMajor)

	ra, err := f.risks.GetByRequestID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, riskassessment.StatusPending, ra.Status)
	require.Equal(t, f.qaUser, ra.AssignedToID)
}

func TestQARegisterRejectsDuplicateFinalNumber(t *testing.T) {
	f := newFixture(t)
	first := f.initiate(t)
	f.approveDeptHead(t, first.ID)
	registered := f.qaRegister(t, first.ID, request.ImpactMinor)

	second := f.initiate(t)
	f.approveDeptHead(t, second.ID)
	_, err := f.svc.QARegister(f.ctxFor(f.qaUser), second.ID, QARegisterParams{
		FinalNumber:          *registered.FinalNumber,
		ImpactLevel:          request.ImpactMinor,
		TargetCompletionDate: time.Now().AddDate(0, 1, 0),
		Evaluators:           []EvaluatorAssignment{{DepartmentID: f.qaDept, EvaluatorID: f.evalQA}},
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_NUMBER_CONFLICT", svcErr.Code)
}

func TestQARegisterRequiresEvaluators(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)

	// Without an evaluator assignment the evaluation phase would have no
	// reachable exit.
	for _, evaluators := range [][]EvaluatorAssignment{
		nil,
		{{DepartmentID: uuid.Nil, EvaluatorID: uuid.Nil}},
	} {
		_, err := f.svc.QARegister(f.ctxFor(f.qaUser), req.ID, QARegisterParams{
			ImpactLevel:          request.ImpactMajor,
			TargetCompletionDate: time.Now().AddDate(0, 1, 0),
			Evaluators:           evaluators,
		})
		var svcErr *ServiceError
		require.ErrorAs(t, err, &svcErr)
		require.Equal(t, "CC_INVALID_BODY", svcErr.Code)
	}

	current, err := f.requests.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingQARegistration, current.Status)
}

func TestRejectedRequestBlocksQARegistration(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)

	_, err := f.svc.DeptHeadDecision(f.ctxFor(f.deptHead), req.ID, DeptHeadDecisionParams{
		Approved:        false,
		RejectionReason: "not needed",
	})
	require.NoError(t, err)

	_, err = f.svc.QARegister(f.ctxFor(f.qaUser), req.ID, QARegisterParams{
		ImpactLevel:          request.ImpactMinor,
		TargetCompletionDate: time.Now().AddDate(0, 1, 0),
		Evaluators:           []EvaluatorAssignment{{DepartmentID: f.qaDept, EvaluatorID: f.evalQA}},
	})
	require.True(t, IsInvalidState(err))
}

func TestCFTEvaluationRequiresAssignment(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMinor)

	_, err := f.evaluate(t, req.ID, f.qaDept, f.evalEng, cft.DecisionApproved)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_FORBIDDEN", svcErr.Code)
}

func TestCFTEvaluationWaitsForAllDepartments(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMinor)

	updated, err := f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingCFTEvaluation, updated.Status)

	updated, err = f.evaluate(t, req.ID, f.engDept, f.evalEng, cft.DecisionApproved)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingDocumentUpdate, updated.Status)
}

func TestCFTEvaluationUpsertDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMinor)

	// The same evaluator revises a Pending submission; one department is
	// still outstanding, so the phase must stay open.
	_, err := f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionPending)
	require.NoError(t, err)
	updated, err := f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingCFTEvaluation, updated.Status)

	evaluations, err := f.cft.ListEvaluations(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, evaluations, 1)
}

func TestCFTRejectionIsTerminal(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMinor)

	_, err := f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.NoError(t, err)
	updated, err := f.evaluate(t, req.ID, f.engDept, f.evalEng, cft.DecisionRejected)
	require.NoError(t, err)

	require.Equal(t, request.StatusRejected, updated.Status)
	require.Equal(t, "Rejected during CFT evaluation", updated.RejectionReason)

	_, err = f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.True(t, IsInvalidState(err))
}

func TestMajorImpactWaitsForRiskAssessment(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMajor)

	_, err := f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.NoError(t, err)
	updated, err := f.evaluate(t, req.ID, f.engDept, f.evalEng, cft.DecisionApproved)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingRiskAssessment, updated.Status)

	_, err = f.svc.CompleteRiskAssessment(f.ctxFor(f.deptHead), req.ID, CompleteRiskAssessmentParams{
		Findings: "No cross-contamination risk",
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_FORBIDDEN", svcErr.Code)

	updated, err = f.svc.CompleteRiskAssessment(f.ctxFor(f.qaUser), req.ID, CompleteRiskAssessmentParams{
		Findings:        "No cross-contamination risk",
		Recommendations: "Proceed with line clearance checklist",
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingDocumentUpdate, updated.Status)

	ra, err := f.risks.GetByRequestID(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, riskassessment.StatusCompleted, ra.Status)
	require.NotNil(t, ra.CompletionDate)
}

func TestRiskAssessmentCompletedEarlySkipsPhase(t *testing.T) {
	f := newFixture(t)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMajor)

	// The assignee starts and the assessment is completed while the second
	// evaluator has not yet submitted.
	_, err := f.svc.StartRiskAssessment(f.ctxFor(f.qaUser), req.ID)
	require.NoError(t, err)

	_, err = f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.NoError(t, err)

	ra, err := f.risks.GetByRequestID(context.Background(), req.ID)
	require.NoError(t, err)
	ra.Complete("Assessed early", "", time.Now())
	_, err = f.risks.Update(context.Background(), ra)
	require.NoError(t, err)

	updated, err := f.evaluate(t, req.ID, f.engDept, f.evalEng, cft.DecisionApproved)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingDocumentUpdate, updated.Status)
}

func TestDocumentRevisionsAdvanceWhenAllClosed(t *testing.T) {
	f := newFixture(t)
	req := f.toDocumentUpdate(t)

	revs, err := f.svc.PlanDocumentRevisions(f.ctxFor(f.qaUser), req.ID, []DocumentRevisionInput{
		{DocumentName: "SOP-017 Granulation", AssignedDepartmentID: f.engDept},
		{DocumentName: "BMR-044 Batch Record", AssignedDepartmentID: f.engDept},
	})
	require.NoError(t, err)
	require.Len(t, revs, 2)

	updated, err := f.svc.CompleteDocumentRevision(f.ctxFor(f.deptHead), req.ID, CompleteDocumentRevisionParams{
		RevisionID: revs[0].ID,
		Notes:      "Revision C issued",
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingDocumentUpdate, updated.Status)

	updated, err = f.svc.MarkDocumentRevisionNotRequired(f.ctxFor(f.qaUser), req.ID, revs[1].ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingActionPlan, updated.Status)
}

func TestDocumentRevisionPlanningIsIdempotent(t *testing.T) {
	f := newFixture(t)
	req := f.toDocumentUpdate(t)

	input := []DocumentRevisionInput{{DocumentName: "SOP-017 Granulation", AssignedDepartmentID: f.engDept}}
	first, err := f.svc.PlanDocumentRevisions(f.ctxFor(f.qaUser), req.ID, input)
	require.NoError(t, err)
	second, err := f.svc.PlanDocumentRevisions(f.ctxFor(f.qaUser), req.ID, input)
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)

	all, err := f.revisions.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStartDocumentRevisionMarksInProgress(t *testing.T) {
	f := newFixture(t)
	req := f.toDocumentUpdate(t)

	revs, err := f.svc.PlanDocumentRevisions(f.ctxFor(f.qaUser), req.ID, []DocumentRevisionInput{
		{DocumentName: "SOP-017 Granulation", AssignedDepartmentID: f.engDept},
	})
	require.NoError(t, err)

	dr, err := f.svc.StartDocumentRevision(f.ctxFor(f.deptHead), req.ID, revs[0].ID)
	require.NoError(t, err)
	require.Equal(t, docrevision.StatusInProgress, dr.Status)

	// Starting twice is rejected, completing an in-progress revision is not.
	_, err = f.svc.StartDocumentRevision(f.ctxFor(f.deptHead), req.ID, revs[0].ID)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_INVALID_STATE", svcErr.Code)

	updated, err := f.svc.CompleteDocumentRevision(f.ctxFor(f.deptHead), req.ID, CompleteDocumentRevisionParams{
		RevisionID: revs[0].ID,
		Notes:      "Revision C issued",
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingActionPlan, updated.Status)
}

func TestCompleteDocumentRevisionPermission(t *testing.T) {
	f := newFixture(t)
	req := f.toDocumentUpdate(t)

	revs, err := f.svc.PlanDocumentRevisions(f.ctxFor(f.qaUser), req.ID, []DocumentRevisionInput{
		{DocumentName: "SOP-017 Granulation", AssignedDepartmentID: f.engDept},
	})
	require.NoError(t, err)

	_, err = f.svc.CompleteDocumentRevision(f.ctxFor(f.initiator), req.ID, CompleteDocumentRevisionParams{
		RevisionID: revs[0].ID,
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_FORBIDDEN", svcErr.Code)
}

func TestActionPlanCompletionAdvances(t *testing.T) {
	f := newFixture(t)
	req := f.toActionPlan(t)

	items, err := f.svc.CreateActionPlans(f.ctxFor(f.qaUser), req.ID, []ActionPlanInput{
		{Description: "Install new sieve", ResponsiblePersonID: f.evalEng, ExpectedTimeline: time.Now().AddDate(0, 0, 14)},
		{Description: "Retrain operators", ResponsiblePersonID: f.deptHead, ExpectedTimeline: time.Now().AddDate(0, 0, 21)},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	// Only the responsible person may complete an item.
	_, err = f.svc.CompleteActionPlanItem(f.ctxFor(f.deptHead), req.ID, CompleteActionPlanItemParams{ItemID: items[0].ID})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_FORBIDDEN", svcErr.Code)

	updated, err := f.svc.CompleteActionPlanItem(f.ctxFor(f.evalEng), req.ID, CompleteActionPlanItemParams{ItemID: items[0].ID})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingActionPlan, updated.Status)

	updated, err = f.svc.CompleteActionPlanItem(f.ctxFor(f.deptHead), req.ID, CompleteActionPlanItemParams{ItemID: items[1].ID})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingQAEvaluation, updated.Status)
}

func TestCancelledActionItemNoLongerBlocks(t *testing.T) {
	f := newFixture(t)
	req := f.toActionPlan(t)

	items, err := f.svc.CreateActionPlans(f.ctxFor(f.qaUser), req.ID, []ActionPlanInput{
		{Description: "Install new sieve", ResponsiblePersonID: f.evalEng, ExpectedTimeline: time.Now().AddDate(0, 0, 14)},
	})
	require.NoError(t, err)

	updated, err := f.svc.CancelActionPlanItem(f.ctxFor(f.qaUser), req.ID, items[0].ID, "Superseded by vendor change")
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingQAEvaluation, updated.Status)
}

func TestQAFinalEvaluationChecksConfirmations(t *testing.T) {
	f := newFixture(t)
	req := f.toQAEvaluation(t)

	_, err := f.svc.QAFinalEvaluation(f.ctxFor(f.qaUser), req.ID, QAFinalEvaluationParams{
		CFTEvaluationsComplete:    true,
		DocumentUpdatesComplete:   false,
		RegulatoryFilingsComplete: true,
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_INVALID_BODY", svcErr.Code)

	updated, err := f.svc.QAFinalEvaluation(f.ctxFor(f.qaUser), req.ID, QAFinalEvaluationParams{
		CFTEvaluationsComplete:    true,
		DocumentUpdatesComplete:   true,
		RegulatoryFilingsComplete: true,
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingQAHeadApproval, updated.Status)
}

func TestQAHeadRejectReturnsToActionPlan(t *testing.T) {
	f := newFixture(t)
	req := f.toQAEvaluation(t)

	_, err := f.svc.QAFinalEvaluation(f.ctxFor(f.qaUser), req.ID, QAFinalEvaluationParams{
		CFTEvaluationsComplete:    true,
		DocumentUpdatesComplete:   true,
		RegulatoryFilingsComplete: true,
	})
	require.NoError(t, err)

	updated, err := f.svc.QAHeadApproval(f.ctxFor(f.qaHead), req.ID, QAHeadApprovalParams{
		Approved: false,
		Comments: "CAPA evidence missing",
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingActionPlan, updated.Status)
	require.NotEqual(t, request.StatusRejected, updated.Status)
}

func TestVerifyClosesRequest(t *testing.T) {
	f := newFixture(t)
	req := f.toVerification(t)

	_, err := f.svc.Verify(f.ctxFor(f.qaUser), req.ID, VerifyParams{
		ChangeImplemented: true,
		TrainingConducted: false,
		NoAdverseImpact:   true,
	})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, "CC_INVALID_BODY", svcErr.Code)

	updated, err := f.svc.Verify(f.ctxFor(f.qaUser), req.ID, VerifyParams{
		ChangeImplemented: true,
		TrainingConducted: true,
		NoAdverseImpact:   true,
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusClosed, updated.Status)
	require.NotNil(t, updated.ClosedAt)
	require.Equal(t, 11, updated.Step())

	entries, err := f.history.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	require.Equal(t, 11, last.Step)
	require.Equal(t, "Change control request closed", last.Action)

	_, err = f.svc.Verify(f.ctxFor(f.qaUser), req.ID, VerifyParams{
		ChangeImplemented: true,
		TrainingConducted: true,
		NoAdverseImpact:   true,
	})
	require.True(t, IsInvalidState(err))
}

func TestHappyPathHistoryIsOrderedAndComplete(t *testing.T) {
	f := newFixture(t)
	req := f.toVerification(t)

	_, err := f.svc.Verify(f.ctxFor(f.qaUser), req.ID, VerifyParams{
		ChangeImplemented: true,
		TrainingConducted: true,
		NoAdverseImpact:   true,
	})
	require.NoError(t, err)

	entries, err := f.history.ListByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	// Steps never decrease along the happy path, every entry names an
	// actor, and each entry's previous status matches where the last status
	// change left the request.
	prevStep := 0
	currentStatus := string(request.StatusDraft)
	for _, e := range entries {
		require.GreaterOrEqual(t, e.Step, prevStep)
		prevStep = e.Step
		require.NotNil(t, e.ActorID)
		require.Equal(t, currentStatus, e.PreviousStatus)
		currentStatus = e.NewStatus
	}
	require.Equal(t, string(request.StatusClosed), currentStatus)
}
