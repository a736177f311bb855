package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/qmsuite/change-control/modules/changecontrol/services"
)

type documentRevisionRequest struct {
	DocumentName         string    `json:"document_name" validate:"required"`
	DocumentCode         string    `json:"document_code"`
	AssignedDepartmentID uuid.UUID `json:"assigned_department_id" validate:"required"`
}

type planDocumentRevisionsRequest struct {
	Revisions []documentRevisionRequest `json:"revisions" validate:"required,min=1,dive"`
}

func (c *ChangeControlAPIController) PlanDocumentRevisions(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, actorID, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !c.requireRole(w, requestID, func() (bool, error) {
		return c.oracle.IsQAUser(ctx, actorID)
	}, "QA role required") {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto planDocumentRevisionsRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	inputs := make([]services.DocumentRevisionInput, 0, len(dto.Revisions))
	for _, rev := range dto.Revisions {
		inputs = append(inputs, services.DocumentRevisionInput{
			DocumentName:         rev.DocumentName,
			DocumentCode:         rev.DocumentCode,
			AssignedDepartmentID: rev.AssignedDepartmentID,
		})
	}

	created, err := c.workflow.PlanDocumentRevisions(ctx, id, inputs)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type startDocumentRevisionRequest struct {
	RevisionID uuid.UUID `json:"revision_id" validate:"required"`
}

func (c *ChangeControlAPIController) StartDocumentRevision(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto startDocumentRevisionRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.StartDocumentRevision(ctx, id, dto.RevisionID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type completeDocumentRevisionRequest struct {
	RevisionID uuid.UUID `json:"revision_id" validate:"required"`
	Notes      string    `json:"revision_notes"`
}

func (c *ChangeControlAPIController) CompleteDocumentRevision(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto completeDocumentRevisionRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.CompleteDocumentRevision(ctx, id, services.CompleteDocumentRevisionParams{
		RevisionID: dto.RevisionID,
		Notes:      dto.Notes,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type revisionNotRequiredRequest struct {
	RevisionID uuid.UUID `json:"revision_id" validate:"required"`
}

func (c *ChangeControlAPIController) MarkRevisionNotRequired(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto revisionNotRequiredRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.MarkDocumentRevisionNotRequired(ctx, id, dto.RevisionID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type actionPlanItemRequest struct {
	Description         string    `json:"description" validate:"required"`
	ResponsiblePersonID uuid.UUID `json:"responsible_person_id" validate:"required"`
	ExpectedTimeline    time.Time `json:"expected_timeline" validate:"required"`
}

type createActionPlansRequest struct {
	Items []actionPlanItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (c *ChangeControlAPIController) CreateActionPlans(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, actorID, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !c.requireRole(w, requestID, func() (bool, error) {
		return c.oracle.IsQAUser(ctx, actorID)
	}, "QA role required") {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto createActionPlansRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	inputs := make([]services.ActionPlanInput, 0, len(dto.Items))
	for _, item := range dto.Items {
		inputs = append(inputs, services.ActionPlanInput{
			Description:         item.Description,
			ResponsiblePersonID: item.ResponsiblePersonID,
			ExpectedTimeline:    item.ExpectedTimeline,
		})
	}

	created, err := c.workflow.CreateActionPlans(ctx, id, inputs)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type actionPlanItemRef struct {
	ItemID uuid.UUID `json:"item_id" validate:"required"`
	Notes  string    `json:"notes"`
}

func (c *ChangeControlAPIController) StartActionPlanItem(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto actionPlanItemRef
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	item, err := c.workflow.StartActionPlanItem(ctx, id, dto.ItemID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (c *ChangeControlAPIController) CompleteActionPlanItem(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto actionPlanItemRef
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.CompleteActionPlanItem(ctx, id, services.CompleteActionPlanItemParams{
		ItemID: dto.ItemID,
		Notes:  dto.Notes,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (c *ChangeControlAPIController) CancelActionPlanItem(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto actionPlanItemRef
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.CancelActionPlanItem(ctx, id, dto.ItemID, dto.Notes)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type qaFinalEvaluationRequest struct {
	CFTEvaluationsComplete    *bool  `json:"cft_evaluations_complete" validate:"required"`
	DocumentUpdatesComplete   *bool  `json:"document_updates_complete" validate:"required"`
	RiskAssessmentClosed      bool   `json:"risk_assessment_closed"`
	RegulatoryFilingsComplete *bool  `json:"regulatory_filings_complete" validate:"required"`
	Comments                  string `json:"comments"`
}

func (c *ChangeControlAPIController) QAFinalEvaluation(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, actorID, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !c.requireRole(w, requestID, func() (bool, error) {
		return c.oracle.IsQAUser(ctx, actorID)
	}, "QA role required") {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto qaFinalEvaluationRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.QAFinalEvaluation(ctx, id, services.QAFinalEvaluationParams{
		CFTEvaluationsComplete:    *dto.CFTEvaluationsComplete,
		DocumentUpdatesComplete:   *dto.DocumentUpdatesComplete,
		RiskAssessmentClosed:      dto.RiskAssessmentClosed,
		RegulatoryFilingsComplete: *dto.RegulatoryFilingsComplete,
		Comments:                  dto.Comments,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type qaHeadApprovalRequest struct {
	Approved *bool  `json:"approved" validate:"required"`
	Comments string `json:"comments"`
}

func (c *ChangeControlAPIController) QAHeadApproval(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, actorID, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !c.requireRole(w, requestID, func() (bool, error) {
		return c.oracle.IsQAHead(ctx, actorID)
	}, "QA head role required") {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto qaHeadApprovalRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.QAHeadApproval(ctx, id, services.QAHeadApprovalParams{
		Approved: *dto.Approved,
		Comments: dto.Comments,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type verifyRequest struct {
	ChangeImplemented *bool  `json:"change_implemented" validate:"required"`
	TrainingConducted *bool  `json:"training_conducted" validate:"required"`
	NoAdverseImpact   *bool  `json:"no_adverse_impact" validate:"required"`
	Comments          string `json:"comments"`
}

func (c *ChangeControlAPIController) Verify(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, actorID, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !c.requireRole(w, requestID, func() (bool, error) {
		return c.oracle.IsQAUser(ctx, actorID)
	}, "QA role required") {
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "id must be a valid uuid")
		return
	}
	var dto verifyRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.Verify(ctx, id, services.VerifyParams{
		ChangeImplemented: *dto.ChangeImplemented,
		TrainingConducted: *dto.TrainingConducted,
		NoAdverseImpact:   *dto.NoAdverseImpact,
		Comments:          dto.Comments,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
