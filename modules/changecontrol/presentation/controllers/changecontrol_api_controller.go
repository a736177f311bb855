package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/services"
	"github.com/qmsuite/change-control/pkg/composables"
	"github.com/qmsuite/change-control/pkg/configuration"
	"github.com/qmsuite/change-control/pkg/serrors"
)

var validate = validator.New()

// ChangeControlAPIController serves the change control workflow API. Role
// gates that are not intrinsic to a transition (QA, QA head) are enforced
// here via the permission oracle; the workflow service re-checks the
// intrinsic ones.
type ChangeControlAPIController struct {
	workflow  *services.WorkflowService
	queries   *services.QueryService
	oracle    services.PermissionOracle
	apiPrefix string
}

func NewChangeControlAPIController(
	workflow *services.WorkflowService,
	queries *services.QueryService,
	oracle services.PermissionOracle,
) *ChangeControlAPIController {
	return &ChangeControlAPIController{
		workflow:  workflow,
		queries:   queries,
		oracle:    oracle,
		apiPrefix: "/api/change-control",
	}
}

func (c *ChangeControlAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/requests", c.Initiate).Methods(http.MethodPost)
	api.HandleFunc("/requests", c.List).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", c.Get).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/history", c.History).Methods(http.MethodGet)

	api.HandleFunc("/requests/{id}:dept-head-decision", c.DeptHeadDecision).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:qa-register", c.QARegister).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:cft-evaluation", c.SubmitCFTEvaluation).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:start-risk-assessment", c.StartRiskAssessment).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:complete-risk-assessment", c.CompleteRiskAssessment).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:document-revisions", c.PlanDocumentRevisions).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:start-document-revision", c.StartDocumentRevision).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:complete-document-revision", c.CompleteDocumentRevision).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:revision-not-required", c.MarkRevisionNotRequired).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:action-plans", c.CreateActionPlans).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:start-action-plan-item", c.StartActionPlanItem).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:complete-action-plan-item", c.CompleteActionPlanItem).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:cancel-action-plan-item", c.CancelActionPlanItem).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:qa-evaluation", c.QAFinalEvaluation).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:qa-head-approval", c.QAHeadApproval).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:verify", c.Verify).Methods(http.MethodPost)
}

// requireActor resolves the acting user from the configured identity header
// and stores it in the request context.
func requireActor(w http.ResponseWriter, r *http.Request, requestID string) (context.Context, uuid.UUID, bool) {
	conf := configuration.Use()
	raw := strings.TrimSpace(r.Header.Get(conf.UserIDHeader))
	if raw == "" {
		writeAPIError(w, http.StatusUnauthorized, requestID, "CC_UNAUTHENTICATED",
			conf.UserIDHeader+" header is required")
		return nil, uuid.Nil, false
	}
	actorID, err := uuid.Parse(raw)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, requestID, "CC_UNAUTHENTICATED",
			conf.UserIDHeader+" header must be a valid uuid")
		return nil, uuid.Nil, false
	}
	return composables.WithUserID(r.Context(), actorID), actorID, true
}

func decodeValidated(w http.ResponseWriter, r *http.Request, requestID string, dto any) bool {
	if err := decodeJSON(r.Body, dto); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY", "invalid JSON body")
		return false
	}
	if err := validate.Struct(dto); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "CC_INVALID_BODY",
			serrors.ProcessValidatorErrors(err).Error())
		return false
	}
	return true
}

func (c *ChangeControlAPIController) requireRole(
	w http.ResponseWriter,
	requestID string,
	check func() (bool, error),
	message string,
) bool {
	ok, err := check()
	if err != nil {
		writeServiceError(w, requestID, err)
		return false
	}
	if !ok {
		writeAPIError(w, http.StatusForbidden, requestID, "CC_FORBIDDEN", message)
		return false
	}
	return true
}

type initiateRequest struct {
	DepartmentID uuid.UUID `json:"department_id" validate:"required"`
	Title        string    `json:"title" validate:"required"`
	Description  string    `json:"description" validate:"required"`
}

func (c *ChangeControlAPIController) Initiate(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	var dto initiateRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	created, err := c.workflow.Initiate(ctx, services.InitiateParams{
		DepartmentID: dto.DepartmentID,
		Title:        dto.Title,
		Description:  dto.Description,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (c *ChangeControlAPIController) List(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(r)
	ctx, _, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	out, err := c.queries.ListVisible(ctx)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	if out == nil {
		out = []*request.Request{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *ChangeControlAPIController) Get(w http.ResponseWriter, r *http.Request) {
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
	detail, err := c.queries.GetRequest(ctx, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (c *ChangeControlAPIController) History(w http.ResponseWriter, r *http.Request) {
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
	entries, err := c.queries.ListHistory(ctx, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type deptHeadDecisionRequest struct {
	Approved        *bool  `json:"approved" validate:"required"`
	RejectionReason string `json:"rejection_reason"`
}

func (c *ChangeControlAPIController) DeptHeadDecision(w http.ResponseWriter, r *http.Request) {
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
	var dto deptHeadDecisionRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.DeptHeadDecision(ctx, id, services.DeptHeadDecisionParams{
		Approved:        *dto.Approved,
		RejectionReason: dto.RejectionReason,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type evaluatorAssignmentRequest struct {
	DepartmentID uuid.UUID `json:"department_id" validate:"required"`
	EvaluatorID  uuid.UUID `json:"evaluator_id" validate:"required"`
}

type qaRegisterRequest struct {
	FinalNumber          string                       `json:"final_cc_number"`
	ImpactLevel          string                       `json:"impact_level" validate:"required,oneof=Minor Major Critical"`
	TargetCompletionDate time.Time                    `json:"target_completion_date" validate:"required"`
	Evaluators           []evaluatorAssignmentRequest `json:"evaluators" validate:"required,min=1,dive"`
	RiskAssigneeID       *uuid.UUID                   `json:"risk_assignee_id"`
}

func (c *ChangeControlAPIController) QARegister(w http.ResponseWriter, r *http.Request) {
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
	var dto qaRegisterRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	evaluators := make([]services.EvaluatorAssignment, 0, len(dto.Evaluators))
	for _, e := range dto.Evaluators {
		evaluators = append(evaluators, services.EvaluatorAssignment{
			DepartmentID: e.DepartmentID,
			EvaluatorID:  e.EvaluatorID,
		})
	}

	updated, err := c.workflow.QARegister(ctx, id, services.QARegisterParams{
		FinalNumber:          dto.FinalNumber,
		ImpactLevel:          request.ImpactLevel(dto.ImpactLevel),
		TargetCompletionDate: dto.TargetCompletionDate,
		Evaluators:           evaluators,
		RiskAssigneeID:       dto.RiskAssigneeID,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type cftEvaluationRequest struct {
	DepartmentID uuid.UUID `json:"department_id" validate:"required"`
	ImpactType   string    `json:"impact_type" validate:"required"`
	Decision     string    `json:"decision" validate:"required"`
	RiskLevel    string    `json:"risk_level" validate:"required"`
	Notes        string    `json:"evaluation_notes"`
}

func (c *ChangeControlAPIController) SubmitCFTEvaluation(w http.ResponseWriter, r *http.Request) {
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
	var dto cftEvaluationRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.SubmitCFTEvaluation(ctx, id, services.SubmitEvaluationParams{
		DepartmentID: dto.DepartmentID,
		ImpactType:   cft.ImpactType(dto.ImpactType),
		Decision:     cft.Decision(dto.Decision),
		RiskLevel:    cft.RiskLevel(dto.RiskLevel),
		Notes:        dto.Notes,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (c *ChangeControlAPIController) StartRiskAssessment(w http.ResponseWriter, r *http.Request) {
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
	ra, err := c.workflow.StartRiskAssessment(ctx, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, ra)
}

type completeRiskAssessmentRequest struct {
	Findings        string `json:"findings" validate:"required"`
	Recommendations string `json:"recommendations"`
}

func (c *ChangeControlAPIController) CompleteRiskAssessment(w http.ResponseWriter, r *http.Request) {
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
	var dto completeRiskAssessmentRequest
	if !decodeValidated(w, r, requestID, &dto) {
		return
	}

	updated, err := c.workflow.CompleteRiskAssessment(ctx, id, services.CompleteRiskAssessmentParams{
		Findings:        dto.Findings,
		Recommendations: dto.Recommendations,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
