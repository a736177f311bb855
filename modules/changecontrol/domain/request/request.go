package request

import (
	"time"

	"github.com/google/uuid"
)

// Status is the workflow status of a change control request. The string
// values are part of the stored representation and the API contract.
type Status string

const (
	StatusDraft                 Status = "Draft"
	StatusPendingDeptHead       Status = "Pending_Dept_Head"
	StatusPendingQARegistration Status = "Pending_QA_Registration"
	StatusPendingCFTEvaluation  Status = "Pending_CFT_Evaluation"
	StatusPendingRiskAssessment Status = "Pending_Risk_Assessment"
	StatusPendingDocumentUpdate Status = "Pending_Document_Update"
	StatusPendingActionPlan     Status = "Pending_Action_Plan"
	StatusPendingQAEvaluation   Status = "Pending_QA_Evaluation"
	StatusPendingQAHeadApproval Status = "Pending_QA_Head_Approval"
	StatusPendingVerification   Status = "Pending_Verification"
	StatusClosed                Status = "Closed"
	StatusRejected              Status = "Rejected"
)

// steps maps each status to its workflow step number. The step is derived,
// never stored, so status and step cannot drift apart.
var steps = map[Status]int{
	StatusDraft:                 1,
	StatusPendingDeptHead:       2,
	StatusPendingQARegistration: 3,
	StatusPendingCFTEvaluation:  4,
	StatusPendingRiskAssessment: 5,
	StatusPendingDocumentUpdate: 6,
	StatusPendingActionPlan:     7,
	StatusPendingQAEvaluation:   8,
	StatusPendingQAHeadApproval: 9,
	StatusPendingVerification:   10,
	StatusClosed:                11,
}

var stepNames = map[int]string{
	1:  "Initiation",
	2:  "Department Head Feasibility",
	3:  "QA-QMS Registration",
	4:  "CFT Evaluation",
	5:  "Risk Assessment",
	6:  "Document Management",
	7:  "Action Plan & Implementation",
	8:  "QA Final Evaluation",
	9:  "QA Head Approval",
	10: "Post-Implementation Verification",
	11: "QA Closure",
}

// Step returns the workflow step number for the status. Rejected is a
// terminal state outside the step ladder and reports 0; the step at which
// rejection happened is preserved in the workflow history.
func (s Status) Step() int {
	return steps[s]
}

func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

func (s Status) Valid() bool {
	if s == StatusRejected {
		return true
	}
	_, ok := steps[s]
	return ok
}

// StepName returns the display name of a workflow step number.
func StepName(step int) string {
	return stepNames[step]
}

// ImpactLevel classifies the change at QA registration. Major and Critical
// changes require a risk assessment before document management may begin.
type ImpactLevel string

const (
	ImpactMinor    ImpactLevel = "Minor"
	ImpactMajor    ImpactLevel = "Major"
	ImpactCritical ImpactLevel = "Critical"
)

func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactMinor, ImpactMajor, ImpactCritical:
		return true
	}
	return false
}

func (l ImpactLevel) RequiresRiskAssessment() bool {
	return l == ImpactMajor || l == ImpactCritical
}

// Request is the change control aggregate root.
type Request struct {
	ID              uuid.UUID `json:"id"`
	TemporaryNumber string    `json:"temporary_cc_number"`
	FinalNumber     *string   `json:"final_cc_number,omitempty"`
	InitiatorID     uuid.UUID `json:"initiator_id"`
	DepartmentID    uuid.UUID `json:"department_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`

	ImpactLevel          *ImpactLevel `json:"impact_level,omitempty"`
	TargetCompletionDate *time.Time   `json:"target_completion_date,omitempty"`
	QARegisteredByID     *uuid.UUID   `json:"qa_registered_by,omitempty"`
	QARegistrationDate   *time.Time   `json:"qa_registration_date,omitempty"`

	Status Status `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	RejectionReason string     `json:"rejection_reason,omitempty"`
	RejectedByID    *uuid.UUID `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
}

// Step reports the current workflow step, derived from status.
func (r *Request) Step() int {
	return r.Status.Step()
}

// Number returns the final tracking number once assigned, otherwise the
// temporary one.
func (r *Request) Number() string {
	if r.FinalNumber != nil && *r.FinalNumber != "" {
		return *r.FinalNumber
	}
	return r.TemporaryNumber
}

// Reject moves the request to the terminal Rejected state and populates the
// rejection fields. These fields are set here and nowhere else, keeping the
// "rejection fields iff Rejected" invariant local to one place.
func (r *Request) Reject(reason string, actorID uuid.UUID, at time.Time) {
	r.Status = StatusRejected
	r.RejectionReason = reason
	r.RejectedByID = &actorID
	r.RejectedAt = &at
}

// Close moves the request to the terminal Closed state.
func (r *Request) Close(at time.Time) {
	r.Status = StatusClosed
	r.ClosedAt = &at
}
